package core

import (
	"math"
	"runtime"
	"sync"

	"github.com/go-gl/mathgl/mgl32"
)

// CullConfig holds the per-dispatch tunables of the culling and
// classification kernel.
type CullConfig struct {
	// MaskThreshold rejects instances whose mask sample is below it.
	MaskThreshold float32

	// Distance thinning: survival probability falls linearly from 1 at
	// FalloffStart to MinDensity at MaxDrawDistance. Instances beyond
	// MaxDrawDistance are rejected outright.
	FalloffStart    float32
	MaxDrawDistance float32
	MinDensity      float32
	// WidthCompensation in [0,1] widens thinned survivors toward the
	// inverse of their survival probability, approximately preserving
	// perceived coverage.
	WidthCompensation float32

	// Occlusion against the depth pyramid. Disabled or no pyramid
	// means always-pass, never blanket rejection. The bias is in
	// linear eye units and exists only to suppress self-occlusion
	// flicker on near-grazing surfaces.
	OcclusionEnabled bool
	OcclusionBias    float32

	// LODThresholds are ascending distances; an instance lands in the
	// first tier whose threshold it is under, or the last tier
	// otherwise. Tier count is len(LODThresholds)+1.
	LODThresholds []float32

	// Workers caps kernel parallelism; <=0 means GOMAXPROCS.
	Workers int
}

func DefaultCullConfig() CullConfig {
	return CullConfig{
		MaskThreshold:     0.5,
		FalloffStart:      40,
		MaxDrawDistance:   120,
		MinDensity:        0.15,
		WidthCompensation: 0.75,
		OcclusionEnabled:  true,
		OcclusionBias:     0.05,
		LODThresholds:     []float32{25, 60},
	}
}

// Tiers is the number of LOD buckets this config classifies into.
func (c CullConfig) Tiers() int { return len(c.LODThresholds) + 1 }

// survivalProbability is the thinning ramp: 1 at or before
// FalloffStart, linearly down to MinDensity at MaxDrawDistance.
// Non-increasing in dist.
func (c CullConfig) survivalProbability(dist float32) float32 {
	if dist <= c.FalloffStart || c.MaxDrawDistance <= c.FalloffStart {
		return 1
	}
	t := (dist - c.FalloffStart) / (c.MaxDrawDistance - c.FalloffStart)
	if t > 1 {
		t = 1
	}
	p := 1 + t*(c.MinDensity-1)
	if p < c.MinDensity {
		p = c.MinDensity
	}
	return p
}

// cullContext is the host-precomputed per-frame state the kernel
// reads. Frustum planes and projection terms are computed once here
// rather than per instance.
type cullContext struct {
	cfg      CullConfig
	planes   [6]mgl32.Vec4
	viewProj mgl32.Mat4
	camPos   mgl32.Vec3
	proj11   float32
	near     float32
	far      float32
	reversed bool
	pyramid  *DepthPyramid
	mask     *MaskSnapshot

	maxDraw2     float32
	falloffStart float32
	falloffSpan  float32
}

func newCullContext(cam *Camera, mask *MaskSnapshot, pyramid *DepthPyramid, cfg CullConfig) cullContext {
	vp := cam.ViewProj()
	ctx := cullContext{
		cfg:      cfg,
		planes:   ExtractFrustum(vp),
		viewProj: vp,
		camPos:   cam.Position,
		proj11:   cam.ProjMatrix().At(1, 1),
		near:     cam.Near,
		far:      cam.Far,
		reversed: cam.ReversedDepth,
		pyramid:  pyramid,
		mask:     mask,

		maxDraw2:     cfg.MaxDrawDistance * cfg.MaxDrawDistance,
		falloffStart: cfg.FalloffStart,
		falloffSpan:  cfg.MaxDrawDistance - cfg.FalloffStart,
	}
	if !cfg.OcclusionEnabled {
		ctx.pyramid = nil
	}
	return ctx
}

// boundingSphere builds a conservative sphere over one blade from its
// root position, height and current width.
func boundingSphere(inst GrassInstance) (mgl32.Vec3, float32) {
	center := inst.Position.Add(mgl32.Vec3{0, 0, inst.Height * 0.5})
	radius := inst.Height*0.5 + inst.WidthScale*0.5
	return center, radius
}

// classify runs the full per-instance test chain. It returns the tier
// index and the (possibly width-adjusted) record copy to insert, or
// ok=false when any stage rejects. Pure: the source record is never
// written.
func (ctx *cullContext) classify(i int, inst GrassInstance) (int, GrassInstance, bool) {
	// 1. Mask: re-sampled every frame so live paints apply without
	// regeneration. Missing mask degrades to always-pass.
	if ctx.mask != nil {
		if ctx.mask.SampleWorld(inst.Position.X(), inst.Position.Y()) < ctx.cfg.MaskThreshold {
			return 0, inst, false
		}
	}

	// 2. Frustum.
	center, radius := boundingSphere(inst)
	if !SphereInFrustum(center, radius, ctx.planes) {
		return 0, inst, false
	}

	// 3. Distance thinning. Squared distances throughout; the sqrt
	// happens only inside the falloff band where the linear ramp
	// needs a true distance.
	d := center.Sub(ctx.camPos)
	dist2 := d.Dot(d)
	if dist2 > ctx.maxDraw2 {
		return 0, inst, false
	}
	if dist2 > ctx.falloffStart*ctx.falloffStart && ctx.falloffSpan > 0 {
		dist := float32(math.Sqrt(float64(dist2)))
		p := ctx.cfg.survivalProbability(dist)
		if IndexHash(i) > p {
			return 0, inst, false
		}
		// Widen the survivor on the copy only; the source array is
		// immutable after generation.
		inst.WidthScale *= 1 + ctx.cfg.WidthCompensation*(1/p-1)
	}

	// 4. Occlusion (optional).
	if ctx.pyramid != nil && !ctx.occlusionVisible(center, radius) {
		return 0, inst, false
	}

	// 5. LOD classification by distance.
	tier := len(ctx.cfg.LODThresholds)
	for t, th := range ctx.cfg.LODThresholds {
		if dist2 < th*th {
			tier = t
			break
		}
	}
	return tier, inst, true
}

// occlusionVisible tests the bounding sphere against the depth
// pyramid. Conservative: picks the mip where one texel covers the
// whole projected footprint, compares in linear eye space, and passes
// anything it cannot prove hidden.
func (ctx *cullContext) occlusionVisible(center mgl32.Vec3, radius float32) bool {
	clip := ctx.viewProj.Mul4x1(center.Vec4(1))
	w := clip.W()
	if w <= 0 {
		return true
	}

	u := clip.X()/w*0.5 + 0.5
	v := 0.5 - clip.Y()/w*0.5
	if u < 0 || u > 1 || v < 0 || v > 1 {
		// Footprint center off the pyramid; cannot prove occlusion.
		return true
	}

	// Projected pixel radius at level 0, then the mip whose texel
	// footprint covers it.
	pixelRadius := radius * ctx.proj11 / w * 0.5 * float32(ctx.pyramid.Size)
	level := 0
	if pixelRadius > 1 {
		level = int(math.Ceil(math.Log2(float64(pixelRadius))))
	}
	if max := ctx.pyramid.NumLevels() - 1; level > max {
		level = max
	}

	sampled := ctx.pyramid.SampleUV(level, u, v)
	sampledEye := LinearizeDepth(sampled, ctx.near, ctx.far, ctx.reversed)

	// w is the eye-space distance of the sphere center for a standard
	// perspective projection.
	return w <= sampledEye+ctx.cfg.OcclusionBias
}

// CullDispatch runs the kernel over the whole population, appending
// survivors into their tier's bucket. Data-parallel across a worker
// pool; the only shared writes are the buckets' atomic counters, so
// insertion order is unspecified. Buckets must be Reset by the caller
// before the dispatch.
func CullDispatch(pop *Population, cam *Camera, mask *MaskSnapshot, pyramid *DepthPyramid, cfg CullConfig, buckets []*LODBucket) {
	if len(buckets) != cfg.Tiers() {
		panic("core: bucket count does not match configured LOD tiers")
	}

	ctx := newCullContext(cam, mask, pyramid, cfg)
	instances := pop.Instances

	workers := cfg.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	if workers > len(instances) {
		workers = len(instances)
	}
	if workers < 1 {
		return
	}

	chunk := (len(instances) + workers - 1) / workers
	var wg sync.WaitGroup
	for start := 0; start < len(instances); start += chunk {
		end := start + chunk
		if end > len(instances) {
			end = len(instances)
		}
		wg.Add(1)
		go func(start, end int) {
			defer wg.Done()
			for i := start; i < end; i++ {
				tier, out, ok := ctx.classify(i, instances[i])
				if ok {
					buckets[tier].Append(out)
				}
			}
		}(start, end)
	}
	wg.Wait()
}
