package gpu

import (
	"encoding/binary"
	"math"

	"github.com/verdant3d/verdant/core"

	"github.com/cogentcore/webgpu/wgpu"
	"github.com/go-gl/mathgl/mgl32"
)

// MaxTiers is the bucket count the cull shader is compiled for. Configs
// with fewer tiers leave the trailing buckets empty.
const MaxTiers = 3

const (
	// ParamsSize is the byte size of the CullParams uniform block in
	// shaders/grass_cull.wgsl.
	ParamsSize = 256
	// ArgsStride is the byte size of one DrawIndexedIndirect record.
	ArgsStride = 20
)

// GrassBufferManager owns every GPU resource of the per-frame path:
// the instance buffer, per-tier bucket buffers with their atomic
// counters, the indirect argument buffer, the depth pyramid chain and
// the mask texture. Buffers are recreated only when the population
// generation changes; the draw arguments are written GPU-side and
// never read back in the hot path.
type GrassBufferManager struct {
	Device *wgpu.Device

	ParamsBuf    *wgpu.Buffer
	InstancesBuf *wgpu.Buffer
	BucketBufs   [MaxTiers]*wgpu.Buffer
	CounterBuf   *wgpu.Buffer
	ArgsBuf      *wgpu.Buffer

	MaskTexture *wgpu.Texture
	MaskView    *wgpu.TextureView

	CullPipeline  *wgpu.ComputePipeline
	CullBindGroup *wgpu.BindGroup
	ArgsPipeline  *wgpu.ComputePipeline
	ArgsBindGroup *wgpu.BindGroup

	HiZTexture    *wgpu.Texture
	HiZFullView   *wgpu.TextureView // all mips, sampled by the cull pass
	HiZViews      []*wgpu.TextureView
	HiZBindGroups []*wgpu.BindGroup
	HiZPipeline   *wgpu.ComputePipeline
	HiZParamsBuf  *wgpu.Buffer

	readback *counterReadback

	log        core.Logger
	generation string
	capacity   int
	maskW      int
	maskH      int
}

func NewGrassBufferManager(device *wgpu.Device, log core.Logger) *GrassBufferManager {
	if log == nil {
		log = core.NewNopLogger()
	}
	return &GrassBufferManager{
		Device:   device,
		log:      log,
		readback: &counterReadback{},
	}
}

func (m *GrassBufferManager) ensureBuffer(name string, buf **wgpu.Buffer, data []byte, usage wgpu.BufferUsage) bool {
	neededSize := uint64(len(data))
	if neededSize%4 != 0 {
		neededSize += 4 - (neededSize % 4)
	}

	current := *buf
	if current == nil || current.GetSize() < neededSize {
		if current != nil {
			current.Release()
		}

		newBuf, err := m.Device.CreateBuffer(&wgpu.BufferDescriptor{
			Label: name,
			Size:  neededSize,
			Usage: usage | wgpu.BufferUsageCopyDst,
		})
		if err != nil {
			panic(err)
		}
		*buf = newBuf

		if len(data) > 0 {
			m.Device.GetQueue().WriteBuffer(*buf, 0, data)
		}
		return true
	}
	if len(data) > 0 {
		m.Device.GetQueue().WriteBuffer(*buf, 0, data)
	}
	return false
}

func putFloat(buf []byte, off int, v float32) {
	binary.LittleEndian.PutUint32(buf[off:], math.Float32bits(v))
}

func putMat4(buf []byte, off int, mat mgl32.Mat4) {
	for i, v := range mat {
		binary.LittleEndian.PutUint32(buf[off+i*4:], math.Float32bits(v))
	}
}

// UploadPopulation packs the source array into the instance buffer and
// sizes the bucket, counter and argument buffers for its capacity.
// Returns true when buffers were (re)created, meaning bind groups must
// be rebuilt. Upload happens only when the population generation
// changed; in-flight frames referencing the old generation must have
// completed before calling this.
func (m *GrassBufferManager) UploadPopulation(pop *core.Population, indexCounts []uint32) bool {
	if pop.Generation == m.generation {
		return false
	}

	data := make([]byte, len(pop.Instances)*core.InstanceStride)
	for i, inst := range pop.Instances {
		off := i * core.InstanceStride
		putFloat(data, off+0, inst.Position.X())
		putFloat(data, off+4, inst.Position.Y())
		putFloat(data, off+8, inst.Position.Z())
		putFloat(data, off+12, inst.Height)
		putFloat(data, off+16, inst.Facing.X())
		putFloat(data, off+20, inst.Facing.Y())
		putFloat(data, off+24, inst.Phase)
		putFloat(data, off+28, inst.Stiffness)
		putFloat(data, off+32, inst.WidthScale)
	}

	recreated := m.ensureBuffer("Grass Instances", &m.InstancesBuf, data, wgpu.BufferUsageStorage)

	capacity := pop.Capacity()
	if capacity != m.capacity {
		bucketSize := make([]byte, capacity*core.InstanceStride)
		for t := 0; t < MaxTiers; t++ {
			recreated = m.ensureBuffer("Grass Bucket", &m.BucketBufs[t], bucketSize, wgpu.BufferUsageStorage) || recreated
		}
		m.capacity = capacity
	}

	recreated = m.ensureBuffer("Grass Tier Counters", &m.CounterBuf,
		make([]byte, MaxTiers*4), wgpu.BufferUsageStorage|wgpu.BufferUsageCopySrc) || recreated

	// Indirect args: every field except instance_count is fixed here
	// and only ever rewritten by the GPU-side args pass.
	args := make([]byte, MaxTiers*ArgsStride)
	for t := 0; t < MaxTiers; t++ {
		idx := uint32(0)
		if t < len(indexCounts) {
			idx = indexCounts[t]
		}
		binary.LittleEndian.PutUint32(args[t*ArgsStride:], idx)
	}
	recreated = m.ensureBuffer("Grass Indirect Args", &m.ArgsBuf, args,
		wgpu.BufferUsageStorage|wgpu.BufferUsageIndirect) || recreated

	m.generation = pop.Generation
	m.log.Debugf("uploaded population %s: %d instances, capacity %d", pop.Generation, len(pop.Instances), capacity)
	return recreated
}

// UploadMask writes the committed mask snapshot into an R32Float
// texture. Cheap enough to run every frame; the snapshot is already a
// consistent committed version.
func (m *GrassBufferManager) UploadMask(snap *core.MaskSnapshot) bool {
	values, w, h := snap.Raw()

	recreated := false
	if m.MaskTexture == nil || w != m.maskW || h != m.maskH {
		if m.MaskTexture != nil {
			m.MaskTexture.Release()
		}
		var err error
		m.MaskTexture, err = m.Device.CreateTexture(&wgpu.TextureDescriptor{
			Label:         "Grass Mask",
			Size:          wgpu.Extent3D{Width: uint32(w), Height: uint32(h), DepthOrArrayLayers: 1},
			MipLevelCount: 1,
			SampleCount:   1,
			Dimension:     wgpu.TextureDimension2D,
			Format:        wgpu.TextureFormatR32Float,
			Usage:         wgpu.TextureUsageTextureBinding | wgpu.TextureUsageCopyDst,
		})
		if err != nil {
			panic(err)
		}
		m.MaskView, err = m.MaskTexture.CreateView(nil)
		if err != nil {
			panic(err)
		}
		m.maskW, m.maskH = w, h
		recreated = true
	}

	data := make([]byte, len(values)*4)
	for i, v := range values {
		binary.LittleEndian.PutUint32(data[i*4:], math.Float32bits(v))
	}
	m.Device.GetQueue().WriteTexture(m.MaskTexture.AsImageCopy(), data, &wgpu.TextureDataLayout{
		Offset:       0,
		BytesPerRow:  uint32(w * 4),
		RowsPerImage: uint32(h),
	}, &wgpu.Extent3D{Width: uint32(w), Height: uint32(h), DepthOrArrayLayers: 1})

	return recreated
}

// UpdateParams writes the per-frame uniform block: view-projection,
// host-precomputed frustum planes, and every cull tunable. Layout must
// match CullParams in shaders/grass_cull.wgsl.
func (m *GrassBufferManager) UpdateParams(cam *core.Camera, cfg core.CullConfig, pop *core.Population, maskOrigin, maskExtent mgl32.Vec2, pyramidAvailable bool) {
	buf := make([]byte, ParamsSize)

	vp := cam.ViewProj()
	putMat4(buf, 0, vp)

	planes := core.ExtractFrustum(vp)
	for i, p := range planes {
		off := 64 + i*16
		putFloat(buf, off+0, p.X())
		putFloat(buf, off+4, p.Y())
		putFloat(buf, off+8, p.Z())
		putFloat(buf, off+12, p.W())
	}

	putFloat(buf, 160, cam.Position.X())
	putFloat(buf, 164, cam.Position.Y())
	putFloat(buf, 168, cam.Position.Z())
	putFloat(buf, 172, 0)

	putFloat(buf, 176, cfg.MaskThreshold)
	putFloat(buf, 180, cfg.FalloffStart)
	putFloat(buf, 184, cfg.MaxDrawDistance)
	putFloat(buf, 188, cfg.MinDensity)

	pyrSize := float32(0)
	if m.HiZTexture != nil {
		pyrSize = float32(m.HiZTexture.GetWidth())
	}
	putFloat(buf, 192, cfg.WidthCompensation)
	putFloat(buf, 196, cfg.OcclusionBias)
	putFloat(buf, 200, cam.ProjMatrix().At(1, 1))
	putFloat(buf, 204, pyrSize)

	occlusion := float32(0)
	if cfg.OcclusionEnabled && pyramidAvailable {
		occlusion = 1
	}
	reversed := float32(0)
	if cam.ReversedDepth {
		reversed = 1
	}
	putFloat(buf, 208, cam.Near)
	putFloat(buf, 212, cam.Far)
	putFloat(buf, 216, reversed)
	putFloat(buf, 220, occlusion)

	// Squared LOD thresholds; unused slots park at +inf so everything
	// below the real tier count classifies normally.
	inf := float32(math.Inf(1))
	th := [2]float32{inf, inf}
	for i := 0; i < len(cfg.LODThresholds) && i < 2; i++ {
		th[i] = cfg.LODThresholds[i] * cfg.LODThresholds[i]
	}
	putFloat(buf, 224, th[0])
	putFloat(buf, 228, th[1])
	putFloat(buf, 232, float32(cfg.Tiers()))
	putFloat(buf, 236, float32(len(pop.Instances)))

	putFloat(buf, 240, maskOrigin.X())
	putFloat(buf, 244, maskOrigin.Y())
	putFloat(buf, 248, maskExtent.X())
	putFloat(buf, 252, maskExtent.Y())

	if m.ParamsBuf == nil {
		var err error
		m.ParamsBuf, err = m.Device.CreateBuffer(&wgpu.BufferDescriptor{
			Label: "Grass CullParams",
			Size:  ParamsSize,
			Usage: wgpu.BufferUsageUniform | wgpu.BufferUsageCopyDst,
		})
		if err != nil {
			panic(err)
		}
	}
	m.Device.GetQueue().WriteBuffer(m.ParamsBuf, 0, buf)
}

// ResetCounters zeroes the per-tier insertion counters. Must run
// before every cull dispatch.
func (m *GrassBufferManager) ResetCounters() {
	if m.CounterBuf == nil {
		return
	}
	m.Device.GetQueue().WriteBuffer(m.CounterBuf, 0, make([]byte, MaxTiers*4))
}

// Release frees every GPU resource the manager owns. Callers must know
// all in-flight work referencing them has completed.
func (m *GrassBufferManager) Release() {
	for _, b := range []*wgpu.Buffer{m.ParamsBuf, m.InstancesBuf, m.CounterBuf, m.ArgsBuf, m.HiZParamsBuf} {
		if b != nil {
			b.Release()
		}
	}
	for _, b := range m.BucketBufs {
		if b != nil {
			b.Release()
		}
	}
	if m.MaskTexture != nil {
		m.MaskTexture.Release()
	}
	if m.HiZTexture != nil {
		m.HiZTexture.Release()
	}
	for _, v := range m.HiZViews {
		v.Release()
	}
	m.readback.release()
}
