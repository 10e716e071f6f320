package core

import "fmt"

// FrameInput is everything the pipeline consumes for one frame.
// Depth is the external single-level depth buffer in [0,1]; nil or
// mismatched dimensions degrade occlusion for the frame.
type FrameInput struct {
	Camera *Camera

	Depth       []float32
	DepthWidth  int
	DepthHeight int

	Mask *DensityMask
}

// TierOutput pairs one tier's survivors with its draw-argument record
// for the external renderer.
type TierOutput struct {
	Bucket *LODBucket
	Args   DrawIndexedIndirectArgs
}

// FrameOutput is what the pipeline publishes each frame.
type FrameOutput struct {
	Tiers []TierOutput
	// OcclusionActive reports whether a depth pyramid was built and
	// used this frame.
	OcclusionActive bool
	// Generation identifies the population the tiers reference.
	Generation string
}

// Pipeline sequences population (re)generation, pyramid construction,
// culling, and argument updates into one call per frame. It owns the
// pyramid and passes it into the dispatch explicitly; there is no
// shared state between producer and consumer beyond that handoff.
type Pipeline struct {
	log Logger

	genCfg   GenerateConfig
	cullCfg  CullConfig
	heightAt HeightSampler

	pop     *Population
	buckets []*LODBucket
	args    []DrawIndexedIndirectArgs

	dirty         bool
	pyramidWarned bool
}

// NewPipeline builds the pipeline and generates the initial
// population. indexCounts fixes the per-tier IndexCount fields of the
// argument records; nil leaves them zero for the renderer to own.
func NewPipeline(genCfg GenerateConfig, cullCfg CullConfig, indexCounts []uint32, heightAt HeightSampler, log Logger) (*Pipeline, error) {
	if log == nil {
		log = NewNopLogger()
	}
	tiers := cullCfg.Tiers()
	if indexCounts != nil && len(indexCounts) != tiers {
		return nil, fmt.Errorf("core: %d index counts for %d tiers", len(indexCounts), tiers)
	}
	if cullCfg.MaxDrawDistance <= 0 {
		return nil, fmt.Errorf("core: MaxDrawDistance must be positive")
	}

	p := &Pipeline{
		log:      log,
		genCfg:   genCfg,
		cullCfg:  cullCfg,
		heightAt: heightAt,
		args:     make([]DrawIndexedIndirectArgs, tiers),
	}
	for i := range p.args {
		if indexCounts != nil {
			p.args[i].IndexCount = indexCounts[i]
		}
	}
	p.rebuild(nil)
	return p, nil
}

// SetGenerateConfig stages new generation parameters; the population
// is rebuilt wholesale at the start of the next frame.
func (p *Pipeline) SetGenerateConfig(cfg GenerateConfig) {
	if cfg != p.genCfg {
		p.genCfg = cfg
		p.dirty = true
	}
}

// Population exposes the current source array, e.g. for GPU upload.
func (p *Pipeline) Population() *Population { return p.pop }

// CullConfig returns the active kernel tunables.
func (p *Pipeline) CullConfig() CullConfig { return p.cullCfg }

func (p *Pipeline) rebuild(mask *MaskSnapshot) {
	p.pop = Generate(p.genCfg, p.heightAt, mask)
	capacity := p.pop.Capacity()
	p.buckets = make([]*LODBucket, p.cullCfg.Tiers())
	for i := range p.buckets {
		p.buckets[i] = NewLODBucket(capacity)
	}
	p.dirty = false
	p.log.Infof("population rebuilt: %d instances (grid %dx%d), generation %s",
		len(p.pop.Instances), p.pop.GridSide, p.pop.GridSide, p.pop.Generation)
}

// Frame runs one full frame in strict order: regenerate if parameters
// changed, build the depth pyramid (or mark occlusion unavailable),
// reset the buckets, dispatch the cull kernel, update the indirect
// arguments, and publish the tier pairs.
func (p *Pipeline) Frame(in FrameInput) FrameOutput {
	var mask *MaskSnapshot
	if in.Mask != nil {
		mask = in.Mask.Snapshot()
	}

	if p.dirty {
		p.rebuild(mask)
	}

	var pyramid *DepthPyramid
	if p.cullCfg.OcclusionEnabled {
		var ok bool
		pyramid, ok = BuildDepthPyramid(in.Depth, in.DepthWidth, in.DepthHeight, in.Camera.ReversedDepth)
		if !ok {
			if !p.pyramidWarned {
				p.log.Warnf("depth source unavailable; occlusion disabled for this frame")
				p.pyramidWarned = true
			}
		} else {
			p.pyramidWarned = false
		}
	}

	for _, b := range p.buckets {
		b.Reset()
	}

	CullDispatch(p.pop, in.Camera, mask, pyramid, p.cullCfg, p.buckets)

	UpdateIndirectArgs(p.buckets, p.args)

	out := FrameOutput{
		Tiers:           make([]TierOutput, len(p.buckets)),
		OcclusionActive: pyramid != nil,
		Generation:      p.pop.Generation,
	}
	for i, b := range p.buckets {
		out.Tiers[i] = TierOutput{Bucket: b, Args: p.args[i]}
	}
	return out
}

// DebugCounts returns the per-tier survivor counts of the last frame.
// Explicit debug surface; never consulted by the pipeline itself.
func (p *Pipeline) DebugCounts() []int {
	counts := make([]int, len(p.buckets))
	for i, b := range p.buckets {
		counts[i] = b.Count()
	}
	return counts
}
