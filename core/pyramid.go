package core

// DepthPyramid is a square power-of-two hierarchy over an external
// depth buffer. Level 0 is a point-sampled resize of the source; each
// further level stores, per texel, the farthest (least occluding) of
// the four texels below it. That makes any single texel a conservative
// bound: nothing covered by it can be nearer than its value, so an
// instance that fails against it is truly hidden.
type DepthPyramid struct {
	// Size is the side length of level 0.
	Size int
	// Levels[k] is a Size>>k square, down to 1x1.
	Levels [][]float32
	// Reversed records the depth convention the pyramid was built
	// with: true when larger values are nearer.
	Reversed bool
}

// BuildDepthPyramid builds the full mip chain from a single-level
// depth buffer of w x h values. Returns (nil, false) when no usable
// source is available; callers must treat that as occlusion disabled
// for the frame, never as blanket rejection.
//
// Level 0 uses point sampling only. Filtered resampling is unsound
// here: a blended value can be nearer than any real sample and would
// make the occlusion test claim visibility it cannot prove.
func BuildDepthPyramid(depth []float32, w, h int, reversed bool) (*DepthPyramid, bool) {
	if len(depth) == 0 || w <= 0 || h <= 0 || len(depth) != w*h {
		return nil, false
	}

	// Level 0 side: the largest power of two not exceeding the source,
	// so a power-of-two square source is copied exactly.
	maxDim := w
	if h > maxDim {
		maxDim = h
	}
	size := 1
	for size*2 <= maxDim {
		size *= 2
	}

	levels := 1
	for s := size; s > 1; s >>= 1 {
		levels++
	}

	p := &DepthPyramid{
		Size:     size,
		Levels:   make([][]float32, levels),
		Reversed: reversed,
	}

	// Level 0: point-sampled resize.
	level0 := make([]float32, size*size)
	for y := 0; y < size; y++ {
		sy := clampInt(y*h/size, 0, h-1)
		for x := 0; x < size; x++ {
			sx := clampInt(x*w/size, 0, w-1)
			level0[y*size+x] = depth[sy*w+sx]
		}
	}
	p.Levels[0] = level0

	// Each further level reduces a 2x2 block to its farthest value.
	// Strictly sequential: level k+1 needs level k complete.
	for k := 1; k < levels; k++ {
		prev := p.Levels[k-1]
		prevSide := size >> (k - 1)
		side := size >> k
		level := make([]float32, side*side)
		for y := 0; y < side; y++ {
			for x := 0; x < side; x++ {
				v := prev[(y*2)*prevSide+x*2]
				v = farther(v, prev[(y*2)*prevSide+x*2+1], reversed)
				v = farther(v, prev[(y*2+1)*prevSide+x*2], reversed)
				v = farther(v, prev[(y*2+1)*prevSide+x*2+1], reversed)
				level[y*side+x] = v
			}
		}
		p.Levels[k] = level
	}

	return p, true
}

// farther picks the less occluding of two depth values under the
// convention in use.
func farther(a, b float32, reversed bool) float32 {
	if reversed {
		// larger = nearer, so farther = smaller
		if a < b {
			return a
		}
		return b
	}
	if a > b {
		return a
	}
	return b
}

// NumLevels is the mip count, down to the 1x1 tip.
func (p *DepthPyramid) NumLevels() int { return len(p.Levels) }

// Sample reads one texel of a level, clamping out-of-range
// coordinates to the edge.
func (p *DepthPyramid) Sample(level, x, y int) float32 {
	level = clampInt(level, 0, len(p.Levels)-1)
	side := p.Size >> level
	x = clampInt(x, 0, side-1)
	y = clampInt(y, 0, side-1)
	return p.Levels[level][y*side+x]
}

// SampleUV point-samples a level at normalized [0,1] coordinates.
func (p *DepthPyramid) SampleUV(level int, u, v float32) float32 {
	level = clampInt(level, 0, len(p.Levels)-1)
	side := p.Size >> level
	x := int(u * float32(side))
	y := int(v * float32(side))
	return p.Sample(level, x, y)
}
