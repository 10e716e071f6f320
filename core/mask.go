package core

import (
	"image"
	"sync"

	"github.com/go-gl/mathgl/mgl32"
	xdraw "golang.org/x/image/draw"
)

// DensityMask is the artist-painted inclusion mask. An external tool
// edits the working surface between frames; the kernel only ever reads
// committed snapshots, so a dispatch sees one consistent version even
// while painting continues.
type DensityMask struct {
	mu        sync.Mutex
	w, h      int
	origin    mgl32.Vec2
	extent    mgl32.Vec2
	working   []float32
	committed *MaskSnapshot
}

// MaskSnapshot is an immutable committed view of a DensityMask.
type MaskSnapshot struct {
	w, h   int
	origin mgl32.Vec2
	extent mgl32.Vec2
	values []float32
}

// NewDensityMask creates a mask of w x h texels covering the planar
// rectangle [origin, origin+extent], initialized fully included (1.0)
// and committed.
func NewDensityMask(w, h int, origin, extent mgl32.Vec2) *DensityMask {
	if w <= 0 || h <= 0 {
		panic("core: mask dimensions must be positive")
	}
	m := &DensityMask{
		w: w, h: h,
		origin:  origin,
		extent:  extent,
		working: make([]float32, w*h),
	}
	for i := range m.working {
		m.working[i] = 1
	}
	m.Commit()
	return m
}

// NewDensityMaskFromImage resamples an authored image into a
// resolution x resolution mask using nearest-neighbor (point) sampling
// and takes the red channel as density. Filtered resampling is avoided
// so painted hard edges survive import.
func NewDensityMaskFromImage(img image.Image, resolution int, origin, extent mgl32.Vec2) *DensityMask {
	m := NewDensityMask(resolution, resolution, origin, extent)

	dst := image.NewRGBA(image.Rect(0, 0, resolution, resolution))
	xdraw.NearestNeighbor.Scale(dst, dst.Bounds(), img, img.Bounds(), xdraw.Src, nil)

	for y := 0; y < resolution; y++ {
		for x := 0; x < resolution; x++ {
			r := dst.RGBAAt(x, y).R
			m.working[y*resolution+x] = float32(r) / 255.0
		}
	}
	m.Commit()
	return m
}

func (m *DensityMask) Size() (int, int) { return m.w, m.h }

// Set writes one texel of the working surface. Not visible to the
// kernel until Commit.
func (m *DensityMask) Set(x, y int, v float32) {
	if x < 0 || x >= m.w || y < 0 || y >= m.h {
		return
	}
	m.mu.Lock()
	m.working[y*m.w+x] = v
	m.mu.Unlock()
}

// Fill sets the whole working surface to v.
func (m *DensityMask) Fill(v float32) {
	m.mu.Lock()
	for i := range m.working {
		m.working[i] = v
	}
	m.mu.Unlock()
}

// Commit publishes the working surface as the snapshot the next
// dispatch will read.
func (m *DensityMask) Commit() {
	m.mu.Lock()
	values := make([]float32, len(m.working))
	copy(values, m.working)
	m.committed = &MaskSnapshot{
		w: m.w, h: m.h,
		origin: m.origin,
		extent: m.extent,
		values: values,
	}
	m.mu.Unlock()
}

// Snapshot returns the last committed version.
func (m *DensityMask) Snapshot() *MaskSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.committed
}

// Raw exposes the committed texels for GPU upload. The slice is
// immutable; callers must not write it.
func (s *MaskSnapshot) Raw() ([]float32, int, int) {
	return s.values, s.w, s.h
}

// Bounds returns the planar rectangle the mask covers.
func (s *MaskSnapshot) Bounds() (origin, extent mgl32.Vec2) {
	return s.origin, s.extent
}

// SampleWorld point-samples the mask at a planar world position.
// Positions outside the covered rectangle clamp to the edge texel.
func (s *MaskSnapshot) SampleWorld(x, y float32) float32 {
	u := (x - s.origin.X()) / s.extent.X()
	v := (y - s.origin.Y()) / s.extent.Y()
	tx := clampInt(int(u*float32(s.w)), 0, s.w-1)
	ty := clampInt(int(v*float32(s.h)), 0, s.h-1)
	return s.values[ty*s.w+tx]
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
