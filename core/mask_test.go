package core

import (
	"image"
	"image/color"
	"testing"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMaskSnapshotIsolation(t *testing.T) {
	m := NewDensityMask(4, 4, mgl32.Vec2{0, 0}, mgl32.Vec2{4, 4})
	snap := m.Snapshot()
	require.NotNil(t, snap)
	assert.Equal(t, float32(1), snap.SampleWorld(0.5, 0.5))

	// Uncommitted edits are invisible to the held snapshot and to new
	// snapshots alike.
	m.Set(0, 0, 0)
	assert.Equal(t, float32(1), snap.SampleWorld(0.5, 0.5))
	assert.Equal(t, float32(1), m.Snapshot().SampleWorld(0.5, 0.5))

	m.Commit()
	assert.Equal(t, float32(1), snap.SampleWorld(0.5, 0.5), "old snapshot must not tear")
	assert.Equal(t, float32(0), m.Snapshot().SampleWorld(0.5, 0.5))
}

func TestMaskSampleClampsToEdge(t *testing.T) {
	m := NewDensityMask(2, 2, mgl32.Vec2{0, 0}, mgl32.Vec2{10, 10})
	m.Set(0, 0, 0.25)
	m.Set(1, 1, 0.75)
	m.Commit()
	snap := m.Snapshot()

	assert.Equal(t, float32(0.25), snap.SampleWorld(-100, -100))
	assert.Equal(t, float32(0.75), snap.SampleWorld(100, 100))
}

func TestMaskFromImageNearest(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 2, 2))
	img.Set(0, 0, color.RGBA{255, 255, 255, 255})
	img.Set(1, 0, color.RGBA{0, 0, 0, 255})
	img.Set(0, 1, color.RGBA{0, 0, 0, 255})
	img.Set(1, 1, color.RGBA{255, 255, 255, 255})

	m := NewDensityMaskFromImage(img, 2, mgl32.Vec2{0, 0}, mgl32.Vec2{2, 2})
	snap := m.Snapshot()

	assert.Equal(t, float32(1), snap.SampleWorld(0.5, 0.5))
	assert.Equal(t, float32(0), snap.SampleWorld(1.5, 0.5))
	assert.Equal(t, float32(0), snap.SampleWorld(0.5, 1.5))
	assert.Equal(t, float32(1), snap.SampleWorld(1.5, 1.5))
}

func TestMaskOutOfRangeSetIgnored(t *testing.T) {
	m := NewDensityMask(2, 2, mgl32.Vec2{0, 0}, mgl32.Vec2{2, 2})
	m.Set(-1, 0, 0)
	m.Set(0, 99, 0)
	m.Commit()
	assert.Equal(t, float32(1), m.Snapshot().SampleWorld(0.1, 0.1))
}
