package core

import (
	"github.com/go-gl/mathgl/mgl32"
	"github.com/google/uuid"
)

// GrassInstance is the per-blade record shared by every pipeline stage.
// Its memory layout is a hard contract: 9 float32s, 36 bytes, matching
// the WGSL struct in shaders/grass_cull.wgsl. Do not reorder fields.
type GrassInstance struct {
	Position   mgl32.Vec3 // world-space root of the blade
	Height     float32
	Facing     mgl32.Vec2 // normalized planar direction
	Phase      float32    // animation phase seed
	Stiffness  float32
	WidthScale float32
}

const (
	// InstanceFloats is the number of float32 fields in GrassInstance.
	InstanceFloats = 9
	// InstanceStride is the byte size of one packed instance record.
	InstanceStride = InstanceFloats * 4
)

// Population is the source array of instances. It is built wholesale by
// Generate and never mutated in place afterward; culling works on copies.
type Population struct {
	Instances []GrassInstance
	Config    GenerateConfig
	// Generation changes on every rebuild so buffer owners can detect
	// that in-flight resources reference a replaced population.
	Generation string
	// GridSide is the side length of the placement grid; the instance
	// capacity is GridSide*GridSide (count rounded up to a square).
	GridSide int
}

// Capacity is the rounded-up instance capacity of the placement grid.
// len(Instances) may be lower when mask pruning was enabled.
func (p *Population) Capacity() int {
	return p.GridSide * p.GridSide
}

func newGeneration() string {
	return uuid.NewString()
}
