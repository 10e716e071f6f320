package core

import (
	"math"

	"github.com/go-gl/mathgl/mgl32"
)

// Camera is the per-frame view the culling pipeline consumes. The world
// is Z-up: blades grow along +Z, the planar field spans XY.
type Camera struct {
	Position mgl32.Vec3
	Yaw      float32
	Pitch    float32

	FovY   float32 // radians
	Aspect float32
	Near   float32
	Far    float32

	// ReversedDepth tells the pipeline that in the external depth
	// buffer larger values are nearer.
	ReversedDepth bool
}

func NewCamera() *Camera {
	return &Camera{
		Position: mgl32.Vec3{0, -20, 5},
		FovY:     mgl32.DegToRad(60),
		Aspect:   16.0 / 9.0,
		Near:     0.1,
		Far:      1000.0,
	}
}

func (c *Camera) Forward() mgl32.Vec3 {
	// Z-up: forward in XY plane, Z for pitch
	return mgl32.Vec3{
		float32(math.Cos(float64(c.Pitch)) * math.Sin(float64(c.Yaw))),
		float32(-math.Cos(float64(c.Pitch)) * math.Cos(float64(c.Yaw))),
		float32(math.Sin(float64(c.Pitch))),
	}
}

func (c *Camera) ViewMatrix() mgl32.Mat4 {
	forward := c.Forward()
	eye := c.Position
	target := eye.Add(forward)
	up := mgl32.Vec3{0, 0, 1}
	return mgl32.LookAtV(eye, target, up)
}

func (c *Camera) ProjMatrix() mgl32.Mat4 {
	return mgl32.Perspective(c.FovY, c.Aspect, c.Near, c.Far)
}

func (c *Camera) ViewProj() mgl32.Mat4 {
	return c.ProjMatrix().Mul4(c.ViewMatrix())
}

// ExtractFrustum extracts the 6 planes of the frustum from the
// view-projection matrix. Returns planes in order: Left, Right,
// Bottom, Top, Near, Far. Plane is Ax + By + Cz + D = 0, normal
// pointing inward. Computed once per frame on the host so the kernel
// only evaluates dot products.
func ExtractFrustum(vp mgl32.Mat4) [6]mgl32.Vec4 {
	var planes [6]mgl32.Vec4

	// Left plane: Row 3 + Row 0
	planes[0] = mgl32.Vec4{
		vp.At(3, 0) + vp.At(0, 0),
		vp.At(3, 1) + vp.At(0, 1),
		vp.At(3, 2) + vp.At(0, 2),
		vp.At(3, 3) + vp.At(0, 3),
	}
	// Right plane: Row 3 - Row 0
	planes[1] = mgl32.Vec4{
		vp.At(3, 0) - vp.At(0, 0),
		vp.At(3, 1) - vp.At(0, 1),
		vp.At(3, 2) - vp.At(0, 2),
		vp.At(3, 3) - vp.At(0, 3),
	}
	// Bottom plane: Row 3 + Row 1
	planes[2] = mgl32.Vec4{
		vp.At(3, 0) + vp.At(1, 0),
		vp.At(3, 1) + vp.At(1, 1),
		vp.At(3, 2) + vp.At(1, 2),
		vp.At(3, 3) + vp.At(1, 3),
	}
	// Top plane: Row 3 - Row 1
	planes[3] = mgl32.Vec4{
		vp.At(3, 0) - vp.At(1, 0),
		vp.At(3, 1) - vp.At(1, 1),
		vp.At(3, 2) - vp.At(1, 2),
		vp.At(3, 3) - vp.At(1, 3),
	}
	// Near plane: Row 3 + Row 2 (OpenGL-style -1..1)
	planes[4] = mgl32.Vec4{
		vp.At(3, 0) + vp.At(2, 0),
		vp.At(3, 1) + vp.At(2, 1),
		vp.At(3, 2) + vp.At(2, 2),
		vp.At(3, 3) + vp.At(2, 3),
	}
	// Far plane: Row 3 - Row 2
	planes[5] = mgl32.Vec4{
		vp.At(3, 0) - vp.At(2, 0),
		vp.At(3, 1) - vp.At(2, 1),
		vp.At(3, 2) - vp.At(2, 2),
		vp.At(3, 3) - vp.At(2, 3),
	}

	// Normalize planes
	for i := 0; i < 6; i++ {
		length := float32(math.Sqrt(float64(planes[i][0]*planes[i][0] + planes[i][1]*planes[i][1] + planes[i][2]*planes[i][2])))
		if length > 0 {
			planes[i] = planes[i].Mul(1.0 / length)
		}
	}

	return planes
}

// SphereInFrustum reports whether a bounding sphere touches the view
// volume. A sphere fully behind any plane is out.
func SphereInFrustum(center mgl32.Vec3, radius float32, planes [6]mgl32.Vec4) bool {
	p := center.Vec4(1.0)
	for i := 0; i < 6; i++ {
		if planes[i].Dot(p) < -radius {
			return false
		}
	}
	return true
}

// LinearizeDepth converts a [0,1] depth-buffer value to linear eye
// distance under the given convention.
func LinearizeDepth(d, near, far float32, reversed bool) float32 {
	if reversed {
		// 1 = near, 0 = far
		return near * far / (near + d*(far-near))
	}
	// 0 = near, 1 = far
	return near * far / (far - d*(far-near))
}
