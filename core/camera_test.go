package core

import (
	"testing"

	"github.com/go-gl/mathgl/mgl32"
)

func TestSphereFrustumCulling(t *testing.T) {
	// Simple camera at origin looking down -Z.
	// Perspective: 90 deg FOV, Aspect 1.0, Near 1, Far 100.
	proj := mgl32.Perspective(mgl32.DegToRad(90), 1.0, 1.0, 100.0)
	view := mgl32.LookAtV(
		mgl32.Vec3{0, 0, 0},
		mgl32.Vec3{0, 0, -1},
		mgl32.Vec3{0, 1, 0},
	)
	planes := ExtractFrustum(proj.Mul4(view))

	tests := []struct {
		name     string
		center   mgl32.Vec3
		radius   float32
		expected bool
	}{
		{
			name:     "Inside (center)",
			center:   mgl32.Vec3{0, 0, -10},
			radius:   1,
			expected: true,
		},
		{
			name:     "Outside (Left)",
			center:   mgl32.Vec3{-30, 0, -10},
			radius:   1,
			expected: false,
		},
		{
			name:     "Outside (Right)",
			center:   mgl32.Vec3{30, 0, -10},
			radius:   1,
			expected: false,
		},
		{
			name:     "Outside (Behind/Near)",
			center:   mgl32.Vec3{0, 0, 5},
			radius:   1,
			expected: false,
		},
		{
			name:     "Outside (Far)",
			center:   mgl32.Vec3{0, 0, -200},
			radius:   1,
			expected: false,
		},
		{
			name:     "Intersecting (Left Plane)",
			center:   mgl32.Vec3{-10.5, 0, -10}, // left edge at x=-10 at depth 10 (tan(45)*10)
			radius:   1,
			expected: true,
		},
		{
			name:     "Encompassing (Huge sphere)",
			center:   mgl32.Vec3{0, 0, 0},
			radius:   1000,
			expected: true,
		},
	}

	for _, tc := range tests {
		visible := SphereInFrustum(tc.center, tc.radius, planes)
		if visible != tc.expected {
			t.Errorf("Test %s failed: expected %v, got %v", tc.name, tc.expected, visible)
			for i, p := range planes {
				dist := p.Dot(tc.center.Vec4(1.0))
				t.Logf("  P%d: %v, Dist(Center)=%f", i, p, dist)
			}
		}
	}
}

func TestLinearizeDepth(t *testing.T) {
	near, far := float32(0.1), float32(1000.0)

	cases := []struct {
		name     string
		d        float32
		reversed bool
		expected float32
	}{
		{"standard near", 0, false, near},
		{"standard far", 1, false, far},
		{"reversed near", 1, true, near},
		{"reversed far", 0, true, far},
	}

	for _, tc := range cases {
		got := LinearizeDepth(tc.d, near, far, tc.reversed)
		diff := got - tc.expected
		if diff < 0 {
			diff = -diff
		}
		if diff > 0.001 {
			t.Errorf("%s: expected %f, got %f", tc.name, tc.expected, got)
		}
	}

	// Midway values stay between near and far and keep ordering.
	prev := LinearizeDepth(0, near, far, false)
	for d := float32(0.1); d < 1; d += 0.1 {
		e := LinearizeDepth(d, near, far, false)
		if e <= prev {
			t.Errorf("standard linearized depth not increasing at d=%f", d)
		}
		prev = e
	}
}
