package core

import (
	"math"
	"testing"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testPopulation wraps hand-placed instances in a population shell.
func testPopulation(instances []GrassInstance) *Population {
	side := int(math.Ceil(math.Sqrt(float64(len(instances)))))
	if side < 1 {
		side = 1
	}
	return &Population{
		Instances:  instances,
		Generation: "test",
		GridSide:   side,
	}
}

func blade(x, y float32) GrassInstance {
	return GrassInstance{
		Position:   mgl32.Vec3{x, y, 0},
		Height:     1,
		Facing:     mgl32.Vec2{1, 0},
		Stiffness:  0.8,
		WidthScale: 1,
	}
}

// testCamera looks down -Y from slightly above the field.
func testCamera() *Camera {
	cam := NewCamera()
	cam.Position = mgl32.Vec3{0, 0, 1}
	cam.Yaw = 0
	cam.Pitch = 0
	cam.Aspect = 1
	cam.FovY = mgl32.DegToRad(60)
	cam.Near = 0.1
	cam.Far = 1000
	return cam
}

// passthroughCullConfig disables thinning and occlusion so individual
// stages can be exercised in isolation.
func passthroughCullConfig() CullConfig {
	return CullConfig{
		MaskThreshold:   0.5,
		FalloffStart:    1000,
		MaxDrawDistance: 2000,
		MinDensity:      1,
		LODThresholds:   []float32{20},
		Workers:         2,
	}
}

func makeBuckets(capacity, tiers int) []*LODBucket {
	buckets := make([]*LODBucket, tiers)
	for i := range buckets {
		buckets[i] = NewLODBucket(capacity)
	}
	return buckets
}

func survivorPositions(buckets []*LODBucket) map[[2]float32]int {
	out := map[[2]float32]int{}
	for _, b := range buckets {
		for _, inst := range b.Items() {
			out[[2]float32{inst.Position.X(), inst.Position.Y()}]++
		}
	}
	return out
}

func TestCullFrustumExclusion(t *testing.T) {
	pop := testPopulation([]GrassInstance{
		blade(0, -10),  // in view
		blade(0, 30),   // behind the camera
		blade(0, -900), // in view direction, still inside far plane
		blade(500, -10), // far off to the side
	})
	cfg := passthroughCullConfig()
	buckets := makeBuckets(pop.Capacity(), cfg.Tiers())

	CullDispatch(pop, testCamera(), nil, nil, cfg, buckets)

	seen := survivorPositions(buckets)
	assert.Contains(t, seen, [2]float32{0, -10})
	assert.Contains(t, seen, [2]float32{0, -900})
	assert.NotContains(t, seen, [2]float32{0, 30})
	assert.NotContains(t, seen, [2]float32{500, -10})
}

func TestCullMaskExclusion(t *testing.T) {
	// Left half excluded, right half included.
	mask := NewDensityMask(8, 8, mgl32.Vec2{-50, -50}, mgl32.Vec2{100, 100})
	for y := 0; y < 8; y++ {
		for x := 0; x < 4; x++ {
			mask.Set(x, y, 0)
		}
	}
	mask.Commit()

	pop := testPopulation([]GrassInstance{
		blade(-20, -10),
		blade(-20, -30),
		blade(20, -10),
		blade(20, -30),
	})
	cfg := passthroughCullConfig()
	buckets := makeBuckets(pop.Capacity(), cfg.Tiers())

	CullDispatch(pop, testCamera(), mask.Snapshot(), nil, cfg, buckets)

	seen := survivorPositions(buckets)
	assert.NotContains(t, seen, [2]float32{-20, -10})
	assert.NotContains(t, seen, [2]float32{-20, -30})
	assert.Contains(t, seen, [2]float32{20, -10})
	assert.Contains(t, seen, [2]float32{20, -30})
}

func TestCullBucketInvariants(t *testing.T) {
	var instances []GrassInstance
	for i := 0; i < 400; i++ {
		x := float32(i%20)*2 - 20
		y := -float32(i/20)*3 - 2
		instances = append(instances, blade(x, y))
	}
	pop := testPopulation(instances)
	cfg := passthroughCullConfig()
	buckets := makeBuckets(pop.Capacity(), cfg.Tiers())

	CullDispatch(pop, testCamera(), nil, nil, cfg, buckets)

	total := 0
	for _, b := range buckets {
		total += b.Count()
	}
	assert.LessOrEqual(t, total, len(instances))

	// Disjoint: positions are unique by construction, so a survivor
	// appearing twice means it landed in more than one tier.
	for pos, n := range survivorPositions(buckets) {
		assert.Equal(t, 1, n, "instance at %v classified into %d buckets", pos, n)
	}
}

func TestCullOcclusionMonotonic(t *testing.T) {
	var instances []GrassInstance
	for i := 0; i < 200; i++ {
		x := float32(i%20)*3 - 30
		y := -float32(i/20)*8 - 5
		instances = append(instances, blade(x, y))
	}
	pop := testPopulation(instances)
	cfg := passthroughCullConfig()
	cam := testCamera()

	open := makeBuckets(pop.Capacity(), cfg.Tiers())
	CullDispatch(pop, cam, nil, nil, cfg, open)

	// Near wall over the left half of the screen, open on the right.
	const side = 64
	depth := make([]float32, side*side)
	for y := 0; y < side; y++ {
		for x := 0; x < side; x++ {
			if x < side/2 {
				depth[y*side+x] = 0.99 // linear eye distance ~10
			} else {
				depth[y*side+x] = 1.0
			}
		}
	}
	pyramid, ok := BuildDepthPyramid(depth, side, side, false)
	require.True(t, ok)

	occCfg := cfg
	occCfg.OcclusionEnabled = true
	occCfg.OcclusionBias = 0.05
	occluded := makeBuckets(pop.Capacity(), occCfg.Tiers())
	CullDispatch(pop, cam, nil, pyramid, occCfg, occluded)

	withOcc := survivorPositions(occluded)
	without := survivorPositions(open)
	for pos := range withOcc {
		assert.Contains(t, without, pos, "occlusion admitted an instance frustum/mask culling rejected")
	}
	assert.LessOrEqual(t, len(withOcc), len(without))
}

func TestCullMissingPyramidIsAlwaysPass(t *testing.T) {
	pop := testPopulation([]GrassInstance{blade(0, -10), blade(3, -15)})
	cfg := passthroughCullConfig()
	cfg.OcclusionEnabled = true // requested, but no pyramid this frame

	buckets := makeBuckets(pop.Capacity(), cfg.Tiers())
	CullDispatch(pop, testCamera(), nil, nil, cfg, buckets)

	assert.Len(t, survivorPositions(buckets), 2, "missing pyramid must never cause rejection")
}

func TestThinningSurvivalProbability(t *testing.T) {
	cfg := DefaultCullConfig()
	prev := float32(1)
	for dist := float32(0); dist <= cfg.MaxDrawDistance+20; dist += 5 {
		p := cfg.survivalProbability(dist)
		assert.LessOrEqual(t, p, prev, "survival probability increased at dist %f", dist)
		assert.GreaterOrEqual(t, p, cfg.MinDensity)
		prev = p
	}
	assert.Equal(t, float32(1), cfg.survivalProbability(cfg.FalloffStart))
	assert.InDelta(t, cfg.MinDensity, cfg.survivalProbability(cfg.MaxDrawDistance), 1e-5)
}

func TestThinningDeterministicAcrossDispatches(t *testing.T) {
	var instances []GrassInstance
	for i := 0; i < 500; i++ {
		x := float32(i%25)*4 - 50
		y := -float32(i/25)*6 - 5
		instances = append(instances, blade(x, y))
	}
	pop := testPopulation(instances)

	cfg := passthroughCullConfig()
	cfg.FalloffStart = 20
	cfg.MaxDrawDistance = 150
	cfg.MinDensity = 0.2

	cam := testCamera()
	a := makeBuckets(pop.Capacity(), cfg.Tiers())
	b := makeBuckets(pop.Capacity(), cfg.Tiers())
	CullDispatch(pop, cam, nil, nil, cfg, a)
	CullDispatch(pop, cam, nil, nil, cfg, b)

	// The per-instance decision depends only on the instance index, so
	// two identical dispatches agree exactly, tier by tier.
	require.Equal(t, len(a), len(b))
	for tier := range a {
		assert.Equal(t, a[tier].Count(), b[tier].Count(), "tier %d count differs", tier)
		assert.ElementsMatch(t, a[tier].Items(), b[tier].Items(), "tier %d contents differ", tier)
	}
}

func TestThinningWidthCompensation(t *testing.T) {
	var instances []GrassInstance
	for i := 0; i < 300; i++ {
		x := float32(i%20)*2 - 20
		y := -float32(i/20)*4 - 60 // all inside the falloff band
		instances = append(instances, blade(x, y))
	}
	pop := testPopulation(instances)

	cfg := passthroughCullConfig()
	cfg.FalloffStart = 20
	cfg.MaxDrawDistance = 300
	cfg.MinDensity = 0.3
	cfg.WidthCompensation = 1

	buckets := makeBuckets(pop.Capacity(), cfg.Tiers())
	CullDispatch(pop, testCamera(), nil, nil, cfg, buckets)

	widened := 0
	for _, b := range buckets {
		for _, inst := range b.Items() {
			if inst.WidthScale > 1 {
				widened++
			}
		}
	}
	assert.Greater(t, widened, 0, "thinned survivors should be widened")

	// The source array stays untouched; widening happens on the copy.
	for _, inst := range pop.Instances {
		assert.Equal(t, float32(1), inst.WidthScale)
	}
}

// Four-instance scenario: A near and visible, B outside the frustum,
// C hidden behind a near wall, D far but unoccluded.
func TestCullScenarioFourInstances(t *testing.T) {
	cam := testCamera()

	a := blade(0, -5)
	bInst := blade(0, 20) // behind the camera
	c := blade(-10, -40)
	d := blade(10, -40)
	pop := testPopulation([]GrassInstance{a, bInst, c, d})

	// Figure out which screen half C projects to, then build the wall
	// on that side; D mirrors it on the other side.
	vp := cam.ViewProj()
	clipC := vp.Mul4x1(c.Position.Add(mgl32.Vec3{0, 0, 0.5}).Vec4(1))
	uC := clipC.X()/clipC.W()*0.5 + 0.5
	require.True(t, uC > 0 && uC < 1)

	const side = 64
	depth := make([]float32, side*side)
	for y := 0; y < side; y++ {
		for x := 0; x < side; x++ {
			onWallSide := (uC < 0.5) == (x < side/2)
			if onWallSide {
				depth[y*side+x] = 0.99 // eye distance ~10: in front of C (40), behind A (5)
			} else {
				depth[y*side+x] = 1.0
			}
		}
	}
	pyramid, ok := BuildDepthPyramid(depth, side, side, false)
	require.True(t, ok)

	cfg := passthroughCullConfig()
	cfg.OcclusionEnabled = true
	cfg.OcclusionBias = 0.05
	buckets := makeBuckets(pop.Capacity(), cfg.Tiers())

	CullDispatch(pop, cam, nil, pyramid, cfg, buckets)

	seen := survivorPositions(buckets)
	assert.Contains(t, seen, [2]float32{0, -5}, "A must survive")
	assert.Contains(t, seen, [2]float32{10, -40}, "D must survive")
	assert.NotContains(t, seen, [2]float32{0, 20}, "B must be frustum-rejected")
	assert.NotContains(t, seen, [2]float32{-10, -40}, "C must be occlusion-rejected")
	assert.Len(t, seen, 2)

	// Same setup with occlusion off: C reappears (monotonic filter).
	cfg.OcclusionEnabled = false
	buckets = makeBuckets(pop.Capacity(), cfg.Tiers())
	CullDispatch(pop, cam, nil, nil, cfg, buckets)
	assert.Contains(t, survivorPositions(buckets), [2]float32{-10, -40})
}
