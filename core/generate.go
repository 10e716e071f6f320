package core

import (
	"math"

	"github.com/go-gl/mathgl/mgl32"
)

// HeightSampler returns the terrain height (Z) at a planar position.
type HeightSampler func(x, y float32) float32

// GenerateConfig drives population construction. The struct is
// comparable; the orchestrator uses == to detect parameter changes.
type GenerateConfig struct {
	Seed  uint32
	Count int
	// Origin is the min corner of the planar field, Extent its size.
	Origin mgl32.Vec2
	Extent mgl32.Vec2

	HeightMin float32
	HeightMax float32

	// ClumpScale is the noise frequency in cells; ClumpStrength in
	// [0,1] blends the noise into jitter and blade height.
	ClumpScale    float32
	ClumpStrength float32

	// MaskPrune drops instances below MaskPruneThreshold at build
	// time. The cull kernel still re-samples the mask every frame,
	// so live edits apply either way; pruning just shrinks the array.
	MaskPrune          bool
	MaskPruneThreshold float32
}

func DefaultGenerateConfig() GenerateConfig {
	return GenerateConfig{
		Seed:          1,
		Count:         250_000,
		Origin:        mgl32.Vec2{-100, -100},
		Extent:        mgl32.Vec2{200, 200},
		HeightMin:     0.6,
		HeightMax:     1.4,
		ClumpScale:    0.05,
		ClumpStrength: 0.5,
	}
}

// Generate lays Count instances (rounded up to the next perfect
// square; documented policy, not an error) on a jittered grid across
// the configured extent. The mapping cell -> instance is a pure
// function of the seed and grid position, so regeneration with the
// same config reproduces the population exactly. Not part of the
// per-frame hot path.
func Generate(cfg GenerateConfig, heightAt HeightSampler, mask *MaskSnapshot) *Population {
	side := int(math.Ceil(math.Sqrt(float64(cfg.Count))))
	if side < 1 {
		side = 1
	}

	cellW := cfg.Extent.X() / float32(side)
	cellH := cfg.Extent.Y() / float32(side)

	instances := make([]GrassInstance, 0, side*side)

	for gy := 0; gy < side; gy++ {
		for gx := 0; gx < side; gx++ {
			cx := uint32(gx)
			cy := uint32(gy)

			jx := hashFloat(hash2(cx, cy, cfg.Seed))
			jy := hashFloat(hash2(cx, cy, cfg.Seed^0x5bd1e995))

			x := cfg.Origin.X() + (float32(gx)+jx)*cellW
			y := cfg.Origin.Y() + (float32(gy)+jy)*cellH

			// Coherent clumping: low-frequency noise pushes blades
			// around and modulates their height in patches.
			clump := ValueNoise2D(float32(gx)*cfg.ClumpScale, float32(gy)*cfg.ClumpScale, cfg.Seed^0xa511e9b3)
			x += cfg.ClumpStrength * clump * cellW * 0.5
			y += cfg.ClumpStrength * clump * cellH * 0.5

			if cfg.MaskPrune && mask != nil && mask.SampleWorld(x, y) < cfg.MaskPruneThreshold {
				continue
			}

			z := float32(0)
			if heightAt != nil {
				z = heightAt(x, y)
			}

			h := cfg.HeightMin + hashFloat(hash2(cx, cy, cfg.Seed^0x27d4eb2f))*(cfg.HeightMax-cfg.HeightMin)
			h *= 1 + 0.5*cfg.ClumpStrength*clump
			if h < 0.05 {
				h = 0.05
			}

			angle := hashFloat(hash2(cx, cy, cfg.Seed^0x165667b1)) * 2 * math.Pi
			phase := hashFloat(hash2(cx, cy, cfg.Seed^0xd3a2646c)) * 2 * math.Pi
			stiffness := 0.75 + 0.25*hashFloat(hash2(cx, cy, cfg.Seed^0xfd7046c5))

			instances = append(instances, GrassInstance{
				Position:   mgl32.Vec3{x, y, z},
				Height:     h,
				Facing:     mgl32.Vec2{float32(math.Cos(float64(angle))), float32(math.Sin(float64(angle)))},
				Phase:      phase,
				Stiffness:  stiffness,
				WidthScale: 1,
			})
		}
	}

	return &Population{
		Instances:  instances,
		Config:     cfg,
		Generation: newGeneration(),
		GridSide:   side,
	}
}
