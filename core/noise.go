package core

import "math"

// Integer hashing and 2D value noise used for deterministic placement
// jitter and organic clumping. Everything here is a pure function of
// its inputs so that index -> instance stays reproducible per seed.

func hashUint32(x uint32) uint32 {
	x ^= x >> 16
	x *= 0x7feb352d
	x ^= x >> 15
	x *= 0x846ca68b
	x ^= x >> 16
	return x
}

func hash2(x, y, seed uint32) uint32 {
	h := hashUint32(x*0x9e3779b9 ^ seed)
	return hashUint32(h ^ y*0x85ebca6b)
}

// hashFloat maps a hash to [0,1).
func hashFloat(h uint32) float32 {
	return float32(h>>8) * (1.0 / float32(1<<24))
}

// IndexHash is the stable per-instance hash used by distance thinning.
// It depends on the instance index only, never on time or frame count,
// so accept/reject decisions are identical across frames.
func IndexHash(i int) float32 {
	return hashFloat(hashUint32(uint32(i) + 0x68bc21eb))
}

func smoothstep(t float32) float32 {
	return t * t * (3 - 2*t)
}

// ValueNoise2D is coherent low-frequency noise in [-1,1]. Lattice
// values come from hash2, bilinearly blended with a smoothstep fade.
func ValueNoise2D(x, y float32, seed uint32) float32 {
	fx := float32(math.Floor(float64(x)))
	fy := float32(math.Floor(float64(y)))
	ix := int32(fx)
	iy := int32(fy)
	tx := smoothstep(x - fx)
	ty := smoothstep(y - fy)

	lattice := func(cx, cy int32) float32 {
		return hashFloat(hash2(uint32(cx), uint32(cy), seed))*2 - 1
	}

	v00 := lattice(ix, iy)
	v10 := lattice(ix+1, iy)
	v01 := lattice(ix, iy+1)
	v11 := lattice(ix+1, iy+1)

	top := v00 + (v10-v00)*tx
	bot := v01 + (v11-v01)*tx
	return top + (bot-top)*ty
}
