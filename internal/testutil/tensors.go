package testutil

import (
	"math/rand/v2"
)

// DeterministicTensor generates a flat tensor of n elements in [-amplitude, amplitude]
// from a fixed seed for reproducibility.
func DeterministicTensor(seed uint64, amplitude float64, n int) []float64 {
	out := make([]float64, n)
	rng := rand.New(rand.NewPCG(seed, seed))
	for i := range out {
		out[i] = (rng.Float64()*2 - 1) * amplitude
	}
	return out
}

// Impulse2D generates an H×W single-channel feature map with a unit value at (y, x).
func Impulse2D(h, w, y, x int) []float64 {
	out := make([]float64, h*w)
	if y >= 0 && y < h && x >= 0 && x < w {
		out[y*w+x] = 1
	}
	return out
}

// Constant returns a slice of length n filled with value.
func Constant(value float64, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = value
	}
	return out
}

// Ones returns a slice of length n filled with 1.0.
func Ones(n int) []float64 {
	return Constant(1.0, n)
}
