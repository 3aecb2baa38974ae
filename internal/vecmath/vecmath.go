// Package vecmath provides scalar-block helpers for the hot loops of the
// convolution and weight-synthesis code paths.
//
// These are pure Go implementations. Block multiplies of two vectors go
// through the external algo-vecmath module; the fused scalar forms below
// (scale, axpy) are not part of its published surface yet, so they live here.
package vecmath

// ScaleBlock multiplies each element by a scalar: dst[i] = src[i] * scale.
// Slices must have equal length. Panics if lengths differ.
func ScaleBlock(dst, src []float64, scale float64) {
	if len(dst) != len(src) {
		panic("vecmath: slice length mismatch")
	}
	for i := range dst {
		dst[i] = src[i] * scale
	}
}

// AddBlockInPlace performs in-place element-wise addition: dst[i] += src[i].
// Slices must have equal length. Panics if lengths differ.
func AddBlockInPlace(dst, src []float64) {
	if len(dst) != len(src) {
		panic("vecmath: slice length mismatch")
	}
	for i := range dst {
		dst[i] += src[i]
	}
}

// ScaleAddBlock performs a fused scale-accumulate (axpy): dst[i] += src[i] * scale.
// Slices must have equal length. Panics if lengths differ.
func ScaleAddBlock(dst, src []float64, scale float64) {
	if len(dst) != len(src) {
		panic("vecmath: slice length mismatch")
	}
	for i := range dst {
		dst[i] += src[i] * scale
	}
}

// Sum returns the sum of all elements in x. Returns 0 for an empty slice.
func Sum(x []float64) float64 {
	sum := 0.0
	for _, v := range x {
		sum += v
	}
	return sum
}

