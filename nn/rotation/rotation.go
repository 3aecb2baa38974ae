// Package rotation builds interpolation operators that rotate 3x3
// convolution kernels by arbitrary angles.
//
// Rotating a 3x3 kernel resamples its taps on the rotated grid with
// bilinear weights. For a fixed kernel size that resampling collapses into
// a 9x9 operator applied to the flattened kernel, so a kernel rotated by
// theta is simply operator(theta) times kernel. Two closed-form operator
// templates cover positive and negative angles; both reduce to the identity
// at theta = 0 and every row sums to one, so constant kernels are preserved
// exactly.
package rotation

import (
	"errors"
	"fmt"
	"math"
)

const (
	// KernelSize is the spatial side length of the kernels the operators
	// act on.
	KernelSize = 3

	// Taps is the flattened kernel length, KernelSize squared.
	Taps = KernelSize * KernelSize

	// OperatorLen is the number of values in one 9x9 operator.
	OperatorLen = Taps * Taps
)

var (
	// ErrEmptyInput is returned when no angles are given.
	ErrEmptyInput = errors.New("rotation: no angles given")

	// ErrLengthMismatch is returned when dst cannot hold the operators.
	ErrLengthMismatch = errors.New("rotation: dst length mismatch")
)

// Operators returns one 9x9 rotation operator per angle, concatenated in
// row-major order (len(thetas)*81 values). Angles are in radians; the
// useful range is (-45°, 45°) since larger rotations alias on a 3x3 grid.
func Operators(thetas []float64) ([]float64, error) {
	if len(thetas) == 0 {
		return nil, ErrEmptyInput
	}
	dst := make([]float64, len(thetas)*OperatorLen)
	if err := OperatorsTo(dst, thetas); err != nil {
		return nil, err
	}
	return dst, nil
}

// OperatorsTo is the preallocated variant of Operators. dst must hold
// len(thetas)*81 values and is fully overwritten.
func OperatorsTo(dst, thetas []float64) error {
	if len(thetas) == 0 {
		return ErrEmptyInput
	}
	if len(dst) != len(thetas)*OperatorLen {
		return fmt.Errorf("%w: have %d values, need %d", ErrLengthMismatch,
			len(dst), len(thetas)*OperatorLen)
	}

	// Non-finite angles are not rejected here. They turn into non-finite
	// operator entries and flow through to the synthesized weights, where
	// external monitoring can catch them.
	for i, theta := range thetas {
		m := dst[i*OperatorLen : (i+1)*OperatorLen]
		for j := range m {
			m[j] = 0
		}

		x := math.Cos(theta)
		y := math.Sin(theta)
		a := x - y
		b := x * y
		c := x + y

		if theta >= 0 {
			fillPositive(m, x, y, a, b, c)
		} else {
			fillNegative(m, x, y, a, b, c)
		}
	}

	return nil
}

// fillPositive writes the nonzero entries of the counterclockwise template.
// Row r holds the bilinear weights that tap r of the rotated kernel draws
// from the original taps.
func fillPositive(m []float64, x, y, a, b, c float64) {
	m[0*Taps+0], m[0*Taps+1] = a, 1-a
	m[1*Taps+1], m[1*Taps+2], m[1*Taps+4], m[1*Taps+5] = x-b, b, 1-c+b, y-b
	m[2*Taps+2], m[2*Taps+5] = a, 1-a
	m[3*Taps+0], m[3*Taps+1], m[3*Taps+3], m[3*Taps+4] = b, y-b, x-b, 1-c+b
	m[4*Taps+4] = 1
	m[5*Taps+4], m[5*Taps+5], m[5*Taps+7], m[5*Taps+8] = 1-c+b, x-b, y-b, b
	m[6*Taps+3], m[6*Taps+6] = 1-a, a
	m[7*Taps+3], m[7*Taps+4], m[7*Taps+6], m[7*Taps+7] = y-b, 1-c+b, b, x-b
	m[8*Taps+7], m[8*Taps+8] = 1-a, a
}

// fillNegative writes the nonzero entries of the clockwise template.
func fillNegative(m []float64, x, y, a, b, c float64) {
	m[0*Taps+0], m[0*Taps+3] = c, 1-c
	m[1*Taps+0], m[1*Taps+1], m[1*Taps+3], m[1*Taps+4] = -b, x+b, b-y, 1-a-b
	m[2*Taps+1], m[2*Taps+2] = 1-c, c
	m[3*Taps+3], m[3*Taps+4], m[3*Taps+6], m[3*Taps+7] = x+b, 1-a-b, -b, b-y
	m[4*Taps+4] = 1
	m[5*Taps+1], m[5*Taps+2], m[5*Taps+4], m[5*Taps+5] = b-y, -b, 1-a-b, x+b
	m[6*Taps+6], m[6*Taps+7] = c, 1-c
	m[7*Taps+4], m[7*Taps+5], m[7*Taps+7], m[7*Taps+8] = 1-a-b, b-y, x+b, -b
	m[8*Taps+5], m[8*Taps+8] = 1-c, c
}
