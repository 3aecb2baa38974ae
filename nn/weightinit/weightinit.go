// Package weightinit seeds layer parameters with the distributions commonly
// used for convolutional networks.
package weightinit

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
)

// ErrInvalidShape is returned for non-positive fan dimensions.
var ErrInvalidShape = errors.New("weightinit: invalid shape")

// KaimingNormal fills w with values from N(0, 2/fanOut), where fanOut is
// outChannels*kernelH*kernelW. This keeps the forward variance of layers
// followed by a rectifier roughly constant.
func KaimingNormal(rng *rand.Rand, w []float64, outChannels, kernelH, kernelW int) error {
	fanOut := outChannels * kernelH * kernelW
	if fanOut <= 0 {
		return fmt.Errorf("%w: fan-out %d*%d*%d must be positive",
			ErrInvalidShape, outChannels, kernelH, kernelW)
	}

	std := math.Sqrt(2 / float64(fanOut))
	for i := range w {
		w[i] = rng.NormFloat64() * std
	}
	return nil
}

// TruncNormal fills w with values from N(0, std²) truncated to ±2·std by
// resampling. Values stay bounded, which keeps freshly initialized linear
// heads from saturating their activations.
func TruncNormal(rng *rand.Rand, w []float64, std float64) error {
	if std <= 0 {
		return fmt.Errorf("%w: std %v must be positive", ErrInvalidShape, std)
	}

	bound := 2 * std
	for i := range w {
		v := rng.NormFloat64() * std
		for v < -bound || v > bound {
			v = rng.NormFloat64() * std
		}
		w[i] = v
	}
	return nil
}

// Constant fills w with a single value.
func Constant(w []float64, value float64) {
	for i := range w {
		w[i] = value
	}
}
