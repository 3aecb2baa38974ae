// Package norm provides normalization layers for NCHW tensors.
//
// ChannelNorm normalizes each spatial position across its channel vector,
// BatchNorm2D normalizes each channel plane across batch and space with
// running statistics for inference.
package norm

import (
	"errors"
	"fmt"
	"math"

	"github.com/cwbudde/algo-vecmath"
)

var (
	// ErrEmptyInput is returned when the input tensor is empty.
	ErrEmptyInput = errors.New("norm: input tensor is empty")

	// ErrShapeMismatch is returned when the input length does not match the
	// declared geometry.
	ErrShapeMismatch = errors.New("norm: tensor length does not match geometry")

	// ErrInvalidConfig is returned for non-positive channel counts or eps.
	ErrInvalidConfig = errors.New("norm: invalid configuration")
)

// DefaultEps is the variance floor used by both layers.
const DefaultEps = 1e-5

// ChannelNorm normalizes the channel vector at every spatial position to
// zero mean and unit variance, then applies a learned per-channel affine
// transform. Statistics are computed per position, so the layer behaves
// identically in training and inference.
type ChannelNorm struct {
	channels int
	eps      float64

	// Gamma and Beta are the learned affine parameters, one value per
	// channel. They are exported so initialization and serialization can
	// reach them directly.
	Gamma []float64
	Beta  []float64
}

// NewChannelNorm creates a ChannelNorm over the given number of channels
// with Gamma initialized to one and Beta to zero.
func NewChannelNorm(channels int) (*ChannelNorm, error) {
	if channels <= 0 {
		return nil, fmt.Errorf("%w: channels must be positive, got %d", ErrInvalidConfig, channels)
	}

	gamma := make([]float64, channels)
	for i := range gamma {
		gamma[i] = 1
	}

	return &ChannelNorm{
		channels: channels,
		eps:      DefaultEps,
		Gamma:    gamma,
		Beta:     make([]float64, channels),
	}, nil
}

// Channels returns the channel count the layer was built for.
func (n *ChannelNorm) Channels() int { return n.channels }

// Forward normalizes x, an NCHW tensor with the layer's channel count, and
// returns a newly allocated result.
func (n *ChannelNorm) Forward(x []float64, batch, height, width int) ([]float64, error) {
	dst := make([]float64, len(x))
	if err := n.ForwardTo(dst, x, batch, height, width); err != nil {
		return nil, err
	}
	return dst, nil
}

// ForwardTo is the preallocated variant of Forward. dst must have the same
// length as x; dst and x may alias.
func (n *ChannelNorm) ForwardTo(dst, x []float64, batch, height, width int) error {
	if len(x) == 0 {
		return ErrEmptyInput
	}
	hw := height * width
	if len(x) != batch*n.channels*hw {
		return fmt.Errorf("%w: have %d values, need %d*%d*%d*%d",
			ErrShapeMismatch, len(x), batch, n.channels, height, width)
	}
	if len(dst) != len(x) {
		return fmt.Errorf("%w: dst has %d values, need %d", ErrShapeMismatch, len(dst), len(x))
	}

	row := make([]float64, n.channels)
	for b := 0; b < batch; b++ {
		base := b * n.channels * hw
		for p := 0; p < hw; p++ {
			// Gather the channel vector at this position.
			for c := 0; c < n.channels; c++ {
				row[c] = x[base+c*hw+p]
			}

			mean := 0.0
			for _, v := range row {
				mean += v
			}
			mean /= float64(n.channels)

			variance := 0.0
			for _, v := range row {
				d := v - mean
				variance += d * d
			}
			variance /= float64(n.channels)

			invStd := 1 / math.Sqrt(variance+n.eps)
			for c := range row {
				row[c] = (row[c] - mean) * invStd
			}
			vecmath.MulBlockInPlace(row, n.Gamma)

			for c := 0; c < n.channels; c++ {
				dst[base+c*hw+p] = row[c] + n.Beta[c]
			}
		}
	}

	return nil
}
