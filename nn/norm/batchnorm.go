package norm

import (
	"fmt"
	"math"

	"github.com/cwbudde/algo-arc/internal/vecmath"
)

// DefaultMomentum is the running-statistics update rate of BatchNorm2D.
const DefaultMomentum = 0.1

// BatchNorm2D normalizes each channel plane of an NCHW tensor. In training
// mode it uses statistics of the current batch and updates running
// estimates; in inference mode it uses the running estimates only.
type BatchNorm2D struct {
	channels int
	eps      float64
	momentum float64
	training bool

	Gamma       []float64
	Beta        []float64
	RunningMean []float64
	RunningVar  []float64
}

// NewBatchNorm2D creates a BatchNorm2D over the given number of channels in
// inference mode, with Gamma and RunningVar initialized to one.
func NewBatchNorm2D(channels int) (*BatchNorm2D, error) {
	if channels <= 0 {
		return nil, fmt.Errorf("%w: channels must be positive, got %d", ErrInvalidConfig, channels)
	}

	gamma := make([]float64, channels)
	runningVar := make([]float64, channels)
	for i := 0; i < channels; i++ {
		gamma[i] = 1
		runningVar[i] = 1
	}

	return &BatchNorm2D{
		channels:    channels,
		eps:         DefaultEps,
		momentum:    DefaultMomentum,
		Gamma:       gamma,
		Beta:        make([]float64, channels),
		RunningMean: make([]float64, channels),
		RunningVar:  runningVar,
	}, nil
}

// Channels returns the channel count the layer was built for.
func (bn *BatchNorm2D) Channels() int { return bn.channels }

// Train switches the layer to batch statistics with running updates.
func (bn *BatchNorm2D) Train() { bn.training = true }

// Eval switches the layer to its running statistics.
func (bn *BatchNorm2D) Eval() { bn.training = false }

// Training reports whether the layer is in training mode.
func (bn *BatchNorm2D) Training() bool { return bn.training }

// Forward normalizes x, an NCHW tensor with the layer's channel count, and
// returns a newly allocated result.
func (bn *BatchNorm2D) Forward(x []float64, batch, height, width int) ([]float64, error) {
	dst := make([]float64, len(x))
	if err := bn.ForwardTo(dst, x, batch, height, width); err != nil {
		return nil, err
	}
	return dst, nil
}

// ForwardTo is the preallocated variant of Forward. dst must have the same
// length as x; dst and x may alias.
func (bn *BatchNorm2D) ForwardTo(dst, x []float64, batch, height, width int) error {
	if len(x) == 0 {
		return ErrEmptyInput
	}
	hw := height * width
	if len(x) != batch*bn.channels*hw {
		return fmt.Errorf("%w: have %d values, need %d*%d*%d*%d",
			ErrShapeMismatch, len(x), batch, bn.channels, height, width)
	}
	if len(dst) != len(x) {
		return fmt.Errorf("%w: dst has %d values, need %d", ErrShapeMismatch, len(dst), len(x))
	}

	n := float64(batch * hw)
	for c := 0; c < bn.channels; c++ {
		mean := bn.RunningMean[c]
		variance := bn.RunningVar[c]

		if bn.training {
			mean, variance = 0, 0
			for b := 0; b < batch; b++ {
				mean += vecmath.Sum(x[(b*bn.channels+c)*hw : (b*bn.channels+c+1)*hw])
			}
			mean /= n
			for b := 0; b < batch; b++ {
				plane := x[(b*bn.channels+c)*hw : (b*bn.channels+c+1)*hw]
				for _, v := range plane {
					d := v - mean
					variance += d * d
				}
			}
			variance /= n

			// Running variance keeps the unbiased estimate.
			unbiased := variance
			if n > 1 {
				unbiased = variance * n / (n - 1)
			}
			bn.RunningMean[c] = (1-bn.momentum)*bn.RunningMean[c] + bn.momentum*mean
			bn.RunningVar[c] = (1-bn.momentum)*bn.RunningVar[c] + bn.momentum*unbiased
		}

		scale := bn.Gamma[c] / math.Sqrt(variance+bn.eps)
		shift := bn.Beta[c] - mean*scale
		for b := 0; b < batch; b++ {
			src := x[(b*bn.channels+c)*hw : (b*bn.channels+c+1)*hw]
			out := dst[(b*bn.channels+c)*hw : (b*bn.channels+c+1)*hw]
			for i, v := range src {
				out[i] = v*scale + shift
			}
		}
	}

	return nil
}
