package arc

import (
	"errors"
	"fmt"
	"math/rand/v2"

	"gonum.org/v1/gonum/mat"

	"github.com/cwbudde/algo-arc/internal/vecmath"
	"github.com/cwbudde/algo-arc/nn/rotation"
	"github.com/cwbudde/algo-arc/nn/weightinit"
)

var (
	// ErrInvalidConfig is returned for invalid construction parameters.
	ErrInvalidConfig = errors.New("arc: invalid configuration")

	// ErrShapeMismatch is returned when tensors disagree with the
	// configured geometry.
	ErrShapeMismatch = errors.New("arc: tensor length does not match geometry")

	// ErrEmptyInput is returned when the input tensor is empty.
	ErrEmptyInput = errors.New("arc: input tensor is empty")
)

// KernelBank holds the shared learnable 3x3 kernel variants of an adaptive
// convolution, laid out as (variants, outChannels, inPerGroup, 3, 3) in
// row-major order.
type KernelBank struct {
	variants    int
	outChannels int
	inPerGroup  int

	// Weights holds variants*outChannels*inPerGroup*9 values.
	Weights []float64
}

// NewKernelBank creates a bank of variants 3x3 kernels mapping inPerGroup
// input channels to outChannels output channels, initialized with
// fan-out-scaled Kaiming normal values from rng.
func NewKernelBank(variants, outChannels, inPerGroup int, rng *rand.Rand) (*KernelBank, error) {
	if variants < 1 {
		return nil, fmt.Errorf("%w: variants %d must be at least 1", ErrInvalidConfig, variants)
	}
	if outChannels <= 0 || inPerGroup <= 0 {
		return nil, fmt.Errorf("%w: channels (%d out, %d in per group) must be positive",
			ErrInvalidConfig, outChannels, inPerGroup)
	}
	if rng == nil {
		return nil, fmt.Errorf("%w: rng must not be nil", ErrInvalidConfig)
	}

	b := &KernelBank{
		variants:    variants,
		outChannels: outChannels,
		inPerGroup:  inPerGroup,
		Weights:     make([]float64, variants*outChannels*inPerGroup*9),
	}
	if err := weightinit.KaimingNormal(rng, b.Weights, outChannels, 3, 3); err != nil {
		return nil, err
	}
	return b, nil
}

// Variants returns the number of kernel variants in the bank.
func (b *KernelBank) Variants() int { return b.variants }

// Variant returns the weight slice of one kernel variant, shaped
// (outChannels, inPerGroup, 3, 3). The slice aliases the bank.
func (b *KernelBank) Variant(i int) []float64 {
	per := b.outChannels * b.inPerGroup * 9
	return b.Weights[i*per : (i+1)*per]
}

// SynthesizeWeights rotates and gates the bank into per-sample convolution
// weights. gates and angles hold one value per (sample, variant), batch*n
// values each in row-major order. The result is shaped
// (batch*n*outChannels, inPerGroup, 3, 3), ready to be the weight of a
// single grouped convolution over the batch-folded input.
//
// Each variant is contracted against its own 9-column operator slice; a
// single dense multiply across all variants would mix rotations between
// banks that share no taps.
func SynthesizeWeights(bank *KernelBank, gates, angles []float64, batch int) ([]float64, error) {
	if bank == nil {
		return nil, fmt.Errorf("%w: nil kernel bank", ErrInvalidConfig)
	}
	if batch <= 0 {
		return nil, fmt.Errorf("%w: batch %d must be positive", ErrShapeMismatch, batch)
	}
	n := bank.variants
	if len(gates) != batch*n || len(angles) != batch*n {
		return nil, fmt.Errorf("%w: have %d gates and %d angles, need %d each",
			ErrShapeMismatch, len(gates), len(angles), batch*n)
	}

	ops := make([]float64, batch*n*rotation.OperatorLen)
	if err := rotation.OperatorsTo(ops, angles); err != nil {
		return nil, fmt.Errorf("arc: building rotation operators: %w", err)
	}

	coutCin := bank.outChannels * bank.inPerGroup
	dst := make([]float64, batch*n*coutCin*9)

	// Per-variant scratch reused across the fixed-count loop.
	opsVariant := make([]float64, batch*9*9)
	bankVariant := make([]float64, 9*coutCin)
	rotated := make([]float64, batch*9*coutCin)

	for i := 0; i < n; i++ {
		// Gated operator rows for variant i, all samples: (batch*9, 9).
		for b := 0; b < batch; b++ {
			src := ops[(b*n+i)*rotation.OperatorLen : (b*n+i+1)*rotation.OperatorLen]
			vecmath.ScaleBlock(opsVariant[b*rotation.OperatorLen:(b+1)*rotation.OperatorLen], src, gates[b*n+i])
		}

		// Bank variant i transposed to (9, outChannels*inPerGroup).
		variant := bank.Variant(i)
		for oc := 0; oc < coutCin; oc++ {
			for t := 0; t < 9; t++ {
				bankVariant[t*coutCin+oc] = variant[oc*9+t]
			}
		}

		out := mat.NewDense(batch*9, coutCin, rotated)
		out.Mul(mat.NewDense(batch*9, 9, opsVariant), mat.NewDense(9, coutCin, bankVariant))

		// Scatter (batch*9, coutCin) into (batch, i, oc, tap).
		for b := 0; b < batch; b++ {
			base := ((b*n + i) * coutCin) * 9
			for t := 0; t < 9; t++ {
				row := rotated[(b*9+t)*coutCin : (b*9+t+1)*coutCin]
				for oc, v := range row {
					dst[base+oc*9+t] = v
				}
			}
		}
	}

	return dst, nil
}
