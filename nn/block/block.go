// Package block assembles residual bottleneck blocks in which the middle
// 3x3 convolution is either a standard convolution or an adaptive rotated
// one, selected per block index through an explicit Plan.
package block

import (
	"errors"
	"fmt"
	"math/rand/v2"

	"github.com/cwbudde/algo-arc/internal/vecmath"
	"github.com/cwbudde/algo-arc/nn/arc"
	"github.com/cwbudde/algo-arc/nn/conv2d"
	"github.com/cwbudde/algo-arc/nn/norm"
	"github.com/cwbudde/algo-arc/nn/weightinit"
)

var (
	// ErrInvalidConfig is returned for invalid construction parameters.
	ErrInvalidConfig = errors.New("block: invalid configuration")

	// ErrShapeMismatch is returned when an input tensor does not match the
	// block geometry.
	ErrShapeMismatch = errors.New("block: tensor length does not match geometry")
)

// Expansion is the output channel multiplier of a bottleneck block.
const Expansion = 4

// ConvKind selects the implementation of a block's 3x3 convolution.
type ConvKind int

const (
	// KindStandard uses a plain learnable 3x3 convolution.
	KindStandard ConvKind = iota

	// KindAdaptive uses an adaptive rotated convolution.
	KindAdaptive
)

// String returns the kind name.
func (k ConvKind) String() string {
	switch k {
	case KindStandard:
		return "standard"
	case KindAdaptive:
		return "adaptive"
	default:
		return fmt.Sprintf("ConvKind(%d)", int(k))
	}
}

// Plan maps block indices to convolution kinds. Missing indices default to
// KindStandard, so an empty Plan builds an ordinary residual stage.
type Plan map[int]ConvKind

// Kind returns the convolution kind for block index i.
func (p Plan) Kind(i int) ConvKind {
	if k, ok := p[i]; ok {
		return k
	}
	return KindStandard
}

// Bottleneck is a residual block: a 1x1 reduce, a 3x3 spatial convolution
// (standard or adaptive), a 1x1 expand by Expansion, each followed by batch
// norm, with a rectified residual connection. Stride, when not 1, is
// applied by the 3x3 convolution and mirrored in the projection shortcut.
type Bottleneck struct {
	inChannels  int
	width       int
	outChannels int
	stride      int
	kind        ConvKind

	reduceWeight []float64
	reduceNorm   *norm.BatchNorm2D

	spatialWeight []float64 // standard kind only
	adaptive      *arc.AdaptiveRotatedConv
	spatialNorm   *norm.BatchNorm2D

	expandWeight []float64
	expandNorm   *norm.BatchNorm2D

	projWeight []float64 // nil when the identity shortcut applies
	projNorm   *norm.BatchNorm2D
}

// NewBottleneck creates a bottleneck block. width is the channel count of
// the 3x3 convolution; the block outputs width*Expansion channels. variants
// is only consulted for KindAdaptive.
func NewBottleneck(inChannels, width, stride int, kind ConvKind, variants int, rng *rand.Rand) (*Bottleneck, error) {
	if inChannels <= 0 || width <= 0 {
		return nil, fmt.Errorf("%w: channels (%d in, width %d) must be positive",
			ErrInvalidConfig, inChannels, width)
	}
	if stride <= 0 {
		return nil, fmt.Errorf("%w: stride %d must be positive", ErrInvalidConfig, stride)
	}
	if rng == nil {
		return nil, fmt.Errorf("%w: rng must not be nil", ErrInvalidConfig)
	}

	outChannels := width * Expansion
	b := &Bottleneck{
		inChannels:  inChannels,
		width:       width,
		outChannels: outChannels,
		stride:      stride,
		kind:        kind,
	}

	var err error
	if b.reduceNorm, err = norm.NewBatchNorm2D(width); err != nil {
		return nil, err
	}
	if b.spatialNorm, err = norm.NewBatchNorm2D(width); err != nil {
		return nil, err
	}
	if b.expandNorm, err = norm.NewBatchNorm2D(outChannels); err != nil {
		return nil, err
	}

	b.reduceWeight = make([]float64, width*inChannels)
	if err := weightinit.KaimingNormal(rng, b.reduceWeight, width, 1, 1); err != nil {
		return nil, err
	}

	switch kind {
	case KindStandard:
		b.spatialWeight = make([]float64, width*width*9)
		if err := weightinit.KaimingNormal(rng, b.spatialWeight, width, 3, 3); err != nil {
			return nil, err
		}
	case KindAdaptive:
		b.adaptive, err = arc.New(width, width, variants, rng, arc.WithStride(stride))
		if err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("%w: unknown convolution kind %v", ErrInvalidConfig, kind)
	}

	b.expandWeight = make([]float64, outChannels*width)
	if err := weightinit.KaimingNormal(rng, b.expandWeight, outChannels, 1, 1); err != nil {
		return nil, err
	}

	if stride != 1 || inChannels != outChannels {
		b.projWeight = make([]float64, outChannels*inChannels)
		if err := weightinit.KaimingNormal(rng, b.projWeight, outChannels, 1, 1); err != nil {
			return nil, err
		}
		if b.projNorm, err = norm.NewBatchNorm2D(outChannels); err != nil {
			return nil, err
		}
	}

	return b, nil
}

// Kind returns the 3x3 convolution kind of the block.
func (b *Bottleneck) Kind() ConvKind { return b.kind }

// OutChannels returns the output channel count, width*Expansion.
func (b *Bottleneck) OutChannels() int { return b.outChannels }

// OutputSize returns the spatial output size for an input of the given size.
func (b *Bottleneck) OutputSize(height, width int) (outH, outW int) {
	g := conv2d.Geom{Height: height, Width: width, KernelH: 3, KernelW: 3}
	return conv2d.OutputSize(g, conv2d.ApplyOptions(
		conv2d.WithPadding(1), conv2d.WithStride(b.stride)))
}

// Train puts all norms (and the adaptive convolution, if any) in training
// mode.
func (b *Bottleneck) Train() { b.setTraining(true) }

// Eval puts the block in inference mode.
func (b *Bottleneck) Eval() { b.setTraining(false) }

func (b *Bottleneck) setTraining(training bool) {
	norms := []*norm.BatchNorm2D{b.reduceNorm, b.spatialNorm, b.expandNorm, b.projNorm}
	for _, n := range norms {
		if n == nil {
			continue
		}
		if training {
			n.Train()
		} else {
			n.Eval()
		}
	}
	if b.adaptive != nil {
		if training {
			b.adaptive.Train()
		} else {
			b.adaptive.Eval()
		}
	}
}

// Forward runs the block over a batch of NCHW feature maps.
func (b *Bottleneck) Forward(x []float64, batch, height, width int) ([]float64, error) {
	if len(x) != batch*b.inChannels*height*width {
		return nil, fmt.Errorf("%w: have %d values, need %d*%d*%d*%d",
			ErrShapeMismatch, len(x), batch, b.inChannels, height, width)
	}

	// 1x1 reduce.
	out, err := conv1x1(x, b.reduceWeight, batch, b.inChannels, b.width, height, width, 1)
	if err != nil {
		return nil, err
	}
	if err := b.reduceNorm.ForwardTo(out, out, batch, height, width); err != nil {
		return nil, err
	}
	relu(out)

	// 3x3 spatial, standard or adaptive.
	outH, outW := b.OutputSize(height, width)
	switch b.kind {
	case KindStandard:
		g := conv2d.Geom{
			Batch: batch, InChannels: b.width, Height: height, Width: width,
			OutChannels: b.width, KernelH: 3, KernelW: 3,
		}
		out, err = conv2d.Convolve(out, b.spatialWeight, g,
			conv2d.WithPadding(1), conv2d.WithStride(b.stride))
	case KindAdaptive:
		out, err = b.adaptive.Forward(out, batch, height, width)
	}
	if err != nil {
		return nil, err
	}
	if err := b.spatialNorm.ForwardTo(out, out, batch, outH, outW); err != nil {
		return nil, err
	}
	relu(out)

	// 1x1 expand.
	out, err = conv1x1(out, b.expandWeight, batch, b.width, b.outChannels, outH, outW, 1)
	if err != nil {
		return nil, err
	}
	if err := b.expandNorm.ForwardTo(out, out, batch, outH, outW); err != nil {
		return nil, err
	}

	// Residual connection, projected when the geometry changes.
	identity := x
	if b.projWeight != nil {
		identity, err = conv1x1(x, b.projWeight, batch, b.inChannels, b.outChannels, height, width, b.stride)
		if err != nil {
			return nil, err
		}
		if err := b.projNorm.ForwardTo(identity, identity, batch, outH, outW); err != nil {
			return nil, err
		}
	}
	vecmath.AddBlockInPlace(out, identity)
	relu(out)

	return out, nil
}

// conv1x1 is a strided pointwise convolution.
func conv1x1(x, weight []float64, batch, cin, cout, height, width, stride int) ([]float64, error) {
	g := conv2d.Geom{
		Batch: batch, InChannels: cin, Height: height, Width: width,
		OutChannels: cout, KernelH: 1, KernelW: 1,
	}
	return conv2d.GEMM(x, weight, g, conv2d.WithStride(stride))
}

func relu(x []float64) {
	for i, v := range x {
		if v < 0 {
			x[i] = 0
		}
	}
}
