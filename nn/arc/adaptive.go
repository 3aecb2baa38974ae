package arc

import (
	"fmt"
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/mat"

	"github.com/cwbudde/algo-arc/internal/vecmath"
	"github.com/cwbudde/algo-arc/nn/conv2d"
	"github.com/cwbudde/algo-arc/nn/norm"
	"github.com/cwbudde/algo-arc/nn/routing"
	"github.com/cwbudde/algo-arc/nn/weightinit"
)

// attentionFloor is the minimum width of the attention bottleneck.
const attentionFloor = 32

// Config holds the geometry parameters of an AdaptiveRotatedConv.
type Config struct {
	Stride   int
	Padding  int
	Dilation int
	Groups   int

	RouterOpts []routing.Option
}

// DefaultConfig returns the configuration used when no options are given:
// stride 1, same padding for a 3x3 kernel, dilation 1, one group.
func DefaultConfig() Config {
	return Config{Stride: 1, Padding: 1, Dilation: 1, Groups: 1}
}

// Option modifies the layer configuration.
type Option func(*Config)

// WithStride sets the convolution stride in both dimensions.
func WithStride(stride int) Option {
	return func(c *Config) { c.Stride = stride }
}

// WithPadding sets the symmetric zero padding in both dimensions.
func WithPadding(padding int) Option {
	return func(c *Config) { c.Padding = padding }
}

// WithDilation sets the kernel dilation in both dimensions.
func WithDilation(dilation int) Option {
	return func(c *Config) { c.Dilation = dilation }
}

// WithGroups sets the channel group count of the convolution itself. The
// batch folding multiplies it further at execution time.
func WithGroups(groups int) Option {
	return func(c *Config) { c.Groups = groups }
}

// WithRouterOptions forwards options to the internal routing network.
func WithRouterOptions(opts ...routing.Option) Option {
	return func(c *Config) { c.RouterOpts = append(c.RouterOpts, opts...) }
}

// AdaptiveRotatedConv is a 3x3 convolution whose weights are synthesized
// per sample by rotating and gating a shared kernel bank.
type AdaptiveRotatedConv struct {
	inChannels  int
	outChannels int
	variants    int
	cfg         Config
	bottleneck  int

	Bank   *KernelBank
	Router *routing.Router

	// Channel attention head: 1x1 reduce, batch norm, rectify, 1x1 expand,
	// softmax over the variant axis. ReduceWeight is (bottleneck,
	// outChannels) row-major and ExpandWeight (variants*outChannels,
	// bottleneck), both without bias.
	ReduceWeight []float64
	AttnNorm     *norm.BatchNorm2D
	ExpandWeight []float64
}

// New creates an AdaptiveRotatedConv mapping inChannels to outChannels
// with the given number of kernel variants. All parameters are initialized
// from rng; pass a seeded source for reproducible layers.
func New(inChannels, outChannels, variants int, rng *rand.Rand, opts ...Option) (*AdaptiveRotatedConv, error) {
	if variants < 1 {
		return nil, fmt.Errorf("%w: variants %d must be at least 1", ErrInvalidConfig, variants)
	}
	if inChannels <= 0 || outChannels <= 0 {
		return nil, fmt.Errorf("%w: channels (%d in, %d out) must be positive",
			ErrInvalidConfig, inChannels, outChannels)
	}
	if rng == nil {
		return nil, fmt.Errorf("%w: rng must not be nil", ErrInvalidConfig)
	}

	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Stride <= 0 || cfg.Dilation <= 0 || cfg.Padding < 0 || cfg.Groups <= 0 {
		return nil, fmt.Errorf("%w: stride %d, padding %d, dilation %d, groups %d",
			ErrInvalidConfig, cfg.Stride, cfg.Padding, cfg.Dilation, cfg.Groups)
	}
	if inChannels%cfg.Groups != 0 || outChannels%cfg.Groups != 0 {
		return nil, fmt.Errorf("%w: channels (%d in, %d out) not divisible by %d groups",
			ErrShapeMismatch, inChannels, outChannels, cfg.Groups)
	}

	bank, err := NewKernelBank(variants, outChannels, inChannels/cfg.Groups, rng)
	if err != nil {
		return nil, err
	}
	router, err := routing.NewRouter(inChannels, variants, rng, cfg.RouterOpts...)
	if err != nil {
		return nil, err
	}

	d := outChannels / 16
	if d < attentionFloor {
		d = attentionFloor
	}
	attnNorm, err := norm.NewBatchNorm2D(d)
	if err != nil {
		return nil, err
	}

	layer := &AdaptiveRotatedConv{
		inChannels:   inChannels,
		outChannels:  outChannels,
		variants:     variants,
		cfg:          cfg,
		bottleneck:   d,
		Bank:         bank,
		Router:       router,
		ReduceWeight: make([]float64, d*outChannels),
		AttnNorm:     attnNorm,
		ExpandWeight: make([]float64, variants*outChannels*d),
	}

	if err := weightinit.KaimingNormal(rng, layer.ReduceWeight, d, 1, 1); err != nil {
		return nil, err
	}
	if err := weightinit.KaimingNormal(rng, layer.ExpandWeight, variants*outChannels, 1, 1); err != nil {
		return nil, err
	}

	return layer, nil
}

// InChannels returns the expected input channel count.
func (l *AdaptiveRotatedConv) InChannels() int { return l.inChannels }

// OutChannels returns the produced output channel count.
func (l *AdaptiveRotatedConv) OutChannels() int { return l.outChannels }

// Variants returns the kernel variant count.
func (l *AdaptiveRotatedConv) Variants() int { return l.variants }

// OutputSize returns the spatial output size for an input of the given size.
func (l *AdaptiveRotatedConv) OutputSize(height, width int) (outH, outW int) {
	g := conv2d.Geom{Height: height, Width: width, KernelH: 3, KernelW: 3}
	return conv2d.OutputSize(g, conv2d.ApplyOptions(
		conv2d.WithStride(l.cfg.Stride),
		conv2d.WithPadding(l.cfg.Padding),
		conv2d.WithDilation(l.cfg.Dilation)))
}

// Train puts the routing network and the attention norm in training mode.
func (l *AdaptiveRotatedConv) Train() {
	l.Router.Train()
	l.AttnNorm.Train()
}

// Eval puts the layer in inference mode, making Forward deterministic.
func (l *AdaptiveRotatedConv) Eval() {
	l.Router.Eval()
	l.AttnNorm.Eval()
}

// Forward convolves a batch of NCHW feature maps with per-sample
// synthesized weights and returns a (batch, outChannels, H', W') tensor.
func (l *AdaptiveRotatedConv) Forward(x []float64, batch, height, width int) ([]float64, error) {
	gates, angles, err := l.Router.Forward(x, batch, height, width)
	if err != nil {
		return nil, err
	}
	return l.ForwardWith(x, gates, angles, batch, height, width)
}

// ForwardWith runs the convolution and attention stages with externally
// supplied gates and angles, bypassing the routing network. Both slices
// hold one value per (sample, variant).
func (l *AdaptiveRotatedConv) ForwardWith(x, gates, angles []float64, batch, height, width int) ([]float64, error) {
	if len(x) == 0 {
		return nil, ErrEmptyInput
	}
	hw := height * width
	if len(x) != batch*l.inChannels*hw {
		return nil, fmt.Errorf("%w: have %d values, need %d*%d*%d*%d",
			ErrShapeMismatch, len(x), batch, l.inChannels, height, width)
	}

	weights, err := SynthesizeWeights(l.Bank, gates, angles, batch)
	if err != nil {
		return nil, err
	}

	// Fold the batch and variant axes into the group dimension so one
	// grouped convolution applies every per-sample weight.
	n := l.variants
	folded := make([]float64, batch*n*l.inChannels*hw)
	for b := 0; b < batch; b++ {
		sample := x[b*l.inChannels*hw : (b+1)*l.inChannels*hw]
		for i := 0; i < n; i++ {
			copy(folded[(b*n+i)*l.inChannels*hw:], sample)
		}
	}

	g := conv2d.Geom{
		Batch: 1, InChannels: batch * n * l.inChannels, Height: height, Width: width,
		OutChannels: batch * n * l.outChannels, KernelH: 3, KernelW: 3,
	}
	variantOut, err := conv2d.GEMM(folded, weights, g,
		conv2d.WithStride(l.cfg.Stride),
		conv2d.WithPadding(l.cfg.Padding),
		conv2d.WithDilation(l.cfg.Dilation),
		conv2d.WithGroups(l.cfg.Groups*batch*n))
	if err != nil {
		return nil, err
	}

	outH, outW := l.OutputSize(height, width)
	attn, err := l.attention(variantOut, batch, outH*outW)
	if err != nil {
		return nil, err
	}

	// Blend the variant outputs with their attention weights.
	outHW := outH * outW
	out := make([]float64, batch*l.outChannels*outHW)
	for b := 0; b < batch; b++ {
		for i := 0; i < n; i++ {
			for co := 0; co < l.outChannels; co++ {
				src := variantOut[((b*n+i)*l.outChannels+co)*outHW : ((b*n+i)*l.outChannels+co+1)*outHW]
				dstPlane := out[(b*l.outChannels+co)*outHW : (b*l.outChannels+co+1)*outHW]
				vecmath.ScaleAddBlock(dstPlane, src, attn[(b*n+i)*l.outChannels+co])
			}
		}
	}

	return out, nil
}

// attention computes one softmax weight per (sample, variant, channel)
// from the variant outputs, shaped (batch*variants*outChannels).
func (l *AdaptiveRotatedConv) attention(variantOut []float64, batch, outHW int) ([]float64, error) {
	n := l.variants

	// Sum over variants, then pool spatially to a channel descriptor.
	pooled := make([]float64, batch*l.outChannels)
	for b := 0; b < batch; b++ {
		for co := 0; co < l.outChannels; co++ {
			sum := 0.0
			for i := 0; i < n; i++ {
				sum += vecmath.Sum(variantOut[((b*n+i)*l.outChannels+co)*outHW : ((b*n+i)*l.outChannels+co+1)*outHW])
			}
			pooled[b*l.outChannels+co] = sum / float64(outHW)
		}
	}

	// 1x1 reduce, norm, rectify.
	reduced := make([]float64, batch*l.bottleneck)
	rd := mat.NewDense(batch, l.bottleneck, reduced)
	rd.Mul(mat.NewDense(batch, l.outChannels, pooled),
		mat.NewDense(l.bottleneck, l.outChannels, l.ReduceWeight).T())
	if err := l.AttnNorm.ForwardTo(reduced, reduced, batch, 1, 1); err != nil {
		return nil, err
	}
	for i, v := range reduced {
		if v < 0 {
			reduced[i] = 0
		}
	}

	// 1x1 expand to (batch, variants*outChannels).
	expanded := make([]float64, batch*n*l.outChannels)
	ed := mat.NewDense(batch, n*l.outChannels, expanded)
	ed.Mul(mat.NewDense(batch, l.bottleneck, reduced),
		mat.NewDense(n*l.outChannels, l.bottleneck, l.ExpandWeight).T())

	// Softmax over the variant axis for every (sample, channel).
	for b := 0; b < batch; b++ {
		for co := 0; co < l.outChannels; co++ {
			maxV := math.Inf(-1)
			for i := 0; i < n; i++ {
				if v := expanded[(b*n+i)*l.outChannels+co]; v > maxV {
					maxV = v
				}
			}
			sum := 0.0
			for i := 0; i < n; i++ {
				e := math.Exp(expanded[(b*n+i)*l.outChannels+co] - maxV)
				expanded[(b*n+i)*l.outChannels+co] = e
				sum += e
			}
			for i := 0; i < n; i++ {
				expanded[(b*n+i)*l.outChannels+co] /= sum
			}
		}
	}

	return expanded, nil
}
