// Package routing predicts per-sample kernel gates and rotation angles
// from input feature maps.
//
// A Router condenses each sample into a channel descriptor through a
// depthwise 3x3 convolution, channel normalization, rectification and
// global average pooling, then maps the descriptor through two small
// linear heads. The gate head ends in a sigmoid, so gates lie in (0, 1);
// the angle head ends in a softsign scaled to the configured angle bound.
package routing

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/mat"

	"github.com/cwbudde/algo-arc/internal/vecmath"
	"github.com/cwbudde/algo-arc/nn/conv2d"
	"github.com/cwbudde/algo-arc/nn/norm"
	"github.com/cwbudde/algo-arc/nn/weightinit"
)

var (
	// ErrEmptyInput is returned when the input tensor is empty.
	ErrEmptyInput = errors.New("routing: input tensor is empty")

	// ErrShapeMismatch is returned when the input length does not match the
	// declared geometry.
	ErrShapeMismatch = errors.New("routing: tensor length does not match geometry")

	// ErrInvalidConfig is returned for invalid construction parameters.
	ErrInvalidConfig = errors.New("routing: invalid configuration")
)

const (
	// DefaultDropout is the dropout rate applied before each linear head
	// in training mode.
	DefaultDropout = 0.2

	// DefaultMaxAngleDeg bounds the predicted rotation angle in degrees.
	// Rotations beyond 45 degrees alias on a 3x3 grid, so the default
	// stays safely below that.
	DefaultMaxAngleDeg = 40.0

	initStd = 0.02
)

// Config holds the tunable parameters of a Router.
type Config struct {
	Dropout     float64
	MaxAngleDeg float64
}

// DefaultConfig returns the configuration used when no options are given.
func DefaultConfig() Config {
	return Config{
		Dropout:     DefaultDropout,
		MaxAngleDeg: DefaultMaxAngleDeg,
	}
}

// Option modifies the router configuration.
type Option func(*Config)

// WithDropout sets the dropout rate in [0, 1) used during training.
func WithDropout(rate float64) Option {
	return func(c *Config) {
		c.Dropout = rate
	}
}

// WithMaxAngle sets the angle bound in degrees.
func WithMaxAngle(degrees float64) Option {
	return func(c *Config) {
		c.MaxAngleDeg = degrees
	}
}

// Router predicts gates and angles for a fixed number of kernel variants.
type Router struct {
	inChannels int
	variants   int
	dropout    float64
	maxAngle   float64
	training   bool
	rng        *rand.Rand

	// DepthwiseWeight holds the 3x3 depthwise filter taps, one per input
	// channel (inChannels*9 values).
	DepthwiseWeight []float64

	// Norm normalizes the depthwise output across channels per position.
	Norm *norm.ChannelNorm

	// GateWeight is (variants, inChannels) row-major; GateBias has one
	// value per variant. AngleWeight is (variants, inChannels) row-major
	// and has no bias, so a zero descriptor maps to a zero angle.
	GateWeight  []float64
	GateBias    []float64
	AngleWeight []float64
}

// NewRouter creates a Router for the given channel count and number of
// kernel variants. Weights are drawn from a truncated normal with standard
// deviation 0.02 using rng, which is also the dropout source in training.
func NewRouter(inChannels, variants int, rng *rand.Rand, opts ...Option) (*Router, error) {
	if inChannels <= 0 || variants <= 0 {
		return nil, fmt.Errorf("%w: inChannels %d and variants %d must be positive",
			ErrInvalidConfig, inChannels, variants)
	}
	if rng == nil {
		return nil, fmt.Errorf("%w: rng must not be nil", ErrInvalidConfig)
	}

	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Dropout < 0 || cfg.Dropout >= 1 {
		return nil, fmt.Errorf("%w: dropout %v must be in [0, 1)", ErrInvalidConfig, cfg.Dropout)
	}
	if cfg.MaxAngleDeg <= 0 || cfg.MaxAngleDeg > 45 {
		return nil, fmt.Errorf("%w: max angle %v° must be in (0°, 45°]", ErrInvalidConfig, cfg.MaxAngleDeg)
	}

	cn, err := norm.NewChannelNorm(inChannels)
	if err != nil {
		return nil, err
	}

	r := &Router{
		inChannels:      inChannels,
		variants:        variants,
		dropout:         cfg.Dropout,
		maxAngle:        cfg.MaxAngleDeg / 180 * math.Pi,
		rng:             rng,
		DepthwiseWeight: make([]float64, inChannels*9),
		Norm:            cn,
		GateWeight:      make([]float64, variants*inChannels),
		GateBias:        make([]float64, variants),
		AngleWeight:     make([]float64, variants*inChannels),
	}

	if err := weightinit.TruncNormal(rng, r.DepthwiseWeight, initStd); err != nil {
		return nil, err
	}
	if err := weightinit.TruncNormal(rng, r.GateWeight, initStd); err != nil {
		return nil, err
	}
	if err := weightinit.TruncNormal(rng, r.AngleWeight, initStd); err != nil {
		return nil, err
	}

	return r, nil
}

// Variants returns the number of kernel variants the router predicts for.
func (r *Router) Variants() int { return r.variants }

// MaxAngle returns the angle bound in radians.
func (r *Router) MaxAngle() float64 { return r.maxAngle }

// Train enables dropout.
func (r *Router) Train() { r.training = true }

// Eval disables dropout, making Forward deterministic.
func (r *Router) Eval() { r.training = false }

// Training reports whether the router is in training mode.
func (r *Router) Training() bool { return r.training }

// Forward routes a batch of NCHW feature maps and returns one gate and one
// angle per (sample, variant), both batch*variants long. Gates lie in
// (0, 1) and angles in (-MaxAngle, MaxAngle).
func (r *Router) Forward(x []float64, batch, height, width int) (gates, angles []float64, err error) {
	if len(x) == 0 {
		return nil, nil, ErrEmptyInput
	}
	hw := height * width
	if len(x) != batch*r.inChannels*hw {
		return nil, nil, fmt.Errorf("%w: have %d values, need %d*%d*%d*%d",
			ErrShapeMismatch, len(x), batch, r.inChannels, height, width)
	}

	g := conv2d.Geom{
		Batch: batch, InChannels: r.inChannels, Height: height, Width: width,
		OutChannels: r.inChannels, KernelH: 3, KernelW: 3,
	}
	features, err := conv2d.Direct(x, r.DepthwiseWeight, g,
		conv2d.WithPadding(1), conv2d.WithGroups(r.inChannels))
	if err != nil {
		return nil, nil, err
	}

	if err := r.Norm.ForwardTo(features, features, batch, height, width); err != nil {
		return nil, nil, err
	}
	for i, v := range features {
		if v < 0 {
			features[i] = 0
		}
	}

	// Global average pool to a (batch, inChannels) descriptor.
	pooled := make([]float64, batch*r.inChannels)
	for b := 0; b < batch; b++ {
		for c := 0; c < r.inChannels; c++ {
			sum := vecmath.Sum(features[(b*r.inChannels+c)*hw : (b*r.inChannels+c+1)*hw])
			pooled[b*r.inChannels+c] = sum / float64(hw)
		}
	}

	gates = r.head(pooled, batch, r.GateWeight, r.GateBias)
	for i, v := range gates {
		gates[i] = 1 / (1 + math.Exp(-v))
	}

	angles = r.head(pooled, batch, r.AngleWeight, nil)
	for i, v := range angles {
		angles[i] = v / (1 + math.Abs(v)) * r.maxAngle
	}

	return gates, angles, nil
}

// head applies dropout to a copy of the pooled descriptor and runs it
// through one linear head, returning a (batch, variants) tensor.
func (r *Router) head(pooled []float64, batch int, weight, bias []float64) []float64 {
	in := pooled
	if r.training && r.dropout > 0 {
		in = make([]float64, len(pooled))
		scale := 1 / (1 - r.dropout)
		for i, v := range pooled {
			if r.rng.Float64() >= r.dropout {
				in[i] = v * scale
			}
		}
	}

	out := make([]float64, batch*r.variants)
	dst := mat.NewDense(batch, r.variants, out)
	dst.Mul(mat.NewDense(batch, r.inChannels, in), mat.NewDense(r.variants, r.inChannels, weight).T())

	if bias != nil {
		for b := 0; b < batch; b++ {
			for v := 0; v < r.variants; v++ {
				out[b*r.variants+v] += bias[v]
			}
		}
	}

	return out
}
