package conv2d

import (
	"errors"
	"fmt"
	"sync"
)

// Errors returned by convolution functions.
var (
	ErrEmptyInput     = errors.New("conv2d: empty input")
	ErrEmptyKernel    = errors.New("conv2d: empty kernel")
	ErrShapeMismatch  = errors.New("conv2d: shape mismatch")
	ErrInvalidConfig  = errors.New("conv2d: invalid configuration")
	ErrInvalidGeom    = errors.New("conv2d: invalid geometry")
	ErrUnsupported    = errors.New("conv2d: unsupported configuration for this strategy")
	ErrLengthMismatch = errors.New("conv2d: buffer length mismatch")
)

// Geom describes the shapes taking part in a convolution.
type Geom struct {
	Batch      int // number of samples
	InChannels int // channels of the input map
	Height     int // input height
	Width      int // input width

	OutChannels int // channels of the output map
	KernelH     int // kernel height
	KernelW     int // kernel width
}

// Config defines stride, padding, dilation, grouping, and parallelism.
type Config struct {
	StrideH, StrideW     int
	PadH, PadW           int
	DilationH, DilationW int
	Groups               int

	// Workers is the maximum number of goroutines sharding independent
	// output channels. 0 or 1 means sequential execution.
	Workers int
}

// Option mutates a Config.
type Option func(*Config)

// DefaultConfig returns a unit-stride, unpadded, ungrouped configuration.
func DefaultConfig() Config {
	return Config{
		StrideH: 1, StrideW: 1,
		DilationH: 1, DilationW: 1,
		Groups: 1,
	}
}

// WithStride sets both stride dimensions.
func WithStride(stride int) Option {
	return func(cfg *Config) {
		if stride > 0 {
			cfg.StrideH = stride
			cfg.StrideW = stride
		}
	}
}

// WithPadding sets both padding dimensions.
func WithPadding(padding int) Option {
	return func(cfg *Config) {
		if padding >= 0 {
			cfg.PadH = padding
			cfg.PadW = padding
		}
	}
}

// WithDilation sets both dilation dimensions.
func WithDilation(dilation int) Option {
	return func(cfg *Config) {
		if dilation > 0 {
			cfg.DilationH = dilation
			cfg.DilationW = dilation
		}
	}
}

// WithGroups sets the group count. InChannels and OutChannels must both be
// divisible by it.
func WithGroups(groups int) Option {
	return func(cfg *Config) {
		if groups > 0 {
			cfg.Groups = groups
		}
	}
}

// WithWorkers sets the maximum number of goroutines used to shard output
// channels. Values <= 1 disable parallelism.
func WithWorkers(workers int) Option {
	return func(cfg *Config) {
		if workers >= 0 {
			cfg.Workers = workers
		}
	}
}

// ApplyOptions applies zero or more options to the default config.
func ApplyOptions(opts ...Option) Config {
	cfg := DefaultConfig()
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	return cfg
}

// OutputSize returns the output spatial dimensions for g under cfg, following
// the standard convolution size formula.
func OutputSize(g Geom, cfg Config) (outH, outW int) {
	outH = (g.Height+2*cfg.PadH-cfg.DilationH*(g.KernelH-1)-1)/cfg.StrideH + 1
	outW = (g.Width+2*cfg.PadW-cfg.DilationW*(g.KernelW-1)-1)/cfg.StrideW + 1
	return outH, outW
}

// validate checks geometry, configuration, and backing-slice lengths.
// Returns the output spatial dimensions on success.
func validate(x, weight []float64, g Geom, cfg Config) (outH, outW int, err error) {
	if len(x) == 0 {
		return 0, 0, ErrEmptyInput
	}
	if len(weight) == 0 {
		return 0, 0, ErrEmptyKernel
	}
	if g.Batch <= 0 || g.InChannels <= 0 || g.Height <= 0 || g.Width <= 0 ||
		g.OutChannels <= 0 || g.KernelH <= 0 || g.KernelW <= 0 {
		return 0, 0, fmt.Errorf("%w: non-positive dimension in %+v", ErrInvalidGeom, g)
	}
	if cfg.StrideH <= 0 || cfg.StrideW <= 0 || cfg.DilationH <= 0 || cfg.DilationW <= 0 ||
		cfg.Groups <= 0 || cfg.PadH < 0 || cfg.PadW < 0 {
		return 0, 0, fmt.Errorf("%w: %+v", ErrInvalidConfig, cfg)
	}
	if g.InChannels%cfg.Groups != 0 {
		return 0, 0, fmt.Errorf("%w: in_channels %d not divisible by groups %d",
			ErrShapeMismatch, g.InChannels, cfg.Groups)
	}
	if g.OutChannels%cfg.Groups != 0 {
		return 0, 0, fmt.Errorf("%w: out_channels %d not divisible by groups %d",
			ErrShapeMismatch, g.OutChannels, cfg.Groups)
	}
	if want := g.Batch * g.InChannels * g.Height * g.Width; len(x) != want {
		return 0, 0, fmt.Errorf("%w: input length %d, want %d", ErrShapeMismatch, len(x), want)
	}
	inPerGroup := g.InChannels / cfg.Groups
	if want := g.OutChannels * inPerGroup * g.KernelH * g.KernelW; len(weight) != want {
		return 0, 0, fmt.Errorf("%w: weight length %d, want %d", ErrShapeMismatch, len(weight), want)
	}

	outH, outW = OutputSize(g, cfg)
	if outH <= 0 || outW <= 0 {
		return 0, 0, fmt.Errorf("%w: non-positive output size %dx%d", ErrShapeMismatch, outH, outW)
	}
	return outH, outW, nil
}

// Direct performs grouped 2D convolution with straightforward nested loops.
// Returns a new NCHW slice of length Batch*OutChannels*outH*outW.
func Direct(x, weight []float64, g Geom, opts ...Option) ([]float64, error) {
	cfg := ApplyOptions(opts...)
	outH, outW, err := validate(x, weight, g, cfg)
	if err != nil {
		return nil, err
	}

	dst := make([]float64, g.Batch*g.OutChannels*outH*outW)
	directTo(dst, x, weight, g, cfg, outH, outW)
	return dst, nil
}

// DirectTo performs grouped 2D convolution into a pre-allocated destination.
// dst must have length Batch*OutChannels*outH*outW.
func DirectTo(dst, x, weight []float64, g Geom, cfg Config) error {
	outH, outW, err := validate(x, weight, g, cfg)
	if err != nil {
		return err
	}
	if want := g.Batch * g.OutChannels * outH * outW; len(dst) != want {
		return fmt.Errorf("%w: dst length %d, want %d", ErrLengthMismatch, len(dst), want)
	}
	directTo(dst, x, weight, g, cfg, outH, outW)
	return nil
}

func directTo(dst, x, weight []float64, g Geom, cfg Config, outH, outW int) {
	inPerGroup := g.InChannels / cfg.Groups
	outPerGroup := g.OutChannels / cfg.Groups
	patchLen := inPerGroup * g.KernelH * g.KernelW
	inHW := g.Height * g.Width
	outHW := outH * outW

	// The (b, oc) pairs are independent: each writes a disjoint output plane
	// and only reads shared input and weights.
	planes := g.Batch * g.OutChannels
	parallelFor(planes, cfg.Workers, func(lo, hi int) {
		for plane := lo; plane < hi; plane++ {
			b := plane / g.OutChannels
			oc := plane % g.OutChannels
			grp := oc / outPerGroup
			icBase := grp * inPerGroup
			wBase := oc * patchLen
			outBase := plane * outHW

			for oy := 0; oy < outH; oy++ {
				for ox := 0; ox < outW; ox++ {
					sum := 0.0
					for ic := 0; ic < inPerGroup; ic++ {
						inBase := (b*g.InChannels + icBase + ic) * inHW
						kBase := wBase + ic*g.KernelH*g.KernelW
						for ky := 0; ky < g.KernelH; ky++ {
							iy := oy*cfg.StrideH - cfg.PadH + ky*cfg.DilationH
							if iy < 0 || iy >= g.Height {
								continue
							}
							rowBase := inBase + iy*g.Width
							kRow := kBase + ky*g.KernelW
							for kx := 0; kx < g.KernelW; kx++ {
								ix := ox*cfg.StrideW - cfg.PadW + kx*cfg.DilationW
								if ix < 0 || ix >= g.Width {
									continue
								}
								sum += x[rowBase+ix] * weight[kRow+kx]
							}
						}
					}
					dst[outBase+oy*outW+ox] = sum
				}
			}
		}
	})
}

// parallelFor splits the range [0, n) into chunks and runs fn(lo, hi)
// concurrently. When workers <= 1 the call is sequential (no goroutines).
func parallelFor(n, workers int, fn func(lo, hi int)) {
	if workers <= 1 || n <= 1 {
		fn(0, n)
		return
	}
	if workers > n {
		workers = n
	}

	var wg sync.WaitGroup
	chunk := (n + workers - 1) / workers
	for lo := 0; lo < n; lo += chunk {
		hi := min(lo+chunk, n)
		wg.Add(1)
		go func(lo, hi int) {
			defer wg.Done()
			fn(lo, hi)
		}(lo, hi)
	}
	wg.Wait()
}
