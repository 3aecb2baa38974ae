package conv2d

// Strategy-selection thresholds. Direct convolution wins on tiny outputs
// where im2col setup dominates; the spectral path only pays off once the
// kernel area is well past the GEMM sweet spot.
const (
	directOutputThreshold = 256 // output positions per plane
	spectralKernelArea    = 49  // kernel taps, i.e. 7x7 and up
)

// Convolve performs grouped 2D convolution with automatic strategy selection:
//
//   - tiny output planes use direct loops
//   - large kernels at unit stride/dilation use the spectral path
//   - everything else uses im2col + GEMM
//
// All strategies agree within floating tolerance; selection only affects
// performance.
func Convolve(x, weight []float64, g Geom, opts ...Option) ([]float64, error) {
	cfg := ApplyOptions(opts...)
	outH, outW, err := validate(x, weight, g, cfg)
	if err != nil {
		return nil, err
	}

	if outH*outW <= directOutputThreshold {
		dst := make([]float64, g.Batch*g.OutChannels*outH*outW)
		directTo(dst, x, weight, g, cfg, outH, outW)
		return dst, nil
	}

	if g.KernelH*g.KernelW >= spectralKernelArea &&
		cfg.StrideH == 1 && cfg.StrideW == 1 && cfg.DilationH == 1 && cfg.DilationW == 1 {
		return Spectral(x, weight, g, func(c *Config) { *c = cfg })
	}

	dst := make([]float64, g.Batch*g.OutChannels*outH*outW)
	gemmTo(dst, x, weight, g, cfg, outH, outW)
	return dst, nil
}
