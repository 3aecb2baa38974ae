package conv2d

import (
	"fmt"

	algofft "github.com/MeKo-Christian/algo-fft"
)

// Spectral performs 2D convolution in the frequency domain.
//
// The input is zero-embedded at its padding offset, transformed once per
// channel, multiplied against the conjugated kernel spectra, and accumulated
// per output channel before a single inverse transform. This trades memory
// for a runtime independent of kernel area, which pays off for large kernels.
//
// Only stride 1 and dilation 1 are supported; other configurations return
// ErrUnsupported. Grouped convolution is handled per (sample, group).
func Spectral(x, weight []float64, g Geom, opts ...Option) ([]float64, error) {
	cfg := ApplyOptions(opts...)
	outH, outW, err := validate(x, weight, g, cfg)
	if err != nil {
		return nil, err
	}
	dst := make([]float64, g.Batch*g.OutChannels*outH*outW)
	if err := spectralTo(dst, x, weight, g, cfg, outH, outW); err != nil {
		return nil, err
	}
	return dst, nil
}

// SpectralTo is the preallocated variant of Spectral. dst must hold
// Batch*OutChannels*outH*outW values for the configured geometry.
func SpectralTo(dst, x, weight []float64, g Geom, cfg Config) error {
	outH, outW, err := validate(x, weight, g, cfg)
	if err != nil {
		return err
	}
	if len(dst) != g.Batch*g.OutChannels*outH*outW {
		return fmt.Errorf("%w: dst has %d values, need %d", ErrLengthMismatch,
			len(dst), g.Batch*g.OutChannels*outH*outW)
	}
	return spectralTo(dst, x, weight, g, cfg, outH, outW)
}

func spectralTo(dst, x, weight []float64, g Geom, cfg Config, outH, outW int) error {
	if cfg.StrideH != 1 || cfg.StrideW != 1 || cfg.DilationH != 1 || cfg.DilationW != 1 {
		return fmt.Errorf("%w: spectral path requires stride=1 and dilation=1", ErrUnsupported)
	}

	fftH := nextPowerOf2(g.Height + 2*cfg.PadH)
	fftW := nextPowerOf2(g.Width + 2*cfg.PadW)

	ft, err := newFFT2(fftH, fftW)
	if err != nil {
		return err
	}

	inPerGroup := g.InChannels / cfg.Groups
	outPerGroup := g.OutChannels / cfg.Groups
	inHW := g.Height * g.Width
	outHW := outH * outW
	kHW := g.KernelH * g.KernelW
	fftHW := fftH * fftW

	kernelSpectra := make([]complex128, outPerGroup*inPerGroup*fftHW)
	inputSpectra := make([]complex128, inPerGroup*fftHW)
	acc := make([]complex128, fftHW)

	for grp := 0; grp < cfg.Groups; grp++ {
		// Kernel spectra for this group, shared across the batch.
		for ocg := 0; ocg < outPerGroup; ocg++ {
			for ic := 0; ic < inPerGroup; ic++ {
				spec := kernelSpectra[(ocg*inPerGroup+ic)*fftHW : (ocg*inPerGroup+ic+1)*fftHW]
				kBase := ((grp*outPerGroup+ocg)*inPerGroup + ic) * kHW
				embedReal(spec, weight[kBase:kBase+kHW], g.KernelH, g.KernelW, fftW, 0, 0)
				if err := ft.forward(spec); err != nil {
					return err
				}
			}
		}

		for b := 0; b < g.Batch; b++ {
			for ic := 0; ic < inPerGroup; ic++ {
				spec := inputSpectra[ic*fftHW : (ic+1)*fftHW]
				inBase := (b*g.InChannels + grp*inPerGroup + ic) * inHW
				embedReal(spec, x[inBase:inBase+inHW], g.Height, g.Width, fftW, cfg.PadH, cfg.PadW)
				if err := ft.forward(spec); err != nil {
					return err
				}
			}

			for ocg := 0; ocg < outPerGroup; ocg++ {
				for i := range acc {
					acc[i] = 0
				}
				// Correlation in the spatial domain is a conjugate product
				// in the frequency domain.
				for ic := 0; ic < inPerGroup; ic++ {
					xs := inputSpectra[ic*fftHW : (ic+1)*fftHW]
					ks := kernelSpectra[(ocg*inPerGroup+ic)*fftHW : (ocg*inPerGroup+ic+1)*fftHW]
					for i := range acc {
						kc := ks[i]
						acc[i] += xs[i] * complex(real(kc), -imag(kc))
					}
				}
				if err := ft.inverse(acc); err != nil {
					return err
				}

				oc := grp*outPerGroup + ocg
				outBase := (b*g.OutChannels + oc) * outHW
				for oy := 0; oy < outH; oy++ {
					for ox := 0; ox < outW; ox++ {
						dst[outBase+oy*outW+ox] = real(acc[oy*fftW+ox])
					}
				}
			}
		}
	}

	return nil
}

// embedReal clears dst (a fftH*fftW complex plane, row stride fftW) and
// copies an h-by-w real plane into it at offset (offY, offX).
func embedReal(dst []complex128, src []float64, h, w, fftW, offY, offX int) {
	for i := range dst {
		dst[i] = 0
	}
	for y := 0; y < h; y++ {
		rowDst := (y + offY) * fftW
		rowSrc := y * w
		for x := 0; x < w; x++ {
			dst[rowDst+offX+x] = complex(src[rowSrc+x], 0)
		}
	}
}

// fft2 applies 2D transforms as row passes followed by column passes.
type fft2 struct {
	h, w   int
	planH  *algofft.Plan[complex128]
	planW  *algofft.Plan[complex128]
	column []complex128
}

func newFFT2(h, w int) (*fft2, error) {
	planH, err := algofft.NewPlan64(h)
	if err != nil {
		return nil, fmt.Errorf("conv2d: failed to create FFT plan: %w", err)
	}
	planW, err := algofft.NewPlan64(w)
	if err != nil {
		return nil, fmt.Errorf("conv2d: failed to create FFT plan: %w", err)
	}
	return &fft2{h: h, w: w, planH: planH, planW: planW, column: make([]complex128, h)}, nil
}

func (ft *fft2) forward(buf []complex128) error {
	return ft.apply(buf, ft.planW.Forward, ft.planH.Forward)
}

func (ft *fft2) inverse(buf []complex128) error {
	return ft.apply(buf, ft.planW.Inverse, ft.planH.Inverse)
}

func (ft *fft2) apply(buf []complex128, rowPass, colPass func(dst, src []complex128) error) error {
	for y := 0; y < ft.h; y++ {
		row := buf[y*ft.w : (y+1)*ft.w]
		if err := rowPass(row, row); err != nil {
			return fmt.Errorf("conv2d: FFT row pass failed: %w", err)
		}
	}
	for x := 0; x < ft.w; x++ {
		for y := 0; y < ft.h; y++ {
			ft.column[y] = buf[y*ft.w+x]
		}
		if err := colPass(ft.column, ft.column); err != nil {
			return fmt.Errorf("conv2d: FFT column pass failed: %w", err)
		}
		for y := 0; y < ft.h; y++ {
			buf[y*ft.w+x] = ft.column[y]
		}
	}
	return nil
}

// nextPowerOf2 returns the next power of 2 >= n.
func nextPowerOf2(n int) int {
	if n <= 1 {
		return 1
	}
	p := 1
	for p < n {
		p *= 2
	}
	return p
}
