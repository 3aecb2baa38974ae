package conv2d

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// GEMM performs grouped 2D convolution by im2col patch gathering followed by
// a dense matrix multiply per (sample, group). This is the preferred strategy
// for small kernels on large feature maps.
func GEMM(x, weight []float64, g Geom, opts ...Option) ([]float64, error) {
	cfg := ApplyOptions(opts...)
	outH, outW, err := validate(x, weight, g, cfg)
	if err != nil {
		return nil, err
	}

	dst := make([]float64, g.Batch*g.OutChannels*outH*outW)
	gemmTo(dst, x, weight, g, cfg, outH, outW)
	return dst, nil
}

// GEMMTo performs im2col convolution into a pre-allocated destination.
func GEMMTo(dst, x, weight []float64, g Geom, cfg Config) error {
	outH, outW, err := validate(x, weight, g, cfg)
	if err != nil {
		return err
	}
	if want := g.Batch * g.OutChannels * outH * outW; len(dst) != want {
		return fmt.Errorf("%w: dst length %d, want %d", ErrLengthMismatch, len(dst), want)
	}
	gemmTo(dst, x, weight, g, cfg, outH, outW)
	return nil
}

func gemmTo(dst, x, weight []float64, g Geom, cfg Config, outH, outW int) {
	inPerGroup := g.InChannels / cfg.Groups
	outPerGroup := g.OutChannels / cfg.Groups
	patchLen := inPerGroup * g.KernelH * g.KernelW
	inHW := g.Height * g.Width
	outHW := outH * outW

	// The (b, grp) pairs are independent. Each needs its own patch matrix, so
	// scratch is allocated inside the shard.
	units := g.Batch * cfg.Groups
	parallelFor(units, cfg.Workers, func(lo, hi int) {
		patches := make([]float64, patchLen*outHW)
		for unit := lo; unit < hi; unit++ {
			b := unit / cfg.Groups
			grp := unit % cfg.Groups

			// im2col: row r = (ic*KH+ky)*KW+kx, column c = oy*outW+ox.
			// Iterating output positions in the inner loop keeps writes
			// sequential within each row.
			for i := range patches {
				patches[i] = 0
			}
			for ic := 0; ic < inPerGroup; ic++ {
				inBase := (b*g.InChannels + grp*inPerGroup + ic) * inHW
				for ky := 0; ky < g.KernelH; ky++ {
					for kx := 0; kx < g.KernelW; kx++ {
						row := ((ic*g.KernelH+ky)*g.KernelW + kx) * outHW
						for oy := 0; oy < outH; oy++ {
							iy := oy*cfg.StrideH - cfg.PadH + ky*cfg.DilationH
							if iy < 0 || iy >= g.Height {
								continue
							}
							rowBase := inBase + iy*g.Width
							dstRow := row + oy*outW
							for ox := 0; ox < outW; ox++ {
								ix := ox*cfg.StrideW - cfg.PadW + kx*cfg.DilationW
								if ix < 0 || ix >= g.Width {
									continue
								}
								patches[dstRow+ox] = x[rowBase+ix]
							}
						}
					}
				}
			}

			// GEMM: weights (outPerGroup, patchLen) x patches (patchLen, outHW)
			// lands directly in the contiguous output region of this group.
			wg := mat.NewDense(outPerGroup, patchLen,
				weight[grp*outPerGroup*patchLen:(grp+1)*outPerGroup*patchLen])
			pm := mat.NewDense(patchLen, outHW, patches)
			outBase := (b*g.OutChannels + grp*outPerGroup) * outHW
			om := mat.NewDense(outPerGroup, outHW, dst[outBase:outBase+outPerGroup*outHW])
			om.Mul(wg, pm)
		}
	})
}
