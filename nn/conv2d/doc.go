// Package conv2d provides 2D convolution over NCHW feature maps.
//
// The package offers multiple execution strategies optimized for different
// shapes:
//
//   - Direct convolution: straightforward nested loops, best for small
//     feature maps and high group counts (including depthwise)
//   - GEMM convolution: im2col patch gathering followed by a dense matrix
//     multiply, efficient for the common 3x3-on-large-map case
//   - Spectral convolution: FFT-based frequency-domain execution for large
//     kernels at stride 1
//
// All strategies support strided, padded, dilated, and grouped convolution
// and produce identical results within floating tolerance.
//
// # Usage
//
// For one-shot convolution with automatic strategy selection:
//
//	out, err := conv2d.Convolve(x, weight, geom)
//
// To pin a strategy, call Direct, GEMM, or Spectral with the same arguments.
// Output spatial dimensions follow the standard convolution size formula and
// can be queried up front via OutputSize.
//
// # Layout
//
// Inputs are flat []float64 slices in NCHW order. Weights are laid out as
// (OutChannels, InChannels/Groups, KernelH, KernelW). There is no implicit
// batching trickery here: callers that fold batch into groups (see the arc
// package) simply pass Batch=1 and a larger group count.
package conv2d
