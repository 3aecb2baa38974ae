// Package arc implements adaptive rotated convolution.
//
// An AdaptiveRotatedConv keeps a bank of learnable 3x3 kernel variants that
// is shared across samples. For every input sample a routing network
// predicts one gate and one rotation angle per variant, the bank is rotated
// and gated into per-sample weights, and a single grouped convolution
// applies all per-sample weights in one call by folding the batch into the
// group dimension. A channel attention head then blends the variant outputs
// back into one feature map per sample.
//
// The layer is a drop-in replacement for a standard 3x3 convolution: it
// accepts the same geometry parameters and produces the same output shape
// for any variant count.
//
// Forward passes are pure functions of the input and the current
// parameters. Concurrent forwards are safe as long as no parameter update
// runs at the same time; serializing updates against forwards is the
// caller's responsibility.
package arc
