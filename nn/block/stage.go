package block

import (
	"fmt"
	"math/rand/v2"
)

// Stage is a sequence of bottleneck blocks sharing one width. The first
// block applies the stage stride and projects the shortcut; the rest keep
// the resolution. The Plan decides per block index which 3x3 convolution
// kind is used.
type Stage struct {
	blocks []*Bottleneck
}

// NewStage creates count bottleneck blocks. inChannels feeds the first
// block; every further block consumes width*Expansion channels.
func NewStage(inChannels, width, count, stride int, plan Plan, variants int, rng *rand.Rand) (*Stage, error) {
	if count <= 0 {
		return nil, fmt.Errorf("%w: block count %d must be positive", ErrInvalidConfig, count)
	}

	blocks := make([]*Bottleneck, count)
	for i := range blocks {
		in, s := width*Expansion, 1
		if i == 0 {
			in, s = inChannels, stride
		}
		b, err := NewBottleneck(in, width, s, plan.Kind(i), variants, rng)
		if err != nil {
			return nil, fmt.Errorf("block %d: %w", i, err)
		}
		blocks[i] = b
	}
	return &Stage{blocks: blocks}, nil
}

// Blocks returns the blocks in execution order.
func (s *Stage) Blocks() []*Bottleneck { return s.blocks }

// OutChannels returns the channel count produced by the stage.
func (s *Stage) OutChannels() int { return s.blocks[len(s.blocks)-1].OutChannels() }

// OutputSize returns the spatial output size for an input of the given size.
func (s *Stage) OutputSize(height, width int) (outH, outW int) {
	outH, outW = height, width
	for _, b := range s.blocks {
		outH, outW = b.OutputSize(outH, outW)
	}
	return outH, outW
}

// Train puts every block in training mode.
func (s *Stage) Train() {
	for _, b := range s.blocks {
		b.Train()
	}
}

// Eval puts every block in inference mode.
func (s *Stage) Eval() {
	for _, b := range s.blocks {
		b.Eval()
	}
}

// Forward runs the blocks in order over a batch of NCHW feature maps.
func (s *Stage) Forward(x []float64, batch, height, width int) ([]float64, error) {
	out := x
	h, w := height, width
	for i, b := range s.blocks {
		var err error
		out, err = b.Forward(out, batch, h, w)
		if err != nil {
			return nil, fmt.Errorf("block %d: %w", i, err)
		}
		h, w = b.OutputSize(h, w)
	}
	return out, nil
}
