package arc

import (
	"errors"
	"math"
	"math/rand/v2"
	"testing"

	"github.com/cwbudde/algo-arc/internal/testutil"
	"github.com/cwbudde/algo-arc/nn/conv2d"
)

func newTestLayer(t *testing.T, cin, cout, variants int, opts ...Option) *AdaptiveRotatedConv {
	t.Helper()
	l, err := New(cin, cout, variants, rand.New(rand.NewPCG(99, 99)), opts...)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return l
}

func TestSingleVariantEqualsPlainConv(t *testing.T) {
	// With one variant, gate 1 and angle 0 the layer must reduce to an
	// ordinary convolution with the bank's only kernel. The attention
	// softmax over a single variant is exactly 1.
	const batch, cin, cout, hw = 2, 4, 4, 5
	l := newTestLayer(t, cin, cout, 1)

	x := testutil.DeterministicTensor(5, 1.0, batch*cin*hw*hw)
	gates := testutil.Ones(batch)
	angles := make([]float64, batch)

	got, err := l.ForwardWith(x, gates, angles, batch, hw, hw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	g := conv2d.Geom{
		Batch: batch, InChannels: cin, Height: hw, Width: hw,
		OutChannels: cout, KernelH: 3, KernelW: 3,
	}
	want, err := conv2d.GEMM(x, l.Bank.Variant(0), g, conv2d.WithPadding(1))
	if err != nil {
		t.Fatalf("plain conv failed: %v", err)
	}
	testutil.RequireSliceNearlyEqual(t, got, want, 1e-10)
}

func TestOutputShapeContract(t *testing.T) {
	tests := []struct {
		name         string
		variants     int
		batch        int
		opts         []Option
		h, w         int
		wantH, wantW int
	}{
		{"n=1 same", 1, 1, nil, 6, 6, 6, 6},
		{"n=2 same", 2, 3, nil, 6, 7, 6, 7},
		{"n=4 stride 2", 4, 2, []Option{WithStride(2)}, 5, 5, 3, 3},
		{"n=2 dilation 2", 2, 1, []Option{WithPadding(2), WithDilation(2)}, 8, 8, 8, 8},
	}

	const cin, cout = 4, 6
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := newTestLayer(t, cin, cout, tt.variants, tt.opts...)
			x := testutil.DeterministicTensor(6, 1.0, tt.batch*cin*tt.h*tt.w)

			out, err := l.Forward(x, tt.batch, tt.h, tt.w)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(out) != tt.batch*cout*tt.wantH*tt.wantW {
				t.Errorf("got %d values, want %d*%d*%d*%d",
					len(out), tt.batch, cout, tt.wantH, tt.wantW)
			}
			if outH, outW := l.OutputSize(tt.h, tt.w); outH != tt.wantH || outW != tt.wantW {
				t.Errorf("OutputSize = (%d, %d), want (%d, %d)", outH, outW, tt.wantH, tt.wantW)
			}
			testutil.RequireFinite(t, out)
		})
	}
}

func TestForwardDeterministicInEval(t *testing.T) {
	const batch, cin, cout, hw = 2, 4, 4, 6
	l := newTestLayer(t, cin, cout, 3)
	l.Eval()

	x := testutil.DeterministicTensor(8, 1.5, batch*cin*hw*hw)
	out1, err := l.Forward(x, batch, hw, hw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	out2, err := l.Forward(x, batch, hw, hw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	testutil.RequireSliceNearlyEqual(t, out2, out1, 0)
}

func TestGroupedForward(t *testing.T) {
	const batch, cin, cout, hw = 2, 4, 4, 5
	l := newTestLayer(t, cin, cout, 2, WithGroups(2))

	x := testutil.DeterministicTensor(9, 1.0, batch*cin*hw*hw)
	out, err := l.Forward(x, batch, hw, hw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out) != batch*cout*hw*hw {
		t.Fatalf("got %d values, want %d", len(out), batch*cout*hw*hw)
	}
	testutil.RequireFinite(t, out)
}

func TestAttentionWeightsSumToOne(t *testing.T) {
	const batch, cin, cout, hw, variants = 2, 4, 8, 6, 3
	l := newTestLayer(t, cin, cout, variants)

	x := testutil.DeterministicTensor(10, 1.0, batch*cin*hw*hw)
	gates := testutil.Ones(batch * variants)
	angles := testutil.DeterministicTensor(11, 0.3, batch*variants)

	weights, err := SynthesizeWeights(l.Bank, gates, angles, batch)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	folded := make([]float64, batch*variants*cin*hw*hw)
	for b := 0; b < batch; b++ {
		for i := 0; i < variants; i++ {
			copy(folded[(b*variants+i)*cin*hw*hw:], x[b*cin*hw*hw:(b+1)*cin*hw*hw])
		}
	}
	g := conv2d.Geom{
		Batch: 1, InChannels: batch * variants * cin, Height: hw, Width: hw,
		OutChannels: batch * variants * cout, KernelH: 3, KernelW: 3,
	}
	variantOut, err := conv2d.GEMM(folded, weights, g,
		conv2d.WithPadding(1), conv2d.WithGroups(batch*variants))
	if err != nil {
		t.Fatalf("grouped conv failed: %v", err)
	}

	attn, err := l.attention(variantOut, batch, hw*hw)
	if err != nil {
		t.Fatalf("attention failed: %v", err)
	}
	for b := 0; b < batch; b++ {
		for co := 0; co < cout; co++ {
			sum := 0.0
			for i := 0; i < variants; i++ {
				v := attn[(b*variants+i)*cout+co]
				if v < 0 || v > 1 {
					t.Fatalf("attention weight %v outside [0, 1]", v)
				}
				sum += v
			}
			if math.Abs(sum-1) > 1e-12 {
				t.Errorf("sample %d channel %d: attention sums to %v", b, co, sum)
			}
		}
	}
}

func TestNonFiniteAnglePropagatesToOutput(t *testing.T) {
	const batch, cin, cout, hw = 1, 4, 4, 5
	l := newTestLayer(t, cin, cout, 1)

	x := testutil.DeterministicTensor(12, 1.0, batch*cin*hw*hw)
	gates := testutil.Ones(batch)
	angles := []float64{math.NaN()}

	out, err := l.ForwardWith(x, gates, angles, batch, hw, hw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	hasNaN := false
	for _, v := range out {
		if math.IsNaN(v) {
			hasNaN = true
			break
		}
	}
	if !hasNaN {
		t.Error("NaN angle did not propagate to the output")
	}
}

func TestConstructionErrors(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 1))

	tests := []struct {
		name string
		run  func() error
		want error
	}{
		{"zero variants", func() error { _, err := New(4, 4, 0, rng); return err }, ErrInvalidConfig},
		{"nil rng", func() error { _, err := New(4, 4, 1, nil); return err }, ErrInvalidConfig},
		{"indivisible groups", func() error { _, err := New(6, 4, 1, rng, WithGroups(4)); return err }, ErrShapeMismatch},
		{"zero stride", func() error { _, err := New(4, 4, 1, rng, WithStride(0)); return err }, ErrInvalidConfig},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.run(); !errors.Is(err, tt.want) {
				t.Errorf("got %v, want %v", err, tt.want)
			}
		})
	}
}

func TestForwardShapeErrors(t *testing.T) {
	l := newTestLayer(t, 4, 4, 2)
	if _, err := l.Forward(nil, 1, 4, 4); err == nil {
		t.Error("empty input: expected an error")
	}
	if _, err := l.ForwardWith(nil, testutil.Ones(2), make([]float64, 2), 1, 4, 4); !errors.Is(err, ErrEmptyInput) {
		t.Errorf("empty input: got %v, want ErrEmptyInput", err)
	}
	if _, err := l.ForwardWith(make([]float64, 10), testutil.Ones(2), make([]float64, 2), 1, 4, 4); !errors.Is(err, ErrShapeMismatch) {
		t.Errorf("short input: got %v, want ErrShapeMismatch", err)
	}
}
