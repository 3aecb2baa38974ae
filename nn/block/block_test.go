package block

import (
	"errors"
	"math/rand/v2"
	"testing"

	"github.com/cwbudde/algo-arc/internal/testutil"
)

func newTestBlock(t *testing.T, in, width, stride int, kind ConvKind) *Bottleneck {
	t.Helper()
	b, err := NewBottleneck(in, width, stride, kind, 2, rand.New(rand.NewPCG(5, 5)))
	if err != nil {
		t.Fatalf("NewBottleneck failed: %v", err)
	}
	return b
}

func TestBottleneckShapes(t *testing.T) {
	tests := []struct {
		name         string
		in, width    int
		stride       int
		kind         ConvKind
		h, w         int
		wantH, wantW int
	}{
		{"standard identity shortcut", 16, 4, 1, KindStandard, 6, 6, 6, 6},
		{"standard projection", 8, 4, 1, KindStandard, 6, 6, 6, 6},
		{"standard strided", 16, 4, 2, KindStandard, 7, 7, 4, 4},
		{"adaptive", 16, 4, 1, KindAdaptive, 6, 6, 6, 6},
		{"adaptive strided", 16, 4, 2, KindAdaptive, 6, 6, 3, 3},
	}

	const batch = 2
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := newTestBlock(t, tt.in, tt.width, tt.stride, tt.kind)
			x := testutil.DeterministicTensor(1, 1.0, batch*tt.in*tt.h*tt.w)

			out, err := b.Forward(x, batch, tt.h, tt.w)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			want := batch * tt.width * Expansion * tt.wantH * tt.wantW
			if len(out) != want {
				t.Errorf("got %d values, want %d", len(out), want)
			}
			if outH, outW := b.OutputSize(tt.h, tt.w); outH != tt.wantH || outW != tt.wantW {
				t.Errorf("OutputSize = (%d, %d), want (%d, %d)", outH, outW, tt.wantH, tt.wantW)
			}
			testutil.RequireFinite(t, out)

			// The closing rectifier leaves no negative values.
			for i, v := range out {
				if v < 0 {
					t.Fatalf("out[%d] = %v, want >= 0", i, v)
				}
			}
		})
	}
}

func TestBottleneckDeterministicInEval(t *testing.T) {
	b := newTestBlock(t, 8, 4, 1, KindAdaptive)
	b.Eval()

	x := testutil.DeterministicTensor(2, 1.0, 2*8*5*5)
	out1, err := b.Forward(x, 2, 5, 5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	out2, err := b.Forward(x, 2, 5, 5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	testutil.RequireSliceNearlyEqual(t, out2, out1, 0)
}

func TestPlanDefaults(t *testing.T) {
	p := Plan{1: KindAdaptive}
	if p.Kind(0) != KindStandard {
		t.Errorf("Kind(0) = %v, want standard", p.Kind(0))
	}
	if p.Kind(1) != KindAdaptive {
		t.Errorf("Kind(1) = %v, want adaptive", p.Kind(1))
	}
	if p.Kind(7) != KindStandard {
		t.Errorf("Kind(7) = %v, want standard", p.Kind(7))
	}

	var empty Plan
	if empty.Kind(0) != KindStandard {
		t.Errorf("empty plan Kind(0) = %v, want standard", empty.Kind(0))
	}
}

func TestConvKindString(t *testing.T) {
	if KindStandard.String() != "standard" || KindAdaptive.String() != "adaptive" {
		t.Errorf("got %q and %q", KindStandard, KindAdaptive)
	}
}

func TestStageForward(t *testing.T) {
	plan := Plan{1: KindAdaptive, 2: KindAdaptive}
	s, err := NewStage(8, 4, 3, 2, plan, 2, rand.New(rand.NewPCG(6, 6)))
	if err != nil {
		t.Fatalf("NewStage failed: %v", err)
	}

	kinds := []ConvKind{KindStandard, KindAdaptive, KindAdaptive}
	for i, b := range s.Blocks() {
		if b.Kind() != kinds[i] {
			t.Errorf("block %d kind = %v, want %v", i, b.Kind(), kinds[i])
		}
	}

	const batch, h, w = 2, 8, 8
	x := testutil.DeterministicTensor(3, 1.0, batch*8*h*w)
	out, err := s.Forward(x, batch, h, w)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	outH, outW := s.OutputSize(h, w)
	if outH != 4 || outW != 4 {
		t.Errorf("OutputSize = (%d, %d), want (4, 4)", outH, outW)
	}
	if len(out) != batch*s.OutChannels()*outH*outW {
		t.Errorf("got %d values, want %d", len(out), batch*s.OutChannels()*outH*outW)
	}
	testutil.RequireFinite(t, out)
}

func TestConstructionErrors(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 1))

	if _, err := NewBottleneck(0, 4, 1, KindStandard, 1, rng); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("zero channels: got %v, want ErrInvalidConfig", err)
	}
	if _, err := NewBottleneck(8, 4, 1, ConvKind(9), 1, rng); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("unknown kind: got %v, want ErrInvalidConfig", err)
	}
	if _, err := NewBottleneck(8, 4, 1, KindStandard, 1, nil); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("nil rng: got %v, want ErrInvalidConfig", err)
	}
	if _, err := NewStage(8, 4, 0, 1, nil, 1, rng); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("zero blocks: got %v, want ErrInvalidConfig", err)
	}

	b := newTestBlock(t, 8, 4, 1, KindStandard)
	if _, err := b.Forward(make([]float64, 9), 1, 4, 4); !errors.Is(err, ErrShapeMismatch) {
		t.Errorf("short input: got %v, want ErrShapeMismatch", err)
	}
}
