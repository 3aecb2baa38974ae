package rotation

import (
	"errors"
	"math"
	"testing"

	"github.com/cwbudde/algo-arc/internal/testutil"
)

func TestIdentityAtZero(t *testing.T) {
	ops, err := Operators([]float64{0})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := make([]float64, OperatorLen)
	for i := 0; i < Taps; i++ {
		want[i*Taps+i] = 1
	}
	testutil.RequireSliceNearlyEqual(t, ops, want, 1e-15)
}

func TestRowsSumToOne(t *testing.T) {
	thetas := []float64{-0.7, -0.3, -0.05, 0, 0.05, 0.3, 0.7}
	ops, err := Operators(thetas)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for i := range thetas {
		m := ops[i*OperatorLen : (i+1)*OperatorLen]
		for r := 0; r < Taps; r++ {
			sum := 0.0
			for c := 0; c < Taps; c++ {
				sum += m[r*Taps+c]
			}
			if math.Abs(sum-1) > 1e-12 {
				t.Errorf("theta=%v row %d: sum = %v, want 1", thetas[i], r, sum)
			}
		}
	}
}

func TestCenterTapFixed(t *testing.T) {
	// The kernel center never moves under rotation.
	ops, err := Operators([]float64{-0.5, 0.25})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for i := 0; i < 2; i++ {
		m := ops[i*OperatorLen : (i+1)*OperatorLen]
		for c := 0; c < Taps; c++ {
			want := 0.0
			if c == 4 {
				want = 1
			}
			if m[4*Taps+c] != want {
				t.Errorf("operator %d center row col %d: got %v, want %v", i, c, m[4*Taps+c], want)
			}
		}
	}
}

func TestConstantKernelPreserved(t *testing.T) {
	// Row-stochastic operators map a constant kernel to itself.
	ops, err := Operators([]float64{0.4})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	kernel := testutil.Constant(2.5, Taps)
	rotated := make([]float64, Taps)
	for r := 0; r < Taps; r++ {
		for c := 0; c < Taps; c++ {
			rotated[r] += ops[r*Taps+c] * kernel[c]
		}
	}
	testutil.RequireSliceNearlyEqual(t, rotated, kernel, 1e-12)
}

func TestSmallAngleNearIdentity(t *testing.T) {
	// Both templates approach the identity continuously as theta -> 0.
	const theta = 0.01
	for _, sign := range []float64{1, -1} {
		ops, err := Operators([]float64{sign * theta})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		for r := 0; r < Taps; r++ {
			for c := 0; c < Taps; c++ {
				want := 0.0
				if r == c {
					want = 1
				}
				if math.Abs(ops[r*Taps+c]-want) > 3*theta {
					t.Errorf("sign=%v (%d,%d): got %v, want about %v",
						sign, r, c, ops[r*Taps+c], want)
				}
			}
		}
	}
}

func TestOperatorsErrors(t *testing.T) {
	if _, err := Operators(nil); !errors.Is(err, ErrEmptyInput) {
		t.Errorf("nil thetas: got %v, want ErrEmptyInput", err)
	}
	if err := OperatorsTo(make([]float64, 10), []float64{0}); !errors.Is(err, ErrLengthMismatch) {
		t.Errorf("short dst: got %v, want ErrLengthMismatch", err)
	}
}

func TestNonFiniteAnglePropagates(t *testing.T) {
	ops, err := Operators([]float64{math.NaN()})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !math.IsNaN(ops[0]) {
		t.Errorf("ops[0] = %v, want NaN", ops[0])
	}
}
