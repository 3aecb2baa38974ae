package vecmath

import (
	"math"
	"testing"
)

func TestScaleBlock(t *testing.T) {
	sizes := []int{0, 1, 3, 8, 17, 100}

	for _, n := range sizes {
		src := make([]float64, n)
		dst := make([]float64, n)
		for i := range src {
			src[i] = float64(i) + 0.5
		}

		ScaleBlock(dst, src, 2.5)

		for i := range dst {
			want := src[i] * 2.5
			if dst[i] != want {
				t.Errorf("n=%d: dst[%d] = %v, want %v", n, i, dst[i], want)
			}
		}
	}
}

func TestScaleBlockLengthMismatch(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on length mismatch")
		}
	}()
	ScaleBlock(make([]float64, 3), make([]float64, 4), 1)
}

func TestScaleAddBlock(t *testing.T) {
	dst := []float64{1, 2, 3}
	src := []float64{10, 20, 30}

	ScaleAddBlock(dst, src, 0.5)

	want := []float64{6, 12, 18}
	for i := range dst {
		if dst[i] != want[i] {
			t.Errorf("dst[%d] = %v, want %v", i, dst[i], want[i])
		}
	}
}

func TestAddBlockInPlace(t *testing.T) {
	dst := []float64{1, 2, 3, 4}
	src := []float64{4, 3, 2, 1}

	AddBlockInPlace(dst, src)

	for i := range dst {
		if dst[i] != 5 {
			t.Errorf("dst[%d] = %v, want 5", i, dst[i])
		}
	}
}

func TestSum(t *testing.T) {
	if got := Sum([]float64{1.5, 2.5, -1}); math.Abs(got-3) > 1e-12 {
		t.Errorf("Sum = %v, want 3", got)
	}
	if got := Sum(nil); got != 0 {
		t.Errorf("Sum(nil) = %v, want 0", got)
	}
}
