package arc_test

import (
	"fmt"
	"math/rand/v2"

	"github.com/cwbudde/algo-arc/nn/arc"
)

func Example() {
	rng := rand.New(rand.NewPCG(1, 2))
	layer, err := arc.New(16, 32, 4, rng)
	if err != nil {
		panic(err)
	}

	// One forward pass over a batch of two 8x8 feature maps.
	x := make([]float64, 2*16*8*8)
	out, err := layer.Forward(x, 2, 8, 8)
	if err != nil {
		panic(err)
	}

	outH, outW := layer.OutputSize(8, 8)
	fmt.Printf("variants: %d\n", layer.Variants())
	fmt.Printf("output: 2x%dx%dx%d (%d values)\n", layer.OutChannels(), outH, outW, len(out))
	// Output:
	// variants: 4
	// output: 2x32x8x8 (4096)
}

func ExampleNew_strided() {
	rng := rand.New(rand.NewPCG(3, 4))
	layer, err := arc.New(8, 8, 2, rng, arc.WithStride(2))
	if err != nil {
		panic(err)
	}

	outH, outW := layer.OutputSize(9, 9)
	fmt.Printf("9x9 input -> %dx%d output\n", outH, outW)
	// Output:
	// 9x9 input -> 5x5 output
}
