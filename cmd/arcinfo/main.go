// Command arcinfo prints properties of kernel rotation operators.
//
// Usage:
//
//	arcinfo [flags] [angle-degrees ...]
//
// Without arguments it prints a sweep over the default angle range.
//
// Examples:
//
//	arcinfo 15
//	arcinfo -matrix 30
//	arcinfo -- -20 -10 0 10 20
package main

import (
	"flag"
	"fmt"
	"math"
	"os"
	"strconv"
	"text/tabwriter"

	"github.com/cwbudde/algo-arc/nn/rotation"
)

func main() {
	matrix := flag.Bool("matrix", false, "print the full 9x9 operator per angle")
	steps := flag.Int("steps", 9, "number of sweep angles when none are given")
	maxDeg := flag.Float64("max", 40, "sweep bound in degrees")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: arcinfo [flags] [angle-degrees ...]\n\n")
		fmt.Fprintf(os.Stderr, "Prints properties of the 9x9 operators that rotate 3x3 kernels.\n")
		fmt.Fprintf(os.Stderr, "Without arguments, sweeps -max..max in -steps angles.\n\n")
		fmt.Fprintf(os.Stderr, "Flags:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  arcinfo 15\n")
		fmt.Fprintf(os.Stderr, "  arcinfo -matrix 30\n")
		fmt.Fprintf(os.Stderr, "  arcinfo -- -20 -10 0 10 20\n")
	}
	flag.Parse()

	degrees, err := resolveAngles(flag.Args(), *steps, *maxDeg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	thetas := make([]float64, len(degrees))
	for i, d := range degrees {
		thetas[i] = d / 180 * math.Pi
	}

	ops, err := rotation.Operators(thetas)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	printSummary(degrees, ops)
	if *matrix {
		for i, d := range degrees {
			printMatrix(d, ops[i*rotation.OperatorLen:(i+1)*rotation.OperatorLen])
		}
	}
}

func resolveAngles(args []string, steps int, maxDeg float64) ([]float64, error) {
	if len(args) == 0 {
		if steps < 2 {
			return nil, fmt.Errorf("need at least 2 sweep steps, got %d", steps)
		}
		degrees := make([]float64, steps)
		for i := range degrees {
			degrees[i] = -maxDeg + 2*maxDeg*float64(i)/float64(steps-1)
		}
		return degrees, nil
	}

	degrees := make([]float64, 0, len(args))
	for _, arg := range args {
		d, err := strconv.ParseFloat(arg, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid angle %q", arg)
		}
		if d <= -45 || d >= 45 {
			return nil, fmt.Errorf("angle %v° outside (-45°, 45°)", d)
		}
		degrees = append(degrees, d)
	}
	return degrees, nil
}

func printSummary(degrees []float64, ops []float64) {
	tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "Angle [deg]\tBranch\tNonzero\tRow-Sum Error\tIdentity Dist\n")
	fmt.Fprintf(tw, "-----------\t------\t-------\t-------------\t-------------\n")

	for i, d := range degrees {
		m := ops[i*rotation.OperatorLen : (i+1)*rotation.OperatorLen]

		branch := "ccw"
		if d < 0 {
			branch = "cw"
		}

		nonzero := 0
		rowSumErr := 0.0
		identityDist := 0.0
		for r := 0; r < rotation.Taps; r++ {
			sum := 0.0
			for c := 0; c < rotation.Taps; c++ {
				v := m[r*rotation.Taps+c]
				sum += v
				if v != 0 {
					nonzero++
				}
				want := 0.0
				if r == c {
					want = 1
				}
				if dev := math.Abs(v - want); dev > identityDist {
					identityDist = dev
				}
			}
			if dev := math.Abs(sum - 1); dev > rowSumErr {
				rowSumErr = dev
			}
		}

		fmt.Fprintf(tw, "%.2f\t%s\t%d\t%.2e\t%.4f\n", d, branch, nonzero, rowSumErr, identityDist)
	}
	if err := tw.Flush(); err != nil {
		fmt.Fprintf(os.Stderr, "error: failed to flush output: %v\n", err)
	}
}

func printMatrix(deg float64, m []float64) {
	fmt.Printf("\noperator for %.2f°:\n", deg)
	for r := 0; r < rotation.Taps; r++ {
		for c := 0; c < rotation.Taps; c++ {
			fmt.Printf("%8.4f", m[r*rotation.Taps+c])
		}
		fmt.Println()
	}
}
