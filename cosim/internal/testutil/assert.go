package testutil

import (
	"math"
	"testing"
)

// timeTol is the relative tolerance for logical time comparisons. Summing
// step sizes drifts by a few ULPs per step.
const timeTol = 1e-9

// AssertTime fails t unless got equals want within timeTol relative to the
// larger magnitude, or absolutely when both are below one.
func AssertTime(t *testing.T, what string, want, got float64) {
	t.Helper()
	scale := math.Max(1, math.Max(math.Abs(want), math.Abs(got)))
	if diff := math.Abs(want - got); diff > timeTol*scale {
		t.Errorf("%s: got t=%v, want t=%v (diff=%v)", what, got, want, diff)
	}
}
