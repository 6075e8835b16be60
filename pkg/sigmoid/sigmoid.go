// Package sigmoid provides a small, dependency-free logistic gain function.
package sigmoid

import "math"

// Gain evaluates a logistic curve centered at x0 with saturation L and
// steepness k: L / (1 + exp(-k*(x-x0))).
//
// At x == x0 the result is L/2; far below x0 it tends to 0, far above it
// tends to L.
func Gain(x, x0, l, k float64) float64 {
	return l / (1 + math.Exp(-k*(x-x0)))
}
