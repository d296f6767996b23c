package krylov

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

// CG solves A·x = b for symmetric positive definite A using
// preconditioned conjugate gradients. x carries the initial guess in and
// the solution out. A non-SPD operator surfaces as ErrBreakdown.
func CG(a Operator, b, x []float64, s Settings) (Stats, error) {
	n := checkDims(a, b, x)
	s = s.withDefaults(n)

	var stats Stats

	bnorm := floats.Norm(b, 2)
	if bnorm == 0 {
		// zero right-hand side, exact solution is zero
		for i := range x {
			x[i] = 0
		}
		return stats, nil
	}

	r := make([]float64, n)
	z := make([]float64, n)
	p := make([]float64, n)
	q := make([]float64, n)

	a.MatVec(r, x)
	stats.MatVecs++
	floats.Scale(-1, r)
	floats.Add(r, b)

	rnorm := floats.Norm(r, 2)
	stats.Residual = rnorm / bnorm
	if stats.Residual <= s.Tolerance {
		return stats, nil
	}

	var rho, rhoPrev float64
	for k := 1; k <= s.MaxIterations; k++ {
		s.Preconditioner(z, r)
		rho = floats.Dot(r, z)
		if rho == 0 || math.IsNaN(rho) {
			return stats, ErrBreakdown
		}

		if k == 1 {
			copy(p, z)
		} else {
			beta := rho / rhoPrev
			floats.AddScaledTo(p, z, beta, p)
		}

		a.MatVec(q, p)
		stats.MatVecs++

		den := floats.Dot(p, q)
		if den <= 0 || math.IsNaN(den) {
			return stats, ErrBreakdown
		}
		alpha := rho / den

		floats.AddScaled(x, alpha, p)
		floats.AddScaled(r, -alpha, q)

		rnorm = floats.Norm(r, 2)
		stats.Iterations = k
		stats.Residual = rnorm / bnorm
		if math.IsNaN(rnorm) || math.IsInf(rnorm, 0) {
			return stats, ErrBreakdown
		}
		if stats.Residual <= s.Tolerance {
			return stats, nil
		}
		rhoPrev = rho
	}

	return stats, ErrIterationLimit
}
