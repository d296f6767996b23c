package krylov

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

// BiCGSTAB solves A·x = b for general square A using the stabilized
// biconjugate gradient method. x carries the initial guess in and the
// solution out.
func BiCGSTAB(a Operator, b, x []float64, s Settings) (Stats, error) {
	n := checkDims(a, b, x)
	s = s.withDefaults(n)

	var stats Stats

	bnorm := floats.Norm(b, 2)
	if bnorm == 0 {
		for i := range x {
			x[i] = 0
		}
		return stats, nil
	}

	r := make([]float64, n)
	rr := make([]float64, n) // shadow residual, fixed at r₀
	p := make([]float64, n)
	phat := make([]float64, n)
	v := make([]float64, n)
	sv := make([]float64, n)
	shat := make([]float64, n)
	t := make([]float64, n)

	a.MatVec(r, x)
	stats.MatVecs++
	floats.Scale(-1, r)
	floats.Add(r, b)
	copy(rr, r)

	rnorm := floats.Norm(r, 2)
	stats.Residual = rnorm / bnorm
	if stats.Residual <= s.Tolerance {
		return stats, nil
	}

	var rho, rhoPrev, alpha, omega float64
	for k := 1; k <= s.MaxIterations; k++ {
		rho = floats.Dot(rr, r)
		if rho == 0 || math.IsNaN(rho) {
			return stats, ErrBreakdown
		}

		if k == 1 {
			copy(p, r)
		} else {
			beta := (rho / rhoPrev) * (alpha / omega)
			floats.AddScaled(p, -omega, v)
			floats.AddScaledTo(p, r, beta, p)
		}

		s.Preconditioner(phat, p)
		a.MatVec(v, phat)
		stats.MatVecs++

		den := floats.Dot(rr, v)
		if den == 0 || math.IsNaN(den) {
			return stats, ErrBreakdown
		}
		alpha = rho / den

		floats.AddScaledTo(sv, r, -alpha, v)

		// first half-step may already satisfy the target
		snorm := floats.Norm(sv, 2)
		if snorm/bnorm <= s.Tolerance {
			floats.AddScaled(x, alpha, phat)
			stats.Iterations = k
			stats.Residual = snorm / bnorm
			return stats, nil
		}

		s.Preconditioner(shat, sv)
		a.MatVec(t, shat)
		stats.MatVecs++

		tt := floats.Dot(t, t)
		if tt == 0 {
			return stats, ErrBreakdown
		}
		omega = floats.Dot(t, sv) / tt

		floats.AddScaled(x, alpha, phat)
		floats.AddScaled(x, omega, shat)
		floats.AddScaledTo(r, sv, -omega, t)

		rnorm = floats.Norm(r, 2)
		stats.Iterations = k
		stats.Residual = rnorm / bnorm
		if math.IsNaN(rnorm) || math.IsInf(rnorm, 0) {
			return stats, ErrBreakdown
		}
		if stats.Residual <= s.Tolerance {
			return stats, nil
		}
		if omega == 0 {
			return stats, ErrBreakdown
		}
		rhoPrev = rho
	}

	return stats, ErrIterationLimit
}
