// Package krylov implements the iterative methods backing the host IJ
// engine: preconditioned conjugate gradients and BiCGSTAB over a minimal
// operator interface. The assembler core never calls this package
// directly; it belongs to the engine side of the backend boundary.
package krylov

import (
	"errors"
	"fmt"
)

// DefaultTolerance is the relative residual target used when Settings
// leaves Tolerance zero
const DefaultTolerance = 1e-6

// ErrIterationLimit reports that the iteration cap was reached before the
// residual target
var ErrIterationLimit = errors.New("krylov: iteration limit reached")

// ErrBreakdown reports a method breakdown: a vanishing inner product, a
// non-positive-definite system under CG, or a residual that left the
// representable range
var ErrBreakdown = errors.New("krylov: method breakdown")

// Operator applies a square linear operator to dense vectors
type Operator interface {
	// Dims returns the operator dimension n
	Dims() int
	// MatVec computes dst = A·src; dst and src have length n and do not
	// alias
	MatVec(dst, src []float64)
}

// Preconditioner applies an approximate inverse, z = M⁻¹·r. It must not
// retain its arguments.
type Preconditioner func(z, r []float64)

// Settings controls a solve
type Settings struct {
	// Relative residual target ‖b−Ax‖/‖b‖; 0 selects DefaultTolerance
	Tolerance float64

	// Iteration cap; 0 selects 2n
	MaxIterations int

	// Optional preconditioner; nil solves the unpreconditioned system
	Preconditioner Preconditioner
}

// Stats reports what a solve did
type Stats struct {
	Iterations int
	MatVecs    int
	// Final relative residual ‖b−Ax‖/‖b‖
	Residual float64
}

func (s Settings) withDefaults(n int) Settings {
	if s.Tolerance <= 0 {
		s.Tolerance = DefaultTolerance
	}
	if s.MaxIterations <= 0 {
		s.MaxIterations = 2 * n
	}
	if s.Preconditioner == nil {
		s.Preconditioner = func(z, r []float64) { copy(z, r) }
	}
	return s
}

func checkDims(a Operator, b, x []float64) int {
	n := a.Dims()
	if len(b) != n || len(x) != n {
		panic(fmt.Sprintf("krylov: operator dimension %d, rhs %d, solution %d",
			n, len(b), len(x)))
	}
	return n
}

// Jacobi builds a diagonal-scaling preconditioner from the operator
// diagonal. Zero diagonal entries pass through unscaled rather than
// dividing by zero.
func Jacobi(diag []float64) Preconditioner {
	inv := make([]float64, len(diag))
	for i, d := range diag {
		if d != 0 {
			inv[i] = 1 / d
		} else {
			inv[i] = 1
		}
	}
	return func(z, r []float64) {
		for i, v := range r {
			z[i] = v * inv[i]
		}
	}
}
