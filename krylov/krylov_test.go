package krylov

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/floats"
)

// denseOp wraps a row-major dense matrix as an Operator
type denseOp struct {
	n int
	a []float64
}

func (d denseOp) Dims() int { return d.n }

func (d denseOp) MatVec(dst, src []float64) {
	for i := 0; i < d.n; i++ {
		var sum float64
		row := d.a[i*d.n : (i+1)*d.n]
		for j, v := range row {
			sum += v * src[j]
		}
		dst[i] = sum
	}
}

// laplacian1D builds the n×n tridiagonal [-1 2 -1] matrix
func laplacian1D(n int) denseOp {
	a := make([]float64, n*n)
	for i := 0; i < n; i++ {
		a[i*n+i] = 2
		if i > 0 {
			a[i*n+i-1] = -1
		}
		if i < n-1 {
			a[i*n+i+1] = -1
		}
	}
	return denseOp{n: n, a: a}
}

// trueResidual recomputes ‖b−Ax‖/‖b‖ from scratch
func trueResidual(a Operator, b, x []float64) float64 {
	r := make([]float64, a.Dims())
	a.MatVec(r, x)
	floats.Scale(-1, r)
	floats.Add(r, b)
	return floats.Norm(r, 2) / floats.Norm(b, 2)
}

func TestCG(t *testing.T) {
	// Test 1: 1-D Laplacian with known solution
	t.Run("Laplacian", func(t *testing.T) {
		n := 32
		a := laplacian1D(n)
		want := make([]float64, n)
		for i := range want {
			want[i] = 1
		}
		b := make([]float64, n)
		a.MatVec(b, want)

		x := make([]float64, n)
		stats, err := CG(a, b, x, Settings{})
		require.NoError(t, err)
		require.Greater(t, stats.Iterations, 0)
		require.LessOrEqual(t, stats.Residual, DefaultTolerance)
		require.LessOrEqual(t, trueResidual(a, b, x), 10*DefaultTolerance)
	})

	// Test 2: warm start from the exact solution takes no iterations
	t.Run("WarmStart", func(t *testing.T) {
		n := 8
		a := laplacian1D(n)
		x := make([]float64, n)
		for i := range x {
			x[i] = float64(i)
		}
		b := make([]float64, n)
		a.MatVec(b, x)

		stats, err := CG(a, b, x, Settings{})
		require.NoError(t, err)
		require.Equal(t, 0, stats.Iterations)
	})

	// Test 3: zero right-hand side returns the zero vector immediately
	t.Run("ZeroRHS", func(t *testing.T) {
		n := 4
		a := laplacian1D(n)
		b := make([]float64, n)
		x := []float64{3, 1, 4, 1}

		stats, err := CG(a, b, x, Settings{})
		require.NoError(t, err)
		require.Equal(t, 0, stats.Iterations)
		for i := range x {
			require.Zero(t, x[i])
		}
	})

	// Test 4: a one-iteration cap on a hard system reports the limit
	t.Run("IterationLimit", func(t *testing.T) {
		n := 32
		a := laplacian1D(n)
		b := make([]float64, n)
		b[0] = 1
		x := make([]float64, n)

		stats, err := CG(a, b, x, Settings{MaxIterations: 1})
		require.ErrorIs(t, err, ErrIterationLimit)
		require.Equal(t, 1, stats.Iterations)
		require.Greater(t, stats.Residual, DefaultTolerance)
	})

	// Test 5: an indefinite operator breaks the method down rather than
	// looping forever
	t.Run("IndefiniteBreakdown", func(t *testing.T) {
		a := denseOp{n: 2, a: []float64{1, 0, 0, -1}}
		b := []float64{1, 1}
		x := make([]float64, 2)

		_, err := CG(a, b, x, Settings{})
		require.ErrorIs(t, err, ErrBreakdown)
	})

	// Test 6: mismatched vector lengths panic
	t.Run("DimensionPanic", func(t *testing.T) {
		defer func() {
			if recover() == nil {
				t.Error("expected panic on dimension mismatch")
			}
		}()
		a := laplacian1D(4)
		CG(a, make([]float64, 3), make([]float64, 4), Settings{})
	})
}

func TestCGJacobi(t *testing.T) {
	// A badly scaled diagonal-dominant system; Jacobi scaling should not
	// change the answer and should converge at least as well
	n := 16
	a := make([]float64, n*n)
	diag := make([]float64, n)
	for i := 0; i < n; i++ {
		d := math.Pow(10, float64(i%4))
		a[i*n+i] = d
		diag[i] = d
		if i > 0 {
			a[i*n+i-1] = -0.1
			a[(i-1)*n+i] = -0.1
		}
	}
	op := denseOp{n: n, a: a}

	want := make([]float64, n)
	for i := range want {
		want[i] = float64(i + 1)
	}
	b := make([]float64, n)
	op.MatVec(b, want)

	x := make([]float64, n)
	stats, err := CG(op, b, x, Settings{Preconditioner: Jacobi(diag)})
	require.NoError(t, err)
	require.LessOrEqual(t, trueResidual(op, b, x), 10*DefaultTolerance)
	require.Greater(t, stats.MatVecs, stats.Iterations)
}

func TestBiCGSTAB(t *testing.T) {
	// Test 1: nonsymmetric diagonal-dominant system
	t.Run("Nonsymmetric", func(t *testing.T) {
		n := 24
		a := make([]float64, n*n)
		for i := 0; i < n; i++ {
			a[i*n+i] = 4
			if i > 0 {
				a[i*n+i-1] = -1.5
			}
			if i < n-1 {
				a[i*n+i+1] = -0.5
			}
		}
		op := denseOp{n: n, a: a}

		want := make([]float64, n)
		for i := range want {
			want[i] = math.Sin(float64(i))
		}
		b := make([]float64, n)
		op.MatVec(b, want)

		x := make([]float64, n)
		stats, err := BiCGSTAB(op, b, x, Settings{})
		require.NoError(t, err)
		require.Greater(t, stats.Iterations, 0)
		require.LessOrEqual(t, trueResidual(op, b, x), 10*DefaultTolerance)
	})

	// Test 2: symmetric systems solve too
	t.Run("Symmetric", func(t *testing.T) {
		n := 16
		a := laplacian1D(n)
		want := make([]float64, n)
		for i := range want {
			want[i] = 1
		}
		b := make([]float64, n)
		a.MatVec(b, want)

		x := make([]float64, n)
		_, err := BiCGSTAB(a, b, x, Settings{})
		require.NoError(t, err)
		require.LessOrEqual(t, trueResidual(a, b, x), 10*DefaultTolerance)
	})

	// Test 3: iteration cap
	t.Run("IterationLimit", func(t *testing.T) {
		n := 32
		a := laplacian1D(n)
		b := make([]float64, n)
		b[n/2] = 1
		x := make([]float64, n)

		_, err := BiCGSTAB(a, b, x, Settings{MaxIterations: 1})
		require.ErrorIs(t, err, ErrIterationLimit)
	})
}

func TestJacobiZeroDiagonal(t *testing.T) {
	p := Jacobi([]float64{2, 0, 4})
	z := make([]float64, 3)
	p(z, []float64{2, 3, 8})
	require.Equal(t, []float64{1, 3, 2}, z)
}

func TestSettingsDefaults(t *testing.T) {
	s := Settings{}.withDefaults(10)
	if s.Tolerance != DefaultTolerance {
		t.Errorf("default tolerance: got %g", s.Tolerance)
	}
	if s.MaxIterations != 20 {
		t.Errorf("default iteration cap: got %d", s.MaxIterations)
	}
	if s.Preconditioner == nil {
		t.Error("default preconditioner missing")
	}
}
