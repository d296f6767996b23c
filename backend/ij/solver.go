package ij

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/notargets/gosles/backend"
	"github.com/notargets/gosles/krylov"
)

// solverConfig is the parsed form of the engine options string
type solverConfig struct {
	method   string // cg | bicgstab
	precond  string // jacobi | none
	settings krylov.Settings
}

// parseOptions reads the engine's key=value[, ...] wire format. An empty
// string selects the defaults: CG with Jacobi preconditioning at the
// Krylov package's tolerance and iteration cap.
func parseOptions(options string) (solverConfig, error) {
	cfg := solverConfig{method: "cg", precond: "jacobi"}

	bad := func(format string, args ...any) (solverConfig, error) {
		return cfg, &backend.ConfigurationError{
			Engine: engineName,
			Reason: fmt.Sprintf(format, args...),
		}
	}

	for _, field := range strings.Split(options, ",") {
		field = strings.TrimSpace(field)
		if field == "" {
			continue
		}
		key, val, ok := strings.Cut(field, "=")
		if !ok {
			return bad("option %q is not key=value", field)
		}
		key, val = strings.TrimSpace(key), strings.TrimSpace(val)
		switch key {
		case "solver":
			if val != "cg" && val != "bicgstab" {
				return bad("unknown solver %q", val)
			}
			cfg.method = val
		case "precond":
			if val != "jacobi" && val != "none" {
				return bad("unknown preconditioner %q", val)
			}
			cfg.precond = val
		case "tolerance":
			f, err := strconv.ParseFloat(val, 64)
			if err != nil || f <= 0 {
				return bad("tolerance %q is not a positive number", val)
			}
			cfg.settings.Tolerance = f
		case "max_iterations":
			n, err := strconv.Atoi(val)
			if err != nil || n <= 0 {
				return bad("max_iterations %q is not a positive integer", val)
			}
			cfg.settings.MaxIterations = n
		default:
			return bad("unknown option %q", key)
		}
	}
	return cfg, nil
}

// operator adapts the assembled matrix to the krylov interface. The solve
// runs over owned rows only; ghost columns receive no cross-rank update
// during iteration and contribute zero.
type operator struct {
	m *Matrix
}

func (o operator) Dims() int {
	return o.m.nRows
}

func (o operator) MatVec(dst, src []float64) {
	m := o.m
	copy(m.wx, src)
	for i := m.nRows; i < m.nCols; i++ {
		m.wx[i] = 0
	}
	m.spmv(m.wx, dst)
}

// Solver runs host Krylov iterations against one assembled matrix
type Solver struct {
	m   *Matrix
	cfg solverConfig
}

// Solve iterates on rhs with x as the initial guess, writing the solution
// into x. Tolerance and iteration-cap outcomes arrive through the
// Convergence value; only infrastructure failures are errors.
func (s *Solver) Solve(rhs, x []float64) (backend.SolveStats, backend.Convergence, error) {
	m := s.m
	if m == nil || m.state != backend.Assembled {
		return backend.SolveStats{}, backend.Diverged, &backend.AssemblyError{
			Engine: engineName,
			Op:     "solve",
			Desc:   "matrix is not assembled",
		}
	}

	settings := s.cfg.settings
	if s.cfg.precond == "jacobi" {
		d := make([]float64, m.nRows)
		if err := m.Diagonal(d); err != nil {
			return backend.SolveStats{}, backend.Diverged, err
		}
		settings.Preconditioner = krylov.Jacobi(d)
	}

	var st krylov.Stats
	var err error
	if s.cfg.method == "bicgstab" {
		st, err = krylov.BiCGSTAB(operator{m}, rhs, x, settings)
	} else {
		st, err = krylov.CG(operator{m}, rhs, x, settings)
	}

	stats := backend.SolveStats{Iterations: st.Iterations, Residual: st.Residual}
	switch {
	case err == nil:
		return stats, backend.Converged, nil
	case errors.Is(err, krylov.ErrIterationLimit):
		return stats, backend.MaxIterationsReached, nil
	case errors.Is(err, krylov.ErrBreakdown):
		return stats, backend.Diverged, nil
	}
	return stats, backend.Diverged, &backend.AssemblyError{
		Engine: engineName,
		Op:     "solve",
		Desc:   err.Error(),
	}
}

// Destroy drops the matrix binding; the matrix itself is owned elsewhere
func (s *Solver) Destroy() error {
	s.m = nil
	return nil
}
