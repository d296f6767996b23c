package device

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/notargets/gocca"
	"github.com/notargets/gosles/backend"
	"github.com/notargets/gosles/krylov"
)

// solverConfig is the parsed form of the engine options string
type solverConfig struct {
	method  string  // cg
	precond string  // jacobi | none
	tol     float64 // 0 selects the krylov default
	maxIter int     // 0 selects 2n
}

// parseOptions reads the same key=value[, ...] wire format as the host
// engine. The device engine iterates CG only; asking for bicgstab is a
// configuration error rather than a silent substitution.
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
			if val == "bicgstab" {
				return bad("solver %q is not available on the device engine", val)
			}
			if val != "cg" {
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
			cfg.tol = f
		case "max_iterations":
			n, err := strconv.Atoi(val)
			if err != nil || n <= 0 {
				return bad("max_iterations %q is not a positive integer", val)
			}
			cfg.maxIter = n
		default:
			return bad("unknown option %q", key)
		}
	}
	return cfg, nil
}

// scalarArg converts a host scalar to the kernel's native width before it
// crosses the launch boundary
func scalarArg(vt backend.ValueType, v float64) interface{} {
	if vt == backend.Float32 {
		return float32(v)
	}
	return v
}

// Solver drives CG from the host against device-resident data. Every
// vector lives on the device for the whole solve; the host sees only the
// per-iteration reduction results and the final solution download.
type Solver struct {
	m   *Matrix
	cfg solverConfig

	dB *gocca.OCCAMemory // right-hand side, owned rows
	dX *gocca.OCCAMemory // iterate, ghost-extended for SpMV
	dR *gocca.OCCAMemory // residual
	dZ *gocca.OCCAMemory // preconditioned residual
	dP *gocca.OCCAMemory // search direction, ghost-extended
	dQ *gocca.OCCAMemory // A·p

	dDinv    *gocca.OCCAMemory // inverse diagonal, nil without Jacobi
	dPartial *gocca.OCCAMemory
	partial  []float64
}

// newSolver allocates the iteration vectors and, under Jacobi, extracts
// and inverts the diagonal once up front
func newSolver(m *Matrix, cfg solverConfig) (*Solver, error) {
	s := &Solver{m: m, cfg: cfg, partial: make([]float64, nblocks)}
	s.dB = m.mallocVector(m.nRows)
	s.dR = m.mallocVector(m.nRows)
	s.dZ = m.mallocVector(m.nRows)
	s.dQ = m.mallocVector(m.nRows)
	s.dX = m.mallocVector(m.nCols)
	s.dP = m.mallocVector(m.nCols)
	s.dPartial = m.mallocVector(nblocks)

	if cfg.precond == "jacobi" {
		d := make([]float64, m.nRows)
		if err := m.Diagonal(d); err != nil {
			s.Destroy()
			return nil, err
		}
		for i, v := range d {
			if v != 0 {
				d[i] = 1 / v
			} else {
				d[i] = 1
			}
		}
		s.dDinv = m.mallocVector(m.nRows)
		m.uploadVector(s.dDinv, d)
	}
	return s, nil
}

// dot reduces x·y to nblocks device partials and finishes on the host
func (s *Solver) dot(a, b *gocca.OCCAMemory) (float64, error) {
	if err := s.m.run("dotPartial", a, b, s.dPartial); err != nil {
		return 0, err
	}
	s.m.device.Finish()
	s.m.downloadVector(s.dPartial, s.partial)
	sum := 0.0
	for _, v := range s.partial {
		sum += v
	}
	return sum, nil
}

// Solve iterates CG on rhs with x as the initial guess, writing the
// solution into x. Tolerance and iteration-cap outcomes arrive through
// the Convergence value; only infrastructure failures are errors.
func (s *Solver) Solve(rhs, x []float64) (backend.SolveStats, backend.Convergence, error) {
	m := s.m
	if m == nil || m.state != backend.Assembled {
		return backend.SolveStats{}, backend.Diverged, &backend.AssemblyError{
			Engine: engineName,
			Op:     "solve",
			Desc:   "matrix is not assembled",
		}
	}
	n := m.nRows
	if len(rhs) != n || len(x) != n {
		panic(fmt.Sprintf("device: solve with %d/%d vector lengths, matrix has %d rows",
			len(rhs), len(x), n))
	}

	tol := s.cfg.tol
	if tol <= 0 {
		tol = krylov.DefaultTolerance
	}
	maxIter := s.cfg.maxIter
	if maxIter <= 0 {
		maxIter = 2 * n
	}

	m.uploadVector(s.dB, rhs)
	bb, err := s.dot(s.dB, s.dB)
	if err != nil {
		return backend.SolveStats{}, backend.Diverged, err
	}
	if bb == 0 {
		for i := range x {
			x[i] = 0
		}
		return backend.SolveStats{}, backend.Converged, nil
	}
	bnorm := math.Sqrt(bb)

	m.uploadVector(s.dX, x)

	// r = b - A x
	if err := m.run("csrSpMV", m.dRowPtr, m.dColInd, m.dVals, s.dX, s.dQ); err != nil {
		return backend.SolveStats{}, backend.Diverged, err
	}
	if err := m.run("assign", s.dB, s.dR); err != nil {
		return backend.SolveStats{}, backend.Diverged, err
	}
	if err := m.run("axpy", scalarArg(m.vt, -1), s.dQ, s.dR); err != nil {
		return backend.SolveStats{}, backend.Diverged, err
	}

	rr, err := s.dot(s.dR, s.dR)
	if err != nil {
		return backend.SolveStats{}, backend.Diverged, err
	}
	res := math.Sqrt(rr) / bnorm
	stats := backend.SolveStats{Residual: res}
	if res <= tol {
		return stats, backend.Converged, nil
	}

	diverge := func() (backend.SolveStats, backend.Convergence, error) {
		m.device.Finish()
		m.downloadVector(s.dX, x)
		return stats, backend.Diverged, nil
	}

	rhoPrev := 0.0
	for k := 1; k <= maxIter; k++ {
		if s.dDinv != nil {
			err = m.run("pointwiseMul", s.dR, s.dDinv, s.dZ)
		} else {
			err = m.run("assign", s.dR, s.dZ)
		}
		if err != nil {
			return stats, backend.Diverged, err
		}

		rho, err := s.dot(s.dR, s.dZ)
		if err != nil {
			return stats, backend.Diverged, err
		}
		if rho == 0 || isBad(rho) {
			return diverge()
		}

		if k == 1 {
			err = m.run("assign", s.dZ, s.dP)
		} else {
			err = m.run("xpay", scalarArg(m.vt, rho/rhoPrev), s.dZ, s.dP)
		}
		if err != nil {
			return stats, backend.Diverged, err
		}

		if err := m.run("csrSpMV", m.dRowPtr, m.dColInd, m.dVals, s.dP, s.dQ); err != nil {
			return stats, backend.Diverged, err
		}
		den, err := s.dot(s.dP, s.dQ)
		if err != nil {
			return stats, backend.Diverged, err
		}
		if den <= 0 || isBad(den) {
			return diverge()
		}

		alpha := rho / den
		if err := m.run("axpy", scalarArg(m.vt, alpha), s.dP, s.dX); err != nil {
			return stats, backend.Diverged, err
		}
		if err := m.run("axpy", scalarArg(m.vt, -alpha), s.dQ, s.dR); err != nil {
			return stats, backend.Diverged, err
		}

		rr, err = s.dot(s.dR, s.dR)
		if err != nil {
			return stats, backend.Diverged, err
		}
		res = math.Sqrt(rr) / bnorm
		stats = backend.SolveStats{Iterations: k, Residual: res}
		if isBad(res) {
			return diverge()
		}
		if res <= tol {
			m.device.Finish()
			m.downloadVector(s.dX, x)
			return stats, backend.Converged, nil
		}
		rhoPrev = rho
	}

	m.device.Finish()
	m.downloadVector(s.dX, x)
	return stats, backend.MaxIterationsReached, nil
}

// Destroy releases the iteration vectors; the matrix is owned elsewhere
func (s *Solver) Destroy() error {
	for _, mem := range []*gocca.OCCAMemory{s.dB, s.dX, s.dR, s.dZ, s.dP, s.dQ, s.dDinv, s.dPartial} {
		if mem != nil {
			mem.Free()
		}
	}
	s.dB, s.dX, s.dR, s.dZ, s.dP, s.dQ, s.dDinv, s.dPartial = nil, nil, nil, nil, nil, nil, nil, nil
	s.m = nil
	return nil
}
