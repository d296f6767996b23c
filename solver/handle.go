package solver

import (
	"fmt"
	"strings"
	"time"

	"gonum.org/v1/gonum/floats"

	"github.com/notargets/gosles/backend"
)

// SolveParams tunes one Solve call.
type SolveParams struct {
	// Precision is a convergence tolerance applied when the handle binds
	// its solver, if the configuration does not set one already. The
	// device engine solves at its configured tolerance and ignores it.
	Precision float64
	// RNorm rescales the reported residual: the engines normalize by the
	// right-hand side, a positive RNorm renormalizes to |b|/RNorm times
	// that. Zero leaves the engine residual untouched.
	RNorm float64
}

// Handle is the persistent solve state for one named equation. It owns
// one backend matrix/solver pair at a time and accumulates statistics
// across Setup/Solve/Free cycles; only Destroy ends its life.
type Handle struct {
	name   string
	rt     *Runtime
	engine backend.Engine

	config     string // inline options, wins over the file
	configFile string
	resolved   string
	configured bool

	matrix backend.Matrix
	solver backend.Solver
	width  backend.ValueType

	nSetups int
	nSolves int

	minIter   int
	maxIter   int
	lastIter  int
	totalIter int

	setupTime time.Duration
	solveTime time.Duration

	destroyed bool
}

// New creates a handle registered on the runtime. The first handle
// initializes the engine. config is the inline engine options string and
// may be empty; SetConfig and SetConfigFile can replace it until the
// first Setup.
func New(rt *Runtime, name, config string) (*Handle, error) {
	engine, err := rt.retain()
	if err != nil {
		return nil, err
	}
	return &Handle{
		name:   name,
		rt:     rt,
		engine: engine,
		config: config,
	}, nil
}

func (h *Handle) Name() string {
	return h.name
}

// SetConfig replaces the inline options string. Only valid before the
// configuration is first used.
func (h *Handle) SetConfig(options string) {
	if h.configured {
		panic(fmt.Sprintf("solver: SetConfig on %q after setup", h.name))
	}
	h.config = options
}

// SetConfigFile points the handle at an options file holding the same
// key=value text. An inline string set alongside wins.
func (h *Handle) SetConfigFile(path string) {
	if h.configured {
		panic(fmt.Sprintf("solver: SetConfigFile on %q after setup", h.name))
	}
	h.configFile = path
}

// resolveConfig fixes the effective options on first use: the inline
// string when set, the file contents otherwise, engine defaults when both
// are absent
func (h *Handle) resolveConfig() (string, error) {
	if h.configured {
		return h.resolved, nil
	}
	switch {
	case h.config != "":
		h.resolved = h.config
	case h.configFile != "":
		raw, err := readConfigFile(h.configFile)
		if err != nil {
			return "", err
		}
		h.resolved = raw
	}
	h.configured = true
	return h.resolved, nil
}

// bind creates the engine solver for m, replacing any previous binding
func (h *Handle) bind(m backend.Matrix, options string) error {
	start := time.Now()
	if h.solver != nil {
		h.solver.Destroy()
		h.solver = nil
	}
	sv, err := h.engine.CreateSolver(m, options)
	if err != nil {
		return err
	}
	h.matrix = m
	h.solver = sv
	h.width = m.ValueType()
	h.nSetups++
	h.setupTime += time.Since(start)
	return nil
}

// Setup binds an engine solver to an assembled matrix. The first call
// resolves the configuration; later calls rebind to refreshed
// coefficients without re-reading it.
func (h *Handle) Setup(m backend.Matrix, verbosity int) error {
	if h.destroyed {
		panic(fmt.Sprintf("solver: use of destroyed handle %q", h.name))
	}
	options, err := h.resolveConfig()
	if err != nil {
		return err
	}
	if err := h.bind(m, options); err != nil {
		return err
	}
	if verbosity > 1 {
		fmt.Printf("%s: setup %d on %s engine, %d rows, %d nonzeros\n",
			h.name, h.nSetups, h.engine.Name(), m.NumRows(), m.NNZ())
	}
	return nil
}

// Solve runs the engine on rhs with x as initial guess and solution
// output, setting up lazily if no solver is bound to m yet. It returns
// the normalized outcome, the iteration count, and the final residual.
func (h *Handle) Solve(m backend.Matrix, params SolveParams, rhs, x []float64) (backend.Convergence, int, float64, error) {
	if h.destroyed {
		panic(fmt.Sprintf("solver: use of destroyed handle %q", h.name))
	}
	if h.solver == nil || h.matrix != m {
		options, err := h.resolveConfig()
		if err != nil {
			return backend.Diverged, 0, 0, err
		}
		// the device engine solves at its configured tolerance
		if params.Precision > 0 && h.engine.Name() != "device" &&
			!strings.Contains(options, "tolerance") {
			if options == "" {
				options = fmt.Sprintf("tolerance=%g", params.Precision)
			} else {
				options += fmt.Sprintf(", tolerance=%g", params.Precision)
			}
		}
		if err := h.bind(m, options); err != nil {
			return backend.Diverged, 0, 0, err
		}
	}

	start := time.Now()
	stats, conv, err := h.solver.Solve(rhs, x)
	h.solveTime += time.Since(start)
	if err != nil {
		return conv, stats.Iterations, stats.Residual, err
	}

	h.nSolves++
	h.lastIter = stats.Iterations
	h.totalIter += stats.Iterations
	if h.nSolves == 1 || stats.Iterations < h.minIter {
		h.minIter = stats.Iterations
	}
	if stats.Iterations > h.maxIter {
		h.maxIter = stats.Iterations
	}

	residual := stats.Residual
	if params.RNorm > 0 {
		residual = residual * floats.Norm(rhs, 2) / params.RNorm
	}
	return conv, stats.Iterations, residual, nil
}

// Free destroys the matrix/solver pair. Statistics and configuration
// survive; a later Setup with a rebuilt matrix continues the counters.
func (h *Handle) Free() {
	if h.solver != nil {
		h.solver.Destroy()
		h.solver = nil
	}
	if h.matrix != nil {
		h.matrix.Destroy()
		h.matrix = nil
	}
}

// Destroy frees the pair, drops the configuration, and releases the
// runtime registration; the last handle to go tears the engine down.
// Destroy is idempotent.
func (h *Handle) Destroy() {
	if h.destroyed {
		return
	}
	h.Free()
	h.config, h.configFile, h.resolved = "", "", ""
	h.configured = false
	h.destroyed = true
	h.rt.release()
}
