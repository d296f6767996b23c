// Package ij implements the host backend: incremental (row, column,
// value) insertion by global coordinates, staged as tagged triples and
// merged on Assemble into a CSR store, with Krylov solves running on the
// host. It is the reference engine the device backend is checked against.
package ij

import (
	"fmt"

	"github.com/notargets/gosles/backend"
	"github.com/notargets/gosles/partition"
)

const engineName = "ij"

// Engine creates host matrices and solvers
type Engine struct{}

func New() *Engine {
	return &Engine{}
}

func (e *Engine) Name() string {
	return engineName
}

func (e *Engine) Format() string {
	return "csr"
}

// CreateMatrix builds an empty host matrix over the block-scaled owned
// range. The engine stores float64 natively; requesting float32 storage is
// a configuration error rather than a silent widening.
func (e *Engine) CreateMatrix(rm *partition.RowMap, halo *partition.Halo,
	opts backend.MatrixOptions) (backend.Matrix, error) {

	if opts.ValueType == 0 {
		opts.ValueType = backend.Float64
	}
	if opts.ValueType != backend.Float64 {
		return nil, &backend.ConfigurationError{
			Engine: engineName,
			Reason: fmt.Sprintf("native width is float64, %s requested", opts.ValueType),
		}
	}
	if opts.DiagBlock < 1 {
		opts.DiagBlock = 1
	}
	if err := rm.Validate(); err != nil {
		return nil, &backend.ConfigurationError{Engine: engineName, Reason: err.Error()}
	}
	if halo != nil {
		if err := halo.Validate(rm); err != nil {
			return nil, &backend.ConfigurationError{Engine: engineName, Reason: err.Error()}
		}
	}

	b := opts.DiagBlock
	first, last := rm.ScalarRange(b)
	m := &Matrix{
		first:    first,
		last:     last,
		nRows:    rm.NumOwned() * b,
		nCols:    rm.NumScalarCols(b),
		block:    b,
		state:    backend.Initialized,
		ghosts:   append([]uint64(nil), rm.GhostIDs...),
		ghostIdx: make(map[uint64]int, len(rm.GhostIDs)),
	}
	for k, g := range rm.GhostIDs {
		m.ghostIdx[g] = k
	}
	return m, nil
}

// CreateSolver parses the options string and binds a Krylov solver to an
// assembled matrix
func (e *Engine) CreateSolver(bm backend.Matrix, options string) (backend.Solver, error) {
	m, ok := bm.(*Matrix)
	if !ok {
		return nil, &backend.ConfigurationError{
			Engine: engineName,
			Reason: fmt.Sprintf("matrix belongs to another engine (%T)", bm),
		}
	}
	if m.state != backend.Assembled {
		return nil, &backend.AssemblyError{
			Engine: engineName,
			Op:     "solver setup",
			Desc:   fmt.Sprintf("matrix is %s, needs assembly first", m.state),
		}
	}
	cfg, err := parseOptions(options)
	if err != nil {
		return nil, err
	}
	return &Solver{m: m, cfg: cfg}, nil
}
