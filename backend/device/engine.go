// Package device implements the device-resident backend over gocca
// (OCCA: CUDA, OpenMP, Serial and friends). Insertion stages host-side;
// Assemble merges and uploads the CSR arrays in single bulk transfers,
// and the solver is a conjugate-gradient loop driven from the host over
// OKL kernels.
//
// The engine is deliberately narrower than the host one: scalar fill
// only, inline diagonal, no transformed halo coupling. Everything it
// cannot honor is rejected at creation, before any coefficient reaches
// the device.
package device

import (
	"fmt"

	"github.com/notargets/gocca"
	"github.com/notargets/gosles/backend"
	"github.com/notargets/gosles/partition"
)

const engineName = "device"

// Engine creates device matrices and solvers on one OCCA device. The
// device is owned by the caller (normally the solver runtime) and must
// outlive every matrix created here.
type Engine struct {
	device *gocca.OCCADevice
}

func New(device *gocca.OCCADevice) *Engine {
	if device == nil {
		panic("device: engine needs a device")
	}
	return &Engine{device: device}
}

func (e *Engine) Name() string {
	return engineName
}

func (e *Engine) Format() string {
	return "csr"
}

// Mode reports the OCCA backend the engine runs on
func (e *Engine) Mode() string {
	return e.device.Mode()
}

// CreateMatrix validates the configuration against the device engine's
// capabilities and creates an empty matrix. Block coefficients, separate
// diagonal storage, and transformed halo coupling are unsupported and
// rejected here.
func (e *Engine) CreateMatrix(rm *partition.RowMap, halo *partition.Halo,
	opts backend.MatrixOptions) (backend.Matrix, error) {

	if opts.DiagBlock > 1 {
		return nil, &backend.ConfigurationError{
			Engine: engineName,
			Reason: fmt.Sprintf("block size %d not supported, only scalar fill", opts.DiagBlock),
		}
	}
	if opts.SeparateDiagonal {
		return nil, &backend.ConfigurationError{
			Engine: engineName,
			Reason: "separate diagonal storage not supported, only inline CSR",
		}
	}
	if halo != nil && halo.Transforms > 0 {
		return nil, &backend.ConfigurationError{
			Engine: engineName,
			Reason: fmt.Sprintf("%d halo transforms present, transformed coupling not supported",
				halo.Transforms),
		}
	}
	if opts.ValueType == 0 {
		opts.ValueType = backend.Float64
	}
	if err := rm.Validate(); err != nil {
		return nil, &backend.ConfigurationError{Engine: engineName, Reason: err.Error()}
	}
	if halo != nil {
		if err := halo.Validate(rm); err != nil {
			return nil, &backend.ConfigurationError{Engine: engineName, Reason: err.Error()}
		}
	}

	m := &Matrix{
		device:   e.device,
		vt:       opts.ValueType,
		pin:      opts.PinMemory,
		first:    rm.First,
		last:     rm.Last,
		nRows:    rm.NumOwned(),
		nCols:    rm.NumCols(),
		state:    backend.Initialized,
		ghosts:   append([]uint64(nil), rm.GhostIDs...),
		ghostIdx: make(map[uint64]int, len(rm.GhostIDs)),
	}
	for k, g := range rm.GhostIDs {
		m.ghostIdx[g] = k
	}
	return m, nil
}

// CreateSolver parses the options string and binds a device CG solver to
// an assembled matrix
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
	return newSolver(m, cfg)
}
