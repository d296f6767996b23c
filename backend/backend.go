// Package backend defines the contract every linear-solver engine adapter
// satisfies: matrix creation over a row-ownership range, chunked coefficient
// insertion, assembly finalization, matrix-vector products, diagnostics
// extraction, and solve with normalized convergence reporting.
//
// Two engines implement it: an incremental host engine (backend/ij) and a
// device-resident engine (backend/device). The assembler drives either
// through these interfaces without knowing which it holds.
package backend

import (
	"github.com/notargets/gosles/partition"
)

// ValueType identifies the floating-point width an engine stores natively.
// Coefficients arriving in the other width are converted element-wise by
// the chunk layer before they reach the engine.
type ValueType int

const (
	Float32 ValueType = iota + 1
	Float64
)

// Size returns the width in bytes
func (vt ValueType) Size() int {
	if vt == Float32 {
		return 4
	}
	return 8
}

func (vt ValueType) String() string {
	switch vt {
	case Float32:
		return "float32"
	case Float64:
		return "float64"
	}
	return "unknown"
}

// MatrixState tracks the lifecycle of a backend matrix
type MatrixState int

const (
	// Empty: no backend storage exists yet
	Empty MatrixState = iota
	// Initialized: storage created, ownership range fixed, accepting inserts
	Initialized
	// Assembled: pattern frozen, work vectors exist, SpMv and solve enabled
	Assembled
)

func (s MatrixState) String() string {
	switch s {
	case Empty:
		return "empty"
	case Initialized:
		return "initialized"
	case Assembled:
		return "assembled"
	}
	return "invalid"
}

// Convergence is the normalized outcome of an engine solve
type Convergence int

const (
	Converged Convergence = iota
	Diverged
	MaxIterationsReached
	// StillIterating is only meaningful to callers polling a solve in
	// progress; a completed Solve never returns it
	StillIterating
)

func (c Convergence) String() string {
	switch c {
	case Converged:
		return "converged"
	case Diverged:
		return "diverged"
	case MaxIterationsReached:
		return "max iterations reached"
	case StillIterating:
		return "still iterating"
	}
	return "invalid"
}

// Chunk is one bounded batch of scalar coefficient entries, already block
// expanded, ownership filtered, and width converted for the receiving
// engine. Exactly one of V64/V32 is populated, matching the engine's
// ValueType. The backing arrays are reused between chunks; engines must
// copy what they keep.
type Chunk struct {
	N    int
	Rows []uint64 // global scalar row ids, length >= N
	Cols []uint64 // global scalar column ids, length >= N
	V64  []float64
	V32  []float32
}

// SolveStats reports what an engine solve did
type SolveStats struct {
	Iterations int
	Residual   float64
}

// MatrixOptions carries the creation-time parameters an engine needs to
// size, validate, and lay out its storage
type MatrixOptions struct {
	// Scalar degrees of freedom per row in the diagonal block (>= 1)
	DiagBlock int
	// Scalar degrees of freedom coupled in off-diagonal blocks
	// (1 = diagonal-only coupling, DiagBlock = dense block coupling)
	ExtraBlock int

	// Native storage width requested; engines may restrict the choice
	ValueType ValueType

	// Reserve explicit diagonal storage held apart from the neighbor list
	SeparateDiagonal bool

	// Keep transfer staging buffers alive between bulk calls. A pure
	// performance hint; engines without a transfer stage ignore it.
	PinMemory bool
}

// Matrix is the engine-side matrix handle the assembler session drives
type Matrix interface {
	State() MatrixState
	ValueType() ValueType

	// NumRows returns the owned scalar row count, NumCols the owned plus
	// ghost scalar column count; GlobalRange the owned scalar row range
	NumRows() int
	NumCols() int
	GlobalRange() (first, last uint64)

	// SetSizes passes per-row nonzero hints (diagonal block vs off-diagonal
	// block), sized rows*blockMultiplicity. The engine consumes the hint
	// and must not retain the slices.
	SetSizes(diag, offdiag []int) error

	// AddChunk accumulates a chunk of entries; SetChunk overwrites
	// (direct assembly). Both may be called any number of times before
	// Assemble; AddChunk alone may also be called after Assemble, but only
	// for coordinates already in the pattern.
	AddChunk(c *Chunk) error
	SetChunk(c *Chunk) error

	// Assemble sorts and merges staged entries, freezes the sparsity
	// pattern, and on first call creates the paired work vectors used for
	// repeated products
	Assemble() error

	// MatVec computes y = A·x for dense x of NumCols scalars, writing
	// NumRows scalars. Requires Assembled state.
	MatVec(x, y []float64) error

	// Diagonal extracts the matrix diagonal into d (NumRows scalars).
	// Diagonal32 is the width-converted variant for float32 callers.
	Diagonal(d []float64) error
	Diagonal32(d []float32) error

	// NNZ returns the assembled local nonzero count (0 before assembly)
	NNZ() int

	Destroy() error
}

// Solver is an engine solver bound to one assembled matrix
type Solver interface {
	// Solve runs the engine on rhs, using x as the initial guess and
	// writing the solution into it. Non-convergence is reported through
	// the Convergence value, not the error.
	Solve(rhs, x []float64) (SolveStats, Convergence, error)

	Destroy() error
}

// Engine creates matrices and solvers for one backend implementation
type Engine interface {
	// Name identifies the engine in diagnostics and logs
	Name() string
	// Format names the engine's assembled storage layout for logs
	Format() string

	// CreateMatrix validates the requested configuration against the
	// engine's capabilities and creates an empty matrix over the owned
	// range. Unsupported block sizes, layouts, or halo transforms return
	// a *ConfigurationError before any storage is touched.
	CreateMatrix(rm *partition.RowMap, halo *partition.Halo, opts MatrixOptions) (Matrix, error)

	// CreateSolver parses the engine options string and binds a solver to
	// an assembled matrix
	CreateSolver(m Matrix, options string) (Solver, error)
}
