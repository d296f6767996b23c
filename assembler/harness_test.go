package assembler

import (
	"fmt"

	"github.com/notargets/gosles/backend"
	"github.com/notargets/gosles/partition"
)

// recordingMatrix stands in for an engine matrix, capturing every bulk
// call a session makes so tests can inspect exactly what crossed the
// backend boundary
type recordingMatrix struct {
	rm    partition.RowMap
	opts  backend.MatrixOptions
	state backend.MatrixState

	diag, offdiag []int
	setSizesCalls int

	entries   map[[2]uint64]float64
	addChunks int
	setChunks int
	assembles int
	maxChunkN int
	destroyed bool
}

func (m *recordingMatrix) State() backend.MatrixState   { return m.state }
func (m *recordingMatrix) ValueType() backend.ValueType { return m.opts.ValueType }

func (m *recordingMatrix) NumRows() int {
	return m.rm.NumOwned() * m.opts.DiagBlock
}

func (m *recordingMatrix) NumCols() int {
	return m.rm.NumScalarCols(m.opts.DiagBlock)
}

func (m *recordingMatrix) GlobalRange() (uint64, uint64) {
	return m.rm.ScalarRange(m.opts.DiagBlock)
}

func (m *recordingMatrix) SetSizes(diag, offdiag []int) error {
	m.setSizesCalls++
	m.diag = append([]int(nil), diag...)
	m.offdiag = append([]int(nil), offdiag...)
	return nil
}

func (m *recordingMatrix) absorb(c *backend.Chunk, overwrite bool) {
	if c.N > m.maxChunkN {
		m.maxChunkN = c.N
	}
	for k := 0; k < c.N; k++ {
		key := [2]uint64{c.Rows[k], c.Cols[k]}
		var v float64
		if c.V64 != nil {
			v = c.V64[k]
		} else {
			v = float64(c.V32[k])
		}
		if overwrite {
			m.entries[key] = v
		} else {
			m.entries[key] += v
		}
	}
}

func (m *recordingMatrix) AddChunk(c *backend.Chunk) error {
	m.addChunks++
	m.absorb(c, false)
	return nil
}

func (m *recordingMatrix) SetChunk(c *backend.Chunk) error {
	m.setChunks++
	m.absorb(c, true)
	return nil
}

func (m *recordingMatrix) Assemble() error {
	m.assembles++
	m.state = backend.Assembled
	return nil
}

func (m *recordingMatrix) MatVec(x, y []float64) error  { return nil }
func (m *recordingMatrix) Diagonal(d []float64) error   { return nil }
func (m *recordingMatrix) Diagonal32(d []float32) error { return nil }
func (m *recordingMatrix) NNZ() int                     { return len(m.entries) }
func (m *recordingMatrix) Destroy() error               { m.destroyed = true; return nil }

// recordingEngine hands out recording matrices
type recordingEngine struct {
	created []*recordingMatrix
}

func (e *recordingEngine) Name() string   { return "recording" }
func (e *recordingEngine) Format() string { return "map" }

func (e *recordingEngine) CreateMatrix(rm *partition.RowMap, halo *partition.Halo,
	opts backend.MatrixOptions) (backend.Matrix, error) {
	m := &recordingMatrix{
		rm:      *rm,
		opts:    opts,
		state:   backend.Initialized,
		entries: make(map[[2]uint64]float64),
	}
	e.created = append(e.created, m)
	return m, nil
}

func (e *recordingEngine) CreateSolver(m backend.Matrix, options string) (backend.Solver, error) {
	return nil, fmt.Errorf("recording: solver not supported")
}

// chainSystem builds the owned middle of a 1-D chain: four owned rows
// with global ids [10, 14), local columns 0..3, ghost columns 4 (global
// 14, right neighbor) and 5 (global 9, left neighbor). Row 0 couples
// left, row 3 couples right, and every row lists itself.
func chainSystem(block BlockSpec, separateDiag bool) *System {
	return &System{
		RowMap: partition.RowMap{First: 10, Last: 14, GhostIDs: []uint64{14, 9}},
		Adj: Adjacency{
			RowIndex: []int{0, 3, 6, 9, 12},
			ColID:    []int{0, 1, 5, 0, 1, 2, 1, 2, 3, 2, 3, 4},
		},
		Block:            block,
		SeparateDiagonal: separateDiag,
	}
}

// chainEdges is the edge-graph form of chainSystem's coupling, local
// indices, diagonal excluded
func chainEdges() [][2]int {
	return [][2]int{{0, 1}, {1, 2}, {2, 3}, {3, 4}, {0, 5}}
}
