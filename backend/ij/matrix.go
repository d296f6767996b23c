package ij

import (
	"fmt"
	"sort"

	"github.com/james-bowman/sparse"
	"github.com/notargets/gosles/backend"
)

// staged is the pre-assembly triple log. Entries keep insertion order so
// mixed accumulate/overwrite sequences resolve the way they arrived.
type staged struct {
	rows []int // local scalar row
	cols []int // local scalar column (owned, then ghosts)
	vals []float64
	set  []bool // overwrite instead of accumulate
}

func (st *staged) push(row, col int, v float64, overwrite bool) {
	st.rows = append(st.rows, row)
	st.cols = append(st.cols, col)
	st.vals = append(st.vals, v)
	st.set = append(st.set, overwrite)
}

func (st *staged) reset() {
	st.rows = st.rows[:0]
	st.cols = st.cols[:0]
	st.vals = st.vals[:0]
	st.set = st.set[:0]
}

// Matrix is the host matrix: a triple log before assembly, a CSR store
// afterwards. The pattern freezes on the first Assemble; later insertions
// stage again and merge into the frozen pattern on the next Assemble.
type Matrix struct {
	first, last uint64 // owned global scalar row range
	nRows       int
	nCols       int
	block       int
	state       backend.MatrixState

	ghosts   []uint64       // ghost mesh ids, for diagnostics
	ghostIdx map[uint64]int // ghost mesh id -> ordinal

	st staged

	// frozen CSR after the first Assemble
	ia   []int
	ja   []int
	data []float64
	csr  *sparse.CSR

	// paired work vectors, created on the first Assemble
	wx []float64 // local + ghost columns
	wy []float64 // owned rows
}

// Methods for Matrix

func (m *Matrix) State() backend.MatrixState   { return m.state }
func (m *Matrix) ValueType() backend.ValueType { return backend.Float64 }
func (m *Matrix) NumRows() int                 { return m.nRows }
func (m *Matrix) NumCols() int                 { return m.nCols }

func (m *Matrix) GlobalRange() (uint64, uint64) {
	return m.first, m.last
}

// SetSizes consumes the per-row slot hints as a staging capacity
func (m *Matrix) SetSizes(diag, offdiag []int) error {
	total := 0
	for _, n := range diag {
		total += n
	}
	for _, n := range offdiag {
		total += n
	}
	if cap(m.st.rows) < total {
		m.st.rows = make([]int, 0, total)
		m.st.cols = make([]int, 0, total)
		m.st.vals = make([]float64, 0, total)
		m.st.set = make([]bool, 0, total)
	}
	return nil
}

// localCol translates a global scalar column id to the local column index:
// owned columns first, ghost columns after them in ghost order
func (m *Matrix) localCol(s uint64) (int, bool) {
	if s >= m.first && s < m.last {
		return int(s - m.first), true
	}
	b := uint64(m.block)
	k, ok := m.ghostIdx[s/b]
	if !ok {
		return 0, false
	}
	return m.nRows + k*m.block + int(s%b), true
}

func (m *Matrix) globalCol(local int) uint64 {
	if local < m.nRows {
		return m.first + uint64(local)
	}
	g := local - m.nRows
	return m.ghosts[g/m.block]*uint64(m.block) + uint64(g%m.block)
}

func (m *Matrix) stage(c *backend.Chunk, overwrite bool) error {
	if m.state == backend.Empty {
		return &backend.AssemblyError{Engine: engineName, Op: "insert", Desc: "matrix destroyed"}
	}
	for k := 0; k < c.N; k++ {
		r := c.Rows[k]
		if r < m.first || r >= m.last {
			return &backend.AssemblyError{
				Engine: engineName,
				Op:     "insert",
				Desc:   fmt.Sprintf("row %d outside owned range [%d, %d)", r, m.first, m.last),
			}
		}
		col, ok := m.localCol(c.Cols[k])
		if !ok {
			return &backend.AssemblyError{
				Engine: engineName,
				Op:     "insert",
				Desc:   fmt.Sprintf("column %d is neither owned nor a known ghost", c.Cols[k]),
			}
		}
		var v float64
		if c.V64 != nil {
			v = c.V64[k]
		} else {
			v = float64(c.V32[k])
		}
		m.st.push(int(r-m.first), col, v, overwrite)
	}
	return nil
}

// AddChunk stages a chunk with accumulate semantics
func (m *Matrix) AddChunk(c *backend.Chunk) error {
	return m.stage(c, false)
}

// SetChunk stages a chunk with overwrite semantics
func (m *Matrix) SetChunk(c *backend.Chunk) error {
	return m.stage(c, true)
}

// Assemble merges the staged triples. The first call sorts them, resolves
// duplicates in insertion order, freezes the sparsity pattern, and creates
// the paired work vectors; later calls fold newly staged triples into the
// frozen pattern and reject coordinates outside it.
func (m *Matrix) Assemble() error {
	switch m.state {
	case backend.Empty:
		return &backend.AssemblyError{Engine: engineName, Op: "assemble", Desc: "matrix destroyed"}
	case backend.Assembled:
		if err := m.reassemble(); err != nil {
			return err
		}
	default:
		m.merge()
		m.wx = make([]float64, m.nCols)
		m.wy = make([]float64, m.nRows)
		m.state = backend.Assembled
	}

	m.st.reset()
	m.csr = sparse.NewCSR(m.nRows, m.nCols, m.ia, m.ja, m.data)
	return nil
}

// merge builds CSR arrays from the staged triples
func (m *Matrix) merge() {
	st := &m.st
	idx := make([]int, len(st.rows))
	for i := range idx {
		idx[i] = i
	}
	// stable: ties keep insertion order, so overwrite resolution is exact
	sort.SliceStable(idx, func(a, b int) bool {
		ka, kb := idx[a], idx[b]
		if st.rows[ka] != st.rows[kb] {
			return st.rows[ka] < st.rows[kb]
		}
		return st.cols[ka] < st.cols[kb]
	})

	rowCount := make([]int, m.nRows)
	ja := make([]int, 0, len(idx))
	data := make([]float64, 0, len(idx))

	for i := 0; i < len(idx); {
		k := idx[i]
		r, c := st.rows[k], st.cols[k]
		var v float64
		for ; i < len(idx) && st.rows[idx[i]] == r && st.cols[idx[i]] == c; i++ {
			k = idx[i]
			if st.set[k] {
				v = st.vals[k]
			} else {
				v += st.vals[k]
			}
		}
		rowCount[r]++
		ja = append(ja, c)
		data = append(data, v)
	}

	ia := make([]int, m.nRows+1)
	for r, n := range rowCount {
		ia[r+1] = ia[r] + n
	}
	m.ia, m.ja, m.data = ia, ja, data
}

// find locates a column in an assembled row, -1 when absent
func (m *Matrix) find(row, col int) int {
	lo, hi := m.ia[row], m.ia[row+1]
	for lo < hi {
		mid := (lo + hi) / 2
		if m.ja[mid] < col {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	if lo < m.ia[row+1] && m.ja[lo] == col {
		return lo
	}
	return -1
}

// reassemble folds post-assembly insertions into the frozen pattern
func (m *Matrix) reassemble() error {
	st := &m.st
	for i := range st.rows {
		pos := m.find(st.rows[i], st.cols[i])
		if pos < 0 {
			return &backend.AssemblyError{
				Engine: engineName,
				Op:     "assemble",
				Desc: fmt.Sprintf("entry (%d, %d) outside the assembled pattern",
					m.first+uint64(st.rows[i]), m.globalCol(st.cols[i])),
			}
		}
		if st.set[i] {
			m.data[pos] = st.vals[i]
		} else {
			m.data[pos] += st.vals[i]
		}
	}
	return nil
}

// spmv computes y = A·x over the local columns
func (m *Matrix) spmv(x, y []float64) {
	for i := range y {
		y[i] = 0
	}
	m.csr.DoNonZero(func(i, j int, v float64) {
		y[i] += v * x[j]
	})
}

// MatVec computes y = A·x for a dense x spanning owned plus ghost columns.
// The product runs through the paired work vectors created at assembly.
func (m *Matrix) MatVec(x, y []float64) error {
	if m.state != backend.Assembled {
		return &backend.AssemblyError{
			Engine: engineName, Op: "matvec",
			Desc: fmt.Sprintf("matrix is %s", m.state),
		}
	}
	if len(x) != m.nCols || len(y) != m.nRows {
		panic(fmt.Sprintf("ij: matvec with %d/%d vector lengths, matrix is %dx%d",
			len(x), len(y), m.nRows, m.nCols))
	}
	copy(m.wx, x)
	m.spmv(m.wx, m.wy)
	copy(y, m.wy)
	return nil
}

// Diagonal extracts the owned diagonal
func (m *Matrix) Diagonal(d []float64) error {
	if m.state != backend.Assembled {
		return &backend.AssemblyError{
			Engine: engineName, Op: "diagonal",
			Desc: fmt.Sprintf("matrix is %s", m.state),
		}
	}
	if len(d) != m.nRows {
		panic(fmt.Sprintf("ij: diagonal buffer %d, matrix has %d rows", len(d), m.nRows))
	}
	for i := 0; i < m.nRows; i++ {
		d[i] = m.csr.At(i, i)
	}
	return nil
}

// Diagonal32 extracts the owned diagonal with width conversion
func (m *Matrix) Diagonal32(d []float32) error {
	if m.state != backend.Assembled {
		return &backend.AssemblyError{
			Engine: engineName, Op: "diagonal",
			Desc: fmt.Sprintf("matrix is %s", m.state),
		}
	}
	if len(d) != m.nRows {
		panic(fmt.Sprintf("ij: diagonal buffer %d, matrix has %d rows", len(d), m.nRows))
	}
	for i := 0; i < m.nRows; i++ {
		d[i] = float32(m.csr.At(i, i))
	}
	return nil
}

// NNZ returns the assembled nonzero count, 0 before assembly
func (m *Matrix) NNZ() int {
	if m.csr == nil {
		return 0
	}
	return m.csr.NNZ()
}

// Destroy releases the store; the matrix is unusable afterwards
func (m *Matrix) Destroy() error {
	m.st = staged{}
	m.ia, m.ja, m.data = nil, nil, nil
	m.csr = nil
	m.wx, m.wy = nil, nil
	m.state = backend.Empty
	return nil
}
