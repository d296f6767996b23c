package device

import (
	"fmt"
	"math"
	"sort"
	"unsafe"

	"github.com/notargets/gocca"
	"github.com/notargets/gosles/backend"
)

// staged is the host-side triple log kept until Assemble uploads
type staged struct {
	rows []int
	cols []int
	vals []float64
	set  []bool
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

// Matrix is the device matrix. Coefficients stage host-side as tagged
// triples; the first Assemble merges them, uploads row pointers, column
// indices, and values as single bulk transfers, compiles the kernels
// against the matrix dimensions, and creates the paired device work
// vectors. Re-assembly after further insertion refreshes host values and
// re-uploads the value array only; the pattern never moves again.
type Matrix struct {
	device *gocca.OCCADevice
	vt     backend.ValueType
	pin    bool

	first, last uint64
	nRows       int
	nCols       int
	state       backend.MatrixState

	ghosts   []uint64
	ghostIdx map[uint64]int

	st staged

	// host master copy of the frozen CSR; values here are authoritative,
	// the device array mirrors them after each Assemble
	ia   []int32
	ja   []int32
	data []float64

	dRowPtr *gocca.OCCAMemory
	dColInd *gocca.OCCAMemory
	dVals   *gocca.OCCAMemory

	// paired work vectors for products and diagnostics
	dWx *gocca.OCCAMemory // owned + ghost columns
	dWy *gocca.OCCAMemory // owned rows

	kernels map[string]*gocca.OCCAKernel

	// width-conversion staging, retained between transfers when pinned
	pinned []float32
}

// Methods for Matrix

func (m *Matrix) State() backend.MatrixState   { return m.state }
func (m *Matrix) ValueType() backend.ValueType { return m.vt }
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

func (m *Matrix) localCol(s uint64) (int, bool) {
	if s >= m.first && s < m.last {
		return int(s - m.first), true
	}
	k, ok := m.ghostIdx[s]
	if !ok {
		return 0, false
	}
	return m.nRows + k, true
}

func (m *Matrix) globalCol(local int) uint64 {
	if local < m.nRows {
		return m.first + uint64(local)
	}
	return m.ghosts[local-m.nRows]
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
		if c.V32 != nil {
			v = float64(c.V32[k])
		} else {
			v = c.V64[k]
		}
		m.st.push(int(r-m.first), col, v, overwrite)
	}
	return nil
}

func (m *Matrix) AddChunk(c *backend.Chunk) error {
	return m.stage(c, false)
}

func (m *Matrix) SetChunk(c *backend.Chunk) error {
	return m.stage(c, true)
}

// merge sorts the staged triples and resolves duplicates in insertion
// order, producing the host CSR arrays
func (m *Matrix) merge() {
	st := &m.st
	idx := make([]int, len(st.rows))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		ka, kb := idx[a], idx[b]
		if st.rows[ka] != st.rows[kb] {
			return st.rows[ka] < st.rows[kb]
		}
		return st.cols[ka] < st.cols[kb]
	})

	rowCount := make([]int32, m.nRows)
	ja := make([]int32, 0, len(idx))
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
		ja = append(ja, int32(c))
		data = append(data, v)
	}

	ia := make([]int32, m.nRows+1)
	for r, n := range rowCount {
		ia[r+1] = ia[r] + n
	}
	m.ia, m.ja, m.data = ia, ja, data
}

func (m *Matrix) find(row, col int) int {
	lo, hi := int(m.ia[row]), int(m.ia[row+1])
	c := int32(col)
	for lo < hi {
		mid := (lo + hi) / 2
		if m.ja[mid] < c {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	if lo < int(m.ia[row+1]) && m.ja[lo] == c {
		return lo
	}
	return -1
}

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

// f32buf hands out the width-conversion staging buffer; with the pinning
// hint set, one buffer persists across transfers
func (m *Matrix) f32buf(n int) []float32 {
	if m.pin && cap(m.pinned) >= n {
		return m.pinned[:n]
	}
	buf := make([]float32, n)
	if m.pin {
		m.pinned = buf
	}
	return buf
}

// uploadValues mirrors the host value array onto the device in one
// transfer, converting to the native width when needed
func (m *Matrix) uploadValues() {
	if len(m.data) == 0 {
		return
	}
	if m.vt == backend.Float32 {
		buf := m.f32buf(len(m.data))
		for i, v := range m.data {
			buf[i] = float32(v)
		}
		m.dVals.CopyFrom(unsafe.Pointer(&buf[0]), int64(len(buf))*4)
	} else {
		m.dVals.CopyFrom(unsafe.Pointer(&m.data[0]), int64(len(m.data))*8)
	}
}

// mallocValues allocates the device value array sized to the pattern
func (m *Matrix) mallocValues() *gocca.OCCAMemory {
	n := len(m.data)
	if n == 0 {
		n = 1
	}
	return m.device.Malloc(int64(n)*int64(m.vt.Size()), nil, nil)
}

// mallocVector allocates a zero-filled device vector in the native width
func (m *Matrix) mallocVector(n int) *gocca.OCCAMemory {
	if n == 0 {
		n = 1
	}
	if m.vt == backend.Float32 {
		z := make([]float32, n)
		return m.device.Malloc(int64(n)*4, unsafe.Pointer(&z[0]), nil)
	}
	z := make([]float64, n)
	return m.device.Malloc(int64(n)*8, unsafe.Pointer(&z[0]), nil)
}

// uploadVector writes len(v) leading entries of a device vector
func (m *Matrix) uploadVector(mem *gocca.OCCAMemory, v []float64) {
	if len(v) == 0 {
		return
	}
	if m.vt == backend.Float32 {
		buf := m.f32buf(len(v))
		for i, x := range v {
			buf[i] = float32(x)
		}
		mem.CopyFrom(unsafe.Pointer(&buf[0]), int64(len(v))*4)
	} else {
		mem.CopyFrom(unsafe.Pointer(&v[0]), int64(len(v))*8)
	}
}

// downloadVector reads len(v) leading entries of a device vector
func (m *Matrix) downloadVector(mem *gocca.OCCAMemory, v []float64) {
	if len(v) == 0 {
		return
	}
	if m.vt == backend.Float32 {
		buf := m.f32buf(len(v))
		mem.CopyTo(unsafe.Pointer(&buf[0]), int64(len(v))*4)
		for i, x := range buf {
			v[i] = float64(x)
		}
	} else {
		mem.CopyTo(unsafe.Pointer(&v[0]), int64(len(v))*8)
	}
}

func (m *Matrix) run(name string, args ...interface{}) error {
	if err := m.kernels[name].RunWithArgs(args...); err != nil {
		return &backend.AssemblyError{
			Engine: engineName,
			Op:     name,
			Desc:   err.Error(),
		}
	}
	return nil
}

// Assemble merges and uploads. The first call freezes the pattern,
// transfers all three CSR arrays, compiles the kernels, and creates the
// work vectors; later calls fold new insertions into the frozen pattern
// and re-upload values only.
func (m *Matrix) Assemble() error {
	switch m.state {
	case backend.Empty:
		return &backend.AssemblyError{Engine: engineName, Op: "assemble", Desc: "matrix destroyed"}

	case backend.Assembled:
		if err := m.reassemble(); err != nil {
			return err
		}
		m.uploadValues()

	default:
		m.merge()

		m.dRowPtr = m.device.Malloc(int64(len(m.ia))*4, unsafe.Pointer(&m.ia[0]), nil)
		if len(m.ja) > 0 {
			m.dColInd = m.device.Malloc(int64(len(m.ja))*4, unsafe.Pointer(&m.ja[0]), nil)
		} else {
			dummy := []int32{0}
			m.dColInd = m.device.Malloc(4, unsafe.Pointer(&dummy[0]), nil)
		}
		m.dVals = m.mallocValues()
		m.uploadValues()

		m.dWx = m.mallocVector(m.nCols)
		m.dWy = m.mallocVector(m.nRows)

		kernels, err := buildKernels(m.device, generatePreamble(m.vt, m.nRows, m.nCols))
		if err != nil {
			return err
		}
		m.kernels = kernels
		m.state = backend.Assembled
	}

	m.st.reset()
	if !m.pin {
		m.pinned = nil
	}
	return nil
}

// MatVec computes y = A·x through the device work vectors: upload x, one
// SpMV launch, download y
func (m *Matrix) MatVec(x, y []float64) error {
	if m.state != backend.Assembled {
		return &backend.AssemblyError{
			Engine: engineName, Op: "matvec",
			Desc: fmt.Sprintf("matrix is %s", m.state),
		}
	}
	if len(x) != m.nCols || len(y) != m.nRows {
		panic(fmt.Sprintf("device: matvec with %d/%d vector lengths, matrix is %dx%d",
			len(x), len(y), m.nRows, m.nCols))
	}
	m.uploadVector(m.dWx, x)
	if err := m.run("csrSpMV", m.dRowPtr, m.dColInd, m.dVals, m.dWx, m.dWy); err != nil {
		return err
	}
	m.device.Finish()
	m.downloadVector(m.dWy, y)
	return nil
}

// Diagonal extracts the owned diagonal through the device work vector
func (m *Matrix) Diagonal(d []float64) error {
	if m.state != backend.Assembled {
		return &backend.AssemblyError{
			Engine: engineName, Op: "diagonal",
			Desc: fmt.Sprintf("matrix is %s", m.state),
		}
	}
	if len(d) != m.nRows {
		panic(fmt.Sprintf("device: diagonal buffer %d, matrix has %d rows", len(d), m.nRows))
	}
	if err := m.run("diagExtract", m.dRowPtr, m.dColInd, m.dVals, m.dWy); err != nil {
		return err
	}
	m.device.Finish()
	m.downloadVector(m.dWy, d)
	return nil
}

// Diagonal32 extracts the owned diagonal with width conversion
func (m *Matrix) Diagonal32(d []float32) error {
	tmp := make([]float64, len(d))
	if err := m.Diagonal(tmp); err != nil {
		return err
	}
	for i, v := range tmp {
		d[i] = float32(v)
	}
	return nil
}

// NNZ returns the assembled nonzero count, 0 before assembly
func (m *Matrix) NNZ() int {
	if m.state != backend.Assembled {
		return 0
	}
	return len(m.ja)
}

// Destroy releases all device storage; the matrix is unusable afterwards
func (m *Matrix) Destroy() error {
	for _, mem := range []*gocca.OCCAMemory{m.dRowPtr, m.dColInd, m.dVals, m.dWx, m.dWy} {
		if mem != nil {
			mem.Free()
		}
	}
	m.dRowPtr, m.dColInd, m.dVals, m.dWx, m.dWy = nil, nil, nil, nil, nil
	if m.kernels != nil {
		freeKernels(m.kernels)
		m.kernels = nil
	}
	m.st = staged{}
	m.ia, m.ja, m.data = nil, nil, nil
	m.pinned = nil
	m.state = backend.Empty
	return nil
}

func isBad(v float64) bool {
	return math.IsNaN(v) || math.IsInf(v, 0)
}
