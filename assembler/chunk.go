package assembler

import (
	"fmt"

	"github.com/notargets/gosles/backend"
	"github.com/notargets/gosles/partition"
)

// DefaultChunkSize bounds how many scalar entries one bulk call carries to
// an engine. Batches of any length are split transparently; the staging
// buffers are reused across chunks.
const DefaultChunkSize = 512

// Value constrains the floating-point widths callers may supply
// coefficients in
type Value interface {
	~float32 | ~float64
}

// expandKind selects how one contribution becomes scalar entries
type expandKind int

const (
	// one entry per contribution
	expandScalar expandKind = iota
	// dense b x b block: b^2 entries addressed (row*b+j, col*b+k)
	expandFull
	// block-diagonal coupling: one value replicated onto (row*b+j, col*b+j)
	expandDiagOnly
)

// chunkIter walks one caller batch, expanding block contributions,
// dropping rows the ownership filter rejects, converting values to the
// engine's width, and yielding bounded chunks until the batch is
// exhausted. Each Add/Set call gets a fresh iterator over the session's
// reused chunk buffers.
type chunkIter[T Value] struct {
	out    *backend.Chunk
	cap    int
	filter partition.RowFilter
	kind   expandKind
	block  int
	stride int

	// requireDiag enforces row == col per contribution, the contract for
	// dense-block batches under block-diagonal fill
	requireDiag bool

	rows, cols []uint64
	vals       []T
	pos        int
	err        error
}

func newChunkIter[T Value](out *backend.Chunk, capacity int,
	filter partition.RowFilter, kind expandKind, block, stride int,
	requireDiag bool, rows, cols []uint64, vals []T) *chunkIter[T] {

	return &chunkIter[T]{
		out:         out,
		cap:         capacity,
		filter:      filter,
		kind:        kind,
		block:       block,
		stride:      stride,
		requireDiag: requireDiag,
		rows:        rows,
		cols:        cols,
		vals:        vals,
	}
}

// expansion returns the scalar entries one contribution yields
func (it *chunkIter[T]) expansion() int {
	switch it.kind {
	case expandFull:
		return it.block * it.block
	case expandDiagOnly:
		return it.block
	}
	return 1
}

// put writes one scalar entry in the engine's width
func (it *chunkIter[T]) put(row, col uint64, v T) {
	n := it.out.N
	it.out.Rows[n] = row
	it.out.Cols[n] = col
	if it.out.V64 != nil {
		it.out.V64[n] = float64(v)
	} else {
		it.out.V32[n] = float32(v)
	}
	it.out.N = n + 1
}

// Next fills the chunk with the next bounded group of entries. It returns
// false when the batch is exhausted or an error stopped expansion.
func (it *chunkIter[T]) Next() bool {
	if it.err != nil {
		return false
	}
	e := it.expansion()
	it.out.N = 0
	b := uint64(it.block)

	for it.pos < len(it.rows) && it.out.N+e <= it.cap {
		i := it.pos
		it.pos++

		r := it.rows[i]
		if !it.filter.Keep(r) {
			// owned elsewhere; the owning rank inserts it
			continue
		}
		c := it.cols[i]

		switch it.kind {
		case expandScalar:
			it.put(r, c, it.vals[i])

		case expandFull:
			if it.requireDiag && r != c {
				it.err = &backend.ConfigurationError{
					Engine: "assembler",
					Reason: fmt.Sprintf("dense-block batch under block-diagonal fill "+
						"holds off-diagonal contribution (%d, %d)", r, c),
				}
				return it.out.N > 0
			}
			base := i * it.stride
			for j := uint64(0); j < b; j++ {
				for k := uint64(0); k < b; k++ {
					it.put(r*b+j, c*b+k, it.vals[base+int(j*b+k)])
				}
			}

		case expandDiagOnly:
			for j := uint64(0); j < b; j++ {
				it.put(r*b+j, c*b+j, it.vals[i])
			}
		}
	}

	return it.out.N > 0
}

// Chunk returns the current chunk; valid until the next call to Next
func (it *chunkIter[T]) Chunk() *backend.Chunk {
	return it.out
}

// Err reports the expansion error that stopped iteration, if any
func (it *chunkIter[T]) Err() error {
	return it.err
}

// newChunkBuffers allocates the reusable staging arrays for one session in
// the engine's native width
func newChunkBuffers(size int, vt backend.ValueType) *backend.Chunk {
	c := &backend.Chunk{
		Rows: make([]uint64, size),
		Cols: make([]uint64, size),
	}
	if vt == backend.Float32 {
		c.V32 = make([]float32, size)
	} else {
		c.V64 = make([]float64, size)
	}
	return c
}
