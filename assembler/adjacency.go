// Package assembler converts streams of cellwise coefficient contributions
// into assembled backend matrices. It owns the four-phase session protocol
// (init, add, begin, end), the per-row nonzero size estimation backends
// need before allocation, and the chunking layer that bounds, filters,
// block-expands, and width-converts every insertion.
package assembler

import (
	"fmt"

	"github.com/notargets/gosles/backend"
	"github.com/notargets/gosles/partition"
)

// Adjacency is the local sparsity graph: per-row neighbor lists in
// compressed form. RowIndex has one entry per row plus a terminator;
// row i's neighbor column ids are ColID[RowIndex[i]:RowIndex[i+1]].
// Column ids are local indices; ids >= the row count denote ghost columns.
// The explicit diagonal may or may not appear as a self neighbor, matching
// how the discretization stores it.
type Adjacency struct {
	RowIndex []int
	ColID    []int
}

// NumRows returns the number of rows described
func (a Adjacency) NumRows() int {
	if len(a.RowIndex) == 0 {
		return 0
	}
	return len(a.RowIndex) - 1
}

// Row returns row i's neighbor column ids
func (a Adjacency) Row(i int) []int {
	return a.ColID[a.RowIndex[i]:a.RowIndex[i+1]]
}

// NNZ returns the total neighbor count
func (a Adjacency) NNZ() int {
	return len(a.ColID)
}

// Validate checks structural consistency against a local column count
func (a Adjacency) Validate(numCols int) error {
	n := a.NumRows()
	if n == 0 {
		return fmt.Errorf("adjacency: empty row index")
	}
	if a.RowIndex[0] != 0 {
		return fmt.Errorf("adjacency: row index must start at 0, got %d", a.RowIndex[0])
	}
	for i := 0; i < n; i++ {
		if a.RowIndex[i+1] < a.RowIndex[i] {
			return fmt.Errorf("adjacency: row %d has negative extent", i)
		}
	}
	if a.RowIndex[n] != len(a.ColID) {
		return fmt.Errorf("adjacency: row index ends at %d, have %d column ids",
			a.RowIndex[n], len(a.ColID))
	}
	for j, c := range a.ColID {
		if c < 0 || c >= numCols {
			return fmt.Errorf("adjacency: column id %d at position %d outside %d local columns",
				c, j, numCols)
		}
	}
	return nil
}

// AdjacencyFromEdges builds per-row neighbor lists from a symmetric edge
// graph over local indices, the layout face-based discretizations carry
// natively. Each edge (i, j) makes j a neighbor of i and i a neighbor of
// j, for whichever endpoints are owned rows (< nRows). When haveDiag is
// set every row also lists itself. Neighbor lists come out sorted, so
// owned columns precede ghosts.
func AdjacencyFromEdges(nRows int, edges [][2]int, haveDiag bool) Adjacency {
	counts := make([]int, nRows+1)
	if haveDiag {
		for i := 0; i < nRows; i++ {
			counts[i+1]++
		}
	}
	for _, e := range edges {
		if e[0] < nRows {
			counts[e[0]+1]++
		}
		if e[1] < nRows {
			counts[e[1]+1]++
		}
	}
	for i := 0; i < nRows; i++ {
		counts[i+1] += counts[i]
	}

	rowIndex := counts
	colID := make([]int, rowIndex[nRows])
	next := make([]int, nRows)
	copy(next, rowIndex[:nRows])

	if haveDiag {
		for i := 0; i < nRows; i++ {
			colID[next[i]] = i
			next[i]++
		}
	}
	for _, e := range edges {
		if e[0] < nRows {
			colID[next[e[0]]] = e[1]
			next[e[0]]++
		}
		if e[1] < nRows {
			colID[next[e[1]]] = e[0]
			next[e[1]]++
		}
	}

	// Sort each row's neighbors; ghosts (>= nRows) land after owned columns
	for i := 0; i < nRows; i++ {
		row := colID[rowIndex[i]:rowIndex[i+1]]
		for a := 1; a < len(row); a++ {
			for b := a; b > 0 && row[b] < row[b-1]; b-- {
				row[b], row[b-1] = row[b-1], row[b]
			}
		}
	}

	return Adjacency{RowIndex: rowIndex, ColID: colID}
}

// FillKind selects how block multiplicity shapes the assembled entries
type FillKind int

const (
	// FillScalar: one scalar unknown per row
	FillScalar FillKind = iota
	// FillBlockDiag: dense diagonal blocks, diagonal-only off-diagonal
	// coupling between block components
	FillBlockDiag
	// FillBlockFull: dense coupling everywhere
	FillBlockFull
)

func (k FillKind) String() string {
	switch k {
	case FillScalar:
		return "scalar"
	case FillBlockDiag:
		return "block diagonal"
	case FillBlockFull:
		return "full block"
	}
	return "invalid"
}

// BlockSpec describes how many scalar degrees of freedom each row and
// column carry, and whether off-diagonal blocks couple components densely
// (Extra == Diag) or component-by-component (Extra == 1)
type BlockSpec struct {
	Diag  int
	Extra int
}

// ScalarBlock is the unblocked case
var ScalarBlock = BlockSpec{Diag: 1, Extra: 1}

// Kind returns the fill rule the block sizes imply
func (b BlockSpec) Kind() FillKind {
	if b.Diag <= 1 {
		return FillScalar
	}
	if b.Extra == b.Diag {
		return FillBlockFull
	}
	return FillBlockDiag
}

// SubRows returns the scalar rows each mesh row expands to
func (b BlockSpec) SubRows() int {
	if b.Diag < 1 {
		return 1
	}
	return b.Diag
}

// Validate rejects block shapes no fill rule covers
func (b BlockSpec) Validate() error {
	if b.Diag < 1 {
		return fmt.Errorf("block spec: diagonal block size %d < 1", b.Diag)
	}
	if b.Extra != 1 && b.Extra != b.Diag {
		return fmt.Errorf("block spec: extra-diagonal block size %d must be 1 or %d",
			b.Extra, b.Diag)
	}
	return nil
}

// System is the caller-provided description of the linear system to
// assemble: row ownership, local sparsity, block shape, and optionally
// the halo coupling structure engines may need to validate
type System struct {
	RowMap partition.RowMap
	Halo   *partition.Halo
	Adj    Adjacency
	Block  BlockSpec

	// Reserve explicit diagonal storage held apart from the neighbor list
	SeparateDiagonal bool
}

// Validate checks the system description for internal consistency
func (sys *System) Validate() error {
	if err := sys.RowMap.Validate(); err != nil {
		return err
	}
	if err := sys.Block.Validate(); err != nil {
		return err
	}
	if err := sys.Adj.Validate(sys.RowMap.NumCols()); err != nil {
		return err
	}
	if got, want := sys.Adj.NumRows(), sys.RowMap.NumOwned(); got != want {
		return fmt.Errorf("system: adjacency has %d rows, row map owns %d", got, want)
	}
	if sys.Halo != nil {
		if err := sys.Halo.Validate(&sys.RowMap); err != nil {
			return err
		}
	}
	return nil
}

// MatrixOptions translates the system description and session tuning into
// the creation options an engine consumes
func (sys *System) MatrixOptions(vt backend.ValueType, pin bool) backend.MatrixOptions {
	return backend.MatrixOptions{
		DiagBlock:        sys.Block.SubRows(),
		ExtraBlock:       max(sys.Block.Extra, 1),
		ValueType:        vt,
		SeparateDiagonal: sys.SeparateDiagonal,
		PinMemory:        pin,
	}
}
