package partition

import (
	"fmt"
)

// RowMap describes the rows of a distributed system as seen by one rank:
// a contiguous range of globally numbered owned rows plus the global ids
// of ghost rows referenced as columns by the owned rows.
//
// Local indices 0..NumOwned()-1 address owned rows; indices NumOwned() and
// above address ghost columns in the order of GhostIDs.
type RowMap struct {
	// Owned global row range [First, Last)
	First uint64
	Last  uint64

	// Global ids of ghost (remote-owned) rows, referenced only as columns.
	// Ghost k has local index NumOwned()+k.
	GhostIDs []uint64
}

// Neighbor describes another rank whose rows appear as ghost columns here
type Neighbor struct {
	Rank int // owning rank (-1 indicates unknown/local)

	// Owned global row range on that rank
	First uint64
	Last  uint64

	// Number of ghost columns this rank receives from the neighbor
	RecvCount int
}

// Halo captures the cross-rank coupling structure of a row map: which
// ranks own the ghost columns, and whether any coupling passes through a
// periodicity or rotation transform. The assembler itself never exchanges
// data; the halo exists so engines can validate and size what they build.
type Halo struct {
	Neighbors []Neighbor

	// Number of periodic/rotational transforms applied to halo coupling.
	// Engines that cannot honor transformed coupling must reject a halo
	// with Transforms > 0.
	Transforms int
}

// RowFilter is the ownership test applied to every inserted coefficient:
// rows whose global id falls outside [First, Last) are dropped, because
// the owning rank inserts them itself using the same global numbering.
type RowFilter struct {
	First uint64
	Last  uint64
}

// Keep reports whether a global row id is locally owned
func (f RowFilter) Keep(globalRow uint64) bool {
	return globalRow >= f.First && globalRow < f.Last
}

// Methods for RowMap

// NumOwned returns the number of locally owned rows
func (rm *RowMap) NumOwned() int {
	return int(rm.Last - rm.First)
}

// NumCols returns the local column count, owned rows plus ghosts
func (rm *RowMap) NumCols() int {
	return rm.NumOwned() + len(rm.GhostIDs)
}

// GlobalID translates a local row/column index to its global id.
// Panics if local is out of range; a bad local index is a programming
// error in the caller's adjacency, not a runtime condition.
func (rm *RowMap) GlobalID(local int) uint64 {
	n := rm.NumOwned()
	switch {
	case local >= 0 && local < n:
		return rm.First + uint64(local)
	case local >= n && local < n+len(rm.GhostIDs):
		return rm.GhostIDs[local-n]
	}
	panic(fmt.Sprintf("partition: local index %d outside %d rows + %d ghosts",
		local, n, len(rm.GhostIDs)))
}

// LocalRow returns the local index of an owned global row, or -1 when the
// row is not owned here
func (rm *RowMap) LocalRow(globalRow uint64) int {
	if globalRow < rm.First || globalRow >= rm.Last {
		return -1
	}
	return int(globalRow - rm.First)
}

// Owns reports whether a global row id falls in the owned range
func (rm *RowMap) Owns(globalRow uint64) bool {
	return globalRow >= rm.First && globalRow < rm.Last
}

// Filter returns the ownership filter for this map
func (rm *RowMap) Filter() RowFilter {
	return RowFilter{First: rm.First, Last: rm.Last}
}

// ScalarRange returns the owned range after block expansion: with block
// size b, mesh row g becomes scalar rows g*b .. g*b+b-1
func (rm *RowMap) ScalarRange(blockSize int) (first, last uint64) {
	b := uint64(blockSize)
	return rm.First * b, rm.Last * b
}

// NumScalarCols returns the local column count after block expansion
func (rm *RowMap) NumScalarCols(blockSize int) int {
	return rm.NumCols() * blockSize
}

// Validate checks internal consistency: a non-inverted owned range and
// ghost ids strictly outside it
func (rm *RowMap) Validate() error {
	if rm.Last < rm.First {
		return fmt.Errorf("row map: inverted owned range [%d, %d)", rm.First, rm.Last)
	}
	for k, g := range rm.GhostIDs {
		if g >= rm.First && g < rm.Last {
			return fmt.Errorf("row map: ghost %d has global id %d inside owned range [%d, %d)",
				k, g, rm.First, rm.Last)
		}
	}
	return nil
}

// Methods for Halo

// GhostCount returns the total ghost columns accounted by the neighbors
func (h *Halo) GhostCount() int {
	total := 0
	for _, nb := range h.Neighbors {
		total += nb.RecvCount
	}
	return total
}

// RequiresExchange reports whether any ghost column is owned by a real
// remote rank
func (h *Halo) RequiresExchange() bool {
	for _, nb := range h.Neighbors {
		if nb.Rank >= 0 && nb.RecvCount > 0 {
			return true
		}
	}
	return false
}

// Validate checks the halo against a row map: neighbor ranges must not
// overlap the owned range, and the neighbor recv counts must cover the
// map's ghost ids
func (h *Halo) Validate(rm *RowMap) error {
	for _, nb := range h.Neighbors {
		if nb.Last < nb.First {
			return fmt.Errorf("halo: neighbor rank %d has inverted range [%d, %d)",
				nb.Rank, nb.First, nb.Last)
		}
		if nb.First < rm.Last && nb.Last > rm.First {
			return fmt.Errorf("halo: neighbor rank %d range [%d, %d) overlaps owned [%d, %d)",
				nb.Rank, nb.First, nb.Last, rm.First, rm.Last)
		}
	}
	if got, want := h.GhostCount(), len(rm.GhostIDs); got != want {
		return fmt.Errorf("halo: neighbors account for %d ghosts, row map has %d", got, want)
	}
	return nil
}

// ContiguousRowMaps splits rows 0..sum(counts)-1 into per-rank contiguous
// ranges, counts[r] rows for rank r. Ghost ids are left empty; callers add
// the ghosts their adjacency references.
func ContiguousRowMaps(counts []int) []RowMap {
	maps := make([]RowMap, len(counts))
	var next uint64
	for r, n := range counts {
		maps[r] = RowMap{First: next, Last: next + uint64(n)}
		next += uint64(n)
	}
	return maps
}
