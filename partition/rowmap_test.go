package partition

import (
	"testing"
)

// ============================================================================
// RowMap index translation
// ============================================================================

func TestRowMapGlobalID(t *testing.T) {
	rm := RowMap{First: 10, Last: 14, GhostIDs: []uint64{4, 20}}

	if got := rm.NumOwned(); got != 4 {
		t.Errorf("NumOwned = %d, want 4", got)
	}
	if got := rm.NumCols(); got != 6 {
		t.Errorf("NumCols = %d, want 6", got)
	}

	cases := []struct {
		local int
		want  uint64
	}{
		{0, 10},
		{3, 13},
		{4, 4},  // first ghost
		{5, 20}, // second ghost
	}
	for _, c := range cases {
		if got := rm.GlobalID(c.local); got != c.want {
			t.Errorf("GlobalID(%d) = %d, want %d", c.local, got, c.want)
		}
	}

	if got := rm.LocalRow(12); got != 2 {
		t.Errorf("LocalRow(12) = %d, want 2", got)
	}
	if got := rm.LocalRow(20); got != -1 {
		t.Errorf("LocalRow(20) = %d, want -1 for remote row", got)
	}
}

func TestRowMapGlobalIDPanicsOutOfRange(t *testing.T) {
	rm := RowMap{First: 0, Last: 2}
	defer func() {
		if r := recover(); r == nil {
			t.Error("expected panic for out-of-range local index")
		}
	}()
	rm.GlobalID(5)
}

func TestRowMapScalarRange(t *testing.T) {
	rm := RowMap{First: 10, Last: 14, GhostIDs: []uint64{20}}

	first, last := rm.ScalarRange(3)
	if first != 30 || last != 42 {
		t.Errorf("ScalarRange(3) = [%d, %d), want [30, 42)", first, last)
	}
	if got := rm.NumScalarCols(3); got != 15 {
		t.Errorf("NumScalarCols(3) = %d, want 15", got)
	}

	// Block size 1 is the identity
	first, last = rm.ScalarRange(1)
	if first != 10 || last != 14 {
		t.Errorf("ScalarRange(1) = [%d, %d), want [10, 14)", first, last)
	}
}

// ============================================================================
// Ownership filter
// ============================================================================

func TestRowFilterKeep(t *testing.T) {
	f := RowFilter{First: 10, Last: 14}

	cases := []struct {
		row  uint64
		want bool
	}{
		{9, false},
		{10, true},
		{13, true},
		{14, false},
		{100, false},
	}
	for _, c := range cases {
		if got := f.Keep(c.row); got != c.want {
			t.Errorf("Keep(%d) = %v, want %v", c.row, got, c.want)
		}
	}
}

func TestRowMapFilterMatchesOwns(t *testing.T) {
	rm := RowMap{First: 5, Last: 9}
	f := rm.Filter()
	for g := uint64(0); g < 15; g++ {
		if f.Keep(g) != rm.Owns(g) {
			t.Errorf("filter and Owns disagree at global row %d", g)
		}
	}
}

// ============================================================================
// Validation
// ============================================================================

func TestRowMapValidate(t *testing.T) {
	t.Run("Valid", func(t *testing.T) {
		rm := RowMap{First: 10, Last: 14, GhostIDs: []uint64{2, 14, 99}}
		if err := rm.Validate(); err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	})

	t.Run("GhostInsideOwnedRange", func(t *testing.T) {
		rm := RowMap{First: 10, Last: 14, GhostIDs: []uint64{12}}
		if err := rm.Validate(); err == nil {
			t.Error("expected error for ghost inside owned range")
		}
	})

	t.Run("InvertedRange", func(t *testing.T) {
		rm := RowMap{First: 14, Last: 10}
		if err := rm.Validate(); err == nil {
			t.Error("expected error for inverted range")
		}
	})
}

func TestHaloValidate(t *testing.T) {
	rm := RowMap{First: 10, Last: 14, GhostIDs: []uint64{8, 9, 14}}

	t.Run("Consistent", func(t *testing.T) {
		h := Halo{Neighbors: []Neighbor{
			{Rank: 0, First: 0, Last: 10, RecvCount: 2},
			{Rank: 2, First: 14, Last: 20, RecvCount: 1},
		}}
		if err := h.Validate(&rm); err != nil {
			t.Errorf("unexpected error: %v", err)
		}
		if !h.RequiresExchange() {
			t.Error("halo with remote neighbors should require exchange")
		}
	})

	t.Run("OverlappingNeighbor", func(t *testing.T) {
		h := Halo{Neighbors: []Neighbor{
			{Rank: 0, First: 12, Last: 16, RecvCount: 3},
		}}
		if err := h.Validate(&rm); err == nil {
			t.Error("expected error for neighbor range overlapping owned range")
		}
	})

	t.Run("GhostCountMismatch", func(t *testing.T) {
		h := Halo{Neighbors: []Neighbor{
			{Rank: 0, First: 0, Last: 10, RecvCount: 1},
		}}
		if err := h.Validate(&rm); err == nil {
			t.Error("expected error for ghost count mismatch")
		}
	})
}

// ============================================================================
// Multi-rank construction
// ============================================================================

func TestContiguousRowMaps(t *testing.T) {
	maps := ContiguousRowMaps([]int{4, 3, 5})

	if len(maps) != 3 {
		t.Fatalf("expected 3 maps, got %d", len(maps))
	}

	want := []struct{ first, last uint64 }{
		{0, 4}, {4, 7}, {7, 12},
	}
	for r, w := range want {
		if maps[r].First != w.first || maps[r].Last != w.last {
			t.Errorf("rank %d: range [%d, %d), want [%d, %d)",
				r, maps[r].First, maps[r].Last, w.first, w.last)
		}
	}

	// Ranges must tile the global numbering with no gaps or overlap
	for r := 1; r < len(maps); r++ {
		if maps[r].First != maps[r-1].Last {
			t.Errorf("gap or overlap between rank %d and %d", r-1, r)
		}
	}
}
