package assembler

import (
	"errors"
	"testing"

	"github.com/notargets/gosles/backend"
	"github.com/notargets/gosles/partition"
)

type entry struct {
	row, col uint64
	val      float64
}

// drain runs an iterator to exhaustion, copying every chunk and
// recording the chunk boundaries
func drain[T Value](it *chunkIter[T]) (entries []entry, chunkSizes []int) {
	for it.Next() {
		c := it.Chunk()
		chunkSizes = append(chunkSizes, c.N)
		for k := 0; k < c.N; k++ {
			var v float64
			if c.V64 != nil {
				v = c.V64[k]
			} else {
				v = float64(c.V32[k])
			}
			entries = append(entries, entry{c.Rows[k], c.Cols[k], v})
		}
	}
	return entries, chunkSizes
}

func checkEntries(t *testing.T, got, want []entry) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("got %d entries, want %d: %v", len(got), len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("entry %d = %v, want %v", i, got[i], want[i])
		}
	}
}

var keepAll = partition.RowFilter{First: 0, Last: 1 << 30}

// ============================================================================
// Batch splitting and ownership filtering
// ============================================================================

func TestChunkIterSplitsBatches(t *testing.T) {
	out := newChunkBuffers(2, backend.Float64)
	it := newChunkIter(out, 2, keepAll, expandScalar, 1, 1, false,
		[]uint64{1, 2, 3, 4, 5},
		[]uint64{11, 12, 13, 14, 15},
		[]float64{10, 20, 30, 40, 50})

	entries, sizes := drain(it)
	if it.Err() != nil {
		t.Fatal(it.Err())
	}
	checkEntries(t, entries, []entry{
		{1, 11, 10}, {2, 12, 20}, {3, 13, 30}, {4, 14, 40}, {5, 15, 50},
	})
	if len(sizes) != 3 || sizes[0] != 2 || sizes[1] != 2 || sizes[2] != 1 {
		t.Errorf("chunk sizes = %v, want [2 2 1]", sizes)
	}
}

func TestChunkIterDropsRemoteRows(t *testing.T) {
	// rows outside [10, 14) vanish without consuming chunk capacity
	filter := partition.RowFilter{First: 10, Last: 14}
	out := newChunkBuffers(3, backend.Float64)
	it := newChunkIter(out, 3, filter, expandScalar, 1, 1, false,
		[]uint64{9, 10, 14, 11, 99, 12},
		[]uint64{1, 2, 3, 4, 5, 6},
		[]float64{1, 2, 3, 4, 5, 6})

	entries, sizes := drain(it)
	checkEntries(t, entries, []entry{
		{10, 2, 2}, {11, 4, 4}, {12, 6, 6},
	})
	if len(sizes) != 1 {
		t.Errorf("dropped rows consumed capacity: chunk sizes %v", sizes)
	}
}

// ============================================================================
// Block expansion
// ============================================================================

func TestChunkIterFullBlockExpansion(t *testing.T) {
	// one 2x2 contribution at mesh (3, 7), values row-major
	out := newChunkBuffers(4, backend.Float64)
	it := newChunkIter(out, 4, keepAll, expandFull, 2, 4, false,
		[]uint64{3}, []uint64{7}, []float64{1, 2, 3, 4})

	entries, _ := drain(it)
	checkEntries(t, entries, []entry{
		{6, 14, 1}, {6, 15, 2}, {7, 14, 3}, {7, 15, 4},
	})
}

func TestChunkIterFullBlockNeverSplits(t *testing.T) {
	// capacity 5 fits one 2x2 expansion, not two; each contribution stays
	// whole within a chunk
	out := newChunkBuffers(5, backend.Float64)
	it := newChunkIter(out, 5, keepAll, expandFull, 2, 4, false,
		[]uint64{0, 1}, []uint64{0, 1},
		[]float64{1, 2, 3, 4, 5, 6, 7, 8})

	entries, sizes := drain(it)
	if len(entries) != 8 {
		t.Fatalf("got %d entries, want 8", len(entries))
	}
	if len(sizes) != 2 || sizes[0] != 4 || sizes[1] != 4 {
		t.Errorf("chunk sizes = %v, want [4 4]", sizes)
	}
}

func TestChunkIterDiagOnlyExpansion(t *testing.T) {
	// one value replicated onto each component of the (2, 5) coupling
	out := newChunkBuffers(3, backend.Float64)
	it := newChunkIter(out, 3, keepAll, expandDiagOnly, 3, 1, false,
		[]uint64{2}, []uint64{5}, []float64{9})

	entries, _ := drain(it)
	checkEntries(t, entries, []entry{
		{6, 15, 9}, {7, 16, 9}, {8, 17, 9},
	})
}

func TestChunkIterRequireDiag(t *testing.T) {
	// dense-block batches under block-diagonal fill must stay on the
	// diagonal; the offending contribution stops expansion after the
	// entries before it
	out := newChunkBuffers(8, backend.Float64)
	it := newChunkIter(out, 8, keepAll, expandFull, 2, 4, true,
		[]uint64{2, 2}, []uint64{2, 3},
		[]float64{1, 2, 3, 4, 5, 6, 7, 8})

	entries, _ := drain(it)
	if len(entries) != 4 {
		t.Fatalf("got %d entries before the error, want 4", len(entries))
	}
	var cfgErr *backend.ConfigurationError
	if !errors.As(it.Err(), &cfgErr) {
		t.Fatalf("Err() = %v, want ConfigurationError", it.Err())
	}
}

// ============================================================================
// Width conversion
// ============================================================================

func TestChunkIterWidthConversion(t *testing.T) {
	t.Run("Float64IntoFloat32", func(t *testing.T) {
		out := newChunkBuffers(2, backend.Float32)
		it := newChunkIter(out, 2, keepAll, expandScalar, 1, 1, false,
			[]uint64{0, 1}, []uint64{0, 1}, []float64{1.5, -2.25})

		entries, _ := drain(it)
		checkEntries(t, entries, []entry{{0, 0, 1.5}, {1, 1, -2.25}})
		if out.V32 == nil || out.V64 != nil {
			t.Error("entries should land in the float32 staging array")
		}
	})

	t.Run("Float32IntoFloat64", func(t *testing.T) {
		out := newChunkBuffers(2, backend.Float64)
		it := newChunkIter(out, 2, keepAll, expandScalar, 1, 1, false,
			[]uint64{0, 1}, []uint64{0, 1}, []float32{0.5, 4})

		entries, _ := drain(it)
		checkEntries(t, entries, []entry{{0, 0, 0.5}, {1, 1, 4}})
		if out.V64 == nil {
			t.Error("entries should land in the float64 staging array")
		}
	})
}
