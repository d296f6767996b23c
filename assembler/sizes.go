package assembler

// EstimateSizes computes the per-row nonzero hints backends need before
// allocating: for every scalar row, how many entries fall in the rank's
// owned diagonal block and how many in the off-diagonal (remote) block.
// The returned slices are sized NumOwned * SubRows and are meant to be
// handed to Matrix.SetSizes and dropped; nothing retains them.
//
// A neighbor counts toward the diagonal block when its column is locally
// owned (column id below the owned row count), toward the off-diagonal
// block otherwise. The three fill rules differ only in how block
// multiplicity scales the counts:
//
//   - scalar: one slot per neighbor;
//   - block diagonal: off-diagonal coupling is component-wise, so each
//     neighbor still contributes one slot per sub-row, but the row's
//     self-coupling block is dense and takes Diag slots;
//   - full block: every neighbor contributes Diag slots per sub-row.
//
// Separate-diagonal mode reserves the explicitly stored diagonal: one
// extra slot per sub-row for scalar and full-block fill, a dense Diag-wide
// block per sub-row for block-diagonal fill.
func EstimateSizes(sys *System) (diag, offdiag []int) {
	nRows := sys.Adj.NumRows()
	b := sys.Block.SubRows()

	diag = make([]int, nRows*b)
	offdiag = make([]int, nRows*b)

	switch sys.Block.Kind() {
	case FillScalar:
		diagAdd := 0
		if sys.SeparateDiagonal {
			diagAdd = 1
		}
		for i := 0; i < nRows; i++ {
			nLocal := 0
			row := sys.Adj.Row(i)
			for _, c := range row {
				if c < nRows {
					nLocal++
				}
			}
			diag[i] = nLocal + diagAdd
			offdiag[i] = len(row) - nLocal
		}

	case FillBlockDiag:
		diagAdd := 0
		if sys.SeparateDiagonal {
			diagAdd = b
		}
		for i := 0; i < nRows; i++ {
			nLocal := 0
			row := sys.Adj.Row(i)
			for _, c := range row {
				if c < nRows {
					nLocal++
					if c == i {
						// self-coupling block is dense
						nLocal += b - 1
					}
				}
			}
			nRemote := 0
			for _, c := range row {
				if c >= nRows {
					nRemote++
				}
			}
			for j := 0; j < b; j++ {
				diag[i*b+j] = nLocal + diagAdd
				offdiag[i*b+j] = nRemote
			}
		}

	case FillBlockFull:
		diagAdd := 0
		if sys.SeparateDiagonal {
			diagAdd = 1
		}
		for i := 0; i < nRows; i++ {
			nLocal := 0
			row := sys.Adj.Row(i)
			for _, c := range row {
				if c < nRows {
					nLocal++
				}
			}
			for j := 0; j < b; j++ {
				diag[i*b+j] = (nLocal + diagAdd) * b
				offdiag[i*b+j] = (len(row) - nLocal) * b
			}
		}
	}

	return diag, offdiag
}
