package assembler

import (
	"fmt"

	"github.com/notargets/gosles/backend"
	"github.com/notargets/gosles/partition"
)

// SessionState tracks the four-phase protocol
type SessionState int

const (
	SessionUninit SessionState = iota
	SessionInit
	SessionInserting
	SessionFinalizing
	SessionReady
)

func (s SessionState) String() string {
	switch s {
	case SessionUninit:
		return "uninitialized"
	case SessionInit:
		return "initialized"
	case SessionInserting:
		return "inserting"
	case SessionFinalizing:
		return "finalizing"
	case SessionReady:
		return "ready"
	}
	return "invalid"
}

// SessionConfig tunes one assembly session
type SessionConfig struct {
	// Entries per bulk call to the engine; 0 selects DefaultChunkSize
	ChunkSize int

	// Native width requested from the engine; 0 selects Float64.
	// Engines that cannot store the requested width reject creation.
	ValueType backend.ValueType

	// Transfer staging hint forwarded to the engine
	PinMemory bool
}

// Session drives one backend matrix through the four-phase assembly
// protocol: Init allocates the engine matrix with sizing hints, Add/Set
// insert coefficient batches any number of times, Begin marks insertion
// complete, End finalizes into a queryable matrix.
//
// A session is bound to a single matrix instance and is not safe for
// concurrent use; different sessions on different matrices may be driven
// independently.
type Session struct {
	eng backend.Engine
	sys *System
	cfg SessionConfig

	state  SessionState
	mx     backend.Matrix
	chunk  *backend.Chunk
	filter partition.RowFilter
}

// NewSession validates the system description and binds a session to an
// engine. No backend storage exists until Init.
func NewSession(eng backend.Engine, sys *System, cfg SessionConfig) (*Session, error) {
	if err := sys.Validate(); err != nil {
		return nil, fmt.Errorf("assembler: %w", err)
	}
	if cfg.ChunkSize == 0 {
		cfg.ChunkSize = DefaultChunkSize
	}
	if cfg.ValueType == 0 {
		cfg.ValueType = backend.Float64
	}
	// the chunk must hold one block expansion, and edge insertion writes
	// entry pairs, so two slots is the floor even for scalar fill
	b := sys.Block.SubRows()
	least := b * b
	if least < 2 {
		least = 2
	}
	if cfg.ChunkSize < least {
		return nil, &backend.ConfigurationError{
			Engine: "assembler",
			Reason: fmt.Sprintf("chunk size %d below minimum %d", cfg.ChunkSize, least),
		}
	}
	return &Session{
		eng:    eng,
		sys:    sys,
		cfg:    cfg,
		filter: sys.RowMap.Filter(),
	}, nil
}

// Init creates the backend matrix over the block-scaled ownership range,
// runs the size estimation, and hands the hints to the engine. Idempotent:
// once a matrix exists further calls are no-ops, so discretization loops
// may call it unconditionally.
func (s *Session) Init() error {
	if s.mx != nil {
		return nil
	}
	mx, err := s.eng.CreateMatrix(&s.sys.RowMap, s.sys.Halo,
		s.sys.MatrixOptions(s.cfg.ValueType, s.cfg.PinMemory))
	if err != nil {
		return err
	}

	diag, offdiag := EstimateSizes(s.sys)
	if err := mx.SetSizes(diag, offdiag); err != nil {
		mx.Destroy()
		return err
	}

	s.mx = mx
	s.chunk = newChunkBuffers(s.cfg.ChunkSize, mx.ValueType())
	s.state = SessionInit
	return nil
}

// Matrix returns the backend matrix the session drives; nil before Init
func (s *Session) Matrix() backend.Matrix {
	return s.mx
}

// State returns the protocol phase
func (s *Session) State() SessionState {
	return s.state
}

// Add inserts a coefficient batch with accumulate semantics: values for a
// repeated (row, col) coordinate sum. Rows owned by other ranks are
// dropped silently; those ranks insert them with the same global ids.
//
// stride is the value count per contribution and must match the fill
// rule: 1 for scalar fill, Diag² for dense-block batches, and for
// block-diagonal fill either Diag² (diagonal blocks, row == col) or 1
// (off-diagonal coupling, one value replicated per component).
func Add[T Value](s *Session, stride int, rows, cols []uint64, vals []T) error {
	return insert(s, false, stride, rows, cols, vals)
}

// Set inserts a coefficient batch with overwrite semantics (direct
// assembly): the last value written to a coordinate wins over anything
// accumulated before it
func Set[T Value](s *Session, stride int, rows, cols []uint64, vals []T) error {
	return insert(s, true, stride, rows, cols, vals)
}

func insert[T Value](s *Session, direct bool, stride int, rows, cols []uint64, vals []T) error {
	s.checkInsertable()
	if len(cols) != len(rows) {
		panic(fmt.Sprintf("assembler: %d rows, %d cols", len(rows), len(cols)))
	}
	if len(vals) != len(rows)*stride {
		panic(fmt.Sprintf("assembler: %d values for %d contributions of stride %d",
			len(vals), len(rows), stride))
	}

	kind, requireDiag, err := s.expandFor(stride)
	if err != nil {
		return err
	}

	it := newChunkIter(s.chunk, s.cfg.ChunkSize, s.filter, kind,
		s.sys.Block.SubRows(), stride, requireDiag, rows, cols, vals)
	for it.Next() {
		c := it.Chunk()
		if direct {
			err = s.mx.SetChunk(c)
		} else {
			err = s.mx.AddChunk(c)
		}
		if err != nil {
			return err
		}
	}
	if err := it.Err(); err != nil {
		return err
	}

	s.state = SessionInserting
	return nil
}

// AddEdges inserts coefficients in the face-based layout discretizations
// carry natively: a diagonal array da over owned rows and an
// extra-diagonal array xa over a local edge graph, one value per edge
// when symmetric, an (i→j, j→i) pair per edge otherwise. Either array may
// be nil. Only scalar fill supports this layout.
func (s *Session) AddEdges(symmetric bool, edges [][2]int, da, xa []float64) error {
	s.checkInsertable()
	if s.sys.Block.Kind() != FillScalar {
		return &backend.ConfigurationError{
			Engine: "assembler",
			Reason: fmt.Sprintf("edge-based coefficients require scalar fill, have %s",
				s.sys.Block.Kind()),
		}
	}
	n := s.sys.RowMap.NumOwned()
	if da != nil && len(da) != n {
		panic(fmt.Sprintf("assembler: %d diagonal values for %d rows", len(da), n))
	}
	if xa != nil {
		want := len(edges)
		if !symmetric {
			want *= 2
		}
		if len(xa) != want {
			panic(fmt.Sprintf("assembler: %d extra-diagonal values for %d edges", len(xa), want))
		}
	}

	c := s.chunk
	c.N = 0
	flush := func() error {
		if c.N == 0 {
			return nil
		}
		err := s.mx.AddChunk(c)
		c.N = 0
		return err
	}
	put := func(row, col uint64, v float64) {
		c.Rows[c.N] = row
		c.Cols[c.N] = col
		if c.V64 != nil {
			c.V64[c.N] = v
		} else {
			c.V32[c.N] = float32(v)
		}
		c.N++
	}

	if da != nil {
		for i := 0; i < n; i++ {
			g := s.sys.RowMap.GlobalID(i)
			put(g, g, da[i])
			if c.N == s.cfg.ChunkSize {
				if err := flush(); err != nil {
					return err
				}
			}
		}
	}

	if xa != nil {
		for e, edge := range edges {
			// an edge expands to at most two entries
			if c.N+2 > s.cfg.ChunkSize {
				if err := flush(); err != nil {
					return err
				}
			}
			ii, jj := edge[0], edge[1]
			gII := s.sys.RowMap.GlobalID(ii)
			gJJ := s.sys.RowMap.GlobalID(jj)
			vIJ, vJI := xa[e], xa[e]
			if !symmetric {
				vIJ, vJI = xa[e*2], xa[e*2+1]
			}
			if ii < n {
				put(gII, gJJ, vIJ)
			}
			if jj < n {
				put(gJJ, gII, vJI)
			}
		}
	}
	if err := flush(); err != nil {
		return err
	}

	s.state = SessionInserting
	return nil
}

// Begin marks insertion complete for this step. In this synchronous
// assembler it only advances the protocol; it is the point where an
// implementation could overlap finalization with caller work.
func (s *Session) Begin() {
	if s.mx == nil {
		panic("assembler: Begin before Init")
	}
	s.state = SessionFinalizing
}

// End finalizes assembly: the engine sorts and merges staged entries and
// freezes the sparsity pattern, and on the first End creates the paired
// work vectors used for repeated products. After End the matrix answers
// MatVec, Diagonal, and solve; further Add calls reopen accumulation into
// the frozen pattern.
func (s *Session) End() error {
	if s.mx == nil {
		panic("assembler: End before Init")
	}
	if err := s.mx.Assemble(); err != nil {
		return err
	}
	s.state = SessionReady
	return nil
}

func (s *Session) checkInsertable() {
	if s.mx == nil {
		panic("assembler: insertion before Init")
	}
	if s.state == SessionFinalizing {
		panic("assembler: insertion between Begin and End")
	}
}

// expandFor maps the caller's stride onto the expansion the fill rule
// allows
func (s *Session) expandFor(stride int) (expandKind, bool, error) {
	b := s.sys.Block.SubRows()
	switch s.sys.Block.Kind() {
	case FillScalar:
		if stride == 1 {
			return expandScalar, false, nil
		}
	case FillBlockFull:
		if stride == b*b {
			return expandFull, false, nil
		}
	case FillBlockDiag:
		switch stride {
		case b * b:
			return expandFull, true, nil
		case 1:
			return expandDiagOnly, false, nil
		}
	}
	return 0, false, &backend.ConfigurationError{
		Engine: "assembler",
		Reason: fmt.Sprintf("stride %d does not match %s fill with block size %d",
			stride, s.sys.Block.Kind(), b),
	}
}
