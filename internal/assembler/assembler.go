// Package assembler buffers downloaded blocks in memory until a piece is
// complete, then verifies it against its SHA-1 hash.
package assembler

import (
	"crypto/sha1"
	"errors"
	"fmt"
	"sync"

	"github.com/ntran/leechcore/internal/piece"
)

// ErrUnknownPiece is returned when a block arrives for a piece that has no
// open buffer (Begin was never called for it).
var ErrUnknownPiece = errors.New("assembler: unknown piece")

// ErrBlockOutOfRange is returned when a block's begin/length fall outside
// the piece's bounds.
var ErrBlockOutOfRange = errors.New("assembler: block out of range")

// buffer holds the in-flight state of a single piece being assembled. Block
// completion is tracked with a bitmap indexed by block index rather than a
// running counter, so a duplicate or retransmitted block can never be
// double-counted into a false "complete" signal.
type buffer struct {
	pieceLen   int
	blockCount int
	filled     []bool
	data       []byte
	filledN    int
}

func newBuffer(pieceLen int) *buffer {
	blockCount := piece.BlockCount(pieceLen)

	return &buffer{
		pieceLen:   pieceLen,
		blockCount: blockCount,
		filled:     make([]bool, blockCount),
		data:       make([]byte, pieceLen),
	}
}

func (b *buffer) put(begin int, data []byte) error {
	blockIdx := piece.BlockIndexForBegin(begin, b.pieceLen)
	if blockIdx < 0 {
		return ErrBlockOutOfRange
	}

	wantBegin, wantLen, err := piece.BlockBounds(b.pieceLen, blockIdx)
	if err != nil || wantBegin != begin || len(data) != wantLen {
		return ErrBlockOutOfRange
	}

	copy(b.data[begin:begin+len(data)], data)

	if !b.filled[blockIdx] {
		b.filled[blockIdx] = true
		b.filledN++
	}

	return nil
}

func (b *buffer) complete() bool {
	return b.filledN == b.blockCount
}

// Assembler tracks one in-progress buffer per piece currently assigned to a
// peer. Completed, hash-verified pieces are handed off by value; the
// assembler itself never touches disk.
type Assembler struct {
	mu      sync.Mutex
	buffers map[int]*buffer
}

// New returns an empty Assembler.
func New() *Assembler {
	return &Assembler{buffers: make(map[int]*buffer)}
}

// Begin opens a buffer for pieceIdx with the given piece length, if one is
// not already open. Safe to call multiple times for the same piece.
func (a *Assembler) Begin(pieceIdx, pieceLen int) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if _, ok := a.buffers[pieceIdx]; !ok {
		a.buffers[pieceIdx] = newBuffer(pieceLen)
	}
}

// Abandon discards any in-progress buffer for pieceIdx, e.g. after its owner
// disconnects and the piece is reassigned.
func (a *Assembler) Abandon(pieceIdx int) {
	a.mu.Lock()
	defer a.mu.Unlock()

	delete(a.buffers, pieceIdx)
}

// PutBlock stores a received block. It returns (true, true, data, nil) once
// the piece is fully assembled and has passed its SHA-1 check against
// expected, and (true, false, nil, nil) when the assembled piece fails that
// check; the buffer is discarded either way once the piece is complete.
func (a *Assembler) PutBlock(pieceIdx, begin int, data []byte, expected [sha1.Size]byte) (done bool, verified bool, assembled []byte, err error) {
	a.mu.Lock()
	buf, ok := a.buffers[pieceIdx]
	if !ok {
		a.mu.Unlock()
		return false, false, nil, fmt.Errorf("%w: %d", ErrUnknownPiece, pieceIdx)
	}

	if err := buf.put(begin, data); err != nil {
		a.mu.Unlock()
		return false, false, nil, err
	}

	if !buf.complete() {
		a.mu.Unlock()
		return false, false, nil, nil
	}

	delete(a.buffers, pieceIdx)
	a.mu.Unlock()

	sum := sha1.Sum(buf.data)
	if sum != expected {
		return true, false, nil, nil
	}

	return true, true, buf.data, nil
}

// Pending reports whether pieceIdx currently has an open buffer.
func (a *Assembler) Pending(pieceIdx int) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	_, ok := a.buffers[pieceIdx]
	return ok
}
