package assembler

import (
	"crypto/sha1"
	"testing"

	"github.com/ntran/leechcore/internal/piece"
)

func TestPutBlockUnknownPiece(t *testing.T) {
	a := New()
	_, _, _, err := a.PutBlock(0, 0, make([]byte, piece.BlockLength), [sha1.Size]byte{})
	if err == nil {
		t.Fatal("expected error for unbegun piece")
	}
}

func TestPutBlockAssemblesAndVerifies(t *testing.T) {
	a := New()
	pieceLen := piece.BlockLength*2 + 100
	a.Begin(0, pieceLen)

	full := make([]byte, pieceLen)
	for i := range full {
		full[i] = byte(i)
	}
	expected := sha1.Sum(full)

	b0 := full[0:piece.BlockLength]
	b1 := full[piece.BlockLength : piece.BlockLength*2]
	b2 := full[piece.BlockLength*2:]

	done, verified, _, err := a.PutBlock(0, 0, b0, expected)
	if err != nil || done {
		t.Fatalf("block0: done=%v verified=%v err=%v", done, verified, err)
	}
	done, verified, _, err = a.PutBlock(0, piece.BlockLength, b1, expected)
	if err != nil || done {
		t.Fatalf("block1: done=%v verified=%v err=%v", done, verified, err)
	}
	done, verified, data, err := a.PutBlock(0, piece.BlockLength*2, b2, expected)
	if err != nil {
		t.Fatalf("block2 err: %v", err)
	}
	if !done || !verified {
		t.Fatalf("expected done+verified, got done=%v verified=%v", done, verified)
	}
	if string(data) != string(full) {
		t.Fatal("assembled data mismatch")
	}

	if a.Pending(0) {
		t.Fatal("buffer should be discarded after completion")
	}
}

func TestPutBlockFailsHashCheck(t *testing.T) {
	a := New()
	pieceLen := piece.BlockLength
	a.Begin(0, pieceLen)

	data := make([]byte, pieceLen)
	wrongHash := [sha1.Size]byte{0xff}

	done, verified, _, err := a.PutBlock(0, 0, data, wrongHash)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !done || verified {
		t.Fatalf("expected done=true verified=false, got done=%v verified=%v", done, verified)
	}
}

func TestPutBlockOutOfRange(t *testing.T) {
	a := New()
	a.Begin(0, piece.BlockLength)

	_, _, _, err := a.PutBlock(0, 0, make([]byte, piece.BlockLength+1), [sha1.Size]byte{})
	if err != ErrBlockOutOfRange {
		t.Fatalf("expected ErrBlockOutOfRange, got %v", err)
	}
}

func TestDuplicateBlockDoesNotDoubleCount(t *testing.T) {
	a := New()
	pieceLen := piece.BlockLength * 2
	a.Begin(0, pieceLen)

	block := make([]byte, piece.BlockLength)

	done, _, _, err := a.PutBlock(0, 0, block, [sha1.Size]byte{})
	if err != nil || done {
		t.Fatalf("first put: done=%v err=%v", done, err)
	}

	// resend same block: must not advance completion
	done, _, _, err = a.PutBlock(0, 0, block, [sha1.Size]byte{})
	if err != nil || done {
		t.Fatalf("duplicate put: done=%v err=%v", done, err)
	}

	if !a.Pending(0) {
		t.Fatal("piece should still be pending after a duplicate block")
	}
}

func TestAbandonDiscardsBuffer(t *testing.T) {
	a := New()
	a.Begin(0, piece.BlockLength)
	a.Abandon(0)

	if a.Pending(0) {
		t.Fatal("expected buffer to be discarded")
	}

	_, _, _, err := a.PutBlock(0, 0, make([]byte, piece.BlockLength), [sha1.Size]byte{})
	if err == nil {
		t.Fatal("expected error after abandon")
	}
}
