package piece

import "testing"

func TestCountAndLastLength(t *testing.T) {
	const pieceLen = 1024

	if got := Count(pieceLen*3, pieceLen); got != 3 {
		t.Fatalf("Count exact = %d, want 3", got)
	}
	if got := Count(pieceLen*3+1, pieceLen); got != 4 {
		t.Fatalf("Count remainder = %d, want 4", got)
	}
	if got := LastLength(pieceLen*3+100, pieceLen); got != 100 {
		t.Fatalf("LastLength = %d, want 100", got)
	}
	if got := LastLength(pieceLen*3, pieceLen); got != pieceLen {
		t.Fatalf("LastLength exact = %d, want %d", got, pieceLen)
	}
}

func TestLengthAtAndOffsetBounds(t *testing.T) {
	const pieceLen = 1024
	const total = pieceLen*2 + 200

	l, err := LengthAt(0, total, pieceLen)
	if err != nil || l != pieceLen {
		t.Fatalf("LengthAt(0) = %d, %v", l, err)
	}

	l, err = LengthAt(2, total, pieceLen)
	if err != nil || l != 200 {
		t.Fatalf("LengthAt(last) = %d, %v, want 200", l, err)
	}

	if _, err := LengthAt(3, total, pieceLen); err == nil {
		t.Fatal("expected out of range error")
	}

	start, end, err := OffsetBounds(1, total, pieceLen)
	if err != nil {
		t.Fatalf("OffsetBounds error: %v", err)
	}
	if start != pieceLen || end != pieceLen*2 {
		t.Fatalf("OffsetBounds = [%d,%d), want [%d,%d)", start, end, pieceLen, pieceLen*2)
	}
}

func TestBlockCountAndLastBlockLength(t *testing.T) {
	if got := BlockCount(BlockLength * 4); got != 4 {
		t.Fatalf("BlockCount exact = %d, want 4", got)
	}
	if got := BlockCount(BlockLength*4 + 1); got != 5 {
		t.Fatalf("BlockCount remainder = %d, want 5", got)
	}
	if got := LastBlockLength(BlockLength*4 + 500); got != 500 {
		t.Fatalf("LastBlockLength = %d, want 500", got)
	}
	if got := LastBlockLength(BlockLength * 4); got != BlockLength {
		t.Fatalf("LastBlockLength exact = %d, want %d", got, BlockLength)
	}
}

func TestBlockBoundsAndIndexForBegin(t *testing.T) {
	pieceLen := BlockLength*2 + 100

	begin, length, err := BlockBounds(pieceLen, 0)
	if err != nil || begin != 0 || length != BlockLength {
		t.Fatalf("BlockBounds(0) = %d,%d,%v", begin, length, err)
	}

	begin, length, err = BlockBounds(pieceLen, 2)
	if err != nil || begin != BlockLength*2 || length != 100 {
		t.Fatalf("BlockBounds(last) = %d,%d,%v, want %d,100", begin, length, err, BlockLength*2)
	}

	if _, _, err := BlockBounds(pieceLen, 3); err == nil {
		t.Fatal("expected out of range error")
	}

	if idx := BlockIndexForBegin(BlockLength*2, pieceLen); idx != 2 {
		t.Fatalf("BlockIndexForBegin = %d, want 2", idx)
	}
	if idx := BlockIndexForBegin(pieceLen, pieceLen); idx != -1 {
		t.Fatalf("BlockIndexForBegin out of range = %d, want -1", idx)
	}
}
