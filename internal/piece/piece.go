// Package piece implements piece/block arithmetic and the rarity-aware,
// single-owner PiecePicker used to decide which piece a peer should be
// assigned next.
package piece

import "fmt"

// BlockLength is the wire-level request granularity. All blocks are
// BlockLength bytes except the final block of a piece, which may be
// shorter.
const BlockLength = 16 * 1024 // 16 KiB

// Count returns how many pieces are needed to cover totalSize bytes given a
// fixed pieceLength (the last piece may be shorter).
func Count(totalSize, pieceLength int64) int {
	if totalSize <= 0 || pieceLength <= 0 {
		return 0
	}

	return int((totalSize + pieceLength - 1) / pieceLength)
}

// LastLength returns the exact byte length of the final piece.
func LastLength(totalSize, pieceLength int64) int {
	if totalSize <= 0 || pieceLength <= 0 {
		return 0
	}

	rem := int(totalSize % pieceLength)
	if rem == 0 {
		return int(pieceLength)
	}

	return rem
}

// LengthAt returns the byte length of the piece at index.
func LengthAt(index int, totalSize, pieceLength int64) (int, error) {
	pc := Count(totalSize, pieceLength)
	if index < 0 || index >= pc {
		return 0, fmt.Errorf("piece: index out of range: %d (count=%d)", index, pc)
	}

	if index == pc-1 {
		return LastLength(totalSize, pieceLength), nil
	}
	return int(pieceLength), nil
}

// OffsetBounds returns the [start,end) byte offsets in the full stream for
// the piece at index.
func OffsetBounds(index int, totalSize, pieceLength int64) (start, end int64, err error) {
	pl, err := LengthAt(index, totalSize, pieceLength)
	if err != nil {
		return 0, 0, err
	}

	start = int64(index) * pieceLength
	end = start + int64(pl)
	return start, end, nil
}

// BlockCount returns how many blocks compose a piece of length pieceLen.
func BlockCount(pieceLen int) int {
	if pieceLen <= 0 {
		return 0
	}

	n := pieceLen / BlockLength
	if pieceLen%BlockLength != 0 {
		n++
	}

	return n
}

// LastBlockLength returns the byte length of the final block in a piece.
func LastBlockLength(pieceLen int) int {
	if pieceLen <= 0 {
		return 0
	}

	rem := pieceLen % BlockLength
	if rem == 0 {
		return BlockLength
	}

	return rem
}

// BlockBounds returns the [begin,length] of block blockIdx within a piece of
// length pieceLen, where begin is the byte offset from the start of the
// piece.
func BlockBounds(pieceLen, blockIdx int) (begin, length int, err error) {
	bc := BlockCount(pieceLen)
	if blockIdx < 0 || blockIdx >= bc {
		return 0, 0, fmt.Errorf("piece: block index out of range: %d (count=%d)", blockIdx, bc)
	}

	begin = blockIdx * BlockLength
	length = BlockLength
	if blockIdx == bc-1 {
		length = LastBlockLength(pieceLen)
	}

	return begin, length, nil
}

// BlockIndexForBegin returns the block index inside a piece for a byte
// offset 'begin' within that piece. Returns -1 when out of range.
func BlockIndexForBegin(begin, pieceLen int) int {
	if begin < 0 || begin >= pieceLen {
		return -1
	}

	return begin / BlockLength
}
