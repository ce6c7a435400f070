package metainfo

import (
	"crypto/sha1"
	"testing"

	"github.com/ntran/leechcore/internal/bencode"
)

func buildTorrent(t *testing.T, extra map[string]any) []byte {
	t.Helper()

	info := map[string]any{
		"name":         "file.bin",
		"piece length": int64(16384),
		"pieces":       string(make([]byte, 20)),
		"length":       int64(16384),
	}
	for k, v := range extra {
		info[k] = v
	}

	root := map[string]any{
		"announce": "http://tracker.example/announce",
		"info":     info,
	}

	b, err := bencode.Marshal(root)
	if err != nil {
		t.Fatalf("Marshal error: %v", err)
	}
	return b
}

func TestParse_OK(t *testing.T) {
	data := buildTorrent(t, nil)

	m, err := Parse(data)
	if err != nil {
		t.Fatalf("Parse error: %v", err)
	}

	if m.Info.Name != "file.bin" {
		t.Errorf("Name = %q", m.Info.Name)
	}
	if m.Info.PieceLength != 16384 {
		t.Errorf("PieceLength = %d", m.Info.PieceLength)
	}
	if len(m.Info.Pieces) != 1 {
		t.Fatalf("Pieces = %d, want 1", len(m.Info.Pieces))
	}
	if m.Size() != 16384 {
		t.Errorf("Size() = %d, want 16384", m.Size())
	}
	var zero [sha1.Size]byte
	if m.InfoHash == zero {
		t.Error("InfoHash should not be zero")
	}
}

func TestParse_MultiFileRejected(t *testing.T) {
	data := buildTorrent(t, map[string]any{
		"files": []any{
			map[string]any{"length": int64(10), "path": []any{"a"}},
		},
	})

	if _, err := Parse(data); err != ErrMultiFileNotSupported {
		t.Fatalf("want ErrMultiFileNotSupported, got %v", err)
	}
}

func TestParse_MissingAnnounce(t *testing.T) {
	info := map[string]any{
		"name":         "file.bin",
		"piece length": int64(16384),
		"pieces":       string(make([]byte, 20)),
		"length":       int64(16384),
	}
	root := map[string]any{"info": info}
	data, _ := bencode.Marshal(root)

	if _, err := Parse(data); err != ErrAnnounceMissing {
		t.Fatalf("want ErrAnnounceMissing, got %v", err)
	}
}

func TestParse_InvalidPiecesLength(t *testing.T) {
	data := buildTorrent(t, map[string]any{"pieces": "short"})

	if _, err := Parse(data); err != ErrPiecesLenInvalid {
		t.Fatalf("want ErrPiecesLenInvalid, got %v", err)
	}
}

func TestParse_TopLevelNotDict(t *testing.T) {
	data, _ := bencode.Marshal("not a dict")

	if _, err := Parse(data); err != ErrTopLevelNotDict {
		t.Fatalf("want ErrTopLevelNotDict, got %v", err)
	}
}
