package tracker

import (
	"net/netip"
	"testing"
)

func TestDecodeCompactPeers(t *testing.T) {
	b := []byte{127, 0, 0, 1, 0x1A, 0xE1, 10, 0, 0, 5, 0x1A, 0xE2}
	peers, err := decodeCompactPeers(b)
	if err != nil {
		t.Fatalf("decodeCompactPeers: %v", err)
	}
	if len(peers) != 2 {
		t.Fatalf("len = %d, want 2", len(peers))
	}

	want0 := netip.AddrPortFrom(netip.AddrFrom4([4]byte{127, 0, 0, 1}), 0x1AE1)
	if peers[0] != want0 {
		t.Fatalf("peers[0] = %v, want %v", peers[0], want0)
	}
}

func TestDecodeCompactPeersRejectsBadLength(t *testing.T) {
	if _, err := decodeCompactPeers([]byte{1, 2, 3}); err == nil {
		t.Fatal("expected error for non-multiple-of-6 length")
	}
}

func TestDecodeDictPeers(t *testing.T) {
	list := []any{
		map[string]any{"ip": "192.168.1.5", "port": int64(6881)},
		map[string]any{"ip": "10.0.0.1", "port": int64(51413)},
	}

	peers, err := decodeDictPeers(list)
	if err != nil {
		t.Fatalf("decodeDictPeers: %v", err)
	}
	if len(peers) != 2 {
		t.Fatalf("len = %d, want 2", len(peers))
	}
	if peers[0].Port() != 6881 {
		t.Fatalf("port = %d, want 6881", peers[0].Port())
	}
}

func TestDecodeDictPeersRejectsBadPort(t *testing.T) {
	list := []any{
		map[string]any{"ip": "192.168.1.5", "port": int64(99999)},
	}
	if _, err := decodeDictPeers(list); err == nil {
		t.Fatal("expected error for out-of-range port")
	}
}

func TestDecodePeersEmptyWhenAbsent(t *testing.T) {
	peers, err := decodePeers(map[string]any{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if peers != nil {
		t.Fatalf("expected nil peers, got %v", peers)
	}
}
