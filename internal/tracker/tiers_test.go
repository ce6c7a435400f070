package tracker

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ntran/leechcore/internal/bencode"
)

func announceServer(t *testing.T, peers string) *httptest.Server {
	t.Helper()

	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("compact") != "1" {
			t.Errorf("expected compact=1 query param, got %q", r.URL.Query().Get("compact"))
		}

		body, err := bencode.Marshal(map[string]any{
			"interval":   1800,
			"complete":   3,
			"incomplete": 7,
			"peers":      peers,
		})
		if err != nil {
			t.Fatalf("marshal response: %v", err)
		}

		w.Write(body)
	}))
}

func failingServer(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
}

func TestAnnounceSendsCompactAndParsesPeers(t *testing.T) {
	compact := string([]byte{127, 0, 0, 1, 0x1A, 0xE1})
	srv := announceServer(t, compact)
	defer srv.Close()

	a, err := New(srv.URL, nil, 5*time.Second)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	resp, err := a.Announce(context.Background(), &AnnounceParams{NumWant: 50})
	if err != nil {
		t.Fatalf("Announce: %v", err)
	}
	if len(resp.Peers) != 1 {
		t.Fatalf("peers = %d, want 1", len(resp.Peers))
	}
	if resp.Seeders != 3 || resp.Leechers != 7 {
		t.Fatalf("seeders=%d leechers=%d, want 3/7", resp.Seeders, resp.Leechers)
	}
}

func TestAnnounceFailsOverToNextTier(t *testing.T) {
	bad := failingServer(t)
	defer bad.Close()

	compact := string([]byte{10, 0, 0, 1, 0x00, 0x50})
	good := announceServer(t, compact)
	defer good.Close()

	a, err := New(bad.URL, [][]string{{good.URL}}, 5*time.Second)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	resp, err := a.Announce(context.Background(), &AnnounceParams{})
	if err != nil {
		t.Fatalf("Announce: %v", err)
	}
	if len(resp.Peers) != 1 {
		t.Fatalf("peers = %d, want 1", len(resp.Peers))
	}
}

func TestAnnounceAllTiersExhausted(t *testing.T) {
	bad := failingServer(t)
	defer bad.Close()

	a, err := New(bad.URL, nil, 5*time.Second)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if _, err := a.Announce(context.Background(), &AnnounceParams{}); err == nil {
		t.Fatal("expected error when every tracker fails")
	}
}

func TestNewRejectsNonHTTPSchemes(t *testing.T) {
	if _, err := New("udp://tracker.example.com:80/announce", nil, time.Second); err == nil {
		t.Fatal("expected error: no http/https urls available")
	}
}

func TestAnnounceDefaultsIntervalWhenAbsent(t *testing.T) {
	compact := string([]byte{127, 0, 0, 1, 0x1A, 0xE1})

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := bencode.Marshal(map[string]any{
			"peers": compact,
		})
		if err != nil {
			t.Fatalf("marshal response: %v", err)
		}
		w.Write(body)
	}))
	defer srv.Close()

	a, err := New(srv.URL, nil, 5*time.Second)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	resp, err := a.Announce(context.Background(), &AnnounceParams{})
	if err != nil {
		t.Fatalf("Announce: %v, want success with a defaulted interval", err)
	}
	if resp.Interval != 120*time.Second {
		t.Fatalf("Interval = %v, want 120s default", resp.Interval)
	}
}

func TestAnnounceUsesTrackerIDResponseKey(t *testing.T) {
	compact := string([]byte{127, 0, 0, 1, 0x1A, 0xE1})

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := bencode.Marshal(map[string]any{
			"interval":   1800,
			"tracker id": "abc123",
			"peers":      compact,
		})
		if err != nil {
			t.Fatalf("marshal response: %v", err)
		}
		w.Write(body)
	}))
	defer srv.Close()

	a, err := New(srv.URL, nil, 5*time.Second)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	resp, err := a.Announce(context.Background(), &AnnounceParams{})
	if err != nil {
		t.Fatalf("Announce: %v", err)
	}
	if resp.TrackerID != "abc123" {
		t.Fatalf("TrackerID = %q, want %q", resp.TrackerID, "abc123")
	}
}
