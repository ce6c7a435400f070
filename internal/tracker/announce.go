// Package tracker implements a BEP-3 HTTP tracker client: tiered announce
// URLs with BEP-12-style fallback and promotion, and decoding of both
// compact and dictionary peer list formats.
package tracker

import (
	"crypto/sha1"
	"net/netip"
	"time"
)

// Event signals a lifecycle transition in an announce request.
type Event int

const (
	EventNone Event = iota
	EventStarted
	EventStopped
	EventCompleted
)

func (e Event) String() string {
	switch e {
	case EventStarted:
		return "started"
	case EventStopped:
		return "stopped"
	case EventCompleted:
		return "completed"
	default:
		return ""
	}
}

// AnnounceParams carries everything a tracker needs to answer an announce.
type AnnounceParams struct {
	InfoHash   [sha1.Size]byte
	PeerID     [sha1.Size]byte
	Port       uint16
	Uploaded   uint64
	Downloaded uint64
	Left       uint64
	NumWant    int
	Event      Event
	TrackerID  string
}

// AnnounceResponse is what a tracker returned for one announce.
type AnnounceResponse struct {
	TrackerID   string
	Interval    time.Duration
	MinInterval time.Duration
	Seeders     int64
	Leechers    int64
	Peers       []netip.AddrPort
}
