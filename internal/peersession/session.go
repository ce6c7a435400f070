// Package peersession runs one actor per connected peer: handshake, the
// choke/interest state machine, an outbound request pipeline, and keep-alive
// handling. Every inbound wire event is forwarded to the owning supervisor
// as an Event rather than mutating shared state directly.
package peersession

import (
	"context"
	"crypto/sha1"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ntran/leechcore/internal/bitfield"
	"github.com/ntran/leechcore/internal/config"
	"github.com/ntran/leechcore/internal/protocol"
)

// Event is something a session observed on the wire that the supervisor
// needs to react to.
type Event struct {
	Peer       netip.AddrPort
	Bitfield   bitfield.Bitfield // EventBitfield
	PieceIndex int               // EventHave, EventPiece
	Begin      int               // EventPiece
	Data       []byte            // EventPiece
	Err        error             // EventDisconnected
	Kind       EventKind
}

// EventKind discriminates the Event union.
type EventKind int

const (
	EventBitfield EventKind = iota
	EventHave
	EventChoke
	EventUnchoke
	EventInterested
	EventNotInterested
	EventPiece
	EventDisconnected
)

// Session is a single peer connection's actor.
type Session struct {
	conn net.Conn
	log  *slog.Logger
	cfg  *config.Config
	addr netip.AddrPort

	amChoking      bool
	amInterested   bool
	peerChoking    bool
	peerInterested bool

	outq    chan *protocol.Message
	events  chan<- Event
	inflate map[uint64]struct{} // outstanding request keys

	grp    *errgroup.Group
	cancel context.CancelFunc
}

func requestKey(pieceIndex, begin int) uint64 {
	return uint64(pieceIndex)<<32 | uint64(uint32(begin))
}

// Dial opens a TCP connection to addr, performs the handshake, and returns a
// Session ready to Start. events is the channel the session publishes wire
// activity to; the caller owns and drains it (the engine forwards each event
// to the supervisor).
func Dial(ctx context.Context, cfg *config.Config, addr netip.AddrPort, infoHash, localID [sha1.Size]byte, events chan<- Event) (*Session, error) {
	dialer := &net.Dialer{Timeout: cfg.DialTimeout}

	conn, err := dialer.DialContext(ctx, "tcp", addr.String())
	if err != nil {
		return nil, fmt.Errorf("peersession: dial %s: %w", addr, err)
	}

	_ = conn.SetDeadline(time.Now().Add(cfg.HandshakeTimeout))

	hs := protocol.NewHandshake(infoHash, localID)
	if _, err := hs.Exchange(conn, true); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("peersession: handshake with %s: %w", addr, err)
	}

	_ = conn.SetDeadline(time.Time{})

	return &Session{
		conn:         conn,
		log:          slog.Default().With("peer", addr.String()),
		cfg:          cfg,
		addr:         addr,
		amChoking:    true,
		peerChoking:  true,
		outq:         make(chan *protocol.Message, cfg.PeerOutboundQueueBacklog),
		events:       events,
		inflate:      make(map[uint64]struct{}),
	}, nil
}

// Start launches the read and write loops under a shared errgroup.
func (s *Session) Start(ctx context.Context) {
	childCtx, cancel := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(childCtx)

	s.cancel = cancel
	s.grp = g

	g.Go(func() error { return s.readLoop(gctx) })
	g.Go(func() error { return s.writeLoop(gctx) })
}

// Stop tears down the connection and waits for both loops to exit.
func (s *Session) Stop() error {
	if s.cancel != nil {
		s.cancel()
	}
	_ = s.conn.Close()

	if s.grp == nil {
		return nil
	}

	err := s.grp.Wait()
	if err != nil && errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Addr returns the peer's network address.
func (s *Session) Addr() netip.AddrPort { return s.addr }

// PeerChoking reports whether the remote peer is currently choking us.
func (s *Session) PeerChoking() bool { return s.peerChoking }

// InflightCount returns the number of outstanding block requests.
func (s *Session) InflightCount() int { return len(s.inflate) }

// SendInterested announces interest, a no-op if already sent.
func (s *Session) SendInterested() {
	if s.amInterested {
		return
	}
	s.amInterested = true
	s.enqueue(protocol.MessageInterested())
}

// SendNotInterested withdraws interest, a no-op if not currently interested.
func (s *Session) SendNotInterested() {
	if !s.amInterested {
		return
	}
	s.amInterested = false
	s.enqueue(protocol.MessageNotInterested())
}

// SendBitfield announces the local download progress right after the
// handshake.
func (s *Session) SendBitfield(bf bitfield.Bitfield) {
	s.enqueue(protocol.MessageBitfield(bf.Bytes()))
}

// TryRequest issues a block request if the outstanding pipeline has room and
// the peer is not choking us. Returns false if the request was not sent.
func (s *Session) TryRequest(pieceIndex, begin, length int) bool {
	if s.peerChoking {
		return false
	}
	if len(s.inflate) >= s.cfg.PipelineCap {
		return false
	}

	key := requestKey(pieceIndex, begin)
	if _, dup := s.inflate[key]; dup {
		return false
	}

	s.inflate[key] = struct{}{}
	s.enqueue(protocol.MessageRequest(uint32(pieceIndex), uint32(begin), uint32(length)))
	return true
}

// OnBlockDelivered clears an outstanding request after its data arrives, so
// the pipeline slot can be reused.
func (s *Session) OnBlockDelivered(pieceIndex, begin int) {
	delete(s.inflate, requestKey(pieceIndex, begin))
}

// ClearPipeline drops every outstanding request, used when the peer chokes
// us mid-piece: those requests will never be answered.
func (s *Session) ClearPipeline() {
	s.inflate = make(map[uint64]struct{})
}

func (s *Session) enqueue(msg *protocol.Message) {
	select {
	case s.outq <- msg:
	default:
		s.log.Warn("peersession.outq.full")
	}
}

func (s *Session) readLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		_ = s.conn.SetReadDeadline(time.Now().Add(s.cfg.PeerIdleTimeout))
		msg, err := protocol.ReadMessage(s.conn)
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			s.publish(Event{Kind: EventDisconnected, Err: fmt.Errorf("peersession: idle for %s", s.cfg.PeerIdleTimeout)})
			return fmt.Errorf("peersession: read timeout: %w", err)
		}
		if err != nil {
			s.publish(Event{Kind: EventDisconnected, Err: err})
			return fmt.Errorf("peersession: read: %w", err)
		}

		if msg == nil { // keep-alive
			continue
		}

		s.handleMessage(msg)
	}
}

func (s *Session) handleMessage(msg *protocol.Message) {
	switch msg.ID {
	case protocol.Choke:
		s.peerChoking = true
		s.ClearPipeline()
		s.publish(Event{Kind: EventChoke})
	case protocol.Unchoke:
		s.peerChoking = false
		s.publish(Event{Kind: EventUnchoke})
	case protocol.Interested:
		s.peerInterested = true
		s.publish(Event{Kind: EventInterested})
	case protocol.NotInterested:
		s.peerInterested = false
		s.publish(Event{Kind: EventNotInterested})
	case protocol.Bitfield:
		s.publish(Event{Kind: EventBitfield, Bitfield: bitfield.FromBytes(msg.Payload)})
	case protocol.Have:
		idx, ok := msg.ParseHave()
		if !ok {
			return
		}
		s.publish(Event{Kind: EventHave, PieceIndex: int(idx)})
	case protocol.Piece:
		idx, begin, data, ok := msg.ParsePiece()
		if !ok {
			return
		}
		s.OnBlockDelivered(int(idx), int(begin))
		s.publish(Event{Kind: EventPiece, PieceIndex: int(idx), Begin: int(begin), Data: data})
	default:
	}
}

func (s *Session) publish(ev Event) {
	ev.Peer = s.addr
	select {
	case s.events <- ev:
	default:
		s.log.Warn("peersession.events.full", slog.Int("kind", int(ev.Kind)))
	}
}

func (s *Session) writeLoop(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.PeerKeepAliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case msg, ok := <-s.outq:
			if !ok {
				return nil
			}
			if err := s.writeMessage(msg); err != nil {
				return fmt.Errorf("peersession: write: %w", err)
			}

		case <-ticker.C:
			if err := s.writeMessage(nil); err != nil {
				return fmt.Errorf("peersession: keepalive: %w", err)
			}
		}
	}
}

func (s *Session) writeMessage(msg *protocol.Message) error {
	_ = s.conn.SetWriteDeadline(time.Now().Add(s.cfg.RequestTimeout))
	defer s.conn.SetWriteDeadline(time.Time{})

	return protocol.WriteMessage(s.conn, msg)
}
