// Package supervisor runs the single-consumer actor that owns a torrent's
// piece picker, block assembler, local bitfield, and disk writer. All state
// mutation happens on one goroutine reading a mailbox channel, so none of
// the owned types need their own external locking beyond what they already
// do internally for snapshot reads.
package supervisor

import (
	"context"
	"crypto/sha1"
	"fmt"
	"log/slog"
	"net/netip"
	"time"

	"github.com/ntran/leechcore/internal/assembler"
	"github.com/ntran/leechcore/internal/bitfield"
	"github.com/ntran/leechcore/internal/config"
	"github.com/ntran/leechcore/internal/diskwriter"
	"github.com/ntran/leechcore/internal/peersession"
	"github.com/ntran/leechcore/internal/piece"
)

// Params configures a new Supervisor for one torrent download.
type Params struct {
	Config      *config.Config
	TotalSize   int64
	PieceLength int64
	PieceHashes [][sha1.Size]byte
	Disk        *diskwriter.Pool
}

type mailboxMsg struct {
	kind    mailboxKind
	addr    netip.AddrPort
	session *peersession.Session
	event   peersession.Event
}

type mailboxKind int

const (
	msgPeerConnected mailboxKind = iota
	msgPeerEvent
	msgPeerDisconnected
)

type peerProgress struct {
	piece     int // -1 if the peer owns no piece right now
	nextBlock int
	pieceLen  int
}

// Supervisor is a single torrent's download coordinator.
type Supervisor struct {
	cfg         *config.Config
	log         *slog.Logger
	totalSize   int64
	pieceLength int64
	hashes      [][sha1.Size]byte

	picker    *piece.Picker
	assembler *assembler.Assembler
	disk      *diskwriter.Pool

	mailbox chan mailboxMsg

	sessions   map[netip.AddrPort]*peersession.Session
	peerBitmap map[netip.AddrPort]bitfield.Bitfield
	progress   map[netip.AddrPort]*peerProgress

	done chan struct{}
}

// New builds a Supervisor ready to Run.
func New(p Params) (*Supervisor, error) {
	picker, err := piece.NewPicker(len(p.PieceHashes), p.Config.StrategySwitchThreshold, time.Now().UnixNano())
	if err != nil {
		return nil, fmt.Errorf("supervisor: %w", err)
	}

	return &Supervisor{
		cfg:         p.Config,
		log:         slog.Default().With("component", "supervisor"),
		totalSize:   p.TotalSize,
		pieceLength: p.PieceLength,
		hashes:      p.PieceHashes,
		picker:      picker,
		assembler:   assembler.New(),
		disk:        p.Disk,
		mailbox:     make(chan mailboxMsg, 256),
		sessions:    make(map[netip.AddrPort]*peersession.Session),
		peerBitmap:  make(map[netip.AddrPort]bitfield.Bitfield),
		progress:    make(map[netip.AddrPort]*peerProgress),
		done:        make(chan struct{}),
	}, nil
}

// Bitfield returns a snapshot of the locally-held pieces.
func (s *Supervisor) Bitfield() bitfield.Bitfield { return s.picker.Bitfield() }

// Done reports whether every piece has been downloaded.
func (s *Supervisor) Done() bool { return s.picker.Done() }

// NotifyPeerConnected registers a new session with the supervisor.
func (s *Supervisor) NotifyPeerConnected(sess *peersession.Session) {
	s.mailbox <- mailboxMsg{kind: msgPeerConnected, addr: sess.Addr(), session: sess}
}

// NotifyPeerEvent forwards a single wire event from sess to the supervisor.
func (s *Supervisor) NotifyPeerEvent(addr netip.AddrPort, ev peersession.Event) {
	s.mailbox <- mailboxMsg{kind: msgPeerEvent, addr: addr, event: ev}
}

// NotifyPeerDisconnected tells the supervisor a peer is gone.
func (s *Supervisor) NotifyPeerDisconnected(addr netip.AddrPort) {
	s.mailbox <- mailboxMsg{kind: msgPeerDisconnected, addr: addr}
}

// Run processes the mailbox until ctx is canceled or the torrent completes.
func (s *Supervisor) Run(ctx context.Context) error {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case msg := <-s.mailbox:
			s.handle(msg)
			if s.picker.Done() {
				close(s.done)
				return nil
			}

		case <-ticker.C:
			s.assignWorkToIdlePeers()
		}
	}
}

// WaitDone blocks until the torrent completes or ctx is canceled.
func (s *Supervisor) WaitDone(ctx context.Context) error {
	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Supervisor) handle(msg mailboxMsg) {
	switch msg.kind {
	case msgPeerConnected:
		s.sessions[msg.addr] = msg.session
		s.peerBitmap[msg.addr] = bitfield.New(len(s.hashes))
		s.progress[msg.addr] = &peerProgress{piece: -1}
		msg.session.SendBitfield(s.picker.Bitfield())

	case msgPeerEvent:
		s.handlePeerEvent(msg.addr, msg.event)

	case msgPeerDisconnected:
		s.forgetPeer(msg.addr)
	}
}

func (s *Supervisor) handlePeerEvent(addr netip.AddrPort, ev peersession.Event) {
	switch ev.Kind {
	case peersession.EventBitfield:
		if err := bitfield.ValidateFromWire(ev.Bitfield.Bytes(), len(s.hashes)); err != nil {
			s.log.Warn("supervisor.peer.bad_bitfield", slog.String("peer", addr.String()), slog.String("err", err.Error()))
			return
		}
		s.peerBitmap[addr] = ev.Bitfield
		s.picker.OnPeerBitfield(addr, ev.Bitfield)
		s.maybeShowInterest(addr)

	case peersession.EventHave:
		bf, ok := s.peerBitmap[addr]
		if !ok {
			return
		}
		// Only a bit the peer did not already have raises availability, so
		// a repeated HAVE cannot inflate the rarity counts.
		if bf.Set(ev.PieceIndex) {
			_ = s.picker.OnPeerHave(addr, ev.PieceIndex)
		}
		s.maybeShowInterest(addr)

	case peersession.EventUnchoke:
		// The peer just lifted its choke; give it a task and fill its
		// pipeline now instead of waiting for the next ticker tick.
		s.tryAssignAndFill(addr)

	case peersession.EventPiece:
		s.handleBlock(addr, ev)

	case peersession.EventDisconnected:
		s.forgetPeer(addr)

	case peersession.EventChoke:
		// Session already cleared its pipeline on Choke, so the requests it
		// dropped will never be answered. Rewind the owned piece so its
		// blocks are requested again after Unchoke; blocks that already
		// arrived are simply refilled by the assembler.
		if prog, ok := s.progress[addr]; ok && prog.piece != -1 {
			prog.nextBlock = 0
		}

	case peersession.EventInterested, peersession.EventNotInterested:
		// A pure leecher never uploads, so a peer's interest in us requires
		// no supervisor-side reaction.
	}
}

func (s *Supervisor) maybeShowInterest(addr netip.AddrPort) {
	sess, ok := s.sessions[addr]
	if !ok {
		return
	}

	bf := s.peerBitmap[addr]
	have := s.picker.Bitfield()
	for i := 0; i < len(s.hashes); i++ {
		if bf.Has(i) && !have.Has(i) {
			sess.SendInterested()
			return
		}
	}
	sess.SendNotInterested()
}

func (s *Supervisor) handleBlock(addr netip.AddrPort, ev peersession.Event) {
	sess, ok := s.sessions[addr]
	if !ok {
		return
	}
	prog, ok := s.progress[addr]
	if !ok || prog.piece != ev.PieceIndex {
		return // block for a piece this peer no longer owns; ignore
	}

	done, verified, data, err := s.assembler.PutBlock(ev.PieceIndex, ev.Begin, ev.Data, s.hashes[ev.PieceIndex])
	if err != nil {
		s.log.Warn("supervisor.block.error", slog.String("peer", addr.String()), slog.String("err", err.Error()))
		return
	}
	if !done {
		// Keep the pipeline full: one PIECE in means one more REQUEST out,
		// rather than waiting for the next ticker tick.
		s.fillPipeline(sess, prog)
		return
	}

	prog.piece = -1

	if !verified {
		s.log.Warn("supervisor.piece.hash_mismatch", slog.Int("piece", ev.PieceIndex))
		_ = s.picker.MarkFailed(ev.PieceIndex)
		s.tryAssignAndFill(addr)
		return
	}

	start, _, err := piece.OffsetBounds(ev.PieceIndex, s.totalSize, s.pieceLength)
	if err != nil {
		s.log.Error("supervisor.piece.bad_offset", slog.Int("piece", ev.PieceIndex), slog.String("err", err.Error()))
		return
	}

	if err := s.disk.Submit(context.Background(), start, data); err != nil {
		s.log.Error("supervisor.piece.write_failed", slog.Int("piece", ev.PieceIndex), slog.String("err", err.Error()))
		_ = s.picker.MarkFailed(ev.PieceIndex)
		s.tryAssignAndFill(addr)
		return
	}

	_ = s.picker.MarkDownloaded(ev.PieceIndex)

	for peer := range s.sessions {
		s.maybeShowInterest(peer)
	}

	s.tryAssignAndFill(addr)
}

func (s *Supervisor) forgetPeer(addr netip.AddrPort) {
	bf, hadBF := s.peerBitmap[addr]
	if prog, ok := s.progress[addr]; ok && prog.piece != -1 {
		s.assembler.Abandon(prog.piece)
	}
	if hadBF {
		s.picker.OnPeerGone(addr, bf)
	} else {
		s.picker.OnPeerGone(addr, nil)
	}

	delete(s.sessions, addr)
	delete(s.peerBitmap, addr)
	delete(s.progress, addr)
}

func (s *Supervisor) assignWorkToIdlePeers() {
	for addr := range s.sessions {
		s.tryAssignAndFill(addr)
	}
}

// tryAssignAndFill gives addr a piece if it is idle and not choking us, then
// tops up its request pipeline. Called both from the poll ticker and
// reactively off Unchoke/Piece events, so a peer never waits up to a second
// for work it could have had immediately.
func (s *Supervisor) tryAssignAndFill(addr netip.AddrPort) {
	sess, ok := s.sessions[addr]
	if !ok {
		return
	}
	if sess.PeerChoking() {
		// Assigning a piece here would lock it to this peer (NextForPeer
		// marks it Requested) until OnPeerGone, even though it cannot
		// serve any REQUEST until it unchokes us.
		return
	}

	prog := s.progress[addr]
	if prog == nil {
		return
	}

	if prog.piece == -1 {
		bf, ok := s.peerBitmap[addr]
		if !ok {
			return
		}

		idx, ok := s.picker.NextForPeer(addr, bf)
		if !ok {
			return
		}

		pieceLen, err := piece.LengthAt(idx, s.totalSize, s.pieceLength)
		if err != nil {
			return
		}

		s.assembler.Begin(idx, pieceLen)
		prog.piece = idx
		prog.nextBlock = 0
		prog.pieceLen = pieceLen
	}

	s.fillPipeline(sess, prog)
}

func (s *Supervisor) fillPipeline(sess *peersession.Session, prog *peerProgress) {
	blockCount := piece.BlockCount(prog.pieceLen)

	for sess.InflightCount() < s.cfg.PipelineCap && prog.nextBlock < blockCount {
		begin, length, err := piece.BlockBounds(prog.pieceLen, prog.nextBlock)
		if err != nil {
			return
		}
		if !sess.TryRequest(prog.piece, begin, length) {
			return
		}
		prog.nextBlock++
	}
}
