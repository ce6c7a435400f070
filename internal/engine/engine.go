// Package engine wires together metainfo parsing, the tracker announcer,
// the disk writer, peer dialing, and the per-torrent supervisor into a
// single runnable download. It owns the one component the rest of the
// package tree does not: the errgroup that ties their lifetimes together.
package engine

import (
	"context"
	"crypto/sha1"
	"errors"
	"fmt"
	"log/slog"
	"net/netip"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ntran/leechcore/internal/config"
	"github.com/ntran/leechcore/internal/diskwriter"
	"github.com/ntran/leechcore/internal/metainfo"
	"github.com/ntran/leechcore/internal/peerid"
	"github.com/ntran/leechcore/internal/peersession"
	"github.com/ntran/leechcore/internal/supervisor"
	"github.com/ntran/leechcore/internal/tracker"
)

// fallbackReannounceInterval is used when a tracker returns no interval;
// matches the tracker package's own default for a missing/non-positive
// interval in the announce response.
const fallbackReannounceInterval = 120 * time.Second

// diskWorkerCount is the size of the block-write worker pool.
const diskWorkerCount = 4

// Engine runs a single torrent download from construction to completion.
type Engine struct {
	cfg      *config.Config
	log      *slog.Logger
	info     *metainfo.Metainfo
	localID  [sha1.Size]byte
	announce *tracker.Announcer
	writer   *diskwriter.Writer
	diskPool *diskwriter.Pool
	sup      *supervisor.Supervisor
	events   chan peersession.Event

	mu      sync.Mutex
	peers   map[netip.AddrPort]*peersession.Session
	cancel  context.CancelFunc
}

// New parses a .torrent file's bytes and builds an Engine ready to Run. cfg
// may be nil, in which case config.Default() is used.
func New(torrentData []byte, cfg *config.Config) (*Engine, error) {
	if cfg == nil {
		cfg = config.Default()
	}

	info, err := metainfo.Parse(torrentData)
	if err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}

	localID, err := peerid.New(cfg.ClientTag)
	if err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}

	log := slog.Default().With("torrent", info.Info.Name)

	writer, err := diskwriter.Open(cfg.DownloadDir, info.Info.Name, info.Info.Length)
	if err != nil {
		return nil, fmt.Errorf("engine: open output: %w", err)
	}

	announcer, err := tracker.New(info.Announce, info.AnnounceList, cfg.TrackerTimeout)
	if err != nil {
		_ = writer.Close()
		return nil, fmt.Errorf("engine: %w", err)
	}

	diskPool := diskwriter.NewPool(context.Background(), writer, diskWorkerCount)

	sup, err := supervisor.New(supervisor.Params{
		Config:      cfg,
		TotalSize:   info.Info.Length,
		PieceLength: info.Info.PieceLength,
		PieceHashes: info.Info.Pieces,
		Disk:        diskPool,
	})
	if err != nil {
		_ = diskPool.Close()
		_ = writer.Close()
		return nil, fmt.Errorf("engine: %w", err)
	}

	return &Engine{
		cfg:      cfg,
		log:      log,
		info:     info,
		localID:  localID,
		announce: announcer,
		writer:   writer,
		diskPool: diskPool,
		sup:      sup,
		events:   make(chan peersession.Event, 256),
		peers:    make(map[netip.AddrPort]*peersession.Session),
	}, nil
}

// InfoHash returns the torrent's computed info hash.
func (e *Engine) InfoHash() [sha1.Size]byte { return e.info.InfoHash }

// Name returns the torrent's display name.
func (e *Engine) Name() string { return e.info.Info.Name }

// Stats is a point-in-time snapshot of download progress.
type Stats struct {
	Progress   float64
	Downloaded int64
	Total      int64
	Peers      int
	Done       bool
}

// Stats reports current progress. Safe to call concurrently with Run.
func (e *Engine) Stats() Stats {
	bf := e.sup.Bitfield()
	total := len(e.info.Info.Pieces)
	downloaded := bf.Count()

	e.mu.Lock()
	peerCount := len(e.peers)
	e.mu.Unlock()

	progress := 0.0
	if total > 0 {
		progress = float64(downloaded) / float64(total) * 100.0
	}

	return Stats{
		Progress:   progress,
		Downloaded: int64(downloaded) * e.info.Info.PieceLength,
		Total:      e.info.Info.Length,
		Peers:      peerCount,
		Done:       e.sup.Done(),
	}
}

// Run drives the download to completion or until ctx is canceled. It
// returns nil once every piece has been downloaded and verified.
func (e *Engine) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return e.sup.Run(gctx) })
	g.Go(func() error { return e.forwardEvents(gctx) })
	g.Go(func() error { return e.announceLoop(gctx) })
	g.Go(func() error {
		if err := e.sup.WaitDone(gctx); err == nil {
			e.log.Info("engine.download.complete")
			cancel()
		}
		return nil
	})

	runErr := g.Wait()

	e.announce.AnnounceStopped(context.Background(), e.announceParams(tracker.EventStopped))

	e.mu.Lock()
	for _, sess := range e.peers {
		_ = sess.Stop()
	}
	e.mu.Unlock()

	if closeErr := e.diskPool.Close(); closeErr != nil && runErr == nil {
		runErr = closeErr
	}
	if closeErr := e.writer.Close(); closeErr != nil && runErr == nil {
		runErr = closeErr
	}

	if runErr != nil && errors.Is(runErr, context.Canceled) {
		return nil
	}
	return runErr
}

// Stop cancels an in-progress Run.
func (e *Engine) Stop() {
	if e.cancel != nil {
		e.cancel()
	}
}

func (e *Engine) forwardEvents(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-e.events:
			e.sup.NotifyPeerEvent(ev.Peer, ev)
			if ev.Kind == peersession.EventDisconnected {
				e.removePeer(ev.Peer)
			}
		}
	}
}

func (e *Engine) announceLoop(ctx context.Context) error {
	resp, err := e.announce.Announce(ctx, e.announceParams(tracker.EventStarted))
	if err != nil {
		return fmt.Errorf("engine: initial announce: %w", err)
	}
	e.dialPeers(ctx, resp.Peers)

	interval := resp.Interval
	if interval <= 0 {
		interval = fallbackReannounceInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case <-ticker.C:
			resp, err := e.announce.Announce(ctx, e.announceParams(tracker.EventNone))
			if err != nil {
				e.log.Warn("engine.announce.failed", slog.String("err", err.Error()))
				continue
			}
			e.dialPeers(ctx, resp.Peers)
			if resp.Interval > 0 {
				ticker.Reset(resp.Interval)
			}
		}
	}
}

func (e *Engine) announceParams(event tracker.Event) *tracker.AnnounceParams {
	s := e.Stats()
	left := s.Total - s.Downloaded
	if left < 0 {
		left = 0
	}

	return &tracker.AnnounceParams{
		InfoHash:   e.info.InfoHash,
		PeerID:     e.localID,
		Port:       e.cfg.ListenPort,
		Downloaded: uint64(s.Downloaded),
		Left:       uint64(left),
		NumWant:    e.cfg.NumWant,
		Event:      event,
	}
}

func (e *Engine) dialPeers(ctx context.Context, addrs []netip.AddrPort) {
	for _, addr := range addrs {
		e.mu.Lock()
		full := len(e.peers) >= e.cfg.MaxPeersPerTorrent
		_, already := e.peers[addr]
		e.mu.Unlock()

		if full || already {
			continue
		}

		go e.connectPeer(ctx, addr)
	}
}

func (e *Engine) connectPeer(ctx context.Context, addr netip.AddrPort) {
	sess, err := peersession.Dial(ctx, e.cfg, addr, e.info.InfoHash, e.localID, e.events)
	if err != nil {
		e.log.Debug("engine.peer.dial_failed", slog.String("addr", addr.String()), slog.String("err", err.Error()))
		return
	}

	e.mu.Lock()
	if len(e.peers) >= e.cfg.MaxPeersPerTorrent {
		e.mu.Unlock()
		_ = sess.Stop()
		return
	}
	e.peers[addr] = sess
	e.mu.Unlock()

	sess.Start(ctx)
	e.sup.NotifyPeerConnected(sess)
}

func (e *Engine) removePeer(addr netip.AddrPort) {
	e.mu.Lock()
	sess, ok := e.peers[addr]
	delete(e.peers, addr)
	e.mu.Unlock()

	if ok {
		_ = sess.Stop()
	}
	e.sup.NotifyPeerDisconnected(addr)
}
