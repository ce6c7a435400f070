package tracker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"net/url"
	"strings"
	"sync"
	"time"
)

// ErrAllTiersExhausted is returned by Announce when every tracker in every
// tier failed.
var ErrAllTiersExhausted = errors.New("tracker: all tiers exhausted")

// Announcer holds a BEP-12 tier list of HTTP tracker URLs and announces
// across them with failover: tiers are tried outer-to-inner, and within a
// tier the URL that last answered successfully is tried first. Each tier's
// initial order is shuffled once at construction per BEP-12.
type Announcer struct {
	mu      sync.Mutex
	tiers   [][]*url.URL
	clients map[string]*httpClient
	timeout time.Duration
	log     *slog.Logger
}

// New builds an Announcer from a primary announce URL and an optional
// announce-list tier structure. Only http/https URLs are kept; this client
// has no UDP tracker support.
func New(announce string, announceList [][]string, timeout time.Duration) (*Announcer, error) {
	tiers := buildTiers(announce, announceList)
	if len(tiers) == 0 {
		return nil, errors.New("tracker: no usable http/https announce urls")
	}

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	for _, tier := range tiers {
		rng.Shuffle(len(tier), func(i, j int) { tier[i], tier[j] = tier[j], tier[i] })
	}

	return &Announcer{
		tiers:   tiers,
		clients: make(map[string]*httpClient),
		timeout: timeout,
		log:     slog.Default().With("component", "tracker"),
	}, nil
}

func buildTiers(announce string, announceList [][]string) [][]*url.URL {
	var tiers [][]*url.URL

	if s := strings.TrimSpace(announce); s != "" {
		if u, ok := parseHTTPURL(s); ok {
			tiers = append(tiers, []*url.URL{u})
		}
	}

	for _, tier := range announceList {
		var out []*url.URL
		for _, raw := range tier {
			if u, ok := parseHTTPURL(raw); ok {
				out = append(out, u)
			}
		}
		if len(out) > 0 {
			tiers = append(tiers, out)
		}
	}

	return tiers
}

func parseHTTPURL(raw string) (*url.URL, bool) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return nil, false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, false
	}
	return u, true
}

// Announce tries every tracker, tier by tier, until one answers
// successfully. The winning URL is promoted to the front of its tier so the
// next announce tries it first.
func (a *Announcer) Announce(ctx context.Context, params *AnnounceParams) (*AnnounceResponse, error) {
	var lastErr error

	for tierIdx := 0; tierIdx < a.tierCount(); tierIdx++ {
		tier := a.snapshotTier(tierIdx)

		for i, u := range tier {
			resp, err := a.clientFor(u).Announce(ctx, params)
			if err != nil {
				lastErr = err
				a.log.Warn("announce.failed", slog.String("url", u.String()), slog.String("err", err.Error()))
				continue
			}

			a.promote(tierIdx, i)
			a.log.Info("announce.ok", slog.String("url", u.String()), slog.Int("peers", len(resp.Peers)))
			return resp, nil
		}
	}

	if lastErr == nil {
		lastErr = ErrAllTiersExhausted
	}
	return nil, fmt.Errorf("%w: %v", ErrAllTiersExhausted, lastErr)
}

// AnnounceStopped sends a best-effort "stopped" event to the tier's current
// front tracker, ignoring the result: a leecher shutting down should not
// block on tracker availability.
func (a *Announcer) AnnounceStopped(ctx context.Context, params *AnnounceParams) {
	if a.tierCount() == 0 {
		return
	}

	stopped := *params
	stopped.Event = EventStopped

	tier := a.snapshotTier(0)
	if len(tier) == 0 {
		return
	}

	_, err := a.clientFor(tier[0]).Announce(ctx, &stopped)
	if err != nil {
		a.log.Debug("announce.stopped.failed", slog.String("err", err.Error()))
	}
}

func (a *Announcer) tierCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.tiers)
}

func (a *Announcer) snapshotTier(idx int) []*url.URL {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]*url.URL(nil), a.tiers[idx]...)
}

func (a *Announcer) promote(tierIdx, urlIdx int) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if urlIdx <= 0 || urlIdx >= len(a.tiers[tierIdx]) {
		return
	}

	tier := a.tiers[tierIdx]
	u := tier[urlIdx]
	copy(tier[1:urlIdx+1], tier[0:urlIdx])
	tier[0] = u
}

func (a *Announcer) clientFor(u *url.URL) *httpClient {
	key := u.String()

	a.mu.Lock()
	defer a.mu.Unlock()

	if c, ok := a.clients[key]; ok {
		return c
	}

	c := newHTTPClient(u, a.timeout)
	a.clients[key] = c
	return c
}
