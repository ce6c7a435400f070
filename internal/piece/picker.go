package piece

import (
	"fmt"
	"math/rand"
	"net/netip"
	"sync"

	"github.com/ntran/leechcore/internal/bitfield"
)

// State is the download status of a single piece.
type State int

const (
	// NotRequested means no peer currently owns this piece.
	NotRequested State = iota
	// Requested means exactly one peer has been assigned this piece and
	// has outstanding or in-flight block requests for it.
	Requested
	// Downloaded means the piece's blocks were assembled and the hash
	// check passed.
	Downloaded
)

func (s State) String() string {
	switch s {
	case NotRequested:
		return "NotRequested"
	case Requested:
		return "Requested"
	case Downloaded:
		return "Downloaded"
	default:
		return "Unknown"
	}
}

// strategy selects which piece a picker hands out next.
type strategy int

const (
	strategyRandomFirst strategy = iota
	strategyRarestFirst
)

// Picker assigns whole pieces to peers, one owner at a time, preferring
// rarer pieces once enough of the torrent has landed to make rarity data
// meaningful. It holds no block-level state — that is PieceAssembler's job —
// only which piece each peer is currently working on.
type Picker struct {
	mu sync.Mutex

	pieceCount int
	state      []State
	owner      []netip.AddrPort // valid only when state[i] == Requested

	have bitfield.Bitfield // pieces this process already holds

	avail *availabilityBuckets

	strategySwitch  int
	downloadedCount int
	curStrategy     strategy
	rng             *rand.Rand
	peerAssignment  map[netip.AddrPort]int // peer -> piece it currently owns
}

// NewPicker builds a picker for a torrent with pieceCount pieces and an
// initial empty local bitfield. strategySwitchThreshold is how many pieces
// must be downloaded before the picker moves from RandomFirst to
// RarestFirst.
func NewPicker(pieceCount, strategySwitchThreshold int, seed int64) (*Picker, error) {
	if pieceCount <= 0 {
		return nil, fmt.Errorf("piece: pieceCount must be positive, got %d", pieceCount)
	}

	return &Picker{
		pieceCount:     pieceCount,
		state:          make([]State, pieceCount),
		owner:          make([]netip.AddrPort, pieceCount),
		have:           bitfield.New(pieceCount),
		avail:          newAvailabilityBuckets(pieceCount),
		strategySwitch: strategySwitchThreshold,
		curStrategy:    strategyRandomFirst,
		rng:            rand.New(rand.NewSource(seed)),
		peerAssignment: make(map[netip.AddrPort]int),
	}, nil
}

// Bitfield returns a snapshot of the locally-held pieces.
func (p *Picker) Bitfield() bitfield.Bitfield {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.have.Clone()
}

// Done reports whether every piece has been downloaded.
func (p *Picker) Done() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.downloadedCount == p.pieceCount
}

// OnPeerBitfield records that peer has every piece set in bf, updating
// rarity counts for each.
func (p *Picker) OnPeerBitfield(peer netip.AddrPort, bf bitfield.Bitfield) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for i := 0; i < p.pieceCount; i++ {
		if bf.Has(i) {
			p.avail.Inc(i)
		}
	}
}

// OnPeerHave records a single HAVE announcement from peer.
func (p *Picker) OnPeerHave(peer netip.AddrPort, pieceIdx int) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if pieceIdx < 0 || pieceIdx >= p.pieceCount {
		return fmt.Errorf("piece: have index out of range: %d", pieceIdx)
	}

	p.avail.Inc(pieceIdx)
	return nil
}

// OnPeerGone releases any piece currently owned by peer back to
// NotRequested, and rolls back the rarity counts peer contributed. bf is the
// bitfield last known for peer (nil if a handshake never completed).
func (p *Picker) OnPeerGone(peer netip.AddrPort, bf bitfield.Bitfield) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if idx, ok := p.peerAssignment[peer]; ok {
		if p.state[idx] == Requested {
			p.state[idx] = NotRequested
		}
		delete(p.peerAssignment, peer)
	}

	if bf == nil {
		return
	}
	for i := 0; i < p.pieceCount; i++ {
		if bf.Has(i) {
			p.avail.Dec(i)
		}
	}
}

// NextForPeer assigns peer the best available piece it can supply (per peerHas),
// returning its index. Returns (-1, false) if peer already owns a piece or
// has nothing this process still wants.
func (p *Picker) NextForPeer(peer netip.AddrPort, peerHas bitfield.Bitfield) (int, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, busy := p.peerAssignment[peer]; busy {
		return -1, false
	}

	want := func(i int) bool {
		return p.state[i] == NotRequested && peerHas.Has(i)
	}

	var idx int
	var ok bool

	switch p.curStrategy {
	case strategyRarestFirst:
		idx, ok = p.avail.RarestAmong(want)
	default:
		idx, ok = p.randomFirst(want)
	}
	if !ok {
		return -1, false
	}

	p.state[idx] = Requested
	p.owner[idx] = peer
	p.peerAssignment[peer] = idx

	return idx, true
}

// randomFirst picks a uniformly random eligible piece. It builds the
// candidate list fresh each call; for a leecher's piece counts (low
// thousands at most) this is cheap and keeps the picker free of incremental
// bookkeeping that would only matter for huge torrents.
func (p *Picker) randomFirst(want func(int) bool) (int, bool) {
	var candidates []int
	for i := 0; i < p.pieceCount; i++ {
		if want(i) {
			candidates = append(candidates, i)
		}
	}
	if len(candidates) == 0 {
		return -1, false
	}

	return candidates[p.rng.Intn(len(candidates))], true
}

// MarkDownloaded records that pieceIdx passed its hash check, releases its
// owner, and advances the RandomFirst -> RarestFirst strategy switch.
func (p *Picker) MarkDownloaded(pieceIdx int) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if pieceIdx < 0 || pieceIdx >= p.pieceCount {
		return fmt.Errorf("piece: index out of range: %d", pieceIdx)
	}

	owner := p.owner[pieceIdx]
	delete(p.peerAssignment, owner)

	if p.state[pieceIdx] != Downloaded {
		p.state[pieceIdx] = Downloaded
		p.have.Set(pieceIdx)
		p.downloadedCount++

		if p.curStrategy == strategyRandomFirst && p.downloadedCount >= p.strategySwitch {
			p.curStrategy = strategyRarestFirst
		}
	}

	return nil
}

// MarkFailed releases pieceIdx back to NotRequested after a failed hash
// check, so it can be reassigned — possibly to a different peer.
func (p *Picker) MarkFailed(pieceIdx int) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if pieceIdx < 0 || pieceIdx >= p.pieceCount {
		return fmt.Errorf("piece: index out of range: %d", pieceIdx)
	}

	owner := p.owner[pieceIdx]
	delete(p.peerAssignment, owner)
	p.state[pieceIdx] = NotRequested

	return nil
}

// State returns the current state of pieceIdx.
func (p *Picker) State(pieceIdx int) (State, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if pieceIdx < 0 || pieceIdx >= p.pieceCount {
		return 0, fmt.Errorf("piece: index out of range: %d", pieceIdx)
	}

	return p.state[pieceIdx], nil
}
