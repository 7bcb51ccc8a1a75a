package swarm

import (
	"net/netip"
	"time"

	"github.com/anacrolix/chansync"
	"github.com/anacrolix/generics"

	"github.com/relaytorrent/swarmcore/internal/ordered"
)

// swarmStats tracks per-origin peer counters: peerCount always equals the live peer set's size,
// and the per-source counters sum to it.
type swarmStats struct {
	peerCount     int
	peerFromCount [SourceLPD + 1]int
}

func (s *swarmStats) onPeerInstalled(source DiscoverySource) {
	s.peerCount++
	s.peerFromCount[source]++
}

func (s *swarmStats) onPeerRemoved(source DiscoverySource) {
	s.peerCount--
	s.peerFromCount[source]--
}

// webseedPeer is a fixed URL-based peer, rebuilt whenever metadata arrives. The webseed wire
// protocol itself lives elsewhere; only the address-keyed bookkeeping lives here.
type webseedPeer struct {
	URL string
}

// AtomSeed is a pre-discovered candidate handed to a Swarm at construction or via one of the
// Ingest* entry points, letting PEX/LPD/resume-file callers add atoms without exposing the
// pool's internals.
type AtomSeed struct {
	Addr   netip.AddrPort
	Flags  AtomFlags
	Source DiscoverySource
}

// Swarm is the per-torrent aggregate: the atom pool, live peer set, in-flight handshakes,
// webseeds, active-request index, wishlist, and choke/interest/endgame state.
//
// A Swarm is mutated only from the event-loop goroutine that owns its PeerManager; it holds no
// lock of its own.
type Swarm struct {
	InfoHash [20]byte

	pool                *atomPool
	peers               *ordered.Map[netip.AddrPort, LivePeer]
	outgoingHandshakes  map[netip.AddrPort]*outgoingHandshake
	incomingInProgress  map[netip.AddrPort]struct{}
	webseeds            []webseedPeer
	active              *activeRequests
	wish                *wishlist
	stats               swarmStats

	optimistic                  generics.Option[LivePeer]
	optimisticUnchokeTimeScaler int
	endgame                     bool
	allSeedsDirty               bool
	allSeedsCache               bool
	interestedCount             int
	maxPeers                    int
	lastCancel                  time.Time

	// wantPeers is signaled while the swarm isn't stopped and its live peer set has room for
	// more; reconnectPulse reads it before spending a dial budget on this swarm.
	wantPeers chansync.Flag

	private   bool
	running   bool
	stopped   bool
	corrupt   int64
	uploaded  int64
	downloaded int64
}

// NewSwarm constructs an empty swarm for infoHash, capped at maxPeers live peers.
func NewSwarm(infoHash [20]byte, maxPeers int, private bool) *Swarm {
	s := &Swarm{
		InfoHash:           infoHash,
		pool:               newAtomPool(),
		peers:              ordered.New[netip.AddrPort, LivePeer](compareAddrPort),
		outgoingHandshakes: make(map[netip.AddrPort]*outgoingHandshake),
		incomingInProgress: make(map[netip.AddrPort]struct{}),
		active:             newActiveRequests(),
		wish:               newWishlist(),
		maxPeers:           maxPeers,
		private:            private,
		allSeedsDirty:      true,
	}
	s.refreshWantPeers()
	return s
}

// EnsureAtom is the shared entry point for every discovery source: incoming connections,
// tracker responses, PEX, DHT, LPD, and resume-file seeds.
func (s *Swarm) EnsureAtom(addr netip.AddrPort, flags AtomFlags, source DiscoverySource, now time.Time) *Atom {
	a := s.pool.ensureAtom(addr, flags, source, now)
	s.allSeedsDirty = true
	return a
}

// IngestPEX applies BEP 11 additions/drops as atom-pool churn. The wire message parsing that
// produces added/droppedAddrs happens elsewhere; this is the effect.
func (s *Swarm) IngestPEX(now time.Time, added []AtomSeed, droppedAddrs []netip.AddrPort) {
	for _, seed := range added {
		s.EnsureAtom(seed.Addr, seed.Flags, SourcePEX, now)
	}
	for _, addr := range droppedAddrs {
		if a, ok := s.pool.Get(addr); ok && !a.InUse() {
			s.pool.delete(addr)
		}
	}
}

// IngestLPD records a local-peer-discovery announcement, aged out after its 10-minute TTL.
func (s *Swarm) IngestLPD(addr netip.AddrPort, now time.Time) *Atom {
	return s.EnsureAtom(addr, 0, SourceLPD, now)
}

// IngestResume seeds atoms recovered from a resume file at swarm construction. Parsing the
// resume file itself happens elsewhere; callers pass already-parsed seeds.
func (s *Swarm) IngestResume(seeds []AtomSeed, now time.Time) {
	for _, seed := range seeds {
		s.EnsureAtom(seed.Addr, seed.Flags, SourceResume, now)
	}
}

// InvalidateBlocklist resets every atom's tri-state blocklist verdict to unknown.
func (s *Swarm) InvalidateBlocklist() {
	s.pool.each(func(a *Atom) { a.invalidateBlocklist() })
}

// AtomGC runs the 60s pool-pruning pulse.
func (s *Swarm) AtomGC(now time.Time) {
	capacity := s.maxPeers * 3
	if capacity > 50 {
		capacity = 50
	}
	s.pool.gc(now, capacity)
}

// AllSeeds reports whether every atom in the pool is a known seed, cached and invalidated on
// pool mutation.
func (s *Swarm) AllSeeds() bool {
	if !s.allSeedsDirty {
		return s.allSeedsCache
	}
	all := true
	s.pool.each(func(a *Atom) {
		if !a.Seed() {
			all = false
		}
	})
	s.allSeedsCache = all
	s.allSeedsDirty = false
	return all
}

func (s *Swarm) PeerCount() int { return s.peers.Len() }

// refreshWantPeers recomputes the wantPeers edge after the live peer set or the stopped state
// changes. reconnectPulse reads it to skip swarms that already have all the peers they can use.
func (s *Swarm) refreshWantPeers() {
	s.wantPeers.SetBool(!s.stopped && s.peers.Len() < s.maxPeers)
}

// WantPeers reports whether the swarm can currently use more live peers.
func (s *Swarm) WantPeers() bool { return s.wantPeers.Bool() }

// removePeer removes a live peer from the swarm, purging its active requests and stats. Used by
// the bandwidth/reconnect pulses and by peer-protocol error handling.
func (s *Swarm) removePeer(p LivePeer) {
	addr := p.Addr()
	if _, ok := s.peers.Get(addr); !ok {
		return
	}
	s.peers.Delete(addr)
	if a := p.Atom(); a != nil {
		a.peer = nil
	}
	s.active.removePeer(p)
	s.stats.onPeerRemoved(sourceOf(p))
	s.refreshWantPeers()
}

func sourceOf(p LivePeer) DiscoverySource {
	if a := p.Atom(); a != nil {
		return a.bestSource
	}
	return SourceIncoming
}

// Stop disconnects every live peer and cancels outgoing handshakes.
func (s *Swarm) Stop() {
	s.running = false
	s.stopped = true
	s.cancelOutgoingHandshakes()
	for _, p := range s.peers.Values() {
		s.removePeer(p)
	}
	s.refreshWantPeers()
}
