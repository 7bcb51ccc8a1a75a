package swarm

import (
	"context"
	"net/netip"
	"time"

	"github.com/anacrolix/chansync"
)

// PeerManager owns every swarm, the session-wide incoming-handshake set, the five pulse timers,
// and the blocklist-invalidation hook. All mutation happens on the goroutine running Run; every
// other method enqueues a closure onto cmds and waits for the loop goroutine to run it, rather
// than taking a lock directly.
type PeerManager struct {
	cfg *Config

	swarms map[[20]byte]*Swarm

	sessionIncoming map[netip.AddrPort]struct{}

	cmds   chan func()
	closed chansync.SetOnce

	epoch uint64 // advanced each pulse, feeds the deterministic per-pulse salt

	udpUpkeep       func(now time.Time)
	announcerUpkeep func(now time.Time)
}

// NewPeerManager constructs a manager bound to cfg. udpUpkeep, if non-nil, is called on the
// UDP-transport's own 5s sub-cadence; it is the seam between this package and
// tracker/udptracker.Transport.Upkeep, injected rather than imported to avoid pulling the
// tracker package's PEX-ingestion callbacks (which need Swarm.EnsureAtom) into a hard dependency
// cycle. announcerUpkeep, if non-nil, is called every AnnouncerUpkeepPeriod pulse and is the seam
// onto tracker.Announcer.Upkeep for the same reason.
func NewPeerManager(cfg *Config, udpUpkeep, announcerUpkeep func(now time.Time)) *PeerManager {
	return &PeerManager{
		cfg:             cfg,
		swarms:          make(map[[20]byte]*Swarm),
		sessionIncoming: make(map[netip.AddrPort]struct{}),
		cmds:            make(chan func()),
		udpUpkeep:       udpUpkeep,
		announcerUpkeep: announcerUpkeep,
	}
}

// PostCompletion trampolines a callback from a hashing worker (or any other goroutine) onto the
// loop thread. It blocks until the closure has been enqueued, not until it has run.
func (m *PeerManager) PostCompletion(f func()) {
	select {
	case m.cmds <- f:
	case <-m.closed.Done():
	}
}

// withResult runs f on the loop thread and returns its result, for callers that need a value
// back synchronously.
func withResult[T any](m *PeerManager, f func() T) T {
	reply := make(chan T, 1)
	m.PostCompletion(func() { reply <- f() })
	select {
	case v := <-reply:
		return v
	case <-m.closed.Done():
		var zero T
		return zero
	}
}

// AddSwarm registers a new per-torrent swarm. Safe to call from any goroutine.
func (m *PeerManager) AddSwarm(s *Swarm) {
	m.PostCompletion(func() { m.swarms[s.InfoHash] = s })
}

// RemoveSwarm stops and forgets a swarm.
func (m *PeerManager) RemoveSwarm(infoHash [20]byte) {
	m.PostCompletion(func() {
		if s, ok := m.swarms[infoHash]; ok {
			s.Stop()
			delete(m.swarms, infoHash)
		}
	})
}

// InvalidateBlocklist resets every swarm's atoms to a lazily re-checked blocklist state.
func (m *PeerManager) InvalidateBlocklist() {
	m.PostCompletion(func() {
		for _, s := range m.swarms {
			s.InvalidateBlocklist()
		}
	})
}

// Run drives the five pulses until ctx is cancelled, processing commands enqueued by
// PostCompletion/AddSwarm/etc. in between. Each pulse iteration is a non-preemptible critical
// section: no command runs concurrently with a pulse.
func (m *PeerManager) Run(ctx context.Context) {
	bandwidth := time.NewTicker(BandwidthPulsePeriod)
	rechoke := time.NewTicker(RechokePulsePeriod)
	refill := time.NewTicker(RefillUpkeepPeriod)
	atomGC := time.NewTicker(AtomGCPeriod)
	announcer := time.NewTicker(AnnouncerUpkeepPeriod)
	udpUpkeep := time.NewTicker(UdpTransportUpkeepPeriod)
	defer bandwidth.Stop()
	defer rechoke.Stop()
	defer refill.Stop()
	defer atomGC.Stop()
	defer announcer.Stop()
	defer udpUpkeep.Stop()

	for {
		select {
		case <-ctx.Done():
			m.closed.Set()
			return
		case f := <-m.cmds:
			f()
		case now := <-bandwidth.C:
			m.bandwidthPulse(now)
		case now := <-rechoke.C:
			m.rechokePulse(now)
		case now := <-refill.C:
			m.refillPulse(now)
		case now := <-atomGC.C:
			m.atomGCPulse(now)
		case now := <-announcer.C:
			m.announcerPulse(now)
		case now := <-udpUpkeep.C:
			if m.udpUpkeep != nil {
				m.udpUpkeep(now)
			}
		}
	}
}

func (m *PeerManager) nextEpoch() uint64 {
	m.epoch++
	return m.epoch
}

// bandwidthPulse drains sends/recvs, allocates quota, and runs reconnect. Fires every 500ms.
func (m *PeerManager) bandwidthPulse(now time.Time) {
	for _, s := range m.swarms {
		for _, p := range s.peers.Values() {
			p.Pulse(now)
		}
	}
	m.reconnectPulse(now)
}

// reconnectPulse purges idle peers, enforces per-swarm and session-wide peer caps, and dials new
// candidates across every swarm, holding back IncomingSlotReserveFraction of MaxPeersSession so
// inbound connections always have room to land.
func (m *PeerManager) reconnectPulse(now time.Time) {
	epoch := m.nextEpoch()
	var live []*Swarm
	for _, s := range m.swarms {
		if s.stopped {
			s.Stop()
			continue
		}
		live = append(live, s)
	}
	weAreSeed := false
	pexAllowed := true
	for _, s := range live {
		s.purgeIdlePeers(now, weAreSeed, pexAllowed)
	}
	for _, s := range live {
		enforceCap([]*Swarm{s}, s.maxPeers, now)
	}
	enforceCap(live, m.cfg.MaxPeersSession, now)

	sessionPeers := 0
	for _, s := range live {
		sessionPeers += s.PeerCount()
	}
	reserved := int(m.cfg.IncomingSlotReserveFraction * float64(m.cfg.MaxPeersSession))
	budget := m.cfg.MaxPeersSession - reserved - sessionPeers
	if budget < 0 {
		budget = 0
	}

	for _, s := range live {
		if budget <= 0 {
			break
		}
		if !s.WantPeers() {
			continue
		}
		perSwarm := m.cfg.DialsPerReconnectPulse
		if perSwarm > budget {
			perSwarm = budget
		}
		dialed := s.dialCandidates(now, perSwarm, epoch)
		for _, a := range dialed {
			a.lastAttempt = now
			a.handshaking = true
			// Actually opening the socket and running the wire handshake belongs to the
			// externally-owned peer-messages layer; PeerManager only decides who to dial.
		}
		budget -= len(dialed)
	}
}

// rechokePulse recomputes interest and choke per torrent. Fires every 10s.
func (m *PeerManager) rechokePulse(now time.Time) {
	epoch := m.nextEpoch()
	for _, s := range m.swarms {
		s.Rechoke(now, m.cfg.UploadSlotsPerTorrent, !s.stopped, s.private, s.AllSeeds(), epoch)
	}
}

// refillPulse expires stale outgoing block requests. Fires every 10s.
func (m *PeerManager) refillPulse(now time.Time) {
	for _, s := range m.swarms {
		s.RefillUpkeep(now)
	}
}

// atomGCPulse prunes each swarm's candidate pool. Fires every 60s.
func (m *PeerManager) atomGCPulse(now time.Time) {
	for _, s := range m.swarms {
		s.AtomGC(now)
	}
}

// announcerPulse drives announce/scrape state machines by calling the injected
// tracker.Announcer.Upkeep hook, if the embedder registered one.
func (m *PeerManager) announcerPulse(now time.Time) {
	if m.announcerUpkeep != nil {
		m.announcerUpkeep(now)
	}
}
