package swarm

import (
	"net/netip"
	"time"
)

// handshakeDirection distinguishes an outgoing handshake we initiated from an incoming one
// accepted by the acceptor.
type handshakeDirection int

const (
	handshakeDialing handshakeDirection = iota
	handshakeAccepting
)

// outgoingHandshake is an in-progress dial, keyed by address in the swarm's outgoingHandshakes
// container. Its address set is always disjoint from the live peers' addresses.
type outgoingHandshake struct {
	addr      netip.AddrPort
	direction handshakeDirection
	startedAt time.Time
	cancel    func()
}

// handshakeOutcome is what the externally-owned wire-protocol layer reports back once a
// handshake either completes or fails.
type handshakeOutcome struct {
	Addr             netip.AddrPort
	Direction        handshakeDirection
	Success          bool
	Inbound          bool
	InfoHashKnown    bool
	EverReadAnything bool
	Source           DiscoverySource
	Flags            AtomFlags
	Peer             LivePeer // set only on success
}

// acceptIncoming admits or rejects a freshly-accepted socket before the handshake proper begins.
// It reports the error to reject the connection, or nil to proceed with the handshake.
func (s *Swarm) acceptIncoming(addr netip.AddrPort, now time.Time, blocklisted func(netip.Addr) bool) error {
	if blocklisted(addr.Addr()) {
		return ErrAddressBlocklisted
	}
	if _, ok := s.incomingInProgress[addr]; ok {
		return ErrIncomingInProgress
	}
	s.incomingInProgress[addr] = struct{}{}
	return nil
}

// completeHandshake applies the completion rules for either direction. It returns the newly
// installed peer; an admitted handshake that can't be installed returns nil with ErrAtomBanned,
// ErrSwarmFull or ErrAlreadyConnected, and a failed handshake returns nil with a nil error, or
// ErrUnknownInfohash for an inbound handshake naming an unknown torrent.
func (s *Swarm) completeHandshake(out handshakeOutcome, now time.Time) (LivePeer, error) {
	delete(s.incomingInProgress, out.Addr)
	delete(s.outgoingHandshakes, out.Addr)
	if a, ok := s.pool.Get(out.Addr); ok {
		a.handshaking = false
	}

	if !out.Success {
		if out.Inbound && !out.InfoHashKnown {
			return nil, ErrUnknownInfohash
		}
		if a, ok := s.pool.Get(out.Addr); ok {
			a.recordFailure(out.EverReadAnything)
		}
		return nil, nil
	}

	source := out.Source
	if out.Inbound {
		source = SourceIncoming
	}
	atom := s.EnsureAtom(out.Addr, out.Flags, source, now)
	atom.recordSuccess(!out.Inbound, now)

	if atom.Banned() {
		return nil, ErrAtomBanned
	}
	if out.Inbound && s.peers.Len() >= s.maxPeers {
		return nil, ErrSwarmFull
	}
	if s.peers.Contains(out.Addr) {
		return nil, ErrAlreadyConnected
	}

	atom.peer = out.Peer
	s.peers.Set(out.Addr, out.Peer)
	s.stats.onPeerInstalled(atom.bestSource)
	s.refreshWantPeers()
	return out.Peer, nil
}

// cancelOutgoingHandshakes cancels every in-flight dial, driving each one's completion callback
// to failure. Used on torrent stop.
func (s *Swarm) cancelOutgoingHandshakes() {
	for _, h := range s.outgoingHandshakes {
		if h.cancel != nil {
			h.cancel()
		}
	}
}
