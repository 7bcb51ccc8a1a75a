package swarm

import (
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func alwaysBlocked(netip.Addr) bool { return true }
func neverBlocked(netip.Addr) bool  { return false }

func TestAcceptIncomingRejectsBlocklistedAddress(t *testing.T) {
	s := NewSwarm([20]byte{1}, 10, false)
	addr := netip.MustParseAddrPort("203.0.113.150:6881")

	err := s.acceptIncoming(addr, time.Unix(0, 0), alwaysBlocked)

	assert.ErrorIs(t, err, ErrAddressBlocklisted)
	_, tracked := s.incomingInProgress[addr]
	assert.False(t, tracked)
}

func TestAcceptIncomingRejectsDuplicateInProgress(t *testing.T) {
	s := NewSwarm([20]byte{1}, 10, false)
	addr := netip.MustParseAddrPort("203.0.113.151:6881")
	now := time.Unix(0, 0)

	assert.NoError(t, s.acceptIncoming(addr, now, neverBlocked))
	err := s.acceptIncoming(addr, now, neverBlocked)

	assert.ErrorIs(t, err, ErrIncomingInProgress)
}

func TestCompleteHandshakeInboundUnknownInfohashFails(t *testing.T) {
	s := NewSwarm([20]byte{1}, 10, false)
	addr := netip.MustParseAddrPort("203.0.113.152:6881")
	now := time.Unix(0, 0)
	assert.NoError(t, s.acceptIncoming(addr, now, neverBlocked))

	peer, err := s.completeHandshake(handshakeOutcome{
		Addr:          addr,
		Success:       false,
		Inbound:       true,
		InfoHashKnown: false,
	}, now)

	assert.Nil(t, peer)
	assert.ErrorIs(t, err, ErrUnknownInfohash)
	_, tracked := s.incomingInProgress[addr]
	assert.False(t, tracked, "the in-progress marker is cleared even on failure")
}

func TestCompleteHandshakeOutboundFailureRecordsAtomFailure(t *testing.T) {
	s := NewSwarm([20]byte{1}, 10, false)
	addr := netip.MustParseAddrPort("203.0.113.153:6881")
	now := time.Unix(0, 0)
	a := s.EnsureAtom(addr, 0, SourceTracker, now)

	peer, err := s.completeHandshake(handshakeOutcome{
		Addr:             addr,
		Success:          false,
		Inbound:          false,
		EverReadAnything: false,
	}, now)

	assert.Nil(t, peer)
	assert.NoError(t, err)
	assert.Equal(t, 1, a.NumFails())
	assert.True(t, a.Unreachable())
}

func TestCompleteHandshakeSuccessInstallsPeer(t *testing.T) {
	s := NewSwarm([20]byte{1}, 10, false)
	addr := netip.MustParseAddrPort("203.0.113.154:6881")
	now := time.Unix(0, 0)
	fake := newFakePeer(addr, nil)

	peer, err := s.completeHandshake(handshakeOutcome{
		Addr:    addr,
		Success: true,
		Inbound: false,
		Source:  SourceDHT,
		Peer:    fake,
	}, now)

	assert.NoError(t, err)
	assert.Same(t, fake, peer)
	assert.Equal(t, 1, s.peers.Len())
	a, ok := s.pool.Get(addr)
	assert.True(t, ok)
	assert.Same(t, fake, a.peer)
	assert.True(t, a.Connectable(), "a successful outbound handshake marks the atom connectable")
}

func TestCompleteHandshakeRejectsBannedAtom(t *testing.T) {
	s := NewSwarm([20]byte{1}, 10, false)
	addr := netip.MustParseAddrPort("203.0.113.155:6881")
	now := time.Unix(0, 0)
	a := s.EnsureAtom(addr, 0, SourceTracker, now)
	a.banned = true

	peer, err := s.completeHandshake(handshakeOutcome{
		Addr:    addr,
		Success: true,
		Peer:    newFakePeer(addr, nil),
	}, now)

	assert.Nil(t, peer)
	assert.ErrorIs(t, err, ErrAtomBanned)
	assert.Equal(t, 0, s.peers.Len())
}

func TestCompleteHandshakeRejectsOverCapacityInbound(t *testing.T) {
	s := NewSwarm([20]byte{1}, 1, false)
	full := netip.MustParseAddrPort("203.0.113.156:1")
	s.installPeer(newFakePeer(full, nil))

	addr := netip.MustParseAddrPort("203.0.113.157:6881")
	now := time.Unix(0, 0)
	peer, err := s.completeHandshake(handshakeOutcome{
		Addr:    addr,
		Success: true,
		Inbound: true,
		Peer:    newFakePeer(addr, nil),
	}, now)

	assert.Nil(t, peer)
	assert.ErrorIs(t, err, ErrSwarmFull)
}

func TestCompleteHandshakeRejectsAlreadyConnected(t *testing.T) {
	s := NewSwarm([20]byte{1}, 10, false)
	addr := netip.MustParseAddrPort("203.0.113.158:6881")
	s.installPeer(newFakePeer(addr, nil))
	now := time.Unix(0, 0)

	peer, err := s.completeHandshake(handshakeOutcome{
		Addr:    addr,
		Success: true,
		Peer:    newFakePeer(addr, nil),
	}, now)

	assert.Nil(t, peer)
	assert.ErrorIs(t, err, ErrAlreadyConnected)
}

func TestCancelOutgoingHandshakesInvokesEveryCancel(t *testing.T) {
	s := NewSwarm([20]byte{1}, 10, false)
	calls := 0
	s.outgoingHandshakes[netip.MustParseAddrPort("203.0.113.159:1")] = &outgoingHandshake{
		cancel: func() { calls++ },
	}
	s.outgoingHandshakes[netip.MustParseAddrPort("203.0.113.160:1")] = &outgoingHandshake{
		cancel: func() { calls++ },
	}

	s.cancelOutgoingHandshakes()

	assert.Equal(t, 2, calls)
}
