package swarm

import (
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// An active request sent at t=0 is cancelled by refill-upkeep run at t=91s.
func TestRefillUpkeepCancelsStaleRequest(t *testing.T) {
	s := NewSwarm([20]byte{1}, 10, false)
	addr := netip.MustParseAddrPort("203.0.113.7:6881")
	p1 := newFakePeer(addr, nil)
	s.installPeer(p1)

	t0 := time.Unix(0, 0)
	block := Block{Piece: 1, Block: 42}
	s.active.add(block, p1, t0)
	assert.True(t, s.active.has(block, p1))

	s.RefillUpkeep(t0.Add(91 * time.Second))

	assert.False(t, s.active.has(block, p1))
	assert.Len(t, p1.canceled, 1)
	assert.Equal(t, block, p1.canceled[0])
}

func TestRefillUpkeepLeavesFreshRequestAlone(t *testing.T) {
	s := NewSwarm([20]byte{1}, 10, false)
	addr := netip.MustParseAddrPort("203.0.113.8:6881")
	p1 := newFakePeer(addr, nil)
	s.installPeer(p1)

	t0 := time.Unix(0, 0)
	block := Block{Piece: 1, Block: 5}
	s.active.add(block, p1, t0)

	s.RefillUpkeep(t0.Add(10 * time.Second))

	assert.True(t, s.active.has(block, p1))
	assert.Empty(t, p1.canceled)
}

// A received block cancels the same block on every other peer that had it outstanding.
func TestOnBlockReceivedCancelsOtherPeers(t *testing.T) {
	s := NewSwarm([20]byte{1}, 10, false)
	a1 := netip.MustParseAddrPort("203.0.113.9:6881")
	a2 := netip.MustParseAddrPort("203.0.113.10:6881")
	p1 := newFakePeer(a1, nil)
	p2 := newFakePeer(a2, nil)
	s.installPeer(p1)
	s.installPeer(p2)

	now := time.Unix(0, 0)
	block := Block{Piece: 2, Block: 9}
	s.active.add(block, p1, now)
	s.active.add(block, p2, now) // endgame duplication: both requested the same block

	s.OnBlockReceived(block, p1)

	assert.Empty(t, p1.canceled, "the peer that delivered the block is not cancelled")
	assert.Equal(t, []Block{block}, p2.canceled)
	assert.False(t, s.active.has(block, p1))
	assert.False(t, s.active.has(block, p2))
}

func TestOnPeerChokedPurgesItsActiveRequests(t *testing.T) {
	s := NewSwarm([20]byte{1}, 10, false)
	addr := netip.MustParseAddrPort("203.0.113.11:6881")
	p1 := newFakePeer(addr, nil)
	s.installPeer(p1)

	now := time.Unix(0, 0)
	b1 := Block{Piece: 1, Block: 1}
	b2 := Block{Piece: 1, Block: 2}
	s.active.add(b1, p1, now)
	s.active.add(b2, p1, now)

	s.OnPeerChoked(p1)

	assert.False(t, s.active.has(b1, p1))
	assert.False(t, s.active.has(b2, p1))
}
