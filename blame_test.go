package swarm

import (
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// Five verified-bad-piece blames against the same peer ban its atom and purge it.
func TestBlamePieceBadBansAtFiveStrikes(t *testing.T) {
	s := NewSwarm([20]byte{1}, 10, false)
	now := time.Unix(0, 0)
	addr := netip.MustParseAddrPort("203.0.113.5:6881")
	a := s.EnsureAtom(addr, 0, SourceTracker, now)
	peer := newFakePeer(addr, a)
	peer.blameSet[7] = true
	s.installPeer(peer)

	for i := 0; i < 4; i++ {
		s.BlamePieceBad(7)
		assert.False(t, a.Banned(), "should not ban before 5 strikes")
		assert.False(t, peer.DoPurge())
	}
	s.BlamePieceBad(7)
	assert.True(t, a.Banned())
	assert.True(t, peer.DoPurge())
}

func TestBlamePieceBadIgnoresPeersWithoutBlame(t *testing.T) {
	s := NewSwarm([20]byte{1}, 10, false)
	now := time.Unix(0, 0)
	addr := netip.MustParseAddrPort("203.0.113.6:6881")
	a := s.EnsureAtom(addr, 0, SourceTracker, now)
	peer := newFakePeer(addr, a) // blameSet empty: this peer never had the piece outstanding
	s.installPeer(peer)

	for i := 0; i < 10; i++ {
		s.BlamePieceBad(3)
	}
	assert.False(t, a.Banned())
	assert.False(t, peer.DoPurge())
}
