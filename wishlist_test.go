package swarm

import (
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWishlistSetOrdersByPriorityThenCompletionThenIndex(t *testing.T) {
	w := newWishlist()
	w.set([]wishlistEntry{
		{Piece: 5, Priority: 1, completion: 0.1},
		{Piece: 1, Priority: 2, completion: 0.9},
		{Piece: 2, Priority: 2, completion: 0.9},
		{Piece: 3, Priority: 2, completion: 0.5},
	})

	var order []PieceIndex
	for _, e := range w.entries {
		order = append(order, e.Piece)
	}
	// Priority 2 entries sort ahead of priority 1; among ties, higher completion first; among
	// those ties, lower index first.
	assert.Equal(t, []PieceIndex{1, 2, 3, 5}, order)
}

func TestEnterEndgameThreshold(t *testing.T) {
	assert.False(t, enterEndgame(0, 0, 100))
	assert.False(t, enterEndgame(1, 16384, 100_000))
	assert.True(t, enterEndgame(10, 16384, 100_000)) // 10*16384=163840 >= 100000
	assert.True(t, enterEndgame(0, 16384, 0))         // nothing left: trivially satisfied
}

func TestNextRequestsSkipsUnrequestablePiecesAndBlocks(t *testing.T) {
	w := newWishlist()
	w.set([]wishlistEntry{{Piece: 1, Priority: 1}, {Piece: 2, Priority: 1}})

	peer := newFakePeer(netip.MustParseAddrPort("203.0.113.140:1"), nil)
	peer.canRequestPiece = func(pi PieceIndex) bool { return pi == 2 }
	peer.missingBlocks = map[PieceIndex][]BlockIndex{
		1: {0, 1, 2},
		2: {0, 1, 2},
	}

	spans := w.nextRequests(peer, 10)

	assert.Len(t, spans, 1)
	assert.Equal(t, PieceIndex(2), spans[0].Piece)
	assert.Equal(t, BlockIndex(0), spans[0].First)
	assert.Equal(t, BlockIndex(3), spans[0].Count)
}

func TestNextRequestsRespectsNumWantAcrossSpans(t *testing.T) {
	w := newWishlist()
	w.set([]wishlistEntry{{Piece: 1, Priority: 1}})
	peer := newFakePeer(netip.MustParseAddrPort("203.0.113.141:1"), nil)
	peer.canRequestPiece = func(pi PieceIndex) bool { return true }
	peer.missingBlocks = map[PieceIndex][]BlockIndex{1: {0, 1, 2, 3, 4}}

	spans := w.nextRequests(peer, 2)

	total := 0
	for _, s := range spans {
		total += int(s.Count)
	}
	assert.Equal(t, 2, total)
}

func TestNextRequestsSplitsNonContiguousMissingBlocks(t *testing.T) {
	w := newWishlist()
	w.set([]wishlistEntry{{Piece: 1, Priority: 1}})
	peer := newFakePeer(netip.MustParseAddrPort("203.0.113.142:1"), nil)
	peer.canRequestPiece = func(pi PieceIndex) bool { return true }
	peer.missingBlocks = map[PieceIndex][]BlockIndex{1: {0, 1, 5, 6}}

	spans := w.nextRequests(peer, 10)

	assert.Len(t, spans, 2)
	assert.Equal(t, BlockIndex(0), spans[0].First)
	assert.Equal(t, BlockIndex(2), spans[0].Count)
	assert.Equal(t, BlockIndex(5), spans[1].First)
	assert.Equal(t, BlockIndex(2), spans[1].Count)
}

// Outside endgame, a block already outstanding for any peer is never requested again
// (blockRequestable is false while ActiveRequests(b) > 0).
func TestBlockRequestableRejectsAlreadyOutstandingOutsideEndgame(t *testing.T) {
	w := newWishlist()
	peer := newFakePeer(netip.MustParseAddrPort("203.0.113.143:1"), nil)
	peer.activeRequests = map[BlockIndex]int{3: 1}

	assert.False(t, w.blockRequestable(peer, 1, 3))
	assert.True(t, w.blockRequestable(peer, 1, 4))
}

func TestBlockRequestableAllowsDuplicatesInEndgame(t *testing.T) {
	w := newWishlist()
	peer := newFakePeer(netip.MustParseAddrPort("203.0.113.144:1"), nil)
	peer.endgame = true
	peer.activeRequests = map[BlockIndex]int{3: 1}

	assert.True(t, w.blockRequestable(peer, 1, 3))
}

func TestBlockRequestableRejectsWhenPeerCannotRequestBlock(t *testing.T) {
	w := newWishlist()
	peer := newFakePeer(netip.MustParseAddrPort("203.0.113.145:1"), nil)
	peer.canRequestBlock = func(b BlockIndex) bool { return false }

	assert.False(t, w.blockRequestable(peer, 1, 0))
}
