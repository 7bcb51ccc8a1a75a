package swarm

import (
	"net/netip"
	"time"
)

// Direction distinguishes upload (to the peer) from download (from the peer) for sliding-window
// counters and the choke rate function.
type Direction int

const (
	ToPeer Direction = iota
	ToClient
)

// slidingWindow counts events over a trailing 60s window using one-second buckets.
// golang.org/x/time/rate is a token bucket for limiting throughput, not for counting trailing
// events, so the per-peer transfer rates use this small ring buffer instead.
type slidingWindow struct {
	buckets  [60]int
	lastSec  int64
}

func (w *slidingWindow) advance(now time.Time) {
	sec := now.Unix()
	if w.lastSec == 0 {
		w.lastSec = sec
		return
	}
	delta := sec - w.lastSec
	if delta <= 0 {
		return
	}
	if delta >= int64(len(w.buckets)) {
		w.buckets = [60]int{}
	} else {
		for i := int64(0); i < delta; i++ {
			w.buckets[(w.lastSec+i+1)%int64(len(w.buckets))] = 0
		}
	}
	w.lastSec = sec
}

func (w *slidingWindow) add(now time.Time, n int) {
	w.advance(now)
	w.buckets[now.Unix()%int64(len(w.buckets))] += n
}

func (w *slidingWindow) sum(now time.Time) int {
	w.advance(now)
	total := 0
	for _, v := range w.buckets {
		total += v
	}
	return total
}

// PeerStats holds the four 60s sliding-window counters tracked per peer: blocks and cancels,
// each split by direction.
type PeerStats struct {
	blocksSentToPeer   slidingWindow
	blocksSentToClient slidingWindow
	cancelsSentToPeer  slidingWindow
	cancelsSentToClient slidingWindow
}

func (s *PeerStats) BlocksSentToPeer(now time.Time) int   { return s.blocksSentToPeer.sum(now) }
func (s *PeerStats) BlocksSentToClient(now time.Time) int { return s.blocksSentToClient.sum(now) }
func (s *PeerStats) CancelsSentToPeer(now time.Time) int  { return s.cancelsSentToPeer.sum(now) }
func (s *PeerStats) CancelsSentToClient(now time.Time) int {
	return s.cancelsSentToClient.sum(now)
}

// RequestCandidate is the narrow peer-capability interface the request scheduler needs: enough
// to ask what a peer can be asked for without depending on the whole connection type.
type RequestCandidate interface {
	CanRequestBlock(b BlockIndex) bool
	CanRequestPiece(p PieceIndex) bool
	IsEndgame() bool
	ActiveRequests(b BlockIndex) int
	MissingBlocks(p PieceIndex) []BlockIndex
	BlockSpan(p PieceIndex) (first, count BlockIndex)
	PiecePriority(p PieceIndex) int
}

// LivePeer is the capability contract exposed by the externally owned wire protocol layer. It is
// not a concrete class: the peer-messages layer supplies an implementation and the core only
// ever talks to this interface.
type LivePeer interface {
	RequestCandidate

	Atom() *Atom
	Addr() netip.AddrPort
	ClientString() string
	PeerID() [20]byte

	Progress() float64
	Have(p PieceIndex) bool
	Blame(p PieceIndex) bool

	Stats() *PeerStats

	AmChoking() bool
	AmInterested() bool
	PeerChoking() bool
	PeerInterested() bool
	Encrypted() bool
	Incoming() bool
	UTP() bool
	DoPurge() bool
	SetDoPurge(bool)

	SetChoke(choke bool)
	SetInterested(interested bool)
	CancelBlock(b Block)
	Pulse(now time.Time)
	OnPieceCompleted(p PieceIndex)
	PieceSpeed(dir Direction) float64
	ConnectionAge(now time.Time) time.Duration
	CompletedHandshakeAt() time.Time
	IsSeed() bool
	IsPrivateTorrentPeer() bool
}

// PieceIndex, BlockIndex and Block mirror the wire-layer's numbering without needing the wire
// codec itself.
type PieceIndex uint32
type BlockIndex uint32

// Block identifies one outstanding chunk request by its piece and offset-within-piece block index.
type Block struct {
	Piece PieceIndex
	Block BlockIndex
}
