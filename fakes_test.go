package swarm

import (
	"net/netip"
	"time"
)

// fakeLivePeer is a minimal, deterministic LivePeer used by every test in this package that needs
// a peer to hang state off of. It carries no wire protocol; it just records what was asked of it.
type fakeLivePeer struct {
	addr netip.AddrPort
	atom *Atom
	id   [20]byte

	blameSet map[PieceIndex]bool
	haveSet  map[PieceIndex]bool

	amChoking      bool
	amInterested   bool
	peerChoking    bool
	peerInterested bool
	encrypted      bool
	incoming       bool
	utp            bool
	doPurge        bool
	isSeed         bool
	isPrivate      bool
	endgame        bool
	progress       float64

	handshakeAt time.Time
	connStart   time.Time

	stats PeerStats

	canRequestBlock func(b BlockIndex) bool
	canRequestPiece func(p PieceIndex) bool
	pieceSpeed      func(dir Direction) float64
	missingBlocks   map[PieceIndex][]BlockIndex
	activeRequests  map[BlockIndex]int

	canceled []Block
	pulses   []time.Time
}

func newFakePeer(addr netip.AddrPort, atom *Atom) *fakeLivePeer {
	p := &fakeLivePeer{
		addr:        addr,
		atom:        atom,
		blameSet:    make(map[PieceIndex]bool),
		haveSet:     make(map[PieceIndex]bool),
		handshakeAt: time.Unix(0, 0),
	}
	if atom != nil {
		atom.peer = p
	}
	return p
}

func (p *fakeLivePeer) CanRequestBlock(b BlockIndex) bool {
	if p.canRequestBlock != nil {
		return p.canRequestBlock(b)
	}
	return true
}

func (p *fakeLivePeer) CanRequestPiece(pi PieceIndex) bool {
	if p.canRequestPiece != nil {
		return p.canRequestPiece(pi)
	}
	return p.haveSet[pi]
}

func (p *fakeLivePeer) IsEndgame() bool { return p.endgame }
func (p *fakeLivePeer) ActiveRequests(b BlockIndex) int {
	if p.activeRequests == nil {
		return 0
	}
	return p.activeRequests[b]
}
func (p *fakeLivePeer) MissingBlocks(pi PieceIndex) []BlockIndex {
	return p.missingBlocks[pi]
}
func (p *fakeLivePeer) BlockSpan(pi PieceIndex) (first, count BlockIndex) { return 0, 0 }
func (p *fakeLivePeer) PiecePriority(pi PieceIndex) int                  { return 0 }

func (p *fakeLivePeer) Atom() *Atom            { return p.atom }
func (p *fakeLivePeer) Addr() netip.AddrPort   { return p.addr }
func (p *fakeLivePeer) ClientString() string   { return "fake" }
func (p *fakeLivePeer) PeerID() [20]byte       { return p.id }

func (p *fakeLivePeer) Progress() float64        { return p.progress }
func (p *fakeLivePeer) Have(pi PieceIndex) bool  { return p.haveSet[pi] }
func (p *fakeLivePeer) Blame(pi PieceIndex) bool { return p.blameSet[pi] }

func (p *fakeLivePeer) Stats() *PeerStats { return &p.stats }

func (p *fakeLivePeer) AmChoking() bool      { return p.amChoking }
func (p *fakeLivePeer) AmInterested() bool   { return p.amInterested }
func (p *fakeLivePeer) PeerChoking() bool    { return p.peerChoking }
func (p *fakeLivePeer) PeerInterested() bool { return p.peerInterested }
func (p *fakeLivePeer) Encrypted() bool      { return p.encrypted }
func (p *fakeLivePeer) Incoming() bool       { return p.incoming }
func (p *fakeLivePeer) UTP() bool            { return p.utp }
func (p *fakeLivePeer) DoPurge() bool        { return p.doPurge }
func (p *fakeLivePeer) SetDoPurge(v bool)    { p.doPurge = v }

func (p *fakeLivePeer) SetChoke(choke bool)           { p.amChoking = choke }
func (p *fakeLivePeer) SetInterested(interested bool) { p.amInterested = interested }
func (p *fakeLivePeer) CancelBlock(b Block)           { p.canceled = append(p.canceled, b) }
func (p *fakeLivePeer) Pulse(now time.Time)           { p.pulses = append(p.pulses, now) }
func (p *fakeLivePeer) OnPieceCompleted(pi PieceIndex) {}
func (p *fakeLivePeer) PieceSpeed(dir Direction) float64 {
	if p.pieceSpeed != nil {
		return p.pieceSpeed(dir)
	}
	return 0
}
func (p *fakeLivePeer) ConnectionAge(now time.Time) time.Duration {
	if p.connStart.IsZero() {
		return 0
	}
	return now.Sub(p.connStart)
}
func (p *fakeLivePeer) CompletedHandshakeAt() time.Time { return p.handshakeAt }
func (p *fakeLivePeer) IsSeed() bool                    { return p.isSeed }
func (p *fakeLivePeer) IsPrivateTorrentPeer() bool      { return p.isPrivate }

// installPeer directly wires a fake peer into s, bypassing the handshake flow, for tests that
// only care about post-installation behaviour (rechoke, reconnect, refill, blame).
func (s *Swarm) installPeer(p LivePeer) {
	s.peers.Set(p.Addr(), p)
	s.stats.onPeerInstalled(sourceOf(p))
	s.refreshWantPeers()
}
