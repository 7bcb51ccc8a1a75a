package swarm

import "time"

// RefillUpkeep expires outgoing block requests sent before now-ActiveRequestTimeout, cancelling
// each with its peer and dropping it from the active-request index.
func (s *Swarm) RefillUpkeep(now time.Time) {
	deadline := now.Add(-ActiveRequestTimeout)
	for _, entry := range s.active.sentBefore(deadline) {
		s.active.remove(entry.Block, entry.Peer)
		entry.Peer.CancelBlock(entry.Block)
	}
}

// OnBlockReceived purges the (block, peer) entry and cancels the same block on every other peer
// that had it outstanding — at most one outside endgame, possibly several within it.
func (s *Swarm) OnBlockReceived(b Block, from LivePeer) {
	others := s.active.removeBlock(b)
	for _, p := range others {
		if p == from {
			continue
		}
		p.CancelBlock(b)
	}
}

// OnBlockRejected purges the (block, peer) entry without cancelling elsewhere: the peer itself
// declined, other peers' outstanding requests for the same block are untouched.
func (s *Swarm) OnBlockRejected(b Block, from LivePeer) {
	s.active.remove(b, from)
}

// OnPeerChoked purges every active request the peer held once it chokes us, since it will not
// service them.
func (s *Swarm) OnPeerChoked(p LivePeer) {
	s.active.removePeer(p)
}

// RequestBlocks records a batch of new outstanding requests picked by nextRequests.
func (s *Swarm) RequestBlocks(peer LivePeer, spans []blockSpan, now time.Time) {
	for _, span := range spans {
		for i := BlockIndex(0); i < span.Count; i++ {
			s.active.add(Block{Piece: span.Piece, Block: span.First + i}, peer, now)
		}
	}
}
