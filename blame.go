package swarm

// BlamePieceBad handles a piece that failed verification: every peer whose blame bit is set for
// it takes a strike; an atom that reaches 5 strikes is banned and its live peer, if any, is
// marked doPurge.
func (s *Swarm) BlamePieceBad(p PieceIndex) {
	for _, peer := range s.peers.Values() {
		if !peer.Blame(p) {
			continue
		}
		a := peer.Atom()
		if a == nil {
			continue
		}
		if a.blame() {
			peer.SetDoPurge(true)
		}
	}
}
