package swarm

import (
	"sort"
	"time"

	"github.com/google/btree"
)

// reconnectIntervals is the backoff table indexed by numFails (clamped to the last entry).
var reconnectIntervals = [...]time.Duration{
	0,
	10 * time.Second,
	120 * time.Second,
	900 * time.Second,
	1800 * time.Second,
	3600 * time.Second,
	7200 * time.Second,
}

// ReconnectInterval is the backoff function: non-decreasing in numFails for fixed unreachable
// state, zero at zero fails, with a +2-step penalty when the atom is marked unreachable.
func ReconnectInterval(numFails int, unreachable bool) time.Duration {
	idx := numFails
	if unreachable {
		idx += 2
	}
	if idx < 0 {
		idx = 0
	}
	if idx >= len(reconnectIntervals) {
		idx = len(reconnectIntervals) - 1
	}
	return reconnectIntervals[idx]
}

// purgeIdlePeers drops peers with doPurge set, both-seeds-idle-30s (when PEX is disallowed), or
// idle longer than the interpolated upload-idle window.
func (s *Swarm) purgeIdlePeers(now time.Time, weAreSeed, pexAllowed bool) {
	window := idleWindow(s.peers.Len(), s.maxPeers)
	for _, p := range s.peers.Values() {
		if p.DoPurge() {
			s.removePeer(p)
			continue
		}
		if weAreSeed && p.IsSeed() && !pexAllowed {
			if a := p.Atom(); a != nil && now.Sub(a.lastConnectionAt) > 30*time.Second {
				s.removePeer(p)
				continue
			}
		}
		if idleFor(p, now) > window {
			s.removePeer(p)
		}
	}
}

// idleFor approximates "time since last piece activity" from the two piece-speed directions;
// callers with a dedicated last-activity timestamp on LivePeer may refine this.
func idleFor(p LivePeer, now time.Time) time.Duration {
	if a := p.Atom(); a != nil && !a.lastPieceTransfer.IsZero() {
		return now.Sub(a.lastPieceTransfer)
	}
	return now.Sub(p.CompletedHandshakeAt())
}

// idleWindow interpolates between MaxUploadIdleSecs and MinUploadIdleSecs as live peers approach
// 90% of maxPeers.
func idleWindow(liveCount, maxPeers int) time.Duration {
	if maxPeers <= 0 {
		return MaxUploadIdleSecs
	}
	threshold := 0.9 * float64(maxPeers)
	frac := float64(liveCount) / threshold
	if frac < 0 {
		frac = 0
	}
	if frac > 1 {
		frac = 1
	}
	span := MaxUploadIdleSecs - MinUploadIdleSecs
	return MaxUploadIdleSecs - time.Duration(frac*float64(span))
}

// enforceCap closes the least-active surplus peers down to cap, ordered doPurge first, then
// piece-data-transfer recency ascending, then atom time ascending. It is used both per-torrent
// and, by the caller iterating every swarm, session-wide.
func enforceCap(swarms []*Swarm, capacity int, now time.Time) {
	type entry struct {
		swarm *Swarm
		peer  LivePeer
	}
	var all []entry
	total := 0
	for _, sw := range swarms {
		for _, p := range sw.peers.Values() {
			all = append(all, entry{sw, p})
			total++
		}
	}
	if total <= capacity {
		return
	}
	sort.SliceStable(all, func(i, j int) bool {
		pi, pj := all[i].peer, all[j].peer
		if pi.DoPurge() != pj.DoPurge() {
			return pi.DoPurge()
		}
		ti, tj := lastPieceTransferOf(pi), lastPieceTransferOf(pj)
		if !ti.Equal(tj) {
			return ti.Before(tj)
		}
		return atomTimeOf(pi).Before(atomTimeOf(pj))
	})
	toClose := total - capacity
	for i := 0; i < toClose; i++ {
		all[i].swarm.removePeer(all[i].peer)
	}
}

func lastPieceTransferOf(p LivePeer) time.Time {
	if a := p.Atom(); a != nil {
		return a.lastPieceTransfer
	}
	return time.Time{}
}

func atomTimeOf(p LivePeer) time.Time {
	if a := p.Atom(); a != nil {
		return a.lastConnectionAt
	}
	return time.Time{}
}

// candidateItem orders dial candidates by their packed score, smaller first. Dial candidates are
// atoms, not live peers, and only need ordering for the duration of one reconnect pulse, so this
// pairs each atom with its score in a btree.BTree rather than keeping a persistent structure.
type candidateItem struct {
	atom  *Atom
	score uint64
}

func (c candidateItem) Less(than btree.Item) bool {
	return c.score < than.(candidateItem).score
}

// dialCandidates returns up to n atoms to dial, ranked by reconnectScoreKey (smaller first). It
// skips atoms already in use (live peer or in-flight handshake).
func (s *Swarm) dialCandidates(now time.Time, n int, epoch uint64) []*Atom {
	tr := btree.New(8)
	s.pool.each(func(a *Atom) {
		if a.InUse() || a.Banned() {
			return
		}
		if !a.lastAttempt.IsZero() && now.Sub(a.lastAttempt) < ReconnectInterval(a.NumFails(), a.Unreachable()) {
			return
		}
		tr.ReplaceOrInsert(candidateItem{atom: a, score: reconnectScoreKey(now, a, 0, false, epoch)})
	})
	var out []*Atom
	tr.Ascend(func(i btree.Item) bool {
		out = append(out, i.(candidateItem).atom)
		return len(out) < n
	})
	return out
}
