package swarm

import (
	"math/rand/v2"
	"sort"
	"time"

	"github.com/anacrolix/generics"
)

// interestClass buckets a peer for interest selection.
type interestClass int

const (
	classBad interestClass = iota
	classUntested
	classGood
)

// classify sorts a peer into {good, untested, bad} by its (blocks, cancels) ratio, using a 10x
// cancel-ratio threshold.
func classify(blocks, cancels int) interestClass {
	if blocks == 0 && cancels == 0 {
		return classUntested
	}
	if cancels*10 > blocks {
		return classBad
	}
	return classGood
}

// Rechoke runs the 10s interest+choke pulse for one swarm. piecesTransferAllowed is false
// while the torrent is paused or stopped. isPrivate and isSeeding pick the rate function.
func (s *Swarm) Rechoke(now time.Time, uploadSlots int, piecesTransferAllowed, isPrivate, isSeeding bool, epoch uint64) {
	peers := s.peers.Values()

	if !isSeeding {
		s.rechokeInterest(now, peers, epoch)
	}
	s.rechokeChoke(now, peers, uploadSlots, piecesTransferAllowed, isPrivate, isSeeding, epoch)
}

func (s *Swarm) rechokeInterest(now time.Time, peers []LivePeer, epoch uint64) {
	type scored struct {
		peer  LivePeer
		class interestClass
		salt  uint64
	}

	var totalBlocks, totalCancels int
	candidates := make([]scored, 0, len(peers))
	for _, p := range peers {
		stats := p.Stats()
		blocks := stats.BlocksSentToClient(now)
		cancels := stats.CancelsSentToClient(now)
		if blocks > 0 {
			totalBlocks += blocks
			totalCancels += cancels
		}
		candidates = append(candidates, scored{
			peer:  p,
			class: classify(blocks, cancels),
			salt:  peerSalt(p, epoch),
		})
	}

	maxInterested := float64(s.interestedCount)
	if totalCancels > 0 {
		s.lastCancel = now
		ratio := float64(totalCancels) / float64(totalCancels+totalBlocks)
		if ratio > 0.5 {
			ratio = 0.5
		}
		maxInterested = float64(s.interestedCount) * (1 - ratio)
	} else {
		since := now.Sub(s.lastCancel)
		if since > 120*time.Second {
			since = 120 * time.Second
		}
		growth := since.Seconds() / 120 * 15
		maxInterested += growth
	}

	lo, hi := 5.0, float64(s.maxPeers)
	if maxInterested < lo {
		maxInterested = lo
	}
	if maxInterested > hi {
		maxInterested = hi
	}
	limit := int(maxInterested)

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].class != candidates[j].class {
			return candidates[i].class > candidates[j].class
		}
		return candidates[i].salt < candidates[j].salt
	})

	s.interestedCount = 0
	for i, c := range candidates {
		interested := i < limit
		c.peer.SetInterested(interested)
		if interested {
			s.interestedCount++
		}
	}
}

func (s *Swarm) rechokeChoke(now time.Time, peers []LivePeer, uploadSlots int, allowed, isPrivate, isSeeding bool, epoch uint64) {
	if !allowed {
		for _, p := range peers {
			p.SetChoke(true)
		}
		return
	}

	if s.optimistic.Ok {
		s.optimisticUnchokeTimeScaler++
		if s.optimisticUnchokeTimeScaler > 4 {
			s.optimistic = generics.Option[LivePeer]{}
			s.optimisticUnchokeTimeScaler = 0
		}
	}

	type ranked struct {
		peer      LivePeer
		rate      float64
		wasChoked bool
		salt      uint64
	}
	var candidates []ranked
	unchosenInterested := make([]LivePeer, 0, len(peers))

	for _, p := range peers {
		if p.IsSeed() {
			p.SetChoke(true)
			continue
		}
		if s.optimistic.Ok && s.optimistic.Value == p {
			p.SetChoke(false)
			continue
		}
		rate := rateFor(p, now, isPrivate, isSeeding)
		candidates = append(candidates, ranked{peer: p, rate: rate, wasChoked: p.AmChoking(), salt: peerSalt(p, epoch)})
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.rate != b.rate {
			return a.rate > b.rate
		}
		if a.wasChoked != b.wasChoked {
			return !a.wasChoked
		}
		return a.salt < b.salt
	})

	unchoked := 0
	for _, c := range candidates {
		if c.peer.AmInterested() && unchoked < uploadSlots {
			c.peer.SetChoke(false)
			unchoked++
			continue
		}
		if c.peer.AmInterested() {
			unchosenInterested = append(unchosenInterested, c.peer)
		}
		if !c.peer.AmChoking() && unchoked >= uploadSlots {
			// Upload bandwidth already maxed: retain previous choke state rather than promote.
			continue
		}
		c.peer.SetChoke(true)
	}

	if !s.optimistic.Ok && len(unchosenInterested) > 0 {
		s.optimistic = generics.Some(pickOptimistic(unchosenInterested, now))
		s.optimisticUnchokeTimeScaler = 0
		s.optimistic.Value.SetChoke(false)
	}
}

func rateFor(p LivePeer, now time.Time, isPrivate, isSeeding bool) float64 {
	switch {
	case isSeeding:
		return p.PieceSpeed(ToPeer)
	case isPrivate:
		return p.PieceSpeed(ToPeer) + p.PieceSpeed(ToClient)
	default:
		return p.PieceSpeed(ToClient)
	}
}

// pickOptimistic picks uniformly among candidates, weighting connections <=45s old 3x.
func pickOptimistic(candidates []LivePeer, now time.Time) LivePeer {
	weights := make([]int, len(candidates))
	total := 0
	for i, p := range candidates {
		w := 1
		if p.ConnectionAge(now) <= 45*time.Second {
			w = 3
		}
		weights[i] = w
		total += w
	}
	r := rand.IntN(total)
	for i, w := range weights {
		if r < w {
			return candidates[i]
		}
		r -= w
	}
	return candidates[len(candidates)-1]
}

func peerSalt(p LivePeer, epoch uint64) uint64 {
	if a := p.Atom(); a != nil {
		return salt(addrSaltKey(a), epoch)
	}
	return epoch
}
