package swarm

import (
	"sort"

	"github.com/elliotchance/orderedmap"
)

// wishlistEntry is one piece the swarm still wants, in the order the request scheduler should
// try it.
type wishlistEntry struct {
	Piece      PieceIndex
	Priority   int
	completion float64 // fraction of the piece's blocks already had, higher sorts sooner
}

// wishlist orders pieces by priority, then closeness to completion, then index. It is rebuilt by
// the caller (owner of piece-availability state) whenever priorities or availability change; the
// scheduler here only consumes the ordering.
//
// seen records the order in which pieces first became part of the wishlist, an insertion-ordered
// set of pending pieces, so that repeated rebuilds don't reshuffle pieces tied on priority and
// completion.
type wishlist struct {
	entries []wishlistEntry
	seen    *orderedmap.OrderedMap
}

func newWishlist() *wishlist { return &wishlist{seen: orderedmap.NewOrderedMap()} }

func (w *wishlist) set(entries []wishlistEntry) {
	w.entries = append([]wishlistEntry(nil), entries...)

	present := make(map[PieceIndex]bool, len(entries))
	for _, e := range entries {
		present[e.Piece] = true
		if _, ok := w.seen.Get(e.Piece); !ok {
			w.seen.Set(e.Piece, struct{}{})
		}
	}
	for el := w.seen.Front(); el != nil; {
		next := el.Next()
		if !present[el.Key.(PieceIndex)] {
			w.seen.Delete(el.Key)
		}
		el = next
	}

	order := make(map[PieceIndex]int, w.seen.Len())
	i := 0
	for el := w.seen.Front(); el != nil; el = el.Next() {
		order[el.Key.(PieceIndex)] = i
		i++
	}

	sort.SliceStable(w.entries, func(i, j int) bool {
		a, b := w.entries[i], w.entries[j]
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		if a.completion != b.completion {
			return a.completion > b.completion
		}
		if order[a.Piece] != order[b.Piece] {
			return order[a.Piece] < order[b.Piece]
		}
		return a.Piece < b.Piece
	})
}

// blockSpan names a contiguous run of blocks to request from one piece.
type blockSpan struct {
	Piece PieceIndex
	First BlockIndex
	Count BlockIndex
}

// enterEndgame decides endgame entry: the total outstanding block count, in bytes, has reached
// or exceeded the bytes still left to download.
func enterEndgame(outstandingBlocks int64, blockSize int64, bytesLeft int64) bool {
	if blockSize <= 0 {
		return false
	}
	return outstandingBlocks*blockSize >= bytesLeft
}

// nextRequests picks up to numWant blocks to request from peer, following the wishlist order.
// It never asks for a block the swarm already considers outstanding for this peer, and only
// allows the same block to go to more than one peer while peer.IsEndgame() is true.
func (w *wishlist) nextRequests(peer RequestCandidate, numWant int) []blockSpan {
	if numWant <= 0 {
		return nil
	}
	var out []blockSpan
	remaining := numWant
	for _, entry := range w.entries {
		if remaining <= 0 {
			break
		}
		if !peer.CanRequestPiece(entry.Piece) {
			continue
		}
		missing := peer.MissingBlocks(entry.Piece)
		if len(missing) == 0 {
			continue
		}
		spanStart := BlockIndex(0)
		spanLen := BlockIndex(0)
		flush := func() {
			if spanLen == 0 {
				return
			}
			take := spanLen
			if BlockIndex(remaining) < take {
				take = BlockIndex(remaining)
			}
			out = append(out, blockSpan{Piece: entry.Piece, First: spanStart, Count: take})
			remaining -= int(take)
			spanLen = 0
		}
		for _, b := range missing {
			if remaining <= 0 {
				break
			}
			if !w.blockRequestable(peer, entry.Piece, b) {
				flush()
				continue
			}
			if spanLen == 0 {
				spanStart = b
				spanLen = 1
			} else if b == spanStart+spanLen {
				spanLen++
			} else {
				flush()
				spanStart = b
				spanLen = 1
			}
		}
		flush()
	}
	return out
}

func (w *wishlist) blockRequestable(peer RequestCandidate, piece PieceIndex, b BlockIndex) bool {
	if !peer.CanRequestBlock(b) {
		return false
	}
	if peer.IsEndgame() {
		return true
	}
	return peer.ActiveRequests(b) == 0
}
