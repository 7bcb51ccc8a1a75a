package swarm

import (
	"time"

	"github.com/anacrolix/multiless"
	"github.com/cespare/xxhash/v2"
)

// atomGCLess orders idle atoms for the pool-pruning pulse by piece-data-transfer recency (bucketed
// to the last hour, then zero), then shelf date. It reports whether l is worse than r (older
// transfer, then earlier shelf date), so ascending order puts the worst first; sortDescBest uses
// it to put the best first.
func atomGCLess(now time.Time, l, r *Atom) bool {
	return multiless.New().Int64(
		pieceTransferBucket(now, l.lastPieceTransfer),
		pieceTransferBucket(now, r.lastPieceTransfer),
	).Int64(
		l.shelfDate.Unix(), r.shelfDate.Unix(),
	).Less()
}

// pieceTransferBucket returns the last-piece-transfer time truncated to whether it fell within
// the last hour, and if so its Unix time; anything older (or unset) collapses to zero, so the
// ordering key buckets on "within the last hour" before falling back to shelf date.
func pieceTransferBucket(now time.Time, t time.Time) int64 {
	if t.IsZero() || now.Sub(t) > time.Hour {
		return 0
	}
	return t.Unix()
}

// salt derives a deterministic per-address tie-breaker in place of math/rand, so the same swarm
// state always produces the same ordering. This hashes the address with xxhash the same way BEP
// 40 CIDR-distance scoring derives a stable pseudo-random value from a peer's address.
func salt(addr [18]byte, epoch uint64) uint64 {
	var buf [26]byte
	copy(buf[:18], addr[:])
	putUint64(buf[18:26], epoch)
	return xxhash.Sum64(buf[:])
}

func putUint64(b []byte, v uint64) {
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (56 - 8*i))
	}
}

func addrSaltKey(a *Atom) [18]byte {
	var k [18]byte
	ap := a.Addr
	if ap.Addr().Is4() {
		b := ap.Addr().As4()
		copy(k[:4], b[:])
	} else {
		b := ap.Addr().As16()
		copy(k[:16], b[:])
	}
	k[16] = byte(ap.Port() >> 8)
	k[17] = byte(ap.Port())
	return k
}

// reconnectScoreKey packs the dial-candidate scoring bit-field: smaller is better. Field order,
// most significant first: ever-failed(1) | lastAttemptAt(32) | priority(4) | recentlyStarted(1) |
// isSeeding(1) | connectable-unknown(1) | seed-flag-unset(1) | bestSource(4) | salt(8).
func reconnectScoreKey(now time.Time, a *Atom, priority uint8, recentlyStarted bool, epoch uint64) uint64 {
	var key uint64

	everFailed := uint64(0)
	if a.numFails > 0 {
		everFailed = 1
	}
	key = key<<1 | everFailed

	// A never-attempted atom sorts as if attempted at Unix time zero, ranking it ahead of any atom
	// that has actually been tried recently.
	var lastAttempt uint32
	if !a.lastAttempt.IsZero() {
		lastAttempt = uint32(a.lastAttempt.Unix())
	}
	key = key<<32 | uint64(lastAttempt)

	key = key<<4 | uint64(priority&0xF)

	rs := uint64(0)
	if recentlyStarted {
		rs = 1
	}
	key = key<<1 | rs

	seeding := uint64(0)
	if a.Seed() {
		seeding = 1
	}
	key = key<<1 | seeding

	connectableUnknown := uint64(0)
	if !a.flags.Has(FlagConnectable) && a.origin != SourceIncoming {
		connectableUnknown = 1
	}
	key = key<<1 | connectableUnknown

	seedFlagUnset := uint64(0)
	if !a.flags.Has(FlagSeed) {
		seedFlagUnset = 1
	}
	key = key<<1 | seedFlagUnset

	key = key<<4 | uint64(a.bestSource)&0xF

	key = key<<8 | (salt(addrSaltKey(a), epoch) & 0xFF)

	return key
}
