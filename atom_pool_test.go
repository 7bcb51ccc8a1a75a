package swarm

import (
	"fmt"
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestAtomPoolEnsureAtomInsertsThenUpdates(t *testing.T) {
	p := newAtomPool()
	addr := netip.MustParseAddrPort("203.0.113.50:1")
	now := time.Unix(0, 0)

	a := p.ensureAtom(addr, FlagSeed, SourceDHT, now)
	assert.Equal(t, 1, p.Len())
	assert.Equal(t, SourceDHT, a.bestSource)

	// A second ensureAtom call from a more-trusted source updates the existing atom in place
	// rather than creating a new one: lower enum value outranks.
	b := p.ensureAtom(addr, FlagSupportsUTP, SourceTracker, now)
	assert.Equal(t, 1, p.Len())
	assert.Same(t, a, b)
	assert.Equal(t, SourceTracker, a.bestSource)
	assert.True(t, a.flags.Has(FlagSeed))
	assert.True(t, a.flags.Has(FlagSupportsUTP))
}

func TestAtomPoolDeleteAndEach(t *testing.T) {
	p := newAtomPool()
	now := time.Unix(0, 0)
	a1 := netip.MustParseAddrPort("203.0.113.51:1")
	a2 := netip.MustParseAddrPort("203.0.113.52:1")
	p.ensureAtom(a1, 0, SourceTracker, now)
	p.ensureAtom(a2, 0, SourceTracker, now)
	assert.Equal(t, 2, p.Len())

	var seen []netip.AddrPort
	p.each(func(a *Atom) { seen = append(seen, a.Addr) })
	assert.ElementsMatch(t, []netip.AddrPort{a1, a2}, seen)

	p.delete(a1)
	assert.Equal(t, 1, p.Len())
	_, ok := p.Get(a1)
	assert.False(t, ok)
}

// Atom-GC never evicts an in-use atom, even under heavy pressure.
func TestAtomPoolGCPreservesInUseAtoms(t *testing.T) {
	p := newAtomPool()
	now := time.Unix(100_000, 0)

	// Two in-use atoms (mid-handshake), ten idle ones, then GC down to capacity 3. Only
	// capacity(3) - inUse(2) = 1 idle slot should remain.
	var inUse []*Atom
	for i := 0; i < 2; i++ {
		addr := netip.MustParseAddrPort(fmt.Sprintf("203.0.113.%d:1", 60+i))
		a := p.ensureAtom(addr, 0, SourceTracker, now)
		a.handshaking = true
		inUse = append(inUse, a)
	}
	for i := 0; i < 10; i++ {
		addr := netip.MustParseAddrPort(fmt.Sprintf("203.0.114.%d:1", i+1))
		a := p.ensureAtom(addr, 0, SourceTracker, now)
		a.lastPieceTransfer = now.Add(-time.Duration(i+1) * time.Minute)
	}

	p.gc(now, 3)

	for _, a := range inUse {
		_, ok := p.Get(a.Addr)
		assert.True(t, ok, "in-use atom must survive GC regardless of capacity pressure")
	}
	idleSurvivors := 0
	p.each(func(a *Atom) {
		if !a.InUse() {
			idleSurvivors++
		}
	})
	assert.Equal(t, 1, idleSurvivors)
}

func TestAtomPoolGCNoopUnderCapacity(t *testing.T) {
	p := newAtomPool()
	now := time.Unix(0, 0)
	p.ensureAtom(netip.MustParseAddrPort("203.0.113.90:1"), 0, SourceTracker, now)
	p.ensureAtom(netip.MustParseAddrPort("203.0.113.91:1"), 0, SourceTracker, now)

	p.gc(now, 10)

	assert.Equal(t, 2, p.Len())
}

func TestSortDescBestOrdersMostRecentFirst(t *testing.T) {
	now := time.Unix(100_000, 0)
	a := newAtom(netip.MustParseAddrPort("203.0.113.92:1"), 0, SourceTracker, now)
	a.lastPieceTransfer = now.Add(-3 * time.Minute)
	b := newAtom(netip.MustParseAddrPort("203.0.113.93:1"), 0, SourceTracker, now)
	b.lastPieceTransfer = now.Add(-1 * time.Minute)
	c := newAtom(netip.MustParseAddrPort("203.0.113.94:1"), 0, SourceTracker, now)
	c.lastPieceTransfer = now.Add(-90 * time.Minute) // outside the 1-hour bucket: collapses to 0

	atoms := []*Atom{a, b, c}
	sortDescBest(atoms, now)

	assert.Equal(t, b.Addr, atoms[0].Addr, "most recently transferred atom sorts first")
	assert.Equal(t, a.Addr, atoms[1].Addr)
	assert.Equal(t, c.Addr, atoms[2].Addr, "stale transfer collapses to the bucket floor and sorts last")
}
