package swarm

import (
	"net/netip"
	"time"

	"github.com/relaytorrent/swarmcore/internal/ordered"
)

// atomPool is the swarm's address-keyed candidate arena. Atoms live here for as long as they're
// worth remembering; ownership is swarm -> atom, backed by an ordered associative container
// rather than a sorted array.
type atomPool struct {
	byAddr *ordered.Map[netip.AddrPort, *Atom]
}

func newAtomPool() *atomPool {
	return &atomPool{byAddr: ordered.New[netip.AddrPort, *Atom](compareAddrPort)}
}

func compareAddrPort(a, b netip.AddrPort) int {
	if c := a.Addr().Compare(b.Addr()); c != 0 {
		return c
	}
	switch {
	case a.Port() < b.Port():
		return -1
	case a.Port() > b.Port():
		return 1
	default:
		return 0
	}
}

func (p *atomPool) Len() int { return p.byAddr.Len() }

func (p *atomPool) Get(addr netip.AddrPort) (*Atom, bool) { return p.byAddr.Get(addr) }

// ensureAtom inserts a new atom or updates an existing one. It does not touch the swarm's allSeeds
// cache; Swarm.EnsureAtom, its caller, dirties that cache on both insertion and update.
func (p *atomPool) ensureAtom(addr netip.AddrPort, flags AtomFlags, source DiscoverySource, now time.Time) *Atom {
	if a, ok := p.byAddr.Get(addr); ok {
		a.update(flags, source)
		return a
	}
	a := newAtom(addr, flags, source, now)
	p.byAddr.Set(addr, a)
	return a
}

func (p *atomPool) delete(addr netip.AddrPort) { p.byAddr.Delete(addr) }

func (p *atomPool) each(f func(*Atom)) {
	for _, a := range p.byAddr.Values() {
		f(a)
	}
}

// gc runs the atom-pool pruning pulse; every in-use atom survives regardless of pressure.
// capacity is the pool size ceiling, min(50, 3*maxPeers), computed by the caller.
func (p *atomPool) gc(now time.Time, capacity int) {
	if p.Len() <= capacity {
		return
	}
	var idle []*Atom
	inUse := 0
	p.each(func(a *Atom) {
		if a.InUse() {
			inUse++
			return
		}
		idle = append(idle, a)
	})
	keep := capacity - inUse
	if keep < 0 {
		keep = 0
	}
	if keep >= len(idle) {
		return
	}
	// Sort idle atoms best-first (descending recency, descending shelf date) so the first `keep`
	// survive and the remainder — the "worst" — are dropped.
	sortDescBest(idle, now)
	for _, a := range idle[keep:] {
		p.delete(a.Addr)
	}
}

// sortDescBest orders idle atoms so index 0 is the best candidate to keep, using atomGCLess as
// the "worse than" relation (insertion sort: pool GC runs at most once per 60s pulse over a
// bounded candidate set, so O(n^2) is fine and keeps the comparator's semantics obvious).
func sortDescBest(atoms []*Atom, now time.Time) {
	for i := 1; i < len(atoms); i++ {
		j := i
		for j > 0 && atomGCLess(now, atoms[j-1], atoms[j]) {
			atoms[j-1], atoms[j] = atoms[j], atoms[j-1]
			j--
		}
	}
}
