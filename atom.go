package swarm

import (
	"math/rand/v2"
	"net/netip"
	"time"
)

// DiscoverySource is the fixed enumeration of places an Atom can first be seen from.
// Ordering here is significant: it is also the trust ranking, most-trusted first.
type DiscoverySource int

const (
	SourceIncoming DiscoverySource = iota
	SourceLTEP
	SourceTracker
	SourceDHT
	SourcePEX
	SourceResume
	SourceLPD
)

func (s DiscoverySource) String() string {
	switch s {
	case SourceIncoming:
		return "incoming"
	case SourceLTEP:
		return "ltep"
	case SourceTracker:
		return "tracker"
	case SourceDHT:
		return "dht"
	case SourcePEX:
		return "pex"
	case SourceResume:
		return "resume"
	case SourceLPD:
		return "lpd"
	default:
		return "unknown"
	}
}

// sourceTTL is the shelf-date horizon for an atom first seen from source.
func sourceTTL(s DiscoverySource) time.Duration {
	switch s {
	case SourceIncoming, SourceLTEP:
		return 6 * time.Hour
	case SourceLPD:
		return 10 * time.Minute
	default:
		return time.Hour
	}
}

// BlocklistState is the atom's lazily-checked, invalidatable tri-state blocklist verdict.
type BlocklistState int

const (
	BlocklistUnknown BlocklistState = iota
	BlocklistYes
	BlocklistNo
)

// AtomFlags are the capability/observation bits accumulated by OR across every source that has
// reported this address.
type AtomFlags uint8

const (
	FlagSupportsEncryption AtomFlags = 1 << iota
	FlagSeed
	FlagSupportsUTP
	FlagSupportsHolepunch
	FlagConnectable
)

func (f AtomFlags) Has(bit AtomFlags) bool { return f&bit != 0 }

// Atom is the persistent, address-keyed record of a known peer, connected or not.
//
// Atoms are mutated only on the event-loop goroutine; they live in an arena owned by their Swarm,
// which holds them in an ordered container and tracks the live peer at each address as a weak
// back-reference.
type Atom struct {
	Addr netip.AddrPort

	origin     DiscoverySource
	bestSource DiscoverySource

	flags AtomFlags

	numFails           int
	lastAttempt        time.Time
	lastConnectionAt   time.Time
	lastPieceTransfer  time.Time
	shelfDate          time.Time
	blocklisted        BlocklistState
	banned             bool
	unreachable        bool
	utpFailed          bool
	badPieceStrikes    int

	// peer is a non-owning back-reference to the live peer installed at this address, if any.
	peer LivePeer

	// handshaking marks an in-progress outgoing handshake, used by the atom-GC in-use test.
	handshaking bool
}

// InUse reports whether the atom currently has a reason to be kept regardless of GC pressure: a
// live peer, or an outgoing handshake in flight. (An incoming handshake in progress for this
// address is tracked separately, in the session's incoming-handshake set on PeerManager.)
func (a *Atom) InUse() bool {
	return a.peer != nil || a.handshaking
}

// Banned, Peer, NumFails, LastPieceTransfer, ShelfDate, BestSource are read-only accessors used
// by choke/reconnect/GC sort keys and by tests.
func (a *Atom) Banned() bool                    { return a.banned }
func (a *Atom) Peer() LivePeer                   { return a.peer }
func (a *Atom) NumFails() int                    { return a.numFails }
func (a *Atom) LastPieceTransfer() time.Time     { return a.lastPieceTransfer }
func (a *Atom) ShelfDate() time.Time             { return a.shelfDate }
func (a *Atom) BestSource() DiscoverySource      { return a.bestSource }
func (a *Atom) Unreachable() bool                { return a.unreachable }
func (a *Atom) Connectable() bool                { return a.flags.Has(FlagConnectable) }
func (a *Atom) Seed() bool                       { return a.flags.Has(FlagSeed) }

// invalidateBlocklist resets the tri-state to unknown; lookup is lazy on next use.
func (a *Atom) invalidateBlocklist() { a.blocklisted = BlocklistUnknown }

// recordFailure increments the consecutive-failure count and, if nothing was ever read from the
// socket, marks the atom unreachable.
func (a *Atom) recordFailure(everReadAnything bool) {
	a.numFails++
	if !everReadAnything {
		a.unreachable = true
	}
}

// recordSuccess clears the failure streak markers that a successful handshake invalidates.
func (a *Atom) recordSuccess(outbound bool, now time.Time) {
	a.lastConnectionAt = now
	if outbound {
		a.flags |= FlagConnectable
	}
	a.unreachable = false
}

// blame increments the bad-piece strike count; 5 strikes bans the atom.
func (a *Atom) blame() (banned bool) {
	a.badPieceStrikes++
	if a.badPieceStrikes >= 5 {
		a.banned = true
		return true
	}
	return false
}

func newAtom(addr netip.AddrPort, flags AtomFlags, source DiscoverySource, now time.Time) *Atom {
	jitter := time.Duration(rand.IntN(600)) * time.Second
	return &Atom{
		Addr:       addr,
		origin:     source,
		bestSource: source,
		flags:      flags,
		shelfDate:  now.Add(sourceTTL(source)).Add(jitter),
	}
}

// update OR's in new flags and lowers bestSource if source outranks the current best.
// Lower enum value is more trusted, so "outranks" means a smaller DiscoverySource value.
func (a *Atom) update(flags AtomFlags, source DiscoverySource) {
	a.flags |= flags
	if source < a.bestSource {
		a.bestSource = source
	}
}
