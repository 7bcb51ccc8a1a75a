package swarm

import (
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func mustAddr(s string) netip.AddrPort {
	a, err := netip.ParseAddrPort(s)
	if err != nil {
		panic(err)
	}
	return a
}

func TestNewAtomSetsOriginAndShelfDateWithinJitterBound(t *testing.T) {
	now := time.Unix(1000, 0)
	a := newAtom(mustAddr("203.0.113.1:6881"), FlagSeed, SourceTracker, now)
	assert.Equal(t, SourceTracker, a.origin)
	assert.Equal(t, SourceTracker, a.bestSource)
	assert.True(t, a.Seed())
	assert.True(t, a.ShelfDate().After(now.Add(sourceTTL(SourceTracker)-time.Second)))
	assert.True(t, a.ShelfDate().Before(now.Add(sourceTTL(SourceTracker)+601*time.Second)))
}

func TestAtomUpdatePrefersLowerEnumSource(t *testing.T) {
	now := time.Unix(0, 0)
	a := newAtom(mustAddr("203.0.113.1:1"), 0, SourcePEX, now)
	assert.Equal(t, SourcePEX, a.bestSource)

	// Incoming (0) outranks PEX (4): bestSource should move to Incoming.
	a.update(FlagSupportsEncryption, SourceIncoming)
	assert.Equal(t, SourceIncoming, a.bestSource)
	assert.True(t, a.flags.Has(FlagSupportsEncryption))

	// A lower-ranked source never demotes bestSource back up.
	a.update(FlagSupportsUTP, SourceLPD)
	assert.Equal(t, SourceIncoming, a.bestSource)
	assert.True(t, a.flags.Has(FlagSupportsUTP), "flags still OR in regardless of source rank")
}

func TestAtomRecordFailureMarksUnreachableOnlyWhenNothingWasRead(t *testing.T) {
	a := &Atom{}
	a.recordFailure(true)
	assert.Equal(t, 1, a.NumFails())
	assert.False(t, a.Unreachable())

	a.recordFailure(false)
	assert.Equal(t, 2, a.NumFails())
	assert.True(t, a.Unreachable())
}

func TestAtomRecordSuccessClearsUnreachableAndSetsConnectable(t *testing.T) {
	now := time.Unix(500, 0)
	a := &Atom{unreachable: true}
	a.recordSuccess(true, now)
	assert.False(t, a.Unreachable())
	assert.True(t, a.Connectable())
	assert.Equal(t, now, a.lastConnectionAt)
}

func TestAtomRecordSuccessInboundDoesNotSetConnectable(t *testing.T) {
	a := &Atom{}
	a.recordSuccess(false, time.Unix(1, 0))
	assert.False(t, a.Connectable())
}

func TestAtomBlameBansAtFiveStrikes(t *testing.T) {
	a := &Atom{}
	for i := 0; i < 4; i++ {
		assert.False(t, a.blame())
		assert.False(t, a.Banned())
	}
	assert.True(t, a.blame())
	assert.True(t, a.Banned())
}

func TestAtomInUseReflectsPeerOrHandshaking(t *testing.T) {
	a := &Atom{}
	assert.False(t, a.InUse())

	a.handshaking = true
	assert.True(t, a.InUse())
	a.handshaking = false

	a.peer = newFakePeer(mustAddr("203.0.113.5:1"), a)
	assert.True(t, a.InUse())
}

func TestAtomInvalidateBlocklistResetsToUnknown(t *testing.T) {
	a := &Atom{blocklisted: BlocklistYes}
	a.invalidateBlocklist()
	assert.Equal(t, BlocklistUnknown, a.blocklisted)
}

func TestDiscoverySourceTrustOrderingIsIncreasing(t *testing.T) {
	// Trust ranking is the enum's declaration order: Incoming is most trusted.
	assert.True(t, SourceIncoming < SourceLTEP)
	assert.True(t, SourceLTEP < SourceTracker)
	assert.True(t, SourceTracker < SourceDHT)
	assert.True(t, SourceDHT < SourcePEX)
	assert.True(t, SourcePEX < SourceResume)
	assert.True(t, SourceResume < SourceLPD)
}

func TestSourceTTLShortForLPD(t *testing.T) {
	assert.Equal(t, 10*time.Minute, sourceTTL(SourceLPD))
	assert.Equal(t, 6*time.Hour, sourceTTL(SourceIncoming))
	assert.Equal(t, time.Hour, sourceTTL(SourceTracker))
}
