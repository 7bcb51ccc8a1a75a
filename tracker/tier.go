package tracker

import (
	"math/rand/v2"
	"time"

	"github.com/relaytorrent/swarmcore/tracker/shared"
)

// AnnounceEvent re-exports shared.AnnounceEvent so callers building a Tier never need to import
// tracker/shared directly for the event enum.
type AnnounceEvent = shared.AnnounceEvent

const (
	AnnounceEventNone      = shared.AnnounceEventNone
	AnnounceEventCompleted = shared.AnnounceEventCompleted
	AnnounceEventStarted   = shared.AnnounceEventStarted
	AnnounceEventStopped   = shared.AnnounceEventStopped
)

// retryIntervals returns the retry-backoff table, freshly randomised per call so a new jittered
// base is drawn on every failure rather than cached.
func retryIntervals() [7]time.Duration {
	base := time.Duration(60+rand.IntN(60)) * time.Second
	return [7]time.Duration{
		0,
		20 * time.Second,
		base * 5,
		base * 15,
		base * 30,
		base * 60,
		base * 120,
	}
}

// RetryInterval is the retry table, indexed by consecutive-failure count and clamped to the
// table's last entry.
func RetryInterval(consecutiveFailures int) time.Duration {
	table := retryIntervals()
	idx := consecutiveFailures
	if idx < 0 {
		idx = 0
	}
	if idx >= len(table) {
		idx = len(table) - 1
	}
	return table[idx]
}

// Tier is an ordered group of Trackers with BEP-12 failover and an announce-event queue.
type Tier struct {
	Trackers            []*Tracker
	currentTrackerIndex int

	queue []AnnounceEvent

	ScrapeAt                time.Time
	AnnounceAt              time.Time
	ManualAnnounceAllowedAt time.Time
	lastAttemptAt           time.Time

	IsRunning     bool
	IsAnnouncing  bool
	IsScraping    bool
	wasCopied     bool
	LastSucceeded bool
	LastTimedOut  bool

	// Uploaded/Downloaded/Corrupt are byte totals since the last acknowledged stopped announce.
	Uploaded   int64
	Downloaded int64
	Corrupt    int64

	AnnounceIntervalSec    int32
	AnnounceMinIntervalSec int32
}

// NewTier builds a Tier over trackers in BEP-12 priority order.
func NewTier(trackers []*Tracker) *Tier {
	return &Tier{
		Trackers:            trackers,
		AnnounceIntervalSec: 1800,
	}
}

// CurrentTracker is the tracker BEP-12 failover currently points at.
func (t *Tier) CurrentTracker() *Tracker {
	if len(t.Trackers) == 0 {
		return nil
	}
	return t.Trackers[t.currentTrackerIndex%len(t.Trackers)]
}

// advanceTracker moves failover to the next tracker in the tier, wrapping around.
func (t *Tier) advanceTracker() {
	if len(t.Trackers) == 0 {
		return
	}
	t.currentTrackerIndex = (t.currentTrackerIndex + 1) % len(t.Trackers)
}

// Priority is the max event value queued, used to order tiers when announcer upkeep is
// throttled: higher-priority tiers are announced first.
func (t *Tier) Priority() int {
	max := -1
	for _, e := range t.queue {
		if v := e.Value(); v > max {
			max = v
		}
	}
	return max
}

// QueueLen reports the number of pending events, exported for tests.
func (t *Tier) QueueLen() int { return len(t.queue) }

// SetLastAttempt records when the tier last attempted an announce.
func (t *Tier) SetLastAttempt(now time.Time) { t.lastAttemptAt = now }

// LastAttempt reports the last announce attempt time, zero if none yet.
func (t *Tier) LastAttempt() time.Time { return t.lastAttemptAt }

// QueueSnapshot copies the current queue contents in order, for tests and status reporting.
func (t *Tier) QueueSnapshot() []AnnounceEvent {
	out := make([]AnnounceEvent, len(t.queue))
	copy(out, t.queue)
	return out
}

// Push applies the event-queue discipline:
//  1. Pushing stopped drops every previously queued event except a completed if present, then
//     re-appends completed (if it was present) and stopped.
//  2. Otherwise the event is appended, then trailing duplicates of the newly pushed event and
//     trailing none entries are stripped.
func (t *Tier) Push(e AnnounceEvent) {
	if e == AnnounceEventStopped {
		hadCompleted := false
		for _, ev := range t.queue {
			if ev == AnnounceEventCompleted {
				hadCompleted = true
				break
			}
		}
		t.queue = t.queue[:0]
		if hadCompleted {
			t.queue = append(t.queue, AnnounceEventCompleted)
		}
		t.queue = append(t.queue, AnnounceEventStopped)
		return
	}
	// A queued stopped is terminal: a subsequent non-stopped push (a restarted torrent) begins a
	// fresh queue rather than trailing a stopped event, preserving "stopped is always last".
	if n := len(t.queue); n > 0 && t.queue[n-1] == AnnounceEventStopped {
		t.queue = t.queue[:0]
	}
	t.queue = append(t.queue, e)
	// Strip a trailing duplicate of the event just pushed.
	if n := len(t.queue); n >= 2 && t.queue[n-1] == t.queue[n-2] {
		t.queue = t.queue[:n-1]
	}
	// Strip a trailing none left dangling by the collapse above.
	if n := len(t.queue); n > 1 && t.queue[n-1] == AnnounceEventNone {
		t.queue = t.queue[:n-1]
	}
}

// PopFront removes and returns the front event, reporting whether one was present.
func (t *Tier) PopFront() (AnnounceEvent, bool) {
	if len(t.queue) == 0 {
		return AnnounceEventNone, false
	}
	e := t.queue[0]
	t.queue = t.queue[1:]
	return e, true
}

// RequeueNone enqueues a none event if the queue became empty and the just-sent event was not
// stopped, so the tier fires again after announceIntervalSec.
func (t *Tier) RequeueNone(justSent AnnounceEvent) {
	if len(t.queue) == 0 && justSent != AnnounceEventStopped {
		t.queue = append(t.queue, AnnounceEventNone)
	}
}
