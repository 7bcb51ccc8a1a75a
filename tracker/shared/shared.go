// Package shared holds the announce/scrape request and response vocabulary common to the
// HTTP and UDP tracker transports and to the root tracker package's Tier state machine, so
// that neither transport needs to import the other or the Tier package that drives them both.
package shared

import (
	"net/netip"
)

// AnnounceEvent is the wire event enumeration shared by both transports.
//
// NOTE: the trailing comments are the strings used by String() below.
// See BEP 3, "event", and https://github.com/anacrolix/torrent/issues/416#issuecomment-751427001.
type AnnounceEvent int32

const (
	// AnnounceEventNone is the default event, equivalent to unspecified regular-interval traffic.
	AnnounceEventNone AnnounceEvent = iota //
	// AnnounceEventCompleted fires once, when the torrent finishes downloading.
	AnnounceEventCompleted // completed
	// AnnounceEventStarted fires when a torrent starts or resumes.
	AnnounceEventStarted // started
	// AnnounceEventStopped fires when a torrent is paused or removed.
	AnnounceEventStopped // stopped
)

var announceEventStrings = [...]string{"", "completed", "started", "stopped"}

func (e AnnounceEvent) String() string {
	if e < 0 || int(e) >= len(announceEventStrings) {
		return ""
	}
	return announceEventStrings[e]
}

// Value is the event's ordinal, used as the Tier queue's priority: the priority of the queue is
// the max event value in it.
func (e AnnounceEvent) Value() int { return int(e) }

// Peer is a tracker-reported peer candidate, addressed by netip rather than the wire's net.IP so
// it can be fed directly into Swarm.EnsureAtom without another conversion.
type Peer struct {
	Addr netip.AddrPort
	ID   [20]byte
	// HasID records whether the tracker's non-compact peer dict included a peer id at all; BEP 23
	// compact responses never carry one.
	HasID bool
}

// AnnounceRequest is the transport-agnostic announce request a Tier builds and either transport
// consumes.
type AnnounceRequest struct {
	InfoHash   [20]byte
	PeerID     [20]byte
	Downloaded int64
	Uploaded   int64
	Corrupt    int64
	Left       int64
	Event      AnnounceEvent
	Key        int32
	// NumWant is 80 for a regular announce, 0 for a "stopped" announce.
	NumWant int32
	Port    uint16
	// TrackerID is echoed back from a previous response's tracker id field, if any.
	TrackerID string
}

// AnnounceResponse is the transport-agnostic announce response a Tier reconciles.
type AnnounceResponse struct {
	FailureReason  string
	Interval       int32
	MinInterval    int32
	Leechers       int32
	Seeders        int32
	Peers          []Peer
	TrackerID      string
	ScrapeIncluded bool
	ScrapeResult   ScrapeResult
}

// ScrapeResult is one info-hash's scrape counters from a BEP 48 SCRAPE response.
type ScrapeResult struct {
	Seeders   int32 `bencode:"complete"`
	Leechers  int32 `bencode:"incomplete"`
	Completed int32 `bencode:"downloaded"`
}
