package swarm

import (
	"errors"
	"fmt"
)

// Sentinel errors for expected outcomes of connection admission and handshake completion.
var (
	ErrAddressBlocklisted  = errors.New("address is blocklisted")
	ErrIncomingInProgress  = errors.New("incoming handshake already in progress for address")
	ErrAlreadyConnected    = errors.New("address already has a live peer")
	ErrAtomBanned          = errors.New("atom is banned")
	ErrSwarmFull           = errors.New("swarm already has maxPeers live peers")
	ErrUnknownInfohash     = errors.New("inbound handshake for unknown infohash")
	ErrNoAcceptableAddress = errors.New("no acceptable, unblocklisted ip for tracker host")
)

// PeerProtocolError marks a violation of the wire protocol by a remote peer. The connection that
// produced it should be purged; it never bans the peer's atom by itself (see Swarm.BlamePieceBad for that).
type PeerProtocolError struct {
	Err error
}

func (e *PeerProtocolError) Error() string { return fmt.Sprintf("peer protocol error: %v", e.Err) }
func (e *PeerProtocolError) Unwrap() error { return e.Err }

// TrackerError is a tracker-reported failure (the tracker responded, but with a failure reason).
// Whether it is surfaced to subscribers is the tracker Announcer's decision.
type TrackerError struct {
	Tracker string
	Reason  string
}

func (e *TrackerError) Error() string {
	return fmt.Sprintf("tracker %q: %s", e.Tracker, e.Reason)
}

// FatalTransportError indicates a transport that can never be used again for this socket family,
// e.g. an unsupported address family or a failed listen at startup. No retry is attempted.
type FatalTransportError struct {
	Err error
}

func (e *FatalTransportError) Error() string { return fmt.Sprintf("fatal transport error: %v", e.Err) }
func (e *FatalTransportError) Unwrap() error { return e.Err }
