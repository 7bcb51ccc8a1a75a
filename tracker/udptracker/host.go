package udptracker

import (
	"context"
	"net/netip"
	"time"

	"github.com/relaytorrent/swarmcore/tracker/shared"
)

const (
	addrTTL        = time.Hour
	connIDTTL      = 60 * time.Second
	requestTimeout = 60 * time.Second
	shutdownGrace  = 3 * time.Second
)

type pendingAnnounce struct {
	req       shared.AnnounceRequest
	createdAt time.Time
	sentAt    time.Time
	// cb is nil for a fire-and-forget "stopped" announce: dropped immediately on send.
	cb func(shared.AnnounceResponse, error)
}

type pendingScrape struct {
	infohashes [][20]byte
	createdAt  time.Time
	sentAt     time.Time
	cb         func([]shared.ScrapeResult, error)
}

// host is the per-"host:port" UDP tracker connection state: a cached resolved address, a cached
// connection id, and the announce/scrape requests waiting on either.
type host struct {
	hostport string
	port     uint16

	addr           netip.Addr
	addrResolvedAt time.Time
	resolving      bool
	resolveCancel  context.CancelFunc

	connID       uint64
	connIDIssued time.Time
	connecting   bool
	connectTxID  uint32
	connectingAt time.Time

	announces map[uint32]*pendingAnnounce
	scrapes   map[uint32]*pendingScrape

	// closeAt is set by StartShutdown; the host is dropped once upkeep observes now >= closeAt.
	closeAt time.Time
}

func newHost(hostport string, port uint16) *host {
	return &host{
		hostport:  hostport,
		port:      port,
		announces: make(map[uint32]*pendingAnnounce),
		scrapes:   make(map[uint32]*pendingScrape),
	}
}

func (h *host) hasPendingWork() bool {
	return len(h.announces) > 0 || len(h.scrapes) > 0
}

func (h *host) isIdle() bool {
	return !h.resolving && !h.connecting && !h.hasPendingWork()
}
