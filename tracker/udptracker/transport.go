package udptracker

import (
	"context"
	"errors"
	"math/rand/v2"
	"net"
	"net/netip"
	"strconv"
	"time"

	"github.com/relaytorrent/swarmcore/internal/transactions"
	"github.com/relaytorrent/swarmcore/tracker/shared"
)

// ErrTimeout marks a request that went unanswered for longer than requestTimeout.
var ErrTimeout = errors.New("did_timeout")

// ErrConnectFailed marks every pending request on a host whose CONNECT round trip failed or
// timed out.
var ErrConnectFailed = errors.New("connection failed")

type dispatchKind int

const (
	dispatchConnect dispatchKind = iota
	dispatchAnnounce
	dispatchScrape
)

type dispatchEntry struct {
	hostport string
	kind     dispatchKind
}

// Config supplies the Transport's side effects: the embedder owns the actual socket and event
// loop; the transport only decides what to send and when.
type Config struct {
	// Send writes one UDP datagram to addr. Errors are treated as transient and surface through
	// the next timeout rather than failing the request immediately.
	Send func(addr netip.AddrPort, b []byte) error
	// Resolve looks up a host:port's address. Defaults to net.DefaultResolver. May block; the
	// transport always calls it from its own goroutine.
	Resolve func(ctx context.Context, hostport string) (netip.Addr, error)
	// PostToLoop trampolines a DNS completion back onto the caller's single event-loop goroutine;
	// completion callbacks always run on the loop thread. Defaults to direct synchronous
	// invocation, which is only safe for tests or single-goroutine callers.
	PostToLoop func(func())
	// Now returns the current time; overridable for tests.
	Now func() time.Time
	// NextTxID returns a fresh, transport-wide-unique transaction id.
	NextTxID func() uint32
}

func (c *Config) setDefaults() {
	if c.Resolve == nil {
		c.Resolve = defaultResolve
	}
	if c.PostToLoop == nil {
		c.PostToLoop = func(f func()) { f() }
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	if c.NextTxID == nil {
		c.NextTxID = rand.Uint32
	}
}

func defaultResolve(ctx context.Context, hostport string) (netip.Addr, error) {
	h, _, err := net.SplitHostPort(hostport)
	if err != nil {
		return netip.Addr{}, err
	}
	addrs, err := net.DefaultResolver.LookupNetIP(ctx, "ip", h)
	if err != nil {
		return netip.Addr{}, err
	}
	if len(addrs) == 0 {
		return netip.Addr{}, errors.New("no addresses returned")
	}
	return addrs[0].Unmap(), nil
}

// Transport is the session-wide UDP tracker connection manager: one per session, fanning out
// to a host per "host:port" tracker address.
type Transport struct {
	cfg      Config
	hosts    map[string]*host
	dispatch transactions.Dispatcher[dispatchEntry]
}

func NewTransport(cfg Config) *Transport {
	cfg.setDefaults()
	return &Transport{cfg: cfg, hosts: make(map[string]*host)}
}

func (t *Transport) ensureHost(hostport string) *host {
	if h, ok := t.hosts[hostport]; ok {
		return h
	}
	_, portStr, err := net.SplitHostPort(hostport)
	var port uint16
	if err == nil {
		if p, err := strconv.Atoi(portStr); err == nil {
			port = uint16(p)
		}
	}
	h := newHost(hostport, port)
	t.hosts[hostport] = h
	return h
}

// Announce enqueues an announce request to hostport; cb is nil for a fire-and-forget "stopped"
// announce.
func (t *Transport) Announce(hostport string, req shared.AnnounceRequest, cb func(shared.AnnounceResponse, error)) {
	h := t.ensureHost(hostport)
	txID := t.cfg.NextTxID()
	h.announces[txID] = &pendingAnnounce{req: req, createdAt: t.cfg.Now(), cb: cb}
	t.dispatch.Add(txID, dispatchEntry{hostport: hostport, kind: dispatchAnnounce})
}

// Scrape enqueues a scrape request batching infohashes.
func (t *Transport) Scrape(hostport string, infohashes [][20]byte, cb func([]shared.ScrapeResult, error)) {
	h := t.ensureHost(hostport)
	txID := t.cfg.NextTxID()
	h.scrapes[txID] = &pendingScrape{infohashes: infohashes, createdAt: t.cfg.Now(), cb: cb}
	t.dispatch.Add(txID, dispatchEntry{hostport: hostport, kind: dispatchScrape})
}

// Upkeep drives every host's address/connection-id/dispatch/timeout steps. The caller runs this
// on the announcer-upkeep pulse's 5s UDP-transport cadence.
func (t *Transport) Upkeep(now time.Time) {
	for hostport, h := range t.hosts {
		t.upkeepAddress(h, now)
		t.upkeepConnID(h, now)
		t.dispatchPending(h, now)
		t.expireTimeouts(h, now)
		if !h.closeAt.IsZero() && !now.Before(h.closeAt) {
			delete(t.hosts, hostport)
		}
	}
}

func (t *Transport) upkeepAddress(h *host, now time.Time) {
	if !h.closeAt.IsZero() {
		return
	}
	if !h.addrResolvedAt.IsZero() && now.Sub(h.addrResolvedAt) > addrTTL {
		h.addr = netip.Addr{}
		h.addrResolvedAt = time.Time{}
	}
	if h.addr.IsValid() || h.resolving {
		return
	}
	if !h.hasPendingWork() {
		return
	}
	h.resolving = true
	ctx, cancel := context.WithCancel(context.Background())
	h.resolveCancel = cancel
	hostport := h.hostport
	go func() {
		addr, err := t.cfg.Resolve(ctx, hostport)
		t.cfg.PostToLoop(func() { t.onResolved(hostport, addr, err) })
	}()
}

func (t *Transport) onResolved(hostport string, addr netip.Addr, err error) {
	h, ok := t.hosts[hostport]
	if !ok {
		return
	}
	h.resolving = false
	h.resolveCancel = nil
	if err != nil {
		t.failHost(h, err)
		return
	}
	h.addr = addr
	h.addrResolvedAt = t.cfg.Now()
}

func (t *Transport) upkeepConnID(h *host, now time.Time) {
	if !h.addr.IsValid() {
		return
	}
	if !h.connIDIssued.IsZero() && now.Sub(h.connIDIssued) > connIDTTL {
		h.connID = 0
		h.connIDIssued = time.Time{}
	}
	if h.connecting {
		if now.Sub(h.connectingAt) > requestTimeout {
			t.dispatch.Delete(h.connectTxID)
			h.connecting = false
			t.failHost(h, ErrConnectFailed)
		}
		return
	}
	if h.connID != 0 {
		return
	}
	if !h.hasPendingWork() {
		return
	}
	h.connecting = true
	h.connectingAt = now
	h.connectTxID = t.cfg.NextTxID()
	t.dispatch.Add(h.connectTxID, dispatchEntry{hostport: h.hostport, kind: dispatchConnect})
	t.send(h, encodeConnectRequest(h.connectTxID))
}

func (t *Transport) dispatchPending(h *host, now time.Time) {
	if h.connID == 0 {
		return
	}
	for txID, p := range h.announces {
		if !p.sentAt.IsZero() {
			continue
		}
		t.send(h, encodeAnnounceRequest(h.connID, txID, p.req))
		p.sentAt = now
		if p.cb == nil {
			delete(h.announces, txID)
			t.dispatch.Delete(txID)
		}
	}
	for txID, p := range h.scrapes {
		if !p.sentAt.IsZero() {
			continue
		}
		t.send(h, encodeScrapeRequest(h.connID, txID, p.infohashes))
		p.sentAt = now
		if p.cb == nil {
			delete(h.scrapes, txID)
			t.dispatch.Delete(txID)
		}
	}
}

func (t *Transport) expireTimeouts(h *host, now time.Time) {
	for txID, p := range h.announces {
		if p.sentAt.IsZero() || now.Sub(p.sentAt) <= requestTimeout {
			continue
		}
		delete(h.announces, txID)
		t.dispatch.Delete(txID)
		if p.cb != nil {
			p.cb(shared.AnnounceResponse{}, ErrTimeout)
		}
	}
	for txID, p := range h.scrapes {
		if p.sentAt.IsZero() || now.Sub(p.sentAt) <= requestTimeout {
			continue
		}
		delete(h.scrapes, txID)
		t.dispatch.Delete(txID)
		if p.cb != nil {
			p.cb(nil, ErrTimeout)
		}
	}
}

// failHost fails every pending request on h with err and resets its connection state, the way a
// failed CONNECT round trip or DNS failure does.
func (t *Transport) failHost(h *host, err error) {
	for txID, p := range h.announces {
		delete(h.announces, txID)
		t.dispatch.Delete(txID)
		if p.cb != nil {
			p.cb(shared.AnnounceResponse{}, err)
		}
	}
	for txID, p := range h.scrapes {
		delete(h.scrapes, txID)
		t.dispatch.Delete(txID)
		if p.cb != nil {
			p.cb(nil, err)
		}
	}
	h.connID = 0
	h.connIDIssued = time.Time{}
}

func (t *Transport) send(h *host, b []byte) {
	if !h.addr.IsValid() || t.cfg.Send == nil {
		return
	}
	_ = t.cfg.Send(netip.AddrPortFrom(h.addr, h.port), b)
}

// HandleDatagram demultiplexes one raw UDP payload handed to the transport by the caller's
// socket-read pulse; reads are drained synchronously and parsed on the same pulse. Messages
// that don't validate length per action, or whose transaction id isn't in flight, are silently
// ignored.
func (t *Transport) HandleDatagram(data []byte) {
	action, ok := peekAction(data)
	if !ok {
		return
	}
	switch action {
	case actionConnect:
		t.handleConnectResponse(data)
	case actionAnnounce:
		t.handleAnnounceResponse(data)
	case actionScrape:
		t.handleScrapeResponse(data)
	case actionError:
		t.handleErrorResponse(data)
	}
}

func (t *Transport) handleConnectResponse(data []byte) {
	txID, connID, ok := decodeConnectResponse(data)
	if !ok {
		return
	}
	entry, found := t.dispatch.Pop(txID)
	if !found || entry.kind != dispatchConnect {
		return
	}
	h, ok := t.hosts[entry.hostport]
	if !ok {
		return
	}
	h.connecting = false
	h.connID = connID
	h.connIDIssued = t.cfg.Now()
}

func (t *Transport) handleAnnounceResponse(data []byte) {
	txID, resp, ok := decodeAnnounceResponse(data)
	if !ok {
		return
	}
	entry, found := t.dispatch.Pop(txID)
	if !found || entry.kind != dispatchAnnounce {
		return
	}
	h, ok := t.hosts[entry.hostport]
	if !ok {
		return
	}
	p, ok := h.announces[txID]
	if !ok {
		return
	}
	delete(h.announces, txID)
	if p.cb != nil {
		p.cb(resp, nil)
	}
}

func (t *Transport) handleScrapeResponse(data []byte) {
	if len(data) < scrapeRespMinLen {
		return
	}
	txID, ok := peekTxID(data)
	if !ok {
		return
	}
	entry, found := t.dispatch.Pop(txID)
	if !found || entry.kind != dispatchScrape {
		return
	}
	h, ok := t.hosts[entry.hostport]
	if !ok {
		return
	}
	p, ok := h.scrapes[txID]
	if !ok {
		return
	}
	delete(h.scrapes, txID)
	_, results, ok := decodeScrapeResponse(data, len(p.infohashes))
	if !ok {
		if p.cb != nil {
			p.cb(nil, errors.New("malformed scrape response"))
		}
		return
	}
	if p.cb != nil {
		p.cb(results, nil)
	}
}

func (t *Transport) handleErrorResponse(data []byte) {
	txID, msg, ok := decodeErrorResponse(data)
	if !ok {
		return
	}
	entry, found := t.dispatch.Pop(txID)
	if !found {
		return
	}
	h, ok := t.hosts[entry.hostport]
	if !ok {
		return
	}
	err := errors.New(msg)
	switch entry.kind {
	case dispatchConnect:
		h.connecting = false
		t.failHost(h, err)
	case dispatchAnnounce:
		if p, ok := h.announces[txID]; ok {
			delete(h.announces, txID)
			if p.cb != nil {
				p.cb(shared.AnnounceResponse{}, err)
			}
		}
	case dispatchScrape:
		if p, ok := h.scrapes[txID]; ok {
			delete(h.scrapes, txID)
			if p.cb != nil {
				p.cb(nil, err)
			}
		}
	}
}

// StartShutdown sets a 3s close deadline on every host and cancels in-flight DNS lookups.
func (t *Transport) StartShutdown(now time.Time) {
	for _, h := range t.hosts {
		h.closeAt = now.Add(shutdownGrace)
		if h.resolveCancel != nil {
			h.resolveCancel()
		}
	}
}

// IsIdle reports whether every host has no pending work.
func (t *Transport) IsIdle() bool {
	for _, h := range t.hosts {
		if !h.isIdle() {
			return false
		}
	}
	return true
}

// Close tears down the transport unconditionally.
func (t *Transport) Close() {
	for _, h := range t.hosts {
		if h.resolveCancel != nil {
			h.resolveCancel()
		}
	}
	t.hosts = make(map[string]*host)
}
