// Package httptracker implements the wire client for the BEP 3 HTTP tracker protocol: building
// the announce/scrape query string, decoding the bencoded response, and translating it into the
// transport-agnostic types in tracker/shared.
//
// The core only constructs requests and consumes the structured response; this package owns the
// bencoded framing, using github.com/zeebo/bencode for decoding.
package httptracker

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/netip"
	"net/url"
	"strconv"
	"time"

	"github.com/zeebo/bencode"

	"github.com/relaytorrent/swarmcore/tracker/shared"
)

// Opts carries the per-announce knobs that vary per embedder rather than per tracker.
type Opts struct {
	UserAgent  string
	HostHeader string
	ClientIp4  net.IP
	ClientIp6  net.IP
}

// Client is a thin wrapper over a tracker announce URL and an *http.Client. One is constructed
// per Tracker the first time it is announced to.
type Client struct {
	URL *url.URL
	HC  *http.Client
}

// NewClient builds a Client with sane defaults for dial/TLS timeouts.
func NewClient(rawurl string) (*Client, error) {
	u, err := url.Parse(rawurl)
	if err != nil {
		return nil, err
	}
	return &Client{
		URL: u,
		HC: &http.Client{
			Timeout: 15 * time.Second,
			Transport: &http.Transport{
				Proxy:               http.ProxyFromEnvironment,
				TLSHandshakeTimeout: 15 * time.Second,
			},
		},
	}, nil
}

func setAnnounceParams(u *url.URL, ar shared.AnnounceRequest, opts Opts) {
	q := u.Query()
	q.Set("info_hash", string(ar.InfoHash[:]))
	q.Set("peer_id", string(ar.PeerID[:]))
	q.Set("port", strconv.Itoa(int(ar.Port)))
	q.Set("uploaded", strconv.FormatInt(ar.Uploaded, 10))
	q.Set("downloaded", strconv.FormatInt(ar.Downloaded, 10))
	q.Set("corrupt", strconv.FormatInt(ar.Corrupt, 10))
	q.Set("left", strconv.FormatInt(ar.Left, 10))
	q.Set("key", strconv.Itoa(int(ar.Key)))
	q.Set("numwant", strconv.Itoa(int(ar.NumWant)))
	q.Set("compact", "1")
	q.Set("supportcrypto", "1")
	if ar.Event != shared.AnnounceEventNone {
		q.Set("event", ar.Event.String())
	}
	if ar.TrackerID != "" {
		q.Set("trackerid", ar.TrackerID)
	}
	if opts.ClientIp4 != nil {
		q.Set("ipv4", opts.ClientIp4.String())
	}
	if opts.ClientIp6 != nil {
		q.Set("ipv6", opts.ClientIp6.String())
	}
	u.RawQuery = q.Encode()
}

// httpResponse is the bencoded announce reply shape, decoded with zeebo/bencode directly off the
// wire, with Peers left as a RawMessage since BEP 23 lets it be either a compact string or a
// list of dicts.
type httpResponse struct {
	FailureReason string             `bencode:"failure reason"`
	Warning       string             `bencode:"warning message"`
	Interval      int32              `bencode:"interval"`
	MinInterval   int32              `bencode:"min interval"`
	TrackerId     string             `bencode:"tracker id"`
	Complete      int32              `bencode:"complete"`
	Incomplete    int32              `bencode:"incomplete"`
	Peers         bencode.RawMessage `bencode:"peers"`
	Peers6        []byte             `bencode:"peers6"`
}

type compactPeerDict struct {
	IP   string `bencode:"ip"`
	Port int    `bencode:"port"`
	ID   string `bencode:"peer id"`
}

func decodePeers(raw bencode.RawMessage) (peers []shared.Peer, err error) {
	if len(raw) == 0 {
		return nil, nil
	}
	// Try the compact form (a single bencoded byte string of 6-byte peer entries) first.
	var compact []byte
	if err := bencode.DecodeBytes(raw, &compact); err == nil {
		for i := 0; i+6 <= len(compact); i += 6 {
			var ip [4]byte
			copy(ip[:], compact[i:i+4])
			port := uint16(compact[i+4])<<8 | uint16(compact[i+5])
			peers = append(peers, shared.Peer{Addr: addrPortFrom4(ip, port)})
		}
		return peers, nil
	}
	// Fall back to BEP 3's non-compact list-of-dicts form.
	var dicts []compactPeerDict
	if err := bencode.DecodeBytes(raw, &dicts); err != nil {
		return nil, fmt.Errorf("decoding peers: %w", err)
	}
	for _, d := range dicts {
		ip := net.ParseIP(d.IP)
		if ip == nil {
			continue
		}
		addr, ok := addrFromIP(ip)
		if !ok {
			continue
		}
		p := shared.Peer{Addr: netAddrPort(addr, uint16(d.Port))}
		if d.ID != "" {
			copy(p.ID[:], d.ID)
			p.HasID = true
		}
		peers = append(peers, p)
	}
	return peers, nil
}

func decodePeers6(raw []byte) (peers []shared.Peer) {
	for i := 0; i+18 <= len(raw); i += 18 {
		var ip [16]byte
		copy(ip[:], raw[i:i+16])
		port := uint16(raw[i+16])<<8 | uint16(raw[i+17])
		peers = append(peers, shared.Peer{Addr: addrPortFrom16(ip, port)})
	}
	return peers
}

// Announce performs a single BEP 3 HTTP announce.
func (c *Client) Announce(ctx context.Context, ar shared.AnnounceRequest, opts Opts) (shared.AnnounceResponse, error) {
	var ret shared.AnnounceResponse
	u := *c.URL
	setAnnounceParams(&u, ar, opts)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return ret, err
	}
	if opts.UserAgent != "" {
		req.Header.Set("User-Agent", opts.UserAgent)
	}
	if opts.HostHeader != "" {
		req.Host = opts.HostHeader
	}
	resp, err := c.HC.Do(req)
	if err != nil {
		return ret, err
	}
	defer resp.Body.Close()
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, resp.Body); err != nil {
		return ret, err
	}
	if resp.StatusCode != http.StatusOK {
		return ret, fmt.Errorf("response from tracker: %s: %s", resp.Status, buf.String())
	}
	var hr httpResponse
	if err := bencode.NewDecoder(&buf).Decode(&hr); err != nil {
		return ret, fmt.Errorf("decoding announce response: %w", err)
	}
	if hr.FailureReason != "" {
		ret.FailureReason = hr.FailureReason
		return ret, nil
	}
	peers, err := decodePeers(hr.Peers)
	if err != nil {
		return ret, err
	}
	ret.Interval = hr.Interval
	ret.MinInterval = hr.MinInterval
	ret.Leechers = hr.Incomplete
	ret.Seeders = hr.Complete
	ret.TrackerID = hr.TrackerId
	ret.Peers = append(peers, decodePeers6(hr.Peers6)...)
	return ret, nil
}

// scrapeResponse matches BEP 48's "files" dictionary keyed by raw 20-byte info-hash.
type scrapeResponse struct {
	Files map[string]shared.ScrapeResult `bencode:"files"`
}

// Scrape performs a single BEP 48 HTTP scrape for one or more info-hashes.
func (c *Client) Scrape(ctx context.Context, infohashes [][20]byte) ([]shared.ScrapeResult, error) {
	u := scrapeURL(*c.URL)
	q := u.Query()
	for _, ih := range infohashes {
		q.Add("info_hash", string(ih[:]))
	}
	u.RawQuery = q.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.HC.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("scrape response from tracker: %s: %s", resp.Status, body)
	}
	var sr scrapeResponse
	if err := bencode.NewDecoder(resp.Body).Decode(&sr); err != nil {
		return nil, fmt.Errorf("decoding scrape response: %w", err)
	}
	out := make([]shared.ScrapeResult, len(infohashes))
	for i, ih := range infohashes {
		out[i] = sr.Files[string(ih[:])]
	}
	return out, nil
}

// scrapeURL derives ".../scrape" from an announce URL per the BEP 48 convention: replace the
// last "announce" path segment.
func scrapeURL(u url.URL) url.URL {
	const from, to = "announce", "scrape"
	if idx := lastIndex(u.Path, from); idx >= 0 {
		u.Path = u.Path[:idx] + to + u.Path[idx+len(from):]
	}
	return u
}

func lastIndex(s, sub string) int {
	for i := len(s) - len(sub); i >= 0; i-- {
		if s[i:i+len(sub)] == sub {
			return i
		}
	}
	return -1
}

func addrPortFrom4(ip [4]byte, port uint16) netip.AddrPort {
	return netip.AddrPortFrom(netip.AddrFrom4(ip), port)
}

func addrPortFrom16(ip [16]byte, port uint16) netip.AddrPort {
	return netip.AddrPortFrom(netip.AddrFrom16(ip), port)
}

func addrFromIP(ip net.IP) (netip.Addr, bool) {
	addr, ok := netip.AddrFromSlice(ip)
	return addr.Unmap(), ok
}

func netAddrPort(addr netip.Addr, port uint16) netip.AddrPort {
	return netip.AddrPortFrom(addr, port)
}
