package tracker

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/anacrolix/multiless"
	pkgerrors "github.com/pkg/errors"

	"github.com/relaytorrent/swarmcore/tracker/httptracker"
	"github.com/relaytorrent/swarmcore/tracker/shared"
	"github.com/relaytorrent/swarmcore/tracker/udptracker"
)

// maxAnnouncesPerPulse and maxScrapesPerPulse throttle announce dispatch and multiscrape
// batching to N per upkeep pulse.
const (
	maxAnnouncesPerPulse = 20
	maxScrapesPerPulse   = 20

	defaultMultiscrapeMax = 64
	minMultiscrapeMax     = 1
	multiscrapeShrinkStep = 5
)

// TrackerError is a tracker-reported failure reason, distinct from a transport-level error.
type TrackerError struct {
	Tracker string
	Reason  string
}

func (e *TrackerError) Error() string { return e.Tracker + ": " + e.Reason }

// tooLongMarkers are the response-body substrings that signal a scrape request was rejected for
// having too many batched info-hashes.
var tooLongMarkers = []string{"Bad Request", "GET string too long", "Request-URI Too Long"}

func isTooLong(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	for _, m := range tooLongMarkers {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}

// Config supplies the Announcer's side effects and the per-embedder knobs that are constant
// across every torrent and tier.
type Config struct {
	PeerID [20]byte
	Port   uint16

	HTTPUserAgent string

	// ScrapePausedTorrents allows the scrape half of upkeep to run for a stopped torrent's tiers.
	ScrapePausedTorrents bool

	// OnPeers is called with every peer list a tracker returns, to be ingested as tracker-sourced
	// atoms.
	OnPeers func(infoHash [20]byte, peers []shared.Peer)
	// OnCounts publishes seeder/leecher counts.
	OnCounts func(infoHash [20]byte, seeders, leechers int32)
	// OnError surfaces a tracker-reported or transport failure, but only when the torrent has a
	// single tracker overall, to reduce noise from swarms with many dead trackers: announce
	// errors publish, scrape errors do not.
	OnError func(infoHash [20]byte, err error)

	// UDP is the shared UDP tracker transport (one per session); nil disables udp:// trackers.
	UDP *udptracker.Transport

	// PostToLoop trampolines an HTTP goroutine's completion back onto the single event-loop
	// thread; defaults to direct synchronous invocation for tests.
	PostToLoop func(func())
	// Now overrides time.Now for tests.
	Now func() time.Time

	Logger *slog.Logger
}

func (c *Config) setDefaults() {
	if c.PostToLoop == nil {
		c.PostToLoop = func(f func()) { f() }
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// torrentEntry is a torrent's announcer-visible state: its tier list and byte progress (Left
// changes as pieces complete; Uploaded/Downloaded/Corrupt live per-tier).
type torrentEntry struct {
	infoHash [20]byte
	key      int32
	tiers    []*Tier
	running  bool
	left     int64
}

// stopEntry is one pending "stopped" flush, kept in the priority-ordered stops set: primary key
// is data volume descending, secondary is info-hash, tertiary is announce URL.
type stopEntry struct {
	infoHash   [20]byte
	url        string
	dataVolume int64
}

// Announcer drives every torrent's tiers through the announce/scrape state machine: announce
// dispatch under the per-pulse throttle, multiscrape batching with a shrinkable batch limit, and
// the stops flush. The batch limit is kept per tracker host (Tracker.Key), not per scrape URL:
// scrape URLs on the same host:port share one limit and shrink together.
type Announcer struct {
	cfg Config

	torrents map[[20]byte]*torrentEntry

	httpClients map[string]*httptracker.Client // keyed by Tracker.URL

	multiscrapeMax map[string]int // keyed by Tracker.Key (host:port / scrape host)

	stops []stopEntry
}

// NewAnnouncer constructs an Announcer bound to cfg.
func NewAnnouncer(cfg Config) *Announcer {
	cfg.setDefaults()
	return &Announcer{
		cfg:            cfg,
		torrents:       make(map[[20]byte]*torrentEntry),
		httpClients:    make(map[string]*httptracker.Client),
		multiscrapeMax: make(map[string]int),
	}
}

// AddTorrent registers a torrent's tier list. left is the initial bytes-remaining used to build
// announce requests until the caller calls UpdateLeft.
func (a *Announcer) AddTorrent(infoHash [20]byte, key int32, tiers []*Tier, left int64) {
	a.torrents[infoHash] = &torrentEntry{infoHash: infoHash, key: key, tiers: tiers, left: left}
}

// UpdateLeft updates the bytes-remaining figure sent in future announces.
func (a *Announcer) UpdateLeft(infoHash [20]byte, left int64) {
	if t, ok := a.torrents[infoHash]; ok {
		t.left = left
	}
}

// Start pushes a started event to every tier and marks the torrent running.
func (a *Announcer) Start(infoHash [20]byte) {
	t, ok := a.torrents[infoHash]
	if !ok {
		return
	}
	t.running = true
	for _, tier := range t.tiers {
		tier.IsRunning = true
		tier.Push(AnnounceEventStarted)
	}
}

// Completed pushes a completed event to every tier.
func (a *Announcer) Completed(infoHash [20]byte) {
	t, ok := a.torrents[infoHash]
	if !ok {
		return
	}
	for _, tier := range t.tiers {
		tier.Push(AnnounceEventCompleted)
	}
}

// RemoveTorrent marks the torrent not running, enqueues a stopped event on every tier, and adds
// each tier's current tracker URL to the priority-ordered stops set. The torrent's entry is not
// deleted: its tiers are still scraped when ScrapePausedTorrents is set.
func (a *Announcer) RemoveTorrent(infoHash [20]byte) {
	t, ok := a.torrents[infoHash]
	if !ok {
		return
	}
	t.running = false
	var volume int64
	for _, tier := range t.tiers {
		volume += tier.Uploaded + tier.Downloaded
	}
	for _, tier := range t.tiers {
		tier.IsRunning = false
		tier.Push(AnnounceEventStopped)
		if trk := tier.CurrentTracker(); trk != nil {
			a.stops = append(a.stops, stopEntry{infoHash: infoHash, url: trk.URL, dataVolume: volume})
		}
	}
}

// AddBytes accumulates the up/down/corrupt totals every tier of infoHash reports since the last
// acknowledged stopped announce.
func (a *Announcer) AddBytes(infoHash [20]byte, up, down, corrupt int64) {
	t, ok := a.torrents[infoHash]
	if !ok {
		return
	}
	for _, tier := range t.tiers {
		tier.Uploaded += up
		tier.Downloaded += down
		tier.Corrupt += corrupt
	}
}

// Upkeep drives one pulse of announce dispatch, multiscrape batching, and the stops flush.
func (a *Announcer) Upkeep(now time.Time) {
	a.flushStops(now)
	a.dispatchAnnounces(now)
	a.dispatchScrapes(now)
}

// flushStops sends every queued stop unconditionally: removal must complete promptly regardless
// of the announce throttle.
func (a *Announcer) flushStops(now time.Time) {
	if len(a.stops) == 0 {
		return
	}
	sort.SliceStable(a.stops, func(i, j int) bool {
		si, sj := a.stops[i], a.stops[j]
		return multiless.New().Int64(sj.dataVolume, si.dataVolume). // descending data volume
										Cmp(compareInfoHash(si.infoHash, sj.infoHash)).
										Cmp(strings.Compare(si.url, sj.url)).
										Less()
	})
	for _, s := range a.stops {
		t, ok := a.torrents[s.infoHash]
		if !ok || t.running {
			continue
		}
		for _, tier := range t.tiers {
			if trk := tier.CurrentTracker(); trk == nil || trk.URL != s.url {
				continue
			}
			if tier.QueueLen() == 0 || tier.QueueSnapshot()[0] != AnnounceEventStopped {
				continue
			}
			a.announceTier(s.infoHash, t, tier, now)
		}
	}
	a.stops = a.stops[:0]
}

func compareInfoHash(a, b [20]byte) int {
	for i := range a {
		if a[i] != b[i] {
			if a[i] < b[i] {
				return -1
			}
			return 1
		}
	}
	return 0
}

// dispatchAnnounces pops up to maxAnnouncesPerPulse due, idle tiers, highest priority first.
func (a *Announcer) dispatchAnnounces(now time.Time) {
	type due struct {
		infoHash [20]byte
		t        *torrentEntry
		tier     *Tier
	}
	var candidates []due
	for infoHash, t := range a.torrents {
		for _, tier := range t.tiers {
			if tier.IsAnnouncing || tier.QueueLen() == 0 {
				continue
			}
			if !tier.AnnounceAt.IsZero() && now.Before(tier.AnnounceAt) {
				continue
			}
			candidates = append(candidates, due{infoHash, t, tier})
		}
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].tier.Priority() > candidates[j].tier.Priority()
	})
	if len(candidates) > maxAnnouncesPerPulse {
		candidates = candidates[:maxAnnouncesPerPulse]
	}
	for _, c := range candidates {
		a.announceTier(c.infoHash, c.t, c.tier, now)
	}
}

// announceTier pops one queued event for tier, sends it to the current tracker, and arranges
// for finishAnnounce to run once the response comes back.
func (a *Announcer) announceTier(infoHash [20]byte, t *torrentEntry, tier *Tier, now time.Time) {
	event, ok := tier.PopFront()
	if !ok {
		return
	}
	wasEmptied := tier.QueueLen() == 0
	tier.RequeueNone(event)
	if wasEmptied && event != AnnounceEventStopped {
		tier.AnnounceAt = now.Add(time.Duration(tier.AnnounceIntervalSec) * time.Second)
	}
	trk := tier.CurrentTracker()
	if trk == nil {
		return
	}
	tier.SetLastAttempt(now)
	numWant := int32(80)
	if event == AnnounceEventStopped {
		numWant = 0
	}
	req := shared.AnnounceRequest{
		InfoHash:   infoHash,
		PeerID:     a.cfg.PeerID,
		Uploaded:   tier.Uploaded,
		Downloaded: tier.Downloaded,
		Corrupt:    tier.Corrupt,
		Left:       t.left,
		Event:      event,
		Key:        t.key,
		NumWant:    numWant,
		Port:       a.cfg.Port,
		TrackerID:  trk.TrackerID,
	}
	tier.IsAnnouncing = true
	finish := func(resp shared.AnnounceResponse, err error) {
		a.cfg.PostToLoop(func() { a.finishAnnounce(infoHash, tier, trk, event, resp, err, a.cfg.Now()) })
	}
	switch trk.Scheme() {
	case "http", "https":
		go a.doHTTPAnnounce(trk, req, finish)
	case "udp", "udp4", "udp6":
		if a.cfg.UDP == nil {
			tier.IsAnnouncing = false
			a.cfg.Logger.Error("udp tracker but no udp transport configured", "tracker", trk.URL)
			return
		}
		cb := finish
		if event == AnnounceEventStopped {
			cb = nil // a stopped announce is fire-and-forget
		}
		a.cfg.UDP.Announce(trk.Key, req, cb)
		if cb == nil {
			tier.IsAnnouncing = false
		}
	default:
		tier.IsAnnouncing = false
		a.cfg.Logger.Error("unknown tracker url scheme, dropping", "tracker", trk.URL)
	}
}

func (a *Announcer) doHTTPAnnounce(trk *Tracker, req shared.AnnounceRequest, finish func(shared.AnnounceResponse, error)) {
	c, ok := a.httpClients[trk.URL]
	if !ok {
		var err error
		c, err = httptracker.NewClient(trk.URL)
		if err != nil {
			finish(shared.AnnounceResponse{}, err)
			return
		}
		a.httpClients[trk.URL] = c
	}
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	resp, err := c.Announce(ctx, req, httptracker.Opts{UserAgent: a.cfg.HTTPUserAgent})
	if err != nil {
		// Stack-trace-carrying wrap: this error crosses from the HTTP goroutine back onto the
		// event-loop thread via finish/PostToLoop, so a plain %w would lose the origin frame.
		err = pkgerrors.Wrap(err, "http tracker announce")
	}
	finish(resp, err)
}

// finishAnnounce reconciles a tracker's response or failure with the tier.
func (a *Announcer) finishAnnounce(infoHash [20]byte, tier *Tier, trk *Tracker, event AnnounceEvent, resp shared.AnnounceResponse, err error, now time.Time) {
	tier.IsAnnouncing = false
	if err != nil {
		trk.ConsecutiveFailures++
		tier.advanceTracker()
		tier.LastSucceeded = false
		tier.LastTimedOut = errors.Is(err, udptracker.ErrTimeout)
		tier.AnnounceAt = now.Add(RetryInterval(trk.ConsecutiveFailures))
		tier.Push(event)
		a.publishError(infoHash, err)
		return
	}
	trk.ConsecutiveFailures = 0
	tier.LastTimedOut = false
	if resp.FailureReason != "" {
		tier.LastSucceeded = false
		tier.AnnounceAt = now.Add(time.Duration(tier.AnnounceIntervalSec) * time.Second)
		a.publishError(infoHash, &TrackerError{Tracker: trk.URL, Reason: resp.FailureReason})
		return
	}
	tier.LastSucceeded = true
	if resp.Interval > 0 {
		tier.AnnounceIntervalSec = resp.Interval
	}
	if resp.MinInterval > 0 {
		tier.AnnounceMinIntervalSec = resp.MinInterval
	}
	if resp.TrackerID != "" {
		trk.TrackerID = resp.TrackerID
	}
	trk.Seeders = resp.Seeders
	trk.Leechers = resp.Leechers
	if len(resp.Peers) > 0 && a.cfg.OnPeers != nil {
		a.cfg.OnPeers(infoHash, resp.Peers)
	}
	if a.cfg.OnCounts != nil {
		a.cfg.OnCounts(infoHash, resp.Seeders, resp.Leechers)
	}
	if event == AnnounceEventStopped {
		tier.Uploaded, tier.Downloaded, tier.Corrupt = 0, 0, 0
	}
	tier.AnnounceAt = now.Add(time.Duration(tier.AnnounceIntervalSec) * time.Second)
	if resp.ScrapeIncluded {
		trk.Seeders = resp.ScrapeResult.Seeders
		trk.Leechers = resp.ScrapeResult.Leechers
		trk.Downloads = resp.ScrapeResult.Completed
		tier.ScrapeAt = nextScrapeTime(now, tier.AnnounceIntervalSec)
	}
}

// publishError applies the single-tracker noise rule: only surface a tracker error when the
// torrent has exactly one tracker total across every tier.
func (a *Announcer) publishError(infoHash [20]byte, err error) {
	if a.cfg.OnError == nil {
		return
	}
	t, ok := a.torrents[infoHash]
	if !ok {
		return
	}
	count := 0
	for _, tier := range t.tiers {
		count += len(tier.Trackers)
	}
	if count == 1 {
		a.cfg.OnError(infoHash, err)
	}
}

// nextScrapeTime bumps to the next multiple of 10s after now+intervalSec, an intentional
// alignment that improves multiscrape batching.
func nextScrapeTime(now time.Time, intervalSec int32) time.Time {
	target := now.Add(time.Duration(intervalSec) * time.Second)
	const grain = 10 * time.Second
	rem := target.Unix() % int64(grain/time.Second)
	if rem != 0 {
		target = target.Add(time.Duration(int64(grain/time.Second)-rem) * time.Second)
	}
	return target
}

// dispatchScrapes batches due tiers' current trackers by scrape key, honoring per-URL
// multiscrapeMax and the maxScrapesPerPulse throttle.
func (a *Announcer) dispatchScrapes(now time.Time) {
	type batchKey struct {
		scrapeURL string
		hostKey   string
		isUDP     bool
	}
	batches := make(map[batchKey][]struct {
		infoHash [20]byte
		tier     *Tier
	})
	for infoHash, t := range a.torrents {
		if !t.running && !a.cfg.ScrapePausedTorrents {
			continue
		}
		for _, tier := range t.tiers {
			if tier.IsScraping || tier.ScrapeAt.IsZero() || now.Before(tier.ScrapeAt) {
				continue
			}
			trk := tier.CurrentTracker()
			if trk == nil {
				continue
			}
			isUDP := trk.Scheme() == "udp" || trk.Scheme() == "udp4" || trk.Scheme() == "udp6"
			if !isUDP && trk.ScrapeURL == "" {
				continue
			}
			key := batchKey{scrapeURL: trk.ScrapeURL, hostKey: trk.Key, isUDP: isUDP}
			batches[key] = append(batches[key], struct {
				infoHash [20]byte
				tier     *Tier
			}{infoHash, tier})
		}
	}
	sent := 0
	for key, entries := range batches {
		if sent >= maxScrapesPerPulse {
			break
		}
		maxN := a.multiscrapeMaxFor(key.hostKey)
		for len(entries) > 0 && sent < maxScrapesPerPulse {
			batchSize := len(entries)
			if batchSize > maxN {
				batchSize = maxN
			}
			batch := entries[:batchSize]
			entries = entries[batchSize:]
			a.sendScrapeBatch(key.hostKey, key.scrapeURL, key.isUDP, batch, now)
			sent++
		}
	}
}

func (a *Announcer) multiscrapeMaxFor(hostKey string) int {
	if n, ok := a.multiscrapeMax[hostKey]; ok {
		return n
	}
	a.multiscrapeMax[hostKey] = defaultMultiscrapeMax
	return defaultMultiscrapeMax
}

func (a *Announcer) shrinkMultiscrapeMax(hostKey string) {
	n := a.multiscrapeMaxFor(hostKey) - multiscrapeShrinkStep
	if n < minMultiscrapeMax {
		n = minMultiscrapeMax
	}
	a.multiscrapeMax[hostKey] = n
}

func (a *Announcer) sendScrapeBatch(hostKey, scrapeURL string, isUDP bool, batch []struct {
	infoHash [20]byte
	tier     *Tier
}, now time.Time) {
	infoHashes := make([][20]byte, len(batch))
	for i, e := range batch {
		infoHashes[i] = e.infoHash
		e.tier.IsScraping = true
	}
	finish := func(results []shared.ScrapeResult, err error) {
		a.cfg.PostToLoop(func() { a.finishScrape(hostKey, batch, results, err, a.cfg.Now()) })
	}
	if isUDP {
		if a.cfg.UDP == nil {
			a.finishScrape(hostKey, batch, nil, errors.New("no udp transport configured"), now)
			return
		}
		a.cfg.UDP.Scrape(hostKey, infoHashes, finish)
		return
	}
	c, ok := a.httpClients[scrapeURL]
	if !ok {
		var err error
		c, err = httptracker.NewClient(scrapeURL)
		if err != nil {
			finish(nil, err)
			return
		}
		a.httpClients[scrapeURL] = c
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		results, err := c.Scrape(ctx, infoHashes)
		if err != nil {
			err = pkgerrors.Wrap(err, "http tracker scrape")
		}
		finish(results, err)
	}()
}

func (a *Announcer) finishScrape(hostKey string, batch []struct {
	infoHash [20]byte
	tier     *Tier
}, results []shared.ScrapeResult, err error, now time.Time) {
	for _, e := range batch {
		e.tier.IsScraping = false
	}
	if err != nil {
		if isTooLong(err) {
			a.shrinkMultiscrapeMax(hostKey)
		}
		for _, e := range batch {
			e.tier.ScrapeAt = now.Add(RetryInterval(1))
		}
		return
	}
	for i, e := range batch {
		if i >= len(results) {
			break
		}
		trk := e.tier.CurrentTracker()
		if trk == nil {
			continue
		}
		trk.Seeders = results[i].Seeders
		trk.Leechers = results[i].Leechers
		trk.Downloads = results[i].Completed
		if a.cfg.OnCounts != nil {
			a.cfg.OnCounts(e.infoHash, results[i].Seeders, results[i].Leechers)
		}
		e.tier.ScrapeAt = nextScrapeTime(now, e.tier.AnnounceIntervalSec)
	}
}
