// Package tracker implements the multitracker tier state machine: the announce-event queue
// discipline, per-tier failover across a tracker list, and the multiscrape batcher, driven by
// the announcer-upkeep pulse and dispatching onto the HTTP and UDP transports in the sibling
// httptracker/udptracker packages.
package tracker

import (
	"net/url"
	"strings"
)

// Tracker is one announce URL inside a Tier. Its scrape URL, when present, is derived by
// deriveScrapeURL or given explicitly by the embedder.
type Tracker struct {
	URL       string
	ScrapeURL string // empty if the tracker does not support BEP 48 scrape

	// Key is the lookup key ("host:port") shared by every Tracker at the same UDP host, so the
	// udptracker.Transport can multiplex requests to it regardless of which tier holds the URL.
	Key string

	// Last-seen counters, updated by the most recent successful announce or scrape.
	Seeders      int32
	Leechers     int32
	Downloads    int32
	Downloaders  int32
	TrackerID    string
	ConsecutiveFailures int
}

// NewTracker parses announceURL and derives Key and, for HTTP(S) trackers, ScrapeURL. UDP
// trackers never have a scrape URL of their own; scraping them uses the same announce host:port.
func NewTracker(announceURL string) (*Tracker, error) {
	u, err := url.Parse(announceURL)
	if err != nil {
		return nil, err
	}
	t := &Tracker{URL: announceURL, Key: u.Host}
	switch u.Scheme {
	case "http", "https":
		t.ScrapeURL = deriveScrapeURL(*u)
	case "udp", "udp4", "udp6":
		// UDP scrape reuses the announce host:port; no separate URL string.
	}
	return t, nil
}

// Scheme reports the announce URL's scheme, used by Tier to pick the HTTP or UDP transport.
func (t *Tracker) Scheme() string {
	u, err := url.Parse(t.URL)
	if err != nil {
		return ""
	}
	return u.Scheme
}

// deriveScrapeURL implements the BEP 48 convention: replace the last "announce" path segment
// with "scrape". Trackers whose path has no such segment do not support scrape.
func deriveScrapeURL(u url.URL) string {
	const from, to = "announce", "scrape"
	segs := strings.Split(u.Path, "/")
	for i := len(segs) - 1; i >= 0; i-- {
		if segs[i] == from {
			segs[i] = to
			u.Path = strings.Join(segs, "/")
			return u.String()
		}
	}
	return ""
}
