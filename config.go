package swarm

import (
	"log/slog"
	"net"
	"time"

	"github.com/anacrolix/log"
	"golang.org/x/time/rate"
)

// Config holds every swarm/peer-manager tunable. It is a plain property bag populated by the
// embedder; the core never reads environment variables or global state directly.
type Config struct {
	// PeerID sent in handshakes and tracker announces.
	PeerID [20]byte

	// ListenPort is advertised to trackers and used to accept inbound connections.
	ListenPort int `long:"listen-port" description:"port to advertise and accept connections on"`

	// PublicIp4 / PublicIp6 are how peers should see us; may differ from local interfaces due to NAT.
	PublicIp4 net.IP
	PublicIp6 net.IP

	// MaxPeersPerTorrent bounds each Swarm's live peer set.
	MaxPeersPerTorrent int `long:"max-peers-per-torrent" description:"cap on live peers per swarm"`
	// MaxPeersSession bounds the live peer count across every swarm.
	MaxPeersSession int `long:"max-peers-session" description:"cap on live peers across all swarms"`
	// UploadSlotsPerTorrent bounds unchoked peers per swarm.
	UploadSlotsPerTorrent int `long:"upload-slots-per-torrent"`

	// DialsPerReconnectPulse is the outgoing-connection budget per reconnect pulse, left
	// configurable since the historical default of roughly half the half-open connection limit
	// is an arbitrary starting point rather than a hard requirement.
	DialsPerReconnectPulse int
	// IncomingSlotReserveFraction reserves this fraction of MaxPeersSession for inbound
	// connections.
	IncomingSlotReserveFraction float64

	// UploadRateLimiter governs the bandwidth pulse's per-peer allocation hook.
	UploadRateLimiter *rate.Limiter
	// DownloadRateLimiter mirrors it for received bytes.
	DownloadRateLimiter *rate.Limiter

	// HTTPUserAgent is sent with every HTTP tracker announce/scrape.
	HTTPUserAgent string `long:"http-user-agent"`

	// DisableTrackers leaves DHT/PEX as the only peer sources.
	DisableTrackers bool `long:"disable-trackers"`
	// ScrapePausedTorrents allows the scrape half of announcer upkeep to run for stopped swarms.
	ScrapePausedTorrents bool `long:"scrape-paused-torrents"`

	// AcceptPeerConnections controls whether inbound handshakes are attempted at all.
	AcceptPeerConnections bool `long:"accept-peer-connections"`

	Logger  log.Logger
	Slogger *slog.Logger
}

// NewDefaultConfig returns reasonable defaults for every tunable.
func NewDefaultConfig() *Config {
	return &Config{
		ListenPort:                  42069,
		MaxPeersPerTorrent:          50,
		MaxPeersSession:             200,
		UploadSlotsPerTorrent:       4,
		DialsPerReconnectPulse:      6,
		IncomingSlotReserveFraction: 0.05,
		UploadRateLimiter:           rate.NewLimiter(rate.Inf, 0),
		DownloadRateLimiter:         rate.NewLimiter(rate.Inf, 0),
		HTTPUserAgent:               "swarmcore/1.0",
		AcceptPeerConnections:       true,
		Logger:                      log.Default,
		Slogger:                     slog.Default(),
	}
}

const (
	// BandwidthPulsePeriod drains sends/recvs, allocates quota, and runs reconnect.
	BandwidthPulsePeriod = 500 * time.Millisecond
	// RechokePulsePeriod recomputes interest and choke sets per torrent.
	RechokePulsePeriod = 10 * time.Second
	// RefillUpkeepPeriod expires stale outgoing block requests.
	RefillUpkeepPeriod = 10 * time.Second
	// AtomGCPeriod prunes each swarm's candidate pool.
	AtomGCPeriod = 60 * time.Second
	// AnnouncerUpkeepPeriod drives tier announce/scrape state machines.
	AnnouncerUpkeepPeriod = 500 * time.Millisecond
	// UdpTransportUpkeepPeriod drives the UDP tracker transport's own upkeep.
	UdpTransportUpkeepPeriod = 5 * time.Second

	// ActiveRequestTimeout is how long an outgoing block request may go unanswered before
	// refill-upkeep cancels it.
	ActiveRequestTimeout = 90 * time.Second
	// MaxUploadIdleSecs / MinUploadIdleSecs bound the idle-peer purge window.
	MaxUploadIdleSecs = 300 * time.Second
	MinUploadIdleSecs = 60 * time.Second
)
