package swarm

import (
	"log/slog"

	"github.com/anacrolix/log"
)

// loggerForSwarm scopes the session logger to one torrent, the way
// client-tracker-announcer.go scopes its logger with t.slogGroup().
func loggerForSwarm(base *slog.Logger, infohash [20]byte) *slog.Logger {
	return base.With("infohash", shortInfohashString(infohash))
}

// leveledLoggerForSwarm mirrors the above for the older anacrolix/log logger carried in
// Config.Logger.
func leveledLoggerForSwarm(base log.Logger, infohash [20]byte) log.Logger {
	return base.WithContextValue("infohash " + shortInfohashString(infohash))
}

func shortInfohashString(ih [20]byte) string {
	const hextable = "0123456789abcdef"
	buf := make([]byte, 8)
	for i := 0; i < 4; i++ {
		buf[i*2] = hextable[ih[i]>>4]
		buf[i*2+1] = hextable[ih[i]&0xf]
	}
	return string(buf)
}
