package swarm

import (
	"io"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/zeebo/bencode"
)

// SessionStats is the persisted lifetime counters dictionary: downloaded/uploaded bytes, files
// added, session count, and seconds active. It is stored as a bencoded dictionary, the same
// key/value text form used elsewhere for metainfo and resume caches, rather than a new binary
// format.
type SessionStats struct {
	DownloadedBytes int64 `bencode:"downloaded-bytes"`
	UploadedBytes   int64 `bencode:"uploaded-bytes"`
	FilesAdded      int64 `bencode:"files-added"`
	SessionCount    int64 `bencode:"session-count"`
	SecondsActive   int64 `bencode:"seconds-active"`
}

// Load decodes a SessionStats dictionary from r. A missing/empty stream is not an error: it is
// the same as a freshly zeroed SessionStats, matching first-run behaviour.
func (s *SessionStats) Load(r io.Reader) error {
	*s = SessionStats{}
	err := bencode.NewDecoder(r).Decode(s)
	if err == io.EOF {
		return nil
	}
	return err
}

// Save encodes the dictionary to w.
func (s *SessionStats) Save(w io.Writer) error {
	return bencode.NewEncoder(w).Encode(s)
}

// Summary renders the dictionary as a human-readable log line, humanizing byte counts rather
// than printing raw integers.
func (s *SessionStats) Summary() string {
	return "up=" + humanize.Bytes(uint64(max64(s.UploadedBytes, 0))) +
		" down=" + humanize.Bytes(uint64(max64(s.DownloadedBytes, 0))) +
		" active=" + (time.Duration(s.SecondsActive) * time.Second).String() +
		" sessions=" + humanize.Comma(s.SessionCount)
}

func max64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}
