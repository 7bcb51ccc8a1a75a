package swarm

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSessionStatsSaveLoadRoundTrip(t *testing.T) {
	want := SessionStats{
		DownloadedBytes: 1 << 30,
		UploadedBytes:   1 << 20,
		FilesAdded:      3,
		SessionCount:    7,
		SecondsActive:   3600,
	}
	var buf bytes.Buffer
	assert.NoError(t, want.Save(&buf))

	var got SessionStats
	assert.NoError(t, got.Load(&buf))
	assert.Equal(t, want, got)
}

func TestSessionStatsLoadEmptyStreamIsZeroValue(t *testing.T) {
	var s SessionStats
	s.DownloadedBytes = 99 // Load must reset, not merge
	assert.NoError(t, s.Load(bytes.NewReader(nil)))
	assert.Equal(t, SessionStats{}, s)
}

func TestSessionStatsSummaryHumanizesByteCounts(t *testing.T) {
	s := SessionStats{UploadedBytes: 2 * 1000 * 1000, DownloadedBytes: 5 * 1000 * 1000 * 1000, SessionCount: 1200}
	out := s.Summary()
	assert.True(t, strings.Contains(out, "MB"), out)
	assert.True(t, strings.Contains(out, "GB"), out)
	assert.True(t, strings.Contains(out, "1,200"), out)
}
