package httptracker

import (
	"bytes"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zeebo/bencode"

	"github.com/relaytorrent/swarmcore/tracker/shared"
)

func TestDecodeCompactPeers(t *testing.T) {
	var hr httpResponse
	require.NoError(t, bencode.NewDecoder(bytes.NewReader(
		[]byte("d5:peers6:\x01\x02\x03\x04\x1a\x2be"),
	)).Decode(&hr))
	peers, err := decodePeers(hr.Peers)
	require.NoError(t, err)
	require.Len(t, peers, 1)
	assert.Equal(t, "1.2.3.4", peers[0].Addr.Addr().String())
	assert.EqualValues(t, 0x1a2b, peers[0].Addr.Port())
}

func TestDecodeDictPeers(t *testing.T) {
	var hr httpResponse
	require.NoError(t, bencode.NewDecoder(bytes.NewReader(
		[]byte("d5:peersl"+
			"d2:ip7:1.2.3.47:peer id20:thisisthe20bytepeeri4:porti9999ee"+
			"e"+
			"e"),
	)).Decode(&hr))
	peers, err := decodePeers(hr.Peers)
	require.NoError(t, err)
	require.Len(t, peers, 1)
	assert.Equal(t, "1.2.3.4", peers[0].Addr.Addr().String())
	assert.EqualValues(t, 9999, peers[0].Addr.Port())
	assert.True(t, peers[0].HasID)
}

func TestDecodePeers6(t *testing.T) {
	raw := append(bytes.Repeat([]byte{0}, 15), []byte{1, 0x27, 0x10}...)
	peers := decodePeers6(raw)
	require.Len(t, peers, 1)
	assert.EqualValues(t, 0x2710, peers[0].Addr.Port())
}

func TestSetAnnounceParamsIncludesEvent(t *testing.T) {
	u, err := url.Parse("http://tracker.example/announce")
	require.NoError(t, err)
	ar := shared.AnnounceRequest{Event: shared.AnnounceEventStarted, NumWant: 80}
	setAnnounceParams(u, ar, Opts{})
	assert.Equal(t, "started", u.Query().Get("event"))
	assert.Equal(t, "80", u.Query().Get("numwant"))
	assert.Equal(t, "1", u.Query().Get("compact"))
}

func TestSetAnnounceParamsOmitsNoneEvent(t *testing.T) {
	u, err := url.Parse("http://tracker.example/announce")
	require.NoError(t, err)
	setAnnounceParams(u, shared.AnnounceRequest{}, Opts{})
	assert.Empty(t, u.Query().Get("event"))
}

func TestScrapeURLReplacesAnnounce(t *testing.T) {
	u, err := url.Parse("http://tracker.example/x/announce")
	require.NoError(t, err)
	su := scrapeURL(*u)
	assert.Equal(t, "/x/scrape", su.Path)
}

func TestAnnounceFailureReasonSurfaced(t *testing.T) {
	var hr httpResponse
	require.NoError(t, bencode.NewDecoder(bytes.NewReader(
		[]byte("d14:failure reason19:torrent not found!!e"),
	)).Decode(&hr))
	assert.Equal(t, "torrent not found!!", hr.FailureReason)
}
