// Package udptracker implements the BEP 15 UDP tracker wire protocol and the per-host transport
// state machine that drives it: connection-id caching, transaction-id demultiplexing, DNS
// resolution with a TTL, and request timeouts. Each request is sent once; a request with no
// response within the timeout fails with ErrTimeout and is not retransmitted.
package udptracker

import (
	"encoding/binary"
	"fmt"

	"github.com/relaytorrent/swarmcore/tracker/shared"
)

// connectMagic is the fixed 64-bit value that opens a CONNECT request.
const connectMagic uint64 = 0x41727101980

type wireAction uint32

const (
	actionConnect  wireAction = 0
	actionAnnounce wireAction = 1
	actionScrape   wireAction = 2
	actionError    wireAction = 3
)

const (
	connectRequestLen  = 16
	connectResponseLen = 16
	announceRequestLen = 98
	announceRespMinLen = 20
	scrapeRequestLen   = 16
	scrapeRespMinLen   = 20
	errorRespMinLen    = 8

	announcePeerEntryLen = 6
	scrapeResultLen      = 12
)

func encodeConnectRequest(txID uint32) []byte {
	b := make([]byte, connectRequestLen)
	binary.BigEndian.PutUint64(b[0:8], connectMagic)
	binary.BigEndian.PutUint32(b[8:12], uint32(actionConnect))
	binary.BigEndian.PutUint32(b[12:16], txID)
	return b
}

// decodeConnectResponse validates length and action before returning the connection id; messages
// that don't validate length per action are ignored.
func decodeConnectResponse(b []byte) (txID uint32, connID uint64, ok bool) {
	if len(b) < connectResponseLen {
		return 0, 0, false
	}
	if wireAction(binary.BigEndian.Uint32(b[0:4])) != actionConnect {
		return 0, 0, false
	}
	txID = binary.BigEndian.Uint32(b[4:8])
	connID = binary.BigEndian.Uint64(b[8:16])
	return txID, connID, true
}

func encodeAnnounceRequest(connID uint64, txID uint32, req shared.AnnounceRequest) []byte {
	b := make([]byte, announceRequestLen)
	binary.BigEndian.PutUint64(b[0:8], connID)
	binary.BigEndian.PutUint32(b[8:12], uint32(actionAnnounce))
	binary.BigEndian.PutUint32(b[12:16], txID)
	copy(b[16:36], req.InfoHash[:])
	copy(b[36:56], req.PeerID[:])
	binary.BigEndian.PutUint64(b[56:64], uint64(req.Downloaded))
	binary.BigEndian.PutUint64(b[64:72], uint64(req.Left))
	binary.BigEndian.PutUint64(b[72:80], uint64(req.Uploaded))
	binary.BigEndian.PutUint32(b[80:84], uint32(req.Event.Value()))
	binary.BigEndian.PutUint32(b[84:88], 0) // ip, always 0: we never spoof our address
	binary.BigEndian.PutUint32(b[88:92], uint32(req.Key))
	binary.BigEndian.PutUint32(b[92:96], uint32(req.NumWant))
	binary.BigEndian.PutUint16(b[96:98], req.Port)
	return b
}

func decodeAnnounceResponse(b []byte) (txID uint32, resp shared.AnnounceResponse, ok bool) {
	if len(b) < announceRespMinLen {
		return 0, resp, false
	}
	if wireAction(binary.BigEndian.Uint32(b[0:4])) != actionAnnounce {
		return 0, resp, false
	}
	txID = binary.BigEndian.Uint32(b[4:8])
	resp.Interval = int32(binary.BigEndian.Uint32(b[8:12]))
	resp.Leechers = int32(binary.BigEndian.Uint32(b[12:16]))
	resp.Seeders = int32(binary.BigEndian.Uint32(b[16:20]))
	peers := b[announceRespMinLen:]
	for i := 0; i+announcePeerEntryLen <= len(peers); i += announcePeerEntryLen {
		var ip [4]byte
		copy(ip[:], peers[i:i+4])
		port := binary.BigEndian.Uint16(peers[i+4 : i+6])
		resp.Peers = append(resp.Peers, shared.Peer{Addr: addrPortFrom4(ip, port)})
	}
	return txID, resp, true
}

func encodeScrapeRequest(connID uint64, txID uint32, infohashes [][20]byte) []byte {
	b := make([]byte, scrapeRequestLen+20*len(infohashes))
	binary.BigEndian.PutUint64(b[0:8], connID)
	binary.BigEndian.PutUint32(b[8:12], uint32(actionScrape))
	binary.BigEndian.PutUint32(b[12:16], txID)
	for i, ih := range infohashes {
		copy(b[scrapeRequestLen+i*20:], ih[:])
	}
	return b
}

func decodeScrapeResponse(b []byte, want int) (txID uint32, results []shared.ScrapeResult, ok bool) {
	if len(b) < scrapeRespMinLen {
		return 0, nil, false
	}
	if wireAction(binary.BigEndian.Uint32(b[0:4])) != actionScrape {
		return 0, nil, false
	}
	txID = binary.BigEndian.Uint32(b[4:8])
	payload := b[8:] // results follow the 8-byte action/transaction-id header
	n := len(payload) / scrapeResultLen
	if n > want {
		n = want
	}
	for i := 0; i < n; i++ {
		off := i * scrapeResultLen
		results = append(results, shared.ScrapeResult{
			Seeders:   int32(binary.BigEndian.Uint32(payload[off : off+4])),
			Completed: int32(binary.BigEndian.Uint32(payload[off+4 : off+8])),
			Leechers:  int32(binary.BigEndian.Uint32(payload[off+8 : off+12])),
		})
	}
	return txID, results, true
}

func decodeErrorResponse(b []byte) (txID uint32, message string, ok bool) {
	if len(b) < errorRespMinLen {
		return 0, "", false
	}
	if wireAction(binary.BigEndian.Uint32(b[0:4])) != actionError {
		return 0, "", false
	}
	txID = binary.BigEndian.Uint32(b[4:8])
	return txID, string(b[8:]), true
}

// peekAction reads the 4-byte action header common to every response without consuming it,
// so the transport can decide which decoder to hand the message to.
func peekAction(b []byte) (wireAction, bool) {
	if len(b) < 4 {
		return 0, false
	}
	return wireAction(binary.BigEndian.Uint32(b[0:4])), true
}

// peekTxID reads the transaction id common to every action's response header, without knowing
// which action it is yet.
func peekTxID(b []byte) (uint32, bool) {
	if len(b) < 8 {
		return 0, false
	}
	return binary.BigEndian.Uint32(b[4:8]), true
}

func (a wireAction) String() string {
	switch a {
	case actionConnect:
		return "connect"
	case actionAnnounce:
		return "announce"
	case actionScrape:
		return "scrape"
	case actionError:
		return "error"
	default:
		return fmt.Sprintf("action(%d)", uint32(a))
	}
}
