package udptracker

import "net/netip"

func addrPortFrom4(ip [4]byte, port uint16) netip.AddrPort {
	return netip.AddrPortFrom(netip.AddrFrom4(ip), port)
}

// AddrFamilyUnsupportedError is returned when a host resolves to an address family the local
// socket can't dial: EAFNOSUPPORT implies "no IPv6 support" rather than a transient failure.
type AddrFamilyUnsupportedError struct {
	Addr netip.Addr
}

func (e AddrFamilyUnsupportedError) Error() string {
	return "address family unsupported for " + e.Addr.String()
}
