// Package netutil provides local address discovery for clients that need
// a stable self-identifier.
package netutil

import "net"

// LocalIP returns this host's outbound IPv4 address: opening a UDP
// "connection" to a non-reachable address never sends a packet but makes
// the kernel pick the interface/source address that would be used, which
// is exactly what we want without depending on DNS or an actual peer.
func LocalIP() string {
	conn, err := net.Dial("udp", "10.255.255.255:1")
	if err != nil {
		return "127.0.0.1"
	}
	defer conn.Close()

	addr, ok := conn.LocalAddr().(*net.UDPAddr)
	if !ok {
		return "127.0.0.1"
	}
	return addr.IP.String()
}
