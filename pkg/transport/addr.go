package transport

import (
	"net"
	"strconv"
	"strings"
)

// HostPort joins host and port into an address string, bracketing IPv6
// literals.
func HostPort(host string, port uint16) string {
	return net.JoinHostPort(strings.TrimSpace(host), strconv.Itoa(int(port)))
}

// ResolveTCP resolves host:port for a TCP-family transport. An empty host
// means every IPv4 interface.
func ResolveTCP(network, host string, port uint16) (*net.TCPAddr, error) {
	host = strings.TrimSpace(host)
	if strings.ContainsAny(host, " /") {
		return nil, invalidAddress("host %q", host)
	}
	if host == "" {
		ip := net.IPv4zero
		if network == "tcp6" {
			ip = net.IPv6unspecified
		}
		return &net.TCPAddr{IP: ip, Port: int(port)}, nil
	}
	return net.ResolveTCPAddr(network, HostPort(host, port))
}

// ResolveUDP is ResolveTCP for datagram transports.
func ResolveUDP(host string, port uint16) (*net.UDPAddr, error) {
	a, err := ResolveTCP("tcp", host, port)
	if err != nil {
		return nil, err
	}
	return &net.UDPAddr{IP: a.IP, Port: a.Port, Zone: a.Zone}, nil
}
