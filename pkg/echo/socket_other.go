//go:build !linux

package echo

import (
	"golang.org/x/net/icmp"
)

// listen opens an ICMP socket.
// Variable for mocking in tests.
var listen = func(privileged, dontFragment bool) (*icmpConn, error) {
	if dontFragment {
		return nil, ErrDFNotSupported
	}
	network := "udp4"
	if privileged {
		network = "ip4:icmp"
	}
	c, err := icmp.ListenPacket(network, "0.0.0.0")
	if err != nil {
		return nil, err
	}
	return &icmpConn{
		PacketConn: c,
		setTTL:     c.IPv4PacketConn().SetTTL,
		datagram:   !privileged,
	}, nil
}
