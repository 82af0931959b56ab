// Package route finds the outgoing IPv4 route towards a probe target.
package route

import (
	"errors"
	"net"
	"net/netip"
)

// ErrNotIPv4 is returned for destinations outside the IPv4 family.
var ErrNotIPv4 = errors.New("route lookup only supports IPv4 destinations")

// Route is the path the kernel will use for a destination.
type Route struct {
	Destination netip.Addr
	Gateway     netip.Addr // invalid for directly connected destinations
	Source      netip.Addr
	Interface   *net.Interface
}

// Get returns the route the kernel would use to reach ip.
func Get(ip netip.Addr) (Route, error) {
	if !ip.Unmap().Is4() {
		return Route{}, ErrNotIPv4
	}
	return get(ip.Unmap())
}

// MTU returns the MTU of the outgoing interface, or 0 when unknown.
func (r Route) MTU() int {
	if r.Interface == nil {
		return 0
	}
	return r.Interface.MTU
}

// MaxPayload returns the largest ICMP echo payload that fits in one
// unfragmented packet on this route, or 0 when the MTU is unknown.
func (r Route) MaxPayload() int {
	const overhead = 20 + 8 // IPv4 header + ICMP echo header
	if mtu := r.MTU(); mtu > overhead {
		return mtu - overhead
	}
	return 0
}
