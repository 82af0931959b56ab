//go:build !linux

package route

import (
	"fmt"
	"net"
	"net/netip"

	"github.com/jackpal/gateway"
)

// Without a route query interface the default route is assumed. Variables
// for mocking in tests.
var (
	discoverGateway   = gateway.DiscoverGateway
	discoverInterface = gateway.DiscoverInterface
	interfaces        = net.Interfaces
)

func get(ip netip.Addr) (Route, error) {
	gwIP, err := discoverGateway()
	if err != nil {
		return Route{}, fmt.Errorf("discover gateway: %w", err)
	}
	srcIP, err := discoverInterface()
	if err != nil {
		return Route{}, fmt.Errorf("discover interface: %w", err)
	}
	gw, _ := netip.AddrFromSlice(gwIP.To4())
	src, ok := netip.AddrFromSlice(srcIP.To4())
	if !ok {
		return Route{}, fmt.Errorf("default interface address %v is not IPv4", srcIP)
	}

	intf, err := interfaceWithAddr(src)
	if err != nil {
		return Route{}, err
	}
	return Route{
		Destination: ip,
		Gateway:     gw,
		Source:      src,
		Interface:   intf,
	}, nil
}

// interfaceWithAddr finds the interface that owns addr.
func interfaceWithAddr(addr netip.Addr) (*net.Interface, error) {
	ifaces, err := interfaces()
	if err != nil {
		return nil, err
	}
	for i := range ifaces {
		addrs, err := ifaces[i].Addrs()
		if err != nil {
			continue
		}
		for _, a := range addrs {
			prefix, err := netip.ParsePrefix(a.String())
			if err == nil && prefix.Addr().Unmap() == addr {
				return &ifaces[i], nil
			}
		}
	}
	return nil, fmt.Errorf("no interface has address %s", addr)
}
