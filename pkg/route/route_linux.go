//go:build linux

package route

import (
	"fmt"
	"net"
	"net/netip"

	"github.com/jsimonetti/rtnetlink"
	"golang.org/x/sys/unix"
)

// fetchRIBMessagesForIP asks the kernel for the route to ip.
// Variable for mocking in tests.
var fetchRIBMessagesForIP = func(ip netip.Addr) ([]rtnetlink.RouteMessage, error) {
	c, err := rtnetlink.Dial(nil)
	if err != nil {
		return nil, err
	}
	defer c.Close()

	return c.Route.Get(&rtnetlink.RouteMessage{
		Family: unix.AF_INET,
		Table:  unix.RT_TABLE_MAIN,
		Attributes: rtnetlink.RouteAttributes{
			Dst: ip.AsSlice(),
		},
	})
}

// interfaceByIndex is replaceable in tests.
var interfaceByIndex = net.InterfaceByIndex

// routeFromMessages converts the RTM_GETROUTE answer for ip into a Route.
func routeFromMessages(ip netip.Addr, msgs []rtnetlink.RouteMessage) (Route, error) {
	switch {
	case len(msgs) == 0:
		return Route{}, fmt.Errorf("no route to %s", ip)
	case len(msgs) > 1:
		return Route{}, fmt.Errorf("multiple routes found for %s", ip)
	}
	attrs := msgs[0].Attributes

	dst, ok := netip.AddrFromSlice(attrs.Dst)
	if !ok || dst.Unmap() != ip {
		return Route{}, fmt.Errorf("no matching route found for %s", ip)
	}
	src, ok := netip.AddrFromSlice(attrs.Src)
	if !ok {
		return Route{}, fmt.Errorf("failed to parse source address: %v", attrs.Src)
	}
	gw, _ := netip.AddrFromSlice(attrs.Gateway)

	intf, err := interfaceByIndex(int(attrs.OutIface))
	if err != nil {
		return Route{}, fmt.Errorf("failed to get interface by index %d: %w", attrs.OutIface, err)
	}
	if intf.Flags&net.FlagUp == 0 {
		return Route{}, fmt.Errorf("interface %s is down", intf.Name)
	}

	return Route{
		Destination: dst.Unmap(),
		Gateway:     gw.Unmap(),
		Source:      src.Unmap(),
		Interface:   intf,
	}, nil
}

func get(ip netip.Addr) (Route, error) {
	msgs, err := fetchRIBMessagesForIP(ip)
	if err != nil {
		return Route{}, err
	}
	return routeFromMessages(ip, msgs)
}
