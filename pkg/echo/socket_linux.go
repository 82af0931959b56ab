//go:build linux

package echo

import (
	"context"
	"net"
	"os"
	"syscall"

	"golang.org/x/net/ipv4"
	"golang.org/x/sys/unix"
)

// listen opens an ICMP socket.
// Variable for mocking in tests.
var listen = func(privileged, dontFragment bool) (*icmpConn, error) {
	if privileged {
		return listenRaw(dontFragment)
	}
	return listenDatagram(dontFragment)
}

// listenRaw opens a raw "ip4:icmp" socket, which needs CAP_NET_RAW.
func listenRaw(dontFragment bool) (*icmpConn, error) {
	lc := net.ListenConfig{
		Control: func(network, address string, c syscall.RawConn) error {
			if !dontFragment {
				return nil
			}
			var serr error
			if err := c.Control(func(fd uintptr) {
				serr = setDontFragment(int(fd))
			}); err != nil {
				return err
			}
			return serr
		},
	}
	c, err := lc.ListenPacket(context.Background(), "ip4:icmp", "0.0.0.0")
	if err != nil {
		return nil, err
	}
	return &icmpConn{
		PacketConn: c,
		setTTL:     ipv4.NewPacketConn(c).SetTTL,
	}, nil
}

// listenDatagram opens an unprivileged ICMP socket. The kernel must allow the
// caller's group in net.ipv4.ping_group_range.
func listenDatagram(dontFragment bool) (*icmpConn, error) {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_DGRAM|unix.SOCK_CLOEXEC, unix.IPPROTO_ICMP)
	if err != nil {
		return nil, os.NewSyscallError("socket", err)
	}
	if dontFragment {
		if err := setDontFragment(fd); err != nil {
			unix.Close(fd)
			return nil, err
		}
	}
	if err := unix.Bind(fd, &unix.SockaddrInet4{}); err != nil {
		unix.Close(fd)
		return nil, os.NewSyscallError("bind", err)
	}

	f := os.NewFile(uintptr(fd), "icmp")
	c, err := net.FilePacketConn(f)
	f.Close()
	if err != nil {
		return nil, err
	}
	return &icmpConn{
		PacketConn: c,
		setTTL:     ipv4.NewPacketConn(c).SetTTL,
		datagram:   true,
	}, nil
}

// setDontFragment disables path MTU fragmentation so oversized requests fail
// with EMSGSIZE instead of being split.
func setDontFragment(fd int) error {
	return os.NewSyscallError("setsockopt", unix.SetsockoptInt(fd, unix.IPPROTO_IP, unix.IP_MTU_DISCOVER, unix.IP_PMTUDISC_DO))
}
