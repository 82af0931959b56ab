package echo

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"net"
	"net/netip"
	"os"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/net/icmp"
	"golang.org/x/net/ipv4"
)

const (
	protocolICMP = 1

	// Room for the ICMP header and anything quoted by an error message.
	recvOverhead = 576
)

var (
	errTimeout  = errors.New("no reply before deadline")
	errCanceled = errors.New("attempt canceled")
)

// Pinger is the Sender backed by the kernel's ICMP sockets. Each call opens its
// own socket, so a Pinger can be shared freely between goroutines.
type Pinger struct {
	// Privileged selects raw "ip4:icmp" sockets. Otherwise unprivileged
	// datagram ICMP sockets are used, which the kernel demultiplexes per
	// socket but which never see ICMP error messages.
	Privileged bool

	// Resolver turns hostnames into addresses. Nil means the system resolver.
	Resolver Resolver

	id atomic.Uint32
}

// NewPinger returns a Pinger with a random echo identifier base.
func NewPinger(privileged bool, resolver Resolver) *Pinger {
	p := &Pinger{Privileged: privileged, Resolver: resolver}
	p.id.Store(rand.Uint32N(0xffff))
	return p
}

func (p *Pinger) nextID() int {
	return int(p.id.Add(1) & 0xffff)
}

// Send implements Sender. Invalid requests and local socket failures are
// returned as plain errors; everything that went wrong on the network is a
// *TransportError.
func (p *Pinger) Send(ctx context.Context, req Request) (Reply, error) {
	switch {
	case req.Timeout <= 0:
		return Reply{}, fmt.Errorf("echo: timeout must be positive, got %v", req.Timeout)
	case req.TTL < 1 || req.TTL > 255:
		return Reply{}, fmt.Errorf("echo: ttl must be between 1 and 255, got %d", req.TTL)
	}

	ctx, cancel := context.WithTimeout(ctx, req.Timeout)
	defer cancel()
	if ctx.Err() != nil {
		return Reply{}, contextError(ctx, &TransportError{Kind: KindCanceled, Err: errCanceled})
	}

	dst, err := p.resolve(ctx, req.Target)
	if err != nil {
		return Reply{}, contextError(ctx, &TransportError{Kind: KindResolve, Err: err})
	}

	conn, err := listen(p.Privileged, req.DontFragment)
	if err != nil {
		return Reply{}, fmt.Errorf("echo: open icmp socket: %w", err)
	}
	defer conn.Close()

	if err := conn.setTTL(req.TTL); err != nil {
		return Reply{}, fmt.Errorf("echo: set ttl: %w", err)
	}

	id, seq := p.nextID(), req.Seq&0xffff
	msg := icmp.Message{
		Type: ipv4.ICMPTypeEcho,
		Code: 0,
		Body: &icmp.Echo{
			ID:   id,
			Seq:  seq,
			Data: req.Payload,
		},
	}
	b, err := msg.Marshal(nil)
	if err != nil {
		return Reply{}, fmt.Errorf("echo: marshal request: %w", err)
	}

	deadline, _ := ctx.Deadline()
	if err := conn.SetDeadline(deadline); err != nil {
		return Reply{}, fmt.Errorf("echo: set deadline: %w", err)
	}
	// Unblock the read as soon as the caller gives up.
	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetReadDeadline(time.Now())
	})
	defer stop()

	start := time.Now()
	if _, err := conn.WriteTo(b, conn.addr(dst)); err != nil {
		return Reply{}, contextError(ctx, &TransportError{Kind: classifySendError(err), Err: err})
	}

	m := matcher{
		dst:      dst,
		id:       id,
		seq:      seq,
		datagram: conn.datagram,
	}
	buf := make([]byte, len(b)+recvOverhead)
	for {
		n, from, err := conn.ReadFrom(buf)
		if err != nil {
			if isTimeout(err) {
				return Reply{}, contextError(ctx, &TransportError{Kind: KindTimeout, Err: errTimeout})
			}
			return Reply{}, contextError(ctx, &TransportError{Kind: KindSend, Err: err})
		}
		rtt := time.Since(start)
		peer := addrFrom(from)

		reply, terr, ok := m.match(buf[:n], peer)
		if !ok {
			continue
		}
		if terr != nil {
			return Reply{}, terr
		}
		reply.RTT = rtt
		logrus.WithFields(logrus.Fields{
			"peer": peer,
			"seq":  seq,
			"rtt":  rtt,
		}).Trace("Echo reply matched")
		return reply, nil
	}
}

func (p *Pinger) resolve(ctx context.Context, target string) (netip.Addr, error) {
	if addr, err := netip.ParseAddr(target); err == nil {
		if !addr.Is4() {
			return netip.Addr{}, fmt.Errorf("%s is not an IPv4 address", target)
		}
		return addr, nil
	}
	if p.Resolver != nil {
		return p.Resolver.Resolve(ctx, target)
	}
	addrs, err := net.DefaultResolver.LookupNetIP(ctx, "ip4", target)
	if err != nil {
		return netip.Addr{}, err
	}
	if len(addrs) == 0 {
		return netip.Addr{}, fmt.Errorf("no IPv4 address for %s", target)
	}
	return addrs[0].Unmap(), nil
}

// contextError replaces err with a timeout or cancellation failure when the
// attempt's context ended first.
func contextError(ctx context.Context, err *TransportError) error {
	switch {
	case errors.Is(ctx.Err(), context.Canceled):
		return &TransportError{Kind: KindCanceled, Err: errCanceled}
	case errors.Is(ctx.Err(), context.DeadlineExceeded) && err.Kind != KindTimeout:
		return &TransportError{Kind: KindTimeout, Err: errTimeout}
	}
	return err
}

func isTimeout(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func addrFrom(a net.Addr) netip.Addr {
	var ip net.IP
	switch v := a.(type) {
	case *net.IPAddr:
		ip = v.IP
	case *net.UDPAddr:
		ip = v.IP
	default:
		return netip.Addr{}
	}
	addr, _ := netip.AddrFromSlice(ip.To4())
	return addr
}

// icmpConn is an ICMP socket together with its TTL option setter.
type icmpConn struct {
	net.PacketConn
	setTTL   func(ttl int) error
	datagram bool
}

func (c *icmpConn) addr(dst netip.Addr) net.Addr {
	if c.datagram {
		return &net.UDPAddr{IP: dst.AsSlice()}
	}
	return &net.IPAddr{IP: dst.AsSlice()}
}
