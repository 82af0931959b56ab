package echo

import (
	"context"
	"errors"
	"net"
	"net/netip"
	"os"
	"sync"
	"testing"
	"time"

	"golang.org/x/net/icmp"
	"golang.org/x/net/ipv4"
)

// fakeConn answers every echo request through respond.
type fakeConn struct {
	mu       sync.Mutex
	deadline time.Time
	moved    chan struct{} // closed and replaced whenever the deadline changes
	inbox    chan fakePacket
	respond  func(req *icmp.Echo) []fakePacket
	ttl      int
	closed   bool
	writeErr error
}

type fakePacket struct {
	data []byte
	from net.Addr
}

func newFakeConn(respond func(req *icmp.Echo) []fakePacket) *fakeConn {
	return &fakeConn{
		inbox:   make(chan fakePacket, 8),
		moved:   make(chan struct{}),
		respond: respond,
	}
}

func (c *fakeConn) WriteTo(b []byte, addr net.Addr) (int, error) {
	if c.writeErr != nil {
		return 0, c.writeErr
	}
	m, err := icmp.ParseMessage(protocolICMP, b)
	if err != nil {
		return 0, err
	}
	if c.respond != nil {
		for _, p := range c.respond(m.Body.(*icmp.Echo)) {
			c.inbox <- p
		}
	}
	return len(b), nil
}

func (c *fakeConn) ReadFrom(b []byte) (int, net.Addr, error) {
	for {
		c.mu.Lock()
		wait, moved := time.Until(c.deadline), c.moved
		c.mu.Unlock()

		timer := time.NewTimer(wait)
		select {
		case p := <-c.inbox:
			timer.Stop()
			return copy(b, p.data), p.from, nil
		case <-timer.C:
			return 0, nil, os.ErrDeadlineExceeded
		case <-moved:
			timer.Stop()
		}
	}
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConn) LocalAddr() net.Addr { return &net.IPAddr{} }

func (c *fakeConn) SetDeadline(t time.Time) error { return c.SetReadDeadline(t) }

func (c *fakeConn) SetReadDeadline(t time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deadline = t
	close(c.moved)
	c.moved = make(chan struct{})
	return nil
}

func (c *fakeConn) SetWriteDeadline(t time.Time) error { return nil }

func useFakeConn(t *testing.T, c *fakeConn) {
	t.Helper()
	old := listen
	listen = func(privileged, dontFragment bool) (*icmpConn, error) {
		return &icmpConn{
			PacketConn: c,
			setTTL: func(ttl int) error {
				c.ttl = ttl
				return nil
			},
		}, nil
	}
	t.Cleanup(func() { listen = old })
}

func echoReply(t *testing.T, req *icmp.Echo, from netip.Addr) fakePacket {
	return fakePacket{
		data: marshal(t, icmp.Message{
			Type: ipv4.ICMPTypeEchoReply,
			Body: &icmp.Echo{ID: req.ID, Seq: req.Seq, Data: req.Data},
		}),
		from: &net.IPAddr{IP: from.AsSlice()},
	}
}

func TestPinger_Send(t *testing.T) {
	var got *icmp.Echo
	c := newFakeConn(func(req *icmp.Echo) []fakePacket {
		got = req
		noise := &icmp.Echo{ID: req.ID + 1, Seq: req.Seq, Data: req.Data}
		return []fakePacket{echoReply(t, noise, testDst), echoReply(t, req, testDst)}
	})
	useFakeConn(t, c)

	p := NewPinger(true, nil)
	reply, err := p.Send(context.Background(), Request{
		Target:  testDst.String(),
		Timeout: time.Second,
		Payload: []byte("PAYLOAD"),
		TTL:     64,
		Seq:     3,
	})
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if reply.Peer != testDst {
		t.Errorf("Send() peer = %v, want %v", reply.Peer, testDst)
	}
	if reply.RTT <= 0 || reply.RTT > time.Second {
		t.Errorf("Send() rtt = %v, want within (0, 1s]", reply.RTT)
	}
	if got == nil || got.Seq != 3 || string(got.Data) != "PAYLOAD" {
		t.Errorf("request on the wire = %+v, want seq 3 with payload", got)
	}
	if c.ttl != 64 {
		t.Errorf("ttl = %d, want 64", c.ttl)
	}
	if !c.closed {
		t.Error("socket was not closed")
	}
}

func TestPinger_Send_Timeout(t *testing.T) {
	useFakeConn(t, newFakeConn(nil))

	p := NewPinger(true, nil)
	start := time.Now()
	_, err := p.Send(context.Background(), Request{
		Target:  testDst.String(),
		Timeout: 50 * time.Millisecond,
		TTL:     64,
	})
	var te *TransportError
	if !errors.As(err, &te) || te.Kind != KindTimeout {
		t.Fatalf("Send() error = %v, want timeout transport error", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Send() took %v, want bounded by the timeout", elapsed)
	}
}

func TestPinger_Send_Canceled(t *testing.T) {
	useFakeConn(t, newFakeConn(nil))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewPinger(true, nil).Send(ctx, Request{
		Target:  testDst.String(),
		Timeout: 50 * time.Millisecond,
		TTL:     64,
	})
	var te *TransportError
	if !errors.As(err, &te) || te.Kind != KindCanceled {
		t.Fatalf("Send() error = %v, want canceled transport error", err)
	}
}

func TestPinger_Send_CanceledWhileWaiting(t *testing.T) {
	useFakeConn(t, newFakeConn(nil))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	time.AfterFunc(20*time.Millisecond, cancel)

	start := time.Now()
	_, err := NewPinger(true, nil).Send(ctx, Request{
		Target:  testDst.String(),
		Timeout: 10 * time.Second,
		TTL:     64,
	})
	var te *TransportError
	if !errors.As(err, &te) || te.Kind != KindCanceled {
		t.Fatalf("Send() error = %v, want canceled transport error", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("Send() took %v after cancel, want the read to unblock promptly", elapsed)
	}
}

func TestPinger_Send_TTLExceeded(t *testing.T) {
	c := newFakeConn(func(req *icmp.Echo) []fakePacket {
		return []fakePacket{{
			data: marshal(t, icmp.Message{
				Type: ipv4.ICMPTypeTimeExceeded,
				Body: &icmp.TimeExceeded{Data: quotedRequest(t, testDst, req.ID, req.Seq)},
			}),
			from: &net.IPAddr{IP: testRouter.AsSlice()},
		}}
	})
	useFakeConn(t, c)

	_, err := NewPinger(true, nil).Send(context.Background(), Request{
		Target:  testDst.String(),
		Timeout: time.Second,
		TTL:     1,
	})
	var te *TransportError
	if !errors.As(err, &te) || te.Kind != KindTTLExceeded || te.Peer != testRouter {
		t.Fatalf("Send() error = %v, want ttl-exceeded from %v", err, testRouter)
	}
}

type failingResolver struct{}

func (failingResolver) Resolve(ctx context.Context, host string) (netip.Addr, error) {
	return netip.Addr{}, errors.New("no such host")
}

func TestPinger_Send_ResolveFailure(t *testing.T) {
	useFakeConn(t, newFakeConn(nil))

	_, err := NewPinger(true, failingResolver{}).Send(context.Background(), Request{
		Target:  "nonexistent.invalid",
		Timeout: time.Second,
		TTL:     64,
	})
	var te *TransportError
	if !errors.As(err, &te) || te.Kind != KindResolve {
		t.Fatalf("Send() error = %v, want resolve transport error", err)
	}
}

func TestPinger_Send_InvalidRequest(t *testing.T) {
	tests := []struct {
		name string
		req  Request
	}{
		{"zero timeout", Request{Target: "192.0.2.1", TTL: 64}},
		{"ttl zero", Request{Target: "192.0.2.1", Timeout: time.Second, TTL: 0}},
		{"ttl too large", Request{Target: "192.0.2.1", Timeout: time.Second, TTL: 256}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewPinger(true, nil).Send(context.Background(), tt.req)
			if err == nil {
				t.Fatal("Send() error = nil, want error")
			}
			if IsTransport(err) {
				t.Errorf("Send() error = %v is a transport error, want a fatal one", err)
			}
		})
	}
}

func TestPinger_Send_ListenFailureIsFatal(t *testing.T) {
	old := listen
	listen = func(privileged, dontFragment bool) (*icmpConn, error) {
		return nil, ErrDFNotSupported
	}
	defer func() { listen = old }()

	_, err := NewPinger(true, nil).Send(context.Background(), Request{
		Target:       "192.0.2.1",
		Timeout:      time.Second,
		TTL:          64,
		DontFragment: true,
	})
	if !errors.Is(err, ErrDFNotSupported) || IsTransport(err) {
		t.Fatalf("Send() error = %v, want fatal ErrDFNotSupported", err)
	}
}

func TestKind_String(t *testing.T) {
	tests := []struct {
		kind Kind
		want string
	}{
		{KindTimeout, "timeout"},
		{KindUnreachable, "unreachable"},
		{KindTTLExceeded, "ttl-exceeded"},
		{KindResolve, "resolve"},
		{KindPacketTooBig, "packet-too-big"},
		{KindSend, "send"},
		{KindCanceled, "canceled"},
		{Kind(0), "unknown"},
	}

	for _, tt := range tests {
		if got := tt.kind.String(); got != tt.want {
			t.Errorf("Kind(%d).String() = %q, want %q", tt.kind, got, tt.want)
		}
	}
}
