package echo

import (
	"net"
	"net/netip"
	"testing"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"golang.org/x/net/icmp"
	"golang.org/x/net/ipv4"
)

var (
	testSrc    = netip.MustParseAddr("192.0.2.10")
	testDst    = netip.MustParseAddr("203.0.113.5")
	testRouter = netip.MustParseAddr("198.51.100.1")
)

// quotedRequest builds what a router quotes back: the IPv4 header of our echo
// request and the first eight bytes of its ICMP message.
func quotedRequest(t *testing.T, dst netip.Addr, id, seq int) []byte {
	t.Helper()
	ip4 := &layers.IPv4{
		Version:  4,
		IHL:      5,
		TTL:      1,
		Protocol: layers.IPProtocolICMPv4,
		SrcIP:    net.IP(testSrc.AsSlice()),
		DstIP:    net.IP(dst.AsSlice()),
	}
	icmp4 := &layers.ICMPv4{
		TypeCode: layers.CreateICMPv4TypeCode(layers.ICMPv4TypeEchoRequest, 0),
		Id:       uint16(id),
		Seq:      uint16(seq),
	}
	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	if err := gopacket.SerializeLayers(buf, opts, ip4, icmp4, gopacket.Payload([]byte("ABCDEFGHIJKLMNOP"))); err != nil {
		t.Fatalf("SerializeLayers() error = %v", err)
	}
	return buf.Bytes()[:ipv4.HeaderLen+8]
}

func marshal(t *testing.T, m icmp.Message) []byte {
	t.Helper()
	b, err := m.Marshal(nil)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	return b
}

func TestQuotedEcho(t *testing.T) {
	id, seq, dst, ok := quotedEcho(quotedRequest(t, testDst, 0x1234, 7))
	if !ok {
		t.Fatal("quotedEcho() ok = false, want true")
	}
	if id != 0x1234 || seq != 7 || dst != testDst {
		t.Errorf("quotedEcho() = (%#x, %d, %v), want (0x1234, 7, %v)", id, seq, dst, testDst)
	}

	if _, _, _, ok := quotedEcho([]byte{0x45, 0x00}); ok {
		t.Error("quotedEcho() on truncated header ok = true, want false")
	}
}

func TestMatcher_Match(t *testing.T) {
	m := matcher{dst: testDst, id: 0x1234, seq: 7}

	tests := []struct {
		name     string
		data     []byte
		peer     netip.Addr
		datagram bool
		wantOK   bool
		wantKind Kind // zero for a successful reply
	}{
		{
			name: "matching echo reply",
			data: marshal(t, icmp.Message{
				Type: ipv4.ICMPTypeEchoReply,
				Body: &icmp.Echo{ID: 0x1234, Seq: 7, Data: []byte("ABC")},
			}),
			peer:   testDst,
			wantOK: true,
		},
		{
			name: "reply with foreign id",
			data: marshal(t, icmp.Message{
				Type: ipv4.ICMPTypeEchoReply,
				Body: &icmp.Echo{ID: 0x9999, Seq: 7},
			}),
			peer:   testDst,
			wantOK: false,
		},
		{
			name: "foreign id accepted on datagram socket",
			data: marshal(t, icmp.Message{
				Type: ipv4.ICMPTypeEchoReply,
				Body: &icmp.Echo{ID: 0x9999, Seq: 7},
			}),
			peer:     testDst,
			datagram: true,
			wantOK:   true,
		},
		{
			name: "reply with wrong sequence",
			data: marshal(t, icmp.Message{
				Type: ipv4.ICMPTypeEchoReply,
				Body: &icmp.Echo{ID: 0x1234, Seq: 8},
			}),
			peer:   testDst,
			wantOK: false,
		},
		{
			name: "reply from another host",
			data: marshal(t, icmp.Message{
				Type: ipv4.ICMPTypeEchoReply,
				Body: &icmp.Echo{ID: 0x1234, Seq: 7},
			}),
			peer:   testRouter,
			wantOK: false,
		},
		{
			name: "own echo request looped back",
			data: marshal(t, icmp.Message{
				Type: ipv4.ICMPTypeEcho,
				Body: &icmp.Echo{ID: 0x1234, Seq: 7},
			}),
			peer:   testDst,
			wantOK: false,
		},
		{
			name: "time exceeded quoting our request",
			data: marshal(t, icmp.Message{
				Type: ipv4.ICMPTypeTimeExceeded,
				Body: &icmp.TimeExceeded{Data: quotedRequest(t, testDst, 0x1234, 7)},
			}),
			peer:     testRouter,
			wantOK:   true,
			wantKind: KindTTLExceeded,
		},
		{
			name: "host unreachable quoting our request",
			data: marshal(t, icmp.Message{
				Type: ipv4.ICMPTypeDestinationUnreachable,
				Code: 1,
				Body: &icmp.DstUnreach{Data: quotedRequest(t, testDst, 0x1234, 7)},
			}),
			peer:     testRouter,
			wantOK:   true,
			wantKind: KindUnreachable,
		},
		{
			name: "fragmentation needed quoting our request",
			data: marshal(t, icmp.Message{
				Type: ipv4.ICMPTypeDestinationUnreachable,
				Code: codeFragmentationNeeded,
				Body: &icmp.DstUnreach{Data: quotedRequest(t, testDst, 0x1234, 7)},
			}),
			peer:     testRouter,
			wantOK:   true,
			wantKind: KindPacketTooBig,
		},
		{
			name: "time exceeded for someone else's request",
			data: marshal(t, icmp.Message{
				Type: ipv4.ICMPTypeTimeExceeded,
				Body: &icmp.TimeExceeded{Data: quotedRequest(t, testDst, 0x4321, 7)},
			}),
			peer:   testRouter,
			wantOK: false,
		},
		{
			name: "time exceeded for another destination",
			data: marshal(t, icmp.Message{
				Type: ipv4.ICMPTypeTimeExceeded,
				Body: &icmp.TimeExceeded{Data: quotedRequest(t, testRouter, 0x1234, 7)},
			}),
			peer:   testRouter,
			wantOK: false,
		},
		{
			name:   "garbage",
			data:   []byte{0xff},
			peer:   testDst,
			wantOK: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mm := m
			mm.datagram = tt.datagram
			reply, terr, ok := mm.match(tt.data, tt.peer)
			if ok != tt.wantOK {
				t.Fatalf("match() ok = %v, want %v", ok, tt.wantOK)
			}
			if !ok {
				return
			}
			if tt.wantKind == 0 {
				if terr != nil {
					t.Fatalf("match() error = %v, want reply", terr)
				}
				if reply.Peer != tt.peer || reply.Bytes != len(tt.data) {
					t.Errorf("match() reply = %+v, want peer %v and %d bytes", reply, tt.peer, len(tt.data))
				}
				return
			}
			if terr == nil {
				t.Fatalf("match() error = nil, want %v", tt.wantKind)
			}
			if terr.Kind != tt.wantKind {
				t.Errorf("match() kind = %v, want %v", terr.Kind, tt.wantKind)
			}
			if terr.Peer != tt.peer {
				t.Errorf("match() peer = %v, want %v", terr.Peer, tt.peer)
			}
		})
	}
}
