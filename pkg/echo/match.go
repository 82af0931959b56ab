package echo

import (
	"fmt"
	"net/netip"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"golang.org/x/net/icmp"
	"golang.org/x/net/ipv4"
)

// ICMPv4 destination unreachable code for "fragmentation needed and DF set"
const codeFragmentationNeeded = 4

// matcher recognises the messages that belong to one outstanding request.
type matcher struct {
	dst      netip.Addr
	id       int
	seq      int
	datagram bool // datagram sockets have their echo ID rewritten by the kernel
}

// match inspects a received ICMP message. ok is false for traffic that belongs
// to somebody else. When ok is true either the reply or the transport error
// describes the outcome of the attempt.
func (m matcher) match(data []byte, peer netip.Addr) (reply Reply, terr *TransportError, ok bool) {
	msg, err := icmp.ParseMessage(protocolICMP, data)
	if err != nil {
		return Reply{}, nil, false
	}

	switch msg.Type {
	case ipv4.ICMPTypeEchoReply:
		e, isEcho := msg.Body.(*icmp.Echo)
		if !isEcho || e.Seq != m.seq {
			return Reply{}, nil, false
		}
		if !m.datagram && (e.ID != m.id || peer != m.dst) {
			return Reply{}, nil, false
		}
		return Reply{Peer: peer, Bytes: len(data)}, nil, true

	case ipv4.ICMPTypeDestinationUnreachable:
		body, isUnreach := msg.Body.(*icmp.DstUnreach)
		if !isUnreach || !m.quotes(body.Data) {
			return Reply{}, nil, false
		}
		kind := KindUnreachable
		if msg.Code == codeFragmentationNeeded {
			kind = KindPacketTooBig
		}
		return Reply{}, &TransportError{
			Kind: kind,
			Peer: peer,
			Err:  fmt.Errorf("destination unreachable (code %d)", msg.Code),
		}, true

	case ipv4.ICMPTypeTimeExceeded:
		body, isExceeded := msg.Body.(*icmp.TimeExceeded)
		if !isExceeded || !m.quotes(body.Data) {
			return Reply{}, nil, false
		}
		return Reply{}, &TransportError{
			Kind: KindTTLExceeded,
			Peer: peer,
			Err:  fmt.Errorf("time exceeded in transit (code %d)", msg.Code),
		}, true
	}

	return Reply{}, nil, false
}

// quotes reports whether the datagram quoted in an ICMP error is our request.
func (m matcher) quotes(data []byte) bool {
	id, seq, dst, ok := quotedEcho(data)
	if !ok || dst != m.dst || seq != m.seq {
		return false
	}
	return m.datagram || id == m.id
}

// quotedEcho decodes the IPv4 header and the first eight bytes of the echo
// request that a router quotes back in an ICMP error message.
func quotedEcho(data []byte) (id, seq int, dst netip.Addr, ok bool) {
	packet := gopacket.NewPacket(data, layers.LayerTypeIPv4, gopacket.Default)

	ip4, _ := packet.Layer(layers.LayerTypeIPv4).(*layers.IPv4)
	if ip4 == nil || ip4.Protocol != layers.IPProtocolICMPv4 {
		return 0, 0, netip.Addr{}, false
	}
	icmp4, _ := packet.Layer(layers.LayerTypeICMPv4).(*layers.ICMPv4)
	if icmp4 == nil || icmp4.TypeCode.Type() != layers.ICMPv4TypeEchoRequest {
		return 0, 0, netip.Addr{}, false
	}
	dst, ok = netip.AddrFromSlice(ip4.DstIP.To4())
	if !ok {
		return 0, 0, netip.Addr{}, false
	}
	return int(icmp4.Id), int(icmp4.Seq), dst, true
}
