// Package echo sends single ICMPv4 echo requests and waits for the matching
// reply. Every network-level failure is reported as a *TransportError so that
// callers can tell an unreachable host apart from a broken local setup.
package echo

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"time"
)

// ErrDFNotSupported is returned when the platform cannot set the
// do-not-fragment bit on an ICMP socket.
var ErrDFNotSupported = errors.New("setting do-not-fragment bit is not supported on this platform")

// Request describes one echo attempt.
type Request struct {
	Target       string // IPv4 literal or hostname
	Timeout      time.Duration
	Payload      []byte
	TTL          int
	DontFragment bool
	Seq          int // ICMP sequence number, truncated to 16 bits
}

// Reply is a matched echo reply.
type Reply struct {
	RTT   time.Duration
	Peer  netip.Addr
	Bytes int // size of the ICMP message received
}

// Sender sends one echo request and waits for its reply.
type Sender interface {
	Send(ctx context.Context, req Request) (Reply, error)
}

// Resolver turns a target into an IPv4 address.
type Resolver interface {
	Resolve(ctx context.Context, host string) (netip.Addr, error)
}

// Kind classifies a transport failure.
type Kind int

const (
	KindTimeout Kind = iota + 1
	KindUnreachable
	KindTTLExceeded
	KindResolve
	KindPacketTooBig
	KindSend
	KindCanceled
)

func (k Kind) String() string {
	switch k {
	case KindTimeout:
		return "timeout"
	case KindUnreachable:
		return "unreachable"
	case KindTTLExceeded:
		return "ttl-exceeded"
	case KindResolve:
		return "resolve"
	case KindPacketTooBig:
		return "packet-too-big"
	case KindSend:
		return "send"
	case KindCanceled:
		return "canceled"
	default:
		return "unknown"
	}
}

// MarshalText lets Kind be used as a JSON value and map key.
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// TransportError is a per-attempt network failure. It never indicates a
// problem with the caller's configuration.
type TransportError struct {
	Kind Kind
	Peer netip.Addr // router or host that reported the error, if any
	Err  error
}

func (e *TransportError) Error() string {
	if e.Peer.IsValid() {
		return fmt.Sprintf("%s from %s: %v", e.Kind, e.Peer, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// IsTransport reports whether err is a per-attempt transport failure.
func IsTransport(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}
