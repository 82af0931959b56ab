package config

import (
	"net/netip"
	"strconv"
	"strings"
)

const maxHostnameLen = 253

// ValidateAddress accepts an IPv4 dotted quad or a DNS hostname.
func ValidateAddress(addr string) error {
	if isNumeric(addr) {
		if _, ok := parseDottedQuad(addr); !ok {
			return &ConfigurationError{Field: "address", Reason: "is not a valid IPv4 address: " + addr}
		}
		return nil
	}
	if !isHostname(addr) {
		return &ConfigurationError{Field: "address", Reason: "is neither an IPv4 address nor a hostname: " + addr}
	}
	return nil
}

// isNumeric reports whether s holds only digits and dots.
func isNumeric(s string) bool {
	return strings.Trim(s, "0123456789.") == ""
}

// CanonicalAddress rewrites a dotted quad with leading zeros ("010.0.0.1")
// into its decimal form ("10.0.0.1"). Anything else is returned unchanged.
func CanonicalAddress(addr string) string {
	if !isNumeric(addr) {
		return addr
	}
	if a, ok := parseDottedQuad(addr); ok {
		return a.String()
	}
	return addr
}

// parseDottedQuad reads each octet as decimal, leading zeros included.
func parseDottedQuad(s string) (netip.Addr, bool) {
	parts := strings.Split(s, ".")
	if len(parts) != 4 {
		return netip.Addr{}, false
	}
	var octets [4]byte
	for i, p := range parts {
		if p == "" {
			return netip.Addr{}, false
		}
		v, err := strconv.ParseUint(p, 10, 8)
		if err != nil {
			return netip.Addr{}, false
		}
		octets[i] = byte(v)
	}
	return netip.AddrFrom4(octets), true
}

func isHostname(s string) bool {
	s = strings.TrimSuffix(s, ".")
	if s == "" || len(s) > maxHostnameLen {
		return false
	}
	labels := strings.Split(s, ".")
	for _, l := range labels {
		if !isLabel(l) {
			return false
		}
	}
	// A numeric top-level label would be mistaken for an address.
	return !isNumeric(labels[len(labels)-1])
}

func isLabel(l string) bool {
	if len(l) == 0 || len(l) > 63 || l[0] == '-' || l[len(l)-1] == '-' {
		return false
	}
	for i := 0; i < len(l); i++ {
		c := l[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '-':
		default:
			return false
		}
	}
	return true
}
