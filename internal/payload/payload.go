// Package payload fills ICMP echo requests with printable filler data.
package payload

import "math/rand/v2"

// Alphabet is the set of symbols a generated payload is drawn from.
const Alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// Generate returns n bytes drawn uniformly from Alphabet. Safe for concurrent use.
func Generate(n int) []byte {
	if n <= 0 {
		return []byte{}
	}
	b := make([]byte, n)
	for i := range b {
		b[i] = Alphabet[rand.IntN(len(Alphabet))]
	}
	return b
}
