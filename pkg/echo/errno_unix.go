//go:build unix

package echo

import (
	"errors"

	"golang.org/x/sys/unix"
)

// classifySendError maps a failed sendto to a transport failure kind.
func classifySendError(err error) Kind {
	switch {
	case errors.Is(err, unix.EMSGSIZE):
		return KindPacketTooBig
	case errors.Is(err, unix.ENETUNREACH), errors.Is(err, unix.EHOSTUNREACH), errors.Is(err, unix.EHOSTDOWN):
		return KindUnreachable
	}
	return KindSend
}
