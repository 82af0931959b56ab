//go:build !unix

package echo

func classifySendError(err error) Kind {
	return KindSend
}
