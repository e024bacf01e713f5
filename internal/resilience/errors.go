package resilience

import (
	"context"
	"errors"
	"io"
	"net"
	"os"
	"syscall"
)

// ErrTransient marks a failure that is worth retrying.
// Transport packages wrap their connection sentinels with it so callers can
// classify errors without importing every transport.
var ErrTransient = errors.New("transient failure")

// IsTransient reports whether err is a network-class failure: a timeout, a
// reset or refused connection, a closed socket, or any error wrapping
// ErrTransient. Context cancellation is not transient.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, ErrTransient) {
		return true
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, os.ErrDeadlineExceeded),
		errors.Is(err, io.EOF),
		errors.Is(err, io.ErrUnexpectedEOF),
		errors.Is(err, io.ErrClosedPipe),
		errors.Is(err, net.ErrClosed),
		errors.Is(err, syscall.ECONNREFUSED),
		errors.Is(err, syscall.ECONNRESET),
		errors.Is(err, syscall.ECONNABORTED),
		errors.Is(err, syscall.EPIPE),
		errors.Is(err, syscall.ETIMEDOUT),
		errors.Is(err, syscall.EHOSTUNREACH),
		errors.Is(err, syscall.ENETUNREACH):
		return true
	}

	var netErr net.Error
	return errors.As(err, &netErr)
}
