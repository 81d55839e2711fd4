package transport

import (
	"errors"
	"fmt"
)

var (
	// ErrProtocol is returned when the peer sends bytes the Scanner rejects.
	// It is fatal to the connection.
	ErrProtocol = errors.New("transport: protocol error")

	// ErrTruncated is returned when the stream ends in the middle of a frame.
	ErrTruncated = fmt.Errorf("transport: stream ended mid-frame: %w", ErrProtocol)

	// ErrNoProgress is returned when a Scanner reports a zero length frame.
	ErrNoProgress = fmt.Errorf("transport: scanner completed a frame without consuming data: %w", ErrProtocol)

	// ErrFrameTooLarge is returned when a frame would outgrow the stream's
	// MaxFrameSize.
	ErrFrameTooLarge = fmt.Errorf("transport: frame too large: %w", ErrProtocol)

	// ErrLockTimeout is returned when a synchronised transport cannot be
	// acquired in time. Nothing has been sent.
	ErrLockTimeout = errors.New("transport: timed out waiting for the connection")

	// ErrClosed is returned by a stream that has been closed.
	ErrClosed = errors.New("transport: stream closed")
)

// ConnError is a failure of the underlying connection while exchanging a
// request. Sent reports whether any part of the request may have reached
// the peer.
type ConnError struct {
	Op   string
	Sent bool
	Err  error
}

func (e *ConnError) Error() string {
	return fmt.Sprintf("transport: %s failed: %v", e.Op, e.Err)
}

func (e *ConnError) Unwrap() error {
	return e.Err
}

// IsConnError reports whether err is a connection failure, returning it.
func IsConnError(err error) (*ConnError, bool) {
	var ce *ConnError
	if errors.As(err, &ce) {
		return ce, true
	}

	return nil, false
}
