package wsmedia

import (
	"errors"
	"fmt"
)

var (
	// ErrDecode marks a malformed inbound frame. Such frames are dropped.
	ErrDecode = errors.New("wsmedia: malformed frame")
	// ErrTransport marks a connect, send or receive failure. It ends the session.
	ErrTransport = errors.New("wsmedia: transport failure")
	// ErrTruncated is returned by Read when the stream ends before the declared length.
	ErrTruncated = errors.New("wsmedia: stream truncated")
	// ErrBarrierTimeout is returned by Open when no media arrives in time.
	ErrBarrierTimeout = errors.New("wsmedia: timed out waiting for first media fragment")
	// ErrStreamEnded is wrapped in the TransportError returned by Open when the
	// server closes the stream before sending any video.
	ErrStreamEnded = errors.New("wsmedia: stream ended before first media fragment")
	// ErrSessionClosed is returned by operations on a closed source.
	ErrSessionClosed = errors.New("wsmedia: session closed")
	// ErrAlreadyOpen is returned by Open on a source that was already opened.
	ErrAlreadyOpen = errors.New("wsmedia: source already opened")
	// ErrMetadataTooLarge is returned by EncodeFrame for metadata the length prefix cannot carry.
	ErrMetadataTooLarge = errors.New("wsmedia: frame metadata too large")
)

// DecodeError describes why an inbound frame could not be decoded.
type DecodeError struct {
	Reason string
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("decode frame: %s: %v", e.Reason, e.Err)
	}
	return "decode frame: " + e.Reason
}

func (e *DecodeError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrDecode, e.Err}
	}
	return []error{ErrDecode}
}

func decodeErrorf(format string, args ...any) *DecodeError {
	return &DecodeError{Reason: fmt.Sprintf(format, args...)}
}

// TransportError wraps a websocket failure together with the operation that hit it.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() []error {
	return []error{ErrTransport, e.Err}
}
