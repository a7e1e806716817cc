package broker

import "errors"

var (
	// ErrNotFound means the sender or the target has no live registration
	ErrNotFound = errors.New("session not found")
	// ErrDeliveryFailed means a required push did not complete
	ErrDeliveryFailed = errors.New("delivery failed")
	// ErrUnavailable means the broker or its registry is not initialized
	ErrUnavailable = errors.New("delivery core unavailable")
	// ErrStreamClosed is returned by Stream.Next once the stream is closed
	ErrStreamClosed = errors.New("stream closed")
)
