package core

import "errors"

var (
	ErrBackpressure = errors.New("backpressure")
	ErrClosed       = errors.New("connection closed")
)

// Frame is one serialized signaling envelope.
type Frame []byte

// SignalConnection abstracts a relay-side messaging transport.
// Owned by the adapter; the adapter must Close() it.
type SignalConnection interface {
	// TrySend queues f without blocking. It returns ErrBackpressure when
	// the queue is full and ErrClosed after Close.
	TrySend(Frame) error
	Close()
}
