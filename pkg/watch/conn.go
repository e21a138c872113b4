package watch

import (
	"errors"
	"time"
)

// ErrDisconnected is returned by a Conn once the peer has gone away. The
// session treats it as a normal end of the watch, never as a fault.
var ErrDisconnected = errors.New("peer disconnected")

// Conn is the duplex connection a session owns.
type Conn interface {
	// Receive reads the next message from the peer. A zero deadline waits
	// indefinitely. Only the handshake is read this way.
	Receive(deadline time.Time) ([]byte, error)
	// Send writes v as a JSON message.
	Send(v interface{}) error
	// Close asks the peer to close with code and reason.
	Close(code int, reason string) error
	// Disconnected is closed once the peer has gone away. It must only be
	// requested after the handshake has been received.
	Disconnected() <-chan struct{}
}
