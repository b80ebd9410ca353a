package framesock

import (
	"net"

	"github.com/pkg/errors"
)

// ErrWouldBlock is returned by non-blocking socket operations that are not ready.
// It is a wait signal, not a failure.
var ErrWouldBlock = errors.New("operation would block")

// Socket is a non-blocking stream socket driven by readiness events.
type Socket interface {
	// Fd returns the descriptor registered with the multiplexer.
	Fd() int
	// Read reads available bytes. It returns io.EOF once the peer has closed
	// and ErrWouldBlock when no bytes are available.
	Read(p []byte) (int, error)
	// Write writes as many bytes as the socket accepts.
	// It returns ErrWouldBlock when the send buffer is full.
	Write(p []byte) (int, error)
	// RemoteAddr returns the peer address.
	RemoteAddr() net.Addr
	// Close releases the descriptor. Safe to call multiple times.
	Close() error
}
