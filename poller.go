package framesock

import (
	"time"

	"github.com/pkg/errors"
)

// ErrUnsupportedPlatform is returned by NewPoller where no readiness API is wired.
var ErrUnsupportedPlatform = errors.New("readiness multiplexer not supported on this platform")

// Interest is the set of readiness notifications a socket is registered for.
type Interest uint8

const (
	// InterestRead asks to be notified when the socket has bytes to read.
	InterestRead Interest = iota + 1
	// InterestWrite asks to be notified when the socket accepts writes.
	InterestWrite
	// InterestReadWrite asks for both notifications.
	InterestReadWrite
)

func (i Interest) String() string {
	switch i {
	case InterestRead:
		return "r"
	case InterestWrite:
		return "w"
	case InterestReadWrite:
		return "rw"
	default:
		return "invalid"
	}
}

// Readable reports whether i includes read readiness.
func (i Interest) Readable() bool {
	return i == InterestRead || i == InterestReadWrite
}

// Writable reports whether i includes write readiness.
func (i Interest) Writable() bool {
	return i == InterestWrite || i == InterestReadWrite
}

// Event is one readiness notification.
// Hangups and socket errors are reported as Readable so the next read surfaces them.
type Event struct {
	Fd       int
	Readable bool
	Writable bool
}

// Registrar is the part of a Poller a connection uses to manage its own registration.
type Registrar interface {
	// Modify replaces the interest set of a registered fd.
	Modify(fd int, interest Interest) error
	// Delete removes fd from the multiplexer.
	Delete(fd int) error
}

// Poller is a readiness multiplexer.
type Poller interface {
	Registrar

	// Add registers fd with the given interest set.
	Add(fd int, interest Interest) error
	// Wait blocks until at least one event is ready, the timeout expires, or Wake is called.
	// A negative timeout waits indefinitely.
	Wait(events []Event, timeout time.Duration) (int, error)
	// Wake interrupts a blocked Wait. Safe to call from any goroutine.
	Wake() error
	// Close releases the multiplexer.
	Close() error
}
