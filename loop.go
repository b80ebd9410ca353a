package framesock

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

// defaultEventBatch is the number of readiness events fetched per wait.
const defaultEventBatch = 128

// EventLoop dispatches readiness events to connection state machines.
//
// Registrations map a descriptor to its Conn. A nil Conn marks the listening
// socket, whose events go to the accept callback instead.
// All methods except Run's context watcher execute on one goroutine.
type EventLoop struct {
	poller Poller
	logger Logger
	conns  map[int]*Conn
	accept func() error
	events []Event
}

// NewEventLoop creates a loop driving the given poller.
func NewEventLoop(poller Poller, logger Logger) *EventLoop {
	if logger == nil {
		logger = defaultLogger()
	}

	return &EventLoop{
		poller: poller,
		logger: logger,
		conns:  make(map[int]*Conn),
		events: make([]Event, defaultEventBatch),
	}
}

// Register adds c to the multiplexer with its current interest set.
func (l *EventLoop) Register(c *Conn) error {
	if err := l.poller.Add(c.Fd(), c.Interest()); err != nil {
		return err
	}
	l.conns[c.Fd()] = c
	return nil
}

// RegisterListener registers the listening descriptor. accept is called on
// every read readiness and should drain pending connections.
func (l *EventLoop) RegisterListener(fd int, accept func() error) error {
	if err := l.poller.Add(fd, InterestRead); err != nil {
		return err
	}
	l.conns[fd] = nil
	l.accept = accept
	return nil
}

// UnregisterListener stops routing accept events.
func (l *EventLoop) UnregisterListener(fd int) error {
	c, ok := l.conns[fd]
	if !ok || c != nil {
		return nil
	}
	delete(l.conns, fd)
	l.accept = nil
	return l.poller.Delete(fd)
}

// Len returns the number of open connections, excluding the listener.
func (l *EventLoop) Len() int {
	n := 0
	for _, c := range l.conns {
		if c != nil {
			n++
		}
	}
	return n
}

// Poll waits for one batch of events and dispatches it.
func (l *EventLoop) Poll() error {
	n, err := l.poller.Wait(l.events, -1)
	if err != nil {
		return err
	}

	for _, ev := range l.events[:n] {
		l.dispatch(ev)
	}
	return nil
}

// Run polls until done reports true or ctx is canceled. done is evaluated
// before every wait; cancellation wakes a blocked wait.
func (l *EventLoop) Run(ctx context.Context, done func() bool) error {
	group, child := errgroup.WithContext(ctx)
	finished := make(chan struct{})

	group.Go(func() error {
		select {
		case <-child.Done():
			return l.poller.Wake()
		case <-finished:
			return nil
		}
	})

	group.Go(func() error {
		defer close(finished)
		for !done() {
			if err := l.Poll(); err != nil {
				return err
			}
		}
		return nil
	})

	return group.Wait()
}

// CloseAll closes every registered connection.
func (l *EventLoop) CloseAll() {
	for fd, c := range l.conns {
		if c == nil {
			continue
		}
		_ = c.Close()
		delete(l.conns, fd)
	}
}

func (l *EventLoop) dispatch(ev Event) {
	c, ok := l.conns[ev.Fd]
	if !ok {
		// closed earlier in this batch
		return
	}

	if c == nil {
		if l.accept == nil {
			return
		}
		if err := l.accept(); err != nil {
			l.logger.Error("accept error", "error", err)
		}
		return
	}

	l.serve(c, ev)
	if c.IsClosed() {
		delete(l.conns, ev.Fd)
	}
}

// serve runs the connection callbacks for one event. Failures are isolated:
// the connection is logged and closed, the loop keeps going.
func (l *EventLoop) serve(c *Conn, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			l.fail(c, fmt.Errorf("panic: %v", r))
		}
	}()

	if ev.Readable {
		if err := c.OnReadable(); err != nil {
			l.fail(c, err)
			return
		}
	}

	if ev.Writable && !c.IsClosed() {
		if err := c.OnWritable(); err != nil {
			l.fail(c, err)
		}
	}
}

func (l *EventLoop) fail(c *Conn, err error) {
	if errors.Is(err, ErrPeerClosed) {
		l.logger.Debug("peer closed", "conn", c.ID(), "addr", c.Addr(), "state", c.State())
	} else {
		l.logger.Warn("connection error", "conn", c.ID(), "addr", c.Addr(), "error", err)
	}
	_ = c.Close()
}
