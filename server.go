package framesock

import (
	"context"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// Server accepts connections on a non-blocking listening socket and serves
// them from a single event loop goroutine.
type Server struct {
	listener        *listener
	poller          Poller
	logger          Logger
	shutdownTimeout time.Duration
	connOpts        []Option

	mu        sync.Mutex
	shutdown  bool
	serving   bool
	closeOnce sync.Once
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// ServerLoggerOption sets the logger for the server.
// Connections inherit it unless ServerConnOption supplies LoggerOption.
func ServerLoggerOption(logger Logger) ServerOption {
	return func(s *Server) {
		s.logger = logger
	}
}

// ServerShutdownTimeoutOption sets the graceful shutdown timeout.
// When the context is canceled, the server stops accepting and keeps serving
// open connections for up to this duration. Default is 0 (immediate shutdown).
func ServerShutdownTimeoutOption(timeout time.Duration) ServerOption {
	return func(s *Server) {
		s.shutdownTimeout = timeout
	}
}

// ServerConnOption sets options applied to every accepted connection.
func ServerConnOption(opts ...Option) ServerOption {
	return func(s *Server) {
		s.connOpts = append(s.connOpts, opts...)
	}
}

// New creates a new TCP server bound to the specified address.
// Returns an error if the address cannot be bound.
func New(addr *net.TCPAddr, opts ...ServerOption) (*Server, error) {
	poller, err := NewPoller()
	if err != nil {
		return nil, err
	}

	l, err := listenTCP(addr)
	if err != nil {
		_ = poller.Close()
		return nil, err
	}

	s := &Server{
		listener: l,
		poller:   poller,
		logger:   slog.Default(),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s, nil
}

// Serve accepts connections and answers each one's request with handler.
// It blocks until the context is canceled or Close is called.
// With ServerShutdownTimeoutOption, open connections keep being served after
// cancellation until they finish or the timeout expires.
func (s *Server) Serve(ctx context.Context, handler Handler) error {
	if handler == nil {
		return ErrInvalidHandler
	}

	s.mu.Lock()
	if s.shutdown {
		s.mu.Unlock()
		return ErrServerClosed
	}
	s.serving = true
	s.mu.Unlock()

	loop := NewEventLoop(s.poller, s.logger)
	defer s.release(loop)

	opts := make([]Option, 0, len(s.connOpts)+2)
	opts = append(opts, LoggerOption(s.logger))
	opts = append(opts, s.connOpts...)
	opts = append(opts, HandlerOption(handler))

	if err := loop.RegisterListener(s.listener.fd, s.acceptAll(loop, opts)); err != nil {
		return err
	}

	s.logger.Info("server started", "addr", s.Addr())

	draining := false
	var deadline time.Time

	done := func() bool {
		if s.isShutdown() {
			return true
		}
		if ctx.Err() == nil {
			return false
		}

		if !draining {
			draining = true
			_ = loop.UnregisterListener(s.listener.fd)
			if s.shutdownTimeout <= 0 {
				return true
			}
			s.logger.Info("graceful shutdown initiated", "timeout", s.shutdownTimeout, "open", loop.Len())
			deadline = time.Now().Add(s.shutdownTimeout)
			time.AfterFunc(s.shutdownTimeout, func() { _ = s.wake() })
		}

		return loop.Len() == 0 || !time.Now().Before(deadline)
	}

	if err := loop.Run(ctx, done); err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Error("event loop error", "error", err)
		return err
	}

	s.logger.Info("server stopped", "addr", s.Addr())
	return ctx.Err()
}

// ErrServerClosed is returned by Serve after Close.
var ErrServerClosed = errors.New("server closed")

// acceptAll drains the accept queue, wrapping each socket in a server Conn.
func (s *Server) acceptAll(loop *EventLoop, opts []Option) func() error {
	return func() error {
		for {
			sock, err := s.listener.accept()
			if errors.Is(err, ErrWouldBlock) {
				return nil
			}
			if err != nil {
				return err
			}

			conn, err := NewServerConn(sock, s.poller, opts...)
			if err != nil {
				_ = sock.Close()
				return err
			}

			if err = loop.Register(conn); err != nil {
				s.logger.Warn("register connection failed", "addr", sock.RemoteAddr(), "error", err)
				_ = sock.Close()
				continue
			}

			s.logger.Debug("accepted connection", "conn", conn.ID(), "remote_addr", conn.Addr())
		}
	}
}

func (s *Server) isShutdown() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.shutdown
}

// release closes every connection, the listener and the poller once Serve exits.
func (s *Server) release(loop *EventLoop) {
	loop.CloseAll()

	s.mu.Lock()
	s.serving = false
	s.mu.Unlock()

	s.closeResources()
}

func (s *Server) closeResources() {
	s.closeOnce.Do(func() {
		if err := s.listener.Close(); err != nil {
			s.logger.Warn("close listener", "error", err)
		}
		if err := s.poller.Close(); err != nil {
			s.logger.Warn("close poller", "error", err)
		}
	})
}

// Close stops the server immediately, bypassing any shutdown timeout.
// A running Serve closes its connections and returns.
func (s *Server) Close() error {
	s.mu.Lock()
	s.shutdown = true
	serving := s.serving
	s.mu.Unlock()

	if serving {
		return s.wake()
	}

	s.closeResources()
	return nil
}

// wake interrupts the event loop if Serve is still running.
func (s *Server) wake() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.serving {
		return nil
	}
	return s.poller.Wake()
}

// Addr returns the listener's network address.
func (s *Server) Addr() net.Addr {
	return s.listener.addr
}
