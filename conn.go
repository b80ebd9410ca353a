// Package framesock implements a length-prefixed, self-describing message
// protocol over non-blocking TCP sockets multiplexed by a single-threaded
// readiness loop.
//
// Every frame is a 2-byte big-endian header length, a JSON header and a payload.
// A connection carries one request and one response. The same per-connection
// state machine (Conn) drives both the server and the client role.
package framesock

import (
	"fmt"
	"io"
	"net"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// Errors returned by connection operations.
var (
	// ErrInvalidHandler is returned when a server connection has no request handler.
	ErrInvalidHandler = errors.New("invalid request handler")
	// ErrInvalidRegistrar is returned when no multiplexer registrar is provided.
	ErrInvalidRegistrar = errors.New("invalid registrar")
	// ErrInvalidRequest is returned when a client connection has no request to send.
	ErrInvalidRequest = errors.New("invalid request")
	// ErrMessageTooLarge is returned when a frame declares a payload above the limit.
	ErrMessageTooLarge = errors.New("message too large")
	// ErrPeerClosed is returned when the peer closed the connection.
	ErrPeerClosed = errors.New("peer closed")
)

// Default configuration values.
const (
	// defaultReadBufferSize is the number of bytes requested per read.
	defaultReadBufferSize = 4096
	// defaultMaxPackageLength is the default maximum size of a single payload (1MB).
	defaultMaxPackageLength = 1024 * 1024
)

// State is the parse progress of the message currently being received.
type State int

const (
	// StateAwaitingHeaderLength waits for the 2-byte header length.
	StateAwaitingHeaderLength State = iota
	// StateAwaitingHeader waits for the full JSON header.
	StateAwaitingHeader
	// StateAwaitingPayload waits for content-length payload bytes.
	StateAwaitingPayload
	// StateReady holds a fully decoded message.
	StateReady
)

func (s State) String() string {
	switch s {
	case StateAwaitingHeaderLength:
		return "awaiting-header-length"
	case StateAwaitingHeader:
		return "awaiting-header"
	case StateAwaitingPayload:
		return "awaiting-payload"
	case StateReady:
		return "ready"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

type role int

const (
	roleServer role = iota
	roleClient
)

func (r role) String() string {
	if r == roleClient {
		return "client"
	}
	return "server"
}

// Conn is the per-socket message state machine.
//
// It is driven by OnReadable and OnWritable from a single event loop goroutine
// and is not safe for concurrent use.
type Conn struct {
	id        string
	role      role
	sock      Socket
	registrar Registrar
	logger    Logger
	opts      options

	readBuf []byte
	recvBuf []byte
	sendBuf []byte

	state     State
	headerLen uint16
	header    *Header
	// message is the decoded request (server) or response (client).
	message *Message
	// queued is set once the outgoing frame has been appended to sendBuf.
	queued   bool
	interest Interest

	closed atomic.Bool
}

// NewServerConn wraps an accepted socket. The connection starts with read interest
// and answers exactly one request using the configured Handler.
// The caller registers Fd with the multiplexer using Interest.
func NewServerConn(sock Socket, registrar Registrar, opt ...Option) (*Conn, error) {
	opts, err := newOptions(roleServer, opt)
	if err != nil {
		return nil, err
	}
	if registrar == nil {
		return nil, ErrInvalidRegistrar
	}

	c := newConn(roleServer, sock, registrar, opts)
	c.interest = InterestRead
	return c, nil
}

// NewClientConn wraps a connecting socket and queues req immediately.
// The connection starts with write interest, switches to read interest once
// the request is flushed, and closes after the response has been decoded.
func NewClientConn(sock Socket, registrar Registrar, req *Message, opt ...Option) (*Conn, error) {
	opts, err := newOptions(roleClient, opt)
	if err != nil {
		return nil, err
	}
	if registrar == nil {
		return nil, ErrInvalidRegistrar
	}
	if req == nil {
		return nil, ErrInvalidRequest
	}

	frame, err := req.Encode()
	if err != nil {
		return nil, errors.Wrap(err, "encode request")
	}

	c := newConn(roleClient, sock, registrar, opts)
	c.sendBuf = frame
	c.queued = true
	c.interest = InterestWrite
	return c, nil
}

func newOptions(r role, opt []Option) (options, error) {
	var opts options
	for _, o := range opt {
		o(&opts)
	}
	return opts, checkOptions(&opts, r)
}

// checkOptions validates and sets default values for connection options.
func checkOptions(opts *options, r role) error {
	if opts.readBufferSize <= 0 {
		opts.readBufferSize = defaultReadBufferSize
	}

	if opts.maxReadLength <= 0 {
		opts.maxReadLength = defaultMaxPackageLength
	}

	if r == roleServer && opts.handler == nil {
		return ErrInvalidHandler
	}

	if opts.logger == nil {
		opts.logger = defaultLogger()
	}

	return nil
}

func newConn(r role, sock Socket, registrar Registrar, opts options) *Conn {
	return &Conn{
		id:        uuid.NewString(),
		role:      r,
		sock:      sock,
		registrar: registrar,
		logger:    opts.logger,
		opts:      opts,
		readBuf:   make([]byte, opts.readBufferSize),
	}
}

// ID returns the connection identifier used in logs.
func (c *Conn) ID() string {
	return c.id
}

// Fd returns the socket descriptor.
func (c *Conn) Fd() int {
	return c.sock.Fd()
}

// Addr returns the remote address of the connection.
func (c *Conn) Addr() net.Addr {
	return c.sock.RemoteAddr()
}

// State returns the parse state of the incoming message.
func (c *Conn) State() State {
	return c.state
}

// Interest returns the readiness set the connection currently wants.
func (c *Conn) Interest() Interest {
	return c.interest
}

// Message returns the decoded request (server) or response (client),
// or nil until the state reaches StateReady.
func (c *Conn) Message() *Message {
	return c.message
}

// Pending returns the number of queued bytes not yet written.
func (c *Conn) Pending() int {
	return len(c.sendBuf)
}

// IsClosed returns true if the connection has been closed.
func (c *Conn) IsClosed() bool {
	return c.closed.Load()
}

// OnReadable performs one non-blocking read and advances the parser as far as
// the buffered bytes allow. Would-block is not an error. A peer close returns
// ErrPeerClosed and discards any partial message; the caller must Close.
func (c *Conn) OnReadable() error {
	if c.closed.Load() {
		return nil
	}

	n, err := c.sock.Read(c.readBuf)
	switch {
	case err == nil:
		c.recvBuf = append(c.recvBuf, c.readBuf[:n]...)
	case errors.Is(err, ErrWouldBlock):
	case errors.Is(err, io.EOF):
		c.message = nil
		return ErrPeerClosed
	default:
		return errors.Wrap(err, "read")
	}

	return c.process()
}

// OnWritable queues the outgoing frame if needed and performs one non-blocking
// write. The response is built at most once per request.
func (c *Conn) OnWritable() error {
	if c.closed.Load() {
		return nil
	}

	if c.role == roleServer && c.state == StateReady && !c.queued {
		if err := c.queueResponse(); err != nil {
			return err
		}
	}

	if len(c.sendBuf) > 0 {
		n, err := c.sock.Write(c.sendBuf)
		if err != nil && !errors.Is(err, ErrWouldBlock) {
			return errors.Wrap(err, "write")
		}
		c.consumeSend(n)
	}

	if c.queued && len(c.sendBuf) == 0 {
		return c.onFlushed()
	}
	return nil
}

// Close unregisters the socket and closes it. Safe to call multiple times.
// An unregister failure is logged and otherwise ignored.
func (c *Conn) Close() error {
	if c.closed.Swap(true) {
		return nil
	}

	c.logger.Debug("closing connection", "conn", c.id, "addr", c.Addr(), "role", c.role, "state", c.state)

	if err := c.registrar.Delete(c.sock.Fd()); err != nil {
		c.logger.Warn("unregister failed", "conn", c.id, "addr", c.Addr(), "error", err)
	}

	c.recvBuf = nil
	c.sendBuf = nil
	return c.sock.Close()
}

// process runs every transition the buffered bytes allow, in order.
func (c *Conn) process() error {
	if c.state == StateAwaitingHeaderLength {
		if length, ok := DecodeHeaderLength(c.recvBuf); ok {
			c.headerLen = length
			c.consumeRecv(headerLengthSize)
			c.state = StateAwaitingHeader
		}
	}

	if c.state == StateAwaitingHeader {
		h, ok, err := DecodeHeader(c.recvBuf, c.headerLen)
		if err != nil {
			return err
		}
		if ok {
			if h.ContentLength > c.opts.maxReadLength {
				return errors.Wrapf(ErrMessageTooLarge, "content-length %d exceeds %d", h.ContentLength, c.opts.maxReadLength)
			}
			c.header = h
			c.consumeRecv(int(c.headerLen))
			c.state = StateAwaitingPayload
		}
	}

	if c.state == StateAwaitingPayload {
		msg, ok, err := DecodePayload(c.recvBuf, c.header)
		if err != nil {
			return err
		}
		if ok {
			c.consumeRecv(c.header.ContentLength)
			c.message = msg
			c.state = StateReady
			return c.onReady()
		}
	}

	return nil
}

func (c *Conn) onReady() error {
	c.logger.Debug("message received", "conn", c.id, "addr", c.Addr(), "role", c.role, "message", c.message)

	if c.opts.onMessage != nil {
		if err := c.opts.onMessage(c.message); err != nil {
			return err
		}
	}

	if c.role == roleClient {
		return c.Close()
	}
	return c.setInterest(InterestWrite)
}

func (c *Conn) onFlushed() error {
	if c.role == roleClient {
		return c.setInterest(InterestRead)
	}

	if !c.opts.persistent {
		return c.Close()
	}

	c.reset()
	if err := c.setInterest(InterestRead); err != nil {
		return err
	}
	// a pipelined request may already be buffered
	return c.process()
}

// queueResponse invokes the handler and appends the encoded response to sendBuf.
func (c *Conn) queueResponse() error {
	resp := c.serve(c.message)

	frame, err := resp.Encode()
	if err != nil {
		c.logger.Warn("encode response failed", "conn", c.id, "addr", c.Addr(), "error", err)
		if frame, err = errorResult(err).Encode(); err != nil {
			return err
		}
	}

	c.sendBuf = append(c.sendBuf, frame...)
	c.queued = true
	return nil
}

// serve calls the handler, turning errors and panics into error results.
func (c *Conn) serve(req *Message) (resp *Message) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("handler panic", "conn", c.id, "addr", c.Addr(), "panic", r)
			resp = errorResult(fmt.Errorf("%v", r))
		}
	}()

	resp, err := c.opts.handler.Serve(req)
	if err != nil {
		c.logger.Info("handler failed", "conn", c.id, "addr", c.Addr(), "error", err)
		return errorResult(err)
	}
	if resp == nil {
		return errorResult(errors.New("empty response"))
	}
	return resp
}

// reset prepares a persistent connection for its next request.
func (c *Conn) reset() {
	c.state = StateAwaitingHeaderLength
	c.headerLen = 0
	c.header = nil
	c.message = nil
	c.queued = false
}

func (c *Conn) setInterest(interest Interest) error {
	if interest == c.interest {
		return nil
	}
	if err := c.registrar.Modify(c.sock.Fd(), interest); err != nil {
		return err
	}
	c.interest = interest
	return nil
}

// consumeRecv drops n leading bytes, keeping the remainder for the next frame.
func (c *Conn) consumeRecv(n int) {
	c.recvBuf = append(c.recvBuf[:0], c.recvBuf[n:]...)
}

func (c *Conn) consumeSend(n int) {
	if n >= len(c.sendBuf) {
		c.sendBuf = c.sendBuf[:0]
		return
	}
	c.sendBuf = c.sendBuf[n:]
}
