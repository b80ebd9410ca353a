package framesock

import (
	"context"
	"net"

	"github.com/pkg/errors"
)

// ErrNoResponse is returned when a connection closed before a response was decoded.
var ErrNoResponse = errors.New("no response")

// Client sends requests, each on its own connection, and multiplexes all of
// them on one event loop.
type Client struct {
	opts   []Option
	logger Logger
}

// NewClient creates a client. The options apply to every connection it opens;
// the request handler option is ignored on the client side.
func NewClient(opts ...Option) *Client {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	_ = checkOptions(&o, roleClient)

	return &Client{opts: opts, logger: o.logger}
}

// Do opens one connection per request to addr, sends each request, and waits
// for every response. Responses are returned in request order.
// If any connection ends without a response, the responses received so far
// are returned together with an error wrapping ErrNoResponse.
func (c *Client) Do(ctx context.Context, addr *net.TCPAddr, reqs ...*Message) ([]*Message, error) {
	if len(reqs) == 0 {
		return nil, nil
	}

	poller, err := NewPoller()
	if err != nil {
		return nil, err
	}
	defer poller.Close()

	loop := NewEventLoop(poller, c.logger)
	defer loop.CloseAll()

	conns := make([]*Conn, 0, len(reqs))
	for i, req := range reqs {
		sock, err := dialTCP(addr)
		if err != nil {
			return nil, errors.Wrapf(err, "connection %d", i+1)
		}

		conn, err := NewClientConn(sock, poller, req, c.opts...)
		if err != nil {
			_ = sock.Close()
			return nil, errors.Wrapf(err, "connection %d", i+1)
		}

		if err = loop.Register(conn); err != nil {
			_ = sock.Close()
			return nil, errors.Wrapf(err, "connection %d", i+1)
		}

		c.logger.Debug("starting connection", "conn", conn.ID(), "id", i+1, "addr", addr)
		conns = append(conns, conn)
	}

	done := func() bool {
		return ctx.Err() != nil || loop.Len() == 0
	}
	if err = loop.Run(ctx, done); err != nil {
		return nil, err
	}
	if err = ctx.Err(); err != nil {
		return nil, err
	}

	responses := make([]*Message, len(conns))
	for i, conn := range conns {
		if conn.State() != StateReady {
			if err == nil {
				err = errors.Wrapf(ErrNoResponse, "connection %d", i+1)
			}
			continue
		}
		responses[i] = conn.Message()
	}
	return responses, err
}
