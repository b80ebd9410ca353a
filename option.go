package framesock

// options holds the configuration for a connection.
type options struct {
	handler Handler
	logger  Logger

	// onMessage is called once a full frame has been decoded:
	// the request on the server side, the response on the client side.
	onMessage func(message *Message) error

	readBufferSize int  // bytes requested per non-blocking read
	maxReadLength  int  // maximum declared content-length accepted
	persistent     bool // server keeps the connection open after a response
}

// Option is a function that configures connection options.
type Option func(*options)

// HandlerOption returns an Option that sets the request handler.
// The handler is required for server connections.
func HandlerOption(handler Handler) Option {
	return func(o *options) {
		o.handler = handler
	}
}

// ReadBufferSizeOption returns an Option that sets how many bytes a single
// readiness notification reads at most.
func ReadBufferSizeOption(size int) Option {
	return func(o *options) {
		o.readBufferSize = size
	}
}

// MessageMaxSize returns an Option that sets the maximum payload size.
// Frames declaring a larger content-length are rejected and the connection is closed.
func MessageMaxSize(size int) Option {
	return func(o *options) {
		o.maxReadLength = size
	}
}

// OnMessageOption returns an Option that sets a callback invoked for each decoded frame.
// A non-nil error closes the connection.
func OnMessageOption(cb func(*Message) error) Option {
	return func(o *options) {
		o.onMessage = cb
	}
}

// PersistentOption returns an Option that keeps server connections open after
// a response has been flushed, so the peer may send further requests.
// By default the server closes after exactly one request/response.
func PersistentOption(persistent bool) Option {
	return func(o *options) {
		o.persistent = persistent
	}
}

// LoggerOption returns an Option that sets the logger.
// If not set, the default slog logger will be used.
func LoggerOption(logger Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}
