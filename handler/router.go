// Package handler holds the request handlers served by the framesock CLI.
package handler

import (
	"fmt"

	"github.com/Zereker/framesock"
)

// Actions understood by Router.
const (
	ActionSearch  = "search"
	ActionCommand = "cmd"
)

// Option configures a Router.
type Option func(*Router)

// CommandOption sets the handler for cmd requests. A nil Command disables the
// action, and cmd requests are answered as invalid.
func CommandOption(cmd *Command) Option {
	return func(r *Router) {
		r.command = cmd
	}
}

// LoggerOption sets the logger used to trace dispatched requests.
func LoggerOption(logger framesock.Logger) Option {
	return func(r *Router) {
		r.logger = logger
	}
}

// Router dispatches JSON requests on their "action" field and echoes a prefix
// of binary requests.
type Router struct {
	dict    Dictionary
	command *Command
	logger  framesock.Logger
}

// NewRouter returns a Router answering search requests from dict. A nil dict
// falls back to DefaultDictionary.
func NewRouter(dict Dictionary, opts ...Option) *Router {
	if dict == nil {
		dict = DefaultDictionary()
	}

	r := &Router{
		dict:    dict,
		command: NewCommand(),
		logger:  framesock.NopLogger(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Serve implements framesock.Handler.
func (r *Router) Serve(req *framesock.Message) (*framesock.Message, error) {
	if !req.IsJSON() {
		r.logger.Debug("binary request", "length", req.Length())
		return Binary(req)
	}

	action, _ := req.Field("action")
	r.logger.Debug("json request", "action", action)

	switch {
	case action == ActionSearch:
		return r.dict.Serve(req)
	case action == ActionCommand && r.command != nil:
		return r.command.Serve(req)
	default:
		return framesock.NewResultMessage(fmt.Sprintf("Error: invalid action \"%s\".", action)), nil
	}
}
