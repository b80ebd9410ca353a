package framesock

// Handler maps a decoded request to a response.
//
// Serve runs on the event loop goroutine and must not block. A returned error
// does not close the connection: it is turned into a {"result": "Error: ..."}
// response and sent to the peer.
type Handler interface {
	Serve(req *Message) (*Message, error)
}

// HandlerFunc adapts an ordinary function to the Handler interface.
type HandlerFunc func(req *Message) (*Message, error)

// Serve calls f(req).
func (f HandlerFunc) Serve(req *Message) (*Message, error) {
	return f(req)
}

// errorResult is the response sent when a handler fails.
func errorResult(err error) *Message {
	return NewResultMessage("Error: " + err.Error())
}
