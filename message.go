package framesock

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Content types and encodings understood by the codec and the bundled handlers.
const (
	// ContentTypeJSON marks a payload holding a UTF-8 JSON value.
	ContentTypeJSON = "text/json"
	// ContentTypeBinaryRequest is the tag clients use for opaque request bodies.
	ContentTypeBinaryRequest = "binary/custom-client-binary-type"
	// ContentTypeBinaryResponse is the tag servers use for opaque response bodies.
	ContentTypeBinaryResponse = "binary/custom-server-binary-type"

	// EncodingUTF8 is the only encoding accepted for structured payloads.
	EncodingUTF8 = "utf-8"
	// EncodingBinary marks an opaque payload.
	EncodingBinary = "binary"
)

// Message is one logical request or response carried by a single frame.
//
// Body always holds the exact payload bytes. When ContentType is
// ContentTypeJSON, Value holds the decoded JSON value.
type Message struct {
	ContentType     string
	ContentEncoding string
	Body            []byte
	Value           any
}

// NewJSONMessage builds a text/json message from v.
func NewJSONMessage(v any) (*Message, error) {
	body, err := marshalJSON(v)
	if err != nil {
		return nil, err
	}

	// Value holds the same shape a decoded frame would carry.
	var value any
	if err = json.Unmarshal(body, &value); err != nil {
		return nil, err
	}

	return &Message{
		ContentType:     ContentTypeJSON,
		ContentEncoding: EncodingUTF8,
		Body:            body,
		Value:           value,
	}, nil
}

// NewBinaryMessage builds an opaque message with the given content type.
func NewBinaryMessage(contentType string, body []byte) *Message {
	return &Message{
		ContentType:     contentType,
		ContentEncoding: EncodingBinary,
		Body:            body,
	}
}

// NewResultMessage builds the {"result": ...} JSON reply used by the bundled
// handlers and by the connection when a handler fails.
func NewResultMessage(result string) *Message {
	m, err := NewJSONMessage(map[string]any{"result": result})
	if err != nil {
		// a map of strings always marshals
		panic(err)
	}
	return m
}

// Length returns the payload length in bytes.
func (m *Message) Length() int {
	return len(m.Body)
}

// IsJSON reports whether the message carries a structured payload.
func (m *Message) IsJSON() bool {
	return m.ContentType == ContentTypeJSON
}

// Field returns the string value stored under key when the message is a JSON object.
// Non-string values are formatted with %v.
func (m *Message) Field(key string) (string, bool) {
	obj, ok := m.Value.(map[string]any)
	if !ok {
		return "", false
	}

	v, ok := obj[key]
	if !ok || v == nil {
		return "", false
	}

	if s, ok := v.(string); ok {
		return s, true
	}
	return fmt.Sprint(v), true
}

// Encode serializes the message into a complete wire frame.
func (m *Message) Encode() ([]byte, error) {
	return Encode(m.Body, m.ContentType, m.ContentEncoding)
}

// String renders a short description for logs.
func (m *Message) String() string {
	if m.IsJSON() {
		return fmt.Sprintf("%s %s", m.ContentType, m.Body)
	}
	return fmt.Sprintf("%s (%d bytes)", m.ContentType, len(m.Body))
}

// marshalJSON encodes v without HTML escaping and without the trailing newline
// json.Encoder appends. Non-ASCII text is kept as raw UTF-8.
func marshalJSON(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte{'\n'}), nil
}
