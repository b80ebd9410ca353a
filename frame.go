package framesock

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"unicode/utf8"

	"github.com/pkg/errors"
)

// headerLengthSize is the size of the big-endian prefix holding the header length.
const headerLengthSize = 2

// Codec errors.
var (
	// ErrInsufficientData means more bytes are needed. It is a wait signal, not a failure.
	ErrInsufficientData = errors.New("insufficient data")
	// ErrMalformedHeader is returned when the JSON header cannot be used.
	ErrMalformedHeader = errors.New("malformed header")
	// ErrMalformedPayload is returned when a structured payload cannot be decoded.
	ErrMalformedPayload = errors.New("malformed payload")
	// ErrUnsupportedEncoding is returned for structured payloads not encoded as UTF-8.
	ErrUnsupportedEncoding = errors.New("unsupported content encoding")
	// ErrHeaderTooLarge is returned when the encoded header does not fit the 2-byte prefix.
	ErrHeaderTooLarge = errors.New("header too large")
)

// requiredHeaderFields lists the keys every header must carry.
var requiredHeaderFields = [...]string{
	"byteorder",
	"content-type",
	"content-encoding",
	"content-length",
}

// MissingHeaderFieldError reports a header lacking one of the required keys.
// It unwraps to ErrMalformedHeader.
type MissingHeaderFieldError struct {
	Field string
}

func (e *MissingHeaderFieldError) Error() string {
	return fmt.Sprintf("missing required header %q", e.Field)
}

func (e *MissingHeaderFieldError) Unwrap() error {
	return ErrMalformedHeader
}

// Header is the JSON header that precedes every payload.
type Header struct {
	// ByteOrder is informational only.
	ByteOrder       string `json:"byteorder"`
	ContentType     string `json:"content-type"`
	ContentEncoding string `json:"content-encoding"`
	ContentLength   int    `json:"content-length"`
}

// hostByteOrder is reported in the byteorder header field.
var hostByteOrder = func() string {
	if binary.NativeEndian.AppendUint16(nil, 1)[0] == 1 {
		return "little"
	}
	return "big"
}()

// Encode builds a frame: the 2-byte header length, the JSON header and the payload.
func Encode(body []byte, contentType, contentEncoding string) ([]byte, error) {
	header, err := marshalJSON(Header{
		ByteOrder:       hostByteOrder,
		ContentType:     contentType,
		ContentEncoding: contentEncoding,
		ContentLength:   len(body),
	})
	if err != nil {
		return nil, errors.Wrap(err, "encode header")
	}

	if len(header) > math.MaxUint16 {
		return nil, errors.Wrapf(ErrHeaderTooLarge, "%d bytes", len(header))
	}

	frame := make([]byte, headerLengthSize, headerLengthSize+len(header)+len(body))
	binary.BigEndian.PutUint16(frame, uint16(len(header)))
	frame = append(frame, header...)
	frame = append(frame, body...)
	return frame, nil
}

// EncodeValue marshals v as JSON and encodes it as a structured frame.
func EncodeValue(v any, contentEncoding string) ([]byte, error) {
	if !isUTF8(contentEncoding) {
		return nil, errors.Wrapf(ErrUnsupportedEncoding, "%q", contentEncoding)
	}

	body, err := marshalJSON(v)
	if err != nil {
		return nil, errors.Wrap(err, "encode payload")
	}
	return Encode(body, ContentTypeJSON, contentEncoding)
}

// DecodeHeaderLength reads the header-length prefix.
// It returns false when fewer than two bytes are available.
func DecodeHeaderLength(buf []byte) (uint16, bool) {
	if len(buf) < headerLengthSize {
		return 0, false
	}
	return binary.BigEndian.Uint16(buf), true
}

// DecodeHeader parses the first length bytes of buf as a JSON header.
// It returns false, nil when fewer than length bytes are available.
func DecodeHeader(buf []byte, length uint16) (*Header, bool, error) {
	if len(buf) < int(length) {
		return nil, false, nil
	}
	if length == 0 {
		return nil, false, errors.Wrap(ErrMalformedHeader, "empty header")
	}

	raw := buf[:length]

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, false, errors.Wrap(ErrMalformedHeader, err.Error())
	}

	for _, key := range requiredHeaderFields {
		if _, ok := fields[key]; !ok {
			return nil, false, &MissingHeaderFieldError{Field: key}
		}
	}

	var h Header
	if err := json.Unmarshal(raw, &h); err != nil {
		return nil, false, errors.Wrap(ErrMalformedHeader, err.Error())
	}
	if h.ContentLength < 0 {
		return nil, false, errors.Wrapf(ErrMalformedHeader, "negative content-length %d", h.ContentLength)
	}

	return &h, true, nil
}

// DecodePayload slices exactly h.ContentLength bytes from buf.
// Structured payloads are decoded into Message.Value.
// It returns false, nil when the payload has not fully arrived.
func DecodePayload(buf []byte, h *Header) (*Message, bool, error) {
	if len(buf) < h.ContentLength {
		return nil, false, nil
	}

	body := make([]byte, h.ContentLength)
	copy(body, buf)

	msg := &Message{
		ContentType:     h.ContentType,
		ContentEncoding: h.ContentEncoding,
		Body:            body,
	}

	if msg.IsJSON() {
		v, err := decodeJSON(body, h.ContentEncoding)
		if err != nil {
			return nil, false, err
		}
		msg.Value = v
	}

	return msg, true, nil
}

// Decode decodes one complete frame from the front of buf and reports how many
// bytes it consumed. ErrInsufficientData is returned when buf holds a partial frame.
func Decode(buf []byte) (*Message, int, error) {
	length, ok := DecodeHeaderLength(buf)
	if !ok {
		return nil, 0, ErrInsufficientData
	}
	offset := headerLengthSize

	h, ok, err := DecodeHeader(buf[offset:], length)
	if err != nil {
		return nil, 0, err
	}
	if !ok {
		return nil, 0, ErrInsufficientData
	}
	offset += int(length)

	msg, ok, err := DecodePayload(buf[offset:], h)
	if err != nil {
		return nil, 0, err
	}
	if !ok {
		return nil, 0, ErrInsufficientData
	}

	return msg, offset + h.ContentLength, nil
}

func decodeJSON(body []byte, encoding string) (any, error) {
	if !isUTF8(encoding) {
		return nil, errors.Wrapf(ErrUnsupportedEncoding, "%q", encoding)
	}
	if !utf8.Valid(body) {
		return nil, errors.Wrap(ErrMalformedPayload, "invalid utf-8")
	}

	var v any
	if err := json.Unmarshal(body, &v); err != nil {
		return nil, errors.Wrap(ErrMalformedPayload, err.Error())
	}
	return v, nil
}

func isUTF8(encoding string) bool {
	switch strings.ToLower(encoding) {
	case "utf-8", "utf8":
		return true
	default:
		return false
	}
}
