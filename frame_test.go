package framesock

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"unicode/utf8"
)

func rawFrame(header string, body []byte) []byte {
	buf := make([]byte, 2, 2+len(header)+len(body))
	binary.BigEndian.PutUint16(buf, uint16(len(header)))
	buf = append(buf, header...)
	return append(buf, body...)
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	tests := []struct {
		name     string
		body     []byte
		ctype    string
		encoding string
	}{
		{"json object", []byte(`{"action":"search","value":"ring"}`), ContentTypeJSON, EncodingUTF8},
		{"json unicode", []byte(`{"result":"In the caves beneath the Misty Mountains. 💍"}`), ContentTypeJSON, EncodingUTF8},
		{"json string", []byte(`"🐶"`), ContentTypeJSON, "UTF-8"},
		{"binary", []byte{0, 1, 2, 3, 0xff, 0xfe}, ContentTypeBinaryRequest, EncodingBinary},
		{"empty binary", nil, ContentTypeBinaryResponse, EncodingBinary},
		{"large binary", bytes.Repeat([]byte{0xab}, 1<<20), "application/octet-stream", EncodingBinary},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			frame, err := Encode(tt.body, tt.ctype, tt.encoding)
			if err != nil {
				t.Fatalf("Encode failed: %v", err)
			}

			msg, n, err := Decode(frame)
			if err != nil {
				t.Fatalf("Decode failed: %v", err)
			}
			if n != len(frame) {
				t.Errorf("consumed = %d, want %d", n, len(frame))
			}
			if !bytes.Equal(msg.Body, tt.body) {
				t.Errorf("body = %q, want %q", msg.Body, tt.body)
			}
			if msg.ContentType != tt.ctype {
				t.Errorf("content-type = %q, want %q", msg.ContentType, tt.ctype)
			}
			if msg.ContentEncoding != tt.encoding {
				t.Errorf("content-encoding = %q, want %q", msg.ContentEncoding, tt.encoding)
			}
			if msg.IsJSON() && msg.Value == nil {
				t.Error("structured payload was not decoded")
			}
		})
	}
}

func TestEncode_HeaderLayout(t *testing.T) {
	body := []byte(`{"result":"ok"}`)
	frame, err := Encode(body, ContentTypeJSON, EncodingUTF8)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	hlen := int(binary.BigEndian.Uint16(frame))
	if len(frame) != 2+hlen+len(body) {
		t.Fatalf("frame length = %d, want %d", len(frame), 2+hlen+len(body))
	}

	var header map[string]any
	if err := json.Unmarshal(frame[2:2+hlen], &header); err != nil {
		t.Fatalf("header is not JSON: %v", err)
	}
	for _, key := range requiredHeaderFields {
		if _, ok := header[key]; !ok {
			t.Errorf("header missing %q", key)
		}
	}
	if header["content-length"] != float64(len(body)) {
		t.Errorf("content-length = %v, want %d", header["content-length"], len(body))
	}
	if !bytes.Equal(frame[2+hlen:], body) {
		t.Errorf("payload = %q, want %q", frame[2+hlen:], body)
	}
}

func TestEncode_KeepsUTF8Unescaped(t *testing.T) {
	frame, err := Encode(nil, "tag/🐶<&>", EncodingBinary)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	if !bytes.Contains(frame, []byte("tag/🐶<&>")) {
		t.Errorf("header escaped non-ASCII or HTML characters: %q", frame)
	}
}

func TestEncode_HeaderTooLarge(t *testing.T) {
	// the header JSON without content-type is well below 100 bytes
	fits := strings.Repeat("x", 65000)
	if _, err := Encode(nil, fits, EncodingBinary); err != nil {
		t.Fatalf("Encode with %d-byte content type failed: %v", len(fits), err)
	}

	tooLarge := strings.Repeat("x", 65536)
	_, err := Encode(nil, tooLarge, EncodingBinary)
	if !errors.Is(err, ErrHeaderTooLarge) {
		t.Errorf("expected ErrHeaderTooLarge, got %v", err)
	}
}

func TestEncodeValue(t *testing.T) {
	frame, err := EncodeValue(map[string]string{"action": "search", "value": "ring"}, EncodingUTF8)
	if err != nil {
		t.Fatalf("EncodeValue failed: %v", err)
	}

	msg, _, err := Decode(frame)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if v, _ := msg.Field("action"); v != "search" {
		t.Errorf("action = %q, want search", v)
	}

	_, err = EncodeValue("x", "latin-1")
	if !errors.Is(err, ErrUnsupportedEncoding) {
		t.Errorf("expected ErrUnsupportedEncoding, got %v", err)
	}
}

func TestDecodeHeaderLength(t *testing.T) {
	if _, ok := DecodeHeaderLength(nil); ok {
		t.Error("expected insufficient data for empty buffer")
	}
	if _, ok := DecodeHeaderLength([]byte{0x01}); ok {
		t.Error("expected insufficient data for 1 byte")
	}

	n, ok := DecodeHeaderLength([]byte{0x01, 0x02, 0xff})
	if !ok {
		t.Fatal("expected header length")
	}
	if n != 0x0102 {
		t.Errorf("length = %#x, want 0x0102", n)
	}
}

func TestDecodeHeader_InsufficientData(t *testing.T) {
	header := []byte(`{"byteorder":"little","content-type":"text/json","content-encoding":"utf-8","content-length":2}`)

	h, ok, err := DecodeHeader(header[:len(header)-1], uint16(len(header)))
	if err != nil || ok || h != nil {
		t.Errorf("DecodeHeader = %v, %v, %v; want nil, false, nil", h, ok, err)
	}

	h, ok, err = DecodeHeader(header, uint16(len(header)))
	if err != nil || !ok {
		t.Fatalf("DecodeHeader = %v, %v; want ok", ok, err)
	}
	if h.ContentLength != 2 || h.ContentType != ContentTypeJSON || h.ContentEncoding != EncodingUTF8 {
		t.Errorf("header = %+v", h)
	}
}

func TestDecodeHeader_MissingField(t *testing.T) {
	full := map[string]any{
		"byteorder":        "little",
		"content-type":     "text/json",
		"content-encoding": "utf-8",
		"content-length":   0,
	}

	for _, missing := range requiredHeaderFields {
		t.Run(missing, func(t *testing.T) {
			fields := make(map[string]any)
			for k, v := range full {
				if k != missing {
					fields[k] = v
				}
			}
			raw, _ := json.Marshal(fields)

			_, _, err := DecodeHeader(raw, uint16(len(raw)))

			var fieldErr *MissingHeaderFieldError
			if !errors.As(err, &fieldErr) {
				t.Fatalf("expected MissingHeaderFieldError, got %v", err)
			}
			if fieldErr.Field != missing {
				t.Errorf("field = %q, want %q", fieldErr.Field, missing)
			}
			if !errors.Is(err, ErrMalformedHeader) {
				t.Error("MissingHeaderFieldError should match ErrMalformedHeader")
			}
		})
	}
}

func TestDecodeHeader_Malformed(t *testing.T) {
	tests := []struct {
		name   string
		header string
	}{
		{"zero length", ""},
		{"not json", "hello"},
		{"json array", `[1,2]`},
		{"negative length", `{"byteorder":"big","content-type":"x","content-encoding":"binary","content-length":-1}`},
		{"string length", `{"byteorder":"big","content-type":"x","content-encoding":"binary","content-length":"3"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := DecodeHeader([]byte(tt.header), uint16(len(tt.header)))
			if !errors.Is(err, ErrMalformedHeader) {
				t.Errorf("expected ErrMalformedHeader, got %v", err)
			}
		})
	}
}

func TestDecodePayload(t *testing.T) {
	h := &Header{ContentType: ContentTypeJSON, ContentEncoding: EncodingUTF8, ContentLength: 13}
	body := []byte(`{"result":1}`)
	body = append(body, ' ')

	if _, ok, err := DecodePayload(body[:12], h); ok || err != nil {
		t.Errorf("expected insufficient data, got ok=%v err=%v", ok, err)
	}

	msg, ok, err := DecodePayload(append(body, "trailing"...), h)
	if err != nil || !ok {
		t.Fatalf("DecodePayload = %v, %v", ok, err)
	}
	if len(msg.Body) != 13 {
		t.Errorf("body length = %d, want 13", len(msg.Body))
	}
	if v, ok := msg.Field("result"); !ok || v != "1" {
		t.Errorf("result = %q, %v", v, ok)
	}
}

func TestDecodePayload_Errors(t *testing.T) {
	tests := []struct {
		name   string
		header Header
		body   []byte
		want   error
	}{
		{"bad json", Header{ContentType: ContentTypeJSON, ContentEncoding: EncodingUTF8, ContentLength: 3}, []byte("{{{"), ErrMalformedPayload},
		{"bad utf8", Header{ContentType: ContentTypeJSON, ContentEncoding: EncodingUTF8, ContentLength: 3}, []byte{'"', 0xff, '"'}, ErrMalformedPayload},
		{"unsupported encoding", Header{ContentType: ContentTypeJSON, ContentEncoding: "utf-16", ContentLength: 2}, []byte("{}"), ErrUnsupportedEncoding},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := DecodePayload(tt.body, &tt.header)
			if !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestDecodePayload_BinaryIsOpaque(t *testing.T) {
	h := &Header{ContentType: ContentTypeBinaryRequest, ContentEncoding: EncodingBinary, ContentLength: 3}
	msg, ok, err := DecodePayload([]byte{0xff, 0x00, 0xfe}, h)
	if err != nil || !ok {
		t.Fatalf("DecodePayload = %v, %v", ok, err)
	}
	if msg.Value != nil {
		t.Errorf("binary payload should not be decoded, got %v", msg.Value)
	}
	if utf8.Valid(msg.Body) {
		t.Error("test body should not be valid UTF-8")
	}
}

func TestDecode_BackToBackFrames(t *testing.T) {
	first, _ := Encode([]byte("one"), ContentTypeBinaryRequest, EncodingBinary)
	second, _ := Encode([]byte(`{"n":2}`), ContentTypeJSON, EncodingUTF8)
	buf := append(append([]byte(nil), first...), second...)

	msg, n, err := Decode(buf)
	if err != nil {
		t.Fatalf("Decode first failed: %v", err)
	}
	if string(msg.Body) != "one" {
		t.Errorf("first body = %q", msg.Body)
	}

	msg, _, err = Decode(buf[n:])
	if err != nil {
		t.Fatalf("Decode second failed: %v", err)
	}
	if string(msg.Body) != `{"n":2}` {
		t.Errorf("second body = %q", msg.Body)
	}
}

func TestDecode_InsufficientData(t *testing.T) {
	frame, _ := Encode([]byte("payload"), ContentTypeBinaryRequest, EncodingBinary)

	for i := 0; i < len(frame); i++ {
		if _, _, err := Decode(frame[:i]); !errors.Is(err, ErrInsufficientData) {
			t.Fatalf("prefix %d: expected ErrInsufficientData, got %v", i, err)
		}
	}
}

func TestDecode_ZeroHeaderLength(t *testing.T) {
	_, _, err := Decode(rawFrame("", []byte("abc")))
	if !errors.Is(err, ErrMalformedHeader) {
		t.Errorf("expected ErrMalformedHeader, got %v", err)
	}
}
