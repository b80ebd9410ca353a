package handler

import "github.com/Zereker/framesock"

// BinaryPrefixLength is how many request bytes Binary sends back.
const BinaryPrefixLength = 10

// Binary answers an opaque request with the first BinaryPrefixLength bytes of
// its body, tagged with the server binary content type.
func Binary(req *framesock.Message) (*framesock.Message, error) {
	n := min(BinaryPrefixLength, len(req.Body))
	body := make([]byte, n)
	copy(body, req.Body)

	return framesock.NewBinaryMessage(framesock.ContentTypeBinaryResponse, body), nil
}
