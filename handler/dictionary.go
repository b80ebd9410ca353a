package handler

import (
	"fmt"

	"github.com/Zereker/framesock"
)

// Dictionary maps search values to answers.
type Dictionary map[string]string

// DefaultDictionary returns the phrases served when no dictionary is configured.
func DefaultDictionary() Dictionary {
	return Dictionary{
		"morpheus":   "Follow the white rabbit. \U0001f430",
		"ring":       "In the caves beneath the Misty Mountains. \U0001f48d",
		"\U0001f436": "\U0001f43e Playing ball! \U0001f3d0",
	}
}

// Lookup returns the answer for value, or the miss message when there is none.
func (d Dictionary) Lookup(value string) string {
	if answer, ok := d[value]; ok {
		return answer
	}
	return fmt.Sprintf("No match for \"%s\".", value)
}

// Serve answers a search request with {"result": <answer>}.
func (d Dictionary) Serve(req *framesock.Message) (*framesock.Message, error) {
	value, _ := req.Field("value")
	return framesock.NewResultMessage(d.Lookup(value)), nil
}
