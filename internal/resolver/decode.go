package resolver

import (
	"fmt"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
)

// decodeBody returns body as text, reading it as ISO-8859-1 when it is not
// valid UTF-8.
func decodeBody(body []byte) (string, error) {
	if utf8.Valid(body) {
		return string(body), nil
	}

	text, err := charmap.ISO8859_1.NewDecoder().Bytes(body)
	if err != nil {
		return "", fmt.Errorf("failed to decode response: %w", err)
	}
	return string(text), nil
}
