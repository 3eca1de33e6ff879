package crypto

import (
	"encoding/base64"
	"strings"
)

// B64 encodes b as standard padded base64, the text form used on the wire
// for keys, wrapped secrets, nonces and ciphertext.
func B64(b []byte) string { return base64.StdEncoding.EncodeToString(b) }

// FromB64 decodes standard base64. Surrounding whitespace is ignored so keys
// pasted from a terminal still parse.
func FromB64(s string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(strings.TrimSpace(s))
}
