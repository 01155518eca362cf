// Package auth implements API key parsing and request authorization.
package auth

import (
	"encoding/hex"
	"fmt"
)

// TokenParseError is a typed failure from ParseToken, distinguishing a bad
// length from a bad encoding so callers and tests can tell them apart.
type TokenParseError struct {
	// Kind is one of "invalid_length" or "invalid_hex".
	Kind string
	// Length is set when Kind is "invalid_length".
	Length int
	// Cause is set when Kind is "invalid_hex".
	Cause error
}

func (e *TokenParseError) Error() string {
	switch e.Kind {
	case "invalid_length":
		return fmt.Sprintf("invalid API key length: %d", e.Length)
	case "invalid_hex":
		return fmt.Sprintf("invalid API key hex encoding: %v", e.Cause)
	default:
		return "invalid API key"
	}
}

func (e *TokenParseError) Unwrap() error { return e.Cause }

// ParseToken decodes a 32 hex-character bearer token (either letter case) into its
// underlying 16-byte key. Any length other than 32 is InvalidLength; any
// non-hex character at the right length is InvalidHex.
func ParseToken(value string) ([16]byte, error) {
	var out [16]byte
	if len(value) != 32 {
		return out, &TokenParseError{Kind: "invalid_length", Length: len(value)}
	}
	decoded, err := hex.DecodeString(value)
	if err != nil {
		return out, &TokenParseError{Kind: "invalid_hex", Cause: err}
	}
	copy(out[:], decoded)
	return out, nil
}
