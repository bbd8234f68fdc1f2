package auth

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
)

// Token lengths in random bytes before encoding. 32 bytes is 256 bits of
// entropy; the URL-safe base64 form is 43 characters with no padding.
const (
	apiKeyBytes       = 32
	sessionTokenBytes = 32
)

func randomToken(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("auth: read random: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// NewAPIKey returns a fresh company API key. Keys are opaque and URL safe;
// uniqueness is enforced by the database, not by construction.
func NewAPIKey() (string, error) {
	return randomToken(apiKeyBytes)
}

// NewSessionToken returns an opaque session identifier. Sessions carry no
// embedded claims; everything about the caller is resolved server side.
func NewSessionToken() (string, error) {
	return randomToken(sessionTokenBytes)
}
