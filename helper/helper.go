package helper

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"

	"github.com/oklog/ulid"
)

// Fingerprint returns a short (8-byte) hex fingerprint of a sensitive
// value, safe to include in logs instead of the value itself.
func Fingerprint(value string) string {
	h := sha256.Sum256([]byte(value))

	short := h[:8]

	return hex.EncodeToString(short)
}

// Hash returns the full SHA-256 hex digest of a value.
func Hash(value string) string {
	h := sha256.Sum256([]byte(value))

	return hex.EncodeToString(h[:])
}

// GenerateRequestID returns a lexicographically sortable unique ID used to
// correlate retry attempts for a single request across log lines.
func GenerateRequestID() string {
	return ulid.MustNew(ulid.Now(), rand.Reader).String()
}

// GenerateRandomString generates a cryptographically secure random string
func GenerateRandomString(length int) string {
	bytes := make([]byte, length)
	rand.Read(bytes)
	return hex.EncodeToString(bytes)[:length]
}
