// Package sha256 provides the hex SHA-256 digests used as ledger keys.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Hex hashes data and returns the lowercase hex digest.
func Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Joined hashes parts joined by sep.
func Joined(sep string, parts ...string) string {
	return Hex([]byte(strings.Join(parts, sep)))
}
