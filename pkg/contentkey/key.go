// ABOUTME: Deterministic, reversible storage keys for logical identifiers
// ABOUTME: Pure hex encoding of the UTF-8 bytes; not a hash and not a security measure

package contentkey

import (
	"encoding/hex"
	"fmt"
)

// Derive returns the storage key for identifier. Equal identifiers always map
// to equal keys and distinct identifiers never share a key.
func Derive(identifier string) string {
	return hex.EncodeToString([]byte(identifier))
}

// Reverse recovers the identifier a key was derived from.
func Reverse(key string) (string, error) {
	raw, err := hex.DecodeString(key)
	if err != nil {
		return "", fmt.Errorf("not a content key %q: %w", key, err)
	}
	return string(raw), nil
}
