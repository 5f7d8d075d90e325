package utils

import (
	"crypto/sha256"
	"fmt"
)

// HashBytes returns the hex-encoded sha256 of the input. Used for document
// content deduplication and cache keys.
func HashBytes(input []byte) string {
	hash := sha256.Sum256(input)
	return fmt.Sprintf("%x", hash)
}

func HashString(input string) string {
	return HashBytes([]byte(input))
}
