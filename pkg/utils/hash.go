package utils

import (
	"crypto/md5"
	"fmt"
)

// HashBytes returns the hex md5 of raw content. Used for document
// fingerprints and embedding cache keys.
func HashBytes(input []byte) string {
	hash := md5.Sum(input)
	return fmt.Sprintf("%x", hash)
}

func HashString(input string) string {
	return HashBytes([]byte(input))
}
