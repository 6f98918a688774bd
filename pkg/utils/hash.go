package utils

import (
	"crypto/sha256"
	"encoding/hex"
)

// HashID computes a truncated SHA-256 hex digest suitable for use as a
// directory or key component. 16 hex chars keeps collision odds negligible
// for per-site URL counts while staying readable in listings.
func HashID(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])[:16]
}

// CalculateStringSHA256 computes the full SHA-256 hash of a string.
func CalculateStringSHA256(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}
