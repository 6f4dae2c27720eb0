package util

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

func SHA256Hex(b []byte) string {
	x := sha256.Sum256(b)
	return hex.EncodeToString(x[:])
}

// ShortHash returns the first n hex characters of the sha256 digest.
func ShortHash(b []byte, n int) string {
	h := SHA256Hex(b)
	if n <= 0 || n > len(h) {
		return h
	}
	return h[:n]
}

var doiPrefixes = []string{
	"https://doi.org/",
	"http://doi.org/",
	"https://dx.doi.org/",
	"http://dx.doi.org/",
	"doi.org/",
	"doi:",
}

// NormalizeDOI strips resolver prefixes and lowercases; DOIs are case-insensitive.
func NormalizeDOI(raw string) string {
	s := strings.TrimSpace(raw)
	low := strings.ToLower(s)
	for _, p := range doiPrefixes {
		if strings.HasPrefix(low, p) {
			low = strings.TrimSpace(low[len(p):])
			break
		}
	}
	return low
}
