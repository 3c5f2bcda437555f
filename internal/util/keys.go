package util

import (
	"crypto/sha256"
	"encoding/hex"
	"net/url"
)

// CanonicalKey renders kind and params as "kind?k1=v1&k2=v2" with params sorted
// by name, so equal parameter sets always produce the same string.
func CanonicalKey(kind string, params map[string]string) string {
	if len(params) == 0 {
		return kind
	}
	vals := make(url.Values, len(params))
	for k, v := range params {
		vals.Set(k, v)
	}
	return kind + "?" + vals.Encode() // Encode sorts by key
}

// StorageKey returns prefix + ":" + first 16 hex chars of sha256(canonical).
// Keeps provider keys short and free of characters some stores dislike.
func StorageKey(prefix, canonical string) string {
	sum := sha256.Sum256([]byte(canonical))
	return prefix + ":" + hex.EncodeToString(sum[:8])
}
