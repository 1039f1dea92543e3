// Package checksum tracks per-key digests of stored records so a reader can
// tell which top-level keys another writer changed.
package checksum

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
)

// Sum returns the hex-encoded SHA-256 digest of data.
func Sum(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

// Set maps a record key to the digest of its value.
type Set map[string]string

// Of digests every value. The values are compared byte for byte, so callers
// should pass them in the form they were read from storage.
func Of[V ~[]byte](values map[string]V) Set {
	out := make(Set, len(values))
	for k, v := range values {
		out[k] = Sum(v)
	}
	return out
}

// Diff returns the sorted keys added, removed or changed between s and next.
func (s Set) Diff(next Set) []string {
	var keys []string
	for k, sum := range next {
		if prev, ok := s[k]; !ok || prev != sum {
			keys = append(keys, k)
		}
	}
	for k := range s {
		if _, ok := next[k]; !ok {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}
