// Package domain contains the core entities of the knit store: keys,
// storage kinds and the shared error vocabulary raised across the
// content, index, delta and stream layers.
package domain

import (
	"bytes"
	"crypto/sha1"
	"encoding/hex"
	"strings"
)

// ReservedKeyPrefix is disallowed as a literal key component; it is reserved
// for content-addressed keys generated by Store.Insert from a digest.
const ReservedKeyPrefix = "sha1:"

// Key is an immutable ordered tuple identifying one text version. The last
// element is the version identifier; any leading elements form the prefix
// (partition). Parents of a key must share its prefix.
type Key []string

// Prefix returns all but the final component of the key.
func (k Key) Prefix() Key {
	if len(k) == 0 {
		return nil
	}
	prefix := make(Key, len(k)-1)
	copy(prefix, k[:len(k)-1])
	return prefix
}

// Version returns the final component of the key.
func (k Key) Version() string {
	if len(k) == 0 {
		return ""
	}
	return k[len(k)-1]
}

// SamePrefix reports whether k and other share the same prefix.
func (k Key) SamePrefix(other Key) bool {
	return k.Prefix().Equal(other.Prefix())
}

// Equal reports whether k and other have identical components.
func (k Key) Equal(other Key) bool {
	if len(k) != len(other) {
		return false
	}
	for i := range k {
		if k[i] != other[i] {
			return false
		}
	}
	return true
}

// String renders the key as a human-readable, NUL-joined form.
func (k Key) String() string {
	return strings.Join([]string(k), "\x00")
}

// HasWhitespace reports whether the version component contains whitespace,
// which is disallowed by the index line format.
func HasWhitespace(s string) bool {
	for _, r := range s {
		if r == ' ' || r == '\t' || r == '\n' || r == '\r' {
			return true
		}
	}
	return false
}

// IsReserved reports whether a literal version id collides with the
// content-addressed key namespace.
func IsReserved(version string) bool {
	return strings.HasPrefix(version, ReservedKeyPrefix)
}

// DigestKey builds the final key component from the SHA-1 digest of a
// fulltext, used when the caller passes a nil version id to Insert.
func DigestKey(fulltext []byte) string {
	sum := sha1.Sum(fulltext)
	return ReservedKeyPrefix + hex.EncodeToString(sum[:])
}

// SHA1Hex returns the hex-encoded SHA-1 digest of data.
func SHA1Hex(data []byte) string {
	sum := sha1.Sum(data)
	return hex.EncodeToString(sum[:])
}

// SHA1Lines returns the hex-encoded SHA-1 digest of the concatenation of
// lines. Digests are always computed over reconstructed fulltext bytes,
// never over a delta.
func SHA1Lines(lines [][]byte) string {
	h := sha1.New()
	for _, l := range lines {
		h.Write(l)
	}
	return hex.EncodeToString(h.Sum(nil))
}

// JoinLines concatenates lines into a single fulltext byte slice.
func JoinLines(lines [][]byte) []byte {
	return bytes.Join(lines, nil)
}
