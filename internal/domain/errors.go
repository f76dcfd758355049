package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors that do not carry structured context. Errors that
// must carry a key, offsets or digests are defined as types below.
var (
	// ErrExistingContent is returned when an insert was told not to store
	// if the digest already matches (the nostore_sha short-circuit).
	ErrExistingContent = errors.New("knit: content already stored with matching digest")

	// ErrReadOnly is returned when a write is attempted on a read-only view.
	ErrReadOnly = errors.New("knit: store is read-only")

	// ErrCacheMiss indicates a requested key was not present in a content cache.
	ErrCacheMiss = errors.New("knit: cache miss")

	// ErrLockNotAcquired indicates a distributed lock could not be acquired.
	ErrLockNotAcquired = errors.New("knit: lock not acquired")

	// ErrLockNotOwned indicates an unlock/extend was attempted by a non-owner.
	ErrLockNotOwned = errors.New("knit: lock not owned by caller")
)

// CorruptError reports malformed on-disk data: a bad header, a line-count
// mismatch, a bad end marker, invalid gzip, or a bad parent reference.
type CorruptError struct {
	Where  string // e.g. index path or data container
	Detail string
}

func (e *CorruptError) Error() string {
	return fmt.Sprintf("knit: corrupt %s: %s", e.Where, e.Detail)
}

// NewCorrupt builds a CorruptError with a formatted detail message.
func NewCorrupt(where, format string, args ...any) *CorruptError {
	return &CorruptError{Where: where, Detail: fmt.Sprintf(format, args...)}
}

// MissingRevisionError is raised when a requested key is absent where
// presence is required.
type MissingRevisionError struct {
	Key Key
}

func (e *MissingRevisionError) Error() string {
	return fmt.Sprintf("knit: missing revision %s", e.Key)
}

// Sha1MismatchError is raised when digest verification of a reconstructed
// fulltext fails. Content is included so repair tooling can diff it against
// expected sources.
type Sha1MismatchError struct {
	Key      Key
	Expected string
	Actual   string
	Content  [][]byte
}

func (e *Sha1MismatchError) Error() string {
	return fmt.Sprintf("knit: sha1 mismatch for %s: expected %s, got %s", e.Key, e.Expected, e.Actual)
}

// InvalidOptionsError is raised when a record's storage method is unknown
// or an illegal combination of options is present.
type InvalidOptionsError struct {
	Key     Key
	Options []string
}

func (e *InvalidOptionsError) Error() string {
	return fmt.Sprintf("knit: invalid options %v for %s", e.Options, e.Key)
}

// UnavailableRepresentationError is raised when a requested storage kind
// cannot be produced from a record without further data (e.g. a missing
// basis store).
type UnavailableRepresentationError struct {
	Key    Key
	Wanted string
	Native string
}

func (e *UnavailableRepresentationError) Error() string {
	return fmt.Sprintf("knit: cannot produce %q for %s (native kind %q)", e.Wanted, e.Key, e.Native)
}

// MissingCompressionParentError is raised when an insert-from-stream
// completes with unresolved basis references that the caller must resolve.
type MissingCompressionParentError struct {
	Keys []Key
}

func (e *MissingCompressionParentError) Error() string {
	return fmt.Sprintf("knit: %d unresolved compression parent(s)", len(e.Keys))
}
