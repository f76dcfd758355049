// Package knitindex defines the shared index contract implemented by the
// text and graph back-ends: the persistent mapping from a
// key to its storage method, location, parents and flags.
package knitindex

import (
	"context"

	"github.com/prn-tf/knitstore/internal/dataaccess"
	"github.com/prn-tf/knitstore/internal/domain"
)

// Entry is one record's index data as supplied to AddRecords.
type Entry struct {
	Key     domain.Key
	Options []string // storage method plus optional "no-eol"
	Memo    dataaccess.Memo
	Parents []domain.Key
}

// BuildDetails is what a reconstruction needs for one key: where its bytes
// live, its immediate compression parent (nil for fulltext), its declared
// parents, and its storage method/flags.
type BuildDetails struct {
	Memo              dataaccess.Memo
	CompressionParent domain.Key
	Parents           []domain.Key
	Method            domain.StorageMethod
	NoEOL             bool
}

// Index is the persistent key -> (method, location, parents, flags)
// mapping. Implementations must tolerate duplicate additions of a
// key with identical content and must reject inconsistent duplicates
// (differing parents or eol flag).
type Index interface {
	// AddRecords appends entries to the index. missingCompressionParents
	// is advisory input identifying which of the batch's compression
	// parents are already known to be absent; back-ends that track missing
	// parents (the graph back-end) fold it into their own state.
	AddRecords(ctx context.Context, entries []Entry, randomID bool, missingCompressionParents []domain.Key) error

	GetParentMap(ctx context.Context, keys []domain.Key) (map[string][]domain.Key, error)
	GetBuildDetails(ctx context.Context, keys []domain.Key) (map[string]BuildDetails, error)
	GetMethod(ctx context.Context, key domain.Key) (domain.StorageMethod, error)
	GetOptions(ctx context.Context, key domain.Key) ([]string, error)
	GetPosition(ctx context.Context, key domain.Key) (dataaccess.Memo, error)
	Keys(ctx context.Context) ([]domain.Key, error)

	// FindAncestry returns keys together with every key reachable by
	// following parent edges from them, in no particular order.
	FindAncestry(ctx context.Context, keys []domain.Key) ([]domain.Key, error)
}

// MissingParentTracker is implemented only by back-ends that can report
// compression parents referenced but not yet present (the graph back-end).
type MissingParentTracker interface {
	GetMissingCompressionParents(ctx context.Context) ([]domain.Key, error)
}

// HasNoEOL reports whether options carries the no-eol flag.
func HasNoEOL(options []string) bool {
	for _, o := range options {
		if o == string(domain.FlagNoEOL) {
			return true
		}
	}
	return false
}

// MethodFromOptions extracts the storage method from an options list.
func MethodFromOptions(options []string) domain.StorageMethod {
	for _, o := range options {
		switch domain.StorageMethod(o) {
		case domain.MethodFulltext, domain.MethodLineDelta:
			return domain.StorageMethod(o)
		}
	}
	return ""
}
