// Package missingparent tracks compression parents that a record stream
// insertion referenced but has not yet received: a record whose declared
// compression parent has not arrived is buffered rather than rejected, and
// the gap is recorded here until the parent lands.
package missingparent

import (
	"context"
	"time"

	"github.com/prn-tf/knitstore/internal/domain"
)

// Entry records that key was referenced as a compression parent by
// referencedBy but has not yet been seen in the store.
type Entry struct {
	Key          domain.Key
	ReferencedBy domain.Key
	FirstSeen    time.Time
	Resolved     bool
	ResolvedAt   *time.Time
}

// Stats summarises the tracker's current bookkeeping.
type Stats struct {
	TotalTracked int64
	Missing      int64
	Resolved     int64
}

// Tracker records and resolves missing-compression-parent references so a
// store can answer "is it safe to expand this closure yet" and surface
// permanently-stuck records to an operator.
type Tracker interface {
	// MarkMissing records that key was referenced as a compression parent
	// by referencedBy and has not been seen yet. Calling it again for the
	// same (key, referencedBy) pair is a no-op.
	MarkMissing(ctx context.Context, key, referencedBy domain.Key) error

	// MarkResolved marks every entry referencing key as resolved, because
	// key has now arrived.
	MarkResolved(ctx context.Context, key domain.Key) error

	// ListMissing returns all currently-unresolved entries.
	ListMissing(ctx context.Context) ([]Entry, error)

	// GetStats returns aggregate counts across tracked entries.
	GetStats(ctx context.Context) (Stats, error)
}
