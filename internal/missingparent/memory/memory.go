// Package memory is the default, process-local missingparent.Tracker. It
// requires no external dependency and is sufficient for a single knitctl
// process driving a record stream insertion.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/prn-tf/knitstore/internal/domain"
	"github.com/prn-tf/knitstore/internal/missingparent"
)

var _ missingparent.Tracker = (*Tracker)(nil)

type entryKey struct {
	key          string
	referencedBy string
}

// Tracker is a mutex-guarded in-memory missingparent.Tracker.
type Tracker struct {
	mu      sync.Mutex
	entries map[entryKey]*missingparent.Entry
}

// New creates an empty Tracker.
func New() *Tracker {
	return &Tracker{entries: make(map[entryKey]*missingparent.Entry)}
}

// MarkMissing implements missingparent.Tracker.
func (t *Tracker) MarkMissing(ctx context.Context, key, referencedBy domain.Key) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	ek := entryKey{key: key.String(), referencedBy: referencedBy.String()}
	if _, ok := t.entries[ek]; ok {
		return nil
	}
	t.entries[ek] = &missingparent.Entry{
		Key:          key,
		ReferencedBy: referencedBy,
		FirstSeen:    time.Now(),
	}
	return nil
}

// MarkResolved implements missingparent.Tracker.
func (t *Tracker) MarkResolved(ctx context.Context, key domain.Key) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	ks := key.String()
	now := time.Now()
	for ek, e := range t.entries {
		if ek.key == ks && !e.Resolved {
			e.Resolved = true
			e.ResolvedAt = &now
		}
	}
	return nil
}

// ListMissing implements missingparent.Tracker.
func (t *Tracker) ListMissing(ctx context.Context) ([]missingparent.Entry, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	var out []missingparent.Entry
	for _, e := range t.entries {
		if !e.Resolved {
			out = append(out, *e)
		}
	}
	return out, nil
}

// GetStats implements missingparent.Tracker.
func (t *Tracker) GetStats(ctx context.Context) (missingparent.Stats, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	var stats missingparent.Stats
	for _, e := range t.entries {
		stats.TotalTracked++
		if e.Resolved {
			stats.Resolved++
		} else {
			stats.Missing++
		}
	}
	return stats, nil
}
