package recordstream

import (
	"context"

	"github.com/prn-tf/knitstore/internal/content"
	"github.com/prn-tf/knitstore/internal/domain"
	"github.com/prn-tf/knitstore/internal/metrics"
)

// Sink is implemented by the receiver of an insert-from-stream: something
// that can durably commit a raw record and answer whether a given key's
// basis is already resolvable (present locally, or known absent even in
// fallbacks).
type Sink interface {
	PutRecord(ctx context.Context, f *content.RawFactory) error
	HasBasis(ctx context.Context, key domain.Key) (bool, error)
}

// Inserter buffers incoming records whose compression parent has not yet
// arrived, flushing them transitively once that parent is committed.
type Inserter struct {
	Sink    Sink
	Metrics *metrics.Metrics

	pending map[string][]*content.RawFactory
}

// NewInserter builds an Inserter. m may be nil.
func NewInserter(sink Sink, m *metrics.Metrics) *Inserter {
	return &Inserter{Sink: sink, Metrics: m, pending: map[string][]*content.RawFactory{}}
}

// InsertOne offers a single incoming factory. It is committed immediately
// if its basis is already resolvable, or buffered keyed by the missing
// basis otherwise.
func (ins *Inserter) InsertOne(ctx context.Context, f *content.RawFactory) error {
	return ins.tryInsert(ctx, f)
}

func (ins *Inserter) tryInsert(ctx context.Context, f *content.RawFactory) error {
	if f.CompressionParent != nil {
		ok, err := ins.Sink.HasBasis(ctx, f.CompressionParent)
		if err != nil {
			return err
		}
		if !ok {
			basis := f.CompressionParent.String()
			ins.pending[basis] = append(ins.pending[basis], f)
			return nil
		}
	}
	if err := ins.Sink.PutRecord(ctx, f); err != nil {
		return err
	}
	ins.Metrics.IncRecordsStreamed(1)

	waiters := ins.pending[f.Key().String()]
	delete(ins.pending, f.Key().String())
	for _, w := range waiters {
		if err := ins.tryInsert(ctx, w); err != nil {
			return err
		}
	}
	return nil
}

// Finish commits every still-buffered record and returns the set of
// compression parents that remained unresolved, which the caller must
// feed to the index's missing-parent tracker before the write group is
// considered final.
func (ins *Inserter) Finish(ctx context.Context) ([]domain.Key, error) {
	seen := map[string]bool{}
	var missing []domain.Key
	for _, waiters := range ins.pending {
		for _, w := range waiters {
			if err := ins.Sink.PutRecord(ctx, w); err != nil {
				return nil, err
			}
			ins.Metrics.IncRecordsStreamed(1)
			if k := w.CompressionParent.String(); !seen[k] {
				seen[k] = true
				missing = append(missing, w.CompressionParent)
			}
		}
	}
	ins.pending = map[string][]*content.RawFactory{}
	return missing, nil
}
