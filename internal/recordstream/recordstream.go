// Package recordstream implements get_record_stream-style production and
// consumption of ordered content.Factory sequences, including fallback
// delegation, delta-closure expansion, and insert-from-stream buffering of
// records whose basis has not yet arrived.
package recordstream

import (
	"context"
	"sort"

	"github.com/prn-tf/knitstore/internal/content"
	"github.com/prn-tf/knitstore/internal/dataaccess"
	"github.com/prn-tf/knitstore/internal/domain"
	"github.com/prn-tf/knitstore/internal/metrics"
)

// Store is the subset of one local or fallback collaborator's
// capabilities the stream layer needs.
type Store interface {
	// GetParentMap returns parents for every one of keys that this store
	// knows about; keys absent from this store are simply omitted.
	GetParentMap(ctx context.Context, keys []domain.Key) (map[string][]domain.Key, error)

	// GetRawFactory returns the native raw record for key, or ok=false if
	// key is not present in this store.
	GetRawFactory(ctx context.Context, key domain.Key) (*content.RawFactory, bool, error)
}

// Positioner is implemented by stores that can report a key's on-disk
// location, used only to group the "unordered" ordering by position.
type Positioner interface {
	Position(ctx context.Context, key domain.Key) (dataaccess.Memo, bool, error)
}

// Streamer produces record streams by consulting a primary store and,
// for keys it cannot satisfy, each fallback in declared order.
type Streamer struct {
	Primary   Store
	Fallbacks []Store
	Metrics   *metrics.Metrics
}

// New builds a Streamer. m may be nil.
func New(primary Store, fallbacks []Store, m *metrics.Metrics) *Streamer {
	return &Streamer{Primary: primary, Fallbacks: fallbacks, Metrics: m}
}

func (s *Streamer) stores() []Store {
	out := make([]Store, 0, len(s.Fallbacks)+1)
	if s.Primary != nil {
		out = append(out, s.Primary)
	}
	out = append(out, s.Fallbacks...)
	return out
}

func (s *Streamer) lookup(ctx context.Context, key domain.Key) (*content.RawFactory, error) {
	for _, st := range s.stores() {
		f, ok, err := st.GetRawFactory(ctx, key)
		if err != nil {
			return nil, err
		}
		if ok {
			return f, nil
		}
	}
	return nil, nil
}

// parentMapFor merges GetParentMap results across the primary and
// fallbacks, primary entries taking precedence, restricted to keys.
func (s *Streamer) parentMapFor(ctx context.Context, keys []domain.Key) (map[string][]domain.Key, error) {
	out := map[string][]domain.Key{}
	remaining := keys
	for _, st := range s.stores() {
		if len(remaining) == 0 {
			break
		}
		pm, err := st.GetParentMap(ctx, remaining)
		if err != nil {
			return nil, err
		}
		var next []domain.Key
		for _, k := range remaining {
			if p, ok := pm[k.String()]; ok {
				out[k.String()] = p
			} else {
				next = append(next, k)
			}
		}
		remaining = next
	}
	return out, nil
}

// GetRecordStream resolves keys to ordered factories, expanding the
// delta closure when requested and always succeeding for keys absent
// everywhere (they are reported as AbsentFactory, never an error at this
// level).
func (s *Streamer) GetRecordStream(ctx context.Context, keys []domain.Key, ordering domain.Ordering, includeDeltaClosure bool) ([]content.Factory, error) {
	resolved := map[string]*content.RawFactory{}
	for _, k := range keys {
		f, err := s.lookup(ctx, k)
		if err != nil {
			return nil, err
		}
		if f != nil {
			resolved[k.String()] = f
		}
	}

	ordered, err := s.order(ctx, keys, ordering)
	if err != nil {
		return nil, err
	}

	var refs []*content.RawFactory
	if includeDeltaClosure {
		refs, err = s.expandClosure(ctx, resolved, keys)
		if err != nil {
			return nil, err
		}
	}

	out := make([]content.Factory, 0, len(ordered)+len(refs))
	for _, k := range ordered {
		if f, ok := resolved[k.String()]; ok {
			out = append(out, f)
		} else {
			out = append(out, &content.AbsentFactory{KeyVal: k})
		}
	}
	for _, r := range refs {
		ref := *r
		ref.Kind = domain.KindDeltaClosureRef
		out = append(out, &ref)
	}

	s.Metrics.IncRecordsStreamed(len(out))
	return out, nil
}

// expandClosure walks compression-parent references outward from the
// already-resolved factories until every basis needed to reconstruct them
// locally is present, returning the additional (not originally requested)
// factories that must also be emitted as "-ref" records.
func (s *Streamer) expandClosure(ctx context.Context, resolved map[string]*content.RawFactory, requested []domain.Key) ([]*content.RawFactory, error) {
	requestedSet := make(map[string]bool, len(requested))
	for _, k := range requested {
		requestedSet[k.String()] = true
	}

	var refs []*content.RawFactory
	seen := map[string]bool{}
	var queue []domain.Key
	for _, f := range resolved {
		if f.CompressionParent != nil {
			queue = append(queue, f.CompressionParent)
		}
	}
	for len(queue) > 0 {
		k := queue[0]
		queue = queue[1:]
		ks := k.String()
		if seen[ks] || requestedSet[ks] {
			continue
		}
		seen[ks] = true

		f, err := s.lookup(ctx, k)
		if err != nil {
			return nil, err
		}
		if f == nil {
			return nil, &domain.MissingRevisionError{Key: k}
		}
		refs = append(refs, f)
		if f.CompressionParent != nil {
			queue = append(queue, f.CompressionParent)
		}
	}
	return refs, nil
}

func (s *Streamer) order(ctx context.Context, keys []domain.Key, ordering domain.Ordering) ([]domain.Key, error) {
	switch ordering {
	case domain.OrderTopological, domain.OrderGroupCompress:
		parentMap, err := s.parentMapFor(ctx, keys)
		if err != nil {
			return nil, err
		}
		topo := topoSort(keys, parentMap)
		if ordering == domain.OrderTopological {
			return topo, nil
		}
		return groupCompressOrder(topo), nil
	default:
		return s.unorderedOrder(ctx, keys), nil
	}
}

// topoSort returns keys ordered so that every parent within the requested
// set strictly precedes its children.
func topoSort(keys []domain.Key, parentMap map[string][]domain.Key) []domain.Key {
	visited := make(map[string]bool, len(keys))
	order := make([]domain.Key, 0, len(keys))
	var visit func(k domain.Key)
	visit = func(k domain.Key) {
		ks := k.String()
		if visited[ks] {
			return
		}
		visited[ks] = true
		for _, p := range parentMap[ks] {
			if _, known := parentMap[p.String()]; known {
				visit(p)
			}
		}
		order = append(order, k)
	}
	for _, k := range keys {
		visit(k)
	}
	return order
}

// groupCompressOrder groups a topological order by key prefix (in first-
// appearance order) and reverses each group, so children precede parents
// within a prefix, maximising compression locality.
func groupCompressOrder(topo []domain.Key) []domain.Key {
	groups := map[string][]domain.Key{}
	var prefixOrder []string
	for _, k := range topo {
		p := k.Prefix().String()
		if _, ok := groups[p]; !ok {
			prefixOrder = append(prefixOrder, p)
		}
		groups[p] = append(groups[p], k)
	}
	out := make([]domain.Key, 0, len(topo))
	for _, p := range prefixOrder {
		g := groups[p]
		for i := len(g) - 1; i >= 0; i-- {
			out = append(out, g[i])
		}
	}
	return out
}

// unorderedOrder preserves request order unless the primary store can
// report on-disk positions, in which case keys are grouped by prefix and
// sorted by offset to reduce seeks.
func (s *Streamer) unorderedOrder(ctx context.Context, keys []domain.Key) []domain.Key {
	pos, ok := s.Primary.(Positioner)
	if !ok {
		return append([]domain.Key(nil), keys...)
	}

	type located struct {
		key  domain.Key
		memo dataaccess.Memo
		has  bool
	}
	items := make([]located, len(keys))
	for i, k := range keys {
		m, found, err := pos.Position(ctx, k)
		items[i] = located{key: k, memo: m, has: found && err == nil}
	}
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].has != items[j].has {
			return items[i].has
		}
		if !items[i].has {
			return false
		}
		pi, pj := items[i].memo.Prefix.String(), items[j].memo.Prefix.String()
		if pi != pj {
			return pi < pj
		}
		return items[i].memo.Offset < items[j].memo.Offset
	})
	out := make([]domain.Key, len(items))
	for i, it := range items {
		out[i] = it.key
	}
	return out
}
