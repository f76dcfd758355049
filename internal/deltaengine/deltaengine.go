// Package deltaengine decides whether a new version is stored as a
// fulltext or a line-delta against its leftmost present parent, and
// reconstructs fulltexts by walking the resulting compression chains.
package deltaengine

import (
	"context"
	"fmt"

	"github.com/prn-tf/knitstore/internal/content"
	"github.com/prn-tf/knitstore/internal/dataaccess"
	"github.com/prn-tf/knitstore/internal/domain"
	"github.com/prn-tf/knitstore/internal/knitindex"
	"github.com/prn-tf/knitstore/internal/metrics"
	"github.com/prn-tf/knitstore/internal/record"
)

// Fallback is the subset of another store's reconstruction capability the
// delta engine needs when its own compression chain does not bottom out at
// a local fulltext: the walk stops either at a fulltext or at a basis a
// fallback store can supply.
type Fallback interface {
	Reconstruct(ctx context.Context, key domain.Key) (*content.Content, error)
}

// Engine wires the index and transport layers together for the
// insert-decision and reconstruction algorithms.
type Engine struct {
	Index         knitindex.Index
	Transport     dataaccess.Transport
	MaxDeltaChain int
	// Annotated selects the store-wide record flavour: every record is
	// either annotated or plain, never mixed within one store.
	Annotated bool
	Metrics   *metrics.Metrics
	// Fallbacks are consulted, in order, whenever a compression chain
	// walk reaches a key this engine's own index has no record of.
	Fallbacks []Fallback
}

// New builds an Engine. m may be nil; fallbacks may be omitted entirely.
func New(index knitindex.Index, transport dataaccess.Transport, maxDeltaChain int, annotated bool, m *metrics.Metrics, fallbacks ...Fallback) *Engine {
	return &Engine{Index: index, Transport: transport, MaxDeltaChain: maxDeltaChain, Annotated: annotated, Metrics: m, Fallbacks: fallbacks}
}

// Decision is the outcome of DecideMethod.
type Decision struct {
	Method domain.StorageMethod
	// CompressionParent is set only when Method is MethodLineDelta.
	CompressionParent domain.Key
}

// DecideMethod implements the insert-time fulltext-vs-delta choice.
//
// declaredParents is the new version's full ordered parent list as
// supplied by the caller. present reports whether a given parent is
// already known locally. fulltextSize is the byte length of the new
// version's own reconstructed fulltext.
//
// A delta may only be taken against declaredParents[0], and only when that
// parent is itself present; any other arrangement (no parents, leftmost
// parent is a ghost) forces a fulltext.
func (e *Engine) DecideMethod(ctx context.Context, declaredParents []domain.Key, present func(domain.Key) bool, fulltextSize int) (Decision, error) {
	if e.MaxDeltaChain <= 0 {
		return Decision{Method: domain.MethodFulltext}, nil
	}
	if len(declaredParents) == 0 || !present(declaredParents[0]) {
		return Decision{Method: domain.MethodFulltext}, nil
	}
	compressionParent := declaredParents[0]

	details, err := e.Index.GetBuildDetails(ctx, []domain.Key{compressionParent})
	if err != nil {
		return Decision{}, fmt.Errorf("deltaengine: build details for %s: %w", compressionParent, err)
	}
	cur, ok := details[compressionParent.String()]
	if !ok {
		// Index disagrees with the caller's presence check; be safe.
		return Decision{Method: domain.MethodFulltext}, nil
	}

	var accumulated int64
	for hop := 0; hop < e.MaxDeltaChain; hop++ {
		if cur.Method == domain.MethodFulltext {
			fulltextCost := cur.Memo.Length
			if fulltextCost > accumulated {
				return Decision{Method: domain.MethodLineDelta, CompressionParent: compressionParent}, nil
			}
			return Decision{Method: domain.MethodFulltext}, nil
		}
		accumulated += cur.Memo.Length
		if cur.CompressionParent == nil {
			return Decision{Method: domain.MethodFulltext}, nil
		}
		next, err := e.Index.GetBuildDetails(ctx, []domain.Key{cur.CompressionParent})
		if err != nil {
			return Decision{}, fmt.Errorf("deltaengine: build details for %s: %w", cur.CompressionParent, err)
		}
		nd, ok := next[cur.CompressionParent.String()]
		if !ok {
			return Decision{Method: domain.MethodFulltext}, nil
		}
		cur = nd
	}
	// Exceeded max_delta_chain hops without reaching a fulltext.
	return Decision{Method: domain.MethodFulltext}, nil
}

type component struct {
	Key     domain.Key
	Details knitindex.BuildDetails
	// FallbackContent is set instead of Details when this component's
	// content was resolved from a fallback store rather than this
	// engine's own index/transport.
	FallbackContent *content.Content
}

// buildChain walks compression parents from key back to the fulltext root
// and returns the chain ordered root-first. A component this engine's own
// index has no record of is resolved through Fallbacks, in order, instead
// of failing immediately; the fallback-resolved component always ends the
// walk (it carries a fulltext, never a further compression parent to
// chase).
func (e *Engine) buildChain(ctx context.Context, key domain.Key) ([]component, error) {
	var chain []component
	cur := key
	seen := make(map[string]bool)
	for {
		k := cur.String()
		if seen[k] {
			return nil, domain.NewCorrupt(key.String(), "cyclic delta chain detected at %s", cur)
		}
		seen[k] = true

		details, err := e.Index.GetBuildDetails(ctx, []domain.Key{cur})
		if err != nil {
			return nil, fmt.Errorf("deltaengine: build details for %s: %w", cur, err)
		}
		d, ok := details[k]
		if !ok {
			fc, ferr := e.reconstructFallback(ctx, cur)
			if ferr != nil {
				return nil, &domain.MissingRevisionError{Key: cur}
			}
			chain = append(chain, component{Key: cur, FallbackContent: fc})
			break
		}
		chain = append(chain, component{Key: cur, Details: d})
		if d.Method == domain.MethodFulltext {
			break
		}
		if d.CompressionParent == nil {
			return nil, domain.NewCorrupt(cur.String(), "line-delta record has no compression parent")
		}
		if len(chain) > e.MaxDeltaChain+1 {
			return nil, domain.NewCorrupt(key.String(), "delta chain for %s exceeds max_delta_chain bound", key)
		}
		cur = d.CompressionParent
	}
	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}
	return chain, nil
}

// reconstructFallback asks each declared fallback, in order, to reconstruct
// key, returning the first success.
func (e *Engine) reconstructFallback(ctx context.Context, key domain.Key) (*content.Content, error) {
	for _, fb := range e.Fallbacks {
		c, err := fb.Reconstruct(ctx, key)
		if err == nil {
			return c, nil
		}
	}
	return nil, &domain.MissingRevisionError{Key: key}
}

// Reconstruct builds the fulltext Content for key: it walks key's
// compression chain to its fulltext root (resolving through Fallbacks when
// the chain leaves this engine's own index), fetches every locally
// resolved component's raw bytes in a single batch read, decodes bottom-up
// applying each delta in turn, and verifies the resulting digest against
// the target record's own SHA-1 before returning it.
func (e *Engine) Reconstruct(ctx context.Context, key domain.Key) (*content.Content, error) {
	chain, err := e.buildChain(ctx, key)
	if err != nil {
		e.Metrics.IncRead("missing")
		return nil, err
	}

	// The root component is the only one that can be fallback-resolved
	// (buildChain always ends the walk there); every later component is
	// necessarily local.
	localStart := 0
	if chain[0].FallbackContent != nil {
		localStart = 1
	}
	memos := make([]dataaccess.Memo, 0, len(chain)-localStart)
	for _, c := range chain[localStart:] {
		memos = append(memos, c.Details.Memo)
	}
	var raws [][]byte
	if len(memos) > 0 {
		raws, err = e.Transport.GetRawRecords(ctx, memos)
		if err != nil {
			e.Metrics.IncRead("error")
			return nil, fmt.Errorf("deltaengine: fetch components for %s: %w", key, err)
		}
	}

	var cur *content.Content
	var target *record.Record
	if chain[0].FallbackContent != nil {
		cur = chain[0].FallbackContent
	} else {
		root := chain[0]
		rootRec, err := record.Parse(raws[0], root.Key, root.Details.Method, e.Annotated, root.Details.NoEOL)
		if err != nil {
			e.Metrics.IncRead("corrupt")
			return nil, err
		}
		cur = contentFromFulltext(rootRec, root.Key, e.Annotated)
		target = rootRec
	}

	for i := 1; i < len(chain); i++ {
		comp := chain[i]
		rec, err := record.Parse(raws[i-localStart], comp.Key, comp.Details.Method, e.Annotated, comp.Details.NoEOL)
		if err != nil {
			e.Metrics.IncRead("corrupt")
			return nil, err
		}
		hunks := convertHunks(rec.Hunks, comp.Key.Prefix(), e.Annotated)
		cur = cur.ApplyDelta(hunks, comp.Key)
		target = rec
	}

	final := chain[len(chain)-1]
	if final.FallbackContent != nil {
		// The whole chain resolved inside a fallback store, which
		// already verified its own digest; nothing local to check.
		e.Metrics.IncRead("ok")
		return final.FallbackContent, nil
	}
	cur.SetStripFinalEOL(final.Details.NoEOL)

	got := domain.SHA1Lines(cur.Text())
	if got != target.SHA1 {
		e.Metrics.IncRead("mismatch")
		return nil, &domain.Sha1MismatchError{Key: key, Expected: target.SHA1, Actual: got, Content: cur.Text()}
	}

	e.Metrics.ObserveChainLength(len(chain) - 1)
	e.Metrics.IncRead("ok")
	return cur, nil
}

// GetFulltext is a convenience wrapper returning the reconstructed bytes.
func (e *Engine) GetFulltext(ctx context.Context, key domain.Key) ([]byte, error) {
	c, err := e.Reconstruct(ctx, key)
	if err != nil {
		return nil, err
	}
	return c.Fulltext(), nil
}

func contentFromFulltext(rec *record.Record, key domain.Key, annotated bool) *content.Content {
	if annotated {
		prefix := key.Prefix()
		lines := make([]content.Line, len(rec.Lines))
		for i, l := range rec.Lines {
			lines[i] = content.Line{Origin: originKey(prefix, l.Origin), Text: l.Text}
		}
		return content.NewAnnotated(lines)
	}
	texts := make([][]byte, len(rec.Lines))
	for i, l := range rec.Lines {
		texts[i] = l.Text
	}
	return content.NewPlain(texts, key)
}

func convertHunks(hunks []record.Hunk, prefix domain.Key, annotated bool) []content.Hunk {
	out := make([]content.Hunk, len(hunks))
	for i, h := range hunks {
		lines := make([]content.Line, len(h.NewLines))
		for j, l := range h.NewLines {
			var origin domain.Key
			if annotated && l.Origin != "" {
				origin = originKey(prefix, l.Origin)
			}
			lines[j] = content.Line{Origin: origin, Text: l.Text}
		}
		out[i] = content.Hunk{Start: h.SrcStart, End: h.SrcEnd, NewLines: lines}
	}
	return out
}

func originKey(prefix domain.Key, version string) domain.Key {
	out := make(domain.Key, 0, len(prefix)+1)
	out = append(out, prefix...)
	out = append(out, version)
	return out
}
