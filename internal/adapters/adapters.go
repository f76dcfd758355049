// Package adapters converts a raw record from its native storage kind
// into a different representation on the fly, without mutating the
// original stream: annotated into plain, a delta into a
// materialised view, or either into a target store's native kind.
package adapters

import (
	"context"
	"fmt"

	"github.com/prn-tf/knitstore/internal/content"
	"github.com/prn-tf/knitstore/internal/domain"
	"github.com/prn-tf/knitstore/internal/record"
)

// BasisProvider resolves a delta's compression parent to its reconstructed
// content, for adapters that must apply a delta to produce a view.
type BasisProvider interface {
	GetFulltext(ctx context.Context, key domain.Key) (*content.Content, error)
}

// Func converts one raw factory to the bytes or value of a target kind.
// basis may be nil for adapters that never need one; such adapters must
// not dereference it.
type Func func(ctx context.Context, f *content.RawFactory, basis BasisProvider) (any, error)

type pairKey struct {
	source, target domain.StorageKind
}

var registry = map[pairKey]Func{
	{domain.KindAnnotatedFulltext, domain.KindPlainFulltext}: annotatedFulltextToPlainFulltext,
	{domain.KindAnnotatedDelta, domain.KindPlainDelta}:       annotatedDeltaToPlainDelta,

	{domain.KindPlainFulltext, domain.KindFulltext}: plainFulltextToView(domain.KindFulltext),
	{domain.KindPlainFulltext, domain.KindChunked}:  plainFulltextToView(domain.KindChunked),
	{domain.KindPlainFulltext, domain.KindLines}:    plainFulltextToView(domain.KindLines),

	{domain.KindPlainDelta, domain.KindFulltext}: plainDeltaToView(domain.KindFulltext),
	{domain.KindPlainDelta, domain.KindChunked}:  plainDeltaToView(domain.KindChunked),
	{domain.KindPlainDelta, domain.KindLines}:    plainDeltaToView(domain.KindLines),

	{domain.KindAnnotatedFulltext, domain.KindFulltext}: annotatedFulltextToView(domain.KindFulltext),
	{domain.KindAnnotatedFulltext, domain.KindChunked}:  annotatedFulltextToView(domain.KindChunked),
	{domain.KindAnnotatedFulltext, domain.KindLines}:    annotatedFulltextToView(domain.KindLines),

	{domain.KindAnnotatedDelta, domain.KindFulltext}: annotatedDeltaToView(domain.KindFulltext),
	{domain.KindAnnotatedDelta, domain.KindChunked}:  annotatedDeltaToView(domain.KindChunked),
	{domain.KindAnnotatedDelta, domain.KindLines}:    annotatedDeltaToView(domain.KindLines),
}

// viewOf materialises a reconstructed content as the requested view kind:
// a single byte slice for fulltext, or one byte slice per line for the
// chunked and lines views.
func viewOf(c *content.Content, target domain.StorageKind) any {
	if target == domain.KindFulltext {
		return c.Fulltext()
	}
	return c.Text()
}

// Get looks up the registered adapter for a (source, target) pair.
func Get(source, target domain.StorageKind) (Func, bool) {
	fn, ok := registry[pairKey{source, target}]
	return fn, ok
}

// Convert resolves and runs the adapter for f's native kind to target, or
// reports that no adapter exists for the pair.
func Convert(ctx context.Context, f *content.RawFactory, target domain.StorageKind, basis BasisProvider) (any, error) {
	if f.StorageKind() == target {
		return f.GetBytesAs(target)
	}
	fn, ok := Get(f.StorageKind(), target)
	if !ok {
		return nil, &domain.UnavailableRepresentationError{Key: f.Key(), Wanted: string(target), Native: string(f.StorageKind())}
	}
	return fn(ctx, f, basis)
}

func decodeRecord(f *content.RawFactory, method domain.StorageMethod, annotated bool) (*record.Record, error) {
	rec, err := record.Parse(f.Raw, f.Key(), method, annotated, f.NoEOL)
	if err != nil {
		return nil, fmt.Errorf("adapters: decode %s: %w", f.Key(), err)
	}
	return rec, nil
}

// annotatedFulltextToPlainFulltext strips per-line origins and re-frames
// the record as a plain fulltext.
func annotatedFulltextToPlainFulltext(ctx context.Context, f *content.RawFactory, basis BasisProvider) (any, error) {
	rec, err := decodeRecord(f, domain.MethodFulltext, true)
	if err != nil {
		return nil, err
	}
	return record.Serialise(stripLines(rec))
}

// annotatedDeltaToPlainDelta strips per-line origins from each hunk's
// replacement lines.
func annotatedDeltaToPlainDelta(ctx context.Context, f *content.RawFactory, basis BasisProvider) (any, error) {
	rec, err := decodeRecord(f, domain.MethodLineDelta, true)
	if err != nil {
		return nil, err
	}
	return record.Serialise(stripHunks(rec))
}

func stripLines(rec *record.Record) *record.Record {
	out := *rec
	out.Annotated = false
	out.Lines = make([]record.Line, len(rec.Lines))
	for i, l := range rec.Lines {
		out.Lines[i] = record.Line{Text: l.Text}
	}
	return &out
}

func stripHunks(rec *record.Record) *record.Record {
	out := *rec
	out.Annotated = false
	out.Hunks = make([]record.Hunk, len(rec.Hunks))
	for i, h := range rec.Hunks {
		lines := make([]record.Line, len(h.NewLines))
		for j, l := range h.NewLines {
			lines[j] = record.Line{Text: l.Text}
		}
		out.Hunks[i] = record.Hunk{SrcStart: h.SrcStart, SrcEnd: h.SrcEnd, NewLines: lines}
	}
	return &out
}

// plainFulltextToView decodes a plain fulltext record directly into the
// requested view; fulltext, chunked, and lines are all derived from the
// same decoded line slice.
func plainFulltextToView(target domain.StorageKind) Func {
	return func(ctx context.Context, f *content.RawFactory, basis BasisProvider) (any, error) {
		rec, err := decodeRecord(f, domain.MethodFulltext, false)
		if err != nil {
			return nil, err
		}
		c := plainContentFromRecord(rec, f.Key())
		c.SetStripFinalEOL(f.NoEOL)
		return viewOf(c, target), nil
	}
}

// plainDeltaToView decodes a plain delta, fetches its basis through
// basis, applies the delta, and returns the resulting view.
func plainDeltaToView(target domain.StorageKind) Func {
	return func(ctx context.Context, f *content.RawFactory, basis BasisProvider) (any, error) {
		rec, err := decodeRecord(f, domain.MethodLineDelta, false)
		if err != nil {
			return nil, err
		}
		basisContent, err := basis.GetFulltext(ctx, f.CompressionParent)
		if err != nil {
			return nil, fmt.Errorf("adapters: fetch basis %s: %w", f.CompressionParent, err)
		}
		c := basisContent.ApplyDelta(convertRecordHunks(rec.Hunks), f.Key())
		c.SetStripFinalEOL(f.NoEOL)
		return viewOf(c, target), nil
	}
}

// annotatedFulltextToView decodes an annotated fulltext, strips origins,
// and returns the requested view.
func annotatedFulltextToView(target domain.StorageKind) Func {
	return func(ctx context.Context, f *content.RawFactory, basis BasisProvider) (any, error) {
		rec, err := decodeRecord(f, domain.MethodFulltext, true)
		if err != nil {
			return nil, err
		}
		c := plainContentFromRecord(stripLines(rec), f.Key())
		c.SetStripFinalEOL(f.NoEOL)
		return viewOf(c, target), nil
	}
}

// annotatedDeltaToView decodes an annotated delta, fetches its basis, and
// applies it, returning the requested view.
func annotatedDeltaToView(target domain.StorageKind) Func {
	return func(ctx context.Context, f *content.RawFactory, basis BasisProvider) (any, error) {
		rec, err := decodeRecord(f, domain.MethodLineDelta, true)
		if err != nil {
			return nil, err
		}
		basisContent, err := basis.GetFulltext(ctx, f.CompressionParent)
		if err != nil {
			return nil, fmt.Errorf("adapters: fetch basis %s: %w", f.CompressionParent, err)
		}
		c := basisContent.ApplyDelta(convertRecordHunks(stripHunks(rec).Hunks), f.Key())
		c.SetStripFinalEOL(f.NoEOL)
		return viewOf(c, target), nil
	}
}

func plainContentFromRecord(rec *record.Record, key domain.Key) *content.Content {
	texts := make([][]byte, len(rec.Lines))
	for i, l := range rec.Lines {
		texts[i] = l.Text
	}
	return content.NewPlain(texts, key)
}

func convertRecordHunks(hunks []record.Hunk) []content.Hunk {
	out := make([]content.Hunk, len(hunks))
	for i, h := range hunks {
		lines := make([]content.Line, len(h.NewLines))
		for j, l := range h.NewLines {
			lines[j] = content.Line{Text: l.Text}
		}
		out[i] = content.Hunk{Start: h.SrcStart, End: h.SrcEnd, NewLines: lines}
	}
	return out
}
