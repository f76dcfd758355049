// Package annotate implements per-line origin attribution across a key's
// full ancestry: for each reconstructed line it names the key that first
// introduced it, reusing reconstructed content across sibling annotations
// sharing a basis.
package annotate

import (
	"context"
	"fmt"

	"github.com/pmezard/go-difflib/difflib"

	"github.com/prn-tf/knitstore/internal/content"
	"github.com/prn-tf/knitstore/internal/dataaccess"
	"github.com/prn-tf/knitstore/internal/domain"
	"github.com/prn-tf/knitstore/internal/knitindex"
	"github.com/prn-tf/knitstore/internal/record"
)

// Annotator computes (origin, line) pairs for a key's fulltext.
type Annotator struct {
	Index     knitindex.Index
	Transport dataaccess.Transport
	// Annotated selects whether records are parsed as annotated or plain
	// on disk; it mirrors the store-wide record flavour and does not
	// affect the attribution algorithm itself, which always recomputes
	// origins from matching blocks against parent content.
	Annotated bool
}

// New builds an Annotator.
func New(index knitindex.Index, transport dataaccess.Transport, annotated bool) *Annotator {
	return &Annotator{Index: index, Transport: transport, Annotated: annotated}
}

type ancestorNode struct {
	key                 domain.Key
	details             knitindex.BuildDetails
	compressionChildren int
}

// Annotate returns (origin, line) pairs for key's reconstructed fulltext.
func (a *Annotator) Annotate(ctx context.Context, key domain.Key) ([]content.Line, error) {
	order, nodes, err := a.walkAncestry(ctx, key)
	if err != nil {
		return nil, err
	}

	memos := make([]dataaccess.Memo, len(order))
	for i, k := range order {
		memos[i] = nodes[k.String()].details.Memo
	}
	raws, err := a.Transport.GetRawRecords(ctx, memos)
	if err != nil {
		return nil, fmt.Errorf("annotate: fetch ancestry components: %w", err)
	}

	cache := map[string]*content.Content{}
	annotated := map[string][]content.Line{}

	for i, k := range order {
		ks := k.String()
		node := nodes[ks]

		rec, err := record.Parse(raws[i], k, node.details.Method, a.Annotated, node.details.NoEOL)
		if err != nil {
			return nil, err
		}

		var c *content.Content
		if node.details.Method == domain.MethodFulltext {
			c = plainContentFromRecord(rec, k)
		} else {
			basisKey := node.details.CompressionParent
			bks := basisKey.String()
			basis, ok := cache[bks]
			if !ok {
				return nil, domain.NewCorrupt(k.String(), "basis %s not materialised before its delta (ancestry order violated)", basisKey)
			}
			hunks := convertRecordHunks(rec.Hunks)
			basisNode := nodes[bks]
			if basisNode.compressionChildren > 1 {
				c = basis.Copy().ApplyDelta(hunks, k)
			} else {
				c = basis.ApplyDelta(hunks, k)
			}
			basisNode.compressionChildren--
			if basisNode.compressionChildren <= 0 {
				delete(cache, bks)
			}
		}
		c.SetStripFinalEOL(node.details.NoEOL)
		cache[ks] = c

		parentAnnotations := make([][]content.Line, 0, len(node.details.Parents))
		for _, p := range node.details.Parents {
			pa, ok := annotated[p.String()]
			if !ok {
				return nil, domain.NewCorrupt(k.String(), "parent %s annotated after child %s (ancestry order violated)", p, k)
			}
			parentAnnotations = append(parentAnnotations, pa)
		}

		text := c.Text()
		origins := computeLineOrigins(text, k, parentAnnotations)
		lines := make([]content.Line, len(origins))
		for j, o := range origins {
			lines[j] = content.Line{Origin: o, Text: text[j]}
		}
		annotated[ks] = lines
	}

	return annotated[key.String()], nil
}

// walkAncestry does a breadth-first walk recording every ancestor's build
// details and counting how many times each node is used as a compression
// basis, then returns ancestor-first processing order (every parent
// strictly precedes its children).
func (a *Annotator) walkAncestry(ctx context.Context, key domain.Key) ([]domain.Key, map[string]*ancestorNode, error) {
	nodes := map[string]*ancestorNode{}
	queue := []domain.Key{key}
	for len(queue) > 0 {
		k := queue[0]
		queue = queue[1:]
		ks := k.String()
		if _, ok := nodes[ks]; ok {
			continue
		}
		details, err := a.Index.GetBuildDetails(ctx, []domain.Key{k})
		if err != nil {
			return nil, nil, fmt.Errorf("annotate: build details for %s: %w", k, err)
		}
		d, ok := details[ks]
		if !ok {
			return nil, nil, &domain.MissingRevisionError{Key: k}
		}
		nodes[ks] = &ancestorNode{key: k, details: d}
		queue = append(queue, d.Parents...)
	}

	for _, n := range nodes {
		if n.details.CompressionParent == nil {
			continue
		}
		if basis, ok := nodes[n.details.CompressionParent.String()]; ok {
			basis.compressionChildren++
		}
	}

	return topoOrderAllParents(nodes), nodes, nil
}

func topoOrderAllParents(nodes map[string]*ancestorNode) []domain.Key {
	visited := make(map[string]bool, len(nodes))
	order := make([]domain.Key, 0, len(nodes))
	var visit func(ks string)
	visit = func(ks string) {
		if visited[ks] {
			return
		}
		visited[ks] = true
		n := nodes[ks]
		for _, p := range n.details.Parents {
			visit(p.String())
		}
		order = append(order, n.key)
	}
	for ks := range nodes {
		visit(ks)
	}
	return order
}

// computeLineOrigins assigns an origin to every line of text: a line that
// matches a block in some parent's annotated content inherits that
// parent's origin for the matched line; any line left unmatched by every
// parent was introduced by key itself. Parents are consulted in order and
// the first match for a given line wins, so the earliest-declared parent
// supplies the origin when several agree.
func computeLineOrigins(text [][]byte, key domain.Key, parentAnnotations [][]content.Line) []domain.Key {
	origins := make([]domain.Key, len(text))
	for i := range origins {
		origins[i] = key
	}
	assigned := make([]bool, len(text))

	childStrs := toStrings(text)
	for _, parent := range parentAnnotations {
		parentStrs := make([]string, len(parent))
		for i, l := range parent {
			parentStrs[i] = string(l.Text)
		}
		matcher := difflib.NewMatcher(parentStrs, childStrs)
		for _, m := range matcher.GetMatchingBlocks() {
			for off := 0; off < m.Size; off++ {
				ci := m.B + off
				if assigned[ci] {
					continue
				}
				origins[ci] = parent[m.A+off].Origin
				assigned[ci] = true
			}
		}
	}
	return origins
}

func toStrings(lines [][]byte) []string {
	out := make([]string, len(lines))
	for i, l := range lines {
		out[i] = string(l)
	}
	return out
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
