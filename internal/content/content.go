// Package content implements the in-memory representation of a text
// version and delta application over it.
package content

import (
	"fmt"

	"github.com/prn-tf/knitstore/internal/domain"
)

// Line pairs a line of text with the key whose version first introduced it.
// Plain content carries no per-line origin; annotated content does.
type Line struct {
	Origin domain.Key
	Text   []byte
}

// Hunk is a single line-delta edit against the compression parent: replace
// the half-open range [Start, End) with NewLines.
type Hunk struct {
	Start, End int
	NewLines   []Line
}

// Content is an ordered sequence of lines, optionally carrying per-line
// provenance (annotated) and a bit recording whether the final line lacked
// a trailing newline on disk.
type Content struct {
	annotated     bool
	lines         []Line
	stripFinalEOL bool
}

// NewPlain builds plain content from raw lines, all attributed to origin.
func NewPlain(lines [][]byte, origin domain.Key) *Content {
	ls := make([]Line, len(lines))
	for i, l := range lines {
		ls[i] = Line{Origin: origin, Text: l}
	}
	return &Content{lines: ls}
}

// NewAnnotated builds annotated content from pre-paired lines.
func NewAnnotated(lines []Line) *Content {
	return &Content{annotated: true, lines: append([]Line(nil), lines...)}
}

// Annotated reports whether this content carries real per-line origins.
func (c *Content) Annotated() bool { return c.annotated }

// SetStripFinalEOL marks that Text() must strip the final line's trailing
// newline (the on-disk no-eol flag).
func (c *Content) SetStripFinalEOL(v bool) { c.stripFinalEOL = v }

// StripFinalEOL reports the current no-eol hint.
func (c *Content) StripFinalEOL() bool { return c.stripFinalEOL }

// NumLines returns the number of lines.
func (c *Content) NumLines() int { return len(c.lines) }

// Lines returns the raw Line pairs (read-only use; callers must not mutate
// a slice shared with another Content without Copy).
func (c *Content) Lines() []Line { return c.lines }

// Copy returns a Content with an independent line slice. Used by the
// annotator when a cached basis has more than one remaining compression
// child.
func (c *Content) Copy() *Content {
	cp := &Content{annotated: c.annotated, stripFinalEOL: c.stripFinalEOL}
	cp.lines = append([]Line(nil), c.lines...)
	return cp
}

// Text materialises the lines as raw byte slices, applying StripFinalEOL to
// the last line.
func (c *Content) Text() [][]byte {
	out := make([][]byte, len(c.lines))
	for i, l := range c.lines {
		out[i] = l.Text
	}
	if c.stripFinalEOL && len(out) > 0 {
		last := out[len(out)-1]
		if n := len(last); n > 0 && last[n-1] == '\n' {
			out[len(out)-1] = last[:n-1]
		}
	}
	return out
}

// Fulltext concatenates Text() into a single byte slice.
func (c *Content) Fulltext() []byte {
	return domain.JoinLines(c.Text())
}

// Annotate returns (origin, text) pairs for every line, applying
// StripFinalEOL to the last line's text").
func (c *Content) Annotate() []Line {
	out := make([]Line, len(c.lines))
	copy(out, c.lines)
	if c.stripFinalEOL && len(out) > 0 {
		last := out[len(out)-1]
		if n := len(last.Text); n > 0 && last.Text[n-1] == '\n' {
			out[len(out)-1] = Line{Origin: last.Origin, Text: last.Text[:n-1]}
		}
	}
	return out
}

// ApplyDelta splices each hunk into the line vector in order, adjusting for
// the running offset introduced by prior hunks, and returns the resulting
// Content. Hunks must be sorted by Start and non-overlapping.
//
// For plain content, newOrigin is used as the origin of any replacement
// line whose NewLines entry has a zero-value Origin; annotated hunks
// (produced with real origins already set) are inserted unchanged.
func (c *Content) ApplyDelta(hunks []Hunk, newOrigin domain.Key) *Content {
	lines := append([]Line(nil), c.lines...)
	offset := 0
	for _, h := range hunks {
		start := h.Start + offset
		end := h.End + offset
		repl := make([]Line, len(h.NewLines))
		for i, nl := range h.NewLines {
			if len(nl.Origin) == 0 {
				repl[i] = Line{Origin: newOrigin, Text: nl.Text}
			} else {
				repl[i] = nl
			}
		}
		lines = spliceLines(lines, start, end, repl)
		offset += len(h.NewLines) - (h.End - h.Start)
	}
	out := &Content{annotated: c.annotated || newOrigin != nil, lines: lines}
	return out
}

func spliceLines(lines []Line, start, end int, repl []Line) []Line {
	if start < 0 || end > len(lines) || start > end {
		panic(fmt.Sprintf("content: invalid hunk range [%d,%d) over %d lines", start, end, len(lines)))
	}
	out := make([]Line, 0, len(lines)-(end-start)+len(repl))
	out = append(out, lines[:start]...)
	out = append(out, repl...)
	out = append(out, lines[end:]...)
	return out
}
