// Package multiparent implements the multi-parent diff representation used
// to express a text as hunks citing lines from N parents plus literal
// inserts, and its round-trip to patch form.
//
// Construction computes matching blocks against each parent and greedily
// picks the longest block covering the current position; the matching
// engine is github.com/pmezard/go-difflib's SequenceMatcher.
package multiparent

import (
	"bytes"
	"fmt"
	"strconv"

	"github.com/pmezard/go-difflib/difflib"
)

// Hunk is either a NewText or a ParentText entry of a MultiParent diff.
type Hunk interface {
	isHunk()
	toPatch() [][]byte
}

// NewText is the contents of text introduced directly by this diff (not
// present, or not matched, in any parent).
type NewText struct {
	Lines [][]byte
}

func (NewText) isHunk() {}

func (n NewText) toPatch() [][]byte {
	out := make([][]byte, 0, len(n.Lines)+2)
	out = append(out, []byte(fmt.Sprintf("i %d\n", len(n.Lines))))
	out = append(out, n.Lines...)
	out = append(out, []byte("\n"))
	return out
}

// ParentText is a reference to text present in a parent: parent[ParentStart:
// ParentStart+Length) supplies child[ChildStart:ChildStart+Length).
type ParentText struct {
	Parent      int
	ParentStart int
	ChildStart  int
	Length      int
}

func (ParentText) isHunk() {}

func (p ParentText) toPatch() [][]byte {
	return [][]byte{[]byte(fmt.Sprintf("c %d %d %d %d\n", p.Parent, p.ParentStart, p.ChildStart, p.Length))}
}

// Diff is an ordered sequence of hunks that tile [0, NumLines) of the child
// text without gaps or overlap.
type Diff struct {
	Hunks []Hunk
}

// block is one (parentIdx, parentPos, childPos, length) matching run for a
// single parent, as produced by the matcher.
type block struct {
	parentPos, childPos, length int
}

// FromLines builds a Diff expressing text as hunks against parents. Parents
// are compared left to right; at each child position the longest matching
// block among parents whose current block covers that position is chosen.
func FromLines(text [][]byte, parents [][][]byte) *Diff {
	perParentBlocks := make([][]block, len(parents))
	for p, parent := range parents {
		perParentBlocks[p] = matchingBlocks(parent, text)
	}

	cursors := make([]int, len(parents)) // index into perParentBlocks[p]
	curLine := 0
	var newText NewText
	diff := &Diff{}

	nextBlock := func(p int) (block, bool) {
		blocks := perParentBlocks[p]
		if cursors[p] >= len(blocks) {
			return block{}, false
		}
		b := blocks[cursors[p]]
		cursors[p]++
		return b, true
	}

	current := make([]*block, len(parents))
	haveCurrent := make([]bool, len(parents))
	for p := range parents {
		b, ok := nextBlock(p)
		if ok {
			bb := b
			current[p] = &bb
			haveCurrent[p] = true
		}
	}

	for curLine < len(text) {
		var best *ParentText
		for p := range parents {
			if !haveCurrent[p] {
				continue
			}
			b := current[p]
			for b.childPos+b.length <= curLine {
				nb, ok := nextBlock(p)
				if !ok {
					haveCurrent[p] = false
					b = nil
					break
				}
				current[p] = &nb
				b = current[p]
			}
			if b == nil || !haveCurrent[p] {
				continue
			}
			if b.childPos > curLine {
				continue
			}
			offset := curLine - b.childPos
			length := b.length - offset
			if length <= 0 {
				continue
			}
			if best == nil || length > best.Length {
				best = &ParentText{
					Parent:      p,
					ParentStart: b.parentPos + offset,
					ChildStart:  curLine,
					Length:      length,
				}
			}
		}
		if best == nil {
			newText.Lines = append(newText.Lines, text[curLine])
			curLine++
			continue
		}
		if len(newText.Lines) > 0 {
			diff.Hunks = append(diff.Hunks, newText)
			newText = NewText{}
		}
		diff.Hunks = append(diff.Hunks, *best)
		curLine += best.Length
	}
	if len(newText.Lines) > 0 {
		diff.Hunks = append(diff.Hunks, newText)
	}
	return diff
}

// matchingBlocks runs the sequence matcher between parent and child lines
// and returns non-trivial (length > 0) matching blocks in order.
func matchingBlocks(parent, child [][]byte) []block {
	a := toStrings(parent)
	b := toStrings(child)
	m := difflib.NewMatcher(a, b)
	blocks := make([]block, 0, 8)
	for _, match := range m.GetMatchingBlocks() {
		if match.Size == 0 {
			continue
		}
		blocks = append(blocks, block{parentPos: match.A, childPos: match.B, length: match.Size})
	}
	return blocks
}

func toStrings(lines [][]byte) []string {
	out := make([]string, len(lines))
	for i, l := range lines {
		out[i] = string(l)
	}
	return out
}

// NumLines returns the number of lines in the text this diff describes.
func (d *Diff) NumLines() int {
	extra := 0
	for i := len(d.Hunks) - 1; i >= 0; i-- {
		switch h := d.Hunks[i].(type) {
		case ParentText:
			return h.ChildStart + h.Length + extra
		case NewText:
			extra += len(h.Lines)
		}
	}
	return extra
}

// IsSnapshot reports whether this diff is effectively a fulltext: exactly
// one NewText hunk covering all lines.
func (d *Diff) IsSnapshot() bool {
	if len(d.Hunks) != 1 {
		return false
	}
	_, ok := d.Hunks[0].(NewText)
	return ok
}

// Resolver supplies the fulltext of a parent diff by index, used when
// reconstructing nested ParentText references.
type Resolver interface {
	// ParentLines returns the line-split fulltext for parent index p.
	ParentLines(p int) ([][]byte, error)
}

// sliceResolver resolves against a fixed slice of already-known parent texts
// (the common case: parents passed in directly as byte slices).
type sliceResolver struct {
	parents [][][]byte
}

func (s sliceResolver) ParentLines(p int) ([][]byte, error) {
	if p < 0 || p >= len(s.parents) {
		return nil, fmt.Errorf("multiparent: parent index %d out of range", p)
	}
	return s.parents[p], nil
}

// ToLines reconstructs the fulltext lines described by d, given the already
// line-split text of each parent (in index order).
func (d *Diff) ToLines(parents [][][]byte) [][]byte {
	out, _ := d.Resolve(sliceResolver{parents: parents})
	return out
}

// Resolve reconstructs d's fulltext using an arbitrary Resolver, so that
// ParentText hunks can in turn reference parents that are themselves
// multi-parent diffs.
func (d *Diff) Resolve(r Resolver) ([][]byte, error) {
	out := make([][]byte, 0, d.NumLines())
	for _, h := range d.Hunks {
		switch hunk := h.(type) {
		case NewText:
			out = append(out, hunk.Lines...)
		case ParentText:
			parentLines, err := r.ParentLines(hunk.Parent)
			if err != nil {
				return nil, err
			}
			if hunk.ParentStart+hunk.Length > len(parentLines) {
				return nil, fmt.Errorf("multiparent: parent range [%d,%d) exceeds %d lines",
					hunk.ParentStart, hunk.ParentStart+hunk.Length, len(parentLines))
			}
			out = append(out, parentLines[hunk.ParentStart:hunk.ParentStart+hunk.Length]...)
		}
	}
	return out, nil
}

// ToPatch serialises the diff to its text patch form.
func (d *Diff) ToPatch() []byte {
	var buf bytes.Buffer
	for _, h := range d.Hunks {
		for _, line := range h.toPatch() {
			buf.Write(line)
		}
	}
	return buf.Bytes()
}

// FromPatch parses a diff previously produced by ToPatch. ToPatch follows
// every NewText hunk with one separating LF, so the parser strips the final
// LF from the hunk's last line; a following line consisting solely of LF
// means that last line did end in LF in the original text, and it is
// restored here.
func FromPatch(data []byte) (*Diff, error) {
	lines := splitKeepNL(data)
	d := &Diff{}
	for i := 0; i < len(lines); i++ {
		line := lines[i]
		if len(line) == 0 {
			continue
		}
		switch line[0] {
		case 'i':
			fields := bytes.Fields(line)
			if len(fields) != 2 {
				return nil, fmt.Errorf("multiparent: malformed NewText header %q", line)
			}
			n, err := strconv.Atoi(string(fields[1]))
			if err != nil {
				return nil, fmt.Errorf("multiparent: malformed NewText count %q: %w", line, err)
			}
			hunkLines := make([][]byte, n)
			for j := 0; j < n; j++ {
				i++
				if i >= len(lines) {
					return nil, fmt.Errorf("multiparent: truncated NewText hunk")
				}
				hunkLines[j] = lines[i]
			}
			if n > 0 {
				last := hunkLines[n-1]
				hunkLines[n-1] = bytes.TrimSuffix(last, []byte("\n"))
			}
			d.Hunks = append(d.Hunks, NewText{Lines: hunkLines})
		case '\n':
			if len(d.Hunks) == 0 {
				return nil, fmt.Errorf("multiparent: stray continuation line")
			}
			last, ok := d.Hunks[len(d.Hunks)-1].(NewText)
			if !ok || len(last.Lines) == 0 {
				return nil, fmt.Errorf("multiparent: continuation line without preceding NewText")
			}
			last.Lines[len(last.Lines)-1] = append(last.Lines[len(last.Lines)-1], '\n')
			d.Hunks[len(d.Hunks)-1] = last
		case 'c':
			fields := bytes.Fields(line)
			if len(fields) != 5 {
				return nil, fmt.Errorf("multiparent: malformed ParentText line %q", line)
			}
			vals := make([]int, 4)
			for k := 0; k < 4; k++ {
				v, err := strconv.Atoi(string(fields[k+1]))
				if err != nil {
					return nil, fmt.Errorf("multiparent: malformed ParentText field %q: %w", line, err)
				}
				vals[k] = v
			}
			d.Hunks = append(d.Hunks, ParentText{Parent: vals[0], ParentStart: vals[1], ChildStart: vals[2], Length: vals[3]})
		default:
			return nil, fmt.Errorf("multiparent: unrecognised patch line %q", line)
		}
	}
	return d, nil
}

// splitKeepNL splits a patch body into lines, keeping the newline on each
// line; it only splits on \n, never on \r.
func splitKeepNL(data []byte) [][]byte {
	var out [][]byte
	start := 0
	for i, b := range data {
		if b == '\n' {
			out = append(out, data[start:i+1])
			start = i + 1
		}
	}
	if start < len(data) {
		out = append(out, data[start:])
	}
	return out
}
