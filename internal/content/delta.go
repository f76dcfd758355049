package content

import (
	"github.com/pmezard/go-difflib/difflib"
)

// DiffHunks computes the line-delta hunks that transform
// oldLines into newLines: an ordered, non-overlapping sequence of
// replace-range edits against the compression parent. Equal runs between
// edits are implicit (the reconstructed lines they cover are carried over
// unchanged by ApplyDelta); only the changed ranges are returned.
//
// The same github.com/pmezard/go-difflib matcher internal/multiparent uses
// for multi-parent diffs drives this single-parent case too.
func DiffHunks(oldLines, newLines [][]byte) []Hunk {
	a := toLineStrings(oldLines)
	b := toLineStrings(newLines)
	matcher := difflib.NewMatcher(a, b)

	var hunks []Hunk
	for _, op := range matcher.GetOpCodes() {
		if op.Tag == 'e' {
			continue
		}
		repl := make([]Line, op.J2-op.J1)
		for i := op.J1; i < op.J2; i++ {
			repl[i-op.J1] = Line{Text: newLines[i]}
		}
		hunks = append(hunks, Hunk{Start: op.I1, End: op.I2, NewLines: repl})
	}
	return hunks
}

func toLineStrings(lines [][]byte) []string {
	out := make([]string, len(lines))
	for i, l := range lines {
		out[i] = string(l)
	}
	return out
}
