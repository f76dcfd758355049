package content_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/prn-tf/knitstore/internal/content"
	"github.com/prn-tf/knitstore/internal/domain"
)

func TestPlainTextAndFulltext(t *testing.T) {
	c := content.NewPlain([][]byte{[]byte("a\n"), []byte("b\n")}, domain.Key{"file-id", "rev-1"})
	assert.Equal(t, 2, c.NumLines())
	assert.Equal(t, []byte("a\nb\n"), c.Fulltext())
	assert.False(t, c.Annotated())
}

func TestStripFinalEOL(t *testing.T) {
	c := content.NewPlain([][]byte{[]byte("a\n"), []byte("b\n")}, domain.Key{"file-id", "rev-1"})
	c.SetStripFinalEOL(true)
	text := c.Text()
	assert.Equal(t, []byte("b"), text[1])
	assert.Equal(t, []byte("a\nb"), c.Fulltext())
}

func TestAnnotate(t *testing.T) {
	origin := domain.Key{"file-id", "rev-1"}
	c := content.NewPlain([][]byte{[]byte("a\n")}, origin)
	lines := c.Annotate()
	assert.Len(t, lines, 1)
	assert.True(t, lines[0].Origin.Equal(origin))
	assert.Equal(t, []byte("a\n"), lines[0].Text)
}

func TestApplyDeltaInsertMiddle(t *testing.T) {
	origin := domain.Key{"file-id", "rev-1"}
	c := content.NewPlain([][]byte{[]byte("a\n"), []byte("b\n"), []byte("c\n")}, origin)

	newOrigin := domain.Key{"file-id", "rev-2"}
	hunks := []content.Hunk{
		{Start: 1, End: 1, NewLines: []content.Line{{Text: []byte("X\n")}}},
	}
	out := c.ApplyDelta(hunks, newOrigin)
	assert.Equal(t, [][]byte{[]byte("a\n"), []byte("X\n"), []byte("b\n"), []byte("c\n")}, out.Text())

	annotated := out.Annotate()
	assert.True(t, annotated[1].Origin.Equal(newOrigin))
	assert.True(t, annotated[0].Origin.Equal(origin))
}

func TestApplyDeltaReplaceAndDeleteWithOffset(t *testing.T) {
	origin := domain.Key{"file-id", "rev-1"}
	c := content.NewPlain([][]byte{
		[]byte("a\n"), []byte("b\n"), []byte("c\n"), []byte("d\n"), []byte("e\n"),
	}, origin)

	newOrigin := domain.Key{"file-id", "rev-2"}
	hunks := []content.Hunk{
		{Start: 0, End: 1, NewLines: []content.Line{{Text: []byte("A\n")}, {Text: []byte("A2\n")}}},
		{Start: 3, End: 5, NewLines: nil},
	}
	out := c.ApplyDelta(hunks, newOrigin)
	assert.Equal(t, [][]byte{[]byte("A\n"), []byte("A2\n"), []byte("b\n"), []byte("c\n")}, out.Text())
}

func TestApplyDeltaPanicsOnBadRange(t *testing.T) {
	c := content.NewPlain([][]byte{[]byte("a\n")}, domain.Key{"f", "r1"})
	assert.Panics(t, func() {
		c.ApplyDelta([]content.Hunk{{Start: 0, End: 5}}, domain.Key{"f", "r2"})
	})
}

func TestCopyIsIndependent(t *testing.T) {
	c := content.NewPlain([][]byte{[]byte("a\n")}, domain.Key{"f", "r1"})
	cp := c.Copy()
	cp.SetStripFinalEOL(true)
	assert.False(t, c.StripFinalEOL())
	assert.True(t, cp.StripFinalEOL())
}
