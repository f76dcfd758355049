package record_test

import (
	"bytes"
	"compress/gzip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prn-tf/knitstore/internal/domain"
	"github.com/prn-tf/knitstore/internal/record"
)

func TestSerialiseParseFulltextPlain(t *testing.T) {
	r := &record.Record{
		VersionID: "rev-1",
		Method:    domain.MethodFulltext,
		SHA1:      "abc123",
		Lines: []record.Line{
			{Text: []byte("a\n")},
			{Text: []byte("b\n")},
		},
	}
	data, err := record.Serialise(r)
	require.NoError(t, err)

	got, err := record.Parse(data, domain.Key{"file-id", "rev-1"}, domain.MethodFulltext, false, false)
	require.NoError(t, err)
	assert.Equal(t, r.Lines, got.Lines)
	assert.Equal(t, "abc123", got.SHA1)
}

func TestSerialiseParseFulltextAnnotated(t *testing.T) {
	r := &record.Record{
		VersionID: "rev-2",
		Method:    domain.MethodFulltext,
		Annotated: true,
		SHA1:      "deadbeef",
		Lines: []record.Line{
			{Origin: "rev-1", Text: []byte("a\n")},
			{Origin: "rev-2", Text: []byte("b\n")},
		},
	}
	data, err := record.Serialise(r)
	require.NoError(t, err)

	got, err := record.Parse(data, domain.Key{"file-id", "rev-2"}, domain.MethodFulltext, true, false)
	require.NoError(t, err)
	assert.Equal(t, r.Lines, got.Lines)
}

func TestSerialiseParseLineDelta(t *testing.T) {
	r := &record.Record{
		VersionID: "rev-3",
		Method:    domain.MethodLineDelta,
		SHA1:      "feedface",
		Hunks: []record.Hunk{
			{SrcStart: 1, SrcEnd: 1, NewLines: []record.Line{{Text: []byte("X\n")}}},
			{SrcStart: 3, SrcEnd: 5, NewLines: nil},
		},
	}
	data, err := record.Serialise(r)
	require.NoError(t, err)

	got, err := record.Parse(data, domain.Key{"file-id", "rev-3"}, domain.MethodLineDelta, false, false)
	require.NoError(t, err)
	require.Len(t, got.Hunks, 2)
	assert.Equal(t, 1, got.Hunks[0].SrcStart)
	assert.Equal(t, 1, got.Hunks[0].SrcEnd)
	assert.Equal(t, []byte("X\n"), got.Hunks[0].NewLines[0].Text)
	assert.Equal(t, 3, got.Hunks[1].SrcStart)
	assert.Equal(t, 5, got.Hunks[1].SrcEnd)
	assert.Empty(t, got.Hunks[1].NewLines)
}

func TestParseRejectsKeyMismatch(t *testing.T) {
	r := &record.Record{VersionID: "rev-1", Method: domain.MethodFulltext, SHA1: "x"}
	data, err := record.Serialise(r)
	require.NoError(t, err)

	_, err = record.Parse(data, domain.Key{"file-id", "other-rev"}, domain.MethodFulltext, false, false)
	require.Error(t, err)
	var corrupt *domain.CorruptError
	assert.ErrorAs(t, err, &corrupt)
}

func TestParseRejectsLineCountMismatch(t *testing.T) {
	// Hand-craft a header that lies about the line count.
	bad := []byte("version rev-1 5 abc\na\nb\nend rev-1\n")
	data := gzipBytes(t, bad)

	_, err := record.Parse(data, domain.Key{"file-id", "rev-1"}, domain.MethodFulltext, false, false)
	require.Error(t, err)
	var corrupt *domain.CorruptError
	assert.ErrorAs(t, err, &corrupt)
}

func TestParseRejectsBadGzip(t *testing.T) {
	_, err := record.Parse([]byte("not gzip"), domain.Key{"file-id", "rev-1"}, domain.MethodFulltext, false, false)
	require.Error(t, err)
}

func gzipBytes(t *testing.T, data []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	_, err := w.Write(data)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return buf.Bytes()
}
