package adapters_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prn-tf/knitstore/internal/adapters"
	"github.com/prn-tf/knitstore/internal/content"
	"github.com/prn-tf/knitstore/internal/domain"
	"github.com/prn-tf/knitstore/internal/record"
)

func mustSerialise(t *testing.T, r *record.Record) []byte {
	t.Helper()
	data, err := record.Serialise(r)
	require.NoError(t, err)
	return data
}

func TestAnnotatedFulltextToPlainFulltext(t *testing.T) {
	key := domain.Key{"file-id", "rev-1"}
	lines := []record.Line{{Origin: "rev-1", Text: []byte("a\n")}, {Origin: "rev-1", Text: []byte("b\n")}}
	rec := &record.Record{VersionID: "rev-1", Method: domain.MethodFulltext, Annotated: true, SHA1: domain.SHA1Lines([][]byte{[]byte("a\n"), []byte("b\n")}), Lines: lines}
	raw := mustSerialise(t, rec)

	f := &content.RawFactory{BaseFactory: content.BaseFactory{KeyVal: key, Kind: domain.KindAnnotatedFulltext}, Raw: raw}

	out, err := adapters.Convert(context.Background(), f, domain.KindPlainFulltext, nil)
	require.NoError(t, err)
	plainRaw := out.([]byte)

	parsed, err := record.Parse(plainRaw, key, domain.MethodFulltext, false, false)
	require.NoError(t, err)
	require.Len(t, parsed.Lines, 2)
	assert.Equal(t, []byte("a\n"), parsed.Lines[0].Text)
	assert.Empty(t, parsed.Lines[0].Origin)
}

func TestPlainFulltextToFulltextView(t *testing.T) {
	key := domain.Key{"file-id", "rev-1"}
	lines := []record.Line{{Text: []byte("a\n")}, {Text: []byte("b\n")}}
	rec := &record.Record{VersionID: "rev-1", Method: domain.MethodFulltext, SHA1: domain.SHA1Lines([][]byte{[]byte("a\n"), []byte("b\n")}), Lines: lines}
	raw := mustSerialise(t, rec)

	f := &content.RawFactory{BaseFactory: content.BaseFactory{KeyVal: key, Kind: domain.KindPlainFulltext}, Raw: raw}

	out, err := adapters.Convert(context.Background(), f, domain.KindFulltext, nil)
	require.NoError(t, err)
	assert.Equal(t, []byte("a\nb\n"), out)
}

type fakeBasis struct {
	contents map[string]*content.Content
}

func (b *fakeBasis) GetFulltext(ctx context.Context, key domain.Key) (*content.Content, error) {
	c, ok := b.contents[key.String()]
	if !ok {
		return nil, &domain.MissingRevisionError{Key: key}
	}
	return c, nil
}

func TestPlainDeltaToFulltextViewFetchesBasis(t *testing.T) {
	basisKey := domain.Key{"file-id", "rev-1"}
	childKey := domain.Key{"file-id", "rev-2"}
	basisContent := content.NewPlain([][]byte{[]byte("a\n"), []byte("b\n")}, basisKey)

	rec := &record.Record{
		VersionID: "rev-2",
		Method:    domain.MethodLineDelta,
		SHA1:      domain.SHA1Lines([][]byte{[]byte("a\n"), []byte("b\n"), []byte("c\n")}),
		Hunks: []record.Hunk{
			{SrcStart: 2, SrcEnd: 2, NewLines: []record.Line{{Text: []byte("c\n")}}},
		},
	}
	raw := mustSerialise(t, rec)

	f := &content.RawFactory{
		BaseFactory:       content.BaseFactory{KeyVal: childKey, Kind: domain.KindPlainDelta},
		CompressionParent: basisKey,
		Raw:               raw,
	}
	basis := &fakeBasis{contents: map[string]*content.Content{basisKey.String(): basisContent}}

	out, err := adapters.Convert(context.Background(), f, domain.KindFulltext, basis)
	require.NoError(t, err)
	assert.Equal(t, []byte("a\nb\nc\n"), out)
}

func TestConvertSameKindReturnsRawDirectly(t *testing.T) {
	key := domain.Key{"file-id", "rev-1"}
	f := &content.RawFactory{BaseFactory: content.BaseFactory{KeyVal: key, Kind: domain.KindPlainFulltext}, Raw: []byte("x")}

	out, err := adapters.Convert(context.Background(), f, domain.KindPlainFulltext, nil)
	require.NoError(t, err)
	assert.Equal(t, []byte("x"), out)
}

func TestConvertUnknownPairErrors(t *testing.T) {
	key := domain.Key{"file-id", "rev-1"}
	f := &content.RawFactory{BaseFactory: content.BaseFactory{KeyVal: key, Kind: domain.KindPlainDelta}, Raw: []byte("x")}

	_, err := adapters.Convert(context.Background(), f, domain.KindAnnotatedFulltext, nil)
	require.Error(t, err)
	var unavailable *domain.UnavailableRepresentationError
	require.ErrorAs(t, err, &unavailable)
}
