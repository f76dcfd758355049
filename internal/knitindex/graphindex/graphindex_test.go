package graphindex_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prn-tf/knitstore/internal/dataaccess"
	"github.com/prn-tf/knitstore/internal/domain"
	"github.com/prn-tf/knitstore/internal/knitindex"
	"github.com/prn-tf/knitstore/internal/knitindex/graphindex"
)

func newIndex(t *testing.T) *graphindex.GraphIndex {
	t.Helper()
	idx, err := graphindex.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { idx.Close() })
	return idx
}

func TestAddAndGetBuildDetails(t *testing.T) {
	idx := newIndex(t)
	ctx := context.Background()

	key1 := domain.Key{"file-id", "rev-1"}
	key2 := domain.Key{"file-id", "rev-2"}

	err := idx.AddRecords(ctx, []knitindex.Entry{
		{Key: key1, Options: []string{"fulltext"}, Memo: dataaccess.Memo{Offset: 0, Length: 10}},
		{Key: key2, Options: []string{"line-delta"}, Memo: dataaccess.Memo{Offset: 10, Length: 5}, Parents: []domain.Key{key1}},
	}, false, nil)
	require.NoError(t, err)

	details, err := idx.GetBuildDetails(ctx, []domain.Key{key1, key2})
	require.NoError(t, err)
	d2 := details[key2.String()]
	assert.True(t, d2.CompressionParent.Equal(key1))
}

func TestMissingCompressionParentTrackedThenResolved(t *testing.T) {
	idx := newIndex(t)
	ctx := context.Background()

	key1 := domain.Key{"file-id", "rev-1"}
	key2 := domain.Key{"file-id", "rev-2"}

	err := idx.AddRecords(ctx, []knitindex.Entry{
		{Key: key2, Options: []string{"line-delta"}, Memo: dataaccess.Memo{Offset: 0, Length: 5}, Parents: []domain.Key{key1}},
	}, false, nil)
	require.NoError(t, err)

	missing, err := idx.GetMissingCompressionParents(ctx)
	require.NoError(t, err)
	require.Len(t, missing, 1)
	assert.True(t, missing[0].Equal(key1))

	require.NoError(t, idx.AddRecords(ctx, []knitindex.Entry{
		{Key: key1, Options: []string{"fulltext"}, Memo: dataaccess.Memo{Offset: 5, Length: 10}},
	}, false, nil))

	missing, err = idx.GetMissingCompressionParents(ctx)
	require.NoError(t, err)
	assert.Empty(t, missing)
}

func TestDuplicateInconsistentRejected(t *testing.T) {
	idx := newIndex(t)
	ctx := context.Background()
	key := domain.Key{"file-id", "rev-1"}
	parent := domain.Key{"file-id", "rev-0"}

	require.NoError(t, idx.AddRecords(ctx, []knitindex.Entry{
		{Key: key, Options: []string{"fulltext"}, Memo: dataaccess.Memo{Offset: 0, Length: 10}},
	}, false, nil))

	err := idx.AddRecords(ctx, []knitindex.Entry{
		{Key: key, Options: []string{"fulltext"}, Memo: dataaccess.Memo{Offset: 0, Length: 10}, Parents: []domain.Key{parent}},
	}, false, nil)
	require.Error(t, err)
	var invalid *domain.InvalidOptionsError
	assert.ErrorAs(t, err, &invalid)
}

func TestFindAncestry(t *testing.T) {
	idx := newIndex(t)
	ctx := context.Background()
	key1 := domain.Key{"file-id", "rev-1"}
	key2 := domain.Key{"file-id", "rev-2"}

	require.NoError(t, idx.AddRecords(ctx, []knitindex.Entry{
		{Key: key1, Options: []string{"fulltext"}, Memo: dataaccess.Memo{Offset: 0, Length: 1}},
		{Key: key2, Options: []string{"line-delta"}, Memo: dataaccess.Memo{Offset: 1, Length: 1}, Parents: []domain.Key{key1}},
	}, false, nil))

	ancestry, err := idx.FindAncestry(ctx, []domain.Key{key2})
	require.NoError(t, err)
	assert.Len(t, ancestry, 2)
}
