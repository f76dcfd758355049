package recordstream_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prn-tf/knitstore/internal/content"
	"github.com/prn-tf/knitstore/internal/dataaccess"
	"github.com/prn-tf/knitstore/internal/domain"
	"github.com/prn-tf/knitstore/internal/recordstream"
)

type fakeStore struct {
	records map[string]*content.RawFactory
	parents map[string][]domain.Key
	memos   map[string]dataaccess.Memo
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		records: map[string]*content.RawFactory{},
		parents: map[string][]domain.Key{},
		memos:   map[string]dataaccess.Memo{},
	}
}

func (s *fakeStore) put(key domain.Key, parents []domain.Key, compressionParent domain.Key, memo dataaccess.Memo) {
	s.records[key.String()] = &content.RawFactory{
		BaseFactory:       content.BaseFactory{KeyVal: key, ParentsVal: parents, Kind: domain.KindPlainFulltext},
		CompressionParent: compressionParent,
		Raw:               []byte("raw:" + key.Version()),
	}
	s.parents[key.String()] = parents
	s.memos[key.String()] = memo
}

func (s *fakeStore) GetParentMap(ctx context.Context, keys []domain.Key) (map[string][]domain.Key, error) {
	out := map[string][]domain.Key{}
	for _, k := range keys {
		if p, ok := s.parents[k.String()]; ok {
			out[k.String()] = p
		}
	}
	return out, nil
}

func (s *fakeStore) GetRawFactory(ctx context.Context, key domain.Key) (*content.RawFactory, bool, error) {
	f, ok := s.records[key.String()]
	return f, ok, nil
}

func (s *fakeStore) Position(ctx context.Context, key domain.Key) (dataaccess.Memo, bool, error) {
	m, ok := s.memos[key.String()]
	return m, ok, nil
}

var (
	_ recordstream.Store      = (*fakeStore)(nil)
	_ recordstream.Positioner = (*fakeStore)(nil)
)

func TestGetRecordStreamTopologicalOrder(t *testing.T) {
	store := newFakeStore()
	k1 := domain.Key{"file-id", "rev-1"}
	k2 := domain.Key{"file-id", "rev-2"}
	k3 := domain.Key{"file-id", "rev-3"}
	store.put(k1, nil, nil, dataaccess.Memo{})
	store.put(k2, []domain.Key{k1}, k1, dataaccess.Memo{})
	store.put(k3, []domain.Key{k2}, k2, dataaccess.Memo{})

	s := recordstream.New(store, nil, nil)
	factories, err := s.GetRecordStream(context.Background(), []domain.Key{k3, k1, k2}, domain.OrderTopological, false)
	require.NoError(t, err)
	require.Len(t, factories, 3)
	assert.True(t, factories[0].Key().Equal(k1))
	assert.True(t, factories[1].Key().Equal(k2))
	assert.True(t, factories[2].Key().Equal(k3))
}

func TestGetRecordStreamAbsentKeyYieldsAbsentFactory(t *testing.T) {
	store := newFakeStore()
	s := recordstream.New(store, nil, nil)

	missing := domain.Key{"file-id", "nope"}
	factories, err := s.GetRecordStream(context.Background(), []domain.Key{missing}, domain.OrderUnordered, false)
	require.NoError(t, err)
	require.Len(t, factories, 1)
	assert.Equal(t, domain.KindAbsent, factories[0].StorageKind())
}

func TestGetRecordStreamFallsBackToSecondStore(t *testing.T) {
	primary := newFakeStore()
	fallback := newFakeStore()
	key := domain.Key{"file-id", "rev-1"}
	fallback.put(key, nil, nil, dataaccess.Memo{})

	s := recordstream.New(primary, []recordstream.Store{fallback}, nil)
	factories, err := s.GetRecordStream(context.Background(), []domain.Key{key}, domain.OrderUnordered, false)
	require.NoError(t, err)
	require.Len(t, factories, 1)
	assert.True(t, factories[0].Key().Equal(key))
}

func TestGetRecordStreamDeltaClosureExpandsMissingBasis(t *testing.T) {
	store := newFakeStore()
	k1 := domain.Key{"file-id", "rev-1"}
	k2 := domain.Key{"file-id", "rev-2"}
	store.put(k1, nil, nil, dataaccess.Memo{})
	store.put(k2, []domain.Key{k1}, k1, dataaccess.Memo{})

	s := recordstream.New(store, nil, nil)
	factories, err := s.GetRecordStream(context.Background(), []domain.Key{k2}, domain.OrderUnordered, true)
	require.NoError(t, err)
	require.Len(t, factories, 2)
	assert.True(t, factories[0].Key().Equal(k2))
	assert.True(t, factories[1].Key().Equal(k1))
	assert.Equal(t, domain.KindDeltaClosureRef, factories[1].StorageKind())
}

func TestGetRecordStreamGroupCompressGroupsByPrefix(t *testing.T) {
	store := newFakeStore()
	a1 := domain.Key{"file-a", "rev-1"}
	a2 := domain.Key{"file-a", "rev-2"}
	b1 := domain.Key{"file-b", "rev-1"}
	store.put(a1, nil, nil, dataaccess.Memo{})
	store.put(a2, []domain.Key{a1}, a1, dataaccess.Memo{})
	store.put(b1, nil, nil, dataaccess.Memo{})

	s := recordstream.New(store, nil, nil)
	factories, err := s.GetRecordStream(context.Background(), []domain.Key{a1, a2, b1}, domain.OrderGroupCompress, false)
	require.NoError(t, err)
	require.Len(t, factories, 3)
	// Within the file-a group, a2 (child) must precede a1 (parent).
	idx := map[string]int{}
	for i, f := range factories {
		idx[f.Key().String()] = i
	}
	assert.Less(t, idx[a2.String()], idx[a1.String()])
}

func TestGetRecordStreamUnorderedUsesPosition(t *testing.T) {
	store := newFakeStore()
	k1 := domain.Key{"file-id", "rev-1"}
	k2 := domain.Key{"file-id", "rev-2"}
	store.put(k1, nil, nil, dataaccess.Memo{Prefix: k1.Prefix(), Offset: 100})
	store.put(k2, nil, nil, dataaccess.Memo{Prefix: k2.Prefix(), Offset: 0})

	s := recordstream.New(store, nil, nil)
	factories, err := s.GetRecordStream(context.Background(), []domain.Key{k1, k2}, domain.OrderUnordered, false)
	require.NoError(t, err)
	require.Len(t, factories, 2)
	assert.True(t, factories[0].Key().Equal(k2))
	assert.True(t, factories[1].Key().Equal(k1))
}

func TestWireEncodeDecodeRoundTrip(t *testing.T) {
	f := &content.RawFactory{
		BaseFactory: content.BaseFactory{
			KeyVal:     domain.Key{"file-id", "rev-1"},
			ParentsVal: []domain.Key{{"file-id", "rev-0"}},
			Kind:       domain.KindPlainFulltext,
		},
		NoEOL: true,
		Raw:   []byte("gzipped-bytes-stand-in"),
	}
	data := recordstream.EncodeRecord(f)

	kind, key, parents, noEOL, raw, err := recordstream.DecodeRecord(data)
	require.NoError(t, err)
	assert.Equal(t, domain.KindPlainFulltext, kind)
	assert.True(t, key.Equal(f.Key()))
	require.Len(t, parents, 1)
	assert.True(t, parents[0].Equal(f.Parents()[0]))
	assert.True(t, noEOL)
	assert.Equal(t, f.Raw, raw)
}

func TestWireEncodeDecodeNoParents(t *testing.T) {
	f := &content.RawFactory{
		BaseFactory: content.BaseFactory{KeyVal: domain.Key{"file-id", "rev-1"}, Kind: domain.KindPlainFulltext},
		Raw:         []byte("x"),
	}
	data := recordstream.EncodeRecord(f)
	_, _, parents, noEOL, _, err := recordstream.DecodeRecord(data)
	require.NoError(t, err)
	assert.Empty(t, parents)
	assert.False(t, noEOL)
}

func TestDeltaClosureEncodeDecodeRoundTrip(t *testing.T) {
	keys := []domain.Key{{"file-id", "rev-1"}, {"file-id", "rev-2"}}
	records := []recordstream.ClosureRecord{
		{Key: keys[0], Method: domain.MethodFulltext, Raw: []byte("fulltext-bytes")},
		{Key: keys[1], Parents: []domain.Key{keys[0]}, Method: domain.MethodLineDelta, CompressionParent: keys[0], Raw: []byte("delta-bytes")},
	}
	data := recordstream.EncodeDeltaClosure(true, keys, records)

	annotated, decodedKeys, decodedRecords, err := recordstream.DecodeDeltaClosure(data)
	require.NoError(t, err)
	assert.True(t, annotated)
	require.Len(t, decodedKeys, 2)
	require.Len(t, decodedRecords, 2)
	assert.Equal(t, []byte("fulltext-bytes"), decodedRecords[0].Raw)
	assert.Equal(t, []byte("delta-bytes"), decodedRecords[1].Raw)
	assert.True(t, decodedRecords[1].CompressionParent.Equal(keys[0]))
	assert.Nil(t, decodedRecords[0].CompressionParent)
}

type fakeSink struct {
	present map[string]bool
	stored  []string
}

func newFakeSink(initiallyPresent ...domain.Key) *fakeSink {
	s := &fakeSink{present: map[string]bool{}}
	for _, k := range initiallyPresent {
		s.present[k.String()] = true
	}
	return s
}

func (s *fakeSink) PutRecord(ctx context.Context, f *content.RawFactory) error {
	s.stored = append(s.stored, f.Key().String())
	s.present[f.Key().String()] = true
	return nil
}

func (s *fakeSink) HasBasis(ctx context.Context, key domain.Key) (bool, error) {
	return s.present[key.String()], nil
}

func TestInserterBuffersUntilBasisArrives(t *testing.T) {
	sink := newFakeSink()
	ins := recordstream.NewInserter(sink, nil)
	ctx := context.Background()

	root := domain.Key{"file-id", "rev-0"}
	child := domain.Key{"file-id", "rev-1"}

	childFactory := &content.RawFactory{
		BaseFactory:       content.BaseFactory{KeyVal: child},
		CompressionParent: root,
		Raw:               []byte("delta"),
	}
	require.NoError(t, ins.InsertOne(ctx, childFactory))
	assert.Empty(t, sink.stored, "child must be buffered until its basis arrives")

	rootFactory := &content.RawFactory{BaseFactory: content.BaseFactory{KeyVal: root}, Raw: []byte("fulltext")}
	require.NoError(t, ins.InsertOne(ctx, rootFactory))
	assert.Equal(t, []string{root.String(), child.String()}, sink.stored)

	missing, err := ins.Finish(ctx)
	require.NoError(t, err)
	assert.Empty(t, missing)
}

func TestInserterFinishCommitsRemainingWithMissingParents(t *testing.T) {
	sink := newFakeSink()
	ins := recordstream.NewInserter(sink, nil)
	ctx := context.Background()

	root := domain.Key{"file-id", "rev-0"}
	child := domain.Key{"file-id", "rev-1"}
	childFactory := &content.RawFactory{
		BaseFactory:       content.BaseFactory{KeyVal: child},
		CompressionParent: root,
		Raw:               []byte("delta"),
	}
	require.NoError(t, ins.InsertOne(ctx, childFactory))

	missing, err := ins.Finish(ctx)
	require.NoError(t, err)
	require.Len(t, missing, 1)
	assert.True(t, missing[0].Equal(root))
	assert.Equal(t, []string{child.String()}, sink.stored)
}
