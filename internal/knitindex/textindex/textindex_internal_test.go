package textindex

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prn-tf/knitstore/internal/dataaccess"
	"github.com/prn-tf/knitstore/internal/domain"
	"github.com/prn-tf/knitstore/internal/knitindex"
)

// TestAppendGroupLeavesCacheUnchangedOnWriteFailure: a failed disk write
// inside appendGroup must not have mutated pl.history/pl.seq/pl.entries.
// The file handle is closed out from under appendGroup to force its
// Stat/WriteAt/Sync calls to fail without needing a lower-level fault
// injection point.
func TestAppendGroupLeavesCacheUnchangedOnWriteFailure(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "p.kndx")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	require.NoError(t, err)

	prefix := domain.Key{"file-id"}
	pl := &prefixLog{
		path:    path,
		prefix:  prefix,
		file:    f,
		seq:     make(map[string]int),
		entries: make(map[string]*record),
	}
	require.NoError(t, pl.replay())

	key1 := domain.Key{"file-id", "rev-1"}
	require.NoError(t, pl.appendGroup(prefix, []knitindex.Entry{
		{Key: key1, Options: []string{"fulltext"}, Memo: dataaccess.Memo{Offset: 0, Length: 10}},
	}))

	wantHistory := append([]string(nil), pl.history...)
	wantSeq := make(map[string]int, len(pl.seq))
	for k, v := range pl.seq {
		wantSeq[k] = v
	}
	wantEntries := make(map[string]*record, len(pl.entries))
	for k, v := range pl.entries {
		wantEntries[k] = v
	}

	require.NoError(t, f.Close())

	key2 := domain.Key{"file-id", "rev-2"}
	err = pl.appendGroup(prefix, []knitindex.Entry{
		{Key: key2, Options: []string{"line-delta"}, Memo: dataaccess.Memo{Offset: 10, Length: 5}, Parents: []domain.Key{key1}},
	})
	require.Error(t, err)

	assert.Equal(t, wantHistory, pl.history)
	assert.Equal(t, wantSeq, pl.seq)
	assert.Equal(t, wantEntries, pl.entries)
	assert.NotContains(t, pl.entries, key2.Version())
}
