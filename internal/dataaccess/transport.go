// Package dataaccess implements the transport layer below the index: a
// per-prefix append-only `.knit` file for vectorised byte-range reads, and
// a container-style write-once/read-many abstraction for packed access.
// Locking is sharded by the mapped prefix path so unrelated prefixes never
// contend.
package dataaccess

import (
	"context"
	"crypto/sha1"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/prn-tf/knitstore/internal/domain"
)

const shardCount = 256

// Memo identifies one raw record's location within a prefix's transport
// file: (prefix, offset, length).
type Memo struct {
	Prefix domain.Key
	Offset int64
	Length int64
}

// KeyMapper maps a key prefix onto a relative, filesystem-safe path stem.
type KeyMapper interface {
	Map(prefix domain.Key) string
}

// DefaultKeyMapper joins sanitised prefix components with "/"; empty
// prefixes (single-component keys) map to a fixed top-level file.
type DefaultKeyMapper struct{}

func (DefaultKeyMapper) Map(prefix domain.Key) string {
	if len(prefix) == 0 {
		return "_root"
	}
	parts := make([]string, len(prefix))
	for i, p := range prefix {
		parts[i] = sanitizeComponent(p)
	}
	return strings.Join(parts, "/")
}

func sanitizeComponent(s string) string {
	if s == "" {
		return "_"
	}
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}

type shardedLock struct {
	locks [shardCount]sync.RWMutex
}

func (sl *shardedLock) index(prefix string) int {
	sum := sha1.Sum([]byte(prefix))
	return int(sum[0])
}

func (sl *shardedLock) Lock(prefix string)    { sl.locks[sl.index(prefix)].Lock() }
func (sl *shardedLock) Unlock(prefix string)  { sl.locks[sl.index(prefix)].Unlock() }
func (sl *shardedLock) RLock(prefix string)   { sl.locks[sl.index(prefix)].RLock() }
func (sl *shardedLock) RUnlock(prefix string) { sl.locks[sl.index(prefix)].RUnlock() }

// Transport is the per-prefix append/read contract used by the index and
// delta engine to persist and retrieve raw (gzip-framed) record bytes.
type Transport interface {
	// AddRawRecord appends the concatenation of chunks to the prefix's
	// transport file and returns its location.
	AddRawRecord(ctx context.Context, prefix domain.Key, chunks [][]byte) (Memo, error)

	// GetRawRecords groups memos by prefix, issues one read per prefix, and
	// returns bytes in request order.
	GetRawRecords(ctx context.Context, memos []Memo) ([][]byte, error)
}

// FilesystemTransport implements Transport over per-prefix ".knit" files
// under a data directory, using sharded locking keyed by the mapped prefix
// path so unrelated prefixes never contend.
type FilesystemTransport struct {
	dataDir string
	tempDir string
	mapper  KeyMapper
	logger  zerolog.Logger
	shards  shardedLock
	tempMu  sync.Mutex
}

// NewFilesystemTransport creates the data/temp directories if needed and
// returns a ready Transport.
func NewFilesystemTransport(dataDir, tempDir string, mapper KeyMapper, logger zerolog.Logger) (*FilesystemTransport, error) {
	if mapper == nil {
		mapper = DefaultKeyMapper{}
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("dataaccess: create data dir: %w", err)
	}
	if err := os.MkdirAll(tempDir, 0o755); err != nil {
		return nil, fmt.Errorf("dataaccess: create temp dir: %w", err)
	}
	dataDir, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("dataaccess: abs data dir: %w", err)
	}
	tempDir, err = filepath.Abs(tempDir)
	if err != nil {
		return nil, fmt.Errorf("dataaccess: abs temp dir: %w", err)
	}
	return &FilesystemTransport{dataDir: dataDir, tempDir: tempDir, mapper: mapper, logger: logger}, nil
}

func (t *FilesystemTransport) pathFor(prefix domain.Key) string {
	return filepath.Join(t.dataDir, t.mapper.Map(prefix)+".knit")
}

// AddRawRecord appends chunks atomically under the prefix's shard lock,
// returning the offset at which the record begins.
func (t *FilesystemTransport) AddRawRecord(ctx context.Context, prefix domain.Key, chunks [][]byte) (Memo, error) {
	path := t.pathFor(prefix)
	mapKey := t.mapper.Map(prefix)

	t.shards.Lock(mapKey)
	defer t.shards.Unlock(mapKey)

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return Memo{}, fmt.Errorf("dataaccess: create prefix dir: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return Memo{}, fmt.Errorf("dataaccess: open %s: %w", path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return Memo{}, fmt.Errorf("dataaccess: stat %s: %w", path, err)
	}
	offset := info.Size()

	var total int64
	for _, c := range chunks {
		n, err := f.WriteAt(c, offset+total)
		if err != nil {
			return Memo{}, fmt.Errorf("dataaccess: write %s: %w", path, err)
		}
		total += int64(n)
	}
	if err := f.Sync(); err != nil {
		return Memo{}, fmt.Errorf("dataaccess: sync %s: %w", path, err)
	}

	t.logger.Debug().
		Str("prefix", prefix.String()).
		Int64("offset", offset).
		Int64("length", total).
		Msg("dataaccess: raw record appended")

	return Memo{Prefix: prefix, Offset: offset, Length: total}, nil
}

// GetRawRecords groups memos by prefix and issues one read per distinct
// prefix file, returning bytes in the caller's original request order.
func (t *FilesystemTransport) GetRawRecords(ctx context.Context, memos []Memo) ([][]byte, error) {
	byPrefix := make(map[string][]int)
	for i, m := range memos {
		key := t.mapper.Map(m.Prefix)
		byPrefix[key] = append(byPrefix[key], i)
	}

	out := make([][]byte, len(memos))
	for mapKey, idxs := range byPrefix {
		prefix := memos[idxs[0]].Prefix
		path := t.pathFor(prefix)

		t.shards.RLock(mapKey)
		data, err := t.readAll(path)
		t.shards.RUnlock(mapKey)
		if err != nil {
			return nil, err
		}
		for _, i := range idxs {
			m := memos[i]
			if m.Offset < 0 || m.Offset+m.Length > int64(len(data)) {
				return nil, domain.NewCorrupt(path, "memo range [%d,%d) exceeds file length %d", m.Offset, m.Offset+m.Length, len(data))
			}
			buf := make([]byte, m.Length)
			copy(buf, data[m.Offset:m.Offset+m.Length])
			out[i] = buf
		}
	}
	return out, nil
}

func (t *FilesystemTransport) readAll(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("dataaccess: open %s: %w", path, err)
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("dataaccess: read %s: %w", path, err)
	}
	return data, nil
}

var _ Transport = (*FilesystemTransport)(nil)
