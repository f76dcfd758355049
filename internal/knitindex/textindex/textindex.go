// Package textindex implements the per-prefix append-only text log
// back-end of the index.
package textindex

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/prn-tf/knitstore/internal/dataaccess"
	"github.com/prn-tf/knitstore/internal/domain"
	"github.com/prn-tf/knitstore/internal/knitindex"
)

// headerLine is the fixed first line of every per-prefix log file.
const headerLine = "# bzr knit index 8\n"

// record is one fully-decoded log entry, keyed by version id within its
// prefix.
type record struct {
	options []string
	memo    dataaccess.Memo
	parents []domain.Key
}

// prefixLog is the in-memory state and file handle for one prefix's log,
// rebuilt by replaying the file from disk.
type prefixLog struct {
	mu      sync.RWMutex
	path    string
	prefix  domain.Key
	file    *os.File
	history []string           // version ids in the order they first appeared
	seq     map[string]int     // version id -> index into history
	entries map[string]*record // version id -> current record
}

// TextIndex implements knitindex.Index by keeping one append-only log file
// per key prefix under dir.
type TextIndex struct {
	dir    string
	mapper dataaccess.KeyMapper
	logger zerolog.Logger

	mu    sync.Mutex
	logs  map[string]*prefixLog
}

// New opens (creating if absent) a text index rooted at dir.
func New(dir string, mapper dataaccess.KeyMapper, logger zerolog.Logger) (*TextIndex, error) {
	if mapper == nil {
		mapper = dataaccess.DefaultKeyMapper{}
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("textindex: create dir: %w", err)
	}
	return &TextIndex{dir: dir, mapper: mapper, logger: logger, logs: make(map[string]*prefixLog)}, nil
}

func (ti *TextIndex) logFor(prefix domain.Key) (*prefixLog, error) {
	mapKey := ti.mapper.Map(prefix)

	ti.mu.Lock()
	defer ti.mu.Unlock()

	if pl, ok := ti.logs[mapKey]; ok {
		return pl, nil
	}

	path := filepath.Join(ti.dir, mapKey+".kndx")
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("textindex: create prefix dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("textindex: open %s: %w", path, err)
	}
	pl := &prefixLog{
		path:    path,
		prefix:  append(domain.Key(nil), prefix...),
		file:    f,
		seq:     make(map[string]int),
		entries: make(map[string]*record),
	}
	if err := pl.replay(); err != nil {
		f.Close()
		return nil, err
	}
	ti.logs[mapKey] = pl
	return pl, nil
}

// replay rebuilds in-memory state from disk, tolerating a torn trailing
// write: any line not terminated by " :\n" is dropped.
func (pl *prefixLog) replay() error {
	if _, err := pl.file.Seek(0, 0); err != nil {
		return fmt.Errorf("textindex: seek %s: %w", pl.path, err)
	}
	scanner := bufio.NewScanner(pl.file)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)

	first := true
	for scanner.Scan() {
		line := scanner.Text()
		if first {
			first = false
			if line != strings.TrimSuffix(headerLine, "\n") {
				return domain.NewCorrupt(pl.path, "unexpected header %q", line)
			}
			continue
		}
		if line == "" {
			// the blank line preceding each record; part of the
			// leading-\n self-healing scheme, not data.
			continue
		}
		if !strings.HasSuffix(line, " :") {
			// torn write: drop silently.
			continue
		}
		if err := pl.applyLine(line); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("textindex: scan %s: %w", pl.path, err)
	}
	if _, err := pl.file.Seek(0, 2); err != nil {
		return fmt.Errorf("textindex: seek end %s: %w", pl.path, err)
	}
	return nil
}

func (pl *prefixLog) applyLine(line string) error {
	body := strings.TrimSuffix(line, " :")
	fields := strings.Fields(body)
	if len(fields) < 4 {
		return domain.NewCorrupt(pl.path, "malformed index line %q", line)
	}
	versionID := fields[0]
	opts := strings.Split(fields[1], ",")
	offset, err := strconv.ParseInt(fields[2], 10, 64)
	if err != nil {
		return domain.NewCorrupt(pl.path, "bad offset in %q: %v", line, err)
	}
	length, err := strconv.ParseInt(fields[3], 10, 64)
	if err != nil {
		return domain.NewCorrupt(pl.path, "bad length in %q: %v", line, err)
	}
	var parents []domain.Key
	for _, ref := range fields[4:] {
		resolved, err := pl.resolveParentRef(ref)
		if err != nil {
			return domain.NewCorrupt(pl.path, "bad parent ref %q: %v", ref, err)
		}
		parents = append(parents, resolved)
	}

	if _, ok := pl.seq[versionID]; !ok {
		pl.seq[versionID] = len(pl.history)
		pl.history = append(pl.history, versionID)
	}
	pl.entries[versionID] = &record{options: opts, memo: dataaccess.Memo{Prefix: pl.prefix, Offset: offset, Length: length}, parents: parents}
	return nil
}

func (pl *prefixLog) resolveParentRef(ref string) (domain.Key, error) {
	if strings.HasPrefix(ref, ".") {
		literal := ref[1:]
		parts := strings.Split(literal, "\x00")
		return domain.Key(parts), nil
	}
	idx, err := strconv.Atoi(ref)
	if err != nil {
		return nil, err
	}
	if idx < 0 || idx >= len(pl.history) {
		return nil, fmt.Errorf("parent index %d out of range", idx)
	}
	return append(append(domain.Key(nil), pl.prefix...), pl.history[idx]), nil
}

// encodeParentRef dictionary-compresses a parent reference against seq: a
// decimal index if already logged for this prefix (and sharing this
// prefix), else a literal "." reference. seq is passed explicitly rather
// than read off pl so callers can resolve refs against a not-yet-committed
// candidate history (see appendGroup).
func encodeParentRef(seq map[string]int, prefix domain.Key, parent domain.Key) string {
	if parent.SamePrefix(prefix) {
		if idx, ok := seq[parent.Version()]; ok {
			return strconv.Itoa(idx)
		}
	}
	return "." + parent.String()
}

// AddRecords appends entries to their respective prefix logs.
// missingCompressionParents is accepted for interface conformance; the
// text back-end does not itself track missing-parent state (only the
// graph back-end exposes GetMissingCompressionParents).
func (ti *TextIndex) AddRecords(ctx context.Context, entries []knitindex.Entry, randomID bool, missingCompressionParents []domain.Key) error {
	byPrefix := make(map[string][]knitindex.Entry)
	for _, e := range entries {
		mapKey := ti.mapper.Map(e.Key.Prefix())
		byPrefix[mapKey] = append(byPrefix[mapKey], e)
	}

	for _, group := range byPrefix {
		prefix := group[0].Key.Prefix()
		pl, err := ti.logFor(prefix)
		if err != nil {
			return err
		}
		if err := pl.appendGroup(prefix, group); err != nil {
			return err
		}
	}
	return nil
}

// appendGroup builds the candidate in-memory state and the on-disk bytes
// for entries in locals first, and only commits pl.history/pl.seq/
// pl.entries after the write and Sync have both succeeded: a partial
// failure during append must leave the in-memory cache identical to its
// pre-call state.
func (pl *prefixLog) appendGroup(prefix domain.Key, entries []knitindex.Entry) error {
	pl.mu.Lock()
	defer pl.mu.Unlock()

	newHistory := append([]string(nil), pl.history...)
	newSeq := make(map[string]int, len(pl.seq)+len(entries))
	for k, v := range pl.seq {
		newSeq[k] = v
	}
	newEntries := make(map[string]*record, len(pl.entries)+len(entries))
	for k, v := range pl.entries {
		newEntries[k] = v
	}

	var buf bytes.Buffer
	for _, e := range entries {
		versionID := e.Key.Version()
		if existing, ok := newEntries[versionID]; ok {
			if err := checkConsistent(existing, e); err != nil {
				return err
			}
			continue
		}

		refParts := make([]string, len(e.Parents))
		for i, p := range e.Parents {
			refParts[i] = encodeParentRef(newSeq, prefix, p)
		}
		// Each record carries its own leading LF and no trailing one, so
		// the file always ends at a committed " :" marker and a torn
		// trailing write is dropped wholesale by replay.
		line := fmt.Sprintf("\n%s %s %d %d %s :",
			versionID, strings.Join(e.Options, ","), e.Memo.Offset, e.Memo.Length, strings.Join(refParts, " "))
		buf.WriteString(line)

		if _, ok := newSeq[versionID]; !ok {
			newSeq[versionID] = len(newHistory)
			newHistory = append(newHistory, versionID)
		}
		newEntries[versionID] = &record{options: e.Options, memo: e.Memo, parents: e.Parents}
	}

	if buf.Len() == 0 {
		return nil
	}

	info, err := pl.file.Stat()
	if err != nil {
		return fmt.Errorf("textindex: stat %s: %w", pl.path, err)
	}
	if info.Size() == 0 {
		if _, err := pl.file.WriteAt([]byte(headerLine), 0); err != nil {
			return fmt.Errorf("textindex: write header %s: %w", pl.path, err)
		}
	}
	end, err := pl.file.Seek(0, 2)
	if err != nil {
		return fmt.Errorf("textindex: seek end %s: %w", pl.path, err)
	}
	if _, err := pl.file.WriteAt(buf.Bytes(), end); err != nil {
		return fmt.Errorf("textindex: append %s: %w", pl.path, err)
	}
	if err := pl.file.Sync(); err != nil {
		return fmt.Errorf("textindex: sync %s: %w", pl.path, err)
	}

	pl.history = newHistory
	pl.seq = newSeq
	pl.entries = newEntries
	return nil
}

// checkConsistent rejects a duplicate add whose parents or eol flag differ
// from what is already on record.
func checkConsistent(existing *record, incoming knitindex.Entry) error {
	if knitindex.HasNoEOL(existing.options) != knitindex.HasNoEOL(incoming.Options) {
		return &domain.InvalidOptionsError{Key: incoming.Key, Options: incoming.Options}
	}
	if len(existing.parents) != len(incoming.Parents) {
		return &domain.InvalidOptionsError{Key: incoming.Key, Options: incoming.Options}
	}
	for i := range existing.parents {
		if !existing.parents[i].Equal(incoming.Parents[i]) {
			return &domain.InvalidOptionsError{Key: incoming.Key, Options: incoming.Options}
		}
	}
	return nil
}

func (ti *TextIndex) lookup(ctx context.Context, key domain.Key) (*record, error) {
	pl, err := ti.logFor(key.Prefix())
	if err != nil {
		return nil, err
	}
	pl.mu.RLock()
	defer pl.mu.RUnlock()
	r, ok := pl.entries[key.Version()]
	if !ok {
		return nil, &domain.MissingRevisionError{Key: key}
	}
	return r, nil
}

func (ti *TextIndex) GetParentMap(ctx context.Context, keys []domain.Key) (map[string][]domain.Key, error) {
	out := make(map[string][]domain.Key)
	for _, k := range keys {
		r, err := ti.lookup(ctx, k)
		if err != nil {
			continue
		}
		out[k.String()] = r.parents
	}
	return out, nil
}

func (ti *TextIndex) GetBuildDetails(ctx context.Context, keys []domain.Key) (map[string]knitindex.BuildDetails, error) {
	out := make(map[string]knitindex.BuildDetails)
	for _, k := range keys {
		r, err := ti.lookup(ctx, k)
		if err != nil {
			continue
		}
		method := knitindex.MethodFromOptions(r.options)
		var compressionParent domain.Key
		if method == domain.MethodLineDelta && len(r.parents) > 0 {
			compressionParent = r.parents[0]
		}
		out[k.String()] = knitindex.BuildDetails{
			Memo:              r.memo,
			CompressionParent: compressionParent,
			Parents:           r.parents,
			Method:            method,
			NoEOL:             knitindex.HasNoEOL(r.options),
		}
	}
	return out, nil
}

func (ti *TextIndex) GetMethod(ctx context.Context, key domain.Key) (domain.StorageMethod, error) {
	r, err := ti.lookup(ctx, key)
	if err != nil {
		return "", err
	}
	return knitindex.MethodFromOptions(r.options), nil
}

func (ti *TextIndex) GetOptions(ctx context.Context, key domain.Key) ([]string, error) {
	r, err := ti.lookup(ctx, key)
	if err != nil {
		return nil, err
	}
	return r.options, nil
}

func (ti *TextIndex) GetPosition(ctx context.Context, key domain.Key) (dataaccess.Memo, error) {
	r, err := ti.lookup(ctx, key)
	if err != nil {
		return dataaccess.Memo{}, err
	}
	return r.memo, nil
}

func (ti *TextIndex) Keys(ctx context.Context) ([]domain.Key, error) {
	ti.mu.Lock()
	logs := make([]*prefixLog, 0, len(ti.logs))
	for _, pl := range ti.logs {
		logs = append(logs, pl)
	}
	ti.mu.Unlock()

	var out []domain.Key
	for _, pl := range logs {
		pl.mu.RLock()
		for _, v := range pl.history {
			out = append(out, append(append(domain.Key(nil), pl.prefix...), v))
		}
		pl.mu.RUnlock()
	}
	return out, nil
}

func (ti *TextIndex) FindAncestry(ctx context.Context, keys []domain.Key) ([]domain.Key, error) {
	seen := make(map[string]domain.Key)
	var stack []domain.Key
	stack = append(stack, keys...)
	for len(stack) > 0 {
		k := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if _, ok := seen[k.String()]; ok {
			continue
		}
		r, err := ti.lookup(ctx, k)
		if err != nil {
			continue
		}
		seen[k.String()] = k
		stack = append(stack, r.parents...)
	}
	out := make([]domain.Key, 0, len(seen))
	for _, k := range seen {
		out = append(out, k)
	}
	return out, nil
}

// Close closes every open prefix log file.
func (ti *TextIndex) Close() error {
	ti.mu.Lock()
	defer ti.mu.Unlock()

	var firstErr error
	for _, pl := range ti.logs {
		if err := pl.file.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

var _ knitindex.Index = (*TextIndex)(nil)
