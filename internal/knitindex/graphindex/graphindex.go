// Package graphindex implements the graph-backed index back-end over a
// pure-Go SQLite database. Each node's reference lists (parents, and
// optionally a single compression parent) and its location value are
// persisted as rows; missing compression parents are tracked until the
// referenced key is itself added.
package graphindex

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/prn-tf/knitstore/internal/dataaccess"
	"github.com/prn-tf/knitstore/internal/domain"
	"github.com/prn-tf/knitstore/internal/knitindex"
)

const schema = `
CREATE TABLE IF NOT EXISTS nodes (
	prefix TEXT NOT NULL,
	version TEXT NOT NULL,
	options TEXT NOT NULL,
	no_eol INTEGER NOT NULL,
	offset INTEGER NOT NULL,
	length INTEGER NOT NULL,
	parents TEXT NOT NULL,
	compression_parent TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (prefix, version)
);
CREATE TABLE IF NOT EXISTS missing_compression_parents (
	prefix TEXT NOT NULL,
	version TEXT NOT NULL,
	PRIMARY KEY (prefix, version)
);
`

// recordSep separates components that must not collide with the key
// component separator ("\x00", Key.String()'s own join byte).
const recordSep = "\x1f"

// GraphIndex is a knitindex.Index plus knitindex.MissingParentTracker
// backed by a modernc.org/sqlite database file.
type GraphIndex struct {
	db *sql.DB
}

// Open opens (creating if needed) a graph index at path, a filesystem path
// or ":memory:" for an ephemeral store used in tests.
func Open(path string) (*GraphIndex, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("graphindex: open %s: %w", path, err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("graphindex: create schema: %w", err)
	}
	return &GraphIndex{db: db}, nil
}

// Close releases the underlying database handle.
func (g *GraphIndex) Close() error {
	return g.db.Close()
}

func encodeParents(parents []domain.Key) string {
	parts := make([]string, len(parents))
	for i, p := range parents {
		parts[i] = p.String()
	}
	return strings.Join(parts, recordSep)
}

func decodeParents(s string) []domain.Key {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, recordSep)
	out := make([]domain.Key, len(parts))
	for i, p := range parts {
		out[i] = domain.Key(strings.Split(p, "\x00"))
	}
	return out
}

func (g *GraphIndex) AddRecords(ctx context.Context, entries []knitindex.Entry, randomID bool, missingCompressionParents []domain.Key) error {
	tx, err := g.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("graphindex: begin tx: %w", err)
	}
	defer tx.Rollback()

	for _, e := range entries {
		method := knitindex.MethodFromOptions(e.Options)
		var compressionParent string
		if method == domain.MethodLineDelta && len(e.Parents) > 0 {
			compressionParent = e.Parents[0].String()
		}

		existing, err := queryNode(ctx, tx, e.Key)
		if err != nil {
			return err
		}
		if existing != nil {
			if err := checkConsistent(existing, e); err != nil {
				return err
			}
			continue
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO nodes (prefix, version, options, no_eol, offset, length, parents, compression_parent)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			e.Key.Prefix().String(), e.Key.Version(), strings.Join(e.Options, ","),
			boolToInt(knitindex.HasNoEOL(e.Options)), e.Memo.Offset, e.Memo.Length,
			encodeParents(e.Parents), compressionParent)
		if err != nil {
			return fmt.Errorf("graphindex: insert %s: %w", e.Key, err)
		}

		if method == domain.MethodLineDelta && len(e.Parents) > 0 {
			cp := e.Parents[0]
			present, err := queryNode(ctx, tx, cp)
			if err != nil {
				return err
			}
			if present == nil {
				if err := markMissing(ctx, tx, cp); err != nil {
					return err
				}
			}
		}

		if err := clearMissing(ctx, tx, e.Key); err != nil {
			return err
		}
	}

	for _, k := range missingCompressionParents {
		present, err := queryNode(ctx, tx, k)
		if err != nil {
			return err
		}
		if present == nil {
			if err := markMissing(ctx, tx, k); err != nil {
				return err
			}
		}
	}

	return tx.Commit()
}

type nodeRow struct {
	options           []string
	noEOL             bool
	memo              dataaccess.Memo
	parents           []domain.Key
	compressionParent domain.Key
}

func queryNode(ctx context.Context, q queryer, key domain.Key) (*nodeRow, error) {
	row := q.QueryRowContext(ctx, `
		SELECT options, no_eol, offset, length, parents, compression_parent
		FROM nodes WHERE prefix = ? AND version = ?`,
		key.Prefix().String(), key.Version())

	var optionsStr, parentsStr, compressionParentStr string
	var noEOLInt int
	var offset, length int64
	if err := row.Scan(&optionsStr, &noEOLInt, &offset, &length, &parentsStr, &compressionParentStr); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("graphindex: query %s: %w", key, err)
	}

	var options []string
	if optionsStr != "" {
		options = strings.Split(optionsStr, ",")
	}
	var compressionParent domain.Key
	if compressionParentStr != "" {
		compressionParent = domain.Key(strings.Split(compressionParentStr, "\x00"))
	}
	return &nodeRow{
		options:           options,
		noEOL:             noEOLInt != 0,
		memo:              dataaccess.Memo{Prefix: key.Prefix(), Offset: offset, Length: length},
		parents:           decodeParents(parentsStr),
		compressionParent: compressionParent,
	}, nil
}

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func checkConsistent(existing *nodeRow, incoming knitindex.Entry) error {
	if existing.noEOL != knitindex.HasNoEOL(incoming.Options) {
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

func markMissing(ctx context.Context, q queryer, key domain.Key) error {
	_, err := q.ExecContext(ctx, `
		INSERT OR IGNORE INTO missing_compression_parents (prefix, version) VALUES (?, ?)`,
		key.Prefix().String(), key.Version())
	if err != nil {
		return fmt.Errorf("graphindex: mark missing %s: %w", key, err)
	}
	return nil
}

func clearMissing(ctx context.Context, q queryer, key domain.Key) error {
	_, err := q.ExecContext(ctx, `
		DELETE FROM missing_compression_parents WHERE prefix = ? AND version = ?`,
		key.Prefix().String(), key.Version())
	if err != nil {
		return fmt.Errorf("graphindex: clear missing %s: %w", key, err)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func (g *GraphIndex) GetParentMap(ctx context.Context, keys []domain.Key) (map[string][]domain.Key, error) {
	out := make(map[string][]domain.Key)
	for _, k := range keys {
		row, err := queryNode(ctx, g.db, k)
		if err != nil {
			return nil, err
		}
		if row == nil {
			continue
		}
		out[k.String()] = row.parents
	}
	return out, nil
}

func (g *GraphIndex) GetBuildDetails(ctx context.Context, keys []domain.Key) (map[string]knitindex.BuildDetails, error) {
	out := make(map[string]knitindex.BuildDetails)
	for _, k := range keys {
		row, err := queryNode(ctx, g.db, k)
		if err != nil {
			return nil, err
		}
		if row == nil {
			continue
		}
		out[k.String()] = knitindex.BuildDetails{
			Memo:              row.memo,
			CompressionParent: row.compressionParent,
			Parents:           row.parents,
			Method:            knitindex.MethodFromOptions(row.options),
			NoEOL:             row.noEOL,
		}
	}
	return out, nil
}

func (g *GraphIndex) GetMethod(ctx context.Context, key domain.Key) (domain.StorageMethod, error) {
	row, err := queryNode(ctx, g.db, key)
	if err != nil {
		return "", err
	}
	if row == nil {
		return "", &domain.MissingRevisionError{Key: key}
	}
	return knitindex.MethodFromOptions(row.options), nil
}

func (g *GraphIndex) GetOptions(ctx context.Context, key domain.Key) ([]string, error) {
	row, err := queryNode(ctx, g.db, key)
	if err != nil {
		return nil, err
	}
	if row == nil {
		return nil, &domain.MissingRevisionError{Key: key}
	}
	return row.options, nil
}

func (g *GraphIndex) GetPosition(ctx context.Context, key domain.Key) (dataaccess.Memo, error) {
	row, err := queryNode(ctx, g.db, key)
	if err != nil {
		return dataaccess.Memo{}, err
	}
	if row == nil {
		return dataaccess.Memo{}, &domain.MissingRevisionError{Key: key}
	}
	return row.memo, nil
}

func (g *GraphIndex) Keys(ctx context.Context) ([]domain.Key, error) {
	rows, err := g.db.QueryContext(ctx, `SELECT prefix, version FROM nodes`)
	if err != nil {
		return nil, fmt.Errorf("graphindex: list keys: %w", err)
	}
	defer rows.Close()

	var out []domain.Key
	for rows.Next() {
		var prefixStr, version string
		if err := rows.Scan(&prefixStr, &version); err != nil {
			return nil, fmt.Errorf("graphindex: scan key: %w", err)
		}
		key := keyFromPrefixAndVersion(prefixStr, version)
		out = append(out, key)
	}
	return out, rows.Err()
}

func keyFromPrefixAndVersion(prefixStr, version string) domain.Key {
	var prefix domain.Key
	if prefixStr != "" {
		prefix = domain.Key(strings.Split(prefixStr, "\x00"))
	}
	return append(append(domain.Key(nil), prefix...), version)
}

func (g *GraphIndex) FindAncestry(ctx context.Context, keys []domain.Key) ([]domain.Key, error) {
	seen := make(map[string]domain.Key)
	stack := append([]domain.Key(nil), keys...)
	for len(stack) > 0 {
		k := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if _, ok := seen[k.String()]; ok {
			continue
		}
		row, err := queryNode(ctx, g.db, k)
		if err != nil {
			return nil, err
		}
		if row == nil {
			continue
		}
		seen[k.String()] = k
		stack = append(stack, row.parents...)
	}
	out := make([]domain.Key, 0, len(seen))
	for _, k := range seen {
		out = append(out, k)
	}
	return out, nil
}

func (g *GraphIndex) GetMissingCompressionParents(ctx context.Context) ([]domain.Key, error) {
	rows, err := g.db.QueryContext(ctx, `SELECT prefix, version FROM missing_compression_parents`)
	if err != nil {
		return nil, fmt.Errorf("graphindex: list missing: %w", err)
	}
	defer rows.Close()

	var out []domain.Key
	for rows.Next() {
		var prefixStr, version string
		if err := rows.Scan(&prefixStr, &version); err != nil {
			return nil, fmt.Errorf("graphindex: scan missing: %w", err)
		}
		out = append(out, keyFromPrefixAndVersion(prefixStr, version))
	}
	return out, rows.Err()
}

var (
	_ knitindex.Index                = (*GraphIndex)(nil)
	_ knitindex.MissingParentTracker = (*GraphIndex)(nil)
)
