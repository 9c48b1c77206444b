// Package sqlitestore implements docstore.Store on a single SQLite file.
//
// Every record is one row holding its attributes as a JSON document.
// Equality queries are evaluated with json_extract; fulltext search narrows
// candidates in SQL and applies the shared word-prefix matcher in Go.
//
// # Database Configuration
//
//   - WAL mode: concurrent reads during writes
//   - synchronous=NORMAL
//   - 5-second busy timeout for lock contention
package sqlitestore

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/juju/errors"
	"github.com/mattn/go-sqlite3"

	"github.com/nainya/metastore/pkg/docstore"
	metaerrors "github.com/nainya/metastore/pkg/errors"
)

//go:embed schema.sql
var schemaSQL string

// Store is a docstore.Store backed by SQLite.
type Store struct {
	db *sql.DB
}

var _ docstore.Store = (*Store)(nil)

// Open creates or opens the database at path and applies the schema.
// It is safe to call repeatedly on the same file.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// SQLite allows one writer at a time
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}
	return nil
}

func (s *Store) CreateUnique(ctx context.Context, key string, attrs map[string]any) error {
	raw, err := json.Marshal(attrs)
	if err != nil {
		return errors.Annotate(err, "encode attributes")
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO records (key, attrs) VALUES (?, ?)`, key, string(raw))
	if err != nil {
		if isConstraint(err) {
			return errors.Annotatef(metaerrors.Conflict, "record %q already exists", key)
		}
		return wrap(err, "insert record %q", key)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, key string) (docstore.Record, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT attrs FROM records WHERE key = ?`, key).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return docstore.Record{}, errors.Annotatef(metaerrors.NotFound, "record %q", key)
	}
	if err != nil {
		return docstore.Record{}, wrap(err, "get record %q", key)
	}
	return decode(key, raw)
}

// UpdateRaw replaces the given top-level attributes inside a transaction.
func (s *Store) UpdateRaw(ctx context.Context, key string, attrs map[string]any) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return wrap(err, "begin update %q", key)
	}
	defer tx.Rollback()

	var raw string
	err = tx.QueryRowContext(ctx, `SELECT attrs FROM records WHERE key = ?`, key).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return errors.Annotatef(metaerrors.NotFound, "record %q", key)
	}
	if err != nil {
		return wrap(err, "read record %q", key)
	}

	current := make(map[string]any)
	if err := json.Unmarshal([]byte(raw), &current); err != nil {
		return errors.Annotatef(err, "decode record %q", key)
	}
	for k, v := range attrs {
		current[k] = v
	}
	merged, err := json.Marshal(current)
	if err != nil {
		return errors.Annotate(err, "encode attributes")
	}

	if _, err := tx.ExecContext(ctx, `UPDATE records SET attrs = ? WHERE key = ?`, string(merged), key); err != nil {
		return wrap(err, "update record %q", key)
	}
	if err := tx.Commit(); err != nil {
		return wrap(err, "commit update %q", key)
	}
	return nil
}

func (s *Store) Query(ctx context.Context, p docstore.Predicate) ([]docstore.Record, error) {
	names := make([]string, 0, len(p))
	for name := range p {
		names = append(names, name)
	}
	sort.Strings(names)

	var (
		where []string
		args  []any
	)
	for _, name := range names {
		where = append(where, "json_extract(attrs, ?) = ?")
		args = append(args, jsonPath(name), p[name])
	}
	query := `SELECT key, attrs FROM records`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY key"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrap(err, "query records")
	}
	defer rows.Close()

	var out []docstore.Record
	for rows.Next() {
		var key, raw string
		if err := rows.Scan(&key, &raw); err != nil {
			return nil, wrap(err, "scan record")
		}
		rec, err := decode(key, raw)
		if err != nil {
			return nil, err
		}
		// json_extract compares numbers and strings loosely; keep string equality exact
		if p.Matches(rec.Attrs) {
			out = append(out, rec)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, wrap(err, "iterate records")
	}
	return out, nil
}

func (s *Store) CreateFulltextIndex(ctx context.Context, field string) error {
	if _, err := s.db.ExecContext(ctx, `INSERT OR IGNORE INTO fulltext_indexes (field) VALUES (?)`, field); err != nil {
		return wrap(err, "create fulltext index %q", field)
	}
	return nil
}

func (s *Store) FulltextSearch(ctx context.Context, field, term string) ([]string, error) {
	root := docstore.SplitPath(field)[0]
	rows, err := s.db.QueryContext(ctx,
		`SELECT key, attrs FROM records WHERE json_extract(attrs, ?) IS NOT NULL ORDER BY key`, jsonPath(root))
	if err != nil {
		return nil, wrap(err, "fulltext search %q", field)
	}
	defer rows.Close()

	matcher := docstore.NewMatcher(term)
	var keys []string
	for rows.Next() {
		var key, raw string
		if err := rows.Scan(&key, &raw); err != nil {
			return nil, wrap(err, "scan record")
		}
		rec, err := decode(key, raw)
		if err != nil {
			return nil, err
		}
		if matcher.Match(docstore.Lookup(rec.Attrs, field)) {
			keys = append(keys, key)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, wrap(err, "iterate records")
	}
	return keys, nil
}

func (s *Store) FulltextIndexes(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT field FROM fulltext_indexes ORDER BY field`)
	if err != nil {
		return nil, wrap(err, "list fulltext indexes")
	}
	defer rows.Close()

	fields := []string{}
	for rows.Next() {
		var f string
		if err := rows.Scan(&f); err != nil {
			return nil, wrap(err, "scan index")
		}
		fields = append(fields, f)
	}
	return fields, rows.Err()
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func decode(key, raw string) (docstore.Record, error) {
	attrs := make(map[string]any)
	if err := json.Unmarshal([]byte(raw), &attrs); err != nil {
		return docstore.Record{}, errors.Annotatef(err, "decode record %q", key)
	}
	return docstore.Record{Key: key, Attrs: attrs}, nil
}

// jsonPath quotes a top-level attribute name for json_extract.
func jsonPath(name string) string {
	return `$."` + strings.ReplaceAll(name, `"`, `\"`) + `"`
}

func isConstraint(err error) bool {
	var se sqlite3.Error
	return errors.As(err, &se) && se.Code == sqlite3.ErrConstraint
}

// wrap marks context expiry as Unavailable and annotates everything else.
func wrap(err error, format string, args ...any) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return errors.Annotatef(metaerrors.Unavailable, format+": %v", append(args, err)...)
	}
	return errors.Annotatef(err, format, args...)
}
