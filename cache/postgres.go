package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Schema is applied by Migrate. Entries cascade with their partition.
const Schema = `
CREATE TABLE IF NOT EXISTS sw_caches (
	name       TEXT PRIMARY KEY,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS sw_cache_entries (
	cache_name TEXT NOT NULL REFERENCES sw_caches(name) ON DELETE CASCADE,
	key        TEXT NOT NULL,
	method     TEXT NOT NULL DEFAULT 'GET',
	status     INTEGER NOT NULL,
	header     JSONB NOT NULL DEFAULT '{}'::jsonb,
	body       BYTEA NOT NULL,
	etag       TEXT NOT NULL DEFAULT '',
	fetched_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (cache_name, key)
);
`

// DBTX is the subset of pgx used by PgStorage; *pgxpool.Pool and pgx.Tx
// both satisfy it
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

var _ DBTX = (*pgxpool.Pool)(nil)

// PgStorage implements Storage on Postgres
type PgStorage struct {
	db DBTX
}

// NewPgStorage wraps an open connection pool
func NewPgStorage(db DBTX) *PgStorage {
	return &PgStorage{db: db}
}

// Migrate creates the cache tables when missing
func (s *PgStorage) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("migrate cache schema: %w", err)
	}
	return nil
}

// Open implements Storage
func (s *PgStorage) Open(ctx context.Context, name string) (Partition, error) {
	if name == "" {
		return nil, ErrInvalidName
	}
	_, err := s.db.Exec(ctx,
		`INSERT INTO sw_caches (name, created_at) VALUES ($1, $2) ON CONFLICT (name) DO NOTHING`,
		name, time.Now().UTC())
	if err != nil {
		return nil, fmt.Errorf("open cache %s: %w", name, err)
	}
	return &pgPartition{db: s.db, name: name}, nil
}

// Has implements Storage
func (s *PgStorage) Has(ctx context.Context, name string) (bool, error) {
	var exists bool
	err := s.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM sw_caches WHERE name = $1)`, name).Scan(&exists)
	return exists, err
}

// Delete implements Storage
func (s *PgStorage) Delete(ctx context.Context, name string) (bool, error) {
	tag, err := s.db.Exec(ctx, `DELETE FROM sw_caches WHERE name = $1`, name)
	if err != nil {
		return false, fmt.Errorf("delete cache %s: %w", name, err)
	}
	return tag.RowsAffected() > 0, nil
}

// Keys implements Storage
func (s *PgStorage) Keys(ctx context.Context) ([]string, error) {
	rows, err := s.db.Query(ctx, `SELECT name FROM sw_caches ORDER BY created_at, name`)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

// Match implements Storage with a single query over every partition
func (s *PgStorage) Match(ctx context.Context, key string) (*Entry, error) {
	row := s.db.QueryRow(ctx, `
		SELECT e.key, e.method, e.status, e.header, e.body, e.etag, e.fetched_at
		FROM sw_cache_entries e
		JOIN sw_caches c ON c.name = e.cache_name
		WHERE e.key = $1
		ORDER BY c.created_at, c.name
		LIMIT 1`, key)
	return scanEntry(row)
}

type pgPartition struct {
	db   DBTX
	name string
}

func (p *pgPartition) Name() string { return p.name }

func (p *pgPartition) Match(ctx context.Context, key string) (*Entry, error) {
	row := p.db.QueryRow(ctx, `
		SELECT key, method, status, header, body, etag, fetched_at
		FROM sw_cache_entries
		WHERE cache_name = $1 AND key = $2`, p.name, key)
	return scanEntry(row)
}

func (p *pgPartition) Put(ctx context.Context, key string, entry *Entry) error {
	if entry == nil {
		return ErrNotCacheable
	}
	header, err := json.Marshal(entry.Header)
	if err != nil {
		return err
	}
	body := entry.Body
	if body == nil {
		body = []byte{}
	}
	method := entry.Method
	if method == "" {
		method = "GET"
	}

	_, err = p.db.Exec(ctx, `
		INSERT INTO sw_cache_entries (cache_name, key, method, status, header, body, etag, fetched_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (cache_name, key) DO UPDATE SET
			method = EXCLUDED.method,
			status = EXCLUDED.status,
			header = EXCLUDED.header,
			body = EXCLUDED.body,
			etag = EXCLUDED.etag,
			fetched_at = EXCLUDED.fetched_at`,
		p.name, key, method, entry.Status, header, body, entry.ETag, entry.FetchedAt)
	if err != nil {
		return fmt.Errorf("put %s into %s: %w", key, p.name, err)
	}
	return nil
}

func (p *pgPartition) Delete(ctx context.Context, key string) (bool, error) {
	tag, err := p.db.Exec(ctx, `DELETE FROM sw_cache_entries WHERE cache_name = $1 AND key = $2`, p.name, key)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (p *pgPartition) Keys(ctx context.Context) ([]string, error) {
	rows, err := p.db.Query(ctx, `SELECT key FROM sw_cache_entries WHERE cache_name = $1 ORDER BY key`, p.name)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

func scanEntry(row pgx.Row) (*Entry, error) {
	var (
		entry  Entry
		header []byte
	)
	err := row.Scan(&entry.URL, &entry.Method, &entry.Status, &header, &entry.Body, &entry.ETag, &entry.FetchedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrCacheNotFound
	}
	if err != nil {
		return nil, err
	}
	if len(header) > 0 {
		if err := json.Unmarshal(header, &entry.Header); err != nil {
			return nil, fmt.Errorf("decode cached header: %w", err)
		}
	}
	return &entry, nil
}
