package fetchcache

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/rotisserie/eris"

	"github.com/optimal-systems/data/internal/db"
)

// PostgresTable holds the shared page cache. It is created by the warehouse
// migrations.
const PostgresTable = "cache.urls"

// PostgresStore keeps the cache in Postgres so independent runs for
// different sources share it.
type PostgresStore struct {
	pool db.Pool
}

// NewPostgresStore wraps an open pool. The pool stays owned by the caller.
func NewPostgresStore(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) Exists(ctx context.Context, key string) (bool, error) {
	var ok bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM cache.urls WHERE key = $1)`, key,
	).Scan(&ok)
	if err != nil {
		return false, eris.Wrapf(err, "postgres cache: exists %s", key)
	}
	return ok, nil
}

func (s *PostgresStore) Get(ctx context.Context, key string) (string, error) {
	var content string
	err := s.pool.QueryRow(ctx,
		`SELECT content FROM cache.urls WHERE key = $1`, key,
	).Scan(&content)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", eris.Wrapf(err, "postgres cache: get %s", key)
	}
	return content, nil
}

func (s *PostgresStore) Put(ctx context.Context, key string, e Entry) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO cache.urls (key, canonical_url, content)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (key) DO NOTHING`,
		key, e.CanonicalURL, e.Content,
	)
	return eris.Wrapf(err, "postgres cache: put %s", key)
}

func (s *PostgresStore) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	var oldest, newest pgtype.Timestamptz
	err := s.pool.QueryRow(ctx,
		`SELECT count(*), COALESCE(sum(length(content)), 0), min(cached_at), max(cached_at)
		 FROM cache.urls`,
	).Scan(&st.Entries, &st.Bytes, &oldest, &newest)
	if err != nil {
		return Stats{}, eris.Wrap(err, "postgres cache: stats")
	}
	if oldest.Valid {
		st.Oldest = oldest.Time
	}
	if newest.Valid {
		st.Newest = newest.Time
	}
	return st, nil
}

func (s *PostgresStore) Purge(ctx context.Context, olderThan time.Duration) (int64, error) {
	if olderThan <= 0 {
		tag, err := s.pool.Exec(ctx, `DELETE FROM cache.urls`)
		if err != nil {
			return 0, eris.Wrap(err, "postgres cache: purge all")
		}
		return tag.RowsAffected(), nil
	}

	cutoff := time.Now().UTC().Add(-olderThan)
	tag, err := s.pool.Exec(ctx, `DELETE FROM cache.urls WHERE cached_at < $1`, cutoff)
	if err != nil {
		return 0, eris.Wrap(err, "postgres cache: purge")
	}
	return tag.RowsAffected(), nil
}

// Import bulk-loads records, keeping any entry already cached under the
// same key.
func (s *PostgresStore) Import(ctx context.Context, records []Record) (int64, error) {
	rows := make([][]any, 0, len(records))
	for _, r := range records {
		cachedAt := r.CachedAt
		if cachedAt.IsZero() {
			cachedAt = time.Now().UTC()
		}
		rows = append(rows, []any{r.Key, r.CanonicalURL, r.Content, cachedAt})
	}

	n, err := db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table:        PostgresTable,
		Columns:      []string{"key", "canonical_url", "content", "cached_at"},
		ConflictKeys: []string{"key"},
		DoNothing:    true,
	}, rows)
	if err != nil {
		return 0, eris.Wrap(err, "postgres cache: import")
	}
	return n, nil
}

// Close is a no-op; the pool belongs to the run context.
func (s *PostgresStore) Close() error {
	return nil
}
