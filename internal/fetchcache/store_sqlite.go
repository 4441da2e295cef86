package fetchcache

import (
	"context"
	"database/sql"
	"net/url"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"
)

// SQLiteStore keeps the cache in a single local file, for offline runs and
// for warming a Postgres cache later with Import.
type SQLiteStore struct {
	db *sql.DB
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS urls (
	key           TEXT PRIMARY KEY,
	canonical_url TEXT NOT NULL,
	content       TEXT NOT NULL,
	cached_at     INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_urls_cached_at ON urls(cached_at);
`

// sqlitePragmas apply to every connection the driver opens. Set through
// the DSN so that each pooled connection gets them, not just the first.
var sqlitePragmas = []string{
	"busy_timeout(5000)",
	"journal_mode(WAL)",
	"synchronous(NORMAL)",
}

// sqliteDSN builds the modernc.org/sqlite DSN for the cache file at path.
func sqliteDSN(path string) string {
	q := url.Values{}
	for _, p := range sqlitePragmas {
		q.Add("_pragma", p)
	}
	return "file:" + path + "?" + q.Encode()
}

// NewSQLiteStore opens (or creates) the cache file at path and applies its
// schema.
func NewSQLiteStore(ctx context.Context, path string) (*SQLiteStore, error) {
	sqlDB, err := sql.Open("sqlite", sqliteDSN(path))
	if err != nil {
		return nil, eris.Wrap(err, "sqlite cache: open")
	}
	if _, err := sqlDB.ExecContext(ctx, sqliteSchema); err != nil {
		sqlDB.Close() //nolint:errcheck
		return nil, eris.Wrap(err, "sqlite cache: migrate")
	}
	return &SQLiteStore{db: sqlDB}, nil
}

func (s *SQLiteStore) Exists(ctx context.Context, key string) (bool, error) {
	var ok bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM urls WHERE key = ?)`, key,
	).Scan(&ok)
	if err != nil {
		return false, eris.Wrapf(err, "sqlite cache: exists %s", key)
	}
	return ok, nil
}

func (s *SQLiteStore) Get(ctx context.Context, key string) (string, error) {
	var content string
	err := s.db.QueryRowContext(ctx,
		`SELECT content FROM urls WHERE key = ?`, key,
	).Scan(&content)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	if err != nil {
		return "", eris.Wrapf(err, "sqlite cache: get %s", key)
	}
	return content, nil
}

func (s *SQLiteStore) Put(ctx context.Context, key string, e Entry) error {
	cachedAt := e.CachedAt
	if cachedAt.IsZero() {
		cachedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO urls (key, canonical_url, content, cached_at) VALUES (?, ?, ?, ?)`,
		key, e.CanonicalURL, e.Content, cachedAt.Unix(),
	)
	return eris.Wrapf(err, "sqlite cache: put %s", key)
}

func (s *SQLiteStore) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	var oldest, newest sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT count(*), COALESCE(sum(length(content)), 0), min(cached_at), max(cached_at) FROM urls`,
	).Scan(&st.Entries, &st.Bytes, &oldest, &newest)
	if err != nil {
		return Stats{}, eris.Wrap(err, "sqlite cache: stats")
	}
	if oldest.Valid {
		st.Oldest = time.Unix(oldest.Int64, 0).UTC()
	}
	if newest.Valid {
		st.Newest = time.Unix(newest.Int64, 0).UTC()
	}
	return st, nil
}

func (s *SQLiteStore) Purge(ctx context.Context, olderThan time.Duration) (int64, error) {
	var (
		res sql.Result
		err error
	)
	if olderThan <= 0 {
		res, err = s.db.ExecContext(ctx, `DELETE FROM urls`)
	} else {
		cutoff := time.Now().UTC().Add(-olderThan).Unix()
		res, err = s.db.ExecContext(ctx, `DELETE FROM urls WHERE cached_at < ?`, cutoff)
	}
	if err != nil {
		return 0, eris.Wrap(err, "sqlite cache: purge")
	}
	n, err := res.RowsAffected()
	return n, eris.Wrap(err, "sqlite cache: rows affected")
}

// Records returns every cached entry ordered by key.
func (s *SQLiteStore) Records(ctx context.Context) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT key, canonical_url, content, cached_at FROM urls ORDER BY key`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite cache: list")
	}
	defer rows.Close() //nolint:errcheck

	var out []Record
	for rows.Next() {
		var r Record
		var cachedAt int64
		if err := rows.Scan(&r.Key, &r.CanonicalURL, &r.Content, &cachedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite cache: scan")
		}
		r.CachedAt = time.Unix(cachedAt, 0).UTC()
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "sqlite cache: iterate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
