package fetchcache

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
)

// ErrNotFound is returned by Get for an absent key.
var ErrNotFound = eris.New("fetchcache: entry not found")

// Entry is one cached page. Content is a pure function of the key, so an
// entry is never rewritten once stored.
type Entry struct {
	CanonicalURL string
	Content      string
	CachedAt     time.Time
}

// Record pairs an entry with its key, for bulk copies between stores.
type Record struct {
	Key string
	Entry
}

// Stats summarizes a cache store.
type Stats struct {
	Entries int64
	Bytes   int64
	Oldest  time.Time
	Newest  time.Time
}

// Store is the content cache. Implementations must make Put a no-op for an
// existing key so concurrent writers converge without locking.
type Store interface {
	Exists(ctx context.Context, key string) (bool, error)
	Get(ctx context.Context, key string) (string, error)
	Put(ctx context.Context, key string, e Entry) error
	Stats(ctx context.Context) (Stats, error)
	// Purge deletes entries cached before now-olderThan; zero purges all.
	Purge(ctx context.Context, olderThan time.Duration) (int64, error)
	Close() error
}
