// Package extract walks paginated collections through the fetch gateway:
// it reads the advertised total from a summary view, fetches fixed-size
// chunks from offset zero and stops early when the server runs out of
// records before the advertised total is reached.
package extract

import (
	"context"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/optimal-systems/data/internal/fetcher"
)

// DefaultChunkSize is the page size used when none is configured.
const DefaultChunkSize = 100

// Fetcher returns the content of a URL with query params. The fetch cache
// gateway satisfies it.
type Fetcher interface {
	Fetch(ctx context.Context, url string, params map[string]string) (string, error)
}

// Collection describes one paginated listing.
type Collection[T any] struct {
	// Name labels the collection in logs (a category, a search term).
	Name string
	URL  string
	// BaseParams are sent with every request.
	BaseParams map[string]string
	// SummaryParams are added for the request that reads the total count.
	SummaryParams map[string]string
	// ChunkParams returns the params selecting one chunk.
	ChunkParams func(start, size int) map[string]string
	// CountText extracts the total-count indicator from the summary content.
	CountText func(content string) string
	// Parse turns one chunk into records. It skips malformed records itself;
	// an error means the whole chunk was unreadable.
	Parse func(content string, chunk Chunk) ([]T, error)
}

// Chunk is one page of a collection.
type Chunk struct {
	Start int
	Size  int
}

// Chunks splits total into pages of at most size, starting at offset zero.
func Chunks(total, size int) []Chunk {
	if total <= 0 || size <= 0 {
		return nil
	}
	out := make([]Chunk, 0, (total+size-1)/size)
	for start := 0; start < total; start += size {
		n := size
		if remaining := total - start; remaining < n {
			n = remaining
		}
		out = append(out, Chunk{Start: start, Size: n})
	}
	return out
}

// ParseTotalCount reads an integer from text that may carry locale
// thousands separators or surrounding words ("1.234 resultados" is 1234).
// Text without digits, or too large to represent, yields zero.
func ParseTotalCount(text string) int {
	digits := strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, text)
	if digits == "" {
		return 0
	}
	n, err := strconv.Atoi(digits)
	if err != nil {
		return 0
	}
	return n
}

// CountFromSelector returns a CountText func reading the text of the first
// element matching selector.
func CountFromSelector(selector string) func(string) string {
	return func(content string) string {
		doc, err := fetcher.Document(content)
		if err != nil {
			return ""
		}
		return strings.TrimSpace(doc.Find(selector).First().Text())
	}
}

// Extractor fetches collections sequentially, one chunk at a time.
type Extractor[T any] struct {
	fetch     Fetcher
	chunkSize int
	log       *zap.Logger
}

// New creates an Extractor. A non-positive chunkSize uses DefaultChunkSize.
func New[T any](f Fetcher, chunkSize int) *Extractor[T] {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	return &Extractor[T]{
		fetch:     f,
		chunkSize: chunkSize,
		log:       zap.L().With(zap.String("component", "extract")),
	}
}

// ChunkSize returns the page size in use.
func (e *Extractor[T]) ChunkSize() int {
	return e.chunkSize
}

// ExtractCollection returns every record of c. Fetch failures abort the
// collection; nothing accumulated so far is returned with them.
func (e *Extractor[T]) ExtractCollection(ctx context.Context, c Collection[T]) ([]T, error) {
	log := e.log.With(zap.String("collection", c.Name), zap.String("url", c.URL))

	summary, err := e.fetch.Fetch(ctx, c.URL, mergeParams(c.BaseParams, c.SummaryParams))
	if err != nil {
		return nil, eris.Wrapf(err, "extract: summary of %s", c.URL)
	}

	total := 0
	if c.CountText != nil {
		total = ParseTotalCount(c.CountText(summary))
	}
	chunks := Chunks(total, e.chunkSize)
	log.Info("collection size resolved", zap.Int("total", total), zap.Int("chunks", len(chunks)))

	var out []T
	remaining := total
	for _, ch := range chunks {
		if err := ctx.Err(); err != nil {
			return nil, eris.Wrap(err, "extract: cancelled")
		}

		content, err := e.fetch.Fetch(ctx, c.URL, mergeParams(c.BaseParams, c.ChunkParams(ch.Start, ch.Size)))
		if err != nil {
			return nil, eris.Wrapf(err, "extract: chunk start=%d size=%d of %s", ch.Start, ch.Size, c.URL)
		}

		records, err := c.Parse(content, ch)
		if err != nil {
			log.Warn("unreadable chunk", zap.Int("start", ch.Start), zap.Error(err))
			records = nil
		}

		if len(records) == 0 {
			log.Warn("empty chunk before advertised total, stopping",
				zap.Int("start", ch.Start),
				zap.Int("remaining", remaining),
				zap.Int("collected", len(out)),
			)
			break
		}

		out = append(out, records...)
		remaining -= ch.Size
		log.Debug("chunk parsed",
			zap.Int("start", ch.Start),
			zap.Int("records", len(records)),
			zap.Int("remaining", remaining),
		)
	}

	log.Info("collection extracted", zap.Int("records", len(out)))
	return out, nil
}

// ExtractAll extracts each collection in order and concatenates the
// records. The first failing collection aborts the walk.
func (e *Extractor[T]) ExtractAll(ctx context.Context, cols []Collection[T]) ([]T, error) {
	var out []T
	for _, c := range cols {
		records, err := e.ExtractCollection(ctx, c)
		if err != nil {
			return nil, eris.Wrapf(err, "extract: collection %q", c.Name)
		}
		out = append(out, records...)
	}
	return out, nil
}

func mergeParams(base, extra map[string]string) map[string]string {
	out := make(map[string]string, len(base)+len(extra))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range extra {
		out[k] = v
	}
	return out
}
