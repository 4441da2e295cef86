// Package source defines the per-retailer raw record extractors and the
// registry that selects one by name.
package source

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/optimal-systems/data/internal/extract"
	"github.com/optimal-systems/data/internal/model"
)

// Fetcher is the gateway every source reads through.
type Fetcher = extract.Fetcher

// Source reads raw records of one retailer. Implementations map markup to
// fields only; validation and dedup happen in the normalizer.
type Source interface {
	// Name returns the source discriminant (e.g., "carrefour").
	Name() model.Source

	// Stores returns the retailer's store locations.
	Stores(ctx context.Context, f Fetcher) ([]model.RawStore, error)

	// Products returns the retailer's product catalog.
	Products(ctx context.Context, f Fetcher) ([]model.RawProduct, error)
}

// Registry maps source names to their implementations.
type Registry struct {
	sources map[model.Source]Source
	order   []model.Source
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{sources: make(map[model.Source]Source)}
}

// Register adds a source. Registering a name twice replaces the earlier
// implementation but keeps its position.
func (r *Registry) Register(s Source) {
	name := s.Name()
	if _, ok := r.sources[name]; !ok {
		r.order = append(r.order, name)
	}
	r.sources[name] = s
}

// Get returns a source by name.
func (r *Registry) Get(name model.Source) (Source, error) {
	s, ok := r.sources[name]
	if !ok {
		return nil, eris.Errorf("source: unknown source %q (registered: %s)", name, strings.Join(r.Names(), ", "))
	}
	return s, nil
}

// All returns every source in registration order.
func (r *Registry) All() []Source {
	out := make([]Source, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.sources[name])
	}
	return out
}

// Names returns every registered name in registration order.
func (r *Registry) Names() []string {
	out := make([]string, len(r.order))
	for i, name := range r.order {
		out[i] = string(name)
	}
	return out
}

// FlexString decodes a JSON string, number, bool or null into text. Retail
// feeds are inconsistent about quoting prices and coordinates.
type FlexString string

// UnmarshalJSON implements json.Unmarshaler.
func (f *FlexString) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	switch {
	case s == "null":
		*f = ""
	case strings.HasPrefix(s, `"`):
		var v string
		if err := json.Unmarshal(b, &v); err != nil {
			return err
		}
		*f = FlexString(v)
	case s == "true" || s == "false":
		*f = FlexString(s)
	default:
		if _, err := strconv.ParseFloat(s, 64); err != nil {
			return eris.Errorf("source: unexpected JSON value %s", s)
		}
		*f = FlexString(s)
	}
	return nil
}

// String returns the trimmed text.
func (f FlexString) String() string {
	return strings.TrimSpace(string(f))
}

// JoinNonEmpty joins the trimmed non-empty parts with sep.
func JoinNonEmpty(sep string, parts ...string) string {
	kept := parts[:0:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, sep)
}

// FirstNonEmpty returns the first part that is not blank.
func FirstNonEmpty(parts ...string) string {
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			return p
		}
	}
	return ""
}
