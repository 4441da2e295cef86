// Package normalize maps raw retailer records into the canonical store and
// product shapes, validating coordinates and dropping duplicates.
package normalize

import (
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/optimal-systems/data/internal/model"
)

// Drop reasons counted in a Report.
const (
	ReasonMissingCoordinates = "missing_coordinates"
	ReasonInvalidCoordinates = "invalid_coordinates"
	ReasonOutOfBounds        = "out_of_bounds"
	ReasonMissingName        = "missing_name"
	ReasonDuplicate          = "duplicate"
)

// Report summarizes one normalization pass.
type Report struct {
	Source  model.Source
	Kind    model.Kind
	Input   int
	Kept    int
	Dropped map[string]int
}

func newReport(source model.Source, kind model.Kind, input int) Report {
	return Report{Source: source, Kind: kind, Input: input, Dropped: make(map[string]int)}
}

func (r *Report) drop(reason string) {
	r.Dropped[reason]++
}

// DroppedTotal returns the number of records dropped for any reason.
func (r Report) DroppedTotal() int {
	n := 0
	for _, c := range r.Dropped {
		n += c
	}
	return n
}

// Fields renders the report as zap fields.
func (r Report) Fields() []zap.Field {
	reasons := make([]string, 0, len(r.Dropped))
	for k := range r.Dropped {
		reasons = append(reasons, k)
	}
	sort.Strings(reasons)

	fields := []zap.Field{
		zap.String("source", string(r.Source)),
		zap.String("kind", string(r.Kind)),
		zap.Int("input", r.Input),
		zap.Int("kept", r.Kept),
	}
	for _, k := range reasons {
		fields = append(fields, zap.Int("dropped_"+k, r.Dropped[k]))
	}
	return fields
}

// InBounds reports whether lat/lng is a valid geographic position.
func InBounds(lat, lng float64) bool {
	return lat >= -90 && lat <= 90 && lng >= -180 && lng <= 180
}

// CoordinateKey is the fallback store identifier: the pair rounded to five
// decimals (about one metre).
func CoordinateKey(lat, lng float64) string {
	return fmt.Sprintf("%.5f,%.5f", lat, lng)
}

// Stores validates and deduplicates raw stores. The first occurrence of a
// store id wins.
func Stores(raw []model.RawStore, source model.Source) ([]model.StoreRecord, Report) {
	rep := newReport(source, model.KindStores, len(raw))
	seen := make(map[string]struct{}, len(raw))
	out := make([]model.StoreRecord, 0, len(raw))

	for _, r := range raw {
		latText, lngText := strings.TrimSpace(r.Latitude), strings.TrimSpace(r.Longitude)
		if latText == "" || lngText == "" {
			rep.drop(ReasonMissingCoordinates)
			continue
		}
		lat, okLat := ParseCoordinate(latText)
		lng, okLng := ParseCoordinate(lngText)
		if !okLat || !okLng {
			rep.drop(ReasonInvalidCoordinates)
			continue
		}
		if !InBounds(lat, lng) {
			rep.drop(ReasonOutOfBounds)
			continue
		}

		id := Clean(r.StoreID)
		if id == "" {
			id = CoordinateKey(lat, lng)
		}
		if _, dup := seen[id]; dup {
			rep.drop(ReasonDuplicate)
			continue
		}
		seen[id] = struct{}{}

		out = append(out, model.StoreRecord{
			StoreID:   id,
			Address:   Clean(r.Address),
			Schedule:  Clean(r.Schedule),
			Holidays:  Clean(r.Holidays),
			Latitude:  lat,
			Longitude: lng,
			Name:      Clean(r.Name),
			Category:  Clean(r.Category),
			Source:    source,
		})
	}

	rep.Kept = len(out)
	return out, rep
}

// Products validates and deduplicates raw products by (name, supermarket).
// A product without a name falls back to one derived from its URL slug.
func Products(raw []model.RawProduct, source model.Source) ([]model.ProductRecord, Report) {
	rep := newReport(source, model.KindProducts, len(raw))
	seen := make(map[[2]string]struct{}, len(raw))
	out := make([]model.ProductRecord, 0, len(raw))

	for _, r := range raw {
		name := Clean(r.Name)
		if name == "" {
			name = NameFromSlug(SlugFromURL(r.URL))
		}
		if name == "" {
			rep.drop(ReasonMissingName)
			continue
		}

		supermarket := Clean(r.Supermarket)
		if supermarket == "" {
			supermarket = string(source)
		}

		key := [2]string{strings.ToLower(name), supermarket}
		if _, dup := seen[key]; dup {
			rep.drop(ReasonDuplicate)
			continue
		}
		seen[key] = struct{}{}

		out = append(out, model.ProductRecord{
			DiscountValue:     ParseAmount(r.DiscountValue),
			Price:             ParseAmount(r.Price),
			PricePerUnit:      ParseAmount(r.PricePerUnit),
			Name:              name,
			Image:             strings.TrimSpace(r.Image),
			URL:               strings.TrimSpace(r.URL),
			Supermarket:       supermarket,
			ExtractedCategory: Clean(r.ExtractedCategory),
			SourceFile:        strings.TrimSpace(r.SourceFile),
			Source:            source,
		})
	}

	rep.Kept = len(out)
	return out, rep
}
