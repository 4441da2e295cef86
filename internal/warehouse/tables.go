package warehouse

import (
	"fmt"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/optimal-systems/data/internal/model"
)

// numericPattern guards every text-to-number cast in staging. Values that do
// not match become NULL.
const numericPattern = `^-?[0-9]+(\.[0-9]+)?$`

// tableSpec describes how one entity kind moves from raw to prod.
type tableSpec struct {
	kind model.Kind
	// columns shared by staging and prod, in insert order.
	columns []string
	// casts maps a staging column to its expression over the raw table.
	casts map[string]string
	// naturalKey is the prod conflict key without extracted_date and source.
	naturalKey []string
	// tieBreak orders rows sharing a natural key; the first one wins.
	tieBreak string
	// eligible filters staging rows that may enter prod.
	eligible string
}

func textCast(col string) string {
	return fmt.Sprintf("NULLIF(btrim(%s), '')", col)
}

func numericCast(col, typ string) string {
	return fmt.Sprintf("CASE WHEN btrim(%[1]s) ~ '%[2]s' THEN btrim(%[1]s)::%[3]s END", col, numericPattern, typ)
}

var specs = map[model.Kind]tableSpec{
	model.KindStores: {
		kind:    model.KindStores,
		columns: []string{"store_id", "address", "schedule", "holidays", "latitude", "longitude", "name", "category"},
		casts: map[string]string{
			"store_id":  textCast("store_id"),
			"address":   textCast("address"),
			"schedule":  textCast("schedule"),
			"holidays":  textCast("holidays"),
			"latitude":  numericCast("latitude", "double precision"),
			"longitude": numericCast("longitude", "double precision"),
			"name":      textCast("name"),
			"category":  textCast("category"),
		},
		naturalKey: []string{"latitude", "longitude"},
		tieBreak:   "(store_id IS NULL), store_id, name",
		eligible:   "latitude IS NOT NULL AND longitude IS NOT NULL",
	},
	model.KindProducts: {
		kind: model.KindProducts,
		columns: []string{
			"discount_value", "price", "price_per_unit", "name", "image",
			"url", "supermarket", "extracted_category", "source_file",
		},
		casts: map[string]string{
			"discount_value":     numericCast("discount_value", "numeric"),
			"price":              numericCast("price", "numeric"),
			"price_per_unit":     numericCast("price_per_unit", "numeric"),
			"name":               textCast("name"),
			"image":              textCast("image"),
			"url":                textCast("url"),
			"supermarket":        textCast("supermarket"),
			"extracted_category": textCast("extracted_category"),
			"source_file":        textCast("source_file"),
		},
		naturalKey: []string{"name"},
		tieBreak:   "(url IS NULL), (price IS NULL), url, price",
		eligible:   "name IS NOT NULL",
	},
}

func specFor(kind model.Kind) (tableSpec, error) {
	s, ok := specs[kind]
	if !ok {
		return tableSpec{}, eris.Errorf("warehouse: unknown kind %q", kind)
	}
	return s, nil
}

// mutable returns the prod columns refreshed on conflict.
func (s tableSpec) mutable() []string {
	key := make(map[string]bool, len(s.naturalKey))
	for _, k := range s.naturalKey {
		key[k] = true
	}
	var out []string
	for _, c := range s.columns {
		if !key[c] {
			out = append(out, c)
		}
	}
	return out
}

// stagingSelect renders the cast list reading a raw snapshot.
func (s tableSpec) stagingSelect() string {
	exprs := make([]string, len(s.columns))
	for i, c := range s.columns {
		exprs[i] = s.casts[c]
	}
	return strings.Join(exprs, ", ")
}

// prodSelect renders the staging projection. Products without a supermarket
// take the source name so the prod NOT NULL holds.
func (s tableSpec) prodSelect() string {
	exprs := make([]string, len(s.columns))
	for i, c := range s.columns {
		if c == "supermarket" {
			exprs[i] = "COALESCE(supermarket, source) AS supermarket"
			continue
		}
		exprs[i] = c
	}
	return strings.Join(exprs, ", ")
}

// conflictUpdate renders the DO UPDATE list. A NULL never replaces a stored
// value, so an identifier once known survives later merges without it.
func (s tableSpec) conflictUpdate(alias string) string {
	sets := make([]string, 0, len(s.mutable())+2)
	for _, c := range s.mutable() {
		sets = append(sets, fmt.Sprintf("%[1]s = COALESCE(EXCLUDED.%[1]s, %[2]s.%[1]s)", c, alias))
	}
	sets = append(sets, "is_active = true", "last_updated = now()")
	return strings.Join(sets, ", ")
}

// keyMatch renders the natural key equality between two aliases.
func (s tableSpec) keyMatch(a, b string) string {
	conds := make([]string, len(s.naturalKey))
	for i, k := range s.naturalKey {
		conds[i] = fmt.Sprintf("%s.%s = %s.%s", a, k, b, k)
	}
	return strings.Join(conds, " AND ")
}
