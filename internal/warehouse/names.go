package warehouse

import (
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/optimal-systems/data/internal/model"
)

// Schemas of the three tiers.
const (
	SchemaRaw     = "raw"
	SchemaStaging = "staging"
	SchemaProd    = "prod"
)

// dateLayout is the YYYYMMDD suffix used in table and partition names.
const dateLayout = "20060102"

// ErrInvalidDate is returned for a date suffix that is not a real YYYYMMDD
// calendar date. Such a value never reaches DDL.
var ErrInvalidDate = eris.New("warehouse: invalid extraction date")

var dateSuffixRe = regexp.MustCompile(`^[0-9]{8}$`)

// DateSuffix formats t as YYYYMMDD.
func DateSuffix(t time.Time) string {
	return t.Format(dateLayout)
}

// ParseDateSuffix validates s and returns the date it names.
func ParseDateSuffix(s string) (time.Time, error) {
	if !dateSuffixRe.MatchString(s) {
		return time.Time{}, eris.Wrapf(ErrInvalidDate, "%q", s)
	}
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return time.Time{}, eris.Wrapf(ErrInvalidDate, "%q", s)
	}
	return t, nil
}

// ValidateDateSuffix reports whether s is a usable YYYYMMDD date.
func ValidateDateSuffix(s string) error {
	_, err := ParseDateSuffix(s)
	return err
}

// RawTable names the raw snapshot of one source, kind and date, e.g.
// raw.carrefour_stores_20250101.
func RawTable(source model.Source, kind model.Kind, date string) pgx.Identifier {
	return pgx.Identifier{SchemaRaw, string(source) + "_" + string(kind) + "_" + date}
}

// ParentTable names the partitioned table of a tier, e.g. prod.stores.
func ParentTable(schema string, kind model.Kind) pgx.Identifier {
	return pgx.Identifier{schema, string(kind)}
}

// PartitionTable names the date partition of a tier, e.g.
// staging.products_20250101.
func PartitionTable(schema string, kind model.Kind, date string) pgx.Identifier {
	return pgx.Identifier{schema, string(kind) + "_" + date}
}

// isoDate renders a validated suffix as a SQL date literal body.
func isoDate(t time.Time) string {
	return t.Format("2006-01-02")
}
