package warehouse

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/optimal-systems/data/internal/db"
	"github.com/optimal-systems/data/internal/model"
)

var (
	// ErrMissingRaw is returned by TransformStaging when the raw snapshot of
	// the date has not been loaded.
	ErrMissingRaw = eris.New("warehouse: raw snapshot not found")
	// ErrNoStaging is returned by DeployProd when staging holds no rows for
	// the source.
	ErrNoStaging = eris.New("warehouse: no staging data for source")
)

// Warehouse runs the three promotion stages over a pool.
type Warehouse struct {
	pool db.Pool
	log  *zap.Logger
}

// New creates a Warehouse. The pool stays owned by the caller.
func New(pool db.Pool) *Warehouse {
	return &Warehouse{
		pool: pool,
		log:  zap.L().With(zap.String("component", "warehouse")),
	}
}

// LoadRaw replaces the raw snapshot of the dataset's source, kind and date:
// the table is dropped, recreated with TEXT columns and filled by COPY in one
// transaction. Loading the same dataset twice leaves the same rows.
func (w *Warehouse) LoadRaw(ctx context.Context, ds model.Dataset, date string) (int64, error) {
	if err := ValidateDateSuffix(date); err != nil {
		return 0, err
	}
	if _, err := specFor(ds.Kind); err != nil {
		return 0, err
	}

	table := RawTable(ds.Source, ds.Kind, date)
	cols := ds.Columns()
	defs := make([]string, len(cols))
	for i, c := range cols {
		defs[i] = pgx.Identifier{c}.Sanitize() + " TEXT"
	}

	var n int64
	err := db.WithTx(ctx, w.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, "DROP TABLE IF EXISTS "+table.Sanitize()); err != nil {
			return eris.Wrapf(err, "warehouse: drop %s", table.Sanitize())
		}
		create := fmt.Sprintf("CREATE TABLE %s (%s)", table.Sanitize(), strings.Join(defs, ", "))
		if _, err := tx.Exec(ctx, create); err != nil {
			return eris.Wrapf(err, "warehouse: create %s", table.Sanitize())
		}
		var err error
		n, err = db.CopyFrom(ctx, tx, table, cols, ds.Rows())
		return err
	})
	if err != nil {
		return 0, err
	}

	w.log.Info("raw snapshot loaded",
		zap.String("table", strings.Join(table, ".")),
		zap.Int64("rows", n),
	)
	return n, nil
}

// TransformStaging replaces the staging rows of (date, source) with the
// raw snapshot of that date. Numeric text that does not look like a number
// becomes NULL instead of failing the stage.
func (w *Warehouse) TransformStaging(ctx context.Context, kind model.Kind, source model.Source, date string) (int64, error) {
	day, err := ParseDateSuffix(date)
	if err != nil {
		return 0, err
	}
	spec, err := specFor(kind)
	if err != nil {
		return 0, err
	}

	raw := RawTable(source, kind, date)
	parent := ParentTable(SchemaStaging, kind)

	var n int64
	err = db.WithTx(ctx, w.pool, func(tx pgx.Tx) error {
		var exists bool
		if err := tx.QueryRow(ctx, "SELECT to_regclass($1) IS NOT NULL", raw.Sanitize()).Scan(&exists); err != nil {
			return eris.Wrapf(err, "warehouse: look up %s", raw.Sanitize())
		}
		if !exists {
			return eris.Wrapf(ErrMissingRaw, "%s", strings.Join(raw, "."))
		}

		if err := ensurePartition(ctx, tx, SchemaStaging, kind, day); err != nil {
			return err
		}

		if _, err := tx.Exec(ctx,
			fmt.Sprintf("DELETE FROM %s WHERE extracted_date = $1 AND source = $2", parent.Sanitize()),
			day, string(source),
		); err != nil {
			return eris.Wrapf(err, "warehouse: clear staging %s for %s", date, source)
		}

		insert := fmt.Sprintf("INSERT INTO %s (%s, source, extracted_date) SELECT %s, $1, $2 FROM %s",
			parent.Sanitize(), strings.Join(spec.columns, ", "), spec.stagingSelect(), raw.Sanitize())
		tag, err := tx.Exec(ctx, insert, string(source), day)
		if err != nil {
			return eris.Wrapf(err, "warehouse: insert staging %s for %s", date, source)
		}
		n = tag.RowsAffected()
		return nil
	})
	if err != nil {
		return 0, err
	}

	w.log.Info("staging partition replaced",
		zap.String("kind", string(kind)),
		zap.String("source", string(source)),
		zap.String("date", date),
		zap.Int64("rows", n),
	)
	return n, nil
}

// DeployResult is the outcome of a prod merge.
type DeployResult struct {
	Date        string
	Upserted    int64
	Deactivated int64
}

// LatestStagingDate returns the most recent staging date of a source.
func (w *Warehouse) LatestStagingDate(ctx context.Context, kind model.Kind, source model.Source) (time.Time, error) {
	sql := fmt.Sprintf("SELECT MAX(extracted_date) AS latest FROM %s WHERE source = $1",
		ParentTable(SchemaStaging, kind).Sanitize())
	rows, err := db.Execute(ctx, w.pool, sql, []any{string(source)}, true)
	if err != nil {
		return time.Time{}, eris.Wrapf(err, "warehouse: latest staging date for %s", source)
	}
	if len(rows) == 0 {
		return time.Time{}, eris.Wrapf(ErrNoStaging, "%s %s", source, kind)
	}
	latest, ok := rows[0]["latest"].(time.Time)
	if !ok {
		return time.Time{}, eris.Wrapf(ErrNoStaging, "%s %s", source, kind)
	}
	return latest, nil
}

// DeployProd merges the latest staging partition of a source into prod.
// One row per natural key is chosen deterministically, stored values are
// never replaced by NULLs, and prod rows of the source that are not part of
// the new snapshot are marked inactive.
func (w *Warehouse) DeployProd(ctx context.Context, kind model.Kind, source model.Source) (DeployResult, error) {
	spec, err := specFor(kind)
	if err != nil {
		return DeployResult{}, err
	}
	day, err := w.LatestStagingDate(ctx, kind, source)
	if err != nil {
		return DeployResult{}, err
	}

	staging := ParentTable(SchemaStaging, kind).Sanitize()
	prod := ParentTable(SchemaProd, kind).Sanitize()
	key := strings.Join(spec.naturalKey, ", ")

	upsert := fmt.Sprintf(`INSERT INTO %[1]s AS t (%[2]s, source, extracted_date)
SELECT DISTINCT ON (%[3]s) %[4]s, source, extracted_date
FROM %[5]s
WHERE source = $1 AND extracted_date = $2 AND %[6]s
ORDER BY %[3]s, %[7]s
ON CONFLICT (%[3]s, extracted_date, source) DO UPDATE SET %[8]s`,
		prod, strings.Join(spec.columns, ", "), key, spec.prodSelect(),
		staging, spec.eligible, spec.tieBreak, spec.conflictUpdate("t"))

	deactivate := fmt.Sprintf(`UPDATE %[1]s AS t SET is_active = false, last_updated = now()
WHERE t.source = $1 AND t.is_active
AND (t.extracted_date < $2 OR NOT EXISTS (
	SELECT 1 FROM %[2]s s WHERE s.source = $1 AND s.extracted_date = $2 AND %[3]s))`,
		prod, staging, spec.keyMatch("s", "t"))

	res := DeployResult{Date: DateSuffix(day)}
	err = db.WithTx(ctx, w.pool, func(tx pgx.Tx) error {
		if err := ensurePartition(ctx, tx, SchemaProd, kind, day); err != nil {
			return err
		}
		tag, err := tx.Exec(ctx, upsert, string(source), day)
		if err != nil {
			return eris.Wrapf(err, "warehouse: upsert %s for %s", prod, source)
		}
		res.Upserted = tag.RowsAffected()

		tag, err = tx.Exec(ctx, deactivate, string(source), day)
		if err != nil {
			return eris.Wrapf(err, "warehouse: deactivate %s for %s", prod, source)
		}
		res.Deactivated = tag.RowsAffected()
		return nil
	})
	if err != nil {
		return DeployResult{}, err
	}

	w.log.Info("prod merged",
		zap.String("kind", string(kind)),
		zap.String("source", string(source)),
		zap.String("date", res.Date),
		zap.Int64("upserted", res.Upserted),
		zap.Int64("deactivated", res.Deactivated),
	)
	return res, nil
}
