package warehouse

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/optimal-systems/data/internal/db"
	"github.com/optimal-systems/data/internal/model"
)

// ensurePartition creates the date partition of a tier if it is missing.
// Concurrent runs for different sources may race on the same day, so the DDL
// holds a transaction-scoped advisory lock keyed on the partition name.
func ensurePartition(ctx context.Context, tx pgx.Tx, schema string, kind model.Kind, day time.Time) error {
	part := PartitionTable(schema, kind, DateSuffix(day))
	name := strings.Join(part, ".")

	if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock(hashtext($1))", name); err != nil {
		return eris.Wrapf(err, "warehouse: lock partition %s", name)
	}

	ddl := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s PARTITION OF %s FOR VALUES FROM ('%s') TO ('%s')",
		part.Sanitize(),
		ParentTable(schema, kind).Sanitize(),
		isoDate(day), isoDate(day.AddDate(0, 0, 1)),
	)
	if _, err := tx.Exec(ctx, ddl); err != nil {
		return eris.Wrapf(err, "warehouse: create partition %s", name)
	}
	return nil
}

// Partition describes one date partition of a tier.
type Partition struct {
	Schema string
	Parent string
	Name   string
	// EstimatedRows is the planner estimate, not an exact count.
	EstimatedRows int64
}

// ListPartitions returns the staging and prod partitions, newest last.
func ListPartitions(ctx context.Context, pool db.Pool) ([]Partition, error) {
	rows, err := pool.Query(ctx, `
		SELECT pn.nspname, parent.relname, child.relname, GREATEST(child.reltuples, 0)::bigint
		FROM pg_inherits i
		JOIN pg_class parent ON parent.oid = i.inhparent
		JOIN pg_class child ON child.oid = i.inhrelid
		JOIN pg_namespace pn ON pn.oid = parent.relnamespace
		WHERE pn.nspname IN ('staging', 'prod')
		ORDER BY pn.nspname, parent.relname, child.relname`)
	if err != nil {
		return nil, eris.Wrap(err, "warehouse: list partitions")
	}
	defer rows.Close()

	var out []Partition
	for rows.Next() {
		var p Partition
		if err := rows.Scan(&p.Schema, &p.Parent, &p.Name, &p.EstimatedRows); err != nil {
			return nil, eris.Wrap(err, "warehouse: scan partition")
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
