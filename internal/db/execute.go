package db

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// WithTx runs fn inside a transaction. The transaction commits when fn
// returns nil and rolls back otherwise; the connection goes back to the pool
// either way.
func WithTx(ctx context.Context, pool Pool, fn func(tx pgx.Tx) error) error {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "db: begin tx")
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil {
			zap.L().Warn("db: rollback failed", zap.Error(rbErr))
		}
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return eris.Wrap(err, "db: commit tx")
	}
	return nil
}

// Execute runs a single statement in its own transaction. With fetch set, the
// result rows are returned as column-name maps; statements without a result
// set return nil.
func Execute(ctx context.Context, pool Pool, sql string, args []any, fetch bool) ([]map[string]any, error) {
	var out []map[string]any
	err := WithTx(ctx, pool, func(tx pgx.Tx) error {
		if !fetch {
			if _, err := tx.Exec(ctx, sql, args...); err != nil {
				return eris.Wrap(err, "db: execute")
			}
			return nil
		}

		rows, err := tx.Query(ctx, sql, args...)
		if err != nil {
			return eris.Wrap(err, "db: query")
		}
		defer rows.Close()

		fields := rows.FieldDescriptions()
		for rows.Next() {
			values, err := rows.Values()
			if err != nil {
				return eris.Wrap(err, "db: read row")
			}
			row := make(map[string]any, len(fields))
			for i, fd := range fields {
				if i < len(values) {
					row[fd.Name] = values[i]
				}
			}
			out = append(out, row)
		}
		return eris.Wrap(rows.Err(), "db: iterate rows")
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
