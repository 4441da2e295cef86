package warehouse

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"github.com/optimal-systems/data/internal/db"
	"github.com/optimal-systems/data/internal/model"
)

// RunLog provides read/write access to warehouse.run_log.
type RunLog struct {
	pool db.Pool
}

// NewRunLog creates a RunLog backed by pool.
func NewRunLog(pool db.Pool) *RunLog {
	return &RunLog{pool: pool}
}

// dateArg turns a YYYYMMDD suffix into a nullable date argument.
func dateArg(date string) any {
	if date == "" {
		return nil
	}
	t, err := ParseDateSuffix(date)
	if err != nil {
		return nil
	}
	return t
}

// Start records the beginning of a stage and returns its run id. date may be
// empty when the stage resolves it later.
func (r *RunLog) Start(ctx context.Context, source model.Source, kind model.Kind, stage model.Stage, date string) (string, error) {
	id := uuid.NewString()
	_, err := r.pool.Exec(ctx,
		`INSERT INTO warehouse.run_log (id, source, kind, stage, extracted_date, status, started_at)
		 VALUES ($1, $2, $3, $4, $5, $6, now())`,
		id, string(source), string(kind), string(stage), dateArg(date), string(model.RunStatusRunning),
	)
	if err != nil {
		return "", eris.Wrapf(err, "runlog: start %s %s %s", source, kind, stage)
	}
	return id, nil
}

// Complete marks a run as finished.
func (r *RunLog) Complete(ctx context.Context, id string, rows int64, date string) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE warehouse.run_log
		 SET status = $1, completed_at = now(), rows_affected = $2,
		     extracted_date = COALESCE($3, extracted_date)
		 WHERE id = $4`,
		string(model.RunStatusComplete), rows, dateArg(date), id,
	)
	return eris.Wrapf(err, "runlog: complete %s", id)
}

// Fail marks a run as failed with an error message.
func (r *RunLog) Fail(ctx context.Context, id string, errMsg string) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE warehouse.run_log
		 SET status = $1, completed_at = now(), error = $2
		 WHERE id = $3`,
		string(model.RunStatusFailed), errMsg, id,
	)
	return eris.Wrapf(err, "runlog: fail %s", id)
}

// List returns the most recent entries first. A non-positive limit returns
// every entry.
func (r *RunLog) List(ctx context.Context, limit int) ([]model.RunEntry, error) {
	sql := `SELECT id::text, source, kind, stage, extracted_date, status, started_at, completed_at, rows_affected, error
		 FROM warehouse.run_log ORDER BY started_at DESC`
	args := []any{}
	if limit > 0 {
		sql += " LIMIT $1"
		args = append(args, limit)
	}

	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, eris.Wrap(err, "runlog: list")
	}
	defer rows.Close()

	var out []model.RunEntry
	for rows.Next() {
		var e model.RunEntry
		var source, kind, stage, status string
		var errStr *string
		var date, completed *time.Time
		if err := rows.Scan(&e.ID, &source, &kind, &stage, &date, &status, &e.StartedAt, &completed, &e.RowsAffected, &errStr); err != nil {
			return nil, eris.Wrap(err, "runlog: scan entry")
		}
		e.Source = model.Source(source)
		e.Kind = model.Kind(kind)
		e.Stage = model.Stage(stage)
		e.Status = model.RunStatus(status)
		e.ExtractedDate = date
		e.CompletedAt = completed
		if errStr != nil {
			e.Error = *errStr
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
