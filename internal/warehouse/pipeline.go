package warehouse

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/optimal-systems/data/internal/db"
	"github.com/optimal-systems/data/internal/model"
)

// Harvester produces the normalized dataset of one source and kind.
type Harvester interface {
	Harvest(ctx context.Context, source model.Source, kind model.Kind) (model.Dataset, error)
}

// Pipeline chains harvesting and the three warehouse stages, recording each
// stage in the run log.
type Pipeline struct {
	wh      *Warehouse
	runs    *RunLog
	harvest Harvester
	now     func() time.Time
	log     *zap.Logger

	// schema creates the schemas, base tables, cache table and run log the
	// stages write to. It runs once per Pipeline, before the first stage.
	schema      func(ctx context.Context) error
	schemaReady bool
}

// NewPipeline creates a Pipeline. h may be nil when only the staging and
// prod stages are used.
func NewPipeline(pool db.Pool, h Harvester) *Pipeline {
	return &Pipeline{
		wh:      New(pool),
		runs:    NewRunLog(pool),
		harvest: h,
		now:     time.Now,
		log:     zap.L().With(zap.String("component", "warehouse.pipeline")),
		schema: func(ctx context.Context) error {
			return Migrate(ctx, pool)
		},
	}
}

// prepare makes sure the warehouse schema exists. Migrate is idempotent, so
// a fresh database and an up to date one take the same path.
func (p *Pipeline) prepare(ctx context.Context) error {
	if p.schemaReady {
		return nil
	}
	if err := p.schema(ctx); err != nil {
		return eris.Wrap(err, "warehouse: prepare schema")
	}
	p.schemaReady = true
	return nil
}

// Today returns the date suffix of the current run.
func (p *Pipeline) Today() string {
	return DateSuffix(p.now())
}

// Result summarizes a full pipeline run.
type Result struct {
	Date        string
	Raw         int64
	Staged      int64
	Upserted    int64
	Deactivated int64
}

// tracked runs fn as one logged stage. Run log failures are logged and never
// fail the stage itself.
func (p *Pipeline) tracked(ctx context.Context, source model.Source, kind model.Kind, stage model.Stage, date string, fn func() (int64, string, error)) error {
	log := p.log.With(
		zap.String("source", string(source)),
		zap.String("kind", string(kind)),
		zap.String("stage", string(stage)),
	)

	id, err := p.runs.Start(ctx, source, kind, stage, date)
	if err != nil {
		log.Warn("run log unavailable", zap.Error(err))
	}

	start := time.Now()
	rows, resolvedDate, err := fn()
	if err != nil {
		if id != "" {
			if ferr := p.runs.Fail(ctx, id, err.Error()); ferr != nil {
				log.Warn("run log fail not recorded", zap.Error(ferr))
			}
		}
		log.Error("stage failed", zap.Error(err))
		return err
	}

	if id != "" {
		if cerr := p.runs.Complete(ctx, id, rows, resolvedDate); cerr != nil {
			log.Warn("run log completion not recorded", zap.Error(cerr))
		}
	}
	log.Info("stage complete",
		zap.String("date", resolvedDate),
		zap.Int64("rows", rows),
		zap.Duration("elapsed", time.Since(start)),
	)
	return nil
}

// ExtractRaw harvests the source and replaces the raw snapshot of date.
func (p *Pipeline) ExtractRaw(ctx context.Context, source model.Source, kind model.Kind, date string) (int64, error) {
	if p.harvest == nil {
		return 0, eris.New("warehouse: pipeline has no harvester")
	}
	if err := ValidateDateSuffix(date); err != nil {
		return 0, err
	}
	if err := p.prepare(ctx); err != nil {
		return 0, err
	}

	var n int64
	err := p.tracked(ctx, source, kind, model.StageRaw, date, func() (int64, string, error) {
		ds, err := p.harvest.Harvest(ctx, source, kind)
		if err != nil {
			return 0, "", eris.Wrapf(err, "warehouse: harvest %s %s", source, kind)
		}
		n, err = p.wh.LoadRaw(ctx, ds, date)
		return n, date, err
	})
	return n, err
}

// TransformStaging consolidates the raw snapshot of date into staging.
func (p *Pipeline) TransformStaging(ctx context.Context, source model.Source, kind model.Kind, date string) (int64, error) {
	if err := p.prepare(ctx); err != nil {
		return 0, err
	}
	var n int64
	err := p.tracked(ctx, source, kind, model.StageStaging, date, func() (int64, string, error) {
		var err error
		n, err = p.wh.TransformStaging(ctx, kind, source, date)
		return n, date, err
	})
	return n, err
}

// DeployProd merges the latest staging partition of the source into prod.
func (p *Pipeline) DeployProd(ctx context.Context, source model.Source, kind model.Kind) (DeployResult, error) {
	if err := p.prepare(ctx); err != nil {
		return DeployResult{}, err
	}
	var res DeployResult
	err := p.tracked(ctx, source, kind, model.StageProduction, "", func() (int64, string, error) {
		var err error
		res, err = p.wh.DeployProd(ctx, kind, source)
		return res.Upserted, res.Date, err
	})
	return res, err
}

// Run executes raw, staging and prod in order. A failing stage stops the
// run and leaves the earlier stages' data in place.
func (p *Pipeline) Run(ctx context.Context, source model.Source, kind model.Kind, date string) (Result, error) {
	if date == "" {
		date = p.Today()
	}
	res := Result{Date: date}

	var err error
	if res.Raw, err = p.ExtractRaw(ctx, source, kind, date); err != nil {
		return res, err
	}
	if res.Staged, err = p.TransformStaging(ctx, source, kind, date); err != nil {
		return res, err
	}
	deployed, err := p.DeployProd(ctx, source, kind)
	if err != nil {
		return res, err
	}
	res.Upserted = deployed.Upserted
	res.Deactivated = deployed.Deactivated
	return res, nil
}

// Runs exposes the run log.
func (p *Pipeline) Runs() *RunLog {
	return p.runs
}
