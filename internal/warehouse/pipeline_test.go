package warehouse

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/optimal-systems/data/internal/model"
)

type fakeHarvester struct {
	ds    model.Dataset
	err   error
	calls int
}

func (f *fakeHarvester) Harvest(_ context.Context, _ model.Source, _ model.Kind) (model.Dataset, error) {
	f.calls++
	return f.ds, f.err
}

func expectRunStart(mock pgxmock.PgxPoolIface, stage string) {
	mock.ExpectExec("INSERT INTO warehouse.run_log").
		WithArgs(pgxmock.AnyArg(), "carrefour", "stores", stage, pgxmock.AnyArg(), "running").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
}

func expectRunComplete(mock pgxmock.PgxPoolIface, rows int64) {
	mock.ExpectExec("UPDATE warehouse.run_log").
		WithArgs("complete", rows, pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
}

// newTestPipeline returns a Pipeline whose schema is already in place.
func newTestPipeline(mock pgxmock.PgxPoolIface, h Harvester) *Pipeline {
	p := NewPipeline(mock, h)
	p.schemaReady = true
	return p
}

func TestPipeline_Run(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	day := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	expectRunStart(mock, "raw")
	expectLoadRaw(mock, 2)
	expectRunComplete(mock, 2)

	expectRunStart(mock, "staging")
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT to_regclass").WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(true))
	expectPartition(mock, "staging", "stores")
	mock.ExpectExec("DELETE FROM").WillReturnResult(pgxmock.NewResult("DELETE", 0))
	mock.ExpectExec("INSERT INTO").WillReturnResult(pgxmock.NewResult("INSERT", 2))
	mock.ExpectCommit()
	expectRunComplete(mock, 2)

	expectRunStart(mock, "production")
	expectLatest(mock, "stores", day)
	mock.ExpectBegin()
	expectPartition(mock, "prod", "stores")
	mock.ExpectExec("INSERT INTO").WillReturnResult(pgxmock.NewResult("INSERT", 2))
	mock.ExpectExec("UPDATE").WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectCommit()
	expectRunComplete(mock, 2)

	h := &fakeHarvester{ds: storesDataset()}
	p := NewPipeline(mock, h)
	p.now = func() time.Time { return day.Add(15 * time.Hour) }
	schemaCalls := 0
	p.schema = func(context.Context) error {
		schemaCalls++
		return nil
	}

	res, err := p.Run(context.Background(), model.SourceCarrefour, model.KindStores, "")
	require.NoError(t, err)
	assert.Equal(t, Result{Date: "20250101", Raw: 2, Staged: 2, Upserted: 2}, res)
	assert.Equal(t, 1, h.calls)
	assert.Equal(t, 1, schemaCalls, "schema is prepared once per pipeline")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPipeline_HarvestFailureStopsBeforeRaw(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	expectRunStart(mock, "raw")
	mock.ExpectExec("UPDATE warehouse.run_log").
		WithArgs("failed", pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	h := &fakeHarvester{err: fmt.Errorf("fetchcache: retries exhausted")}
	res, err := newTestPipeline(mock, h).Run(context.Background(), model.SourceCarrefour, model.KindStores, "20250101")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "retries exhausted")
	assert.Zero(t, res.Raw)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPipeline_StagingFailureKeepsRaw(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	expectRunStart(mock, "raw")
	expectLoadRaw(mock, 2)
	expectRunComplete(mock, 2)

	expectRunStart(mock, "staging")
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT to_regclass").WillReturnError(fmt.Errorf("connection refused"))
	mock.ExpectRollback()
	mock.ExpectExec("UPDATE warehouse.run_log").
		WithArgs("failed", pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	res, err := newTestPipeline(mock, &fakeHarvester{ds: storesDataset()}).
		Run(context.Background(), model.SourceCarrefour, model.KindStores, "20250101")
	require.Error(t, err)
	// The raw snapshot committed before staging failed.
	assert.Equal(t, int64(2), res.Raw)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPipeline_RunLogUnavailable(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectExec("INSERT INTO warehouse.run_log").WillReturnError(fmt.Errorf(`relation "warehouse.run_log" does not exist`))
	expectLoadRaw(mock, 2)

	n, err := newTestPipeline(mock, &fakeHarvester{ds: storesDataset()}).
		ExtractRaw(context.Background(), model.SourceCarrefour, model.KindStores, "20250101")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPipeline_NoHarvester(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	_, err = newTestPipeline(mock, nil).ExtractRaw(context.Background(), model.SourceCarrefour, model.KindStores, "20250101")
	assert.Error(t, err)
}

func TestPipeline_DeployProdNoStaging(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	expectRunStart(mock, "production")
	expectLatest(mock, "stores", nil)
	mock.ExpectExec("UPDATE warehouse.run_log").
		WithArgs("failed", pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	_, err = newTestPipeline(mock, nil).DeployProd(context.Background(), model.SourceCarrefour, model.KindStores)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNoStaging))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRunLog_List(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	started := time.Date(2025, 1, 1, 6, 0, 0, 0, time.UTC)
	done := started.Add(2 * time.Minute)
	day := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	errMsg := "warehouse: raw snapshot not found"

	mock.ExpectQuery("FROM warehouse.run_log ORDER BY started_at DESC LIMIT").
		WithArgs(10).
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "source", "kind", "stage", "extracted_date", "status", "started_at", "completed_at", "rows_affected", "error",
		}).
			AddRow("a", "carrefour", "stores", "raw", &day, "complete", started, &done, int64(812), (*string)(nil)).
			AddRow("b", "carrefour", "stores", "staging", &day, "failed", started, &done, int64(0), &errMsg))

	entries, err := NewRunLog(mock).List(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, model.StageRaw, entries[0].Stage)
	assert.Equal(t, model.RunStatusComplete, entries[0].Status)
	assert.Equal(t, int64(812), entries[0].RowsAffected)
	require.NotNil(t, entries[0].ExtractedDate)
	assert.Equal(t, day, *entries[0].ExtractedDate)
	assert.Empty(t, entries[0].Error)
	assert.Equal(t, errMsg, entries[1].Error)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRunLog_StartError(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectExec("INSERT INTO warehouse.run_log").WillReturnError(pgx.ErrTxClosed)
	_, err = NewRunLog(mock).Start(context.Background(), model.SourceAhorramas, model.KindProducts, model.StageRaw, "20250101")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "runlog: start ahorramas products raw")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPipeline_TransformStagingCreatesSchema(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	names, err := migrationNames()
	require.NoError(t, err)

	// Fresh database: every migration runs before the stage touches staging.
	ddl := map[string]string{
		"001_schemas.sql":  "CREATE SCHEMA IF NOT EXISTS staging",
		"002_cache.sql":    q("CREATE TABLE IF NOT EXISTS cache.urls ("),
		"003_stores.sql":   q("CREATE TABLE IF NOT EXISTS staging.stores ("),
		"004_products.sql": q("CREATE TABLE IF NOT EXISTS staging.products ("),
		"005_run_log.sql":  q("CREATE TABLE IF NOT EXISTS warehouse.run_log ("),
	}
	expectMigrationLock(mock)
	mock.ExpectExec("CREATE SCHEMA IF NOT EXISTS warehouse").WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectQuery("SELECT filename FROM warehouse.schema_migrations").
		WillReturnRows(pgxmock.NewRows([]string{"filename"}))
	for _, name := range names {
		pattern, ok := ddl[name]
		if !ok {
			pattern = ".+"
		}
		mock.ExpectExec(pattern).WillReturnResult(pgxmock.NewResult("CREATE", 0))
		mock.ExpectExec("INSERT INTO warehouse.schema_migrations").
			WithArgs(name).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
	}
	mock.ExpectCommit()

	expectRunStart(mock, "staging")
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT to_regclass").WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(true))
	expectPartition(mock, "staging", "stores")
	mock.ExpectExec("DELETE FROM").WillReturnResult(pgxmock.NewResult("DELETE", 0))
	mock.ExpectExec("INSERT INTO").WillReturnResult(pgxmock.NewResult("INSERT", 2))
	mock.ExpectCommit()
	expectRunComplete(mock, 2)

	n, err := NewPipeline(mock, nil).TransformStaging(context.Background(), model.SourceCarrefour, model.KindStores, "20250101")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPipeline_DeployProdUpToDateSchema(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	names, err := migrationNames()
	require.NoError(t, err)

	expectMigrated(mock, names)
	expectRunStart(mock, "production")
	expectLatest(mock, "stores", nil)
	mock.ExpectExec("UPDATE warehouse.run_log").
		WithArgs("failed", pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	_, err = NewPipeline(mock, nil).DeployProd(context.Background(), model.SourceCarrefour, model.KindStores)
	assert.True(t, errors.Is(err, ErrNoStaging))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPipeline_SchemaFailureStopsStage(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	h := &fakeHarvester{ds: storesDataset()}
	p := NewPipeline(mock, h)
	p.schema = func(context.Context) error { return fmt.Errorf("permission denied for database") }

	_, err = p.ExtractRaw(context.Background(), model.SourceCarrefour, model.KindStores, "20250101")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "prepare schema")
	assert.Zero(t, h.calls)

	_, err = p.DeployProd(context.Background(), model.SourceCarrefour, model.KindStores)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "permission denied")
	assert.NoError(t, mock.ExpectationsWereMet())
}
