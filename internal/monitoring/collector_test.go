package monitoring

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/optimal-systems/data/internal/model"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

type fakeRuns struct {
	entries []model.RunEntry
	err     error
	limit   int
}

func (f *fakeRuns) List(_ context.Context, limit int) ([]model.RunEntry, error) {
	f.limit = limit
	return f.entries, f.err
}

var (
	now            = time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	carrefourStore = Stream{Source: model.SourceCarrefour, Kind: model.KindStores}
	ahorramasProd  = Stream{Source: model.SourceAhorramas, Kind: model.KindProducts}
)

func entry(s Stream, stage model.Stage, status model.RunStatus, age time.Duration) model.RunEntry {
	started := now.Add(-age)
	done := started.Add(time.Minute)
	return model.RunEntry{
		ID:          "id",
		Source:      s.Source,
		Kind:        s.Kind,
		Stage:       stage,
		Status:      status,
		StartedAt:   started,
		CompletedAt: &done,
	}
}

func newTestCollector(runs RunLister) *Collector {
	c := NewCollector(runs, []Stream{carrefourStore, ahorramasProd})
	c.now = func() time.Time { return now }
	return c
}

func TestCollector_Collect(t *testing.T) {
	failed := entry(carrefourStore, model.StageStaging, model.RunStatusFailed, time.Hour)
	failed.Error = "warehouse: raw snapshot not found"

	runs := &fakeRuns{entries: []model.RunEntry{
		failed,
		entry(carrefourStore, model.StageProduction, model.RunStatusComplete, 10*time.Hour),
		entry(carrefourStore, model.StageStaging, model.RunStatusComplete, 11*time.Hour),
		entry(carrefourStore, model.StageRaw, model.RunStatusRunning, 12*time.Hour),
		// Outside the 24h window but still the last deploy of its stream.
		entry(ahorramasProd, model.StageProduction, model.RunStatusComplete, 72*time.Hour),
	}}

	snap, err := newTestCollector(runs).Collect(context.Background(), 24)
	require.NoError(t, err)

	assert.Equal(t, historyLimit, runs.limit)
	assert.Equal(t, 4, snap.Total)
	assert.Equal(t, 2, snap.Complete)
	assert.Equal(t, 1, snap.Failed)
	assert.Equal(t, 1, snap.Running)
	assert.InDelta(t, 1.0/3.0, snap.FailRate, 0.001)
	assert.Equal(t, now, snap.CollectedAt)

	require.Len(t, snap.Streams, 2)
	cs := snap.Streams[0]
	assert.Equal(t, carrefourStore, cs.Stream)
	assert.Equal(t, model.RunStatusFailed, cs.LastStatus)
	assert.Equal(t, model.StageStaging, cs.LastStage)
	assert.Contains(t, cs.LastError, "raw snapshot not found")
	require.NotNil(t, cs.LastDeployed)
	assert.Equal(t, now.Add(-10*time.Hour+time.Minute), *cs.LastDeployed)

	ap := snap.Streams[1]
	require.NotNil(t, ap.LastDeployed)
	assert.Equal(t, model.RunStatusComplete, ap.LastStatus)
}

func TestCollector_EmptyLog(t *testing.T) {
	snap, err := newTestCollector(&fakeRuns{}).Collect(context.Background(), 24)
	require.NoError(t, err)

	assert.Zero(t, snap.Total)
	assert.Zero(t, snap.FailRate)
	require.Len(t, snap.Streams, 2)
	assert.Nil(t, snap.Streams[0].LastDeployed)
	assert.Empty(t, snap.Streams[0].LastStatus)
}

func TestCollector_IgnoresUnknownStreams(t *testing.T) {
	runs := &fakeRuns{entries: []model.RunEntry{
		entry(Stream{Source: "dia", Kind: model.KindStores}, model.StageProduction, model.RunStatusComplete, time.Hour),
	}}

	snap, err := newTestCollector(runs).Collect(context.Background(), 24)
	require.NoError(t, err)
	assert.Equal(t, 1, snap.Total)
	for _, s := range snap.Streams {
		assert.Nil(t, s.LastDeployed)
	}
}

func TestCollector_ListError(t *testing.T) {
	_, err := newTestCollector(&fakeRuns{err: errors.New("connection refused")}).Collect(context.Background(), 24)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "monitoring: list runs")
}
