// Package monitoring derives warehouse health from the run log: failure
// rate over a lookback window and, per source and kind, when prod was last
// deployed. Breached thresholds become alerts posted to a webhook.
package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/optimal-systems/data/internal/model"
)

// historyLimit bounds how much of the run log one collection reads.
const historyLimit = 5000

// Stream identifies one source and kind.
type Stream struct {
	Source model.Source `json:"source"`
	Kind   model.Kind   `json:"kind"`
}

// StreamHealth is the latest state of one stream.
type StreamHealth struct {
	Stream
	// LastDeployed is when a production stage last completed.
	LastDeployed *time.Time `json:"last_deployed,omitempty"`
	// LastStage and LastStatus describe the most recent run of any stage.
	LastStage  model.Stage     `json:"last_stage,omitempty"`
	LastStatus model.RunStatus `json:"last_status,omitempty"`
	LastError  string          `json:"last_error,omitempty"`
}

// Snapshot holds a point-in-time view of warehouse health.
type Snapshot struct {
	Total    int     `json:"total"`
	Complete int     `json:"complete"`
	Failed   int     `json:"failed"`
	Running  int     `json:"running"`
	FailRate float64 `json:"fail_rate"`

	Streams []StreamHealth `json:"streams"`

	LookbackHours int       `json:"lookback_hours"`
	CollectedAt   time.Time `json:"collected_at"`
}

// RunLister reads the run log newest first. warehouse.RunLog satisfies it.
type RunLister interface {
	List(ctx context.Context, limit int) ([]model.RunEntry, error)
}

// Collector gathers snapshots from the run log.
type Collector struct {
	runs    RunLister
	streams []Stream
	now     func() time.Time
}

// NewCollector creates a collector reporting on streams. Streams absent from
// the run log are still reported, with no deploy time.
func NewCollector(runs RunLister, streams []Stream) *Collector {
	return &Collector{runs: runs, streams: streams, now: time.Now}
}

// Collect gathers a snapshot over the given lookback window.
func (c *Collector) Collect(ctx context.Context, lookbackHours int) (*Snapshot, error) {
	now := c.now().UTC()
	snap := &Snapshot{
		LookbackHours: lookbackHours,
		CollectedAt:   now,
	}
	cutoff := now.Add(-time.Duration(lookbackHours) * time.Hour)

	entries, err := c.runs.List(ctx, historyLimit)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list runs")
	}

	health := make(map[Stream]*StreamHealth, len(c.streams))
	for _, s := range c.streams {
		health[s] = &StreamHealth{Stream: s}
	}

	// Entries arrive newest first, so the first match per stream wins.
	for _, e := range entries {
		if !e.StartedAt.Before(cutoff) {
			snap.Total++
			switch e.Status {
			case model.RunStatusComplete:
				snap.Complete++
			case model.RunStatusFailed:
				snap.Failed++
			case model.RunStatusRunning:
				snap.Running++
			}
		}

		h, ok := health[Stream{Source: e.Source, Kind: e.Kind}]
		if !ok {
			continue
		}
		if h.LastStatus == "" {
			h.LastStage = e.Stage
			h.LastStatus = e.Status
			h.LastError = e.Error
		}
		if h.LastDeployed == nil && e.Stage == model.StageProduction && e.Status == model.RunStatusComplete {
			at := e.StartedAt
			if e.CompletedAt != nil {
				at = *e.CompletedAt
			}
			h.LastDeployed = &at
		}
	}

	if finished := snap.Complete + snap.Failed; finished > 0 {
		snap.FailRate = float64(snap.Failed) / float64(finished)
	}
	for _, s := range c.streams {
		snap.Streams = append(snap.Streams, *health[s])
	}
	return snap, nil
}
