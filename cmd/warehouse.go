package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/optimal-systems/data/internal/app"
	"github.com/optimal-systems/data/internal/model"
	"github.com/optimal-systems/data/internal/monitoring"
	"github.com/optimal-systems/data/internal/source"
	"github.com/optimal-systems/data/internal/warehouse"
)

var warehouseCmd = &cobra.Command{
	Use:   "warehouse",
	Short: "Warehouse schema and history",
	Long:  "Applies schema migrations and inspects the run log and date partitions of the raw, staging and prod tiers.",
}

var warehouseMigrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply warehouse schema migrations",
	Long:  "Applies all pending SQL migrations (schemas, partitioned base tables, cache table, run log) in lexicographic order.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		pool, err := openPool(ctx)
		if err != nil {
			return err
		}
		defer pool.Close()

		if err := warehouse.Migrate(ctx, pool); err != nil {
			return eris.Wrap(err, "warehouse migrate")
		}

		zap.L().Info("all migrations applied successfully")
		return nil
	},
}

var warehouseRunsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List recent stage runs",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		pool, err := openPool(ctx)
		if err != nil {
			return err
		}
		defer pool.Close()

		limit, _ := cmd.Flags().GetInt("limit")
		entries, err := warehouse.NewRunLog(pool).List(ctx, limit)
		if err != nil {
			return eris.Wrap(err, "warehouse runs")
		}

		if len(entries) == 0 {
			fmt.Fprintln(os.Stderr, "No runs found.")
			return nil
		}

		formatRunEntries(os.Stdout, entries)
		return nil
	},
}

var warehousePartitionsCmd = &cobra.Command{
	Use:   "partitions",
	Short: "List staging and prod date partitions",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		pool, err := openPool(ctx)
		if err != nil {
			return err
		}
		defer pool.Close()

		parts, err := warehouse.ListPartitions(ctx, pool)
		if err != nil {
			return eris.Wrap(err, "warehouse partitions")
		}

		formatPartitions(os.Stdout, parts)
		return nil
	},
}

var warehouseHealthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check run failures and prod freshness",
	Long:  "Reads the run log over the monitoring lookback window and reports failed stages, a high failure rate, and sources whose prod tables have gone stale.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		streams, err := monitoredStreams()
		if err != nil {
			return err
		}

		pool, err := openPool(ctx)
		if err != nil {
			return err
		}
		defer pool.Close()

		snap, err := monitoring.NewCollector(warehouse.NewRunLog(pool), streams).
			Collect(ctx, cfg.Monitoring.LookbackHours)
		if err != nil {
			return eris.Wrap(err, "warehouse health")
		}

		alerter := monitoring.NewAlerter(cfg.Monitoring)
		alerts := alerter.Evaluate(snap)
		formatHealth(os.Stdout, snap, alerts)

		if notify, _ := cmd.Flags().GetBool("notify"); notify {
			sent := alerter.SendAlerts(ctx, alerts)
			zap.L().Info("health alerts delivered", zap.Int("alerts", len(alerts)), zap.Int("sent", sent))
		}
		return nil
	},
}

// monitoredStreams lists every registered source for both kinds.
func monitoredStreams() ([]monitoring.Stream, error) {
	cat, err := source.LoadCatalog(cfg.Sources.CatalogPath)
	if err != nil {
		return nil, err
	}
	reg, err := app.BuildRegistry(cat, cfg.Extract.ChunkSize)
	if err != nil {
		return nil, err
	}

	var streams []monitoring.Stream
	for _, name := range reg.Names() {
		for _, kind := range model.Kinds {
			streams = append(streams, monitoring.Stream{Source: model.Source(name), Kind: kind})
		}
	}
	return streams, nil
}

func init() {
	warehouseRunsCmd.Flags().Int("limit", 50, "max number of runs to display")
	warehouseHealthCmd.Flags().Bool("notify", false, "post alerts to monitoring.webhook_url")

	warehouseCmd.AddCommand(warehouseMigrateCmd)
	warehouseCmd.AddCommand(warehouseRunsCmd)
	warehouseCmd.AddCommand(warehousePartitionsCmd)
	warehouseCmd.AddCommand(warehouseHealthCmd)
	rootCmd.AddCommand(warehouseCmd)
}

// formatRunEntries writes a tabular list of run log entries to w.
func formatRunEntries(out io.Writer, entries []model.RunEntry) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tSOURCE\tKIND\tSTAGE\tDATE\tSTATUS\tSTARTED\tDURATION\tROWS\tERROR")
	_, _ = fmt.Fprintln(w, "--\t------\t----\t-----\t----\t------\t-------\t--------\t----\t-----")

	for _, e := range entries {
		date := "-"
		if e.ExtractedDate != nil {
			date = warehouse.DateSuffix(*e.ExtractedDate)
		}

		dur := "-"
		if e.CompletedAt != nil {
			dur = e.CompletedAt.Sub(e.StartedAt).Round(time.Second).String()
		}

		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t%d\t%s\n",
			truncateID(e.ID),
			e.Source,
			e.Kind,
			e.Stage,
			date,
			e.Status,
			e.StartedAt.Format("2006-01-02 15:04"),
			dur,
			e.RowsAffected,
			truncate(e.Error, 60),
		)
	}
	_ = w.Flush()
}

// formatPartitions writes one line per partition to w.
func formatPartitions(out io.Writer, parts []warehouse.Partition) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "SCHEMA\tTABLE\tPARTITION\tEST_ROWS")
	for _, p := range parts {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%d\n", p.Schema, p.Parent, p.Name, p.EstimatedRows)
	}
	_ = w.Flush()
}

// formatHealth writes the per-stream state and any alerts to w.
func formatHealth(out io.Writer, snap *monitoring.Snapshot, alerts []monitoring.Alert) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Runs (last %dh):\t%d complete, %d failed, %d running\n",
		snap.LookbackHours, snap.Complete, snap.Failed, snap.Running)
	_, _ = fmt.Fprintln(w)
	_, _ = fmt.Fprintln(w, "SOURCE\tKIND\tLAST_DEPLOYED\tLAST_STAGE\tLAST_STATUS")
	for _, s := range snap.Streams {
		deployed := "never"
		if s.LastDeployed != nil {
			deployed = s.LastDeployed.Format("2006-01-02 15:04")
		}
		stage, status := "-", "-"
		if s.LastStatus != "" {
			stage, status = string(s.LastStage), string(s.LastStatus)
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", s.Source, s.Kind, deployed, stage, status)
	}
	_ = w.Flush()

	if len(alerts) == 0 {
		_, _ = fmt.Fprintln(out, "\nNo alerts.")
		return
	}
	_, _ = fmt.Fprintln(out)
	for _, a := range alerts {
		_, _ = fmt.Fprintf(out, "[%s] %s: %s\n", a.Severity, a.Type, a.Message)
	}
}

// truncateID returns the first 8 characters of a UUID for compact display.
func truncateID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// truncate shortens s to n runes, marking the cut with "...".
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
