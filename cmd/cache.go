package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/optimal-systems/data/internal/app"
	"github.com/optimal-systems/data/internal/config"
	"github.com/optimal-systems/data/internal/db"
	"github.com/optimal-systems/data/internal/fetchcache"
	"github.com/optimal-systems/data/internal/warehouse"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect and maintain the page cache",
}

// openCacheStore opens the configured cache; the returned func releases it.
func openCacheStore(ctx context.Context) (fetchcache.Store, func(), error) {
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}

	var pool db.Pool
	if cfg.Cache.Driver == config.CacheDriverPostgres {
		p, err := openPool(ctx)
		if err != nil {
			return nil, nil, err
		}
		pool = p
	}

	st, err := app.OpenCache(ctx, cfg.Cache, pool)
	if err != nil {
		if pool != nil {
			pool.Close()
		}
		return nil, nil, err
	}
	return st, func() {
		_ = st.Close()
		if pool != nil {
			pool.Close()
		}
	}, nil
}

var cacheStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show cache size and age",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, release, err := openCacheStore(ctx)
		if err != nil {
			return err
		}
		defer release()

		stats, err := st.Stats(ctx)
		if err != nil {
			return eris.Wrap(err, "cache stats")
		}
		formatCacheStats(os.Stdout, cfg.Cache.Driver, stats)
		return nil
	},
}

var cachePurgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Delete cached pages",
	Long:  "Deletes pages cached before now minus --older-than. Zero purges everything, forcing the next run to refetch.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		olderThan, _ := cmd.Flags().GetDuration("older-than")
		if olderThan < 0 {
			return eris.New("cache purge: --older-than must not be negative")
		}

		st, release, err := openCacheStore(ctx)
		if err != nil {
			return err
		}
		defer release()

		n, err := st.Purge(ctx, olderThan)
		if err != nil {
			return eris.Wrap(err, "cache purge")
		}
		zap.L().Info("cache purged", zap.Int64("entries", n), zap.Duration("older_than", olderThan))
		return nil
	},
}

var cacheImportCmd = &cobra.Command{
	Use:   "import <sqlite-file>",
	Short: "Copy a local SQLite cache into the Postgres cache",
	Long:  "Warms the shared Postgres cache from a SQLite cache file filled by an offline run. Keys already present are kept.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		if _, err := os.Stat(args[0]); err != nil {
			return eris.Wrapf(err, "cache import: %s", args[0])
		}

		lite, err := fetchcache.NewSQLiteStore(ctx, args[0])
		if err != nil {
			return err
		}
		defer lite.Close() //nolint:errcheck

		records, err := lite.Records(ctx)
		if err != nil {
			return eris.Wrap(err, "cache import")
		}

		pool, err := openPool(ctx)
		if err != nil {
			return err
		}
		defer pool.Close()

		// The target database may be fresh; cache.urls comes with the schema.
		if err := warehouse.Migrate(ctx, pool); err != nil {
			return eris.Wrap(err, "cache import")
		}

		n, err := fetchcache.NewPostgresStore(pool).Import(ctx, records)
		if err != nil {
			return eris.Wrap(err, "cache import")
		}
		fmt.Fprintf(os.Stdout, "imported %d of %d entries\n", n, len(records))
		return nil
	},
}

func init() {
	cachePurgeCmd.Flags().Duration("older-than", 720*time.Hour, "purge entries cached before this age (0 purges all)")

	cacheCmd.AddCommand(cacheStatsCmd)
	cacheCmd.AddCommand(cachePurgeCmd)
	cacheCmd.AddCommand(cacheImportCmd)
	rootCmd.AddCommand(cacheCmd)
}

// formatCacheStats writes cache statistics to w.
func formatCacheStats(out io.Writer, driver string, s fetchcache.Stats) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Driver:\t%s\n", driver)
	_, _ = fmt.Fprintf(w, "Entries:\t%d\n", s.Entries)
	_, _ = fmt.Fprintf(w, "Size:\t%s\n", humanBytes(s.Bytes))
	if s.Entries > 0 {
		_, _ = fmt.Fprintf(w, "Oldest:\t%s\n", s.Oldest.Format("2006-01-02 15:04"))
		_, _ = fmt.Fprintf(w, "Newest:\t%s\n", s.Newest.Format("2006-01-02 15:04"))
	}
	_ = w.Flush()
}

func humanBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
