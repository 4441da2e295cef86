package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/optimal-systems/data/internal/app"
	"github.com/optimal-systems/data/internal/config"
	"github.com/optimal-systems/data/internal/db"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "optimal",
	Short: "Retail store and product harvester",
	Long:  "Harvests store locations and product catalogs from retailer websites and promotes them through the raw, staging and prod warehouse tiers.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if debug, _ := cmd.Flags().GetBool("debug"); debug {
			cfg.Log.Level = "debug"
		}
		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().Bool("debug", false, "force debug logging")
}

// openApp builds the full run context. Callers should defer a.Close().
func openApp(ctx context.Context) (*app.App, error) {
	return app.Open(ctx, cfg)
}

// openPool connects to the warehouse only, for commands that never fetch.
func openPool(ctx context.Context) (db.Pool, error) {
	if err := cfg.RequireDatabase(); err != nil {
		return nil, err
	}
	return db.Open(ctx, db.PoolConfig{
		URL:      cfg.Database.URL,
		MinConns: cfg.Database.MinConns,
		MaxConns: cfg.Database.MaxConns,
	})
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
