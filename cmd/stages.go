package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/optimal-systems/data/internal/app"
	"github.com/optimal-systems/data/internal/model"
	"github.com/optimal-systems/data/internal/warehouse"
)

// stageFlags reads and validates --source and --date.
func stageFlags(cmd *cobra.Command) (model.Source, string, error) {
	name, _ := cmd.Flags().GetString("source")
	src, err := model.ParseSource(name)
	if err != nil {
		return "", "", err
	}
	date, _ := cmd.Flags().GetString("date")
	if date != "" {
		if err := warehouse.ValidateDateSuffix(date); err != nil {
			return "", "", err
		}
	}
	return src, date, nil
}

// kindCommand builds the stage commands of one entity kind.
func kindCommand(kind model.Kind) *cobra.Command {
	parent := &cobra.Command{
		Use:   string(kind),
		Short: fmt.Sprintf("Warehouse stages for %s", kind),
		Long: fmt.Sprintf("Moves %s through raw, staging and prod. Every stage is idempotent and can be re-run on its own; run-pipeline chains all three.",
			kind),
	}

	extractRaw := &cobra.Command{
		Use:   "extract-raw",
		Short: fmt.Sprintf("Harvest %s into a raw snapshot table", kind),
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			src, date, err := stageFlags(cmd)
			if err != nil {
				return err
			}

			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			p := a.Pipeline()
			if date == "" {
				date = p.Today()
			}
			n, err := p.ExtractRaw(ctx, src, kind, date)
			if err != nil {
				return eris.Wrapf(err, "%s extract-raw", kind)
			}
			fmt.Fprintf(os.Stdout, "raw.%s_%s_%s: %d rows\n", src, kind, date, n)
			return nil
		},
	}

	transformStaging := &cobra.Command{
		Use:   "transform-staging",
		Short: fmt.Sprintf("Load a raw %s snapshot into its staging partition", kind),
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			src, date, err := stageFlags(cmd)
			if err != nil {
				return err
			}

			pool, err := openPool(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			p := warehouse.NewPipeline(pool, nil)
			if date == "" {
				date = p.Today()
			}
			n, err := p.TransformStaging(ctx, src, kind, date)
			if err != nil {
				return eris.Wrapf(err, "%s transform-staging", kind)
			}
			fmt.Fprintf(os.Stdout, "staging.%s_%s (%s): %d rows\n", kind, date, src, n)
			return nil
		},
	}

	deployProd := &cobra.Command{
		Use:   "deploy-prod",
		Short: fmt.Sprintf("Merge the latest staging %s into prod", kind),
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			src, _, err := stageFlags(cmd)
			if err != nil {
				return err
			}

			pool, err := openPool(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			res, err := warehouse.NewPipeline(pool, nil).DeployProd(ctx, src, kind)
			if err != nil {
				return eris.Wrapf(err, "%s deploy-prod", kind)
			}
			formatResult(os.Stdout, src, kind, warehouse.Result{
				Date:        res.Date,
				Upserted:    res.Upserted,
				Deactivated: res.Deactivated,
			})
			return nil
		},
	}

	runPipeline := &cobra.Command{
		Use:   "run-pipeline",
		Short: fmt.Sprintf("Run extract-raw, transform-staging and deploy-prod for %s", kind),
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			if all, _ := cmd.Flags().GetBool("all"); all {
				return runAllSources(cmd, kind)
			}
			src, date, err := stageFlags(cmd)
			if err != nil {
				return err
			}

			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			res, err := a.Pipeline().Run(ctx, src, kind, date)
			formatResult(os.Stdout, src, kind, res)
			if err != nil {
				return eris.Wrapf(err, "%s run-pipeline", kind)
			}
			return nil
		},
	}

	for _, c := range []*cobra.Command{extractRaw, transformStaging, deployProd, runPipeline} {
		c.Flags().String("source", "", "retailer to process (see 'optimal sources')")
		if c != runPipeline {
			_ = c.MarkFlagRequired("source")
		}
		parent.AddCommand(c)
	}
	runPipeline.Flags().Bool("all", false, "run every registered source")
	runPipeline.Flags().Int("parallel", 1, "independent source runs in flight with --all")
	runPipeline.MarkFlagsOneRequired("source", "all")
	runPipeline.MarkFlagsMutuallyExclusive("source", "all")
	// deploy-prod always promotes the latest staged date.
	for _, c := range []*cobra.Command{extractRaw, transformStaging, runPipeline} {
		c.Flags().String("date", "", "snapshot date as YYYYMMDD (default today)")
	}
	return parent
}

// runAllSources runs the pipeline of kind for every registered source and
// fails when any source failed.
func runAllSources(cmd *cobra.Command, kind model.Kind) error {
	ctx := cmd.Context()
	date, _ := cmd.Flags().GetString("date")
	if date != "" {
		if err := warehouse.ValidateDateSuffix(date); err != nil {
			return err
		}
	}
	parallel, _ := cmd.Flags().GetInt("parallel")

	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	results := a.RunAll(ctx, kind, date, parallel)
	return reportAll(os.Stdout, kind, results)
}

// reportAll prints one line per source and joins the failures.
func reportAll(out io.Writer, kind model.Kind, results []app.SourceResult) error {
	var failed []error
	for _, r := range results {
		formatResult(out, r.Source, kind, r.Result)
		if r.Err != nil {
			_, _ = fmt.Fprintf(out, "  error: %v\n", r.Err)
			failed = append(failed, eris.Wrapf(r.Err, "%s", r.Source))
		}
	}
	if len(failed) > 0 {
		return eris.Wrapf(errors.Join(failed...), "%s run-pipeline: %d of %d sources failed", kind, len(failed), len(results))
	}
	return nil
}

// formatResult writes a one-line summary of the stages that ran.
func formatResult(out io.Writer, src model.Source, kind model.Kind, res warehouse.Result) {
	_, _ = fmt.Fprintf(out, "%s %s %s: raw=%d staged=%d upserted=%d deactivated=%d\n",
		src, kind, res.Date, res.Raw, res.Staged, res.Upserted, res.Deactivated)
}

var (
	storesCmd   = kindCommand(model.KindStores)
	productsCmd = kindCommand(model.KindProducts)
)

func init() {
	rootCmd.AddCommand(storesCmd)
	rootCmd.AddCommand(productsCmd)
}
