package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/optimal-systems/data/internal/app"
	"github.com/optimal-systems/data/internal/model"
	"github.com/optimal-systems/data/internal/source"
)

var sourcesCmd = &cobra.Command{
	Use:   "sources",
	Short: "List registered retailers",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cat, err := source.LoadCatalog(cfg.Sources.CatalogPath)
		if err != nil {
			return err
		}
		reg, err := app.BuildRegistry(cat, cfg.Extract.ChunkSize)
		if err != nil {
			return err
		}

		return formatSources(os.Stdout, reg, cat, cfg.Extract.ChunkSize)
	},
}

func init() {
	rootCmd.AddCommand(sourcesCmd)
}

// formatSources writes one line per registered source to w.
func formatSources(out io.Writer, reg *source.Registry, cat *source.Catalog, defaultChunk int) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "SOURCE\tBASE_URL\tCATEGORIES\tCHUNK")
	for _, name := range reg.Names() {
		sc, err := cat.Source(model.Source(name))
		if err != nil {
			return err
		}
		categories := fmt.Sprintf("%d", len(sc.Categories))
		if len(sc.Categories) == 0 {
			categories = "discovered"
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%d\n", name, sc.BaseURL, categories, sc.PageSize(defaultChunk))
	}
	return w.Flush()
}
