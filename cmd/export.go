package cmd

import (
	"go.uber.org/zap"

	"github.com/julienmarie/spatial/internal/dataset"
	"github.com/julienmarie/spatial/internal/export"
	"github.com/julienmarie/spatial/internal/graph"
	"github.com/julienmarie/spatial/internal/logger"
	"github.com/spf13/cobra"
)

var exportCmd = &cobra.Command{
	Use:   "export <output.parquet>",
	Short: "Export reconstructed ways to Parquet",
	Long: `Reconstruct every way of the dataset (point sequence, WKT geometry, tags)
and write it to a Zstd-compressed Parquet file.`,
	Args: cobra.ExactArgs(1),
	Run:  runExport,
}

func init() {
	rootCmd.AddCommand(exportCmd)
}

func runExport(cmd *cobra.Command, args []string) {
	cfg.OutputFile = args[0]
	log := logger.Get()

	store, err := graph.Open(cfg.StoreDir)
	if err != nil {
		exitWithError("failed to open graph store", err)
	}
	defer store.Close()

	d, err := dataset.Open(store, cfg.Dataset)
	if err != nil {
		exitWithError("failed to open dataset", err)
	}
	defer d.Close()

	rows, err := export.Ways(d, cfg.OutputFile)
	if err != nil {
		exitWithError("export failed", err)
	}
	log.Info("Export complete",
		zap.String("file", cfg.OutputFile),
		zap.Int64("ways", rows))
}
