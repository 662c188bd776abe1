package cmd

import (
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/julienmarie/spatial/internal/config"
	"github.com/julienmarie/spatial/internal/logger"
	"github.com/spf13/cobra"
)

var (
	cfg             = config.DefaultConfig()
	verbose         bool
	logFile         string
	metricsInterval time.Duration
)

var rootCmd = &cobra.Command{
	Use:   "spatial",
	Short: "OSM ingest engine for a persistent attributed graph",
	Long: `spatial ingests OSM data into an embedded property graph that keeps the
full topology of the source: points, ways as chained point occurrences,
relations with role-qualified members, changesets and users.

Features:
  - Single-pass streaming import of XML and PBF documents
  - Batched transactional writes with transparent handle recovery
  - Derived geometry metadata (bounding boxes, line/polygon classification)
  - Optional PostgreSQL bulk-load backend and Parquet export`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		cfg.Verbose = verbose
		cfg.LogFile = logFile
		cfg.MetricsInterval = metricsInterval

		if logFile != "" {
			logger.InitWithFile(verbose, logFile)
		} else {
			logger.Init(verbose)
		}
	},
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().StringVarP(&cfg.StoreDir, "store", "s", cfg.StoreDir, "Graph store directory")
	rootCmd.PersistentFlags().StringVarP(&cfg.Dataset, "dataset", "d", cfg.Dataset, "Dataset name inside the store")

	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "Path to log file for persistent logging (JSON format)")
	rootCmd.PersistentFlags().DurationVar(&metricsInterval, "metrics-interval", 30*time.Second, "Interval for progress and system metrics logging")
}

func exitWithError(msg string, err error) {
	log := logger.Get()
	if err != nil {
		log.Error(msg, zap.Error(err))
	} else {
		log.Error(msg)
	}
	os.Exit(1)
}
