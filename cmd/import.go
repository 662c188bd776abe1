package cmd

import (
	"context"
	"fmt"
	"path/filepath"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/julienmarie/spatial/internal/build"
	"github.com/julienmarie/spatial/internal/config"
	"github.com/julienmarie/spatial/internal/graph"
	"github.com/julienmarie/spatial/internal/locidx"
	"github.com/julienmarie/spatial/internal/logger"
	"github.com/julienmarie/spatial/internal/metrics"
	"github.com/julienmarie/spatial/internal/script"
	"github.com/julienmarie/spatial/internal/stream"
	"github.com/julienmarie/spatial/internal/style"
	"github.com/spf13/cobra"
)

var (
	bboxStr      string
	styleFile    string
	scriptFile   string
	locIndexFile string
	allPoints    bool
	dropExisting bool
)

var importCmd = &cobra.Command{
	Use:   "import <input.osm | input.osm.pbf>",
	Short: "Import an OSM document into the graph store",
	Long: `Import an OSM document in a single streaming pass:

  - points become indexed vertices, tagged points become POIs
  - ways become chains of point occurrences with per-segment lengths
  - relations become role-qualified member edges with folded geometry

With --bulk the graph is staged in memory and bulk-copied into PostgreSQL
instead of being written to the embedded store.`,
	Args: cobra.ExactArgs(1),
	Run:  runImport,
}

func init() {
	rootCmd.AddCommand(importCmd)

	importCmd.Flags().StringVarP(&bboxStr, "bbox", "b", "", "Bounding box filter: minlon,minlat,maxlon,maxlat")
	importCmd.Flags().StringVarP(&styleFile, "style", "S", "", "Style YAML file for tag filtering")
	importCmd.Flags().StringVar(&scriptFile, "script", "", "Lua script with per-element transform hooks")
	importCmd.Flags().StringVar(&locIndexFile, "loc-index", "", "Path to memory-mapped coordinate index (faster way assembly)")
	importCmd.Flags().BoolVar(&allPoints, "all-points", false, "Store geometry records for untagged points too")
	importCmd.Flags().IntVar(&cfg.CommitInterval, "commit-interval", cfg.CommitInterval, "Entity creations per transaction batch")

	importCmd.Flags().BoolVar(&cfg.BulkMode, "bulk", false, "Stage in memory and bulk-copy into PostgreSQL")
	importCmd.Flags().BoolVar(&dropExisting, "drop-existing", false, "Drop existing staging tables before a bulk load")
	importCmd.Flags().StringVar(&cfg.DBHost, "db-host", cfg.DBHost, "PostgreSQL host")
	importCmd.Flags().IntVar(&cfg.DBPort, "db-port", cfg.DBPort, "PostgreSQL port")
	importCmd.Flags().StringVar(&cfg.DBName, "db-name", cfg.DBName, "PostgreSQL database name")
	importCmd.Flags().StringVarP(&cfg.DBUser, "db-user", "U", cfg.DBUser, "PostgreSQL user")
	importCmd.Flags().StringVarP(&cfg.DBPassword, "db-password", "W", cfg.DBPassword, "PostgreSQL password")
	importCmd.Flags().StringVar(&cfg.DBSchema, "db-schema", cfg.DBSchema, "PostgreSQL schema")
}

// countingSource feeds the progress reporter as records flow past.
type countingSource struct {
	stream.Source
	reporter *metrics.Reporter
}

func (c *countingSource) Next() (stream.Record, error) {
	rec, err := c.Source.Next()
	if err == nil {
		c.reporter.Add(1)
	}
	return rec, err
}

func runImport(cmd *cobra.Command, args []string) {
	cfg.InputFile = args[0]
	cfg.AllPoints = allPoints
	cfg.StyleFile = styleFile
	cfg.ScriptFile = scriptFile
	cfg.LocIndexFile = locIndexFile
	log := logger.Get()

	opts := build.Options{
		Dataset:    cfg.Dataset,
		SourceName: filepath.Base(cfg.InputFile),
		AllPoints:  cfg.AllPoints,
	}

	if bboxStr != "" {
		bounds, err := config.ParseBounds(bboxStr)
		if err != nil {
			exitWithError("invalid bbox", err)
		}
		cfg.Bounds = bounds
		opts.Bounds = bounds
	}
	if err := cfg.Validate(); err != nil {
		exitWithError("invalid configuration", err)
	}

	if cfg.StyleFile != "" {
		styleCfg, err := style.Load(cfg.StyleFile)
		if err != nil {
			exitWithError("failed to load style file", err)
		}
		opts.Style = styleCfg
	}
	if cfg.ScriptFile != "" {
		rt := script.NewRuntime()
		defer rt.Close()
		if err := rt.LoadFile(cfg.ScriptFile); err != nil {
			exitWithError("failed to load script", err)
		}
		opts.Script = rt
	}
	if cfg.LocIndexFile != "" {
		idx, err := locidx.Create(cfg.LocIndexFile)
		if err != nil {
			exitWithError("failed to create coordinate index", err)
		}
		defer idx.Close()
		opts.Locations = idx
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	source, err := stream.OpenFile(ctx, cfg.InputFile)
	if err != nil {
		exitWithError("failed to open input", err)
	}
	defer source.Close()

	reporter := metrics.NewReporter(cfg.MetricsInterval, log)
	counted := &countingSource{Source: source, reporter: reporter}

	var summary *build.Summary
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return reporter.Run(gctx)
	})
	g.Go(func() error {
		defer cancel()
		var err error
		if cfg.BulkMode {
			summary, err = runBulkImport(gctx, counted, opts, log)
		} else {
			summary, err = runGraphImport(gctx, counted, opts, log)
		}
		return err
	})
	if err := g.Wait(); err != nil {
		exitWithError("import failed", err)
	}

	log.Info("Import finished",
		zap.String("dataset", cfg.Dataset),
		zap.Int64("nodes", summary.Nodes),
		zap.Int64("ways", summary.Ways),
		zap.Int64("relations", summary.Relations))
	if summary.MissingNodes > 0 || summary.MissingMembers > 0 {
		log.Warn("Import absorbed dangling references",
			zap.Int64("missing_nodes", summary.MissingNodes),
			zap.Int64("missing_members", summary.MissingMembers))
	}
}

func runGraphImport(ctx context.Context, src stream.Source, opts build.Options, log *zap.Logger) (*build.Summary, error) {
	store, err := graph.Open(cfg.StoreDir)
	if err != nil {
		return nil, fmt.Errorf("failed to open graph store: %w", err)
	}
	defer store.Close()

	writer, err := build.NewGraphWriter(store, cfg.CommitInterval, log)
	if err != nil {
		return nil, err
	}
	defer writer.Close()

	return build.NewImporter(writer, opts, log).Run(ctx, src)
}

func runBulkImport(ctx context.Context, src stream.Source, opts build.Options, log *zap.Logger) (*build.Summary, error) {
	pool, err := pgxpool.New(ctx, cfg.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}
	defer pool.Close()

	bulk := build.NewBulkBuilder(ctx, pool, cfg.DBSchema, log)
	if err := bulk.EnsureTables(dropExisting); err != nil {
		return nil, err
	}
	summary, err := build.NewImporter(bulk, opts, log).Run(ctx, src)
	if err != nil {
		return nil, err
	}
	if err := bulk.Finalize(); err != nil {
		return nil, err
	}
	return summary, nil
}
