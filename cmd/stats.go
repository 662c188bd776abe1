package cmd

import (
	"fmt"

	"github.com/julienmarie/spatial/internal/dataset"
	"github.com/julienmarie/spatial/internal/graph"
	"github.com/spf13/cobra"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Print dataset counters and significant tag keys",
	Args:  cobra.NoArgs,
	Run:   runStats,
}

func init() {
	rootCmd.AddCommand(statsCmd)
}

func runStats(cmd *cobra.Command, args []string) {
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

	counts, err := d.Counts()
	if err != nil {
		exitWithError("failed to read counters", err)
	}
	keys, err := d.SignificantKeys()
	if err != nil {
		exitWithError("failed to read significant keys", err)
	}

	fmt.Printf("dataset:    %s\n", d.Name())
	fmt.Printf("nodes:      %d (%d tagged)\n", counts.Nodes, counts.Pois)
	fmt.Printf("ways:       %d\n", counts.Ways)
	fmt.Printf("relations:  %d\n", counts.Relations)
	fmt.Printf("changesets: %d\n", counts.Changesets)
	fmt.Printf("users:      %d\n", counts.Users)
	if keys != "" {
		fmt.Printf("significant tag keys: %s\n", keys)
	}
}
