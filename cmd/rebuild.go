package cmd

import (
	"fmt"

	"github.com/kozaktomas/face-attendance/internal/config"
	"github.com/kozaktomas/face-attendance/internal/extractor"
	"github.com/kozaktomas/face-attendance/internal/recognizer"
	"github.com/spf13/cobra"
)

var rebuildCmd = &cobra.Command{
	Use:   "rebuild",
	Short: "Rebuild the vector index from the gallery",
	Long: `Rebuild the vector index from live gallery entries.

Removed students leave tombstoned vectors behind because the graph index
has no delete operation. Rebuilding compacts them away and renumbers the
remaining entries.`,
	RunE: runRebuild,
}

func init() {
	rootCmd.AddCommand(rebuildCmd)
}

func runRebuild(cmd *cobra.Command, args []string) error {
	cfg := config.Load()
	engine, err := recognizer.Open(cfg, extractor.NewClient(cfg.Extractor.URL))
	if err != nil {
		return fmt.Errorf("opening recognition engine: %w", err)
	}

	fmt.Printf("Rebuilding %s index in %s...\n", cfg.Recognition.IndexType, cfg.Data.Dir)
	kept, dropped, err := engine.RebuildIndex()
	if err != nil {
		return fmt.Errorf("rebuilding index: %w", err)
	}
	fmt.Printf("Index rebuilt: %d entries kept, %d tombstones dropped\n", kept, dropped)
	return nil
}
