package cmd

import (
	"fmt"

	"github.com/kozaktomas/face-attendance/internal/config"
	"github.com/kozaktomas/face-attendance/internal/extractor"
	"github.com/kozaktomas/face-attendance/internal/recognizer"
	"github.com/spf13/cobra"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show gallery and index statistics",
	RunE:  runStats,
}

func init() {
	statsCmd.Flags().String("name", "", "only list students whose name matches (diacritics ignored)")
	rootCmd.AddCommand(statsCmd)
}

func runStats(cmd *cobra.Command, args []string) error {
	cfg := config.Load()
	engine, err := recognizer.Open(cfg, extractor.NewClient(cfg.Extractor.URL))
	if err != nil {
		return fmt.Errorf("opening recognition engine: %w", err)
	}

	s := engine.Stats()
	fmt.Printf("Gallery: %s\n", cfg.Data.Dir)
	fmt.Printf("  Students:   %d\n", s.RegisteredStudents)
	fmt.Printf("  Entries:    %d (%d tombstoned)\n", s.IndexSize, s.Tombstones)
	fmt.Printf("  Index:      %s, %d dimensions\n", s.IndexType, s.Dimension)
	fmt.Printf("  Threshold:  %.2f (vote ratio %.2f, enroll quality %.2f)\n",
		s.Threshold, s.MinVoteRatio, s.MinEnrollQuality)

	ids := engine.Store().Identities()
	if name := mustGetString(cmd, "name"); name != "" {
		ids = engine.Store().FindByName(name)
	}
	for _, id := range ids {
		if md, ok := engine.Store().Metadata(id); ok {
			fmt.Printf("  %s (%s) enrolled %s, avg quality %.3f\n",
				id, md.DisplayName, md.RegisteredAt.Format("2006-01-02"), md.AvgQuality)
		} else {
			fmt.Printf("  %s\n", id)
		}
	}
	return nil
}
