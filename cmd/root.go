package cmd

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "face-attendance",
	Short: "Face recognition core for classroom attendance",
	Long: `Face Attendance matches classroom camera frames against a gallery of
enrolled students. It talks to an InsightFace-style embedding server for
face detection, keeps embeddings in a local vector index (exact or HNSW)
and exposes enrollment and recognition over a CLI and an HTTP API.`,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
}

func initConfig() {
	// .env file is optional, don't fail if not found
	_ = godotenv.Load()
}
