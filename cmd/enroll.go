package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/kozaktomas/face-attendance/internal/config"
	"github.com/kozaktomas/face-attendance/internal/extractor"
	"github.com/kozaktomas/face-attendance/internal/recognizer"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

var enrollCmd = &cobra.Command{
	Use:   "enroll <student-id> <image>...",
	Short: "Enroll a student from face images",
	Long: `Enroll a student into the attendance gallery from a set of face images.
Each image is scored for quality; the best frames are aggregated into a
single stored embedding. Re-enrolling an existing student replaces the
previous enrollment.

Examples:
  # Enroll from a burst of webcam captures
  face-attendance enroll s12345 frames/*.jpg

  # Enroll with a display name
  face-attendance enroll s12345 --name "Jana Novakova" frames/*.jpg`,
	Args: cobra.MinimumNArgs(2),
	RunE: runEnroll,
}

func init() {
	rootCmd.AddCommand(enrollCmd)

	enrollCmd.Flags().String("name", "", "Display name for the student")
}

func runEnroll(cmd *cobra.Command, args []string) error {
	studentID := args[0]
	paths := args[1:]
	displayName := mustGetString(cmd, "name")
	if displayName == "" {
		displayName = studentID
	}

	cfg := config.Load()
	engine, err := recognizer.Open(cfg, extractor.NewClient(cfg.Extractor.URL))
	if err != nil {
		return fmt.Errorf("opening recognition engine: %w", err)
	}

	bar := progressbar.NewOptions(len(paths),
		progressbar.OptionSetDescription("Reading frames"),
		progressbar.OptionShowCount(),
	)

	frames := make([][]byte, 0, len(paths))
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("reading %s: %w", path, err)
		}
		resized, err := extractor.ResizeImage(data, cfg.Extractor.MaxImagePx)
		if err != nil {
			return fmt.Errorf("resizing %s: %w", path, err)
		}
		frames = append(frames, resized)
		_ = bar.Add(1)
	}
	fmt.Println()

	md, err := engine.Enroll(context.Background(), studentID, displayName, frames)
	if err != nil {
		var insufficient *recognizer.InsufficientFramesError
		if errors.As(err, &insufficient) {
			fmt.Printf("Enrollment failed: %v\n", err)
			for _, fe := range insufficient.Frames {
				fmt.Printf("  frame %d (%s): %s\n", fe.Frame, paths[fe.Frame], fe.Reason)
			}
			os.Exit(1)
		}
		return fmt.Errorf("enrolling %s: %w", studentID, err)
	}

	fmt.Printf("Enrolled %s (%s)\n", md.IdentityID, md.DisplayName)
	fmt.Printf("  Enrollment: %s\n", md.EnrollmentID)
	fmt.Printf("  Quality:    best %.3f, avg %.3f\n", md.BestQuality, md.AvgQuality)
	fmt.Printf("  Frames:     %d used of %d submitted\n", md.FramesUsed, md.FramesTotal)
	return nil
}
