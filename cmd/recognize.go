package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/kozaktomas/face-attendance/internal/config"
	"github.com/kozaktomas/face-attendance/internal/extractor"
	"github.com/kozaktomas/face-attendance/internal/recognizer"
	"github.com/spf13/cobra"
)

var recognizeCmd = &cobra.Command{
	Use:   "recognize <image>...",
	Short: "Recognize students in face images",
	Long: `Recognize enrolled students in one or more images.

By default the best face of a single image is matched. With --multi the
images are treated as a burst of frames of one person and combined by
majority voting. With --frame every face in a single image is matched
independently (classroom attendance sweep).

Examples:
  # Who is this?
  face-attendance recognize capture.jpg

  # Burst of frames, majority vote
  face-attendance recognize --multi frame1.jpg frame2.jpg frame3.jpg

  # Everyone in a classroom photo
  face-attendance recognize --frame classroom.jpg`,
	Args: cobra.MinimumNArgs(1),
	RunE: runRecognize,
}

func init() {
	rootCmd.AddCommand(recognizeCmd)

	recognizeCmd.Flags().Bool("multi", false, "Combine all images by majority voting")
	recognizeCmd.Flags().Bool("frame", false, "Match every face in a single image")
	recognizeCmd.Flags().Float64("threshold", 0, "Similarity threshold override (0 = configured default)")
}

func readFrames(cfg *config.Config, paths []string) ([][]byte, error) {
	frames := make([][]byte, 0, len(paths))
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", path, err)
		}
		resized, err := extractor.ResizeImage(data, cfg.Extractor.MaxImagePx)
		if err != nil {
			return nil, fmt.Errorf("resizing %s: %w", path, err)
		}
		frames = append(frames, resized)
	}
	return frames, nil
}

func printResult(result *recognizer.Result) {
	if !result.Recognized {
		fmt.Println("No match")
		if result.Similarity > 0 {
			fmt.Printf("  Best similarity: %.3f\n", result.Similarity)
		}
		return
	}
	fmt.Printf("Match: %s (%s)\n", result.IdentityID, result.DisplayName)
	fmt.Printf("  Similarity: %.3f\n", result.Similarity)
	fmt.Printf("  Confidence: %.3f\n", result.Confidence)
	if result.Frames > 0 {
		fmt.Printf("  Votes:      %d of %d valid frames (%d usable)\n",
			result.Votes, result.ValidFrames, result.Frames)
	}
}

func runRecognize(cmd *cobra.Command, args []string) error {
	multi := mustGetBool(cmd, "multi")
	frame := mustGetBool(cmd, "frame")
	threshold := mustGetFloat64(cmd, "threshold")

	if multi && frame {
		return errors.New("--multi and --frame are mutually exclusive")
	}
	if !multi && len(args) != 1 {
		return errors.New("expected exactly one image (use --multi for frame bursts)")
	}

	cfg := config.Load()
	engine, err := recognizer.Open(cfg, extractor.NewClient(cfg.Extractor.URL))
	if err != nil {
		return fmt.Errorf("opening recognition engine: %w", err)
	}

	frames, err := readFrames(cfg, args)
	if err != nil {
		return err
	}
	ctx := context.Background()

	switch {
	case frame:
		result, err := engine.RecognizeAllFaces(ctx, frames[0], threshold)
		if err != nil {
			return fmt.Errorf("recognizing frame: %w", err)
		}
		fmt.Printf("%d faces in %dx%d frame\n", len(result.Faces), result.Width, result.Height)
		for i, face := range result.Faces {
			if face.Recognized {
				fmt.Printf("  face %d: %s (similarity %.3f, confidence %.3f)\n",
					i, *face.IdentityID, *face.Similarity, *face.Confidence)
			} else if face.Similarity != nil {
				fmt.Printf("  face %d: unknown (best similarity %.3f)\n", i, *face.Similarity)
			} else {
				fmt.Printf("  face %d: unknown\n", i)
			}
		}
	case multi:
		result, err := engine.RecognizeMulti(ctx, frames, threshold, 0)
		if err != nil {
			return fmt.Errorf("recognizing frames: %w", err)
		}
		printResult(result)
	default:
		result, err := engine.RecognizeOne(ctx, frames[0], threshold)
		if err != nil {
			if errors.Is(err, recognizer.ErrNoFaceDetected) {
				fmt.Println("No face detected")
				os.Exit(1)
			}
			return fmt.Errorf("recognizing image: %w", err)
		}
		printResult(result)
	}
	return nil
}
