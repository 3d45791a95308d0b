package recognizer

import (
	"errors"
	"fmt"
)

// ErrNoFaceDetected is returned when the extractor finds no usable face
// in an image.
var ErrNoFaceDetected = errors.New("no face detected in image")

// FrameError records why a single frame was rejected during enrollment.
type FrameError struct {
	Frame  int    `json:"frame"`
	Reason string `json:"reason"`
}

// InsufficientFramesError means too few submitted images yielded a valid
// embedding. The enrollment fails as a whole; the caller should retake
// the failed frames and resubmit.
type InsufficientFramesError struct {
	Valid     int
	Required  int
	Submitted int
	Frames    []FrameError
}

func (e *InsufficientFramesError) Error() string {
	return fmt.Sprintf("only %d of %d frames contained a usable face (need at least %d)",
		e.Valid, e.Submitted, e.Required)
}

// QualityTooLowError means even the best valid frame fell below the
// enrollment quality gate. No amount of averaging rescues a uniformly
// poor capture.
type QualityTooLowError struct {
	Best    float64
	Minimum float64
}

func (e *QualityTooLowError) Error() string {
	return fmt.Sprintf("best frame quality %.2f is below the required %.2f; "+
		"retake with better lighting and an unobstructed, front-facing view", e.Best, e.Minimum)
}
