package handlers

import (
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/kozaktomas/face-attendance/internal/config"
	"github.com/kozaktomas/face-attendance/internal/recognizer"
)

// FacesHandler handles enrollment and recognition endpoints.
type FacesHandler struct {
	config *config.Config
	engine *recognizer.Engine
}

// NewFacesHandler creates a new faces handler.
func NewFacesHandler(cfg *config.Config, engine *recognizer.Engine) *FacesHandler {
	return &FacesHandler{
		config: cfg,
		engine: engine,
	}
}

// parseThreshold reads an optional threshold form value. Zero means
// "use the configured default"; out-of-range values are rejected.
func parseThreshold(r *http.Request, field string) (float64, error) {
	raw := r.FormValue(field)
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || v <= 0 || v > 1 {
		return 0, fmt.Errorf("%s must be a number in (0, 1]", field)
	}
	return v, nil
}

// Enroll handles multi-frame student enrollment.
func (h *FacesHandler) Enroll(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(MaxUploadSize); err != nil {
		respondError(w, http.StatusBadRequest, errInvalidMultipartForm)
		return
	}

	studentID := r.FormValue("student_id")
	if studentID == "" {
		respondError(w, http.StatusBadRequest, "student_id is required")
		return
	}
	displayName := r.FormValue("display_name")
	if displayName == "" {
		displayName = studentID
	}

	frames, err := readUploadedFiles(r, "frames")
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	minFrames := h.config.Recognition.MinFrames
	maxFrames := h.config.Recognition.MaxFrames
	if len(frames) < minFrames || len(frames) > maxFrames {
		respondError(w, http.StatusBadRequest,
			fmt.Sprintf("expected %d to %d frames, got %d", minFrames, maxFrames, len(frames)))
		return
	}

	md, err := h.engine.Enroll(r.Context(), studentID, displayName, frames)
	if err != nil {
		var insufficient *recognizer.InsufficientFramesError
		if errors.As(err, &insufficient) {
			respondJSON(w, http.StatusBadRequest, map[string]any{
				"error":            "insufficient usable frames",
				"valid_frames":     insufficient.Valid,
				"required_frames":  insufficient.Required,
				"submitted_frames": insufficient.Submitted,
				"frame_errors":     insufficient.Frames,
			})
			return
		}
		var quality *recognizer.QualityTooLowError
		if errors.As(err, &quality) {
			respondJSON(w, http.StatusBadRequest, map[string]any{
				"error":        err.Error(),
				"best_quality": quality.Best,
				"min_quality":  quality.Minimum,
			})
			return
		}
		log.Printf("enrollment failed for %s: %v", sanitizeForLog(studentID), err)
		respondError(w, http.StatusInternalServerError, "enrollment failed")
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"status":        "enrolled",
		"student_id":    md.IdentityID,
		"display_name":  md.DisplayName,
		"enrollment_id": md.EnrollmentID,
		"best_quality":  md.BestQuality,
		"avg_quality":   md.AvgQuality,
		"frames_used":   md.FramesUsed,
		"frames_total":  md.FramesTotal,
	})
}

// Recognize handles single-image recognition.
func (h *FacesHandler) Recognize(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(MaxUploadSize); err != nil {
		respondError(w, http.StatusBadRequest, errInvalidMultipartForm)
		return
	}

	threshold, err := parseThreshold(r, "threshold")
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	images, err := readUploadedFiles(r, "image")
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if len(images) != 1 {
		respondError(w, http.StatusBadRequest, "exactly one image is required")
		return
	}

	result, err := h.engine.RecognizeOne(r.Context(), images[0], threshold)
	if err != nil {
		if errors.Is(err, recognizer.ErrNoFaceDetected) {
			respondError(w, http.StatusBadRequest, "no face detected in image")
			return
		}
		log.Printf("recognition failed: %v", err)
		respondError(w, http.StatusInternalServerError, "recognition failed")
		return
	}
	respondJSON(w, http.StatusOK, result)
}

// RecognizeMulti handles multi-frame voting recognition.
func (h *FacesHandler) RecognizeMulti(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(MaxUploadSize); err != nil {
		respondError(w, http.StatusBadRequest, errInvalidMultipartForm)
		return
	}

	threshold, err := parseThreshold(r, "threshold")
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	minVoteRatio, err := parseThreshold(r, "min_vote_ratio")
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	frames, err := readUploadedFiles(r, "frames")
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if len(frames) == 0 {
		respondError(w, http.StatusBadRequest, "at least one frame is required")
		return
	}

	result, err := h.engine.RecognizeMulti(r.Context(), frames, threshold, minVoteRatio)
	if err != nil {
		log.Printf("multi-frame recognition failed: %v", err)
		respondError(w, http.StatusInternalServerError, "recognition failed")
		return
	}
	respondJSON(w, http.StatusOK, result)
}

// RecognizeFrame handles multi-face recognition on a single classroom frame.
func (h *FacesHandler) RecognizeFrame(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(MaxUploadSize); err != nil {
		respondError(w, http.StatusBadRequest, errInvalidMultipartForm)
		return
	}

	threshold, err := parseThreshold(r, "threshold")
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	images, err := readUploadedFiles(r, "image")
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if len(images) != 1 {
		respondError(w, http.StatusBadRequest, "exactly one image is required")
		return
	}

	result, err := h.engine.RecognizeAllFaces(r.Context(), images[0], threshold)
	if err != nil {
		log.Printf("frame recognition failed: %v", err)
		respondError(w, http.StatusInternalServerError, "recognition failed")
		return
	}
	respondJSON(w, http.StatusOK, result)
}

// Remove tombstones every enrollment of a student.
func (h *FacesHandler) Remove(w http.ResponseWriter, r *http.Request) {
	studentID := chi.URLParam(r, "id")
	if studentID == "" {
		respondError(w, http.StatusBadRequest, "student id is required")
		return
	}

	removed, err := h.engine.Remove(studentID)
	if err != nil {
		log.Printf("removing %s failed: %v", sanitizeForLog(studentID), err)
		respondError(w, http.StatusInternalServerError, "removal failed")
		return
	}
	if removed == 0 {
		respondError(w, http.StatusNotFound, "student not found")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"status":     "removed",
		"student_id": studentID,
		"entries":    removed,
	})
}
