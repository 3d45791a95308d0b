package handlers

import (
	"net/http"

	"github.com/kozaktomas/face-attendance/internal/config"
	"github.com/kozaktomas/face-attendance/internal/recognizer"
)

// StatsHandler reports gallery and service statistics.
type StatsHandler struct {
	config *config.Config
	engine *recognizer.Engine
}

// NewStatsHandler creates a new stats handler.
func NewStatsHandler(cfg *config.Config, engine *recognizer.Engine) *StatsHandler {
	return &StatsHandler{
		config: cfg,
		engine: engine,
	}
}

// Get returns index size, enrolled student count and service counters.
func (h *StatsHandler) Get(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.engine.Stats())
}

// Students lists enrolled identities with their enrollment metadata.
// An optional ?name= filter matches display names after normalization,
// so "Jiri Novak" finds "Jiří Novák".
func (h *StatsHandler) Students(w http.ResponseWriter, r *http.Request) {
	store := h.engine.Store()

	ids := store.Identities()
	if name := r.URL.Query().Get("name"); name != "" {
		ids = store.FindByName(name)
	}

	students := make([]map[string]any, 0, len(ids))
	for _, id := range ids {
		entry := map[string]any{"student_id": id}
		if md, ok := store.Metadata(id); ok {
			entry["display_name"] = md.DisplayName
			entry["registered_at"] = md.RegisteredAt
			entry["avg_quality"] = md.AvgQuality
		}
		students = append(students, entry)
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"count":    len(students),
		"students": students,
	})
}
