package web

import (
	"github.com/go-chi/chi/v5"
	"github.com/kozaktomas/face-attendance/internal/web/handlers"
)

func (s *Server) setupRoutes() {
	facesHandler := handlers.NewFacesHandler(s.config, s.engine)
	statsHandler := handlers.NewStatsHandler(s.config, s.engine)

	// Health check
	s.router.Get("/api/v1/health", handlers.HealthCheck)

	// API routes
	s.router.Route("/api/v1/faces", func(r chi.Router) {
		r.Post("/enroll", facesHandler.Enroll)
		r.Post("/recognize", facesHandler.Recognize)
		r.Post("/recognize/multi", facesHandler.RecognizeMulti)
		r.Post("/recognize/frame", facesHandler.RecognizeFrame)
		r.Delete("/{id}", facesHandler.Remove)

		r.Get("/stats", statsHandler.Get)
		r.Get("/students", statsHandler.Students)
	})
}
