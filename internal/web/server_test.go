package web

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/kozaktomas/face-attendance/internal/config"
	"github.com/kozaktomas/face-attendance/internal/extractor"
	"github.com/kozaktomas/face-attendance/internal/index"
	"github.com/kozaktomas/face-attendance/internal/recognizer"
)

func testServer(t *testing.T) *Server {
	t.Helper()
	cfg := config.Load()
	cfg.Extractor.Dim = 4
	cfg.Data.Dir = t.TempDir()
	cfg.Recognition.IndexType = index.TypeFlat

	engine, err := recognizer.Open(cfg, &extractor.Mock{})
	if err != nil {
		t.Fatalf("opening engine: %v", err)
	}
	return NewServer(cfg, engine, 0, "127.0.0.1")
}

func TestRoutes(t *testing.T) {
	server := testServer(t)

	tests := []struct {
		name       string
		method     string
		path       string
		wantStatus int
	}{
		{"health", http.MethodGet, "/api/v1/health", http.StatusOK},
		{"stats", http.MethodGet, "/api/v1/faces/stats", http.StatusOK},
		{"students", http.MethodGet, "/api/v1/faces/students", http.StatusOK},
		{"enroll without body", http.MethodPost, "/api/v1/faces/enroll", http.StatusBadRequest},
		{"recognize without body", http.MethodPost, "/api/v1/faces/recognize", http.StatusBadRequest},
		{"delete unknown student", http.MethodDelete, "/api/v1/faces/ghost", http.StatusNotFound},
		{"unknown route", http.MethodGet, "/api/v1/nothing", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, nil)
			rec := httptest.NewRecorder()
			server.Router().ServeHTTP(rec, req)
			if rec.Code != tt.wantStatus {
				t.Errorf("%s %s = %d, want %d", tt.method, tt.path, rec.Code, tt.wantStatus)
			}
		})
	}
}
