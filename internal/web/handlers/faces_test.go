package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/kozaktomas/face-attendance/internal/config"
	"github.com/kozaktomas/face-attendance/internal/extractor"
	"github.com/kozaktomas/face-attendance/internal/index"
	"github.com/kozaktomas/face-attendance/internal/recognizer"
)

const testDim = 4

func testConfigAndEngine(t *testing.T, ext extractor.Extractor) (*config.Config, *recognizer.Engine) {
	t.Helper()
	cfg := config.Load()
	cfg.Extractor.Dim = testDim
	cfg.Data.Dir = t.TempDir()
	cfg.Recognition.IndexType = index.TypeFlat

	engine, err := recognizer.Open(cfg, ext)
	if err != nil {
		t.Fatalf("opening engine: %v", err)
	}
	return cfg, engine
}

func goodFrame(t *testing.T) []byte {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, 64, 64))
	for y := 0; y < 64; y++ {
		for x := 0; x < 64; x++ {
			v := uint8(0)
			if (x+y)%2 == 1 {
				v = 250
			}
			img.SetGray(x, y, color.Gray{Y: v})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encoding test frame: %v", err)
	}
	return buf.Bytes()
}

func faceExtractor(vec []float32) *extractor.Mock {
	return &extractor.Mock{
		DetectFunc: func(ctx context.Context, imageData []byte) ([]extractor.Face, error) {
			return []extractor.Face{{Dim: len(vec), Embedding: vec, DetScore: 0.95}}, nil
		},
	}
}

// multipartBody builds a multipart request body with form fields and one
// or more image files under the given field name.
func multipartBody(t *testing.T, fields map[string]string, fileField string, files [][]byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	for k, v := range fields {
		if err := writer.WriteField(k, v); err != nil {
			t.Fatalf("writing field %s: %v", k, err)
		}
	}
	for i, data := range files {
		part, err := writer.CreateFormFile(fileField, "frame.png")
		if err != nil {
			t.Fatalf("creating file part %d: %v", i, err)
		}
		if _, err := part.Write(data); err != nil {
			t.Fatalf("writing file part %d: %v", i, err)
		}
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("closing writer: %v", err)
	}
	return &buf, writer.FormDataContentType()
}

func postMultipart(t *testing.T, handler http.HandlerFunc, target string, fields map[string]string, fileField string, files [][]byte) *httptest.ResponseRecorder {
	t.Helper()
	body, contentType := multipartBody(t, fields, fileField, files)
	req := httptest.NewRequest(http.MethodPost, target, body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	handler(rec, req)
	return rec
}

func parseJSON(t *testing.T, rec *httptest.ResponseRecorder, out any) {
	t.Helper()
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("Content-Type = %q, want application/json", ct)
	}
	if err := json.Unmarshal(rec.Body.Bytes(), out); err != nil {
		t.Fatalf("parsing response %q: %v", rec.Body.String(), err)
	}
}

func vec(vals ...float32) []float32 { return index.Normalize(vals) }

func TestEnrollHandler(t *testing.T) {
	cfg, engine := testConfigAndEngine(t, faceExtractor(vec(1, 0, 0, 0)))
	h := NewFacesHandler(cfg, engine)

	frames := [][]byte{goodFrame(t), goodFrame(t), goodFrame(t)}
	rec := postMultipart(t, h.Enroll, "/api/v1/faces/enroll",
		map[string]string{"student_id": "s1", "display_name": "Student One"},
		"frames", frames)

	if rec.Code != http.StatusOK {
		t.Fatalf("status %d, body %s", rec.Code, rec.Body.String())
	}
	var resp map[string]any
	parseJSON(t, rec, &resp)
	if resp["status"] != "enrolled" || resp["student_id"] != "s1" {
		t.Errorf("response = %v", resp)
	}
	if resp["enrollment_id"] == "" {
		t.Error("missing enrollment_id")
	}
}

func TestEnrollHandlerValidation(t *testing.T) {
	cfg, engine := testConfigAndEngine(t, faceExtractor(vec(1, 0, 0, 0)))
	h := NewFacesHandler(cfg, engine)
	frame := goodFrame(t)

	tests := []struct {
		name   string
		fields map[string]string
		files  [][]byte
	}{
		{"missing student_id", map[string]string{}, [][]byte{frame, frame, frame}},
		{"too few frames", map[string]string{"student_id": "s1"}, [][]byte{frame}},
		{
			"too many frames",
			map[string]string{"student_id": "s1"},
			make([][]byte, 16),
		},
	}
	for i := range tests[2].files {
		tests[2].files[i] = frame
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := postMultipart(t, h.Enroll, "/api/v1/faces/enroll", tt.fields, "frames", tt.files)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("status %d, want 400; body %s", rec.Code, rec.Body.String())
			}
		})
	}
}

func TestEnrollHandlerInsufficientFrames(t *testing.T) {
	// Extractor finds no faces at all.
	cfg, engine := testConfigAndEngine(t, &extractor.Mock{})
	h := NewFacesHandler(cfg, engine)

	frames := [][]byte{goodFrame(t), goodFrame(t), goodFrame(t)}
	rec := postMultipart(t, h.Enroll, "/api/v1/faces/enroll",
		map[string]string{"student_id": "s1"}, "frames", frames)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status %d, want 400", rec.Code)
	}
	var resp struct {
		ValidFrames     int                     `json:"valid_frames"`
		RequiredFrames  int                     `json:"required_frames"`
		SubmittedFrames int                     `json:"submitted_frames"`
		FrameErrors     []recognizer.FrameError `json:"frame_errors"`
	}
	parseJSON(t, rec, &resp)
	if resp.ValidFrames != 0 || resp.RequiredFrames != 3 || resp.SubmittedFrames != 3 {
		t.Errorf("response = %+v", resp)
	}
	if len(resp.FrameErrors) != 3 {
		t.Errorf("got %d frame errors, want 3", len(resp.FrameErrors))
	}
}

func TestRecognizeHandler(t *testing.T) {
	target := vec(1, 0, 0, 0)
	cfg, engine := testConfigAndEngine(t, faceExtractor(target))
	h := NewFacesHandler(cfg, engine)

	frames := [][]byte{goodFrame(t), goodFrame(t), goodFrame(t)}
	rec := postMultipart(t, h.Enroll, "/api/v1/faces/enroll",
		map[string]string{"student_id": "s1", "display_name": "Student One"}, "frames", frames)
	if rec.Code != http.StatusOK {
		t.Fatalf("enroll status %d: %s", rec.Code, rec.Body.String())
	}

	rec = postMultipart(t, h.Recognize, "/api/v1/faces/recognize",
		nil, "image", [][]byte{goodFrame(t)})
	if rec.Code != http.StatusOK {
		t.Fatalf("recognize status %d: %s", rec.Code, rec.Body.String())
	}

	var result recognizer.Result
	parseJSON(t, rec, &result)
	if !result.Recognized || result.IdentityID != "s1" || result.DisplayName != "Student One" {
		t.Errorf("result = %+v", result)
	}
}

func TestRecognizeHandlerBadThreshold(t *testing.T) {
	cfg, engine := testConfigAndEngine(t, faceExtractor(vec(1, 0, 0, 0)))
	h := NewFacesHandler(cfg, engine)

	rec := postMultipart(t, h.Recognize, "/api/v1/faces/recognize",
		map[string]string{"threshold": "1.7"}, "image", [][]byte{goodFrame(t)})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status %d, want 400", rec.Code)
	}
}

func TestRecognizeHandlerNoFace(t *testing.T) {
	cfg, engine := testConfigAndEngine(t, &extractor.Mock{})
	h := NewFacesHandler(cfg, engine)

	rec := postMultipart(t, h.Recognize, "/api/v1/faces/recognize",
		nil, "image", [][]byte{goodFrame(t)})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status %d, want 400; body %s", rec.Code, rec.Body.String())
	}
}

func TestRecognizeMultiHandler(t *testing.T) {
	target := vec(1, 0, 0, 0)
	cfg, engine := testConfigAndEngine(t, faceExtractor(target))
	h := NewFacesHandler(cfg, engine)

	frames := [][]byte{goodFrame(t), goodFrame(t), goodFrame(t)}
	rec := postMultipart(t, h.Enroll, "/api/v1/faces/enroll",
		map[string]string{"student_id": "s1"}, "frames", frames)
	if rec.Code != http.StatusOK {
		t.Fatalf("enroll status %d", rec.Code)
	}

	rec = postMultipart(t, h.RecognizeMulti, "/api/v1/faces/recognize/multi",
		nil, "frames", frames)
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rec.Code, rec.Body.String())
	}
	var result recognizer.Result
	parseJSON(t, rec, &result)
	if !result.Recognized || result.Votes != 3 {
		t.Errorf("result = %+v", result)
	}
}

func TestRecognizeFrameHandler(t *testing.T) {
	target := vec(1, 0, 0, 0)
	cfg, engine := testConfigAndEngine(t, faceExtractor(target))
	h := NewFacesHandler(cfg, engine)

	frames := [][]byte{goodFrame(t), goodFrame(t), goodFrame(t)}
	rec := postMultipart(t, h.Enroll, "/api/v1/faces/enroll",
		map[string]string{"student_id": "s1"}, "frames", frames)
	if rec.Code != http.StatusOK {
		t.Fatalf("enroll status %d", rec.Code)
	}

	rec = postMultipart(t, h.RecognizeFrame, "/api/v1/faces/recognize/frame",
		nil, "image", [][]byte{goodFrame(t)})
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rec.Code, rec.Body.String())
	}
	var result recognizer.FrameResult
	parseJSON(t, rec, &result)
	if result.Width != 64 || result.Height != 64 || len(result.Faces) != 1 {
		t.Errorf("result = %+v", result)
	}
	if !result.Faces[0].Recognized {
		t.Errorf("face not recognized: %+v", result.Faces[0])
	}
}

func TestRemoveHandler(t *testing.T) {
	target := vec(1, 0, 0, 0)
	cfg, engine := testConfigAndEngine(t, faceExtractor(target))
	h := NewFacesHandler(cfg, engine)

	frames := [][]byte{goodFrame(t), goodFrame(t), goodFrame(t)}
	rec := postMultipart(t, h.Enroll, "/api/v1/faces/enroll",
		map[string]string{"student_id": "s1"}, "frames", frames)
	if rec.Code != http.StatusOK {
		t.Fatalf("enroll status %d", rec.Code)
	}

	rec = deleteStudent(t, h, "s1")
	if rec.Code != http.StatusOK {
		t.Fatalf("delete status %d: %s", rec.Code, rec.Body.String())
	}

	// Second delete: nothing left to remove.
	rec = deleteStudent(t, h, "s1")
	if rec.Code != http.StatusNotFound {
		t.Errorf("second delete status %d, want 404", rec.Code)
	}
}

func deleteStudent(t *testing.T, h *FacesHandler, id string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodDelete, "/api/v1/faces/"+id, nil)
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("id", id)
	req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
	rec := httptest.NewRecorder()
	h.Remove(rec, req)
	return rec
}

func TestStatsHandler(t *testing.T) {
	target := vec(1, 0, 0, 0)
	cfg, engine := testConfigAndEngine(t, faceExtractor(target))
	faces := NewFacesHandler(cfg, engine)
	stats := NewStatsHandler(cfg, engine)

	frames := [][]byte{goodFrame(t), goodFrame(t), goodFrame(t)}
	rec := postMultipart(t, faces.Enroll, "/api/v1/faces/enroll",
		map[string]string{"student_id": "s1", "display_name": "Student One"}, "frames", frames)
	if rec.Code != http.StatusOK {
		t.Fatalf("enroll status %d", rec.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/faces/stats", nil)
	recorder := httptest.NewRecorder()
	stats.Get(recorder, req)

	if recorder.Code != http.StatusOK {
		t.Fatalf("stats status %d", recorder.Code)
	}
	var s recognizer.Stats
	parseJSON(t, recorder, &s)
	if s.RegisteredStudents != 1 || s.IndexSize != 1 || s.Enrollments != 1 {
		t.Errorf("stats = %+v", s)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/faces/students", nil)
	recorder = httptest.NewRecorder()
	stats.Students(recorder, req)

	var students struct {
		Count    int              `json:"count"`
		Students []map[string]any `json:"students"`
	}
	parseJSON(t, recorder, &students)
	if students.Count != 1 || students.Students[0]["student_id"] != "s1" {
		t.Errorf("students = %+v", students)
	}
}

func TestStudentsNameFilter(t *testing.T) {
	cfg, engine := testConfigAndEngine(t, faceExtractor(vec(1, 0, 0, 0)))
	faces := NewFacesHandler(cfg, engine)
	stats := NewStatsHandler(cfg, engine)

	for id, name := range map[string]string{"s1": "Jiří Novák", "s2": "Anna Svobodová"} {
		frames := [][]byte{goodFrame(t), goodFrame(t), goodFrame(t)}
		rec := postMultipart(t, faces.Enroll, "/api/v1/faces/enroll",
			map[string]string{"student_id": id, "display_name": name}, "frames", frames)
		if rec.Code != http.StatusOK {
			t.Fatalf("enroll %s status %d", id, rec.Code)
		}
	}

	tests := []struct {
		query  string
		count  int
		wantID string
	}{
		{"jiri novak", 1, "s1"},         // diacritics ignored
		{"Anna Svobodová", 1, "s2"},     // exact match still works
		{"anna-svobodova", 1, "s2"},     // dashes treated as spaces
		{"pepa zdepa", 0, ""},
	}
	for _, tc := range tests {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/faces/students?name="+url.QueryEscape(tc.query), nil)
		rec := httptest.NewRecorder()
		stats.Students(rec, req)

		var resp struct {
			Count    int              `json:"count"`
			Students []map[string]any `json:"students"`
		}
		parseJSON(t, rec, &resp)
		if resp.Count != tc.count {
			t.Errorf("name=%q: count = %d, want %d", tc.query, resp.Count, tc.count)
			continue
		}
		if tc.count == 1 && resp.Students[0]["student_id"] != tc.wantID {
			t.Errorf("name=%q: matched %v, want %s", tc.query, resp.Students[0]["student_id"], tc.wantID)
		}
	}
}

func TestHealthCheck(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	rec := httptest.NewRecorder()
	HealthCheck(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
	var resp map[string]string
	parseJSON(t, rec, &resp)
	if resp["status"] != "ok" {
		t.Errorf("response = %v", resp)
	}
}
