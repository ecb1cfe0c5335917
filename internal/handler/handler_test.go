package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/pavelanni/papergen/internal/compose"
	"github.com/pavelanni/papergen/internal/i18n"
	"github.com/pavelanni/papergen/internal/llm"
	"github.com/pavelanni/papergen/internal/model"
	"github.com/pavelanni/papergen/internal/paper"
	"github.com/pavelanni/papergen/internal/store"
	"github.com/pavelanni/papergen/internal/structure"
)

const notes = `Chapter 1: Kinematics
Motion in one dimension is described by displacement, velocity and acceleration.
Chapter 2: Dynamics
Newton's laws relate forces to the motion they produce. Exercise 2.1 covers friction.`

type testServer struct {
	*httptest.Server
	svc *paper.Service
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	st, err := store.New(":memory:")
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	se, err := structure.New(llm.Unavailable{})
	if err != nil {
		t.Fatalf("structure.New: %v", err)
	}
	ce, err := compose.New(llm.Unavailable{})
	if err != nil {
		t.Fatalf("compose.New: %v", err)
	}
	svc, err := paper.New(st, se, ce, nil, paper.Config{})
	if err != nil {
		t.Fatalf("paper.New: %v", err)
	}
	t.Cleanup(svc.Wait)

	h, err := New(svc, st)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	r := chi.NewRouter()
	r.Use(i18n.Middleware("en"))
	h.Routes(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return &testServer{Server: srv, svc: svc}
}

func (s *testServer) do(t *testing.T, method, path, contentType string, body []byte) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, s.URL+path, bytes.NewReader(body))
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (s *testServer) doJSON(t *testing.T, method, path string, v any) *http.Response {
	t.Helper()
	body, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	return s.do(t, method, path, "application/json", body)
}

func (s *testServer) upload(t *testing.T, path, field, name, content string) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile(field, name)
	if err != nil {
		t.Fatalf("CreateFormFile: %v", err)
	}
	fw.Write([]byte(content))
	mw.Close()
	return s.do(t, http.MethodPost, path, mw.FormDataContentType(), buf.Bytes())
}

func (s *testServer) createPaper(t *testing.T) string {
	t.Helper()
	resp := s.doJSON(t, http.MethodPost, "/papers", map[string]string{"title": "Physics mid-term"})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create status = %d", resp.StatusCode)
	}
	var rec model.PaperRecord
	decode(t, resp, &rec)
	return rec.ID
}

func decode(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func errorCode(t *testing.T, resp *http.Response) string {
	t.Helper()
	var env errorEnvelope
	decode(t, resp, &env)
	return env.Error.Code
}

func validConfig(answerKey bool) model.GenerationConfig {
	return model.GenerationConfig{
		TotalMarks: 20,
		Sections: []model.Section{
			{Name: "Section A", Marks: 10, QuestionCount: 2, QuestionType: model.QuestionShortAnswer},
			{Name: "Section B", Marks: 10, QuestionCount: 1, QuestionType: model.QuestionLongAnswer},
		},
		GenerateAnswerKey: answerKey,
	}
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)
	resp := s.do(t, http.MethodGet, "/healthz", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
}

func TestCreateAndGetPaper(t *testing.T) {
	s := newTestServer(t)
	id := s.createPaper(t)

	resp := s.do(t, http.MethodGet, "/papers/"+id, "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var rec model.PaperRecord
	decode(t, resp, &rec)
	if rec.Title != "Physics mid-term" || rec.GenerationStatus.Status != model.StatusPending {
		t.Errorf("paper = %+v", rec)
	}

	resp = s.do(t, http.MethodGet, "/papers", "", nil)
	var list []model.PaperRecord
	decode(t, resp, &list)
	if len(list) != 1 {
		t.Errorf("got %d papers, want 1", len(list))
	}
}

func TestErrors(t *testing.T) {
	s := newTestServer(t)
	id := s.createPaper(t)

	tests := []struct {
		name     string
		method   string
		path     string
		body     string
		status   int
		wantCode string
	}{
		{"unknown paper", http.MethodGet, "/papers/missing", "", http.StatusNotFound, "not_found"},
		{"unknown paper status", http.MethodGet, "/papers/missing/status", "", http.StatusNotFound, "not_found"},
		{"malformed json", http.MethodPost, "/papers", "{", http.StatusBadRequest, "bad_request"},
		{"unknown field", http.MethodPut, "/papers/" + id + "/config", `{"marks": 3}`, http.StatusBadRequest, "bad_request"},
		{"bad version number", http.MethodGet, "/papers/" + id + "/versions/abc", "", http.StatusBadRequest, "bad_request"},
		{"missing version", http.MethodGet, "/papers/" + id + "/versions/1", "", http.StatusNotFound, "not_found"},
		{"generate unknown paper", http.MethodPost, "/papers/missing/generate", "", http.StatusNotFound, "not_found"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := s.do(t, tt.method, tt.path, "application/json", []byte(tt.body))
			if resp.StatusCode != tt.status {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.status)
			}
			if got := errorCode(t, resp); got != tt.wantCode {
				t.Errorf("code = %q, want %q", got, tt.wantCode)
			}
		})
	}
}

func TestUploadFiles(t *testing.T) {
	s := newTestServer(t)
	id := s.createPaper(t)

	resp := s.upload(t, "/papers/"+id+"/files", "files", "notes.txt", notes)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var data model.ExtractedData
	decode(t, resp, &data)
	if len(data.Chapters) != 2 {
		t.Errorf("Chapters = %v", data.Chapters)
	}
	if len(data.DetectedExercises) != 1 || data.DetectedExercises[0] != "Exercise 2.1" {
		t.Errorf("DetectedExercises = %v", data.DetectedExercises)
	}

	resp = s.upload(t, "/papers/"+id+"/files", "files", "diagram.png", "\x89PNG")
	if resp.StatusCode != http.StatusUnsupportedMediaType {
		t.Errorf("png status = %d, want 415", resp.StatusCode)
	}
	if got := errorCode(t, resp); got != "unsupported_type" {
		t.Errorf("code = %q", got)
	}
}

func TestUploadCIF(t *testing.T) {
	s := newTestServer(t)
	id := s.createPaper(t)

	resp := s.upload(t, "/papers/"+id+"/cif", "file", "cif.txt", "Unit 1: Waves - 30%\nUnit 2: Optics - 70%")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var res model.StructureResult
	decode(t, resp, &res)
	if res.TotalTopics != 2 || res.Topics[0].Name != "Optics" {
		t.Errorf("result = %+v", res)
	}

	resp = s.upload(t, "/papers/"+id+"/cif", "other", "cif.txt", "Unit 1: Waves")
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("missing file status = %d, want 400", resp.StatusCode)
	}
}

func TestUpdateConfigInvalid(t *testing.T) {
	s := newTestServer(t)
	id := s.createPaper(t)

	cfg := validConfig(false)
	cfg.TotalMarks = 0
	resp := s.doJSON(t, http.MethodPut, "/papers/"+id+"/config", cfg)
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422", resp.StatusCode)
	}
	var env errorEnvelope
	decode(t, resp, &env)
	if env.Error.Code != "invalid_config" {
		t.Errorf("code = %q", env.Error.Code)
	}
	if _, ok := env.Error.Fields["totalMarks"]; !ok {
		t.Errorf("fields = %v, want totalMarks", env.Error.Fields)
	}
}

func TestGenerateFlow(t *testing.T) {
	s := newTestServer(t)
	id := s.createPaper(t)
	base := "/papers/" + id

	if resp := s.upload(t, base+"/files", "files", "notes.txt", notes); resp.StatusCode != http.StatusOK {
		t.Fatalf("upload status = %d", resp.StatusCode)
	}
	if resp := s.doJSON(t, http.MethodPut, base+"/config", validConfig(false)); resp.StatusCode != http.StatusOK {
		t.Fatalf("config status = %d", resp.StatusCode)
	}

	resp := s.do(t, http.MethodPost, base+"/generate", "", nil)
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("generate status = %d", resp.StatusCode)
	}
	s.svc.Wait()

	var st model.GenerationStatus
	decode(t, s.do(t, http.MethodGet, base+"/status", "", nil), &st)
	if st.Status != model.StatusCompleted || st.Progress != 100 {
		t.Fatalf("status = %+v", st)
	}

	var v model.GeneratedPaper
	decode(t, s.do(t, http.MethodGet, base+"/versions/1", "", nil), &v)
	if v.VersionNumber != 1 || v.QuestionCount() != 3 {
		t.Errorf("version = %d with %d questions", v.VersionNumber, v.QuestionCount())
	}

	resp = s.do(t, http.MethodGet, base+"/versions/1/html", "", nil)
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
		t.Errorf("Content-Type = %q", ct)
	}
	var html bytes.Buffer
	html.ReadFrom(resp.Body)
	if !strings.Contains(html.String(), "Section A") {
		t.Errorf("paper HTML lacks section name:\n%s", html.String())
	}

	resp = s.do(t, http.MethodGet, base+"/versions/1/answer-key", "", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("answer key status = %d, want 404", resp.StatusCode)
	}

	// Regenerate with an answer key.
	if resp := s.doJSON(t, http.MethodPut, base+"/config", validConfig(true)); resp.StatusCode != http.StatusOK {
		t.Fatalf("config status = %d", resp.StatusCode)
	}
	resp = s.do(t, http.MethodPost, base+"/regenerate", "", nil)
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("regenerate status = %d", resp.StatusCode)
	}
	var accepted model.GenerationStatus
	decode(t, resp, &accepted)
	if accepted.Status != model.StatusGenerating || accepted.StartedAt == nil || accepted.CompletedAt != nil {
		t.Errorf("regenerate accepted %+v, want a fresh generating status", accepted)
	}
	s.svc.Wait()

	var versions []model.GeneratedPaper
	decode(t, s.do(t, http.MethodGet, base+"/versions", "", nil), &versions)
	if len(versions) != 2 || versions[1].ChangeReason != model.ReasonRegeneration {
		t.Fatalf("versions = %+v", versions)
	}
	resp = s.do(t, http.MethodGet, base+"/versions/2/answer-key", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("answer key status = %d, want 200", resp.StatusCode)
	}
}

func TestGenerateInputErrorIsPolled(t *testing.T) {
	s := newTestServer(t)
	id := s.createPaper(t)
	base := "/papers/" + id

	resp := s.do(t, http.MethodPost, base+"/generate", "", nil)
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("generate status = %d", resp.StatusCode)
	}
	s.svc.Wait()

	var st model.GenerationStatus
	decode(t, s.do(t, http.MethodGet, base+"/status", "", nil), &st)
	if st.Status != model.StatusFailed || st.ErrorCode != "insufficient_text" {
		t.Errorf("status = %+v", st)
	}
}

func TestLanguageNegotiation(t *testing.T) {
	s := newTestServer(t)
	req, _ := http.NewRequest(http.MethodGet, s.URL+"/healthz", nil)
	req.Header.Set("Accept-Language", "ru-RU,ru;q=0.9")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	defer resp.Body.Close()
	if got := resp.Header.Get("Content-Language"); got != "ru" {
		t.Errorf("Content-Language = %q, want ru", got)
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		code paper.Code
		want int
	}{
		{paper.CodeNotFound, http.StatusNotFound},
		{paper.CodeInvalidConfig, http.StatusUnprocessableEntity},
		{paper.CodeInsufficientText, http.StatusUnprocessableEntity},
		{paper.CodeNoSections, http.StatusUnprocessableEntity},
		{paper.CodeMarksMismatch, http.StatusUnprocessableEntity},
		{paper.CodeUnsupportedType, http.StatusUnsupportedMediaType},
		{paper.CodeUnreadableFile, http.StatusBadRequest},
		{paper.CodeInProgress, http.StatusServiceUnavailable},
		{paper.CodeTimeout, http.StatusServiceUnavailable},
		{paper.CodeGenerationFailed, http.StatusInternalServerError},
		{"", http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			if got := statusFor(tt.code); got != tt.want {
				t.Errorf("statusFor(%q) = %d, want %d", tt.code, got, tt.want)
			}
		})
	}
}

type downDB struct{}

func (downDB) Ping(context.Context) error { return errors.New("database is down") }

func TestHealthUnavailable(t *testing.T) {
	h, err := New(&paper.Service{}, downDB{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	r := chi.NewRouter()
	h.Routes(r)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
}
