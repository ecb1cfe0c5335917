package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/pavelanni/papergen/internal/model"
	"github.com/pavelanni/papergen/internal/paper"
	"github.com/pavelanni/papergen/internal/render"
	"github.com/pavelanni/papergen/internal/textract"
	"github.com/pavelanni/papergen/internal/validate"
)

const (
	maxUploadBytes = 32 << 20
	maxJSONBytes   = 1 << 20
)

// Service is the paper workflow the handlers drive.
type Service interface {
	CreatePaper(ctx context.Context, title string) (model.PaperRecord, error)
	GetPaper(ctx context.Context, id string) (model.PaperRecord, error)
	ListPapers(ctx context.Context) ([]model.PaperRecord, error)
	IngestFiles(ctx context.Context, id string, files []textract.File) (model.ExtractedData, error)
	ParseCIF(ctx context.Context, id string, file textract.File) (model.StructureResult, error)
	UpdateConfig(ctx context.Context, id string, cfg model.GenerationConfig) (model.GenerationConfig, error)
	Start(ctx context.Context, id string, reason model.ChangeReason) (model.GenerationStatus, error)
	Status(ctx context.Context, id string) (model.GenerationStatus, error)
	Versions(ctx context.Context, id string) ([]model.GeneratedPaper, error)
	Version(ctx context.Context, id string, n int) (model.GeneratedPaper, error)
}

// Pinger reports whether a backing service is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler holds shared dependencies for HTTP handlers.
type Handler struct {
	svc Service
	db  Pinger
}

// New creates a new Handler.
func New(svc Service, db Pinger) (*Handler, error) {
	if svc == nil {
		return nil, errors.New("handler: service is required")
	}
	return &Handler{svc: svc, db: db}, nil
}

// Routes registers all HTTP routes.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/healthz", h.handleHealth)
	r.Route("/papers", func(r chi.Router) {
		r.Get("/", h.handleListPapers)
		r.Post("/", h.handleCreatePaper)
		r.Route("/{paperID}", func(r chi.Router) {
			r.Get("/", h.handleGetPaper)
			r.Post("/files", h.handleUploadFiles)
			r.Post("/cif", h.handleUploadCIF)
			r.Put("/config", h.handleUpdateConfig)
			r.Post("/generate", h.handleGenerate(model.ReasonGeneration))
			r.Post("/regenerate", h.handleGenerate(model.ReasonRegeneration))
			r.Get("/status", h.handleStatus)
			r.Get("/versions", h.handleVersions)
			r.Get("/versions/{n}", h.handleVersion)
			r.Get("/versions/{n}/html", h.handleVersionHTML)
			r.Get("/versions/{n}/answer-key", h.handleAnswerKeyHTML)
		})
	})
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if h.db != nil {
		if err := h.db.Ping(r.Context()); err != nil {
			slog.Error("health check failed", "error", err)
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) handleListPapers(w http.ResponseWriter, r *http.Request) {
	papers, err := h.svc.ListPapers(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	if papers == nil {
		papers = []model.PaperRecord{}
	}
	writeJSON(w, http.StatusOK, papers)
}

type createPaperRequest struct {
	Title string `json:"title"`
}

func (h *Handler) handleCreatePaper(w http.ResponseWriter, r *http.Request) {
	var req createPaperRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}
	rec, err := h.svc.CreatePaper(r.Context(), strings.TrimSpace(req.Title))
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Location", "/papers/"+rec.ID)
	writeJSON(w, http.StatusCreated, rec)
}

func (h *Handler) handleGetPaper(w http.ResponseWriter, r *http.Request) {
	rec, err := h.svc.GetPaper(r.Context(), chi.URLParam(r, "paperID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (h *Handler) handleUploadFiles(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeBadRequest(w, fmt.Errorf("invalid upload: %w", err))
		return
	}
	headers := r.MultipartForm.File["files"]
	files := make([]textract.File, 0, len(headers))
	for _, fh := range headers {
		f, err := readUpload(fh)
		if err != nil {
			writeBadRequest(w, err)
			return
		}
		files = append(files, f)
	}

	data, err := h.svc.IngestFiles(r.Context(), chi.URLParam(r, "paperID"), files)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, data)
}

func (h *Handler) handleUploadCIF(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeBadRequest(w, fmt.Errorf("invalid upload: %w", err))
		return
	}
	headers := r.MultipartForm.File["file"]
	if len(headers) == 0 {
		writeBadRequest(w, errors.New("no file uploaded"))
		return
	}
	f, err := readUpload(headers[0])
	if err != nil {
		writeBadRequest(w, err)
		return
	}

	res, err := h.svc.ParseCIF(r.Context(), chi.URLParam(r, "paperID"), f)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) handleUpdateConfig(w http.ResponseWriter, r *http.Request) {
	var cfg model.GenerationConfig
	if err := decodeJSON(w, r, &cfg); err != nil {
		writeBadRequest(w, err)
		return
	}
	saved, err := h.svc.UpdateConfig(r.Context(), chi.URLParam(r, "paperID"), cfg)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, saved)
}

func (h *Handler) handleGenerate(reason model.ChangeReason) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "paperID")
		st, err := h.svc.Start(r.Context(), id, reason)
		if err != nil {
			writeError(w, err)
			return
		}
		w.Header().Set("Location", "/papers/"+id+"/status")
		writeJSON(w, http.StatusAccepted, st)
	}
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	st, err := h.svc.Status(r.Context(), chi.URLParam(r, "paperID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (h *Handler) handleVersions(w http.ResponseWriter, r *http.Request) {
	versions, err := h.svc.Versions(r.Context(), chi.URLParam(r, "paperID"))
	if err != nil {
		writeError(w, err)
		return
	}
	if versions == nil {
		versions = []model.GeneratedPaper{}
	}
	writeJSON(w, http.StatusOK, versions)
}

func (h *Handler) handleVersion(w http.ResponseWriter, r *http.Request) {
	v, ok := h.version(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (h *Handler) handleVersionHTML(w http.ResponseWriter, r *http.Request) {
	v, ok := h.version(w, r)
	if !ok {
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := render.Paper(v).Render(r.Context(), w); err != nil {
		slog.Error("render error", "error", err)
	}
}

func (h *Handler) handleAnswerKeyHTML(w http.ResponseWriter, r *http.Request) {
	v, ok := h.version(w, r)
	if !ok {
		return
	}
	if !hasAnswers(v) {
		writeJSON(w, http.StatusNotFound, errorEnvelope{Error: apiError{
			Code:    string(paper.CodeNotFound),
			Message: "this version has no answer key",
		}})
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := render.AnswerKey(v).Render(r.Context(), w); err != nil {
		slog.Error("render error", "error", err)
	}
}

// version loads the version named by the URL and writes the error response itself.
func (h *Handler) version(w http.ResponseWriter, r *http.Request) (model.GeneratedPaper, bool) {
	n, err := strconv.Atoi(chi.URLParam(r, "n"))
	if err != nil || n < 1 {
		writeBadRequest(w, errors.New("version must be a positive integer"))
		return model.GeneratedPaper{}, false
	}
	v, err := h.svc.Version(r.Context(), chi.URLParam(r, "paperID"), n)
	if err != nil {
		writeError(w, err)
		return model.GeneratedPaper{}, false
	}
	return v, true
}

func hasAnswers(p model.GeneratedPaper) bool {
	for _, s := range p.Sections {
		for _, q := range s.Questions {
			if q.Answer != nil {
				return true
			}
		}
	}
	return false
}

func readUpload(fh *multipart.FileHeader) (textract.File, error) {
	f, err := fh.Open()
	if err != nil {
		return textract.File{}, fmt.Errorf("open %s: %w", fh.Filename, err)
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return textract.File{}, fmt.Errorf("read %s: %w", fh.Filename, err)
	}

	mt := fh.Header.Get("Content-Type")
	if mt == "" || mt == "application/octet-stream" {
		if guess := textract.TypeByExtension(fh.Filename); guess != "" {
			mt = guess
		}
	}
	return textract.File{Name: fh.Filename, MimeType: mt, Data: data}, nil
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}
	return nil
}

type apiError struct {
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Fields  map[string]string `json:"fields,omitempty"`
}

type errorEnvelope struct {
	Error apiError `json:"error"`
}

// statusFor maps a failure code to an HTTP status.
func statusFor(code paper.Code) int {
	switch code {
	case paper.CodeNotFound:
		return http.StatusNotFound
	case paper.CodeInvalidConfig, paper.CodeInsufficientText, paper.CodeNoSections, paper.CodeMarksMismatch:
		return http.StatusUnprocessableEntity
	case paper.CodeUnsupportedType:
		return http.StatusUnsupportedMediaType
	case paper.CodeUnreadableFile:
		return http.StatusBadRequest
	case paper.CodeInProgress, paper.CodeTimeout:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	code := paper.CodeOf(err)
	status := statusFor(code)
	body := apiError{Code: string(code), Message: "internal error"}

	var pe *paper.Error
	if errors.As(err, &pe) {
		body.Message = pe.Message
	}
	var fields validate.FieldErrors
	if errors.As(err, &fields) {
		body.Fields = fields
	}
	if status >= http.StatusInternalServerError {
		slog.Error("request failed", "code", code, "error", err)
	}
	if body.Code == "" {
		body.Code = "internal"
	}
	writeJSON(w, status, errorEnvelope{Error: body})
}

func writeBadRequest(w http.ResponseWriter, err error) {
	writeJSON(w, http.StatusBadRequest, errorEnvelope{Error: apiError{Code: "bad_request", Message: err.Error()}})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encode response", "error", err)
	}
}
