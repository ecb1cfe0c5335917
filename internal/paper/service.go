// Package paper orchestrates ingestion, configuration and generation of papers.
//
// Generation runs under a per-paper lock with a deadline and reports progress
// through the paper's GenerationStatus, which is overwritten in place. Callers
// poll it; it is not a future and keeps no history.
package paper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pavelanni/papergen/internal/compose"
	"github.com/pavelanni/papergen/internal/lock"
	"github.com/pavelanni/papergen/internal/model"
	"github.com/pavelanni/papergen/internal/store"
	"github.com/pavelanni/papergen/internal/validate"
)

// Defaults for Config fields left zero.
const (
	DefaultGenerationTimeout = 2 * time.Minute
	DefaultMinTextChars      = 100
	DefaultChunkSize         = 3000
)

// Store is the persistence the service needs.
type Store interface {
	CreatePaper(ctx context.Context, rec model.PaperRecord) error
	GetPaper(ctx context.Context, id string) (model.PaperRecord, error)
	ListPapers(ctx context.Context) ([]model.PaperRecord, error)
	UpdateConfig(ctx context.Context, id string, cfg model.GenerationConfig) error
	SaveExtractedData(ctx context.Context, id string, data model.ExtractedData) error
	SetStatus(ctx context.Context, id string, st model.GenerationStatus) error
	GetStatus(ctx context.Context, id string) (model.GenerationStatus, error)
	AppendVersion(ctx context.Context, id string, p model.GeneratedPaper) (model.GeneratedPaper, error)
	ListVersions(ctx context.Context, id string) ([]model.GeneratedPaper, error)
	GetVersion(ctx context.Context, id string, n int) (model.GeneratedPaper, error)
	PutExtraction(ctx context.Context, mode, fingerprint string, v any) error
	GetExtraction(ctx context.Context, mode, fingerprint string, dst any) (bool, error)
}

// Structurer derives chapters and topics from text.
type Structurer interface {
	ExtractChapters(ctx context.Context, text string) (model.ChapterResult, error)
	ExtractTopics(ctx context.Context, text string) (model.StructureResult, error)
}

// Composer generates one paper version.
type Composer interface {
	Compose(ctx context.Context, req compose.Request) (model.CompositionOutput, error)
}

// Config holds service policy.
type Config struct {
	GenerationTimeout time.Duration
	// MinTextChars is the least extracted text, in characters, a paper can be generated from.
	MinTextChars int
	// StrictMarks rejects configs whose section marks do not add up to the total.
	StrictMarks bool
	ChunkSize   int
}

// Service is the paper workflow.
type Service struct {
	store     Store
	structure Structurer
	composer  Composer
	locker    lock.Locker
	validator *validate.Validator
	cfg       Config
	now       func() time.Time
	wg        sync.WaitGroup
}

// New creates a Service. A nil locker means in-process locking.
func New(st Store, structure Structurer, composer Composer, locker lock.Locker, cfg Config) (*Service, error) {
	if st == nil || structure == nil || composer == nil {
		return nil, errors.New("paper: store, structure engine and composer are required")
	}
	if locker == nil {
		locker = &lock.Local{}
	}
	if cfg.GenerationTimeout <= 0 {
		cfg.GenerationTimeout = DefaultGenerationTimeout
	}
	if cfg.MinTextChars <= 0 {
		cfg.MinTextChars = DefaultMinTextChars
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = DefaultChunkSize
	}
	return &Service{
		store:     st,
		structure: structure,
		composer:  composer,
		locker:    locker,
		validator: validate.New(),
		cfg:       cfg,
		now:       func() time.Time { return time.Now().UTC() },
	}, nil
}

// CreatePaper creates an empty paper in the pending state.
func (s *Service) CreatePaper(ctx context.Context, title string) (model.PaperRecord, error) {
	if err := checkTransition("", model.StatusPending); err != nil {
		return model.PaperRecord{}, err
	}
	now := s.now()
	rec := model.PaperRecord{
		ID:                  uuid.NewString(),
		Title:               title,
		CurrentVersionIndex: -1,
		GenerationStatus:    model.GenerationStatus{Status: model.StatusPending},
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	if err := s.store.CreatePaper(ctx, rec); err != nil {
		return model.PaperRecord{}, err
	}
	slog.Info("paper created", "paper_id", rec.ID)
	return rec, nil
}

// GetPaper returns a paper with its versions.
func (s *Service) GetPaper(ctx context.Context, id string) (model.PaperRecord, error) {
	rec, err := s.store.GetPaper(ctx, id)
	return rec, notFound(err, id)
}

// ListPapers returns all papers without their versions.
func (s *Service) ListPapers(ctx context.Context) ([]model.PaperRecord, error) {
	return s.store.ListPapers(ctx)
}

// Status returns the latest generation status.
func (s *Service) Status(ctx context.Context, id string) (model.GenerationStatus, error) {
	st, err := s.store.GetStatus(ctx, id)
	return st, notFound(err, id)
}

// Versions returns the version ledger of a paper.
func (s *Service) Versions(ctx context.Context, id string) ([]model.GeneratedPaper, error) {
	if _, err := s.Status(ctx, id); err != nil {
		return nil, err
	}
	return s.store.ListVersions(ctx, id)
}

// Version returns version n of a paper.
func (s *Service) Version(ctx context.Context, id string, n int) (model.GeneratedPaper, error) {
	v, err := s.store.GetVersion(ctx, id, n)
	return v, notFound(err, fmt.Sprintf("%s version %d", id, n))
}

// Recover fails runs left in the generating state by a previous process.
// Call it at startup, before serving, and only when this process is the sole writer.
func (s *Service) Recover(ctx context.Context) error {
	papers, err := s.store.ListPapers(ctx)
	if err != nil {
		return err
	}
	for _, p := range papers {
		st := p.GenerationStatus
		if st.Status != model.StatusGenerating {
			continue
		}
		now := s.now()
		st.Status = model.StatusFailed
		st.CompletedAt = &now
		st.ErrorCode = string(CodeInterrupted)
		st.Error = "generation was interrupted by a restart"
		if err := s.store.SetStatus(ctx, p.ID, st); err != nil {
			return err
		}
		slog.Warn("marked interrupted generation as failed", "paper_id", p.ID)
	}
	return nil
}

func notFound(err error, what string) error {
	if errors.Is(err, store.ErrNotFound) {
		return newError(CodeNotFound, err, "%s not found", what)
	}
	return err
}
