package paper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/pavelanni/papergen/internal/compose"
	"github.com/pavelanni/papergen/internal/model"
)

// Progress checkpoints reported while generating.
const (
	progressStarted  = 10
	progressChecked  = 30
	progressComposed = 80
	progressDone     = 100
)

// Generate composes a new version of the paper and appends it to the ledger.
// Runs for the same paper are serialized. The run is bounded by the configured
// timeout and always leaves a terminal status, even when ctx is canceled.
func (s *Service) Generate(ctx context.Context, id string, reason model.ChangeReason) (model.CompositionOutput, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.GenerationTimeout)
	defer cancel()

	unlock, err := s.locker.Lock(ctx, lockKey(id))
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return model.CompositionOutput{}, newError(CodeTimeout, err, "timed out waiting for a running generation")
		}
		return model.CompositionOutput{}, fmt.Errorf("lock paper %s: %w", id, err)
	}
	defer unlock()

	rec, err := s.GetPaper(ctx, id)
	if err != nil {
		return model.CompositionOutput{}, err
	}
	if err := checkTransition(rec.GenerationStatus.Status, model.StatusGenerating); err != nil {
		return model.CompositionOutput{}, newError(CodeInProgress, err, "paper is being generated")
	}

	started := s.now()
	w := &statusWriter{s: s, ctx: context.WithoutCancel(ctx), id: id, started: started}
	if err := w.progress(progressStarted); err != nil {
		return model.CompositionOutput{}, err
	}
	slog.Info("generation started", "paper_id", id, "reason", reason)

	if err := s.checkInputs(rec); err != nil {
		return model.CompositionOutput{}, w.fail(err)
	}
	if err := w.progress(progressChecked); err != nil {
		return model.CompositionOutput{}, err
	}

	out, err := s.composer.Compose(ctx, compose.Request{
		Title:         rec.Title,
		ExtractedText: rec.ExtractedData.Text(),
		Config:        rec.Config,
		PriorVersions: rec.Versions,
		Reason:        reason,
	})
	if err != nil {
		return model.CompositionOutput{}, w.fail(runError(ctx, err, "paper could not be composed"))
	}
	if err := w.progress(progressComposed); err != nil {
		return model.CompositionOutput{}, err
	}

	saved, err := s.store.AppendVersion(ctx, id, out.JSON)
	if err != nil {
		return model.CompositionOutput{}, w.fail(runError(ctx, err, "paper version could not be saved"))
	}
	out.JSON = saved

	if err := w.complete(); err != nil {
		return model.CompositionOutput{}, err
	}
	slog.Info("generation completed",
		"paper_id", id,
		"version", saved.VersionNumber,
		"model", saved.ModelIdentifier,
		"elapsed", s.now().Sub(started).Round(time.Millisecond),
	)
	return out, nil
}

// Start checks that the paper exists and runs Generate in the background. The
// run outlives ctx; poll Status for its outcome. The returned status describes
// the accepted run, not the previous one.
func (s *Service) Start(ctx context.Context, id string, reason model.ChangeReason) (model.GenerationStatus, error) {
	st, err := s.Status(ctx, id)
	if err != nil {
		return model.GenerationStatus{}, err
	}
	if st.Status == model.StatusGenerating {
		return model.GenerationStatus{}, newError(CodeInProgress, nil, "paper is being generated")
	}
	accepted := s.now()

	bg := context.WithoutCancel(ctx)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if _, err := s.Generate(bg, id, reason); err != nil {
			slog.Error("generation failed", "paper_id", id, "code", CodeOf(err), "error", err)
		}
	}()
	return model.GenerationStatus{Status: model.StatusGenerating, StartedAt: &accepted}, nil
}

// Wait blocks until all runs started with Start have finished.
func (s *Service) Wait() {
	s.wg.Wait()
}

func (s *Service) checkInputs(rec model.PaperRecord) error {
	cfg := rec.Config
	text := strings.TrimSpace(rec.ExtractedData.Text())
	if n := utf8.RuneCountInString(text); n < s.cfg.MinTextChars {
		return newError(CodeInsufficientText, nil,
			"source text is too short (%d characters, need %d)", n, s.cfg.MinTextChars)
	}
	if len(cfg.Sections) == 0 {
		return newError(CodeNoSections, nil, "no sections are configured")
	}
	if err := s.validator.Struct(cfg); err != nil {
		return newError(CodeInvalidConfig, err, "configuration is invalid")
	}
	if sum := cfg.SectionMarks(); sum != cfg.TotalMarks {
		if s.cfg.StrictMarks {
			return newError(CodeMarksMismatch, nil,
				"section marks add up to %d, total is %d", sum, cfg.TotalMarks)
		}
		slog.Warn("section marks do not match total", "paper_id", rec.ID, "sections", sum, "total", cfg.TotalMarks)
	}
	return nil
}

// statusWriter writes the status of one generation. Writes use a context that is not
// canceled with the run, so a terminal status is recorded after a timeout.
type statusWriter struct {
	s       *Service
	ctx     context.Context
	id      string
	started time.Time
}

func (r *statusWriter) progress(pct int) error {
	return r.s.store.SetStatus(r.ctx, r.id, model.GenerationStatus{
		Status:    model.StatusGenerating,
		Progress:  pct,
		StartedAt: &r.started,
	})
}

func (r *statusWriter) complete() error {
	done := r.s.now()
	return r.s.store.SetStatus(r.ctx, r.id, model.GenerationStatus{
		Status:      model.StatusCompleted,
		Progress:    progressDone,
		StartedAt:   &r.started,
		CompletedAt: &done,
	})
}

// fail records err as the terminal status and returns it.
func (r *statusWriter) fail(err error) error {
	done := r.s.now()
	st := model.GenerationStatus{
		Status:      model.StatusFailed,
		StartedAt:   &r.started,
		CompletedAt: &done,
		Error:       err.Error(),
		ErrorCode:   string(CodeOf(err)),
	}
	var pe *Error
	if errors.As(err, &pe) {
		st.Error = pe.Message
	}
	if serr := r.s.store.SetStatus(r.ctx, r.id, st); serr != nil {
		return errors.Join(err, serr)
	}
	return err
}

func runError(ctx context.Context, err error, msg string) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return newError(CodeTimeout, err, "generation timed out")
	}
	return newError(CodeGenerationFailed, err, "%s", msg)
}

func lockKey(id string) string {
	return "paper:" + id
}
