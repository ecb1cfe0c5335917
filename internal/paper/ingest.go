package paper

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/crypto/blake2b"

	"github.com/pavelanni/papergen/internal/exercise"
	"github.com/pavelanni/papergen/internal/model"
	"github.com/pavelanni/papergen/internal/structure"
	"github.com/pavelanni/papergen/internal/textract"
)

// IngestFiles extracts the text of files and adds it to the paper's extracted
// data. Chapters and detected exercises are recomputed over all text so far.
func (s *Service) IngestFiles(ctx context.Context, id string, files []textract.File) (model.ExtractedData, error) {
	if len(files) == 0 {
		return model.ExtractedData{}, newError(CodeUnreadableFile, nil, "no files uploaded")
	}
	rec, err := s.GetPaper(ctx, id)
	if err != nil {
		return model.ExtractedData{}, err
	}

	results, err := textract.ExtractAll(ctx, files)
	if err != nil {
		return model.ExtractedData{}, extractError(err)
	}

	data := rec.ExtractedData
	now := s.now()
	for _, r := range results {
		data.TextChunks = append(data.TextChunks, textract.Chunk(r.Text, s.cfg.ChunkSize)...)
		data.UploadedFiles = append(data.UploadedFiles, model.UploadedFile{
			Name:       r.Name,
			MimeType:   r.MimeType,
			Size:       r.Size,
			Chars:      len([]rune(r.Text)),
			UploadedAt: now,
		})
	}

	text := data.Text()
	if strings.TrimSpace(text) == "" {
		return model.ExtractedData{}, newError(CodeInsufficientText, nil, "uploaded files contain no text")
	}
	data.DetectedExercises = exercise.Detect(text)

	chapters, err := cached(ctx, s, string(structure.ModeChapters), text, func() (model.ChapterResult, error) {
		return s.structure.ExtractChapters(ctx, text)
	}, nil)
	if err != nil {
		return model.ExtractedData{}, structureError(err)
	}
	data.Chapters = chapters.Chapters

	if err := s.store.SaveExtractedData(ctx, id, data); err != nil {
		return model.ExtractedData{}, notFound(err, id)
	}
	slog.Info("files ingested",
		"paper_id", id,
		"files", len(files),
		"chunks", len(data.TextChunks),
		"chapters", len(data.Chapters),
		"exercises", len(data.DetectedExercises),
	)
	return data, nil
}

// ParseCIF extracts weighted topics from a course-information file and attaches
// them to the paper's configuration.
func (s *Service) ParseCIF(ctx context.Context, id string, file textract.File) (model.StructureResult, error) {
	rec, err := s.GetPaper(ctx, id)
	if err != nil {
		return model.StructureResult{}, err
	}
	text, err := textract.Extract(file.Data, file.MimeType)
	if err != nil {
		return model.StructureResult{}, extractError(err)
	}

	// Pattern results stand in for an unavailable model and are not kept, so a
	// later upload of the same file asks the model again.
	res, err := cached(ctx, s, string(structure.ModeTopics), text, func() (model.StructureResult, error) {
		return s.structure.ExtractTopics(ctx, text)
	}, func(r model.StructureResult) bool { return r.Source == model.SourceModel })
	if err != nil {
		return model.StructureResult{}, structureError(err)
	}

	cfg := rec.Config
	cfg.CIFData = &model.CIFData{SubjectName: res.SubjectName, Topics: res.Topics}
	if err := s.store.UpdateConfig(ctx, id, cfg); err != nil {
		return model.StructureResult{}, notFound(err, id)
	}
	slog.Info("course information parsed", "paper_id", id, "subject", res.SubjectName, "topics", res.TotalTopics)
	return res, nil
}

// UpdateConfig validates cfg and stores it. Section question types are
// normalized; an empty type means Mixed. A nil CIFData keeps the stored one.
func (s *Service) UpdateConfig(ctx context.Context, id string, cfg model.GenerationConfig) (model.GenerationConfig, error) {
	rec, err := s.GetPaper(ctx, id)
	if err != nil {
		return model.GenerationConfig{}, err
	}

	sections := make([]model.Section, len(cfg.Sections))
	for i, sec := range cfg.Sections {
		sec.Name = strings.TrimSpace(sec.Name)
		if sec.QuestionType == "" {
			sec.QuestionType = model.QuestionMixed
		} else if qt, ok := model.ParseQuestionType(string(sec.QuestionType)); ok {
			sec.QuestionType = qt
		}
		sections[i] = sec
	}
	cfg.Sections = sections

	if err := s.validator.Struct(cfg); err != nil {
		return model.GenerationConfig{}, newError(CodeInvalidConfig, err, "configuration is invalid")
	}
	if cfg.CIFData == nil {
		cfg.CIFData = rec.Config.CIFData
	}
	if err := s.store.UpdateConfig(ctx, id, cfg); err != nil {
		return model.GenerationConfig{}, notFound(err, id)
	}
	slog.Info("config updated", "paper_id", id, "sections", len(cfg.Sections), "total_marks", cfg.TotalMarks)
	return cfg, nil
}

// cached runs compute unless a result for (mode, text) is already stored. A
// computed result is stored only if keep is nil or reports true for it.
// Cache failures are logged and never fail the caller.
func cached[T any](ctx context.Context, s *Service, mode, text string, compute func() (T, error), keep func(T) bool) (T, error) {
	fp := fingerprint(text)
	var v T
	hit, err := s.store.GetExtraction(ctx, mode, fp, &v)
	if err != nil {
		slog.Warn("extraction cache read failed", "mode", mode, "error", err)
	}
	if hit {
		slog.Debug("extraction cache hit", "mode", mode, "fingerprint", fp[:12])
		return v, nil
	}

	v, err = compute()
	if err != nil {
		return v, err
	}
	if keep != nil && !keep(v) {
		slog.Debug("extraction result not cached", "mode", mode)
		return v, nil
	}
	if err := s.store.PutExtraction(ctx, mode, fp, v); err != nil {
		slog.Warn("extraction cache write failed", "mode", mode, "error", err)
	}
	return v, nil
}

func fingerprint(text string) string {
	sum := blake2b.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

func extractError(err error) error {
	if errors.Is(err, textract.ErrUnsupportedType) {
		return newError(CodeUnsupportedType, err, "file type is not supported")
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return newError(CodeUnreadableFile, err, "file could not be read")
}

func structureError(err error) error {
	if errors.Is(err, structure.ErrEmptyText) {
		return newError(CodeInsufficientText, err, "document contains no text")
	}
	return fmt.Errorf("structure document: %w", err)
}
