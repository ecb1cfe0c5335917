// Package compose turns extracted text and a generation config into a paper.
//
// The model is asked once for the whole paper. Its response is parsed strictly,
// then loosely, and repaired against the config; when that fails the paper is
// synthesized deterministically, so Compose always yields a valid paper unless
// the caller's context ends first.
package compose

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/pavelanni/papergen/internal/llm/prompts"
	"github.com/pavelanni/papergen/internal/model"
	"github.com/pavelanni/papergen/internal/render"
)

// DefaultMaxExcerptRunes bounds the reference excerpt embedded in the prompt.
const DefaultMaxExcerptRunes = 15000

// maxPriorQuestions bounds how many questions of each earlier version are listed.
const maxPriorQuestions = 50

// Generator produces a raw model response for a prompt.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
	Model() string
}

// Renderer produces the presentation views of a paper.
type Renderer interface {
	PaperHTML(ctx context.Context, p model.GeneratedPaper) (string, error)
	AnswerKeyHTML(ctx context.Context, p model.GeneratedPaper) (string, error)
}

// Request is everything a paper is composed from.
type Request struct {
	// Title, when set, replaces the title the model or fallback chose.
	Title         string
	ExtractedText string
	Config        model.GenerationConfig
	PriorVersions []model.GeneratedPaper
	Reason        model.ChangeReason
}

// Engine is the paper composition engine.
type Engine struct {
	gen        Generator
	renderer   Renderer
	maxExcerpt int
	now        func() time.Time
}

// Option customizes an Engine.
type Option func(*Engine)

// WithMaxExcerptRunes bounds the reference excerpt sent to the model.
func WithMaxExcerptRunes(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxExcerpt = n
		}
	}
}

// WithRenderer replaces the HTML renderer.
func WithRenderer(r Renderer) Option {
	return func(e *Engine) {
		if r != nil {
			e.renderer = r
		}
	}
}

// WithClock sets the time source for CreatedAt.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// New creates an Engine backed by gen.
func New(gen Generator, opts ...Option) (*Engine, error) {
	if gen == nil {
		return nil, errors.New("compose: generator is required")
	}
	e := &Engine{
		gen:        gen,
		renderer:   render.Renderer{},
		maxExcerpt: DefaultMaxExcerptRunes,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Compose generates a new paper version. The version number is one past the
// number of prior versions.
func (e *Engine) Compose(ctx context.Context, req Request) (model.CompositionOutput, error) {
	sections := effectiveSections(req.Config)

	paper, err := e.fromModel(ctx, req, sections)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return model.CompositionOutput{}, fmt.Errorf("compose paper: %w", ctxErr)
		}
		slog.Warn("model paper unusable, synthesizing fallback", "error", err)
		paper = synthesizeFallback(req.Config, sections)
	}
	if title := strings.TrimSpace(req.Title); title != "" {
		paper.Title = title
	}

	paper.VersionNumber = len(req.PriorVersions) + 1
	paper.ChangeReason = req.Reason
	if paper.ChangeReason == "" {
		paper.ChangeReason = model.ReasonGeneration
		if len(req.PriorVersions) > 0 {
			paper.ChangeReason = model.ReasonRegeneration
		}
	}
	paper.CreatedAt = e.now().UTC()

	out := model.CompositionOutput{JSON: paper}
	out.HTML, err = e.renderer.PaperHTML(ctx, paper)
	if err != nil {
		return model.CompositionOutput{}, fmt.Errorf("render paper: %w", err)
	}
	if req.Config.GenerateAnswerKey {
		key, err := e.renderer.AnswerKeyHTML(ctx, paper)
		if err != nil {
			return model.CompositionOutput{}, fmt.Errorf("render answer key: %w", err)
		}
		out.AnswerKeyHTML = &key
	}

	slog.Info("paper composed",
		"version", paper.VersionNumber,
		"model", paper.ModelIdentifier,
		"sections", len(paper.Sections),
		"questions", paper.QuestionCount(),
	)
	return out, nil
}

func (e *Engine) fromModel(ctx context.Context, req Request, sections []model.Section) (model.GeneratedPaper, error) {
	prompt, err := prompts.BuildPaperPrompt(e.promptData(req, sections))
	if err != nil {
		return model.GeneratedPaper{}, err
	}
	raw, err := e.gen.Generate(ctx, prompt)
	if err != nil {
		return model.GeneratedPaper{}, fmt.Errorf("generate paper: %w", err)
	}
	parsed, err := parseResponse(raw)
	if err != nil {
		return model.GeneratedPaper{}, err
	}
	paper := repair(parsed, req.Config, sections)
	paper.ModelIdentifier = e.gen.Model()
	return paper, nil
}

func (e *Engine) promptData(req Request, sections []model.Section) prompts.PaperData {
	cfg := req.Config
	data := prompts.PaperData{
		Excerpt:            prompts.Excerpt(req.ExtractedText, e.maxExcerpt),
		TotalMarks:         totalMarks(cfg, sections),
		Duration:           cfg.Duration,
		Difficulty:         cfg.Difficulty,
		Mandatory:          cfg.MandatoryExercises,
		AnswerKey:          cfg.GenerateAnswerKey,
		ImportantTopics:    cfg.ImportantTopics,
		ImportantQuestions: cfg.ImportantQuestions,
		ReferenceQuestions: cfg.ReferenceQuestions,
	}
	if cfg.CIFData != nil {
		data.Subject = cfg.CIFData.SubjectName
		data.CIFTopics = cfg.CIFData.Topics
	}

	for _, s := range sections {
		data.Sections = append(data.Sections, prompts.SectionLine{
			Name:        s.Name,
			Marks:       s.Marks,
			Count:       s.QuestionCount,
			PerQuestion: perQuestion(s),
			Type:        s.QuestionType,
			Mixed:       isMixed(s),
		})
	}

	for level, pct := range cfg.BloomsTaxonomy {
		if pct > 0 {
			data.Bloom = append(data.Bloom, prompts.BloomTarget{Level: level, Percent: pct})
		}
	}
	sort.Slice(data.Bloom, func(i, j int) bool {
		if data.Bloom[i].Percent != data.Bloom[j].Percent {
			return data.Bloom[i].Percent > data.Bloom[j].Percent
		}
		return data.Bloom[i].Level < data.Bloom[j].Level
	})

	for _, v := range req.PriorVersions {
		pv := prompts.PriorVersion{Number: v.VersionNumber}
		for _, s := range v.Sections {
			for _, q := range s.Questions {
				if len(pv.Questions) < maxPriorQuestions {
					pv.Questions = append(pv.Questions, q.Text)
				}
			}
		}
		if len(pv.Questions) > 0 {
			data.PriorVersions = append(data.PriorVersions, pv)
		}
	}
	return data
}

// effectiveSections returns the configured sections, or two 50-mark sections
// when none are configured.
func effectiveSections(cfg model.GenerationConfig) []model.Section {
	var out []model.Section
	for _, s := range cfg.Sections {
		if s.QuestionCount > 0 {
			out = append(out, s)
		}
	}
	if len(out) > 0 {
		return out
	}
	return []model.Section{
		{Name: "Section A", Marks: 50, QuestionCount: 5, QuestionType: model.QuestionShortAnswer},
		{Name: "Section B", Marks: 50, QuestionCount: 5, QuestionType: model.QuestionLongAnswer},
	}
}

func totalMarks(cfg model.GenerationConfig, sections []model.Section) int {
	if cfg.TotalMarks > 0 {
		return cfg.TotalMarks
	}
	total := 0
	for _, s := range sections {
		total += s.Marks
	}
	return total
}

func perQuestion(s model.Section) int {
	if s.QuestionCount <= 0 {
		return 0
	}
	return s.Marks / s.QuestionCount
}

func isMixed(s model.Section) bool {
	return s.QuestionType == "" || s.QuestionType == model.QuestionMixed
}
