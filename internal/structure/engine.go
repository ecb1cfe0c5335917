// Package structure derives chapters and weighted topics from plain document text.
//
// Topic extraction asks the model first and falls back to a fixed, ordered set of
// line-matching strategies. Chapter extraction is pattern based. Both always return a
// non-empty result for non-empty text.
package structure

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/pavelanni/papergen/internal/model"
)

// ErrEmptyText is returned when there is no text to structure.
var ErrEmptyText = errors.New("structure: source text is empty")

// Generator produces a raw model response for a prompt.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// Mode selects what Extract derives.
type Mode string

const (
	ModeChapters Mode = "chapters"
	ModeTopics   Mode = "topics"
)

const (
	maxTopics   = 20
	maxChapters = 50
	// defaultPromptRunes bounds the document excerpt sent to the model.
	defaultPromptRunes = 12000
)

// Engine is the structural extraction engine.
type Engine struct {
	gen         Generator
	promptRunes int
}

// Option customizes an Engine.
type Option func(*Engine)

// WithPromptRunes bounds how much of the text is sent to the model.
func WithPromptRunes(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.promptRunes = n
		}
	}
}

// New creates an Engine backed by gen.
func New(gen Generator, opts ...Option) (*Engine, error) {
	if gen == nil {
		return nil, errors.New("structure: generator is required")
	}
	e := &Engine{gen: gen, promptRunes: defaultPromptRunes}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Result holds the output of Extract; exactly one field is set.
type Result struct {
	Chapters []string               `json:"chapters,omitempty"`
	Topics   *model.StructureResult `json:"topics,omitempty"`
}

// Extract structures text according to mode.
func (e *Engine) Extract(ctx context.Context, text string, mode Mode) (Result, error) {
	switch mode {
	case ModeChapters:
		res, err := e.ExtractChapters(ctx, text)
		if err != nil {
			return Result{}, err
		}
		return Result{Chapters: res.Chapters}, nil
	case ModeTopics:
		res, err := e.ExtractTopics(ctx, text)
		if err != nil {
			return Result{}, err
		}
		return Result{Topics: &res}, nil
	default:
		return Result{}, fmt.Errorf("structure: unknown mode %q", mode)
	}
}

// splitLines returns the trimmed, whitespace-collapsed, non-empty lines of text.
func splitLines(text string) []string {
	raw := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")
	lines := make([]string, 0, len(raw))
	for _, l := range raw {
		l = strings.Join(strings.Fields(l), " ")
		if l != "" {
			lines = append(lines, l)
		}
	}
	return lines
}
