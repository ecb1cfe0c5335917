// Package render builds the HTML views of a generated paper. Both views are pure
// functions of the structured paper; labels are localized from the context.
//
// The components live in .templ files; the _templ.go files are generated from them.
package render

//go:generate templ generate

import (
	"bytes"
	"context"
	"fmt"

	"github.com/a-h/templ"

	"github.com/pavelanni/papergen/internal/i18n"
	"github.com/pavelanni/papergen/internal/model"
)

// Renderer renders papers to HTML strings.
type Renderer struct{}

// PaperHTML renders the question-paper view.
func (Renderer) PaperHTML(ctx context.Context, p model.GeneratedPaper) (string, error) {
	return PaperHTML(ctx, p)
}

// AnswerKeyHTML renders the answer-key view.
func (Renderer) AnswerKeyHTML(ctx context.Context, p model.GeneratedPaper) (string, error) {
	return AnswerKeyHTML(ctx, p)
}

// PaperHTML renders the question-paper view.
func PaperHTML(ctx context.Context, p model.GeneratedPaper) (string, error) {
	return toString(ctx, Paper(p))
}

// AnswerKeyHTML renders the answer-key view.
func AnswerKeyHTML(ctx context.Context, p model.GeneratedPaper) (string, error) {
	return toString(ctx, AnswerKey(p))
}

func toString(ctx context.Context, c templ.Component) (string, error) {
	var buf bytes.Buffer
	if err := c.Render(ctx, &buf); err != nil {
		return "", fmt.Errorf("render: %w", err)
	}
	return buf.String(), nil
}

func orDefault(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}

func answerKeyTitle(ctx context.Context, title string) string {
	label := i18n.T(ctx, "AnswerKeyTitle")
	if title == "" {
		return label
	}
	return label + ": " + title
}
