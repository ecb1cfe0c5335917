package render

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/pavelanni/papergen/internal/i18n"
	"github.com/pavelanni/papergen/internal/model"
)

func samplePaper(withAnswers bool) model.GeneratedPaper {
	answer := func(s string) *string {
		if !withAnswers {
			return nil
		}
		return &s
	}
	return model.GeneratedPaper{
		VersionNumber: 2,
		Title:         "Mid-term <Physics>",
		SubjectName:   "Physics",
		Instructions:  "Answer all questions.",
		TotalMarks:    12,
		Duration:      "1 hour",
		Sections: []model.PaperSection{
			{Name: "A", Questions: []model.Question{
				{ID: 1, Text: "State Newton's first law.", Marks: 2, Difficulty: model.DifficultyEasy, BloomLevel: "Remember", Answer: answer("An object stays at rest & in motion...")},
				{ID: 2, Text: "Define momentum.", Marks: 1, Difficulty: model.DifficultyEasy, BloomLevel: "Remember"},
			}},
			{Name: "B", Questions: []model.Question{
				{ID: 3, Text: "Derive v = u + at.", Marks: 9, Difficulty: model.DifficultyHard, BloomLevel: "Apply", Chapter: "Kinematics", Answer: answer("Integrate a = dv/dt.")},
			}},
		},
	}
}

func TestPaperHTML(t *testing.T) {
	html, err := PaperHTML(context.Background(), samplePaper(false))
	if err != nil {
		t.Fatalf("PaperHTML: %v", err)
	}

	for _, want := range []string{
		"Mid-term &lt;Physics&gt;",
		"Subject: Physics",
		"Maximum marks: 12",
		"Version 2",
		"A (3 marks)",
		"B (9 marks)",
		`<li value="3">`,
		"State Newton&#39;s first law.",
		"[1 mark]",
		"[9 marks]",
	} {
		if !strings.Contains(html, want) {
			t.Errorf("paper HTML missing %q", want)
		}
	}
	if strings.Contains(html, "Integrate") || strings.Contains(html, `class="answer"`) {
		t.Error("paper HTML must not contain answers")
	}
}

func TestAnswerKeyHTML(t *testing.T) {
	html, err := AnswerKeyHTML(context.Background(), samplePaper(true))
	if err != nil {
		t.Fatalf("AnswerKeyHTML: %v", err)
	}

	for _, want := range []string{
		"Answer Key",
		"at rest &amp; in motion",
		"Integrate a = dv/dt.",
		"No model answer provided.",
		"Chapter: Kinematics",
		"Difficulty: Hard",
	} {
		if !strings.Contains(html, want) {
			t.Errorf("answer key HTML missing %q", want)
		}
	}
}

func TestRenderLocalized(t *testing.T) {
	ctx := i18n.WithLang(context.Background(), "ru")
	html, err := Renderer{}.AnswerKeyHTML(ctx, samplePaper(true))
	if err != nil {
		t.Fatalf("AnswerKeyHTML: %v", err)
	}
	if !strings.Contains(html, "Ключ ответов") {
		t.Error("expected Russian answer key title")
	}
}

func TestRenderIsDeterministic(t *testing.T) {
	p := samplePaper(true)
	a, _ := PaperHTML(context.Background(), p)
	b, _ := PaperHTML(context.Background(), p)
	if a != b {
		t.Error("rendering the same paper twice gave different output")
	}
}

type failWriter struct{}

func (failWriter) Write([]byte) (int, error) { return 0, errors.New("disk full") }

func TestPaperWriteError(t *testing.T) {
	if err := Paper(samplePaper(false)).Render(context.Background(), failWriter{}); err == nil {
		t.Error("expected write error")
	}
}

func TestRenderCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := PaperHTML(ctx, samplePaper(false)); !errors.Is(err, context.Canceled) {
		t.Errorf("PaperHTML error = %v, want context.Canceled", err)
	}
	if _, err := AnswerKeyHTML(ctx, samplePaper(true)); !errors.Is(err, context.Canceled) {
		t.Errorf("AnswerKeyHTML error = %v, want context.Canceled", err)
	}
}

func TestUntitledPaper(t *testing.T) {
	p := samplePaper(true)
	p.Title = ""
	p.VersionNumber = 0

	html, err := PaperHTML(context.Background(), p)
	if err != nil {
		t.Fatalf("PaperHTML: %v", err)
	}
	if !strings.Contains(html, "<title>Examination Paper</title>") || !strings.Contains(html, "<h1>Examination Paper</h1>") {
		t.Errorf("untitled paper lacks the default heading:\n%s", html)
	}
	if strings.Contains(html, `class="version"`) {
		t.Error("unversioned paper shows a version line")
	}

	key, err := AnswerKeyHTML(context.Background(), p)
	if err != nil {
		t.Fatalf("AnswerKeyHTML: %v", err)
	}
	if !strings.Contains(key, "<title>Answer Key</title>") {
		t.Errorf("untitled answer key title wrong:\n%s", key)
	}
}
