package compose

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/pavelanni/papergen/internal/model"
)

type fakeGen struct {
	resp    string
	err     error
	prompts []string
}

func (f *fakeGen) Generate(_ context.Context, prompt string) (string, error) {
	f.prompts = append(f.prompts, prompt)
	return f.resp, f.err
}

func (f *fakeGen) Model() string { return "test-model" }

var fixedNow = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func newEngine(t *testing.T, gen Generator) *Engine {
	t.Helper()
	e, err := New(gen, WithClock(func() time.Time { return fixedNow }))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return e
}

func assertShape(t *testing.T, p model.GeneratedPaper, sections []model.Section) {
	t.Helper()
	if len(p.Sections) != len(sections) {
		t.Fatalf("got %d sections, want %d", len(p.Sections), len(sections))
	}
	id := 0
	for i, s := range sections {
		got := p.Sections[i]
		if got.Name != s.Name {
			t.Errorf("section %d name = %q, want %q", i, got.Name, s.Name)
		}
		if len(got.Questions) != s.QuestionCount {
			t.Errorf("section %q has %d questions, want %d", s.Name, len(got.Questions), s.QuestionCount)
		}
		for _, q := range got.Questions {
			id++
			if q.ID != id {
				t.Errorf("question id = %d, want %d", q.ID, id)
			}
			if q.Text == "" {
				t.Errorf("question %d has no text", q.ID)
			}
			if _, ok := model.ParseDifficulty(string(q.Difficulty)); !ok {
				t.Errorf("question %d has difficulty %q", q.ID, q.Difficulty)
			}
		}
	}
}

func TestNewRequiresGenerator(t *testing.T) {
	if _, err := New(nil); err == nil {
		t.Fatal("expected error for nil generator")
	}
}

func TestComposeInvalidJSONFallsBack(t *testing.T) {
	cfg := model.GenerationConfig{
		TotalMarks: 50,
		Sections:   []model.Section{{Name: "A", Marks: 50, QuestionCount: 5}},
	}
	out, err := newEngine(t, &fakeGen{resp: "this is not JSON"}).Compose(context.Background(), Request{
		ExtractedText: "Newton's laws of motion.",
		Config:        cfg,
	})
	if err != nil {
		t.Fatalf("Compose: %v", err)
	}

	p := out.JSON
	assertShape(t, p, cfg.Sections)
	if p.ModelIdentifier != "fallback" {
		t.Errorf("ModelIdentifier = %q, want fallback", p.ModelIdentifier)
	}
	wantDiff := []model.Difficulty{model.DifficultyEasy, model.DifficultyMedium, model.DifficultyHard, model.DifficultyEasy, model.DifficultyMedium}
	for i, q := range p.Sections[0].Questions {
		if q.Marks != 10 {
			t.Errorf("question %d marks = %d, want 10", q.ID, q.Marks)
		}
		if q.Difficulty != wantDiff[i] {
			t.Errorf("question %d difficulty = %q, want %q", q.ID, q.Difficulty, wantDiff[i])
		}
		if q.BloomLevel != "Understand" {
			t.Errorf("question %d bloom = %q, want Understand", q.ID, q.BloomLevel)
		}
		if q.Answer != nil {
			t.Errorf("question %d has an answer without an answer key", q.ID)
		}
	}
	if got := p.Sections[0].Questions[0].Text; got != "Question 1 for A — based on reference material" {
		t.Errorf("placeholder text = %q", got)
	}
	if p.VersionNumber != 1 || p.ChangeReason != model.ReasonGeneration {
		t.Errorf("version = %d/%q, want 1/generation", p.VersionNumber, p.ChangeReason)
	}
	if !p.CreatedAt.Equal(fixedNow) {
		t.Errorf("CreatedAt = %v, want %v", p.CreatedAt, fixedNow)
	}
	if out.HTML == "" {
		t.Error("expected paper HTML")
	}
	if out.AnswerKeyHTML != nil {
		t.Error("answer key HTML rendered without being requested")
	}
}

func TestComposeGeneratorErrorFallsBack(t *testing.T) {
	cfg := model.GenerationConfig{
		TotalMarks:        40,
		GenerateAnswerKey: true,
		Sections: []model.Section{
			{Name: "Objective", Marks: 10, QuestionCount: 10, QuestionType: model.QuestionMultipleChoice},
			{Name: "Descriptive", Marks: 30, QuestionCount: 4, QuestionType: model.QuestionLongAnswer},
		},
	}
	out, err := newEngine(t, &fakeGen{err: errors.New("connection refused")}).Compose(context.Background(), Request{Config: cfg})
	if err != nil {
		t.Fatalf("Compose: %v", err)
	}

	assertShape(t, out.JSON, cfg.Sections)
	for _, q := range out.JSON.Sections[1].Questions {
		if q.Marks != 7 {
			t.Errorf("question %d marks = %d, want floor(30/4)=7", q.ID, q.Marks)
		}
		if q.Type != model.QuestionLongAnswer {
			t.Errorf("question %d type = %q, want Long Answer", q.ID, q.Type)
		}
		if q.Answer == nil {
			t.Errorf("question %d has no answer with answer key requested", q.ID)
		}
	}
	if out.AnswerKeyHTML == nil || *out.AnswerKeyHTML == "" {
		t.Error("expected answer key HTML")
	}
}

func TestComposeDefaultSections(t *testing.T) {
	out, err := newEngine(t, &fakeGen{err: errors.New("offline")}).Compose(context.Background(), Request{})
	if err != nil {
		t.Fatalf("Compose: %v", err)
	}
	p := out.JSON
	if len(p.Sections) != 2 {
		t.Fatalf("got %d sections, want 2 default sections", len(p.Sections))
	}
	for _, s := range p.Sections {
		if s.Marks() != 50 {
			t.Errorf("section %q marks = %d, want 50", s.Name, s.Marks())
		}
	}
	if p.TotalMarks != 100 {
		t.Errorf("TotalMarks = %d, want 100", p.TotalMarks)
	}
}

const validResponse = "```json\n" + `{
  "title": "Physics Mid-term",
  "subjectName": "Physics",
  "instructions": "Answer everything.",
  "totalMarks": 20,
  "duration": 90,
  "sections": [
    {"name": "Part B", "questions": [
      {"id": 9, "text": "Derive the equations of motion.", "marks": "10", "type": "Essay", "difficulty": "hard", "bloomLevel": "application", "answer": "Integrate."}
    ]},
    {"name": "part a", "instructions": "One mark each.", "questions": [
      {"id": 1, "text": "Define velocity.", "marks": 1, "type": "Short Answer", "difficulty": "Easy", "bloomLevel": "Remember", "answer": "Rate of change of displacement."},
      {"id": 2, "text": "Define acceleration.", "marks": 1, "type": "Multiple Choice", "difficulty": "Medium"},
      {"id": 3, "question": "State Newton's first law.", "marks": 1, "difficulty": "???"},
      {"id": 4, "text": "", "marks": 1}
    ]}
  ]
}` + "\n```"

func TestComposeRepairsModelResponse(t *testing.T) {
	cfg := model.GenerationConfig{
		TotalMarks: 20,
		Sections: []model.Section{
			{Name: "Part A", Marks: 2, QuestionCount: 2, QuestionType: model.QuestionShortAnswer},
			{Name: "Part B", Marks: 18, QuestionCount: 3, QuestionType: model.QuestionMixed},
		},
	}
	gen := &fakeGen{resp: validResponse}
	out, err := newEngine(t, gen).Compose(context.Background(), Request{ExtractedText: "kinematics", Config: cfg})
	if err != nil {
		t.Fatalf("Compose: %v", err)
	}

	p := out.JSON
	assertShape(t, p, cfg.Sections)
	if p.ModelIdentifier != "test-model" {
		t.Errorf("ModelIdentifier = %q, want test-model", p.ModelIdentifier)
	}
	if p.Duration != "90" {
		t.Errorf("Duration = %q, want 90 from the response", p.Duration)
	}

	a := p.Sections[0]
	if a.Instructions != "One mark each." {
		t.Errorf("section A matched the wrong response section: %+v", a)
	}
	if a.Questions[0].Text != "Define velocity." || a.Questions[1].Text != "Define acceleration." {
		t.Errorf("section A questions = %q, %q", a.Questions[0].Text, a.Questions[1].Text)
	}
	for _, q := range a.Questions {
		if q.Type != model.QuestionShortAnswer {
			t.Errorf("question %d type = %q, want homogeneous Short Answer", q.ID, q.Type)
		}
		if q.Marks != 1 {
			t.Errorf("question %d marks = %d, want 1", q.ID, q.Marks)
		}
		if q.Answer != nil {
			t.Errorf("question %d kept an answer without an answer key", q.ID)
		}
	}

	b := p.Sections[1]
	if b.Questions[0].Type != model.QuestionLongAnswer {
		t.Errorf("mixed section kept type %q, want Long Answer", b.Questions[0].Type)
	}
	if b.Questions[0].BloomLevel != "Apply" || b.Questions[0].Difficulty != model.DifficultyHard {
		t.Errorf("question normalized to %q/%q", b.Questions[0].BloomLevel, b.Questions[0].Difficulty)
	}
	if !strings.HasPrefix(b.Questions[1].Text, "Question 2 for Part B") {
		t.Errorf("padded question text = %q", b.Questions[1].Text)
	}
	if b.Marks() != 18 {
		t.Errorf("section B marks = %d, want 18", b.Marks())
	}

	if len(gen.prompts) != 1 {
		t.Fatalf("generator called %d times, want 1", len(gen.prompts))
	}
	prompt := gen.prompts[0]
	for _, want := range []string{`"Part A": exactly 2 question(s)`, `must be of type "Short Answer"`, "may be mixed", "kinematics"} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q", want)
		}
	}
}

const titledResponse = `{"title":"Kinematics Quiz","sections":[{"name":"Part A","questions":[{"text":"Define velocity."},{"text":"Define acceleration."}]}]}`

func TestComposeRequestTitle(t *testing.T) {
	cfg := model.GenerationConfig{
		TotalMarks: 10,
		Sections:   []model.Section{{Name: "Part A", Marks: 10, QuestionCount: 2, QuestionType: model.QuestionShortAnswer}},
	}
	tests := []struct {
		name  string
		gen   *fakeGen
		title string
		want  string
	}{
		{"model title kept", &fakeGen{resp: titledResponse}, "", "Kinematics Quiz"},
		{"request title wins", &fakeGen{resp: titledResponse}, "  Mid-term 2026 ", "Mid-term 2026"},
		{"request title on fallback", &fakeGen{err: errors.New("model down")}, "Mid-term 2026", "Mid-term 2026"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := newEngine(t, tt.gen).Compose(context.Background(), Request{Title: tt.title, Config: cfg})
			if err != nil {
				t.Fatalf("Compose: %v", err)
			}
			if out.JSON.Title != tt.want {
				t.Errorf("Title = %q, want %q", out.JSON.Title, tt.want)
			}
			if !strings.Contains(out.HTML, tt.want) {
				t.Errorf("HTML does not show title %q", tt.want)
			}
		})
	}
}

func TestComposeLooseParse(t *testing.T) {
	resp := `Here is your paper: {"sections":[{"name":"A","questions":[{"text":"Explain entropy.","marks":5}]}]} Hope it helps! {"note": 1}`
	cfg := model.GenerationConfig{Sections: []model.Section{{Name: "A", Marks: 5, QuestionCount: 1}}}
	out, err := newEngine(t, &fakeGen{resp: resp}).Compose(context.Background(), Request{Config: cfg})
	if err != nil {
		t.Fatalf("Compose: %v", err)
	}
	if out.JSON.ModelIdentifier != "test-model" {
		t.Fatalf("expected the loose parse to succeed, got %q", out.JSON.ModelIdentifier)
	}
	if got := out.JSON.Sections[0].Questions[0].Text; got != "Explain entropy." {
		t.Errorf("question text = %q", got)
	}
}

func TestComposeRegeneration(t *testing.T) {
	v1 := model.GeneratedPaper{
		VersionNumber: 1,
		ChangeReason:  model.ReasonGeneration,
		Sections: []model.PaperSection{{Name: "A", Questions: []model.Question{
			{ID: 1, Text: "What is inertia?", Marks: 5},
		}}},
	}
	prior := []model.GeneratedPaper{v1}
	gen := &fakeGen{resp: `{"sections":[{"name":"A","questions":[{"text":"What is momentum?","marks":5}]}]}`}
	cfg := model.GenerationConfig{Sections: []model.Section{{Name: "A", Marks: 5, QuestionCount: 1}}}

	out, err := newEngine(t, gen).Compose(context.Background(), Request{
		Config:        cfg,
		PriorVersions: prior,
		Reason:        model.ReasonRegeneration,
	})
	if err != nil {
		t.Fatalf("Compose: %v", err)
	}
	if out.JSON.VersionNumber != 2 || out.JSON.ChangeReason != model.ReasonRegeneration {
		t.Errorf("version = %d/%q, want 2/regeneration", out.JSON.VersionNumber, out.JSON.ChangeReason)
	}
	if prior[0].Sections[0].Questions[0].Text != "What is inertia?" || prior[0].VersionNumber != 1 {
		t.Errorf("prior version was modified: %+v", prior[0])
	}
	if !strings.Contains(gen.prompts[0], "DO NOT REPEAT") || !strings.Contains(gen.prompts[0], "What is inertia?") {
		t.Error("prompt does not list prior questions")
	}
}

func TestComposeCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	cfg := model.GenerationConfig{Sections: []model.Section{{Name: "A", Marks: 5, QuestionCount: 1}}}
	_, err := newEngine(t, &fakeGen{err: context.Canceled}).Compose(ctx, Request{Config: cfg})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestParseResponse(t *testing.T) {
	tests := []struct {
		name    string
		text    string
		wantErr bool
	}{
		{"plain", `{"sections":[{"name":"A","questions":[{"text":"Q"}]}]}`, false},
		{"fenced", "```\n{\"sections\":[{\"questions\":[{\"text\":\"Q\"}]}]}\n```", false},
		{"surrounded", `noise {"sections":[{"questions":[{"text":"Q"}]}]} noise`, false},
		{"no questions", `{"sections":[{"name":"A","questions":[]}]}`, true},
		{"blank questions", `{"sections":[{"questions":[{"text":"  "}]}]}`, true},
		{"garbage", "not json", true},
		{"truncated", `{"sections":[{"questions":[{"text":"Q"`, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseResponse(tt.text)
			if (err != nil) != tt.wantErr {
				t.Errorf("parseResponse() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestAlignSections(t *testing.T) {
	got := []rawSection{{Name: "Second"}, {Name: "Unknown"}, {Name: "First"}}
	want := []model.Section{{Name: "first"}, {Name: "Other"}, {Name: "SECOND"}}

	aligned := alignSections(got, want)
	names := []string{aligned[0].Name, aligned[1].Name, aligned[2].Name}
	if names[0] != "First" || names[1] != "Unknown" || names[2] != "Second" {
		t.Errorf("aligned = %q", names)
	}
}

func TestAlignSectionsLeftovers(t *testing.T) {
	tests := []struct {
		name  string
		got   []rawSection
		want  []model.Section
		names []string
	}{
		{
			name:  "matched name frees a later slot",
			got:   []rawSection{{Name: "Part 1"}, {Name: "Section A"}, {Name: "Part 3"}},
			want:  []model.Section{{Name: "Section A"}, {Name: "Section B"}, {Name: "Section C"}},
			names: []string{"Section A", "Part 1", "Part 3"},
		},
		{
			name:  "fewer configured than returned",
			got:   []rawSection{{Name: "Intro"}, {Name: "Beta"}, {Name: "Gamma"}},
			want:  []model.Section{{Name: "Beta"}, {Name: "Delta"}},
			names: []string{"Beta", "Intro"},
		},
		{
			name:  "more configured than returned",
			got:   []rawSection{{Name: "Only"}},
			want:  []model.Section{{Name: "A"}, {Name: "B"}},
			names: []string{"Only", ""},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			aligned := alignSections(tt.got, tt.want)
			var names []string
			for _, s := range aligned {
				names = append(names, s.Name)
			}
			if !reflect.DeepEqual(names, tt.names) {
				t.Errorf("aligned = %q, want %q", names, tt.names)
			}
		})
	}
}
