package prompts

import (
	"bytes"
	"embed"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"text/template"
	"unicode/utf8"

	"github.com/pavelanni/papergen/internal/model"
)

//go:embed templates/*.tmpl
var templateFS embed.FS

var sourceTagRegex = regexp.MustCompile(`(?i)</?\s*source-text\b[^>]*>`)

var (
	loadOnce sync.Once
	loadErr  error
	tmpl     *template.Template
)

// SectionLine is one section requirement in the paper prompt.
type SectionLine struct {
	Name        string
	Marks       int
	Count       int
	PerQuestion int
	Type        model.QuestionType
	Mixed       bool
}

// BloomTarget is a Bloom level with its target share.
type BloomTarget struct {
	Level   string
	Percent int
}

// PriorVersion summarizes the questions of an earlier version.
type PriorVersion struct {
	Number    int
	Questions []string
}

// PaperData holds template data for the paper generation prompt.
type PaperData struct {
	Subject            string
	Excerpt            string
	TotalMarks         int
	Duration           string
	Sections           []SectionLine
	Difficulty         model.DifficultyMix
	Bloom              []BloomTarget
	Mandatory          []string
	AnswerKey          bool
	CIFTopics          []model.ExtractedTopic
	ImportantTopics    string
	ImportantQuestions []model.ImportantQuestion
	ReferenceQuestions []string
	PriorVersions      []PriorVersion
}

func load() error {
	loadOnce.Do(func() {
		funcs := template.FuncMap{"inc": func(i int) int { return i + 1 }}
		tmpl, loadErr = template.New("prompts").Funcs(funcs).ParseFS(templateFS, "templates/*.tmpl")
		if loadErr != nil {
			loadErr = fmt.Errorf("parse prompt templates: %w", loadErr)
		}
	})
	return loadErr
}

// BuildTopicsPrompt builds the course-information extraction prompt.
func BuildTopicsPrompt(text string, maxRunes int) (string, error) {
	return execute("topics.tmpl", struct{ Text string }{Text: Excerpt(text, maxRunes)})
}

// BuildPaperPrompt builds the paper generation prompt.
func BuildPaperPrompt(data PaperData) (string, error) {
	return execute("paper.tmpl", data)
}

func execute(name string, data any) (string, error) {
	if err := load(); err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := tmpl.ExecuteTemplate(&buf, name, data); err != nil {
		return "", fmt.Errorf("execute %s: %w", name, err)
	}
	return buf.String(), nil
}

// Excerpt sanitizes source text and bounds it to maxRunes runes.
// Over-long input is truncated rather than rejected.
func Excerpt(text string, maxRunes int) string {
	text = sourceTagRegex.ReplaceAllString(text, "")
	text = strings.TrimSpace(text)

	if text == "" {
		return "[No reference material provided]"
	}

	if maxRunes > 0 && utf8.RuneCountInString(text) > maxRunes {
		runes := []rune(text)
		runes = runes[:maxRunes]
		text = string(runes) + "\n\n[Reference material truncated due to length]"
	}

	return text
}
