package structure

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/pavelanni/papergen/internal/llm"
	"github.com/pavelanni/papergen/internal/llm/prompts"
	"github.com/pavelanni/papergen/internal/model"
)

const (
	fallbackLines     = 10
	minFallbackRunes  = 10
	defaultTopicLabel = "General Syllabus"
)

var subjectLineRe = regexp.MustCompile(`(?im)^\s*(?:subject|course|paper)(?:\s+(?:name|title))?\s*[:\-–]\s*(.+?)\s*$`)

// ExtractTopics derives the subject name and weighted topics from a
// course-information document.
func (e *Engine) ExtractTopics(ctx context.Context, text string) (model.StructureResult, error) {
	if strings.TrimSpace(text) == "" {
		return model.StructureResult{}, ErrEmptyText
	}

	res, err := e.topicsFromModel(ctx, text)
	if err == nil && len(res.Topics) > 0 {
		if res.SubjectName == "" {
			res.SubjectName = subjectFromText(text)
		}
		slog.Debug("topics extracted by model", "topics", len(res.Topics))
		return res, nil
	}
	if err != nil {
		slog.Warn("model topic extraction failed, using pattern fallback", "error", err)
	}

	res = topicsFromText(text)
	slog.Debug("topics extracted by patterns", "topics", len(res.Topics))
	return res, nil
}

type modelTopic struct {
	Name      string  `json:"name"`
	Title     string  `json:"title"`
	Weightage percent `json:"weightage"`
}

type modelTopics struct {
	SubjectName string       `json:"subjectName"`
	Topics      []modelTopic `json:"topics"`
}

func (e *Engine) topicsFromModel(ctx context.Context, text string) (model.StructureResult, error) {
	prompt, err := prompts.BuildTopicsPrompt(text, e.promptRunes)
	if err != nil {
		return model.StructureResult{}, err
	}
	raw, err := e.gen.Generate(ctx, prompt)
	if err != nil {
		return model.StructureResult{}, fmt.Errorf("generate topics: %w", err)
	}
	parsed, err := parseModelTopics(raw)
	if err != nil {
		return model.StructureResult{}, err
	}

	var cands []candidate
	for _, t := range parsed.Topics {
		name := t.Name
		if name == "" {
			name = t.Title
		}
		name = cleanName(name)
		if !validName(name) {
			continue
		}
		cands = append(cands, candidate{name: name, weight: int(t.Weightage), hasWeight: t.Weightage > 0, source: "model"})
	}
	cands = dedupFold(cands, func(c candidate) string { return c.name })
	if len(cands) > maxTopics {
		cands = cands[:maxTopics]
	}

	topics := assignWeights(cands)
	sortByWeight(topics)

	subject := cleanName(parsed.SubjectName)
	if isExcluded(subject) {
		subject = ""
	}
	return model.StructureResult{SubjectName: subject, Topics: topics, TotalTopics: len(topics), Source: model.SourceModel}, nil
}

// parseModelTopics parses an untrusted response: the first balanced object, then
// once more against the loose first-to-last brace span.
func parseModelTopics(raw string) (modelTopics, error) {
	text := llm.StripFences(raw)

	if obj, ok := llm.FirstObject(text); ok {
		var out modelTopics
		if err := json.Unmarshal([]byte(obj), &out); err == nil && len(out.Topics) > 0 {
			return out, nil
		}
	}

	var out modelTopics
	loose, ok := llm.LooseObject(text)
	if !ok {
		return modelTopics{}, errors.New("no JSON object in topics response")
	}
	if err := json.Unmarshal([]byte(loose), &out); err != nil {
		return modelTopics{}, fmt.Errorf("parse topics response: %w", err)
	}
	return out, nil
}

// topicsFromText runs the pattern fallback. It never returns an empty topic list.
func topicsFromText(text string) model.StructureResult {
	lines := splitLines(text)

	var cands []candidate
	for _, line := range lines {
		for _, s := range topicStrategies {
			if c, ok := s.match(line); ok {
				c.source = s.kind
				cands = append(cands, c)
				break
			}
		}
	}
	cands = dedupFold(cands, func(c candidate) string { return c.name })

	if len(cands) == 0 {
		cands = lineCandidates(lines)
	}
	if len(cands) == 0 {
		cands = []candidate{{name: defaultTopicLabel, source: "default"}}
	}

	// Keep the heaviest stated weights when capping.
	sort.SliceStable(cands, func(i, j int) bool {
		if cands[i].hasWeight != cands[j].hasWeight {
			return cands[i].hasWeight
		}
		return cands[i].weight > cands[j].weight
	})
	if len(cands) > maxTopics {
		cands = cands[:maxTopics]
	}

	topics := assignWeights(cands)
	sortByWeight(topics)
	return model.StructureResult{
		SubjectName: subjectFromText(text),
		Topics:      topics,
		TotalTopics: len(topics),
		Source:      model.SourcePatterns,
	}
}

// lineCandidates takes the first non-trivial lines as unweighted topics.
func lineCandidates(lines []string) []candidate {
	var cands []candidate
	for _, l := range lines {
		if len(cands) == fallbackLines {
			break
		}
		name := cleanName(l)
		if utf8.RuneCountInString(name) < minFallbackRunes || !validName(name) {
			continue
		}
		cands = append(cands, candidate{name: name, source: "line"})
	}
	return dedupFold(cands, func(c candidate) string { return c.name })
}

func subjectFromText(text string) string {
	m := subjectLineRe.FindStringSubmatch(text)
	if m == nil {
		return ""
	}
	s := cleanName(m[1])
	if isExcluded(s) {
		return ""
	}
	return s
}

// percent decodes a weight given as a number, "30", or "30%".
type percent int

func (p *percent) UnmarshalJSON(b []byte) error {
	s := strings.Trim(strings.TrimSpace(string(b)), `"`)
	s = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "%"))
	if s == "" || s == "null" {
		*p = 0
		return nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		*p = 0
		return nil
	}
	*p = percent(clampPercent(int(math.Round(f))))
	return nil
}
