package compose

import (
	"strings"

	"github.com/pavelanni/papergen/internal/model"
)

var bloomLevels = []string{"Remember", "Understand", "Apply", "Analyze", "Evaluate", "Create"}

// repair fits a parsed response to the configured sections: one section per
// config entry, exactly QuestionCount questions each, marks that add up, and
// question IDs numbered globally from 1.
func repair(raw rawPaper, cfg model.GenerationConfig, sections []model.Section) model.GeneratedPaper {
	aligned := alignSections(raw.Sections, sections)

	paper := model.GeneratedPaper{
		Title:        strings.TrimSpace(raw.Title),
		SubjectName:  subjectName(cfg, strings.TrimSpace(raw.SubjectName)),
		Instructions: strings.TrimSpace(raw.Instructions),
		TotalMarks:   totalMarks(cfg, sections),
		Duration:     cfg.Duration,
	}
	if paper.Title == "" {
		paper.Title = defaultTitle(paper.SubjectName)
	}
	if paper.Instructions == "" {
		paper.Instructions = defaultInstructions
	}
	if paper.Duration == "" {
		paper.Duration = strings.TrimSpace(string(raw.Duration))
	}

	id := 0
	for i, sec := range sections {
		src := aligned[i]
		var qs []rawQuestion
		for _, q := range src.Questions {
			if q.text() != "" {
				qs = append(qs, q)
			}
		}
		if len(qs) > sec.QuestionCount {
			qs = qs[:sec.QuestionCount]
		}

		marks := questionMarks(qs, sec)
		out := model.PaperSection{Name: sec.Name, Instructions: strings.TrimSpace(src.Instructions)}
		for j := 0; j < sec.QuestionCount; j++ {
			id++
			var q model.Question
			if j < len(qs) {
				q = repairQuestion(qs[j], sec, j, cfg.GenerateAnswerKey)
			} else {
				q = placeholderQuestion(sec, j, cfg.GenerateAnswerKey)
			}
			q.ID = id
			q.Marks = marks[j]
			out.Questions = append(out.Questions, q)
		}
		paper.Sections = append(paper.Sections, out)
	}
	return paper
}

// alignSections pairs each configured section with a response section: by name
// first, then by position, then with the remaining response sections in order.
func alignSections(got []rawSection, want []model.Section) []rawSection {
	out := make([]rawSection, len(want))
	used := make([]bool, len(got))
	matched := make([]bool, len(want))

	for i, w := range want {
		for j, g := range got {
			if !used[j] && strings.EqualFold(strings.TrimSpace(g.Name), strings.TrimSpace(w.Name)) {
				out[i], used[j], matched[i] = g, true, true
				break
			}
		}
	}
	for i := range want {
		if !matched[i] && i < len(got) && !used[i] {
			out[i], used[i] = got[i], true
			matched[i] = true
		}
	}
	next := 0
	for i := range want {
		if matched[i] {
			continue
		}
		for next < len(got) && used[next] {
			next++
		}
		if next == len(got) {
			break
		}
		out[i], used[next] = got[next], true
		next++
	}
	return out
}

// questionMarks keeps the model's marks when they are all positive and add up to
// the section marks; otherwise every question gets floor(marks/count).
func questionMarks(qs []rawQuestion, sec model.Section) []int {
	marks := make([]int, sec.QuestionCount)
	if len(qs) == sec.QuestionCount {
		sum := 0
		ok := true
		for j, q := range qs {
			if q.Marks <= 0 {
				ok = false
				break
			}
			marks[j] = int(q.Marks)
			sum += int(q.Marks)
		}
		if ok && sum == sec.Marks {
			return marks
		}
	}
	each := perQuestion(sec)
	for j := range marks {
		marks[j] = each
	}
	return marks
}

func repairQuestion(q rawQuestion, sec model.Section, idx int, answerKey bool) model.Question {
	out := model.Question{
		Text:       q.text(),
		Type:       questionType(sec, q.Type),
		BloomLevel: normalizeBloom(q.BloomLevel),
		Chapter:    strings.TrimSpace(q.Chapter),
	}
	if d, ok := model.ParseDifficulty(q.Difficulty); ok {
		out.Difficulty = d
	} else {
		out.Difficulty = cycleDifficulty(idx)
	}
	if answerKey && q.Answer != nil {
		if a := strings.TrimSpace(string(*q.Answer)); a != "" {
			out.Answer = &a
		}
	}
	return out
}

// questionType enforces the section type; Mixed sections keep what the model said.
func questionType(sec model.Section, got string) model.QuestionType {
	if !isMixed(sec) {
		return sec.QuestionType
	}
	if qt, ok := model.ParseQuestionType(got); ok && qt != model.QuestionMixed {
		return qt
	}
	return model.QuestionShortAnswer
}

func normalizeBloom(s string) string {
	s = strings.TrimSpace(s)
	for _, l := range bloomLevels {
		if strings.EqualFold(s, l) {
			return l
		}
	}
	switch strings.ToLower(s) {
	case "knowledge", "remembering":
		return "Remember"
	case "comprehension", "understanding":
		return "Understand"
	case "application", "applying":
		return "Apply"
	case "analysis", "analyse", "analyzing", "analysing":
		return "Analyze"
	case "evaluation", "evaluating":
		return "Evaluate"
	case "synthesis", "creating":
		return "Create"
	}
	return model.BloomUnderstand
}

func cycleDifficulty(idx int) model.Difficulty {
	return model.DifficultyCycle[idx%len(model.DifficultyCycle)]
}

func subjectName(cfg model.GenerationConfig, fromModel string) string {
	if cfg.CIFData != nil && strings.TrimSpace(cfg.CIFData.SubjectName) != "" {
		return strings.TrimSpace(cfg.CIFData.SubjectName)
	}
	return fromModel
}
