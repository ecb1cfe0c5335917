package compose

import (
	"fmt"

	"github.com/pavelanni/papergen/internal/model"
)

const (
	fallbackModel       = "fallback"
	defaultInstructions = "Answer all questions. Marks for each question are shown in brackets."
)

// synthesizeFallback builds a structurally valid paper without the model.
func synthesizeFallback(cfg model.GenerationConfig, sections []model.Section) model.GeneratedPaper {
	subject := subjectName(cfg, "")
	paper := model.GeneratedPaper{
		Title:           defaultTitle(subject),
		SubjectName:     subject,
		Instructions:    defaultInstructions,
		TotalMarks:      totalMarks(cfg, sections),
		Duration:        cfg.Duration,
		ModelIdentifier: fallbackModel,
	}

	id := 0
	for _, sec := range sections {
		out := model.PaperSection{Name: sec.Name}
		each := perQuestion(sec)
		for j := 0; j < sec.QuestionCount; j++ {
			id++
			q := placeholderQuestion(sec, j, cfg.GenerateAnswerKey)
			q.ID = id
			q.Marks = each
			out.Questions = append(out.Questions, q)
		}
		paper.Sections = append(paper.Sections, out)
	}
	return paper
}

// placeholderQuestion is the deterministic question for slot idx of a section.
func placeholderQuestion(sec model.Section, idx int, answerKey bool) model.Question {
	q := model.Question{
		Text:       fmt.Sprintf("Question %d for %s — based on reference material", idx+1, sec.Name),
		Type:       questionType(sec, ""),
		Difficulty: cycleDifficulty(idx),
		BloomLevel: model.BloomUnderstand,
	}
	if answerKey {
		a := fmt.Sprintf("Model answer for question %d of %s, drawn from the reference material.", idx+1, sec.Name)
		q.Answer = &a
	}
	return q
}

func defaultTitle(subject string) string {
	if subject == "" {
		return "Examination Paper"
	}
	return subject + " Examination"
}
