package structure

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/pavelanni/papergen/internal/model"
)

const (
	minHeadingRunes = 10
	maxHeadingRunes = 150
	maxHeadingWords = 12
	placeholderN    = 3
)

var (
	chapterRe   = regexp.MustCompile(`(?i)^(?:chapter|chap\.?|ch\.)\s*(\d+|(?-i:[IVXLCDM]{1,7})|[ivxlcdm]{1,4})\b\s*([:.)\-–—]?)\s*(.*)$`)
	unitRe      = regexp.MustCompile(`(?i)^(unit|module|part)\s*(\d+|(?-i:[IVXLCDM]{1,7})|[ivxlcdm]{1,4})\b\s*([:.)\-–—]?)\s*(.*)$`)
	romanRe     = regexp.MustCompile(`^([IVXLCDM]{1,7})[.)]\s+(\S.*)$`)
	validRoman  = regexp.MustCompile(`^M{0,3}(CM|CD|D?C{0,3})(XC|XL|L?X{0,3})(IX|IV|V?I{0,3})$`)
	numberedRe  = regexp.MustCompile(`^(\d{1,2})[.)]\s+(\p{Lu}.{2,})$`)
	leaderRe    = regexp.MustCompile(`\s*(?:\.{2,}|…+|·{2,})[\s.…·]*\d{0,4}\s*$`)
	pctTailRe   = regexp.MustCompile(`\s*[-–—(\[]*\s*\d{1,3}\s*%\s*[)\]]?\s*$`)
	sentenceEnd = ".!?;,"
)

// chapterStrategy turns a line into a chapter label.
type chapterStrategy struct {
	kind  string
	match func(line string) (string, bool)
}

var chapterStrategies = []chapterStrategy{
	{kind: "chapter", match: matchChapter},
	{kind: "unit", match: matchUnit},
	{kind: "roman", match: matchRoman},
	{kind: "numbered", match: matchNumberedHeading},
}

// ExtractChapters derives chapter labels from reference material.
func (e *Engine) ExtractChapters(_ context.Context, text string) (model.ChapterResult, error) {
	if strings.TrimSpace(text) == "" {
		return model.ChapterResult{}, ErrEmptyText
	}
	return model.ChapterResult{Chapters: chaptersFromText(text)}, nil
}

func chaptersFromText(text string) []string {
	lines := splitLines(text)

	var labels []string
	for _, line := range lines {
		for _, s := range chapterStrategies {
			if label, ok := s.match(line); ok {
				labels = append(labels, label)
				break
			}
		}
	}
	labels = capLabels(dedupFold(labels, identity))
	if len(labels) > 0 {
		return labels
	}

	for _, line := range lines {
		if label, ok := matchHeadingShape(line); ok {
			labels = append(labels, label)
		}
	}
	labels = capLabels(dedupFold(labels, identity))
	if len(labels) > 0 {
		return labels
	}

	placeholders := make([]string, placeholderN)
	for i := range placeholders {
		placeholders[i] = fmt.Sprintf("Chapter %d", i+1)
	}
	return placeholders
}

func matchChapter(line string) (string, bool) {
	m := chapterRe.FindStringSubmatch(line)
	if m == nil {
		return "", false
	}
	return label("Chapter", m[1], m[2], m[3])
}

func matchUnit(line string) (string, bool) {
	m := unitRe.FindStringSubmatch(line)
	if m == nil {
		return "", false
	}
	keyword := strings.ToUpper(m[1][:1]) + strings.ToLower(m[1][1:])
	return label(keyword, m[2], m[3], m[4])
}

func matchRoman(line string) (string, bool) {
	m := romanRe.FindStringSubmatch(line)
	if m == nil || !validRoman.MatchString(m[1]) {
		return "", false
	}
	title := cleanTitle(m[2])
	if !acceptTitle(title) {
		return "", false
	}
	return acceptLabel(m[1] + ". " + title)
}

func matchNumberedHeading(line string) (string, bool) {
	m := numberedRe.FindStringSubmatch(line)
	if m == nil {
		return "", false
	}
	if looksLikeSentence(m[2]) {
		return "", false
	}
	title := cleanTitle(m[2])
	if !acceptTitle(title) {
		return "", false
	}
	return acceptLabel(m[1] + ". " + title)
}

// label builds "Keyword N: Title". Without a separator the title must start
// upper-case, which keeps prose such as "Chapter 3 shows that" out.
func label(keyword, num, sep, rest string) (string, bool) {
	if isRomanText(num) {
		num = strings.ToUpper(num)
	}
	title := cleanTitle(rest)
	if title == "" {
		return acceptLabel(keyword + " " + num)
	}
	if sep == "" {
		r, _ := utf8.DecodeRuneInString(title)
		if !unicode.IsUpper(r) {
			return "", false
		}
	}
	if !acceptTitle(title) {
		return "", false
	}
	return acceptLabel(keyword + " " + num + ": " + title)
}

func matchHeadingShape(line string) (string, bool) {
	if looksLikeSentence(line) {
		return "", false
	}
	s := cleanTitle(line)
	n := utf8.RuneCountInString(s)
	if n < minHeadingRunes || n > maxHeadingRunes {
		return "", false
	}
	r, _ := utf8.DecodeRuneInString(s)
	if !unicode.IsUpper(r) {
		return "", false
	}
	if len(strings.Fields(s)) > maxHeadingWords {
		return "", false
	}
	if isExcluded(s) {
		return "", false
	}
	return acceptLabel(s)
}

// cleanTitle strips table-of-contents leaders, page numbers and trailing percentages.
func cleanTitle(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	if leaderRe.MatchString(s) {
		s = leaderRe.ReplaceAllString(s, "")
	}
	s = pctTailRe.ReplaceAllString(s, "")
	return cleanName(s)
}

func acceptTitle(title string) bool {
	return title != "" && !isExcluded(title) && strings.ContainsFunc(title, unicode.IsLetter)
}

func acceptLabel(s string) (string, bool) {
	n := utf8.RuneCountInString(s)
	if n < minNameRunes || n > maxNameRunes {
		return "", false
	}
	return s, true
}

// looksLikeSentence reports whether raw text ends like prose.
func looksLikeSentence(s string) bool {
	s = strings.TrimSpace(s)
	if s == "" {
		return false
	}
	return strings.ContainsAny(s[len(s)-1:], sentenceEnd)
}

func isRomanText(s string) bool {
	for _, r := range s {
		if !strings.ContainsRune("ivxlcdmIVXLCDM", r) {
			return false
		}
	}
	return s != ""
}

func capLabels(labels []string) []string {
	if len(labels) > maxChapters {
		return labels[:maxChapters]
	}
	return labels
}

func identity(s string) string { return s }
