package structure

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	minNameRunes = 5
	maxNameRunes = 200
)

var (
	titlePrefixRe = regexp.MustCompile(`(?i)^(dr|prof|professor|mr|mrs|ms|miss|sir|madam|instructor|lecturer|faculty|teacher|coordinator|hod)\b\.?`)
	emailRe       = regexp.MustCompile(`[\w.+-]+@[\w-]+(\.[\w-]+)+`)
	phoneRe       = regexp.MustCompile(`^\+?[\d\s()-]{7,}$`)
	dateRes       = []*regexp.Regexp{
		regexp.MustCompile(`^\d{1,2}[/.-]\d{1,2}[/.-]\d{2,4}$`),
		regexp.MustCompile(`^\d{4}[/.-]\d{1,2}[/.-]\d{1,2}$`),
		regexp.MustCompile(`(?i)^(\d{1,2}(st|nd|rd|th)?\s+)?(jan|feb|mar|apr|may|jun|jul|aug|sep|sept|oct|nov|dec)[a-z]*\.?(\s+\d{1,2}(st|nd|rd|th)?)?,?\s+\d{4}$`),
	}
	// Two capitalized words, e.g. "John Smith".
	personNameRe = regexp.MustCompile(`^[A-Z][a-z]+\s+[A-Z][a-z]+$`)
	// Endings that mark the second word of a two-word label as a subject, not a surname.
	subjectSuffixRe = regexp.MustCompile(`(?i)(ics|ogy|try|tion|sion|ment|ism|ing|ures?|sis|ance|ence|ity|ory|ies|bra|lus|ware|ems|ons|als|ers|orks|ves)$`)
	placeholderNames = map[string]bool{
		"subject": true, "subject name": true, "subject title": true,
		"course": true, "course name": true, "course title": true,
		"name": true, "topic": true, "topics": true, "topic name": true,
		"unit": true, "units": true, "module": true, "chapter": true,
		"total": true, "grand total": true, "weightage": true, "marks": true,
		"syllabus": true, "contents": true, "table of contents": true,
		"s.no": true, "sr. no": true, "sr no": true,
	}
)

// isExcluded reports whether s looks like a person, contact detail, date or
// placeholder rather than a unit of content.
func isExcluded(s string) bool {
	s = strings.TrimSpace(s)
	if s == "" {
		return true
	}
	if placeholderNames[strings.ToLower(strings.TrimRight(s, ".:"))] {
		return true
	}
	if titlePrefixRe.MatchString(s) {
		return true
	}
	if emailRe.MatchString(s) || phoneRe.MatchString(s) {
		return true
	}
	for _, re := range dateRes {
		if re.MatchString(s) {
			return true
		}
	}
	if personNameRe.MatchString(s) {
		words := strings.Fields(s)
		if !subjectSuffixRe.MatchString(words[1]) {
			return true
		}
	}
	return false
}

// cleanName trims decoration around a candidate name.
func cleanName(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	return strings.TrimFunc(s, func(r rune) bool {
		return unicode.IsSpace(r) || strings.ContainsRune("-–—:;,.|*•·#", r)
	})
}

// validName reports whether a cleaned name is acceptable as a topic or chapter.
func validName(s string) bool {
	n := utf8.RuneCountInString(s)
	if n < minNameRunes || n > maxNameRunes {
		return false
	}
	if !strings.ContainsFunc(s, unicode.IsLetter) {
		return false
	}
	return !isExcluded(s)
}

// dedupFold drops later entries whose key matches an earlier one case-insensitively.
func dedupFold[T any](items []T, key func(T) string) []T {
	seen := make(map[string]bool, len(items))
	out := items[:0:0]
	for _, it := range items {
		k := strings.ToLower(key(it))
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, it)
	}
	return out
}
