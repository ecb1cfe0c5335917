// Package exercise finds references to textbook exercises, examples, problems and
// questions in document text.
package exercise

import "regexp"

// perSweep caps how many references a single keyword contributes.
const perSweep = 5

var sweeps = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\bexercise(?:\s+\d+(?:\.\d+)*)?\b`),
	regexp.MustCompile(`(?i)\bexample(?:\s+\d+(?:\.\d+)*)?\b`),
	regexp.MustCompile(`(?i)\bproblem(?:\s+\d+(?:\.\d+)*)?\b`),
	regexp.MustCompile(`(?i)\bquestion(?:\s+\d+(?:\.\d+)*)?\b`),
}

// Detect returns the exercise references found in text in first-seen order.
// Duplicates are removed by exact comparison, so "Exercise 5" and "exercise 5"
// are both kept.
func Detect(text string) []string {
	var found []string
	seen := make(map[string]bool)
	for _, re := range sweeps {
		for _, m := range re.FindAllString(text, perSweep) {
			if seen[m] {
				continue
			}
			seen[m] = true
			found = append(found, m)
		}
	}
	return found
}
