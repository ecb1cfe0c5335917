package structure

import (
	"math"
	"regexp"
	"strconv"
	"strings"
)

// strategy is one way of reading a topic off a single line.
type strategy struct {
	kind  string
	match func(line string) (candidate, bool)
}

// topicStrategies are tried in order on every line; the first valid match wins the line.
var topicStrategies = []strategy{
	{kind: "header_percent", match: matchHeaderPercent},
	{kind: "numbered_percent", match: matchNumberedPercent},
	{kind: "table_row", match: matchTableRow},
	{kind: "header_plain", match: matchHeaderPlain},
	{kind: "numbered_plain", match: matchNumberedPlain},
}

const percentTail = `\s*[-–—:(\[]*\s*(\d{1,3}(?:\.\d+)?)\s*%\s*[)\]]?\s*$`

var (
	headerPercentRe   = regexp.MustCompile(`(?i)^(?:unit|module|topic|chapter|part)\s*[-#:]?\s*(?:\d+|(?-i:[IVXLC]{1,7})|[ivxlc]{1,4})\b\s*[:.)\-–—]?\s*(.+?)` + percentTail)
	numberedPercentRe = regexp.MustCompile(`(?i)^(?:\d{1,2}|[a-h]|[ivx]{1,4})[.)]\s*(.+?)` + percentTail)
	headerPlainRe     = regexp.MustCompile(`(?i)^(?:unit|module|topic|chapter|part)\s*[-#:]?\s*(?:\d+|(?-i:[IVXLC]{1,7})|[ivxlc]{1,4})\b\s*[:.)\-–—]?\s*(.+)$`)
	numberedPlainRe   = regexp.MustCompile(`^\d{1,2}[.)]\s+(\p{L}.+)$`)
	percentCellRe     = regexp.MustCompile(`^(\d{1,3}(?:\.\d+)?)\s*%?$`)
)

func matchHeaderPercent(line string) (candidate, bool) {
	m := headerPercentRe.FindStringSubmatch(line)
	if m == nil {
		return candidate{}, false
	}
	return weighted(m[1], m[2])
}

func matchNumberedPercent(line string) (candidate, bool) {
	m := numberedPercentRe.FindStringSubmatch(line)
	if m == nil {
		return candidate{}, false
	}
	return weighted(m[1], m[2])
}

// matchTableRow reads "name | 30%" and "| 1 | name | 30 |" rows: the last numeric cell
// is the weight and the nearest text cell before it is the name.
func matchTableRow(line string) (candidate, bool) {
	if !strings.Contains(line, "|") {
		return candidate{}, false
	}
	var cells []string
	for _, c := range strings.Split(line, "|") {
		if c = strings.TrimSpace(c); c != "" {
			cells = append(cells, c)
		}
	}
	for i := len(cells) - 1; i > 0; i-- {
		m := percentCellRe.FindStringSubmatch(cells[i])
		if m == nil {
			continue
		}
		for j := i - 1; j >= 0; j-- {
			if percentCellRe.MatchString(cells[j]) {
				continue
			}
			return weighted(cells[j], m[1])
		}
		break
	}
	return candidate{}, false
}

func matchHeaderPlain(line string) (candidate, bool) {
	m := headerPlainRe.FindStringSubmatch(line)
	if m == nil {
		return candidate{}, false
	}
	return plain(m[1])
}

func matchNumberedPlain(line string) (candidate, bool) {
	m := numberedPlainRe.FindStringSubmatch(line)
	if m == nil {
		return candidate{}, false
	}
	return plain(m[1])
}

func weighted(name, pct string) (candidate, bool) {
	name = cleanName(name)
	if !validName(name) {
		return candidate{}, false
	}
	f, err := strconv.ParseFloat(pct, 64)
	if err != nil {
		return candidate{}, false
	}
	return candidate{name: name, weight: clampPercent(int(math.Round(f))), hasWeight: true}, true
}

func plain(name string) (candidate, bool) {
	name = cleanName(pctTailRe.ReplaceAllString(name, ""))
	if !validName(name) {
		return candidate{}, false
	}
	return candidate{name: name}, true
}

func clampPercent(n int) int {
	switch {
	case n < 0:
		return 0
	case n > 100:
		return 100
	}
	return n
}
