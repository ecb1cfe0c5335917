package compose

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/pavelanni/papergen/internal/llm"
)

// rawPaper is the paper as the model returned it, before repair.
type rawPaper struct {
	Title        string       `json:"title"`
	SubjectName  string       `json:"subjectName"`
	Instructions string       `json:"instructions"`
	TotalMarks   flexInt      `json:"totalMarks"`
	Duration     flexString   `json:"duration"`
	Sections     []rawSection `json:"sections"`
}

type rawSection struct {
	Name         string        `json:"name"`
	Instructions string        `json:"instructions"`
	Questions    []rawQuestion `json:"questions"`
}

type rawQuestion struct {
	Text       string      `json:"text"`
	Question   string      `json:"question"`
	Marks      flexInt     `json:"marks"`
	Type       string      `json:"type"`
	Difficulty string      `json:"difficulty"`
	BloomLevel string      `json:"bloomLevel"`
	Chapter    string      `json:"chapter"`
	Answer     *flexString `json:"answer"`
}

func (q rawQuestion) text() string {
	if t := strings.TrimSpace(q.Text); t != "" {
		return t
	}
	return strings.TrimSpace(q.Question)
}

// parser turns a model response into a raw paper.
type parser func(text string) (rawPaper, error)

// firstSuccess returns a parser that tries each parser in turn and keeps the
// first result that parses and validates.
func firstSuccess(parsers ...parser) parser {
	return func(text string) (rawPaper, error) {
		var errs []error
		for _, p := range parsers {
			res, err := p(text)
			if err == nil {
				err = validate(res)
			}
			if err == nil {
				return res, nil
			}
			errs = append(errs, err)
		}
		return rawPaper{}, errors.Join(errs...)
	}
}

var parseResponse = firstSuccess(parseStrict, parseLoose)

// parseStrict decodes the fence-stripped response as a whole.
func parseStrict(text string) (rawPaper, error) {
	var p rawPaper
	if err := json.Unmarshal([]byte(llm.StripFences(text)), &p); err != nil {
		return rawPaper{}, fmt.Errorf("strict parse: %w", err)
	}
	return p, nil
}

// parseLoose decodes the largest balanced object in the response.
func parseLoose(text string) (rawPaper, error) {
	obj, ok := llm.LargestObject(llm.StripFences(text))
	if !ok {
		return rawPaper{}, errors.New("loose parse: no JSON object in response")
	}
	var p rawPaper
	if err := json.Unmarshal([]byte(obj), &p); err != nil {
		return rawPaper{}, fmt.Errorf("loose parse: %w", err)
	}
	return p, nil
}

func validate(p rawPaper) error {
	for _, s := range p.Sections {
		for _, q := range s.Questions {
			if q.text() != "" {
				return nil
			}
		}
	}
	return errors.New("response has no questions")
}

// flexInt decodes numbers given as JSON numbers or numeric strings ("5", "5 marks").
type flexInt int

func (n *flexInt) UnmarshalJSON(b []byte) error {
	s := strings.Trim(strings.TrimSpace(string(b)), `"`)
	if f := strings.Fields(s); len(f) > 0 {
		s = f[0]
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		*n = 0
		return nil
	}
	*n = flexInt(math.Round(v))
	return nil
}

// flexString decodes strings, numbers and booleans as text.
type flexString string

func (s *flexString) UnmarshalJSON(b []byte) error {
	var str string
	if err := json.Unmarshal(b, &str); err == nil {
		*s = flexString(str)
		return nil
	}
	raw := strings.TrimSpace(string(b))
	if raw == "null" {
		*s = ""
		return nil
	}
	*s = flexString(raw)
	return nil
}
