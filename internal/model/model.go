package model

import (
	"strings"
	"time"
)

// QuestionType is the kind of question a section asks for.
type QuestionType string

const (
	QuestionMixed          QuestionType = "Mixed"
	QuestionMultipleChoice QuestionType = "Multiple Choice"
	QuestionTrueFalse      QuestionType = "True/False"
	QuestionFillBlank      QuestionType = "Fill in the Blank"
	QuestionShortAnswer    QuestionType = "Short Answer"
	QuestionLongAnswer     QuestionType = "Long Answer"
	QuestionProblemSolving QuestionType = "Problem Solving"
	QuestionConceptual     QuestionType = "Conceptual"
	QuestionTheoretical    QuestionType = "Theoretical"
	QuestionNumerical      QuestionType = "Numerical"
)

// QuestionTypes lists every supported question type.
var QuestionTypes = []QuestionType{
	QuestionMixed,
	QuestionMultipleChoice,
	QuestionTrueFalse,
	QuestionFillBlank,
	QuestionShortAnswer,
	QuestionLongAnswer,
	QuestionProblemSolving,
	QuestionConceptual,
	QuestionTheoretical,
	QuestionNumerical,
}

var questionTypeAliases = map[string]QuestionType{
	"mcq":      QuestionMultipleChoice,
	"mcqs":     QuestionMultipleChoice,
	"tf":       QuestionTrueFalse,
	"fillup":   QuestionFillBlank,
	"fillups":  QuestionFillBlank,
	"fib":      QuestionFillBlank,
	"short":    QuestionShortAnswer,
	"long":     QuestionLongAnswer,
	"essay":    QuestionLongAnswer,
	"problem":  QuestionProblemSolving,
	"problems": QuestionProblemSolving,
	"numeric":  QuestionNumerical,
}

// ParseQuestionType maps free-form text ("multiple-choice", "MCQ", "true/false")
// onto a QuestionType. The second return is false when nothing matched.
func ParseQuestionType(s string) (QuestionType, bool) {
	key := letters(s)
	if key == "" {
		return "", false
	}
	for _, qt := range QuestionTypes {
		if letters(string(qt)) == key {
			return qt, true
		}
	}
	if strings.HasPrefix(key, "fillintheblank") {
		return QuestionFillBlank, true
	}
	qt, ok := questionTypeAliases[key]
	return qt, ok
}

// Difficulty represents question difficulty level.
type Difficulty string

const (
	DifficultyEasy   Difficulty = "Easy"
	DifficultyMedium Difficulty = "Medium"
	DifficultyHard   Difficulty = "Hard"
)

// DifficultyCycle is the order used when difficulty has to be assigned by position.
var DifficultyCycle = []Difficulty{DifficultyEasy, DifficultyMedium, DifficultyHard}

// ParseDifficulty normalizes difficulty text case-insensitively.
func ParseDifficulty(s string) (Difficulty, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "easy":
		return DifficultyEasy, true
	case "medium", "moderate":
		return DifficultyMedium, true
	case "hard", "difficult":
		return DifficultyHard, true
	}
	return "", false
}

// ChangeReason records why a version was produced.
type ChangeReason string

const (
	ReasonGeneration   ChangeReason = "generation"
	ReasonRegeneration ChangeReason = "regeneration"
)

// BloomUnderstand is the Bloom level used when none is known.
const BloomUnderstand = "Understand"

// ExtractedTopic is an assessable topic with its percentage weight.
type ExtractedTopic struct {
	Name      string `json:"name"`
	Weightage int    `json:"weightage"`
}

// CIFData is the parsed course-information file attached to a config.
type CIFData struct {
	SubjectName string           `json:"subjectName"`
	Topics      []ExtractedTopic `json:"topics"`
}

// DifficultyMix holds target difficulty percentages.
type DifficultyMix struct {
	Easy   int `json:"easy" validate:"gte=0,lte=100"`
	Medium int `json:"medium" validate:"gte=0,lte=100"`
	Hard   int `json:"hard" validate:"gte=0,lte=100"`
}

// Section is one configured part of the paper.
type Section struct {
	Name          string       `json:"name" validate:"required,max=120"`
	Marks         int          `json:"marks" validate:"gte=0"`
	QuestionCount int          `json:"questionCount" validate:"gte=1,lte=200"`
	QuestionType  QuestionType `json:"questionType" validate:"omitempty,questiontype"`
}

// ImportantQuestion is a question the examiner wants prioritized.
type ImportantQuestion struct {
	Text  string `json:"text" validate:"required"`
	Type  string `json:"type"`
	Notes string `json:"notes"`
}

// GenerationConfig is the user-adjusted configuration a paper is generated from.
type GenerationConfig struct {
	TotalMarks         int                 `json:"totalMarks" validate:"gt=0"`
	Duration           string              `json:"duration"`
	Difficulty         DifficultyMix       `json:"difficulty"`
	Sections           []Section           `json:"sections" validate:"dive"`
	BloomsTaxonomy     map[string]int      `json:"bloomsTaxonomy" validate:"dive,gte=0,lte=100"`
	MandatoryExercises []string            `json:"mandatoryExercises"`
	ReferenceQuestions []string            `json:"referenceQuestions"`
	ImportantTopics    string              `json:"importantTopics"`
	ImportantQuestions []ImportantQuestion `json:"importantQuestions" validate:"dive"`
	GenerateAnswerKey  bool                `json:"generateAnswerKey"`
	CIFData            *CIFData            `json:"cifData,omitempty"`
}

// SectionMarks returns the sum of configured section marks.
func (c GenerationConfig) SectionMarks() int {
	total := 0
	for _, s := range c.Sections {
		total += s.Marks
	}
	return total
}

// Question is a single generated question.
type Question struct {
	ID         int          `json:"id"`
	Text       string       `json:"text"`
	Marks      int          `json:"marks"`
	Type       QuestionType `json:"type"`
	Difficulty Difficulty   `json:"difficulty"`
	BloomLevel string       `json:"bloomLevel"`
	Chapter    string       `json:"chapter"`
	Answer     *string      `json:"answer"`
}

// PaperSection is a section of a generated paper.
type PaperSection struct {
	Name         string     `json:"name"`
	Instructions string     `json:"instructions"`
	Questions    []Question `json:"questions"`
}

// Marks sums the marks of all questions in the section.
func (s PaperSection) Marks() int {
	total := 0
	for _, q := range s.Questions {
		total += q.Marks
	}
	return total
}

// GeneratedPaper is one immutable version of a paper.
type GeneratedPaper struct {
	VersionNumber   int            `json:"versionNumber"`
	Title           string         `json:"title"`
	SubjectName     string         `json:"subjectName"`
	Instructions    string         `json:"instructions"`
	TotalMarks      int            `json:"totalMarks"`
	Duration        string         `json:"duration"`
	Sections        []PaperSection `json:"sections"`
	CreatedAt       time.Time      `json:"createdAt"`
	ModelIdentifier string         `json:"modelIdentifier"`
	ChangeReason    ChangeReason   `json:"changeReason"`
}

// QuestionCount returns the number of questions across all sections.
func (p GeneratedPaper) QuestionCount() int {
	n := 0
	for _, s := range p.Sections {
		n += len(s.Questions)
	}
	return n
}

// Status is a generation state.
type Status string

const (
	StatusPending    Status = "pending"
	StatusGenerating Status = "generating"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// GenerationStatus is the polled progress of the latest generation run.
// It is overwritten in place and keeps no history.
type GenerationStatus struct {
	Status      Status     `json:"status"`
	Progress    int        `json:"progress"`
	StartedAt   *time.Time `json:"startedAt,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
	Error       string     `json:"error,omitempty"`
	ErrorCode   string     `json:"errorCode,omitempty"`
}

// UploadedFile describes a source document attached to a paper.
type UploadedFile struct {
	Name       string    `json:"name"`
	MimeType   string    `json:"mimeType"`
	Size       int64     `json:"size"`
	Chars      int       `json:"chars"`
	UploadedAt time.Time `json:"uploadedAt"`
}

// ExtractedData holds everything derived from the uploaded documents.
type ExtractedData struct {
	Chapters          []string       `json:"chapters"`
	TextChunks        []string       `json:"textChunks"`
	UploadedFiles     []UploadedFile `json:"uploadedFiles"`
	DetectedExercises []string       `json:"detectedExercises"`
}

// Text joins all text chunks back into one document.
func (d ExtractedData) Text() string {
	return strings.Join(d.TextChunks, "\n")
}

// PaperRecord is the persisted state of one paper.
type PaperRecord struct {
	ID                  string              `json:"id"`
	Title               string              `json:"title"`
	Config              GenerationConfig    `json:"config"`
	ExtractedData       ExtractedData       `json:"extractedData"`
	Versions            []GeneratedPaper    `json:"versions"`
	CurrentVersionIndex int                 `json:"currentVersionIndex"`
	GenerationStatus    GenerationStatus    `json:"generationStatus"`
	ImportantQuestions  []ImportantQuestion `json:"importantQuestions"`
	CreatedAt           time.Time           `json:"createdAt"`
	UpdatedAt           time.Time           `json:"updatedAt"`
}

// Ledger returns the record's versions as a VersionLedger.
func (r PaperRecord) Ledger() VersionLedger {
	return VersionLedger{Versions: r.Versions, CurrentVersionIndex: r.CurrentVersionIndex}
}

func letters(s string) string {
	var sb strings.Builder
	for _, r := range strings.ToLower(s) {
		if r >= 'a' && r <= 'z' {
			sb.WriteRune(r)
		}
	}
	return sb.String()
}
