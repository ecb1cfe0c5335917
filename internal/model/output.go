package model

// Topic sources reported in StructureResult.Source.
const (
	SourceModel    = "model"
	SourcePatterns = "patterns"
)

// StructureResult is the topic extraction contract consumed by configuration.
type StructureResult struct {
	SubjectName string           `json:"subjectName"`
	Topics      []ExtractedTopic `json:"topics"`
	TotalTopics int              `json:"totalTopics"`
	Source      string           `json:"source,omitempty"`
}

// ChapterResult is the chapter extraction contract.
type ChapterResult struct {
	Chapters []string `json:"chapters"`
}

// CompositionOutput is what the composition engine hands to export and rendering.
type CompositionOutput struct {
	JSON          GeneratedPaper `json:"json"`
	HTML          string         `json:"html"`
	AnswerKeyHTML *string        `json:"answerKeyHtml"`
}
