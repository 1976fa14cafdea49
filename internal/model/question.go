package model

import (
	"encoding/json"

	"github.com/google/uuid"
)

// Question represents a single exam question as served to the candidate.
// SectionID is optional; when absent questions are assigned to sections in order.
type Question struct {
	ID            uuid.UUID       `json:"id"`
	SectionID     *uuid.UUID      `json:"section_id,omitempty"`
	QuestionText  string          `json:"question_text"`
	QuestionType  QuestionType    `json:"question_type"`
	Options       json.RawMessage `json:"options"`
	Marks         float64         `json:"marks"`
	NegativeMarks float64         `json:"negative_marks"`
	OrderNum      int             `json:"order_num"`
}

type QuestionType string

const (
	QuestionTypeMultipleChoice QuestionType = "MULTIPLE_CHOICE"
	QuestionTypeEssay          QuestionType = "ESSAY"
)
