package model

// AnswerRequest sets or clears the answer at a coordinate.
type AnswerRequest struct {
	SectionIndex  *int   `json:"section_index" binding:"required,min=0"`
	QuestionIndex *int   `json:"question_index" binding:"required,min=0"`
	Answer        string `json:"answer" binding:"omitempty,max=10000"`
}

// Coordinate converts the request indices into a Coordinate.
func (r *AnswerRequest) Coordinate() Coordinate {
	return Coordinate{Section: *r.SectionIndex, Question: *r.QuestionIndex}
}

// MarkRequest toggles the review mark at a coordinate.
type MarkRequest struct {
	SectionIndex  *int `json:"section_index" binding:"required,min=0"`
	QuestionIndex *int `json:"question_index" binding:"required,min=0"`
}

// Coordinate converts the request indices into a Coordinate.
func (r *MarkRequest) Coordinate() Coordinate {
	return Coordinate{Section: *r.SectionIndex, Question: *r.QuestionIndex}
}

// NavigateAction enumerates cursor moves.
type NavigateAction string

const (
	NavigateGoto     NavigateAction = "goto"
	NavigateNext     NavigateAction = "next"
	NavigatePrevious NavigateAction = "previous"
)

// NavigateRequest moves the cursor. Indices are required for goto only.
type NavigateRequest struct {
	Action        NavigateAction `json:"action" binding:"required,oneof=goto next previous"`
	SectionIndex  *int           `json:"section_index" binding:"required_if=Action goto,omitempty,min=0"`
	QuestionIndex *int           `json:"question_index" binding:"required_if=Action goto,omitempty,min=0"`
}
