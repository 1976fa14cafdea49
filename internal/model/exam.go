package model

import (
	"time"

	"github.com/google/uuid"
)

// ExamStatus enumerates the possible states of an exam.
type ExamStatus string

const (
	ExamStatusDraft      ExamStatus = "DRAFT"
	ExamStatusPublished  ExamStatus = "PUBLISHED"
	ExamStatusInProgress ExamStatus = "IN_PROGRESS"
	ExamStatusCompleted  ExamStatus = "COMPLETED"
	ExamStatusArchived   ExamStatus = "ARCHIVED"
)

// Exam is the exam definition consumed by the session engine.
type Exam struct {
	ID               uuid.UUID  `json:"id"`
	Title            string     `json:"title"`
	TotalDurationSec int        `json:"total_duration_sec"`
	Sections         []Section  `json:"sections"`
	Status           ExamStatus `json:"status"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// Section is a timed, ordered subdivision of an exam.
type Section struct {
	ID            uuid.UUID `json:"id"`
	Name          string    `json:"name"`
	DurationSec   int       `json:"duration_sec"`
	QuestionCount int       `json:"question_count"`
	OrderNum      int       `json:"order_num"`
}

// TotalQuestions returns the declared question count across all sections.
func (e *Exam) TotalQuestions() int {
	total := 0
	for _, s := range e.Sections {
		total += s.QuestionCount
	}
	return total
}

// Takeable reports whether candidates may open a session for the exam.
func (e *Exam) Takeable() bool {
	return e.Status == ExamStatusPublished || e.Status == ExamStatusInProgress
}

// ExamPayload is the Redis-cached exam definition plus its questions.
type ExamPayload struct {
	Exam      Exam       `json:"exam"`
	Questions []Question `json:"questions"`
}
