package model

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// SessionStatus enumerates exam session states.
type SessionStatus string

const (
	SessionStatusNotStarted SessionStatus = "NOT_STARTED"
	SessionStatusInProgress SessionStatus = "IN_PROGRESS"
	SessionStatusPaused     SessionStatus = "PAUSED"
	SessionStatusSubmitting SessionStatus = "SUBMITTING"
	SessionStatusSubmitted  SessionStatus = "SUBMITTED"
)

// SubmitReason records what triggered finalization.
type SubmitReason string

const (
	SubmitReasonManual  SubmitReason = "MANUAL"
	SubmitReasonTimeout SubmitReason = "TIMEOUT"
)

// Coordinate identifies a question by its position within a session.
// Its text form is "<section>:<question>", which is also its JSON form.
type Coordinate struct {
	Section  int
	Question int
}

// String implements fmt.Stringer.
func (c Coordinate) String() string {
	return strconv.Itoa(c.Section) + ":" + strconv.Itoa(c.Question)
}

// MarshalText implements encoding.TextMarshaler so coordinates can key JSON maps.
func (c Coordinate) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (c *Coordinate) UnmarshalText(b []byte) error {
	parsed, err := ParseCoordinate(string(b))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// ParseCoordinate parses the "<section>:<question>" form.
func ParseCoordinate(s string) (Coordinate, error) {
	sec, q, ok := strings.Cut(s, ":")
	if !ok {
		return Coordinate{}, fmt.Errorf("invalid coordinate %q", s)
	}
	si, err := strconv.Atoi(sec)
	if err != nil || si < 0 {
		return Coordinate{}, fmt.Errorf("invalid coordinate section %q", s)
	}
	qi, err := strconv.Atoi(q)
	if err != nil || qi < 0 {
		return Coordinate{}, fmt.Errorf("invalid coordinate question %q", s)
	}
	return Coordinate{Section: si, Question: qi}, nil
}

// Less orders coordinates section-major.
func (c Coordinate) Less(o Coordinate) bool {
	if c.Section != o.Section {
		return c.Section < o.Section
	}
	return c.Question < o.Question
}

// SortCoordinates sorts in place, section-major.
func SortCoordinates(cs []Coordinate) {
	sort.Slice(cs, func(i, j int) bool { return cs[i].Less(cs[j]) })
}

// ExamSession is the in-memory aggregate for one candidate's attempt.
type ExamSession struct {
	ExamID                  uuid.UUID
	CandidateID             int
	Title                   string
	TotalDurationSec        int
	Sections                []Section
	CurrentSectionIndex     int
	CurrentQuestionIndex    int
	Answers                 map[Coordinate]string
	MarkedForReview         map[Coordinate]struct{}
	TimeRemainingSec        int
	SectionTimeRemainingSec int
	// SectionBudgets holds the unspent time of sections left early.
	// Only populated under the resume revisit policy.
	SectionBudgets   map[int]int
	Status           SessionStatus
	StartedAt        time.Time
	LastCheckpointAt *time.Time
	SubmittedAt      *time.Time
}

// Cursor returns the current coordinate.
func (s *ExamSession) Cursor() Coordinate {
	return Coordinate{Section: s.CurrentSectionIndex, Question: s.CurrentQuestionIndex}
}

// MarkedList returns the review marks as a sorted slice.
func (s *ExamSession) MarkedList() []Coordinate {
	out := make([]Coordinate, 0, len(s.MarkedForReview))
	for c := range s.MarkedForReview {
		out = append(out, c)
	}
	SortCoordinates(out)
	return out
}

// SessionStats classifies every declared coordinate into exactly one bucket.
type SessionStats struct {
	Answered       int `json:"answered"`
	AnsweredMarked int `json:"answered_marked"`
	Marked         int `json:"marked"`
	NotVisited     int `json:"not_visited"`
	Total          int `json:"total"`
}

// SessionView is the read model returned by every session operation.
type SessionView struct {
	ExamID                  uuid.UUID             `json:"exam_id"`
	CandidateID             int                   `json:"candidate_id"`
	Title                   string                `json:"title"`
	Status                  SessionStatus         `json:"status"`
	Sections                []Section             `json:"sections"`
	Cursor                  Coordinate            `json:"cursor"`
	Answers                 map[Coordinate]string `json:"answers"`
	MarkedForReview         []Coordinate          `json:"marked_for_review"`
	TimeRemainingSec        int                   `json:"time_remaining_sec"`
	SectionTimeRemainingSec int                   `json:"section_time_remaining_sec"`
	Stats                   SessionStats          `json:"stats"`
	Restored                bool                  `json:"restored"`
	StartedAt               time.Time             `json:"started_at"`
	LastCheckpointAt        *time.Time            `json:"last_checkpoint_at,omitempty"`
	SubmittedAt             *time.Time            `json:"submitted_at,omitempty"`
	SubmitError             string                `json:"submit_error,omitempty"`
}

// SessionRecord is the exam_sessions row tracking a candidate's attempt.
type SessionRecord struct {
	ID           uuid.UUID     `json:"id"`
	ExamID       uuid.UUID     `json:"exam_id"`
	StudentID    int           `json:"student_id"`
	StartedAt    time.Time     `json:"started_at"`
	FinishedAt   *time.Time    `json:"finished_at,omitempty"`
	Status       SessionStatus `json:"status"`
	SubmitReason *SubmitReason `json:"submit_reason,omitempty"`
	TimeSpentSec *int          `json:"time_spent_sec,omitempty"`
}
