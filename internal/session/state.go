package session

import (
	"time"

	"github.com/stemsi/exstem-session/internal/model"
)

// StateStore owns the answer, mark and cursor state of one session.
// It is not safe for concurrent use; the session event loop serializes access.
type StateStore struct {
	s *model.ExamSession
}

// NewStateStore wraps an initialized session aggregate.
func NewStateStore(s *model.ExamSession) *StateStore {
	if s.Answers == nil {
		s.Answers = make(map[model.Coordinate]string)
	}
	if s.MarkedForReview == nil {
		s.MarkedForReview = make(map[model.Coordinate]struct{})
	}
	if s.SectionBudgets == nil {
		s.SectionBudgets = make(map[int]int)
	}
	return &StateStore{s: s}
}

// Session exposes the underlying aggregate to the other components.
func (st *StateStore) Session() *model.ExamSession { return st.s }

// Status returns the current lifecycle status.
func (st *StateStore) Status() model.SessionStatus { return st.s.Status }

func (st *StateStore) setStatus(status model.SessionStatus) { st.s.Status = status }

// Contains reports whether c addresses a declared question.
func (st *StateStore) Contains(c model.Coordinate) bool {
	if c.Section < 0 || c.Section >= len(st.s.Sections) {
		return false
	}
	return c.Question >= 0 && c.Question < st.s.Sections[c.Section].QuestionCount
}

// writable returns nil when answers, marks and cursor may change.
func (st *StateStore) writable() error {
	switch st.s.Status {
	case model.SessionStatusInProgress:
		return nil
	case model.SessionStatusPaused:
		return ErrSessionPaused
	default:
		return ErrSessionClosed
	}
}

// SetAnswer upserts the answer at c. The value is not validated against the question type.
func (st *StateStore) SetAnswer(c model.Coordinate, value string) error {
	if err := st.writable(); err != nil {
		return err
	}
	if !st.Contains(c) {
		return ErrInvalidCoordinate
	}
	st.s.Answers[c] = value
	return nil
}

// ClearAnswer removes the answer at c, if any.
func (st *StateStore) ClearAnswer(c model.Coordinate) error {
	if err := st.writable(); err != nil {
		return err
	}
	if !st.Contains(c) {
		return ErrInvalidCoordinate
	}
	delete(st.s.Answers, c)
	return nil
}

// ToggleReviewMark flips the review mark at c and returns the new state.
func (st *StateStore) ToggleReviewMark(c model.Coordinate) (bool, error) {
	if err := st.writable(); err != nil {
		return false, err
	}
	if !st.Contains(c) {
		return false, ErrInvalidCoordinate
	}
	if _, ok := st.s.MarkedForReview[c]; ok {
		delete(st.s.MarkedForReview, c)
		return false, nil
	}
	st.s.MarkedForReview[c] = struct{}{}
	return true, nil
}

// ComputeStats walks every declared coordinate once and puts it in exactly one bucket.
// The cursor is deliberately not a bucket.
func (st *StateStore) ComputeStats() model.SessionStats {
	var stats model.SessionStats
	for si, sec := range st.s.Sections {
		for qi := 0; qi < sec.QuestionCount; qi++ {
			c := model.Coordinate{Section: si, Question: qi}
			_, answered := st.s.Answers[c]
			_, marked := st.s.MarkedForReview[c]
			switch {
			case answered && marked:
				stats.AnsweredMarked++
			case answered:
				stats.Answered++
			case marked:
				stats.Marked++
			default:
				stats.NotVisited++
			}
			stats.Total++
		}
	}
	return stats
}

// Snapshot deep-copies the state into a checkpoint stamped with now.
func (st *StateStore) Snapshot(now time.Time) *model.Checkpoint {
	s := st.s
	answers := make(map[model.Coordinate]string, len(s.Answers))
	for c, v := range s.Answers {
		answers[c] = v
	}
	var budgets map[int]int
	if len(s.SectionBudgets) > 0 {
		budgets = make(map[int]int, len(s.SectionBudgets))
		for k, v := range s.SectionBudgets {
			budgets[k] = v
		}
	}
	return &model.Checkpoint{
		Version:                 model.CheckpointVersion,
		ExamID:                  s.ExamID,
		CandidateID:             s.CandidateID,
		Answers:                 answers,
		MarkedForReview:         s.MarkedList(),
		CurrentSectionIndex:     s.CurrentSectionIndex,
		CurrentQuestionIndex:    s.CurrentQuestionIndex,
		TimeRemainingSec:        s.TimeRemainingSec,
		SectionTimeRemainingSec: s.SectionTimeRemainingSec,
		SectionBudgets:          budgets,
		StartedAt:               s.StartedAt.UTC(),
		Timestamp:               now.UTC(),
	}
}

// View builds the read model.
func (st *StateStore) View() *model.SessionView {
	s := st.s
	answers := make(map[model.Coordinate]string, len(s.Answers))
	for c, v := range s.Answers {
		answers[c] = v
	}
	sections := make([]model.Section, len(s.Sections))
	copy(sections, s.Sections)
	return &model.SessionView{
		ExamID:                  s.ExamID,
		CandidateID:             s.CandidateID,
		Title:                   s.Title,
		Status:                  s.Status,
		Sections:                sections,
		Cursor:                  s.Cursor(),
		Answers:                 answers,
		MarkedForReview:         s.MarkedList(),
		TimeRemainingSec:        s.TimeRemainingSec,
		SectionTimeRemainingSec: s.SectionTimeRemainingSec,
		Stats:                   st.ComputeStats(),
		StartedAt:               s.StartedAt,
		LastCheckpointAt:        s.LastCheckpointAt,
		SubmittedAt:             s.SubmittedAt,
	}
}
