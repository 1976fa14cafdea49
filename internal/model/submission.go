package model

import (
	"time"

	"github.com/google/uuid"
)

// SubmittedAnswer is one resolved answer in a submission payload.
type SubmittedAnswer struct {
	Answer       string `json:"answer"`
	SectionIndex int    `json:"section_index"`
}

// SubmissionPayload is the final projection of a session sent to the backend.
// Answers are keyed by question ID, never by coordinate.
type SubmissionPayload struct {
	ExamID          uuid.UUID                     `json:"exam_id"`
	CandidateID     int                           `json:"candidate_id"`
	Reason          SubmitReason                  `json:"reason"`
	Answers         map[uuid.UUID]SubmittedAnswer `json:"answers"`
	MarkedForReview []Coordinate                  `json:"marked_for_review"`
	TimeSpentSec    int                           `json:"time_spent_sec"`
	SubmittedAt     time.Time                     `json:"submitted_at"`
}

// SubmissionAck is the backend's acknowledgment of a submission.
type SubmissionAck struct {
	Accepted   bool      `json:"accepted"`
	Duplicate  bool      `json:"duplicate,omitempty"`
	ReceivedAt time.Time `json:"received_at"`
}
