package model

import (
	"time"

	"github.com/google/uuid"
)

// EventType names a session notification.
type EventType string

const (
	EventSessionStarted         EventType = "session_started"
	EventSectionChanged         EventType = "section_changed"
	EventTimeWarning            EventType = "time_warning"
	EventPaused                 EventType = "paused"
	EventResumed                EventType = "resumed"
	EventCheckpointFailed       EventType = "checkpoint_failed"
	EventCheckpointRemoteFailed EventType = "checkpoint_remote_failed"
	EventSubmitting             EventType = "submitting"
	EventSubmitted              EventType = "submitted"
	EventSubmitFailed           EventType = "submit_failed"
)

// SessionEvent is a non-blocking notification emitted by a running session.
type SessionEvent struct {
	Type        EventType      `json:"type"`
	ExamID      uuid.UUID      `json:"exam_id"`
	CandidateID int            `json:"candidate_id"`
	Data        map[string]any `json:"data,omitempty"`
	At          time.Time      `json:"at"`
}
