package websocket

import (
	"encoding/json"

	"github.com/stemsi/exstem-session/internal/model"
)

// ─── Actions (Client → Server) ──────────────────────────────────────

type Action string

const (
	ActionPing     Action = "ping"
	ActionState    Action = "state"
	ActionAnswer   Action = "answer"
	ActionClear    Action = "clear"
	ActionMark     Action = "mark"
	ActionNavigate Action = "navigate"
	ActionPause    Action = "pause"
	ActionResume   Action = "resume"
	ActionSubmit   Action = "submit"
)

// Request is a client message. Only the fields relevant to Action are read.
type Request struct {
	Action   Action               `json:"action"`
	Section  *int                 `json:"section_index,omitempty"`
	Question *int                 `json:"question_index,omitempty"`
	Answer   string               `json:"answer,omitempty"`
	Move     model.NavigateAction `json:"move,omitempty"`
}

// Coordinate returns the request's coordinate, or false if either index is missing or negative.
func (r *Request) Coordinate() (model.Coordinate, bool) {
	if r.Section == nil || r.Question == nil || *r.Section < 0 || *r.Question < 0 {
		return model.Coordinate{}, false
	}
	return model.Coordinate{Section: *r.Section, Question: *r.Question}, true
}

// ─── Events (Server → Client) ───────────────────────────────────────

type Event string

const (
	EventError   Event = "error"
	EventState   Event = "state"
	EventSession Event = "session_event"
	EventPong    Event = "pong"
)

// StateResponse carries the session view after an action.
type StateResponse struct {
	Event Event              `json:"event"`
	Data  *model.SessionView `json:"data"`
}

// SessionEventResponse relays a notification published by the session.
type SessionEventResponse struct {
	Event Event           `json:"event"`
	Data  json.RawMessage `json:"data"`
}

type ErrorResponse struct {
	Event Event              `json:"event"`
	Code  string             `json:"code,omitempty"`
	Error string             `json:"error"`
	Data  *model.SessionView `json:"data,omitempty"`
}

type PongResponse struct {
	Event Event `json:"event"`
}
