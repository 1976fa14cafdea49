package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-session/internal/logger"
	"github.com/stemsi/exstem-session/internal/model"
	"github.com/stemsi/exstem-session/internal/response"
	"github.com/stemsi/exstem-session/internal/service"
	ws "github.com/stemsi/exstem-session/internal/websocket"
)

// buildUpgrader creates a WebSocket upgrader with origin validation.
// allowedOrigins comes from config.Config.AllowedOrigins.
// An empty slice permits all origins (development mode).
func buildUpgrader(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowedOrigins) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			for _, allowed := range allowedOrigins {
				if strings.EqualFold(allowed, origin) {
					return true
				}
			}
			return false
		},
	}
}

type eventSubscriber interface {
	Subscribe(ctx context.Context, examID string, candidateID int) service.EventStream
}

// WSHandler streams session events to the candidate and accepts session actions.
type WSHandler struct {
	sessions SessionService
	events   eventSubscriber
	log      zerolog.Logger
	upgrader websocket.Upgrader
}

// NewWSHandler creates a new WSHandler.
func NewWSHandler(sessions SessionService, events eventSubscriber, log zerolog.Logger, allowedOrigins []string) *WSHandler {
	return &WSHandler{
		sessions: sessions,
		events:   events,
		log:      log.With().Str("component", "ws_handler").Logger(),
		upgrader: buildUpgrader(allowedOrigins),
	}
}

// SessionStream godoc
// WS /ws/v1/student/exams/:exam_id/session
// Requires a started session. Time warnings, section changes and the final
// submission arrive as session_event messages.
func (h *WSHandler) SessionStream(c *gin.Context) {
	examID, studentID, ok := target(c)
	if !ok {
		return
	}

	// Refuse the upgrade unless the session is live on this instance.
	view, err := h.sessions.GetState(c.Request.Context(), examID, studentID)
	if err != nil {
		respond(c, view, err)
		return
	}

	raw, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	conn := ws.NewConn(raw)
	defer conn.Close()

	wsLog := logger.ForSession(h.log, examID.String(), studentID)
	wsLog.Info().Msg("Student connected")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sub := h.events.Subscribe(ctx, examID.String(), studentID)
	defer sub.Close()
	go h.relay(ctx, conn, sub, wsLog)

	_ = conn.WriteTyped(ws.StateResponse{Event: ws.EventState, Data: view})

	for {
		var msg ws.Request
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				wsLog.Warn().Err(err).Msg("Unexpected close")
			} else {
				wsLog.Debug().Msg("Connection closed")
			}
			return
		}
		h.dispatch(ctx, conn, wsLog, examID, studentID, &msg)
	}
}

func (h *WSHandler) dispatch(ctx context.Context, conn *ws.Conn, log zerolog.Logger, examID uuid.UUID, studentID int, msg *ws.Request) {
	var (
		view *model.SessionView
		err  error
	)

	switch msg.Action {
	case ws.ActionPing:
		_ = conn.WriteTyped(ws.PongResponse{Event: ws.EventPong})
		return
	case ws.ActionState:
		view, err = h.sessions.GetState(ctx, examID, studentID)
	case ws.ActionAnswer, ws.ActionClear, ws.ActionMark:
		coord, ok := msg.Coordinate()
		if !ok {
			_ = conn.WriteError("section_index and question_index are required")
			return
		}
		switch msg.Action {
		case ws.ActionAnswer:
			view, err = h.sessions.SetAnswer(ctx, examID, studentID, coord, msg.Answer)
		case ws.ActionClear:
			view, err = h.sessions.ClearAnswer(ctx, examID, studentID, coord)
		default:
			view, err = h.sessions.ToggleMark(ctx, examID, studentID, coord)
		}
	case ws.ActionNavigate:
		view, err = h.sessions.Navigate(ctx, examID, studentID, &model.NavigateRequest{
			Action:        msg.Move,
			SectionIndex:  msg.Section,
			QuestionIndex: msg.Question,
		})
	case ws.ActionPause:
		view, err = h.sessions.Pause(ctx, examID, studentID)
	case ws.ActionResume:
		view, err = h.sessions.Resume(ctx, examID, studentID)
	case ws.ActionSubmit:
		view, err = h.sessions.Submit(ctx, examID, studentID)
	default:
		log.Warn().Str("action", string(msg.Action)).Msg("Unknown action")
		_ = conn.WriteError("unknown action: " + string(msg.Action))
		return
	}

	if err != nil {
		_, code := classify(err)
		_ = conn.WriteTyped(ws.ErrorResponse{
			Event: ws.EventError,
			Code:  string(code),
			Error: response.GetMessage(code),
			Data:  view,
		})
		return
	}
	_ = conn.WriteTyped(ws.StateResponse{Event: ws.EventState, Data: view})
}

// relay forwards published session events until ctx is cancelled.
func (h *WSHandler) relay(ctx context.Context, conn *ws.Conn, sub service.EventStream, log zerolog.Logger) {
	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case m, ok := <-ch:
			if !ok {
				return
			}
			if !json.Valid([]byte(m.Payload)) {
				log.Warn().Str("channel", m.Channel).Msg("Dropping malformed session event")
				continue
			}
			if err := conn.WriteTyped(ws.SessionEventResponse{
				Event: ws.EventSession,
				Data:  json.RawMessage(m.Payload),
			}); err != nil {
				log.Debug().Err(err).Msg("Event relay stopped")
				return
			}
		}
	}
}
