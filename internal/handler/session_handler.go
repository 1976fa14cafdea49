package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stemsi/exstem-session/internal/middleware"
	"github.com/stemsi/exstem-session/internal/model"
	"github.com/stemsi/exstem-session/internal/response"
	"github.com/stemsi/exstem-session/internal/service"
	"github.com/stemsi/exstem-session/internal/session"
	"github.com/stemsi/exstem-session/internal/validator"
)

// SessionService is the registry of live exam sessions.
type SessionService interface {
	StartSession(ctx context.Context, examID uuid.UUID, candidateID int) (*model.SessionView, error)
	GetState(ctx context.Context, examID uuid.UUID, candidateID int) (*model.SessionView, error)
	SetAnswer(ctx context.Context, examID uuid.UUID, candidateID int, c model.Coordinate, value string) (*model.SessionView, error)
	ClearAnswer(ctx context.Context, examID uuid.UUID, candidateID int, c model.Coordinate) (*model.SessionView, error)
	ToggleMark(ctx context.Context, examID uuid.UUID, candidateID int, c model.Coordinate) (*model.SessionView, error)
	Navigate(ctx context.Context, examID uuid.UUID, candidateID int, req *model.NavigateRequest) (*model.SessionView, error)
	Pause(ctx context.Context, examID uuid.UUID, candidateID int) (*model.SessionView, error)
	Resume(ctx context.Context, examID uuid.UUID, candidateID int) (*model.SessionView, error)
	Submit(ctx context.Context, examID uuid.UUID, candidateID int) (*model.SessionView, error)
	CloseSession(ctx context.Context, examID uuid.UUID, candidateID int) error
	ListAttempts(ctx context.Context, candidateID int) ([]model.SessionRecord, error)
}

type questionSource interface {
	FetchQuestions(ctx context.Context, examID uuid.UUID) ([]model.Question, error)
}

// SessionHandler serves the candidate-facing exam session endpoints.
type SessionHandler struct {
	sessions  SessionService
	questions questionSource
}

// NewSessionHandler creates a new SessionHandler.
func NewSessionHandler(sessions SessionService, questions questionSource) *SessionHandler {
	return &SessionHandler{sessions: sessions, questions: questions}
}

// target resolves the candidate and exam of the request, writing the error response itself.
func target(c *gin.Context) (uuid.UUID, int, bool) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return uuid.Nil, 0, false
	}

	examID, err := uuid.Parse(c.Param("exam_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return uuid.Nil, 0, false
	}
	return examID, claims.UserID, true
}

// ListAttempts godoc
// GET /api/v1/student/sessions
// Returns every recorded attempt of the candidate.
func (h *SessionHandler) ListAttempts(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	records, err := h.sessions.ListAttempts(c.Request.Context(), claims.UserID)
	if err != nil {
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"sessions": records})
}

// Start godoc
// POST /api/v1/student/exams/:exam_id/session
// Opens the session, restoring a recent checkpoint if there is one. Idempotent.
func (h *SessionHandler) Start(c *gin.Context) {
	examID, studentID, ok := target(c)
	if !ok {
		return
	}
	view, err := h.sessions.StartSession(c.Request.Context(), examID, studentID)
	respond(c, view, err)
}

// GetState godoc
// GET /api/v1/student/exams/:exam_id/session
// Returns the session view. The frontend calls this after a page reload.
func (h *SessionHandler) GetState(c *gin.Context) {
	examID, studentID, ok := target(c)
	if !ok {
		return
	}
	view, err := h.sessions.GetState(c.Request.Context(), examID, studentID)
	respond(c, view, err)
}

// GetPaper godoc
// GET /api/v1/student/exams/:exam_id/session/paper
// Returns the questions in section order. Requires a live session so papers
// cannot be downloaded before the exam is started.
func (h *SessionHandler) GetPaper(c *gin.Context) {
	examID, studentID, ok := target(c)
	if !ok {
		return
	}
	if _, err := h.sessions.GetState(c.Request.Context(), examID, studentID); err != nil {
		respond(c, nil, err)
		return
	}

	questions, err := h.questions.FetchQuestions(c.Request.Context(), examID)
	if err != nil {
		respond(c, nil, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"questions": questions})
}

// SetAnswer godoc
// PUT /api/v1/student/exams/:exam_id/session/answers
func (h *SessionHandler) SetAnswer(c *gin.Context) {
	examID, studentID, ok := target(c)
	if !ok {
		return
	}

	var req model.AnswerRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	view, err := h.sessions.SetAnswer(c.Request.Context(), examID, studentID, req.Coordinate(), req.Answer)
	respond(c, view, err)
}

// ClearAnswer godoc
// DELETE /api/v1/student/exams/:exam_id/session/answers
func (h *SessionHandler) ClearAnswer(c *gin.Context) {
	examID, studentID, ok := target(c)
	if !ok {
		return
	}

	var req model.MarkRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	view, err := h.sessions.ClearAnswer(c.Request.Context(), examID, studentID, req.Coordinate())
	respond(c, view, err)
}

// ToggleMark godoc
// POST /api/v1/student/exams/:exam_id/session/marks
func (h *SessionHandler) ToggleMark(c *gin.Context) {
	examID, studentID, ok := target(c)
	if !ok {
		return
	}

	var req model.MarkRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	view, err := h.sessions.ToggleMark(c.Request.Context(), examID, studentID, req.Coordinate())
	respond(c, view, err)
}

// Navigate godoc
// POST /api/v1/student/exams/:exam_id/session/navigate
func (h *SessionHandler) Navigate(c *gin.Context) {
	examID, studentID, ok := target(c)
	if !ok {
		return
	}

	var req model.NavigateRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	view, err := h.sessions.Navigate(c.Request.Context(), examID, studentID, &req)
	respond(c, view, err)
}

// Pause godoc
// POST /api/v1/student/exams/:exam_id/session/pause
func (h *SessionHandler) Pause(c *gin.Context) {
	examID, studentID, ok := target(c)
	if !ok {
		return
	}
	view, err := h.sessions.Pause(c.Request.Context(), examID, studentID)
	respond(c, view, err)
}

// Resume godoc
// POST /api/v1/student/exams/:exam_id/session/resume
func (h *SessionHandler) Resume(c *gin.Context) {
	examID, studentID, ok := target(c)
	if !ok {
		return
	}
	view, err := h.sessions.Resume(c.Request.Context(), examID, studentID)
	respond(c, view, err)
}

// Submit godoc
// POST /api/v1/student/exams/:exam_id/session/submit
// Blocks until the backend acknowledges. A failed submit can be retried.
func (h *SessionHandler) Submit(c *gin.Context) {
	examID, studentID, ok := target(c)
	if !ok {
		return
	}
	view, err := h.sessions.Submit(c.Request.Context(), examID, studentID)
	respond(c, view, err)
}

// Close godoc
// DELETE /api/v1/student/exams/:exam_id/session
// Checkpoints and unloads the session. The attempt resumes on the next start.
func (h *SessionHandler) Close(c *gin.Context) {
	examID, studentID, ok := target(c)
	if !ok {
		return
	}
	if err := h.sessions.CloseSession(c.Request.Context(), examID, studentID); err != nil {
		respond(c, nil, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"status": "closed"})
}

func respond(c *gin.Context, view *model.SessionView, err error) {
	if err == nil {
		response.Success(c, http.StatusOK, view)
		return
	}
	status, code := classify(err)
	if view != nil {
		response.FailWithData(c, status, code, view)
		return
	}
	response.Fail(c, status, code)
}

// classify maps session and registry errors to an HTTP status and error code.
func classify(err error) (int, response.ErrCode) {
	var netErr *session.TransientNetworkError
	switch {
	case errors.Is(err, service.ErrSessionNotFound):
		return http.StatusNotFound, response.ErrSessionNotFound
	case errors.Is(err, service.ErrAlreadySubmitted):
		return http.StatusConflict, response.ErrAlreadySubmitted
	case errors.Is(err, service.ErrUnknownAction):
		return http.StatusBadRequest, response.ErrUnknownNavigateAct
	case errors.Is(err, service.ErrExamNotTakeable):
		return http.StatusForbidden, response.ErrExamNotAvailable
	case errors.Is(err, service.ErrExamNotFound), errors.Is(err, session.ErrResourceNotFound):
		return http.StatusNotFound, response.ErrExamNotFound
	case errors.Is(err, session.ErrInvalidCoordinate):
		return http.StatusBadRequest, response.ErrInvalidCoordinate
	case errors.Is(err, session.ErrSessionPaused):
		return http.StatusConflict, response.ErrSessionPaused
	case errors.Is(err, session.ErrSessionClosed):
		return http.StatusConflict, response.ErrSessionClosed
	case errors.Is(err, session.ErrInvalidTransition):
		return http.StatusConflict, response.ErrInvalidTransition
	case errors.As(err, &netErr):
		return http.StatusBadGateway, response.ErrSubmitFailed
	default:
		return http.StatusInternalServerError, response.ErrInternal
	}
}
