package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-session/internal/model"
	"github.com/stemsi/exstem-session/internal/session"
	"golang.org/x/sync/singleflight"
)

// Registry errors.
var (
	ErrSessionNotFound  = errors.New("no active session for this exam")
	ErrAlreadySubmitted = errors.New("exam already submitted")
	ErrUnknownAction    = errors.New("unknown navigate action")
)

// submittedLinger is how long a submitted session stays readable before it is evicted.
const submittedLinger = 2 * time.Minute

type sessionRecords interface {
	GetByExamAndStudent(ctx context.Context, examID uuid.UUID, studentID int) (*model.SessionRecord, error)
	Create(ctx context.Context, s *model.SessionRecord) error
	ListByStudent(ctx context.Context, studentID int) ([]model.SessionRecord, error)
}

type sessionKey struct {
	examID      uuid.UUID
	candidateID int
}

func (k sessionKey) String() string { return fmt.Sprintf("%d:%s", k.candidateID, k.examID) }

// ExamSessionService keeps the live sessions of this instance, one per exam and candidate.
type ExamSessionService struct {
	records sessionRecords
	deps    session.Dependencies
	opts    session.Options
	linger  time.Duration
	opening singleflight.Group

	mu       sync.Mutex
	sessions map[sessionKey]*session.Session

	log zerolog.Logger
}

// NewExamSessionService creates a new ExamSessionService.
func NewExamSessionService(records sessionRecords, deps session.Dependencies, opts session.Options, log zerolog.Logger) *ExamSessionService {
	s := &ExamSessionService{
		records:  records,
		opts:     opts,
		linger:   submittedLinger,
		sessions: make(map[sessionKey]*session.Session),
		log:      log.With().Str("component", "exam_session_service").Logger(),
	}
	s.opts.Logger = log
	deps.Notifier = &lifecycleNotifier{next: deps.Notifier, onSubmitted: s.scheduleEviction}
	s.deps = deps
	return s
}

// StartSession opens the candidate's session, or returns the one already running.
// A previously interrupted attempt is restored from its checkpoint.
func (s *ExamSessionService) StartSession(ctx context.Context, examID uuid.UUID, candidateID int) (*model.SessionView, error) {
	key := sessionKey{examID: examID, candidateID: candidateID}
	if sess := s.lookup(key); sess != nil {
		return sess.View(ctx)
	}

	v, err, _ := s.opening.Do(key.String(), func() (interface{}, error) {
		if sess := s.lookup(key); sess != nil {
			return sess, nil
		}
		if err := s.ensureRecord(ctx, examID, candidateID); err != nil {
			return nil, err
		}
		sess, err := session.Open(ctx, examID, candidateID, s.deps, s.opts)
		if err != nil {
			return nil, err
		}
		s.mu.Lock()
		s.sessions[key] = sess
		s.mu.Unlock()

		s.log.Info().
			Str("exam_id", examID.String()).
			Int("student_id", candidateID).
			Msg("Session opened")
		return sess, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*session.Session).View(ctx)
}

// ensureRecord creates the exam_sessions row on first start and refuses a finished attempt.
func (s *ExamSessionService) ensureRecord(ctx context.Context, examID uuid.UUID, candidateID int) error {
	existing, err := s.records.GetByExamAndStudent(ctx, examID, candidateID)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("check existing session: %w", err)
	}
	if existing != nil {
		if existing.Status == model.SessionStatusSubmitted {
			return ErrAlreadySubmitted
		}
		return nil
	}

	rec := &model.SessionRecord{ExamID: examID, StudentID: candidateID}
	if err := s.records.Create(ctx, rec); err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

func (s *ExamSessionService) lookup(key sessionKey) *session.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[key]
	if !ok {
		return nil
	}
	select {
	case <-sess.Done():
		delete(s.sessions, key)
		return nil
	default:
		return sess
	}
}

func (s *ExamSessionService) active(examID uuid.UUID, candidateID int) (*session.Session, error) {
	sess := s.lookup(sessionKey{examID: examID, candidateID: candidateID})
	if sess == nil {
		return nil, ErrSessionNotFound
	}
	return sess, nil
}

// GetState returns the current view of a live session.
func (s *ExamSessionService) GetState(ctx context.Context, examID uuid.UUID, candidateID int) (*model.SessionView, error) {
	sess, err := s.active(examID, candidateID)
	if err != nil {
		return nil, err
	}
	return sess.View(ctx)
}

// SetAnswer records an answer.
func (s *ExamSessionService) SetAnswer(ctx context.Context, examID uuid.UUID, candidateID int, c model.Coordinate, value string) (*model.SessionView, error) {
	sess, err := s.active(examID, candidateID)
	if err != nil {
		return nil, err
	}
	return sess.SetAnswer(ctx, c, value)
}

// ClearAnswer removes an answer.
func (s *ExamSessionService) ClearAnswer(ctx context.Context, examID uuid.UUID, candidateID int, c model.Coordinate) (*model.SessionView, error) {
	sess, err := s.active(examID, candidateID)
	if err != nil {
		return nil, err
	}
	return sess.ClearAnswer(ctx, c)
}

// ToggleMark flips a review mark.
func (s *ExamSessionService) ToggleMark(ctx context.Context, examID uuid.UUID, candidateID int, c model.Coordinate) (*model.SessionView, error) {
	sess, err := s.active(examID, candidateID)
	if err != nil {
		return nil, err
	}
	return sess.ToggleMark(ctx, c)
}

// Navigate moves the cursor.
func (s *ExamSessionService) Navigate(ctx context.Context, examID uuid.UUID, candidateID int, req *model.NavigateRequest) (*model.SessionView, error) {
	sess, err := s.active(examID, candidateID)
	if err != nil {
		return nil, err
	}
	switch req.Action {
	case model.NavigateGoto:
		if req.SectionIndex == nil || req.QuestionIndex == nil {
			return nil, session.ErrInvalidCoordinate
		}
		return sess.Goto(ctx, model.Coordinate{Section: *req.SectionIndex, Question: *req.QuestionIndex})
	case model.NavigateNext:
		return sess.Next(ctx)
	case model.NavigatePrevious:
		return sess.Previous(ctx)
	default:
		return nil, ErrUnknownAction
	}
}

// Pause freezes the session's timers.
func (s *ExamSessionService) Pause(ctx context.Context, examID uuid.UUID, candidateID int) (*model.SessionView, error) {
	sess, err := s.active(examID, candidateID)
	if err != nil {
		return nil, err
	}
	return sess.Pause(ctx)
}

// Resume restarts the session's timers.
func (s *ExamSessionService) Resume(ctx context.Context, examID uuid.UUID, candidateID int) (*model.SessionView, error) {
	sess, err := s.active(examID, candidateID)
	if err != nil {
		return nil, err
	}
	return sess.Resume(ctx)
}

// Submit finalizes the session manually.
func (s *ExamSessionService) Submit(ctx context.Context, examID uuid.UUID, candidateID int) (*model.SessionView, error) {
	sess, err := s.active(examID, candidateID)
	if err != nil {
		return nil, err
	}
	return sess.Submit(ctx)
}

// CloseSession checkpoints and stops a live session. The attempt can be resumed later.
func (s *ExamSessionService) CloseSession(ctx context.Context, examID uuid.UUID, candidateID int) error {
	key := sessionKey{examID: examID, candidateID: candidateID}
	s.mu.Lock()
	sess, ok := s.sessions[key]
	delete(s.sessions, key)
	s.mu.Unlock()
	if !ok {
		return ErrSessionNotFound
	}
	return sess.Close(ctx)
}

// ListAttempts returns the candidate's recorded attempts.
func (s *ExamSessionService) ListAttempts(ctx context.Context, candidateID int) ([]model.SessionRecord, error) {
	records, err := s.records.ListByStudent(ctx, candidateID)
	if err != nil {
		return nil, err
	}
	if records == nil {
		records = []model.SessionRecord{}
	}
	return records, nil
}

// ActiveCount returns the number of sessions held by this instance.
func (s *ExamSessionService) ActiveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Shutdown closes every live session so each leaves a fresh checkpoint behind.
func (s *ExamSessionService) Shutdown(ctx context.Context) {
	s.mu.Lock()
	sessions := make([]*session.Session, 0, len(s.sessions))
	for k, sess := range s.sessions {
		sessions = append(sessions, sess)
		delete(s.sessions, k)
	}
	s.mu.Unlock()

	var wg sync.WaitGroup
	for _, sess := range sessions {
		wg.Add(1)
		go func(sess *session.Session) {
			defer wg.Done()
			if err := sess.Close(ctx); err != nil {
				s.log.Warn().Err(err).
					Str("exam_id", sess.ExamID().String()).
					Int("student_id", sess.CandidateID()).
					Msg("Failed to close session on shutdown")
			}
		}(sess)
	}
	wg.Wait()
	s.log.Info().Int("count", len(sessions)).Msg("Sessions closed")
}

func (s *ExamSessionService) scheduleEviction(examID uuid.UUID, candidateID int) {
	key := sessionKey{examID: examID, candidateID: candidateID}
	time.AfterFunc(s.linger, func() {
		s.mu.Lock()
		sess, ok := s.sessions[key]
		if ok {
			delete(s.sessions, key)
		}
		s.mu.Unlock()
		if ok {
			_ = sess.Close(context.Background())
		}
	})
}

// lifecycleNotifier forwards events and tells the registry when a session is done.
type lifecycleNotifier struct {
	next        session.Notifier
	onSubmitted func(examID uuid.UUID, candidateID int)
}

func (n *lifecycleNotifier) Notify(ctx context.Context, ev model.SessionEvent) error {
	if ev.Type == model.EventSubmitted && n.onSubmitted != nil {
		n.onSubmitted(ev.ExamID, ev.CandidateID)
	}
	if n.next == nil {
		return nil
	}
	return n.next.Notify(ctx, ev)
}
