package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-session/internal/model"
	"github.com/stemsi/exstem-session/internal/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ─── Fakes ─────────────────────────────────────────────────────────────

type stubRecords struct {
	mu      sync.Mutex
	byKey   map[string]*model.SessionRecord
	creates int
	listErr error
}

func newStubRecords() *stubRecords {
	return &stubRecords{byKey: make(map[string]*model.SessionRecord)}
}

func recordKey(examID uuid.UUID, studentID int) string {
	return fmt.Sprintf("%d/%s", studentID, examID)
}

func (r *stubRecords) GetByExamAndStudent(ctx context.Context, examID uuid.UUID, studentID int) (*model.SessionRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.byKey[recordKey(examID, studentID)]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return rec, nil
}

func (r *stubRecords) Create(ctx context.Context, s *model.SessionRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.creates++
	s.Status = model.SessionStatusInProgress
	r.byKey[recordKey(s.ExamID, s.StudentID)] = s
	return nil
}

func (r *stubRecords) ListByStudent(ctx context.Context, studentID int) ([]model.SessionRecord, error) {
	if r.listErr != nil {
		return nil, r.listErr
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.SessionRecord
	for _, rec := range r.byKey {
		if rec.StudentID == studentID {
			out = append(out, *rec)
		}
	}
	return out, nil
}

type stubSource struct {
	exam      *model.Exam
	questions []model.Question
	fetches   atomic.Int32
}

func (s *stubSource) FetchExam(ctx context.Context, examID uuid.UUID) (*model.Exam, error) {
	s.fetches.Add(1)
	if s.exam == nil || s.exam.ID != examID {
		return nil, ErrExamNotFound
	}
	return s.exam, nil
}

func (s *stubSource) FetchQuestions(ctx context.Context, examID uuid.UUID) ([]model.Question, error) {
	return s.questions, nil
}

type stubLocal struct {
	mu   sync.Mutex
	data map[string][]byte
}

func (l *stubLocal) Load(ctx context.Context, examID uuid.UUID, candidateID int) ([]byte, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.data[recordKey(examID, candidateID)], nil
}

func (l *stubLocal) Save(ctx context.Context, examID uuid.UUID, candidateID int, data []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.data[recordKey(examID, candidateID)] = data
	return nil
}

func (l *stubLocal) Delete(ctx context.Context, examID uuid.UUID, candidateID int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.data, recordKey(examID, candidateID))
	return nil
}

type stubRemote struct{}

func (stubRemote) PersistCheckpoint(ctx context.Context, cp *model.Checkpoint) error { return nil }

type stubSubmitter struct {
	err error
}

func (s *stubSubmitter) SubmitSession(ctx context.Context, p *model.SubmissionPayload) (*model.SubmissionAck, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &model.SubmissionAck{Accepted: true, ReceivedAt: time.Now()}, nil
}

type eventLog struct {
	mu    sync.Mutex
	types []model.EventType
}

func (e *eventLog) Notify(ctx context.Context, ev model.SessionEvent) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.types = append(e.types, ev.Type)
	return nil
}

func (e *eventLog) seen(t model.EventType) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, got := range e.types {
		if got == t {
			return true
		}
	}
	return false
}

// idleTicker never fires so tests drive sessions through commands only.
type idleTicker struct{}

func (idleTicker) C() <-chan time.Time { return nil }
func (idleTicker) Stop()               {}

type fixture struct {
	svc       *ExamSessionService
	records   *stubRecords
	source    *stubSource
	local     *stubLocal
	submitter *stubSubmitter
	events    *eventLog
	examID    uuid.UUID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	exam := &model.Exam{
		ID:               uuid.New(),
		Title:            "Simulasi TKA",
		TotalDurationSec: 600,
		Status:           model.ExamStatusPublished,
		Sections: []model.Section{
			{ID: uuid.New(), Name: "Literasi", DurationSec: 300, QuestionCount: 2, OrderNum: 0},
			{ID: uuid.New(), Name: "Numerasi", DurationSec: 300, QuestionCount: 2, OrderNum: 1},
		},
	}
	questions := make([]model.Question, 0, 4)
	for i := 0; i < 4; i++ {
		questions = append(questions, model.Question{ID: uuid.New(), OrderNum: i % 2})
	}

	f := &fixture{
		records:   newStubRecords(),
		source:    &stubSource{exam: exam, questions: questions},
		local:     &stubLocal{data: make(map[string][]byte)},
		submitter: &stubSubmitter{},
		events:    &eventLog{},
		examID:    exam.ID,
	}
	f.svc = NewExamSessionService(
		f.records,
		session.Dependencies{
			Source:    f.source,
			Local:     f.local,
			Remote:    stubRemote{},
			Submitter: f.submitter,
			Notifier:  f.events,
		},
		session.Options{
			Policy:  session.DefaultPolicy(),
			Tickers: func(time.Duration) session.Ticker { return idleTicker{} },
		},
		zerolog.Nop(),
	)
	t.Cleanup(func() { f.svc.Shutdown(context.Background()) })
	return f
}

func intPtr(v int) *int { return &v }

// ─── Tests ─────────────────────────────────────────────────────────────

func TestStartSessionIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.svc.StartSession(ctx, f.examID, 7)
	require.NoError(t, err)
	assert.Equal(t, model.SessionStatusInProgress, first.Status)
	assert.False(t, first.Restored)

	second, err := f.svc.StartSession(ctx, f.examID, 7)
	require.NoError(t, err)
	assert.Equal(t, first.StartedAt, second.StartedAt)

	assert.Equal(t, 1, f.svc.ActiveCount())
	assert.Equal(t, 1, f.records.creates)
	assert.EqualValues(t, 1, f.source.fetches.Load())
}

func TestStartSessionConcurrentCallersShareOneSession(t *testing.T) {
	f := newFixture(t)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.StartSession(context.Background(), f.examID, 7)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, f.svc.ActiveCount())
}

func TestStartSessionUnknownExam(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.StartSession(context.Background(), uuid.New(), 7)
	require.Error(t, err)
	assert.ErrorIs(t, err, session.ErrResourceNotFound)
	assert.ErrorIs(t, err, ErrExamNotFound)
	assert.Equal(t, 0, f.svc.ActiveCount())
}

func TestStartSessionRefusesSubmittedAttempt(t *testing.T) {
	f := newFixture(t)
	f.records.byKey[recordKey(f.examID, 7)] = &model.SessionRecord{
		ExamID: f.examID, StudentID: 7, Status: model.SessionStatusSubmitted,
	}

	_, err := f.svc.StartSession(context.Background(), f.examID, 7)
	assert.ErrorIs(t, err, ErrAlreadySubmitted)
}

func TestOperationsWithoutSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.GetState(ctx, f.examID, 7)
	assert.ErrorIs(t, err, ErrSessionNotFound)
	_, err = f.svc.SetAnswer(ctx, f.examID, 7, model.Coordinate{}, "A")
	assert.ErrorIs(t, err, ErrSessionNotFound)
	assert.ErrorIs(t, f.svc.CloseSession(ctx, f.examID, 7), ErrSessionNotFound)
}

func TestAnswerMarkAndNavigate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.svc.StartSession(ctx, f.examID, 7)
	require.NoError(t, err)

	view, err := f.svc.SetAnswer(ctx, f.examID, 7, model.Coordinate{Section: 0, Question: 1}, "B")
	require.NoError(t, err)
	assert.Equal(t, "B", view.Answers[model.Coordinate{Section: 0, Question: 1}])

	view, err = f.svc.ToggleMark(ctx, f.examID, 7, model.Coordinate{Section: 0, Question: 0})
	require.NoError(t, err)
	assert.Len(t, view.MarkedForReview, 1)

	view, err = f.svc.Navigate(ctx, f.examID, 7, &model.NavigateRequest{Action: model.NavigateNext})
	require.NoError(t, err)
	assert.Equal(t, model.Coordinate{Section: 0, Question: 1}, view.Cursor)

	view, err = f.svc.Navigate(ctx, f.examID, 7, &model.NavigateRequest{
		Action: model.NavigateGoto, SectionIndex: intPtr(0), QuestionIndex: intPtr(0),
	})
	require.NoError(t, err)
	assert.Equal(t, model.Coordinate{}, view.Cursor)

	view, err = f.svc.ClearAnswer(ctx, f.examID, 7, model.Coordinate{Section: 0, Question: 1})
	require.NoError(t, err)
	assert.Empty(t, view.Answers)
}

func TestNavigateRejectsBadRequests(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.svc.StartSession(ctx, f.examID, 7)
	require.NoError(t, err)

	_, err = f.svc.Navigate(ctx, f.examID, 7, &model.NavigateRequest{Action: "jump"})
	assert.ErrorIs(t, err, ErrUnknownAction)

	_, err = f.svc.Navigate(ctx, f.examID, 7, &model.NavigateRequest{Action: model.NavigateGoto, SectionIndex: intPtr(0)})
	assert.ErrorIs(t, err, session.ErrInvalidCoordinate)

	view, err := f.svc.Navigate(ctx, f.examID, 7, &model.NavigateRequest{
		Action: model.NavigateGoto, SectionIndex: intPtr(9), QuestionIndex: intPtr(0),
	})
	assert.ErrorIs(t, err, session.ErrInvalidCoordinate)
	require.NotNil(t, view, "errors from the session carry the current view")
	assert.Equal(t, model.Coordinate{}, view.Cursor)
}

func TestPauseBlocksAnswersUntilResume(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.svc.StartSession(ctx, f.examID, 7)
	require.NoError(t, err)

	view, err := f.svc.Pause(ctx, f.examID, 7)
	require.NoError(t, err)
	assert.Equal(t, model.SessionStatusPaused, view.Status)

	_, err = f.svc.SetAnswer(ctx, f.examID, 7, model.Coordinate{}, "A")
	assert.ErrorIs(t, err, session.ErrSessionPaused)

	view, err = f.svc.Resume(ctx, f.examID, 7)
	require.NoError(t, err)
	assert.Equal(t, model.SessionStatusInProgress, view.Status)
}

func TestCloseThenRestartRestoresCheckpoint(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.svc.StartSession(ctx, f.examID, 7)
	require.NoError(t, err)
	_, err = f.svc.SetAnswer(ctx, f.examID, 7, model.Coordinate{Section: 0, Question: 0}, "C")
	require.NoError(t, err)

	require.NoError(t, f.svc.CloseSession(ctx, f.examID, 7))
	assert.Equal(t, 0, f.svc.ActiveCount())

	view, err := f.svc.StartSession(ctx, f.examID, 7)
	require.NoError(t, err)
	assert.True(t, view.Restored)
	assert.Equal(t, "C", view.Answers[model.Coordinate{Section: 0, Question: 0}])
	assert.Equal(t, 1, f.records.creates)
}

func TestSubmitEvictsAfterLinger(t *testing.T) {
	f := newFixture(t)
	f.svc.linger = 10 * time.Millisecond
	ctx := context.Background()
	_, err := f.svc.StartSession(ctx, f.examID, 7)
	require.NoError(t, err)

	view, err := f.svc.Submit(ctx, f.examID, 7)
	require.NoError(t, err)
	assert.Equal(t, model.SessionStatusSubmitted, view.Status)

	assert.Eventually(t, func() bool { return f.events.seen(model.EventSubmitted) }, time.Second, 5*time.Millisecond)
	assert.Eventually(t, func() bool { return f.svc.ActiveCount() == 0 }, time.Second, 5*time.Millisecond)
}

func TestFailedSubmitCanBeRetried(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.svc.StartSession(ctx, f.examID, 7)
	require.NoError(t, err)

	f.submitter.err = &session.TransientNetworkError{Op: "submit", Err: errors.New("connection reset")}
	view, err := f.svc.Submit(ctx, f.examID, 7)
	var netErr *session.TransientNetworkError
	require.ErrorAs(t, err, &netErr)
	require.NotNil(t, view)
	assert.Equal(t, model.SessionStatusInProgress, view.Status)

	f.submitter.err = nil
	view, err = f.svc.Submit(ctx, f.examID, 7)
	require.NoError(t, err)
	assert.Equal(t, model.SessionStatusSubmitted, view.Status)
}

func TestListAttempts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	records, err := f.svc.ListAttempts(ctx, 7)
	require.NoError(t, err)
	assert.NotNil(t, records)
	assert.Empty(t, records)

	_, err = f.svc.StartSession(ctx, f.examID, 7)
	require.NoError(t, err)
	records, err = f.svc.ListAttempts(ctx, 7)
	require.NoError(t, err)
	assert.Len(t, records, 1)

	f.records.listErr = errors.New("db down")
	_, err = f.svc.ListAttempts(ctx, 7)
	assert.Error(t, err)
}

func TestShutdownClosesEverySession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for cand := 1; cand <= 3; cand++ {
		_, err := f.svc.StartSession(ctx, f.examID, cand)
		require.NoError(t, err)
	}
	require.Equal(t, 3, f.svc.ActiveCount())

	f.svc.Shutdown(ctx)
	assert.Equal(t, 0, f.svc.ActiveCount())
	for cand := 1; cand <= 3; cand++ {
		data, _ := f.local.Load(ctx, f.examID, cand)
		assert.NotEmpty(t, data, "candidate %d left a checkpoint", cand)
	}
}
