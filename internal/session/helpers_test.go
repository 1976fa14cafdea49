package session

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-session/internal/model"
	"github.com/stretchr/testify/require"
)

// ─── Exam fixtures ─────────────────────────────────────────────────────

func newExam(totalSec int, sections ...model.Section) (*model.Exam, []model.Question) {
	exam := &model.Exam{
		ID:               uuid.New(),
		Title:            "Tryout UTBK",
		TotalDurationSec: totalSec,
		Status:           model.ExamStatusPublished,
	}
	var questions []model.Question
	for i, sec := range sections {
		sec.ID = uuid.New()
		sec.OrderNum = i
		if sec.Name == "" {
			sec.Name = fmt.Sprintf("Section %d", i+1)
		}
		exam.Sections = append(exam.Sections, sec)
		for q := 0; q < sec.QuestionCount; q++ {
			questions = append(questions, model.Question{ID: uuid.New(), OrderNum: q})
		}
	}
	return exam, questions
}

func sec(durationSec, questions int) model.Section {
	return model.Section{DurationSec: durationSec, QuestionCount: questions}
}

func coord(s, q int) model.Coordinate { return model.Coordinate{Section: s, Question: q} }

// ─── Collaborator fakes ────────────────────────────────────────────────

type fakeSource struct {
	exam      *model.Exam
	questions []model.Question
	examErr   error
	qErr      error
}

func (f *fakeSource) FetchExam(ctx context.Context, examID uuid.UUID) (*model.Exam, error) {
	if f.examErr != nil {
		return nil, f.examErr
	}
	return f.exam, nil
}

func (f *fakeSource) FetchQuestions(ctx context.Context, examID uuid.UUID) ([]model.Question, error) {
	if f.qErr != nil {
		return nil, f.qErr
	}
	return f.questions, nil
}

type memLocal struct {
	mu      sync.Mutex
	data    map[string][]byte
	saves   int
	deletes int
	loadErr error
	saveErr error
}

func newMemLocal() *memLocal { return &memLocal{data: make(map[string][]byte)} }

func localKey(examID uuid.UUID, candidateID int) string {
	return fmt.Sprintf("%d/%s", candidateID, examID)
}

func (m *memLocal) Load(ctx context.Context, examID uuid.UUID, candidateID int) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.loadErr != nil {
		return nil, m.loadErr
	}
	return m.data[localKey(examID, candidateID)], nil
}

func (m *memLocal) Save(ctx context.Context, examID uuid.UUID, candidateID int, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	m.saves++
	m.data[localKey(examID, candidateID)] = append([]byte(nil), data...)
	return nil
}

func (m *memLocal) Delete(ctx context.Context, examID uuid.UUID, candidateID int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deletes++
	delete(m.data, localKey(examID, candidateID))
	return nil
}

func (m *memLocal) has(examID uuid.UUID, candidateID int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.data[localKey(examID, candidateID)]
	return ok
}

func (m *memLocal) put(examID uuid.UUID, candidateID int, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[localKey(examID, candidateID)] = data
}

func (m *memLocal) saveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}

type fakeRemote struct {
	mu    sync.Mutex
	got   []*model.Checkpoint
	err   error
	gate  chan struct{}
	calls atomic.Int32
}

func (f *fakeRemote) PersistCheckpoint(ctx context.Context, cp *model.Checkpoint) error {
	f.calls.Add(1)
	if f.gate != nil {
		<-f.gate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.got = append(f.got, cp)
	return f.err
}

type fakeSubmitter struct {
	mu       sync.Mutex
	calls    int
	payloads []*model.SubmissionPayload
	errs     []error
	gate     chan struct{}
}

func (f *fakeSubmitter) SubmitSession(ctx context.Context, p *model.SubmissionPayload) (*model.SubmissionAck, error) {
	f.mu.Lock()
	f.calls++
	f.payloads = append(f.payloads, p)
	var err error
	if len(f.errs) > 0 {
		err = f.errs[0]
		f.errs = f.errs[1:]
	}
	gate := f.gate
	f.mu.Unlock()

	if gate != nil {
		<-gate
	}
	if err != nil {
		return nil, err
	}
	return &model.SubmissionAck{Accepted: true, ReceivedAt: time.Now()}, nil
}

func (f *fakeSubmitter) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeSubmitter) lastPayload() *model.SubmissionPayload {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.payloads) == 0 {
		return nil
	}
	return f.payloads[len(f.payloads)-1]
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []model.SessionEvent
}

func (r *recordingNotifier) Notify(ctx context.Context, ev model.SessionEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *recordingNotifier) has(t model.EventType) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ev := range r.events {
		if ev.Type == t {
			return true
		}
	}
	return false
}

// countingFinalizer moves state to SUBMITTING the way the session loop does.
type countingFinalizer struct {
	state   *StateStore
	calls   int
	reasons []model.SubmitReason
}

func (f *countingFinalizer) Finalize(reason model.SubmitReason) {
	f.calls++
	f.reasons = append(f.reasons, reason)
	if f.state != nil {
		f.state.setStatus(model.SessionStatusSubmitting)
	}
}

// ─── Manual tickers ────────────────────────────────────────────────────

type manualTicker struct {
	ch      chan time.Time
	stopped atomic.Bool
}

func (t *manualTicker) C() <-chan time.Time { return t.ch }
func (t *manualTicker) Stop()               { t.stopped.Store(true) }

type manualTickers struct {
	mu      sync.Mutex
	created map[time.Duration][]*manualTicker
}

func newManualTickers() *manualTickers {
	return &manualTickers{created: make(map[time.Duration][]*manualTicker)}
}

func (m *manualTickers) factory(period time.Duration) Ticker {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := &manualTicker{ch: make(chan time.Time)}
	m.created[period] = append(m.created[period], t)
	return t
}

func (m *manualTickers) all(period time.Duration) []*manualTicker {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*manualTicker(nil), m.created[period]...)
}

func (m *manualTickers) live(period time.Duration) []*manualTicker {
	var out []*manualTicker
	for _, t := range m.all(period) {
		if !t.stopped.Load() {
			out = append(out, t)
		}
	}
	return out
}

// tick delivers one tick to the single live ticker with the given period.
func (m *manualTickers) tick(t *testing.T, period time.Duration) {
	t.Helper()
	live := m.live(period)
	require.Len(t, live, 1, "expected exactly one armed ticker")
	select {
	case live[0].ch <- time.Now():
	case <-time.After(2 * time.Second):
		t.Fatal("tick was not consumed")
	}
}

// ─── Session helpers ───────────────────────────────────────────────────

type harness struct {
	exam      *model.Exam
	questions []model.Question
	local     *memLocal
	remote    *fakeRemote
	submitter *fakeSubmitter
	notifier  *recordingNotifier
	tickers   *manualTickers
	policy    Policy
}

func newHarness(exam *model.Exam, questions []model.Question) *harness {
	p := DefaultPolicy()
	p.AutoSubmitBackoff = time.Millisecond
	return &harness{
		exam:      exam,
		questions: questions,
		local:     newMemLocal(),
		remote:    &fakeRemote{},
		submitter: &fakeSubmitter{},
		notifier:  &recordingNotifier{},
		tickers:   newManualTickers(),
		policy:    p,
	}
}

func (h *harness) open(t *testing.T, candidateID int) *Session {
	t.Helper()
	s, err := Open(context.Background(), h.exam.ID, candidateID, Dependencies{
		Source:    &fakeSource{exam: h.exam, questions: h.questions},
		Local:     h.local,
		Remote:    h.remote,
		Submitter: h.submitter,
		Notifier:  h.notifier,
	}, Options{
		Policy:  h.policy,
		Tickers: h.tickers.factory,
		Logger:  zerolog.Nop(),
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = s.Close(context.Background())
		s.ckpt.wait()
	})
	return s
}

func (h *harness) tickSeconds(t *testing.T, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		h.tickers.tick(t, h.policy.TickInterval)
	}
}

func newState(exam *model.Exam) *StateStore {
	return NewStateStore(initialize(exam, 7, time.Now()))
}

// ─── Test-only shortcuts ───────────────────────────────────────────────

// finalize runs Begin, Execute and Settle in one call, outside a session loop.
func (c *Coordinator) finalize(ctx context.Context, p *model.SubmissionPayload) (bool, *model.SubmissionAck, error) {
	if !c.Begin() {
		return false, nil, nil
	}
	ack, err := c.Execute(ctx, p)
	c.Settle(p.Reason, err)
	return true, ack, err
}

func (c *Coordinator) tripped() bool { return c.latch.Load() }

func (c *Checkpointer) wait() { c.inflight.Wait() }
