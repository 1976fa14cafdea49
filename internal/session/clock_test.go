package session

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-session/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type clockRig struct {
	state   *StateStore
	nav     *Navigator
	fin     *countingFinalizer
	clock   *Clock
	tickers *manualTickers
	events  []model.EventType
}

func newClockRig(exam *model.Exam, p Policy) *clockRig {
	r := &clockRig{tickers: newManualTickers()}
	r.state = newState(exam)
	r.nav = NewNavigator(r.state, p.Revisit)
	r.fin = &countingFinalizer{state: r.state}
	r.clock = NewClock(r.state, r.nav, r.fin, r.tickers.factory, p, zerolog.Nop())
	r.clock.notify = func(t model.EventType, _ map[string]any) { r.events = append(r.events, t) }
	return r
}

func (r *clockRig) tick(n int) {
	for i := 0; i < n; i++ {
		r.clock.Tick()
	}
}

func TestClock_SectionExpiryAdvancesWithAnswersIntact(t *testing.T) {
	exam, _ := newExam(1800, sec(600, 5), sec(900, 5))
	r := newClockRig(exam, DefaultPolicy())
	require.NoError(t, r.state.SetAnswer(coord(0, 0), "B"))
	r.clock.Start()

	r.tick(600)

	s := r.state.Session()
	assert.Equal(t, coord(1, 0), s.Cursor())
	assert.Equal(t, 900, s.SectionTimeRemainingSec)
	assert.Equal(t, 1200, s.TimeRemainingSec)
	assert.Equal(t, "B", s.Answers[coord(0, 0)])
	assert.Zero(t, r.fin.calls)
	assert.True(t, r.clock.Armed())
}

func TestClock_OverallExpiryFinalizesOnce(t *testing.T) {
	exam, _ := newExam(3, sec(600, 2))
	r := newClockRig(exam, DefaultPolicy())
	r.clock.Start()

	r.tick(10)

	assert.Equal(t, 1, r.fin.calls)
	assert.Equal(t, []model.SubmitReason{model.SubmitReasonTimeout}, r.fin.reasons)
	assert.Zero(t, r.state.Session().TimeRemainingSec)
	assert.False(t, r.clock.Armed())
}

func TestClock_OverallExpiryWinsOverSectionExpiry(t *testing.T) {
	exam, _ := newExam(5, sec(5, 2), sec(600, 2))
	r := newClockRig(exam, DefaultPolicy())
	r.clock.Start()

	r.tick(5)

	assert.Equal(t, 1, r.fin.calls)
	assert.Equal(t, 0, r.state.Session().CurrentSectionIndex, "no section advance on the final tick")
}

func TestClock_LastSectionAwaitsOverall(t *testing.T) {
	exam, _ := newExam(20, sec(10, 2))
	r := newClockRig(exam, DefaultPolicy())
	r.clock.Start()

	r.tick(15)
	s := r.state.Session()
	assert.Zero(t, r.fin.calls)
	assert.Zero(t, s.SectionTimeRemainingSec)
	assert.Equal(t, 5, s.TimeRemainingSec)
	assert.Equal(t, model.SessionStatusInProgress, s.Status)

	r.tick(5)
	assert.Equal(t, 1, r.fin.calls)
}

func TestClock_LastSectionSubmitPolicy(t *testing.T) {
	p := DefaultPolicy()
	p.LastSection = LastSectionSubmit
	exam, _ := newExam(20, sec(10, 2))
	r := newClockRig(exam, p)
	r.clock.Start()

	r.tick(12)

	assert.Equal(t, 1, r.fin.calls)
	assert.Equal(t, 10, r.state.Session().TimeRemainingSec)
	assert.False(t, r.clock.Armed())
}

func TestClock_PauseFreezesAndResumeRearmsOnce(t *testing.T) {
	exam, _ := newExam(100, sec(50, 2))
	r := newClockRig(exam, DefaultPolicy())
	s := r.state.Session()

	r.clock.Start()
	r.clock.Start()
	assert.Len(t, r.tickers.all(time.Second), 2)
	assert.Len(t, r.tickers.live(time.Second), 1, "restart cancels the previous ticker")

	r.tick(10)
	require.NoError(t, r.clock.Pause())
	assert.Equal(t, model.SessionStatusPaused, s.Status)
	assert.False(t, r.clock.Armed())
	assert.Nil(t, r.clock.C())
	assert.Empty(t, r.tickers.live(time.Second))

	r.tick(30)
	assert.Equal(t, 90, s.TimeRemainingSec)
	assert.Equal(t, 40, s.SectionTimeRemainingSec)

	assert.ErrorIs(t, r.clock.Pause(), ErrInvalidTransition)
	require.NoError(t, r.clock.Resume())
	assert.ErrorIs(t, r.clock.Resume(), ErrInvalidTransition)
	assert.Len(t, r.tickers.live(time.Second), 1)

	r.tick(1)
	assert.Equal(t, 89, s.TimeRemainingSec)
	assert.Equal(t, 39, s.SectionTimeRemainingSec)
}

func TestClock_TimeWarnings(t *testing.T) {
	p := DefaultPolicy()
	p.TimeWarnings = []int{10, 3}
	exam, _ := newExam(12, sec(600, 1))
	r := newClockRig(exam, p)
	r.clock.Start()

	r.tick(1)
	assert.Empty(t, r.events)
	r.tick(1)
	assert.Equal(t, []model.EventType{model.EventTimeWarning}, r.events)
	r.tick(7)
	assert.Len(t, r.events, 2)
}

func TestClock_TickIgnoredOutsideInProgress(t *testing.T) {
	exam, _ := newExam(100, sec(50, 2))
	r := newClockRig(exam, DefaultPolicy())
	r.state.setStatus(model.SessionStatusSubmitting)

	r.tick(5)

	assert.Equal(t, 100, r.state.Session().TimeRemainingSec)
	assert.Zero(t, r.fin.calls)
}
