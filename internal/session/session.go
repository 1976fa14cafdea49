// Package session implements the timed exam-session engine: countdowns,
// navigation, checkpointing, recovery and the one-shot submission.
//
// Each Session runs a single goroutine that owns all of its state. Clock ticks,
// checkpoint ticks, candidate commands and submission results are all handled
// on that goroutine, so none of the components below take locks.
package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-session/internal/model"
)

const eventBufferSize = 64

// Notifier publishes session events. Delivery is best effort.
type Notifier interface {
	Notify(ctx context.Context, ev model.SessionEvent) error
}

// Dependencies are the collaborators a session talks to.
type Dependencies struct {
	Source    ExamSource
	Local     LocalStore
	Remote    RemoteStore
	Submitter Submitter
	Notifier  Notifier
}

// Options tune a session. Zero values fall back to defaults.
type Options struct {
	Policy  Policy
	Tickers TickerFactory
	Now     func() time.Time
	Logger  zerolog.Logger
}

// Session is one candidate's live attempt at one exam.
type Session struct {
	examID      uuid.UUID
	candidateID int
	policy      Policy
	now         func() time.Time
	log         zerolog.Logger
	notifier    Notifier
	restored    bool

	state *StateStore
	nav   *Navigator
	clock *Clock
	ckpt  *Checkpointer
	coord *Coordinator

	// Owned by the loop goroutine.
	pending   *pendingSubmit
	submitErr error

	cmds      chan command
	results   chan submitResult
	events    chan model.SessionEvent
	quit      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

type command struct {
	fn    func() error
	reply chan error
}

type submitResult struct {
	ack *model.SubmissionAck
	err error
}

type pendingSubmit struct {
	reason model.SubmitReason
	prev   model.SessionStatus
	wait   chan error
}

// loopFinalizer lets the clock start a finalize from inside the loop.
type loopFinalizer struct{ s *Session }

func (f loopFinalizer) Finalize(reason model.SubmitReason) { f.s.beginFinalize(reason) }

// Open loads or restores the session and starts its loop and timers.
// It fails only when the exam or its questions cannot be fetched.
func Open(ctx context.Context, examID uuid.UUID, candidateID int, deps Dependencies, opts Options) (*Session, error) {
	policy := opts.Policy.withDefaults()
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	log := opts.Logger.With().
		Str("component", "session").
		Str("exam_id", examID.String()).
		Int("candidate_id", candidateID).
		Logger()

	rec, err := NewRecoveryLoader(deps.Source, deps.Local, policy.RecoveryWindow, now, log).
		Load(ctx, examID, candidateID)
	if err != nil {
		return nil, err
	}

	s := &Session{
		examID:      examID,
		candidateID: candidateID,
		policy:      policy,
		now:         now,
		log:         log,
		notifier:    deps.Notifier,
		restored:    rec.Restored,
		cmds:        make(chan command),
		results:     make(chan submitResult, 1),
		events:      make(chan model.SessionEvent, eventBufferSize),
		quit:        make(chan struct{}),
		done:        make(chan struct{}),
	}
	s.state = NewStateStore(rec.Session)
	s.nav = NewNavigator(s.state, policy.Revisit)
	s.coord = NewCoordinator(deps.Submitter, deps.Local, rec.Table, policy, log)
	s.clock = NewClock(s.state, s.nav, loopFinalizer{s}, opts.Tickers, policy, log)
	s.ckpt = NewCheckpointer(s.state, deps.Local, deps.Remote, opts.Tickers, policy, now, log)

	s.nav.beforeSectionChange = func() { s.checkpoint("section_change") }
	s.nav.onSectionEnter = func(from, to int) {
		s.notify(model.EventSectionChanged, map[string]any{
			"from":                       from,
			"to":                         to,
			"section_time_remaining_sec": s.state.Session().SectionTimeRemainingSec,
		})
	}
	s.clock.notify = s.notify
	s.ckpt.notify = s.notify

	go s.dispatch()
	go s.run()

	if err := s.do(ctx, s.start); err != nil {
		_ = s.Close(context.Background())
		return nil, err
	}
	return s, nil
}

// ExamID returns the exam this session belongs to.
func (s *Session) ExamID() uuid.UUID { return s.examID }

// CandidateID returns the candidate taking the exam.
func (s *Session) CandidateID() int { return s.candidateID }

// Done is closed once the session loop has stopped.
func (s *Session) Done() <-chan struct{} { return s.done }

func (s *Session) start() error {
	s.notify(model.EventSessionStarted, map[string]any{"restored": s.restored})
	if s.state.Session().TimeRemainingSec <= 0 {
		s.beginFinalize(model.SubmitReasonTimeout)
		return nil
	}
	s.clock.Start()
	s.ckpt.Start()
	s.checkpoint("start")
	return nil
}

func (s *Session) run() {
	defer close(s.done)
	for {
		select {
		case <-s.quit:
			s.clock.Stop()
			s.ckpt.Stop()
			return
		case cmd := <-s.cmds:
			cmd.reply <- cmd.fn()
		case <-s.clock.C():
			s.clock.Tick()
		case <-s.ckpt.C():
			s.checkpoint("interval")
		case res := <-s.results:
			s.completeSubmission(res)
		}
	}
}

// do runs fn on the loop goroutine and waits for its result.
func (s *Session) do(ctx context.Context, fn func() error) error {
	reply := make(chan error, 1)
	select {
	case s.cmds <- command{fn: fn, reply: reply}:
	case <-s.done:
		return ErrSessionClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// mutate runs fn on the loop and returns the resulting view, even on error.
func (s *Session) mutate(ctx context.Context, fn func() error) (*model.SessionView, error) {
	var view *model.SessionView
	err := s.do(ctx, func() error {
		ferr := fn()
		view = s.view()
		return ferr
	})
	return view, err
}

func (s *Session) view() *model.SessionView {
	v := s.state.View()
	v.Restored = s.restored
	if s.submitErr != nil {
		v.SubmitError = s.submitErr.Error()
	}
	return v
}

// View returns the current session state.
func (s *Session) View(ctx context.Context) (*model.SessionView, error) {
	return s.mutate(ctx, func() error { return nil })
}

// SetAnswer records value at c.
func (s *Session) SetAnswer(ctx context.Context, c model.Coordinate, value string) (*model.SessionView, error) {
	return s.mutate(ctx, func() error { return s.state.SetAnswer(c, value) })
}

// ClearAnswer removes the answer at c.
func (s *Session) ClearAnswer(ctx context.Context, c model.Coordinate) (*model.SessionView, error) {
	return s.mutate(ctx, func() error { return s.state.ClearAnswer(c) })
}

// ToggleMark flips the review mark at c.
func (s *Session) ToggleMark(ctx context.Context, c model.Coordinate) (*model.SessionView, error) {
	return s.mutate(ctx, func() error {
		_, err := s.state.ToggleReviewMark(c)
		return err
	})
}

// Goto moves the cursor to c.
func (s *Session) Goto(ctx context.Context, c model.Coordinate) (*model.SessionView, error) {
	return s.mutate(ctx, func() error { return s.nav.Goto(c) })
}

// Next moves the cursor forward one question.
func (s *Session) Next(ctx context.Context) (*model.SessionView, error) {
	return s.mutate(ctx, func() error {
		_, err := s.nav.Next()
		return err
	})
}

// Previous moves the cursor back one question.
func (s *Session) Previous(ctx context.Context) (*model.SessionView, error) {
	return s.mutate(ctx, func() error {
		_, err := s.nav.Previous()
		return err
	})
}

// Pause freezes both countdowns and takes a checkpoint.
func (s *Session) Pause(ctx context.Context) (*model.SessionView, error) {
	return s.mutate(ctx, func() error {
		if err := s.clock.Pause(); err != nil {
			return err
		}
		s.ckpt.Stop()
		s.checkpoint("pause")
		s.notify(model.EventPaused, nil)
		return nil
	})
}

// Resume restarts both countdowns from where they were frozen.
func (s *Session) Resume(ctx context.Context) (*model.SessionView, error) {
	return s.mutate(ctx, func() error {
		if err := s.clock.Resume(); err != nil {
			return err
		}
		s.ckpt.Start()
		s.notify(model.EventResumed, nil)
		return nil
	})
}

// Submit finalizes the session manually and waits for the backend's answer.
// If a finalize is already under way the call is absorbed and the current view returned.
// On failure the session returns to its previous status and Submit may be retried.
func (s *Session) Submit(ctx context.Context) (*model.SessionView, error) {
	var wait chan error
	if err := s.do(ctx, func() error {
		wait = s.beginFinalize(model.SubmitReasonManual)
		return nil
	}); err != nil {
		return nil, err
	}

	if wait != nil {
		select {
		case err := <-wait:
			if err != nil {
				view, _ := s.View(ctx)
				return view, err
			}
		case <-s.done:
			return nil, ErrSessionClosed
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return s.View(ctx)
}

// Close stops the session's timers and loop. A live session is checkpointed first
// so it can be restored later.
func (s *Session) Close(ctx context.Context) error {
	err := s.do(ctx, func() error {
		st := s.state.Status()
		if st == model.SessionStatusInProgress || st == model.SessionStatusPaused {
			s.clock.Stop()
			s.ckpt.Stop()
			s.checkpoint("close")
		}
		return nil
	})
	s.closeOnce.Do(func() { close(s.quit) })
	<-s.done
	if errors.Is(err, ErrSessionClosed) {
		return nil
	}
	return err
}

// beginFinalize is the only path into SUBMITTING. It returns a channel that
// receives the outcome for manual submissions, or nil if nothing was started.
func (s *Session) beginFinalize(reason model.SubmitReason) chan error {
	prev := s.state.Status()
	if prev != model.SessionStatusInProgress && prev != model.SessionStatusPaused {
		return nil
	}
	if !s.coord.Begin() {
		s.log.Debug().Str("reason", string(reason)).Msg("Finalize absorbed by latch")
		return nil
	}

	s.clock.Stop()
	s.ckpt.Stop()
	s.checkpoint("submit")
	s.state.setStatus(model.SessionStatusSubmitting)
	s.submitErr = nil

	p := s.coord.BuildPayload(s.state.Session(), reason, s.now())
	pending := &pendingSubmit{reason: reason, prev: prev}
	if reason == model.SubmitReasonManual {
		pending.wait = make(chan error, 1)
	}
	s.pending = pending

	s.log.Info().
		Str("reason", string(reason)).
		Int("answers", len(p.Answers)).
		Msg("Finalizing session")
	s.notify(model.EventSubmitting, map[string]any{"reason": reason})

	go s.execute(p)
	return pending.wait
}

// execute runs off the loop so the clock never waits on the network.
func (s *Session) execute(p *model.SubmissionPayload) {
	ack, err := s.coord.Execute(context.Background(), p)
	select {
	case s.results <- submitResult{ack: ack, err: err}:
	case <-s.done:
		if err != nil {
			s.log.Error().Err(err).Msg("Submission failed after session closed")
		}
	}
}

func (s *Session) completeSubmission(res submitResult) {
	p := s.pending
	s.pending = nil
	if p == nil {
		return
	}
	s.coord.Settle(p.reason, res.err)
	sess := s.state.Session()

	switch {
	case res.err == nil:
		at := s.now()
		sess.SubmittedAt = &at
		s.state.setStatus(model.SessionStatusSubmitted)
		s.log.Info().Str("reason", string(p.reason)).Msg("Session submitted")
		s.notify(model.EventSubmitted, map[string]any{
			"reason":    p.reason,
			"duplicate": res.ack != nil && res.ack.Duplicate,
		})
	case p.reason == model.SubmitReasonManual:
		s.state.setStatus(p.prev)
		if p.prev == model.SessionStatusInProgress {
			s.clock.Start()
			s.ckpt.Start()
		}
		s.notify(model.EventSubmitFailed, map[string]any{
			"reason":    p.reason,
			"retryable": true,
			"error":     res.err.Error(),
		})
	default:
		s.submitErr = res.err
		s.log.Error().Err(res.err).Msg("Automatic submission failed")
		s.notify(model.EventSubmitFailed, map[string]any{
			"reason":    p.reason,
			"retryable": false,
			"error":     res.err.Error(),
		})
	}

	if p.wait != nil {
		p.wait <- res.err
	}
}

func (s *Session) checkpoint(trigger string) {
	ctx, cancel := context.WithTimeout(context.Background(), s.policy.RemoteTimeout)
	defer cancel()

	if _, err := s.ckpt.Persist(ctx); err != nil {
		s.log.Warn().Err(err).Str("trigger", trigger).Msg("Checkpoint failed")
		s.notify(model.EventCheckpointFailed, map[string]any{
			"trigger": trigger,
			"error":   err.Error(),
		})
	}
}

// notify never blocks; events are dropped when the buffer is full.
func (s *Session) notify(t model.EventType, data map[string]any) {
	ev := model.SessionEvent{
		Type:        t,
		ExamID:      s.examID,
		CandidateID: s.candidateID,
		Data:        data,
		At:          s.now().UTC(),
	}
	select {
	case s.events <- ev:
	default:
		s.log.Warn().Str("event", string(t)).Msg("Event buffer full, dropping")
	}
}

func (s *Session) dispatch() {
	for {
		select {
		case ev := <-s.events:
			s.deliver(ev)
		case <-s.done:
			for {
				select {
				case ev := <-s.events:
					s.deliver(ev)
				default:
					return
				}
			}
		}
	}
}

func (s *Session) deliver(ev model.SessionEvent) {
	if s.notifier == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.policy.RemoteTimeout)
	defer cancel()
	if err := s.notifier.Notify(ctx, ev); err != nil {
		s.log.Debug().Err(err).Str("event", string(ev.Type)).Msg("Notify failed")
	}
}
