package session

import (
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-session/internal/model"
)

// sectionAdvancer is the part of the Navigator the clock drives.
type sectionAdvancer interface {
	HasNextSection() bool
	AdvanceSection() bool
}

// Finalizer starts the terminal submit transition.
type Finalizer interface {
	Finalize(reason model.SubmitReason)
}

// Clock runs the overall and section countdowns at one-second resolution.
type Clock struct {
	state       *StateStore
	nav         sectionAdvancer
	fin         Finalizer
	handle      *timerHandle
	lastSection LastSectionPolicy
	warnings    []int
	notify      func(model.EventType, map[string]any)
	log         zerolog.Logger
}

// NewClock creates a disarmed clock.
func NewClock(state *StateStore, nav sectionAdvancer, fin Finalizer, factory TickerFactory, p Policy, log zerolog.Logger) *Clock {
	p = p.withDefaults()
	return &Clock{
		state:       state,
		nav:         nav,
		fin:         fin,
		handle:      newTimerHandle(factory, p.TickInterval),
		lastSection: p.LastSection,
		warnings:    p.TimeWarnings,
		log:         log,
	}
}

// Start (re)arms ticking. Any previous tick source is cancelled first.
func (c *Clock) Start() { c.handle.arm() }

// Stop disarms ticking.
func (c *Clock) Stop() { c.handle.disarm() }

// Armed reports whether a tick source is installed.
func (c *Clock) Armed() bool { return c.handle.armed() }

// C is the current tick channel, nil when disarmed.
func (c *Clock) C() <-chan time.Time { return c.handle.C() }

// Pause freezes both countdowns.
func (c *Clock) Pause() error {
	if c.state.Status() != model.SessionStatusInProgress {
		return ErrInvalidTransition
	}
	c.Stop()
	c.state.setStatus(model.SessionStatusPaused)
	return nil
}

// Resume continues from the preserved remaining values.
func (c *Clock) Resume() error {
	if c.state.Status() != model.SessionStatusPaused {
		return ErrInvalidTransition
	}
	c.state.setStatus(model.SessionStatusInProgress)
	c.Start()
	return nil
}

// Tick applies one second to both countdowns.
func (c *Clock) Tick() {
	if c.state.Status() != model.SessionStatusInProgress {
		return
	}
	s := c.state.Session()

	prev := s.TimeRemainingSec
	if s.TimeRemainingSec > 0 {
		s.TimeRemainingSec--
	}
	c.emitWarnings(prev, s.TimeRemainingSec)
	if s.TimeRemainingSec == 0 {
		c.Stop()
		c.log.Info().Msg("Overall time expired")
		c.fin.Finalize(model.SubmitReasonTimeout)
		return
	}

	if s.SectionTimeRemainingSec > 0 {
		s.SectionTimeRemainingSec--
	}
	if s.SectionTimeRemainingSec == 0 {
		c.sectionExpired()
	}
}

func (c *Clock) sectionExpired() {
	if c.nav.HasNextSection() {
		c.nav.AdvanceSection()
		return
	}
	// Last section: the overall timer decides unless configured otherwise.
	if c.lastSection == LastSectionSubmit {
		c.Stop()
		c.log.Info().Msg("Last section expired, submitting")
		c.fin.Finalize(model.SubmitReasonTimeout)
	}
}

func (c *Clock) emitWarnings(prev, now int) {
	if c.notify == nil {
		return
	}
	for _, w := range c.warnings {
		if prev > w && now <= w {
			c.notify(model.EventTimeWarning, map[string]any{"time_remaining_sec": now, "threshold_sec": w})
		}
	}
}
