package session

import "time"

// Ticker is a periodic tick source.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

// TickerFactory creates a running Ticker with the given period.
type TickerFactory func(period time.Duration) Ticker

type stdTicker struct {
	t *time.Ticker
}

// NewStdTicker wraps time.Ticker.
func NewStdTicker(period time.Duration) Ticker {
	return &stdTicker{t: time.NewTicker(period)}
}

func (s *stdTicker) C() <-chan time.Time { return s.t.C }
func (s *stdTicker) Stop()               { s.t.Stop() }

// timerHandle is an owned tick resource. A nil ticker means disarmed.
type timerHandle struct {
	factory TickerFactory
	period  time.Duration
	ticker  Ticker
}

func newTimerHandle(factory TickerFactory, period time.Duration) *timerHandle {
	if factory == nil {
		factory = NewStdTicker
	}
	return &timerHandle{factory: factory, period: period}
}

// arm cancels any existing ticker before installing a new one.
func (h *timerHandle) arm() {
	h.disarm()
	h.ticker = h.factory(h.period)
}

func (h *timerHandle) disarm() {
	if h.ticker != nil {
		h.ticker.Stop()
		h.ticker = nil
	}
}

func (h *timerHandle) armed() bool { return h.ticker != nil }

// C returns nil when disarmed so a select on it never fires.
func (h *timerHandle) C() <-chan time.Time {
	if h.ticker == nil {
		return nil
	}
	return h.ticker.C()
}
