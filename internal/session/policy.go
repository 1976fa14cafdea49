package session

import "time"

// RevisitPolicy decides the section timer budget on re-entry.
type RevisitPolicy string

const (
	// RevisitRefill resets the section timer to its full duration on every entry.
	RevisitRefill RevisitPolicy = "refill"
	// RevisitResume restores whatever was left when the section was exited.
	RevisitResume RevisitPolicy = "resume"
)

// LastSectionPolicy decides what happens when the last section's timer expires.
type LastSectionPolicy string

const (
	// LastSectionAwaitOverall takes no action and waits for the overall timer.
	LastSectionAwaitOverall LastSectionPolicy = "await_overall"
	// LastSectionSubmit finalizes the session as a timeout.
	LastSectionSubmit LastSectionPolicy = "submit"
)

// Policy holds the tunable engine behaviour.
type Policy struct {
	TickInterval          time.Duration
	CheckpointInterval    time.Duration
	RecoveryWindow        time.Duration
	Revisit               RevisitPolicy
	LastSection           LastSectionPolicy
	AutoSubmitMaxAttempts int
	AutoSubmitBackoff     time.Duration
	SubmitTimeout         time.Duration
	RemoteTimeout         time.Duration
	// TimeWarnings are overall remaining seconds at which a warning is emitted.
	TimeWarnings []int
}

// DefaultPolicy returns the stock engine policy.
func DefaultPolicy() Policy {
	return Policy{
		TickInterval:          time.Second,
		CheckpointInterval:    30 * time.Second,
		RecoveryWindow:        24 * time.Hour,
		Revisit:               RevisitRefill,
		LastSection:           LastSectionAwaitOverall,
		AutoSubmitMaxAttempts: 3,
		AutoSubmitBackoff:     2 * time.Second,
		SubmitTimeout:         15 * time.Second,
		RemoteTimeout:         10 * time.Second,
		TimeWarnings:          []int{300, 60},
	}
}

func (p Policy) withDefaults() Policy {
	d := DefaultPolicy()
	if p.TickInterval <= 0 {
		p.TickInterval = d.TickInterval
	}
	if p.CheckpointInterval <= 0 {
		p.CheckpointInterval = d.CheckpointInterval
	}
	if p.RecoveryWindow <= 0 {
		p.RecoveryWindow = d.RecoveryWindow
	}
	if p.Revisit == "" {
		p.Revisit = d.Revisit
	}
	if p.LastSection == "" {
		p.LastSection = d.LastSection
	}
	if p.AutoSubmitMaxAttempts < 1 {
		p.AutoSubmitMaxAttempts = 1
	}
	if p.SubmitTimeout <= 0 {
		p.SubmitTimeout = d.SubmitTimeout
	}
	if p.RemoteTimeout <= 0 {
		p.RemoteTimeout = d.RemoteTimeout
	}
	return p
}
