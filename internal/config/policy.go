package config

import (
	"fmt"
	"os"
	"time"

	"github.com/stemsi/exstem-session/internal/session"
	"gopkg.in/yaml.v3"
)

// PolicyOverlay is the optional YAML file named by SESSION_POLICY_FILE.
// Fields left out keep their environment values.
//
//	checkpoint_interval_sec: 15
//	recovery_window_hours: 12
//	section_revisit: resume
//	last_section_timeout: submit
//	auto_submit:
//	  max_attempts: 5
//	  backoff_ms: 1000
//	time_warnings_sec: [600, 300, 60]
type PolicyOverlay struct {
	CheckpointIntervalSec *int                      `yaml:"checkpoint_interval_sec"`
	RecoveryWindowHours   *int                      `yaml:"recovery_window_hours"`
	SectionRevisit        session.RevisitPolicy     `yaml:"section_revisit"`
	LastSectionTimeout    session.LastSectionPolicy `yaml:"last_section_timeout"`
	AutoSubmit            struct {
		MaxAttempts *int `yaml:"max_attempts"`
		BackoffMs   *int `yaml:"backoff_ms"`
	} `yaml:"auto_submit"`
	TimeWarningsSec []int `yaml:"time_warnings_sec"`
}

// LoadPolicyOverlay reads and applies c.PolicyFile. It is a no-op when unset.
func (c *Config) LoadPolicyOverlay() error {
	if c.PolicyFile == "" {
		return nil
	}
	raw, err := os.ReadFile(c.PolicyFile)
	if err != nil {
		return fmt.Errorf("read policy file: %w", err)
	}
	var o PolicyOverlay
	if err := yaml.Unmarshal(raw, &o); err != nil {
		return fmt.Errorf("parse policy file %s: %w", c.PolicyFile, err)
	}
	return c.ApplyOverlay(o)
}

// ApplyOverlay merges o into c after checking the enumerated values.
func (c *Config) ApplyOverlay(o PolicyOverlay) error {
	switch o.SectionRevisit {
	case "":
	case session.RevisitRefill, session.RevisitResume:
		c.RevisitPolicy = o.SectionRevisit
	default:
		return fmt.Errorf("unknown section_revisit %q", o.SectionRevisit)
	}
	switch o.LastSectionTimeout {
	case "":
	case session.LastSectionAwaitOverall, session.LastSectionSubmit:
		c.LastSectionPolicy = o.LastSectionTimeout
	default:
		return fmt.Errorf("unknown last_section_timeout %q", o.LastSectionTimeout)
	}

	if o.CheckpointIntervalSec != nil {
		c.CheckpointInterval = time.Duration(*o.CheckpointIntervalSec) * time.Second
	}
	if o.RecoveryWindowHours != nil {
		c.RecoveryWindow = time.Duration(*o.RecoveryWindowHours) * time.Hour
	}
	if o.AutoSubmit.MaxAttempts != nil {
		c.AutoSubmitMaxAttempts = *o.AutoSubmit.MaxAttempts
	}
	if o.AutoSubmit.BackoffMs != nil {
		c.AutoSubmitBackoff = time.Duration(*o.AutoSubmit.BackoffMs) * time.Millisecond
	}
	if o.TimeWarningsSec != nil {
		c.TimeWarnings = o.TimeWarningsSec
	}
	return nil
}
