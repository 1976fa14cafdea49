package model

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/blake2b"
)

// CheckpointVersion is bumped whenever the checkpoint layout changes.
const CheckpointVersion = 1

// CheckpointClockSkew is how far in the future a checkpoint may be dated
// before it is treated as malformed.
const CheckpointClockSkew = time.Minute

// Checkpoint is the durable snapshot of a session used for recovery.
type Checkpoint struct {
	Version                 int                   `json:"version" validate:"eq=1"`
	ExamID                  uuid.UUID             `json:"exam_id" validate:"required"`
	CandidateID             int                   `json:"candidate_id" validate:"gte=0"`
	Answers                 map[Coordinate]string `json:"answers"`
	MarkedForReview         []Coordinate          `json:"marked_for_review"`
	CurrentSectionIndex     int                   `json:"current_section_index" validate:"gte=0"`
	CurrentQuestionIndex    int                   `json:"current_question_index" validate:"gte=0"`
	TimeRemainingSec        int                   `json:"time_remaining_sec" validate:"gte=0"`
	SectionTimeRemainingSec int                   `json:"section_time_remaining_sec" validate:"gte=0"`
	SectionBudgets          map[int]int           `json:"section_budgets,omitempty"`
	StartedAt               time.Time             `json:"started_at"`
	Timestamp               time.Time             `json:"timestamp" validate:"required"`
	Checksum                string                `json:"checksum"`
}

// Digest computes the BLAKE2b-256 digest of the checkpoint with its checksum blanked.
func (c *Checkpoint) Digest() (string, error) {
	clone := *c
	clone.Checksum = ""
	raw, err := json.Marshal(&clone)
	if err != nil {
		return "", fmt.Errorf("marshal checkpoint: %w", err)
	}
	sum := blake2b.Sum256(raw)
	return hex.EncodeToString(sum[:]), nil
}

// Seal stamps the checkpoint with its digest.
func (c *Checkpoint) Seal() error {
	sum, err := c.Digest()
	if err != nil {
		return err
	}
	c.Checksum = sum
	return nil
}

// Verify reports whether the stored checksum matches the content.
func (c *Checkpoint) Verify() bool {
	sum, err := c.Digest()
	if err != nil {
		return false
	}
	return sum == c.Checksum
}

// Age returns how old the checkpoint is at now.
func (c *Checkpoint) Age(now time.Time) time.Duration {
	return now.Sub(c.Timestamp)
}

// FromFuture reports whether the checkpoint is dated later than now allows.
func (c *Checkpoint) FromFuture(now time.Time) bool {
	return c.Age(now) < -CheckpointClockSkew
}

// IsFresh reports whether the checkpoint is within the recovery window.
// A checkpoint from the future is never fresh.
func (c *Checkpoint) IsFresh(now time.Time, window time.Duration) bool {
	age := c.Age(now)
	return age >= -CheckpointClockSkew && age <= window
}
