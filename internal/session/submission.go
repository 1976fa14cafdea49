package session

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-session/internal/model"
)

// Submitter delivers a final payload to the backend.
type Submitter interface {
	SubmitSession(ctx context.Context, p *model.SubmissionPayload) (*model.SubmissionAck, error)
}

var errSubmissionRejected = errors.New("submission not accepted")

// Coordinator owns the one-shot finalize latch and the payload projection.
type Coordinator struct {
	latch       atomic.Bool
	submitter   Submitter
	local       LocalStore
	table       *QuestionTable
	maxAttempts int
	backoff     time.Duration
	timeout     time.Duration
	log         zerolog.Logger
}

// NewCoordinator creates a Coordinator resolving coordinates through table.
func NewCoordinator(submitter Submitter, local LocalStore, table *QuestionTable, p Policy, log zerolog.Logger) *Coordinator {
	p = p.withDefaults()
	return &Coordinator{
		submitter:   submitter,
		local:       local,
		table:       table,
		maxAttempts: p.AutoSubmitMaxAttempts,
		backoff:     p.AutoSubmitBackoff,
		timeout:     p.SubmitTimeout,
		log:         log,
	}
}

// Begin trips the latch. Only the first caller gets true.
func (c *Coordinator) Begin() bool {
	return c.latch.CompareAndSwap(false, true)
}

// Settle releases the latch after a failed manual submission so the
// candidate can retry. Timeout failures keep it tripped.
func (c *Coordinator) Settle(reason model.SubmitReason, err error) {
	if err != nil && reason == model.SubmitReasonManual {
		c.latch.Store(false)
	}
}

// BuildPayload projects s into a submission. Coordinates without a question
// behind them are dropped.
func (c *Coordinator) BuildPayload(s *model.ExamSession, reason model.SubmitReason, now time.Time) *model.SubmissionPayload {
	answers := make(map[uuid.UUID]model.SubmittedAnswer, len(s.Answers))
	for coord, value := range s.Answers {
		qid, ok := c.table.Resolve(coord)
		if !ok {
			continue
		}
		answers[qid] = model.SubmittedAnswer{Answer: value, SectionIndex: coord.Section}
	}
	spent := s.TotalDurationSec - s.TimeRemainingSec
	if spent < 0 {
		spent = 0
	}
	return &model.SubmissionPayload{
		ExamID:          s.ExamID,
		CandidateID:     s.CandidateID,
		Reason:          reason,
		Answers:         answers,
		MarkedForReview: s.MarkedList(),
		TimeSpentSec:    spent,
		SubmittedAt:     now.UTC(),
	}
}

// Execute sends the payload. Timeout submissions are retried with exponential
// backoff; manual ones are tried once and left to the candidate. On success the
// local checkpoint is cleared.
func (c *Coordinator) Execute(ctx context.Context, p *model.SubmissionPayload) (*model.SubmissionAck, error) {
	attempts := 1
	if p.Reason == model.SubmitReasonTimeout {
		attempts = c.maxAttempts
	}

	var lastErr error
	wait := c.backoff
	for attempt := 1; attempt <= attempts; attempt++ {
		ack, err := c.submitOnce(ctx, p)
		if err == nil {
			if derr := c.local.Delete(ctx, p.ExamID, p.CandidateID); derr != nil {
				c.log.Warn().Err(derr).Msg("Failed to clear local checkpoint after submit")
			}
			return ack, nil
		}
		lastErr = err
		c.log.Warn().Err(err).
			Int("attempt", attempt).
			Int("max_attempts", attempts).
			Str("reason", string(p.Reason)).
			Msg("Submission failed")

		if attempt == attempts {
			break
		}
		select {
		case <-ctx.Done():
			return nil, &TransientNetworkError{Op: "submit session", Err: ctx.Err()}
		case <-time.After(wait):
		}
		wait *= 2
	}
	return nil, &TransientNetworkError{Op: "submit session", Err: lastErr}
}

func (c *Coordinator) submitOnce(ctx context.Context, p *model.SubmissionPayload) (*model.SubmissionAck, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	ack, err := c.submitter.SubmitSession(ctx, p)
	if err != nil {
		return nil, err
	}
	if ack == nil || !ack.Accepted {
		return nil, errSubmissionRejected
	}
	return ack, nil
}
