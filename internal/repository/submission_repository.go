package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-session/internal/model"
)

// SubmissionRepository writes final submissions.
type SubmissionRepository struct {
	pool *pgxpool.Pool
}

// NewSubmissionRepository creates a new SubmissionRepository.
func NewSubmissionRepository(pool *pgxpool.Pool) *SubmissionRepository {
	return &SubmissionRepository{pool: pool}
}

// Submit stores the answers and closes the session record in one transaction.
// A second submission for the same exam and student is acknowledged as a
// duplicate without touching the stored answers.
func (r *SubmissionRepository) Submit(ctx context.Context, p *model.SubmissionPayload) (*model.SubmissionAck, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin submit: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	var (
		sessionID  uuid.UUID
		status     model.SessionStatus
		finishedAt *time.Time
	)
	err = tx.QueryRow(ctx,
		`SELECT id, status, finished_at
		 FROM exam_sessions
		 WHERE exam_id = $1 AND student_id = $2
		 FOR UPDATE`, p.ExamID, p.CandidateID,
	).Scan(&sessionID, &status, &finishedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		err = tx.QueryRow(ctx,
			`INSERT INTO exam_sessions (exam_id, student_id, status)
			 VALUES ($1, $2, $3)
			 RETURNING id, status, finished_at`,
			p.ExamID, p.CandidateID, model.SessionStatusInProgress,
		).Scan(&sessionID, &status, &finishedAt)
	}
	if err != nil {
		return nil, fmt.Errorf("lock session record: %w", err)
	}

	if status == model.SessionStatusSubmitted {
		if err := tx.Commit(ctx); err != nil {
			return nil, fmt.Errorf("commit duplicate submit: %w", err)
		}
		ack := &model.SubmissionAck{Accepted: true, Duplicate: true, ReceivedAt: time.Now().UTC()}
		if finishedAt != nil {
			ack.ReceivedAt = *finishedAt
		}
		return ack, nil
	}

	if len(p.Answers) > 0 {
		batch := &pgx.Batch{}
		for qid, a := range p.Answers {
			batch.Queue(
				`INSERT INTO submitted_answers (session_id, question_id, section_index, answer)
				 VALUES ($1, $2, $3, $4)
				 ON CONFLICT (session_id, question_id) DO UPDATE
				 SET section_index = EXCLUDED.section_index, answer = EXCLUDED.answer`,
				sessionID, qid, a.SectionIndex, a.Answer)
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return nil, fmt.Errorf("insert answers: %w", err)
		}
	}

	if _, err := tx.Exec(ctx,
		`UPDATE exam_sessions
		 SET status = $1, submit_reason = $2, time_spent_sec = $3, finished_at = $4
		 WHERE id = $5`,
		model.SessionStatusSubmitted, p.Reason, p.TimeSpentSec, p.SubmittedAt, sessionID,
	); err != nil {
		return nil, fmt.Errorf("complete session record: %w", err)
	}

	if _, err := tx.Exec(ctx,
		`DELETE FROM exam_checkpoints WHERE exam_id = $1 AND student_id = $2`,
		p.ExamID, p.CandidateID,
	); err != nil {
		return nil, fmt.Errorf("clear remote checkpoint: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit submit: %w", err)
	}
	return &model.SubmissionAck{Accepted: true, ReceivedAt: time.Now().UTC()}, nil
}
