package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-session/internal/model"
)

// CheckpointRepository stores the server-side copy of session checkpoints.
// Rows only ever move forward in time: an older checkpoint never replaces a newer one.
type CheckpointRepository struct {
	pool *pgxpool.Pool
}

// NewCheckpointRepository creates a new CheckpointRepository.
func NewCheckpointRepository(pool *pgxpool.Pool) *CheckpointRepository {
	return &CheckpointRepository{pool: pool}
}

// lockSessionsSQL takes a share lock on the session records being written so a
// concurrent submit either finishes first or waits for the write to commit.
const lockSessionsSQL = `
	SELECT s.id
	FROM exam_sessions s
	JOIN UNNEST($1::uuid[], $2::int[]) AS u (exam_id, student_id)
	  ON s.exam_id = u.exam_id AND s.student_id = u.student_id
	ORDER BY s.id
	FOR SHARE OF s`

// upsertCheckpointsSQL skips sessions that are already submitted; their
// checkpoint was removed by the submit and must stay gone.
const upsertCheckpointsSQL = `
	INSERT INTO exam_checkpoints (exam_id, student_id, payload, checksum, checkpoint_at)
	SELECT u.exam_id, u.student_id, u.payload::jsonb, u.checksum, u.checkpoint_at
	FROM UNNEST(
		$1::uuid[],
		$2::int[],
		$3::text[],
		$4::text[],
		$5::timestamptz[]
	) AS u (exam_id, student_id, payload, checksum, checkpoint_at)
	WHERE NOT EXISTS (
		SELECT 1 FROM exam_sessions s
		WHERE s.exam_id = u.exam_id
		  AND s.student_id = u.student_id
		  AND s.status = 'SUBMITTED'
	)
	ON CONFLICT (exam_id, student_id) DO UPDATE
	SET payload = EXCLUDED.payload,
	    checksum = EXCLUDED.checksum,
	    checkpoint_at = EXCLUDED.checkpoint_at,
	    updated_at = NOW()
	WHERE exam_checkpoints.checkpoint_at <= EXCLUDED.checkpoint_at`

// Upsert writes a single checkpoint.
func (r *CheckpointRepository) Upsert(ctx context.Context, cp *model.Checkpoint) error {
	return r.UpsertMany(ctx, []*model.Checkpoint{cp})
}

// UpsertMany writes a batch in one statement. The batch must not contain two
// checkpoints for the same exam and student. Checkpoints of submitted sessions
// are dropped.
func (r *CheckpointRepository) UpsertMany(ctx context.Context, batch []*model.Checkpoint) error {
	n := len(batch)
	if n == 0 {
		return nil
	}
	examIDs := make([]uuid.UUID, 0, n)
	students := make([]int, 0, n)
	payloads := make([]string, 0, n)
	checksums := make([]string, 0, n)
	stamps := make([]time.Time, 0, n)

	for _, cp := range batch {
		raw, err := json.Marshal(cp)
		if err != nil {
			return fmt.Errorf("marshal checkpoint: %w", err)
		}
		examIDs = append(examIDs, cp.ExamID)
		students = append(students, cp.CandidateID)
		payloads = append(payloads, string(raw))
		checksums = append(checksums, cp.Checksum)
		stamps = append(stamps, cp.Timestamp)
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin checkpoint write: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx, lockSessionsSQL, examIDs, students); err != nil {
		return fmt.Errorf("lock session records: %w", err)
	}
	if _, err := tx.Exec(ctx, upsertCheckpointsSQL, examIDs, students, payloads, checksums, stamps); err != nil {
		return fmt.Errorf("upsert checkpoints: %w", err)
	}
	return tx.Commit(ctx)
}

// Get returns the raw stored checkpoint.
func (r *CheckpointRepository) Get(ctx context.Context, examID uuid.UUID, studentID int) ([]byte, error) {
	var payload []byte
	err := r.pool.QueryRow(ctx,
		`SELECT payload FROM exam_checkpoints WHERE exam_id = $1 AND student_id = $2`,
		examID, studentID,
	).Scan(&payload)
	if err != nil {
		return nil, err
	}
	return payload, nil
}

// DeleteOlderThan removes checkpoints last written before cutoff and returns how many.
func (r *CheckpointRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx,
		`DELETE FROM exam_checkpoints WHERE checkpoint_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
