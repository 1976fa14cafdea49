package service

import (
	"context"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-session/internal/model"
	"github.com/stemsi/exstem-session/internal/repository"
)

// SubmissionService delivers final submissions to PostgreSQL.
type SubmissionService struct {
	repo *repository.SubmissionRepository
	log  zerolog.Logger
}

// NewSubmissionService creates a new SubmissionService.
func NewSubmissionService(repo *repository.SubmissionRepository, log zerolog.Logger) *SubmissionService {
	return &SubmissionService{
		repo: repo,
		log:  log.With().Str("component", "submission_service").Logger(),
	}
}

// SubmitSession stores p. Resubmitting an already stored session is acknowledged as a duplicate.
func (s *SubmissionService) SubmitSession(ctx context.Context, p *model.SubmissionPayload) (*model.SubmissionAck, error) {
	ack, err := s.repo.Submit(ctx, p)
	if err != nil {
		return nil, err
	}

	evt := s.log.Info()
	if ack.Duplicate {
		evt = s.log.Warn()
	}
	evt.Str("exam_id", p.ExamID.String()).
		Int("student_id", p.CandidateID).
		Str("reason", string(p.Reason)).
		Int("answers", len(p.Answers)).
		Bool("duplicate", ack.Duplicate).
		Msg("Submission stored")
	return ack, nil
}
