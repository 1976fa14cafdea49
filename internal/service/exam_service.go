package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-session/internal/config"
	"github.com/stemsi/exstem-session/internal/model"
	"github.com/stemsi/exstem-session/internal/repository"
	"golang.org/x/sync/singleflight"
)

// Domain Errors
var (
	ErrExamNotFound    = errors.New("exam not found")
	ErrExamNotTakeable = errors.New("exam is not open for candidates")
)

// ExamService serves exam definitions to the session engine from a Redis cache
// backed by PostgreSQL.
type ExamService struct {
	examRepo *repository.ExamRepository
	rdb      *redis.Client
	ttl      time.Duration
	loads    singleflight.Group
	log      zerolog.Logger
}

// NewExamService creates a new ExamService.
func NewExamService(examRepo *repository.ExamRepository, rdb *redis.Client, ttl time.Duration, log zerolog.Logger) *ExamService {
	return &ExamService{
		examRepo: examRepo,
		rdb:      rdb,
		ttl:      ttl,
		log:      log.With().Str("component", "exam_service").Logger(),
	}
}

// FetchExam returns the exam definition for a takeable exam.
func (s *ExamService) FetchExam(ctx context.Context, examID uuid.UUID) (*model.Exam, error) {
	payload, err := s.GetExamPayload(ctx, examID)
	if err != nil {
		return nil, err
	}
	if !payload.Exam.Takeable() {
		return nil, ErrExamNotTakeable
	}
	exam := payload.Exam
	return &exam, nil
}

// FetchQuestions returns the exam's questions in section order.
func (s *ExamService) FetchQuestions(ctx context.Context, examID uuid.UUID) ([]model.Question, error) {
	payload, err := s.GetExamPayload(ctx, examID)
	if err != nil {
		return nil, err
	}
	return payload.Questions, nil
}

// GetExamPayload reads the cached payload, loading it from PostgreSQL on a miss.
// Concurrent misses for the same exam share one load.
func (s *ExamService) GetExamPayload(ctx context.Context, examID uuid.UUID) (*model.ExamPayload, error) {
	key := config.CacheKey.ExamPayloadKey(examID.String())
	data, err := s.rdb.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var payload model.ExamPayload
		if err := json.Unmarshal(data, &payload); err == nil {
			return &payload, nil
		}
		s.log.Warn().Str("exam_id", examID.String()).Msg("Corrupt exam payload in cache, reloading")
	case !errors.Is(err, redis.Nil):
		s.log.Warn().Err(err).Str("exam_id", examID.String()).Msg("Exam cache read failed, falling back to database")
	}

	v, err, _ := s.loads.Do(examID.String(), func() (interface{}, error) {
		return s.WarmExamCache(ctx, examID)
	})
	if err != nil {
		return nil, err
	}
	return v.(*model.ExamPayload), nil
}

// WarmExamCache loads an exam and its questions from PostgreSQL into Redis.
func (s *ExamService) WarmExamCache(ctx context.Context, examID uuid.UUID) (*model.ExamPayload, error) {
	exam, err := s.examRepo.GetByID(ctx, examID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrExamNotFound
		}
		return nil, fmt.Errorf("get exam: %w", err)
	}
	questions, err := s.examRepo.ListQuestions(ctx, examID)
	if err != nil {
		return nil, fmt.Errorf("list questions: %w", err)
	}

	payload := &model.ExamPayload{Exam: *exam, Questions: questions}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	if err := s.rdb.Set(ctx, config.CacheKey.ExamPayloadKey(examID.String()), raw, s.ttl).Err(); err != nil {
		// The payload is still usable for this request.
		s.log.Warn().Err(err).Str("exam_id", examID.String()).Msg("Failed to cache exam payload")
	}

	s.log.Debug().
		Str("exam_id", examID.String()).
		Int("sections", len(exam.Sections)).
		Int("questions", len(questions)).
		Msg("Cache warmed")
	return payload, nil
}

// InvalidateExam drops the cached payload so the next fetch reloads it.
func (s *ExamService) InvalidateExam(ctx context.Context, examID uuid.UUID) error {
	return s.rdb.Del(ctx, config.CacheKey.ExamPayloadKey(examID.String())).Err()
}

// PrewarmAllCaches loads every takeable exam into Redis on application startup.
func (s *ExamService) PrewarmAllCaches(ctx context.Context) error {
	ids, err := s.examRepo.ListPublishedIDs(ctx)
	if err != nil {
		return fmt.Errorf("list published exams: %w", err)
	}
	if len(ids) == 0 {
		s.log.Info().Msg("No published exams to prewarm")
		return nil
	}

	s.log.Info().Int("count", len(ids)).Msg("Prewarming published exams...")

	warmed := 0
	for _, id := range ids {
		if _, err := s.WarmExamCache(ctx, id); err != nil {
			s.log.Warn().
				Err(err).
				Str("exam_id", id.String()).
				Msg("Failed to warm exam, skipping")
			continue
		}
		warmed++
	}

	s.log.Info().
		Int("warmed", warmed).
		Int("total", len(ids)).
		Msg("Prewarming complete")
	return nil
}
