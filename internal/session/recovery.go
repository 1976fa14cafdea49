package session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-session/internal/model"
	"github.com/stemsi/exstem-session/internal/validator"
)

// ExamSource fetches exam definitions and questions.
type ExamSource interface {
	FetchExam(ctx context.Context, examID uuid.UUID) (*model.Exam, error)
	FetchQuestions(ctx context.Context, examID uuid.UUID) ([]model.Question, error)
}

// Recovered is the result of opening a session.
type Recovered struct {
	Exam     *model.Exam
	Session  *model.ExamSession
	Table    *QuestionTable
	Restored bool
}

// RecoveryLoader builds session state from a fresh fetch and, when one is
// fresh enough, a local checkpoint.
type RecoveryLoader struct {
	source ExamSource
	local  LocalStore
	window time.Duration
	now    func() time.Time
	log    zerolog.Logger
}

// NewRecoveryLoader creates a loader with the given freshness window.
func NewRecoveryLoader(source ExamSource, local LocalStore, window time.Duration, now func() time.Time, log zerolog.Logger) *RecoveryLoader {
	if now == nil {
		now = time.Now
	}
	if window <= 0 {
		window = DefaultPolicy().RecoveryWindow
	}
	return &RecoveryLoader{source: source, local: local, window: window, now: now, log: log}
}

// Load fetches the exam and questions and restores or initializes the session.
// Only a fetch failure is fatal; checkpoint problems fall back to a fresh start.
func (l *RecoveryLoader) Load(ctx context.Context, examID uuid.UUID, candidateID int) (*Recovered, error) {
	exam, err := l.source.FetchExam(ctx, examID)
	if err != nil {
		return nil, fmt.Errorf("%w: fetch exam %s: %w", ErrResourceNotFound, examID, err)
	}
	if len(exam.Sections) == 0 {
		return nil, fmt.Errorf("%w: exam %s has no sections", ErrResourceNotFound, examID)
	}
	questions, err := l.source.FetchQuestions(ctx, examID)
	if err != nil {
		return nil, fmt.Errorf("%w: fetch questions %s: %w", ErrResourceNotFound, examID, err)
	}

	rec := &Recovered{
		Exam:  exam,
		Table: NewQuestionTable(exam.Sections, questions),
	}
	log := l.log.With().Str("exam_id", examID.String()).Int("candidate_id", candidateID).Logger()

	cp := l.loadCheckpoint(ctx, exam, candidateID, log)
	if cp != nil {
		rec.Session = restore(exam, candidateID, cp)
		rec.Restored = true
		log.Info().
			Time("checkpoint_at", cp.Timestamp).
			Int("answers", len(cp.Answers)).
			Msg("Session restored from checkpoint")
		return rec, nil
	}

	rec.Session = initialize(exam, candidateID, l.now())
	return rec, nil
}

// loadCheckpoint returns a usable checkpoint or nil. It never fails.
func (l *RecoveryLoader) loadCheckpoint(ctx context.Context, exam *model.Exam, candidateID int, log zerolog.Logger) *model.Checkpoint {
	data, err := l.local.Load(ctx, exam.ID, candidateID)
	if err != nil {
		log.Warn().Err(err).Msg("Local checkpoint unreadable, starting fresh")
		return nil
	}
	if data == nil {
		return nil
	}

	cp, err := DecodeCheckpoint(data, exam, candidateID)
	if err != nil {
		log.Warn().Err(err).Msg("Discarding malformed checkpoint")
		l.discard(ctx, exam.ID, candidateID, log)
		return nil
	}

	if cp.FromFuture(l.now()) {
		log.Warn().
			Time("checkpoint_at", cp.Timestamp).
			Msg("Discarding checkpoint dated in the future")
		l.discard(ctx, exam.ID, candidateID, log)
		return nil
	}
	if !cp.IsFresh(l.now(), l.window) {
		log.Info().
			Dur("age", cp.Age(l.now())).
			Msg("Discarding stale checkpoint")
		l.discard(ctx, exam.ID, candidateID, log)
		return nil
	}
	return cp
}

func (l *RecoveryLoader) discard(ctx context.Context, examID uuid.UUID, candidateID int, log zerolog.Logger) {
	if err := l.local.Delete(ctx, examID, candidateID); err != nil {
		log.Warn().Err(err).Msg("Failed to delete discarded checkpoint")
	}
}

// DecodeCheckpoint parses and checks a stored checkpoint against the exam it
// claims to belong to. Every failure is a *DataIntegrityError.
func DecodeCheckpoint(data []byte, exam *model.Exam, candidateID int) (*model.Checkpoint, error) {
	var cp model.Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, &DataIntegrityError{Reason: "decode", Err: err}
	}
	if err := validator.Struct(&cp); err != nil {
		return nil, &DataIntegrityError{Reason: "validate", Err: err}
	}
	if cp.Checksum == "" {
		return nil, &DataIntegrityError{Reason: "missing checksum"}
	}
	if !cp.Verify() {
		return nil, &DataIntegrityError{Reason: "checksum mismatch"}
	}
	if exam == nil {
		return &cp, nil
	}
	if cp.ExamID != exam.ID || cp.CandidateID != candidateID {
		return nil, &DataIntegrityError{Reason: "checkpoint belongs to another session"}
	}
	if cp.CurrentSectionIndex >= len(exam.Sections) {
		return nil, &DataIntegrityError{Reason: "cursor section out of range"}
	}
	sec := exam.Sections[cp.CurrentSectionIndex]
	if cp.CurrentQuestionIndex >= sec.QuestionCount && !(sec.QuestionCount == 0 && cp.CurrentQuestionIndex == 0) {
		return nil, &DataIntegrityError{Reason: "cursor question out of range"}
	}
	if cp.TimeRemainingSec > exam.TotalDurationSec {
		return nil, &DataIntegrityError{Reason: "overall time exceeds exam duration"}
	}
	if cp.SectionTimeRemainingSec > sec.DurationSec {
		return nil, &DataIntegrityError{Reason: "section time exceeds section duration"}
	}
	for i, left := range cp.SectionBudgets {
		if i < 0 || i >= len(exam.Sections) || left < 0 || left > exam.Sections[i].DurationSec {
			return nil, &DataIntegrityError{Reason: "section budget out of range"}
		}
	}
	return &cp, nil
}

func initialize(exam *model.Exam, candidateID int, now time.Time) *model.ExamSession {
	return &model.ExamSession{
		ExamID:                  exam.ID,
		CandidateID:             candidateID,
		Title:                   exam.Title,
		TotalDurationSec:        exam.TotalDurationSec,
		Sections:                exam.Sections,
		Answers:                 make(map[model.Coordinate]string),
		MarkedForReview:         make(map[model.Coordinate]struct{}),
		SectionBudgets:          make(map[int]int),
		TimeRemainingSec:        exam.TotalDurationSec,
		SectionTimeRemainingSec: exam.Sections[0].DurationSec,
		Status:                  model.SessionStatusInProgress,
		StartedAt:               now,
	}
}

func restore(exam *model.Exam, candidateID int, cp *model.Checkpoint) *model.ExamSession {
	answers := make(map[model.Coordinate]string, len(cp.Answers))
	for c, v := range cp.Answers {
		answers[c] = v
	}
	marks := make(map[model.Coordinate]struct{}, len(cp.MarkedForReview))
	for _, c := range cp.MarkedForReview {
		marks[c] = struct{}{}
	}
	budgets := make(map[int]int, len(cp.SectionBudgets))
	for k, v := range cp.SectionBudgets {
		budgets[k] = v
	}
	at := cp.Timestamp
	return &model.ExamSession{
		ExamID:                  exam.ID,
		CandidateID:             candidateID,
		Title:                   exam.Title,
		TotalDurationSec:        exam.TotalDurationSec,
		Sections:                exam.Sections,
		CurrentSectionIndex:     cp.CurrentSectionIndex,
		CurrentQuestionIndex:    cp.CurrentQuestionIndex,
		Answers:                 answers,
		MarkedForReview:         marks,
		SectionBudgets:          budgets,
		TimeRemainingSec:        cp.TimeRemainingSec,
		SectionTimeRemainingSec: cp.SectionTimeRemainingSec,
		Status:                  model.SessionStatusInProgress,
		StartedAt:               cp.StartedAt,
		LastCheckpointAt:        &at,
	}
}
