package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-session/internal/model"
)

// ExamRepository reads exam definitions, sections and questions.
type ExamRepository struct {
	pool *pgxpool.Pool
}

// NewExamRepository creates a new ExamRepository.
func NewExamRepository(pool *pgxpool.Pool) *ExamRepository {
	return &ExamRepository{pool: pool}
}

// GetByID retrieves an exam and its sections in order.
func (r *ExamRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Exam, error) {
	e := &model.Exam{}
	err := r.pool.QueryRow(ctx,
		`SELECT id, title, duration_sec, status, updated_at
		 FROM exams WHERE id = $1`, id,
	).Scan(&e.ID, &e.Title, &e.TotalDurationSec, &e.Status, &e.UpdatedAt)
	if err != nil {
		return nil, err
	}

	sections, err := r.ListSections(ctx, id)
	if err != nil {
		return nil, err
	}
	e.Sections = sections
	return e, nil
}

// ListSections retrieves an exam's sections ordered by order_num.
func (r *ExamRepository) ListSections(ctx context.Context, examID uuid.UUID) ([]model.Section, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, name, duration_sec, question_count, order_num
		 FROM exam_sections
		 WHERE exam_id = $1
		 ORDER BY order_num ASC`, examID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sections []model.Section
	for rows.Next() {
		var s model.Section
		if err := rows.Scan(&s.ID, &s.Name, &s.DurationSec, &s.QuestionCount, &s.OrderNum); err != nil {
			return nil, err
		}
		sections = append(sections, s)
	}
	return sections, rows.Err()
}

// ListQuestions retrieves an exam's questions grouped by section order, then question order.
func (r *ExamRepository) ListQuestions(ctx context.Context, examID uuid.UUID) ([]model.Question, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT q.id, q.section_id, q.question_text, q.question_type, q.options,
		        q.marks, q.negative_marks, q.order_num
		 FROM questions q
		 LEFT JOIN exam_sections s ON s.id = q.section_id
		 WHERE q.exam_id = $1
		 ORDER BY s.order_num ASC NULLS LAST, q.order_num ASC`, examID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var questions []model.Question
	for rows.Next() {
		var q model.Question
		if err := rows.Scan(&q.ID, &q.SectionID, &q.QuestionText, &q.QuestionType, &q.Options,
			&q.Marks, &q.NegativeMarks, &q.OrderNum); err != nil {
			return nil, err
		}
		questions = append(questions, q)
	}
	return questions, rows.Err()
}

// ListPublishedIDs returns the IDs of all exams candidates can currently take.
// Used for cache prewarming on application startup.
func (r *ExamRepository) ListPublishedIDs(ctx context.Context) ([]uuid.UUID, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id FROM exams WHERE status = ANY($1) ORDER BY updated_at DESC`,
		[]string{string(model.ExamStatusPublished), string(model.ExamStatusInProgress)})
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
