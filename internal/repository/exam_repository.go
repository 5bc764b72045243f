package repository

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/proktor-backend/internal/model"
)

// ExamRepository handles exam data access.
type ExamRepository struct {
	pool *pgxpool.Pool
}

// NewExamRepository creates a new ExamRepository.
func NewExamRepository(pool *pgxpool.Pool) *ExamRepository {
	return &ExamRepository{pool: pool}
}

func scanExam(row interface{ Scan(...any) error }) (*model.Exam, error) {
	e := &model.Exam{}
	var antiCheat []byte
	err := row.Scan(&e.ID, &e.Title, &e.Description, &e.InstructorID,
		&e.ScheduledStart, &e.ScheduledEnd, &e.DurationMinutes,
		&e.TotalMarks, &e.PassingMarks, &antiCheat,
		&e.AllowMultipleAttempts, &e.Status, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if len(antiCheat) > 0 {
		if err := json.Unmarshal(antiCheat, &e.AntiCheat); err != nil {
			return nil, err
		}
	}
	return e, nil
}

const examColumns = `id, title, description, instructor_id, scheduled_start, scheduled_end,
	        duration_minutes, total_marks, passing_marks, anti_cheat,
	        allow_multiple_attempts, status, created_at, updated_at`

// GetByID retrieves an exam by its UUID.
func (r *ExamRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Exam, error) {
	return scanExam(r.pool.QueryRow(ctx,
		`SELECT `+examColumns+` FROM exams WHERE id = $1`, id))
}

// ListByInstructorPaginated retrieves exams owned by an instructor with pagination.
func (r *ExamRepository) ListByInstructorPaginated(ctx context.Context, instructorID, limit, offset int) ([]model.Exam, int, error) {
	var total int
	if err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM exams WHERE instructor_id = $1`, instructorID,
	).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := r.pool.Query(ctx,
		`SELECT `+examColumns+`
		 FROM exams WHERE instructor_id = $1
		 ORDER BY created_at DESC LIMIT $2 OFFSET $3`,
		instructorID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var exams []model.Exam
	for rows.Next() {
		e, err := scanExam(rows)
		if err != nil {
			return nil, 0, err
		}
		exams = append(exams, *e)
	}
	return exams, total, rows.Err()
}

// Create inserts a new exam.
func (r *ExamRepository) Create(ctx context.Context, e *model.Exam) error {
	antiCheat, err := json.Marshal(e.AntiCheat)
	if err != nil {
		return err
	}
	return r.pool.QueryRow(ctx,
		`INSERT INTO exams (title, description, instructor_id, scheduled_start, scheduled_end,
		                    duration_minutes, passing_marks, anti_cheat, allow_multiple_attempts, status)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 RETURNING id, total_marks, created_at, updated_at`,
		e.Title, e.Description, e.InstructorID, e.ScheduledStart, e.ScheduledEnd,
		e.DurationMinutes, e.PassingMarks, antiCheat, e.AllowMultipleAttempts, e.Status,
	).Scan(&e.ID, &e.TotalMarks, &e.CreatedAt, &e.UpdatedAt)
}

// Update rewrites every mutable column of a draft exam.
func (r *ExamRepository) Update(ctx context.Context, e *model.Exam) error {
	antiCheat, err := json.Marshal(e.AntiCheat)
	if err != nil {
		return err
	}
	_, err = r.pool.Exec(ctx,
		`UPDATE exams
		 SET title = $1, description = $2, scheduled_start = $3, scheduled_end = $4,
		     duration_minutes = $5, passing_marks = $6, anti_cheat = $7,
		     allow_multiple_attempts = $8, updated_at = NOW()
		 WHERE id = $9`,
		e.Title, e.Description, e.ScheduledStart, e.ScheduledEnd,
		e.DurationMinutes, e.PassingMarks, antiCheat, e.AllowMultipleAttempts, e.ID)
	return err
}

// UpdateStatus updates an exam's status.
func (r *ExamRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status model.ExamStatus) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE exams SET status = $1, updated_at = NOW() WHERE id = $2`,
		status, id)
	return err
}

// UpdateTotalMarks stores the recomputed total after a question bank change.
func (r *ExamRepository) UpdateTotalMarks(ctx context.Context, id uuid.UUID, totalMarks int) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE exams SET total_marks = $1, updated_at = NOW() WHERE id = $2`,
		totalMarks, id)
	return err
}

// ListPublished returns all exams with PUBLISHED status.
// Used for cache prewarming on application startup.
func (r *ExamRepository) ListPublished(ctx context.Context) ([]model.Exam, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+examColumns+`
		 FROM exams WHERE status = $1
		 ORDER BY created_at DESC`, model.ExamStatusPublished)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var exams []model.Exam
	for rows.Next() {
		e, err := scanExam(rows)
		if err != nil {
			return nil, err
		}
		exams = append(exams, *e)
	}
	return exams, rows.Err()
}

// Delete removes a draft exam and, via cascade, its questions.
func (r *ExamRepository) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM exams WHERE id = $1`, id)
	return err
}
