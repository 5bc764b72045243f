package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/proktor-backend/internal/model"
)

// AttemptListRow combines an attempt with the owning student's identity,
// used by instructor result and monitoring views.
type AttemptListRow struct {
	Attempt      model.Attempt `json:"attempt"`
	StudentName  string        `json:"student_name"`
	StudentEmail string        `json:"student_email"`
}

// FinalizeParams carries the grading outcome written during the terminal
// transition of an attempt.
type FinalizeParams struct {
	Status        model.AttemptStatus
	Score         int
	Percentage    int
	Passed        bool
	Flagged       bool
	FlagReason    string
	TimeSpentSecs int
}

// AttemptRepository handles attempt data access.
type AttemptRepository struct {
	pool *pgxpool.Pool
}

// NewAttemptRepository creates a new AttemptRepository.
func NewAttemptRepository(pool *pgxpool.Pool) *AttemptRepository {
	return &AttemptRepository{pool: pool}
}

const attemptColumns = `id, exam_id, student_id, status, score, total_marks, percentage, passed,
	        flagged, flag_reason, tab_switch_count, violation_count,
	        started_at, submitted_at, time_spent_seconds`

func scanAttempt(row interface{ Scan(...any) error }) (*model.Attempt, error) {
	a := &model.Attempt{}
	err := row.Scan(&a.ID, &a.ExamID, &a.StudentID, &a.Status, &a.Score, &a.TotalMarks,
		&a.Percentage, &a.Passed, &a.Flagged, &a.FlagReason,
		&a.TabSwitchCount, &a.ViolationCount,
		&a.StartedAt, &a.SubmittedAt, &a.TimeSpentSecs)
	if err != nil {
		return nil, err
	}
	return a, nil
}

// Create inserts a new in-progress attempt.
func (r *AttemptRepository) Create(ctx context.Context, a *model.Attempt) error {
	return r.pool.QueryRow(ctx,
		`INSERT INTO attempts (exam_id, student_id, status, total_marks)
		 VALUES ($1, $2, $3, $4)
		 RETURNING id, started_at`,
		a.ExamID, a.StudentID, model.AttemptStatusInProgress, a.TotalMarks,
	).Scan(&a.ID, &a.StartedAt)
}

// GetByID retrieves an attempt by its UUID.
func (r *AttemptRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Attempt, error) {
	return scanAttempt(r.pool.QueryRow(ctx,
		`SELECT `+attemptColumns+` FROM attempts WHERE id = $1`, id))
}

// GetActiveByExamAndStudent retrieves the student's in-progress attempt for
// an exam, or pgx.ErrNoRows when none is open.
func (r *AttemptRepository) GetActiveByExamAndStudent(ctx context.Context, examID uuid.UUID, studentID int) (*model.Attempt, error) {
	return scanAttempt(r.pool.QueryRow(ctx,
		`SELECT `+attemptColumns+`
		 FROM attempts
		 WHERE exam_id = $1 AND student_id = $2 AND status = $3
		 ORDER BY started_at DESC LIMIT 1`,
		examID, studentID, model.AttemptStatusInProgress))
}

// HasFinishedAttempt reports whether the student has any terminal attempt
// for the exam. Used to enforce single-attempt exams.
func (r *AttemptRepository) HasFinishedAttempt(ctx context.Context, examID uuid.UUID, studentID int) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS (
		    SELECT 1 FROM attempts
		    WHERE exam_id = $1 AND student_id = $2 AND status <> $3
		 )`, examID, studentID, model.AttemptStatusInProgress,
	).Scan(&exists)
	return exists, err
}

// ListByStudent retrieves all attempts of a student, newest first.
func (r *AttemptRepository) ListByStudent(ctx context.Context, studentID int) ([]model.Attempt, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+attemptColumns+`
		 FROM attempts WHERE student_id = $1
		 ORDER BY started_at DESC`, studentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var attempts []model.Attempt
	for rows.Next() {
		a, err := scanAttempt(rows)
		if err != nil {
			return nil, err
		}
		attempts = append(attempts, *a)
	}
	return attempts, rows.Err()
}

// ListByExamPaginated retrieves attempts of an exam joined with student
// identity, with optional flagged-only filtering.
func (r *AttemptRepository) ListByExamPaginated(ctx context.Context, examID uuid.UUID, flaggedOnly bool, limit, offset int) ([]AttemptListRow, int, error) {
	baseQuery := `
		FROM attempts a
		JOIN students s ON a.student_id = s.id
		WHERE a.exam_id = $1`
	args := []any{examID}
	if flaggedOnly {
		baseQuery += ` AND a.flagged = TRUE`
	}

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) `+baseQuery, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT a.id, a.exam_id, a.student_id, a.status, a.score, a.total_marks,
	                 a.percentage, a.passed, a.flagged, a.flag_reason,
	                 a.tab_switch_count, a.violation_count,
	                 a.started_at, a.submitted_at, a.time_spent_seconds,
	                 s.name, s.email` +
		baseQuery + `
		ORDER BY a.started_at DESC LIMIT $2 OFFSET $3`
	args = append(args, limit, offset)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var results []AttemptListRow
	for rows.Next() {
		var row AttemptListRow
		a := &row.Attempt
		if err := rows.Scan(&a.ID, &a.ExamID, &a.StudentID, &a.Status, &a.Score, &a.TotalMarks,
			&a.Percentage, &a.Passed, &a.Flagged, &a.FlagReason,
			&a.TabSwitchCount, &a.ViolationCount,
			&a.StartedAt, &a.SubmittedAt, &a.TimeSpentSecs,
			&row.StudentName, &row.StudentEmail); err != nil {
			return nil, 0, err
		}
		results = append(results, row)
	}
	return results, total, rows.Err()
}

// Finalize performs the terminal transition. The status guard makes it a
// conditional update: of N concurrent submits exactly one sees a row.
// Returns the finalized attempt, or (nil, false) when the attempt was
// already terminal.
func (r *AttemptRepository) Finalize(ctx context.Context, id uuid.UUID, p FinalizeParams) (*model.Attempt, bool, error) {
	now := time.Now()
	a, err := scanAttempt(r.pool.QueryRow(ctx,
		`UPDATE attempts
		 SET status = $2, score = $3, percentage = $4, passed = $5,
		     flagged = flagged OR $6,
		     flag_reason = CASE WHEN $6 THEN $7 ELSE flag_reason END,
		     submitted_at = $8, time_spent_seconds = $9
		 WHERE id = $1 AND status = $10
		 RETURNING `+attemptColumns,
		id, p.Status, p.Score, p.Percentage, p.Passed,
		p.Flagged, p.FlagReason, now, p.TimeSpentSecs,
		model.AttemptStatusInProgress))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return a, true, nil
}

// SetFlag marks an in-progress attempt as flagged. The boolean never
// clears; a later call replaces the reason.
func (r *AttemptRepository) SetFlag(ctx context.Context, id uuid.UUID, reason string) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE attempts SET flagged = TRUE, flag_reason = $2
		 WHERE id = $1 AND status = $3`,
		id, reason, model.AttemptStatusInProgress)
	return err
}

// Cancel force-closes an in-progress attempt without grading.
func (r *AttemptRepository) Cancel(ctx context.Context, id uuid.UUID, reason string) (bool, error) {
	tag, err := r.pool.Exec(ctx,
		`UPDATE attempts
		 SET status = $2, flagged = TRUE, flag_reason = $3, submitted_at = NOW()
		 WHERE id = $1 AND status = $4`,
		id, model.AttemptStatusCancelled, reason, model.AttemptStatusInProgress)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}
