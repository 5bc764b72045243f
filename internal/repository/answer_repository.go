package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/proktor-backend/internal/model"
)

// AnswerRow is one durable answer row queued for persistence.
type AnswerRow struct {
	AttemptID  uuid.UUID `json:"attempt_id"`
	QuestionID uuid.UUID `json:"question_id"`
	Value      string    `json:"value"`
}

// AnswerRepository handles durable answer storage. The live copy lives in
// Redis; these rows are the write-behind record.
type AnswerRepository struct {
	pool *pgxpool.Pool
}

// NewAnswerRepository creates a new AnswerRepository.
func NewAnswerRepository(pool *pgxpool.Pool) *AnswerRepository {
	return &AnswerRepository{pool: pool}
}

// UpsertBatch persists a batch of answer rows using COPY into a temp table
// followed by an upsert merge. Falls back gracefully for small batches.
func (r *AnswerRepository) UpsertBatch(ctx context.Context, rows []AnswerRow) error {
	if len(rows) == 0 {
		return nil
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`CREATE TEMP TABLE tmp_answers
		 (attempt_id UUID, question_id UUID, value TEXT)
		 ON COMMIT DROP`); err != nil {
		return err
	}

	_, err = tx.CopyFrom(ctx,
		pgx.Identifier{"tmp_answers"},
		[]string{"attempt_id", "question_id", "value"},
		pgx.CopyFromSlice(len(rows), func(i int) ([]any, error) {
			return []any{rows[i].AttemptID, rows[i].QuestionID, rows[i].Value}, nil
		}))
	if err != nil {
		return err
	}

	// Last write wins per (attempt, question) pair. Rows for attempts
	// that are no longer in_progress are discarded: the graded set
	// written at submit is authoritative and a late autosave must not
	// overwrite it.
	if _, err := tx.Exec(ctx,
		`INSERT INTO attempt_answers (attempt_id, question_id, value)
		 SELECT t.attempt_id, t.question_id, t.value
		 FROM tmp_answers t
		 JOIN attempts a ON a.id = t.attempt_id
		 WHERE a.status = 'in_progress'
		 ON CONFLICT (attempt_id, question_id)
		 DO UPDATE SET value = EXCLUDED.value, updated_at = NOW()`); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// Upsert writes a single answer row. Used as the per-row fallback when a
// batch insert fails. Carries the same in_progress guard as the batch
// path.
func (r *AnswerRepository) Upsert(ctx context.Context, row AnswerRow) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO attempt_answers (attempt_id, question_id, value)
		 SELECT $1, $2, $3
		 WHERE EXISTS (SELECT 1 FROM attempts WHERE id = $1 AND status = 'in_progress')
		 ON CONFLICT (attempt_id, question_id)
		 DO UPDATE SET value = EXCLUDED.value, updated_at = NOW()`,
		row.AttemptID, row.QuestionID, row.Value)
	return err
}

// ListByAttempt retrieves all durable answers of an attempt.
func (r *AnswerRepository) ListByAttempt(ctx context.Context, attemptID uuid.UUID) ([]model.Answer, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT question_id, value, correct, marks_awarded
		 FROM attempt_answers WHERE attempt_id = $1
		 ORDER BY question_id`, attemptID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var answers []model.Answer
	for rows.Next() {
		var a model.Answer
		if err := rows.Scan(&a.QuestionID, &a.Value, &a.Correct, &a.MarksAwarded); err != nil {
			return nil, err
		}
		answers = append(answers, a)
	}
	return answers, rows.Err()
}

// ReplaceGraded rewrites an attempt's answer rows with the graded set.
// Grading is authoritative: any autosaved row not in the graded set is
// dropped.
func (r *AnswerRepository) ReplaceGraded(ctx context.Context, attemptID uuid.UUID, answers []model.Answer) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`DELETE FROM attempt_answers WHERE attempt_id = $1`, attemptID); err != nil {
		return err
	}

	_, err = tx.CopyFrom(ctx,
		pgx.Identifier{"attempt_answers"},
		[]string{"attempt_id", "question_id", "value", "correct", "marks_awarded"},
		pgx.CopyFromSlice(len(answers), func(i int) ([]any, error) {
			a := answers[i]
			return []any{attemptID, a.QuestionID, a.Value, a.Correct, a.MarksAwarded}, nil
		}))
	if err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// AnsweredCountsByExam returns how many durable answers each attempt of an
// exam has. Used by the live monitor as the Redis fallback.
func (r *AnswerRepository) AnsweredCountsByExam(ctx context.Context, examID uuid.UUID) (map[uuid.UUID]int, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT aa.attempt_id, COUNT(*)
		 FROM attempt_answers aa
		 JOIN attempts a ON aa.attempt_id = a.id
		 WHERE a.exam_id = $1
		 GROUP BY aa.attempt_id`, examID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[uuid.UUID]int)
	for rows.Next() {
		var attemptID uuid.UUID
		var count int
		if err := rows.Scan(&attemptID, &count); err != nil {
			return nil, err
		}
		counts[attemptID] = count
	}
	return counts, rows.Err()
}
