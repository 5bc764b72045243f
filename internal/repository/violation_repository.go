package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/proktor-backend/internal/model"
)

// ViolationRepository handles the append-only violation ledger.
type ViolationRepository struct {
	pool *pgxpool.Pool
}

// NewViolationRepository creates a new ViolationRepository.
func NewViolationRepository(pool *pgxpool.Pool) *ViolationRepository {
	return &ViolationRepository{pool: pool}
}

// Append inserts one ledger entry and bumps the attempt's counters in the
// same transaction, so a counter can never run ahead of the ledger.
// Returns the fresh violation and tab-switch counts.
func (r *ViolationRepository) Append(ctx context.Context, attemptID uuid.UUID, v *model.Violation) (violationCount, tabSwitchCount int, err error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, 0, err
	}
	defer tx.Rollback(ctx)

	err = tx.QueryRow(ctx,
		`INSERT INTO attempt_violations (attempt_id, type, description, severity)
		 VALUES ($1, $2, $3, $4)
		 RETURNING id, recorded_at`,
		attemptID, v.Type, v.Description, v.Severity,
	).Scan(&v.ID, &v.RecordedAt)
	if err != nil {
		return 0, 0, err
	}

	err = tx.QueryRow(ctx,
		`UPDATE attempts
		 SET violation_count = violation_count + 1,
		     tab_switch_count = tab_switch_count + CASE WHEN $2 THEN 1 ELSE 0 END
		 WHERE id = $1
		 RETURNING violation_count, tab_switch_count`,
		attemptID, v.Type == model.ViolationTabSwitch,
	).Scan(&violationCount, &tabSwitchCount)
	if err != nil {
		return 0, 0, err
	}

	return violationCount, tabSwitchCount, tx.Commit(ctx)
}

// ListByAttempt retrieves an attempt's full ledger in recording order.
func (r *ViolationRepository) ListByAttempt(ctx context.Context, attemptID uuid.UUID) ([]model.Violation, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, type, description, severity, recorded_at
		 FROM attempt_violations WHERE attempt_id = $1
		 ORDER BY id ASC`, attemptID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var violations []model.Violation
	for rows.Next() {
		var v model.Violation
		if err := rows.Scan(&v.ID, &v.Type, &v.Description, &v.Severity, &v.RecordedAt); err != nil {
			return nil, err
		}
		violations = append(violations, v)
	}
	return violations, rows.Err()
}

// CountsByExam returns the ledger size per attempt for every attempt of the
// exam that has at least one entry.
func (r *ViolationRepository) CountsByExam(ctx context.Context, examID uuid.UUID) (map[uuid.UUID]int, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT v.attempt_id, COUNT(*)
		 FROM attempt_violations v
		 JOIN attempts a ON v.attempt_id = a.id
		 WHERE a.exam_id = $1
		 GROUP BY v.attempt_id`, examID)
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
