package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/proktor-backend/internal/model"
)

// SnapshotRepository handles webcam snapshot references.
type SnapshotRepository struct {
	pool *pgxpool.Pool
}

// NewSnapshotRepository creates a new SnapshotRepository.
func NewSnapshotRepository(pool *pgxpool.Pool) *SnapshotRepository {
	return &SnapshotRepository{pool: pool}
}

// Append records one snapshot reference for an attempt.
func (r *SnapshotRepository) Append(ctx context.Context, attemptID uuid.UUID, url string, capturedAt time.Time) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO attempt_snapshots (attempt_id, url, captured_at)
		 VALUES ($1, $2, $3)`,
		attemptID, url, capturedAt)
	return err
}

// ListByAttempt retrieves an attempt's snapshot references in capture order.
func (r *SnapshotRepository) ListByAttempt(ctx context.Context, attemptID uuid.UUID) ([]model.SnapshotRef, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT url, captured_at
		 FROM attempt_snapshots WHERE attempt_id = $1
		 ORDER BY captured_at ASC`, attemptID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var refs []model.SnapshotRef
	for rows.Next() {
		var ref model.SnapshotRef
		if err := rows.Scan(&ref.URL, &ref.CapturedAt); err != nil {
			return nil, err
		}
		refs = append(refs, ref)
	}
	return refs, rows.Err()
}
