package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/stemsi/proktor-backend/internal/config"
	"github.com/stemsi/proktor-backend/internal/model"
)

// MonitorRepository provides data access for the live exam monitoring
// feature. It combines PostgreSQL (attempt state) and Redis (live answer
// counts).
type MonitorRepository struct {
	pool *pgxpool.Pool
	rdb  *redis.Client
}

// NewMonitorRepository creates a new MonitorRepository.
func NewMonitorRepository(pool *pgxpool.Pool, rdb *redis.Client) *MonitorRepository {
	return &MonitorRepository{pool: pool, rdb: rdb}
}

// ListActiveAttempts returns every in-progress attempt of the exam joined
// with the student's identity.
func (r *MonitorRepository) ListActiveAttempts(ctx context.Context, examID uuid.UUID) ([]AttemptListRow, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT a.id, a.exam_id, a.student_id, a.status, a.score, a.total_marks,
		        a.percentage, a.passed, a.flagged, a.flag_reason,
		        a.tab_switch_count, a.violation_count,
		        a.started_at, a.submitted_at, a.time_spent_seconds,
		        s.name, s.email
		 FROM attempts a
		 JOIN students s ON a.student_id = s.id
		 WHERE a.exam_id = $1 AND a.status = $2
		 ORDER BY a.started_at ASC`,
		examID, model.AttemptStatusInProgress)
	if err != nil {
		return nil, err
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
			return nil, err
		}
		results = append(results, row)
	}
	return results, rows.Err()
}

// LiveAnsweredCounts returns the size of each attempt's live answer hash.
// A missing hash counts as zero; callers fall back to the durable rows
// when Redis is unavailable.
func (r *MonitorRepository) LiveAnsweredCounts(ctx context.Context, attemptIDs []uuid.UUID) (map[uuid.UUID]int, error) {
	counts := make(map[uuid.UUID]int, len(attemptIDs))

	pipe := r.rdb.Pipeline()
	cmds := make([]*redis.IntCmd, len(attemptIDs))
	for i, id := range attemptIDs {
		cmds[i] = pipe.HLen(ctx, config.CacheKey.AttemptAnswersKey(id.String()))
	}
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, err
	}

	for i, id := range attemptIDs {
		counts[id] = int(cmds[i].Val())
	}
	return counts, nil
}

// StatusCountsByExam returns the attempt count per lifecycle status.
func (r *MonitorRepository) StatusCountsByExam(ctx context.Context, examID uuid.UUID) (map[model.AttemptStatus]int, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT status, COUNT(*) FROM attempts WHERE exam_id = $1 GROUP BY status`, examID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[model.AttemptStatus]int)
	for rows.Next() {
		var status model.AttemptStatus
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		counts[status] = count
	}
	return counts, rows.Err()
}
