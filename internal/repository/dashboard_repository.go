package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/proktor-backend/internal/model"
)

// DashboardRepository handles instructor dashboard data access.
type DashboardRepository struct {
	pool *pgxpool.Pool
}

// NewDashboardRepository creates a new DashboardRepository.
func NewDashboardRepository(pool *pgxpool.Pool) *DashboardRepository {
	return &DashboardRepository{pool: pool}
}

// GetSummaryCounts retrieves the high-level metrics for an instructor's
// dashboard.
func (r *DashboardRepository) GetSummaryCounts(ctx context.Context, instructorID int) (totalExams, totalAttempts, flaggedAttempts, totalStudents int, err error) {
	err = r.pool.QueryRow(ctx,
		`SELECT
			(SELECT COUNT(*) FROM exams WHERE instructor_id = $1),
			(SELECT COUNT(*) FROM attempts a JOIN exams e ON a.exam_id = e.id WHERE e.instructor_id = $1),
			(SELECT COUNT(*) FROM attempts a JOIN exams e ON a.exam_id = e.id WHERE e.instructor_id = $1 AND a.flagged),
			(SELECT COUNT(*) FROM students)`,
		instructorID,
	).Scan(&totalExams, &totalAttempts, &flaggedAttempts, &totalStudents)
	return
}

// GetExamStatusCounts retrieves the distribution of an instructor's exams
// by status.
func (r *DashboardRepository) GetExamStatusCounts(ctx context.Context, instructorID int) (map[model.ExamStatus]int, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT status, COUNT(*) FROM exams WHERE instructor_id = $1 GROUP BY status`,
		instructorID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[model.ExamStatus]int)
	for rows.Next() {
		var status model.ExamStatus
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		counts[status] = count
	}
	return counts, rows.Err()
}

// DashboardUpcomingExam represents minimal data for upcoming scheduled exams.
type DashboardUpcomingExam struct {
	ID             uuid.UUID  `json:"id"`
	Title          string     `json:"title"`
	ScheduledStart *time.Time `json:"scheduled_start"`
	Duration       int        `json:"duration_minutes"`
}

// GetUpcomingExams retrieves the instructor's next N scheduled exams that
// are PUBLISHED.
func (r *DashboardRepository) GetUpcomingExams(ctx context.Context, instructorID, limit int) ([]DashboardUpcomingExam, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, title, scheduled_start, duration_minutes
		 FROM exams
		 WHERE instructor_id = $1 AND status = $2 AND scheduled_start > NOW()
		 ORDER BY scheduled_start ASC LIMIT $3`,
		instructorID, model.ExamStatusPublished, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var exams []DashboardUpcomingExam
	for rows.Next() {
		var e DashboardUpcomingExam
		if err := rows.Scan(&e.ID, &e.Title, &e.ScheduledStart, &e.Duration); err != nil {
			return nil, err
		}
		exams = append(exams, e)
	}
	if exams == nil {
		exams = []DashboardUpcomingExam{}
	}
	return exams, rows.Err()
}

// DashboardRecentExamResult represents minimal data for recently finished
// exams, averaging attempt results.
type DashboardRecentExamResult struct {
	ID               uuid.UUID  `json:"id"`
	Title            string     `json:"title"`
	EndDateTime      *time.Time `json:"end_date_time"`
	ParticipantCount int        `json:"participant_count"`
	AverageScore     *float64   `json:"average_score"`
	FlaggedCount     int        `json:"flagged_count"`
}

// GetRecentExamResults retrieves the instructor's last N non-draft exams
// with aggregated attempt stats.
func (r *DashboardRepository) GetRecentExamResults(ctx context.Context, instructorID, limit int) ([]DashboardRecentExamResult, error) {
	query := `
		SELECT
			e.id,
			e.title,
			COALESCE(e.scheduled_end, e.updated_at) as end_time,
			COUNT(a.id) as participant_count,
			AVG(a.score) FILTER (WHERE a.status <> 'in_progress') as average_score,
			COUNT(a.id) FILTER (WHERE a.flagged) as flagged_count
		FROM exams e
		LEFT JOIN attempts a ON e.id = a.exam_id
		WHERE e.instructor_id = $1 AND e.status IN ($2, $3)
		GROUP BY e.id, e.title, end_time
		ORDER BY end_time DESC
		LIMIT $4
	`
	rows, err := r.pool.Query(ctx, query, instructorID, model.ExamStatusPublished, model.ExamStatusArchived, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []DashboardRecentExamResult
	for rows.Next() {
		var res DashboardRecentExamResult
		if err := rows.Scan(&res.ID, &res.Title, &res.EndDateTime, &res.ParticipantCount, &res.AverageScore, &res.FlaggedCount); err != nil {
			return nil, err
		}
		results = append(results, res)
	}
	if results == nil {
		results = []DashboardRecentExamResult{}
	}
	return results, rows.Err()
}
