package service

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/proktor-backend/internal/model"
	"github.com/stemsi/proktor-backend/internal/repository"
)

// MonitorService orchestrates live exam monitoring business logic.
type MonitorService struct {
	monitorRepo   *repository.MonitorRepository
	answerRepo    *repository.AnswerRepository
	violationRepo *repository.ViolationRepository
	log           zerolog.Logger
}

// NewMonitorService creates a new MonitorService.
func NewMonitorService(
	monitorRepo *repository.MonitorRepository,
	answerRepo *repository.AnswerRepository,
	violationRepo *repository.ViolationRepository,
	log zerolog.Logger,
) *MonitorService {
	return &MonitorService{
		monitorRepo:   monitorRepo,
		answerRepo:    answerRepo,
		violationRepo: violationRepo,
		log:           log.With().Str("component", "monitor_service").Logger(),
	}
}

// MonitorAttempt is one row of the live monitor view.
type MonitorAttempt struct {
	AttemptID      uuid.UUID           `json:"attempt_id"`
	StudentID      int                 `json:"student_id"`
	StudentName    string              `json:"student_name"`
	StudentEmail   string              `json:"student_email"`
	Status         model.AttemptStatus `json:"status"`
	AnsweredCount  int                 `json:"answered_count"`
	ViolationCount int                 `json:"violation_count"`
	TabSwitchCount int                 `json:"tab_switch_count"`
	Flagged        bool                `json:"flagged"`
	FlagReason     string              `json:"flag_reason,omitempty"`
	StartedAt      int64               `json:"started_at_unix"`
}

// MonitorSummary is the aggregate state of one exam's room.
type MonitorSummary struct {
	ExamID       uuid.UUID                   `json:"exam_id"`
	Attempts     []MonitorAttempt            `json:"attempts"`
	StatusCounts map[model.AttemptStatus]int `json:"status_counts"`
	TotalFlagged int                         `json:"total_flagged"`
}

// GetSummary builds the live monitor snapshot for an exam. Answered counts
// come from the live Redis hashes, falling back to the durable rows when
// Redis is unreachable. The two aggregate queries run concurrently.
func (s *MonitorService) GetSummary(ctx context.Context, examID uuid.UUID) (*MonitorSummary, error) {
	active, err := s.monitorRepo.ListActiveAttempts(ctx, examID)
	if err != nil {
		return nil, err
	}

	attemptIDs := make([]uuid.UUID, len(active))
	for i := range active {
		attemptIDs[i] = active[i].Attempt.ID
	}

	var (
		answered     map[uuid.UUID]int
		statusCounts map[model.AttemptStatus]int
		answeredErr  error
		statusErr    error
		wg           sync.WaitGroup
	)

	wg.Add(1)
	go func() {
		defer wg.Done()
		answered, answeredErr = s.monitorRepo.LiveAnsweredCounts(ctx, attemptIDs)
		if answeredErr != nil {
			s.log.Warn().Err(answeredErr).Msg("Live answered counts failed, falling back to durable rows")
			answered, answeredErr = s.answerRepo.AnsweredCountsByExam(ctx, examID)
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		statusCounts, statusErr = s.monitorRepo.StatusCountsByExam(ctx, examID)
	}()

	wg.Wait()

	if answeredErr != nil {
		return nil, answeredErr
	}
	if statusErr != nil {
		return nil, statusErr
	}

	summary := &MonitorSummary{
		ExamID:       examID,
		Attempts:     make([]MonitorAttempt, 0, len(active)),
		StatusCounts: statusCounts,
	}

	for _, row := range active {
		a := row.Attempt
		summary.Attempts = append(summary.Attempts, MonitorAttempt{
			AttemptID:      a.ID,
			StudentID:      a.StudentID,
			StudentName:    row.StudentName,
			StudentEmail:   row.StudentEmail,
			Status:         a.Status,
			AnsweredCount:  answered[a.ID],
			ViolationCount: a.ViolationCount,
			TabSwitchCount: a.TabSwitchCount,
			Flagged:        a.Flagged,
			FlagReason:     a.FlagReason,
			StartedAt:      a.StartedAt.Unix(),
		})
		if a.Flagged {
			summary.TotalFlagged++
		}
	}

	return summary, nil
}
