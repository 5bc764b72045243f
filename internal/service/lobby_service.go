package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/stemsi/proktor-backend/internal/model"
	"github.com/stemsi/proktor-backend/internal/repository"
)

// LobbyStatus represents the concrete state of an exam in the lobby.
type LobbyStatus string

const (
	LobbyStatusUpcoming   LobbyStatus = "UPCOMING"
	LobbyStatusAvailable  LobbyStatus = "AVAILABLE"
	LobbyStatusInProgress LobbyStatus = "IN_PROGRESS"
	LobbyStatusCompleted  LobbyStatus = "COMPLETED"
	LobbyStatusClosed     LobbyStatus = "CLOSED"
)

// LobbyExam represents an exam as displayed in the student lobby. The
// student-facing view never includes questions or answer keys.
type LobbyExam struct {
	ExamID          uuid.UUID            `json:"exam_id"`
	Title           string               `json:"title"`
	Description     string               `json:"description,omitempty"`
	ScheduledStart  *time.Time           `json:"scheduled_start,omitempty"`
	ScheduledEnd    *time.Time           `json:"scheduled_end,omitempty"`
	DurationMinutes int                  `json:"duration_minutes"`
	TotalMarks      int                  `json:"total_marks"`
	PassingMarks    int                  `json:"passing_marks"`
	LobbyStatus     LobbyStatus          `json:"lobby_status"`
	AttemptID       *uuid.UUID           `json:"attempt_id,omitempty"`
	AttemptStatus   *model.AttemptStatus `json:"attempt_status,omitempty"`
	Score           *int                 `json:"score,omitempty"`
	Percentage      *int                 `json:"percentage,omitempty"`
	Passed          *bool                `json:"passed,omitempty"`
}

// LobbyService assembles the student's exam lobby.
type LobbyService struct {
	examRepo    *repository.ExamRepository
	attemptRepo *repository.AttemptRepository
}

// NewLobbyService creates a new LobbyService.
func NewLobbyService(examRepo *repository.ExamRepository, attemptRepo *repository.AttemptRepository) *LobbyService {
	return &LobbyService{examRepo: examRepo, attemptRepo: attemptRepo}
}

// GetLobby returns every published exam overlaid with the student's own
// attempt state.
func (s *LobbyService) GetLobby(ctx context.Context, studentID int) ([]LobbyExam, error) {
	exams, err := s.examRepo.ListPublished(ctx)
	if err != nil {
		return nil, fmt.Errorf("list published exams: %w", err)
	}

	attempts, err := s.attemptRepo.ListByStudent(ctx, studentID)
	if err != nil {
		return nil, fmt.Errorf("list attempts: %w", err)
	}

	// Latest attempt per exam wins the overlay; ListByStudent is newest
	// first.
	attemptMap := make(map[uuid.UUID]*model.Attempt, len(attempts))
	for i := range attempts {
		if _, seen := attemptMap[attempts[i].ExamID]; !seen {
			attemptMap[attempts[i].ExamID] = &attempts[i]
		}
	}

	lobby := make([]LobbyExam, 0, len(exams))
	now := time.Now()

	for i := range exams {
		exam := &exams[i]
		entry := LobbyExam{
			ExamID:          exam.ID,
			Title:           exam.Title,
			Description:     exam.Description,
			ScheduledStart:  exam.ScheduledStart,
			ScheduledEnd:    exam.ScheduledEnd,
			DurationMinutes: exam.DurationMinutes,
			TotalMarks:      exam.TotalMarks,
			PassingMarks:    exam.PassingMarks,
		}

		if attempt, ok := attemptMap[exam.ID]; ok {
			entry.AttemptID = &attempt.ID
			entry.AttemptStatus = &attempt.Status
			if attempt.Status == model.AttemptStatusInProgress {
				entry.LobbyStatus = LobbyStatusInProgress
			} else {
				entry.LobbyStatus = LobbyStatusCompleted
				entry.Score = &attempt.Score
				entry.Percentage = &attempt.Percentage
				entry.Passed = &attempt.Passed
				if exam.AllowMultipleAttempts && scheduleOpen(exam, now) {
					entry.LobbyStatus = LobbyStatusAvailable
				}
			}
		} else {
			switch {
			case exam.ScheduledStart != nil && exam.ScheduledStart.After(now):
				entry.LobbyStatus = LobbyStatusUpcoming
			case exam.ScheduledEnd != nil && exam.ScheduledEnd.Before(now):
				entry.LobbyStatus = LobbyStatusClosed
			default:
				entry.LobbyStatus = LobbyStatusAvailable
			}
		}

		lobby = append(lobby, entry)
	}

	return lobby, nil
}

func scheduleOpen(exam *model.Exam, now time.Time) bool {
	if exam.ScheduledStart != nil && exam.ScheduledStart.After(now) {
		return false
	}
	if exam.ScheduledEnd != nil && exam.ScheduledEnd.Before(now) {
		return false
	}
	return true
}
