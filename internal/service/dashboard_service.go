package service

import (
	"context"

	"github.com/stemsi/proktor-backend/internal/model"
	"github.com/stemsi/proktor-backend/internal/repository"
)

// DashboardData consolidates all metrics for the instructor dashboard.
type DashboardData struct {
	TotalExams        int                                    `json:"total_exams"`
	TotalAttempts     int                                    `json:"total_attempts"`
	FlaggedAttempts   int                                    `json:"flagged_attempts"`
	TotalStudents     int                                    `json:"total_students"`
	ExamStatusCounts  map[model.ExamStatus]int               `json:"exam_status_counts"`
	UpcomingExams     []repository.DashboardUpcomingExam     `json:"upcoming_exams"`
	RecentExamResults []repository.DashboardRecentExamResult `json:"recent_exam_results"`
}

// DashboardService aggregates instructor dashboard metrics.
type DashboardService struct {
	dashboardRepo *repository.DashboardRepository
}

// NewDashboardService creates a new DashboardService.
func NewDashboardService(dashboardRepo *repository.DashboardRepository) *DashboardService {
	return &DashboardService{dashboardRepo: dashboardRepo}
}

// GetDashboardData assembles all dashboard sections for one instructor.
func (s *DashboardService) GetDashboardData(ctx context.Context, instructorID int) (*DashboardData, error) {
	totalExams, totalAttempts, flaggedAttempts, totalStudents, err := s.dashboardRepo.GetSummaryCounts(ctx, instructorID)
	if err != nil {
		return nil, err
	}

	statusCounts, err := s.dashboardRepo.GetExamStatusCounts(ctx, instructorID)
	if err != nil {
		return nil, err
	}

	upcoming, err := s.dashboardRepo.GetUpcomingExams(ctx, instructorID, 5)
	if err != nil {
		return nil, err
	}

	recent, err := s.dashboardRepo.GetRecentExamResults(ctx, instructorID, 5)
	if err != nil {
		return nil, err
	}

	return &DashboardData{
		TotalExams:        totalExams,
		TotalAttempts:     totalAttempts,
		FlaggedAttempts:   flaggedAttempts,
		TotalStudents:     totalStudents,
		ExamStatusCounts:  statusCounts,
		UpcomingExams:     upcoming,
		RecentExamResults: recent,
	}, nil
}
