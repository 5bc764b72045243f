package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/proktor-backend/internal/model"
	"github.com/stemsi/proktor-backend/internal/repository"
)

var ErrQuestionNotFound = errors.New("question not found in this exam")

// QuestionService handles question bank business logic.
type QuestionService struct {
	questionRepo *repository.QuestionRepository
	examRepo     *repository.ExamRepository
	examService  *ExamService
	log          zerolog.Logger
}

// NewQuestionService creates a new QuestionService.
func NewQuestionService(
	questionRepo *repository.QuestionRepository,
	examRepo *repository.ExamRepository,
	examService *ExamService,
	log zerolog.Logger,
) *QuestionService {
	return &QuestionService{
		questionRepo: questionRepo,
		examRepo:     examRepo,
		examService:  examService,
		log:          log.With().Str("component", "question_service").Logger(),
	}
}

// ListByExam retrieves an exam's questions after an ownership check.
func (s *QuestionService) ListByExam(ctx context.Context, examID uuid.UUID, instructorID int) ([]model.Question, error) {
	if _, err := s.ownedExam(ctx, examID, instructorID); err != nil {
		return nil, err
	}
	questions, err := s.questionRepo.ListByExam(ctx, examID)
	if err != nil {
		return nil, err
	}
	if questions == nil {
		questions = []model.Question{}
	}
	return questions, nil
}

// Add appends one question to an exam and refreshes the stored total.
func (s *QuestionService) Add(ctx context.Context, examID uuid.UUID, instructorID int, q *model.Question) error {
	exam, err := s.ownedExam(ctx, examID, instructorID)
	if err != nil {
		return err
	}

	q.ExamID = examID
	if err := s.questionRepo.Add(ctx, q); err != nil {
		return fmt.Errorf("add question: %w", err)
	}

	return s.syncTotals(ctx, exam)
}

// Replace swaps an exam's entire question bank.
func (s *QuestionService) Replace(ctx context.Context, examID uuid.UUID, instructorID int, questions []model.Question) error {
	exam, err := s.ownedExam(ctx, examID, instructorID)
	if err != nil {
		return err
	}

	if err := s.questionRepo.ReplaceForExam(ctx, examID, questions); err != nil {
		return fmt.Errorf("replace questions: %w", err)
	}

	return s.syncTotals(ctx, exam)
}

// Delete removes one question from an exam.
func (s *QuestionService) Delete(ctx context.Context, examID, questionID uuid.UUID, instructorID int) error {
	exam, err := s.ownedExam(ctx, examID, instructorID)
	if err != nil {
		return err
	}

	deleted, err := s.questionRepo.Delete(ctx, examID, questionID)
	if err != nil {
		return fmt.Errorf("delete question: %w", err)
	}
	if !deleted {
		return ErrQuestionNotFound
	}

	return s.syncTotals(ctx, exam)
}

func (s *QuestionService) ownedExam(ctx context.Context, examID uuid.UUID, instructorID int) (*model.Exam, error) {
	exam, err := s.examRepo.GetByID(ctx, examID)
	if err != nil {
		return nil, err
	}
	if exam.InstructorID != instructorID {
		return nil, ErrNotExamOwner
	}
	return exam, nil
}

// syncTotals recomputes the exam total and, for published exams,
// rewarms the Redis cache so students see the new bank.
func (s *QuestionService) syncTotals(ctx context.Context, exam *model.Exam) error {
	totalMarks, err := s.questionRepo.SumMarksByExam(ctx, exam.ID)
	if err != nil {
		return fmt.Errorf("sum marks: %w", err)
	}
	if err := s.examRepo.UpdateTotalMarks(ctx, exam.ID, totalMarks); err != nil {
		return fmt.Errorf("update total marks: %w", err)
	}
	exam.TotalMarks = totalMarks

	if exam.Status == model.ExamStatusPublished {
		if err := s.examService.WarmExamCache(ctx, exam); err != nil {
			s.log.Warn().Err(err).Str("exam_id", exam.ID.String()).Msg("Cache rewarm after bank change failed")
		}
	}
	return nil
}
