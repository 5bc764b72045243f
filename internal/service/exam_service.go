package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/proktor-backend/internal/config"
	"github.com/stemsi/proktor-backend/internal/model"
	"github.com/stemsi/proktor-backend/internal/repository"
	"github.com/stemsi/proktor-backend/internal/response"
)

// Domain Errors
var (
	ErrNotExamOwner     = errors.New("not the owner of this exam")
	ErrNoQuestions      = errors.New("exam has no questions, cannot publish/start")
	ErrExamNotDraft     = errors.New("exam status is not DRAFT")
	ErrExamNotPublished = errors.New("exam status is not PUBLISHED")
)

// ExamService handles exam business logic and Redis caching.
type ExamService struct {
	examRepo     *repository.ExamRepository
	questionRepo *repository.QuestionRepository
	rdb          *redis.Client
	log          zerolog.Logger
}

// NewExamService creates a new ExamService.
func NewExamService(
	examRepo *repository.ExamRepository,
	questionRepo *repository.QuestionRepository,
	rdb *redis.Client,
	log zerolog.Logger,
) *ExamService {
	return &ExamService{
		examRepo:     examRepo,
		questionRepo: questionRepo,
		rdb:          rdb,
		log:          log.With().Str("component", "exam_service").Logger(),
	}
}

// GetByID retrieves an exam by its UUID.
func (s *ExamService) GetByID(ctx context.Context, id uuid.UUID) (*model.Exam, error) {
	return s.examRepo.GetByID(ctx, id)
}

// GetOwned retrieves an exam and verifies instructor ownership.
func (s *ExamService) GetOwned(ctx context.Context, id uuid.UUID, instructorID int) (*model.Exam, error) {
	exam, err := s.examRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if exam.InstructorID != instructorID {
		return nil, ErrNotExamOwner
	}
	return exam, nil
}

// ListByInstructor retrieves an instructor's exams with pagination.
func (s *ExamService) ListByInstructor(ctx context.Context, instructorID, page, perPage int) ([]model.Exam, *response.Pagination, error) {
	if page < 1 {
		page = 1
	}
	if perPage < 1 {
		perPage = 10
	}
	if perPage > 100 {
		perPage = 100
	}

	limit := perPage
	offset := (page - 1) * perPage

	exams, total, err := s.examRepo.ListByInstructorPaginated(ctx, instructorID, limit, offset)
	if err != nil {
		return nil, nil, err
	}

	if exams == nil {
		exams = []model.Exam{}
	}

	totalPages := (total + perPage - 1) / perPage

	pagination := &response.Pagination{
		Page:       page,
		PerPage:    perPage,
		TotalItems: total,
		TotalPages: totalPages,
	}

	return exams, pagination, nil
}

// Create inserts a new exam as DRAFT.
func (s *ExamService) Create(ctx context.Context, exam *model.Exam) error {
	exam.Status = model.ExamStatusDraft
	if exam.AntiCheat.TabSwitchLimit <= 0 {
		exam.AntiCheat.TabSwitchLimit = config.DefaultTabSwitchLimit
	}
	return s.examRepo.Create(ctx, exam)
}

// Update modifies an existing draft exam.
func (s *ExamService) Update(ctx context.Context, instructorID int, exam *model.Exam) error {
	existing, err := s.examRepo.GetByID(ctx, exam.ID)
	if err != nil {
		return err
	}
	if existing.InstructorID != instructorID {
		return ErrNotExamOwner
	}
	if existing.Status != model.ExamStatusDraft {
		return ErrExamNotDraft
	}
	return s.examRepo.Update(ctx, exam)
}

// Delete removes a draft exam.
func (s *ExamService) Delete(ctx context.Context, id uuid.UUID, instructorID int) error {
	existing, err := s.examRepo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if existing.InstructorID != instructorID {
		return ErrNotExamOwner
	}
	if existing.Status != model.ExamStatusDraft {
		return ErrExamNotDraft
	}
	return s.examRepo.Delete(ctx, id)
}

// Publish changes exam status to PUBLISHED, stores the recomputed total
// marks, and caches the payload + question bank in Redis. This is the
// critical path that populates the "Fast Lane".
func (s *ExamService) Publish(ctx context.Context, examID uuid.UUID, instructorID int) error {
	exam, err := s.examRepo.GetByID(ctx, examID)
	if err != nil {
		return fmt.Errorf("get exam: %w", err)
	}

	if exam.InstructorID != instructorID {
		return ErrNotExamOwner
	}
	if exam.Status != model.ExamStatusDraft {
		return ErrExamNotDraft
	}

	totalMarks, err := s.questionRepo.SumMarksByExam(ctx, examID)
	if err != nil {
		return fmt.Errorf("sum marks: %w", err)
	}
	if totalMarks == 0 {
		return ErrNoQuestions
	}
	if err := s.examRepo.UpdateTotalMarks(ctx, examID, totalMarks); err != nil {
		return fmt.Errorf("update total marks: %w", err)
	}
	exam.TotalMarks = totalMarks

	// Prewarm cache for this exam.
	if err := s.WarmExamCache(ctx, exam); err != nil {
		return err
	}

	if err := s.examRepo.UpdateStatus(ctx, examID, model.ExamStatusPublished); err != nil {
		return fmt.Errorf("update status: %w", err)
	}

	s.log.Info().Str("exam_id", examID.String()).Msg("Exam published")
	return nil
}

// Archive moves a published exam out of circulation and drops its cache.
func (s *ExamService) Archive(ctx context.Context, examID uuid.UUID, instructorID int) error {
	exam, err := s.examRepo.GetByID(ctx, examID)
	if err != nil {
		return fmt.Errorf("get exam: %w", err)
	}

	if exam.InstructorID != instructorID {
		return ErrNotExamOwner
	}
	if exam.Status != model.ExamStatusPublished {
		return ErrExamNotPublished
	}

	if err := s.examRepo.UpdateStatus(ctx, examID, model.ExamStatusArchived); err != nil {
		return fmt.Errorf("update status: %w", err)
	}

	id := examID.String()
	pipe := s.rdb.Pipeline()
	pipe.Del(ctx, config.CacheKey.ExamPayloadKey(id))
	pipe.Del(ctx, config.CacheKey.ExamAnswerKey(id))
	pipe.Del(ctx, config.CacheKey.ExamDurationKey(id))
	pipe.Del(ctx, config.CacheKey.ExamAntiCheatKey(id))
	if _, err := pipe.Exec(ctx); err != nil {
		s.log.Warn().Err(err).Str("exam_id", id).Msg("Failed to drop exam cache")
	}

	s.log.Info().Str("exam_id", id).Msg("Exam archived")
	return nil
}

// RefreshCache re-caches the payload + question bank for a published exam.
// Called when questions are updated after publish.
func (s *ExamService) RefreshCache(ctx context.Context, examID uuid.UUID, instructorID int) error {
	exam, err := s.examRepo.GetByID(ctx, examID)
	if err != nil {
		return fmt.Errorf("get exam: %w", err)
	}

	if instructorID != 0 && exam.InstructorID != instructorID {
		return ErrNotExamOwner
	}
	if exam.Status != model.ExamStatusPublished {
		return ErrExamNotPublished
	}

	if err := s.WarmExamCache(ctx, exam); err != nil {
		return err
	}

	s.log.Info().Str("exam_id", examID.String()).Msg("Cache refreshed")
	return nil
}

// WarmExamCache loads an exam's student payload, full question bank,
// duration, and anti-cheat rules from PostgreSQL into Redis. This is the
// core cache-warming logic used by Publish, RefreshCache, and
// PrewarmAllCaches.
func (s *ExamService) WarmExamCache(ctx context.Context, exam *model.Exam) error {
	questions, err := s.questionRepo.ListByExam(ctx, exam.ID)
	if err != nil {
		return fmt.Errorf("list questions: %w", err)
	}
	if len(questions) == 0 {
		return ErrNoQuestions
	}

	payloadJSON, err := json.Marshal(BuildExamPayload(exam, questions))
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	// Full bank including correct answers, for RAM grading on submit.
	bankJSON, err := json.Marshal(questions)
	if err != nil {
		return fmt.Errorf("marshal question bank: %w", err)
	}

	antiCheatJSON, err := json.Marshal(exam.AntiCheat)
	if err != nil {
		return fmt.Errorf("marshal anti-cheat: %w", err)
	}

	id := exam.ID.String()
	pipe := s.rdb.Pipeline()
	pipe.Set(ctx, config.CacheKey.ExamPayloadKey(id), payloadJSON, 0)
	pipe.Set(ctx, config.CacheKey.ExamAnswerKey(id), bankJSON, 0)
	pipe.Set(ctx, config.CacheKey.ExamDurationKey(id), exam.DurationMinutes, 0)
	pipe.Set(ctx, config.CacheKey.ExamAntiCheatKey(id), antiCheatJSON, 0)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("cache to redis: %w", err)
	}

	s.log.Debug().
		Str("exam_id", id).
		Int("questions", len(questions)).
		Msg("Cache warmed")
	return nil
}

// BuildExamPayload assembles the student-facing payload (without correct
// answers) from an exam and its question bank.
func BuildExamPayload(exam *model.Exam, questions []model.Question) *model.ExamPayload {
	studentQuestions := make([]model.QuestionForStudent, len(questions))
	for i, q := range questions {
		studentQuestions[i] = model.QuestionForStudent{
			ID:           q.ID,
			QuestionText: q.QuestionText,
			QuestionType: q.QuestionType,
			Options:      q.Options,
			Marks:        q.Marks,
			OrderNum:     q.OrderNum,
		}
	}

	return &model.ExamPayload{
		ExamID:       exam.ID,
		Title:        exam.Title,
		Description:  exam.Description,
		Duration:     exam.DurationMinutes,
		TotalMarks:   exam.TotalMarks,
		PassingMarks: exam.PassingMarks,
		AntiCheat:    exam.AntiCheat,
		Questions:    studentQuestions,
	}
}

// PrewarmAllCaches loads all published exams into Redis on application startup.
// This prevents any lazy-loading race conditions under thundering herd traffic.
func (s *ExamService) PrewarmAllCaches(ctx context.Context) error {
	exams, err := s.examRepo.ListPublished(ctx)
	if err != nil {
		return fmt.Errorf("list published exams: %w", err)
	}

	if len(exams) == 0 {
		s.log.Info().Msg("No published exams to prewarm")
		return nil
	}

	s.log.Info().Int("count", len(exams)).Msg("Prewarming published exams...")

	warmed := 0
	for i := range exams {
		if err := s.WarmExamCache(ctx, &exams[i]); err != nil {
			s.log.Warn().
				Err(err).
				Str("exam_id", exams[i].ID.String()).
				Msg("Failed to warm exam, skipping")
			continue
		}
		warmed++
	}

	s.log.Info().
		Int("warmed", warmed).
		Int("total", len(exams)).
		Msg("Prewarming complete")
	return nil
}

// GetExamPayload retrieves the cached student payload. On a cache miss it
// rebuilds from PostgreSQL and self-heals the cache.
func (s *ExamService) GetExamPayload(ctx context.Context, examID uuid.UUID) (*model.ExamPayload, error) {
	key := config.CacheKey.ExamPayloadKey(examID.String())
	data, err := s.rdb.Get(ctx, key).Bytes()
	if err == nil {
		var payload model.ExamPayload
		if err := json.Unmarshal(data, &payload); err != nil {
			return nil, fmt.Errorf("unmarshal payload: %w", err)
		}
		return &payload, nil
	}
	if !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("get payload: %w", err)
	}

	// Cache miss: fall back to PostgreSQL and self-heal.
	exam, dbErr := s.examRepo.GetByID(ctx, examID)
	if dbErr != nil {
		return nil, dbErr
	}
	if exam.Status != model.ExamStatusPublished {
		return nil, ErrExamNotPublished
	}
	if warmErr := s.WarmExamCache(ctx, exam); warmErr != nil {
		return nil, warmErr
	}

	questions, dbErr := s.questionRepo.ListByExam(ctx, examID)
	if dbErr != nil {
		return nil, dbErr
	}
	return BuildExamPayload(exam, questions), nil
}

// GetQuestionBank retrieves the full question bank (with correct answers)
// from Redis, falling back to PostgreSQL on a miss.
func (s *ExamService) GetQuestionBank(ctx context.Context, examID uuid.UUID) ([]model.Question, error) {
	key := config.CacheKey.ExamAnswerKey(examID.String())
	data, err := s.rdb.Get(ctx, key).Bytes()
	if err == nil {
		var questions []model.Question
		if err := json.Unmarshal(data, &questions); err != nil {
			return nil, fmt.Errorf("unmarshal question bank: %w", err)
		}
		return questions, nil
	}
	if !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("get question bank: %w", err)
	}

	return s.questionRepo.ListByExam(ctx, examID)
}

// GetAntiCheatConfig retrieves an exam's anti-cheat rules from Redis,
// falling back to PostgreSQL on a miss.
func (s *ExamService) GetAntiCheatConfig(ctx context.Context, examID uuid.UUID) (*model.AntiCheatConfig, error) {
	key := config.CacheKey.ExamAntiCheatKey(examID.String())
	data, err := s.rdb.Get(ctx, key).Bytes()
	if err == nil {
		var ac model.AntiCheatConfig
		if err := json.Unmarshal(data, &ac); err != nil {
			return nil, fmt.Errorf("unmarshal anti-cheat: %w", err)
		}
		return &ac, nil
	}
	if !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("get anti-cheat: %w", err)
	}

	exam, dbErr := s.examRepo.GetByID(ctx, examID)
	if dbErr != nil {
		return nil, dbErr
	}
	return &exam.AntiCheat, nil
}
