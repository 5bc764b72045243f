package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/proktor-backend/internal/config"
	"github.com/stemsi/proktor-backend/internal/grading"
	"github.com/stemsi/proktor-backend/internal/model"
	"github.com/stemsi/proktor-backend/internal/notifier"
	"github.com/stemsi/proktor-backend/internal/repository"
	"github.com/stemsi/proktor-backend/internal/response"
)

// Attempt lifecycle errors.
var (
	ErrAttemptFinalized = errors.New("attempt is already finalized")
	ErrNotAttemptOwner  = errors.New("attempt belongs to another student")
	ErrRetakeNotAllowed = errors.New("exam does not allow another attempt")
	ErrExamNotAvailable = errors.New("exam is not available")
)

// Flag reasons recorded on the attempt, built from the counters at the
// moment the check fired. A violation burst can flag an attempt
// mid-exam; the submit-time checks carry their own wording and replace
// the reason.
func excessiveViolationsReason(count int) string {
	return fmt.Sprintf("excessive violations: %d recorded", count)
}

func submitTabSwitchReason(count, limit int) string {
	return fmt.Sprintf("submitted with %d tab switches, limit %d", count, limit)
}

func submitViolationsReason(count, limit int) string {
	return fmt.Sprintf("submitted with %d violations, limit %d", count, limit)
}

type attemptStore interface {
	Create(ctx context.Context, a *model.Attempt) error
	GetByID(ctx context.Context, id uuid.UUID) (*model.Attempt, error)
	GetActiveByExamAndStudent(ctx context.Context, examID uuid.UUID, studentID int) (*model.Attempt, error)
	HasFinishedAttempt(ctx context.Context, examID uuid.UUID, studentID int) (bool, error)
	ListByStudent(ctx context.Context, studentID int) ([]model.Attempt, error)
	ListByExamPaginated(ctx context.Context, examID uuid.UUID, flaggedOnly bool, limit, offset int) ([]repository.AttemptListRow, int, error)
	Finalize(ctx context.Context, id uuid.UUID, p repository.FinalizeParams) (*model.Attempt, bool, error)
	SetFlag(ctx context.Context, id uuid.UUID, reason string) error
	Cancel(ctx context.Context, id uuid.UUID, reason string) (bool, error)
}

type violationStore interface {
	Append(ctx context.Context, attemptID uuid.UUID, v *model.Violation) (violationCount, tabSwitchCount int, err error)
	ListByAttempt(ctx context.Context, attemptID uuid.UUID) ([]model.Violation, error)
}

type answerStore interface {
	ListByAttempt(ctx context.Context, attemptID uuid.UUID) ([]model.Answer, error)
}

type snapshotStore interface {
	Append(ctx context.Context, attemptID uuid.UUID, url string, capturedAt time.Time) error
	ListByAttempt(ctx context.Context, attemptID uuid.UUID) ([]model.SnapshotRef, error)
}

type examGateway interface {
	GetByID(ctx context.Context, id uuid.UUID) (*model.Exam, error)
	GetExamPayload(ctx context.Context, examID uuid.UUID) (*model.ExamPayload, error)
	GetQuestionBank(ctx context.Context, examID uuid.UUID) ([]model.Question, error)
	GetAntiCheatConfig(ctx context.Context, examID uuid.UUID) (*model.AntiCheatConfig, error)
}

type eventPublisher interface {
	Publish(ctx context.Context, ev notifier.Event)
}

// AttemptService drives the attempt lifecycle: start, live answers,
// violation ledger, and the terminal grading transition.
type AttemptService struct {
	attempts   attemptStore
	violations violationStore
	answers    answerStore
	snapshots  snapshotStore
	exams      examGateway
	rdb        *redis.Client
	events     eventPublisher
	log        zerolog.Logger
}

// NewAttemptService creates a new AttemptService.
func NewAttemptService(
	attempts attemptStore,
	violations violationStore,
	answers answerStore,
	snapshots snapshotStore,
	exams examGateway,
	rdb *redis.Client,
	events eventPublisher,
	log zerolog.Logger,
) *AttemptService {
	return &AttemptService{
		attempts:   attempts,
		violations: violations,
		answers:    answers,
		snapshots:  snapshots,
		exams:      exams,
		rdb:        rdb,
		events:     events,
		log:        log.With().Str("component", "attempt_service").Logger(),
	}
}

// Start opens an attempt for the student, or resumes the open one. The
// call is idempotent: a student who reconnects gets the same attempt
// back with their autosaved answers.
func (s *AttemptService) Start(ctx context.Context, examID uuid.UUID, studentID int) (*model.StartAttemptResponse, error) {
	exam, err := s.exams.GetByID(ctx, examID)
	if err != nil {
		return nil, err
	}
	if exam.Status != model.ExamStatusPublished {
		return nil, ErrExamNotAvailable
	}
	now := time.Now()
	if exam.ScheduledStart != nil && now.Before(*exam.ScheduledStart) {
		return nil, ErrExamNotAvailable
	}
	if exam.ScheduledEnd != nil && now.After(*exam.ScheduledEnd) {
		return nil, ErrExamNotAvailable
	}

	// Resume path.
	active, err := s.attempts.GetActiveByExamAndStudent(ctx, examID, studentID)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("check active attempt: %w", err)
	}
	if active != nil {
		return s.resume(ctx, active)
	}

	if !exam.AllowMultipleAttempts {
		finished, err := s.attempts.HasFinishedAttempt(ctx, examID, studentID)
		if err != nil {
			return nil, fmt.Errorf("check finished attempts: %w", err)
		}
		if finished {
			return nil, ErrRetakeNotAllowed
		}
	}

	attempt := &model.Attempt{
		ExamID:     examID,
		StudentID:  studentID,
		Status:     model.AttemptStatusInProgress,
		TotalMarks: exam.TotalMarks,
	}
	if err := s.attempts.Create(ctx, attempt); err != nil {
		// The partial unique index on open attempts turns a concurrent
		// double start into a constraint violation; resume the winner.
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			active, fetchErr := s.attempts.GetActiveByExamAndStudent(ctx, examID, studentID)
			if fetchErr != nil {
				return nil, fmt.Errorf("concurrent start detected, but fetch failed: %w", fetchErr)
			}
			return s.resume(ctx, active)
		}
		return nil, fmt.Errorf("create attempt: %w", err)
	}

	startKey := config.CacheKey.AttemptStartKey(attempt.ID.String())
	if err := s.rdb.Set(ctx, startKey, attempt.StartedAt.Unix(), 0).Err(); err != nil {
		s.log.Warn().Err(err).Str("attempt_id", attempt.ID.String()).Msg("Failed to cache start time")
	}

	s.events.Publish(ctx, notifier.Event{
		Type:      notifier.EventExamStarted,
		ExamID:    examID,
		AttemptID: attempt.ID,
		StudentID: studentID,
	})

	payload, err := s.exams.GetExamPayload(ctx, examID)
	if err != nil {
		return nil, fmt.Errorf("get exam payload: %w", err)
	}

	s.log.Info().
		Str("attempt_id", attempt.ID.String()).
		Str("exam_id", examID.String()).
		Int("student_id", studentID).
		Msg("Attempt started")

	return &model.StartAttemptResponse{Attempt: attempt, Exam: payload}, nil
}

// resume returns an open attempt together with autosaved answers, and
// self-heals the cached start time.
func (s *AttemptService) resume(ctx context.Context, attempt *model.Attempt) (*model.StartAttemptResponse, error) {
	startKey := config.CacheKey.AttemptStartKey(attempt.ID.String())
	_ = s.rdb.Set(ctx, startKey, attempt.StartedAt.Unix(), 0).Err()

	saved, err := s.liveAnswers(ctx, attempt.ID)
	if err != nil {
		return nil, err
	}
	for qid, value := range saved {
		questionID, parseErr := uuid.Parse(qid)
		if parseErr != nil {
			continue
		}
		attempt.Answers = append(attempt.Answers, model.Answer{QuestionID: questionID, Value: value})
	}

	payload, err := s.exams.GetExamPayload(ctx, attempt.ExamID)
	if err != nil {
		return nil, fmt.Errorf("get exam payload: %w", err)
	}

	return &model.StartAttemptResponse{Attempt: attempt, Exam: payload, Resumed: true}, nil
}

// RecordAnswer stores one answer in the attempt's live Redis hash and
// queues it for durable persistence. Returns the number of questions
// answered so far.
func (s *AttemptService) RecordAnswer(ctx context.Context, attemptID uuid.UUID, studentID int, req *model.RecordAnswerRequest) (int, error) {
	if _, err := s.ownedOpenAttempt(ctx, attemptID, studentID); err != nil {
		return 0, err
	}

	questionID, err := uuid.Parse(req.QuestionID)
	if err != nil {
		return 0, fmt.Errorf("invalid question id: %w", err)
	}

	answersKey := config.CacheKey.AttemptAnswersKey(attemptID.String())
	pipe := s.rdb.TxPipeline()
	pipe.HSet(ctx, answersKey, req.QuestionID, req.Value)
	answered := pipe.HLen(ctx, answersKey)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("save answer: %w", err)
	}

	job, _ := json.Marshal(repository.AnswerRow{
		AttemptID:  attemptID,
		QuestionID: questionID,
		Value:      req.Value,
	})
	if err := s.rdb.RPush(ctx, config.WorkerKey.PersistAnswersQueue, job).Err(); err != nil {
		s.log.Warn().Err(err).Str("attempt_id", attemptID.String()).Msg("Failed to queue answer persist")
	}

	return int(answered.Val()), nil
}

// RecordViolation appends one ledger entry and returns the fresh
// counters. Crossing double the tab-switch limit flags the attempt
// immediately.
func (s *AttemptService) RecordViolation(ctx context.Context, attemptID uuid.UUID, studentID int, req *model.RecordViolationRequest) (*model.RecordViolationResponse, error) {
	attempt, err := s.ownedOpenAttempt(ctx, attemptID, studentID)
	if err != nil {
		return nil, err
	}

	v := &model.Violation{
		Type:        model.ViolationType(req.Type),
		Description: req.Description,
		Severity:    model.ViolationSeverity(req.Severity),
	}
	violationCount, tabSwitchCount, err := s.violations.Append(ctx, attemptID, v)
	if err != nil {
		return nil, fmt.Errorf("append violation: %w", err)
	}

	limit := s.tabSwitchLimit(ctx, attempt.ExamID)

	flagged := attempt.Flagged
	flagReason := attempt.FlagReason
	if !flagged && violationCount >= limit*2 {
		reason := excessiveViolationsReason(violationCount)
		if err := s.attempts.SetFlag(ctx, attemptID, reason); err != nil {
			return nil, fmt.Errorf("flag attempt: %w", err)
		}
		flagged = true
		flagReason = reason

		s.events.Publish(ctx, notifier.Event{
			Type:      notifier.EventAttemptFlagged,
			ExamID:    attempt.ExamID,
			AttemptID: attemptID,
			StudentID: studentID,
			Data:      map[string]any{"reason": flagReason},
		})
	}

	s.events.Publish(ctx, notifier.Event{
		Type:      notifier.EventViolationAlert,
		ExamID:    attempt.ExamID,
		AttemptID: attemptID,
		StudentID: studentID,
		Data: map[string]any{
			"violation_type":   v.Type,
			"severity":         v.Severity,
			"violation_count":  violationCount,
			"tab_switch_count": tabSwitchCount,
		},
	})

	return &model.RecordViolationResponse{
		ViolationCount: violationCount,
		TabSwitchCount: tabSwitchCount,
		Flagged:        flagged,
		FlagReason:     flagReason,
	}, nil
}

// Submit grades the attempt in RAM and performs the terminal transition.
// Of N concurrent submits exactly one wins; the rest see
// ErrAttemptFinalized.
func (s *AttemptService) Submit(ctx context.Context, attemptID uuid.UUID, studentID int, req *model.SubmitAttemptRequest) (*model.SubmitAttemptResponse, error) {
	attempt, err := s.ownedOpenAttempt(ctx, attemptID, studentID)
	if err != nil {
		return nil, err
	}

	answers, err := s.liveAnswers(ctx, attemptID)
	if err != nil {
		return nil, err
	}
	if len(answers) == 0 {
		// Redis lost the hash (eviction, restart). The durable rows are
		// the fallback source.
		durable, dbErr := s.answers.ListByAttempt(ctx, attemptID)
		if dbErr != nil {
			return nil, fmt.Errorf("load durable answers: %w", dbErr)
		}
		answers = make(map[string]string, len(durable))
		for _, a := range durable {
			answers[a.QuestionID.String()] = a.Value
		}
	}

	exam, err := s.exams.GetByID(ctx, attempt.ExamID)
	if err != nil {
		return nil, fmt.Errorf("get exam: %w", err)
	}
	questions, err := s.exams.GetQuestionBank(ctx, attempt.ExamID)
	if err != nil {
		return nil, fmt.Errorf("get question bank: %w", err)
	}

	outcome := grading.Grade(answers, questions, attempt.TotalMarks, exam.PassingMarks)

	limit := exam.AntiCheat.TabSwitchLimit
	if limit <= 0 {
		limit = config.DefaultTabSwitchLimit
	}
	flagged := attempt.Flagged
	flagReason := attempt.FlagReason
	if attempt.TabSwitchCount >= limit {
		flagged = true
		flagReason = submitTabSwitchReason(attempt.TabSwitchCount, limit)
	}
	if attempt.ViolationCount >= limit {
		flagged = true
		flagReason = submitViolationsReason(attempt.ViolationCount, limit)
	}

	status := model.AttemptStatusSubmitted
	if req.Auto {
		status = model.AttemptStatusAutoSubmitted
	}

	final, ok, err := s.attempts.Finalize(ctx, attemptID, repository.FinalizeParams{
		Status:        status,
		Score:         outcome.Score,
		Percentage:    outcome.Percentage,
		Passed:        outcome.Passed,
		Flagged:       flagged,
		FlagReason:    flagReason,
		TimeSpentSecs: int(time.Since(attempt.StartedAt).Seconds()),
	})
	if err != nil {
		return nil, fmt.Errorf("finalize attempt: %w", err)
	}
	if !ok {
		return nil, ErrAttemptFinalized
	}

	s.queueGradedAnswers(ctx, attemptID, outcome.Answers)
	_ = s.rdb.Del(ctx, config.CacheKey.AttemptStartKey(attemptID.String())).Err()

	s.events.Publish(ctx, notifier.Event{
		Type:      notifier.EventExamSubmitted,
		ExamID:    attempt.ExamID,
		AttemptID: attemptID,
		StudentID: studentID,
		Data: map[string]any{
			"status":     final.Status,
			"score":      final.Score,
			"percentage": final.Percentage,
			"passed":     final.Passed,
			"flagged":    final.Flagged,
		},
	})

	s.log.Info().
		Str("attempt_id", attemptID.String()).
		Int("score", final.Score).
		Int("percentage", final.Percentage).
		Bool("flagged", final.Flagged).
		Str("status", string(final.Status)).
		Msg("Attempt submitted and graded")

	return &model.SubmitAttemptResponse{
		AttemptID:  final.ID,
		Status:     final.Status,
		Score:      final.Score,
		TotalMarks: final.TotalMarks,
		Percentage: final.Percentage,
		Passed:     final.Passed,
		Flagged:    final.Flagged,
		FlagReason: final.FlagReason,
	}, nil
}

// SaveSnapshotRef records a webcam snapshot reference for an open attempt.
func (s *AttemptService) SaveSnapshotRef(ctx context.Context, attemptID uuid.UUID, studentID int, url string, capturedAt time.Time) error {
	if _, err := s.ownedOpenAttempt(ctx, attemptID, studentID); err != nil {
		return err
	}
	if capturedAt.IsZero() {
		capturedAt = time.Now()
	}
	return s.snapshots.Append(ctx, attemptID, url, capturedAt)
}

// GetForStudent loads an attempt with its sub-entities for its owner.
func (s *AttemptService) GetForStudent(ctx context.Context, attemptID uuid.UUID, studentID int) (*model.Attempt, error) {
	attempt, err := s.attempts.GetByID(ctx, attemptID)
	if err != nil {
		return nil, err
	}
	if attempt.StudentID != studentID {
		return nil, ErrNotAttemptOwner
	}
	return s.hydrate(ctx, attempt)
}

// GetForInstructor loads an attempt with its sub-entities for the owner
// of the exam.
func (s *AttemptService) GetForInstructor(ctx context.Context, attemptID uuid.UUID, instructorID int) (*model.Attempt, error) {
	attempt, err := s.attempts.GetByID(ctx, attemptID)
	if err != nil {
		return nil, err
	}
	exam, err := s.exams.GetByID(ctx, attempt.ExamID)
	if err != nil {
		return nil, fmt.Errorf("get exam: %w", err)
	}
	if exam.InstructorID != instructorID {
		return nil, ErrNotExamOwner
	}
	return s.hydrate(ctx, attempt)
}

// ListForExam returns paginated attempts for an exam the instructor owns,
// optionally restricted to flagged ones.
func (s *AttemptService) ListForExam(ctx context.Context, examID uuid.UUID, instructorID int, flaggedOnly bool, page, perPage int) ([]repository.AttemptListRow, *response.Pagination, error) {
	exam, err := s.exams.GetByID(ctx, examID)
	if err != nil {
		return nil, nil, err
	}
	if exam.InstructorID != instructorID {
		return nil, nil, ErrNotExamOwner
	}

	if page < 1 {
		page = 1
	}
	if perPage < 1 || perPage > 100 {
		perPage = 20
	}

	rows, total, err := s.attempts.ListByExamPaginated(ctx, examID, flaggedOnly, perPage, (page-1)*perPage)
	if err != nil {
		return nil, nil, err
	}
	if rows == nil {
		rows = []repository.AttemptListRow{}
	}

	pagination := &response.Pagination{
		Page:       page,
		PerPage:    perPage,
		TotalItems: total,
		TotalPages: int(math.Ceil(float64(total) / float64(perPage))),
	}
	return rows, pagination, nil
}

// Cancel terminates an in-progress attempt on behalf of the exam's
// instructor. The attempt is flagged with the given reason and cannot be
// resumed or submitted afterwards.
func (s *AttemptService) Cancel(ctx context.Context, attemptID uuid.UUID, instructorID int, reason string) error {
	attempt, err := s.attempts.GetByID(ctx, attemptID)
	if err != nil {
		return err
	}
	exam, err := s.exams.GetByID(ctx, attempt.ExamID)
	if err != nil {
		return fmt.Errorf("get exam: %w", err)
	}
	if exam.InstructorID != instructorID {
		return ErrNotExamOwner
	}

	ok, err := s.attempts.Cancel(ctx, attemptID, reason)
	if err != nil {
		return fmt.Errorf("cancel attempt: %w", err)
	}
	if !ok {
		return ErrAttemptFinalized
	}

	s.rdb.Del(ctx, config.CacheKey.AttemptStartKey(attemptID.String()))

	s.events.Publish(ctx, notifier.Event{
		Type:      notifier.EventAttemptCancelled,
		ExamID:    attempt.ExamID,
		AttemptID: attempt.ID,
		StudentID: attempt.StudentID,
		Data:      map[string]any{"reason": reason},
	})

	s.log.Info().
		Str("attempt_id", attemptID.String()).
		Int("instructor_id", instructorID).
		Msg("Attempt cancelled by instructor")
	return nil
}

// HasOpenAttempt reports whether the student currently has an in-progress
// attempt on the exam.
func (s *AttemptService) HasOpenAttempt(ctx context.Context, examID uuid.UUID, studentID int) bool {
	_, err := s.attempts.GetActiveByExamAndStudent(ctx, examID, studentID)
	return err == nil
}

// ListForStudent returns a student's attempt history.
func (s *AttemptService) ListForStudent(ctx context.Context, studentID int) ([]model.Attempt, error) {
	attempts, err := s.attempts.ListByStudent(ctx, studentID)
	if err != nil {
		return nil, err
	}
	if attempts == nil {
		attempts = []model.Attempt{}
	}
	return attempts, nil
}

// ownedOpenAttempt loads an attempt and verifies ownership and that it is
// still mutable.
func (s *AttemptService) ownedOpenAttempt(ctx context.Context, attemptID uuid.UUID, studentID int) (*model.Attempt, error) {
	attempt, err := s.attempts.GetByID(ctx, attemptID)
	if err != nil {
		return nil, err
	}
	if attempt.StudentID != studentID {
		return nil, ErrNotAttemptOwner
	}
	if attempt.Status.IsTerminal() {
		return nil, ErrAttemptFinalized
	}
	return attempt, nil
}

// hydrate attaches answers, violations, and snapshots to an attempt. Open
// attempts read the live Redis hash; finalized ones read the graded rows.
func (s *AttemptService) hydrate(ctx context.Context, attempt *model.Attempt) (*model.Attempt, error) {
	if attempt.Status.IsTerminal() {
		answers, err := s.answers.ListByAttempt(ctx, attempt.ID)
		if err != nil {
			return nil, fmt.Errorf("list answers: %w", err)
		}
		attempt.Answers = answers
	} else {
		saved, err := s.liveAnswers(ctx, attempt.ID)
		if err != nil {
			return nil, err
		}
		for qid, value := range saved {
			questionID, parseErr := uuid.Parse(qid)
			if parseErr != nil {
				continue
			}
			attempt.Answers = append(attempt.Answers, model.Answer{QuestionID: questionID, Value: value})
		}
	}

	violations, err := s.violations.ListByAttempt(ctx, attempt.ID)
	if err != nil {
		return nil, fmt.Errorf("list violations: %w", err)
	}
	attempt.Violations = violations

	snapshots, err := s.snapshots.ListByAttempt(ctx, attempt.ID)
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	attempt.Snapshots = snapshots

	return attempt, nil
}

// liveAnswers reads the attempt's autosave hash from Redis.
func (s *AttemptService) liveAnswers(ctx context.Context, attemptID uuid.UUID) (map[string]string, error) {
	saved, err := s.rdb.HGetAll(ctx, config.CacheKey.AttemptAnswersKey(attemptID.String())).Result()
	if err != nil {
		return nil, fmt.Errorf("get live answers: %w", err)
	}
	return saved, nil
}

// tabSwitchLimit resolves the exam's flagging threshold, defaulting when
// the config is absent or zero.
func (s *AttemptService) tabSwitchLimit(ctx context.Context, examID uuid.UUID) int {
	ac, err := s.exams.GetAntiCheatConfig(ctx, examID)
	if err != nil || ac == nil || ac.TabSwitchLimit <= 0 {
		if err != nil {
			s.log.Warn().Err(err).Str("exam_id", examID.String()).Msg("Anti-cheat lookup failed, using default limit")
		}
		return config.DefaultTabSwitchLimit
	}
	return ac.TabSwitchLimit
}

// queueGradedAnswers pushes the graded rows to the result worker.
func (s *AttemptService) queueGradedAnswers(ctx context.Context, attemptID uuid.UUID, graded []grading.GradedAnswer) {
	answers := make([]model.Answer, len(graded))
	for i, g := range graded {
		answers[i] = model.Answer{
			QuestionID:   g.QuestionID,
			Value:        g.Value,
			Correct:      g.Correct,
			MarksAwarded: g.MarksAwarded,
		}
	}

	job, err := json.Marshal(GradedResultJob{AttemptID: attemptID, Answers: answers})
	if err != nil {
		s.log.Error().Err(err).Str("attempt_id", attemptID.String()).Msg("Marshal graded result failed")
		return
	}
	if err := s.rdb.RPush(ctx, config.WorkerKey.PersistResultsQueue, job).Err(); err != nil {
		s.log.Error().Err(err).Str("attempt_id", attemptID.String()).Msg("Failed to queue graded result")
	}
}

// GradedResultJob is the payload pushed to the persist_results_queue.
type GradedResultJob struct {
	AttemptID uuid.UUID      `json:"attempt_id"`
	Answers   []model.Answer `json:"answers"`
}
