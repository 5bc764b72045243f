package service

import (
	"context"
	"strings"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/proktor-backend/internal/config"
	"github.com/stemsi/proktor-backend/internal/model"
	"github.com/stemsi/proktor-backend/internal/notifier"
	"github.com/stemsi/proktor-backend/internal/repository"
)

// ─── Fakes ─────────────────────────────────────────────────────────────

type fakeAttempts struct {
	byID         map[uuid.UUID]*model.Attempt
	active       *model.Attempt
	activeMisses int
	finished     bool
	createErr    error
}

func newFakeAttempts() *fakeAttempts {
	return &fakeAttempts{byID: make(map[uuid.UUID]*model.Attempt)}
}

func (f *fakeAttempts) Create(_ context.Context, a *model.Attempt) error {
	if f.createErr != nil {
		return f.createErr
	}
	a.ID = uuid.New()
	a.StartedAt = time.Now()
	f.byID[a.ID] = a
	f.active = a
	return nil
}

func (f *fakeAttempts) GetByID(_ context.Context, id uuid.UUID) (*model.Attempt, error) {
	a, ok := f.byID[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	cp := *a
	return &cp, nil
}

func (f *fakeAttempts) GetActiveByExamAndStudent(_ context.Context, _ uuid.UUID, _ int) (*model.Attempt, error) {
	if f.activeMisses > 0 {
		f.activeMisses--
		return nil, pgx.ErrNoRows
	}
	if f.active == nil || f.active.Status != model.AttemptStatusInProgress {
		return nil, pgx.ErrNoRows
	}
	cp := *f.active
	return &cp, nil
}

func (f *fakeAttempts) HasFinishedAttempt(_ context.Context, _ uuid.UUID, _ int) (bool, error) {
	return f.finished, nil
}

func (f *fakeAttempts) ListByStudent(_ context.Context, _ int) ([]model.Attempt, error) {
	return nil, nil
}

func (f *fakeAttempts) ListByExamPaginated(_ context.Context, _ uuid.UUID, _ bool, _, _ int) ([]repository.AttemptListRow, int, error) {
	return nil, 0, nil
}

func (f *fakeAttempts) Finalize(_ context.Context, id uuid.UUID, p repository.FinalizeParams) (*model.Attempt, bool, error) {
	a, ok := f.byID[id]
	if !ok {
		return nil, false, pgx.ErrNoRows
	}
	if a.Status != model.AttemptStatusInProgress {
		return nil, false, nil
	}
	a.Status = p.Status
	a.Score = p.Score
	a.Percentage = p.Percentage
	a.Passed = p.Passed
	a.Flagged = a.Flagged || p.Flagged
	if p.Flagged {
		a.FlagReason = p.FlagReason
	}
	a.TimeSpentSecs = p.TimeSpentSecs
	now := time.Now()
	a.SubmittedAt = &now
	cp := *a
	return &cp, true, nil
}

func (f *fakeAttempts) SetFlag(_ context.Context, id uuid.UUID, reason string) error {
	a, ok := f.byID[id]
	if !ok {
		return pgx.ErrNoRows
	}
	a.Flagged = true
	a.FlagReason = reason
	return nil
}

func (f *fakeAttempts) Cancel(_ context.Context, id uuid.UUID, reason string) (bool, error) {
	a, ok := f.byID[id]
	if !ok || a.Status != model.AttemptStatusInProgress {
		return false, nil
	}
	a.Status = model.AttemptStatusCancelled
	a.Flagged = true
	a.FlagReason = reason
	return true, nil
}

type fakeViolations struct {
	attempts       *fakeAttempts
	violationCount int
	tabSwitchCount int
}

func (f *fakeViolations) Append(_ context.Context, attemptID uuid.UUID, v *model.Violation) (int, int, error) {
	f.violationCount++
	if v.Type == model.ViolationTabSwitch {
		f.tabSwitchCount++
	}
	v.ID = int64(f.violationCount)
	v.RecordedAt = time.Now()
	if a, ok := f.attempts.byID[attemptID]; ok {
		a.ViolationCount = f.violationCount
		a.TabSwitchCount = f.tabSwitchCount
	}
	return f.violationCount, f.tabSwitchCount, nil
}

func (f *fakeViolations) ListByAttempt(_ context.Context, _ uuid.UUID) ([]model.Violation, error) {
	return nil, nil
}

type fakeAnswers struct {
	rows []model.Answer
}

func (f *fakeAnswers) ListByAttempt(_ context.Context, _ uuid.UUID) ([]model.Answer, error) {
	return f.rows, nil
}

type fakeSnapshots struct {
	saved []model.SnapshotRef
}

func (f *fakeSnapshots) Append(_ context.Context, _ uuid.UUID, url string, capturedAt time.Time) error {
	f.saved = append(f.saved, model.SnapshotRef{URL: url, CapturedAt: capturedAt})
	return nil
}

func (f *fakeSnapshots) ListByAttempt(_ context.Context, _ uuid.UUID) ([]model.SnapshotRef, error) {
	return f.saved, nil
}

type fakeExams struct {
	exam      *model.Exam
	questions []model.Question
}

func (f *fakeExams) GetByID(_ context.Context, _ uuid.UUID) (*model.Exam, error) {
	return f.exam, nil
}

func (f *fakeExams) GetExamPayload(_ context.Context, _ uuid.UUID) (*model.ExamPayload, error) {
	return &model.ExamPayload{ExamID: f.exam.ID, Title: f.exam.Title}, nil
}

func (f *fakeExams) GetQuestionBank(_ context.Context, _ uuid.UUID) ([]model.Question, error) {
	return f.questions, nil
}

func (f *fakeExams) GetAntiCheatConfig(_ context.Context, _ uuid.UUID) (*model.AntiCheatConfig, error) {
	return &f.exam.AntiCheat, nil
}

type fakeEvents struct {
	published []notifier.Event
}

func (f *fakeEvents) Publish(_ context.Context, ev notifier.Event) {
	f.published = append(f.published, ev)
}

func (f *fakeEvents) ofType(t notifier.EventType) int {
	n := 0
	for _, ev := range f.published {
		if ev.Type == t {
			n++
		}
	}
	return n
}

// ─── Harness ───────────────────────────────────────────────────────────

type attemptFixture struct {
	svc        *AttemptService
	attempts   *fakeAttempts
	violations *fakeViolations
	answers    *fakeAnswers
	snapshots  *fakeSnapshots
	exams      *fakeExams
	events     *fakeEvents
	mr         *miniredis.Miniredis
	rdb        *redis.Client
}

func newAttemptFixture(t *testing.T, exam *model.Exam) *attemptFixture {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	attempts := newFakeAttempts()
	violations := &fakeViolations{attempts: attempts}
	answers := &fakeAnswers{}
	snapshots := &fakeSnapshots{}
	exams := &fakeExams{exam: exam}
	events := &fakeEvents{}

	svc := NewAttemptService(attempts, violations, answers, snapshots, exams, rdb, events, zerolog.Nop())

	return &attemptFixture{
		svc:        svc,
		attempts:   attempts,
		violations: violations,
		answers:    answers,
		snapshots:  snapshots,
		exams:      exams,
		events:     events,
		mr:         mr,
		rdb:        rdb,
	}
}

func publishedExam() *model.Exam {
	return &model.Exam{
		ID:           uuid.New(),
		Title:        "Ujian Jaringan Dasar",
		InstructorID: 7,
		Status:       model.ExamStatusPublished,
		TotalMarks:   10,
		PassingMarks: 6,
		AntiCheat:    model.AntiCheatConfig{TabSwitchLimit: 3},
	}
}

// ─── Start ─────────────────────────────────────────────────────────────

func TestStartCreatesAttempt(t *testing.T) {
	exam := publishedExam()
	fx := newAttemptFixture(t, exam)
	ctx := context.Background()

	out, err := fx.svc.Start(ctx, exam.ID, 42)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if out.Resumed {
		t.Fatal("resumed = true, want false on first start")
	}
	if out.Attempt.Status != model.AttemptStatusInProgress {
		t.Fatalf("status = %s, want in_progress", out.Attempt.Status)
	}
	if fx.events.ofType(notifier.EventExamStarted) != 1 {
		t.Fatal("expected one exam-started event")
	}

	startKey := config.CacheKey.AttemptStartKey(out.Attempt.ID.String())
	if !fx.mr.Exists(startKey) {
		t.Fatal("expected start time cached in redis")
	}
}

func TestStartResumesOpenAttempt(t *testing.T) {
	exam := publishedExam()
	fx := newAttemptFixture(t, exam)
	ctx := context.Background()

	first, err := fx.svc.Start(ctx, exam.ID, 42)
	if err != nil {
		t.Fatalf("first start: %v", err)
	}

	// Autosave one answer, then reconnect.
	qid := uuid.New()
	fx.mr.HSet(config.CacheKey.AttemptAnswersKey(first.Attempt.ID.String()), qid.String(), "B")

	second, err := fx.svc.Start(ctx, exam.ID, 42)
	if err != nil {
		t.Fatalf("second start: %v", err)
	}
	if !second.Resumed {
		t.Fatal("resumed = false, want true")
	}
	if second.Attempt.ID != first.Attempt.ID {
		t.Fatalf("attempt id changed on resume: %s != %s", second.Attempt.ID, first.Attempt.ID)
	}
	if len(second.Attempt.Answers) != 1 || second.Attempt.Answers[0].Value != "B" {
		t.Fatalf("expected autosaved answer on resume, got %+v", second.Attempt.Answers)
	}
}

func TestStartRejectsRetake(t *testing.T) {
	exam := publishedExam()
	fx := newAttemptFixture(t, exam)
	fx.attempts.finished = true

	_, err := fx.svc.Start(context.Background(), exam.ID, 42)
	if err != ErrRetakeNotAllowed {
		t.Fatalf("err = %v, want ErrRetakeNotAllowed", err)
	}
}

func TestStartAllowsRetakeWhenEnabled(t *testing.T) {
	exam := publishedExam()
	exam.AllowMultipleAttempts = true
	fx := newAttemptFixture(t, exam)
	fx.attempts.finished = true

	out, err := fx.svc.Start(context.Background(), exam.ID, 42)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if out.Resumed {
		t.Fatal("resumed = true, want a fresh attempt")
	}
}

func TestStartRejectsOutsideSchedule(t *testing.T) {
	exam := publishedExam()
	past := time.Now().Add(-time.Hour)
	exam.ScheduledEnd = &past
	fx := newAttemptFixture(t, exam)

	_, err := fx.svc.Start(context.Background(), exam.ID, 42)
	if err != ErrExamNotAvailable {
		t.Fatalf("err = %v, want ErrExamNotAvailable", err)
	}
}

func TestStartRejectsUnpublishedExam(t *testing.T) {
	exam := publishedExam()
	exam.Status = model.ExamStatusDraft
	fx := newAttemptFixture(t, exam)

	_, err := fx.svc.Start(context.Background(), exam.ID, 42)
	if err != ErrExamNotAvailable {
		t.Fatalf("err = %v, want ErrExamNotAvailable", err)
	}
}

func TestStartConcurrentDuplicateResumesWinner(t *testing.T) {
	exam := publishedExam()
	fx := newAttemptFixture(t, exam)
	ctx := context.Background()

	// Simulate the loser of a concurrent double start: the insert hits
	// the partial unique index while the winner's row is already active.
	winner := &model.Attempt{
		ID:        uuid.New(),
		ExamID:    exam.ID,
		StudentID: 42,
		Status:    model.AttemptStatusInProgress,
		StartedAt: time.Now(),
	}
	fx.attempts.byID[winner.ID] = winner
	fx.attempts.active = winner
	fx.attempts.activeMisses = 1 // the pre-insert check still sees no row
	fx.attempts.createErr = &pgconn.PgError{Code: "23505"}

	out, err := fx.svc.Start(ctx, exam.ID, 42)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if !out.Resumed {
		t.Fatal("resumed = false, want true after losing the start race")
	}
	if out.Attempt.ID != winner.ID {
		t.Fatalf("attempt id = %s, want winner %s", out.Attempt.ID, winner.ID)
	}
}

// ─── Answers ───────────────────────────────────────────────────────────

func TestRecordAnswerCountsAndQueues(t *testing.T) {
	exam := publishedExam()
	fx := newAttemptFixture(t, exam)
	ctx := context.Background()

	out, err := fx.svc.Start(ctx, exam.ID, 42)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	attemptID := out.Attempt.ID

	q1, q2 := uuid.New(), uuid.New()
	if _, err := fx.svc.RecordAnswer(ctx, attemptID, 42, &model.RecordAnswerRequest{QuestionID: q1.String(), Value: "A"}); err != nil {
		t.Fatalf("record answer 1: %v", err)
	}
	count, err := fx.svc.RecordAnswer(ctx, attemptID, 42, &model.RecordAnswerRequest{QuestionID: q2.String(), Value: "C"})
	if err != nil {
		t.Fatalf("record answer 2: %v", err)
	}
	if count != 2 {
		t.Fatalf("answered count = %d, want 2", count)
	}

	// Overwriting does not grow the count.
	count, err = fx.svc.RecordAnswer(ctx, attemptID, 42, &model.RecordAnswerRequest{QuestionID: q2.String(), Value: "D"})
	if err != nil {
		t.Fatalf("record answer overwrite: %v", err)
	}
	if count != 2 {
		t.Fatalf("answered count after overwrite = %d, want 2", count)
	}

	queued, err := fx.rdb.LLen(ctx, config.WorkerKey.PersistAnswersQueue).Result()
	if err != nil {
		t.Fatalf("llen: %v", err)
	}
	if queued != 3 {
		t.Fatalf("persist queue length = %d, want 3", queued)
	}
}

func TestRecordAnswerRejectsNonOwner(t *testing.T) {
	exam := publishedExam()
	fx := newAttemptFixture(t, exam)
	ctx := context.Background()

	out, err := fx.svc.Start(ctx, exam.ID, 42)
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	_, err = fx.svc.RecordAnswer(ctx, out.Attempt.ID, 99, &model.RecordAnswerRequest{QuestionID: uuid.NewString(), Value: "A"})
	if err != ErrNotAttemptOwner {
		t.Fatalf("err = %v, want ErrNotAttemptOwner", err)
	}
}

// ─── Violations ────────────────────────────────────────────────────────

func TestRecordViolationFlagsAtDoubleLimit(t *testing.T) {
	exam := publishedExam() // limit 3, flag threshold 6
	fx := newAttemptFixture(t, exam)
	ctx := context.Background()

	out, err := fx.svc.Start(ctx, exam.ID, 42)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	attemptID := out.Attempt.ID

	req := &model.RecordViolationRequest{Type: "window_blur", Severity: "low"}
	var last *model.RecordViolationResponse
	for i := 0; i < 5; i++ {
		last, err = fx.svc.RecordViolation(ctx, attemptID, 42, req)
		if err != nil {
			t.Fatalf("violation %d: %v", i+1, err)
		}
	}
	if last.Flagged {
		t.Fatal("flagged at 5 violations, threshold is 6")
	}

	last, err = fx.svc.RecordViolation(ctx, attemptID, 42, req)
	if err != nil {
		t.Fatalf("violation 6: %v", err)
	}
	if !last.Flagged {
		t.Fatal("not flagged at 6 violations")
	}
	if last.FlagReason != excessiveViolationsReason(6) {
		t.Fatalf("flag reason = %q, want %q", last.FlagReason, excessiveViolationsReason(6))
	}
	if !strings.Contains(last.FlagReason, "6") {
		t.Fatalf("flag reason %q does not cite the violation count", last.FlagReason)
	}
	if fx.events.ofType(notifier.EventAttemptFlagged) != 1 {
		t.Fatal("expected exactly one attempt-flagged event")
	}
	if fx.events.ofType(notifier.EventViolationAlert) != 6 {
		t.Fatal("expected six violation-alert events")
	}
}

func TestRecordViolationAfterSubmitRejected(t *testing.T) {
	fx, _, attemptID := submitFixture(t)
	ctx := context.Background()

	if _, err := fx.svc.Submit(ctx, attemptID, 42, &model.SubmitAttemptRequest{}); err != nil {
		t.Fatalf("submit: %v", err)
	}

	_, err := fx.svc.RecordViolation(ctx, attemptID, 42, &model.RecordViolationRequest{Type: "tab_switch", Severity: "medium"})
	if err != ErrAttemptFinalized {
		t.Fatalf("err = %v, want ErrAttemptFinalized", err)
	}
	if fx.events.ofType(notifier.EventViolationAlert) != 0 {
		t.Fatal("violation event published for a finalized attempt")
	}
}

func TestRecordViolationFlagIsMonotonic(t *testing.T) {
	exam := publishedExam() // limit 3, flag threshold 6
	fx := newAttemptFixture(t, exam)
	ctx := context.Background()

	out, err := fx.svc.Start(ctx, exam.ID, 42)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	attemptID := out.Attempt.ID

	for i := 0; i < 6; i++ {
		if _, err := fx.svc.RecordViolation(ctx, attemptID, 42, &model.RecordViolationRequest{Type: "tab_switch", Severity: "medium"}); err != nil {
			t.Fatalf("violation %d: %v", i+1, err)
		}
	}

	// A further violation of another type never clears the flag or
	// rewrites the reason.
	resp, err := fx.svc.RecordViolation(ctx, attemptID, 42, &model.RecordViolationRequest{Type: "right_click", Severity: "low"})
	if err != nil {
		t.Fatalf("violation 7: %v", err)
	}
	if !resp.Flagged {
		t.Fatal("flag cleared by a later violation")
	}
	if resp.FlagReason != excessiveViolationsReason(6) {
		t.Fatalf("flag reason = %q, want %q", resp.FlagReason, excessiveViolationsReason(6))
	}
	if fx.events.ofType(notifier.EventAttemptFlagged) != 1 {
		t.Fatal("expected exactly one attempt-flagged event")
	}
	if resp.ViolationCount != 7 {
		t.Fatalf("violation count = %d, want 7", resp.ViolationCount)
	}
}

func TestRecordViolationTracksTabSwitches(t *testing.T) {
	exam := publishedExam()
	fx := newAttemptFixture(t, exam)
	ctx := context.Background()

	out, err := fx.svc.Start(ctx, exam.ID, 42)
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	resp, err := fx.svc.RecordViolation(ctx, out.Attempt.ID, 42, &model.RecordViolationRequest{Type: "tab_switch", Severity: "medium"})
	if err != nil {
		t.Fatalf("violation: %v", err)
	}
	if resp.TabSwitchCount != 1 || resp.ViolationCount != 1 {
		t.Fatalf("counts = (%d, %d), want (1, 1)", resp.ViolationCount, resp.TabSwitchCount)
	}

	resp, err = fx.svc.RecordViolation(ctx, out.Attempt.ID, 42, &model.RecordViolationRequest{Type: "copy_paste", Severity: "high"})
	if err != nil {
		t.Fatalf("violation: %v", err)
	}
	if resp.TabSwitchCount != 1 {
		t.Fatalf("tab switch count = %d, want 1 (copy_paste does not bump it)", resp.TabSwitchCount)
	}
	if resp.ViolationCount != 2 {
		t.Fatalf("violation count = %d, want 2", resp.ViolationCount)
	}
}

// ─── Submit ────────────────────────────────────────────────────────────

func submitFixture(t *testing.T) (*attemptFixture, *model.Exam, uuid.UUID) {
	t.Helper()

	exam := publishedExam()
	q1 := model.Question{ID: uuid.New(), QuestionType: model.QuestionTypeMultipleChoice, CorrectAnswer: "A", Marks: 6}
	q2 := model.Question{ID: uuid.New(), QuestionType: model.QuestionTypeMultipleChoice, CorrectAnswer: "C", Marks: 4}

	fx := newAttemptFixture(t, exam)
	fx.exams.questions = []model.Question{q1, q2}

	out, err := fx.svc.Start(context.Background(), exam.ID, 42)
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	// Answer q1 correctly, q2 wrong.
	ctx := context.Background()
	if _, err := fx.svc.RecordAnswer(ctx, out.Attempt.ID, 42, &model.RecordAnswerRequest{QuestionID: q1.ID.String(), Value: "a"}); err != nil {
		t.Fatalf("record answer: %v", err)
	}
	if _, err := fx.svc.RecordAnswer(ctx, out.Attempt.ID, 42, &model.RecordAnswerRequest{QuestionID: q2.ID.String(), Value: "B"}); err != nil {
		t.Fatalf("record answer: %v", err)
	}

	return fx, exam, out.Attempt.ID
}

func TestSubmitGradesFromLiveAnswers(t *testing.T) {
	fx, _, attemptID := submitFixture(t)
	ctx := context.Background()

	resp, err := fx.svc.Submit(ctx, attemptID, 42, &model.SubmitAttemptRequest{})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if resp.Status != model.AttemptStatusSubmitted {
		t.Fatalf("status = %s, want submitted", resp.Status)
	}
	if resp.Score != 6 {
		t.Fatalf("score = %d, want 6", resp.Score)
	}
	if resp.Percentage != 60 {
		t.Fatalf("percentage = %d, want 60", resp.Percentage)
	}
	if !resp.Passed {
		t.Fatal("passed = false, want true (6 >= 6)")
	}
	if resp.Flagged {
		t.Fatal("flagged = true, want false")
	}

	queued, _ := fx.rdb.LLen(ctx, config.WorkerKey.PersistResultsQueue).Result()
	if queued != 1 {
		t.Fatalf("results queue length = %d, want 1", queued)
	}
	if fx.events.ofType(notifier.EventExamSubmitted) != 1 {
		t.Fatal("expected one exam-submitted event")
	}
}

func TestSubmitAutoSetsAutoSubmitted(t *testing.T) {
	fx, _, attemptID := submitFixture(t)

	resp, err := fx.svc.Submit(context.Background(), attemptID, 42, &model.SubmitAttemptRequest{Auto: true})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if resp.Status != model.AttemptStatusAutoSubmitted {
		t.Fatalf("status = %s, want auto_submitted", resp.Status)
	}
}

func TestSubmitExactlyOneWins(t *testing.T) {
	fx, _, attemptID := submitFixture(t)
	ctx := context.Background()

	if _, err := fx.svc.Submit(ctx, attemptID, 42, &model.SubmitAttemptRequest{}); err != nil {
		t.Fatalf("first submit: %v", err)
	}

	_, err := fx.svc.Submit(ctx, attemptID, 42, &model.SubmitAttemptRequest{})
	if err != ErrAttemptFinalized {
		t.Fatalf("second submit err = %v, want ErrAttemptFinalized", err)
	}
}

func TestSubmitFlagsAtTabSwitchLimit(t *testing.T) {
	fx, _, attemptID := submitFixture(t)
	ctx := context.Background()

	// Three tab switches reach the limit exactly. Both submit-time
	// checks trip (each tab switch is also a violation) and the
	// violation-count reason is applied last.
	for i := 0; i < 3; i++ {
		if _, err := fx.svc.RecordViolation(ctx, attemptID, 42, &model.RecordViolationRequest{Type: "tab_switch", Severity: "medium"}); err != nil {
			t.Fatalf("violation: %v", err)
		}
	}

	resp, err := fx.svc.Submit(ctx, attemptID, 42, &model.SubmitAttemptRequest{})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if !resp.Flagged {
		t.Fatal("flagged = false, want true at tab switch limit")
	}
	if resp.FlagReason != submitViolationsReason(3, 3) {
		t.Fatalf("flag reason = %q, want %q", resp.FlagReason, submitViolationsReason(3, 3))
	}
	// Submit-time flagging carries its own wording, not the mid-exam one.
	if resp.FlagReason == excessiveViolationsReason(3) {
		t.Fatalf("flag reason %q reuses the in-progress wording", resp.FlagReason)
	}
}

func TestSubmitBelowLimitsNotFlagged(t *testing.T) {
	fx, _, attemptID := submitFixture(t)
	ctx := context.Background()

	// Two violations stay under the limit of three.
	for i := 0; i < 2; i++ {
		if _, err := fx.svc.RecordViolation(ctx, attemptID, 42, &model.RecordViolationRequest{Type: "window_blur", Severity: "low"}); err != nil {
			t.Fatalf("violation: %v", err)
		}
	}

	resp, err := fx.svc.Submit(ctx, attemptID, 42, &model.SubmitAttemptRequest{})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if resp.Flagged {
		t.Fatalf("flagged = true with reason %q, want unflagged", resp.FlagReason)
	}
}

func TestSubmitFallsBackToDurableAnswers(t *testing.T) {
	fx, _, attemptID := submitFixture(t)
	ctx := context.Background()

	// Redis lost the autosave hash; the worker-persisted rows remain.
	fx.mr.Del(config.CacheKey.AttemptAnswersKey(attemptID.String()))
	fx.answers.rows = []model.Answer{
		{QuestionID: fx.exams.questions[0].ID, Value: "A"},
	}

	resp, err := fx.svc.Submit(ctx, attemptID, 42, &model.SubmitAttemptRequest{})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if resp.Score != 6 {
		t.Fatalf("score = %d, want 6 from durable rows", resp.Score)
	}
}

// ─── Snapshots and Cancel ──────────────────────────────────────────────

func TestSaveSnapshotRefOnOpenAttempt(t *testing.T) {
	exam := publishedExam()
	fx := newAttemptFixture(t, exam)
	ctx := context.Background()

	out, err := fx.svc.Start(ctx, exam.ID, 42)
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	if err := fx.svc.SaveSnapshotRef(ctx, out.Attempt.ID, 42, "/uploads/snap.jpg", time.Time{}); err != nil {
		t.Fatalf("save snapshot: %v", err)
	}
	if len(fx.snapshots.saved) != 1 {
		t.Fatalf("saved %d snapshots, want 1", len(fx.snapshots.saved))
	}
	if fx.snapshots.saved[0].CapturedAt.IsZero() {
		t.Fatal("captured_at not defaulted")
	}
}

func TestCancelFinalizedAttemptRejected(t *testing.T) {
	fx, exam, attemptID := submitFixture(t)
	ctx := context.Background()

	if _, err := fx.svc.Submit(ctx, attemptID, 42, &model.SubmitAttemptRequest{}); err != nil {
		t.Fatalf("submit: %v", err)
	}

	err := fx.svc.Cancel(ctx, attemptID, exam.InstructorID, "caught cheating")
	if err != ErrAttemptFinalized {
		t.Fatalf("err = %v, want ErrAttemptFinalized", err)
	}
}

func TestCancelByNonOwnerRejected(t *testing.T) {
	fx, _, attemptID := submitFixture(t)

	err := fx.svc.Cancel(context.Background(), attemptID, 999, "caught cheating")
	if err != ErrNotExamOwner {
		t.Fatalf("err = %v, want ErrNotExamOwner", err)
	}
}

func TestCancelMarksAttemptAndPublishes(t *testing.T) {
	fx, exam, attemptID := submitFixture(t)
	ctx := context.Background()

	if err := fx.svc.Cancel(ctx, attemptID, exam.InstructorID, "caught cheating"); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	a := fx.attempts.byID[attemptID]
	if a.Status != model.AttemptStatusCancelled {
		t.Fatalf("status = %s, want cancelled", a.Status)
	}
	if !a.Flagged || a.FlagReason != "caught cheating" {
		t.Fatalf("flag state = (%t, %q), want flagged with reason", a.Flagged, a.FlagReason)
	}
	if fx.events.ofType(notifier.EventAttemptCancelled) != 1 {
		t.Fatal("expected one attempt-cancelled event")
	}

	// A cancelled attempt cannot be submitted.
	if _, err := fx.svc.Submit(ctx, attemptID, 42, &model.SubmitAttemptRequest{}); err != ErrAttemptFinalized {
		t.Fatalf("submit after cancel err = %v, want ErrAttemptFinalized", err)
	}
}
