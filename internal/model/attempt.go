package model

import (
	"time"

	"github.com/google/uuid"
)

// AttemptStatus enumerates attempt lifecycle states. The only non-terminal
// state is in_progress; there is no transition back into it.
type AttemptStatus string

const (
	AttemptStatusInProgress    AttemptStatus = "in_progress"
	AttemptStatusSubmitted     AttemptStatus = "submitted"
	AttemptStatusAutoSubmitted AttemptStatus = "auto_submitted"
	AttemptStatusCancelled     AttemptStatus = "cancelled"
)

// IsTerminal reports whether the status forbids further mutation.
func (s AttemptStatus) IsTerminal() bool {
	return s != AttemptStatusInProgress
}

// Attempt represents a student's timed, gradable instance of taking an exam.
// Flagged is an orthogonal marker, not a status: it can be set at any point
// before a terminal transition and is never cleared.
type Attempt struct {
	ID             uuid.UUID     `json:"id"`
	ExamID         uuid.UUID     `json:"exam_id"`
	StudentID      int           `json:"student_id"`
	Status         AttemptStatus `json:"status"`
	Score          int           `json:"score"`
	TotalMarks     int           `json:"total_marks"`
	Percentage     int           `json:"percentage"`
	Passed         bool          `json:"passed"`
	Flagged        bool          `json:"flagged"`
	FlagReason     string        `json:"flag_reason,omitempty"`
	TabSwitchCount int           `json:"tab_switch_count"`
	ViolationCount int           `json:"violation_count"`
	StartedAt      time.Time     `json:"started_at"`
	SubmittedAt    *time.Time    `json:"submitted_at,omitempty"`
	TimeSpentSecs  int           `json:"time_spent_seconds"`
	Answers        []Answer      `json:"answers,omitempty"`
	Violations     []Violation   `json:"violations,omitempty"`
	Snapshots      []SnapshotRef `json:"snapshots,omitempty"`
}

// StartAttemptResponse bundles the created (or resumed) attempt with the
// sanitized exam payload the client renders.
type StartAttemptResponse struct {
	Attempt *Attempt     `json:"attempt"`
	Exam    *ExamPayload `json:"exam"`
	Resumed bool         `json:"resumed"`
}

// RecordAnswerRequest is the payload for saving a single answer.
type RecordAnswerRequest struct {
	QuestionID string `json:"question_id" binding:"required,uuid"`
	Value      string `json:"value" binding:"required,max=5000"`
}

// SubmitAttemptRequest distinguishes timer-triggered submission from a
// user-initiated one.
type SubmitAttemptRequest struct {
	Auto bool `json:"auto"`
}

// CancelAttemptRequest is the instructor payload for terminating an
// in-progress attempt.
type CancelAttemptRequest struct {
	Reason string `json:"reason" binding:"required,min=3,max=500"`
}

// SubmitAttemptResponse is the graded summary returned on submit.
type SubmitAttemptResponse struct {
	AttemptID  uuid.UUID     `json:"attempt_id"`
	Status     AttemptStatus `json:"status"`
	Score      int           `json:"score"`
	TotalMarks int           `json:"total_marks"`
	Percentage int           `json:"percentage"`
	Passed     bool          `json:"passed"`
	Flagged    bool          `json:"flagged"`
	FlagReason string        `json:"flag_reason,omitempty"`
}
