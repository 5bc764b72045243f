package model

import (
	"time"

	"github.com/google/uuid"
)

// ExamStatus enumerates the possible states of an exam.
type ExamStatus string

const (
	ExamStatusDraft     ExamStatus = "DRAFT"
	ExamStatusPublished ExamStatus = "PUBLISHED"
	ExamStatusArchived  ExamStatus = "ARCHIVED"
)

// AntiCheatConfig holds the proctoring rules for an exam. The server only
// consumes TabSwitchLimit (flagging policy); the rest is forwarded to the
// exam client verbatim.
type AntiCheatConfig struct {
	WebcamRequired     bool `json:"webcam_required"`
	TabSwitchLimit     int  `json:"tab_switch_limit"`
	FullscreenRequired bool `json:"fullscreen_required"`
	CopyPasteBlocked   bool `json:"copy_paste_blocked"`
	DevtoolsBlocked    bool `json:"devtools_blocked"`
}

// Exam represents an exam entity.
type Exam struct {
	ID                    uuid.UUID       `json:"id"`
	Title                 string          `json:"title"`
	Description           string          `json:"description,omitempty"`
	InstructorID          int             `json:"instructor_id"`
	ScheduledStart        *time.Time      `json:"scheduled_start,omitempty"`
	ScheduledEnd          *time.Time      `json:"scheduled_end,omitempty"`
	DurationMinutes       int             `json:"duration_minutes"`
	TotalMarks            int             `json:"total_marks"`
	PassingMarks          int             `json:"passing_marks"`
	AntiCheat             AntiCheatConfig `json:"anti_cheat"`
	AllowMultipleAttempts bool            `json:"allow_multiple_attempts"`
	Status                ExamStatus      `json:"status"`
	CreatedAt             time.Time       `json:"created_at"`
	UpdatedAt             time.Time       `json:"updated_at"`
}

// CreateExamRequest is the payload for creating a new exam.
type CreateExamRequest struct {
	Title                 string           `json:"title" binding:"required,min=3,max=255"`
	Description           string           `json:"description" binding:"omitempty,max=2000"`
	ScheduledStart        *time.Time       `json:"scheduled_start" binding:"omitempty"`
	ScheduledEnd          *time.Time       `json:"scheduled_end" binding:"omitempty,gtfield=ScheduledStart"`
	DurationMinutes       int              `json:"duration_minutes" binding:"required,min=1,max=480"`
	PassingMarks          int              `json:"passing_marks" binding:"min=0"`
	AntiCheat             *AntiCheatConfig `json:"anti_cheat" binding:"omitempty"`
	AllowMultipleAttempts bool             `json:"allow_multiple_attempts"`
}

// UpdateExamRequest is the payload for updating an existing draft exam.
type UpdateExamRequest struct {
	Title                 string           `json:"title" binding:"omitempty,min=3,max=255"`
	Description           *string          `json:"description" binding:"omitempty,max=2000"`
	ScheduledStart        *time.Time       `json:"scheduled_start" binding:"omitempty"`
	ScheduledEnd          *time.Time       `json:"scheduled_end" binding:"omitempty,gtfield=ScheduledStart"`
	DurationMinutes       int              `json:"duration_minutes" binding:"omitempty,min=1,max=480"`
	PassingMarks          *int             `json:"passing_marks" binding:"omitempty,min=0"`
	AntiCheat             *AntiCheatConfig `json:"anti_cheat" binding:"omitempty"`
	AllowMultipleAttempts *bool            `json:"allow_multiple_attempts" binding:"omitempty"`
}

// ExamPayload is the Redis-cached payload sent to students (no answer keys).
type ExamPayload struct {
	ExamID       uuid.UUID            `json:"exam_id"`
	Title        string               `json:"title"`
	Description  string               `json:"description,omitempty"`
	Duration     int                  `json:"duration_minutes"`
	TotalMarks   int                  `json:"total_marks"`
	PassingMarks int                  `json:"passing_marks"`
	AntiCheat    AntiCheatConfig      `json:"anti_cheat"`
	Questions    []QuestionForStudent `json:"questions"`
}
