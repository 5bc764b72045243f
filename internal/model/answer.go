package model

import "github.com/google/uuid"

// Answer is one student answer within an attempt, keyed by question.
// Correctness and marks are written only by submit-time grading; before
// that they are zero values.
type Answer struct {
	QuestionID    uuid.UUID `json:"question_id"`
	Value         string    `json:"value"`
	Correct       bool      `json:"correct"`
	MarksAwarded  int       `json:"marks_awarded"`
	TimeSpentSecs int       `json:"time_spent_seconds,omitempty"`
}
