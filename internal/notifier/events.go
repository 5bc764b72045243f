// Package notifier fans live proctoring events out to connected
// instructors. Events flow through Redis Pub/Sub so every server instance
// sees them, then through a WebSocket hub to the browsers attached to
// that instance.
package notifier

import (
	"time"

	"github.com/google/uuid"
)

// EventType enumerates the live events instructors can observe.
type EventType string

const (
	EventExamStarted      EventType = "exam-started"
	EventExamSubmitted    EventType = "exam-submitted"
	EventViolationAlert   EventType = "violation-alert"
	EventAttemptFlagged   EventType = "attempt-flagged"
	EventAttemptCancelled EventType = "attempt-cancelled"
)

// Event is the wire format published to Redis and relayed to WebSocket
// clients verbatim.
type Event struct {
	Type      EventType      `json:"type"`
	ExamID    uuid.UUID      `json:"exam_id"`
	AttemptID uuid.UUID      `json:"attempt_id"`
	StudentID int            `json:"student_id"`
	Data      map[string]any `json:"data,omitempty"`
	At        time.Time      `json:"at"`
}
