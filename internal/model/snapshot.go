package model

import "time"

// SnapshotRef points at a stored webcam snapshot for an attempt.
type SnapshotRef struct {
	URL        string    `json:"url"`
	CapturedAt time.Time `json:"captured_at"`
}

// SaveSnapshotRequest is the payload for registering a captured snapshot.
// The image itself is uploaded through the media endpoint first.
type SaveSnapshotRequest struct {
	URL        string     `json:"url" binding:"required,max=500"`
	CapturedAt *time.Time `json:"captured_at" binding:"omitempty"`
}
