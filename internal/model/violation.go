package model

import "time"

// ViolationType enumerates client-observed suspicious events.
type ViolationType string

const (
	ViolationTabSwitch      ViolationType = "tab_switch"
	ViolationWindowBlur     ViolationType = "window_blur"
	ViolationCopyPaste      ViolationType = "copy_paste"
	ViolationRightClick     ViolationType = "right_click"
	ViolationDevtools       ViolationType = "devtools"
	ViolationScreenshot     ViolationType = "screenshot"
	ViolationFullscreenExit ViolationType = "fullscreen_exit"
	ViolationResize         ViolationType = "resize"
)

// ViolationSeverity grades how suspicious an event is.
type ViolationSeverity string

const (
	SeverityLow      ViolationSeverity = "low"
	SeverityMedium   ViolationSeverity = "medium"
	SeverityHigh     ViolationSeverity = "high"
	SeverityCritical ViolationSeverity = "critical"
)

// Violation is one append-only ledger entry. Entries are never edited or
// removed.
type Violation struct {
	ID          int64             `json:"id"`
	Type        ViolationType     `json:"type"`
	Description string            `json:"description,omitempty"`
	Severity    ViolationSeverity `json:"severity"`
	RecordedAt  time.Time         `json:"recorded_at"`
}

// RecordViolationRequest is the payload for reporting a suspicious event.
type RecordViolationRequest struct {
	Type        string `json:"type" binding:"required,oneof=tab_switch window_blur copy_paste right_click devtools screenshot fullscreen_exit resize"`
	Description string `json:"description" binding:"omitempty,max=1000"`
	Severity    string `json:"severity" binding:"required,oneof=low medium high critical"`
}

// RecordViolationResponse returns the ledger counters after the append.
type RecordViolationResponse struct {
	ViolationCount int    `json:"violation_count"`
	TabSwitchCount int    `json:"tab_switch_count"`
	Flagged        bool   `json:"flagged"`
	FlagReason     string `json:"flag_reason,omitempty"`
}
