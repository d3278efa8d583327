package domain

import "time"

// ViolationType tags a category of suspicious client behaviour.
type ViolationType string

const (
	ViolationTabSwitch        ViolationType = "tab_switch"
	ViolationRightClick       ViolationType = "right_click"
	ViolationKeyboardShortcut ViolationType = "keyboard_shortcut"
	ViolationDevTools         ViolationType = "dev_tools"
	ViolationCopyPaste        ViolationType = "copy_paste"
	ViolationFocusLoss        ViolationType = "focus_loss"
)

// Valid reports whether t is one of the known tags.
func (t ViolationType) Valid() bool {
	switch t {
	case ViolationTabSwitch, ViolationRightClick, ViolationKeyboardShortcut,
		ViolationDevTools, ViolationCopyPaste, ViolationFocusLoss:
		return true
	}
	return false
}

// Severity grades a single violation row by its own count.
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// SeverityFor maps a per-type count to a severity.
func SeverityFor(count int) Severity {
	switch {
	case count >= 10:
		return SeverityHigh
	case count >= 5:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

// SecurityViolation is the counter row for one (session, participant, type).
type SecurityViolation struct {
	ID             string        `json:"id"`
	SessionID      string        `json:"session_id"`
	ParticipantID  string        `json:"participant_id"`
	ViolationType  ViolationType `json:"violation_type"`
	ViolationCount int           `json:"violation_count"`
	Severity       Severity      `json:"severity"`
	DetectedAt     time.Time     `json:"detected_at"`
	UpdatedAt      time.Time     `json:"updated_at"`
}

// RiskLevel classifies a participant by total violations in a session.
type RiskLevel string

const (
	RiskNone   RiskLevel = ""
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
	RiskSevere RiskLevel = "severe"
)

// ClassifyRisk returns the risk level for a participant's total count. Totals
// under five are not flagged.
func ClassifyRisk(total int) RiskLevel {
	switch {
	case total >= 15:
		return RiskSevere
	case total >= 10:
		return RiskHigh
	case total >= 5:
		return RiskMedium
	default:
		return RiskNone
	}
}

// FlaggedPlayer is one row of a session risk report.
type FlaggedPlayer struct {
	ParticipantID   string              `json:"participant_id"`
	Nickname        string              `json:"nickname"`
	TotalViolations int                 `json:"total_violations"`
	RiskLevel       RiskLevel           `json:"risk_level"`
	Violations      []SecurityViolation `json:"violations"`
}
