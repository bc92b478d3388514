package schema

import "time"

// SessionTrigger records why a recovery session was opened.
type SessionTrigger string

const (
	TriggerAutoLapse SessionTrigger = "auto_lapse"
	TriggerManual    SessionTrigger = "manual"
)

// SessionStatus is the lifecycle state of a recovery session.
type SessionStatus string

const (
	SessionOpen     SessionStatus = "open"
	SessionResolved SessionStatus = "resolved"
	SessionExpired  SessionStatus = "expired"
)

// RecoverySession tracks one lapse and the nudges sent during it.
type RecoverySession struct {
	ID           string         `json:"id"`
	UserID       string         `json:"user_id"`
	Trigger      SessionTrigger `json:"trigger"`
	Status       SessionStatus  `json:"status"`
	OpenedAt     time.Time      `json:"opened_at"`
	ResolvedAt   *time.Time     `json:"resolved_at,omitempty"`
	LastNudgedAt *time.Time     `json:"last_nudged_at,omitempty"`
	NudgeCount   int            `json:"nudge_count"`
}

func (s *RecoverySession) Validate() error {
	if s.UserID == "" {
		return invalid("user_id", "required")
	}
	if s.Trigger != TriggerAutoLapse && s.Trigger != TriggerManual {
		return invalid("trigger", "must be auto_lapse or manual")
	}
	switch s.Status {
	case SessionOpen, SessionResolved, SessionExpired:
	default:
		return invalid("status", "must be open, resolved or expired")
	}
	if s.OpenedAt.IsZero() {
		return invalid("opened_at", "required")
	}
	if s.NudgeCount < 0 {
		return invalid("nudge_count", "must not be negative")
	}
	return nil
}

// IsOpen reports whether the session is still open.
func (s *RecoverySession) IsOpen() bool { return s != nil && s.Status == SessionOpen }
