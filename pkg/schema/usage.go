package schema

import "time"

// UsageKind names a metered or audited event.
type UsageKind string

const (
	EventReportGenerated UsageKind = "report_generated"
	EventNudgeSent       UsageKind = "nudge_sent"
	EventLapseDetected   UsageKind = "lapse_detected"
	EventCheckoutStarted UsageKind = "checkout_started"
)

// UsageEvent is an append-only audit row, also used for report quotas.
type UsageEvent struct {
	ID        string         `json:"id"`
	UserID    string         `json:"user_id"`
	Event     UsageKind      `json:"event"`
	Meta      map[string]any `json:"meta,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

func (u *UsageEvent) Validate() error {
	if u.UserID == "" {
		return invalid("user_id", "required")
	}
	switch u.Event {
	case EventReportGenerated, EventNudgeSent, EventLapseDetected, EventCheckoutStarted:
		return nil
	}
	return invalid("event", "unknown usage event")
}
