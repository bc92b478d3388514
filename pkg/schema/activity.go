package schema

import (
	"time"
	"unicode/utf8"
)

// ActivityKind classifies an activity log entry.
type ActivityKind string

const (
	KindCheckIn    ActivityKind = "check_in"
	KindCraving    ActivityKind = "craving"
	KindSlip       ActivityKind = "slip"
	KindReflection ActivityKind = "reflection"
	KindMilestone  ActivityKind = "milestone"
)

// Valid reports whether k is a known kind.
func (k ActivityKind) Valid() bool {
	switch k {
	case KindCheckIn, KindCraving, KindSlip, KindReflection, KindMilestone:
		return true
	}
	return false
}

// Resolves reports whether logging this kind ends an open recovery session.
func (k ActivityKind) Resolves() bool {
	return k == KindCheckIn || k == KindReflection
}

// MaxNoteLength is the longest note accepted, in characters.
const MaxNoteLength = 2000

// ActivityLog is one user-entered event.
type ActivityLog struct {
	ID         string       `json:"id"`
	UserID     string       `json:"user_id"`
	Kind       ActivityKind `json:"kind"`
	Mood       *int         `json:"mood,omitempty"`
	Note       string       `json:"note,omitempty"`
	OccurredAt time.Time    `json:"occurred_at"`
	CreatedAt  time.Time    `json:"created_at"`
}

func (a *ActivityLog) Validate() error {
	if a.UserID == "" {
		return invalid("user_id", "required")
	}
	if !a.Kind.Valid() {
		return invalid("kind", "must be one of check_in, craving, slip, reflection, milestone")
	}
	if a.Mood != nil && (*a.Mood < 1 || *a.Mood > 5) {
		return invalid("mood", "must be between 1 and 5")
	}
	if utf8.RuneCountInString(a.Note) > MaxNoteLength {
		return invalid("note", "at most 2000 characters")
	}
	if a.OccurredAt.IsZero() {
		return invalid("occurred_at", "required")
	}
	return nil
}
