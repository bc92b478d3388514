package schema

import (
	"time"
	"unicode/utf8"
)

// Profile is the per-user row keyed by the auth user id.
type Profile struct {
	ID                  string     `json:"id"`
	DisplayName         string     `json:"display_name"`
	Timezone            string     `json:"timezone"`
	QuietHoursStart     string     `json:"quiet_hours_start"`
	QuietHoursEnd       string     `json:"quiet_hours_end"`
	NudgesEnabled       bool       `json:"nudges_enabled"`
	LapseThresholdHours int        `json:"lapse_threshold_hours"`
	LastEngagedAt       *time.Time `json:"last_engaged_at"`
	CreatedAt           time.Time  `json:"created_at"`
	UpdatedAt           time.Time  `json:"updated_at"`
}

// MaxLapseThresholdHours caps a user-chosen threshold at 30 days.
const MaxLapseThresholdHours = 720

func (p *Profile) Validate() error {
	if p.ID == "" {
		return invalid("id", "required")
	}
	return validateProfileFields(p.DisplayName, p.Timezone, p.QuietHoursStart, p.QuietHoursEnd, p.LapseThresholdHours)
}

func validateProfileFields(name, tz, qs, qe string, threshold int) error {
	if utf8.RuneCountInString(name) > 80 {
		return invalid("display_name", "at most 80 characters")
	}
	if tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return invalid("timezone", "unknown IANA zone")
		}
	}
	if qs != "" {
		if _, err := ParseClock(qs); err != nil {
			return invalid("quiet_hours_start", err.Error())
		}
	}
	if qe != "" {
		if _, err := ParseClock(qe); err != nil {
			return invalid("quiet_hours_end", err.Error())
		}
	}
	if (qs == "") != (qe == "") {
		return invalid("quiet_hours", "start and end must be set together")
	}
	if threshold < 0 || threshold > MaxLapseThresholdHours {
		return invalid("lapse_threshold_hours", "must be between 0 and 720")
	}
	return nil
}

// ProfilePatch is a partial update from PATCH /api/me. Nil fields are untouched.
type ProfilePatch struct {
	DisplayName         *string `json:"display_name,omitempty"`
	Timezone            *string `json:"timezone,omitempty"`
	QuietHoursStart     *string `json:"quiet_hours_start,omitempty"`
	QuietHoursEnd       *string `json:"quiet_hours_end,omitempty"`
	NudgesEnabled       *bool   `json:"nudges_enabled,omitempty"`
	LapseThresholdHours *int    `json:"lapse_threshold_hours,omitempty"`
}

// Empty reports whether the patch changes nothing.
func (p ProfilePatch) Empty() bool {
	return p.DisplayName == nil && p.Timezone == nil && p.QuietHoursStart == nil &&
		p.QuietHoursEnd == nil && p.NudgesEnabled == nil && p.LapseThresholdHours == nil
}

// Apply copies the set fields onto prof.
func (p ProfilePatch) Apply(prof *Profile) {
	if p.DisplayName != nil {
		prof.DisplayName = *p.DisplayName
	}
	if p.Timezone != nil {
		prof.Timezone = *p.Timezone
	}
	if p.QuietHoursStart != nil {
		prof.QuietHoursStart = *p.QuietHoursStart
	}
	if p.QuietHoursEnd != nil {
		prof.QuietHoursEnd = *p.QuietHoursEnd
	}
	if p.NudgesEnabled != nil {
		prof.NudgesEnabled = *p.NudgesEnabled
	}
	if p.LapseThresholdHours != nil {
		prof.LapseThresholdHours = *p.LapseThresholdHours
	}
}

// Validate checks the patch against the current row, since quiet hours are
// validated as a pair.
func (p ProfilePatch) Validate(current Profile) error {
	if p.Empty() {
		return invalid("body", "no fields to update")
	}
	next := current
	p.Apply(&next)
	return validateProfileFields(next.DisplayName, next.Timezone, next.QuietHoursStart, next.QuietHoursEnd, next.LapseThresholdHours)
}
