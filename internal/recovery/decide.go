// Package recovery detects lapses in engagement, decides when a user in an
// open recovery session may be nudged, and runs both over all users during a
// sweep.
package recovery

import (
	"math"
	"time"

	"github.com/celerix-dev/tether/pkg/schema"
)

// DefaultThresholdHours applies when neither the profile nor config sets one.
const DefaultThresholdHours = 72

// Lapse decision reasons, in the order they are checked.
const (
	ReasonNeverEngaged    = "never_engaged"
	ReasonSessionOpen     = "session_open"
	ReasonWithinThreshold = "within_threshold"
	ReasonAlreadyLapsed   = "already_lapsed"
	ReasonCooldown        = "cooldown"
	ReasonLapsed          = "lapsed"
)

// Nudge decision reasons, in the order they are checked.
const (
	ReasonNoSession  = "no_session"
	ReasonDisabled   = "disabled"
	ReasonMaxReached = "max_reached"
	ReasonTooSoon    = "too_soon"
	ReasonQuietHours = "quiet_hours"
	ReasonEligible   = "eligible"
)

// LapseInput is everything DecideAutoLapse looks at.
type LapseInput struct {
	Now            time.Time
	LastEngagedAt  *time.Time
	HasOpenSession bool
	// LastLapseOpenedAt is when the newest auto_lapse session was opened, if any.
	LastLapseOpenedAt *time.Time
	// ThresholdHours <= 0 means DefaultHours.
	ThresholdHours int
	DefaultHours   int
	Cooldown       time.Duration
}

// LapseDecision is the outcome of DecideAutoLapse.
type LapseDecision struct {
	Create         bool    `json:"create"`
	Reason         string  `json:"reason"`
	HoursInactive  float64 `json:"hours_inactive"`
	ThresholdHours int     `json:"threshold_hours"`
}

// DecideAutoLapse reports whether a new auto_lapse session should be opened.
func DecideAutoLapse(in LapseInput) LapseDecision {
	if in.LastEngagedAt == nil {
		return LapseDecision{Reason: ReasonNeverEngaged}
	}

	threshold := in.ThresholdHours
	if threshold <= 0 {
		threshold = in.DefaultHours
	}
	if threshold <= 0 {
		threshold = DefaultThresholdHours
	}
	d := LapseDecision{
		ThresholdHours: threshold,
		HoursInactive:  roundHours(in.Now.Sub(*in.LastEngagedAt)),
	}

	if in.HasOpenSession {
		d.Reason = ReasonSessionOpen
		return d
	}
	if in.Now.Before(in.LastEngagedAt.Add(time.Duration(threshold) * time.Hour)) {
		d.Reason = ReasonWithinThreshold
		return d
	}
	if in.LastLapseOpenedAt != nil {
		if !in.LastLapseOpenedAt.Before(*in.LastEngagedAt) {
			d.Reason = ReasonAlreadyLapsed
			return d
		}
		if in.Now.Sub(*in.LastLapseOpenedAt) < in.Cooldown {
			d.Reason = ReasonCooldown
			return d
		}
	}
	d.Create = true
	d.Reason = ReasonLapsed
	return d
}

func roundHours(d time.Duration) float64 {
	if d < 0 {
		return 0
	}
	return math.Round(d.Hours()*100) / 100
}

// NudgeInput is everything DecideNudge looks at.
type NudgeInput struct {
	Now           time.Time
	Session       *schema.RecoverySession
	NudgesEnabled bool
	MaxNudges     int
	MinInterval   time.Duration
	Quiet         QuietHours
}

// NudgeDecision is the outcome of DecideNudge.
type NudgeDecision struct {
	Send           bool       `json:"send"`
	Reason         string     `json:"reason"`
	NextEligibleAt *time.Time `json:"next_eligible_at,omitempty"`
}

// DecideNudge reports whether the open session may be nudged now.
func DecideNudge(in NudgeInput) NudgeDecision {
	if !in.Session.IsOpen() {
		return NudgeDecision{Reason: ReasonNoSession}
	}
	if !in.NudgesEnabled {
		return NudgeDecision{Reason: ReasonDisabled}
	}
	if in.Session.NudgeCount >= in.MaxNudges {
		return NudgeDecision{Reason: ReasonMaxReached}
	}
	if last := in.Session.LastNudgedAt; last != nil {
		next := last.Add(in.MinInterval)
		if next.After(in.Now) {
			return NudgeDecision{Reason: ReasonTooSoon, NextEligibleAt: &next}
		}
	}
	if in.Quiet.Contains(in.Now) {
		next := in.Quiet.NextEnd(in.Now)
		return NudgeDecision{Reason: ReasonQuietHours, NextEligibleAt: &next}
	}
	return NudgeDecision{Send: true, Reason: ReasonEligible}
}

var nudgeMessages = []string{
	"It's been a little while. A quick check-in takes less than a minute.",
	"However today is going, logging how you feel can help. We're here when you're ready.",
	"Small steps count. Want to write down one thing that went okay today?",
}

// NudgeMessage picks the copy for the nth nudge of a session (0-based).
func NudgeMessage(n int) string {
	if n < 0 {
		n = 0
	}
	return nudgeMessages[n%len(nudgeMessages)]
}
