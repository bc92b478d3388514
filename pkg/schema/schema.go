// Package schema defines the rows tether reads from and writes to the external
// database, with the validation applied before every write.
package schema

import (
	"fmt"
	"strconv"
	"strings"
)

// Table names.
const (
	TableProfiles         = "profiles"
	TableActivityLogs     = "activity_logs"
	TableAIReports        = "ai_reports"
	TableSubscriptions    = "subscriptions"
	TableRecoverySessions = "recovery_sessions"
	TableUsageEvents      = "usage_events"
)

// ValidationError names the offending field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// ParseClock parses "HH:MM" into minutes after midnight.
func ParseClock(s string) (int, error) {
	h, m, ok := strings.Cut(s, ":")
	if !ok || !twoDigits(h) || !twoDigits(m) {
		return 0, fmt.Errorf("clock %q is not HH:MM", s)
	}
	hh, err := strconv.Atoi(h)
	if err != nil || hh < 0 || hh > 23 {
		return 0, fmt.Errorf("clock %q has invalid hour", s)
	}
	mm, err := strconv.Atoi(m)
	if err != nil || mm < 0 || mm > 59 {
		return 0, fmt.Errorf("clock %q has invalid minute", s)
	}
	return hh*60 + mm, nil
}

func twoDigits(s string) bool {
	return len(s) == 2 && s[0] >= '0' && s[0] <= '9' && s[1] >= '0' && s[1] <= '9'
}
