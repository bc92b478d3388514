package recovery

import (
	"time"

	"github.com/celerix-dev/tether/pkg/schema"
)

// QuietHours is a daily [Start, End) window in a user's local time.
// A window whose start is after its end wraps past midnight.
type QuietHours struct {
	Start   int // minutes after local midnight
	End     int
	Loc     *time.Location
	Enabled bool
}

// LoadLocation resolves an IANA zone name, falling back to UTC.
func LoadLocation(tz string) *time.Location {
	if tz == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return time.UTC
	}
	return loc
}

// ParseQuietHours builds a window from profile fields. Empty, malformed or
// equal bounds disable the window.
func ParseQuietHours(tz, start, end string) QuietHours {
	q := QuietHours{Loc: LoadLocation(tz)}
	if start == "" || end == "" {
		return q
	}
	s, err := schema.ParseClock(start)
	if err != nil {
		return q
	}
	e, err := schema.ParseClock(end)
	if err != nil || s == e {
		return q
	}
	q.Start, q.End, q.Enabled = s, e, true
	return q
}

// Contains reports whether t falls inside the window.
func (q QuietHours) Contains(t time.Time) bool {
	if !q.Enabled {
		return false
	}
	local := t.In(q.Loc)
	m := local.Hour()*60 + local.Minute()
	if q.Start < q.End {
		return m >= q.Start && m < q.End
	}
	return m >= q.Start || m < q.End
}

// NextEnd returns the first window end strictly after t, as an absolute instant.
// An end that falls into a DST gap becomes the first instant after the gap;
// repeated wall-clock times resolve the way time.Date does.
func (q QuietHours) NextEnd(t time.Time) time.Time {
	y, mo, d := t.In(q.Loc).Date()
	end := q.endOn(y, mo, d)
	if !end.After(t) {
		end = q.endOn(y, mo, d+1)
	}
	return end
}

func (q QuietHours) endOn(y int, mo time.Month, d int) time.Time {
	end := time.Date(y, mo, d, q.End/60, q.End%60, 0, 0, q.Loc)
	want := time.Date(y, mo, d, q.End/60, q.End%60, 0, 0, time.UTC)
	got := time.Date(end.Year(), end.Month(), end.Day(), end.Hour(), end.Minute(), 0, 0, time.UTC)
	if got.Equal(want) {
		return end
	}
	// skipped wall-clock time: the zone transition is where the gap ends
	start, next := end.ZoneBounds()
	if got.Before(want) && !next.IsZero() {
		return next
	}
	return start
}
