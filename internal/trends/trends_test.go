package trends

import (
	"context"
	"testing"
	"time"

	"github.com/celerix-dev/tether/internal/store"
	"github.com/celerix-dev/tether/pkg/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Wednesday; its ISO week starts Monday 9 March
var now = time.Date(2026, 3, 11, 12, 0, 0, 0, time.UTC)

func day(y int, m time.Month, d, h int) time.Time { return time.Date(y, m, d, h, 0, 0, 0, time.UTC) }

func TestWeekStart(t *testing.T) {
	tests := []struct {
		in, want time.Time
	}{
		{day(2026, 3, 11, 12), day(2026, 3, 9, 0)},
		{day(2026, 3, 9, 0), day(2026, 3, 9, 0)},
		{day(2026, 3, 8, 23), day(2026, 3, 2, 0)}, // Sunday belongs to the previous week
		{day(2026, 1, 1, 5), day(2025, 12, 29, 0)},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, WeekStart(tt.in), "WeekStart(%s)", tt.in)
	}

	ny, err := time.LoadLocation("America/New_York")
	if err == nil {
		// Sunday 21:00 in New York is already Monday in UTC
		assert.Equal(t, day(2026, 3, 9, 0), WeekStart(time.Date(2026, 3, 8, 21, 0, 0, 0, ny)))
	}
}

func TestClampWeeks(t *testing.T) {
	assert.Equal(t, DefaultWeeks, ClampWeeks(0))
	assert.Equal(t, DefaultWeeks, ClampWeeks(-3))
	assert.Equal(t, 4, ClampWeeks(4))
	assert.Equal(t, MaxWeeks, ClampWeeks(100))
}

func TestCompute(t *testing.T) {
	profiles := []schema.Profile{
		{ID: "a", CreatedAt: day(2026, 2, 23, 10)}, // cohort 23 Feb
		{ID: "b", CreatedAt: day(2026, 2, 25, 10)},
		{ID: "c", CreatedAt: day(2026, 3, 1, 22)},
		{ID: "d", CreatedAt: day(2026, 3, 10, 8)},  // cohort 9 Mar
		{ID: "old", CreatedAt: day(2026, 1, 5, 8)}, // outside a 3-week window
	}
	activities := []schema.ActivityLog{
		{UserID: "a", OccurredAt: day(2026, 2, 24, 9)},
		{UserID: "a", OccurredAt: day(2026, 2, 24, 10)}, // same user and week counts once
		{UserID: "b", OccurredAt: day(2026, 2, 26, 9)},
		{UserID: "a", OccurredAt: day(2026, 3, 3, 9)},
		{UserID: "c", OccurredAt: day(2026, 3, 10, 9)},
		{UserID: "d", OccurredAt: day(2026, 3, 10, 9)},
		{UserID: "old", OccurredAt: day(2026, 3, 10, 9)},
	}
	sessions := []schema.RecoverySession{
		{UserID: "b", Trigger: schema.TriggerAutoLapse, Status: schema.SessionResolved},
		{UserID: "b", Trigger: schema.TriggerAutoLapse, Status: schema.SessionExpired},
		{UserID: "c", Trigger: schema.TriggerAutoLapse, Status: schema.SessionOpen},
		{UserID: "a", Trigger: schema.TriggerManual, Status: schema.SessionResolved},
	}

	cohorts := Compute(now, 3, profiles, activities, sessions)
	require.Len(t, cohorts, 3)

	feb := cohorts[0]
	assert.Equal(t, day(2026, 2, 23, 0), feb.WeekStart)
	assert.Equal(t, 3, feb.Size)
	require.Len(t, feb.Retention, 3)
	assert.Equal(t, []float64{0.6667, 0.3333, 0.3333}, feb.Retention)
	assert.Equal(t, 0.6667, feb.LapseRate)
	assert.Equal(t, 0.3333, feb.RecoveryRate)

	empty := cohorts[1]
	assert.Equal(t, day(2026, 3, 2, 0), empty.WeekStart)
	assert.Zero(t, empty.Size)
	assert.Equal(t, []float64{0, 0}, empty.Retention)
	assert.Zero(t, empty.LapseRate)
	assert.Zero(t, empty.RecoveryRate)

	cur := cohorts[2]
	assert.Equal(t, 1, cur.Size)
	assert.Equal(t, []float64{1}, cur.Retention)
	assert.Zero(t, cur.RecoveryRate, "no lapse sessions means a zero rate")
}

func TestService_Cohorts(t *testing.T) {
	mem := store.NewMemory()
	ctx := context.Background()
	mem.SetClock(func() time.Time { return day(2026, 3, 10, 8) })
	_, err := mem.CreateProfile(ctx, &schema.Profile{ID: "u1"})
	require.NoError(t, err)
	_, err = mem.InsertActivity(ctx, &schema.ActivityLog{UserID: "u1", Kind: schema.KindCheckIn, OccurredAt: day(2026, 3, 10, 9)})
	require.NoError(t, err)

	svc := NewService(mem)
	svc.now = func() time.Time { return now }

	cohorts, err := svc.Cohorts(ctx, 0)
	require.NoError(t, err)
	require.Len(t, cohorts, DefaultWeeks)
	last := cohorts[len(cohorts)-1]
	assert.Equal(t, 1, last.Size)
	assert.Equal(t, []float64{1}, last.Retention)
}
