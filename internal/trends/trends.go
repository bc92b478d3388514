// Package trends computes weekly signup cohorts for the admin dashboard.
package trends

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/celerix-dev/tether/internal/store"
	"github.com/celerix-dev/tether/pkg/postgrest"
	"github.com/celerix-dev/tether/pkg/schema"
)

const (
	DefaultWeeks = 8
	MaxWeeks     = 26

	week = 7 * 24 * time.Hour
)

// Cohort is the users who signed up in one UTC ISO week.
type Cohort struct {
	WeekStart    time.Time `json:"week_start"`
	Size         int       `json:"size"`
	Retention    []float64 `json:"retention"`
	LapseRate    float64   `json:"lapse_rate"`
	RecoveryRate float64   `json:"recovery_rate"`
}

// ClampWeeks applies the default and the upper bound.
func ClampWeeks(n int) int {
	switch {
	case n <= 0:
		return DefaultWeeks
	case n > MaxWeeks:
		return MaxWeeks
	}
	return n
}

// WeekStart returns Monday 00:00 UTC of t's ISO week.
func WeekStart(t time.Time) time.Time {
	t = t.UTC()
	offset := (int(t.Weekday()) + 6) % 7
	y, m, d := t.Date()
	return time.Date(y, m, d-offset, 0, 0, 0, 0, time.UTC)
}

// Compute buckets profiles into the last `weeks` cohorts ending with now's
// week, oldest first. Weeks without signups are included with zero size.
func Compute(now time.Time, weeks int, profiles []schema.Profile, activities []schema.ActivityLog, sessions []schema.RecoverySession) []Cohort {
	weeks = ClampWeeks(weeks)
	current := WeekStart(now)
	first := current.AddDate(0, 0, -7*(weeks-1))

	cohorts := make([]Cohort, weeks)
	for i := range cohorts {
		start := first.AddDate(0, 0, 7*i)
		elapsed := int(now.Sub(start) / week)
		cohorts[i] = Cohort{WeekStart: start, Retention: make([]float64, elapsed+1)}
	}

	index := map[string]int{}
	for _, p := range profiles {
		ws := WeekStart(p.CreatedAt)
		if ws.Before(first) || ws.After(current) {
			continue
		}
		i := int(ws.Sub(first) / week)
		index[p.ID] = i
		cohorts[i].Size++
	}

	// active[i][k] holds the members of cohort i seen in week k
	active := make([][]map[string]bool, weeks)
	for i := range active {
		active[i] = make([]map[string]bool, len(cohorts[i].Retention))
	}
	for _, a := range activities {
		i, ok := index[a.UserID]
		if !ok || a.OccurredAt.Before(cohorts[i].WeekStart) {
			continue
		}
		k := int(a.OccurredAt.Sub(cohorts[i].WeekStart) / week)
		if k >= len(active[i]) {
			continue
		}
		if active[i][k] == nil {
			active[i][k] = map[string]bool{}
		}
		active[i][k][a.UserID] = true
	}

	lapsed := make([]map[string]bool, weeks)
	lapseTotal := make([]int, weeks)
	lapseResolved := make([]int, weeks)
	for _, s := range sessions {
		if s.Trigger != schema.TriggerAutoLapse {
			continue
		}
		i, ok := index[s.UserID]
		if !ok {
			continue
		}
		if lapsed[i] == nil {
			lapsed[i] = map[string]bool{}
		}
		lapsed[i][s.UserID] = true
		lapseTotal[i]++
		if s.Status == schema.SessionResolved {
			lapseResolved[i]++
		}
	}

	for i := range cohorts {
		size := cohorts[i].Size
		for k := range cohorts[i].Retention {
			cohorts[i].Retention[k] = ratio(len(active[i][k]), size)
		}
		cohorts[i].LapseRate = ratio(len(lapsed[i]), size)
		cohorts[i].RecoveryRate = ratio(lapseResolved[i], lapseTotal[i])
	}
	return cohorts
}

func ratio(n, d int) float64 {
	if d == 0 {
		return 0
	}
	return math.Round(float64(n)/float64(d)*10000) / 10000
}

// Source is what Service reads.
type Source interface {
	ListProfiles(ctx context.Context, f store.ProfileFilter) ([]schema.Profile, error)
	ActivitiesSince(ctx context.Context, since time.Time) ([]schema.ActivityLog, error)
	SessionsSince(ctx context.Context, since time.Time) ([]schema.RecoverySession, error)
}

// Service loads cohort inputs with the service role and computes the table.
type Service struct {
	src Source
	now func() time.Time
}

func NewService(src Source) *Service {
	return &Service{src: src, now: time.Now}
}

// Cohorts returns the last `weeks` cohorts.
func (s *Service) Cohorts(ctx context.Context, weeks int) ([]Cohort, error) {
	ctx = postgrest.AsService(ctx)
	now := s.now().UTC()
	weeks = ClampWeeks(weeks)
	since := WeekStart(now).AddDate(0, 0, -7*(weeks-1))

	profiles, err := s.src.ListProfiles(ctx, store.ProfileFilter{CreatedSince: since})
	if err != nil {
		return nil, fmt.Errorf("load cohort profiles: %w", err)
	}
	activities, err := s.src.ActivitiesSince(ctx, since)
	if err != nil {
		return nil, fmt.Errorf("load cohort activity: %w", err)
	}
	sessions, err := s.src.SessionsSince(ctx, since)
	if err != nil {
		return nil, fmt.Errorf("load cohort sessions: %w", err)
	}
	return Compute(now, weeks, profiles, activities, sessions), nil
}
