package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/celerix-dev/tether/pkg/schema"
	"github.com/google/uuid"
)

// Memory is a thread-safe in-process Store. Rows are keyed by user id and
// every read returns copies, so callers cannot mutate stored state.
type Memory struct {
	mu sync.RWMutex

	profiles      map[string]schema.Profile
	activities    map[string][]schema.ActivityLog
	reports       map[string][]schema.AIReport
	subscriptions map[string]schema.Subscription
	sessions      map[string][]schema.RecoverySession
	usage         map[string][]schema.UsageEvent

	now func() time.Time
}

// NewMemory initializes an empty store.
func NewMemory() *Memory {
	return &Memory{
		profiles:      make(map[string]schema.Profile),
		activities:    make(map[string][]schema.ActivityLog),
		reports:       make(map[string][]schema.AIReport),
		subscriptions: make(map[string]schema.Subscription),
		sessions:      make(map[string][]schema.RecoverySession),
		usage:         make(map[string][]schema.UsageEvent),
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// SetClock replaces the timestamp source used for created/updated columns.
func (m *Memory) SetClock(now func() time.Time) { m.now = now }

func (m *Memory) Ping(context.Context) error { return nil }

// --- Profiles ---

func (m *Memory) GetProfile(_ context.Context, userID string) (*schema.Profile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.profiles[userID]
	if !ok {
		return nil, fmt.Errorf("profile: %w", ErrNotFound)
	}
	return &p, nil
}

func (m *Memory) CreateProfile(_ context.Context, p *schema.Profile) (*schema.Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.profiles[p.ID]; ok {
		return nil, fmt.Errorf("profile %s: %w", p.ID, ErrConflict)
	}
	row := *p
	now := m.now()
	if row.CreatedAt.IsZero() {
		row.CreatedAt = now
	}
	row.UpdatedAt = now
	m.profiles[row.ID] = row
	return &row, nil
}

func (m *Memory) UpdateProfile(_ context.Context, userID string, patch schema.ProfilePatch) (*schema.Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.profiles[userID]
	if !ok {
		return nil, fmt.Errorf("profile: %w", ErrNotFound)
	}
	patch.Apply(&row)
	row.UpdatedAt = m.now()
	m.profiles[userID] = row
	return &row, nil
}

func (m *Memory) TouchEngaged(_ context.Context, userID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.profiles[userID]
	if !ok {
		return fmt.Errorf("profile: %w", ErrNotFound)
	}
	at = at.UTC()
	row.LastEngagedAt = &at
	row.UpdatedAt = m.now()
	m.profiles[userID] = row
	return nil
}

func (m *Memory) ListProfiles(_ context.Context, f ProfileFilter) ([]schema.Profile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var list []schema.Profile
	for _, p := range m.profiles {
		if !f.CreatedSince.IsZero() && p.CreatedAt.Before(f.CreatedSince) {
			continue
		}
		if f.EngagedOnly && p.LastEngagedAt == nil {
			continue
		}
		list = append(list, p)
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].CreatedAt.Equal(list[j].CreatedAt) {
			return list[i].ID < list[j].ID
		}
		return list[i].CreatedAt.Before(list[j].CreatedAt)
	})
	return list, nil
}

// --- Activities ---

func (m *Memory) ListActivities(_ context.Context, userID string, f ActivityFilter) ([]schema.ActivityLog, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var list []schema.ActivityLog
	for _, a := range m.activities[userID] {
		if !f.From.IsZero() && a.OccurredAt.Before(f.From) {
			continue
		}
		if !f.To.IsZero() && !a.OccurredAt.Before(f.To) {
			continue
		}
		list = append(list, a)
	}
	sort.SliceStable(list, func(i, j int) bool { return list[i].OccurredAt.After(list[j].OccurredAt) })
	if f.Limit > 0 && len(list) > f.Limit {
		list = list[:f.Limit]
	}
	return list, nil
}

func (m *Memory) InsertActivity(_ context.Context, a *schema.ActivityLog) (*schema.ActivityLog, error) {
	if err := a.Validate(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	row := *a
	if row.ID == "" {
		row.ID = uuid.NewString()
	}
	row.CreatedAt = m.now()
	m.activities[row.UserID] = append(m.activities[row.UserID], row)
	return &row, nil
}

func (m *Memory) DeleteActivity(_ context.Context, userID, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := m.activities[userID]
	for i := range list {
		if list[i].ID == id {
			m.activities[userID] = append(list[:i:i], list[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("activity: %w", ErrNotFound)
}

func (m *Memory) ActivitiesSince(_ context.Context, since time.Time) ([]schema.ActivityLog, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var list []schema.ActivityLog
	for _, acts := range m.activities {
		for _, a := range acts {
			if !a.OccurredAt.Before(since) {
				list = append(list, a)
			}
		}
	}
	sort.Slice(list, func(i, j int) bool { return list[i].OccurredAt.Before(list[j].OccurredAt) })
	return list, nil
}

// --- Reports ---

func (m *Memory) ListReports(_ context.Context, userID string, limit int) ([]schema.AIReport, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	src := m.reports[userID]
	list := make([]schema.AIReport, 0, len(src))
	for i := len(src) - 1; i >= 0; i-- {
		list = append(list, src[i])
		if limit > 0 && len(list) == limit {
			break
		}
	}
	return list, nil
}

func (m *Memory) GetReport(_ context.Context, userID, id string) (*schema.AIReport, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, r := range m.reports[userID] {
		if r.ID == id {
			return &r, nil
		}
	}
	return nil, fmt.Errorf("report: %w", ErrNotFound)
}

func (m *Memory) InsertReport(_ context.Context, r *schema.AIReport) (*schema.AIReport, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	row := *r
	if row.ID == "" {
		row.ID = uuid.NewString()
	}
	row.CreatedAt = m.now()
	m.reports[row.UserID] = append(m.reports[row.UserID], row)
	return &row, nil
}

// --- Subscriptions ---

func (m *Memory) GetSubscription(_ context.Context, userID string) (*schema.Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.subscriptions[userID]
	if !ok {
		return nil, fmt.Errorf("subscription: %w", ErrNotFound)
	}
	return &s, nil
}

func (m *Memory) FindSubscriptionByCustomer(_ context.Context, customerID string) (*schema.Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, s := range m.subscriptions {
		if customerID != "" && s.StripeCustomerID == customerID {
			return &s, nil
		}
	}
	return nil, fmt.Errorf("subscription: %w", ErrNotFound)
}

func (m *Memory) UpsertSubscription(_ context.Context, s *schema.Subscription) (*schema.Subscription, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	row := *s
	row.UpdatedAt = m.now()
	m.subscriptions[row.UserID] = row
	return &row, nil
}

// --- Sessions ---

func (m *Memory) ListSessions(_ context.Context, userID string, limit int) ([]schema.RecoverySession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	list := append([]schema.RecoverySession(nil), m.sessions[userID]...)
	sort.SliceStable(list, func(i, j int) bool { return list[i].OpenedAt.After(list[j].OpenedAt) })
	if limit > 0 && len(list) > limit {
		list = list[:limit]
	}
	return list, nil
}

func (m *Memory) InsertSession(_ context.Context, s *schema.RecoverySession) (*schema.RecoverySession, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if s.Status == schema.SessionOpen {
		for _, cur := range m.sessions[s.UserID] {
			if cur.Status == schema.SessionOpen {
				return nil, fmt.Errorf("open session: %w", ErrConflict)
			}
		}
	}
	row := *s
	if row.ID == "" {
		row.ID = uuid.NewString()
	}
	m.sessions[row.UserID] = append(m.sessions[row.UserID], row)
	return &row, nil
}

func (m *Memory) UpdateOpenSession(_ context.Context, s *schema.RecoverySession) (*schema.RecoverySession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := m.sessions[s.UserID]
	for i := range list {
		if list[i].ID != s.ID || list[i].Status != schema.SessionOpen {
			continue
		}
		list[i].Status = s.Status
		list[i].ResolvedAt = s.ResolvedAt
		list[i].LastNudgedAt = s.LastNudgedAt
		list[i].NudgeCount = s.NudgeCount
		row := list[i]
		return &row, nil
	}
	return nil, fmt.Errorf("open session: %w", ErrNotFound)
}

func (m *Memory) SessionsSince(_ context.Context, since time.Time) ([]schema.RecoverySession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var list []schema.RecoverySession
	for _, ss := range m.sessions {
		for _, s := range ss {
			if !s.OpenedAt.Before(since) {
				list = append(list, s)
			}
		}
	}
	sort.Slice(list, func(i, j int) bool { return list[i].OpenedAt.Before(list[j].OpenedAt) })
	return list, nil
}

// --- Usage ---

func (m *Memory) InsertUsage(_ context.Context, e *schema.UsageEvent) error {
	if err := e.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	row := *e
	if row.ID == "" {
		row.ID = uuid.NewString()
	}
	if row.CreatedAt.IsZero() {
		row.CreatedAt = m.now()
	}
	m.usage[row.UserID] = append(m.usage[row.UserID], row)
	return nil
}

func (m *Memory) CountUsage(_ context.Context, userID string, kind schema.UsageKind, since time.Time) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, e := range m.usage[userID] {
		if e.Event == kind && !e.CreatedAt.Before(since) {
			n++
		}
	}
	return n, nil
}

// Usage returns a copy of a user's usage events, oldest first.
func (m *Memory) Usage(userID string) []schema.UsageEvent {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]schema.UsageEvent(nil), m.usage[userID]...)
}

var _ Store = (*Memory)(nil)
