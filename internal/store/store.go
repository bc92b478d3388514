// Package store is the data access layer. The production implementation talks
// to PostgREST; the in-memory one backs --dev mode and handler tests.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/celerix-dev/tether/internal/config"
	"github.com/celerix-dev/tether/internal/log"
	"github.com/celerix-dev/tether/pkg/postgrest"
	"github.com/celerix-dev/tether/pkg/schema"
)

var (
	// ErrNotFound is returned when a row does not exist or is not visible to the caller.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when a write collides with an existing row.
	ErrConflict = errors.New("conflict")
)

// ActivityFilter bounds a user's activity listing. Zero values are open.
type ActivityFilter struct {
	From  time.Time
	To    time.Time
	Limit int
}

// ProfileFilter selects profiles for service-role scans.
type ProfileFilter struct {
	CreatedSince time.Time
	EngagedOnly  bool
}

// --- Functional interfaces ---

type ProfileStore interface {
	GetProfile(ctx context.Context, userID string) (*schema.Profile, error)
	CreateProfile(ctx context.Context, p *schema.Profile) (*schema.Profile, error)
	UpdateProfile(ctx context.Context, userID string, patch schema.ProfilePatch) (*schema.Profile, error)
	TouchEngaged(ctx context.Context, userID string, at time.Time) error
	ListProfiles(ctx context.Context, f ProfileFilter) ([]schema.Profile, error)
}

type ActivityStore interface {
	ListActivities(ctx context.Context, userID string, f ActivityFilter) ([]schema.ActivityLog, error)
	InsertActivity(ctx context.Context, a *schema.ActivityLog) (*schema.ActivityLog, error)
	DeleteActivity(ctx context.Context, userID, id string) error
	// ActivitiesSince returns every user's activity at or after since.
	ActivitiesSince(ctx context.Context, since time.Time) ([]schema.ActivityLog, error)
}

type ReportStore interface {
	ListReports(ctx context.Context, userID string, limit int) ([]schema.AIReport, error)
	GetReport(ctx context.Context, userID, id string) (*schema.AIReport, error)
	InsertReport(ctx context.Context, r *schema.AIReport) (*schema.AIReport, error)
}

type SubscriptionStore interface {
	GetSubscription(ctx context.Context, userID string) (*schema.Subscription, error)
	FindSubscriptionByCustomer(ctx context.Context, customerID string) (*schema.Subscription, error)
	UpsertSubscription(ctx context.Context, s *schema.Subscription) (*schema.Subscription, error)
}

type SessionStore interface {
	// ListSessions returns a user's sessions, newest first.
	ListSessions(ctx context.Context, userID string, limit int) ([]schema.RecoverySession, error)
	InsertSession(ctx context.Context, s *schema.RecoverySession) (*schema.RecoverySession, error)
	// UpdateOpenSession writes the mutable fields of s, but only while the stored
	// row is still open. A session that was closed concurrently yields ErrNotFound.
	UpdateOpenSession(ctx context.Context, s *schema.RecoverySession) (*schema.RecoverySession, error)
	// SessionsSince returns every user's sessions opened at or after since.
	SessionsSince(ctx context.Context, since time.Time) ([]schema.RecoverySession, error)
}

type UsageStore interface {
	InsertUsage(ctx context.Context, e *schema.UsageEvent) error
	CountUsage(ctx context.Context, userID string, kind schema.UsageKind, since time.Time) (int, error)
}

// --- Composite ---

// Store combines all functional interfaces.
type Store interface {
	ProfileStore
	ActivityStore
	ReportStore
	SubscriptionStore
	SessionStore
	UsageStore

	Ping(ctx context.Context) error
}

// New returns the PostgREST-backed store, or the in-memory one in dev mode when
// no database is configured.
func New(cfg *config.Config) Store {
	if cfg.Supabase.URL != "" {
		c := postgrest.New(cfg.Supabase.URL, cfg.Supabase.AnonKey, cfg.Supabase.ServiceRoleKey,
			postgrest.WithHTTPClient(newHTTPClient(cfg.Supabase.Timeout)))
		return NewRemote(c)
	}
	logger := log.WithComponent("store")
	logger.Warn().Msg("SUPABASE_URL not set; using in-memory store (dev mode, data is lost on restart)")
	return NewMemory()
}
