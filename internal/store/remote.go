package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/celerix-dev/tether/pkg/postgrest"
	"github.com/celerix-dev/tether/pkg/schema"
	"github.com/google/uuid"
)

const pageSize = 1000

func newHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			DialContext:         (&net.Dialer{Timeout: 5 * time.Second, KeepAlive: 60 * time.Second}).DialContext,
			MaxIdleConnsPerHost: 32,
			IdleConnTimeout:     90 * time.Second,
		},
	}
}

// Remote is the PostgREST-backed Store.
type Remote struct {
	db *postgrest.Client
}

func NewRemote(db *postgrest.Client) *Remote {
	return &Remote{db: db}
}

func (r *Remote) Ping(ctx context.Context) error {
	return r.db.Ping(ctx)
}

func translate(err error) error {
	if postgrest.IsConflict(err) {
		return fmt.Errorf("%w: %v", ErrConflict, err)
	}
	return err
}

func first[T any](rows []T, what string) (*T, error) {
	if len(rows) == 0 {
		return nil, fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	return &rows[0], nil
}

// fetchAll pages through a query. build must apply a stable order.
func fetchAll[T any](ctx context.Context, build func() *postgrest.Query) ([]T, error) {
	var all []T
	for offset := 0; ; offset += pageSize {
		var page []T
		if err := build().Limit(pageSize).Offset(offset).Get(ctx, &page); err != nil {
			return nil, err
		}
		all = append(all, page...)
		if len(page) < pageSize {
			return all, nil
		}
	}
}

// --- Profiles ---

func (r *Remote) GetProfile(ctx context.Context, userID string) (*schema.Profile, error) {
	var rows []schema.Profile
	if err := r.db.From(schema.TableProfiles).Select("*").Eq("id", userID).Limit(1).Get(ctx, &rows); err != nil {
		return nil, err
	}
	return first(rows, "profile")
}

func (r *Remote) CreateProfile(ctx context.Context, p *schema.Profile) (*schema.Profile, error) {
	now := time.Now().UTC()
	row := *p
	if row.CreatedAt.IsZero() {
		row.CreatedAt = now
	}
	row.UpdatedAt = now
	var out []schema.Profile
	if err := r.db.From(schema.TableProfiles).Insert(ctx, row, &out); err != nil {
		return nil, translate(err)
	}
	return first(out, "profile")
}

func (r *Remote) UpdateProfile(ctx context.Context, userID string, patch schema.ProfilePatch) (*schema.Profile, error) {
	b, err := json.Marshal(patch)
	if err != nil {
		return nil, err
	}
	var body map[string]any
	if err := json.Unmarshal(b, &body); err != nil {
		return nil, err
	}
	body["updated_at"] = time.Now().UTC()

	var out []schema.Profile
	if err := r.db.From(schema.TableProfiles).Eq("id", userID).Update(ctx, body, &out); err != nil {
		return nil, err
	}
	return first(out, "profile")
}

func (r *Remote) TouchEngaged(ctx context.Context, userID string, at time.Time) error {
	body := map[string]any{"last_engaged_at": at.UTC(), "updated_at": time.Now().UTC()}
	var out []schema.Profile
	if err := r.db.From(schema.TableProfiles).Eq("id", userID).Update(ctx, body, &out); err != nil {
		return err
	}
	_, err := first(out, "profile")
	return err
}

func (r *Remote) ListProfiles(ctx context.Context, f ProfileFilter) ([]schema.Profile, error) {
	return fetchAll[schema.Profile](ctx, func() *postgrest.Query {
		q := r.db.From(schema.TableProfiles).Select("*").Order("created_at", true).Order("id", true)
		if !f.CreatedSince.IsZero() {
			q.Gte("created_at", f.CreatedSince)
		}
		if f.EngagedOnly {
			q.NotNull("last_engaged_at")
		}
		return q
	})
}

// --- Activities ---

func (r *Remote) ListActivities(ctx context.Context, userID string, f ActivityFilter) ([]schema.ActivityLog, error) {
	q := r.db.From(schema.TableActivityLogs).Select("*").Eq("user_id", userID)
	if !f.From.IsZero() {
		q.Gte("occurred_at", f.From)
	}
	if !f.To.IsZero() {
		q.Lt("occurred_at", f.To)
	}
	q.Order("occurred_at", false)
	if f.Limit > 0 {
		q.Limit(f.Limit)
	}
	var rows []schema.ActivityLog
	if err := q.Get(ctx, &rows); err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *Remote) InsertActivity(ctx context.Context, a *schema.ActivityLog) (*schema.ActivityLog, error) {
	if err := a.Validate(); err != nil {
		return nil, err
	}
	row := *a
	if row.ID == "" {
		row.ID = uuid.NewString()
	}
	row.CreatedAt = time.Now().UTC()
	var out []schema.ActivityLog
	if err := r.db.From(schema.TableActivityLogs).Insert(ctx, row, &out); err != nil {
		return nil, translate(err)
	}
	return first(out, "activity")
}

func (r *Remote) DeleteActivity(ctx context.Context, userID, id string) error {
	var out []schema.ActivityLog
	if err := r.db.From(schema.TableActivityLogs).Eq("id", id).Eq("user_id", userID).Delete(ctx, &out); err != nil {
		return err
	}
	_, err := first(out, "activity")
	return err
}

func (r *Remote) ActivitiesSince(ctx context.Context, since time.Time) ([]schema.ActivityLog, error) {
	return fetchAll[schema.ActivityLog](ctx, func() *postgrest.Query {
		return r.db.From(schema.TableActivityLogs).
			Select("id,user_id,kind,occurred_at").
			Gte("occurred_at", since).
			Order("occurred_at", true).Order("id", true)
	})
}

// --- Reports ---

func (r *Remote) ListReports(ctx context.Context, userID string, limit int) ([]schema.AIReport, error) {
	var rows []schema.AIReport
	err := r.db.From(schema.TableAIReports).Select("*").Eq("user_id", userID).
		Order("created_at", false).Limit(limit).Get(ctx, &rows)
	return rows, err
}

func (r *Remote) GetReport(ctx context.Context, userID, id string) (*schema.AIReport, error) {
	var rows []schema.AIReport
	if err := r.db.From(schema.TableAIReports).Select("*").Eq("id", id).Eq("user_id", userID).Limit(1).Get(ctx, &rows); err != nil {
		return nil, err
	}
	return first(rows, "report")
}

func (r *Remote) InsertReport(ctx context.Context, rep *schema.AIReport) (*schema.AIReport, error) {
	if err := rep.Validate(); err != nil {
		return nil, err
	}
	row := *rep
	if row.ID == "" {
		row.ID = uuid.NewString()
	}
	row.CreatedAt = time.Now().UTC()
	var out []schema.AIReport
	if err := r.db.From(schema.TableAIReports).Insert(ctx, row, &out); err != nil {
		return nil, translate(err)
	}
	return first(out, "report")
}

// --- Subscriptions ---

func (r *Remote) GetSubscription(ctx context.Context, userID string) (*schema.Subscription, error) {
	var rows []schema.Subscription
	if err := r.db.From(schema.TableSubscriptions).Select("*").Eq("user_id", userID).Limit(1).Get(ctx, &rows); err != nil {
		return nil, err
	}
	return first(rows, "subscription")
}

func (r *Remote) FindSubscriptionByCustomer(ctx context.Context, customerID string) (*schema.Subscription, error) {
	var rows []schema.Subscription
	if err := r.db.From(schema.TableSubscriptions).Select("*").Eq("stripe_customer_id", customerID).Limit(1).Get(ctx, &rows); err != nil {
		return nil, err
	}
	return first(rows, "subscription")
}

func (r *Remote) UpsertSubscription(ctx context.Context, s *schema.Subscription) (*schema.Subscription, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	row := *s
	row.UpdatedAt = time.Now().UTC()
	var out []schema.Subscription
	if err := r.db.From(schema.TableSubscriptions).Upsert(ctx, "user_id", row, &out); err != nil {
		return nil, err
	}
	return first(out, "subscription")
}

// --- Sessions ---

func (r *Remote) ListSessions(ctx context.Context, userID string, limit int) ([]schema.RecoverySession, error) {
	q := r.db.From(schema.TableRecoverySessions).Select("*").Eq("user_id", userID).Order("opened_at", false)
	if limit > 0 {
		q.Limit(limit)
	}
	var rows []schema.RecoverySession
	err := q.Get(ctx, &rows)
	return rows, err
}

func (r *Remote) InsertSession(ctx context.Context, s *schema.RecoverySession) (*schema.RecoverySession, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	row := *s
	if row.ID == "" {
		row.ID = uuid.NewString()
	}
	var out []schema.RecoverySession
	if err := r.db.From(schema.TableRecoverySessions).Insert(ctx, row, &out); err != nil {
		// a partial unique index on (user_id) where status = 'open' reports 23505
		return nil, translate(err)
	}
	return first(out, "session")
}

func (r *Remote) UpdateOpenSession(ctx context.Context, s *schema.RecoverySession) (*schema.RecoverySession, error) {
	body := map[string]any{
		"status":         s.Status,
		"resolved_at":    s.ResolvedAt,
		"last_nudged_at": s.LastNudgedAt,
		"nudge_count":    s.NudgeCount,
	}
	var out []schema.RecoverySession
	err := r.db.From(schema.TableRecoverySessions).
		Eq("id", s.ID).Eq("user_id", s.UserID).Eq("status", schema.SessionOpen).
		Update(ctx, body, &out)
	if err != nil {
		return nil, err
	}
	return first(out, "open session")
}

func (r *Remote) SessionsSince(ctx context.Context, since time.Time) ([]schema.RecoverySession, error) {
	return fetchAll[schema.RecoverySession](ctx, func() *postgrest.Query {
		return r.db.From(schema.TableRecoverySessions).Select("*").
			Gte("opened_at", since).
			Order("opened_at", true).Order("id", true)
	})
}

// --- Usage ---

func (r *Remote) InsertUsage(ctx context.Context, e *schema.UsageEvent) error {
	if err := e.Validate(); err != nil {
		return err
	}
	row := *e
	if row.ID == "" {
		row.ID = uuid.NewString()
	}
	if row.CreatedAt.IsZero() {
		row.CreatedAt = time.Now().UTC()
	}
	return r.db.From(schema.TableUsageEvents).Insert(ctx, row, nil)
}

func (r *Remote) CountUsage(ctx context.Context, userID string, kind schema.UsageKind, since time.Time) (int, error) {
	n, err := r.db.From(schema.TableUsageEvents).
		Eq("user_id", userID).Eq("event", kind).Gte("created_at", since).
		Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("count %s: %w", kind, err)
	}
	return n, nil
}

var _ Store = (*Remote)(nil)

// IsNotFound reports whether err means the row is missing.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }
