package recovery

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/celerix-dev/tether/internal/apperr"
	"github.com/celerix-dev/tether/internal/config"
	"github.com/celerix-dev/tether/internal/log"
	"github.com/celerix-dev/tether/internal/metrics"
	"github.com/celerix-dev/tether/internal/store"
	"github.com/celerix-dev/tether/pkg/postgrest"
	"github.com/celerix-dev/tether/pkg/schema"
	"github.com/rs/zerolog"
)

// sessionWindow is how many recent sessions are read per user. The open session
// and the newest lapse session are always among them.
const sessionWindow = 20

// User-facing states returned by Status.
const (
	StateNew        = "new"
	StateEngaged    = "engaged"
	StateInRecovery = "in_recovery"
)

// Store is what the recovery service needs from the data layer.
type Store interface {
	store.ProfileStore
	store.SessionStore
	store.UsageStore
}

// Policy holds the process-wide thresholds.
type Policy struct {
	DefaultThresholdHours int
	Cooldown              time.Duration
	NudgeInterval         time.Duration
	MaxNudges             int
	SessionExpiry         time.Duration
}

// PolicyFromConfig converts the config section into a Policy.
func PolicyFromConfig(c config.RecoveryConfig) Policy {
	return Policy{
		DefaultThresholdHours: c.LapseThresholdHours,
		Cooldown:              c.LapseCooldown,
		NudgeInterval:         c.NudgeInterval,
		MaxNudges:             c.NudgeMax,
		SessionExpiry:         time.Duration(c.SessionExpiryDays) * 24 * time.Hour,
	}
}

// Service applies lapse and nudge decisions against the store.
type Service struct {
	store  Store
	policy Policy
	logger zerolog.Logger
	now    func() time.Time
}

func NewService(st Store, p Policy) *Service {
	return &Service{
		store:  st,
		policy: p,
		logger: log.WithComponent("recovery"),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// SetClock replaces the time source.
func (s *Service) SetClock(now func() time.Time) { s.now = now }

// Status is the recovery view returned to the frontend.
type Status struct {
	State          string                  `json:"state"`
	LastEngagedAt  *time.Time              `json:"last_engaged_at"`
	HoursInactive  float64                 `json:"hours_inactive"`
	ThresholdHours int                     `json:"threshold_hours"`
	LapseReason    string                  `json:"lapse_reason"`
	Session        *schema.RecoverySession `json:"session"`
	Nudge          *NudgeDecision          `json:"nudge,omitempty"`
}

// Profile returns the user's profile, creating a default row the first time a
// user is seen without one.
func (s *Service) Profile(ctx context.Context, userID string) (*schema.Profile, error) {
	p, err := s.store.GetProfile(ctx, userID)
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}
	p, err = s.store.CreateProfile(ctx, &schema.Profile{ID: userID, Timezone: "UTC", NudgesEnabled: true})
	if errors.Is(err, store.ErrConflict) {
		return s.store.GetProfile(ctx, userID)
	}
	return p, err
}

// Status runs lapse detection for one user and reports where they stand.
func (s *Service) Status(ctx context.Context, userID string) (*Status, error) {
	now := s.now()
	prof, err := s.Profile(ctx, userID)
	if err != nil {
		return nil, err
	}
	sessions, err := s.store.ListSessions(ctx, userID, sessionWindow)
	if err != nil {
		return nil, err
	}

	open, d, err := s.detect(ctx, prof, sessions, now)
	if err != nil {
		return nil, err
	}

	st := &Status{
		State:          StateEngaged,
		LastEngagedAt:  prof.LastEngagedAt,
		HoursInactive:  d.HoursInactive,
		ThresholdHours: d.ThresholdHours,
		LapseReason:    d.Reason,
		Session:        open,
	}
	switch {
	case open != nil:
		st.State = StateInRecovery
		n := DecideNudge(s.nudgeInput(prof, open, now))
		st.Nudge = &n
	case prof.LastEngagedAt == nil:
		st.State = StateNew
	}
	return st, nil
}

// detect finds the open session and opens an auto_lapse one when the decision
// says so. It returns the session that is open afterwards, if any.
func (s *Service) detect(ctx context.Context, prof *schema.Profile, sessions []schema.RecoverySession, now time.Time) (*schema.RecoverySession, LapseDecision, error) {
	open, lastLapse := scan(sessions)
	in := LapseInput{
		Now:            now,
		LastEngagedAt:  prof.LastEngagedAt,
		HasOpenSession: open != nil,
		ThresholdHours: prof.LapseThresholdHours,
		DefaultHours:   s.policy.DefaultThresholdHours,
		Cooldown:       s.policy.Cooldown,
	}
	if lastLapse != nil {
		in.LastLapseOpenedAt = &lastLapse.OpenedAt
	}
	d := DecideAutoLapse(in)
	if !d.Create {
		return open, d, nil
	}

	created, err := s.store.InsertSession(ctx, &schema.RecoverySession{
		UserID:   prof.ID,
		Trigger:  schema.TriggerAutoLapse,
		Status:   schema.SessionOpen,
		OpenedAt: now,
	})
	if errors.Is(err, store.ErrConflict) {
		// another request opened one first
		fresh, lerr := s.store.ListSessions(ctx, prof.ID, sessionWindow)
		if lerr != nil {
			return nil, d, lerr
		}
		open, _ = scan(fresh)
		d.Create = false
		d.Reason = ReasonSessionOpen
		return open, d, nil
	}
	if err != nil {
		return nil, d, fmt.Errorf("open lapse session: %w", err)
	}

	metrics.LapsesDetected.Inc()
	if err := s.store.InsertUsage(ctx, &schema.UsageEvent{
		UserID:    prof.ID,
		Event:     schema.EventLapseDetected,
		Meta:      map[string]any{"session_id": created.ID, "hours_inactive": d.HoursInactive},
		CreatedAt: now,
	}); err != nil {
		s.logger.Warn().Err(err).Str("user_id", prof.ID).Msg("record lapse_detected failed")
	}
	s.logger.Info().Str("user_id", prof.ID).Float64("hours_inactive", d.HoursInactive).Msg("lapse detected")
	return created, d, nil
}

// scan returns the open session and the newest auto_lapse session from a
// newest-first list.
func scan(sessions []schema.RecoverySession) (open, lastLapse *schema.RecoverySession) {
	for i := range sessions {
		ss := &sessions[i]
		if open == nil && ss.IsOpen() {
			open = ss
		}
		if lastLapse == nil && ss.Trigger == schema.TriggerAutoLapse {
			lastLapse = ss
		}
	}
	return open, lastLapse
}

func (s *Service) nudgeInput(prof *schema.Profile, open *schema.RecoverySession, now time.Time) NudgeInput {
	return NudgeInput{
		Now:           now,
		Session:       open,
		NudgesEnabled: prof.NudgesEnabled,
		MaxNudges:     s.policy.MaxNudges,
		MinInterval:   s.policy.NudgeInterval,
		Quiet:         ParseQuietHours(prof.Timezone, prof.QuietHoursStart, prof.QuietHoursEnd),
	}
}

// StartSession opens a manual session. Only one session may be open at a time.
func (s *Service) StartSession(ctx context.Context, userID string) (*schema.RecoverySession, error) {
	sessions, err := s.store.ListSessions(ctx, userID, sessionWindow)
	if err != nil {
		return nil, err
	}
	if open, _ := scan(sessions); open != nil {
		return nil, apperr.Conflict("session_open", "a recovery session is already open")
	}
	created, err := s.store.InsertSession(ctx, &schema.RecoverySession{
		UserID:   userID,
		Trigger:  schema.TriggerManual,
		Status:   schema.SessionOpen,
		OpenedAt: s.now(),
	})
	if errors.Is(err, store.ErrConflict) {
		return nil, apperr.Conflict("session_open", "a recovery session is already open")
	}
	return created, err
}

// Resolve closes the user's open session with the given id.
func (s *Service) Resolve(ctx context.Context, userID, sessionID string) (*schema.RecoverySession, error) {
	sessions, err := s.store.ListSessions(ctx, userID, sessionWindow)
	if err != nil {
		return nil, err
	}
	for i := range sessions {
		if sessions[i].ID != sessionID {
			continue
		}
		if !sessions[i].IsOpen() {
			return nil, apperr.Conflict("session_closed", "recovery session is not open")
		}
		return s.close(ctx, &sessions[i], schema.SessionResolved)
	}
	return nil, apperr.NotFound("recovery session")
}

func (s *Service) close(ctx context.Context, open *schema.RecoverySession, status schema.SessionStatus) (*schema.RecoverySession, error) {
	row := *open
	row.Status = status
	if status == schema.SessionResolved {
		at := s.now()
		row.ResolvedAt = &at
	}
	if err := row.Validate(); err != nil {
		return nil, err
	}
	updated, err := s.store.UpdateOpenSession(ctx, &row)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.Conflict("session_closed", "recovery session is not open")
	}
	return updated, err
}

// MarkEngaged records engagement after an activity was logged. Check-ins and
// reflections also resolve the open session. It returns the resolved session,
// if one was closed.
func (s *Service) MarkEngaged(ctx context.Context, userID string, kind schema.ActivityKind) (*schema.RecoverySession, error) {
	if _, err := s.Profile(ctx, userID); err != nil {
		return nil, err
	}
	if err := s.store.TouchEngaged(ctx, userID, s.now()); err != nil {
		return nil, fmt.Errorf("touch engaged: %w", err)
	}
	if !kind.Resolves() {
		return nil, nil
	}
	sessions, err := s.store.ListSessions(ctx, userID, sessionWindow)
	if err != nil {
		return nil, err
	}
	open, _ := scan(sessions)
	if open == nil {
		return nil, nil
	}
	resolved, err := s.close(ctx, open, schema.SessionResolved)
	var ae *apperr.Error
	if errors.As(err, &ae) && ae.Status == http.StatusConflict {
		// closed concurrently, nothing left to resolve
		return nil, nil
	}
	return resolved, err
}

// SweepResult counts what a sweep did.
type SweepResult struct {
	StartedAt       time.Time      `json:"started_at"`
	DurationMS      int64          `json:"duration_ms"`
	Profiles        int            `json:"profiles"`
	LapsesCreated   int            `json:"lapses_created"`
	NudgesSent      int            `json:"nudges_sent"`
	SessionsExpired int            `json:"sessions_expired"`
	Skipped         map[string]int `json:"skipped"`
	Errors          int            `json:"errors"`
}

// Sweep runs expiry, lapse detection and nudging over every profile with the
// service role. Per-user failures are counted and logged; the sweep carries on.
func (s *Service) Sweep(ctx context.Context, now time.Time) (*SweepResult, error) {
	ctx = postgrest.AsService(ctx)
	started := time.Now()
	res := &SweepResult{StartedAt: now, Skipped: map[string]int{}}
	defer func() { res.DurationMS = time.Since(started).Milliseconds() }()

	profiles, err := s.store.ListProfiles(ctx, store.ProfileFilter{})
	if err != nil {
		return nil, fmt.Errorf("list profiles: %w", err)
	}
	for i := range profiles {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		res.Profiles++
		if err := s.sweepOne(ctx, &profiles[i], now, res); err != nil {
			res.Errors++
			s.logger.Error().Err(err).Str("user_id", profiles[i].ID).Msg("sweep user failed")
		}
	}
	s.logger.Info().
		Int("profiles", res.Profiles).
		Int("lapses", res.LapsesCreated).
		Int("nudges", res.NudgesSent).
		Int("expired", res.SessionsExpired).
		Int("errors", res.Errors).
		Msg("sweep finished")
	return res, nil
}

func (s *Service) sweepOne(ctx context.Context, prof *schema.Profile, now time.Time, res *SweepResult) error {
	sessions, err := s.store.ListSessions(ctx, prof.ID, sessionWindow)
	if err != nil {
		return err
	}

	if open, _ := scan(sessions); open != nil && s.policy.SessionExpiry > 0 && now.Sub(open.OpenedAt) > s.policy.SessionExpiry {
		if _, err := s.close(ctx, open, schema.SessionExpired); err != nil {
			return fmt.Errorf("expire session: %w", err)
		}
		open.Status = schema.SessionExpired
		res.SessionsExpired++
	}

	open, d, err := s.detect(ctx, prof, sessions, now)
	if err != nil {
		return err
	}
	if d.Create {
		res.LapsesCreated++
	}
	if open == nil {
		return nil
	}

	n := DecideNudge(s.nudgeInput(prof, open, now))
	if !n.Send {
		res.Skipped[n.Reason]++
		return nil
	}
	return s.nudge(ctx, open, now, res)
}

func (s *Service) nudge(ctx context.Context, open *schema.RecoverySession, now time.Time, res *SweepResult) error {
	msg := NudgeMessage(open.NudgeCount)
	row := *open
	row.NudgeCount++
	row.LastNudgedAt = &now
	if err := row.Validate(); err != nil {
		return fmt.Errorf("record nudge: %w", err)
	}
	if _, err := s.store.UpdateOpenSession(ctx, &row); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			res.Skipped[ReasonNoSession]++
			return nil
		}
		return fmt.Errorf("record nudge: %w", err)
	}
	if err := s.store.InsertUsage(ctx, &schema.UsageEvent{
		UserID:    row.UserID,
		Event:     schema.EventNudgeSent,
		Meta:      map[string]any{"session_id": row.ID, "nudge_number": row.NudgeCount, "message": msg},
		CreatedAt: now,
	}); err != nil {
		return fmt.Errorf("record nudge_sent: %w", err)
	}
	metrics.NudgesSent.Inc()
	res.NudgesSent++
	return nil
}
