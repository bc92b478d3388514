// Package reports generates AI summaries of a user's recent activity and
// enforces the monthly report quota.
package reports

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/celerix-dev/tether/internal/apperr"
	"github.com/celerix-dev/tether/internal/config"
	"github.com/celerix-dev/tether/internal/llm"
	"github.com/celerix-dev/tether/internal/log"
	"github.com/celerix-dev/tether/internal/metrics"
	"github.com/celerix-dev/tether/internal/store"
	"github.com/celerix-dev/tether/pkg/schema"
	"github.com/rs/zerolog"
)

const (
	MaxPeriodDays = 31

	maxActivities   = 500
	maxNoteInPrompt = 280
	maxOutputTokens = 800
)

// Store is what report generation reads and writes.
type Store interface {
	store.ActivityStore
	store.ReportStore
	store.SubscriptionStore
	store.UsageStore
}

// Completer is the LLM call used to write the report.
type Completer interface {
	Configured() bool
	Complete(ctx context.Context, req llm.Request) (*llm.Result, error)
}

// Quota describes a user's report allowance for the current UTC month.
type Quota struct {
	Plan     schema.Plan `json:"plan"`
	Used     int         `json:"used"`
	Limit    int         `json:"limit"`
	ResetsAt time.Time   `json:"resets_at"`
}

// Remaining never goes below zero.
func (q Quota) Remaining() int {
	if q.Used >= q.Limit {
		return 0
	}
	return q.Limit - q.Used
}

type Service struct {
	store  Store
	llm    Completer
	cfg    config.ReportsConfig
	logger zerolog.Logger
	now    func() time.Time
}

func NewService(st Store, c Completer, cfg config.ReportsConfig) *Service {
	return &Service{
		store:  st,
		llm:    c,
		cfg:    cfg,
		logger: log.WithComponent("reports"),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func monthStart(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}

// Quota counts report_generated events since the start of the month.
func (s *Service) Quota(ctx context.Context, userID string) (*Quota, error) {
	now := s.now()
	sub, err := s.store.GetSubscription(ctx, userID)
	if err != nil && !store.IsNotFound(err) {
		return nil, err
	}
	q := &Quota{Plan: sub.PlanAt(now), Limit: s.cfg.FreePerMonth}
	if q.Plan == schema.PlanPremium {
		q.Limit = s.cfg.PremiumPerMonth
	}
	start := monthStart(now)
	q.ResetsAt = start.AddDate(0, 1, 0)
	q.Used, err = s.store.CountUsage(ctx, userID, schema.EventReportGenerated, start)
	if err != nil {
		return nil, err
	}
	return q, nil
}

// Generate checks the quota, summarizes the last periodDays of activity and
// stores the report. periodDays of 0 means the configured default.
func (s *Service) Generate(ctx context.Context, userID string, periodDays int) (*schema.AIReport, error) {
	if periodDays == 0 {
		periodDays = s.cfg.DefaultPeriodDays
	}
	if periodDays < 1 || periodDays > MaxPeriodDays {
		return nil, apperr.BadRequest(fmt.Sprintf("period_days must be between 1 and %d", MaxPeriodDays))
	}
	if s.llm == nil || !s.llm.Configured() {
		return nil, apperr.New(http.StatusServiceUnavailable, "reports_disabled", "report generation is not configured")
	}

	q, err := s.Quota(ctx, userID)
	if err != nil {
		return nil, err
	}
	if q.Used >= q.Limit {
		return nil, apperr.New(http.StatusPaymentRequired, "quota_exceeded",
			fmt.Sprintf("monthly report limit of %d reached for the %s plan", q.Limit, q.Plan))
	}

	end := s.now()
	start := end.AddDate(0, 0, -periodDays)
	acts, err := s.store.ListActivities(ctx, userID, store.ActivityFilter{From: start, To: end, Limit: maxActivities})
	if err != nil {
		return nil, err
	}
	if len(acts) == 0 {
		return nil, apperr.New(http.StatusUnprocessableEntity, "no_activity", "no activity in the selected period")
	}

	res, err := s.llm.Complete(ctx, llm.Request{
		Instructions:    instructions,
		Input:           buildPrompt(acts, start, end),
		MaxOutputTokens: maxOutputTokens,
	})
	if err != nil {
		s.logger.Warn().Err(err).Str("user_id", userID).Str("upstream", "openai").Msg("report completion failed")
		return nil, llmErr(err)
	}

	out := parseOutput(res.Text)
	row := &schema.AIReport{
		UserID:       userID,
		PeriodStart:  start,
		PeriodEnd:    end,
		Summary:      out.Summary,
		Highlights:   out.Highlights,
		Suggestions:  out.Suggestions,
		Model:        res.Model,
		InputTokens:  res.InputTokens,
		OutputTokens: res.OutputTokens,
	}
	if err := row.Validate(); err != nil {
		return nil, apperr.Wrap(err, http.StatusBadGateway, "upstream_unavailable", "openai returned an unusable report")
	}
	report, err := s.store.InsertReport(ctx, row)
	if err != nil {
		return nil, fmt.Errorf("insert report: %w", err)
	}

	if err := s.store.InsertUsage(ctx, &schema.UsageEvent{
		UserID: userID,
		Event:  schema.EventReportGenerated,
		Meta:   map[string]any{"report_id": report.ID, "plan": string(q.Plan), "period_days": periodDays},
	}); err != nil {
		// the report exists; a missing event only undercounts the quota
		s.logger.Error().Err(err).Str("user_id", userID).Str("report_id", report.ID).Msg("record report_generated failed")
	}
	metrics.ReportsGenerated.WithLabelValues(string(q.Plan)).Inc()
	return report, nil
}

func llmErr(err error) error {
	var se interface{ HTTPStatus() int }
	switch {
	case errors.As(err, &se):
		return apperr.Upstream("openai", se.HTTPStatus(), "")
	case errors.Is(err, llm.ErrEmptyOutput):
		return apperr.Wrap(err, http.StatusBadGateway, "upstream_unavailable", "openai returned no output")
	case errors.Is(err, context.Canceled):
		return err
	}
	return apperr.Unreachable("openai", err)
}

const instructions = `You are a supportive recovery companion writing a short weekly reflection for the user.
Be warm, specific and non-judgmental. Never give medical advice.
You must output valid JSON only. Never include markdown code fences.
Schema: {"summary": "string", "highlights": ["string"], "suggestions": ["string"]}
Use at most 3 highlights and 3 suggestions.`

func buildPrompt(acts []schema.ActivityLog, start, end time.Time) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Period: %s to %s (UTC)\n", start.Format("2006-01-02"), end.Format("2006-01-02"))
	fmt.Fprintf(&sb, "Entries (%d, newest first):\n", len(acts))
	for _, a := range acts {
		fmt.Fprintf(&sb, "- %s %s", a.OccurredAt.UTC().Format("2006-01-02 15:04"), a.Kind)
		if a.Mood != nil {
			fmt.Fprintf(&sb, " mood=%d/5", *a.Mood)
		}
		if note := truncate(strings.TrimSpace(a.Note), maxNoteInPrompt); note != "" {
			fmt.Fprintf(&sb, ": %s", note)
		}
		sb.WriteByte('\n')
	}
	return sb.String()
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "…"
}

type output struct {
	Summary     string   `json:"summary"`
	Highlights  []string `json:"highlights"`
	Suggestions []string `json:"suggestions"`
}

// parseOutput decodes the model's JSON. Text that is not the expected JSON is
// kept whole as the summary.
func parseOutput(text string) output {
	text = strings.TrimSpace(text)
	body := strings.TrimSpace(strings.TrimSuffix(strings.TrimPrefix(strings.TrimPrefix(text, "```json"), "```"), "```"))

	var out output
	if err := json.Unmarshal([]byte(body), &out); err != nil || strings.TrimSpace(out.Summary) == "" {
		return output{Summary: text, Highlights: []string{}, Suggestions: []string{}}
	}
	if out.Highlights == nil {
		out.Highlights = []string{}
	}
	if out.Suggestions == nil {
		out.Suggestions = []string{}
	}
	return out
}
