package reports

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/celerix-dev/tether/internal/apperr"
	"github.com/celerix-dev/tether/internal/config"
	"github.com/celerix-dev/tether/internal/llm"
	"github.com/celerix-dev/tether/internal/store"
	"github.com/celerix-dev/tether/pkg/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2026, 3, 20, 18, 0, 0, 0, time.UTC)

type fakeLLM struct {
	text  string
	err   error
	calls []llm.Request
	off   bool
}

func (f *fakeLLM) Configured() bool { return !f.off }

func (f *fakeLLM) Complete(_ context.Context, req llm.Request) (*llm.Result, error) {
	f.calls = append(f.calls, req)
	if f.err != nil {
		return nil, f.err
	}
	return &llm.Result{Text: f.text, Model: "gpt-test", InputTokens: 120, OutputTokens: 40}, nil
}

func newTestService(t *testing.T, f *fakeLLM) (*Service, *store.Memory) {
	t.Helper()
	mem := store.NewMemory()
	mem.SetClock(func() time.Time { return now })
	svc := NewService(mem, f, config.ReportsConfig{FreePerMonth: 2, PremiumPerMonth: 5, DefaultPeriodDays: 7})
	svc.now = func() time.Time { return now }
	return svc, mem
}

func logActivity(t *testing.T, mem *store.Memory, userID string, at time.Time, note string) {
	t.Helper()
	mood := 4
	_, err := mem.InsertActivity(context.Background(), &schema.ActivityLog{
		UserID: userID, Kind: schema.KindCheckIn, Mood: &mood, Note: note, OccurredAt: at,
	})
	require.NoError(t, err)
}

func code(err error) (int, string) {
	var ae *apperr.Error
	if errors.As(err, &ae) {
		return ae.Status, ae.Code
	}
	return 0, ""
}

func TestGenerate_StoresReportAndUsage(t *testing.T) {
	f := &fakeLLM{text: `{"summary":"A steady week.","highlights":["Checked in daily"],"suggestions":["Keep the evening walk"]}`}
	svc, mem := newTestService(t, f)
	logActivity(t, mem, "u1", now.Add(-48*time.Hour), "walked after dinner")
	logActivity(t, mem, "u1", now.Add(-10*24*time.Hour), "outside the period")

	r, err := svc.Generate(context.Background(), "u1", 0)
	require.NoError(t, err)
	assert.Equal(t, "A steady week.", r.Summary)
	assert.Equal(t, []string{"Checked in daily"}, r.Highlights)
	assert.Equal(t, "gpt-test", r.Model)
	assert.Equal(t, 120, r.InputTokens)
	assert.True(t, r.PeriodStart.Equal(now.AddDate(0, 0, -7)))

	require.Len(t, f.calls, 1)
	assert.Contains(t, f.calls[0].Input, "walked after dinner")
	assert.Contains(t, f.calls[0].Input, "mood=4/5")
	assert.NotContains(t, f.calls[0].Input, "outside the period")
	assert.Contains(t, f.calls[0].Instructions, "valid JSON only")

	stored, err := mem.GetReport(context.Background(), "u1", r.ID)
	require.NoError(t, err)
	assert.Equal(t, r.Summary, stored.Summary)

	usage := mem.Usage("u1")
	require.Len(t, usage, 1)
	assert.Equal(t, schema.EventReportGenerated, usage[0].Event)
	assert.Equal(t, r.ID, usage[0].Meta["report_id"])
}

func TestGenerate_QuotaExceeded(t *testing.T) {
	f := &fakeLLM{text: `{"summary":"ok"}`}
	svc, mem := newTestService(t, f)
	logActivity(t, mem, "u1", now.Add(-time.Hour), "")

	for i := 0; i < 2; i++ {
		_, err := svc.Generate(context.Background(), "u1", 7)
		require.NoError(t, err)
	}
	_, err := svc.Generate(context.Background(), "u1", 7)
	status, c := code(err)
	assert.Equal(t, http.StatusPaymentRequired, status)
	assert.Equal(t, "quota_exceeded", c)
	assert.Len(t, f.calls, 2, "the model is not called once the quota is spent")
}

func TestQuota_PremiumAndMonthBoundary(t *testing.T) {
	svc, mem := newTestService(t, &fakeLLM{})
	ctx := context.Background()

	// last month's reports do not count
	require.NoError(t, mem.InsertUsage(ctx, &schema.UsageEvent{UserID: "u1", Event: schema.EventReportGenerated,
		CreatedAt: time.Date(2026, 2, 28, 23, 59, 0, 0, time.UTC)}))
	require.NoError(t, mem.InsertUsage(ctx, &schema.UsageEvent{UserID: "u1", Event: schema.EventReportGenerated,
		CreatedAt: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)}))

	q, err := svc.Quota(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, schema.PlanFree, q.Plan)
	assert.Equal(t, 1, q.Used)
	assert.Equal(t, 2, q.Limit)
	assert.Equal(t, 1, q.Remaining())
	assert.Equal(t, time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC), q.ResetsAt)

	_, err = mem.UpsertSubscription(ctx, &schema.Subscription{UserID: "u1", Status: schema.StatusActive})
	require.NoError(t, err)
	q, err = svc.Quota(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, schema.PlanPremium, q.Plan)
	assert.Equal(t, 5, q.Limit)
}

func TestGenerate_Rejections(t *testing.T) {
	tests := []struct {
		name   string
		llm    *fakeLLM
		period int
		seed   bool
		status int
		code   string
	}{
		{"period too long", &fakeLLM{}, 32, true, http.StatusBadRequest, "invalid_request"},
		{"negative period", &fakeLLM{}, -1, true, http.StatusBadRequest, "invalid_request"},
		{"not configured", &fakeLLM{off: true}, 7, true, http.StatusServiceUnavailable, "reports_disabled"},
		{"no activity", &fakeLLM{}, 7, false, http.StatusUnprocessableEntity, "no_activity"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, mem := newTestService(t, tt.llm)
			if tt.seed {
				logActivity(t, mem, "u1", now.Add(-time.Hour), "")
			}
			_, err := svc.Generate(context.Background(), "u1", tt.period)
			status, c := code(err)
			assert.Equal(t, tt.status, status)
			assert.Equal(t, tt.code, c)
			assert.Empty(t, tt.llm.calls)
		})
	}
}

func TestGenerate_LLMFailureWritesNothing(t *testing.T) {
	f := &fakeLLM{err: &llm.APIError{Status: http.StatusServiceUnavailable, Message: "overloaded"}}
	svc, mem := newTestService(t, f)
	logActivity(t, mem, "u1", now.Add(-time.Hour), "")

	_, err := svc.Generate(context.Background(), "u1", 7)
	require.Error(t, err)
	reports, _ := mem.ListReports(context.Background(), "u1", 0)
	assert.Empty(t, reports)
	assert.Empty(t, mem.Usage("u1"))
}

func TestParseOutput(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		summary string
		hl      []string
	}{
		{"plain json", `{"summary":"s","highlights":["a","b"]}`, "s", []string{"a", "b"}},
		{"fenced json", "```json\n{\"summary\":\"fenced\"}\n```", "fenced", []string{}},
		{"prose falls back", "You had a good week overall.", "You had a good week overall.", []string{}},
		{"json without summary falls back", `{"highlights":["x"]}`, `{"highlights":["x"]}`, []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := parseOutput(tt.in)
			assert.Equal(t, tt.summary, out.Summary)
			assert.Equal(t, tt.hl, out.Highlights)
			assert.NotNil(t, out.Suggestions)
		})
	}
}

func TestBuildPrompt_TruncatesLongNotes(t *testing.T) {
	long := strings.Repeat("é", maxNoteInPrompt+50)
	p := buildPrompt([]schema.ActivityLog{{Kind: schema.KindReflection, Note: long, OccurredAt: now}}, now.AddDate(0, 0, -7), now)
	assert.Contains(t, p, strings.Repeat("é", maxNoteInPrompt)+"…")
	assert.NotContains(t, p, strings.Repeat("é", maxNoteInPrompt+1))
}

func TestGenerate_MapsUpstreamFailures(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
	}{
		{"rate limited", &llm.APIError{Status: http.StatusTooManyRequests}, http.StatusTooManyRequests},
		{"server error", &llm.APIError{Status: http.StatusInternalServerError}, http.StatusBadGateway},
		{"empty output", llm.ErrEmptyOutput, http.StatusBadGateway},
		{"deadline", context.DeadlineExceeded, http.StatusGatewayTimeout},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, mem := newTestService(t, &fakeLLM{err: tt.err})
			logActivity(t, mem, "u1", now.Add(-time.Hour), "")
			_, err := svc.Generate(context.Background(), "u1", 7)
			status, _ := code(err)
			assert.Equal(t, tt.status, status)
		})
	}
}

func TestGenerate_BlankCompletionIsNotStored(t *testing.T) {
	f := &fakeLLM{text: "  \n "}
	svc, mem := newTestService(t, f)
	logActivity(t, mem, "u1", now.Add(-time.Hour), "")

	_, err := svc.Generate(context.Background(), "u1", 7)
	status, c := code(err)
	assert.Equal(t, http.StatusBadGateway, status)
	assert.Equal(t, "upstream_unavailable", c)

	list, err := mem.ListReports(context.Background(), "u1", 10)
	require.NoError(t, err)
	assert.Empty(t, list)
	assert.Empty(t, mem.Usage("u1"), "a failed report does not spend quota")
}
