package sdk_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/celerix-dev/tether/pkg/sdk"
)

func newClient(t *testing.T, url, cron, token string) *sdk.Client {
	t.Helper()
	c, err := sdk.New(sdk.Options{BaseURL: url, CronSecret: cron, AdminToken: token, Attempts: 2})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return c
}

func TestNew_RejectsBadURL(t *testing.T) {
	if _, err := sdk.New(sdk.Options{BaseURL: "localhost"}); err == nil {
		t.Fatalf("Expected error for URL without scheme")
	}
}

func TestSweep_SendsCronSecret(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/internal/sweep" {
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer s3cret" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":"invalid cron secret","code":"unauthorized"}`))
			return
		}
		_, _ = w.Write([]byte(`{"profiles":3,"lapses_created":1,"nudges_sent":2,"skipped":{"cooldown":1}}`))
	}))
	defer srv.Close()

	res, err := newClient(t, srv.URL, "s3cret", "").Sweep(context.Background())
	if err != nil {
		t.Fatalf("Sweep failed: %v", err)
	}
	if res.Profiles != 3 || res.LapsesCreated != 1 || res.NudgesSent != 2 || res.Skipped["cooldown"] != 1 {
		t.Errorf("unexpected result %+v", res)
	}

	_, err = newClient(t, srv.URL, "wrong", "").Sweep(context.Background())
	if !errors.Is(err, sdk.ErrUnauthorized) {
		t.Errorf("Expected ErrUnauthorized, got %v", err)
	}

	_, err = newClient(t, srv.URL, "", "").Sweep(context.Background())
	if !errors.Is(err, sdk.ErrUnauthorized) {
		t.Errorf("Expected ErrUnauthorized without secret, got %v", err)
	}
}

func TestSweep_NotConfigured(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"error":"cron secret not configured","code":"not_configured"}`))
	}))
	defer srv.Close()

	_, err := newClient(t, srv.URL, "x", "").Sweep(context.Background())
	if !errors.Is(err, sdk.ErrNotConfigured) {
		t.Errorf("Expected ErrNotConfigured, got %v", err)
	}
}

func TestRetriesTransientFailures(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			_, _ = w.Write([]byte(`{"error":"auth unavailable","code":"upstream_unavailable"}`))
			return
		}
		_, _ = w.Write([]byte(`{"weeks":2,"cohorts":[{"size":4,"retention":[1,0.5]},{"size":0,"retention":[0]}]}`))
	}))
	defer srv.Close()

	cohorts, err := newClient(t, srv.URL, "", "admin-jwt").Cohorts(context.Background(), 2)
	if err != nil {
		t.Fatalf("Cohorts failed: %v", err)
	}
	if calls.Load() != 2 {
		t.Errorf("Expected 2 calls, got %d", calls.Load())
	}
	if len(cohorts) != 2 || cohorts[0].Size != 4 || cohorts[0].Retention[1] != 0.5 {
		t.Errorf("unexpected cohorts %+v", cohorts)
	}
}

func TestClientErrorsAreNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"weeks must be a positive integer","code":"invalid_request"}`))
	}))
	defer srv.Close()

	_, err := newClient(t, srv.URL, "", "tok").Cohorts(context.Background(), 3)
	var ae *sdk.APIError
	if !errors.As(err, &ae) || ae.Code != "invalid_request" || ae.Status != http.StatusBadRequest {
		t.Fatalf("Expected APIError invalid_request, got %v", err)
	}
	if calls.Load() != 1 {
		t.Errorf("Expected 1 call, got %d", calls.Load())
	}
}

func TestReady_ReturnsReportOn503(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"status":"unavailable","failing":["store"],"checks":{"store":{"healthy":false,"message":"connection refused"}}}`))
	}))
	defer srv.Close()

	r, err := newClient(t, srv.URL, "", "").Ready(context.Background())
	if err != nil {
		t.Fatalf("Ready failed: %v", err)
	}
	if r.Ready() || len(r.Failing) != 1 || r.Failing[0] != "store" {
		t.Errorf("unexpected readiness %+v", r)
	}
	if r.Checks["store"].Message != "connection refused" {
		t.Errorf("unexpected check %+v", r.Checks["store"])
	}
}
