package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/celerix-dev/tether/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const okBody = `{
  "id": "resp_1",
  "model": "gpt-4.1-mini-2025-04-14",
  "status": "completed",
  "output": [
    {"type": "reasoning", "summary": []},
    {"type": "message", "role": "assistant", "content": [
      {"type": "output_text", "text": "{\"summary\":\"steady week\"}", "annotations": []}
    ]}
  ],
  "usage": {"input_tokens": 321, "output_tokens": 45, "total_tokens": 366}
}`

func newClient(url string) *Client {
	return New(config.OpenAIConfig{
		APIKey:    "sk-test",
		BaseURL:   url,
		Model:     "gpt-4.1-mini",
		Org:       "org-1",
		RetryBase: time.Millisecond,
	})
}

func TestComplete(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/responses", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		assert.Equal(t, "org-1", r.Header.Get("OpenAI-Organization"))

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "gpt-4.1-mini", body["model"])
		assert.Equal(t, "be kind", body["instructions"])
		assert.Equal(t, "activities...", body["input"])
		_, _ = w.Write([]byte(okBody))
	}))
	defer srv.Close()

	res, err := newClient(srv.URL).Complete(context.Background(), Request{Instructions: "be kind", Input: "activities..."})
	require.NoError(t, err)
	assert.Equal(t, `{"summary":"steady week"}`, res.Text)
	assert.Equal(t, "gpt-4.1-mini-2025-04-14", res.Model)
	assert.Equal(t, 321, res.InputTokens)
	assert.Equal(t, 45, res.OutputTokens)
}

func TestComplete_RetriesTransient(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"error":{"message":"Rate limit reached","type":"requests","code":"rate_limit_exceeded"}}`))
			return
		}
		_, _ = w.Write([]byte(okBody))
	}))
	defer srv.Close()

	_, err := newClient(srv.URL).Complete(context.Background(), Request{Input: "x"})
	require.NoError(t, err)
	assert.EqualValues(t, 3, atomic.LoadInt32(&calls))
}

func TestComplete_DoesNotRetryClientErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"message":"Invalid model","type":"invalid_request_error","code":"model_not_found"}}`))
	}))
	defer srv.Close()

	_, err := newClient(srv.URL).Complete(context.Background(), Request{Input: "x"})
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadRequest, apiErr.HTTPStatus())
	assert.Equal(t, "model_not_found", apiErr.Code)
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls))
}

func TestComplete_GivesUpAfterThreeAttempts(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := newClient(srv.URL).Complete(context.Background(), Request{Input: "x"})
	require.Error(t, err)
	assert.EqualValues(t, 3, atomic.LoadInt32(&calls))
}

func TestComplete_EmptyOutput(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"model":"m","output":[],"usage":{}}`))
	}))
	defer srv.Close()

	_, err := newClient(srv.URL).Complete(context.Background(), Request{Input: "x"})
	assert.ErrorIs(t, err, ErrEmptyOutput)
}
