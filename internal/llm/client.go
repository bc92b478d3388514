// Package llm is a minimal client for the OpenAI Responses API.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/celerix-dev/tether/internal/config"
	"github.com/celerix-dev/tether/internal/log"
	"github.com/celerix-dev/tether/internal/metrics"
	"github.com/celerix-dev/tether/internal/retry"
)

// ErrEmptyOutput is returned when the model produced no text.
var ErrEmptyOutput = errors.New("llm: response contained no output text")

// APIError is a non-2xx response from the API.
type APIError struct {
	Status  int
	Type    string
	Code    string
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("openai %d %s: %s", e.Status, e.Type, e.Message)
}

// HTTPStatus lets retry and apperr classify the failure.
func (e *APIError) HTTPStatus() int { return e.Status }

// Request is one completion.
type Request struct {
	Instructions    string
	Input           string
	MaxOutputTokens int
}

// Result is the concatenated output text plus usage.
type Result struct {
	Text         string
	Model        string
	InputTokens  int
	OutputTokens int
}

// Client calls POST {base}/v1/responses.
type Client struct {
	baseURL string
	apiKey  string
	org     string
	model   string
	http    *http.Client
	policy  retry.Policy
}

// New builds a Client from config.
func New(cfg config.OpenAIConfig) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 90 * time.Second
	}
	policy := retry.Default
	if cfg.MaxRetries > 0 {
		policy.Attempts = cfg.MaxRetries
	}
	if cfg.RetryBase > 0 {
		policy.Base = cfg.RetryBase
	}
	logger := log.WithComponent("llm")
	policy.OnRetry = func(attempt int, wait time.Duration, err error) {
		logger.Warn().Err(err).Int("attempt", attempt).Dur("backoff", wait).Str("upstream", "openai").Msg("retrying completion")
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		org:     cfg.Org,
		model:   cfg.Model,
		http:    &http.Client{Timeout: timeout},
		policy:  policy,
	}
}

// Configured reports whether an API key is set.
func (c *Client) Configured() bool { return c.apiKey != "" }

// Model is the configured model name.
func (c *Client) Model() string { return c.model }

type requestBody struct {
	Model           string `json:"model"`
	Instructions    string `json:"instructions,omitempty"`
	Input           string `json:"input"`
	MaxOutputTokens int    `json:"max_output_tokens,omitempty"`
}

type responseBody struct {
	Model  string `json:"model"`
	Status string `json:"status"`
	Output []struct {
		Type    string `json:"type"`
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
	} `json:"output"`
	Usage struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

type errorBody struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    string `json:"code"`
	} `json:"error"`
}

// Complete runs one completion, retrying network failures, 429s and 5xxs.
func (c *Client) Complete(ctx context.Context, req Request) (*Result, error) {
	var res *Result
	err := retry.Do(ctx, c.policy, func(ctx context.Context) error {
		r, err := c.once(ctx, req)
		if err != nil {
			return err
		}
		res = r
		return nil
	})
	return res, err
}

func (c *Client) once(ctx context.Context, req Request) (*Result, error) {
	payload, err := json.Marshal(requestBody{
		Model:           c.model,
		Instructions:    req.Instructions,
		Input:           req.Input,
		MaxOutputTokens: req.MaxOutputTokens,
	})
	if err != nil {
		return nil, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/responses", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")
	if c.org != "" {
		httpReq.Header.Set("OpenAI-Organization", c.org)
	}

	started := time.Now()
	resp, err := c.http.Do(httpReq)
	metrics.ObserveUpstream("openai", started, err)
	if err != nil {
		return nil, fmt.Errorf("openai request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("openai read body: %w", err)
	}
	if resp.StatusCode/100 != 2 {
		var eb errorBody
		_ = json.Unmarshal(data, &eb)
		msg := eb.Error.Message
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return nil, &APIError{Status: resp.StatusCode, Type: eb.Error.Type, Code: eb.Error.Code, Message: msg}
	}

	var rb responseBody
	if err := json.Unmarshal(data, &rb); err != nil {
		return nil, fmt.Errorf("openai decode: %w", err)
	}
	var sb strings.Builder
	for _, o := range rb.Output {
		if o.Type != "message" {
			continue
		}
		for _, part := range o.Content {
			if part.Type == "output_text" {
				sb.WriteString(part.Text)
			}
		}
	}
	text := strings.TrimSpace(sb.String())
	if text == "" {
		return nil, ErrEmptyOutput
	}
	model := rb.Model
	if model == "" {
		model = c.model
	}
	return &Result{
		Text:         text,
		Model:        model,
		InputTokens:  rb.Usage.InputTokens,
		OutputTokens: rb.Usage.OutputTokens,
	}, nil
}
