package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/celerix-dev/tether/internal/apperr"
	"github.com/celerix-dev/tether/internal/metrics"
)

// User is the auth provider's user object.
type User struct {
	ID           string         `json:"id"`
	Email        string         `json:"email"`
	Role         string         `json:"role"`
	AppMetadata  map[string]any `json:"app_metadata"`
	UserMetadata map[string]any `json:"user_metadata"`
	CreatedAt    time.Time      `json:"created_at"`
}

// AppRole returns app_metadata.role, which only the service role can set.
func (u *User) AppRole() string {
	if u == nil || u.AppMetadata == nil {
		return ""
	}
	r, _ := u.AppMetadata["role"].(string)
	return r
}

// Session is a token grant.
type Session struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
	ExpiresAt    int64  `json:"expires_at"`
	RefreshToken string `json:"refresh_token"`
	User         *User  `json:"user"`
}

// Client calls the GoTrue endpoints under {projectURL}/auth/v1.
type Client struct {
	baseURL string
	anonKey string
	http    *http.Client
}

// NewClient creates an auth client. hc may be nil.
func NewClient(projectURL, anonKey string, hc *http.Client) *Client {
	if hc == nil {
		hc = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{
		baseURL: strings.TrimRight(projectURL, "/") + "/auth/v1",
		anonKey: anonKey,
		http:    hc,
	}
}

type gotrueError struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
	ErrorCode        string `json:"error_code"`
	Msg              string `json:"msg"`
	Message          string `json:"message"`
}

func (g gotrueError) text() string {
	for _, s := range []string{g.ErrorDescription, g.Msg, g.Message, g.Error} {
		if s != "" {
			return s
		}
	}
	return ""
}

// mapError turns a GoTrue failure into the frontend error contract.
func mapError(status int, body []byte) *apperr.Error {
	var g gotrueError
	_ = json.Unmarshal(body, &g)
	text := g.text()
	lower := strings.ToLower(text)

	switch {
	case g.Error == "invalid_grant" || g.ErrorCode == "invalid_credentials":
		return apperr.New(http.StatusUnauthorized, "invalid_credentials", "invalid email or password")
	case g.ErrorCode == "user_already_exists" || g.ErrorCode == "email_exists" || strings.Contains(lower, "already registered"):
		return apperr.New(http.StatusConflict, "email_taken", "an account with this email already exists")
	case g.ErrorCode == "weak_password":
		return apperr.New(http.StatusBadRequest, "weak_password", text)
	}
	return apperr.Upstream("auth", status, text)
}

func (c *Client) call(ctx context.Context, method, path, bearer string, body, out any) error {
	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rdr = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rdr)
	if err != nil {
		return err
	}
	req.Header.Set("apikey", c.anonKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	started := time.Now()
	resp, err := c.http.Do(req)
	metrics.ObserveUpstream("auth", started, err)
	if err != nil {
		return apperr.Unreachable("auth", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return apperr.Unreachable("auth", err)
	}
	if resp.StatusCode >= 300 {
		return mapError(resp.StatusCode, data)
	}
	if out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("decode auth response: %w", err)
		}
	}
	return nil
}

// SignUp registers a user. When email confirmation is on, the provider
// returns only the user and the returned Session has no tokens.
func (c *Client) SignUp(ctx context.Context, email, password string, data map[string]any) (*Session, error) {
	var raw json.RawMessage
	body := map[string]any{"email": email, "password": password}
	if len(data) > 0 {
		body["data"] = data
	}
	if err := c.call(ctx, http.MethodPost, "/signup", "", body, &raw); err != nil {
		return nil, err
	}
	var sess Session
	if err := json.Unmarshal(raw, &sess); err != nil {
		return nil, fmt.Errorf("decode signup: %w", err)
	}
	if sess.AccessToken == "" {
		var u User
		if err := json.Unmarshal(raw, &u); err != nil {
			return nil, fmt.Errorf("decode signup user: %w", err)
		}
		sess.User = &u
	}
	return &sess, nil
}

// PasswordGrant exchanges credentials for a session.
func (c *Client) PasswordGrant(ctx context.Context, email, password string) (*Session, error) {
	var sess Session
	err := c.call(ctx, http.MethodPost, "/token?grant_type=password", "",
		map[string]string{"email": email, "password": password}, &sess)
	if err != nil {
		return nil, err
	}
	return &sess, nil
}

// RefreshGrant rotates a refresh token.
func (c *Client) RefreshGrant(ctx context.Context, refreshToken string) (*Session, error) {
	var sess Session
	err := c.call(ctx, http.MethodPost, "/token?grant_type=refresh_token", "",
		map[string]string{"refresh_token": refreshToken}, &sess)
	if err != nil {
		return nil, err
	}
	return &sess, nil
}

// Logout revokes the session behind accessToken.
func (c *Client) Logout(ctx context.Context, accessToken string) error {
	return c.call(ctx, http.MethodPost, "/logout", accessToken, nil, nil)
}

// GetUser validates accessToken remotely and returns its user.
func (c *Client) GetUser(ctx context.Context, accessToken string) (*User, error) {
	var u User
	if err := c.call(ctx, http.MethodGet, "/user", accessToken, nil, &u); err != nil {
		return nil, err
	}
	if u.ID == "" {
		return nil, apperr.Unauthorized("invalid token")
	}
	return &u, nil
}

// HealthURL is polled by the readiness check.
func (c *Client) HealthURL() string { return c.baseURL + "/health" }

// APIKey is sent as the apikey header on health checks.
func (c *Client) APIKey() string { return c.anonKey }
