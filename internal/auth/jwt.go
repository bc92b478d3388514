package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/celerix-dev/tether/internal/apperr"
	jwt "github.com/golang-jwt/jwt/v5"
)

// RoleAdmin is the app_metadata.role value that grants admin routes.
const RoleAdmin = "admin"

// Principal represents the authenticated caller.
type Principal struct {
	UserID    string
	Email     string
	Role      string // app_metadata.role
	Token     string
	ExpiresAt time.Time
}

// IsAdmin reports whether the caller may use admin routes.
func (p *Principal) IsAdmin() bool { return p != nil && p.Role == RoleAdmin }

type principalKey struct{}

// WithPrincipal stores the principal in context.
func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// FromContext retrieves the principal from context (if any).
func FromContext(ctx context.Context) (*Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(*Principal)
	return p, ok && p != nil
}

type claims struct {
	Email       string `json:"email"`
	AppMetadata struct {
		Role string `json:"role"`
	} `json:"app_metadata"`
	jwt.RegisteredClaims
}

// Verifier validates access tokens, locally with the project's JWT secret
// when one is configured, otherwise by asking the auth provider.
type Verifier struct {
	secret []byte
	remote *Client
	leeway time.Duration
}

// NewVerifier returns a Verifier. remote is used only when secret is empty.
func NewVerifier(secret string, remote *Client) *Verifier {
	v := &Verifier{remote: remote, leeway: 30 * time.Second}
	if secret != "" {
		v.secret = []byte(secret)
	}
	return v
}

// Verify returns the principal for token.
func (v *Verifier) Verify(ctx context.Context, token string) (*Principal, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, apperr.Unauthorized("missing credentials")
	}
	if v.secret != nil {
		return v.parse(token)
	}
	if v.remote == nil {
		return nil, errors.New("auth: no JWT secret and no remote verifier configured")
	}
	u, err := v.remote.GetUser(ctx, token)
	if err != nil {
		return nil, err
	}
	return &Principal{UserID: u.ID, Email: u.Email, Role: u.AppRole(), Token: token}, nil
}

func (v *Verifier) parse(token string) (*Principal, error) {
	c := &claims{}
	tok, err := jwt.ParseWithClaims(token, c, func(t *jwt.Token) (interface{}, error) {
		return v.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(v.leeway),
	)
	if err != nil || !tok.Valid {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, apperr.New(http.StatusUnauthorized, "token_expired", "access token expired")
		}
		return nil, apperr.Wrap(err, http.StatusUnauthorized, "unauthorized", "invalid token")
	}
	if c.Subject == "" {
		return nil, apperr.Unauthorized("invalid token")
	}
	p := &Principal{UserID: c.Subject, Email: c.Email, Role: c.AppMetadata.Role, Token: token}
	if c.ExpiresAt != nil {
		p.ExpiresAt = c.ExpiresAt.Time
	}
	return p, nil
}
