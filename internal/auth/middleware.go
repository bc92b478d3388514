package auth

import (
	"crypto/subtle"
	"net/http"
	"strings"
	"time"

	"github.com/celerix-dev/tether/internal/apperr"
	"github.com/celerix-dev/tether/internal/vault"
	"github.com/celerix-dev/tether/pkg/postgrest"
	"github.com/gin-gonic/gin"
)

// Cookie names.
const (
	AccessCookie  = "tether_access"
	RefreshCookie = "tether_refresh"

	refreshMaxAge = 30 * 24 * 60 * 60
	refreshPath   = "/api/auth"
)

const principalCtxKey = "principal"

// BearerToken extracts the access token from Authorization, falling back to
// the access cookie.
func BearerToken(c *gin.Context) string {
	if h := c.GetHeader("Authorization"); h != "" {
		scheme, tok, ok := strings.Cut(h, " ")
		if ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(tok)
		}
		return ""
	}
	if v, err := c.Cookie(AccessCookie); err == nil {
		return v
	}
	return ""
}

// RequireUser authenticates the request and injects the principal. The
// request context also carries the token, so database calls run under RLS.
func RequireUser(v *Verifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		p, err := v.Verify(c.Request.Context(), BearerToken(c))
		if err != nil {
			apperr.Abort(c, err)
			return
		}
		ctx := WithPrincipal(c.Request.Context(), p)
		ctx = postgrest.WithAccessToken(ctx, p.Token)
		c.Request = c.Request.WithContext(ctx)
		c.Set(principalCtxKey, p)
		c.Next()
	}
}

// RequireAdmin must run after RequireUser.
func RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		p, ok := FromContext(c.Request.Context())
		if !ok {
			apperr.Abort(c, apperr.Unauthorized("missing credentials"))
			return
		}
		if !p.IsAdmin() {
			apperr.Abort(c, apperr.Forbidden("admin only"))
			return
		}
		c.Next()
	}
}

// RequireCron checks Authorization: Bearer {secret}. An empty secret disables the route.
func RequireCron(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if secret == "" {
			apperr.Abort(c, apperr.New(http.StatusServiceUnavailable, "not_configured", "cron secret not configured"))
			return
		}
		got := []byte(BearerToken(c))
		if subtle.ConstantTimeCompare(got, []byte(secret)) != 1 {
			apperr.Abort(c, apperr.Unauthorized("invalid cron secret"))
			return
		}
		c.Next()
	}
}

// MustPrincipal returns the principal set by RequireUser.
func MustPrincipal(c *gin.Context) *Principal {
	return c.MustGet(principalCtxKey).(*Principal)
}

// Cookies writes and reads the session cookies.
type Cookies struct {
	Sealer *vault.Sealer
	Secure bool
	Domain string
}

// Set writes the access cookie and the sealed refresh cookie.
func (k *Cookies) Set(c *gin.Context, s *Session) error {
	if s == nil || s.AccessToken == "" {
		return nil
	}
	sealed, err := k.Sealer.Seal(s.RefreshToken, RefreshCookie)
	if err != nil {
		return err
	}
	maxAge := s.ExpiresIn
	if maxAge <= 0 {
		maxAge = int(time.Hour / time.Second)
	}
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(AccessCookie, s.AccessToken, maxAge, "/", k.Domain, k.Secure, true)
	c.SetCookie(RefreshCookie, sealed, refreshMaxAge, refreshPath, k.Domain, k.Secure, true)
	return nil
}

// Clear expires both cookies.
func (k *Cookies) Clear(c *gin.Context) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(AccessCookie, "", -1, "/", k.Domain, k.Secure, true)
	c.SetCookie(RefreshCookie, "", -1, refreshPath, k.Domain, k.Secure, true)
}

// RefreshToken opens the sealed refresh cookie.
func (k *Cookies) RefreshToken(c *gin.Context) (string, error) {
	v, err := c.Cookie(RefreshCookie)
	if err != nil || v == "" {
		return "", apperr.Unauthorized("missing refresh token")
	}
	tok, err := k.Sealer.Open(v, RefreshCookie)
	if err != nil {
		return "", apperr.Unauthorized("invalid refresh token")
	}
	return tok, nil
}
