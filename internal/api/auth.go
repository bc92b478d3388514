package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/celerix-dev/tether/internal/apperr"
	"github.com/celerix-dev/tether/internal/auth"
	"github.com/celerix-dev/tether/internal/log"
	"github.com/celerix-dev/tether/internal/store"
	"github.com/celerix-dev/tether/pkg/postgrest"
	"github.com/celerix-dev/tether/pkg/schema"
	"github.com/gin-gonic/gin"
)

type credentials struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	DisplayName string `json:"display_name"`
	Timezone    string `json:"timezone"`
}

func (in *credentials) validate(signup bool) error {
	in.Email = strings.TrimSpace(in.Email)
	if in.Email == "" || !strings.Contains(in.Email, "@") {
		return apperr.BadRequest("a valid email is required")
	}
	if in.Password == "" {
		return apperr.BadRequest("password is required")
	}
	if signup && len(in.Password) < 8 {
		return apperr.BadRequest("password must be at least 8 characters")
	}
	return nil
}

// sessionBody is what the frontend sees of a session; the refresh token stays
// in its sealed cookie.
func sessionBody(s *auth.Session) gin.H {
	return gin.H{
		"user":         s.User,
		"access_token": s.AccessToken,
		"token_type":   s.TokenType,
		"expires_in":   s.ExpiresIn,
		"expires_at":   s.ExpiresAt,
	}
}

func (h *Handler) Signup(c *gin.Context) {
	var in credentials
	if !bindJSON(c, &in, false) {
		return
	}
	if err := in.validate(true); err != nil {
		fail(c, err)
		return
	}
	ctx := c.Request.Context()

	var data map[string]any
	if in.DisplayName != "" {
		data = map[string]any{"display_name": in.DisplayName}
	}
	sess, err := h.Auth.SignUp(ctx, in.Email, in.Password, data)
	if err != nil {
		fail(c, err)
		return
	}

	if sess.User != nil && sess.User.ID != "" {
		tz := in.Timezone
		if tz == "" {
			tz = "UTC"
		}
		prof := &schema.Profile{ID: sess.User.ID, DisplayName: in.DisplayName, Timezone: tz, NudgesEnabled: true}
		if err := prof.Validate(); err != nil {
			prof.Timezone = "UTC"
			prof.DisplayName = ""
		}
		if _, err := h.Store.CreateProfile(postgrest.AsService(ctx), prof); err != nil && !errors.Is(err, store.ErrConflict) {
			// created lazily on first authenticated request instead
			logger := log.WithUserID(sess.User.ID)
			logger.Warn().Err(err).Msg("create profile at signup failed")
		}
	}

	if sess.AccessToken == "" {
		c.JSON(http.StatusCreated, gin.H{"user": sess.User, "confirmation_required": true})
		return
	}
	if err := h.Cookies.Set(c, sess); err != nil {
		fail(c, err)
		return
	}
	body := sessionBody(sess)
	body["confirmation_required"] = false
	c.JSON(http.StatusCreated, body)
}

func (h *Handler) Login(c *gin.Context) {
	var in credentials
	if !bindJSON(c, &in, false) {
		return
	}
	if err := in.validate(false); err != nil {
		fail(c, err)
		return
	}
	sess, err := h.Auth.PasswordGrant(c.Request.Context(), in.Email, in.Password)
	if err != nil {
		fail(c, err)
		return
	}
	if err := h.Cookies.Set(c, sess); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, sessionBody(sess))
}

func (h *Handler) Refresh(c *gin.Context) {
	tok, err := h.Cookies.RefreshToken(c)
	if err != nil {
		h.Cookies.Clear(c)
		fail(c, err)
		return
	}
	sess, err := h.Auth.RefreshGrant(c.Request.Context(), tok)
	if err != nil {
		if apperr.Status(err) == http.StatusUnauthorized {
			h.Cookies.Clear(c)
		}
		fail(c, err)
		return
	}
	if err := h.Cookies.Set(c, sess); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, sessionBody(sess))
}

// Logout revokes the session upstream when a token is present and always
// clears the cookies, so an expired token can still sign out.
func (h *Handler) Logout(c *gin.Context) {
	if tok := auth.BearerToken(c); tok != "" {
		if err := h.Auth.Logout(c.Request.Context(), tok); err != nil {
			logger := log.WithComponent("auth")
			logger.Debug().Err(err).Msg("upstream logout failed")
		}
	}
	h.Cookies.Clear(c)
	c.Status(http.StatusNoContent)
}
