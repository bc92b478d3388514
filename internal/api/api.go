// Package api is the frontend-facing JSON API.
package api

import (
	"net/http"
	"time"

	"github.com/celerix-dev/tether/internal/auth"
	"github.com/celerix-dev/tether/internal/billing"
	"github.com/celerix-dev/tether/internal/config"
	"github.com/celerix-dev/tether/internal/guard"
	"github.com/celerix-dev/tether/internal/health"
	"github.com/celerix-dev/tether/internal/metrics"
	"github.com/celerix-dev/tether/internal/recovery"
	"github.com/celerix-dev/tether/internal/reports"
	"github.com/celerix-dev/tether/internal/store"
	"github.com/celerix-dev/tether/internal/trends"
	"github.com/gin-gonic/gin"
	"github.com/go-chi/cors"
)

// Handler holds every dependency the routes call into.
type Handler struct {
	Config   *config.Config
	Store    store.Store
	Guard    *guard.Guard
	Auth     *auth.Client
	Verifier *auth.Verifier
	Cookies  *auth.Cookies
	Recovery *recovery.Service
	Reports  *reports.Service
	Billing  *billing.Service
	Trends   *trends.Service
	// Checks back /readyz.
	Checks map[string]health.Checker

	now func() time.Time
}

func (h *Handler) clock() time.Time {
	if h.now != nil {
		return h.now()
	}
	return time.Now().UTC()
}

// NewRouter registers every route on a fresh gin engine.
func NewRouter(h *Handler) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), RequestID(), AccessLog(), Metrics(), BodyLimit(1<<20))
	r.NoRoute(func(c *gin.Context) { abortNotFound(c) })

	r.GET("/healthz", h.Healthz)
	r.GET("/readyz", h.Readyz)
	r.GET("/metrics", gin.WrapH(metrics.Handler()))

	r.POST("/internal/sweep", auth.RequireCron(h.Config.Server.CronSecret), h.Sweep)
	r.POST("/api/webhooks/stripe", h.StripeWebhook)

	a := r.Group("/api/auth", h.RateLimit(guard.BucketAuth))
	a.POST("/signup", h.Signup)
	a.POST("/login", h.Login)
	a.POST("/refresh", h.Refresh)
	a.POST("/logout", h.Logout)

	api := r.Group("/api", auth.RequireUser(h.Verifier), h.RateLimit(guard.BucketAPI))
	api.GET("/me", h.GetMe)
	api.PATCH("/me", h.PatchMe)

	api.GET("/activities", h.ListActivities)
	api.POST("/activities", h.Idempotent(), h.CreateActivity)
	api.DELETE("/activities/:id", h.DeleteActivity)

	api.GET("/reports", h.ListReports)
	api.GET("/reports/:id", h.GetReport)
	api.POST("/reports", h.RateLimit(guard.BucketReports), h.Idempotent(), h.CreateReport)

	api.GET("/recovery/status", h.RecoveryStatus)
	api.POST("/recovery/sessions", h.StartSession)
	api.POST("/recovery/sessions/:id/resolve", h.ResolveSession)

	api.GET("/billing/subscription", h.GetSubscription)
	api.POST("/billing/checkout", h.Checkout)
	api.POST("/billing/portal", h.Portal)

	admin := api.Group("/admin", auth.RequireAdmin())
	admin.GET("/trends/cohorts", h.Cohorts)

	return r
}

// New returns the full HTTP handler: the gin routes behind CORS.
func New(h *Handler) http.Handler {
	engine := NewRouter(h)
	return cors.Handler(cors.Options{
		AllowedOrigins:   h.Config.Server.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Idempotency-Key", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID", "Retry-After", "Idempotent-Replayed"},
		AllowCredentials: true,
		MaxAge:           300,
	})(engine)
}

func (h *Handler) Healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *Handler) Readyz(c *gin.Context) {
	rep := health.Run(c.Request.Context(), 3*time.Second, h.Checks)
	if !rep.Healthy {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "failing": rep.Failing(), "checks": rep.Checks})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready", "checks": rep.Checks})
}
