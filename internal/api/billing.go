package api

import (
	"io"
	"net/http"

	"github.com/celerix-dev/tether/internal/apperr"
	"github.com/celerix-dev/tether/internal/auth"
	"github.com/gin-gonic/gin"
)

// Stripe caps event payloads well below this.
const maxWebhookBody = 512 << 10

func (h *Handler) GetSubscription(c *gin.Context) {
	p := auth.MustPrincipal(c)
	sub, plan, err := h.Billing.Subscription(c.Request.Context(), p.UserID)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"subscription": sub, "plan": plan})
}

func (h *Handler) Checkout(c *gin.Context) {
	p := auth.MustPrincipal(c)
	url, err := h.Billing.Checkout(c.Request.Context(), p.UserID, p.Email)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"url": url})
}

func (h *Handler) Portal(c *gin.Context) {
	p := auth.MustPrincipal(c)
	url, err := h.Billing.Portal(c.Request.Context(), p.UserID)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"url": url})
}

// StripeWebhook needs the raw body for signature verification.
func (h *Handler) StripeWebhook(c *gin.Context) {
	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		fail(c, apperr.Wrap(err, http.StatusBadRequest, "invalid_request", "cannot read body"))
		return
	}
	ev, err := h.Billing.ParseWebhook(payload, c.GetHeader("Stripe-Signature"))
	if err != nil {
		fail(c, err)
		return
	}
	disposition, err := h.Billing.HandleEvent(c.Request.Context(), ev)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"received": true, "disposition": disposition})
}
