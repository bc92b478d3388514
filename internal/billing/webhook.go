package billing

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/celerix-dev/tether/internal/apperr"
	"github.com/celerix-dev/tether/internal/guard"
	"github.com/celerix-dev/tether/internal/metrics"
	"github.com/celerix-dev/tether/internal/store"
	"github.com/celerix-dev/tether/pkg/schema"
	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/webhook"
)

// Dispositions reported for each webhook event.
const (
	Applied   = "applied"
	Ignored   = "ignored"
	Duplicate = "duplicate"
	Unmatched = "unmatched"
)

const (
	evCheckoutCompleted    = "checkout.session.completed"
	evSubscriptionCreated  = "customer.subscription.created"
	evSubscriptionUpdated  = "customer.subscription.updated"
	evSubscriptionDeleted  = "customer.subscription.deleted"
	webhookIdempotentScope = "stripe-webhook"
)

// ParseWebhook verifies the Stripe-Signature header and decodes the event.
func (s *Service) ParseWebhook(payload []byte, sigHeader string) (stripe.Event, error) {
	if s.cfg.WebhookSecret == "" {
		return stripe.Event{}, s.notConfigured()
	}
	ev, err := webhook.ConstructEventWithOptions(payload, sigHeader, s.cfg.WebhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		return stripe.Event{}, apperr.Wrap(err, http.StatusBadRequest, "invalid_signature", "invalid webhook signature")
	}
	return ev, nil
}

// HandleEvent applies ev once. Redeliveries of an event that was already
// applied are acknowledged without effects; a failed apply releases the
// event id so Stripe's retry can succeed.
func (s *Service) HandleEvent(ctx context.Context, ev stripe.Event) (string, error) {
	typ := string(ev.Type)
	switch typ {
	case evCheckoutCompleted, evSubscriptionCreated, evSubscriptionUpdated, evSubscriptionDeleted:
	default:
		metrics.WebhookEvents.WithLabelValues(typ, Ignored).Inc()
		return Ignored, nil
	}

	if s.guard != nil && ev.ID != "" {
		switch out, _ := s.guard.Begin(webhookIdempotentScope, ev.ID); out {
		case guard.Replay, guard.InFlight:
			metrics.WebhookEvents.WithLabelValues(typ, Duplicate).Inc()
			return Duplicate, nil
		}
	}

	disposition, err := s.apply(serviceCtx(ctx), typ, ev)
	if s.guard != nil && ev.ID != "" {
		if err != nil {
			s.guard.Abort(webhookIdempotentScope, ev.ID)
		} else {
			s.guard.Complete(webhookIdempotentScope, ev.ID, guard.Response{Status: http.StatusOK})
		}
	}
	if err != nil {
		metrics.WebhookEvents.WithLabelValues(typ, "error").Inc()
		return "", err
	}
	metrics.WebhookEvents.WithLabelValues(typ, disposition).Inc()
	s.logger.Info().Str("event_id", ev.ID).Str("type", typ).Str("disposition", disposition).Msg("stripe webhook")
	return disposition, nil
}

func (s *Service) apply(ctx context.Context, typ string, ev stripe.Event) (string, error) {
	if ev.Data == nil || len(ev.Data.Raw) == 0 {
		return "", apperr.BadRequest("webhook event has no data")
	}
	if typ == evCheckoutCompleted {
		var cs stripe.CheckoutSession
		if err := json.Unmarshal(ev.Data.Raw, &cs); err != nil {
			return "", apperr.Wrap(err, http.StatusBadRequest, "invalid_request", "malformed checkout session")
		}
		return s.applyCheckout(ctx, &cs)
	}
	var sub stripe.Subscription
	if err := json.Unmarshal(ev.Data.Raw, &sub); err != nil {
		return "", apperr.Wrap(err, http.StatusBadRequest, "invalid_request", "malformed subscription")
	}
	return s.applySubscription(ctx, &sub, typ == evSubscriptionDeleted)
}

func (s *Service) applyCheckout(ctx context.Context, cs *stripe.CheckoutSession) (string, error) {
	userID := cs.ClientReferenceID
	if userID == "" && cs.Metadata != nil {
		userID = cs.Metadata["user_id"]
	}
	if userID == "" {
		return Unmatched, nil
	}

	row, err := s.existing(ctx, userID)
	if err != nil {
		return "", err
	}
	row.Status = schema.StatusActive
	if cs.Customer != nil && cs.Customer.ID != "" {
		row.StripeCustomerID = cs.Customer.ID
	}
	if cs.Subscription != nil && cs.Subscription.ID != "" {
		row.StripeSubscriptionID = cs.Subscription.ID
	}
	if _, err := s.store.UpsertSubscription(ctx, row); err != nil {
		return "", fmt.Errorf("upsert subscription: %w", err)
	}
	return Applied, nil
}

func (s *Service) applySubscription(ctx context.Context, sub *stripe.Subscription, deleted bool) (string, error) {
	customerID := ""
	if sub.Customer != nil {
		customerID = sub.Customer.ID
	}

	userID := ""
	if sub.Metadata != nil {
		userID = strings.TrimSpace(sub.Metadata["user_id"])
	}
	if userID == "" && customerID != "" {
		found, err := s.store.FindSubscriptionByCustomer(ctx, customerID)
		switch {
		case err == nil:
			userID = found.UserID
		case !store.IsNotFound(err):
			return "", err
		}
	}
	if userID == "" {
		s.logger.Warn().Str("subscription", sub.ID).Str("customer", customerID).Msg("webhook subscription matches no user")
		return Unmatched, nil
	}

	row, err := s.existing(ctx, userID)
	if err != nil {
		return "", err
	}
	row.StripeSubscriptionID = sub.ID
	if customerID != "" {
		row.StripeCustomerID = customerID
	}
	row.Status = schema.SubscriptionStatus(sub.Status)
	if deleted {
		row.Status = schema.StatusCanceled
	}
	if !row.Status.Valid() {
		return "", apperr.BadRequest(fmt.Sprintf("unknown subscription status %q", sub.Status))
	}
	if sub.Items != nil && len(sub.Items.Data) > 0 && sub.Items.Data[0].Price != nil {
		row.PriceID = sub.Items.Data[0].Price.ID
	}
	if sub.CurrentPeriodEnd > 0 {
		end := time.Unix(sub.CurrentPeriodEnd, 0).UTC()
		row.CurrentPeriodEnd = &end
	}
	row.CancelAtPeriodEnd = sub.CancelAtPeriodEnd

	if _, err := s.store.UpsertSubscription(ctx, row); err != nil {
		return "", fmt.Errorf("upsert subscription: %w", err)
	}
	return Applied, nil
}

// existing returns the stored row to merge into, or a fresh one.
func (s *Service) existing(ctx context.Context, userID string) (*schema.Subscription, error) {
	cur, err := s.store.GetSubscription(ctx, userID)
	if err == nil {
		return cur, nil
	}
	if store.IsNotFound(err) {
		return &schema.Subscription{UserID: userID}, nil
	}
	return nil, err
}
