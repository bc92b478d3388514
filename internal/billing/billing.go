// Package billing creates Stripe checkout and portal sessions and applies
// subscription webhooks to the subscriptions table.
package billing

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/celerix-dev/tether/internal/apperr"
	"github.com/celerix-dev/tether/internal/config"
	"github.com/celerix-dev/tether/internal/guard"
	"github.com/celerix-dev/tether/internal/log"
	"github.com/celerix-dev/tether/internal/metrics"
	"github.com/celerix-dev/tether/internal/store"
	"github.com/celerix-dev/tether/pkg/postgrest"
	"github.com/celerix-dev/tether/pkg/schema"
	"github.com/rs/zerolog"
	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/client"
)

// Store is what billing needs from the data layer.
type Store interface {
	store.SubscriptionStore
	store.UsageStore
}

// Service wraps the Stripe client.
type Service struct {
	sc     *client.API
	cfg    config.StripeConfig
	appURL string
	store  Store
	guard  *guard.Guard
	logger zerolog.Logger
	now    func() time.Time
}

// New builds a Service. STRIPE_API_URL, when set, redirects API calls, which
// is how tests and stripe-mock are wired in.
func New(cfg config.StripeConfig, appURL string, st Store, g *guard.Guard) *Service {
	var backends *stripe.Backends
	if cfg.APIURL != "" {
		bc := &stripe.BackendConfig{
			URL:               stripe.String(cfg.APIURL),
			MaxNetworkRetries: stripe.Int64(0),
			HTTPClient:        &http.Client{Timeout: 30 * time.Second},
		}
		b := stripe.GetBackendWithConfig(stripe.APIBackend, bc)
		backends = &stripe.Backends{API: b, Connect: b, Uploads: b}
	}
	sc := &client.API{}
	sc.Init(cfg.SecretKey, backends)

	return &Service{
		sc:     sc,
		cfg:    cfg,
		appURL: appURL,
		store:  st,
		guard:  g,
		logger: log.WithComponent("billing"),
		now:    time.Now,
	}
}

// Configured reports whether checkout can be offered.
func (s *Service) Configured() bool {
	return s.cfg.SecretKey != "" && s.cfg.PriceID != ""
}

func (s *Service) notConfigured() error {
	return apperr.New(http.StatusServiceUnavailable, "billing_disabled", "billing is not configured")
}

func stripeErr(err error) error {
	var se *stripe.Error
	if errors.As(err, &se) {
		return apperr.Upstream("stripe", se.HTTPStatusCode, se.Msg)
	}
	return apperr.Unreachable("stripe", err)
}

// Subscription returns the caller's subscription row (nil when none) and plan.
func (s *Service) Subscription(ctx context.Context, userID string) (*schema.Subscription, schema.Plan, error) {
	sub, err := s.store.GetSubscription(ctx, userID)
	if err != nil {
		if store.IsNotFound(err) {
			return nil, schema.PlanFree, nil
		}
		return nil, "", err
	}
	return sub, sub.PlanAt(s.now()), nil
}

// Checkout creates a subscription-mode Checkout Session and returns its URL.
func (s *Service) Checkout(ctx context.Context, userID, email string) (string, error) {
	if !s.Configured() {
		return "", s.notConfigured()
	}

	params := &stripe.CheckoutSessionParams{
		Mode: stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{Price: stripe.String(s.cfg.PriceID), Quantity: stripe.Int64(1)},
		},
		SuccessURL:        stripe.String(s.appURL + "/billing/success?session_id={CHECKOUT_SESSION_ID}"),
		CancelURL:         stripe.String(s.appURL + "/billing/cancel"),
		ClientReferenceID: stripe.String(userID),
		SubscriptionData: &stripe.CheckoutSessionSubscriptionDataParams{
			Metadata: map[string]string{"user_id": userID},
		},
	}
	params.AddMetadata("user_id", userID)
	params.Context = ctx

	// reuse the Stripe customer so the portal shows one history
	if sub, err := s.store.GetSubscription(ctx, userID); err == nil && sub.StripeCustomerID != "" {
		params.Customer = stripe.String(sub.StripeCustomerID)
	} else if email != "" {
		params.CustomerEmail = stripe.String(email)
	}

	started := time.Now()
	cs, err := s.sc.CheckoutSessions.New(params)
	metrics.ObserveUpstream("stripe", started, err)
	if err != nil {
		s.logger.Warn().Err(err).Str("user_id", userID).Str("upstream", "stripe").Msg("checkout session failed")
		return "", stripeErr(err)
	}

	if err := s.store.InsertUsage(ctx, &schema.UsageEvent{
		UserID: userID,
		Event:  schema.EventCheckoutStarted,
		Meta:   map[string]any{"checkout_session_id": cs.ID},
	}); err != nil {
		s.logger.Warn().Err(err).Str("user_id", userID).Msg("record checkout_started failed")
	}
	return cs.URL, nil
}

// Portal creates a billing-portal session for the caller's Stripe customer.
func (s *Service) Portal(ctx context.Context, userID string) (string, error) {
	if s.cfg.SecretKey == "" {
		return "", s.notConfigured()
	}
	sub, err := s.store.GetSubscription(ctx, userID)
	if err != nil && !store.IsNotFound(err) {
		return "", err
	}
	if sub == nil || sub.StripeCustomerID == "" {
		return "", apperr.NotFound("billing customer")
	}

	params := &stripe.BillingPortalSessionParams{
		Customer:  stripe.String(sub.StripeCustomerID),
		ReturnURL: stripe.String(s.appURL + "/settings/billing"),
	}
	params.Context = ctx

	started := time.Now()
	ps, err := s.sc.BillingPortalSessions.New(params)
	metrics.ObserveUpstream("stripe", started, err)
	if err != nil {
		return "", stripeErr(err)
	}
	return ps.URL, nil
}

// serviceCtx runs webhook writes with the service role; webhooks carry no user token.
func serviceCtx(ctx context.Context) context.Context {
	return postgrest.AsService(ctx)
}
