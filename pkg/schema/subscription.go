package schema

import "time"

// SubscriptionStatus mirrors Stripe's subscription status values.
type SubscriptionStatus string

const (
	StatusActive            SubscriptionStatus = "active"
	StatusTrialing          SubscriptionStatus = "trialing"
	StatusPastDue           SubscriptionStatus = "past_due"
	StatusCanceled          SubscriptionStatus = "canceled"
	StatusUnpaid            SubscriptionStatus = "unpaid"
	StatusIncomplete        SubscriptionStatus = "incomplete"
	StatusIncompleteExpired SubscriptionStatus = "incomplete_expired"
	StatusPaused            SubscriptionStatus = "paused"
)

func (s SubscriptionStatus) Valid() bool {
	switch s {
	case StatusActive, StatusTrialing, StatusPastDue, StatusCanceled, StatusUnpaid,
		StatusIncomplete, StatusIncompleteExpired, StatusPaused:
		return true
	}
	return false
}

// Plan is the entitlement derived from a subscription.
type Plan string

const (
	PlanFree    Plan = "free"
	PlanPremium Plan = "premium"
)

// Subscription is the single billing row per user.
type Subscription struct {
	UserID               string             `json:"user_id"`
	StripeCustomerID     string             `json:"stripe_customer_id,omitempty"`
	StripeSubscriptionID string             `json:"stripe_subscription_id,omitempty"`
	Status               SubscriptionStatus `json:"status"`
	PriceID              string             `json:"price_id,omitempty"`
	CurrentPeriodEnd     *time.Time         `json:"current_period_end,omitempty"`
	CancelAtPeriodEnd    bool               `json:"cancel_at_period_end"`
	UpdatedAt            time.Time          `json:"updated_at"`
}

func (s *Subscription) Validate() error {
	if s.UserID == "" {
		return invalid("user_id", "required")
	}
	if !s.Status.Valid() {
		return invalid("status", "unknown subscription status")
	}
	return nil
}

// PlanAt returns premium for an active or trialing subscription whose period
// has not ended. A nil subscription is free.
func (s *Subscription) PlanAt(now time.Time) Plan {
	if s == nil {
		return PlanFree
	}
	if s.Status != StatusActive && s.Status != StatusTrialing {
		return PlanFree
	}
	if s.CurrentPeriodEnd != nil && !s.CurrentPeriodEnd.IsZero() && !s.CurrentPeriodEnd.After(now) {
		return PlanFree
	}
	return PlanPremium
}
