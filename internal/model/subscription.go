package model

import (
	"time"

	"resizeme/internal/plan"
)

type SubscriptionStatus string

const (
	SubscriptionActive   SubscriptionStatus = "active"
	SubscriptionCanceled SubscriptionStatus = "canceled"
	SubscriptionPastDue  SubscriptionStatus = "past_due"
)

// Live reports whether the status still grants the subscribed tier.
func (s SubscriptionStatus) Live() bool {
	return s == SubscriptionActive || s == SubscriptionPastDue
}

// Subscription is one user-plan engagement. At most one live row exists per user.
type Subscription struct {
	ID                    string             `db:"id" json:"id"`
	UserID                string             `db:"user_id" json:"user_id"`
	Tier                  Tier               `json:"tier"`
	GatewaySubscriptionID string             `db:"gateway_subscription_id" json:"gateway_subscription_id"`
	Status                SubscriptionStatus `db:"status" json:"status"`
	CurrentPeriodStart    time.Time          `db:"current_period_start" json:"current_period_start"`
	CurrentPeriodEnd      time.Time          `db:"current_period_end" json:"current_period_end"`
	CancelAtPeriodEnd     bool               `db:"cancel_at_period_end" json:"cancel_at_period_end"`
	CreatedAt             time.Time          `db:"created_at" json:"created_at"`
	UpdatedAt             time.Time          `db:"updated_at" json:"updated_at"`
}

// LifecycleState is the derived position of a subscription in its state machine.
type LifecycleState string

const (
	StateNone            LifecycleState = "none"
	StateActive          LifecycleState = "active"
	StateCanceledPending LifecycleState = "canceled_pending"
	StatePastDue         LifecycleState = "past_due"
	StateCanceled        LifecycleState = "canceled"
)

// State derives the lifecycle state at time now. A nil subscription is StateNone.
func (s *Subscription) State(now time.Time) LifecycleState {
	if s == nil {
		return StateNone
	}
	switch s.Status {
	case SubscriptionCanceled:
		return StateCanceled
	case SubscriptionPastDue:
		if now.After(s.CurrentPeriodEnd) {
			return StateCanceled
		}
		return StatePastDue
	}
	if s.CancelAtPeriodEnd {
		if now.After(s.CurrentPeriodEnd) {
			return StateCanceled
		}
		return StateCanceledPending
	}
	return StateActive
}

// EffectiveTier is the tier the subscription grants at time now.
func (s *Subscription) EffectiveTier(now time.Time) Tier {
	switch s.State(now) {
	case StateActive, StateCanceledPending, StatePastDue:
		return s.Tier
	}
	return FreeTier
}

// EffectivePlan resolves the catalog plan granted at time now.
func (s *Subscription) EffectivePlan(now time.Time) plan.Plan {
	return plan.Resolve(s.EffectiveTier(now).PlanID)
}

type PaymentStatus string

const (
	PaymentSuccess PaymentStatus = "success"
	PaymentFailed  PaymentStatus = "failed"
	PaymentPending PaymentStatus = "pending"
)

// Payment is an append-only audit record of a billing transaction.
type Payment struct {
	ID                    string        `db:"id" json:"id"`
	UserID                string        `db:"user_id" json:"user_id"`
	Amount                int64         `db:"amount" json:"amount"`
	Currency              string        `db:"currency" json:"currency"`
	Status                PaymentStatus `db:"status" json:"status"`
	GatewayPaymentID      string        `db:"gateway_payment_id" json:"gateway_payment_id"`
	GatewaySubscriptionID string        `db:"gateway_subscription_id" json:"gateway_subscription_id"`
	CreatedAt             time.Time     `db:"created_at" json:"created_at"`
}

// ProcessedWebhook records a gateway event id that has already been applied.
type ProcessedWebhook struct {
	EventID     string    `db:"event_id"`
	EventType   string    `db:"event_type"`
	ProcessedAt time.Time `db:"processed_at"`
}
