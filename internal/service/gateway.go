package service

import (
	"context"
	"time"

	"resizeme/internal/config"
	"resizeme/internal/model"
	"resizeme/internal/plan"
)

// Gateway is the external payment gateway that owns recurring billing.
type Gateway interface {
	// KeyID is the public key the checkout widget needs.
	KeyID() string
	CreateSubscription(ctx context.Context, req GatewaySubscriptionRequest) (*GatewaySubscription, error)
	FetchSubscription(ctx context.Context, subscriptionID string) (*GatewaySubscription, error)
	CancelSubscription(ctx context.Context, subscriptionID string, atCycleEnd bool) error
}

type GatewaySubscriptionRequest struct {
	UserID        string
	Tier          model.Tier
	GatewayPlanID string
	TotalCount    int
}

// GatewaySubscription is the gateway's view of a subscription. It is the only
// trusted source of the user, tier and billing period.
type GatewaySubscription struct {
	ID            string
	GatewayPlanID string
	Status        string
	UserID        string
	Tier          model.Tier
	CurrentStart  time.Time
	CurrentEnd    time.Time
}

// PlanMap translates between local tiers and gateway plan ids.
type PlanMap struct {
	byTier map[model.Tier]string
	byID   map[string]model.Tier
}

func NewPlanMap(cfg *config.Config) *PlanMap {
	m := &PlanMap{byTier: map[model.Tier]string{}, byID: map[string]model.Tier{}}
	m.add(model.Tier{PlanID: plan.Pro, BillingCycle: plan.Monthly}, cfg.RazorpayPlanProMonthly)
	m.add(model.Tier{PlanID: plan.Pro, BillingCycle: plan.Yearly}, cfg.RazorpayPlanProYearly)
	m.add(model.Tier{PlanID: plan.Business, BillingCycle: plan.Monthly}, cfg.RazorpayPlanBusinessMonthly)
	m.add(model.Tier{PlanID: plan.Business, BillingCycle: plan.Yearly}, cfg.RazorpayPlanBusinessYearly)
	return m
}

func (m *PlanMap) add(t model.Tier, gatewayPlanID string) {
	if gatewayPlanID == "" {
		return
	}
	m.byTier[t] = gatewayPlanID
	m.byID[gatewayPlanID] = t
}

// GatewayPlanID returns the gateway plan id configured for the tier.
func (m *PlanMap) GatewayPlanID(t model.Tier) (string, bool) {
	id, ok := m.byTier[t]
	return id, ok
}

// Tier returns the local tier for a gateway plan id.
func (m *PlanMap) Tier(gatewayPlanID string) (model.Tier, bool) {
	t, ok := m.byID[gatewayPlanID]
	return t, ok
}
