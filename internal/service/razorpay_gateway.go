package service

import (
	"context"
	"fmt"
	"time"

	"resizeme/internal/model"

	razorpay "github.com/razorpay/razorpay-go"
	"github.com/rs/zerolog"
)

// RazorpayGateway implements Gateway with the Razorpay subscriptions API.
type RazorpayGateway struct {
	client *razorpay.Client
	keyID  string
	plans  *PlanMap
	logger zerolog.Logger
}

func NewRazorpayGateway(keyID, keySecret string, plans *PlanMap, logger zerolog.Logger) *RazorpayGateway {
	return &RazorpayGateway{
		client: razorpay.NewClient(keyID, keySecret),
		keyID:  keyID,
		plans:  plans,
		logger: logger.With().Str("service", "RazorpayGateway").Logger(),
	}
}

func (g *RazorpayGateway) KeyID() string {
	return g.keyID
}

func (g *RazorpayGateway) CreateSubscription(ctx context.Context, req GatewaySubscriptionRequest) (*GatewaySubscription, error) {
	data := map[string]interface{}{
		"plan_id":         req.GatewayPlanID,
		"total_count":     req.TotalCount,
		"customer_notify": 1,
		"notes": map[string]interface{}{
			"user_id": req.UserID,
			"tier":    req.Tier.String(),
		},
	}
	body, err := callGateway(ctx, func() (map[string]interface{}, error) {
		return g.client.Subscription.Create(data, nil)
	})
	if err != nil {
		g.logger.Error().Err(err).Str("user_id", req.UserID).Str("tier", req.Tier.String()).Msg("Failed to create Razorpay subscription")
		return nil, fmt.Errorf("%w: create subscription: %v", ErrGatewayUnavailable, err)
	}
	return g.decode(body)
}

func (g *RazorpayGateway) FetchSubscription(ctx context.Context, subscriptionID string) (*GatewaySubscription, error) {
	body, err := callGateway(ctx, func() (map[string]interface{}, error) {
		return g.client.Subscription.Fetch(subscriptionID, nil, nil)
	})
	if err != nil {
		g.logger.Error().Err(err).Str("subscription_id", subscriptionID).Msg("Failed to fetch Razorpay subscription")
		return nil, fmt.Errorf("%w: fetch subscription: %v", ErrGatewayUnavailable, err)
	}
	return g.decode(body)
}

func (g *RazorpayGateway) CancelSubscription(ctx context.Context, subscriptionID string, atCycleEnd bool) error {
	data := map[string]interface{}{"cancel_at_cycle_end": boolToInt(atCycleEnd)}
	_, err := callGateway(ctx, func() (map[string]interface{}, error) {
		return g.client.Subscription.Cancel(subscriptionID, data, nil)
	})
	if err != nil {
		g.logger.Error().Err(err).Str("subscription_id", subscriptionID).Msg("Failed to cancel Razorpay subscription")
		return fmt.Errorf("%w: cancel subscription: %v", ErrGatewayUnavailable, err)
	}
	return nil
}

// decode maps a Razorpay subscription entity. The tier comes from the gateway
// plan id; the notes written at creation are used only when the plan id is not configured.
func (g *RazorpayGateway) decode(body map[string]interface{}) (*GatewaySubscription, error) {
	sub := &GatewaySubscription{
		ID:            stringField(body, "id"),
		GatewayPlanID: stringField(body, "plan_id"),
		Status:        stringField(body, "status"),
		CurrentStart:  unixField(body, "current_start"),
		CurrentEnd:    unixField(body, "current_end"),
	}
	if sub.ID == "" {
		return nil, fmt.Errorf("%w: subscription response without id", ErrGatewayUnavailable)
	}
	notes, _ := body["notes"].(map[string]interface{})
	sub.UserID = stringField(notes, "user_id")
	if t, ok := g.plans.Tier(sub.GatewayPlanID); ok {
		sub.Tier = t
	} else if t, err := model.ParseTier(stringField(notes, "tier")); err == nil {
		sub.Tier = t
	}
	return sub, nil
}

// callGateway runs a blocking SDK call and gives up when ctx ends.
func callGateway(ctx context.Context, fn func() (map[string]interface{}, error)) (map[string]interface{}, error) {
	type result struct {
		body map[string]interface{}
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		body, err := fn()
		ch <- result{body: body, err: err}
	}()
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-ch:
		return r.body, r.err
	}
}

func stringField(m map[string]interface{}, key string) string {
	if m == nil {
		return ""
	}
	s, _ := m[key].(string)
	return s
}

func unixField(m map[string]interface{}, key string) time.Time {
	switch v := m[key].(type) {
	case float64:
		return time.Unix(int64(v), 0).UTC()
	case int64:
		return time.Unix(v, 0).UTC()
	case int:
		return time.Unix(int64(v), 0).UTC()
	}
	return time.Time{}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
