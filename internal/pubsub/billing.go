package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Billing event types published on every committed subscription transition.
const (
	BillingSubscriptionActivated = "subscription.activated"
	BillingSubscriptionPastDue   = "subscription.past_due"
	BillingSubscriptionCanceling = "subscription.canceling"
	BillingSubscriptionCanceled  = "subscription.canceled"
	BillingPaymentFailed         = "payment.failed"
)

// BillingEvent is the message body consumers of the billing topic receive.
type BillingEvent struct {
	Type                  string    `json:"type"`
	UserID                string    `json:"user_id"`
	SubscriptionID        string    `json:"subscription_id,omitempty"`
	GatewaySubscriptionID string    `json:"gateway_subscription_id,omitempty"`
	PlanID                string    `json:"plan_id"`
	BillingCycle          string    `json:"billing_cycle"`
	Status                string    `json:"status"`
	PeriodEnd             time.Time `json:"period_end,omitempty"`
	OccurredAt            time.Time `json:"occurred_at"`
}

// BillingPublisher publishes BillingEvents to one topic.
type BillingPublisher struct {
	pub   Publisher
	topic string
}

func NewBillingPublisher(pub Publisher, topic string) *BillingPublisher {
	return &BillingPublisher{pub: pub, topic: topic}
}

// PublishBilling encodes and sends ev. It is a no-op without a topic.
func (b *BillingPublisher) PublishBilling(ctx context.Context, ev BillingEvent) error {
	if b == nil || b.pub == nil || b.topic == "" {
		return nil
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal billing event: %w", err)
	}
	attrs := map[string]string{"type": ev.Type, "user_id": ev.UserID}
	if _, err := b.pub.Publish(ctx, b.topic, payload, attrs); err != nil {
		return err
	}
	return nil
}
