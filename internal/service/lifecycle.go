package service

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"resizeme/internal/model"
	"resizeme/internal/plan"
)

// Gateway webhook event types.
const (
	EventSubscriptionActivated = "subscription.activated"
	EventSubscriptionCharged   = "subscription.charged"
	EventSubscriptionResumed   = "subscription.resumed"
	EventSubscriptionCancelled = "subscription.cancelled"
	EventSubscriptionCompleted = "subscription.completed"
	EventSubscriptionPending   = "subscription.pending"
	EventSubscriptionHalted    = "subscription.halted"
	EventPaymentFailed         = "payment.failed"
)

// WebhookEvent is a decoded gateway notification. ID is the idempotency key.
type WebhookEvent struct {
	ID             string
	Type           string
	SubscriptionID string
	GatewayPlanID  string
	UserID         string
	TierNote       string
	CurrentStart   time.Time
	CurrentEnd     time.Time
	Payment        *WebhookPayment
}

type WebhookPayment struct {
	ID       string
	Amount   int64
	Currency string
	Status   string
}

type rzpWebhook struct {
	Event   string `json:"event"`
	Payload struct {
		Subscription *struct {
			Entity rzpSubscription `json:"entity"`
		} `json:"subscription"`
		Payment *struct {
			Entity rzpPayment `json:"entity"`
		} `json:"payment"`
	} `json:"payload"`
}

type rzpSubscription struct {
	ID           string          `json:"id"`
	PlanID       string          `json:"plan_id"`
	Status       string          `json:"status"`
	CurrentStart *int64          `json:"current_start"`
	CurrentEnd   *int64          `json:"current_end"`
	Notes        json.RawMessage `json:"notes"`
}

type rzpPayment struct {
	ID             string          `json:"id"`
	Amount         int64           `json:"amount"`
	Currency       string          `json:"currency"`
	Status         string          `json:"status"`
	SubscriptionID string          `json:"subscription_id"`
	Notes          json.RawMessage `json:"notes"`
}

// notes are an object when set and an empty array otherwise.
func decodeNotes(raw json.RawMessage) map[string]string {
	notes := map[string]string{}
	if len(raw) == 0 {
		return notes
	}
	_ = json.Unmarshal(raw, &notes)
	return notes
}

// DecodeWebhook parses a raw webhook body. An empty eventID is replaced by
// the SHA-256 of the body so identical redeliveries share a key.
func DecodeWebhook(body []byte, eventID string) (*WebhookEvent, error) {
	var raw rzpWebhook
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedWebhook, err)
	}
	if raw.Event == "" {
		return nil, fmt.Errorf("%w: missing event type", ErrMalformedWebhook)
	}
	if eventID == "" {
		sum := sha256.Sum256(body)
		eventID = hex.EncodeToString(sum[:])
	}
	ev := &WebhookEvent{ID: eventID, Type: raw.Event}
	if s := raw.Payload.Subscription; s != nil {
		ev.SubscriptionID = s.Entity.ID
		ev.GatewayPlanID = s.Entity.PlanID
		if s.Entity.CurrentStart != nil {
			ev.CurrentStart = time.Unix(*s.Entity.CurrentStart, 0).UTC()
		}
		if s.Entity.CurrentEnd != nil {
			ev.CurrentEnd = time.Unix(*s.Entity.CurrentEnd, 0).UTC()
		}
		notes := decodeNotes(s.Entity.Notes)
		ev.UserID = notes["user_id"]
		ev.TierNote = notes["tier"]
	}
	if p := raw.Payload.Payment; p != nil {
		ev.Payment = &WebhookPayment{
			ID:       p.Entity.ID,
			Amount:   p.Entity.Amount,
			Currency: p.Entity.Currency,
			Status:   p.Entity.Status,
		}
		if ev.SubscriptionID == "" {
			ev.SubscriptionID = p.Entity.SubscriptionID
		}
		if ev.UserID == "" {
			ev.UserID = decodeNotes(p.Entity.Notes)["user_id"]
		}
	}
	return ev, nil
}

func activates(eventType string) bool {
	switch eventType {
	case EventSubscriptionActivated, EventSubscriptionCharged, EventSubscriptionResumed:
		return true
	}
	return false
}

// Outcome is the result of reducing one event against the current subscription.
type Outcome struct {
	// Ignored means the event does not change local state.
	Ignored      bool
	Subscription *model.Subscription
	Payment      *model.Payment
	// Tier is the user's new effective tier, when it changes.
	Tier      *model.Tier
	Supersede bool
}

// ReduceInput carries what the reducer needs besides the current row.
type ReduceInput struct {
	Event WebhookEvent
	// Tier resolved from the event's gateway plan id or notes.
	Tier     model.Tier
	TierOK   bool
	Currency string
	Now      time.Time
	NewID    func() string
}

// Reduce maps a gateway event onto the local subscription state machine. It
// performs no I/O. A canceled subscription is terminal and ignores status
// events, which makes late or duplicated deliveries harmless.
func Reduce(current *model.Subscription, in ReduceInput) Outcome {
	ev := in.Event
	switch ev.Type {
	case EventSubscriptionActivated, EventSubscriptionCharged, EventSubscriptionResumed:
		next, ok := activate(current, in)
		if !ok {
			// The gateway still captured money for a subscription we consider
			// closed, so the charge is kept in the payment audit.
			if ev.Type == EventSubscriptionCharged && current != nil && ev.Payment != nil && ev.Payment.ID != "" {
				return Outcome{Payment: paymentFrom(current.UserID, current.GatewaySubscriptionID, ev.Payment, model.PaymentSuccess, in)}
			}
			return Outcome{Ignored: true}
		}
		out := Outcome{Subscription: next, Tier: &next.Tier, Supersede: true}
		if ev.Type == EventSubscriptionCharged && ev.Payment != nil && ev.Payment.ID != "" {
			out.Payment = paymentFrom(next.UserID, next.GatewaySubscriptionID, ev.Payment, model.PaymentSuccess, in)
		}
		return out

	case EventSubscriptionCancelled, EventSubscriptionCompleted:
		if current == nil || current.Status == model.SubscriptionCanceled {
			return Outcome{Ignored: true}
		}
		next := *current
		next.Status = model.SubscriptionCanceled
		free := model.FreeTier
		return Outcome{Subscription: &next, Tier: &free}

	case EventSubscriptionPending, EventSubscriptionHalted:
		if current == nil || current.Status == model.SubscriptionCanceled {
			return Outcome{Ignored: true}
		}
		next := *current
		next.Status = model.SubscriptionPastDue
		return Outcome{Subscription: &next}

	case EventPaymentFailed:
		out := Outcome{}
		userID := ev.UserID
		subID := ev.SubscriptionID
		if current != nil {
			userID = current.UserID
			subID = current.GatewaySubscriptionID
			if current.Status == model.SubscriptionActive {
				next := *current
				next.Status = model.SubscriptionPastDue
				out.Subscription = &next
			}
		}
		if userID != "" && ev.Payment != nil && ev.Payment.ID != "" {
			out.Payment = paymentFrom(userID, subID, ev.Payment, model.PaymentFailed, in)
		}
		if out.Subscription == nil && out.Payment == nil {
			return Outcome{Ignored: true}
		}
		return out
	}
	return Outcome{Ignored: true}
}

func activate(current *model.Subscription, in ReduceInput) (*model.Subscription, bool) {
	ev := in.Event
	if current != nil {
		if current.Status == model.SubscriptionCanceled {
			return nil, false
		}
		next := *current
		next.Status = model.SubscriptionActive
		if !ev.CurrentEnd.IsZero() {
			next.CurrentPeriodStart = ev.CurrentStart
			next.CurrentPeriodEnd = ev.CurrentEnd
		}
		if in.TierOK {
			next.Tier = in.Tier
		}
		if ev.Type == EventSubscriptionResumed {
			next.CancelAtPeriodEnd = false
		}
		return &next, true
	}
	// Unknown subscription: only create it when the event identifies the user and a paid tier.
	if ev.UserID == "" || !in.TierOK || in.Tier.PlanID == plan.Free || ev.SubscriptionID == "" {
		return nil, false
	}
	start, end := ev.CurrentStart, ev.CurrentEnd
	if end.IsZero() {
		start = in.Now
		end = periodEnd(start, in.Tier.BillingCycle)
	}
	return &model.Subscription{
		ID:                    in.NewID(),
		UserID:                ev.UserID,
		Tier:                  in.Tier,
		GatewaySubscriptionID: ev.SubscriptionID,
		Status:                model.SubscriptionActive,
		CurrentPeriodStart:    start,
		CurrentPeriodEnd:      end,
	}, true
}

func paymentFrom(userID, subID string, p *WebhookPayment, status model.PaymentStatus, in ReduceInput) *model.Payment {
	currency := p.Currency
	if currency == "" {
		currency = in.Currency
	}
	return &model.Payment{
		ID:                    in.NewID(),
		UserID:                userID,
		Amount:                p.Amount,
		Currency:              currency,
		Status:                status,
		GatewayPaymentID:      p.ID,
		GatewaySubscriptionID: subID,
		CreatedAt:             in.Now,
	}
}

// periodEnd returns the end of a billing period starting at start.
func periodEnd(start time.Time, cycle plan.BillingCycle) time.Time {
	if cycle == plan.Yearly {
		return model.AddMonths(start, 12)
	}
	return model.AddMonths(start, 1)
}
