package dto

import "time"

type CreateSubscriptionRequestDTO struct {
	PlanID       string `json:"plan_id" enum:"pro,business"`
	BillingCycle string `json:"billing_cycle" enum:"monthly,yearly"`
}

type CheckoutResponseDTO struct {
	SubscriptionID string `json:"subscription_id" doc:"Gateway subscription id passed to the checkout widget"`
	KeyID          string `json:"key_id"`
	PlanID         string `json:"plan_id"`
	BillingCycle   string `json:"billing_cycle"`
}

type VerifyPaymentRequestDTO struct {
	PaymentID      string `json:"razorpay_payment_id" minLength:"1"`
	SubscriptionID string `json:"razorpay_subscription_id" minLength:"1"`
	Signature      string `json:"razorpay_signature" minLength:"1"`
}

type SubscriptionResponseDTO struct {
	ID                    string    `json:"id"`
	PlanID                string    `json:"plan_id"`
	BillingCycle          string    `json:"billing_cycle"`
	Status                string    `json:"status"`
	State                 string    `json:"state" enum:"active,canceled_pending,past_due,canceled"`
	GatewaySubscriptionID string    `json:"gateway_subscription_id"`
	CurrentPeriodStart    time.Time `json:"current_period_start"`
	CurrentPeriodEnd      time.Time `json:"current_period_end"`
	CancelAtPeriodEnd     bool      `json:"cancel_at_period_end"`
}

type CurrentSubscriptionResponseDTO struct {
	EffectivePlanID string                   `json:"effective_plan_id"`
	Subscription    *SubscriptionResponseDTO `json:"subscription,omitempty"`
}

type PaymentResponseDTO struct {
	ID               string    `json:"id"`
	Amount           int64     `json:"amount"`
	AmountFormatted  string    `json:"amount_formatted"`
	Currency         string    `json:"currency"`
	Status           string    `json:"status"`
	GatewayPaymentID string    `json:"gateway_payment_id"`
	CreatedAt        time.Time `json:"created_at"`
}
