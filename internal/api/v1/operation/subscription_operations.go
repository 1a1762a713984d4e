package operation

import "resizeme/internal/api/v1/dto"

type CreateSubscriptionInput struct {
	Body dto.CreateSubscriptionRequestDTO `json:"body"`
}

type CreateSubscriptionOutput struct {
	Body dto.CheckoutResponseDTO `json:"body"`
}

type VerifyPaymentInput struct {
	Body dto.VerifyPaymentRequestDTO `json:"body"`
}

type VerifyPaymentOutput struct {
	Body dto.SubscriptionResponseDTO `json:"body"`
}

type CancelSubscriptionInput struct{}

type CancelSubscriptionOutput struct {
	Body dto.SubscriptionResponseDTO `json:"body"`
}

type GetCurrentSubscriptionInput struct{}

type GetCurrentSubscriptionOutput struct {
	Body dto.CurrentSubscriptionResponseDTO `json:"body"`
}

type ListPaymentsInput struct {
	Limit int `query:"limit" default:"20" minimum:"1" maximum:"100" doc:"Number of payments to return"`
}

type ListPaymentsOutput struct {
	Body []dto.PaymentResponseDTO `json:"body"`
}
