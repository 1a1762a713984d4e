package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"resizeme/internal/api/v1/dto"
	"resizeme/internal/api/v1/operation"
	"resizeme/internal/model"
	"resizeme/internal/plan"
	"resizeme/internal/service"

	"github.com/rs/zerolog"
)

// maxWebhookBytes bounds the raw webhook body read before verification.
const maxWebhookBytes = 1 << 20

// SubscriptionHandler implements checkout, verification, cancellation and the gateway webhook
type SubscriptionHandler struct {
	subscriptionService service.SubscriptionService
	now                 func() time.Time
	logger              zerolog.Logger
}

func NewSubscriptionHandler(subscriptionService service.SubscriptionService, logger zerolog.Logger) *SubscriptionHandler {
	return &SubscriptionHandler{
		subscriptionService: subscriptionService,
		now:                 time.Now,
		logger:              logger.With().Str("handler", "SubscriptionHandler").Logger(),
	}
}

func subscriptionDTO(s *model.Subscription, now time.Time) dto.SubscriptionResponseDTO {
	return dto.SubscriptionResponseDTO{
		ID:                    s.ID,
		PlanID:                string(s.Tier.PlanID),
		BillingCycle:          string(s.Tier.BillingCycle),
		Status:                string(s.Status),
		State:                 string(s.State(now)),
		GatewaySubscriptionID: s.GatewaySubscriptionID,
		CurrentPeriodStart:    s.CurrentPeriodStart,
		CurrentPeriodEnd:      s.CurrentPeriodEnd,
		CancelAtPeriodEnd:     s.CancelAtPeriodEnd,
	}
}

// CreateSubscription opens a pending gateway subscription for checkout
func (h *SubscriptionHandler) CreateSubscription(ctx context.Context, input *operation.CreateSubscriptionInput) (*operation.CreateSubscriptionOutput, error) {
	userID, err := getUserIDFromContext(ctx)
	if err != nil {
		return nil, err
	}
	ref, err := h.subscriptionService.CreateSubscription(ctx, userID, plan.ID(input.Body.PlanID), plan.BillingCycle(input.Body.BillingCycle))
	if err != nil {
		return nil, mapError(h.logger, err, "Failed to create subscription")
	}
	return &operation.CreateSubscriptionOutput{
		Body: dto.CheckoutResponseDTO{
			SubscriptionID: ref.SubscriptionID,
			KeyID:          ref.KeyID,
			PlanID:         string(ref.Tier.PlanID),
			BillingCycle:   string(ref.Tier.BillingCycle),
		},
	}, nil
}

// VerifyPayment activates a subscription from a signed checkout callback
func (h *SubscriptionHandler) VerifyPayment(ctx context.Context, input *operation.VerifyPaymentInput) (*operation.VerifyPaymentOutput, error) {
	userID, err := getUserIDFromContext(ctx)
	if err != nil {
		return nil, err
	}
	sub, err := h.subscriptionService.VerifyPayment(ctx, userID, service.VerifyPaymentInput{
		PaymentID:      input.Body.PaymentID,
		SubscriptionID: input.Body.SubscriptionID,
		Signature:      input.Body.Signature,
	})
	if err != nil {
		return nil, mapError(h.logger, err, "Failed to verify payment")
	}
	return &operation.VerifyPaymentOutput{Body: subscriptionDTO(sub, h.now())}, nil
}

// CancelSubscription cancels the live subscription at the end of its period
func (h *SubscriptionHandler) CancelSubscription(ctx context.Context, input *operation.CancelSubscriptionInput) (*operation.CancelSubscriptionOutput, error) {
	userID, err := getUserIDFromContext(ctx)
	if err != nil {
		return nil, err
	}
	sub, err := h.subscriptionService.Cancel(ctx, userID)
	if err != nil {
		return nil, mapError(h.logger, err, "Failed to cancel subscription")
	}
	return &operation.CancelSubscriptionOutput{Body: subscriptionDTO(sub, h.now())}, nil
}

// GetCurrentSubscription returns the effective plan and the latest subscription
func (h *SubscriptionHandler) GetCurrentSubscription(ctx context.Context, input *operation.GetCurrentSubscriptionInput) (*operation.GetCurrentSubscriptionOutput, error) {
	userID, err := getUserIDFromContext(ctx)
	if err != nil {
		return nil, err
	}
	sub, err := h.subscriptionService.Current(ctx, userID)
	if err != nil {
		return nil, mapError(h.logger, err, "Failed to get subscription")
	}
	now := h.now()
	body := dto.CurrentSubscriptionResponseDTO{EffectivePlanID: string(plan.Free)}
	if sub != nil {
		d := subscriptionDTO(sub, now)
		body.Subscription = &d
		body.EffectivePlanID = string(sub.EffectiveTier(now).PlanID)
	}
	return &operation.GetCurrentSubscriptionOutput{Body: body}, nil
}

// ListPayments returns the user's payment audit trail
func (h *SubscriptionHandler) ListPayments(ctx context.Context, input *operation.ListPaymentsInput) (*operation.ListPaymentsOutput, error) {
	userID, err := getUserIDFromContext(ctx)
	if err != nil {
		return nil, err
	}
	payments, err := h.subscriptionService.Payments(ctx, userID, input.Limit)
	if err != nil {
		return nil, mapError(h.logger, err, "Failed to list payments")
	}
	out := make([]dto.PaymentResponseDTO, 0, len(payments))
	for _, p := range payments {
		out = append(out, dto.PaymentResponseDTO{
			ID:               p.ID,
			Amount:           p.Amount,
			AmountFormatted:  plan.FormatPrice(p.Amount, p.Currency),
			Currency:         p.Currency,
			Status:           string(p.Status),
			GatewayPaymentID: p.GatewayPaymentID,
			CreatedAt:        p.CreatedAt,
		})
	}
	return &operation.ListPaymentsOutput{Body: out}, nil
}

// RazorpayWebhook is mounted as a raw handler: the signature covers the exact body bytes.
func (h *SubscriptionHandler) RazorpayWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBytes))
	if err != nil {
		h.logger.Warn().Err(err).Msg("Failed to read webhook body")
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unreadable body"})
		return
	}

	applied, err := h.subscriptionService.HandleWebhook(r.Context(), body, r.Header.Get("X-Razorpay-Signature"), r.Header.Get("X-Razorpay-Event-Id"))
	switch {
	case errors.Is(err, service.ErrInvalidSignature):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid signature"})
		return
	case errors.Is(err, service.ErrMalformedWebhook):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "malformed payload"})
		return
	case err != nil:
		// Non-2xx makes the gateway redeliver.
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "processing failed"})
		return
	}

	status := "processed"
	if !applied {
		status = "duplicate"
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": status})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
