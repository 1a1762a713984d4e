package handler

import (
	"context"
	"errors"
	"net/http"

	"resizeme/internal/entitlement"
	"resizeme/internal/middleware"
	"resizeme/internal/service"

	"github.com/danielgtaylor/huma/v2"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
)

// Error codes returned in the "error" field of APIError bodies.
const (
	CodeUpgradeRequired   = "upgrade_required"
	CodeDriveNotConnected = "drive_not_connected"
)

// APIError is a status error with a machine-readable code the frontends branch on.
type APIError struct {
	Status  int    `json:"-"`
	Code    string `json:"error"`
	Reason  string `json:"reason,omitempty"`
	Message string `json:"message,omitempty"`
}

func (e *APIError) Error() string {
	return e.Message
}

func (e *APIError) GetStatus() int {
	return e.Status
}

// UpgradeRequired is the 402 body the tool frontends turn into an upgrade prompt.
func UpgradeRequired(reason string) *APIError {
	return &APIError{
		Status:  http.StatusPaymentRequired,
		Code:    CodeUpgradeRequired,
		Reason:  reason,
		Message: "Upgrade your plan to continue",
	}
}

// Helper to extract user ID from context (injected by auth middleware)
func getUserIDFromContext(ctx context.Context) (string, error) {
	userID, ok := middleware.UserIDFromContext(ctx)
	if !ok {
		return "", huma.Error401Unauthorized("User ID not found in context")
	}
	return userID, nil
}

// mapError translates service errors to HTTP errors. Unexpected errors are logged
// and reported as 500 with msg.
func mapError(logger zerolog.Logger, err error, msg string) error {
	var quota *entitlement.QuotaExceededError
	var invalid validator.ValidationErrors
	switch {
	case errors.As(err, &quota):
		return UpgradeRequired(string(quota.Reason))
	case errors.Is(err, service.ErrFeatureUnavailable):
		return &APIError{Status: http.StatusPaymentRequired, Code: CodeUpgradeRequired, Reason: "feature", Message: "Your plan does not include this feature"}
	case errors.Is(err, service.ErrNotConnected):
		return &APIError{Status: http.StatusConflict, Code: CodeDriveNotConnected, Message: "Connect Google Drive first"}
	case errors.Is(err, service.ErrInvalidSignature):
		return huma.Error400BadRequest("Invalid signature")
	case errors.Is(err, service.ErrInvalidPlan):
		return huma.Error400BadRequest("Invalid plan")
	case errors.Is(err, service.ErrSubscriptionMismatch):
		return huma.Error403Forbidden("Subscription does not belong to the authenticated user")
	case errors.Is(err, service.ErrNoActiveSubscription):
		return huma.Error404NotFound("No active subscription")
	case errors.Is(err, service.ErrFileNotFound):
		return huma.Error404NotFound("File not found")
	case errors.Is(err, service.ErrGatewayUnavailable):
		logger.Error().Err(err).Msg(msg)
		return huma.Error503ServiceUnavailable("Payment gateway unavailable, please retry")
	case errors.Is(err, service.ErrStorageDisabled):
		return huma.Error501NotImplemented("File storage is not configured")
	case errors.As(err, &invalid):
		return huma.Error422UnprocessableEntity(invalid.Error())
	}
	logger.Error().Err(err).Msg(msg)
	return huma.Error500InternalServerError(msg)
}
