package service

import "errors"

var (
	// ErrInvalidSignature is returned when a payment callback or webhook signature does not match.
	ErrInvalidSignature = errors.New("invalid signature")
	// ErrGatewayUnavailable wraps transient payment gateway failures; callers may retry.
	ErrGatewayUnavailable = errors.New("payment gateway unavailable")
	// ErrNotConnected is returned when the user has not linked Google Drive.
	ErrNotConnected = errors.New("drive not connected")
	// ErrPersistence wraps storage failures that must abort the user-facing action.
	ErrPersistence = errors.New("persistence failure")

	ErrInvalidPlan          = errors.New("invalid plan")
	ErrNoActiveSubscription = errors.New("no active subscription")
	ErrSubscriptionMismatch = errors.New("subscription does not belong to user")
	ErrFileNotFound         = errors.New("file not found")
	ErrFeatureUnavailable   = errors.New("feature not included in plan")
	ErrStorageDisabled      = errors.New("file storage is not configured")
	ErrMalformedWebhook     = errors.New("malformed webhook")
)
