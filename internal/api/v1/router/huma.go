package router

import (
	"net/http"
	"os"
	"strings"

	"resizeme/internal/api/v1/handler"
	"resizeme/internal/config"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

// WebhookPath is the raw gateway webhook endpoint; it authenticates by signature, not JWT.
const WebhookPath = "/webhooks/razorpay"

// uploadMaxBodyBytes allows the largest plan file size after base64 encoding.
const uploadMaxBodyBytes = 280 << 20

func isPublic(path string) bool {
	switch path {
	case "/openapi.json", "/openapi.yaml", "/docs", "/plans", WebhookPath:
		return true
	}
	return strings.HasPrefix(path, "/schemas")
}

// SetupHumaAPI creates a Huma API instance
func SetupHumaAPI(
	cfg *config.Config,
	authMiddleware func(http.Handler) http.Handler,
	subscriptionHandler *handler.SubscriptionHandler,
	logger zerolog.Logger,
) (*chi.Mux, huma.API) {
	chiRouter := chi.NewRouter()

	chiRouter.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if isPublic(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}
			authMiddleware(next).ServeHTTP(w, r)
		})
	})

	version := os.Getenv("GIT_COMMIT_SHA")
	if version == "" {
		version = "development"
	}

	humaConfig := huma.DefaultConfig("ResizeMe API v1", version)
	humaConfig.Info.Description = "ResizeMe billing, usage and entitlement API"
	humaConfig.Servers = []*huma.Server{{URL: cfg.APIBaseURL}}

	api := humachi.New(chiRouter, humaConfig)

	// The webhook signature covers the raw body, so it bypasses Huma's decoding.
	chiRouter.Post(WebhookPath, subscriptionHandler.RazorpayWebhook)

	logger.Info().Str("version", version).Msg("Huma API initialized for /v1")
	return chiRouter, api
}

// RegisterRoutes registers all Huma operations
func RegisterRoutes(
	api huma.API,
	usageHandler *handler.UsageHandler,
	subscriptionHandler *handler.SubscriptionHandler,
	fileHandler *handler.FileHandler,
	logger zerolog.Logger,
) {
	logger.Info().Msg("Registering routes")

	// ========== PLAN & USAGE OPERATIONS ==========
	huma.Register(api, huma.Operation{
		OperationID: "listPlans",
		Method:      http.MethodGet,
		Path:        "/plans",
		Summary:     "List plans",
		Description: "Returns the plan catalog with prices and limits",
		Tags:        []string{"plans"},
	}, usageHandler.ListPlans)

	huma.Register(api, huma.Operation{
		OperationID: "getUsage",
		Method:      http.MethodGet,
		Path:        "/usage",
		Summary:     "Get usage",
		Description: "Returns the authenticated user's counters for the current period and the limits of their plan",
		Tags:        []string{"usage"},
	}, usageHandler.GetUsage)

	huma.Register(api, huma.Operation{
		OperationID: "getUsageHistory",
		Method:      http.MethodGet,
		Path:        "/usage/history",
		Summary:     "Get download history",
		Tags:        []string{"usage"},
	}, usageHandler.GetUsageHistory)

	huma.Register(api, huma.Operation{
		OperationID: "checkEntitlement",
		Method:      http.MethodPost,
		Path:        "/entitlements/check",
		Summary:     "Check entitlement",
		Description: "Tells a tool whether an action is allowed and, if not, which limit requires an upgrade",
		Tags:        []string{"usage"},
	}, usageHandler.CheckEntitlement)

	huma.Register(api, huma.Operation{
		OperationID: "recordDownload",
		Method:      http.MethodPost,
		Path:        "/downloads",
		Summary:     "Record a download",
		Description: "Atomically checks the quota and consumes one download. Responds 402 upgrade_required at the limit",
		Tags:        []string{"usage"},
		Errors:      []int{http.StatusPaymentRequired},
	}, usageHandler.RecordDownload)

	huma.Register(api, huma.Operation{
		OperationID: "listRecentUploads",
		Method:      http.MethodGet,
		Path:        "/recent-uploads",
		Summary:     "List recent uploads",
		Tags:        []string{"usage"},
	}, usageHandler.ListRecentUploads)

	huma.Register(api, huma.Operation{
		OperationID:   "clearRecentUploads",
		Method:        http.MethodDelete,
		Path:          "/recent-uploads",
		Summary:       "Clear recent uploads",
		Tags:          []string{"usage"},
		DefaultStatus: http.StatusNoContent,
	}, usageHandler.ClearRecentUploads)

	// ========== SUBSCRIPTION OPERATIONS ==========
	huma.Register(api, huma.Operation{
		OperationID: "createSubscription",
		Method:      http.MethodPost,
		Path:        "/subscriptions",
		Summary:     "Start checkout",
		Description: "Creates a pending subscription at the payment gateway and returns the checkout reference",
		Tags:        []string{"subscriptions"},
		Errors:      []int{http.StatusBadRequest, http.StatusServiceUnavailable},
	}, subscriptionHandler.CreateSubscription)

	huma.Register(api, huma.Operation{
		OperationID: "verifyPayment",
		Method:      http.MethodPost,
		Path:        "/subscriptions/verify",
		Summary:     "Verify checkout payment",
		Description: "Verifies the signed checkout callback and activates the subscription",
		Tags:        []string{"subscriptions"},
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusServiceUnavailable},
	}, subscriptionHandler.VerifyPayment)

	huma.Register(api, huma.Operation{
		OperationID: "cancelSubscription",
		Method:      http.MethodPost,
		Path:        "/subscriptions/cancel",
		Summary:     "Cancel subscription",
		Description: "Cancels the live subscription at the end of the current billing period",
		Tags:        []string{"subscriptions"},
		Errors:      []int{http.StatusNotFound, http.StatusServiceUnavailable},
	}, subscriptionHandler.CancelSubscription)

	huma.Register(api, huma.Operation{
		OperationID: "getCurrentSubscription",
		Method:      http.MethodGet,
		Path:        "/subscriptions/current",
		Summary:     "Get current subscription",
		Tags:        []string{"subscriptions"},
	}, subscriptionHandler.GetCurrentSubscription)

	huma.Register(api, huma.Operation{
		OperationID: "listPayments",
		Method:      http.MethodGet,
		Path:        "/payments",
		Summary:     "List payments",
		Tags:        []string{"subscriptions"},
	}, subscriptionHandler.ListPayments)

	// ========== DRIVE OPERATIONS ==========
	huma.Register(api, huma.Operation{
		OperationID: "getDriveAuthURL",
		Method:      http.MethodGet,
		Path:        "/drive/auth-url",
		Summary:     "Get Google Drive consent URL",
		Tags:        []string{"drive"},
	}, fileHandler.GetDriveAuthURL)

	huma.Register(api, huma.Operation{
		OperationID: "connectDrive",
		Method:      http.MethodPost,
		Path:        "/drive/connect",
		Summary:     "Connect Google Drive",
		Tags:        []string{"drive"},
		Errors:      []int{http.StatusPaymentRequired},
	}, fileHandler.ConnectDrive)

	huma.Register(api, huma.Operation{
		OperationID:   "disconnectDrive",
		Method:        http.MethodDelete,
		Path:          "/drive/connect",
		Summary:       "Disconnect Google Drive",
		Tags:          []string{"drive"},
		DefaultStatus: http.StatusNoContent,
	}, fileHandler.DisconnectDrive)

	huma.Register(api, huma.Operation{
		OperationID: "listDriveFiles",
		Method:      http.MethodGet,
		Path:        "/drive/files",
		Summary:     "List files uploaded to Drive",
		Tags:        []string{"drive"},
	}, fileHandler.ListDriveFiles)

	huma.Register(api, huma.Operation{
		OperationID:   "uploadDriveFile",
		Method:        http.MethodPost,
		Path:          "/drive/files",
		Summary:       "Upload a processed image to Drive",
		Tags:          []string{"drive"},
		DefaultStatus: http.StatusCreated,
		MaxBodyBytes:  uploadMaxBodyBytes,
		Errors:        []int{http.StatusPaymentRequired, http.StatusConflict},
	}, fileHandler.UploadDriveFile)

	huma.Register(api, huma.Operation{
		OperationID:   "deleteDriveFile",
		Method:        http.MethodDelete,
		Path:          "/drive/files/{fileId}",
		Summary:       "Delete a Drive file",
		Tags:          []string{"drive"},
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusNotFound, http.StatusConflict},
	}, fileHandler.DeleteDriveFile)

	// ========== SAVED FILE OPERATIONS ==========
	huma.Register(api, huma.Operation{
		OperationID: "listSavedFiles",
		Method:      http.MethodGet,
		Path:        "/files",
		Summary:     "List saved files",
		Tags:        []string{"files"},
	}, fileHandler.ListSavedFiles)

	huma.Register(api, huma.Operation{
		OperationID:   "saveFile",
		Method:        http.MethodPost,
		Path:          "/files",
		Summary:       "Save a processed image",
		Tags:          []string{"files"},
		DefaultStatus: http.StatusCreated,
		MaxBodyBytes:  uploadMaxBodyBytes,
		Errors:        []int{http.StatusPaymentRequired},
	}, fileHandler.SaveFile)

	huma.Register(api, huma.Operation{
		OperationID:   "deleteSavedFile",
		Method:        http.MethodDelete,
		Path:          "/files/{fileId}",
		Summary:       "Delete a saved file",
		Tags:          []string{"files"},
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusNotFound},
	}, fileHandler.DeleteSavedFile)

	huma.Register(api, huma.Operation{
		OperationID: "getSavedFileDownload",
		Method:      http.MethodGet,
		Path:        "/files/{fileId}/download",
		Summary:     "Get a signed download URL",
		Tags:        []string{"files"},
		Errors:      []int{http.StatusNotFound},
	}, fileHandler.GetSavedFileDownload)

	logger.Info().Msg("Routes registered")
}
