package handler

import (
	"context"

	"resizeme/internal/api/v1/dto"
	"resizeme/internal/api/v1/operation"
	"resizeme/internal/entitlement"
	"resizeme/internal/model"
	"resizeme/internal/plan"
	"resizeme/internal/recent"
	"resizeme/internal/service"

	"github.com/rs/zerolog"
)

// UsageHandler implements plan, usage, entitlement and recent-upload operations
type UsageHandler struct {
	usageService       service.UsageService
	entitlementService service.EntitlementService
	recentStore        recent.Store
	logger             zerolog.Logger
}

func NewUsageHandler(usageService service.UsageService, entitlementService service.EntitlementService, recentStore recent.Store, logger zerolog.Logger) *UsageHandler {
	return &UsageHandler{
		usageService:       usageService,
		entitlementService: entitlementService,
		recentStore:        recentStore,
		logger:             logger.With().Str("handler", "UsageHandler").Logger(),
	}
}

func limitsDTO(p plan.Plan) dto.PlanLimitsDTO {
	return dto.PlanLimitsDTO{
		MaxFileSizeBytes:  p.MaxFileSizeBytes,
		DownloadsPerMonth: p.DownloadsPerMonth,
		StorageLimitBytes: p.StorageLimitBytes,
	}
}

func featuresDTO(p plan.Plan) dto.PlanFeaturesDTO {
	return dto.PlanFeaturesDTO{
		AdFree:           p.AdFree,
		DriveIntegration: p.DriveIntegration,
		BulkProcessing:   p.BulkProcessing,
	}
}

func usageDTO(p plan.Plan, u *model.UsageRecord) dto.UsageResponseDTO {
	return dto.UsageResponseDTO{
		PlanID:             string(u.Tier.PlanID),
		BillingCycle:       string(u.Tier.BillingCycle),
		DownloadsThisMonth: u.DownloadsThisMonth,
		StorageUsedBytes:   u.StorageUsedBytes,
		PeriodStart:        u.PeriodStart,
		PeriodEnd:          u.PeriodEnd,
		Limits:             limitsDTO(p),
		Features:           featuresDTO(p),
	}
}

// ListPlans returns the plan catalog in display order
func (h *UsageHandler) ListPlans(ctx context.Context, input *operation.ListPlansInput) (*operation.ListPlansOutput, error) {
	plans := plan.All()
	out := make([]dto.PlanResponseDTO, 0, len(plans))
	for _, p := range plans {
		out = append(out, dto.PlanResponseDTO{
			ID:                    string(p.ID),
			Name:                  p.Name,
			Description:           p.Description,
			Currency:              p.Currency,
			MonthlyPrice:          p.MonthlyPrice,
			YearlyPrice:           p.YearlyPrice,
			MonthlyPriceFormatted: plan.FormatPrice(p.MonthlyPrice, p.Currency),
			YearlyPriceFormatted:  plan.FormatPrice(p.YearlyPrice, p.Currency),
			Limits:                limitsDTO(p),
			Features:              featuresDTO(p),
		})
	}
	return &operation.ListPlansOutput{Body: out}, nil
}

// GetUsage returns the authenticated user's counters and limits
func (h *UsageHandler) GetUsage(ctx context.Context, input *operation.GetUsageInput) (*operation.GetUsageOutput, error) {
	userID, err := getUserIDFromContext(ctx)
	if err != nil {
		return nil, err
	}
	snap, err := h.entitlementService.Snapshot(ctx, userID)
	if err != nil {
		return nil, mapError(h.logger, err, "Failed to get usage")
	}
	return &operation.GetUsageOutput{Body: usageDTO(snap.Plan, snap.Usage)}, nil
}

// GetUsageHistory returns the user's download activity, newest first
func (h *UsageHandler) GetUsageHistory(ctx context.Context, input *operation.GetUsageHistoryInput) (*operation.GetUsageHistoryOutput, error) {
	userID, err := getUserIDFromContext(ctx)
	if err != nil {
		return nil, err
	}
	events, err := h.usageService.History(ctx, userID, input.Limit, input.Offset)
	if err != nil {
		return nil, mapError(h.logger, err, "Failed to get usage history")
	}
	out := make([]dto.DownloadEventDTO, 0, len(events))
	for _, ev := range events {
		out = append(out, dto.DownloadEventDTO{
			ID:        ev.ID,
			ToolName:  ev.ToolName,
			FileName:  ev.FileName,
			SizeBytes: ev.FileSize,
			CreatedAt: ev.CreatedAt,
		})
	}
	return &operation.GetUsageHistoryOutput{Body: out}, nil
}

// CheckEntitlement tells a tool whether an action is allowed before any work is done
func (h *UsageHandler) CheckEntitlement(ctx context.Context, input *operation.CheckEntitlementInput) (*operation.CheckEntitlementOutput, error) {
	userID, err := getUserIDFromContext(ctx)
	if err != nil {
		return nil, err
	}
	req := entitlement.Request{
		Action:        entitlement.Action(input.Body.Action),
		FileSizeBytes: input.Body.FileSizeBytes,
	}
	decision, snap, err := h.entitlementService.Check(ctx, userID, req)
	if err != nil {
		return nil, mapError(h.logger, err, "Failed to check entitlement")
	}
	return &operation.CheckEntitlementOutput{
		Body: dto.EntitlementCheckResponseDTO{
			Allowed: decision.Allowed,
			Reason:  string(decision.Reason),
			PlanID:  string(snap.Plan.ID),
		},
	}, nil
}

// RecordDownload consumes one download after a successful transform
func (h *UsageHandler) RecordDownload(ctx context.Context, input *operation.RecordDownloadInput) (*operation.RecordDownloadOutput, error) {
	userID, err := getUserIDFromContext(ctx)
	if err != nil {
		return nil, err
	}
	u, err := h.entitlementService.AuthorizeDownload(ctx, userID, service.DownloadInput{
		SizeBytes: input.Body.SizeBytes,
		ToolName:  input.Body.ToolName,
		FileName:  input.Body.FileName,
	})
	if err != nil {
		return nil, mapError(h.logger, err, "Failed to record download")
	}
	return &operation.RecordDownloadOutput{Body: usageDTO(plan.Resolve(u.Tier.PlanID), u)}, nil
}

// ListRecentUploads returns the user's most recent processed files
func (h *UsageHandler) ListRecentUploads(ctx context.Context, input *operation.ListRecentUploadsInput) (*operation.ListRecentUploadsOutput, error) {
	userID, err := getUserIDFromContext(ctx)
	if err != nil {
		return nil, err
	}
	entries, err := h.recentStore.List(ctx, userID)
	if err != nil {
		return nil, mapError(h.logger, err, "Failed to list recent uploads")
	}
	out := make([]dto.RecentUploadDTO, 0, len(entries))
	for _, e := range entries {
		out = append(out, dto.RecentUploadDTO{FileName: e.FileName, ToolName: e.ToolName, SizeBytes: e.SizeBytes, CreatedAt: e.CreatedAt})
	}
	return &operation.ListRecentUploadsOutput{Body: out}, nil
}

// ClearRecentUploads forgets the user's recent uploads
func (h *UsageHandler) ClearRecentUploads(ctx context.Context, input *operation.ClearRecentUploadsInput) (*operation.ClearRecentUploadsOutput, error) {
	userID, err := getUserIDFromContext(ctx)
	if err != nil {
		return nil, err
	}
	if err := h.recentStore.Clear(ctx, userID); err != nil {
		return nil, mapError(h.logger, err, "Failed to clear recent uploads")
	}
	return &operation.ClearRecentUploadsOutput{}, nil
}
