package operation

import "resizeme/internal/api/v1/dto"

// Plan Operations

type ListPlansInput struct{}

type ListPlansOutput struct {
	Body []dto.PlanResponseDTO `json:"body"`
}

// Usage Operations

type GetUsageInput struct {
	// No input needed - user ID comes from auth context
}

type GetUsageOutput struct {
	Body dto.UsageResponseDTO `json:"body"`
}

type GetUsageHistoryInput struct {
	Limit  int `query:"limit" default:"20" minimum:"1" maximum:"100" doc:"Number of events to return"`
	Offset int `query:"offset" default:"0" minimum:"0" doc:"Offset for pagination"`
}

type GetUsageHistoryOutput struct {
	Body []dto.DownloadEventDTO `json:"body"`
}

type CheckEntitlementInput struct {
	Body dto.EntitlementCheckRequestDTO `json:"body"`
}

type CheckEntitlementOutput struct {
	Body dto.EntitlementCheckResponseDTO `json:"body"`
}

type RecordDownloadInput struct {
	Body dto.DownloadRequestDTO `json:"body"`
}

type RecordDownloadOutput struct {
	Body dto.UsageResponseDTO `json:"body"`
}

// Recent Upload Operations

type ListRecentUploadsInput struct{}

type ListRecentUploadsOutput struct {
	Body []dto.RecentUploadDTO `json:"body"`
}

type ClearRecentUploadsInput struct{}

type ClearRecentUploadsOutput struct {
	// 204 No Content - no body
}
