package dto

import "time"

type UsageResponseDTO struct {
	PlanID             string          `json:"plan_id"`
	BillingCycle       string          `json:"billing_cycle"`
	DownloadsThisMonth int64           `json:"downloads_this_month"`
	StorageUsedBytes   int64           `json:"storage_used_bytes"`
	PeriodStart        time.Time       `json:"period_start"`
	PeriodEnd          time.Time       `json:"period_end"`
	Limits             PlanLimitsDTO   `json:"limits"`
	Features           PlanFeaturesDTO `json:"features"`
}

type DownloadEventDTO struct {
	ID        int64     `json:"id"`
	ToolName  string    `json:"tool_name"`
	FileName  string    `json:"file_name"`
	SizeBytes int64     `json:"size_bytes"`
	CreatedAt time.Time `json:"created_at"`
}

type EntitlementCheckRequestDTO struct {
	Action        string `json:"action" enum:"process,download,store" doc:"Operation the tool is about to perform"`
	FileSizeBytes int64  `json:"file_size_bytes,omitempty" minimum:"0"`
}

type EntitlementCheckResponseDTO struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty" enum:"downloads,file_size,storage" doc:"Set when an upgrade is required"`
	PlanID  string `json:"plan_id"`
}

type DownloadRequestDTO struct {
	ToolName  string `json:"tool_name" minLength:"1" maxLength:"64"`
	FileName  string `json:"file_name,omitempty" maxLength:"255"`
	SizeBytes int64  `json:"size_bytes,omitempty" minimum:"0"`
}

type RecentUploadDTO struct {
	FileName  string    `json:"file_name"`
	ToolName  string    `json:"tool_name"`
	SizeBytes int64     `json:"size_bytes"`
	CreatedAt time.Time `json:"created_at"`
}
