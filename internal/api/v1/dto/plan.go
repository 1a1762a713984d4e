package dto

type PlanLimitsDTO struct {
	MaxFileSizeBytes  int64 `json:"max_file_size_bytes" doc:"-1 means unlimited"`
	DownloadsPerMonth int64 `json:"downloads_per_month" doc:"-1 means unlimited"`
	StorageLimitBytes int64 `json:"storage_limit_bytes" doc:"-1 means unlimited"`
}

type PlanFeaturesDTO struct {
	AdFree           bool `json:"ad_free"`
	DriveIntegration bool `json:"drive_integration"`
	BulkProcessing   bool `json:"bulk_processing"`
}

type PlanResponseDTO struct {
	ID                    string          `json:"id"`
	Name                  string          `json:"name"`
	Description           string          `json:"description"`
	Currency              string          `json:"currency"`
	MonthlyPrice          int64           `json:"monthly_price" doc:"Minor currency units"`
	YearlyPrice           int64           `json:"yearly_price" doc:"Minor currency units"`
	MonthlyPriceFormatted string          `json:"monthly_price_formatted"`
	YearlyPriceFormatted  string          `json:"yearly_price_formatted"`
	Limits                PlanLimitsDTO   `json:"limits"`
	Features              PlanFeaturesDTO `json:"features"`
}
