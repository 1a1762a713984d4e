// Package entitlement decides whether a user's plan and current usage permit
// an action. Every check is pure; a missing plan or usage record is treated as
// the Free plan with zero usage.
package entitlement

import (
	"fmt"

	"resizeme/internal/model"
	"resizeme/internal/plan"
)

// Reason tells the presentation layer which upgrade prompt to show.
// The string values are part of the public API and must not change.
type Reason string

const (
	ReasonNone     Reason = ""
	ReasonDownload Reason = "downloads"
	ReasonFileSize Reason = "file_size"
	ReasonStorage  Reason = "storage"
)

// Feature is a boolean plan capability.
type Feature string

const (
	FeatureDriveIntegration Feature = "driveIntegration"
	FeatureAdFree           Feature = "adFree"
	FeatureBulk             Feature = "bulk"
)

// Decision is the outcome of an entitlement check.
type Decision struct {
	Allowed bool
	Reason  Reason
}

// Err returns a *QuotaExceededError for a denied decision and nil otherwise.
func (d Decision) Err() error {
	if d.Allowed {
		return nil
	}
	return &QuotaExceededError{Reason: d.Reason}
}

// QuotaExceededError is returned when an action needs a plan upgrade.
type QuotaExceededError struct {
	Reason Reason
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("quota exceeded: %s", e.Reason)
}

var allow = Decision{Allowed: true}

func planOrFree(p *plan.Plan) plan.Plan {
	if p == nil {
		return plan.Resolve(plan.Free)
	}
	return *p
}

func usageOrZero(u *model.UsageRecord) model.UsageRecord {
	if u == nil {
		return model.UsageRecord{}
	}
	return *u
}

func bounded(limit int64) bool {
	return limit >= 0
}

// CheckProcessFile allows files no larger than the plan's maximum file size.
func CheckProcessFile(p *plan.Plan, fileSizeBytes int64) Decision {
	pl := planOrFree(p)
	if bounded(pl.MaxFileSizeBytes) && fileSizeBytes > pl.MaxFileSizeBytes {
		return Decision{Reason: ReasonFileSize}
	}
	return allow
}

// CheckDownload allows a download while the monthly count is below the plan limit.
func CheckDownload(p *plan.Plan, u *model.UsageRecord) Decision {
	pl := planOrFree(p)
	usage := usageOrZero(u)
	if bounded(pl.DownloadsPerMonth) && usage.DownloadsThisMonth >= pl.DownloadsPerMonth {
		return Decision{Reason: ReasonDownload}
	}
	return allow
}

// CheckStore allows storing incomingBytes when the total stays within the plan's storage limit.
func CheckStore(p *plan.Plan, u *model.UsageRecord, incomingBytes int64) Decision {
	pl := planOrFree(p)
	usage := usageOrZero(u)
	if bounded(pl.StorageLimitBytes) && usage.StorageUsedBytes+incomingBytes > pl.StorageLimitBytes {
		return Decision{Reason: ReasonStorage}
	}
	return allow
}

func CanProcessFile(p *plan.Plan, fileSizeBytes int64) bool {
	return CheckProcessFile(p, fileSizeBytes).Allowed
}

func CanDownload(p *plan.Plan, u *model.UsageRecord) bool {
	return CheckDownload(p, u).Allowed
}

func CanStore(p *plan.Plan, u *model.UsageRecord, incomingBytes int64) bool {
	return CheckStore(p, u, incomingBytes).Allowed
}

// HasFeature looks up a boolean capability. Unknown features are never granted.
func HasFeature(p *plan.Plan, f Feature) bool {
	pl := planOrFree(p)
	switch f {
	case FeatureDriveIntegration:
		return pl.DriveIntegration
	case FeatureAdFree:
		return pl.AdFree
	case FeatureBulk:
		return pl.BulkProcessing
	}
	return false
}

// Action names the operation a frontend wants to perform.
type Action string

const (
	ActionProcess  Action = "process"
	ActionDownload Action = "download"
	ActionStore    Action = "store"
)

// Request is a combined check issued by a tool frontend before doing work.
type Request struct {
	Action        Action
	FileSizeBytes int64
}

// Evaluate runs the checks an action needs. Downloads and stores also enforce
// the file size limit, which is reported first.
func Evaluate(p *plan.Plan, u *model.UsageRecord, req Request) Decision {
	switch req.Action {
	case ActionProcess:
		return CheckProcessFile(p, req.FileSizeBytes)
	case ActionDownload:
		if d := CheckProcessFile(p, req.FileSizeBytes); !d.Allowed {
			return d
		}
		return CheckDownload(p, u)
	case ActionStore:
		if d := CheckProcessFile(p, req.FileSizeBytes); !d.Allowed {
			return d
		}
		return CheckStore(p, u, req.FileSizeBytes)
	}
	return CheckProcessFile(p, req.FileSizeBytes)
}
