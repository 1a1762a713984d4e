package model

import (
	"fmt"
	"strings"
	"time"

	"resizeme/internal/plan"
)

// Tier is the plan and billing cycle a user is entitled to.
type Tier struct {
	PlanID       plan.ID           `db:"plan_id" json:"plan_id"`
	BillingCycle plan.BillingCycle `db:"billing_cycle" json:"billing_cycle"`
}

// FreeTier is the tier of every user without a live subscription.
var FreeTier = Tier{PlanID: plan.Free, BillingCycle: plan.Monthly}

// String encodes the tier as "<plan>_<cycle>", the form stored in gateway notes.
func (t Tier) String() string {
	return string(t.PlanID) + "_" + string(t.BillingCycle)
}

// ParseTier decodes a value produced by Tier.String.
func ParseTier(s string) (Tier, error) {
	planPart, cyclePart, ok := strings.Cut(s, "_")
	if !ok {
		return Tier{}, fmt.Errorf("malformed tier %q", s)
	}
	p, found := plan.Get(plan.ID(planPart))
	if !found {
		return Tier{}, fmt.Errorf("unknown plan in tier %q", s)
	}
	cycle := plan.BillingCycle(cyclePart)
	if !cycle.Valid() {
		return Tier{}, fmt.Errorf("unknown billing cycle in tier %q", s)
	}
	return Tier{PlanID: p.ID, BillingCycle: cycle}, nil
}

// UsageRecord holds a user's counters within the current monthly period.
type UsageRecord struct {
	UserID             string    `db:"user_id" json:"user_id"`
	Tier               Tier      `json:"tier"`
	DownloadsThisMonth int64     `db:"downloads_this_month" json:"downloads_this_month"`
	StorageUsedBytes   int64     `db:"storage_used_bytes" json:"storage_used_bytes"`
	PeriodStart        time.Time `db:"period_start" json:"period_start"`
	PeriodEnd          time.Time `db:"period_end" json:"period_end"`
	// BillingAnchor is the start of the first period; every later period starts
	// a whole number of calendar months after it.
	BillingAnchor      time.Time `db:"billing_anchor" json:"-"`
	CreatedAt          time.Time `db:"created_at" json:"created_at"`
	UpdatedAt          time.Time `db:"updated_at" json:"updated_at"`
}

// PeriodElapsed reports whether now is past the end of the usage period.
func (u *UsageRecord) PeriodElapsed(now time.Time) bool {
	return now.After(u.PeriodEnd)
}

// DownloadEvent is one line of a user's activity log.
type DownloadEvent struct {
	ID        int64     `db:"id" json:"id"`
	UserID    string    `db:"user_id" json:"user_id"`
	ToolName  string    `db:"tool_name" json:"tool_name"`
	FileName  string    `db:"file_name" json:"file_name"`
	FileSize  int64     `db:"file_size_bytes" json:"file_size_bytes"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// AddMonths adds n calendar months to t in UTC. The day is clamped to the
// last day of the target month, the way Postgres adds a month interval, so
// Jan 31 + 1 month is Feb 28 (or 29).
func AddMonths(t time.Time, n int) time.Time {
	t = t.UTC()
	y, m, d := t.Date()
	target := time.Date(y, m+time.Month(n), 1, 0, 0, 0, 0, time.UTC)
	if last := time.Date(target.Year(), target.Month()+1, 0, 0, 0, 0, 0, time.UTC).Day(); d > last {
		d = last
	}
	return time.Date(target.Year(), target.Month(), d, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), time.UTC)
}

// PeriodAt returns the monthly period [start, end) anchored at anchor that contains now.
// Every boundary is computed from the anchor, never from the previous boundary.
func PeriodAt(anchor, now time.Time) (time.Time, time.Time) {
	anchor, now = anchor.UTC(), now.UTC()
	k := (now.Year()-anchor.Year())*12 + int(now.Month()) - int(anchor.Month())
	if AddMonths(anchor, k).After(now) {
		k--
	}
	return AddMonths(anchor, k), AddMonths(anchor, k+1)
}

// Anchor returns the billing anchor, falling back to the period start for rows
// written before anchors were stored.
func (u *UsageRecord) Anchor() time.Time {
	if u.BillingAnchor.IsZero() {
		return u.PeriodStart
	}
	return u.BillingAnchor
}
