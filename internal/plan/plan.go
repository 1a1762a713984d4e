// Package plan holds the static catalog of subscription tiers and their
// entitlements. Plans are defined at deploy time and never mutated.
package plan

import (
	"strings"

	"github.com/shopspring/decimal"
)

// Unlimited marks a numeric limit that is never reached.
const Unlimited int64 = -1

const (
	MiB int64 = 1024 * 1024
	GiB int64 = 1024 * MiB
)

// ID identifies a plan tier.
type ID string

const (
	Free     ID = "free"
	Pro      ID = "pro"
	Business ID = "business"
)

// BillingCycle is how often a paid plan is charged.
type BillingCycle string

const (
	Monthly BillingCycle = "monthly"
	Yearly  BillingCycle = "yearly"
)

// Valid reports whether c is a known billing cycle.
func (c BillingCycle) Valid() bool {
	return c == Monthly || c == Yearly
}

// Plan is an immutable catalog entry.
type Plan struct {
	ID                ID
	Name              string
	Description       string
	MonthlyPrice      int64 // minor currency units
	YearlyPrice       int64 // minor currency units
	Currency          string
	AdFree            bool
	DriveIntegration  bool
	BulkProcessing    bool
	MaxFileSizeBytes  int64
	DownloadsPerMonth int64
	StorageLimitBytes int64
}

// Price returns the plan price for the given billing cycle.
func (p Plan) Price(cycle BillingCycle) int64 {
	if cycle == Yearly {
		return p.YearlyPrice
	}
	return p.MonthlyPrice
}

// IsPaid reports whether the plan is charged.
func (p Plan) IsPaid() bool {
	return p.ID != Free
}

var catalog = map[ID]Plan{
	Free: {
		ID:                Free,
		Name:              "Free",
		Description:       "Basic image tools for occasional use",
		Currency:          "INR",
		MaxFileSizeBytes:  10 * MiB,
		DownloadsPerMonth: 50,
		StorageLimitBytes: 100 * MiB,
	},
	Pro: {
		ID:                Pro,
		Name:              "Pro",
		Description:       "Larger files, Google Drive and no ads",
		MonthlyPrice:      49900,
		YearlyPrice:       479900,
		Currency:          "INR",
		AdFree:            true,
		DriveIntegration:  true,
		BulkProcessing:    true,
		MaxFileSizeBytes:  50 * MiB,
		DownloadsPerMonth: 1000,
		StorageLimitBytes: 5 * GiB,
	},
	Business: {
		ID:                Business,
		Name:              "Business",
		Description:       "Unlimited processing for teams",
		MonthlyPrice:      149900,
		YearlyPrice:       1439900,
		Currency:          "INR",
		AdFree:            true,
		DriveIntegration:  true,
		BulkProcessing:    true,
		MaxFileSizeBytes:  200 * MiB,
		DownloadsPerMonth: Unlimited,
		StorageLimitBytes: Unlimited,
	},
}

// order defines the display ordering of plans.
var order = []ID{Free, Pro, Business}

// Get returns the plan with the given id. The bool is false when the id is
// not in the catalog.
func Get(id ID) (Plan, bool) {
	p, ok := catalog[ID(strings.ToLower(string(id)))]
	return p, ok
}

// Resolve returns the plan with the given id, falling back to Free for
// unknown ids.
func Resolve(id ID) Plan {
	if p, ok := Get(id); ok {
		return p
	}
	return catalog[Free]
}

// All returns every plan in display order.
func All() []Plan {
	plans := make([]Plan, 0, len(order))
	for _, id := range order {
		plans = append(plans, catalog[id])
	}
	return plans
}

var currencySymbols = map[string]string{
	"INR": "₹",
	"USD": "$",
	"EUR": "€",
	"GBP": "£",
}

// FormatPrice renders an amount in minor units for display, e.g.
// FormatPrice(49900, "INR") == "₹499.00".
func FormatPrice(amountMinorUnits int64, currency string) string {
	code := strings.ToUpper(currency)
	amount := decimal.New(amountMinorUnits, -2).StringFixed(2)
	if sym, ok := currencySymbols[code]; ok {
		if strings.HasPrefix(amount, "-") {
			return "-" + sym + strings.TrimPrefix(amount, "-")
		}
		return sym + amount
	}
	return code + " " + amount
}
