package model

import (
	"testing"
	"time"

	"resizeme/internal/plan"
)

func TestTierRoundTrip(t *testing.T) {
	tier := Tier{PlanID: plan.Pro, BillingCycle: plan.Yearly}
	got, err := ParseTier(tier.String())
	if err != nil {
		t.Fatalf("ParseTier: %v", err)
	}
	if got != tier {
		t.Fatalf("got %+v, want %+v", got, tier)
	}
}

func TestParseTierRejectsGarbage(t *testing.T) {
	for _, s := range []string{"", "pro", "pro_weekly", "gold_monthly", "_monthly"} {
		if _, err := ParseTier(s); err == nil {
			t.Errorf("expected error for %q", s)
		}
	}
}

func TestSubscriptionState(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	end := now.Add(24 * time.Hour)
	past := now.Add(-time.Hour)
	pro := Tier{PlanID: plan.Pro, BillingCycle: plan.Monthly}

	var none *Subscription
	if none.State(now) != StateNone {
		t.Fatal("nil subscription should be none")
	}

	cases := []struct {
		name string
		sub  Subscription
		want LifecycleState
		tier Tier
	}{
		{"active", Subscription{Tier: pro, Status: SubscriptionActive, CurrentPeriodEnd: end}, StateActive, pro},
		{"canceled pending", Subscription{Tier: pro, Status: SubscriptionActive, CancelAtPeriodEnd: true, CurrentPeriodEnd: end}, StateCanceledPending, pro},
		{"canceled after period", Subscription{Tier: pro, Status: SubscriptionActive, CancelAtPeriodEnd: true, CurrentPeriodEnd: past}, StateCanceled, FreeTier},
		{"past due", Subscription{Tier: pro, Status: SubscriptionPastDue, CurrentPeriodEnd: end}, StatePastDue, pro},
		{"past due lapsed", Subscription{Tier: pro, Status: SubscriptionPastDue, CurrentPeriodEnd: past}, StateCanceled, FreeTier},
		{"canceled", Subscription{Tier: pro, Status: SubscriptionCanceled, CurrentPeriodEnd: end}, StateCanceled, FreeTier},
	}
	for _, c := range cases {
		sub := c.sub
		if got := sub.State(now); got != c.want {
			t.Errorf("%s: state %q, want %q", c.name, got, c.want)
		}
		if got := sub.EffectiveTier(now); got != c.tier {
			t.Errorf("%s: tier %+v, want %+v", c.name, got, c.tier)
		}
	}
}

func TestAddMonthsClampsToMonthEnd(t *testing.T) {
	day := func(y int, m time.Month, d int) time.Time { return time.Date(y, m, d, 8, 30, 0, 0, time.UTC) }
	cases := []struct {
		from time.Time
		n    int
		want time.Time
	}{
		{day(2026, 1, 29), 1, day(2026, 2, 28)},
		{day(2026, 1, 30), 1, day(2026, 2, 28)},
		{day(2026, 1, 31), 1, day(2026, 2, 28)},
		{day(2028, 1, 31), 1, day(2028, 2, 29)},
		{day(2026, 1, 31), 2, day(2026, 3, 31)},
		{day(2026, 1, 31), 3, day(2026, 4, 30)},
		{day(2026, 3, 30), 11, day(2027, 2, 28)},
		{day(2026, 8, 31), 12, day(2027, 8, 31)},
		{day(2026, 3, 31), -1, day(2026, 2, 28)},
	}
	for _, c := range cases {
		if got := AddMonths(c.from, c.n); !got.Equal(c.want) {
			t.Errorf("AddMonths(%s, %d) = %s, want %s", c.from.Format(time.DateOnly), c.n, got.Format(time.DateOnly), c.want.Format(time.DateOnly))
		}
	}
}

func TestPeriodAtStaysOnAnchor(t *testing.T) {
	cases := []struct {
		name      string
		anchor    time.Time
		now       time.Time
		wantStart time.Time
		wantEnd   time.Time
	}{
		{
			name:      "29th through February",
			anchor:    time.Date(2026, 1, 29, 0, 0, 0, 0, time.UTC),
			now:       time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC),
			wantStart: time.Date(2026, 2, 28, 0, 0, 0, 0, time.UTC),
			wantEnd:   time.Date(2026, 3, 29, 0, 0, 0, 0, time.UTC),
		},
		{
			name:      "30th after idle months",
			anchor:    time.Date(2026, 1, 30, 0, 0, 0, 0, time.UTC),
			now:       time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC),
			wantStart: time.Date(2026, 6, 30, 0, 0, 0, 0, time.UTC),
			wantEnd:   time.Date(2026, 7, 30, 0, 0, 0, 0, time.UTC),
		},
		{
			name:      "31st returns to the 31st",
			anchor:    time.Date(2026, 1, 31, 0, 0, 0, 0, time.UTC),
			now:       time.Date(2026, 4, 5, 0, 0, 0, 0, time.UTC),
			wantStart: time.Date(2026, 3, 31, 0, 0, 0, 0, time.UTC),
			wantEnd:   time.Date(2026, 4, 30, 0, 0, 0, 0, time.UTC),
		},
		{
			name:      "early in the month belongs to the previous period",
			anchor:    time.Date(2026, 1, 10, 9, 0, 0, 0, time.UTC),
			now:       time.Date(2026, 5, 10, 8, 59, 0, 0, time.UTC),
			wantStart: time.Date(2026, 4, 10, 9, 0, 0, 0, time.UTC),
			wantEnd:   time.Date(2026, 5, 10, 9, 0, 0, 0, time.UTC),
		},
		{
			name:      "exact boundary starts the new period",
			anchor:    time.Date(2026, 1, 10, 9, 0, 0, 0, time.UTC),
			now:       time.Date(2026, 5, 10, 9, 0, 0, 0, time.UTC),
			wantStart: time.Date(2026, 5, 10, 9, 0, 0, 0, time.UTC),
			wantEnd:   time.Date(2026, 6, 10, 9, 0, 0, 0, time.UTC),
		},
	}
	for _, c := range cases {
		start, end := PeriodAt(c.anchor, c.now)
		if !start.Equal(c.wantStart) || !end.Equal(c.wantEnd) {
			t.Errorf("%s: period %v - %v, want %v - %v", c.name, start, end, c.wantStart, c.wantEnd)
		}
		if c.now.Before(start) || !c.now.Before(end) {
			t.Errorf("%s: period %v - %v does not contain %v", c.name, start, end, c.now)
		}
	}
}
