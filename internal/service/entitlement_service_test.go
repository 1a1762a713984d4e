package service

import (
	"context"
	"errors"
	"testing"

	"resizeme/internal/entitlement"
	"resizeme/internal/plan"
)

func quotaReason(err error) entitlement.Reason {
	var qe *entitlement.QuotaExceededError
	if errors.As(err, &qe) {
		return qe.Reason
	}
	return entitlement.ReasonNone
}

func TestFreeUserDownloadQuota(t *testing.T) {
	h := newHarness(t, SubscriptionOptions{})
	ctx := context.Background()
	limit := plan.Resolve(plan.Free).DownloadsPerMonth

	for i := int64(0); i < limit; i++ {
		if _, err := h.ent.AuthorizeDownload(ctx, "user-1", DownloadInput{ToolName: "resize", SizeBytes: 1024}); err != nil {
			t.Fatalf("download %d: %v", i+1, err)
		}
	}
	_, err := h.ent.AuthorizeDownload(ctx, "user-1", DownloadInput{ToolName: "resize", SizeBytes: 1024})
	if quotaReason(err) != entitlement.ReasonDownload {
		t.Fatalf("download past limit: got %v, want downloads quota", err)
	}

	decision, snap, err := h.ent.Check(ctx, "user-1", entitlement.Request{Action: entitlement.ActionDownload, FileSizeBytes: 10})
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if decision.Allowed || decision.Reason != entitlement.ReasonDownload || snap.Usage.DownloadsThisMonth != limit {
		t.Fatalf("unexpected decision %+v usage %+v", decision, snap.Usage)
	}
}

func TestOversizedFileDoesNotConsumeQuota(t *testing.T) {
	h := newHarness(t, SubscriptionOptions{})
	ctx := context.Background()
	tooBig := plan.Resolve(plan.Free).MaxFileSizeBytes + 1

	_, err := h.ent.AuthorizeDownload(ctx, "user-1", DownloadInput{ToolName: "resize", SizeBytes: tooBig})
	if quotaReason(err) != entitlement.ReasonFileSize {
		t.Fatalf("got %v, want file_size quota", err)
	}
	u, _ := h.usage.GetUsage(ctx, "user-1")
	if u.DownloadsThisMonth != 0 {
		t.Fatalf("rejected download consumed quota: %d", u.DownloadsThisMonth)
	}
}

func TestUpgradeLiftsLimits(t *testing.T) {
	h := newHarness(t, SubscriptionOptions{})
	ctx := context.Background()
	size := plan.Resolve(plan.Free).MaxFileSizeBytes + 1

	if _, err := h.ent.RequireFeature(ctx, "user-1", entitlement.FeatureDriveIntegration); !errors.Is(err, ErrFeatureUnavailable) {
		t.Fatalf("free drive access: got %v", err)
	}

	h.addGatewaySub("sub_1", "user-1", proMonthly, "active")
	h.verify(t, "user-1", "sub_1", "pay_1")

	if _, err := h.ent.AuthorizeDownload(ctx, "user-1", DownloadInput{ToolName: "resize", SizeBytes: size}); err != nil {
		t.Fatalf("pro download of %d bytes: %v", size, err)
	}
	snap, err := h.ent.RequireFeature(ctx, "user-1", entitlement.FeatureDriveIntegration)
	if err != nil {
		t.Fatalf("pro drive access: %v", err)
	}
	if snap.Plan.ID != plan.Pro || snap.Usage.Tier != proMonthly {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
}
