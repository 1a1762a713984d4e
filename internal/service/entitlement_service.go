package service

import (
	"context"

	"resizeme/internal/entitlement"
	"resizeme/internal/model"
	"resizeme/internal/plan"

	"github.com/rs/zerolog"
)

// Entitlements is a fresh snapshot of a user's plan and counters.
type Entitlements struct {
	Tier  model.Tier
	Plan  plan.Plan
	Usage *model.UsageRecord
}

// EntitlementService answers "may this user do X now" from fresh reads.
type EntitlementService interface {
	Snapshot(ctx context.Context, userID string) (*Entitlements, error)
	Check(ctx context.Context, userID string, req entitlement.Request) (entitlement.Decision, *Entitlements, error)
	// AuthorizeDownload checks the file size and atomically consumes one download.
	AuthorizeDownload(ctx context.Context, userID string, in DownloadInput) (*model.UsageRecord, error)
	// RequireFeature returns ErrFeatureUnavailable when the user's plan lacks f.
	RequireFeature(ctx context.Context, userID string, f entitlement.Feature) (*Entitlements, error)
}

type entitlementService struct {
	subs   SubscriptionService
	usage  UsageService
	logger zerolog.Logger
}

func NewEntitlementService(subs SubscriptionService, usage UsageService, logger zerolog.Logger) EntitlementService {
	return &entitlementService{
		subs:   subs,
		usage:  usage,
		logger: logger.With().Str("service", "EntitlementService").Logger(),
	}
}

// Snapshot finalizes an elapsed subscription before reading usage so the tier
// on the usage row reflects any period end.
func (s *entitlementService) Snapshot(ctx context.Context, userID string) (*Entitlements, error) {
	tier, err := s.subs.EffectiveTier(ctx, userID)
	if err != nil {
		return nil, err
	}
	u, err := s.usage.GetUsage(ctx, userID)
	if err != nil {
		return nil, err
	}
	if u.Tier != tier {
		s.logger.Warn().Str("user_id", userID).Str("usage_tier", u.Tier.String()).Str("subscription_tier", tier.String()).Msg("Usage tier differs from subscription")
		u.Tier = tier
	}
	return &Entitlements{Tier: tier, Plan: plan.Resolve(tier.PlanID), Usage: u}, nil
}

func (s *entitlementService) Check(ctx context.Context, userID string, req entitlement.Request) (entitlement.Decision, *Entitlements, error) {
	snap, err := s.Snapshot(ctx, userID)
	if err != nil {
		return entitlement.Decision{}, nil, err
	}
	return entitlement.Evaluate(&snap.Plan, snap.Usage, req), snap, nil
}

func (s *entitlementService) AuthorizeDownload(ctx context.Context, userID string, in DownloadInput) (*model.UsageRecord, error) {
	snap, err := s.Snapshot(ctx, userID)
	if err != nil {
		return nil, err
	}
	if d := entitlement.CheckProcessFile(&snap.Plan, in.SizeBytes); !d.Allowed {
		return nil, d.Err()
	}
	count, err := s.usage.ConsumeDownload(ctx, userID, snap.Plan.DownloadsPerMonth, in)
	if err != nil {
		return nil, err
	}
	u := *snap.Usage
	u.DownloadsThisMonth = count
	return &u, nil
}

func (s *entitlementService) RequireFeature(ctx context.Context, userID string, f entitlement.Feature) (*Entitlements, error) {
	snap, err := s.Snapshot(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !entitlement.HasFeature(&snap.Plan, f) {
		return nil, ErrFeatureUnavailable
	}
	return snap, nil
}
