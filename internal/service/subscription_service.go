package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"resizeme/internal/model"
	"resizeme/internal/plan"
	"resizeme/internal/pubsub"
	"resizeme/internal/repository"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// SubscriptionService drives the subscription lifecycle against the payment gateway.
type SubscriptionService interface {
	CreateSubscription(ctx context.Context, userID string, planID plan.ID, cycle plan.BillingCycle) (*CheckoutRef, error)
	VerifyPayment(ctx context.Context, userID string, in VerifyPaymentInput) (*model.Subscription, error)
	// HandleWebhook applies a signed gateway event. It returns false when the
	// event id was already processed.
	HandleWebhook(ctx context.Context, rawBody []byte, signature, eventID string) (bool, error)
	Cancel(ctx context.Context, userID string) (*model.Subscription, error)
	EffectiveTier(ctx context.Context, userID string) (model.Tier, error)
	Current(ctx context.Context, userID string) (*model.Subscription, error)
	Payments(ctx context.Context, userID string, limit int) ([]model.Payment, error)
	// FinalizeElapsed cancels every subscription whose paid period ended while
	// flagged for cancellation or past due. It returns the number of users reverted to Free.
	FinalizeElapsed(ctx context.Context) (int, error)
}

// CheckoutRef is what the client needs to open the gateway checkout.
type CheckoutRef struct {
	SubscriptionID string
	KeyID          string
	Tier           model.Tier
}

type VerifyPaymentInput struct {
	PaymentID      string `validate:"required,max=128"`
	SubscriptionID string `validate:"required,max=128"`
	Signature      string `validate:"required,hexadecimal,max=256"`
}

// BillingEventPublisher receives committed lifecycle transitions.
type BillingEventPublisher interface {
	PublishBilling(ctx context.Context, ev pubsub.BillingEvent) error
}

type SubscriptionOptions struct {
	// VerifyTimeout bounds signature verification, the gateway round trip and the commit.
	VerifyTimeout     time.Duration
	Currency          string
	TotalCountMonthly int
	TotalCountYearly  int
}

type subscriptionService struct {
	repo     repository.SubscriptionRepository
	gateway  Gateway
	plans    *PlanMap
	verifier *SignatureVerifier
	events   BillingEventPublisher
	opts     SubscriptionOptions
	validate *validator.Validate
	now      func() time.Time
	logger   zerolog.Logger
}

// NewSubscriptionService creates a new SubscriptionService with a scoped logger.
func NewSubscriptionService(
	repo repository.SubscriptionRepository,
	gateway Gateway,
	plans *PlanMap,
	verifier *SignatureVerifier,
	events BillingEventPublisher,
	opts SubscriptionOptions,
	now func() time.Time,
	logger zerolog.Logger,
) SubscriptionService {
	if now == nil {
		now = time.Now
	}
	if opts.VerifyTimeout <= 0 {
		opts.VerifyTimeout = 10 * time.Second
	}
	return &subscriptionService{
		repo:     repo,
		gateway:  gateway,
		plans:    plans,
		verifier: verifier,
		events:   events,
		opts:     opts,
		validate: validator.New(),
		now:      now,
		logger:   logger.With().Str("service", "SubscriptionService").Logger(),
	}
}

func (s *subscriptionService) CreateSubscription(ctx context.Context, userID string, planID plan.ID, cycle plan.BillingCycle) (*CheckoutRef, error) {
	p, ok := plan.Get(planID)
	if !ok || !p.IsPaid() || !cycle.Valid() {
		return nil, fmt.Errorf("%w: %s/%s", ErrInvalidPlan, planID, cycle)
	}
	tier := model.Tier{PlanID: p.ID, BillingCycle: cycle}
	gatewayPlanID, ok := s.plans.GatewayPlanID(tier)
	if !ok {
		s.logger.Error().Str("tier", tier.String()).Msg("No gateway plan configured for tier")
		return nil, fmt.Errorf("%w: %s is not configured", ErrInvalidPlan, tier)
	}

	total := s.opts.TotalCountMonthly
	if cycle == plan.Yearly {
		total = s.opts.TotalCountYearly
	}
	gs, err := s.gateway.CreateSubscription(ctx, GatewaySubscriptionRequest{
		UserID:        userID,
		Tier:          tier,
		GatewayPlanID: gatewayPlanID,
		TotalCount:    total,
	})
	if err != nil {
		s.logger.Error().Err(err).Str("user_id", userID).Str("tier", tier.String()).Msg("Failed to create gateway subscription")
		return nil, err
	}

	s.logger.Info().Str("user_id", userID).Str("gateway_subscription_id", gs.ID).Str("tier", tier.String()).Msg("Created pending subscription")
	return &CheckoutRef{SubscriptionID: gs.ID, KeyID: s.gateway.KeyID(), Tier: tier}, nil
}

func (s *subscriptionService) VerifyPayment(ctx context.Context, userID string, in VerifyPaymentInput) (*model.Subscription, error) {
	if err := s.validate.Struct(in); err != nil {
		s.logger.Warn().Str("user_id", userID).Bool("security_event", true).Msg("Malformed payment verification request")
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	ctx, cancel := context.WithTimeout(ctx, s.opts.VerifyTimeout)
	defer cancel()

	if !s.verifier.VerifyPayment(in.PaymentID, in.SubscriptionID, in.Signature) {
		s.logger.Warn().
			Str("user_id", userID).
			Str("gateway_payment_id", in.PaymentID).
			Str("gateway_subscription_id", in.SubscriptionID).
			Bool("security_event", true).
			Msg("Payment signature mismatch")
		return nil, ErrInvalidSignature
	}

	gs, err := s.gateway.FetchSubscription(ctx, in.SubscriptionID)
	if err != nil {
		s.logger.Error().Err(err).Str("user_id", userID).Str("gateway_subscription_id", in.SubscriptionID).Msg("Failed to fetch subscription from gateway")
		return nil, err
	}
	if gs.UserID != userID {
		s.logger.Warn().
			Str("user_id", userID).
			Str("owner_user_id", gs.UserID).
			Str("gateway_subscription_id", gs.ID).
			Bool("security_event", true).
			Msg("Verified subscription belongs to another user")
		return nil, ErrSubscriptionMismatch
	}
	switch gs.Status {
	case "cancelled", "completed", "expired":
		s.logger.Warn().Str("user_id", userID).Str("gateway_subscription_id", gs.ID).Str("gateway_status", gs.Status).Msg("Verification for a closed subscription")
		return nil, fmt.Errorf("%w: gateway status %s", ErrNoActiveSubscription, gs.Status)
	}
	p, ok := plan.Get(gs.Tier.PlanID)
	if !ok || !p.IsPaid() || !gs.Tier.BillingCycle.Valid() {
		s.logger.Error().Str("gateway_subscription_id", gs.ID).Str("gateway_plan_id", gs.GatewayPlanID).Msg("Gateway subscription has no known paid tier")
		return nil, ErrInvalidPlan
	}

	now := s.now()
	start, end := gs.CurrentStart, gs.CurrentEnd
	if end.IsZero() {
		start = now
		end = periodEnd(start, gs.Tier.BillingCycle)
	}
	sub := &model.Subscription{
		ID:                    uuid.NewString(),
		UserID:                userID,
		Tier:                  gs.Tier,
		GatewaySubscriptionID: gs.ID,
		Status:                model.SubscriptionActive,
		CurrentPeriodStart:    start,
		CurrentPeriodEnd:      end,
	}
	if existing, err := s.repo.GetByGatewayID(ctx, gs.ID); err == nil {
		sub.ID = existing.ID
		sub.CreatedAt = existing.CreatedAt
		sub.CancelAtPeriodEnd = existing.CancelAtPeriodEnd
	} else if !errors.Is(err, repository.ErrNotFound) {
		s.logger.Error().Err(err).Str("gateway_subscription_id", gs.ID).Msg("Failed to load subscription")
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}

	// The gateway keeps billing a superseded subscription until it is told
	// otherwise, so it is canceled there before the local switch commits.
	if err := s.cancelSuperseded(ctx, userID, gs.ID); err != nil {
		return nil, err
	}

	tier := gs.Tier
	change := repository.Change{
		UserID:       userID,
		Subscription: sub,
		Supersede:    true,
		Payment: &model.Payment{
			ID:                    uuid.NewString(),
			UserID:                userID,
			Amount:                p.Price(gs.Tier.BillingCycle),
			Currency:              s.currency(p),
			Status:                model.PaymentSuccess,
			GatewayPaymentID:      in.PaymentID,
			GatewaySubscriptionID: gs.ID,
			CreatedAt:             now,
		},
		Tier: &tier,
	}
	if err := s.repo.Commit(ctx, change); err != nil {
		s.logger.Error().Err(err).Str("user_id", userID).Str("gateway_subscription_id", gs.ID).Msg("Failed to commit verified subscription")
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}

	s.logger.Info().Str("user_id", userID).Str("gateway_subscription_id", gs.ID).Str("tier", tier.String()).Msg("Subscription activated")
	s.publish(ctx, pubsub.BillingSubscriptionActivated, sub)
	return sub, nil
}

func (s *subscriptionService) HandleWebhook(ctx context.Context, rawBody []byte, signature, eventID string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opts.VerifyTimeout)
	defer cancel()

	if !s.verifier.VerifyWebhook(rawBody, signature) {
		s.logger.Warn().Bool("security_event", true).Int("body_bytes", len(rawBody)).Msg("Webhook signature mismatch")
		return false, ErrInvalidSignature
	}
	ev, err := DecodeWebhook(rawBody, eventID)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to decode webhook")
		return false, err
	}
	log := s.logger.With().Str("event_id", ev.ID).Str("event_type", ev.Type).Str("gateway_subscription_id", ev.SubscriptionID).Logger()

	tier, tierOK := s.eventTier(ev)
	now := s.now()

	// Remember the live row an activation may supersede; the gateway side is
	// canceled once the local switch has committed.
	var prior *model.Subscription
	if ev.UserID != "" && activates(ev.Type) {
		if prior, err = s.liveFor(ctx, ev.UserID); err != nil {
			return false, err
		}
	}

	var outcome Outcome
	applied, err := s.repo.ApplyEvent(ctx, ev.ID, ev.Type, ev.SubscriptionID, func(current *model.Subscription) (*repository.Change, error) {
		outcome = Reduce(current, ReduceInput{
			Event:    *ev,
			Tier:     tier,
			TierOK:   tierOK,
			Currency: s.opts.Currency,
			Now:      now,
			NewID:    uuid.NewString,
		})
		if outcome.Ignored {
			return nil, nil
		}
		change := &repository.Change{
			Subscription: outcome.Subscription,
			Supersede:    outcome.Supersede,
			Payment:      outcome.Payment,
			Tier:         outcome.Tier,
		}
		switch {
		case outcome.Subscription != nil:
			change.UserID = outcome.Subscription.UserID
		case outcome.Payment != nil:
			change.UserID = outcome.Payment.UserID
		}
		return change, nil
	})
	if err != nil {
		log.Error().Err(err).Msg("Failed to apply webhook")
		return false, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	if !applied {
		log.Info().Msg("Duplicate webhook ignored")
		return false, nil
	}
	if outcome.Ignored {
		log.Info().Msg("Webhook recorded without state change")
		return true, nil
	}

	log.Info().Msg("Webhook applied")
	if sub := outcome.Subscription; sub != nil && outcome.Supersede && prior != nil && prior.GatewaySubscriptionID != sub.GatewaySubscriptionID {
		if err := s.gateway.CancelSubscription(ctx, prior.GatewaySubscriptionID, false); err != nil {
			log.Error().Err(err).Str("superseded_subscription_id", prior.GatewaySubscriptionID).Msg("Failed to cancel superseded subscription on gateway")
		}
	}
	if sub := outcome.Subscription; sub != nil {
		s.publish(ctx, billingTypeFor(sub, now), sub)
	} else if outcome.Payment != nil && outcome.Payment.Status == model.PaymentFailed {
		s.publishEvent(ctx, pubsub.BillingEvent{
			Type:                  pubsub.BillingPaymentFailed,
			UserID:                outcome.Payment.UserID,
			GatewaySubscriptionID: outcome.Payment.GatewaySubscriptionID,
			Status:                string(outcome.Payment.Status),
			OccurredAt:            now,
		})
	}
	return true, nil
}

func (s *subscriptionService) Cancel(ctx context.Context, userID string) (*model.Subscription, error) {
	sub, err := s.repo.GetLive(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrNoActiveSubscription
		}
		s.logger.Error().Err(err).Str("user_id", userID).Msg("Failed to fetch live subscription")
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	if sub.CancelAtPeriodEnd {
		return sub, nil
	}

	if err := s.gateway.CancelSubscription(ctx, sub.GatewaySubscriptionID, true); err != nil {
		s.logger.Error().Err(err).Str("user_id", userID).Str("gateway_subscription_id", sub.GatewaySubscriptionID).Msg("Gateway refused cancellation")
		return nil, err
	}
	if err := s.repo.SetCancelAtPeriodEnd(ctx, sub.ID, true); err != nil {
		s.logger.Error().Err(err).Str("user_id", userID).Str("subscription_id", sub.ID).Msg("Failed to flag subscription for cancellation")
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	sub.CancelAtPeriodEnd = true

	s.logger.Info().Str("user_id", userID).Str("subscription_id", sub.ID).Time("period_end", sub.CurrentPeriodEnd).Msg("Subscription set to cancel at period end")
	s.publish(ctx, pubsub.BillingSubscriptionCanceling, sub)
	return sub, nil
}

func (s *subscriptionService) EffectiveTier(ctx context.Context, userID string) (model.Tier, error) {
	sub, err := s.repo.GetLive(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return model.FreeTier, nil
		}
		s.logger.Error().Err(err).Str("user_id", userID).Msg("Failed to fetch live subscription")
		return model.Tier{}, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	now := s.now()
	if sub.State(now) != model.StateCanceled {
		return sub.Tier, nil
	}

	users, err := s.repo.FinalizeElapsed(ctx, userID, now)
	if err != nil {
		s.logger.Error().Err(err).Str("user_id", userID).Msg("Failed to finalize elapsed subscription")
		return model.Tier{}, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	if len(users) > 0 {
		sub.Status = model.SubscriptionCanceled
		s.logger.Info().Str("user_id", userID).Str("subscription_id", sub.ID).Msg("Subscription period ended, reverted to free")
		s.publish(ctx, pubsub.BillingSubscriptionCanceled, sub)
	}
	return model.FreeTier, nil
}

func (s *subscriptionService) Current(ctx context.Context, userID string) (*model.Subscription, error) {
	if _, err := s.EffectiveTier(ctx, userID); err != nil {
		return nil, err
	}
	sub, err := s.repo.GetLatest(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, nil
		}
		s.logger.Error().Err(err).Str("user_id", userID).Msg("Failed to fetch subscription")
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	return sub, nil
}

func (s *subscriptionService) Payments(ctx context.Context, userID string, limit int) ([]model.Payment, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	payments, err := s.repo.ListPayments(ctx, userID, limit)
	if err != nil {
		s.logger.Error().Err(err).Str("user_id", userID).Msg("Failed to list payments")
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	return payments, nil
}

func (s *subscriptionService) FinalizeElapsed(ctx context.Context) (int, error) {
	now := s.now()
	users, err := s.repo.FinalizeElapsed(ctx, "", now)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to finalize elapsed subscriptions")
		return 0, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	for _, u := range users {
		s.publishEvent(ctx, pubsub.BillingEvent{
			Type:         pubsub.BillingSubscriptionCanceled,
			UserID:       u,
			PlanID:       string(plan.Free),
			BillingCycle: string(plan.Monthly),
			Status:       string(model.SubscriptionCanceled),
			OccurredAt:   now,
		})
	}
	if len(users) > 0 {
		s.logger.Info().Int("count", len(users)).Msg("Finalized elapsed subscriptions")
	}
	return len(users), nil
}

// liveFor returns the user's live subscription, or nil when there is none.
func (s *subscriptionService) liveFor(ctx context.Context, userID string) (*model.Subscription, error) {
	live, err := s.repo.GetLive(ctx, userID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		s.logger.Error().Err(err).Str("user_id", userID).Msg("Failed to fetch live subscription")
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	return live, nil
}

// cancelSuperseded immediately cancels, on the gateway, the user's live
// subscription when it differs from keepGatewayID.
func (s *subscriptionService) cancelSuperseded(ctx context.Context, userID, keepGatewayID string) error {
	live, err := s.liveFor(ctx, userID)
	if err != nil || live == nil || live.GatewaySubscriptionID == keepGatewayID {
		return err
	}
	if err := s.gateway.CancelSubscription(ctx, live.GatewaySubscriptionID, false); err != nil {
		s.logger.Error().Err(err).
			Str("user_id", userID).
			Str("gateway_subscription_id", live.GatewaySubscriptionID).
			Str("replacement_subscription_id", keepGatewayID).
			Msg("Failed to cancel superseded subscription on gateway")
		if !errors.Is(err, ErrGatewayUnavailable) {
			err = fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
		}
		return err
	}
	s.logger.Info().
		Str("user_id", userID).
		Str("gateway_subscription_id", live.GatewaySubscriptionID).
		Str("replacement_subscription_id", keepGatewayID).
		Msg("Canceled superseded subscription on gateway")
	return nil
}

// eventTier resolves the tier of a webhook from the gateway plan id, falling back to the notes.
func (s *subscriptionService) eventTier(ev *WebhookEvent) (model.Tier, bool) {
	if t, ok := s.plans.Tier(ev.GatewayPlanID); ok {
		return t, true
	}
	if ev.TierNote != "" {
		if t, err := model.ParseTier(ev.TierNote); err == nil {
			return t, true
		}
	}
	return model.Tier{}, false
}

func (s *subscriptionService) currency(p plan.Plan) string {
	if p.Currency != "" {
		return p.Currency
	}
	return s.opts.Currency
}

func billingTypeFor(sub *model.Subscription, now time.Time) string {
	switch sub.State(now) {
	case model.StatePastDue:
		return pubsub.BillingSubscriptionPastDue
	case model.StateCanceled:
		return pubsub.BillingSubscriptionCanceled
	case model.StateCanceledPending:
		return pubsub.BillingSubscriptionCanceling
	}
	return pubsub.BillingSubscriptionActivated
}

func (s *subscriptionService) publish(ctx context.Context, typ string, sub *model.Subscription) {
	s.publishEvent(ctx, pubsub.BillingEvent{
		Type:                  typ,
		UserID:                sub.UserID,
		SubscriptionID:        sub.ID,
		GatewaySubscriptionID: sub.GatewaySubscriptionID,
		PlanID:                string(sub.Tier.PlanID),
		BillingCycle:          string(sub.Tier.BillingCycle),
		Status:                string(sub.Status),
		PeriodEnd:             sub.CurrentPeriodEnd,
		OccurredAt:            s.now(),
	})
}

// publishEvent is best effort; the transition is already committed.
func (s *subscriptionService) publishEvent(ctx context.Context, ev pubsub.BillingEvent) {
	if s.events == nil {
		return
	}
	if err := s.events.PublishBilling(ctx, ev); err != nil {
		s.logger.Warn().Err(err).Str("user_id", ev.UserID).Str("type", ev.Type).Msg("Failed to publish billing event")
	}
}
