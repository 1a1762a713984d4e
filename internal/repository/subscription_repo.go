package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"resizeme/internal/model"
	"resizeme/internal/plan"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Change is a set of writes committed atomically by the subscription repository.
type Change struct {
	UserID string
	// Subscription is upserted by gateway subscription id when non-nil.
	Subscription *model.Subscription
	// Supersede cancels every other live subscription of the user.
	Supersede bool
	// Payment is inserted when non-nil; a repeated gateway payment id is ignored.
	Payment *model.Payment
	// Tier is written to the user's usage row when non-nil.
	Tier *model.Tier
}

// TransitionFunc computes the writes for an event given the current row (nil when unknown).
// Returning a nil Change records the event without writing anything else.
type TransitionFunc func(current *model.Subscription) (*Change, error)

// SubscriptionRepository defines methods for accessing subscription and payment data.
type SubscriptionRepository interface {
	// GetLive returns the user's active or past_due subscription, or ErrNotFound.
	GetLive(ctx context.Context, userID string) (*model.Subscription, error)
	// GetLatest returns the most recently created subscription regardless of status.
	GetLatest(ctx context.Context, userID string) (*model.Subscription, error)
	GetByGatewayID(ctx context.Context, gatewaySubscriptionID string) (*model.Subscription, error)
	// Commit applies a change in one transaction.
	Commit(ctx context.Context, c Change) error
	// ApplyEvent claims eventID and runs fn against the current row in one transaction.
	// It returns false without calling fn when the event was already processed.
	ApplyEvent(ctx context.Context, eventID, eventType, gatewaySubscriptionID string, fn TransitionFunc) (bool, error)
	// SetCancelAtPeriodEnd flags a live subscription for cancellation at period end.
	SetCancelAtPeriodEnd(ctx context.Context, subscriptionID string, cancel bool) error
	// FinalizeElapsed cancels live rows whose period ended and that are flagged
	// for cancellation or past due, reverting their users to the free tier.
	// An empty userID sweeps every user. It returns the affected user ids.
	FinalizeElapsed(ctx context.Context, userID string, now time.Time) ([]string, error)
	ListPayments(ctx context.Context, userID string, limit int) ([]model.Payment, error)
}

type subscriptionRepo struct {
	pool *pgxpool.Pool
}

// NewSubscriptionRepo creates a new SubscriptionRepository.
func NewSubscriptionRepo(pool *pgxpool.Pool) SubscriptionRepository {
	return &subscriptionRepo{pool: pool}
}

const subscriptionColumns = `id, user_id, plan_id, billing_cycle, gateway_subscription_id, status,
        current_period_start, current_period_end, cancel_at_period_end, created_at, updated_at`

func scanSubscription(row pgx.Row) (*model.Subscription, error) {
	var s model.Subscription
	var planID, cycle, status string
	if err := row.Scan(
		&s.ID,
		&s.UserID,
		&planID,
		&cycle,
		&s.GatewaySubscriptionID,
		&status,
		&s.CurrentPeriodStart,
		&s.CurrentPeriodEnd,
		&s.CancelAtPeriodEnd,
		&s.CreatedAt,
		&s.UpdatedAt,
	); err != nil {
		return nil, err
	}
	s.Tier = model.Tier{PlanID: plan.ID(planID), BillingCycle: plan.BillingCycle(cycle)}
	s.Status = model.SubscriptionStatus(status)
	return &s, nil
}

func (r *subscriptionRepo) getOne(ctx context.Context, q querier, query string, arg any) (*model.Subscription, error) {
	s, err := scanSubscription(q.QueryRow(ctx, query, arg))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return s, nil
}

// GetLive returns the user's active or past_due subscription.
func (r *subscriptionRepo) GetLive(ctx context.Context, userID string) (*model.Subscription, error) {
	q := `SELECT ` + subscriptionColumns + `
        FROM subscriptions
        WHERE user_id = $1 AND status IN ('active', 'past_due')`
	s, err := r.getOne(ctx, r.pool, q, userID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("fetch live subscription for user %s: %w", userID, err)
	}
	return s, err
}

// GetLatest returns the user's most recent subscription regardless of status.
func (r *subscriptionRepo) GetLatest(ctx context.Context, userID string) (*model.Subscription, error) {
	q := `SELECT ` + subscriptionColumns + `
        FROM subscriptions
        WHERE user_id = $1
        ORDER BY created_at DESC
        LIMIT 1`
	s, err := r.getOne(ctx, r.pool, q, userID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("fetch subscription for user %s: %w", userID, err)
	}
	return s, err
}

func (r *subscriptionRepo) GetByGatewayID(ctx context.Context, gatewaySubscriptionID string) (*model.Subscription, error) {
	q := `SELECT ` + subscriptionColumns + ` FROM subscriptions WHERE gateway_subscription_id = $1`
	s, err := r.getOne(ctx, r.pool, q, gatewaySubscriptionID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("fetch subscription %s: %w", gatewaySubscriptionID, err)
	}
	return s, err
}

func (r *subscriptionRepo) Commit(ctx context.Context, c Change) error {
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		return applyChange(ctx, tx, c)
	})
}

func (r *subscriptionRepo) ApplyEvent(ctx context.Context, eventID, eventType, gatewaySubscriptionID string, fn TransitionFunc) (bool, error) {
	applied := false
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		const claimQ = `
            INSERT INTO webhook_events (event_id, event_type)
            VALUES ($1, $2)
            ON CONFLICT (event_id) DO NOTHING
        `
		tag, err := tx.Exec(ctx, claimQ, eventID, eventType)
		if err != nil {
			return fmt.Errorf("claiming webhook event %s: %w", eventID, err)
		}
		if tag.RowsAffected() == 0 {
			return nil
		}
		applied = true

		var current *model.Subscription
		if gatewaySubscriptionID != "" {
			q := `SELECT ` + subscriptionColumns + `
                FROM subscriptions
                WHERE gateway_subscription_id = $1
                FOR UPDATE`
			current, err = r.getOne(ctx, tx, q, gatewaySubscriptionID)
			if err != nil && !errors.Is(err, ErrNotFound) {
				return fmt.Errorf("locking subscription %s: %w", gatewaySubscriptionID, err)
			}
		}

		change, err := fn(current)
		if err != nil {
			return err
		}
		if change == nil {
			return nil
		}
		return applyChange(ctx, tx, *change)
	})
	if err != nil {
		return false, err
	}
	return applied, nil
}

func applyChange(ctx context.Context, tx pgx.Tx, c Change) error {
	if c.Subscription != nil && c.Supersede {
		const supersedeQ = `
            UPDATE subscriptions
            SET status = 'canceled', updated_at = NOW()
            WHERE user_id = $1
              AND status IN ('active', 'past_due')
              AND gateway_subscription_id <> $2
        `
		if _, err := tx.Exec(ctx, supersedeQ, c.UserID, c.Subscription.GatewaySubscriptionID); err != nil {
			return fmt.Errorf("superseding subscriptions for user %s: %w", c.UserID, err)
		}
	}
	if s := c.Subscription; s != nil {
		const upsertQ = `
            INSERT INTO subscriptions (id, user_id, plan_id, billing_cycle, gateway_subscription_id, status,
                current_period_start, current_period_end, cancel_at_period_end, created_at, updated_at)
            VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW(), NOW())
            ON CONFLICT (gateway_subscription_id) DO UPDATE
            SET plan_id = EXCLUDED.plan_id,
                billing_cycle = EXCLUDED.billing_cycle,
                status = EXCLUDED.status,
                current_period_start = EXCLUDED.current_period_start,
                current_period_end = EXCLUDED.current_period_end,
                cancel_at_period_end = EXCLUDED.cancel_at_period_end,
                updated_at = NOW()
        `
		if _, err := tx.Exec(ctx, upsertQ,
			s.ID,
			s.UserID,
			string(s.Tier.PlanID),
			string(s.Tier.BillingCycle),
			s.GatewaySubscriptionID,
			string(s.Status),
			s.CurrentPeriodStart,
			s.CurrentPeriodEnd,
			s.CancelAtPeriodEnd,
		); err != nil {
			return fmt.Errorf("upsert subscription %s for user %s: %w", s.GatewaySubscriptionID, s.UserID, err)
		}
	}
	if p := c.Payment; p != nil {
		const payQ = `
            INSERT INTO payments (id, user_id, amount, currency, status, gateway_payment_id, gateway_subscription_id, created_at)
            VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
            ON CONFLICT (gateway_payment_id) DO UPDATE
            SET status = EXCLUDED.status
            WHERE payments.status = 'pending'
        `
		if _, err := tx.Exec(ctx, payQ, p.ID, p.UserID, p.Amount, p.Currency, string(p.Status), p.GatewayPaymentID, p.GatewaySubscriptionID); err != nil {
			return fmt.Errorf("insert payment %s for user %s: %w", p.GatewayPaymentID, p.UserID, err)
		}
	}
	if c.Tier != nil {
		if err := setTier(ctx, tx, c.UserID, *c.Tier); err != nil {
			return err
		}
	}
	return nil
}

func (r *subscriptionRepo) SetCancelAtPeriodEnd(ctx context.Context, subscriptionID string, cancel bool) error {
	const q = `
        UPDATE subscriptions
        SET cancel_at_period_end = $2, updated_at = NOW()
        WHERE id = $1 AND status IN ('active', 'past_due')
    `
	tag, err := r.pool.Exec(ctx, q, subscriptionID, cancel)
	if err != nil {
		return fmt.Errorf("set cancel_at_period_end on subscription %s: %w", subscriptionID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *subscriptionRepo) FinalizeElapsed(ctx context.Context, userID string, now time.Time) ([]string, error) {
	var users []string
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		const q = `
            UPDATE subscriptions
            SET status = 'canceled', updated_at = NOW()
            WHERE status IN ('active', 'past_due')
              AND (cancel_at_period_end OR status = 'past_due')
              AND current_period_end < $1
              AND ($2 = '' OR user_id = $2)
            RETURNING user_id
        `
		rows, err := tx.Query(ctx, q, now, userID)
		if err != nil {
			return fmt.Errorf("finalizing elapsed subscriptions: %w", err)
		}
		users, err = pgx.CollectRows(rows, pgx.RowTo[string])
		if err != nil {
			return fmt.Errorf("collect finalized users: %w", err)
		}
		for _, u := range users {
			if err := setTier(ctx, tx, u, model.FreeTier); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return users, nil
}

func (r *subscriptionRepo) ListPayments(ctx context.Context, userID string, limit int) ([]model.Payment, error) {
	const q = `
        SELECT id, user_id, amount, currency, status, gateway_payment_id, gateway_subscription_id, created_at
        FROM payments
        WHERE user_id = $1
        ORDER BY created_at DESC
        LIMIT $2
    `
	rows, err := r.pool.Query(ctx, q, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("fetch payments for user %s: %w", userID, err)
	}
	defer rows.Close()

	var payments []model.Payment
	for rows.Next() {
		var p model.Payment
		var status string
		if err := rows.Scan(&p.ID, &p.UserID, &p.Amount, &p.Currency, &status, &p.GatewayPaymentID, &p.GatewaySubscriptionID, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan payment row: %w", err)
		}
		p.Status = model.PaymentStatus(status)
		payments = append(payments, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate payments: %w", err)
	}
	return payments, nil
}
