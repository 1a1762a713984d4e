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

// ErrDownloadLimitReached is returned when a conditional increment finds the user at their download limit.
var ErrDownloadLimitReached = errors.New("download_limit_reached")

// ErrStorageLimitReached is returned when a reservation would take the user past their storage limit.
var ErrStorageLimitReached = errors.New("storage_limit_reached")

// UsageRepository persists per-user counters. Every counter change is a single
// SQL statement so concurrent requests for the same user never lose updates.
type UsageRepository interface {
	// Ensure creates a zeroed usage row anchored at periodStart if none exists and returns the current row.
	Ensure(ctx context.Context, userID string, periodStart, periodEnd time.Time) (*model.UsageRecord, error)
	Get(ctx context.Context, userID string) (*model.UsageRecord, error)
	// IncrementDownloads adds one download and appends the history line in one transaction.
	// A negative limit means unbounded; otherwise ErrDownloadLimitReached is returned at the limit.
	IncrementDownloads(ctx context.Context, ev model.DownloadEvent, limit int64) (int64, error)
	// ReserveStorage adds delta to storage_used_bytes only if the result stays
	// within limit. A negative limit means unbounded.
	ReserveStorage(ctx context.Context, userID string, delta, limit int64) (int64, error)
	// AddStorage adjusts storage_used_bytes by delta, clamped at zero.
	AddStorage(ctx context.Context, userID string, delta int64) (int64, error)
	// ResetPeriod zeroes downloads and moves the period, only if period_end still equals oldEnd.
	ResetPeriod(ctx context.Context, userID string, oldEnd, newStart, newEnd time.Time) (bool, error)
	// ResetElapsed moves every elapsed period to the anchored month containing now.
	ResetElapsed(ctx context.Context, now time.Time) (int64, error)
	History(ctx context.Context, userID string, limit, offset int) ([]model.DownloadEvent, error)
}

type usageRepo struct {
	pool *pgxpool.Pool
}

// NewUsageRepo creates a new UsageRepository.
func NewUsageRepo(pool *pgxpool.Pool) UsageRepository {
	return &usageRepo{pool: pool}
}

const usageColumns = `user_id, plan_id, billing_cycle, downloads_this_month, storage_used_bytes, period_start, period_end, billing_anchor, created_at, updated_at`

func scanUsage(row pgx.Row) (*model.UsageRecord, error) {
	var u model.UsageRecord
	var planID, cycle string
	if err := row.Scan(
		&u.UserID,
		&planID,
		&cycle,
		&u.DownloadsThisMonth,
		&u.StorageUsedBytes,
		&u.PeriodStart,
		&u.PeriodEnd,
		&u.BillingAnchor,
		&u.CreatedAt,
		&u.UpdatedAt,
	); err != nil {
		return nil, err
	}
	u.Tier = model.Tier{PlanID: plan.ID(planID), BillingCycle: plan.BillingCycle(cycle)}
	return &u, nil
}

func (r *usageRepo) Ensure(ctx context.Context, userID string, periodStart, periodEnd time.Time) (*model.UsageRecord, error) {
	const insertQ = `
        INSERT INTO usage (user_id, period_start, period_end, billing_anchor)
        VALUES ($1, $2, $3, $2)
        ON CONFLICT (user_id) DO NOTHING
    `
	if _, err := r.pool.Exec(ctx, insertQ, userID, periodStart, periodEnd); err != nil {
		return nil, fmt.Errorf("creating usage for user %s: %w", userID, err)
	}
	return r.Get(ctx, userID)
}

func (r *usageRepo) Get(ctx context.Context, userID string) (*model.UsageRecord, error) {
	q := `SELECT ` + usageColumns + ` FROM usage WHERE user_id = $1`
	u, err := scanUsage(r.pool.QueryRow(ctx, q, userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("fetch usage for user %s: %w", userID, err)
	}
	return u, nil
}

func (r *usageRepo) IncrementDownloads(ctx context.Context, ev model.DownloadEvent, limit int64) (int64, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("starting transaction for download: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	const incQ = `
        UPDATE usage
        SET downloads_this_month = downloads_this_month + 1,
            updated_at = NOW()
        WHERE user_id = $1
          AND ($2::bigint < 0 OR downloads_this_month < $2::bigint)
        RETURNING downloads_this_month
    `
	var count int64
	if err := tx.QueryRow(ctx, incQ, ev.UserID, limit).Scan(&count); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			if _, getErr := r.Get(ctx, ev.UserID); errors.Is(getErr, ErrNotFound) {
				return 0, ErrNotFound
			}
			return 0, ErrDownloadLimitReached
		}
		return 0, fmt.Errorf("incrementing downloads for user %s: %w", ev.UserID, err)
	}

	const histQ = `
        INSERT INTO download_history (user_id, tool_name, file_name, file_size_bytes)
        VALUES ($1, $2, $3, $4)
    `
	if _, err := tx.Exec(ctx, histQ, ev.UserID, ev.ToolName, ev.FileName, ev.FileSize); err != nil {
		return 0, fmt.Errorf("recording download history for user %s: %w", ev.UserID, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("committing download for user %s: %w", ev.UserID, err)
	}
	return count, nil
}

func (r *usageRepo) ReserveStorage(ctx context.Context, userID string, delta, limit int64) (int64, error) {
	const q = `
        UPDATE usage
        SET storage_used_bytes = storage_used_bytes + $2,
            updated_at = NOW()
        WHERE user_id = $1
          AND ($3::bigint < 0 OR storage_used_bytes + $2 <= $3::bigint)
        RETURNING storage_used_bytes
    `
	var used int64
	if err := r.pool.QueryRow(ctx, q, userID, delta, limit).Scan(&used); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			if _, getErr := r.Get(ctx, userID); errors.Is(getErr, ErrNotFound) {
				return 0, ErrNotFound
			}
			return 0, ErrStorageLimitReached
		}
		return 0, fmt.Errorf("reserving storage for user %s: %w", userID, err)
	}
	return used, nil
}

func (r *usageRepo) AddStorage(ctx context.Context, userID string, delta int64) (int64, error) {
	const q = `
        UPDATE usage
        SET storage_used_bytes = GREATEST(storage_used_bytes + $2, 0),
            updated_at = NOW()
        WHERE user_id = $1
        RETURNING storage_used_bytes
    `
	var used int64
	if err := r.pool.QueryRow(ctx, q, userID, delta).Scan(&used); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrNotFound
		}
		return 0, fmt.Errorf("updating storage for user %s: %w", userID, err)
	}
	return used, nil
}

func (r *usageRepo) ResetPeriod(ctx context.Context, userID string, oldEnd, newStart, newEnd time.Time) (bool, error) {
	const q = `
        UPDATE usage
        SET downloads_this_month = 0,
            period_start = $3,
            period_end = $4,
            updated_at = NOW()
        WHERE user_id = $1 AND period_end = $2
    `
	tag, err := r.pool.Exec(ctx, q, userID, oldEnd, newStart, newEnd)
	if err != nil {
		return false, fmt.Errorf("resetting usage period for user %s: %w", userID, err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *usageRepo) ResetElapsed(ctx context.Context, now time.Time) (int64, error) {
	// Same arithmetic as model.PeriodAt: k is the calendar month distance from
	// the anchor to now, minus one when anchor + k months is still ahead of now.
	// Month intervals are added to UTC timestamps so short months clamp identically.
	const q = `
        WITH due AS (
            SELECT user_id,
                   billing_anchor AT TIME ZONE 'UTC' AS anchor,
                   ((EXTRACT(YEAR FROM $1::timestamptz AT TIME ZONE 'UTC') - EXTRACT(YEAR FROM billing_anchor AT TIME ZONE 'UTC')) * 12
                    + EXTRACT(MONTH FROM $1::timestamptz AT TIME ZONE 'UTC') - EXTRACT(MONTH FROM billing_anchor AT TIME ZONE 'UTC'))::int AS k
            FROM usage
            WHERE period_end < $1::timestamptz
        ), periods AS (
            SELECT user_id, anchor,
                   CASE WHEN anchor + make_interval(months => k) > $1::timestamptz AT TIME ZONE 'UTC' THEN k - 1 ELSE k END AS k
            FROM due
        )
        UPDATE usage u
        SET downloads_this_month = 0,
            period_start = (p.anchor + make_interval(months => p.k)) AT TIME ZONE 'UTC',
            period_end = (p.anchor + make_interval(months => p.k + 1)) AT TIME ZONE 'UTC',
            updated_at = NOW()
        FROM periods p
        WHERE u.user_id = p.user_id AND u.period_end < $1::timestamptz
    `
	tag, err := r.pool.Exec(ctx, q, now)
	if err != nil {
		return 0, fmt.Errorf("resetting elapsed usage periods: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *usageRepo) History(ctx context.Context, userID string, limit, offset int) ([]model.DownloadEvent, error) {
	const q = `
        SELECT id, user_id, tool_name, file_name, file_size_bytes, created_at
        FROM download_history
        WHERE user_id = $1
        ORDER BY created_at DESC, id DESC
        LIMIT $2 OFFSET $3
    `
	rows, err := r.pool.Query(ctx, q, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("fetch download history for user %s: %w", userID, err)
	}
	defer rows.Close()

	var events []model.DownloadEvent
	for rows.Next() {
		var ev model.DownloadEvent
		if err := rows.Scan(&ev.ID, &ev.UserID, &ev.ToolName, &ev.FileName, &ev.FileSize, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan download history row: %w", err)
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate download history: %w", err)
	}
	return events, nil
}

// setTier records the user's effective tier on the usage row, creating the row if needed.
func setTier(ctx context.Context, q querier, userID string, tier model.Tier) error {
	const upsertQ = `
        INSERT INTO usage (user_id, plan_id, billing_cycle, period_start, period_end)
        VALUES ($1, $2, $3, NOW(), NOW() + INTERVAL '1 month')
        ON CONFLICT (user_id) DO UPDATE
        SET plan_id = EXCLUDED.plan_id,
            billing_cycle = EXCLUDED.billing_cycle,
            updated_at = NOW()
    `
	if _, err := q.Exec(ctx, upsertQ, userID, string(tier.PlanID), string(tier.BillingCycle)); err != nil {
		return fmt.Errorf("setting tier for user %s: %w", userID, err)
	}
	return nil
}
