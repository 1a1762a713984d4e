package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"resizeme/internal/entitlement"
	"resizeme/internal/model"
	"resizeme/internal/recent"
	"resizeme/internal/repository"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
)

// UsageService is the usage ledger: per-user counters and download history.
type UsageService interface {
	// GetUsage returns the user's counters, creating a zeroed row on first use
	// and rolling an elapsed period forward first.
	GetUsage(ctx context.Context, userID string) (*model.UsageRecord, error)
	RecordDownload(ctx context.Context, userID string, in DownloadInput) error
	// ConsumeDownload records a download only while the count is below limit
	// (plan.Unlimited disables the check). At the limit it returns a
	// *entitlement.QuotaExceededError with reason downloads.
	ConsumeDownload(ctx context.Context, userID string, limit int64, in DownloadInput) (int64, error)
	// ReserveStorage claims deltaBytes of storage only while the total stays
	// within limit, returning a *entitlement.QuotaExceededError with reason
	// storage otherwise. Release a reservation with RecordStorage(-deltaBytes).
	ReserveStorage(ctx context.Context, userID string, deltaBytes, limit int64) (int64, error)
	RecordStorage(ctx context.Context, userID string, deltaBytes int64) (int64, error)
	ResetIfPeriodElapsed(ctx context.Context, userID string) (*model.UsageRecord, error)
	History(ctx context.Context, userID string, limit, offset int) ([]model.DownloadEvent, error)
	ResetElapsedPeriods(ctx context.Context) (int64, error)
}

type DownloadInput struct {
	SizeBytes int64  `validate:"gte=0"`
	ToolName  string `validate:"required,max=64"`
	FileName  string `validate:"max=255"`
}

type usageService struct {
	repo     repository.UsageRepository
	recent   recent.Store
	validate *validator.Validate
	now      func() time.Time
	logger   zerolog.Logger
}

// NewUsageService creates a new UsageService. recent may be nil.
func NewUsageService(repo repository.UsageRepository, recentStore recent.Store, now func() time.Time, logger zerolog.Logger) UsageService {
	if now == nil {
		now = time.Now
	}
	return &usageService{
		repo:     repo,
		recent:   recentStore,
		validate: validator.New(),
		now:      now,
		logger:   logger.With().Str("service", "UsageService").Logger(),
	}
}

func (s *usageService) GetUsage(ctx context.Context, userID string) (*model.UsageRecord, error) {
	u, err := s.repo.Get(ctx, userID)
	if errors.Is(err, repository.ErrNotFound) {
		now := s.now()
		u, err = s.repo.Ensure(ctx, userID, now, model.AddMonths(now, 1))
	}
	if err != nil {
		s.logger.Error().Err(err).Str("user_id", userID).Msg("Failed to load usage")
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	return s.rollForward(ctx, u)
}

func (s *usageService) ResetIfPeriodElapsed(ctx context.Context, userID string) (*model.UsageRecord, error) {
	return s.GetUsage(ctx, userID)
}

// rollForward resets downloads when the period has elapsed and moves the period
// to the anchored month that contains now. Storage is never reset.
func (s *usageService) rollForward(ctx context.Context, u *model.UsageRecord) (*model.UsageRecord, error) {
	now := s.now()
	if !u.PeriodElapsed(now) {
		return u, nil
	}
	start, end := model.PeriodAt(u.Anchor(), now)
	reset, err := s.repo.ResetPeriod(ctx, u.UserID, u.PeriodEnd, start, end)
	if err != nil {
		s.logger.Error().Err(err).Str("user_id", u.UserID).Msg("Failed to reset usage period")
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	if reset {
		s.logger.Info().Str("user_id", u.UserID).Time("period_start", start).Time("period_end", end).Msg("Usage period reset")
	}
	// A concurrent reset may have won; either way the stored row is current.
	fresh, err := s.repo.Get(ctx, u.UserID)
	if err != nil {
		s.logger.Error().Err(err).Str("user_id", u.UserID).Msg("Failed to reload usage")
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	return fresh, nil
}

func (s *usageService) RecordDownload(ctx context.Context, userID string, in DownloadInput) error {
	_, err := s.ConsumeDownload(ctx, userID, -1, in)
	return err
}

func (s *usageService) ConsumeDownload(ctx context.Context, userID string, limit int64, in DownloadInput) (int64, error) {
	if err := s.validate.Struct(in); err != nil {
		return 0, fmt.Errorf("invalid download: %w", err)
	}
	if _, err := s.GetUsage(ctx, userID); err != nil {
		return 0, err
	}
	ev := model.DownloadEvent{
		UserID:   userID,
		ToolName: in.ToolName,
		FileName: in.FileName,
		FileSize: in.SizeBytes,
	}
	count, err := s.repo.IncrementDownloads(ctx, ev, limit)
	if err != nil {
		if errors.Is(err, repository.ErrDownloadLimitReached) {
			return 0, &entitlement.QuotaExceededError{Reason: entitlement.ReasonDownload}
		}
		s.logger.Error().Err(err).Str("user_id", userID).Str("tool", in.ToolName).Msg("Failed to record download")
		return 0, fmt.Errorf("%w: %v", ErrPersistence, err)
	}

	if s.recent != nil {
		entry := recent.Entry{FileName: in.FileName, ToolName: in.ToolName, SizeBytes: in.SizeBytes, CreatedAt: s.now()}
		if err := s.recent.Push(ctx, userID, entry); err != nil {
			s.logger.Warn().Err(err).Str("user_id", userID).Msg("Failed to push recent upload")
		}
	}
	return count, nil
}

func (s *usageService) ReserveStorage(ctx context.Context, userID string, deltaBytes, limit int64) (int64, error) {
	if _, err := s.GetUsage(ctx, userID); err != nil {
		return 0, err
	}
	used, err := s.repo.ReserveStorage(ctx, userID, deltaBytes, limit)
	if err != nil {
		if errors.Is(err, repository.ErrStorageLimitReached) {
			return 0, &entitlement.QuotaExceededError{Reason: entitlement.ReasonStorage}
		}
		s.logger.Error().Err(err).Str("user_id", userID).Int64("delta_bytes", deltaBytes).Msg("Failed to reserve storage")
		return 0, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	return used, nil
}

func (s *usageService) RecordStorage(ctx context.Context, userID string, deltaBytes int64) (int64, error) {
	used, err := s.repo.AddStorage(ctx, userID, deltaBytes)
	if errors.Is(err, repository.ErrNotFound) {
		if _, err = s.GetUsage(ctx, userID); err == nil {
			used, err = s.repo.AddStorage(ctx, userID, deltaBytes)
		}
	}
	if err != nil {
		s.logger.Error().Err(err).Str("user_id", userID).Int64("delta_bytes", deltaBytes).Msg("Failed to record storage")
		if errors.Is(err, ErrPersistence) {
			return 0, err
		}
		return 0, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	return used, nil
}

func (s *usageService) History(ctx context.Context, userID string, limit, offset int) ([]model.DownloadEvent, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	events, err := s.repo.History(ctx, userID, limit, offset)
	if err != nil {
		s.logger.Error().Err(err).Str("user_id", userID).Msg("Failed to load download history")
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	return events, nil
}

func (s *usageService) ResetElapsedPeriods(ctx context.Context) (int64, error) {
	n, err := s.repo.ResetElapsed(ctx, s.now())
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to reset elapsed usage periods")
		return 0, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	if n > 0 {
		s.logger.Info().Int64("count", n).Msg("Reset elapsed usage periods")
	}
	return n, nil
}
