package service

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"resizeme/internal/entitlement"
	"resizeme/internal/model"
	"resizeme/internal/repository"
	"resizeme/internal/storage"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// DownloadURLTTL is the lifetime of presigned download links.
const DownloadURLTTL = 15 * time.Minute

// FileService keeps processed images in object storage, charged against the storage quota.
type FileService interface {
	Save(ctx context.Context, userID string, in SaveFileInput) (*model.SavedFile, error)
	List(ctx context.Context, userID string, limit, offset int) ([]model.SavedFile, error)
	Delete(ctx context.Context, userID, fileID string) error
	PresignDownload(ctx context.Context, userID, fileID string) (string, time.Time, error)
}

type SaveFileInput struct {
	FileName string `validate:"required,max=255"`
	MimeType string `validate:"required,startswith=image/"`
	ToolUsed string `validate:"max=64"`
	Data     []byte `validate:"required"`
}

type fileService struct {
	repo         repository.SavedFileRepository
	store        storage.ObjectStore
	entitlements EntitlementService
	usage        UsageService
	validate     *validator.Validate
	now          func() time.Time
	logger       zerolog.Logger
}

// NewFileService creates a FileService. A nil store disables every operation with ErrStorageDisabled.
func NewFileService(
	repo repository.SavedFileRepository,
	store storage.ObjectStore,
	entitlements EntitlementService,
	usage UsageService,
	now func() time.Time,
	logger zerolog.Logger,
) FileService {
	if now == nil {
		now = time.Now
	}
	return &fileService{
		repo:         repo,
		store:        store,
		entitlements: entitlements,
		usage:        usage,
		validate:     validator.New(),
		now:          now,
		logger:       logger.With().Str("service", "FileService").Logger(),
	}
}

func (s *fileService) Save(ctx context.Context, userID string, in SaveFileInput) (*model.SavedFile, error) {
	if s.store == nil {
		return nil, ErrStorageDisabled
	}
	if err := s.validate.Struct(in); err != nil {
		return nil, fmt.Errorf("invalid file: %w", err)
	}
	size := int64(len(in.Data))
	decision, ents, err := s.entitlements.Check(ctx, userID, entitlement.Request{Action: entitlement.ActionStore, FileSizeBytes: size})
	if err != nil {
		return nil, err
	}
	if !decision.Allowed {
		return nil, decision.Err()
	}

	id := uuid.NewString()
	f := &model.SavedFile{
		ID:        id,
		UserID:    userID,
		ObjectKey: path.Join(userID, id+strings.ToLower(path.Ext(in.FileName))),
		FileName:  in.FileName,
		MimeType:  in.MimeType,
		FileSize:  size,
		ToolUsed:  in.ToolUsed,
	}
	// The bytes are claimed before the upload so concurrent saves cannot
	// overshoot the limit between the check above and the write.
	if _, err := s.usage.ReserveStorage(ctx, userID, size, ents.Plan.StorageLimitBytes); err != nil {
		return nil, err
	}
	if err := s.store.Put(ctx, f.ObjectKey, in.Data, in.MimeType); err != nil {
		s.logger.Error().Err(err).Str("user_id", userID).Str("object_key", f.ObjectKey).Msg("Failed to upload saved file")
		s.releaseStorage(ctx, userID, size)
		return nil, err
	}
	if err := s.repo.Insert(ctx, f); err != nil {
		s.logger.Error().Err(err).Str("user_id", userID).Str("object_key", f.ObjectKey).Msg("Failed to insert saved file")
		s.removeObject(ctx, f.ObjectKey)
		s.releaseStorage(ctx, userID, size)
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}

	s.logger.Info().Str("user_id", userID).Str("file_id", id).Int64("size", size).Msg("Saved file stored")
	return f, nil
}

func (s *fileService) releaseStorage(ctx context.Context, userID string, size int64) {
	if _, err := s.usage.RecordStorage(ctx, userID, -size); err != nil {
		s.logger.Error().Err(err).Str("user_id", userID).Int64("size", size).Msg("Failed to release storage reservation")
	}
}

func (s *fileService) removeObject(ctx context.Context, key string) {
	if err := s.store.Delete(ctx, key); err != nil {
		s.logger.Error().Err(err).Str("object_key", key).Msg("Failed to remove orphaned object")
	}
}

func (s *fileService) List(ctx context.Context, userID string, limit, offset int) ([]model.SavedFile, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	files, err := s.repo.List(ctx, userID, limit, offset)
	if err != nil {
		s.logger.Error().Err(err).Str("user_id", userID).Msg("Failed to list saved files")
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	return files, nil
}

func (s *fileService) get(ctx context.Context, userID, fileID string) (*model.SavedFile, error) {
	if _, err := uuid.Parse(fileID); err != nil {
		return nil, ErrFileNotFound
	}
	f, err := s.repo.Get(ctx, userID, fileID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrFileNotFound
		}
		s.logger.Error().Err(err).Str("file_id", fileID).Msg("Failed to fetch saved file")
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	return f, nil
}

func (s *fileService) Delete(ctx context.Context, userID, fileID string) error {
	if s.store == nil {
		return ErrStorageDisabled
	}
	f, err := s.get(ctx, userID, fileID)
	if err != nil {
		return err
	}
	if err := s.store.Delete(ctx, f.ObjectKey); err != nil {
		s.logger.Error().Err(err).Str("file_id", fileID).Msg("Failed to delete saved file object")
		return err
	}
	if err := s.repo.Delete(ctx, userID, fileID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrFileNotFound
		}
		s.logger.Error().Err(err).Str("file_id", fileID).Msg("Failed to delete saved file row")
		return fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	if _, err := s.usage.RecordStorage(ctx, userID, -f.FileSize); err != nil {
		return err
	}
	return nil
}

func (s *fileService) PresignDownload(ctx context.Context, userID, fileID string) (string, time.Time, error) {
	if s.store == nil {
		return "", time.Time{}, ErrStorageDisabled
	}
	f, err := s.get(ctx, userID, fileID)
	if err != nil {
		return "", time.Time{}, err
	}
	url, err := s.store.PresignGet(ctx, f.ObjectKey, DownloadURLTTL)
	if err != nil {
		s.logger.Error().Err(err).Str("file_id", fileID).Msg("Failed to presign download")
		return "", time.Time{}, err
	}
	return url, s.now().Add(DownloadURLTTL), nil
}
