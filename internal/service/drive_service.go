package service

import (
	"context"
	"errors"
	"fmt"

	"resizeme/internal/entitlement"
	"resizeme/internal/model"
	"resizeme/internal/repository"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/drive/v3"
)

// DriveService bridges processed images to the user's Google Drive.
type DriveService interface {
	AuthURL(state string) string
	Connect(ctx context.Context, userID, code string) error
	Upload(ctx context.Context, userID string, in DriveUploadInput) (*model.DriveFile, error)
	List(ctx context.Context, userID string, limit, offset int) ([]model.DriveFile, error)
	Delete(ctx context.Context, userID, driveFileID string) error
	Disconnect(ctx context.Context, userID string) error
}

type DriveUploadInput struct {
	FileName string `validate:"required,max=255"`
	MimeType string `validate:"required,startswith=image/"`
	ToolUsed string `validate:"max=64"`
	Data     []byte `validate:"required"`
}

// NewOAuthConfig builds the Google OAuth client limited to files the app creates.
func NewOAuthConfig(clientID, clientSecret, redirectURL string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURL:  redirectURL,
		Scopes:       []string{drive.DriveFileScope},
		Endpoint:     google.Endpoint,
	}
}

type driveService struct {
	oauth        *oauth2.Config
	api          DriveAPI
	tokens       TokenStore
	repo         repository.DriveRepository
	entitlements EntitlementService
	usage        UsageService
	folderName   string
	validate     *validator.Validate
	logger       zerolog.Logger
}

func NewDriveService(
	oauth *oauth2.Config,
	api DriveAPI,
	tokens TokenStore,
	repo repository.DriveRepository,
	entitlements EntitlementService,
	usage UsageService,
	folderName string,
	logger zerolog.Logger,
) DriveService {
	if folderName == "" {
		folderName = "ResizeMe"
	}
	return &driveService{
		oauth:        oauth,
		api:          api,
		tokens:       tokens,
		repo:         repo,
		entitlements: entitlements,
		usage:        usage,
		folderName:   folderName,
		validate:     validator.New(),
		logger:       logger.With().Str("service", "DriveService").Logger(),
	}
}

func (s *driveService) AuthURL(state string) string {
	return s.oauth.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce)
}

func (s *driveService) Connect(ctx context.Context, userID, code string) error {
	if _, err := s.entitlements.RequireFeature(ctx, userID, entitlement.FeatureDriveIntegration); err != nil {
		return err
	}
	if code == "" {
		return fmt.Errorf("missing authorization code")
	}
	tok, err := s.oauth.Exchange(ctx, code)
	if err != nil {
		s.logger.Warn().Err(err).Str("user_id", userID).Msg("Drive code exchange failed")
		return fmt.Errorf("exchange drive authorization code: %w", err)
	}
	if err := s.tokens.Save(ctx, userID, tok); err != nil {
		s.logger.Error().Err(err).Str("user_id", userID).Msg("Failed to store drive token")
		return fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	s.logger.Info().Str("user_id", userID).Msg("Drive connected")
	return nil
}

// tokenSource refreshes the stored token as needed and persists a refreshed token.
func (s *driveService) tokenSource(ctx context.Context, userID string) (oauth2.TokenSource, func(), error) {
	tok, err := s.tokens.Load(ctx, userID)
	if err != nil {
		return nil, nil, err
	}
	ts := s.oauth.TokenSource(ctx, tok)
	persist := func() {
		fresh, err := ts.Token()
		if err != nil || fresh.AccessToken == tok.AccessToken {
			return
		}
		if err := s.tokens.Save(ctx, userID, fresh); err != nil {
			s.logger.Warn().Err(err).Str("user_id", userID).Msg("Failed to persist refreshed drive token")
		}
	}
	return ts, persist, nil
}

// folder returns the app folder id, creating it when missing or trashed.
func (s *driveService) folder(ctx context.Context, userID string, ts oauth2.TokenSource) (string, error) {
	acct, err := s.repo.GetAccount(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return "", ErrNotConnected
		}
		return "", fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	if acct.FolderID != nil && *acct.FolderID != "" {
		ok, err := s.api.FolderExists(ctx, ts, *acct.FolderID)
		if err != nil {
			return "", err
		}
		if ok {
			return *acct.FolderID, nil
		}
	}
	id, err := s.api.CreateFolder(ctx, ts, s.folderName)
	if err != nil {
		return "", err
	}
	if err := s.repo.SetFolder(ctx, userID, id); err != nil {
		s.logger.Error().Err(err).Str("user_id", userID).Msg("Failed to record drive folder")
		return "", fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	return id, nil
}

func (s *driveService) Upload(ctx context.Context, userID string, in DriveUploadInput) (*model.DriveFile, error) {
	if err := s.validate.Struct(in); err != nil {
		return nil, fmt.Errorf("invalid upload: %w", err)
	}
	snap, err := s.entitlements.RequireFeature(ctx, userID, entitlement.FeatureDriveIntegration)
	if err != nil {
		return nil, err
	}
	size := int64(len(in.Data))
	if d := entitlement.Evaluate(&snap.Plan, snap.Usage, entitlement.Request{Action: entitlement.ActionStore, FileSizeBytes: size}); !d.Allowed {
		return nil, d.Err()
	}

	ts, persist, err := s.tokenSource(ctx, userID)
	if err != nil {
		return nil, err
	}
	defer persist()

	folderID, err := s.folder(ctx, userID, ts)
	if err != nil {
		s.logger.Error().Err(err).Str("user_id", userID).Msg("Failed to resolve drive folder")
		return nil, err
	}
	if _, err := s.usage.ReserveStorage(ctx, userID, size, snap.Plan.StorageLimitBytes); err != nil {
		return nil, err
	}
	up, err := s.api.Upload(ctx, ts, folderID, in.FileName, in.MimeType, in.Data)
	if err != nil {
		s.logger.Error().Err(err).Str("user_id", userID).Str("file_name", in.FileName).Msg("Drive upload failed")
		s.adjustStorage(ctx, userID, -size)
		return nil, err
	}

	f := &model.DriveFile{
		UserID:        userID,
		DriveFileID:   up.ID,
		FileName:      in.FileName,
		MimeType:      in.MimeType,
		FileSize:      up.Size,
		ToolUsed:      in.ToolUsed,
		WebViewLink:   up.WebViewLink,
		ThumbnailLink: up.ThumbnailLink,
	}
	if err := s.repo.InsertFile(ctx, f); err != nil {
		s.logger.Error().Err(err).Str("user_id", userID).Str("drive_file_id", up.ID).Msg("Failed to record drive file")
		if delErr := s.api.Delete(ctx, ts, up.ID); delErr != nil {
			s.logger.Error().Err(delErr).Str("drive_file_id", up.ID).Msg("Failed to remove orphaned drive file")
		}
		s.adjustStorage(ctx, userID, -size)
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	// Drive reports the stored size, which can differ from the request body.
	if up.Size != size {
		s.adjustStorage(ctx, userID, up.Size-size)
	}

	s.logger.Info().Str("user_id", userID).Str("drive_file_id", up.ID).Int64("size", f.FileSize).Msg("Uploaded to drive")
	return f, nil
}

func (s *driveService) adjustStorage(ctx context.Context, userID string, delta int64) {
	if _, err := s.usage.RecordStorage(ctx, userID, delta); err != nil {
		s.logger.Error().Err(err).Str("user_id", userID).Int64("delta_bytes", delta).Msg("Failed to adjust storage reservation")
	}
}

func (s *driveService) List(ctx context.Context, userID string, limit, offset int) ([]model.DriveFile, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	files, err := s.repo.ListFiles(ctx, userID, limit, offset)
	if err != nil {
		s.logger.Error().Err(err).Str("user_id", userID).Msg("Failed to list drive files")
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	return files, nil
}

func (s *driveService) Delete(ctx context.Context, userID, driveFileID string) error {
	f, err := s.repo.GetFile(ctx, userID, driveFileID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrFileNotFound
		}
		return fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	ts, persist, err := s.tokenSource(ctx, userID)
	if err != nil {
		return err
	}
	defer persist()

	if err := s.api.Delete(ctx, ts, driveFileID); err != nil {
		s.logger.Error().Err(err).Str("user_id", userID).Str("drive_file_id", driveFileID).Msg("Drive delete failed")
		return err
	}
	if err := s.repo.DeleteFile(ctx, userID, driveFileID); err != nil && !errors.Is(err, repository.ErrNotFound) {
		return fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	if _, err := s.usage.RecordStorage(ctx, userID, -f.FileSize); err != nil {
		return err
	}
	return nil
}

func (s *driveService) Disconnect(ctx context.Context, userID string) error {
	if err := s.tokens.Delete(ctx, userID); err != nil {
		s.logger.Error().Err(err).Str("user_id", userID).Msg("Failed to disconnect drive")
		return fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	s.logger.Info().Str("user_id", userID).Msg("Drive disconnected")
	return nil
}
