package handler

import (
	"context"

	"resizeme/internal/api/v1/dto"
	"resizeme/internal/api/v1/operation"
	"resizeme/internal/model"
	"resizeme/internal/service"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// FileHandler implements Google Drive and saved file operations
type FileHandler struct {
	driveService service.DriveService
	fileService  service.FileService
	logger       zerolog.Logger
}

// NewFileHandler creates a FileHandler. driveService is nil when Google OAuth is not configured.
func NewFileHandler(driveService service.DriveService, fileService service.FileService, logger zerolog.Logger) *FileHandler {
	return &FileHandler{
		driveService: driveService,
		fileService:  fileService,
		logger:       logger.With().Str("handler", "FileHandler").Logger(),
	}
}

func driveFileDTO(f model.DriveFile) dto.DriveFileResponseDTO {
	return dto.DriveFileResponseDTO{
		DriveFileID:   f.DriveFileID,
		FileName:      f.FileName,
		MimeType:      f.MimeType,
		FileSize:      f.FileSize,
		ToolUsed:      f.ToolUsed,
		WebViewLink:   f.WebViewLink,
		ThumbnailLink: f.ThumbnailLink,
		CreatedAt:     f.CreatedAt,
	}
}

func savedFileDTO(f model.SavedFile) dto.SavedFileResponseDTO {
	return dto.SavedFileResponseDTO{
		ID:        f.ID,
		FileName:  f.FileName,
		MimeType:  f.MimeType,
		FileSize:  f.FileSize,
		ToolUsed:  f.ToolUsed,
		CreatedAt: f.CreatedAt,
	}
}

func (h *FileHandler) drive() (service.DriveService, error) {
	if h.driveService == nil {
		return nil, mapError(h.logger, service.ErrStorageDisabled, "Drive is not configured")
	}
	return h.driveService, nil
}

// GetDriveAuthURL returns the Google consent URL and the state the client must echo back
func (h *FileHandler) GetDriveAuthURL(ctx context.Context, input *operation.GetDriveAuthURLInput) (*operation.GetDriveAuthURLOutput, error) {
	if _, err := getUserIDFromContext(ctx); err != nil {
		return nil, err
	}
	ds, err := h.drive()
	if err != nil {
		return nil, err
	}
	state := uuid.NewString()
	return &operation.GetDriveAuthURLOutput{Body: dto.DriveAuthURLResponseDTO{URL: ds.AuthURL(state), State: state}}, nil
}

// ConnectDrive exchanges an OAuth code and stores the user's Drive token
func (h *FileHandler) ConnectDrive(ctx context.Context, input *operation.ConnectDriveInput) (*operation.ConnectDriveOutput, error) {
	userID, err := getUserIDFromContext(ctx)
	if err != nil {
		return nil, err
	}
	ds, err := h.drive()
	if err != nil {
		return nil, err
	}
	if err := ds.Connect(ctx, userID, input.Body.Code); err != nil {
		return nil, mapError(h.logger, err, "Failed to connect drive")
	}
	return &operation.ConnectDriveOutput{Body: dto.StatusResponseDTO{Status: "connected"}}, nil
}

// DisconnectDrive forgets the user's Drive token
func (h *FileHandler) DisconnectDrive(ctx context.Context, input *operation.DisconnectDriveInput) (*operation.DisconnectDriveOutput, error) {
	userID, err := getUserIDFromContext(ctx)
	if err != nil {
		return nil, err
	}
	ds, err := h.drive()
	if err != nil {
		return nil, err
	}
	if err := ds.Disconnect(ctx, userID); err != nil {
		return nil, mapError(h.logger, err, "Failed to disconnect drive")
	}
	return &operation.DisconnectDriveOutput{}, nil
}

func (h *FileHandler) ListDriveFiles(ctx context.Context, input *operation.ListDriveFilesInput) (*operation.ListDriveFilesOutput, error) {
	userID, err := getUserIDFromContext(ctx)
	if err != nil {
		return nil, err
	}
	ds, err := h.drive()
	if err != nil {
		return nil, err
	}
	files, err := ds.List(ctx, userID, input.Limit, input.Offset)
	if err != nil {
		return nil, mapError(h.logger, err, "Failed to list drive files")
	}
	out := make([]dto.DriveFileResponseDTO, 0, len(files))
	for _, f := range files {
		out = append(out, driveFileDTO(f))
	}
	return &operation.ListDriveFilesOutput{Body: out}, nil
}

func (h *FileHandler) UploadDriveFile(ctx context.Context, input *operation.UploadDriveFileInput) (*operation.UploadDriveFileOutput, error) {
	userID, err := getUserIDFromContext(ctx)
	if err != nil {
		return nil, err
	}
	ds, err := h.drive()
	if err != nil {
		return nil, err
	}
	f, err := ds.Upload(ctx, userID, service.DriveUploadInput{
		FileName: input.Body.FileName,
		MimeType: input.Body.MimeType,
		ToolUsed: input.Body.ToolUsed,
		Data:     input.Body.Data,
	})
	if err != nil {
		return nil, mapError(h.logger, err, "Failed to upload to drive")
	}
	return &operation.UploadDriveFileOutput{Body: driveFileDTO(*f)}, nil
}

func (h *FileHandler) DeleteDriveFile(ctx context.Context, input *operation.DeleteDriveFileInput) (*operation.DeleteDriveFileOutput, error) {
	userID, err := getUserIDFromContext(ctx)
	if err != nil {
		return nil, err
	}
	ds, err := h.drive()
	if err != nil {
		return nil, err
	}
	if err := ds.Delete(ctx, userID, input.FileID); err != nil {
		return nil, mapError(h.logger, err, "Failed to delete drive file")
	}
	return &operation.DeleteDriveFileOutput{}, nil
}

func (h *FileHandler) ListSavedFiles(ctx context.Context, input *operation.ListSavedFilesInput) (*operation.ListSavedFilesOutput, error) {
	userID, err := getUserIDFromContext(ctx)
	if err != nil {
		return nil, err
	}
	files, err := h.fileService.List(ctx, userID, input.Limit, input.Offset)
	if err != nil {
		return nil, mapError(h.logger, err, "Failed to list saved files")
	}
	out := make([]dto.SavedFileResponseDTO, 0, len(files))
	for _, f := range files {
		out = append(out, savedFileDTO(f))
	}
	return &operation.ListSavedFilesOutput{Body: out}, nil
}

func (h *FileHandler) SaveFile(ctx context.Context, input *operation.SaveFileInput) (*operation.SaveFileOutput, error) {
	userID, err := getUserIDFromContext(ctx)
	if err != nil {
		return nil, err
	}
	f, err := h.fileService.Save(ctx, userID, service.SaveFileInput{
		FileName: input.Body.FileName,
		MimeType: input.Body.MimeType,
		ToolUsed: input.Body.ToolUsed,
		Data:     input.Body.Data,
	})
	if err != nil {
		return nil, mapError(h.logger, err, "Failed to save file")
	}
	return &operation.SaveFileOutput{Body: savedFileDTO(*f)}, nil
}

func (h *FileHandler) DeleteSavedFile(ctx context.Context, input *operation.DeleteSavedFileInput) (*operation.DeleteSavedFileOutput, error) {
	userID, err := getUserIDFromContext(ctx)
	if err != nil {
		return nil, err
	}
	if err := h.fileService.Delete(ctx, userID, input.FileID); err != nil {
		return nil, mapError(h.logger, err, "Failed to delete saved file")
	}
	return &operation.DeleteSavedFileOutput{}, nil
}

func (h *FileHandler) GetSavedFileDownload(ctx context.Context, input *operation.GetSavedFileDownloadInput) (*operation.GetSavedFileDownloadOutput, error) {
	userID, err := getUserIDFromContext(ctx)
	if err != nil {
		return nil, err
	}
	url, expires, err := h.fileService.PresignDownload(ctx, userID, input.FileID)
	if err != nil {
		return nil, mapError(h.logger, err, "Failed to sign download")
	}
	return &operation.GetSavedFileDownloadOutput{Body: dto.SignedURLResponseDTO{URL: url, ExpiresAt: expires}}, nil
}
