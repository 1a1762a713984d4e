package operation

import "resizeme/internal/api/v1/dto"

// Drive Operations

type GetDriveAuthURLInput struct{}

type GetDriveAuthURLOutput struct {
	Body dto.DriveAuthURLResponseDTO `json:"body"`
}

type ConnectDriveInput struct {
	Body dto.DriveConnectRequestDTO `json:"body"`
}

type ConnectDriveOutput struct {
	Body dto.StatusResponseDTO `json:"body"`
}

type DisconnectDriveInput struct{}

type DisconnectDriveOutput struct{}

type ListDriveFilesInput struct {
	Limit  int `query:"limit" default:"50" minimum:"1" maximum:"100"`
	Offset int `query:"offset" default:"0" minimum:"0"`
}

type ListDriveFilesOutput struct {
	Body []dto.DriveFileResponseDTO `json:"body"`
}

type UploadDriveFileInput struct {
	Body dto.FileUploadRequestDTO `json:"body"`
}

type UploadDriveFileOutput struct {
	Body dto.DriveFileResponseDTO `json:"body"`
}

type DeleteDriveFileInput struct {
	FileID string `path:"fileId" doc:"Drive file id"`
}

type DeleteDriveFileOutput struct{}

// Saved File Operations

type ListSavedFilesInput struct {
	Limit  int `query:"limit" default:"50" minimum:"1" maximum:"100"`
	Offset int `query:"offset" default:"0" minimum:"0"`
}

type ListSavedFilesOutput struct {
	Body []dto.SavedFileResponseDTO `json:"body"`
}

type SaveFileInput struct {
	Body dto.FileUploadRequestDTO `json:"body"`
}

type SaveFileOutput struct {
	Body dto.SavedFileResponseDTO `json:"body"`
}

type DeleteSavedFileInput struct {
	FileID string `path:"fileId" format:"uuid"`
}

type DeleteSavedFileOutput struct{}

type GetSavedFileDownloadInput struct {
	FileID string `path:"fileId" format:"uuid"`
}

type GetSavedFileDownloadOutput struct {
	Body dto.SignedURLResponseDTO `json:"body"`
}
