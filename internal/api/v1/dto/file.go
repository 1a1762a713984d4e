package dto

import "time"

type FileUploadRequestDTO struct {
	FileName string `json:"file_name" minLength:"1" maxLength:"255"`
	MimeType string `json:"mime_type" pattern:"^image/" doc:"Must be an image type"`
	ToolUsed string `json:"tool_used,omitempty" maxLength:"64"`
	Data     []byte `json:"data" doc:"Base64-encoded file content"`
}

type DriveFileResponseDTO struct {
	DriveFileID   string    `json:"drive_file_id"`
	FileName      string    `json:"file_name"`
	MimeType      string    `json:"mime_type"`
	FileSize      int64     `json:"file_size"`
	ToolUsed      string    `json:"tool_used"`
	WebViewLink   string    `json:"web_view_link"`
	ThumbnailLink string    `json:"thumbnail_link"`
	CreatedAt     time.Time `json:"created_at"`
}

type DriveAuthURLResponseDTO struct {
	URL   string `json:"url"`
	State string `json:"state"`
}

type DriveConnectRequestDTO struct {
	Code string `json:"code" minLength:"1"`
}

type SavedFileResponseDTO struct {
	ID        string    `json:"id"`
	FileName  string    `json:"file_name"`
	MimeType  string    `json:"mime_type"`
	FileSize  int64     `json:"file_size"`
	ToolUsed  string    `json:"tool_used"`
	CreatedAt time.Time `json:"created_at"`
}

type SignedURLResponseDTO struct {
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expires_at"`
}

type StatusResponseDTO struct {
	Status string `json:"status"`
}
