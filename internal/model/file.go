package model

import "time"

// DriveFile mirrors the metadata of a file uploaded to the user's Google Drive.
type DriveFile struct {
	ID            int64     `db:"id" json:"id"`
	UserID        string    `db:"user_id" json:"user_id"`
	DriveFileID   string    `db:"drive_file_id" json:"drive_file_id"`
	FileName      string    `db:"file_name" json:"file_name"`
	MimeType      string    `db:"mime_type" json:"mime_type"`
	FileSize      int64     `db:"file_size" json:"file_size"`
	ToolUsed      string    `db:"tool_used" json:"tool_used"`
	WebViewLink   string    `db:"web_view_link" json:"web_view_link"`
	ThumbnailLink string    `db:"thumbnail_link" json:"thumbnail_link"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
}

// DriveAccount is a user's link to Google Drive.
type DriveAccount struct {
	UserID      string    `db:"user_id"`
	FolderID    *string   `db:"folder_id"`
	TokenJSON   []byte    `db:"token_json"`
	ConnectedAt time.Time `db:"connected_at"`
}

// SavedFile is a processed image kept in object storage.
type SavedFile struct {
	ID        string    `db:"id" json:"id"`
	UserID    string    `db:"user_id" json:"user_id"`
	ObjectKey string    `db:"object_key" json:"object_key"`
	FileName  string    `db:"file_name" json:"file_name"`
	MimeType  string    `db:"mime_type" json:"mime_type"`
	FileSize  int64     `db:"file_size" json:"file_size"`
	ToolUsed  string    `db:"tool_used" json:"tool_used"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}
