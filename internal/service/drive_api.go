package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"

	"golang.org/x/oauth2"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

const driveFolderMimeType = "application/vnd.google-apps.folder"

// DriveUpload is what Drive reports for an uploaded file.
type DriveUpload struct {
	ID            string
	WebViewLink   string
	ThumbnailLink string
	Size          int64
}

// DriveAPI is the slice of the Google Drive API the bridge calls.
type DriveAPI interface {
	// CreateFolder creates a folder in the user's Drive root and returns its id.
	CreateFolder(ctx context.Context, ts oauth2.TokenSource, name string) (string, error)
	// FolderExists reports whether the folder still exists and is not trashed.
	FolderExists(ctx context.Context, ts oauth2.TokenSource, folderID string) (bool, error)
	Upload(ctx context.Context, ts oauth2.TokenSource, folderID, name, mimeType string, data []byte) (*DriveUpload, error)
	// Delete removes a file; a file already gone is not an error.
	Delete(ctx context.Context, ts oauth2.TokenSource, fileID string) error
}

type googleDrive struct{}

// NewGoogleDrive returns a DriveAPI backed by google.golang.org/api/drive/v3.
func NewGoogleDrive() DriveAPI {
	return googleDrive{}
}

func (googleDrive) service(ctx context.Context, ts oauth2.TokenSource) (*drive.Service, error) {
	svc, err := drive.NewService(ctx, option.WithTokenSource(ts))
	if err != nil {
		return nil, fmt.Errorf("create drive client: %w", err)
	}
	return svc, nil
}

func (g googleDrive) CreateFolder(ctx context.Context, ts oauth2.TokenSource, name string) (string, error) {
	svc, err := g.service(ctx, ts)
	if err != nil {
		return "", err
	}
	f, err := svc.Files.Create(&drive.File{Name: name, MimeType: driveFolderMimeType}).Fields("id").Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("create drive folder %q: %w", name, err)
	}
	return f.Id, nil
}

func (g googleDrive) FolderExists(ctx context.Context, ts oauth2.TokenSource, folderID string) (bool, error) {
	svc, err := g.service(ctx, ts)
	if err != nil {
		return false, err
	}
	f, err := svc.Files.Get(folderID).Fields("id", "trashed").Context(ctx).Do()
	if err != nil {
		if isDriveNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("get drive folder %s: %w", folderID, err)
	}
	return !f.Trashed, nil
}

func (g googleDrive) Upload(ctx context.Context, ts oauth2.TokenSource, folderID, name, mimeType string, data []byte) (*DriveUpload, error) {
	svc, err := g.service(ctx, ts)
	if err != nil {
		return nil, err
	}
	meta := &drive.File{Name: name, MimeType: mimeType, Parents: []string{folderID}}
	f, err := svc.Files.Create(meta).
		Media(bytes.NewReader(data), googleapi.ContentType(mimeType)).
		Fields("id", "webViewLink", "thumbnailLink", "size").
		Context(ctx).
		Do()
	if err != nil {
		return nil, fmt.Errorf("upload %q to drive: %w", name, err)
	}
	size := f.Size
	if size == 0 {
		size = int64(len(data))
	}
	return &DriveUpload{ID: f.Id, WebViewLink: f.WebViewLink, ThumbnailLink: f.ThumbnailLink, Size: size}, nil
}

func (g googleDrive) Delete(ctx context.Context, ts oauth2.TokenSource, fileID string) error {
	svc, err := g.service(ctx, ts)
	if err != nil {
		return err
	}
	if err := svc.Files.Delete(fileID).Context(ctx).Do(); err != nil && !isDriveNotFound(err) {
		return fmt.Errorf("delete drive file %s: %w", fileID, err)
	}
	return nil
}

func isDriveNotFound(err error) bool {
	var gerr *googleapi.Error
	return errors.As(err, &gerr) && gerr.Code == http.StatusNotFound
}
