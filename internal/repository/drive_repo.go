package repository

import (
	"context"
	"errors"
	"fmt"

	"resizeme/internal/model"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DriveRepository stores Drive links and the metadata of uploaded files.
type DriveRepository interface {
	GetAccount(ctx context.Context, userID string) (*model.DriveAccount, error)
	// SaveAccount upserts the account; tokenJSON may be nil when tokens are kept elsewhere.
	SaveAccount(ctx context.Context, userID string, tokenJSON []byte) error
	SetFolder(ctx context.Context, userID, folderID string) error
	DeleteAccount(ctx context.Context, userID string) error

	InsertFile(ctx context.Context, f *model.DriveFile) error
	ListFiles(ctx context.Context, userID string, limit, offset int) ([]model.DriveFile, error)
	GetFile(ctx context.Context, userID, driveFileID string) (*model.DriveFile, error)
	DeleteFile(ctx context.Context, userID, driveFileID string) error
}

type driveRepo struct {
	pool *pgxpool.Pool
}

func NewDriveRepo(pool *pgxpool.Pool) DriveRepository {
	return &driveRepo{pool: pool}
}

func (r *driveRepo) GetAccount(ctx context.Context, userID string) (*model.DriveAccount, error) {
	const q = `SELECT user_id, folder_id, token_json, connected_at FROM drive_accounts WHERE user_id = $1`
	var a model.DriveAccount
	err := r.pool.QueryRow(ctx, q, userID).Scan(&a.UserID, &a.FolderID, &a.TokenJSON, &a.ConnectedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("fetch drive account for user %s: %w", userID, err)
	}
	return &a, nil
}

func (r *driveRepo) SaveAccount(ctx context.Context, userID string, tokenJSON []byte) error {
	const q = `
        INSERT INTO drive_accounts (user_id, token_json, connected_at)
        VALUES ($1, $2, NOW())
        ON CONFLICT (user_id) DO UPDATE
        SET token_json = EXCLUDED.token_json,
            connected_at = NOW()
    `
	if _, err := r.pool.Exec(ctx, q, userID, tokenJSON); err != nil {
		return fmt.Errorf("save drive account for user %s: %w", userID, err)
	}
	return nil
}

func (r *driveRepo) SetFolder(ctx context.Context, userID, folderID string) error {
	const q = `UPDATE drive_accounts SET folder_id = $2 WHERE user_id = $1`
	tag, err := r.pool.Exec(ctx, q, userID, folderID)
	if err != nil {
		return fmt.Errorf("set drive folder for user %s: %w", userID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *driveRepo) DeleteAccount(ctx context.Context, userID string) error {
	if _, err := r.pool.Exec(ctx, `DELETE FROM drive_accounts WHERE user_id = $1`, userID); err != nil {
		return fmt.Errorf("delete drive account for user %s: %w", userID, err)
	}
	return nil
}

func (r *driveRepo) InsertFile(ctx context.Context, f *model.DriveFile) error {
	const q = `
        INSERT INTO drive_files (user_id, drive_file_id, file_name, mime_type, file_size, tool_used, web_view_link, thumbnail_link)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
        RETURNING id, created_at
    `
	err := r.pool.QueryRow(ctx, q,
		f.UserID, f.DriveFileID, f.FileName, f.MimeType, f.FileSize, f.ToolUsed, f.WebViewLink, f.ThumbnailLink,
	).Scan(&f.ID, &f.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert drive file %s for user %s: %w", f.DriveFileID, f.UserID, err)
	}
	return nil
}

const driveFileColumns = `id, user_id, drive_file_id, file_name, mime_type, file_size, tool_used, web_view_link, thumbnail_link, created_at`

func scanDriveFile(row pgx.Row) (*model.DriveFile, error) {
	var f model.DriveFile
	if err := row.Scan(&f.ID, &f.UserID, &f.DriveFileID, &f.FileName, &f.MimeType, &f.FileSize, &f.ToolUsed, &f.WebViewLink, &f.ThumbnailLink, &f.CreatedAt); err != nil {
		return nil, err
	}
	return &f, nil
}

func (r *driveRepo) ListFiles(ctx context.Context, userID string, limit, offset int) ([]model.DriveFile, error) {
	q := `SELECT ` + driveFileColumns + `
        FROM drive_files
        WHERE user_id = $1
        ORDER BY created_at DESC
        LIMIT $2 OFFSET $3`
	rows, err := r.pool.Query(ctx, q, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("fetch drive files for user %s: %w", userID, err)
	}
	defer rows.Close()

	var files []model.DriveFile
	for rows.Next() {
		f, err := scanDriveFile(rows)
		if err != nil {
			return nil, fmt.Errorf("scan drive file row: %w", err)
		}
		files = append(files, *f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate drive files: %w", err)
	}
	return files, nil
}

func (r *driveRepo) GetFile(ctx context.Context, userID, driveFileID string) (*model.DriveFile, error) {
	q := `SELECT ` + driveFileColumns + ` FROM drive_files WHERE user_id = $1 AND drive_file_id = $2`
	f, err := scanDriveFile(r.pool.QueryRow(ctx, q, userID, driveFileID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("fetch drive file %s: %w", driveFileID, err)
	}
	return f, nil
}

func (r *driveRepo) DeleteFile(ctx context.Context, userID, driveFileID string) error {
	const q = `DELETE FROM drive_files WHERE user_id = $1 AND drive_file_id = $2`
	tag, err := r.pool.Exec(ctx, q, userID, driveFileID)
	if err != nil {
		return fmt.Errorf("delete drive file %s: %w", driveFileID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
