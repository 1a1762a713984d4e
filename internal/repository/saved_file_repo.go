package repository

import (
	"context"
	"errors"
	"fmt"

	"resizeme/internal/model"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type SavedFileRepository interface {
	Insert(ctx context.Context, f *model.SavedFile) error
	List(ctx context.Context, userID string, limit, offset int) ([]model.SavedFile, error)
	Get(ctx context.Context, userID, id string) (*model.SavedFile, error)
	Delete(ctx context.Context, userID, id string) error
}

type savedFileRepo struct {
	pool *pgxpool.Pool
}

func NewSavedFileRepo(pool *pgxpool.Pool) SavedFileRepository {
	return &savedFileRepo{pool: pool}
}

const savedFileColumns = `id, user_id, object_key, file_name, mime_type, file_size, tool_used, created_at`

func (r *savedFileRepo) Insert(ctx context.Context, f *model.SavedFile) error {
	const q = `
        INSERT INTO saved_files (id, user_id, object_key, file_name, mime_type, file_size, tool_used)
        VALUES ($1, $2, $3, $4, $5, $6, $7)
        RETURNING created_at
    `
	if err := r.pool.QueryRow(ctx, q, f.ID, f.UserID, f.ObjectKey, f.FileName, f.MimeType, f.FileSize, f.ToolUsed).Scan(&f.CreatedAt); err != nil {
		return fmt.Errorf("insert saved file %s for user %s: %w", f.ObjectKey, f.UserID, err)
	}
	return nil
}

func (r *savedFileRepo) List(ctx context.Context, userID string, limit, offset int) ([]model.SavedFile, error) {
	q := `SELECT ` + savedFileColumns + `
        FROM saved_files
        WHERE user_id = $1
        ORDER BY created_at DESC
        LIMIT $2 OFFSET $3`
	rows, err := r.pool.Query(ctx, q, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("fetch saved files for user %s: %w", userID, err)
	}
	files, err := pgx.CollectRows(rows, pgx.RowToStructByPos[model.SavedFile])
	if err != nil {
		return nil, fmt.Errorf("scan saved files for user %s: %w", userID, err)
	}
	return files, nil
}

func (r *savedFileRepo) Get(ctx context.Context, userID, id string) (*model.SavedFile, error) {
	q := `SELECT ` + savedFileColumns + ` FROM saved_files WHERE user_id = $1 AND id = $2`
	rows, err := r.pool.Query(ctx, q, userID, id)
	if err != nil {
		return nil, fmt.Errorf("fetch saved file %s: %w", id, err)
	}
	f, err := pgx.CollectExactlyOneRow(rows, pgx.RowToAddrOfStructByPos[model.SavedFile])
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan saved file %s: %w", id, err)
	}
	return f, nil
}

func (r *savedFileRepo) Delete(ctx context.Context, userID, id string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM saved_files WHERE user_id = $1 AND id = $2`, userID, id)
	if err != nil {
		return fmt.Errorf("delete saved file %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
