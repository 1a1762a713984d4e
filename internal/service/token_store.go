package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"resizeme/internal/repository"

	"golang.org/x/oauth2"
)

// TokenStore persists a user's Google OAuth token. Load returns ErrNotConnected
// when the user never connected or has disconnected.
type TokenStore interface {
	Save(ctx context.Context, userID string, tok *oauth2.Token) error
	Load(ctx context.Context, userID string) (*oauth2.Token, error)
	Delete(ctx context.Context, userID string) error
}

// dbTokenStore keeps the token JSON on the drive_accounts row.
type dbTokenStore struct {
	repo repository.DriveRepository
}

func NewDBTokenStore(repo repository.DriveRepository) TokenStore {
	return &dbTokenStore{repo: repo}
}

func (s *dbTokenStore) Save(ctx context.Context, userID string, tok *oauth2.Token) error {
	data, err := json.Marshal(tok)
	if err != nil {
		return fmt.Errorf("marshal drive token: %w", err)
	}
	return s.repo.SaveAccount(ctx, userID, data)
}

func (s *dbTokenStore) Load(ctx context.Context, userID string) (*oauth2.Token, error) {
	acct, err := s.repo.GetAccount(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrNotConnected
		}
		return nil, err
	}
	if len(acct.TokenJSON) == 0 {
		return nil, ErrNotConnected
	}
	var tok oauth2.Token
	if err := json.Unmarshal(acct.TokenJSON, &tok); err != nil {
		return nil, fmt.Errorf("decode drive token for user %s: %w", userID, err)
	}
	return &tok, nil
}

func (s *dbTokenStore) Delete(ctx context.Context, userID string) error {
	return s.repo.DeleteAccount(ctx, userID)
}

// secretTokenStore keeps tokens in Secret Manager and only the link on drive_accounts.
type secretTokenStore struct {
	sm   SecretManagerService
	repo repository.DriveRepository
}

func NewSecretTokenStore(sm SecretManagerService, repo repository.DriveRepository) TokenStore {
	return &secretTokenStore{sm: sm, repo: repo}
}

func driveTokenSecretName(userID string) string {
	return fmt.Sprintf("user-%s-drive-token", userID)
}

func (s *secretTokenStore) Save(ctx context.Context, userID string, tok *oauth2.Token) error {
	data, err := json.Marshal(tok)
	if err != nil {
		return fmt.Errorf("marshal drive token: %w", err)
	}
	if err := s.sm.Store(ctx, driveTokenSecretName(userID), data); err != nil {
		return err
	}
	return s.repo.SaveAccount(ctx, userID, nil)
}

func (s *secretTokenStore) Load(ctx context.Context, userID string) (*oauth2.Token, error) {
	if _, err := s.repo.GetAccount(ctx, userID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrNotConnected
		}
		return nil, err
	}
	raw, err := s.sm.Access(ctx, driveTokenSecretName(userID))
	if err != nil {
		if errors.Is(err, ErrSecretNotFound) {
			return nil, ErrNotConnected
		}
		return nil, err
	}
	var tok oauth2.Token
	if err := json.Unmarshal([]byte(raw), &tok); err != nil {
		return nil, fmt.Errorf("decode drive token for user %s: %w", userID, err)
	}
	return &tok, nil
}

func (s *secretTokenStore) Delete(ctx context.Context, userID string) error {
	if err := s.sm.Delete(ctx, driveTokenSecretName(userID)); err != nil {
		return err
	}
	return s.repo.DeleteAccount(ctx, userID)
}
