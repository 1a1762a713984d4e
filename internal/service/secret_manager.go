package service

import (
	"context"
	"errors"
	"fmt"

	"resizeme/internal/config"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// ErrSecretNotFound is returned when a secret or its latest version does not exist.
var ErrSecretNotFound = errors.New("secret not found")

// SecretManagerService reads and writes secrets in Google Secret Manager.
type SecretManagerService interface {
	Access(ctx context.Context, name string) (string, error)
	Store(ctx context.Context, name string, data []byte) error
	Delete(ctx context.Context, name string) error
	Close() error
}

type secretManagerService struct {
	client    *secretmanager.Client
	projectID string
}

func NewSecretManagerService(ctx context.Context, cfg *config.Config) (SecretManagerService, error) {
	if cfg.GCPProjectID == "" {
		return nil, fmt.Errorf("GCP Project ID is not set for the current environment")
	}
	client, err := secretmanager.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create Secret Manager client: %w", err)
	}
	return &secretManagerService{client: client, projectID: cfg.GCPProjectID}, nil
}

func (s *secretManagerService) secretPath(name string) string {
	return fmt.Sprintf("projects/%s/secrets/%s", s.projectID, name)
}

func (s *secretManagerService) Access(ctx context.Context, name string) (string, error) {
	result, err := s.client.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{
		Name: s.secretPath(name) + "/versions/latest",
	})
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return "", fmt.Errorf("%w: %s", ErrSecretNotFound, name)
		}
		return "", fmt.Errorf("failed to access secret version: %w", err)
	}
	return string(result.Payload.Data), nil
}

// Store creates the secret on first use and adds a new version.
func (s *secretManagerService) Store(ctx context.Context, name string, data []byte) error {
	_, err := s.client.GetSecret(ctx, &secretmanagerpb.GetSecretRequest{Name: s.secretPath(name)})
	if status.Code(err) == codes.NotFound {
		_, err = s.client.CreateSecret(ctx, &secretmanagerpb.CreateSecretRequest{
			Parent:   fmt.Sprintf("projects/%s", s.projectID),
			SecretId: name,
			Secret: &secretmanagerpb.Secret{
				Replication: &secretmanagerpb.Replication{
					Replication: &secretmanagerpb.Replication_Automatic_{
						Automatic: &secretmanagerpb.Replication_Automatic{},
					},
				},
			},
		})
		if err != nil {
			return fmt.Errorf("failed to create secret: %w", err)
		}
	} else if err != nil {
		return fmt.Errorf("failed to get secret: %w", err)
	}

	_, err = s.client.AddSecretVersion(ctx, &secretmanagerpb.AddSecretVersionRequest{
		Parent:  s.secretPath(name),
		Payload: &secretmanagerpb.SecretPayload{Data: data},
	})
	if err != nil {
		return fmt.Errorf("failed to add secret version: %w", err)
	}
	return nil
}

func (s *secretManagerService) Delete(ctx context.Context, name string) error {
	err := s.client.DeleteSecret(ctx, &secretmanagerpb.DeleteSecretRequest{Name: s.secretPath(name)})
	if err != nil && status.Code(err) != codes.NotFound {
		return fmt.Errorf("failed to delete secret: %w", err)
	}
	return nil
}

func (s *secretManagerService) Close() error {
	return s.client.Close()
}

// LoadGatewaySecrets fills empty Razorpay secrets in cfg from Secret Manager.
func LoadGatewaySecrets(ctx context.Context, sm SecretManagerService, cfg *config.Config) error {
	if cfg.RazorpayKeySecret == "" {
		v, err := sm.Access(ctx, cfg.RazorpayKeySecretName)
		if err != nil {
			return fmt.Errorf("load razorpay key secret: %w", err)
		}
		cfg.RazorpayKeySecret = v
	}
	if cfg.RazorpayWebhookSecret == "" {
		v, err := sm.Access(ctx, cfg.RazorpayWebhookSecretName)
		if err != nil {
			return fmt.Errorf("load razorpay webhook secret: %w", err)
		}
		cfg.RazorpayWebhookSecret = v
	}
	return nil
}
