package application

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/bnema/aider-chat-cli/internal/domain"
	"github.com/bnema/aider-chat-cli/internal/ports"
)

const CredentialsKey = "aider-chat/credentials"

// CredentialStore keeps credentials as one JSON secret. Its Load and Save
// methods are the getter and setter handed to CredentialProvider.
type CredentialStore struct {
	store ports.SecretStore
	key   string
}

type credentialsRecord struct {
	AccessToken  string     `json:"access_token"`
	RefreshToken string     `json:"refresh_token,omitempty"`
	ExpiresAt    *time.Time `json:"expires_at,omitempty"`
}

func NewCredentialStore(store ports.SecretStore) *CredentialStore {
	return &CredentialStore{store: store, key: CredentialsKey}
}

func (s *CredentialStore) Load(ctx context.Context) (domain.Credentials, error) {
	raw, err := s.store.Get(ctx, s.key)
	if err != nil {
		return domain.Credentials{}, fmt.Errorf("load credentials: %w", err)
	}

	var record credentialsRecord
	if err := json.Unmarshal([]byte(raw), &record); err != nil {
		return domain.Credentials{}, fmt.Errorf("decode credentials: %w", err)
	}

	creds := domain.Credentials{AccessToken: record.AccessToken, RefreshToken: record.RefreshToken}
	if record.ExpiresAt != nil {
		creds.ExpiresAt = record.ExpiresAt.UTC()
	}
	return creds, nil
}

func (s *CredentialStore) Save(ctx context.Context, creds domain.Credentials) error {
	record := credentialsRecord{AccessToken: creds.AccessToken, RefreshToken: creds.RefreshToken}
	if !creds.ExpiresAt.IsZero() {
		expiresAt := creds.ExpiresAt.UTC()
		record.ExpiresAt = &expiresAt
	}

	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encode credentials: %w", err)
	}
	if err := s.store.Put(ctx, s.key, string(data)); err != nil {
		return fmt.Errorf("save credentials: %w", err)
	}
	return nil
}

func (s *CredentialStore) Clear(ctx context.Context) error {
	if err := s.store.Delete(ctx, s.key); err != nil {
		return fmt.Errorf("clear credentials: %w", err)
	}
	return nil
}
