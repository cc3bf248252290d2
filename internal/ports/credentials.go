package ports

import (
	"context"

	"github.com/bnema/aider-chat-cli/internal/domain"
)

// CredentialsGetter loads persisted credentials. It returns
// domain.ErrSecretNotFound when nothing has been stored yet.
type CredentialsGetter func(ctx context.Context) (domain.Credentials, error)

// CredentialsSetter persists credentials. The driver never defines the
// storage format.
type CredentialsSetter func(ctx context.Context, creds domain.Credentials) error

type TokenRefresher interface {
	Refresh(ctx context.Context, refreshToken string) (domain.Credentials, error)
}
