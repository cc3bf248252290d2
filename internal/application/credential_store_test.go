package application

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bnema/aider-chat-cli/internal/domain"
	"github.com/bnema/aider-chat-cli/internal/ports/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCredentialStoreSave(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		creds domain.Credentials
		want  string
	}{
		{
			name:  "full",
			creds: domain.Credentials{AccessToken: "a", RefreshToken: "r", ExpiresAt: time.Date(2026, 3, 1, 13, 0, 0, 0, time.FixedZone("CET", 3600))},
			want:  `{"access_token":"a","refresh_token":"r","expires_at":"2026-03-01T12:00:00Z"}`,
		},
		{
			name:  "access only",
			creds: domain.Credentials{AccessToken: "a"},
			want:  `{"access_token":"a"}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			secrets := mocks.NewMockSecretStore(t)
			secrets.EXPECT().Put(mockAnyContext(), CredentialsKey, tt.want).Return(nil).Once()

			require.NoError(t, NewCredentialStore(secrets).Save(context.Background(), tt.creds))
		})
	}
}

func TestCredentialStoreLoad(t *testing.T) {
	t.Parallel()

	secrets := mocks.NewMockSecretStore(t)
	secrets.EXPECT().Get(mockAnyContext(), CredentialsKey).
		Return(`{"access_token":"a","refresh_token":"r","expires_at":"2026-03-01T12:00:00Z"}`, nil).Once()

	creds, err := NewCredentialStore(secrets).Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.Credentials{
		AccessToken:  "a",
		RefreshToken: "r",
		ExpiresAt:    time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}, creds)
}

func TestCredentialStoreLoadErrors(t *testing.T) {
	t.Parallel()

	t.Run("missing keeps sentinel", func(t *testing.T) {
		t.Parallel()

		secrets := mocks.NewMockSecretStore(t)
		secrets.EXPECT().Get(mockAnyContext(), CredentialsKey).Return("", domain.ErrSecretNotFound).Once()

		_, err := NewCredentialStore(secrets).Load(context.Background())
		require.ErrorIs(t, err, domain.ErrSecretNotFound)
	})

	t.Run("corrupt record", func(t *testing.T) {
		t.Parallel()

		secrets := mocks.NewMockSecretStore(t)
		secrets.EXPECT().Get(mockAnyContext(), CredentialsKey).Return("not json", nil).Once()

		_, err := NewCredentialStore(secrets).Load(context.Background())
		require.ErrorContains(t, err, "decode credentials")
	})
}

func TestCredentialStoreFeedsProvider(t *testing.T) {
	t.Parallel()

	secrets := mocks.NewMockSecretStore(t)
	secrets.EXPECT().Get(mockAnyContext(), CredentialsKey).Return("", domain.ErrSecretNotFound).Once()
	secrets.EXPECT().Put(mockAnyContext(), CredentialsKey, `{"access_token":"t"}`).Return(nil).Once()
	secrets.EXPECT().Delete(mockAnyContext(), CredentialsKey).Return(errors.New("pass: gpg failed")).Once()

	store := NewCredentialStore(secrets)
	provider := NewCredentialProvider(WithCredentialsGetter(store.Load), WithCredentialsSetter(store.Save))

	require.ErrorIs(t, provider.CheckAndUpdateCredentials(context.Background()), domain.ErrAuth)

	provider.SetAccessToken(context.Background(), "t")
	require.NoError(t, provider.CheckAndUpdateCredentials(context.Background()))

	require.ErrorContains(t, store.Clear(context.Background()), "clear credentials")
}
