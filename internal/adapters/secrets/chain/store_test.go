package chain

import (
	"context"
	"errors"
	"fmt"
	"testing"

	passstore "github.com/bnema/aider-chat-cli/internal/adapters/secrets/pass"
	"github.com/bnema/aider-chat-cli/internal/domain"
	"github.com/bnema/aider-chat-cli/internal/ports"
	portmocks "github.com/bnema/aider-chat-cli/internal/ports/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const credentialsKey = "aider-chat/credentials"

func newChain(t *testing.T) (*Store, *portmocks.MockSecretStore, *portmocks.MockSecretStore) {
	t.Helper()
	primary := portmocks.NewMockSecretStore(t)
	fallback := portmocks.NewMockSecretStore(t)
	store, err := NewStore(primary, fallback)
	require.NoError(t, err)
	return store, primary, fallback
}

func TestNewStoreValidatesBackends(t *testing.T) {
	t.Parallel()

	_, err := NewStore()
	assert.ErrorIs(t, err, errNoStores)

	_, err = NewStore(portmocks.NewMockSecretStore(t), ports.SecretStore(nil))
	assert.ErrorContains(t, err, "secret store 1 is nil")
}

func TestStoreGetStopsAtFirstHit(t *testing.T) {
	t.Parallel()

	store, primary, _ := newChain(t)
	primary.EXPECT().Get(mock.Anything, credentialsKey).Return("from-pass", nil).Once()

	value, err := store.Get(context.Background(), credentialsKey)
	require.NoError(t, err)
	assert.Equal(t, "from-pass", value)
}

func TestStoreGetFallsBack(t *testing.T) {
	t.Parallel()

	store, primary, fallback := newChain(t)
	primary.EXPECT().Get(mock.Anything, credentialsKey).Return("", errors.New("pass unavailable")).Once()
	fallback.EXPECT().Get(mock.Anything, credentialsKey).Return("from-file", nil).Once()

	value, err := store.Get(context.Background(), credentialsKey)
	require.NoError(t, err)
	assert.Equal(t, "from-file", value)
}

func TestStoreGetNotFoundEverywhere(t *testing.T) {
	t.Parallel()

	store, primary, fallback := newChain(t)
	primary.EXPECT().Get(mock.Anything, credentialsKey).Return("", fmt.Errorf("pass: %w", domain.ErrSecretNotFound)).Once()
	fallback.EXPECT().Get(mock.Anything, credentialsKey).Return("", fmt.Errorf("file: %w", domain.ErrSecretNotFound)).Once()

	_, err := store.Get(context.Background(), credentialsKey)
	assert.ErrorIs(t, err, domain.ErrSecretNotFound)
}

func TestStoreGetTreatsMissingPassAsNotFound(t *testing.T) {
	t.Parallel()

	store, primary, fallback := newChain(t)
	primary.EXPECT().Get(mock.Anything, credentialsKey).Return("", fmt.Errorf("pass show: %w", passstore.ErrUnavailable)).Once()
	fallback.EXPECT().Get(mock.Anything, credentialsKey).Return("", fmt.Errorf("file: %w", domain.ErrSecretNotFound)).Once()

	_, err := store.Get(context.Background(), credentialsKey)
	assert.ErrorIs(t, err, domain.ErrSecretNotFound)
}

func TestStoreGetJoinsBackendErrors(t *testing.T) {
	t.Parallel()

	store, primary, fallback := newChain(t)
	primary.EXPECT().Get(mock.Anything, credentialsKey).Return("", errors.New("pass failed")).Once()
	fallback.EXPECT().Get(mock.Anything, credentialsKey).Return("", fmt.Errorf("file: %w", domain.ErrSecretNotFound)).Once()

	_, err := store.Get(context.Background(), credentialsKey)
	require.Error(t, err)
	assert.ErrorContains(t, err, "backend 0: pass failed")
	assert.ErrorContains(t, err, "backend 1")
	assert.ErrorIs(t, err, domain.ErrSecretNotFound, "joined errors keep their chain")
}

func TestStorePut(t *testing.T) {
	t.Parallel()

	t.Run("primary accepts", func(t *testing.T) {
		t.Parallel()
		store, primary, _ := newChain(t)
		primary.EXPECT().Put(mock.Anything, credentialsKey, "secret").Return(nil).Once()
		require.NoError(t, store.Put(context.Background(), credentialsKey, "secret"))
	})

	t.Run("fallback accepts", func(t *testing.T) {
		t.Parallel()
		store, primary, fallback := newChain(t)
		primary.EXPECT().Put(mock.Anything, credentialsKey, "secret").Return(errors.New("pass failed")).Once()
		fallback.EXPECT().Put(mock.Anything, credentialsKey, "secret").Return(nil).Once()
		require.NoError(t, store.Put(context.Background(), credentialsKey, "secret"))
	})

	t.Run("all fail", func(t *testing.T) {
		t.Parallel()
		store, primary, fallback := newChain(t)
		primary.EXPECT().Put(mock.Anything, credentialsKey, "secret").Return(errors.New("pass failed")).Once()
		fallback.EXPECT().Put(mock.Anything, credentialsKey, "secret").Return(errors.New("disk full")).Once()
		err := store.Put(context.Background(), credentialsKey, "secret")
		assert.ErrorContains(t, err, "pass failed")
		assert.ErrorContains(t, err, "disk full")
	})
}

func TestStoreDeleteReachesEveryBackend(t *testing.T) {
	t.Parallel()

	store, primary, fallback := newChain(t)
	primary.EXPECT().Delete(mock.Anything, credentialsKey).Return(errors.New("pass failed")).Once()
	fallback.EXPECT().Delete(mock.Anything, credentialsKey).Return(nil).Once()

	require.NoError(t, store.Delete(context.Background(), credentialsKey))
}

func TestStoreStopsOnContextErrors(t *testing.T) {
	t.Parallel()

	store, primary, _ := newChain(t)
	primary.EXPECT().Get(mock.Anything, credentialsKey).Return("", context.Canceled).Once()

	_, err := store.Get(context.Background(), credentialsKey)
	assert.ErrorIs(t, err, context.Canceled)
}
