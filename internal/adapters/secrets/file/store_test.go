package file

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/bnema/aider-chat-cli/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const credentialsKey = "aider-chat/credentials"

func TestStoreRejectsInvalidKeys(t *testing.T) {
	t.Parallel()

	store := NewStore(t.TempDir())
	tests := []struct {
		name    string
		key     string
		wantErr string
	}{
		{name: "empty", key: "", wantErr: "secret key is empty"},
		{name: "whitespace", key: "  ", wantErr: "secret key is empty"},
		{name: "absolute", key: "/etc/passwd", wantErr: "invalid secret key"},
		{name: "parent", key: "..", wantErr: "invalid secret key"},
		{name: "traversal", key: "../escape", wantErr: "invalid secret key"},
		{name: "nested traversal", key: "aider-chat/../../escape", wantErr: "invalid secret key"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			err := store.Put(context.Background(), tc.key, "value")
			assert.ErrorContains(t, err, tc.wantErr)
		})
	}
}

func TestStorePutGetOverwriteAndPermissions(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	store := NewStore(dir)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, credentialsKey, `{"access_token":"a"}`))
	require.NoError(t, store.Put(ctx, credentialsKey, `{"access_token":"b"}`))

	got, err := store.Get(ctx, credentialsKey)
	require.NoError(t, err)
	assert.Equal(t, `{"access_token":"b"}`, got)

	info, err := os.Stat(filepath.Join(dir, "aider-chat", "credentials"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(secretMode), info.Mode().Perm())

	entries, err := os.ReadDir(filepath.Join(dir, "aider-chat"))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp files must not be left behind")
}

func TestStoreGetMissingSecret(t *testing.T) {
	t.Parallel()

	_, err := NewStore(t.TempDir()).Get(context.Background(), credentialsKey)
	assert.ErrorIs(t, err, domain.ErrSecretNotFound)
}

func TestStoreDeleteIsIdempotent(t *testing.T) {
	t.Parallel()

	store := NewStore(t.TempDir())
	ctx := context.Background()
	require.NoError(t, store.Put(ctx, credentialsKey, "x"))

	require.NoError(t, store.Delete(ctx, credentialsKey))
	require.NoError(t, store.Delete(ctx, credentialsKey))

	_, err := store.Get(ctx, credentialsKey)
	assert.ErrorIs(t, err, domain.ErrSecretNotFound)
}

func TestStoreHonoursCanceledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := NewStore(t.TempDir()).Put(ctx, credentialsKey, "x")
	assert.ErrorIs(t, err, context.Canceled)
}
