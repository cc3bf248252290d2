package pass

import (
	"context"
	"errors"
	"testing"

	"github.com/bnema/aider-chat-cli/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const credentialsKey = "aider-chat/credentials"

type call struct {
	input string
	args  []string
}

func recordingStore(stdout, stderr string, err error) (*Store, *[]call) {
	var calls []call
	return &Store{
		run: func(_ context.Context, input string, args ...string) (string, string, error) {
			calls = append(calls, call{input: input, args: args})
			return stdout, stderr, err
		},
	}, &calls
}

func TestStorePutInsertsMultiline(t *testing.T) {
	t.Parallel()

	store, calls := recordingStore("", "", nil)
	require.NoError(t, store.Put(context.Background(), credentialsKey, `{"access_token":"a"}`))

	require.Len(t, *calls, 1)
	assert.Equal(t, []string{"insert", "--multiline", "--force", credentialsKey}, (*calls)[0].args)
	assert.Equal(t, "{\"access_token\":\"a\"}\n", (*calls)[0].input)
}

func TestStoreGetTrimsTrailingLineBreak(t *testing.T) {
	t.Parallel()

	store, calls := recordingStore("secret\r\n", "", nil)
	value, err := store.Get(context.Background(), credentialsKey)

	require.NoError(t, err)
	assert.Equal(t, "secret", value)
	assert.Equal(t, []string{"show", credentialsKey}, (*calls)[0].args)
	assert.Empty(t, (*calls)[0].input)
}

func TestStoreGetMissingEntry(t *testing.T) {
	t.Parallel()

	store, _ := recordingStore("", "Error: aider-chat/credentials is not in the password store.", errors.New("exit status 1"))
	_, err := store.Get(context.Background(), credentialsKey)

	assert.ErrorIs(t, err, domain.ErrSecretNotFound)
}

func TestStoreGetReportsStderr(t *testing.T) {
	t.Parallel()

	store, _ := recordingStore("", "gpg: decryption failed: No secret key", errors.New("exit status 2"))
	_, err := store.Get(context.Background(), credentialsKey)

	require.Error(t, err)
	assert.NotErrorIs(t, err, domain.ErrSecretNotFound)
	assert.ErrorContains(t, err, `pass show "aider-chat/credentials"`)
	assert.ErrorContains(t, err, "decryption failed")
}

func TestStoreDeleteIgnoresMissingEntry(t *testing.T) {
	t.Parallel()

	store, calls := recordingStore("", "Error: aider-chat/credentials is not in the password store.", errors.New("exit status 1"))
	require.NoError(t, store.Delete(context.Background(), credentialsKey))
	assert.Equal(t, []string{"rm", "--force", credentialsKey}, (*calls)[0].args)
}

func TestStoreUnavailable(t *testing.T) {
	t.Parallel()

	store, _ := recordingStore("", "", ErrUnavailable)
	err := store.Put(context.Background(), credentialsKey, "x")
	assert.ErrorIs(t, err, ErrUnavailable)
}
