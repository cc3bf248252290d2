package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/bnema/aider-chat-cli/internal/domain"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadWithoutFileUsesDefaults(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	cfg, err := Load(viper.New(), "")
	require.NoError(t, err)

	assert.Equal(t, Default(home), cfg)
	assert.Equal(t, domain.DefaultCandidates(), cfg.Candidates())
	assert.Equal(t, filepath.Join(home, ".aider-chat", "secrets"), cfg.Secrets.Dir)
}

func TestLoadMissingExplicitPathIsNotAnError(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	cfg, err := Load(viper.New(), filepath.Join(t.TempDir(), "absent.toml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultServerURL, cfg.ServerURL)
}

func TestLoadReadsFileAndEnvOverrides(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("AC_MODEL", "gpt-4o")
	t.Setenv("AC_SECRETS_BACKEND", "FILE")

	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
version = 1
server_url = "https://example.test/api/"
model = "claude-3-5-sonnet-20240620"

[aider]
candidates = ["uvx aider-chat"]
poll_interval = "25ms"

[secrets]
dir = "~/vault"

[log]
level = "debug"
`), 0o600))

	cfg, err := Load(viper.New(), path)
	require.NoError(t, err)

	assert.Equal(t, "https://example.test/api", cfg.ServerURL)
	assert.Equal(t, "gpt-4o", cfg.Model)
	assert.Equal(t, 25*time.Millisecond, cfg.Aider.PollInterval)
	assert.Equal(t, DefaultProbeTimeout, cfg.Aider.ProbeTimeout)
	assert.Equal(t, domain.DefaultChatFlags, cfg.Aider.Flags)
	assert.Equal(t, filepath.Join(home, "vault"), cfg.Secrets.Dir)
	assert.Equal(t, BackendFile, cfg.Secrets.Backend)
	assert.Equal(t, "debug", cfg.Log.Level)

	candidates := cfg.Candidates()
	require.Len(t, candidates, 1)
	assert.Equal(t, "uvx", candidates[0].Program)
	assert.Equal(t, []string{"aider-chat"}, candidates[0].Args)
}

func TestLoadRejectsInvalidFiles(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr string
	}{
		{name: "malformed", body: "model = ", wantErr: "read config file"},
		{name: "future version", body: "version = 9", wantErr: "unsupported config version 9"},
		{name: "no candidates", body: "[aider]\ncandidates = []", wantErr: "aider.candidates is empty"},
		{name: "unknown backend", body: "[secrets]\nbackend = \"vault\"", wantErr: "secrets.backend must be auto, pass or file"},
		{name: "zero poll", body: "[aider]\npoll_interval = \"0s\"", wantErr: "aider.poll_interval must be positive"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv("HOME", t.TempDir())
			path := filepath.Join(t.TempDir(), "config.toml")
			require.NoError(t, os.WriteFile(path, []byte(tc.body), 0o600))

			_, err := Load(viper.New(), path)
			assert.ErrorContains(t, err, tc.wantErr)
		})
	}
}

func TestWriteThenLoadRoundTrip(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	want := Default(home)
	want.Model = domain.ModelGPT4o
	want.Aider.PollInterval = 50 * time.Millisecond
	path := filepath.Join(t.TempDir(), "nested", "config.toml")

	require.NoError(t, Write(path, want, false))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(fileMode), info.Mode().Perm())

	got, err := Load(viper.New(), path)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	err = Write(path, want, false)
	assert.ErrorContains(t, err, "already exists")
	require.NoError(t, Write(path, want, true))
}

func TestMarshalKeepsDurationsReadable(t *testing.T) {
	t.Parallel()

	data, err := Marshal(Default("/home/u"))
	require.NoError(t, err)

	text := string(data)
	assert.Contains(t, text, "poll_interval = '100ms'")
	assert.Contains(t, text, "probe_timeout = '10s'")
	assert.Contains(t, text, "model = 'pearai_model'")
}
