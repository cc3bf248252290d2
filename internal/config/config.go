package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/bnema/aider-chat-cli/internal/domain"
	toml "github.com/pelletier/go-toml/v2"
	"github.com/spf13/viper"
)

const (
	DirName   = ".aider-chat"
	FileName  = "config.toml"
	EnvPrefix = "AC"

	DefaultServerURL    = "https://server.trypear.ai/pearai-server-api2"
	DefaultPollInterval = 100 * time.Millisecond
	DefaultProbeTimeout = 10 * time.Second
	DefaultRefreshSkew  = 5 * time.Minute

	currentSchemaVersion = 1

	fileMode = 0o600
	dirMode  = 0o700
)

const (
	keyVersion         = "version"
	keyServerURL       = "server_url"
	keyModel           = "model"
	keyWorkdir         = "workdir"
	keyAiderCandidates = "aider.candidates"
	keyAiderFlags      = "aider.flags"
	keyPollInterval    = "aider.poll_interval"
	keyProbeTimeout    = "aider.probe_timeout"
	keyRefreshSkew     = "auth.refresh_skew"
	keySecretsDir      = "secrets.dir"
	keySecretsBackend  = "secrets.backend"
	keyLogLevel        = "log.level"
	keyLogJournal      = "log.journal"
)

// Config is the effective configuration after defaults, the config file and
// AC_* environment overrides are merged.
type Config struct {
	Version   int
	ServerURL string
	Model     string
	Workdir   string
	Aider     AiderConfig
	Auth      AuthConfig
	Secrets   SecretsConfig
	Log       LogConfig
}

type AiderConfig struct {
	Candidates   []string
	Flags        []string
	PollInterval time.Duration
	ProbeTimeout time.Duration
}

type AuthConfig struct {
	RefreshSkew time.Duration
}

// Secret backends. Auto tries pass and falls back to files under Dir.
const (
	BackendAuto = "auto"
	BackendPass = "pass"
	BackendFile = "file"
)

type SecretsConfig struct {
	Backend string `toml:"backend"`
	Dir     string `toml:"dir"`
}

type LogConfig struct {
	Level   string `toml:"level"`
	Journal bool   `toml:"journal"`
}

// Default returns the configuration used when no file exists.
func Default(homeDir string) Config {
	candidates := make([]string, 0, len(domain.DefaultCandidates()))
	for _, c := range domain.DefaultCandidates() {
		candidates = append(candidates, c.String())
	}

	return Config{
		Version:   currentSchemaVersion,
		ServerURL: DefaultServerURL,
		Model:     domain.ModelManaged,
		Aider: AiderConfig{
			Candidates:   candidates,
			Flags:        append([]string(nil), domain.DefaultChatFlags...),
			PollInterval: DefaultPollInterval,
			ProbeTimeout: DefaultProbeTimeout,
		},
		Auth:    AuthConfig{RefreshSkew: DefaultRefreshSkew},
		Secrets: SecretsConfig{Backend: BackendAuto, Dir: filepath.Join(homeDir, DirName, "secrets")},
		Log:     LogConfig{Level: "info"},
	}
}

// DefaultPath is ~/.aider-chat/config.toml.
func DefaultPath(homeDir string) string {
	return filepath.Join(homeDir, DirName, FileName)
}

// Load reads path (or the default location when path is empty) into v and
// returns the merged configuration. A missing file is not an error.
func Load(v *viper.Viper, path string) (Config, error) {
	if v == nil {
		v = viper.New()
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return Config{}, fmt.Errorf("resolve home directory: %w", err)
	}

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName(strings.TrimSuffix(FileName, filepath.Ext(FileName)))
		v.SetConfigType("toml")
		v.AddConfigPath(filepath.Join(homeDir, DirName))
	}
	setDefaults(v, Default(homeDir))

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
	}

	cfg := Config{
		Version:   v.GetInt(keyVersion),
		ServerURL: strings.TrimRight(v.GetString(keyServerURL), "/"),
		Model:     v.GetString(keyModel),
		Workdir:   v.GetString(keyWorkdir),
		Aider: AiderConfig{
			Candidates:   v.GetStringSlice(keyAiderCandidates),
			Flags:        v.GetStringSlice(keyAiderFlags),
			PollInterval: v.GetDuration(keyPollInterval),
			ProbeTimeout: v.GetDuration(keyProbeTimeout),
		},
		Auth:    AuthConfig{RefreshSkew: v.GetDuration(keyRefreshSkew)},
		Secrets: SecretsConfig{
			Backend: strings.ToLower(v.GetString(keySecretsBackend)),
			Dir:     expandHome(v.GetString(keySecretsDir), homeDir),
		},
		Log: LogConfig{
			Level:   v.GetString(keyLogLevel),
			Journal: v.GetBool(keyLogJournal),
		},
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper, d Config) {
	v.SetDefault(keyVersion, d.Version)
	v.SetDefault(keyServerURL, d.ServerURL)
	v.SetDefault(keyModel, d.Model)
	v.SetDefault(keyWorkdir, d.Workdir)
	v.SetDefault(keyAiderCandidates, d.Aider.Candidates)
	v.SetDefault(keyAiderFlags, d.Aider.Flags)
	v.SetDefault(keyPollInterval, d.Aider.PollInterval)
	v.SetDefault(keyProbeTimeout, d.Aider.ProbeTimeout)
	v.SetDefault(keyRefreshSkew, d.Auth.RefreshSkew)
	v.SetDefault(keySecretsDir, d.Secrets.Dir)
	v.SetDefault(keySecretsBackend, d.Secrets.Backend)
	v.SetDefault(keyLogLevel, d.Log.Level)
	v.SetDefault(keyLogJournal, d.Log.Journal)
}

func (c Config) Validate() error {
	if c.Version > currentSchemaVersion {
		return fmt.Errorf("unsupported config version %d (current %d)", c.Version, currentSchemaVersion)
	}
	if c.ServerURL == "" {
		return errors.New("server_url is empty")
	}
	if len(c.Candidates()) == 0 {
		return errors.New("aider.candidates is empty")
	}
	switch c.Secrets.Backend {
	case BackendAuto, BackendPass, BackendFile:
	default:
		return fmt.Errorf("secrets.backend must be auto, pass or file, got %q", c.Secrets.Backend)
	}
	if c.Aider.PollInterval <= 0 {
		return fmt.Errorf("aider.poll_interval must be positive, got %s", c.Aider.PollInterval)
	}
	if c.Aider.ProbeTimeout <= 0 {
		return fmt.Errorf("aider.probe_timeout must be positive, got %s", c.Aider.ProbeTimeout)
	}
	return nil
}

// Candidates parses the configured command lines, skipping blank entries.
func (c Config) Candidates() []domain.InvocationCandidate {
	out := make([]domain.InvocationCandidate, 0, len(c.Aider.Candidates))
	for _, line := range c.Aider.Candidates {
		if candidate, ok := domain.ParseCandidate(line); ok {
			out = append(out, candidate)
		}
	}
	return out
}

// Marshal renders c as TOML with durations in their string form.
func Marshal(c Config) ([]byte, error) {
	data, err := toml.Marshal(toFile(c))
	if err != nil {
		return nil, fmt.Errorf("encode config: %w", err)
	}
	return data, nil
}

// Write stores c at path atomically. It refuses to replace an existing file
// unless overwrite is set.
func Write(path string, c Config, overwrite bool) error {
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config file %s already exists", path)
		}
	}

	data, err := Marshal(c)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), dirMode); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".config-*.toml.tmp")
	if err != nil {
		return fmt.Errorf("create temp config file: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := true
	defer func() {
		if cleanup {
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp config file: %w", err)
	}
	if err := tmp.Chmod(fileMode); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("chmod temp config file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp config file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("replace config file: %w", err)
	}
	cleanup = false
	return nil
}

func expandHome(path, homeDir string) string {
	if path == "~" {
		return homeDir
	}
	if rest, ok := strings.CutPrefix(path, "~/"); ok {
		return filepath.Join(homeDir, rest)
	}
	return path
}
