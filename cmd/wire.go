package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/bnema/aider-chat-cli/internal/adapters/auth"
	"github.com/bnema/aider-chat-cli/internal/adapters/environment"
	"github.com/bnema/aider-chat-cli/internal/adapters/logging"
	"github.com/bnema/aider-chat-cli/internal/adapters/resolver"
	chainstore "github.com/bnema/aider-chat-cli/internal/adapters/secrets/chain"
	filestore "github.com/bnema/aider-chat-cli/internal/adapters/secrets/file"
	passstore "github.com/bnema/aider-chat-cli/internal/adapters/secrets/pass"
	"github.com/bnema/aider-chat-cli/internal/application"
	"github.com/bnema/aider-chat-cli/internal/config"
	"github.com/bnema/aider-chat-cli/internal/domain"
	"github.com/bnema/aider-chat-cli/internal/driver"
	"github.com/bnema/aider-chat-cli/internal/ports"
	"github.com/spf13/viper"
)

const apiKeyPrefix = "aider-chat/api-keys/"

type rootOptions struct {
	configPath string
	logLevel   string
}

type app struct {
	cfg         config.Config
	configPath  string
	logger      *slog.Logger
	secrets     ports.SecretStore
	store       *application.CredentialStore
	credentials *application.CredentialProvider
	resolver    *resolver.Resolver
	env         *environment.Builder
	now         func() time.Time
}

func (a *app) wire(opts rootOptions, stderr io.Writer) error {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("resolve home directory: %w", err)
	}

	cfg, err := config.Load(viper.New(), opts.configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	level := cfg.Log.Level
	if opts.logLevel != "" {
		level = opts.logLevel
	}
	logger, _, err := logging.New(logging.Options{Writer: stderr, Level: level, Journal: cfg.Log.Journal})
	if err != nil {
		return fmt.Errorf("wire logger: %w", err)
	}

	secrets, err := newSecretStore(cfg.Secrets)
	if err != nil {
		return fmt.Errorf("wire secret store: %w", err)
	}

	clock := ports.SystemClock{}
	store := application.NewCredentialStore(secrets)
	credentials := application.NewCredentialProvider(
		application.WithCredentialsGetter(store.Load),
		application.WithCredentialsSetter(store.Save),
		application.WithTokenRefresher(auth.RefreshClient{BaseURL: cfg.ServerURL, Clock: clock}),
		application.WithTokenExpiry(auth.TokenExpiry),
		application.WithClock(clock),
		application.WithRefreshSkew(cfg.Auth.RefreshSkew),
		application.WithLogger(logger),
	)

	configPath := opts.configPath
	if configPath == "" {
		configPath = config.DefaultPath(homeDir)
	}

	*a = app{
		cfg:         cfg,
		configPath:  configPath,
		logger:      logger,
		secrets:     secrets,
		store:       store,
		credentials: credentials,
		resolver: resolver.New(
			resolver.WithCandidates(cfg.Candidates()),
			resolver.WithChatFlags(cfg.Aider.Flags),
			resolver.WithProbeTimeout(cfg.Aider.ProbeTimeout),
			resolver.WithLogger(logger),
		),
		env: environment.New(environment.CurrentPlatform(), environment.WithLogger(logger)),
		now: clock.Now,
	}
	return nil
}

func newSecretStore(cfg config.SecretsConfig) (ports.SecretStore, error) {
	switch cfg.Backend {
	case config.BackendFile:
		return filestore.NewStore(cfg.Dir), nil
	case config.BackendPass:
		return passstore.NewStore(), nil
	default:
		return chainstore.NewPassWithFileFallback(cfg.Dir)
	}
}

// newProvider builds a driver for model. Nothing is spawned until the
// provider is started or sent a message.
func (a *app) newProvider(ctx context.Context, model string) (*driver.Provider, error) {
	apiKey, err := a.apiKeyFor(ctx, model)
	if err != nil {
		return nil, err
	}

	supervisor := driver.NewSupervisor(a.resolver, a.env,
		driver.WithCredentials(a.credentials),
		driver.WithServerURL(a.cfg.ServerURL),
		driver.WithWorkdir(a.cfg.Workdir),
		driver.WithLogger(a.logger),
	)
	stream := driver.NewStreamingAdapter(supervisor,
		driver.WithPollInterval(a.cfg.Aider.PollInterval),
		driver.WithStreamLogger(a.logger),
	)
	return driver.NewProvider(supervisor, stream, model, apiKey), nil
}

// apiKeyFor returns the stored key for model's family, then the family's
// environment variable. Managed models need none.
func (a *app) apiKeyFor(ctx context.Context, model string) (string, error) {
	family := domain.FamilyFor(model)
	if family.Credential != domain.CredentialAPIKey {
		return "", nil
	}

	key, err := a.secrets.Get(ctx, apiKeyRef(family))
	switch {
	case err == nil:
		return key, nil
	case errors.Is(err, domain.ErrSecretNotFound):
		return os.Getenv(family.EnvVar), nil
	default:
		return "", fmt.Errorf("load %s api key: %w", family.Name, err)
	}
}

func (a *app) modelOrDefault(model string) string {
	if model != "" {
		return model
	}
	return a.cfg.Model
}

func apiKeyRef(family domain.ModelFamily) string {
	return apiKeyPrefix + family.Name
}

func closeProvider(provider *driver.Provider, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := provider.Close(ctx); err != nil {
		logger.Warn("shut down agent", "error", err)
	}
}
