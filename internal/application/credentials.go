package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bnema/aider-chat-cli/internal/domain"
	"github.com/bnema/aider-chat-cli/internal/ports"
)

const DefaultRefreshSkew = 5 * time.Minute

// CredentialProvider holds the managed-model tokens. Persistence goes through
// the getter/setter callbacks; the provider never picks a storage format.
type CredentialProvider struct {
	getter    ports.CredentialsGetter
	setter    ports.CredentialsSetter
	refresher ports.TokenRefresher
	expiry    func(token string) (time.Time, bool)
	clock     ports.Clock
	skew      time.Duration
	logger    *slog.Logger

	mu    sync.Mutex
	creds domain.Credentials
}

type CredentialOption func(*CredentialProvider)

func WithCredentialsGetter(getter ports.CredentialsGetter) CredentialOption {
	return func(p *CredentialProvider) {
		p.getter = getter
	}
}

func WithCredentialsSetter(setter ports.CredentialsSetter) CredentialOption {
	return func(p *CredentialProvider) {
		if setter != nil {
			p.setter = setter
		}
	}
}

func WithTokenRefresher(refresher ports.TokenRefresher) CredentialOption {
	return func(p *CredentialProvider) {
		p.refresher = refresher
	}
}

// WithTokenExpiry reads the expiry out of an access token when none was
// stored with it.
func WithTokenExpiry(expiry func(token string) (time.Time, bool)) CredentialOption {
	return func(p *CredentialProvider) {
		p.expiry = expiry
	}
}

func WithClock(clock ports.Clock) CredentialOption {
	return func(p *CredentialProvider) {
		if clock != nil {
			p.clock = clock
		}
	}
}

// WithRefreshSkew refreshes tokens that expire within d. Negative values are
// ignored.
func WithRefreshSkew(d time.Duration) CredentialOption {
	return func(p *CredentialProvider) {
		if d >= 0 {
			p.skew = d
		}
	}
}

func WithLogger(logger *slog.Logger) CredentialOption {
	return func(p *CredentialProvider) {
		if logger != nil {
			p.logger = logger
		}
	}
}

func NewCredentialProvider(opts ...CredentialOption) *CredentialProvider {
	p := &CredentialProvider{
		setter: func(context.Context, domain.Credentials) error { return nil },
		clock:  ports.SystemClock{},
		skew:   DefaultRefreshSkew,
		logger: slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	return p
}

// AccessToken returns the current token, or "" when unset.
func (p *CredentialProvider) AccessToken() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.creds.AccessToken
}

func (p *CredentialProvider) Credentials() domain.Credentials {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.creds
}

// SetAccessToken replaces the access token at once. Persisting it is
// best-effort: a failing setter is logged and otherwise ignored.
func (p *CredentialProvider) SetAccessToken(ctx context.Context, token string) {
	p.mu.Lock()
	p.creds.AccessToken = token
	p.creds.ExpiresAt = p.expiryOf(token)
	creds := p.creds
	p.mu.Unlock()
	p.persist(ctx, creds)
}

func (p *CredentialProvider) SetRefreshToken(ctx context.Context, token string) {
	p.mu.Lock()
	p.creds.RefreshToken = token
	creds := p.creds
	p.mu.Unlock()
	p.persist(ctx, creds)
}

// CheckAndUpdateCredentials makes sure a usable access token is held,
// loading it through the getter and refreshing it when it is about to
// expire. Every failure wraps domain.ErrAuth.
func (p *CredentialProvider) CheckAndUpdateCredentials(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.creds.HasAccessToken() {
		if err := p.loadLocked(ctx); err != nil {
			return err
		}
	}
	if !p.creds.HasAccessToken() {
		return fmt.Errorf("%w: no access token", domain.ErrAuth)
	}

	now := p.clock.Now()
	if p.creds.ExpiresAt.IsZero() {
		p.creds.ExpiresAt = p.expiryOf(p.creds.AccessToken)
	}
	if !p.creds.ExpiringWithin(now, p.skew) {
		return nil
	}

	expired := p.creds.ExpiringWithin(now, 0)
	if p.refresher == nil || p.creds.RefreshToken == "" {
		if expired {
			return fmt.Errorf("%w: access token expired at %s", domain.ErrAuth, p.creds.ExpiresAt.Format(time.RFC3339))
		}
		return nil
	}

	if err := p.refreshLocked(ctx); err != nil {
		if !expired {
			p.logger.Warn("refresh access token failed, current token still valid", "expires_at", p.creds.ExpiresAt, "error", err)
			return nil
		}
		return err
	}
	return nil
}

// Refresh exchanges the refresh token for new credentials regardless of the
// current token's expiry.
func (p *CredentialProvider) Refresh(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.creds.RefreshToken == "" {
		if err := p.loadLocked(ctx); err != nil {
			return err
		}
	}
	if p.refresher == nil || p.creds.RefreshToken == "" {
		return fmt.Errorf("%w: no refresh token", domain.ErrAuth)
	}
	return p.refreshLocked(ctx)
}

func (p *CredentialProvider) refreshLocked(ctx context.Context) error {
	refreshed, err := p.refresher.Refresh(ctx, p.creds.RefreshToken)
	if err != nil {
		return fmt.Errorf("%w: refresh access token: %w", domain.ErrAuth, err)
	}
	if refreshed.ExpiresAt.IsZero() {
		refreshed.ExpiresAt = p.expiryOf(refreshed.AccessToken)
	}
	p.creds = refreshed
	p.logger.Info("access token refreshed", "expires_at", refreshed.ExpiresAt)

	p.persistLocked(ctx, refreshed)
	return nil
}

// Load replaces the held credentials with whatever the getter returns,
// without refreshing.
func (p *CredentialProvider) Load(ctx context.Context) (domain.Credentials, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.loadLocked(ctx); err != nil {
		return domain.Credentials{}, err
	}
	return p.creds, nil
}

// Clear forgets the held credentials; stored copies are left alone.
func (p *CredentialProvider) Clear() {
	p.mu.Lock()
	p.creds = domain.Credentials{}
	p.mu.Unlock()
}

func (p *CredentialProvider) loadLocked(ctx context.Context) error {
	if p.getter == nil {
		return nil
	}
	creds, err := p.getter(ctx)
	switch {
	case errors.Is(err, domain.ErrSecretNotFound):
		return nil
	case err != nil:
		return fmt.Errorf("%w: load credentials: %w", domain.ErrAuth, err)
	}
	if creds.ExpiresAt.IsZero() {
		creds.ExpiresAt = p.expiryOf(creds.AccessToken)
	}
	p.creds = creds
	return nil
}

func (p *CredentialProvider) expiryOf(token string) time.Time {
	if p.expiry == nil || token == "" {
		return time.Time{}
	}
	if exp, ok := p.expiry(token); ok {
		return exp
	}
	return time.Time{}
}

func (p *CredentialProvider) persist(ctx context.Context, creds domain.Credentials) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.persistLocked(ctx, creds)
}

func (p *CredentialProvider) persistLocked(ctx context.Context, creds domain.Credentials) {
	if err := p.setter(ctx, creds); err != nil {
		p.logger.Warn("persist credentials failed", "error", err)
	}
}
