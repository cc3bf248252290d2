package chain

import (
	"context"
	"errors"
	"fmt"

	filestore "github.com/bnema/aider-chat-cli/internal/adapters/secrets/file"
	passstore "github.com/bnema/aider-chat-cli/internal/adapters/secrets/pass"
	"github.com/bnema/aider-chat-cli/internal/domain"
	"github.com/bnema/aider-chat-cli/internal/ports"
)

var errNoStores = errors.New("secret chain needs at least one store")

// Store tries each backend in order. Reads stop at the first hit, writes at
// the first backend that accepts the value, and deletes reach every backend
// so no stale copy survives in a fallback.
type Store struct {
	stores []ports.SecretStore
}

var _ ports.SecretStore = (*Store)(nil)

func NewStore(stores ...ports.SecretStore) (*Store, error) {
	if len(stores) == 0 {
		return nil, errNoStores
	}
	for i, s := range stores {
		if s == nil {
			return nil, fmt.Errorf("secret store %d is nil", i)
		}
	}
	return &Store{stores: stores}, nil
}

// NewPassWithFileFallback prefers the password-store and falls back to files
// under dir when pass is missing or fails.
func NewPassWithFileFallback(dir string) (*Store, error) {
	return NewStore(passstore.NewStore(), filestore.NewStore(dir))
}

func (s *Store) Put(ctx context.Context, key string, value string) error {
	var errs []error
	for i, store := range s.stores {
		err := store.Put(ctx, key, value)
		if err == nil {
			return nil
		}
		if isContextErr(err) {
			return err
		}
		errs = append(errs, fmt.Errorf("backend %d: %w", i, err))
	}
	return fmt.Errorf("put secret %q: %w", key, errors.Join(errs...))
}

func (s *Store) Get(ctx context.Context, key string) (string, error) {
	var errs []error
	missing := 0
	for i, store := range s.stores {
		value, err := store.Get(ctx, key)
		if err == nil {
			return value, nil
		}
		if isContextErr(err) {
			return "", err
		}
		if isMissing(err) {
			missing++
		}
		errs = append(errs, fmt.Errorf("backend %d: %w", i, err))
	}
	if missing == len(s.stores) {
		return "", fmt.Errorf("secret %q: %w", key, domain.ErrSecretNotFound)
	}
	return "", fmt.Errorf("get secret %q: %w", key, errors.Join(errs...))
}

func (s *Store) Delete(ctx context.Context, key string) error {
	var errs []error
	deleted := false
	for i, store := range s.stores {
		err := store.Delete(ctx, key)
		if err == nil {
			deleted = true
			continue
		}
		if isContextErr(err) {
			return err
		}
		errs = append(errs, fmt.Errorf("backend %d: %w", i, err))
	}
	if deleted {
		return nil
	}
	return fmt.Errorf("delete secret %q: %w", key, errors.Join(errs...))
}

// isMissing treats an uninstalled pass as a backend that holds nothing.
func isMissing(err error) bool {
	return errors.Is(err, domain.ErrSecretNotFound) || errors.Is(err, passstore.ErrUnavailable)
}

func isContextErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
