// Package chain resolves the SSH credential refs named by remote.password_ref
// and remote.key_passphrase_ref, trying pass before the file tree.
package chain

import (
	"context"
	"errors"
	"fmt"

	filestore "github.com/bnema/upsample-dispatch/internal/adapters/secrets/file"
	passstore "github.com/bnema/upsample-dispatch/internal/adapters/secrets/pass"
	"github.com/bnema/upsample-dispatch/internal/ports"
)

// Store asks primary first and fallback only when primary fails for a reason
// other than the caller giving up.
type Store struct {
	primary  ports.SecretStore
	fallback ports.SecretStore
}

var _ ports.SecretStore = (*Store)(nil)

func New(primary, fallback ports.SecretStore) (*Store, error) {
	switch {
	case primary == nil:
		return nil, errors.New("credential chain: primary backend is nil")
	case fallback == nil:
		return nil, errors.New("credential chain: fallback backend is nil")
	}
	return &Store{primary: primary, fallback: fallback}, nil
}

// NewPassFirstWithFileFallback reads and writes SSH credentials through pass
// when it is installed and falls back to files under fileRoot.
func NewPassFirstWithFileFallback(fileRoot string) (*Store, error) {
	return New(passstore.NewStore(passstore.DefaultPrefix), filestore.NewStore(fileRoot))
}

func (s *Store) Get(ctx context.Context, ref string) (string, error) {
	var credential string
	err := s.each(ref, "resolve", func(backend ports.SecretStore) error {
		value, err := backend.Get(ctx, ref)
		if err == nil {
			credential = value
		}
		return err
	})
	return credential, err
}

func (s *Store) Put(ctx context.Context, ref string, value string) error {
	return s.each(ref, "store", func(backend ports.SecretStore) error {
		return backend.Put(ctx, ref, value)
	})
}

func (s *Store) Delete(ctx context.Context, ref string) error {
	return s.each(ref, "delete", func(backend ports.SecretStore) error {
		return backend.Delete(ctx, ref)
	})
}

func (s *Store) each(ref, op string, call func(ports.SecretStore) error) error {
	primaryErr := call(s.primary)
	if primaryErr == nil {
		return nil
	}
	if errors.Is(primaryErr, context.Canceled) || errors.Is(primaryErr, context.DeadlineExceeded) {
		return primaryErr
	}

	fallbackErr := call(s.fallback)
	if fallbackErr == nil {
		return nil
	}
	if absent(primaryErr) && errors.Is(fallbackErr, ports.ErrSecretNotFound) {
		return fmt.Errorf("ssh credential %q: %w", ref, ports.ErrSecretNotFound)
	}

	return fmt.Errorf("%s ssh credential %q: primary backend: %w; fallback backend: %w", op, ref, primaryErr, fallbackErr)
}

// absent treats a missing pass binary like a missing entry.
func absent(err error) bool {
	return errors.Is(err, ports.ErrSecretNotFound) || errors.Is(err, passstore.ErrUnavailable)
}
