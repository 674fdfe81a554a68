package ports

import (
	"context"
	"errors"
)

// SecretStore holds SSH credentials referenced from configuration by key
// (remote.password_ref, remote.key_passphrase_ref).
type SecretStore interface {
	Get(ctx context.Context, key string) (string, error)
	Put(ctx context.Context, key string, value string) error
	Delete(ctx context.Context, key string) error
}

var ErrSecretNotFound = errors.New("secret not found")
