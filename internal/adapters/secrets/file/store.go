// Package file keeps SSH credentials (passwords and key passphrases) as
// owner-only files, one per ref, for hosts where pass is not installed.
package file

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/bnema/upsample-dispatch/internal/fsutil"
	"github.com/bnema/upsample-dispatch/internal/ports"
)

const (
	credentialDirMode  = 0o700
	credentialFileMode = 0o600
)

// Store maps a ref such as "gpu-box/password" to <root>/gpu-box/password.
type Store struct {
	root string
	// writes serializes Put and Delete; reads see whole files because
	// fsutil.WriteFile renames into place.
	writes sync.Mutex
}

var _ ports.SecretStore = (*Store)(nil)

func NewStore(root string) *Store {
	return &Store{root: filepath.Clean(root)}
}

func (s *Store) Get(ctx context.Context, ref string) (string, error) {
	path, err := s.resolve(ctx, ref)
	if err != nil {
		return "", err
	}

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return "", fmt.Errorf("ssh credential %q: %w", ref, ports.ErrSecretNotFound)
	case err != nil:
		return "", fmt.Errorf("read ssh credential %q: %w", ref, err)
	}

	// Editors and `echo >` leave a trailing newline that is never part of a
	// password.
	return strings.TrimRight(string(data), "\r\n"), nil
}

func (s *Store) Put(ctx context.Context, ref string, value string) error {
	path, err := s.resolve(ctx, ref)
	if err != nil {
		return err
	}

	s.writes.Lock()
	defer s.writes.Unlock()

	if err := os.MkdirAll(filepath.Dir(path), credentialDirMode); err != nil {
		return fmt.Errorf("create credential directory for %q: %w", ref, err)
	}
	if err := fsutil.WriteFile(path, []byte(value), credentialFileMode); err != nil {
		return fmt.Errorf("write ssh credential %q: %w", ref, err)
	}
	return nil
}

// Delete succeeds when the credential is already gone.
func (s *Store) Delete(ctx context.Context, ref string) error {
	path, err := s.resolve(ctx, ref)
	if err != nil {
		return err
	}

	s.writes.Lock()
	defer s.writes.Unlock()

	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("delete ssh credential %q: %w", ref, err)
	}
	return nil
}

// resolve keeps every ref inside root.
func (s *Store) resolve(ctx context.Context, ref string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	rel := filepath.Clean(strings.TrimSpace(ref))
	switch {
	case strings.TrimSpace(ref) == "":
		return "", errors.New("credential ref is empty")
	case rel == "." || filepath.IsAbs(rel) || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)):
		return "", fmt.Errorf("invalid credential ref %q: must be relative to %s", ref, s.root)
	}
	return filepath.Join(s.root, rel), nil
}
