package chain

import (
	"context"
	"errors"
	"fmt"
	"testing"

	passstore "github.com/bnema/upsample-dispatch/internal/adapters/secrets/pass"
	"github.com/bnema/upsample-dispatch/internal/ports"
	portmocks "github.com/bnema/upsample-dispatch/internal/ports/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestStoreGetUsesPrimaryWhenItSucceeds(t *testing.T) {
	t.Parallel()

	primary := portmocks.NewMockSecretStore(t)
	fallback := portmocks.NewMockSecretStore(t)
	store := newChain(t, primary, fallback)

	primary.EXPECT().Get(mock.Anything, "gpu-box/password").Return("from-pass", nil).Once()

	value, err := store.Get(context.Background(), "gpu-box/password")
	require.NoError(t, err)
	assert.Equal(t, "from-pass", value)
}

func TestStoreGetFallsBackWhenPrimaryFails(t *testing.T) {
	t.Parallel()

	primary := portmocks.NewMockSecretStore(t)
	fallback := portmocks.NewMockSecretStore(t)
	store := newChain(t, primary, fallback)

	primary.EXPECT().Get(mock.Anything, "gpu-box/password").Return("", errors.New("pass unavailable")).Once()
	fallback.EXPECT().Get(mock.Anything, "gpu-box/password").Return("from-file", nil).Once()

	value, err := store.Get(context.Background(), "gpu-box/password")
	require.NoError(t, err)
	assert.Equal(t, "from-file", value)
}

func TestStoreGetReturnsCombinedErrorWhenBothBackendsFail(t *testing.T) {
	t.Parallel()

	primary := portmocks.NewMockSecretStore(t)
	fallback := portmocks.NewMockSecretStore(t)
	store := newChain(t, primary, fallback)

	primary.EXPECT().Get(mock.Anything, "gpu-box/password").Return("", errors.New("pass failed")).Once()
	fallback.EXPECT().Get(mock.Anything, "gpu-box/password").Return("", errors.New("file failed")).Once()

	_, err := store.Get(context.Background(), "gpu-box/password")
	require.Error(t, err)
	assert.ErrorContains(t, err, `resolve ssh credential "gpu-box/password"`)
	assert.ErrorContains(t, err, "primary backend")
	assert.ErrorContains(t, err, "fallback backend")
	assert.ErrorContains(t, err, "pass failed")
	assert.ErrorContains(t, err, "file failed")
}

func TestStorePutFallsBackWhenPrimaryFails(t *testing.T) {
	t.Parallel()

	primary := portmocks.NewMockSecretStore(t)
	fallback := portmocks.NewMockSecretStore(t)
	store := newChain(t, primary, fallback)

	primary.EXPECT().Put(mock.Anything, "gpu-box/password", "secret").Return(errors.New("pass failed")).Once()
	fallback.EXPECT().Put(mock.Anything, "gpu-box/password", "secret").Return(nil).Once()

	err := store.Put(context.Background(), "gpu-box/password", "secret")
	require.NoError(t, err)
}

func TestStorePutDoesNotCallFallbackWhenPrimarySucceeds(t *testing.T) {
	t.Parallel()

	primary := portmocks.NewMockSecretStore(t)
	fallback := portmocks.NewMockSecretStore(t)
	store := newChain(t, primary, fallback)

	primary.EXPECT().Put(mock.Anything, "gpu-box/password", "secret").Return(nil).Once()

	err := store.Put(context.Background(), "gpu-box/password", "secret")
	require.NoError(t, err)
}

func TestStoreDeleteFallsBackWhenPrimaryFails(t *testing.T) {
	t.Parallel()

	primary := portmocks.NewMockSecretStore(t)
	fallback := portmocks.NewMockSecretStore(t)
	store := newChain(t, primary, fallback)

	primary.EXPECT().Delete(mock.Anything, "gpu-box/password").Return(errors.New("pass failed")).Once()
	fallback.EXPECT().Delete(mock.Anything, "gpu-box/password").Return(nil).Once()

	err := store.Delete(context.Background(), "gpu-box/password")
	require.NoError(t, err)
}

func TestStoreDeleteDoesNotCallFallbackWhenPrimarySucceeds(t *testing.T) {
	t.Parallel()

	primary := portmocks.NewMockSecretStore(t)
	fallback := portmocks.NewMockSecretStore(t)
	store := newChain(t, primary, fallback)

	primary.EXPECT().Delete(mock.Anything, "gpu-box/password").Return(nil).Once()

	err := store.Delete(context.Background(), "gpu-box/password")
	require.NoError(t, err)
}

func TestStoreGetReportsNotFoundWhenNeitherBackendHasSecret(t *testing.T) {
	t.Parallel()

	primary := portmocks.NewMockSecretStore(t)
	fallback := portmocks.NewMockSecretStore(t)
	store := newChain(t, primary, fallback)

	primary.EXPECT().Get(mock.Anything, "gpu-box/password").Return("", passstore.ErrUnavailable).Once()
	fallback.EXPECT().Get(mock.Anything, "gpu-box/password").Return("", fmt.Errorf("file secret: %w", ports.ErrSecretNotFound)).Once()

	_, err := store.Get(context.Background(), "gpu-box/password")
	require.ErrorIs(t, err, ports.ErrSecretNotFound)
}

func TestStoreGetDoesNotFallbackOnCanceledContextError(t *testing.T) {
	t.Parallel()

	primary := portmocks.NewMockSecretStore(t)
	fallback := portmocks.NewMockSecretStore(t)
	store := newChain(t, primary, fallback)

	primary.EXPECT().Get(mock.Anything, "gpu-box/password").Return("", context.Canceled).Once()

	_, err := store.Get(context.Background(), "gpu-box/password")
	require.ErrorIs(t, err, context.Canceled)
}

func TestNewRejectsMissingBackend(t *testing.T) {
	t.Parallel()

	_, err := New(nil, portmocks.NewMockSecretStore(t))
	assert.ErrorContains(t, err, "primary backend is nil")

	_, err = New(portmocks.NewMockSecretStore(t), nil)
	assert.ErrorContains(t, err, "fallback backend is nil")
}

func newChain(t *testing.T, primary, fallback ports.SecretStore) *Store {
	t.Helper()

	store, err := New(primary, fallback)
	require.NoError(t, err)
	return store
}
