package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/bnema/upsample-dispatch/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStoreRecordPersistsAcrossReopen(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "state", "checkpoint.db")
	at := time.Date(2026, 10, 19, 9, 30, 0, 0, time.UTC)

	store, err := Open(path)
	require.NoError(t, err)

	completed := domain.NewCompletedRecord("clip-1", at, "results/clip-1")
	failed := domain.NewFailedRecord("clip-2", at.Add(time.Second), domain.NewError(domain.KindTransfer, "upload", domain.ReasonIntegrity, errors.New("sha256 differs")))
	require.NoError(t, store.Record(context.Background(), completed))
	require.NoError(t, store.Record(context.Background(), failed))
	require.NoError(t, store.Close())

	reopened, err := Open(path)
	require.NoError(t, err)
	defer func() { require.NoError(t, reopened.Close()) }()

	records, err := reopened.Load(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, completed, records["clip-1"])
	assert.Equal(t, domain.KindTransfer, records["clip-2"].ErrorKind)
	assert.Equal(t, domain.ReasonIntegrity, records["clip-2"].Reason)

	ok, err := reopened.Contains(context.Background(), "clip-1")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestStoreRejectsDuplicateRecord(t *testing.T) {
	t.Parallel()

	store, err := Open(filepath.Join(t.TempDir(), "checkpoint.db"))
	require.NoError(t, err)
	defer func() { require.NoError(t, store.Close()) }()

	require.NoError(t, store.Record(context.Background(), domain.NewCompletedRecord("clip-1", time.Now(), "a")))

	err = store.Record(context.Background(), domain.NewCompletedRecord("clip-1", time.Now(), "b"))
	require.ErrorIs(t, err, domain.ErrCheckpoint)
	assert.Equal(t, domain.ReasonDuplicate, domain.ReasonOf(err))
}

func TestStoreRecordAfterCloseFails(t *testing.T) {
	t.Parallel()

	store, err := Open(filepath.Join(t.TempDir(), "checkpoint.db"))
	require.NoError(t, err)
	require.NoError(t, store.Close())

	err = store.Record(context.Background(), domain.NewCompletedRecord("clip-1", time.Now(), "a"))
	require.ErrorIs(t, err, domain.ErrCheckpoint)
	assert.True(t, domain.IsFatal(err))
}
