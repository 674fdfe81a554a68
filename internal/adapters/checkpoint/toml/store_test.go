package toml

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/bnema/upsample-dispatch/internal/domain"
	"github.com/bnema/upsample-dispatch/internal/fsutil"
	toml "github.com/pelletier/go-toml/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStoreRecordPersistsAcrossReopen(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "checkpoint.toml")
	at := time.Date(2026, 10, 19, 9, 30, 0, 123, time.UTC)

	store, err := Open(path)
	require.NoError(t, err)

	completed := domain.NewCompletedRecord("clip-1", at, "results/clip-1")
	failed := domain.NewFailedRecord("clip-2", at, domain.NewError(domain.KindRemoteExecution, "execute", domain.ReasonTimeout, errors.New("after 300s")))
	require.NoError(t, store.Record(context.Background(), completed))
	require.NoError(t, store.Record(context.Background(), failed))
	require.NoError(t, store.Close())

	reopened, err := Open(path)
	require.NoError(t, err)
	defer func() { require.NoError(t, reopened.Close()) }()

	records, err := reopened.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, map[string]domain.CheckpointRecord{"clip-1": completed, "clip-2": failed}, records)

	ok, err := reopened.Contains(context.Background(), "clip-2")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = reopened.Contains(context.Background(), "clip-3")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStoreReopensAfterRecordingBinaryStderr(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "checkpoint.toml")
	at := time.Date(2026, 10, 19, 9, 30, 0, 0, time.UTC)

	store, err := Open(path)
	require.NoError(t, err)

	cause := &domain.Error{
		Kind:   domain.KindRemoteExecution,
		Op:     "execute",
		Reason: domain.ReasonNonZeroExit,
		Err:    errors.New("command exited with status 1"),
		Output: &domain.CommandOutput{ExitCode: 1, Stderr: "boom \xff\xfe"},
	}
	require.NoError(t, store.Record(context.Background(), domain.NewFailedRecord("clip-1", at, cause)))
	require.NoError(t, store.Close())

	reopened, err := Open(path)
	require.NoError(t, err)
	defer func() { require.NoError(t, reopened.Close()) }()

	records, err := reopened.Load(context.Background())
	require.NoError(t, err)
	require.Contains(t, records, "clip-1")
	assert.True(t, utf8.ValidString(records["clip-1"].Message))
	assert.Contains(t, records["clip-1"].Message, "boom \uFFFD")
	assert.Equal(t, domain.ReasonNonZeroExit, records["clip-1"].Reason)
}

func TestStoreRejectsDuplicateRecord(t *testing.T) {
	t.Parallel()

	store, err := Open(filepath.Join(t.TempDir(), "checkpoint.toml"))
	require.NoError(t, err)
	defer func() { require.NoError(t, store.Close()) }()

	record := domain.NewCompletedRecord("clip-1", time.Now(), "ref")
	require.NoError(t, store.Record(context.Background(), record))

	err = store.Record(context.Background(), domain.NewCompletedRecord("clip-1", time.Now(), "other"))
	require.ErrorIs(t, err, domain.ErrCheckpoint)
	assert.Equal(t, domain.ReasonDuplicate, domain.ReasonOf(err))

	records, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "ref", records["clip-1"].ResultRef)
}

func TestStoreWriteFailureLeavesItemUnrecorded(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "checkpoint.toml")
	store, err := Open(path)
	require.NoError(t, err)
	defer func() { require.NoError(t, store.Close()) }()

	require.NoError(t, store.Record(context.Background(), domain.NewCompletedRecord("clip-1", time.Now(), "ref")))

	store.write = func(string, []byte, os.FileMode) error {
		return errors.New("disk full")
	}
	err = store.Record(context.Background(), domain.NewCompletedRecord("clip-2", time.Now(), "ref"))
	require.ErrorIs(t, err, domain.ErrCheckpoint)
	assert.Equal(t, domain.ReasonStorage, domain.ReasonOf(err))

	ok, err := store.Contains(context.Background(), "clip-2")
	require.NoError(t, err)
	assert.False(t, ok)

	store.write = fsutil.WriteFile
	require.NoError(t, store.Record(context.Background(), domain.NewCompletedRecord("clip-2", time.Now(), "ref")))
}

func TestStoreHoldsExclusiveLock(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "checkpoint.toml")
	store, err := Open(path)
	require.NoError(t, err)

	_, err = Open(path)
	require.ErrorIs(t, err, fsutil.ErrLocked)
	require.ErrorIs(t, err, domain.ErrCheckpoint)

	require.NoError(t, store.Close())
	require.NoError(t, store.Close())

	again, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, again.Close())
}

func TestStoreRejectsNewerSchemaVersion(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "checkpoint.toml")
	require.NoError(t, os.WriteFile(path, []byte("version = 99\n"), 0o600))

	_, err := Open(path)
	require.ErrorIs(t, err, domain.ErrCheckpoint)
	assert.Contains(t, err.Error(), "unsupported checkpoint schema version 99")
}

func TestStoreConcurrentRecordsKeepEveryIdentifierOnce(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "checkpoint.toml")
	store, err := Open(path)
	require.NoError(t, err)

	const writers = 8
	var wg sync.WaitGroup
	errs := make(chan error, writers*2)
	for i := 0; i < writers; i++ {
		id := "clip-" + strconv.Itoa(i)
		for j := 0; j < 2; j++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				errs <- store.Record(context.Background(), domain.NewCompletedRecord(id, time.Now(), id))
			}()
		}
	}
	wg.Wait()
	close(errs)

	var duplicates int
	for err := range errs {
		if err != nil {
			require.Equal(t, domain.ReasonDuplicate, domain.ReasonOf(err))
			duplicates++
		}
	}
	assert.Equal(t, writers, duplicates)
	require.NoError(t, store.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var file fileSchema
	require.NoError(t, decodeForTest(data, &file))
	assert.Len(t, file.Records, writers)
}

func decodeForTest(data []byte, file *fileSchema) error {
	return toml.Unmarshal(data, file)
}
