package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/bnema/upsample-dispatch/internal/domain"
	"github.com/bnema/upsample-dispatch/internal/fsutil"
	"github.com/bnema/upsample-dispatch/internal/ports"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS checkpoint_records (
	id           TEXT PRIMARY KEY,
	status       TEXT NOT NULL,
	completed_at TEXT NOT NULL,
	result_ref   TEXT NOT NULL DEFAULT '',
	error_kind   TEXT NOT NULL DEFAULT '',
	reason       TEXT NOT NULL DEFAULT '',
	message      TEXT NOT NULL DEFAULT ''
);`

// Store is a CheckpointStore backed by a single SQLite database with
// synchronous=FULL, so a committed insert survives power loss.
type Store struct {
	db     *sql.DB
	path   string
	lock   fsutil.Lock
	mu     sync.Mutex
	closed bool
}

var _ ports.CheckpointStore = (*Store)(nil)

func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("checkpoint path is empty")
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve checkpoint path: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(absPath), 0o755); err != nil {
		return nil, domain.NewError(domain.KindCheckpoint, "open checkpoint", domain.ReasonStorage, err)
	}

	lock, err := fsutil.AcquireLock(absPath)
	if err != nil {
		return nil, domain.NewError(domain.KindCheckpoint, "open checkpoint", domain.ReasonStorage, err)
	}

	dsn := absPath + "?_pragma=journal_mode(WAL)&_pragma=synchronous(FULL)&_pragma=busy_timeout(10000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		_ = lock.Release()
		return nil, domain.NewError(domain.KindCheckpoint, "open checkpoint", domain.ReasonStorage, err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		_ = lock.Release()
		return nil, domain.NewError(domain.KindCheckpoint, "open checkpoint", domain.ReasonStorage, fmt.Errorf("apply schema: %w", err))
	}

	return &Store{db: db, path: absPath, lock: lock}, nil
}

func (s *Store) Path() string {
	return s.path
}

func (s *Store) Load(ctx context.Context) (map[string]domain.CheckpointRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, status, completed_at, result_ref, error_kind, reason, message
		FROM checkpoint_records ORDER BY completed_at, id`)
	if err != nil {
		return nil, domain.NewError(domain.KindCheckpoint, "load checkpoint", domain.ReasonStorage, err)
	}
	defer rows.Close()

	out := make(map[string]domain.CheckpointRecord)
	for rows.Next() {
		var (
			record      domain.CheckpointRecord
			status      string
			completedAt string
			kind        string
		)
		if err := rows.Scan(&record.ID, &status, &completedAt, &record.ResultRef, &kind, &record.Reason, &record.Message); err != nil {
			return nil, domain.NewError(domain.KindCheckpoint, "load checkpoint", domain.ReasonStorage, err)
		}
		record.Status = domain.RecordStatus(status)
		record.ErrorKind = domain.ErrorKind(kind)
		if parsed, err := time.Parse(time.RFC3339Nano, completedAt); err == nil {
			record.CompletedAt = parsed
		}
		out[record.ID] = record
	}
	if err := rows.Err(); err != nil {
		return nil, domain.NewError(domain.KindCheckpoint, "load checkpoint", domain.ReasonStorage, err)
	}

	return out, nil
}

func (s *Store) Record(ctx context.Context, record domain.CheckpointRecord) error {
	if strings.TrimSpace(record.ID) == "" {
		return domain.NewError(domain.KindCheckpoint, "record checkpoint", domain.ReasonStorage, errors.New("record id is empty"))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.NewError(domain.KindCheckpoint, "record checkpoint", domain.ReasonStorage, err)
	}
	defer func() { _ = tx.Rollback() }()

	var exists int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(1) FROM checkpoint_records WHERE id = ?`, record.ID).Scan(&exists); err != nil {
		return domain.NewError(domain.KindCheckpoint, "record checkpoint", domain.ReasonStorage, err)
	}
	if exists > 0 {
		return domain.NewError(domain.KindCheckpoint, "record checkpoint", domain.ReasonDuplicate,
			fmt.Errorf("identifier %q already recorded", record.ID))
	}

	_, err = tx.ExecContext(ctx, `INSERT INTO checkpoint_records
		(id, status, completed_at, result_ref, error_kind, reason, message)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		record.ID,
		string(record.Status),
		record.CompletedAt.UTC().Format(time.RFC3339Nano),
		record.ResultRef,
		string(record.ErrorKind),
		record.Reason,
		record.Message,
	)
	if err != nil {
		return domain.NewError(domain.KindCheckpoint, "record checkpoint", domain.ReasonStorage, err)
	}

	if err := tx.Commit(); err != nil {
		return domain.NewError(domain.KindCheckpoint, "record checkpoint", domain.ReasonStorage, err)
	}
	return nil
}

func (s *Store) Contains(ctx context.Context, id string) (bool, error) {
	var exists int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM checkpoint_records WHERE id = ?`, id).Scan(&exists); err != nil {
		return false, domain.NewError(domain.KindCheckpoint, "contains checkpoint", domain.ReasonStorage, err)
	}
	return exists > 0, nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	return errors.Join(s.db.Close(), s.lock.Release())
}
