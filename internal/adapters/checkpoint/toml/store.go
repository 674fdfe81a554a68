package toml

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/bnema/upsample-dispatch/internal/domain"
	"github.com/bnema/upsample-dispatch/internal/fsutil"
	"github.com/bnema/upsample-dispatch/internal/ports"
	toml "github.com/pelletier/go-toml/v2"
)

const checkpointFileMode = 0o600

// Store keeps every record in one TOML document that is rewritten through a
// synced temp file and rename on each Record call.
type Store struct {
	path    string
	lock    fsutil.Lock
	mu      sync.Mutex
	records []recordSchema
	index   map[string]int
	write   func(path string, data []byte, perm os.FileMode) error
	closed  bool
}

var _ ports.CheckpointStore = (*Store)(nil)

// Open takes the lock for path and reads any records already present.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("checkpoint path is empty")
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve checkpoint path: %w", err)
	}
	absPath = filepath.Clean(absPath)

	lock, err := fsutil.AcquireLock(absPath)
	if err != nil {
		return nil, domain.NewError(domain.KindCheckpoint, "open checkpoint", domain.ReasonStorage, err)
	}

	file, err := readSchema(absPath)
	if err != nil {
		_ = lock.Release()
		return nil, domain.NewError(domain.KindCheckpoint, "open checkpoint", domain.ReasonStorage, err)
	}

	index := make(map[string]int, len(file.Records))
	for i, record := range file.Records {
		if _, ok := index[record.ID]; ok {
			_ = lock.Release()
			return nil, domain.NewError(domain.KindCheckpoint, "open checkpoint", domain.ReasonDuplicate,
				fmt.Errorf("identifier %q recorded twice in %s", record.ID, absPath))
		}
		index[record.ID] = i
	}

	return &Store{
		path:    absPath,
		lock:    lock,
		records: file.Records,
		index:   index,
		write:   fsutil.WriteFile,
	}, nil
}

func (s *Store) Path() string {
	return s.path
}

func (s *Store) Load(ctx context.Context) (map[string]domain.CheckpointRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]domain.CheckpointRecord, len(s.records))
	for _, record := range s.records {
		out[record.ID] = fromSchema(record)
	}

	return out, nil
}

func (s *Store) Record(ctx context.Context, record domain.CheckpointRecord) error {
	if err := ctx.Err(); err != nil {
		return domain.NewError(domain.KindCheckpoint, "record checkpoint", domain.ReasonStorage, err)
	}
	if strings.TrimSpace(record.ID) == "" {
		return domain.NewError(domain.KindCheckpoint, "record checkpoint", domain.ReasonStorage, errors.New("record id is empty"))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return domain.NewError(domain.KindCheckpoint, "record checkpoint", domain.ReasonStorage, errors.New("store is closed"))
	}
	if _, ok := s.index[record.ID]; ok {
		return domain.NewError(domain.KindCheckpoint, "record checkpoint", domain.ReasonDuplicate,
			fmt.Errorf("identifier %q already recorded", record.ID))
	}

	file := fileSchema{Records: append(append([]recordSchema(nil), s.records...), toSchema(record))}
	if err := s.writeSchema(file); err != nil {
		return domain.NewError(domain.KindCheckpoint, "record checkpoint", domain.ReasonStorage, err)
	}

	s.records = file.Records
	s.index[record.ID] = len(s.records) - 1
	return nil
}

func (s *Store) Contains(ctx context.Context, id string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.index[id]
	return ok, nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.lock.Release()
}

func readSchema(path string) (fileSchema, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			file := fileSchema{}
			file.applyDefaults()
			return file, nil
		}
		return fileSchema{}, fmt.Errorf("read checkpoint file: %w", err)
	}

	var file fileSchema
	if err := toml.Unmarshal(data, &file); err != nil {
		return fileSchema{}, fmt.Errorf("decode checkpoint file: %w", err)
	}
	if err := file.validateVersion(); err != nil {
		return fileSchema{}, err
	}
	file.applyDefaults()

	return file, nil
}

func (s *Store) writeSchema(file fileSchema) error {
	file.applyDefaults()

	data, err := toml.Marshal(file)
	if err != nil {
		return fmt.Errorf("encode checkpoint file: %w", err)
	}

	if err := s.write(s.path, data, checkpointFileMode); err != nil {
		return fmt.Errorf("write checkpoint file: %w", err)
	}

	return nil
}
