package application

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path"
	"sync"

	"github.com/bnema/upsample-dispatch/internal/domain"
	"github.com/bnema/upsample-dispatch/internal/ports"
)

// fakeTransport hands out one in-memory session. Remote paths live in a map.
type fakeTransport struct {
	mu          sync.Mutex
	connectErrs []error
	connects    int
	session     *fakeSession
}

func (f *fakeTransport) Connect(ctx context.Context, endpoint ports.Endpoint) (ports.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.connects++
	if len(f.connectErrs) > 0 {
		err := f.connectErrs[0]
		f.connectErrs = f.connectErrs[1:]
		return nil, err
	}
	return f.session, nil
}

func (f *fakeTransport) connectCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.connects
}

type execHandler func(ctx context.Context, s *fakeSession, req ports.ExecRequest) (domain.CommandOutput, error)

type fakeSession struct {
	mu               sync.Mutex
	files            map[string][]byte
	dirs             map[string]bool
	corruptUploads   int
	corruptDownloads int
	lost             bool
	closed           int
	exec             execHandler
	execs            []ports.ExecRequest
	inFlight         int
	maxInFlight      int
}

func newFakeSession() *fakeSession {
	return &fakeSession{files: map[string][]byte{}, dirs: map[string]bool{}}
}

func connectionLost() error {
	return domain.NewError(domain.KindConnection, "fake", domain.ReasonConnectionLost, errors.New("connection reset by peer"))
}

func (s *fakeSession) put(remotePath string, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.files[remotePath] = append([]byte(nil), data...)
}

func (s *fakeSession) get(remotePath string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, ok := s.files[remotePath]
	return data, ok
}

func (s *fakeSession) drop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.lost = true
}

func (s *fakeSession) executed() []ports.ExecRequest {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]ports.ExecRequest(nil), s.execs...)
}

func (s *fakeSession) closeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.closed
}

func (s *fakeSession) Upload(ctx context.Context, localPath, remotePath string) error {
	data, err := os.ReadFile(localPath)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.lost {
		return connectionLost()
	}
	if s.corruptUploads > 0 {
		s.corruptUploads--
		data = append(data, '!')
	}
	s.files[remotePath] = data
	return nil
}

func (s *fakeSession) Download(ctx context.Context, remotePath, localPath string) error {
	s.mu.Lock()
	if s.lost {
		s.mu.Unlock()
		return connectionLost()
	}
	data, ok := s.files[remotePath]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("open %s: file does not exist", remotePath)
	}
	data = append([]byte(nil), data...)
	if s.corruptDownloads > 0 {
		s.corruptDownloads--
		data = data[:len(data)/2]
	}
	s.mu.Unlock()

	return os.WriteFile(localPath, data, 0o644)
}

func (s *fakeSession) Stat(ctx context.Context, remotePath string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.lost {
		return 0, connectionLost()
	}
	data, ok := s.files[remotePath]
	if !ok {
		return 0, fmt.Errorf("stat %s: file does not exist", remotePath)
	}
	return int64(len(data)), nil
}

func (s *fakeSession) Checksum(ctx context.Context, remotePath string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.lost {
		return "", connectionLost()
	}
	data, ok := s.files[remotePath]
	if !ok {
		return "", fmt.Errorf("checksum %s: file does not exist", remotePath)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

func (s *fakeSession) MkdirAll(ctx context.Context, remoteDir string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.lost {
		return connectionLost()
	}
	s.dirs[remoteDir] = true
	return nil
}

func (s *fakeSession) Execute(ctx context.Context, req ports.ExecRequest) (domain.CommandOutput, error) {
	s.mu.Lock()
	if s.lost {
		s.mu.Unlock()
		return domain.CommandOutput{}, connectionLost()
	}
	s.execs = append(s.execs, req)
	s.inFlight++
	if s.inFlight > s.maxInFlight {
		s.maxInFlight = s.inFlight
	}
	handler := s.exec
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.inFlight--
		s.mu.Unlock()
	}()

	if handler == nil {
		handler = succeed
	}
	return handler(ctx, s, req)
}

func (s *fakeSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed++
	return nil
}

// succeed writes the default result file into the job's output directory.
func succeed(ctx context.Context, s *fakeSession, req ports.ExecRequest) (domain.CommandOutput, error) {
	id := path.Base(req.Dir)
	s.put(path.Join(req.Dir, "output", "upsampled_prompt.json"), []byte(`{"id":"`+id+`","prompt":"upsampled"}`))
	return domain.CommandOutput{Stdout: "done " + id}, nil
}

// jobID extracts the item id from a request issued by the orchestrator.
func jobID(req ports.ExecRequest) string {
	return path.Base(req.Dir)
}

// failingStore passes the first allowed records through and then fails.
type failingStore struct {
	ports.CheckpointStore

	mu      sync.Mutex
	allowed int
}

func (s *failingStore) Record(ctx context.Context, record domain.CheckpointRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.allowed <= 0 {
		return errors.New("disk full")
	}
	s.allowed--
	return s.CheckpointStore.Record(ctx, record)
}
