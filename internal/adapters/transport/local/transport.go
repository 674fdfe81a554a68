package local

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"sort"
	"sync"
	"time"

	"github.com/bnema/upsample-dispatch/internal/adapters/transport"
	"github.com/bnema/upsample-dispatch/internal/domain"
	"github.com/bnema/upsample-dispatch/internal/fsutil"
	"github.com/bnema/upsample-dispatch/internal/logging"
	"github.com/bnema/upsample-dispatch/internal/ports"
)

const defaultGrace = 5 * time.Second

// Transport runs jobs on this machine. Remote paths are local paths.
type Transport struct {
	Grace  time.Duration
	Logger *slog.Logger
}

var _ ports.Transport = (*Transport)(nil)

func New(logger *slog.Logger) *Transport {
	return &Transport{Grace: defaultGrace, Logger: logging.OrDiscard(logger)}
}

func (t *Transport) Connect(ctx context.Context, endpoint ports.Endpoint) (ports.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	grace := t.Grace
	if grace <= 0 {
		grace = defaultGrace
	}
	logging.OrDiscard(t.Logger).Debug("local session opened")
	return &session{grace: grace}, nil
}

type session struct {
	grace  time.Duration
	mu     sync.Mutex
	closed bool
}

func (s *session) checkOpen() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return domain.NewError(domain.KindConnection, "local session", domain.ReasonConnectionLost, errors.New("session closed"))
	}
	return nil
}

func (s *session) Upload(ctx context.Context, localPath, remotePath string) error {
	return s.copy(ctx, localPath, remotePath)
}

func (s *session) Download(ctx context.Context, remotePath, localPath string) error {
	return s.copy(ctx, remotePath, localPath)
}

func (s *session) copy(ctx context.Context, src, dst string) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := fsutil.CopyFile(src, dst); err != nil {
		return err
	}
	return nil
}

func (s *session) Stat(ctx context.Context, remotePath string) (int64, error) {
	if err := s.checkOpen(); err != nil {
		return 0, err
	}
	info, err := os.Stat(remotePath)
	if err != nil {
		return 0, fmt.Errorf("stat %s: %w", remotePath, err)
	}
	return info.Size(), nil
}

func (s *session) Checksum(ctx context.Context, remotePath string) (string, error) {
	if err := s.checkOpen(); err != nil {
		return "", err
	}
	sum, _, err := fsutil.SHA256File(remotePath)
	return sum, err
}

func (s *session) MkdirAll(ctx context.Context, remoteDir string) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	if err := os.MkdirAll(remoteDir, 0o755); err != nil {
		return fmt.Errorf("create directory %s: %w", remoteDir, err)
	}
	return nil
}

func (s *session) Execute(ctx context.Context, req ports.ExecRequest) (domain.CommandOutput, error) {
	if err := s.checkOpen(); err != nil {
		return domain.CommandOutput{}, err
	}

	var stdout, stderr transport.CappedBuffer

	cmd := exec.CommandContext(ctx, "sh", "-c", req.Command)
	cmd.Dir = req.Dir
	cmd.Env = append(os.Environ(), envList(req.Env)...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.WaitDelay = s.grace
	configureProcess(cmd)

	err := cmd.Run()
	out := domain.CommandOutput{Stdout: stdout.String(), Stderr: stderr.String()}
	if ctxErr := ctx.Err(); ctxErr != nil {
		out.ExitCode = -1
		return out, ctxErr
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			out.ExitCode = exitErr.ExitCode()
			return out, nil
		}
		return out, fmt.Errorf("start command: %w", err)
	}

	return out, nil
}

func (s *session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	return nil
}

func envList(env map[string]string) []string {
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+"="+env[k])
	}
	return out
}
