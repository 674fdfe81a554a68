package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"sync"
	"time"

	"github.com/bnema/upsample-dispatch/internal/domain"
	"github.com/bnema/upsample-dispatch/internal/fsutil"
	"github.com/bnema/upsample-dispatch/internal/logging"
	"github.com/bnema/upsample-dispatch/internal/ports"
)

type RemoteOptions struct {
	Endpoint         ports.Endpoint
	WorkDir          string
	Env              map[string]string
	ConnectAttempts  int
	ConnectBackoff   time.Duration
	MaxBackoff       time.Duration
	TransferAttempts int
	ExecTimeout      time.Duration
}

// RemoteClient opens exclusive sessions to the execution host.
type RemoteClient struct {
	transport ports.Transport
	opts      RemoteOptions
	logger    *slog.Logger
	sleep     func(ctx context.Context, d time.Duration) error
}

func NewRemoteClient(transport ports.Transport, opts RemoteOptions, logger *slog.Logger) *RemoteClient {
	if opts.ConnectAttempts <= 0 {
		opts.ConnectAttempts = 1
	}
	if opts.TransferAttempts <= 0 {
		opts.TransferAttempts = 1
	}
	if opts.MaxBackoff < opts.ConnectBackoff {
		opts.MaxBackoff = opts.ConnectBackoff
	}

	return &RemoteClient{
		transport: transport,
		opts:      opts,
		logger:    logging.OrDiscard(logger),
		sleep:     sleepContext,
	}
}

// Open connects with bounded exponential backoff and prepares the remote
// working directory. The caller owns the returned session and must Close it.
func (c *RemoteClient) Open(ctx context.Context) (*RemoteSession, error) {
	const op = "open remote session"

	backoff := c.opts.ConnectBackoff
	var lastErr error
	for attempt := 1; attempt <= c.opts.ConnectAttempts; attempt++ {
		session, err := c.transport.Connect(ctx, c.opts.Endpoint)
		if err == nil {
			if err := session.MkdirAll(ctx, c.opts.WorkDir); err != nil {
				_ = session.Close()
				if errors.Is(err, domain.ErrConnection) {
					return nil, err
				}
				return nil, domain.NewError(domain.KindConnection, op, domain.ReasonUnreachable, fmt.Errorf("prepare work dir %s: %w", c.opts.WorkDir, err))
			}
			c.logger.Info("remote session opened", "host", c.opts.Endpoint.Host, "attempt", attempt, "work_dir", c.opts.WorkDir)
			return newRemoteSession(session, c.opts, c.logger), nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("%s: %w", op, ctxErr)
		}

		lastErr = err
		if attempt == c.opts.ConnectAttempts {
			break
		}
		c.logger.Warn("connect failed, retrying", "host", c.opts.Endpoint.Host, "attempt", attempt, "backoff", backoff, "error", err)
		if err := c.sleep(ctx, backoff); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		backoff *= 2
		if backoff > c.opts.MaxBackoff {
			backoff = c.opts.MaxBackoff
		}
	}

	return nil, domain.NewError(domain.KindConnection, op, domain.ReasonUnreachable,
		fmt.Errorf("%d attempts: %w", c.opts.ConnectAttempts, lastErr))
}

type RemoteCommand struct {
	Command string
	Dir     string
	Env     map[string]string
	// Timeout overrides the session default when positive.
	Timeout time.Duration
}

// RemoteSession is the scoped handle to one open connection. At most one
// Execute runs at a time; transfers may overlap with it.
type RemoteSession struct {
	session          ports.Session
	workDir          string
	env              map[string]string
	transferAttempts int
	execTimeout      time.Duration
	logger           *slog.Logger

	execMu    sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

func newRemoteSession(session ports.Session, opts RemoteOptions, logger *slog.Logger) *RemoteSession {
	return &RemoteSession{
		session:          session,
		workDir:          opts.WorkDir,
		env:              maps.Clone(opts.Env),
		transferAttempts: opts.TransferAttempts,
		execTimeout:      opts.ExecTimeout,
		logger:           logger,
	}
}

func (s *RemoteSession) WorkDir() string {
	return s.workDir
}

func (s *RemoteSession) MkdirAll(ctx context.Context, dir string) error {
	if err := s.session.MkdirAll(ctx, dir); err != nil {
		return transferError("create remote directory", err)
	}
	return nil
}

// Upload copies localPath to remotePath and checks size and sha256 on the
// far side. Integrity and transfer failures are retried; connection loss is
// returned at once.
func (s *RemoteSession) Upload(ctx context.Context, localPath, remotePath string) error {
	const op = "upload"

	wantSum, wantSize, err := fsutil.SHA256File(localPath)
	if err != nil {
		return domain.NewError(domain.KindTransfer, op, domain.ReasonTransferFailed, err)
	}

	return s.retryTransfer(ctx, op, remotePath, func() error {
		if err := s.session.Upload(ctx, localPath, remotePath); err != nil {
			return transferError(op, err)
		}
		return s.verifyRemote(ctx, op, remotePath, wantSize, wantSum)
	})
}

// Download copies remotePath to localPath and checks the local copy against
// the size and sha256 reported by the host.
func (s *RemoteSession) Download(ctx context.Context, remotePath, localPath string) error {
	const op = "download"

	return s.retryTransfer(ctx, op, remotePath, func() error {
		wantSize, err := s.session.Stat(ctx, remotePath)
		if err != nil {
			return transferError(op, err)
		}
		wantSum, err := s.session.Checksum(ctx, remotePath)
		if err != nil {
			return transferError(op, err)
		}
		if err := s.session.Download(ctx, remotePath, localPath); err != nil {
			return transferError(op, err)
		}

		gotSum, gotSize, err := fsutil.SHA256File(localPath)
		if err != nil {
			return domain.NewError(domain.KindTransfer, op, domain.ReasonTransferFailed, err)
		}
		return compareIntegrity(op, remotePath, wantSize, gotSize, wantSum, gotSum)
	})
}

func (s *RemoteSession) verifyRemote(ctx context.Context, op, remotePath string, wantSize int64, wantSum string) error {
	gotSize, err := s.session.Stat(ctx, remotePath)
	if err != nil {
		return transferError(op, err)
	}
	if gotSize != wantSize {
		return compareIntegrity(op, remotePath, wantSize, gotSize, wantSum, "")
	}
	gotSum, err := s.session.Checksum(ctx, remotePath)
	if err != nil {
		return transferError(op, err)
	}
	return compareIntegrity(op, remotePath, wantSize, gotSize, wantSum, gotSum)
}

func (s *RemoteSession) retryTransfer(ctx context.Context, op, remotePath string, attempt func() error) error {
	var err error
	for i := 1; i <= s.transferAttempts; i++ {
		err = attempt()
		if err == nil {
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("%s %s: %w", op, remotePath, ctxErr)
		}
		if !errors.Is(err, domain.ErrTransfer) {
			return err
		}
		if i < s.transferAttempts {
			s.logger.Warn("transfer failed, retrying", "op", op, "path", remotePath, "attempt", i, "error", err)
		}
	}
	return err
}

// Execute runs one command on the host. A non-zero exit, the per-call
// timeout and cancellation of ctx all surface as remote execution errors
// carrying the captured output. Connection loss is passed through.
func (s *RemoteSession) Execute(ctx context.Context, cmd RemoteCommand) (domain.CommandOutput, error) {
	const op = "execute"

	s.execMu.Lock()
	defer s.execMu.Unlock()

	timeout := cmd.Timeout
	if timeout <= 0 {
		timeout = s.execTimeout
	}
	execCtx := ctx
	cancel := func() {}
	if timeout > 0 {
		execCtx, cancel = context.WithTimeout(ctx, timeout)
	}
	defer cancel()

	env := maps.Clone(s.env)
	if env == nil {
		env = make(map[string]string, len(cmd.Env))
	}
	maps.Copy(env, cmd.Env)

	started := time.Now()
	out, err := s.session.Execute(execCtx, ports.ExecRequest{Command: cmd.Command, Dir: cmd.Dir, Env: env})
	elapsed := time.Since(started).Round(time.Millisecond)
	if err != nil {
		if errors.Is(err, domain.ErrConnection) {
			return out, err
		}

		var execErr *domain.Error
		switch {
		case ctx.Err() != nil:
			execErr = domain.NewError(domain.KindRemoteExecution, op, domain.ReasonCancelled, fmt.Errorf("terminated after %s: %w", elapsed, ctx.Err()))
		case errors.Is(execCtx.Err(), context.DeadlineExceeded):
			execErr = domain.NewError(domain.KindRemoteExecution, op, domain.ReasonTimeout, fmt.Errorf("exceeded %s", timeout))
		default:
			execErr = domain.NewError(domain.KindRemoteExecution, op, "", err)
		}
		execErr.Output = &out
		return out, execErr
	}

	if out.ExitCode != 0 {
		execErr := domain.NewError(domain.KindRemoteExecution, op, domain.ReasonNonZeroExit, fmt.Errorf("command exited with status %d", out.ExitCode))
		execErr.Output = &out
		return out, execErr
	}

	s.logger.Debug("remote command finished", "elapsed", elapsed)
	return out, nil
}

// Close releases the connection. It is safe to call more than once.
func (s *RemoteSession) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.session.Close()
		s.logger.Info("remote session closed")
	})
	return s.closeErr
}

func transferError(op string, err error) error {
	if errors.Is(err, domain.ErrConnection) || errors.Is(err, domain.ErrTransfer) {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return domain.NewError(domain.KindTransfer, op, domain.ReasonTransferFailed, err)
}

func compareIntegrity(op, path string, wantSize, gotSize int64, wantSum, gotSum string) error {
	if wantSize != gotSize {
		return domain.NewError(domain.KindTransfer, op, domain.ReasonIntegrity,
			fmt.Errorf("%s: size %d, want %d", path, gotSize, wantSize))
	}
	if wantSum != gotSum {
		return domain.NewError(domain.KindTransfer, op, domain.ReasonIntegrity,
			fmt.Errorf("%s: sha256 %s, want %s", path, gotSum, wantSum))
	}
	return nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
