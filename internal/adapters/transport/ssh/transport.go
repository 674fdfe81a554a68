package ssh

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bnema/upsample-dispatch/internal/adapters/transport"
	"github.com/bnema/upsample-dispatch/internal/domain"
	"github.com/bnema/upsample-dispatch/internal/fsutil"
	"github.com/bnema/upsample-dispatch/internal/logging"
	"github.com/bnema/upsample-dispatch/internal/ports"
	"github.com/pkg/sftp"
	gossh "golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

const (
	defaultDialTimeout = 15 * time.Second
	defaultGrace       = 10 * time.Second
	pidFileName        = ".upd.pid"
)

type Transport struct {
	// Grace is how long a signalled remote command may take to exit before
	// it is killed.
	Grace  time.Duration
	Logger *slog.Logger
}

var _ ports.Transport = (*Transport)(nil)

func New(logger *slog.Logger) *Transport {
	return &Transport{Grace: defaultGrace, Logger: logging.OrDiscard(logger)}
}

func (t *Transport) Connect(ctx context.Context, endpoint ports.Endpoint) (ports.Session, error) {
	cfg, err := clientConfig(endpoint)
	if err != nil {
		return nil, err
	}

	timeout := endpoint.DialTimeout
	if timeout <= 0 {
		timeout = defaultDialTimeout
	}
	port := endpoint.Port
	if port == 0 {
		port = 22
	}
	addr := net.JoinHostPort(endpoint.Host, strconv.Itoa(port))

	dialer := net.Dialer{Timeout: timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}

	_ = conn.SetDeadline(time.Now().Add(timeout))
	sshConn, chans, reqs, err := gossh.NewClientConn(conn, addr, cfg)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("ssh handshake with %s: %w", addr, err)
	}
	_ = conn.SetDeadline(time.Time{})
	client := gossh.NewClient(sshConn, chans, reqs)

	sftpClient, err := sftp.NewClient(client)
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("start sftp on %s: %w", addr, err)
	}

	grace := t.Grace
	if grace <= 0 {
		grace = defaultGrace
	}
	s := &session{
		addr:   addr,
		client: client,
		sftp:   sftpClient,
		grace:  grace,
		logger: logging.OrDiscard(t.Logger),
	}
	go s.watch()

	return s, nil
}

func clientConfig(endpoint ports.Endpoint) (*gossh.ClientConfig, error) {
	if strings.TrimSpace(endpoint.Host) == "" {
		return nil, errors.New("ssh host is required")
	}
	if strings.TrimSpace(endpoint.User) == "" {
		return nil, errors.New("ssh user is required")
	}

	auth, err := authMethods(endpoint)
	if err != nil {
		return nil, err
	}

	hostKeyCallback := gossh.InsecureIgnoreHostKey()
	if !endpoint.InsecureIgnoreHostKey {
		if endpoint.KnownHostsPath == "" {
			return nil, errors.New("known_hosts path is required unless host key checking is disabled")
		}
		hostKeyCallback, err = knownhosts.New(endpoint.KnownHostsPath)
		if err != nil {
			return nil, fmt.Errorf("load known_hosts %s: %w", endpoint.KnownHostsPath, err)
		}
	}

	return &gossh.ClientConfig{
		User:            endpoint.User,
		Auth:            auth,
		HostKeyCallback: hostKeyCallback,
		Timeout:         endpoint.DialTimeout,
	}, nil
}

func authMethods(endpoint ports.Endpoint) ([]gossh.AuthMethod, error) {
	var methods []gossh.AuthMethod

	if endpoint.KeyPath != "" {
		data, err := os.ReadFile(endpoint.KeyPath)
		switch {
		case err == nil:
			signer, err := parseKey(data, endpoint.KeyPassphrase)
			if err != nil {
				return nil, fmt.Errorf("parse private key %s: %w", endpoint.KeyPath, err)
			}
			methods = append(methods, gossh.PublicKeys(signer))
		case errors.Is(err, os.ErrNotExist) && endpoint.Password != "":
		default:
			return nil, fmt.Errorf("read private key: %w", err)
		}
	}
	if endpoint.Password != "" {
		methods = append(methods, gossh.Password(endpoint.Password))
	}
	if len(methods) == 0 {
		return nil, errors.New("no ssh auth method configured (set remote.key_path or remote.password_ref)")
	}

	return methods, nil
}

func parseKey(data []byte, passphrase string) (gossh.Signer, error) {
	if passphrase != "" {
		return gossh.ParsePrivateKeyWithPassphrase(data, []byte(passphrase))
	}
	return gossh.ParsePrivateKey(data)
}

type session struct {
	addr   string
	client *gossh.Client
	sftp   *sftp.Client
	grace  time.Duration
	logger *slog.Logger

	lost      atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

// watch flags the session as lost once the underlying connection ends.
func (s *session) watch() {
	err := s.client.Wait()
	s.lost.Store(true)
	s.logger.Debug("ssh connection ended", "addr", s.addr, "error", err)
}

func (s *session) fail(op string, err error) error {
	if err == nil {
		return nil
	}
	if s.lost.Load() || isConnectionLoss(err) {
		return domain.NewError(domain.KindConnection, op, domain.ReasonConnectionLost, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func isConnectionLoss(err error) bool {
	var missing *gossh.ExitMissingError
	return errors.Is(err, io.EOF) ||
		errors.Is(err, net.ErrClosed) ||
		errors.Is(err, sftp.ErrSSHFxConnectionLost) ||
		errors.As(err, &missing)
}

func (s *session) Upload(ctx context.Context, localPath, remotePath string) error {
	src, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("open %s: %w", localPath, err)
	}
	defer src.Close()

	partial := remotePath + ".part"
	dst, err := s.sftp.Create(partial)
	if err != nil {
		return s.fail("create "+partial, err)
	}
	if _, err := io.Copy(dst, ctxReader{ctx: ctx, r: src}); err != nil {
		_ = dst.Close()
		_ = s.sftp.Remove(partial)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return s.fail("upload "+remotePath, err)
	}
	if err := dst.Close(); err != nil {
		return s.fail("close "+partial, err)
	}
	if err := s.sftp.PosixRename(partial, remotePath); err != nil {
		return s.fail("rename "+partial, err)
	}

	return nil
}

func (s *session) Download(ctx context.Context, remotePath, localPath string) error {
	src, err := s.sftp.Open(remotePath)
	if err != nil {
		return s.fail("open "+remotePath, err)
	}
	defer src.Close()

	dir := filepath.Dir(localPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create parent for %s: %w", localPath, err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(localPath)+".*.part")
	if err != nil {
		return fmt.Errorf("create temp file for %s: %w", localPath, err)
	}
	tmpPath := tmp.Name()
	defer func() { _ = os.Remove(tmpPath) }()

	if _, err := io.Copy(tmp, ctxReader{ctx: ctx, r: src}); err != nil {
		_ = tmp.Close()
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return s.fail("download "+remotePath, err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync %s: %w", localPath, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", localPath, err)
	}
	if err := os.Rename(tmpPath, localPath); err != nil {
		return fmt.Errorf("atomic rename for %s: %w", localPath, err)
	}

	return fsutil.SyncDir(dir)
}

func (s *session) Stat(ctx context.Context, remotePath string) (int64, error) {
	info, err := s.sftp.Stat(remotePath)
	if err != nil {
		return 0, s.fail("stat "+remotePath, err)
	}
	return info.Size(), nil
}

func (s *session) Checksum(ctx context.Context, remotePath string) (string, error) {
	out, err := s.Execute(ctx, ports.ExecRequest{Command: "sha256sum -- " + domain.ShellQuote(remotePath)})
	if err != nil {
		return "", err
	}
	if out.ExitCode != 0 {
		return "", fmt.Errorf("sha256sum %s: exit %d: %s", remotePath, out.ExitCode, strings.TrimSpace(out.Stderr))
	}
	return parseChecksum(out.Stdout)
}

func (s *session) MkdirAll(ctx context.Context, remoteDir string) error {
	if err := s.sftp.MkdirAll(remoteDir); err != nil {
		return s.fail("mkdir "+remoteDir, err)
	}
	return nil
}

func (s *session) Execute(ctx context.Context, req ports.ExecRequest) (domain.CommandOutput, error) {
	if s.lost.Load() {
		return domain.CommandOutput{}, s.fail("execute", errors.New("connection lost"))
	}

	sess, err := s.client.NewSession()
	if err != nil {
		return domain.CommandOutput{}, s.fail("open exec channel", err)
	}
	defer sess.Close()

	var stdout, stderr transport.CappedBuffer
	sess.Stdout = &stdout
	sess.Stderr = &stderr

	if err := sess.Start(buildCommand(req)); err != nil {
		return domain.CommandOutput{}, s.fail("start remote command", err)
	}

	done := make(chan error, 1)
	go func() { done <- sess.Wait() }()

	select {
	case err := <-done:
		out := domain.CommandOutput{Stdout: stdout.String(), Stderr: stderr.String()}
		var exitErr *gossh.ExitError
		switch {
		case err == nil:
			return out, nil
		case errors.As(err, &exitErr):
			out.ExitCode = exitErr.ExitStatus()
			if out.ExitCode == 0 {
				// killed by a signal
				out.ExitCode = 255
			}
			return out, nil
		default:
			out.ExitCode = -1
			return out, s.fail("remote command", err)
		}
	case <-ctx.Done():
		s.terminate(sess, req, done)
		out := domain.CommandOutput{Stdout: stdout.String(), Stderr: stderr.String(), ExitCode: -1}
		return out, ctx.Err()
	}
}

// terminate sends SIGTERM to the remote command, then SIGKILL after the
// grace period. The pid file covers servers that ignore signal requests;
// sshd starts each command as a session leader, so the recorded pid is also
// the process group of everything the job spawned.
func (s *session) terminate(sess *gossh.Session, req ports.ExecRequest, done <-chan error) {
	s.logger.Warn("terminating remote command", "addr", s.addr, "dir", req.Dir)

	_ = sess.Signal(gossh.SIGTERM)
	s.killByPidFile(req.Dir, "TERM")

	select {
	case <-done:
		return
	case <-time.After(s.grace):
	}

	_ = sess.Signal(gossh.SIGKILL)
	s.killByPidFile(req.Dir, "KILL")
	_ = sess.Close()
}

func (s *session) killByPidFile(dir, signal string) {
	if dir == "" || s.lost.Load() {
		return
	}
	kill, err := s.client.NewSession()
	if err != nil {
		return
	}
	defer kill.Close()

	pidFile := domain.ShellQuote(path.Join(dir, pidFileName))
	_ = kill.Run(fmt.Sprintf("test -f %s && kill -%s -- -$(cat %s) 2>/dev/null; true", pidFile, signal, pidFile))
}

func (s *session) Close() error {
	s.closeOnce.Do(func() {
		sftpErr := s.sftp.Close()
		clientErr := s.client.Close()
		if errors.Is(clientErr, net.ErrClosed) {
			clientErr = nil
		}
		if sftpErr != nil && (errors.Is(sftpErr, io.EOF) || errors.Is(sftpErr, net.ErrClosed)) {
			sftpErr = nil
		}
		s.closeErr = errors.Join(sftpErr, clientErr)
	})
	return s.closeErr
}

// buildCommand renders req as one POSIX shell line. With a working directory
// the shell records its pid there before exec'ing the job, so the job can be
// signalled from a second channel.
func buildCommand(req ports.ExecRequest) string {
	var b strings.Builder
	if req.Dir != "" {
		dir := domain.ShellQuote(req.Dir)
		fmt.Fprintf(&b, "cd %s && echo $$ > %s && ", dir, pidFileName)
	}
	if len(req.Env) > 0 {
		keys := make([]string, 0, len(req.Env))
		for k := range req.Env {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteString("export")
		for _, k := range keys {
			fmt.Fprintf(&b, " %s=%s", k, domain.ShellQuote(req.Env[k]))
		}
		b.WriteString(" && ")
	}
	if req.Dir != "" {
		b.WriteString("exec sh -c ")
		b.WriteString(domain.ShellQuote(req.Command))
		return b.String()
	}
	b.WriteString(req.Command)
	return b.String()
}

func parseChecksum(stdout string) (string, error) {
	fields := strings.Fields(stdout)
	if len(fields) == 0 {
		return "", errors.New("empty sha256sum output")
	}
	sum := strings.ToLower(fields[0])
	if len(sum) != 64 || strings.Trim(sum, "0123456789abcdef") != "" {
		return "", fmt.Errorf("unexpected sha256sum output %q", strings.TrimSpace(stdout))
	}
	return sum, nil
}

type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
