package ports

import (
	"context"
	"time"

	"github.com/bnema/upsample-dispatch/internal/domain"
)

type Endpoint struct {
	Host                  string
	Port                  int
	User                  string
	KeyPath               string
	KeyPassphrase         string
	Password              string
	KnownHostsPath        string
	InsecureIgnoreHostKey bool
	DialTimeout           time.Duration
}

type ExecRequest struct {
	Command string
	Dir     string
	Env     map[string]string
}

type Transport interface {
	Connect(ctx context.Context, endpoint Endpoint) (Session, error)
}

// Session is one authenticated connection to the execution host.
//
// Execute returns the captured output and a nil error whenever the command
// ran to completion, whatever its exit code. A non-nil error means the
// transport failed or ctx ended first; in the latter case the remote process
// has already been signalled. Errors caused by a dropped connection are
// domain connection errors.
type Session interface {
	Upload(ctx context.Context, localPath, remotePath string) error
	Download(ctx context.Context, remotePath, localPath string) error
	Stat(ctx context.Context, remotePath string) (int64, error)
	Checksum(ctx context.Context, remotePath string) (string, error)
	MkdirAll(ctx context.Context, remoteDir string) error
	Execute(ctx context.Context, req ExecRequest) (domain.CommandOutput, error)
	Close() error
}
