package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	sqlitestore "github.com/bnema/upsample-dispatch/internal/adapters/checkpoint/sqlite"
	checkpointtoml "github.com/bnema/upsample-dispatch/internal/adapters/checkpoint/toml"
	"github.com/bnema/upsample-dispatch/internal/adapters/media/ffmpeg"
	chainstore "github.com/bnema/upsample-dispatch/internal/adapters/secrets/chain"
	localtransport "github.com/bnema/upsample-dispatch/internal/adapters/transport/local"
	sshtransport "github.com/bnema/upsample-dispatch/internal/adapters/transport/ssh"
	"github.com/bnema/upsample-dispatch/internal/application"
	"github.com/bnema/upsample-dispatch/internal/config"
	"github.com/bnema/upsample-dispatch/internal/domain"
	"github.com/bnema/upsample-dispatch/internal/logging"
	"github.com/bnema/upsample-dispatch/internal/ports"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

type app struct {
	configPath string

	cfg         config.Config
	logger      *slog.Logger
	closeLog    func() error
	secretStore ports.SecretStore
	media       ports.MediaTool
	clock       ports.Clock
	wired       bool
}

// wire loads configuration once the persistent flags are parsed. Commands
// that never touch config (version) skip it.
func (a *app) wire(cmd *cobra.Command) error {
	if a.wired {
		return nil
	}

	cfg, err := config.Load(viper.New(), a.configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, closeLog, err := logging.New(cfg.Log, cmd.ErrOrStderr())
	if err != nil {
		return fmt.Errorf("wire logger: %w", err)
	}

	secretStore, err := chainstore.NewPassFirstWithFileFallback(cfg.Secrets.FileRoot)
	if err != nil {
		_ = closeLog()
		return fmt.Errorf("wire secret store chain: %w", err)
	}

	a.cfg = cfg
	a.logger = logger
	a.closeLog = closeLog
	a.secretStore = secretStore
	a.media = ffmpeg.New()
	a.clock = ports.SystemClock{}
	a.wired = true

	if cfg.File != "" {
		logger.Debug("config loaded", "file", cfg.File)
	}
	return nil
}

func (a *app) close() {
	if a.closeLog != nil {
		_ = a.closeLog()
	}
}

func (a *app) checkpointPath(override string) string {
	if strings.TrimSpace(override) != "" {
		return override
	}
	return a.cfg.Run.Checkpoint
}

// openCheckpoint picks the store by extension: .db, .sqlite and .sqlite3
// use SQLite, anything else the TOML file store.
func openCheckpoint(path string) (ports.CheckpointStore, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".db", ".sqlite", ".sqlite3":
		store, err := sqlitestore.Open(path)
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		store, err := checkpointtoml.Open(path)
		if err != nil {
			return nil, err
		}
		return store, nil
	}
}

func (a *app) transport() ports.Transport {
	if a.cfg.Remote.Transport == config.TransportLocal {
		return localtransport.New(a.logger)
	}
	return sshtransport.New(a.logger)
}

func (a *app) endpoint(ctx context.Context) (ports.Endpoint, error) {
	r := a.cfg.Remote
	endpoint := ports.Endpoint{
		Host:                  r.Host,
		Port:                  r.Port,
		User:                  r.User,
		KeyPath:               r.KeyPath,
		KnownHostsPath:        r.KnownHosts,
		InsecureIgnoreHostKey: r.InsecureIgnoreHostKey,
		DialTimeout:           r.DialTimeout,
	}
	if r.Transport != config.TransportSSH {
		return endpoint, nil
	}

	if r.PasswordRef != "" {
		password, err := a.secretStore.Get(ctx, r.PasswordRef)
		if err != nil {
			return ports.Endpoint{}, fmt.Errorf("resolve remote.password_ref: %w", err)
		}
		endpoint.Password = password
	}
	if r.KeyPassphraseRef != "" {
		passphrase, err := a.secretStore.Get(ctx, r.KeyPassphraseRef)
		if err != nil {
			return ports.Endpoint{}, fmt.Errorf("resolve remote.key_passphrase_ref: %w", err)
		}
		endpoint.KeyPassphrase = passphrase
	}

	return endpoint, nil
}

func (a *app) orchestrator(ctx context.Context, store ports.CheckpointStore) (*application.Orchestrator, error) {
	budget, err := a.cfg.TokenBudget()
	if err != nil {
		return nil, err
	}
	endpoint, err := a.endpoint(ctx)
	if err != nil {
		return nil, err
	}

	r := a.cfg.Remote
	remote := application.NewRemoteClient(a.transport(), application.RemoteOptions{
		Endpoint:         endpoint,
		WorkDir:          r.WorkDir,
		Env:              r.Env,
		ConnectAttempts:  r.ConnectAttempts,
		ConnectBackoff:   r.ConnectBackoff,
		MaxBackoff:       r.MaxBackoff,
		TransferAttempts: r.TransferAttempts,
		ExecTimeout:      r.ExecTimeout,
	}, a.logger)

	hints := application.NewHintGenerator(a.media, a.cfg.Run.HintDir, a.logger)

	return application.NewOrchestrator(store, remote, a.media, hints, a.clock, application.Options{
		Budget:        budget,
		Workers:       a.cfg.Run.Workers,
		StagingDir:    a.cfg.Run.StagingDir,
		ResultsDir:    a.cfg.Run.ResultsDir,
		Command:       domain.CommandTemplate(r.Command),
		ResultFiles:   r.ResultFiles,
		ExecTimeout:   r.ExecTimeout,
		DrainOnCancel: r.CancelPolicy == config.CancelDrain,
	}, a.logger), nil
}
