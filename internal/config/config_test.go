package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/bnema/upsample-dispatch/internal/domain"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaultsWithoutConfigFile(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Chdir(t.TempDir())

	cfg, err := Load(viper.New(), "")
	require.NoError(t, err)

	assert.Empty(t, cfg.File)
	assert.Equal(t, int64(4096), cfg.Budget.MaxTokens)
	assert.InDelta(t, 0.0173, cfg.Budget.TokenFactor, 1e-9)
	assert.Equal(t, TransportSSH, cfg.Remote.Transport)
	assert.Equal(t, 300*time.Second, cfg.Remote.ExecTimeout)
	assert.Equal(t, map[string]string{"WORKER_START_METHOD": "spawn"}, cfg.Remote.Env)
	assert.Equal(t, filepath.Join(home, ".local", "state", "upd", "checkpoint.toml"), cfg.Run.Checkpoint)

	budget, err := cfg.TokenBudget()
	require.NoError(t, err)
	assert.Equal(t, domain.Resolution{Width: 320, Height: 180}, budget.SafeDefault)
	assert.Len(t, budget.Presets, 5)

	assert.ErrorContains(t, cfg.RequireRemote(), "remote.host is required")
}

func TestLoadReadsExplicitFileAndEnvOverrides(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("UPD_REMOTE_USER", "gpu")

	path := filepath.Join(t.TempDir(), "custom.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[budget]
max_tokens = 8192
policy = "preserve-aspect"

[remote]
host = "gpu-box"
user = "ignored"
exec_timeout = "45s"
cancel_policy = "drain"
work_dir = "/scratch/upd"

[remote.env]
WORKER_START_METHOD = "spawn"
CUDA_VISIBLE_DEVICES = "0"

[run]
workers = 4
checkpoint = "~/ckpt.toml"
`), 0o600))

	cfg, err := Load(viper.New(), path)
	require.NoError(t, err)

	assert.Equal(t, path, cfg.File)
	assert.Equal(t, int64(8192), cfg.Budget.MaxTokens)
	assert.Equal(t, "preserve-aspect", cfg.Budget.Policy)
	assert.Equal(t, "gpu-box", cfg.Remote.Host)
	assert.Equal(t, "gpu", cfg.Remote.User)
	assert.Equal(t, 45*time.Second, cfg.Remote.ExecTimeout)
	assert.Equal(t, CancelDrain, cfg.Remote.CancelPolicy)
	assert.Equal(t, "0", cfg.Remote.Env["CUDA_VISIBLE_DEVICES"])
	assert.Equal(t, 4, cfg.Run.Workers)
	assert.Equal(t, filepath.Join(home, "ckpt.toml"), cfg.Run.Checkpoint)
	assert.NoError(t, cfg.RequireRemote())
}

func TestLoadRejectsUnsafeEnvKey(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	path := filepath.Join(t.TempDir(), "custom.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[remote.env]
"A=1; touch /tmp/pwned; B" = "x"
`), 0o600))

	_, err := Load(viper.New(), path)
	assert.ErrorContains(t, err, "invalid remote.env key")
}

func TestLoadFailsOnMissingExplicitFile(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	_, err := Load(viper.New(), filepath.Join(t.TempDir(), "missing.toml"))
	assert.ErrorContains(t, err, "read config file")
}

func TestValidateRejectsInvalidSettings(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Chdir(t.TempDir())

	base, err := Load(viper.New(), "")
	require.NoError(t, err)

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "max tokens", mutate: func(c *Config) { c.Budget.MaxTokens = 0 }, wantErr: "max tokens must be positive"},
		{name: "policy", mutate: func(c *Config) { c.Budget.Policy = "stretch" }, wantErr: "unsupported downsample policy"},
		{name: "preset", mutate: func(c *Config) { c.Budget.Presets = []string{"big"} }, wantErr: "budget.presets"},
		{name: "transport", mutate: func(c *Config) { c.Remote.Transport = "telnet" }, wantErr: "unsupported remote.transport"},
		{name: "cancel policy", mutate: func(c *Config) { c.Remote.CancelPolicy = "ignore" }, wantErr: "unsupported remote.cancel_policy"},
		{name: "command", mutate: func(c *Config) { c.Remote.Command = " " }, wantErr: "command template is empty"},
		{name: "command placeholder", mutate: func(c *Config) { c.Remote.Command = "run {clip}" }, wantErr: "unknown placeholder {clip}"},
		{name: "result file escape", mutate: func(c *Config) { c.Remote.ResultFiles = []string{"../x"} }, wantErr: "invalid remote.result_files"},
		{name: "env key injection", mutate: func(c *Config) { c.Remote.Env = map[string]string{"X;rm -rf ~;Y": "1"} }, wantErr: "invalid remote.env key"},
		{name: "env key digit", mutate: func(c *Config) { c.Remote.Env = map[string]string{"1CUDA": "0"} }, wantErr: "invalid remote.env key"},
		{name: "attempts", mutate: func(c *Config) { c.Remote.ConnectAttempts = 0 }, wantErr: "remote.connect_attempts"},
		{name: "timeout", mutate: func(c *Config) { c.Remote.ExecTimeout = 0 }, wantErr: "remote.exec_timeout"},
		{name: "workers", mutate: func(c *Config) { c.Run.Workers = 0 }, wantErr: "run.workers"},
		{name: "log format", mutate: func(c *Config) { c.Log.Format = "xml" }, wantErr: "unsupported log.format"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := base
			cfg.Remote.ResultFiles = append([]string(nil), base.Remote.ResultFiles...)
			tc.mutate(&cfg)
			assert.ErrorContains(t, cfg.Validate(), tc.wantErr)
		})
	}
}
