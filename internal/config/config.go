package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/bnema/upsample-dispatch/internal/domain"
	"github.com/bnema/upsample-dispatch/internal/logging"
	"github.com/spf13/viper"
)

// remote.env keys are exported verbatim by the remote shell.
var envKeyPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

const (
	configName = "upd"
	configType = "toml"
	envPrefix  = "UPD"

	TransportSSH   = "ssh"
	TransportLocal = "local"

	CancelTerminate = "terminate"
	CancelDrain     = "drain"

	DefaultCommand = "python -m upsampler --prompt-file {prompt} --video {video} --output-dir {output_dir}"
)

type Config struct {
	Budget  BudgetConfig   `mapstructure:"budget"`
	Remote  RemoteConfig   `mapstructure:"remote"`
	Run     RunConfig      `mapstructure:"run"`
	Log     logging.Config `mapstructure:"log"`
	Secrets SecretsConfig  `mapstructure:"secrets"`

	// File is the config file that was read, empty when defaults were used.
	File string `mapstructure:"-"`
}

type BudgetConfig struct {
	MaxTokens   int64    `mapstructure:"max_tokens"`
	TokenFactor float64  `mapstructure:"token_factor"`
	Policy      string   `mapstructure:"policy"`
	Presets     []string `mapstructure:"presets"`
	SafeDefault string   `mapstructure:"safe_default"`
	Alignment   int      `mapstructure:"alignment"`
}

type RemoteConfig struct {
	Transport             string            `mapstructure:"transport"`
	Host                  string            `mapstructure:"host"`
	Port                  int               `mapstructure:"port"`
	User                  string            `mapstructure:"user"`
	KeyPath               string            `mapstructure:"key_path"`
	KeyPassphraseRef      string            `mapstructure:"key_passphrase_ref"`
	PasswordRef           string            `mapstructure:"password_ref"`
	KnownHosts            string            `mapstructure:"known_hosts"`
	InsecureIgnoreHostKey bool              `mapstructure:"insecure_ignore_host_key"`
	DialTimeout           time.Duration     `mapstructure:"dial_timeout"`
	WorkDir               string            `mapstructure:"work_dir"`
	Env                   map[string]string `mapstructure:"env"`
	Command               string            `mapstructure:"command"`
	ResultFiles           []string          `mapstructure:"result_files"`
	ConnectAttempts       int               `mapstructure:"connect_attempts"`
	ConnectBackoff        time.Duration     `mapstructure:"connect_backoff"`
	MaxBackoff            time.Duration     `mapstructure:"max_backoff"`
	TransferAttempts      int               `mapstructure:"transfer_attempts"`
	ExecTimeout           time.Duration     `mapstructure:"exec_timeout"`
	CancelPolicy          string            `mapstructure:"cancel_policy"`
}

type RunConfig struct {
	Workers    int    `mapstructure:"workers"`
	StagingDir string `mapstructure:"staging_dir"`
	HintDir    string `mapstructure:"hint_dir"`
	ResultsDir string `mapstructure:"results_dir"`
	Checkpoint string `mapstructure:"checkpoint"`
}

type SecretsConfig struct {
	FileRoot string `mapstructure:"file_root"`
}

// Load reads upd.toml from explicitPath, or from ./ and $HOME/.config/upd
// when explicitPath is empty. A missing search-path file is not an error.
// UPD_* environment variables override file values (UPD_REMOTE_HOST).
func Load(v *viper.Viper, explicitPath string) (Config, error) {
	if v == nil {
		v = viper.New()
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return Config{}, fmt.Errorf("resolve home directory: %w", err)
	}

	setDefaults(v, homeDir)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if explicitPath != "" {
		v.SetConfigFile(explicitPath)
	} else {
		v.SetConfigName(configName)
		v.SetConfigType(configType)
		v.AddConfigPath(".")
		v.AddConfigPath(filepath.Join(homeDir, ".config", "upd"))
	}

	if err := v.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if explicitPath != "" || !errors.As(err, &configNotFound) {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	cfg.File = v.ConfigFileUsed()
	cfg.Remote.Env = upperKeys(cfg.Remote.Env)

	cfg.Run.StagingDir = expandHome(cfg.Run.StagingDir, homeDir)
	cfg.Run.HintDir = expandHome(cfg.Run.HintDir, homeDir)
	cfg.Run.ResultsDir = expandHome(cfg.Run.ResultsDir, homeDir)
	cfg.Run.Checkpoint = expandHome(cfg.Run.Checkpoint, homeDir)
	cfg.Remote.KeyPath = expandHome(cfg.Remote.KeyPath, homeDir)
	cfg.Remote.KnownHosts = expandHome(cfg.Remote.KnownHosts, homeDir)
	cfg.Secrets.FileRoot = expandHome(cfg.Secrets.FileRoot, homeDir)
	cfg.Log.File = expandHome(cfg.Log.File, homeDir)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper, homeDir string) {
	stateDir := filepath.Join(homeDir, ".local", "state", "upd")

	v.SetDefault("budget.max_tokens", 4096)
	v.SetDefault("budget.token_factor", 0.0173)
	v.SetDefault("budget.policy", string(domain.PolicyPreset))
	v.SetDefault("budget.presets", []string{"960x540", "640x360", "480x270", "320x180", "256x144"})
	v.SetDefault("budget.safe_default", "320x180")
	v.SetDefault("budget.alignment", 2)

	v.SetDefault("remote.transport", TransportSSH)
	v.SetDefault("remote.host", "")
	v.SetDefault("remote.port", 22)
	v.SetDefault("remote.user", "")
	v.SetDefault("remote.key_path", filepath.Join(homeDir, ".ssh", "id_ed25519"))
	v.SetDefault("remote.key_passphrase_ref", "")
	v.SetDefault("remote.password_ref", "")
	v.SetDefault("remote.known_hosts", filepath.Join(homeDir, ".ssh", "known_hosts"))
	v.SetDefault("remote.insecure_ignore_host_key", false)
	v.SetDefault("remote.dial_timeout", "15s")
	v.SetDefault("remote.work_dir", "/tmp/upd")
	v.SetDefault("remote.env", map[string]string{"WORKER_START_METHOD": "spawn"})
	v.SetDefault("remote.command", DefaultCommand)
	v.SetDefault("remote.result_files", []string{"upsampled_prompt.json"})
	v.SetDefault("remote.connect_attempts", 5)
	v.SetDefault("remote.connect_backoff", "1s")
	v.SetDefault("remote.max_backoff", "30s")
	v.SetDefault("remote.transfer_attempts", 3)
	v.SetDefault("remote.exec_timeout", "300s")
	v.SetDefault("remote.cancel_policy", CancelTerminate)

	v.SetDefault("run.workers", 2)
	v.SetDefault("run.staging_dir", filepath.Join(stateDir, "staging"))
	v.SetDefault("run.hint_dir", filepath.Join(stateDir, "hints"))
	v.SetDefault("run.results_dir", filepath.Join(stateDir, "results"))
	v.SetDefault("run.checkpoint", filepath.Join(stateDir, "checkpoint.toml"))

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", logging.FormatText)
	v.SetDefault("log.file", "")

	v.SetDefault("secrets.file_root", filepath.Join(homeDir, ".config", "upd", "secrets"))
}

func (c Config) Validate() error {
	if _, err := c.TokenBudget(); err != nil {
		return err
	}

	r := c.Remote
	switch r.Transport {
	case TransportSSH:
		if r.Port <= 0 || r.Port > 65535 {
			return fmt.Errorf("remote.port out of range: %d", r.Port)
		}
		if r.DialTimeout <= 0 {
			return errors.New("remote.dial_timeout must be positive")
		}
	case TransportLocal:
	default:
		return fmt.Errorf("unsupported remote.transport %q", r.Transport)
	}
	if strings.TrimSpace(r.WorkDir) == "" {
		return errors.New("remote.work_dir is required")
	}
	if err := domain.CommandTemplate(r.Command).Validate(); err != nil {
		return fmt.Errorf("remote.command: %w", err)
	}
	if len(r.ResultFiles) == 0 {
		return errors.New("remote.result_files must list at least one file")
	}
	for _, name := range r.ResultFiles {
		if name == "" || filepath.IsAbs(name) || strings.Contains(name, "..") {
			return fmt.Errorf("invalid remote.result_files entry %q", name)
		}
	}
	for key := range r.Env {
		if !envKeyPattern.MatchString(key) {
			return fmt.Errorf("invalid remote.env key %q: use letters, digits and '_'", key)
		}
	}
	if r.ConnectAttempts <= 0 {
		return errors.New("remote.connect_attempts must be positive")
	}
	if r.TransferAttempts <= 0 {
		return errors.New("remote.transfer_attempts must be positive")
	}
	if r.ConnectBackoff < 0 || r.MaxBackoff < r.ConnectBackoff {
		return errors.New("remote.max_backoff must be at least remote.connect_backoff")
	}
	if r.ExecTimeout <= 0 {
		return errors.New("remote.exec_timeout must be positive")
	}
	switch r.CancelPolicy {
	case CancelTerminate, CancelDrain:
	default:
		return fmt.Errorf("unsupported remote.cancel_policy %q", r.CancelPolicy)
	}

	if c.Run.Workers <= 0 {
		return errors.New("run.workers must be positive")
	}
	for key, dir := range map[string]string{
		"run.staging_dir": c.Run.StagingDir,
		"run.hint_dir":    c.Run.HintDir,
		"run.results_dir": c.Run.ResultsDir,
		"run.checkpoint":  c.Run.Checkpoint,
	} {
		if strings.TrimSpace(dir) == "" {
			return fmt.Errorf("%s is required", key)
		}
	}

	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		return err
	}
	switch strings.ToLower(c.Log.Format) {
	case "", logging.FormatText, logging.FormatJSON:
	default:
		return fmt.Errorf("unsupported log.format %q", c.Log.Format)
	}

	return nil
}

// RequireRemote checks the settings only needed to reach the execution host.
// Offline commands such as estimate skip it.
func (c Config) RequireRemote() error {
	if c.Remote.Transport != TransportSSH {
		return nil
	}
	if strings.TrimSpace(c.Remote.Host) == "" {
		return errors.New("remote.host is required for ssh transport")
	}
	if strings.TrimSpace(c.Remote.User) == "" {
		return errors.New("remote.user is required for ssh transport")
	}
	return nil
}

func (c Config) TokenBudget() (domain.TokenBudget, error) {
	b := c.Budget
	if math.IsNaN(b.TokenFactor) {
		return domain.TokenBudget{}, errors.New("budget.token_factor must be a number")
	}

	presets := make([]domain.Resolution, 0, len(b.Presets))
	for _, raw := range b.Presets {
		res, err := domain.ParseResolution(raw)
		if err != nil {
			return domain.TokenBudget{}, fmt.Errorf("budget.presets: %w", err)
		}
		presets = append(presets, res)
	}

	safe, err := domain.ParseResolution(b.SafeDefault)
	if err != nil {
		return domain.TokenBudget{}, fmt.Errorf("budget.safe_default: %w", err)
	}

	budget := domain.TokenBudget{
		MaxTokens:   b.MaxTokens,
		TokenFactor: b.TokenFactor,
		Policy:      domain.DownsamplePolicy(b.Policy),
		Presets:     presets,
		SafeDefault: safe,
		Alignment:   b.Alignment,
	}
	if err := budget.CheckConfig(); err != nil {
		return domain.TokenBudget{}, fmt.Errorf("budget: %w", err)
	}

	return budget, nil
}

func expandHome(path, homeDir string) string {
	if path == "~" {
		return homeDir
	}
	if strings.HasPrefix(path, "~/") {
		return filepath.Join(homeDir, path[2:])
	}
	return path
}

// viper folds map keys to lower case; remote environment names are
// conventionally upper case.
func upperKeys(env map[string]string) map[string]string {
	out := make(map[string]string, len(env))
	for k, v := range env {
		out[strings.ToUpper(k)] = v
	}
	return out
}
