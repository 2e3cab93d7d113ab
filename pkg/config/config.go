package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/sigweihq/agentpay/pkg/chains"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable read by Load, e.g. AGENTPAY_BACKEND_URL
const EnvPrefix = "AGENTPAY"

const (
	StoreMemory = "memory"
	StoreFile   = "file"
	StoreRedis  = "redis"
)

// Config is the runtime configuration of the agentpay CLI and examples
type Config struct {
	DataDir    string                          `mapstructure:"data_dir"`
	ChainsFile string                          `mapstructure:"chains_file"`
	Chains     map[string]chains.ChainOverride `mapstructure:"chains"`
	Wallet     WalletConfig                    `mapstructure:"wallet"`
	Session    SessionConfig                   `mapstructure:"session"`
	Backend    BackendConfig                   `mapstructure:"backend"`
	Metrics    MetricsConfig                   `mapstructure:"metrics"`
	Log        LogConfig                       `mapstructure:"log"`
}

// WalletConfig points at the local key material standing in for browser wallets
type WalletConfig struct {
	EVMKeystore      string `mapstructure:"evm_keystore"`
	EVMPassphrase    string `mapstructure:"evm_passphrase"` // prompted for when empty
	EVMPrivateKey    string `mapstructure:"evm_private_key"`
	SolanaKeypair    string `mapstructure:"solana_keypair"` // solana-keygen JSON file
	SolanaPrivateKey string `mapstructure:"solana_private_key"`
	TronPrivateKey   string `mapstructure:"tron_private_key"`
	TronFullNode     string `mapstructure:"tron_full_node" validate:"omitempty,url"`
	AutoConfirm      bool   `mapstructure:"auto_confirm"`
}

type SessionConfig struct {
	Store string      `mapstructure:"store" validate:"oneof=memory file redis"`
	Path  string      `mapstructure:"path"`
	Redis RedisConfig `mapstructure:"redis"`
}

type RedisConfig struct {
	Address   string        `mapstructure:"address" validate:"required_if=Enabled true"`
	Password  string        `mapstructure:"password"`
	DB        int           `mapstructure:"db" validate:"min=0"`
	KeyPrefix string        `mapstructure:"key_prefix"`
	TTL       time.Duration `mapstructure:"ttl" validate:"min=0"`
	Enabled   bool          `mapstructure:"-"`
}

type BackendConfig struct {
	URL   string `mapstructure:"url" validate:"omitempty,url"`
	Token string `mapstructure:"token"`
}

// MetricsConfig enables operation metrics, written in Prometheus text format when a command exits
type MetricsConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Textfile string `mapstructure:"textfile"`
}

type LogConfig struct {
	Level  string `mapstructure:"level" validate:"oneof=debug info warn error"`
	Format string `mapstructure:"format" validate:"oneof=text json"`
}

var validate = validator.New()

// Load reads configuration from path (or config.yaml in the data directory when path is empty),
// then environment variables. A missing default config file is not an error.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.AddConfigPath(v.GetString("data_dir"))
		v.AddConfigPath(".")
		v.SetConfigType("yaml")
		v.SetConfigName("config")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	baseDir := "."
	if used := v.ConfigFileUsed(); used != "" {
		baseDir = filepath.Dir(used)
	}
	cfg.applyDefaults(baseDir)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("data_dir", defaultDataDir())
	v.SetDefault("chains_file", "")
	v.SetDefault("wallet.evm_keystore", "")
	v.SetDefault("wallet.evm_passphrase", "")
	v.SetDefault("wallet.evm_private_key", "")
	v.SetDefault("wallet.solana_keypair", "")
	v.SetDefault("wallet.solana_private_key", "")
	v.SetDefault("wallet.tron_private_key", "")
	v.SetDefault("wallet.tron_full_node", "")
	v.SetDefault("wallet.auto_confirm", false)
	v.SetDefault("session.store", StoreFile)
	v.SetDefault("session.path", "")
	v.SetDefault("session.redis.address", "")
	v.SetDefault("session.redis.password", "")
	v.SetDefault("session.redis.db", 0)
	v.SetDefault("session.redis.key_prefix", "agentpay:")
	v.SetDefault("session.redis.ttl", time.Duration(0))
	v.SetDefault("backend.url", "")
	v.SetDefault("backend.token", "")
	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.textfile", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

// applyDefaults fills derived values and resolves relative paths against baseDir
func (c *Config) applyDefaults(baseDir string) {
	if c.DataDir == "" {
		c.DataDir = defaultDataDir()
	}
	if c.Session.Store == "" {
		c.Session.Store = StoreFile
	}
	if c.Session.Path == "" {
		c.Session.Path = filepath.Join(c.DataDir, "session.json")
	}
	c.Session.Redis.Enabled = c.Session.Store == StoreRedis
	if c.Metrics.Textfile == "" {
		c.Metrics.Textfile = filepath.Join(c.DataDir, "metrics.prom")
	}

	c.ChainsFile = resolvePath(baseDir, c.ChainsFile)
	c.Wallet.EVMKeystore = resolvePath(baseDir, c.Wallet.EVMKeystore)
	c.Wallet.SolanaKeypair = resolvePath(baseDir, c.Wallet.SolanaKeypair)
	c.Metrics.Textfile = resolvePath(baseDir, c.Metrics.Textfile)

	c.Log.Level = strings.ToLower(c.Log.Level)
	c.Log.Format = strings.ToLower(c.Log.Format)
}

// Validate checks field constraints and chain override names
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	for name := range c.Chains {
		if _, err := chains.ParseChainID(name); err != nil {
			return fmt.Errorf("invalid config: chains.%s: %w", name, err)
		}
	}
	return nil
}

// Registry builds the chain registry: built-in descriptors, then the chains file, then inline overrides
func (c *Config) Registry() (*chains.Registry, error) {
	overrides := make(map[string]chains.ChainOverride)
	if c.ChainsFile != "" {
		fromFile, err := chains.LoadOverrides(c.ChainsFile)
		if err != nil {
			return nil, err
		}
		for name, o := range fromFile {
			overrides[canonicalChain(name)] = o
		}
	}
	for name, o := range c.Chains {
		overrides[canonicalChain(name)] = o
	}
	return chains.NewRegistryWithOverrides(overrides)
}

// NewLogger builds the slog logger described by the log section
func (c *Config) NewLogger(w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(c.Log.Level)}
	if c.Log.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func parseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// canonicalChain maps aliases such as "ethereum" to the registry key so later sources replace earlier ones
func canonicalChain(name string) string {
	if id, err := chains.ParseChainID(name); err == nil {
		return string(id)
	}
	return name
}

func resolvePath(baseDir, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	if strings.HasPrefix(p, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, p[2:])
		}
	}
	return filepath.Join(baseDir, p)
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".agentpay"
	}
	return filepath.Join(home, ".agentpay")
}
