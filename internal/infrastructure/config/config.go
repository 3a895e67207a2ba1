// Package config loads the gateway's layered configuration using viper,
// following the precedence chain used throughout the pack: built-in
// defaults, then the operator's global config directory, then a
// project-local override file, then environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the fully resolved gateway configuration.
type Config struct {
	Gateway  GatewayConfig  `mapstructure:"gateway"`
	Database DatabaseConfig `mapstructure:"database"`
	Log      LogConfig      `mapstructure:"log"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Balancer BalancerConfig `mapstructure:"balancer"`
	Forward  ForwardConfig  `mapstructure:"forward"`
	Security SecurityConfig `mapstructure:"security"`
	Accounts []AccountSeed  `mapstructure:"accounts"`
}

// GatewayConfig controls the HTTP listener.
type GatewayConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
	Mode string `mapstructure:"mode"` // local, production
}

// DatabaseConfig selects the persistence backend for accounts and logs.
type DatabaseConfig struct {
	Type string `mapstructure:"type"` // sqlite, postgres
	DSN  string `mapstructure:"dsn"`
}

// LogConfig controls the zap logger.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json, console
}

// AuthConfig gates inbound requests to the gateway's own OpenAI-compatible API.
type AuthConfig struct {
	APIKeys []string `mapstructure:"api_keys"` // empty = no auth required
}

// BalancerConfig selects and tunes the account-selection strategy.
type BalancerConfig struct {
	Strategy      string        `mapstructure:"strategy"` // round_robin, fill_first, failover
	CooldownBase  time.Duration `mapstructure:"cooldown_base"`
	CooldownMax   time.Duration `mapstructure:"cooldown_max"`
	FailThreshold int           `mapstructure:"fail_threshold"`
}

// ForwardConfig tunes the request forwarder's retry behavior.
type ForwardConfig struct {
	MaxRetries     int           `mapstructure:"max_retries"`
	RetryDelay     time.Duration `mapstructure:"retry_delay"` // fixed delay between attempts
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	IdleTimeout    time.Duration `mapstructure:"idle_timeout"` // max gap between stream chunks
}

// SecurityConfig controls credential-at-rest encryption and OS keyring use.
type SecurityConfig struct {
	MasterKeyEnv   string `mapstructure:"master_key_env"` // env var holding the passphrase override
	UseKeyring     bool   `mapstructure:"use_keyring"`     // try OS keyring before the MasterKeyEnv variable; with neither, startup fails (no plaintext mode)
	KeyringService string `mapstructure:"keyring_service"`
}

// AccountSeed bootstraps an account from config on first run; afterwards
// accounts are managed through the store and the config copy is ignored.
type AccountSeed struct {
	ProviderID string            `mapstructure:"provider"`
	Label      string            `mapstructure:"label"`
	Credential map[string]string `mapstructure:"credential"`
	Priority   int               `mapstructure:"priority"`
	DailyQuota int               `mapstructure:"daily_quota"`
	// DeleteSessionAfterChat seeds the matching Account field; see
	// model.Account for what it controls.
	DeleteSessionAfterChat bool `mapstructure:"delete_session_after_chat"`
}

const envPrefix = "CHATGW"

// Load reads the layered configuration: defaults, then
// ~/.chatgw/config.yaml, then ./config.yaml (if present), then CHATGW_*
// environment variables, in increasing priority.
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")

	globalDir := filepath.Join(os.Getenv("HOME"), ".chatgw")
	v.AddConfigPath(globalDir)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read global config: %w", err)
		}
	}

	if _, err := os.Stat("./config.yaml"); err == nil {
		v2 := viper.New()
		v2.SetConfigFile("./config.yaml")
		if err := v2.ReadInConfig(); err == nil {
			_ = v.MergeConfigMap(v2.AllSettings())
		}
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("gateway.host", "0.0.0.0")
	v.SetDefault("gateway.port", 8787)
	v.SetDefault("gateway.mode", "local")

	v.SetDefault("database.type", "sqlite")
	v.SetDefault("database.dsn", "chatgw.db")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("balancer.strategy", "round_robin")
	v.SetDefault("balancer.cooldown_base", "10s")
	v.SetDefault("balancer.cooldown_max", "10m")
	v.SetDefault("balancer.fail_threshold", 3)

	v.SetDefault("forward.max_retries", 3)
	v.SetDefault("forward.retry_delay", "5s")
	v.SetDefault("forward.request_timeout", "120s")
	v.SetDefault("forward.idle_timeout", "60s")

	v.SetDefault("security.master_key_env", "CHATGW_MASTER_KEY")
	v.SetDefault("security.use_keyring", true)
	v.SetDefault("security.keyring_service", "chatgw-gateway")
}
