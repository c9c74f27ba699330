// Package config loads the relay configuration from defaults, an optional
// config file and RELAY_* environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const EnvPrefix = "RELAY"

const (
	AuthModeAssertion = "assertion"
	AuthModeJWT       = "jwt"
)

var ErrInvalidConfig = errors.New("invalid config")

type Config struct {
	HTTP    HTTPConfig    `mapstructure:"http"`
	Redis   RedisConfig   `mapstructure:"redis"`
	Session SessionConfig `mapstructure:"session"`
	Near    NearConfig    `mapstructure:"near"`
	Agent   AgentConfig   `mapstructure:"agent"`
	EVM     EVMConfig     `mapstructure:"evm"`
	Ledger  LedgerConfig  `mapstructure:"ledger"`
	Poller  PollerConfig  `mapstructure:"poller"`
	Events  EventsConfig  `mapstructure:"events"`
}

type HTTPConfig struct {
	Addr string `mapstructure:"addr"`
}

type RedisConfig struct {
	URL string `mapstructure:"url"`
}

type SessionConfig struct {
	TTL time.Duration `mapstructure:"ttl"`
}

type NearConfig struct {
	RPCURL  string        `mapstructure:"rpc_url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type AgentConfig struct {
	BaseURL     string        `mapstructure:"base_url"`
	AssistantID string        `mapstructure:"assistant_id"`
	AuthMode    string        `mapstructure:"auth_mode"`
	JWTKeyFile  string        `mapstructure:"jwt_key_file"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

type EVMConfig struct {
	RPCURL          string `mapstructure:"rpc_url"`
	PrivateKey      string `mapstructure:"private_key"`
	ContractAddress string `mapstructure:"contract_address"`
	GasTipGwei      string `mapstructure:"gas_tip_gwei"`
}

type LedgerConfig struct {
	MaxAttempts uint          `mapstructure:"max_attempts"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

type PollerConfig struct {
	Interval    time.Duration `mapstructure:"interval"`
	CallTimeout time.Duration `mapstructure:"call_timeout"`
	MaxRunAge   time.Duration `mapstructure:"max_run_age"`
}

type EventsConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	TopicPrefix string `mapstructure:"topic_prefix"`
}

// SetDefaults registers every key so that environment overrides are picked
// up by Unmarshal
func SetDefaults(v *viper.Viper) {
	v.SetDefault("http.addr", ":3001")
	v.SetDefault("redis.url", "redis://localhost:6379/0")
	v.SetDefault("session.ttl", time.Hour)
	v.SetDefault("near.rpc_url", "https://test.rpc.fastnear.com")
	v.SetDefault("near.timeout", 10*time.Second)
	v.SetDefault("agent.base_url", "https://api.near.ai/v1")
	v.SetDefault("agent.assistant_id", "")
	v.SetDefault("agent.auth_mode", AuthModeAssertion)
	v.SetDefault("agent.jwt_key_file", "")
	v.SetDefault("agent.timeout", 30*time.Second)
	v.SetDefault("evm.rpc_url", "")
	v.SetDefault("evm.private_key", "")
	v.SetDefault("evm.contract_address", "")
	v.SetDefault("evm.gas_tip_gwei", "")
	v.SetDefault("ledger.max_attempts", 3)
	v.SetDefault("ledger.timeout", 2*time.Minute)
	v.SetDefault("poller.interval", 10*time.Second)
	v.SetDefault("poller.call_timeout", 30*time.Second)
	v.SetDefault("poller.max_run_age", time.Duration(0))
	v.SetDefault("events.enabled", true)
	v.SetDefault("events.topic_prefix", "agentrelay")
}

// Load reads the configuration. An empty path skips the config file.
func Load(v *viper.Viper, path string) (Config, error) {
	if v == nil {
		v = viper.New()
	}
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	return cfg, nil
}

// ValidateServe checks the keys the serve command cannot run without
func (c Config) ValidateServe() error {
	var missing []string
	if c.Agent.AssistantID == "" {
		missing = append(missing, "agent.assistant_id")
	}
	missing = append(missing, c.missingLedgerKeys(true)...)
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrInvalidConfig, strings.Join(missing, ", "))
	}

	switch c.Agent.AuthMode {
	case AuthModeAssertion:
	case AuthModeJWT:
		if c.Agent.JWTKeyFile == "" {
			return fmt.Errorf("%w: agent.jwt_key_file is required in jwt mode", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown agent.auth_mode %q", ErrInvalidConfig, c.Agent.AuthMode)
	}
	return nil
}

// ValidateReader checks the keys needed for read-only ledger access
func (c Config) ValidateReader() error {
	if missing := c.missingLedgerKeys(false); len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrInvalidConfig, strings.Join(missing, ", "))
	}
	return nil
}

func (c Config) missingLedgerKeys(signer bool) []string {
	var missing []string
	if c.EVM.RPCURL == "" {
		missing = append(missing, "evm.rpc_url")
	}
	if c.EVM.ContractAddress == "" {
		missing = append(missing, "evm.contract_address")
	}
	if signer && c.EVM.PrivateKey == "" {
		missing = append(missing, "evm.private_key")
	}
	return missing
}
