package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(viper.New(), "")
	require.NoError(t, err)

	assert.Equal(t, ":3001", cfg.HTTP.Addr)
	assert.Equal(t, "redis://localhost:6379/0", cfg.Redis.URL)
	assert.Equal(t, time.Hour, cfg.Session.TTL)
	assert.Equal(t, "https://api.near.ai/v1", cfg.Agent.BaseURL)
	assert.Equal(t, AuthModeAssertion, cfg.Agent.AuthMode)
	assert.Equal(t, uint(3), cfg.Ledger.MaxAttempts)
	assert.Equal(t, 10*time.Second, cfg.Poller.Interval)
	assert.Equal(t, 30*time.Second, cfg.Poller.CallTimeout)
	assert.Zero(t, cfg.Poller.MaxRunAge)
	assert.True(t, cfg.Events.Enabled)
	assert.Equal(t, "agentrelay", cfg.Events.TopicPrefix)
}

func TestLoadEnvironment(t *testing.T) {
	t.Setenv("RELAY_HTTP_ADDR", ":8080")
	t.Setenv("RELAY_POLLER_INTERVAL", "2s")
	t.Setenv("RELAY_AGENT_ASSISTANT_ID", "agent.near")
	t.Setenv("RELAY_EVENTS_ENABLED", "false")

	cfg, err := Load(viper.New(), "")
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.HTTP.Addr)
	assert.Equal(t, 2*time.Second, cfg.Poller.Interval)
	assert.Equal(t, "agent.near", cfg.Agent.AssistantID)
	assert.False(t, cfg.Events.Enabled)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "relay.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
evm:
  rpc_url: http://localhost:8545
  contract_address: "0x0000000000000000000000000000000000000001"
poller:
  max_run_age: 15m
`), 0o600))

	cfg, err := Load(viper.New(), path)
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8545", cfg.EVM.RPCURL)
	assert.Equal(t, 15*time.Minute, cfg.Poller.MaxRunAge)
	assert.NoError(t, cfg.ValidateReader())
	assert.ErrorIs(t, cfg.ValidateServe(), ErrInvalidConfig)

	_, err = Load(viper.New(), filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestValidateServe(t *testing.T) {
	valid := Config{
		Agent: AgentConfig{AssistantID: "agent.near", AuthMode: AuthModeAssertion},
		EVM:   EVMConfig{RPCURL: "http://localhost:8545", ContractAddress: "0x01", PrivateKey: "ab"},
	}
	assert.NoError(t, valid.ValidateServe())

	jwtWithoutKey := valid
	jwtWithoutKey.Agent.AuthMode = AuthModeJWT
	assert.ErrorIs(t, jwtWithoutKey.ValidateServe(), ErrInvalidConfig)

	unknownMode := valid
	unknownMode.Agent.AuthMode = "oauth"
	assert.ErrorIs(t, unknownMode.ValidateServe(), ErrInvalidConfig)

	missing := valid
	missing.EVM.PrivateKey = ""
	err := missing.ValidateServe()
	assert.ErrorIs(t, err, ErrInvalidConfig)
	assert.Contains(t, err.Error(), "evm.private_key")
}
