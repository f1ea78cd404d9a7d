package config_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github/clearid/wallet-engine/internal/config"
)

func TestPrintServiceEnv(t *testing.T) {
	cfg := config.DefaultServiceConfigFromEnv()
	_, err := json.MarshalIndent(cfg, "", "  ")
	require.NoError(t, err)
}

func TestDefaults(t *testing.T) {
	cfg := config.DefaultServiceConfigFromEnv()
	assert.Equal(t, "0x1", cfg.Chain.DefaultNetwork)
	assert.Equal(t, 180*time.Second, cfg.Relay.ConfirmTimeout)
	assert.NotEmpty(t, cfg.Chain.RPCURLs)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("WALLET_RPC_URLS", "http://a:8545, http://b:8545")
	t.Setenv("WALLET_DEFAULT_NETWORK", "0x2a")
	t.Setenv("WALLET_METATX_ENABLED", "true")

	cfg := config.DefaultServiceConfigFromEnv()
	assert.Equal(t, []string{"http://a:8545", "http://b:8545"}, cfg.Chain.RPCURLs)
	assert.Equal(t, "0x2a", cfg.Chain.DefaultNetwork)
	assert.True(t, cfg.Relay.MetaTxEnabled)
}
