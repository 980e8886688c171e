package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_FullConfig(t *testing.T) {
	t.Setenv("PRIVATE_KEY", "deadbeef")
	path := writeConfig(t, `
markets:
  - will-it-rain-tomorrow
maker:
  order_size_shares: 50
  order_ttl_seconds: 300
  guard:
    base_spread: 0.03
    parity_tolerance: 0.05
api:
  clob_base: http://localhost:8080
chain:
  rpc_url: http://localhost:8545
log:
  level: debug
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, []string{"will-it-rain-tomorrow"}, cfg.Markets)
	assert.Equal(t, 50.0, cfg.Maker.OrderSizeShares)
	assert.Equal(t, 5*time.Minute, cfg.Maker.OrderTTL())
	assert.Equal(t, 0.03, cfg.Maker.Guard.BaseSpread)
	assert.Equal(t, "http://localhost:8080", cfg.API.CLOBBase)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "deadbeef", cfg.Wallet.PrivateKey)

	// Defaults aplicados donde el YAML calla.
	assert.Equal(t, "https://gamma-api.polymarket.com", cfg.API.GammaBase)
	assert.Equal(t, "polymaker.db", cfg.Storage.DSN)
	assert.Equal(t, 50, cfg.Log.MaxSizeMB)
}

func TestLoad_EnvOverridesYAML(t *testing.T) {
	t.Setenv("PRIVATE_KEY", "deadbeef")
	t.Setenv("POLYGON_RPC_URL", "http://env-rpc:8545")
	t.Setenv("MARKETS", "market-a, market-b")
	t.Setenv("LOG_LEVEL", "warn")

	path := writeConfig(t, `
markets: [yaml-market]
chain:
  rpc_url: http://yaml-rpc:8545
log:
  level: info
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "http://env-rpc:8545", cfg.Chain.RPCURL)
	assert.Equal(t, []string{"market-a", "market-b"}, cfg.Markets)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoad_RequiresPrivateKey(t *testing.T) {
	t.Setenv("PRIVATE_KEY", "")
	path := writeConfig(t, `
markets: [m]
chain:
  rpc_url: http://localhost:8545
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "PRIVATE_KEY")
}

func TestLoad_RequiresMarkets(t *testing.T) {
	t.Setenv("PRIVATE_KEY", "deadbeef")
	t.Setenv("MARKETS", "")
	path := writeConfig(t, `
chain:
  rpc_url: http://localhost:8545
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "markets")
}
