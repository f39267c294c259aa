package config

import (
	"testing"
	"time"

	"github.com/brojonat/tokenforge/service/token"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testReceiver = "9xQeWvG816bUx9EPjHmaT23yvVM2ZWbrrpZb9PusVFin"

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("SOLANA_RPC_URLS", "https://api.devnet.solana.com")
	t.Setenv("FEE_RECEIVER_ADDRESS", testReceiver)
	t.Setenv("STORAGE_API_KEY", "lighthouse-key")
}

func TestLoad_ValidConfig(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := Load()
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, ":8080", cfg.ServerAddr) // Default
	assert.Equal(t, "info", cfg.LogLevel)    // Default
	assert.Equal(t, NetworkDevnet, cfg.Network)
	assert.Equal(t, []string{"https://api.devnet.solana.com"}, cfg.SolanaRPCURLs)
	assert.Equal(t, "confirmed", cfg.SolanaCommitment)
	assert.Equal(t, testReceiver, cfg.FeeReceiver.String())
	assert.Equal(t, "https://node.lighthouse.storage/api/v0/add", cfg.StorageUploadURL)
	assert.Equal(t, "https://gateway.lighthouse.storage/ipfs/", cfg.StorageGatewayURL)
	assert.Equal(t, token.DefaultMaxImageBytes, cfg.MaxImageBytes)
	assert.Equal(t, 60*time.Second, cfg.ConfirmTimeout)
	assert.Equal(t, 500*time.Millisecond, cfg.ConfirmInitialInterval)
	assert.Equal(t, 5*time.Second, cfg.ConfirmMaxInterval)
	assert.Equal(t, 2*time.Minute, cfg.PreparedTTL)
	assert.Equal(t, 15*time.Second, cfg.ReconcileInterval)
	assert.Equal(t, 10*time.Minute, cfg.ReconcileTimeout)
	assert.Empty(t, cfg.DatabaseURL)
	assert.Empty(t, cfg.TemporalHost)
	assert.True(t, cfg.FeeSchedule.Base.Equal(decimal.RequireFromString("0.1")))
}

func TestLoad_MultipleRPCURLs(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("SOLANA_RPC_URLS", " https://a.example , ,https://b.example")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.SolanaRPCURLs)
}

func TestLoad_MissingRequired(t *testing.T) {
	t.Setenv("SOLANA_RPC_URLS", "")
	t.Setenv("FEE_RECEIVER_ADDRESS", "")
	t.Setenv("STORAGE_API_KEY", "")

	cfg, err := Load()
	require.Error(t, err)
	assert.Nil(t, cfg)
	assert.Contains(t, err.Error(), "SOLANA_RPC_URLS is required")
	assert.Contains(t, err.Error(), "FEE_RECEIVER_ADDRESS is required")
	assert.Contains(t, err.Error(), "STORAGE_API_KEY is required")
}

func TestLoad_InvalidValues(t *testing.T) {
	tests := []struct {
		name    string
		key     string
		value   string
		wantErr string
	}{
		{"bad network", "SOLANA_NETWORK", "testnet", "SOLANA_NETWORK must be"},
		{"bad commitment", "SOLANA_COMMITMENT", "processed", "SOLANA_COMMITMENT must be"},
		{"bad receiver", "FEE_RECEIVER_ADDRESS", "not-base58!", "invalid address"},
		{"bad duration", "CONFIRM_TIMEOUT", "soon", "invalid duration"},
		{"bad image size", "MAX_IMAGE_BYTES", "big", "invalid integer"},
		{"bad fee", "FEE_REVOKE_MINT_SOL", "cheap", "invalid SOL amount"},
		{"negative fee", "FEE_BASE_SOL", "-1", "base fee cannot be negative"},
		{"interval order", "CONFIRM_MAX_INTERVAL", "100ms", "ConfirmMaxInterval cannot be less"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setRequiredEnv(t)
			t.Setenv(tt.key, tt.value)

			cfg, err := Load()
			require.Error(t, err)
			assert.Nil(t, cfg)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoad_FeeOverrides(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("FEE_BASE_SOL", "0.2")
	t.Setenv("FEE_CREATOR_INFO_SOL", "0.05")

	cfg, err := Load()
	require.NoError(t, err)

	cost := token.NewCostCalculator(cfg.FeeSchedule).ComputeTotal(token.CostFlags{CreatorInfo: true, RevokeMint: true})
	assert.Equal(t, "0.33", cost.Total.String())
}

func TestValidate(t *testing.T) {
	setRequiredEnv(t)
	cfg, err := Load()
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	t.Run("temporal settings checked when enabled", func(t *testing.T) {
		c := *cfg
		c.TemporalHost = "localhost:7233"
		c.ReconcileTimeout = time.Second
		err := c.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "ReconcileTimeout cannot be less")
	})

	t.Run("short prepared ttl", func(t *testing.T) {
		c := *cfg
		c.PreparedTTL = time.Second
		assert.Error(t, c.Validate())
	})
}

func TestConfirmPolicy(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("CONFIRM_TIMEOUT", "90s")

	cfg, err := Load()
	require.NoError(t, err)

	p := cfg.ConfirmPolicy()
	assert.Equal(t, 90*time.Second, p.Timeout)
	assert.Equal(t, 500*time.Millisecond, p.InitialInterval)
	assert.Equal(t, float64(2), p.Multiplier)

	cc := cfg.CreatorConfig()
	assert.Equal(t, cfg.FeeReceiver, cc.FeeReceiver)
	assert.Equal(t, NetworkDevnet, cc.Network)
}
