package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/brojonat/tokenforge/service/token"
	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"
)

const (
	NetworkMainnet = "mainnet"
	NetworkDevnet  = "devnet"
)

// Config holds all application configuration loaded from environment variables.
// All required fields are validated at startup to ensure fail-fast behavior.
type Config struct {
	// Server configuration
	ServerAddr  string
	LogLevel    string
	MetricsAddr string

	// Solana configuration
	Network          string
	SolanaRPCURLs    []string
	SolanaCommitment string
	FeeReceiver      solana.PublicKey

	// Storage configuration
	StorageAPIKey     string
	StorageUploadURL  string
	StorageGatewayURL string
	MaxImageBytes     int

	// Pricing
	FeeSchedule token.FeeSchedule

	// Confirmation policy
	ConfirmTimeout         time.Duration
	ConfirmInitialInterval time.Duration
	ConfirmMaxInterval     time.Duration

	// How long a prepared creation waits for the wallet signature.
	PreparedTTL time.Duration

	// Optional infrastructure. Empty means disabled.
	DatabaseURL string
	NATSURL     string

	// Temporal configuration
	TemporalHost      string
	TemporalNamespace string
	TemporalTaskQueue string

	// Reconciliation of timed-out submissions
	ReconcileInterval time.Duration
	ReconcileTimeout  time.Duration
}

// Load reads configuration from environment variables and validates all required fields.
// Returns an error if any required configuration is missing or invalid.
func Load() (*Config, error) {
	cfg := &Config{}
	var errs []error

	// Server configuration
	cfg.ServerAddr = getEnvOrDefault("SERVER_ADDR", ":8080")
	cfg.LogLevel = getEnvOrDefault("LOG_LEVEL", "info")
	cfg.MetricsAddr = os.Getenv("METRICS_ADDR")

	// Solana configuration
	cfg.Network = getEnvOrDefault("SOLANA_NETWORK", NetworkDevnet)
	if cfg.Network != NetworkMainnet && cfg.Network != NetworkDevnet {
		errs = append(errs, fmt.Errorf("SOLANA_NETWORK must be %q or %q, got %q", NetworkMainnet, NetworkDevnet, cfg.Network))
	}

	cfg.SolanaRPCURLs = splitList(os.Getenv("SOLANA_RPC_URLS"))
	if len(cfg.SolanaRPCURLs) == 0 {
		errs = append(errs, fmt.Errorf("SOLANA_RPC_URLS is required"))
	}

	cfg.SolanaCommitment = getEnvOrDefault("SOLANA_COMMITMENT", "confirmed")
	if cfg.SolanaCommitment != "confirmed" && cfg.SolanaCommitment != "finalized" {
		errs = append(errs, fmt.Errorf("SOLANA_COMMITMENT must be confirmed or finalized, got %q", cfg.SolanaCommitment))
	}

	receiver := os.Getenv("FEE_RECEIVER_ADDRESS")
	if receiver == "" {
		errs = append(errs, fmt.Errorf("FEE_RECEIVER_ADDRESS is required"))
	} else if pk, err := solana.PublicKeyFromBase58(receiver); err != nil {
		errs = append(errs, fmt.Errorf("FEE_RECEIVER_ADDRESS: invalid address %q: %w", receiver, err))
	} else {
		cfg.FeeReceiver = pk
	}

	// Storage configuration
	cfg.StorageAPIKey = os.Getenv("STORAGE_API_KEY")
	if cfg.StorageAPIKey == "" {
		errs = append(errs, fmt.Errorf("STORAGE_API_KEY is required"))
	}
	cfg.StorageUploadURL = getEnvOrDefault("STORAGE_UPLOAD_URL", "https://node.lighthouse.storage/api/v0/add")
	cfg.StorageGatewayURL = getEnvOrDefault("STORAGE_GATEWAY_URL", "https://gateway.lighthouse.storage/ipfs/")

	maxImage, err := parseInt("MAX_IMAGE_BYTES", token.DefaultMaxImageBytes)
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.MaxImageBytes = maxImage
	}

	// Pricing: start from the published schedule, override per env var.
	cfg.FeeSchedule = token.DefaultFeeSchedule()
	if err := parseSOL("FEE_BASE_SOL", &cfg.FeeSchedule.Base); err != nil {
		errs = append(errs, err)
	}
	for opt, key := range feeEnvVars {
		amount := cfg.FeeSchedule.Surcharges[opt]
		if err := parseSOL(key, &amount); err != nil {
			errs = append(errs, err)
			continue
		}
		cfg.FeeSchedule.Surcharges[opt] = amount
	}

	// Confirmation policy
	for _, d := range []struct {
		key  string
		def  string
		dest *time.Duration
	}{
		{"CONFIRM_TIMEOUT", "60s", &cfg.ConfirmTimeout},
		{"CONFIRM_INITIAL_INTERVAL", "500ms", &cfg.ConfirmInitialInterval},
		{"CONFIRM_MAX_INTERVAL", "5s", &cfg.ConfirmMaxInterval},
		{"PREPARED_TTL", "2m", &cfg.PreparedTTL},
		{"RECONCILE_INTERVAL", "15s", &cfg.ReconcileInterval},
		{"RECONCILE_TIMEOUT", "10m", &cfg.ReconcileTimeout},
	} {
		v, err := parseDuration(d.key, d.def)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		*d.dest = v
	}

	// Optional infrastructure
	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	cfg.NATSURL = os.Getenv("NATS_URL")

	// Temporal configuration
	cfg.TemporalHost = os.Getenv("TEMPORAL_HOST")
	cfg.TemporalNamespace = getEnvOrDefault("TEMPORAL_NAMESPACE", "default")
	cfg.TemporalTaskQueue = getEnvOrDefault("TEMPORAL_TASK_QUEUE", "tokenforge-reconcile")

	if len(errs) == 0 {
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}

	// Return all validation errors
	if len(errs) > 0 {
		return nil, fmt.Errorf("configuration validation failed: %v", errs)
	}

	return cfg, nil
}

// MustLoad is like Load but panics if configuration is invalid.
// Useful for server initialization where misconfiguration should halt startup.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load configuration: %v", err))
	}
	return cfg
}

// Validate checks if the configuration is valid.
// This is useful for testing configuration without loading from env.
func (c *Config) Validate() error {
	var errs []error

	if len(c.SolanaRPCURLs) == 0 {
		errs = append(errs, fmt.Errorf("SolanaRPCURLs is required"))
	}

	if c.FeeReceiver.IsZero() {
		errs = append(errs, fmt.Errorf("FeeReceiver is required"))
	}

	if c.StorageAPIKey == "" {
		errs = append(errs, fmt.Errorf("StorageAPIKey is required"))
	}

	if c.MaxImageBytes <= 0 {
		errs = append(errs, fmt.Errorf("MaxImageBytes must be positive"))
	}

	if c.FeeSchedule.Base.IsNegative() {
		errs = append(errs, fmt.Errorf("base fee cannot be negative"))
	}
	for opt, amount := range c.FeeSchedule.Surcharges {
		if amount.IsNegative() {
			errs = append(errs, fmt.Errorf("surcharge for %s cannot be negative", opt))
		}
	}

	if c.ConfirmInitialInterval <= 0 {
		errs = append(errs, fmt.Errorf("ConfirmInitialInterval must be positive"))
	}

	if c.ConfirmMaxInterval < c.ConfirmInitialInterval {
		errs = append(errs, fmt.Errorf("ConfirmMaxInterval cannot be less than ConfirmInitialInterval"))
	}

	if c.ConfirmTimeout < time.Second {
		errs = append(errs, fmt.Errorf("ConfirmTimeout must be at least 1 second"))
	}

	if c.PreparedTTL < 10*time.Second {
		errs = append(errs, fmt.Errorf("PreparedTTL must be at least 10 seconds"))
	}

	if c.TemporalHost != "" {
		if c.TemporalNamespace == "" {
			errs = append(errs, fmt.Errorf("TemporalNamespace is required"))
		}
		if c.TemporalTaskQueue == "" {
			errs = append(errs, fmt.Errorf("TemporalTaskQueue is required"))
		}
		if c.ReconcileInterval < time.Second {
			errs = append(errs, fmt.Errorf("ReconcileInterval must be at least 1 second"))
		}
		if c.ReconcileTimeout < c.ReconcileInterval {
			errs = append(errs, fmt.Errorf("ReconcileTimeout cannot be less than ReconcileInterval"))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %v", errs)
	}

	return nil
}

// ConfirmPolicy returns the confirmation policy for the submission controller.
func (c *Config) ConfirmPolicy() token.ConfirmPolicy {
	p := token.DefaultConfirmPolicy()
	p.Timeout = c.ConfirmTimeout
	p.InitialInterval = c.ConfirmInitialInterval
	p.MaxInterval = c.ConfirmMaxInterval
	return p
}

// CreatorConfig returns the settings for token.NewCreator.
func (c *Config) CreatorConfig() token.CreatorConfig {
	return token.CreatorConfig{
		FeeReceiver:   c.FeeReceiver,
		FeeSchedule:   c.FeeSchedule,
		MaxImageBytes: c.MaxImageBytes,
		ConfirmPolicy: c.ConfirmPolicy(),
		Network:       c.Network,
	}
}

var feeEnvVars = map[token.Option]string{
	token.OptionRevokeMint:   "FEE_REVOKE_MINT_SOL",
	token.OptionRevokeFreeze: "FEE_REVOKE_FREEZE_SOL",
	token.OptionRevokeUpdate: "FEE_REVOKE_UPDATE_SOL",
	token.OptionCreatorInfo:  "FEE_CREATOR_INFO_SOL",
}

// getEnvOrDefault returns the environment variable value or a default if not set.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// parseDuration parses a duration from an environment variable or uses a default.
func parseDuration(key, defaultValue string) (time.Duration, error) {
	value := getEnvOrDefault(key, defaultValue)
	duration, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", key, value, err)
	}
	return duration, nil
}

// parseInt parses an integer from an environment variable or uses a default.
func parseInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	result, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid integer %q: %w", key, value, err)
	}
	return result, nil
}

// parseSOL overwrites dest with a decimal SOL amount if the variable is set.
func parseSOL(key string, dest *decimal.Decimal) error {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	amount, err := decimal.NewFromString(value)
	if err != nil {
		return fmt.Errorf("%s: invalid SOL amount %q: %w", key, value, err)
	}
	*dest = amount
	return nil
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
