package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Config holds all configuration for the payment gateway
type Config struct {
	Environment string            `toml:"environment"`
	Server      ServerConfig      `toml:"server"`
	Database    DatabaseConfig    `toml:"database"`
	Redis       RedisConfig       `toml:"redis"`
	Facilitator FacilitatorConfig `toml:"facilitator"`
	Payment     PaymentConfig     `toml:"payment"`
	Settlement  SettlementConfig  `toml:"settlement"`
	DevBypass   DevBypassConfig   `toml:"dev_bypass"`
	Auth        AuthConfig        `toml:"auth"`
	RateLimit   RateLimitConfig   `toml:"rate_limit"`
	Journal     JournalConfig     `toml:"journal"`
	Logging     LoggingConfig     `toml:"logging"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host           string   `toml:"host"`
	Port           int      `toml:"port"`
	ReadTimeout    int      `toml:"read_timeout"`
	WriteTimeout   int      `toml:"write_timeout"`
	AllowedOrigins []string `toml:"allowed_origins"`
}

// DatabaseConfig holds PostgreSQL configuration
type DatabaseConfig struct {
	URL      string `toml:"url"`
	Host     string `toml:"host"`
	Port     int    `toml:"port"`
	User     string `toml:"user"`
	Password string `toml:"password"`
	Database string `toml:"database"`
	SSLMode  string `toml:"ssl_mode"`
	MaxConns int32  `toml:"max_conns"`
}

// RedisConfig holds the optional Redis connection used for rate limiting and caching
type RedisConfig struct {
	Enabled             bool   `toml:"enabled"`
	Addr                string `toml:"addr"`
	Password            string `toml:"password"`
	DB                  int    `toml:"db"`
	KeyPrefix           string `toml:"key_prefix"`
	DatasetCacheSeconds int    `toml:"dataset_cache_seconds"`
}

// FacilitatorConfig holds the settlement facilitator endpoint
type FacilitatorConfig struct {
	BaseURL        string `toml:"base_url"`
	APIKey         string `toml:"api_key"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// PaymentConfig holds pricing and the accepted asset.
// Amounts are in the token's smallest unit.
type PaymentConfig struct {
	Network         string `toml:"network"`
	TokenAddress    string `toml:"token_address"`
	TokenSymbol     string `toml:"token_symbol"`
	MerchantAddress string `toml:"merchant_address"`
	MerchantAmount  int64  `toml:"merchant_amount"`
	FeeBasisPoints  int64  `toml:"fee_basis_points"`
	GasFee          int64  `toml:"gas_fee"`
	Description     string `toml:"description"`
}

// SettlementConfig holds the retry policy for facilitator settlement
type SettlementConfig struct {
	MaxAttempts         int      `toml:"max_attempts"`
	BaseDelayMs         int      `toml:"base_delay_ms"`
	RetryableSubstrings []string `toml:"retryable_substrings"`
	RetryableCodes      []string `toml:"retryable_codes"`
}

// DevBypassConfig holds the non-production payment bypass
type DevBypassConfig struct {
	Secret     string `toml:"secret"`
	DemoAmount string `toml:"demo_amount"`
}

// AuthConfig holds token and admin credentials
type AuthConfig struct {
	JWTSecret       string `toml:"jwt_secret"`
	AdminAPIKeyHash string `toml:"admin_api_key_hash"`
}

// RateLimitConfig holds per-minute request budgets per client IP
type RateLimitConfig struct {
	StartPerMinute  int `toml:"start_per_minute"`
	SettlePerMinute int `toml:"settle_per_minute"`
	StatusPerMinute int `toml:"status_per_minute"`
}

// JournalConfig holds the local reconciliation journal location
type JournalConfig struct {
	Path string `toml:"path"`
}

// LoggingConfig holds logger settings
type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// Load loads configuration from TOML file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Start from defaults so keys absent from the file keep them while
	// explicit zeros (a no-fee deployment) survive.
	config := DefaultConfig()
	if err := toml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	config.SetDefaults()

	return config, nil
}

// Save saves configuration to TOML file
func (c *Config) Save(path string) error {
	data, err := toml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// DefaultConfig returns a default configuration
func DefaultConfig() *Config {
	cfg := &Config{
		Payment: PaymentConfig{
			FeeBasisPoints: 50,
			GasFee:         100000,
		},
	}
	cfg.SetDefaults()
	return cfg
}

// IsProduction reports whether the deployment is production.
// Anything other than an explicit development name counts as production.
func (c *Config) IsProduction() bool {
	switch strings.ToLower(strings.TrimSpace(c.Environment)) {
	case "development", "dev", "test", "local":
		return false
	}
	return true
}

// settleResponseMargin covers the entitlement write and the response after
// the last facilitator attempt
const settleResponseMargin = 10 * time.Second

// SettlementBudget is the longest a live settlement can run: every attempt
// hitting the facilitator timeout plus the backoff between attempts
func (c *Config) SettlementBudget() time.Duration {
	attempts := c.Settlement.MaxAttempts
	if attempts <= 0 {
		attempts = 4
	}
	base := time.Duration(c.Settlement.BaseDelayMs) * time.Millisecond
	budget := time.Duration(attempts) * time.Duration(c.Facilitator.TimeoutSeconds) * time.Second
	for n := 1; n < attempts; n++ {
		budget += base << uint(n-1)
	}
	return budget
}

// EffectiveWriteTimeout is the server write timeout, raised when needed so a
// settle response is still delivered after the slowest settlement
func (c *Config) EffectiveWriteTimeout() time.Duration {
	configured := time.Duration(c.Server.WriteTimeout) * time.Second
	if floor := c.SettlementBudget() + settleResponseMargin; configured < floor {
		return floor
	}
	return configured
}

// DatabaseURL returns the PostgreSQL connection URL
func (c *DatabaseConfig) DatabaseURL() string {
	if c.URL != "" {
		return c.URL
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Database, c.SSLMode)
}

// SetDefaults sets default values for config
func (c *Config) SetDefaults() {
	if c.Environment == "" {
		c.Environment = "production"
	}
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = 30
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = 150
	}
	if len(c.Server.AllowedOrigins) == 0 {
		c.Server.AllowedOrigins = []string{"*"}
	}
	if c.Database.Host == "" {
		c.Database.Host = "localhost"
	}
	if c.Database.Port == 0 {
		c.Database.Port = 5432
	}
	if c.Database.User == "" {
		c.Database.User = "postgres"
	}
	if c.Database.Database == "" {
		c.Database.Database = "paygate"
	}
	if c.Database.SSLMode == "" {
		c.Database.SSLMode = "disable"
	}
	if c.Database.MaxConns == 0 {
		c.Database.MaxConns = 10
	}
	if c.Redis.Addr == "" {
		c.Redis.Addr = "localhost:6379"
	}
	if c.Redis.KeyPrefix == "" {
		c.Redis.KeyPrefix = "paygate:"
	}
	if c.Redis.DatasetCacheSeconds == 0 {
		c.Redis.DatasetCacheSeconds = 10
	}
	if c.Facilitator.TimeoutSeconds == 0 {
		c.Facilitator.TimeoutSeconds = 30
	}
	if c.Payment.Network == "" {
		c.Payment.Network = "base"
	}
	if c.Payment.TokenAddress == "" {
		c.Payment.TokenAddress = "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913" // USDC on Base
	}
	if c.Payment.TokenSymbol == "" {
		c.Payment.TokenSymbol = "USDC"
	}
	if c.Payment.MerchantAmount == 0 {
		c.Payment.MerchantAmount = 900000
	}
	if c.Payment.Description == "" {
		c.Payment.Description = "Shared dataset access"
	}
	if c.Settlement.MaxAttempts == 0 {
		c.Settlement.MaxAttempts = 4
	}
	if c.Settlement.BaseDelayMs == 0 {
		c.Settlement.BaseDelayMs = 1000
	}
	if c.Settlement.RetryableSubstrings == nil {
		c.Settlement.RetryableSubstrings = []string{
			"nonce already used",
			"nonce too low",
			"database error",
			"internal error",
		}
	}
	if c.Settlement.RetryableCodes == nil {
		c.Settlement.RetryableCodes = []string{"NONCE_CONFLICT", "INTERNAL_ERROR"}
	}
	if c.DevBypass.DemoAmount == "" {
		c.DevBypass.DemoAmount = "1000000"
	}
	if c.RateLimit.StartPerMinute == 0 {
		c.RateLimit.StartPerMinute = 30
	}
	if c.RateLimit.SettlePerMinute == 0 {
		c.RateLimit.SettlePerMinute = 10
	}
	if c.RateLimit.StatusPerMinute == 0 {
		c.RateLimit.StatusPerMinute = 120
	}
	if c.Journal.Path == "" {
		c.Journal.Path = "data/reconciliation.db"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
}
