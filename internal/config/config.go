package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"github.com/subosito/gotenv"

	"github.com/leafsii/marketplace/internal/calc"
	"github.com/leafsii/marketplace/internal/marketplace"
)

type Config struct {
	Env      string `mapstructure:"MP_ENV"`
	HTTPAddr string `mapstructure:"MP_HTTP_ADDR"`
	LogLevel string `mapstructure:"MP_LOG_LEVEL"`

	Market   MarketConfig   `mapstructure:",squash"`
	Storage  StorageConfig  `mapstructure:",squash"`
	Security SecurityConfig `mapstructure:",squash"`
}

type MarketConfig struct {
	Address           string   `mapstructure:"MP_MARKET_ADDRESS"`
	AdminAddresses    []string `mapstructure:"MP_ADMIN_ADDRESSES"`
	FeeRate           int      `mapstructure:"MP_FEE_RATE"`
	AllowedCurrencies []string `mapstructure:"MP_ALLOWED_CURRENCIES"`
	NativeDecimals    int32    `mapstructure:"MP_NATIVE_DECIMALS"`
	TokenDecimals     int32    `mapstructure:"MP_TOKEN_DECIMALS"`
	DevEndpoints      bool     `mapstructure:"MP_DEV_ENDPOINTS"`

	// Parsed by validate
	EngineAddress marketplace.Address   `mapstructure:"-"`
	Admins        []marketplace.Address `mapstructure:"-"`
	Currencies    []marketplace.Address `mapstructure:"-"`
}

type StorageConfig struct {
	KVBackend   string `mapstructure:"MP_KV_BACKEND"` // "memory", "redis"
	RedisURL    string `mapstructure:"MP_REDIS_URL"`
	PostgresDSN string `mapstructure:"MP_POSTGRES_DSN"` // optional, enables the event archive
	AutoMigrate bool   `mapstructure:"MP_AUTO_MIGRATE"`
}

type SecurityConfig struct {
	RateLimitRPM       int           `mapstructure:"MP_RATE_LIMIT_RPM"`
	CORSAllowedOrigins []string      `mapstructure:"MP_CORS_ALLOWED_ORIGINS"`
	IdempotencyTTL     time.Duration `mapstructure:"MP_IDEMPOTENCY_TTL"`
}

const (
	devMarketAddress = "0x000000000000000000000000000000000000e4e4"
	devAdminAddress  = "0x000000000000000000000000000000000000ad01"
)

var listKeys = []string{"MP_ADMIN_ADDRESSES", "MP_ALLOWED_CURRENCIES", "MP_CORS_ALLOWED_ORIGINS"}

func loadDotEnvFiles() {
	candidates := []string{
		".env",
		filepath.Join("..", ".env"),
	}

	seen := make(map[string]struct{})
	for _, path := range candidates {
		abs := path
		if resolved, err := filepath.Abs(path); err == nil {
			abs = resolved
		}
		if _, ok := seen[abs]; ok {
			continue
		}
		seen[abs] = struct{}{}

		if _, err := os.Stat(path); err == nil {
			_ = gotenv.Load(path) // env vars already set take precedence
		}
	}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("MP_ENV", "dev")
	v.SetDefault("MP_HTTP_ADDR", ":8080")
	v.SetDefault("MP_LOG_LEVEL", "")
	v.SetDefault("MP_MARKET_ADDRESS", devMarketAddress)
	v.SetDefault("MP_ADMIN_ADDRESSES", devAdminAddress)
	v.SetDefault("MP_FEE_RATE", 15)
	v.SetDefault("MP_ALLOWED_CURRENCIES", "")
	v.SetDefault("MP_NATIVE_DECIMALS", 18)
	v.SetDefault("MP_TOKEN_DECIMALS", 18)
	v.SetDefault("MP_DEV_ENDPOINTS", false)
	v.SetDefault("MP_KV_BACKEND", "memory")
	v.SetDefault("MP_REDIS_URL", "redis://127.0.0.1:6379/0")
	v.SetDefault("MP_POSTGRES_DSN", "")
	v.SetDefault("MP_AUTO_MIGRATE", false)
	v.SetDefault("MP_RATE_LIMIT_RPM", 120)
	v.SetDefault("MP_CORS_ALLOWED_ORIGINS", "http://localhost:3000,http://localhost:5173")
	v.SetDefault("MP_IDEMPOTENCY_TTL", "10m")
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func Load() (*Config, error) {
	loadDotEnvFiles()

	v := viper.New()
	v.SetConfigType("env")
	v.AutomaticEnv()
	setDefaults(v)

	// Handle array parsing for comma-separated values
	for _, key := range listKeys {
		v.Set(key, splitList(v.GetString(key)))
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

func (c *Config) validate() error {
	switch c.Env {
	case "dev", "test", "prod":
	default:
		return fmt.Errorf("invalid MP_ENV %q (must be dev, test, or prod)", c.Env)
	}

	m := &c.Market
	addr, err := marketplace.ParseAddress(m.Address)
	if err != nil {
		return fmt.Errorf("MP_MARKET_ADDRESS: %w", err)
	}
	if addr.IsNative() {
		return fmt.Errorf("MP_MARKET_ADDRESS must not be the zero address")
	}
	m.EngineAddress = addr

	if len(m.AdminAddresses) == 0 {
		return fmt.Errorf("MP_ADMIN_ADDRESSES is required")
	}
	m.Admins = m.Admins[:0]
	for _, s := range m.AdminAddresses {
		a, err := marketplace.ParseAddress(s)
		if err != nil {
			return fmt.Errorf("MP_ADMIN_ADDRESSES: %w", err)
		}
		m.Admins = append(m.Admins, a)
	}
	m.Currencies = m.Currencies[:0]
	for _, s := range m.AllowedCurrencies {
		cur, err := marketplace.ParseAddress(s)
		if err != nil {
			return fmt.Errorf("MP_ALLOWED_CURRENCIES: %w", err)
		}
		m.Currencies = append(m.Currencies, cur)
	}

	if m.FeeRate < 0 || m.FeeRate > calc.MaxFeeRate {
		return fmt.Errorf("MP_FEE_RATE %d out of range 0-%d", m.FeeRate, calc.MaxFeeRate)
	}
	if m.NativeDecimals < 0 || m.NativeDecimals > 36 || m.TokenDecimals < 0 || m.TokenDecimals > 36 {
		return fmt.Errorf("decimals must be between 0 and 36")
	}

	switch c.Storage.KVBackend {
	case "memory":
	case "redis":
		if c.Storage.RedisURL == "" {
			return fmt.Errorf("MP_REDIS_URL is required when MP_KV_BACKEND=redis")
		}
	default:
		return fmt.Errorf("invalid MP_KV_BACKEND %q (must be memory or redis)", c.Storage.KVBackend)
	}
	if c.Storage.AutoMigrate && c.Storage.PostgresDSN == "" {
		return fmt.Errorf("MP_AUTO_MIGRATE requires MP_POSTGRES_DSN")
	}

	if c.Security.RateLimitRPM <= 0 {
		return fmt.Errorf("MP_RATE_LIMIT_RPM must be positive")
	}
	if c.Security.IdempotencyTTL <= 0 {
		return fmt.Errorf("MP_IDEMPOTENCY_TTL must be positive")
	}

	if c.IsProd() && m.DevEndpoints {
		return fmt.Errorf("MP_DEV_ENDPOINTS cannot be enabled in prod")
	}
	if c.IsProd() && m.Address == devMarketAddress {
		return fmt.Errorf("MP_MARKET_ADDRESS must be set explicitly in prod")
	}
	return nil
}

// GlobalFeeRate returns the validated fee rate.
func (m *MarketConfig) GlobalFeeRate() uint8 {
	return uint8(m.FeeRate)
}

// DecimalsFor returns the display decimals of currency.
func (m *MarketConfig) DecimalsFor(currency marketplace.Address) int32 {
	if currency.IsNative() {
		return m.NativeDecimals
	}
	return m.TokenDecimals
}

func (c *Config) IsDev() bool {
	return c.Env == "dev"
}

func (c *Config) IsProd() bool {
	return c.Env == "prod"
}
