package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leafsii/marketplace/internal/marketplace"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.True(t, cfg.IsDev())
	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, uint8(15), cfg.Market.GlobalFeeRate())
	assert.Equal(t, marketplace.Address(devMarketAddress), cfg.Market.EngineAddress)
	assert.Equal(t, []marketplace.Address{devAdminAddress}, cfg.Market.Admins)
	assert.Empty(t, cfg.Market.Currencies)
	assert.Equal(t, "memory", cfg.Storage.KVBackend)
	assert.Equal(t, 10*time.Minute, cfg.Security.IdempotencyTTL)
	assert.Equal(t, []string{"http://localhost:3000", "http://localhost:5173"}, cfg.Security.CORSAllowedOrigins)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("MP_ENV", "test")
	t.Setenv("MP_FEE_RATE", "5")
	t.Setenv("MP_ADMIN_ADDRESSES", "0x00000000000000000000000000000000000000A1, 0x00000000000000000000000000000000000000a2")
	t.Setenv("MP_ALLOWED_CURRENCIES", "0x00000000000000000000000000000000000000f1")
	t.Setenv("MP_KV_BACKEND", "redis")
	t.Setenv("MP_REDIS_URL", "redis://cache:6379/1")
	t.Setenv("MP_IDEMPOTENCY_TTL", "30s")
	t.Setenv("MP_DEV_ENDPOINTS", "true")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, uint8(5), cfg.Market.GlobalFeeRate())
	assert.Equal(t, []marketplace.Address{
		"0x00000000000000000000000000000000000000a1",
		"0x00000000000000000000000000000000000000a2",
	}, cfg.Market.Admins)
	assert.Equal(t, []marketplace.Address{"0x00000000000000000000000000000000000000f1"}, cfg.Market.Currencies)
	assert.Equal(t, "redis://cache:6379/1", cfg.Storage.RedisURL)
	assert.Equal(t, 30*time.Second, cfg.Security.IdempotencyTTL)
	assert.True(t, cfg.Market.DevEndpoints)
}

func TestLoadRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"fee rate too high", map[string]string{"MP_FEE_RATE": "101"}},
		{"bad admin", map[string]string{"MP_ADMIN_ADDRESSES": "alice"}},
		{"zero market address", map[string]string{"MP_MARKET_ADDRESS": string(marketplace.NativeCurrency)}},
		{"unknown backend", map[string]string{"MP_KV_BACKEND": "etcd"}},
		{"unknown env", map[string]string{"MP_ENV": "staging"}},
		{"dev endpoints in prod", map[string]string{
			"MP_ENV": "prod", "MP_DEV_ENDPOINTS": "true",
			"MP_MARKET_ADDRESS": "0x00000000000000000000000000000000000000e1",
		}},
		{"default market address in prod", map[string]string{"MP_ENV": "prod"}},
		{"auto migrate without dsn", map[string]string{"MP_AUTO_MIGRATE": "true"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			assert.Error(t, err)
		})
	}
}

func TestDecimalsFor(t *testing.T) {
	m := MarketConfig{NativeDecimals: 18, TokenDecimals: 6}
	assert.Equal(t, int32(18), m.DecimalsFor(marketplace.NativeCurrency))
	assert.Equal(t, int32(6), m.DecimalsFor("0x00000000000000000000000000000000000000f1"))
}
