package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("SERVICE_NAME", "")
	t.Setenv("HTTP_PORT", "")
	t.Setenv("OFFER_MAX_TTL", "")
	t.Setenv("WS_MAX_CONNECTIONS", "")
	t.Setenv("KAFKA_BROKERS", "")
	cfg := Load("pago-server")

	assert.Equal(t, "pago-server", cfg.ServiceName)
	assert.Equal(t, "4000", cfg.HTTPPort)
	assert.Equal(t, 180*time.Second, cfg.OfferMaxTTL)
	assert.Equal(t, 1000, cfg.MaxConnections)
	assert.Empty(t, cfg.Brokers())
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("SERVICE_NAME", "")
	t.Setenv("OFFER_MAX_TTL", "30s")
	t.Setenv("OFFER_DEFAULT_TTL", "2m")
	t.Setenv("WS_MAX_CONNECTIONS", "5")
	t.Setenv("KAFKA_BROKERS", "a:9092, b:9092,")
	t.Setenv("ALLOWED_ORIGINS", "https://gallera.example")
	cfg := Load("pago-server")

	assert.Equal(t, 30*time.Second, cfg.OfferMaxTTL)
	// default ttl never exceeds the ceiling
	assert.Equal(t, 30*time.Second, cfg.OfferDefaultTTL)
	assert.Equal(t, 5, cfg.MaxConnections)
	assert.Equal(t, []string{"a:9092", "b:9092"}, cfg.Brokers())
	assert.Equal(t, []string{"https://gallera.example"}, cfg.AllowedOrigins)
}

func TestLoadFreezerPorts(t *testing.T) {
	t.Setenv("SERVICE_NAME", "")
	t.Setenv("METRICS_PORT_FREEZER", "")
	cfg := Load("wallet-freezer")
	assert.Equal(t, "", cfg.HTTPPort)
	assert.Equal(t, "9096", cfg.MetricsPort)
}
