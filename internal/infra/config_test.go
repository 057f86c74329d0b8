package infra

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Defaults(t *testing.T) {
	// Файла config.yaml в тестовой директории нет — работаем на дефолтах
	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, 24.0, cfg.PoI.ExpirationHours)
	assert.Equal(t, "medium", cfg.PoI.DefaultRiskContext)
	assert.Equal(t, 600*time.Second, cfg.PoI.ClockSkew)
	assert.False(t, cfg.PoI.RequireCertChain)
	assert.Equal(t, "info", cfg.Logger.Level)
	assert.Equal(t, "json", cfg.Logger.Format)
	assert.Equal(t, 10000, cfg.Storage.BufferSize)
}

func TestLoadConfig_LegacyEnv(t *testing.T) {
	t.Setenv("POI_PRIVATE_KEY_PATH", "test_keys/private_key.pem")
	t.Setenv("POI_EC_CERTIFICATE_PATH", "test_certs/ec_certificate.pem")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "test_keys/private_key.pem", cfg.Keys.RSAPrivateKeyPath)
	assert.Equal(t, "test_certs/ec_certificate.pem", cfg.Keys.ECCertificatePath)
}

func TestNewLogger(t *testing.T) {
	logger, err := NewLogger(LoggerConfig{Level: "debug", Format: "console"})
	require.NoError(t, err)
	require.NotNil(t, logger)

	_, err = NewLogger(LoggerConfig{Level: "verbose"})
	assert.Error(t, err)
}
