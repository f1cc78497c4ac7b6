package httpapi

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDefaultConfigIsValid(t *testing.T) {
	cfg := NewDefaultConfig()
	assert.NoError(t, cfg.validate())
}

func TestConfigValidateRejectsBadPort(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Server.Port = 0
	assert.Error(t, cfg.validate())
	cfg.Server.Port = 70000
	assert.Error(t, cfg.validate())
}

func TestConfigValidateRejectsBadLoggingLevel(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Logging.Level = "verbose"
	assert.Error(t, cfg.validate())
}

func TestConfigValidateRejectsNonPositiveThresholds(t *testing.T) {
	base := NewDefaultConfig()

	cfg := *base
	cfg.Server.MaxRequestBytes = 0
	assert.Error(t, cfg.validate(), "zero max_request_bytes should fail validation")

	cfg = *base
	cfg.Security.MaxRequestsPerMinute = 0
	assert.Error(t, cfg.validate(), "zero max_requests_per_minute should fail validation")

	cfg = *base
	cfg.Security.MaxConnectionsPerIP = 0
	assert.Error(t, cfg.validate(), "zero max_connections_per_ip should fail validation")

	cfg = *base
	cfg.Security.TokenLifetimeHours = 0
	assert.Error(t, cfg.validate(), "zero token_lifetime_hours should fail validation")
}

func TestConfigSetDefaultsFillsZeroValues(t *testing.T) {
	cfg := &Config{}
	cfg.setDefaults()
	def := NewDefaultConfig()
	assert.Equal(t, def.Server.Port, cfg.Server.Port)
	assert.Equal(t, def.Security.AdminPassword, cfg.Security.AdminPassword)
	assert.Equal(t, def.Logging.Level, cfg.Logging.Level)
}

func TestSaveAndLoadConfigRoundTrip(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Server.Port = 4242
	cfg.Security.RequireAuth = true
	cfg.Security.AdminPassword = "correct-horse-battery-staple"

	path := filepath.Join(t.TempDir(), "switchboard.yaml")
	require.NoError(t, SaveConfig(cfg, path))

	loaded, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 4242, loaded.Server.Port)
	assert.True(t, loaded.Security.RequireAuth)
	assert.Equal(t, "correct-horse-battery-staple", loaded.Security.AdminPassword)
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	assert.Error(t, err)
}

func TestUsesUnsafeDefaults(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Security.RequireAuth = false
	assert.False(t, cfg.UsesUnsafeDefaults(), "no warning expected when auth is not required")

	cfg.Security.RequireAuth = true
	assert.True(t, cfg.UsesUnsafeDefaults(), "warning expected when auth is required with default secrets still set")

	cfg.Security.AdminPassword = "something-else"
	cfg.Security.TokenSecret = "something-else-too"
	assert.False(t, cfg.UsesUnsafeDefaults(), "no warning expected once both secrets are overridden")
}

func TestCORSOriginHeader(t *testing.T) {
	cfg := NewDefaultConfig()
	assert.Equal(t, "*", cfg.CORSOriginHeader())

	cfg.Server.AllowedOrigins = []string{"https://a.example", "https://b.example"}
	assert.Equal(t, "https://a.example, https://b.example", cfg.CORSOriginHeader())
}
