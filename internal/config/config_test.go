package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg := Load()

	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, AIBackendAgent, cfg.AIBackend)
	assert.Equal(t, StoreBackendAPI, cfg.StoreBackend)
	assert.Equal(t, 50, cfg.MaxDeclarations)
	assert.True(t, cfg.DefaultUnitAmount.Equal(decimal.NewFromInt(15000)))
	assert.Equal(t, 30*time.Minute, cfg.SessionTTL)
	assert.Empty(t, cfg.ReproductionTaxTypeIDs)
	require.NoError(t, cfg.Validate())
}

func TestLoad_FromEnv(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("DEFAULT_UNIT_AMOUNT", "20000.50")
	t.Setenv("REPRODUCTION_TAX_TYPE_IDS", " repro-card, ,dup-card ")
	t.Setenv("AUTH_ENABLED", "true")
	t.Setenv("SESSION_TTL", "10m")
	t.Setenv("MAX_RETRIES", "not-a-number")

	cfg := Load()

	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, "20000.5", cfg.DefaultUnitAmount.String())
	assert.Equal(t, []string{"repro-card", "dup-card"}, cfg.ReproductionTaxTypeIDs)
	assert.True(t, cfg.AuthEnabled)
	assert.Equal(t, 10*time.Minute, cfg.SessionTTL)
	assert.Equal(t, 3, cfg.MaxRetries, "invalid value falls back to default")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"gemini without key", func(c *Config) { c.AIBackend = AIBackendGemini }, "GEMINI_API_KEY"},
		{"unknown ai backend", func(c *Config) { c.AIBackend = "oracle" }, "unknown AI_BACKEND"},
		{"postgres without url", func(c *Config) { c.StoreBackend = StoreBackendPostgres }, "DATABASE_URL"},
		{"slack without channel", func(c *Config) { c.SlackBotToken = "xoxb-1" }, "SLACK_CHANNEL"},
		{"zero max declarations", func(c *Config) { c.MaxDeclarations = 0 }, "MAX_DECLARATIONS"},
		{"negative unit amount", func(c *Config) { c.DefaultUnitAmount = decimal.NewFromInt(-1) }, "DEFAULT_UNIT_AMOUNT"},
		{"short jwt secret", func(c *Config) { c.AuthEnabled = true; c.JWTSecret = "short" }, "JWT_SECRET"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Load()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadDotEnv_DoesNotOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(path, []byte("# portal\nPORTAL_TEST_A=from-file\nPORTAL_TEST_B=\"quoted\"\n"), 0o600))

	t.Setenv("PORTAL_TEST_A", "from-env")
	t.Cleanup(func() { os.Unsetenv("PORTAL_TEST_B") })

	require.NoError(t, LoadDotEnv(path))
	assert.Equal(t, "from-env", os.Getenv("PORTAL_TEST_A"))
	assert.Equal(t, "quoted", os.Getenv("PORTAL_TEST_B"))
}

func TestLoadDotEnv_MissingFile(t *testing.T) {
	assert.NoError(t, LoadDotEnv(filepath.Join(t.TempDir(), "absent.env")))
}
