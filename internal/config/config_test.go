// File: internal/config/config_test.go
package config

import (
	"bytes"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// -- Constructor and Defaults Tests --

func TestNewDefaultConfig(t *testing.T) {
	cfg := NewDefaultConfig()

	assert.Equal(t, "info", cfg.Logger.Level)
	assert.Equal(t, 250, cfg.Fill.DelayMs)
	assert.Equal(t, 250*time.Millisecond, cfg.Fill.FieldDelay())
	assert.True(t, cfg.Fill.Verbose)
	assert.False(t, cfg.Fill.AutoMode)
	assert.Equal(t, 5, cfg.Fill.DropdownMaxAttempts)
	assert.Equal(t, 200*time.Millisecond, cfg.Fill.DropdownRetryDelay)
	assert.Equal(t, 8*time.Second, cfg.Fill.SearchTimeout)
	assert.Equal(t, 300*time.Millisecond, cfg.Fill.SubmitDelay)
	assert.Equal(t, "Child Name", cfg.Columns.Name)
	assert.Equal(t, "Discounts", cfg.Columns.Discount)
	assert.Equal(t, "0", cfg.Columns.NoSelection)
	assert.Equal(t, "//a[@aria-label='Next page']", cfg.Selectors.NextPage)
	assert.Contains(t, cfg.Selectors.Type, "' child-type '")
	assert.Equal(t, "file", cfg.Store.Backend)
	assert.NotEmpty(t, cfg.Store.Path)

	require.NoError(t, cfg.Validate(), "defaults must validate")
}

// -- Validation Logic Tests --

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{
			name:    "negative fill delay",
			mutate:  func(c *Config) { c.Fill.DelayMs = -1 },
			wantErr: "delay_ms must be zero or greater",
		},
		{
			name:    "zero dropdown attempts",
			mutate:  func(c *Config) { c.Fill.DropdownMaxAttempts = 0 },
			wantErr: "dropdown_max_attempts must be a positive integer",
		},
		{
			name:    "unbounded search",
			mutate:  func(c *Config) { c.Fill.SearchTimeout = 0 },
			wantErr: "search_timeout must be a positive duration",
		},
		{
			name:    "no page ceiling",
			mutate:  func(c *Config) { c.Fill.MaxPages = 0 },
			wantErr: "max_pages must be a positive integer",
		},
		{
			name:    "missing name column",
			mutate:  func(c *Config) { c.Columns.Name = "" },
			wantErr: "columns.name is required",
		},
		{
			name:    "missing row selector",
			mutate:  func(c *Config) { c.Selectors.Rows = "" },
			wantErr: "rows selector is required",
		},
		{
			name:    "postgres without url",
			mutate:  func(c *Config) { c.Store.Backend = "postgres" },
			wantErr: "database_url is required",
		},
		{
			name:    "unknown backend",
			mutate:  func(c *Config) { c.Store.Backend = "redis" },
			wantErr: "unknown backend",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewDefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}

	t.Run("zero delay is allowed", func(t *testing.T) {
		cfg := NewDefaultConfig()
		cfg.Fill.DelayMs = 0
		assert.NoError(t, cfg.Validate())
	})
}

// -- Factory Function Tests --

func TestNewConfigFromViper(t *testing.T) {
	t.Run("Successful Load from YAML", func(t *testing.T) {
		yamlBytes := []byte(`
fill:
  delay_ms: 400
  auto_mode: true
  search_timeout: 5s
columns:
  name: "Student"
`)
		v := viper.New()
		SetDefaults(v)
		v.SetConfigType("yaml")
		require.NoError(t, v.ReadConfig(bytes.NewBuffer(yamlBytes)))

		cfg, err := NewConfigFromViper(v)
		require.NoError(t, err)

		assert.Equal(t, 400, cfg.Fill.DelayMs)
		assert.True(t, cfg.Fill.AutoMode)
		assert.Equal(t, 5*time.Second, cfg.Fill.SearchTimeout)
		assert.Equal(t, "Student", cfg.Columns.Name)
		// Defaults survive alongside overrides.
		assert.Equal(t, "Child Type", cfg.Columns.Type)
	})

	t.Run("Validation Failure", func(t *testing.T) {
		v := viper.New()
		SetDefaults(v)
		v.Set("fill.dropdown_max_attempts", 0)

		cfg, err := NewConfigFromViper(v)
		assert.Error(t, err)
		assert.Nil(t, cfg)
		assert.Contains(t, err.Error(), "invalid configuration")
	})

	t.Run("Environment Variable Binding", func(t *testing.T) {
		v := viper.New()
		SetDefaults(v)
		v.Set("store.backend", "postgres")

		testDBURL := "postgres://envvar/db"
		t.Setenv("ROSTERFILL_DATABASE_URL", testDBURL)

		cfg, err := NewConfigFromViper(v)
		require.NoError(t, err)
		assert.Equal(t, testDBURL, cfg.Store.DatabaseURL)
	})
}
