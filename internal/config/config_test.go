// File: internal/config/config_test.go
package config

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

// -- Constructor and Defaults Tests --

func TestNewDefaultConfig(t *testing.T) {
	cfg := NewDefaultConfig()

	assert.Equal(t, "info", cfg.Logger.Level)
	assert.Equal(t, BackendChromedp, cfg.Browser.Backend)
	assert.Equal(t, 60*time.Second, cfg.Browser.ImplicitWait)
	assert.Equal(t, 480*time.Second, cfg.Browser.PageLoadTimeout)
	assert.Equal(t, []string{"起業", "独立"}, cfg.Navigator.Tags)
	assert.Equal(t, 3, cfg.Engagement.Budget.Min)
	assert.Equal(t, 5, cfg.Engagement.Budget.Max)
	assert.Equal(t, 2*time.Second, cfg.Engagement.EntrySettle.Min)
	assert.Equal(t, 10*time.Second, cfg.Engagement.EntrySettle.Max)
	assert.Equal(t, 15*time.Second, cfg.Engagement.AdvanceBackoff.Upper.Max)
	assert.Equal(t, 20*time.Minute, cfg.Schedule.CoolDown.Lower.Min)
	assert.Equal(t, 50*time.Minute, cfg.Schedule.CoolDown.Upper.Max)
	assert.Equal(t, "aria-label", cfg.Engagement.StateAttribute)
	assert.Empty(t, cfg.Database.Driver)
	assert.False(t, cfg.Status.Enabled)

	require.NoError(t, cfg.Validate(), "defaults must always validate")
}

// -- Validation Logic Tests --

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"empty tag set", func(c *Config) { c.Navigator.Tags = nil }, "tags must contain at least one tag"},
		{"blank tag", func(c *Config) { c.Navigator.Tags = []string{"ok", "  "} }, "blank entries"},
		{"zero budget", func(c *Config) { c.Engagement.Budget.Min = 0 }, "budget.min must be at least 1"},
		{"inverted budget", func(c *Config) { c.Engagement.Budget.Max = 2 }, "budget:"},
		{"unknown backend", func(c *Config) { c.Browser.Backend = "selenium" }, "unknown backend"},
		{"zero implicit wait", func(c *Config) { c.Browser.ImplicitWait = 0 }, "implicit_wait"},
		{"zero page load timeout", func(c *Config) { c.Browser.PageLoadTimeout = 0 }, "page_load_timeout"},
		{"non-positive cooldown", func(c *Config) { c.Schedule.CoolDown.Lower.Min = 0 }, "strictly positive"},
		{"inverted cooldown", func(c *Config) { c.Schedule.CoolDown.Upper.Max = time.Minute }, "cooldown:"},
		{"negative settle", func(c *Config) { c.Engagement.EntrySettle.Min = -time.Second }, "entry_settle"},
		{"negative throttle", func(c *Config) { c.Engagement.MaxActionsPerHour = -1 }, "max_actions_per_hour"},
		{"unknown db driver", func(c *Config) { c.Database.Driver = "mysql" }, "unknown driver"},
		{"db driver without url", func(c *Config) { c.Database.Driver = DriverPostgres }, "url is required"},
		{"status without addr", func(c *Config) { c.Status.Enabled = true; c.Status.Addr = "" }, "status.addr"},
		{"missing journal", func(c *Config) { c.Journal.Path = "" }, "journal.path"},
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

	t.Run("sqlite with url is valid", func(t *testing.T) {
		cfg := NewDefaultConfig()
		cfg.Database = DatabaseConfig{Driver: DriverSQLite, URL: "history.db"}
		assert.NoError(t, cfg.Validate())
	})
}

func TestHasCredentials(t *testing.T) {
	assert.False(t, AccountConfig{}.HasCredentials())
	assert.False(t, AccountConfig{Username: "u"}.HasCredentials())
	assert.True(t, AccountConfig{Username: "u", Password: "p"}.HasCredentials())
}

// -- Factory Function Tests --

func TestNewConfigFromViper(t *testing.T) {
	t.Run("Successful Load from YAML", func(t *testing.T) {
		yamlBytes := []byte(`
navigator:
  tags: ["golang", "gopher"]
engagement:
  budget:
    min: 1
    max: 2
  advance_backoff:
    lower:
      min: 1s
      max: 2s
schedule:
  cooldown:
    lower:
      min: 1m
      max: 2m
    upper:
      min: 3m
      max: 4m
`)
		v := viper.New()
		SetDefaults(v)
		v.SetConfigType("yaml")
		require.NoError(t, v.ReadConfig(bytes.NewBuffer(yamlBytes)))

		cfg, err := NewConfigFromViper(v)
		require.NoError(t, err)

		assert.Equal(t, []string{"golang", "gopher"}, cfg.Navigator.Tags)
		assert.Equal(t, 2, cfg.Engagement.Budget.Max)
		assert.Equal(t, time.Second, cfg.Engagement.AdvanceBackoff.Lower.Min)
		// Untouched siblings keep their defaults.
		assert.Equal(t, 10*time.Second, cfg.Engagement.AdvanceBackoff.Upper.Min)
		assert.Equal(t, 3*time.Minute, cfg.Schedule.CoolDown.Upper.Min)
		assert.Equal(t, "info", cfg.Logger.Level)
	})

	t.Run("Validation Failure", func(t *testing.T) {
		v := viper.New()
		SetDefaults(v)
		v.Set("engagement.budget.min", 0)

		cfg, err := NewConfigFromViper(v)
		assert.Error(t, err)
		assert.Nil(t, cfg)
		assert.Contains(t, err.Error(), "invalid configuration")
		assert.Contains(t, err.Error(), "budget.min must be at least 1")
	})

	t.Run("Environment Variable Binding", func(t *testing.T) {
		t.Setenv("CADENCE_ACCOUNT_USERNAME", "bot-account")
		t.Setenv("CADENCE_ACCOUNT_PASSWORD", "s3cret")

		v := viper.New()
		SetDefaults(v)
		cfg, err := NewConfigFromViper(v)
		require.NoError(t, err)

		assert.Equal(t, "bot-account", cfg.Account.Username)
		assert.Equal(t, "s3cret", cfg.Account.Password)
		assert.True(t, cfg.Account.HasCredentials())
	})

	t.Run("Home Directory Expansion", func(t *testing.T) {
		home, err := homedir.Dir()
		if err != nil {
			t.Skip("no home directory available")
		}
		v := viper.New()
		SetDefaults(v)
		v.Set("journal.path", "~/cadence/journal.txt")

		cfg, err := NewConfigFromViper(v)
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(home, "cadence", "journal.txt"), cfg.Journal.Path)
	})
}

func TestSecretsAreNotSerialized(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Account = AccountConfig{Username: "visible-user", Password: "hidden-pass"}
	cfg.Database = DatabaseConfig{Driver: DriverPostgres, URL: "postgres://u:p@db/cadence"}

	out, err := yaml.Marshal(cfg)
	require.NoError(t, err)

	assert.NotContains(t, string(out), "visible-user")
	assert.NotContains(t, string(out), "hidden-pass")
	assert.NotContains(t, string(out), "postgres://")
	assert.Contains(t, string(out), "driver: postgres")
}

func TestReadConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("browser:\n  backend: rod\n  headless: false\n"), 0o600))

	v := viper.New()
	SetDefaults(v)
	v.SetConfigFile(path)
	require.NoError(t, v.ReadInConfig())

	cfg, err := NewConfigFromViper(v)
	require.NoError(t, err)
	assert.Equal(t, BackendRod, cfg.Browser.Backend)
	assert.False(t, cfg.Browser.Headless)
}
