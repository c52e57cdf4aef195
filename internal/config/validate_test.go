package config

import (
	"testing"
	"time"

	"github.com/rileyhilliard/dockhop/internal/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	cfg := DefaultConfig()
	cfg.Bastion = Bastion{Host: "jump", Port: 22, User: "ops", KeyFile: "/keys/jump"}
	cfg.Targets = []Target{
		{Name: "web-01", Host: "10.0.0.11", Port: 22, User: "ubuntu", KeyFile: "/keys/web"},
		{Name: "db-01", Host: "10.0.0.21", Port: 22, User: "ubuntu", Password: "pw"},
	}
	return cfg
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(*Config)
		wantError string
	}{
		{
			name:   "valid config",
			mutate: func(*Config) {},
		},
		{
			name:   "no targets is fine",
			mutate: func(c *Config) { c.Targets = nil },
		},
		{
			name:      "missing bastion host",
			mutate:    func(c *Config) { c.Bastion.Host = "" },
			wantError: "'bastion.host' is required",
		},
		{
			name:      "bastion without credentials",
			mutate:    func(c *Config) { c.Bastion.KeyFile = "" },
			wantError: "'bastion' needs either key_file or password",
		},
		{
			name:      "target with both credentials",
			mutate:    func(c *Config) { c.Targets[1].KeyFile = "/keys/db" },
			wantError: "'targets[1]' sets both key_file and password",
		},
		{
			name:      "target missing user",
			mutate:    func(c *Config) { c.Targets[0].User = "" },
			wantError: "'targets[0].user' is required",
		},
		{
			name:      "port out of range",
			mutate:    func(c *Config) { c.Targets[0].Port = 70000 },
			wantError: "'targets[0].port' must be at most 65535",
		},
		{
			name:      "zero concurrency",
			mutate:    func(c *Config) { c.Monitoring.MaxConcurrentConnections = 0 },
			wantError: "'monitoring.max_concurrent_connections' must be at least 1",
		},
		{
			name:      "zero retries",
			mutate:    func(c *Config) { c.Monitoring.MaxRetries = 0 },
			wantError: "'monitoring.max_retries' must be at least 1",
		},
		{
			name:      "zero command timeout",
			mutate:    func(c *Config) { c.Monitoring.CommandTimeout = 0 },
			wantError: "'monitoring.command_timeout' must be greater than 0",
		},
		{
			name:      "unknown output format",
			mutate:    func(c *Config) { c.Output.Format = "xml" },
			wantError: "'output.format' must be one of: table, json, csv",
		},
		{
			name:      "duplicate target names",
			mutate:    func(c *Config) { c.Targets[1].Name = "web-01" },
			wantError: "Target name 'web-01' is used twice",
		},
		{
			name:      "future version",
			mutate:    func(c *Config) { c.Version = CurrentConfigVersion + 1 },
			wantError: "from the future",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)

			err := Validate(cfg)
			if tt.wantError == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, errors.IsCode(err, errors.ErrConfig))
			assert.Contains(t, err.Error(), tt.wantError)
		})
	}
}

func TestValidate_Nil(t *testing.T) {
	err := Validate(nil)
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrConfig))
}

func TestValidateEndpoint(t *testing.T) {
	assert.NoError(t, ValidateEndpoint("bastion", "/k", ""))
	assert.NoError(t, ValidateEndpoint("bastion", "", "pw"))

	err := ValidateEndpoint("target 'web-01'", "", "")
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrConfig))
	assert.Contains(t, err.Error(), "no credentials")

	err = ValidateEndpoint("target 'web-01'", "/k", "pw")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "both")
}

func TestExpandTilde(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	assert.Equal(t, "", ExpandTilde(""))
	assert.Equal(t, home, ExpandTilde("~"))
	assert.Equal(t, home+"/.ssh/id", ExpandTilde("~/.ssh/id"))
	assert.Equal(t, "/abs/key", ExpandTilde("/abs/key"))
	assert.Equal(t, "~other/key", ExpandTilde("~other/key"))
}

func TestDurationsValidateAsDurations(t *testing.T) {
	cfg := validConfig()
	cfg.Monitoring.RetryDelay = 0
	assert.NoError(t, Validate(cfg), "zero retry delay is allowed")

	cfg.Monitoring.RetryDelay = -time.Second
	assert.Error(t, Validate(cfg))
}
