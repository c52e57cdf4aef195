package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

const fileHeader = `# dockhop hosts file.
# Every target is reached through the bastion. Set exactly one of key_file
# or password for the bastion and for each target.
`

// Marshal renders cfg as a hosts.yaml document.
func Marshal(cfg *Config) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(fileHeader)

	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(cfg); err != nil {
		return nil, fmt.Errorf("failed to encode config: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("failed to encode config: %w", err)
	}
	return buf.Bytes(), nil
}

// Save writes cfg to path. It refuses to overwrite unless force is set.
func Save(path string, cfg *Config, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%s already exists", path)
		}
	}

	data, err := Marshal(cfg)
	if err != nil {
		return err
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}

	// Passwords may live in here.
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// yaml.v3 writes time.Duration as nanoseconds, so durations are rendered as
// strings the loader parses back.

type monitoringYAML struct {
	CommandTimeout           string `yaml:"command_timeout"`
	ConnectTimeout           string `yaml:"connect_timeout"`
	MaxConcurrentConnections int    `yaml:"max_concurrent_connections"`
	MaxRetries               int    `yaml:"max_retries"`
	RetryDelay               string `yaml:"retry_delay"`
	RefreshInterval          string `yaml:"refresh_interval"`
	AbortOnTargetAuthFailure bool   `yaml:"abort_on_target_auth_failure"`
}

// MarshalYAML implements yaml.Marshaler.
func (m MonitoringConfig) MarshalYAML() (interface{}, error) {
	return monitoringYAML{
		CommandTimeout:           m.CommandTimeout.String(),
		ConnectTimeout:           m.ConnectTimeout.String(),
		MaxConcurrentConnections: m.MaxConcurrentConnections,
		MaxRetries:               m.MaxRetries,
		RetryDelay:               m.RetryDelay.String(),
		RefreshInterval:          m.RefreshInterval.String(),
		AbortOnTargetAuthFailure: m.AbortOnTargetAuthFailure,
	}, nil
}

type dockerYAML struct {
	Bin          string `yaml:"bin"`
	StatsTimeout string `yaml:"stats_timeout"`
}

// MarshalYAML implements yaml.Marshaler.
func (d DockerConfig) MarshalYAML() (interface{}, error) {
	return dockerYAML{Bin: d.Bin, StatsTimeout: d.StatsTimeout.String()}, nil
}
