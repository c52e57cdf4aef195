package config

import (
	"strings"
	"time"

	"github.com/samber/lo"
)

// CurrentConfigVersion is the schema version for the config file.
// Increment when making breaking changes to the config structure.
const CurrentConfigVersion = 1

// Output formats accepted by output.format and --format.
const (
	FormatTable = "table"
	FormatJSON  = "json"
	FormatCSV   = "csv"
)

// Config represents the complete hosts.yaml configuration file.
type Config struct {
	Version    int              `yaml:"version" mapstructure:"version" validate:"gte=0"`
	Bastion    Bastion          `yaml:"bastion" mapstructure:"bastion"`
	Targets    []Target         `yaml:"targets" mapstructure:"targets" validate:"dive"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
	Docker     DockerConfig     `yaml:"docker" mapstructure:"docker"`
	Output     OutputConfig     `yaml:"output" mapstructure:"output"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// Bastion is the single jump host every target is reached through.
type Bastion struct {
	Host string `yaml:"host" mapstructure:"host" validate:"required"`
	Port int    `yaml:"port" mapstructure:"port" validate:"min=1,max=65535"`
	User string `yaml:"user" mapstructure:"user" validate:"required"`

	// Exactly one of KeyFile or Password must be set.
	KeyFile  string `yaml:"key_file,omitempty" mapstructure:"key_file" validate:"required_without=Password,excluded_with=Password"`
	Password string `yaml:"password,omitempty" mapstructure:"password" validate:"required_without=KeyFile,excluded_with=KeyFile"`

	// KnownHosts enables host key verification for the bastion and every
	// target. When empty, host keys are not checked.
	KnownHosts string `yaml:"known_hosts,omitempty" mapstructure:"known_hosts"`
}

// Target is one monitored host behind the bastion.
type Target struct {
	Name string `yaml:"name" mapstructure:"name" validate:"required"`
	Host string `yaml:"host" mapstructure:"host" validate:"required"`
	Port int    `yaml:"port" mapstructure:"port" validate:"min=1,max=65535"`
	User string `yaml:"user" mapstructure:"user" validate:"required"`

	KeyFile  string `yaml:"key_file,omitempty" mapstructure:"key_file" validate:"required_without=Password,excluded_with=Password"`
	Password string `yaml:"password,omitempty" mapstructure:"password" validate:"required_without=KeyFile,excluded_with=KeyFile"`

	// Tags for filtering targets with --tags.
	Tags []string `yaml:"tags,omitempty" mapstructure:"tags"`

	// Enabled defaults to true when omitted.
	Enabled *bool `yaml:"enabled,omitempty" mapstructure:"enabled"`
}

// IsEnabled reports whether the target takes part in collection.
func (t Target) IsEnabled() bool {
	return t.Enabled == nil || *t.Enabled
}

// HasAnyTag reports whether the target carries at least one of tags.
func (t Target) HasAnyTag(tags []string) bool {
	return lo.SomeBy(tags, func(tag string) bool {
		return lo.Contains(t.Tags, tag)
	})
}

// MonitoringConfig holds the collection tuning knobs.
type MonitoringConfig struct {
	// CommandTimeout bounds a single remote command attempt.
	CommandTimeout time.Duration `yaml:"command_timeout" mapstructure:"command_timeout" validate:"gt=0"`

	// ConnectTimeout bounds connecting to one target, bastion included.
	ConnectTimeout time.Duration `yaml:"connect_timeout" mapstructure:"connect_timeout" validate:"gt=0"`

	MaxConcurrentConnections int `yaml:"max_concurrent_connections" mapstructure:"max_concurrent_connections" validate:"min=1"`

	// MaxRetries is the total number of attempts for a retryable command.
	MaxRetries int           `yaml:"max_retries" mapstructure:"max_retries" validate:"min=1"`
	RetryDelay time.Duration `yaml:"retry_delay" mapstructure:"retry_delay" validate:"gte=0"`

	// RefreshInterval is the dashboard auto-refresh period.
	RefreshInterval time.Duration `yaml:"refresh_interval" mapstructure:"refresh_interval" validate:"gt=0"`

	// AbortOnTargetAuthFailure cancels the rest of a cycle when any target
	// rejects credentials. Off by default: auth failures stay per host.
	AbortOnTargetAuthFailure bool `yaml:"abort_on_target_auth_failure" mapstructure:"abort_on_target_auth_failure"`
}

// DockerConfig describes the container runtime on the targets.
type DockerConfig struct {
	Bin          string        `yaml:"bin" mapstructure:"bin" validate:"required"`
	StatsTimeout time.Duration `yaml:"stats_timeout" mapstructure:"stats_timeout" validate:"gt=0"`
}

// OutputConfig controls report rendering.
type OutputConfig struct {
	// Format is "table", "json" or "csv".
	Format string `yaml:"format" mapstructure:"format" validate:"oneof=table json csv"`

	// Dir is where --save writes timestamped reports.
	Dir string `yaml:"dir" mapstructure:"dir"`
}

// LogConfig controls the process logger.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level" validate:"omitempty,oneof=debug info warn error"`
	Format string `yaml:"format" mapstructure:"format" validate:"omitempty,oneof=console json"`
	File   string `yaml:"file,omitempty" mapstructure:"file"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Version: CurrentConfigVersion,
		Bastion: Bastion{
			Port: 22,
		},
		Targets: []Target{},
		Monitoring: MonitoringConfig{
			CommandTimeout:           30 * time.Second,
			ConnectTimeout:           60 * time.Second,
			MaxConcurrentConnections: 5,
			MaxRetries:               3,
			RetryDelay:               5 * time.Second,
			RefreshInterval:          60 * time.Second,
		},
		Docker: DockerConfig{
			Bin:          "/usr/bin/docker",
			StatsTimeout: 60 * time.Second,
		},
		Output: OutputConfig{
			Format: FormatTable,
			Dir:    "./output",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// TargetsFor returns the enabled targets in configuration order. With tags,
// a target is kept when it carries any of them.
func (c *Config) TargetsFor(tags []string) []Target {
	tags = lo.Compact(lo.Map(tags, func(t string, _ int) string {
		return strings.TrimSpace(t)
	}))
	return lo.Filter(c.Targets, func(t Target, _ int) bool {
		if !t.IsEnabled() {
			return false
		}
		return len(tags) == 0 || t.HasAnyTag(tags)
	})
}

// TargetByName finds a target by name regardless of its enabled flag.
func (c *Config) TargetByName(name string) (Target, bool) {
	return lo.Find(c.Targets, func(t Target) bool {
		return t.Name == name
	})
}

// TargetNames lists every configured target name.
func (c *Config) TargetNames() []string {
	return lo.Map(c.Targets, func(t Target, _ int) string { return t.Name })
}
