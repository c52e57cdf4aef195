package config

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/rileyhilliard/dockhop/internal/errors"
	"github.com/spf13/viper"
)

const (
	// ConfigFileName is the default config file name.
	ConfigFileName = "hosts.yaml"
	// LocalConfigDir is checked relative to the working directory.
	LocalConfigDir = "config"
	// GlobalConfigDir is the directory for the per-user config.
	GlobalConfigDir = ".config/dockhop"
	// EnvPrefix prefixes environment overrides, e.g. DOCKHOP_BASTION_HOST.
	EnvPrefix = "DOCKHOP"
)

// Load reads, defaults, and validates the config at path.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if os.IsNotExist(err) {
			return nil, errors.WrapWithCode(err, errors.ErrConfig,
				"Config file not found: "+path,
				"Run 'dockhop init' to create one, or point at it with --config")
		}
		return nil, errors.WrapWithCode(err, errors.ErrConfig,
			"Failed to read config file",
			"Check the file exists and is valid YAML")
	}

	cfg, err := parseConfig(v, path)
	if err != nil {
		return nil, err
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Find locates the config file using the search order:
// 1. Explicit path (from --config flag)
// 2. hosts.yaml in current directory
// 3. config/hosts.yaml in current directory
// 4. ~/.config/dockhop/hosts.yaml
//
// Returns the path to the config file, or empty string if not found.
func Find(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			if os.IsNotExist(err) {
				return "", errors.WrapWithCode(err, errors.ErrConfig,
					"Specified config file not found: "+explicit,
					"Check the path is correct")
			}
			return "", errors.WrapWithCode(err, errors.ErrConfig,
				"Cannot access config file: "+explicit,
				"Check file permissions")
		}
		return explicit, nil
	}

	cwd, err := os.Getwd()
	if err != nil {
		return "", errors.WrapWithCode(err, errors.ErrConfig,
			"Cannot determine current directory",
			"Check directory permissions")
	}

	candidates := []string{
		filepath.Join(cwd, ConfigFileName),
		filepath.Join(cwd, LocalConfigDir, ConfigFileName),
	}
	if home, err := os.UserHomeDir(); err == nil && home != "" {
		candidates = append(candidates, filepath.Join(home, GlobalConfigDir, ConfigFileName))
	}

	for _, c := range candidates {
		if _, err := os.Stat(c); err == nil {
			return c, nil
		}
	}
	return "", nil
}

// Resolve finds and loads the config, failing when nothing is found.
func Resolve(explicit string) (*Config, string, error) {
	path, err := Find(explicit)
	if err != nil {
		return nil, "", err
	}
	if path == "" {
		return nil, "", errors.New(errors.ErrConfig,
			"No hosts.yaml found",
			"Run 'dockhop init' to create one, or point at it with --config")
	}

	cfg, err := Load(path)
	if err != nil {
		return nil, path, err
	}
	return cfg, path, nil
}

// parseConfig converts viper config to our Config struct with defaults merged in.
func parseConfig(v *viper.Viper, path string) (*Config, error) {
	cfg := DefaultConfig()

	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		secondsToDurationHook(),
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := v.Unmarshal(cfg, hook); err != nil {
		return nil, errors.WrapWithCode(err, errors.ErrConfig,
			"Invalid config format",
			"Check the YAML syntax in "+path)
	}

	applyTargetDefaults(cfg)
	return cfg, nil
}

// setDefaults registers every scalar key so environment overrides apply even
// when the file omits the key.
func setDefaults(v *viper.Viper) {
	d := DefaultConfig()

	v.SetDefault("version", d.Version)
	v.SetDefault("bastion.host", "")
	v.SetDefault("bastion.port", d.Bastion.Port)
	v.SetDefault("bastion.user", "")
	v.SetDefault("bastion.key_file", "")
	v.SetDefault("bastion.password", "")
	v.SetDefault("bastion.known_hosts", "")
	v.SetDefault("monitoring.command_timeout", d.Monitoring.CommandTimeout.String())
	v.SetDefault("monitoring.connect_timeout", d.Monitoring.ConnectTimeout.String())
	v.SetDefault("monitoring.max_concurrent_connections", d.Monitoring.MaxConcurrentConnections)
	v.SetDefault("monitoring.max_retries", d.Monitoring.MaxRetries)
	v.SetDefault("monitoring.retry_delay", d.Monitoring.RetryDelay.String())
	v.SetDefault("monitoring.refresh_interval", d.Monitoring.RefreshInterval.String())
	v.SetDefault("monitoring.abort_on_target_auth_failure", false)
	v.SetDefault("docker.bin", d.Docker.Bin)
	v.SetDefault("docker.stats_timeout", d.Docker.StatsTimeout.String())
	v.SetDefault("output.format", d.Output.Format)
	v.SetDefault("output.dir", d.Output.Dir)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
	v.SetDefault("log.file", "")
}

// applyTargetDefaults fills per-target ports and expands local paths.
func applyTargetDefaults(cfg *Config) {
	cfg.Bastion.KeyFile = ExpandTilde(cfg.Bastion.KeyFile)
	cfg.Bastion.KnownHosts = ExpandTilde(cfg.Bastion.KnownHosts)
	cfg.Log.File = ExpandTilde(cfg.Log.File)

	for i := range cfg.Targets {
		t := &cfg.Targets[i]
		if t.Port == 0 {
			t.Port = 22
		}
		t.KeyFile = ExpandTilde(t.KeyFile)
	}
}

// secondsToDurationHook lets plain numbers stand for seconds, so
// "command_timeout: 30" means 30s rather than 30ns.
func secondsToDurationHook() mapstructure.DecodeHookFuncType {
	return func(from, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}
		switch n := data.(type) {
		case int:
			return time.Duration(n) * time.Second, nil
		case int64:
			return time.Duration(n) * time.Second, nil
		case float64:
			return time.Duration(n * float64(time.Second)), nil
		}
		return data, nil
	}
}
