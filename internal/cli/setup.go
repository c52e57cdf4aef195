package cli

import (
	"io"
	"os"
	"strings"

	"github.com/rileyhilliard/dockhop/internal/config"
	"github.com/rileyhilliard/dockhop/internal/errors"
	"github.com/rileyhilliard/dockhop/internal/logger"
	"github.com/rileyhilliard/dockhop/internal/tunnel"
	"github.com/rileyhilliard/dockhop/internal/ui"
)

// newDialer builds the SSH dialer for a command. Tests swap in a fake.
var newDialer = func(cfg *config.Config, log logger.Logger) tunnel.Dialer {
	return tunnel.DialerFor(cfg, log.Warn)
}

// loadConfig resolves and validates hosts.yaml from --config or the
// default search path.
func loadConfig() (*config.Config, error) {
	cfg, _, err := config.Resolve(cfgFile)
	return cfg, err
}

// openLogger builds the process logger from the log section, with
// --log-level and --log-file taking precedence. A dashboard sends logs to
// a file so they don't tear the screen; quiet discards them when no file
// is set. The returned closer releases the log file.
func openLogger(cfg *config.Config, stderr io.Writer, quiet bool) (logger.Logger, func(), error) {
	level := firstNonEmpty(logLevel, cfg.Log.Level)
	path := firstNonEmpty(logFile, cfg.Log.File)

	if path == "" {
		if quiet {
			return logger.Noop(), func() {}, nil
		}
		return logger.New(logger.Options{
			Level:   level,
			Format:  cfg.Log.Format,
			Output:  stderr,
			NoColor: noColor || !ui.IsTerminal(stderr),
		}), func() {}, nil
	}

	f, err := os.OpenFile(config.ExpandTilde(path), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, errors.WrapWithCode(err, errors.ErrConfig,
			"Can't open log file "+path,
			"Check the directory exists and is writable.")
	}
	log := logger.New(logger.Options{
		Level:   level,
		Format:  cfg.Log.Format,
		Output:  f,
		NoColor: true,
	})
	return log, func() { f.Close() }, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}
