package remote

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/rileyhilliard/dockhop/internal/errors"
)

// commandNotFoundPatterns are regex patterns to detect "command not found" errors
// from various shells. These require exit code 127.
var commandNotFoundPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)bash: (\S+): command not found`),
	regexp.MustCompile(`(?i)zsh: command not found: (\S+)`),
	regexp.MustCompile(`(?i)sh: \d+: (\S+): not found`),
	regexp.MustCompile(`(?i)-bash: (\S+): No such file or directory`),
	regexp.MustCompile(`(?i)(\S+): not found`),
	regexp.MustCompile(`(?i)(\S+): command not found`),
}

// IsCommandNotFound checks if the error output indicates a missing command.
// Returns the command name (if extractable) and whether it's a command-not-found error.
// Exit code 126 (found but not executable) counts too, since for a runtime
// binary the outcome is the same.
func IsCommandNotFound(stderr string, exitCode int) (string, bool) {
	if exitCode != 127 && exitCode != 126 {
		return "", false
	}

	for _, pattern := range commandNotFoundPatterns {
		if matches := pattern.FindStringSubmatch(stderr); len(matches) > 1 {
			return strings.Trim(matches[1], `'"`), true
		}
	}

	return "", true
}

// CommandNotFoundError builds an EXEC error for a binary missing on host.
// Returns nil when the output doesn't look like a missing command.
func CommandNotFoundError(host, cmd, stderr string, exitCode int) error {
	name, notFound := IsCommandNotFound(stderr, exitCode)
	if !notFound {
		return nil
	}

	if name == "" {
		if parts := strings.Fields(cmd); len(parts) > 0 {
			name = strings.Trim(parts[0], `'"`)
		} else {
			name = "command"
		}
	}

	suggestion := fmt.Sprintf(`'%s' wasn't found on '%s'.

Fixes:

1. Install Docker on the target

2. If it lives elsewhere, point docker.bin at it in hosts.yaml:
   docker:
     bin: /usr/local/bin/docker`, name, host)

	return errors.New(errors.ErrExec,
		fmt.Sprintf("'%s' not found on '%s'", name, host),
		suggestion)
}
