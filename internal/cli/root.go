package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/rileyhilliard/dockhop/internal/errors"
	"github.com/rileyhilliard/dockhop/internal/ui"
	"github.com/spf13/cobra"
)

// Global flag values.
var (
	cfgFile  string
	logLevel string
	logFile  string
	noColor  bool
)

var rootCmd = &cobra.Command{
	Use:   "dockhop",
	Short: "Docker fleet status through a bastion host",
	Long: `dockhop reports on Docker containers across a fleet of hosts that are
only reachable through a single SSH bastion.

Hosts live in hosts.yaml. Run 'dockhop init' to create one, then
'dockhop status' for a one-shot report or 'dockhop watch' for a live view.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		ui.ConfigureColors(cmd.OutOrStdout(), noColor)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./hosts.yaml, ./config/hosts.yaml, ~/.config/dockhop/hosts.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error (overrides log.level)")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "write logs to this file instead of stderr")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")
}

// Config returns the --config flag value.
func Config() string {
	return cfgFile
}

// Execute runs the root command and exits non-zero on failure. SIGINT and
// SIGTERM cancel the command's context.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err == nil {
		return
	}

	if isUnknownCommandError(err) {
		err = errors.WrapWithCode(err, errors.ErrConfig,
			unknownCommandMessage(err),
			"Run 'dockhop --help' to see the available commands.")
	}
	fmt.Fprint(os.Stderr, renderError(err))
	os.Exit(1)
}

// renderError formats err for the terminal. Structured errors carry their
// own layout.
func renderError(err error) string {
	if errors.CodeOf(err) != "" {
		return err.Error()
	}
	return fmt.Sprintf("%s %s\n", ui.SymbolFail, err.Error())
}

func unknownCommandMessage(err error) string {
	if name := extractUnknownCommand(err); name != "" {
		return fmt.Sprintf("Unknown command '%s'", name)
	}
	return "Unknown command or flag"
}

// isUnknownCommandError reports whether cobra rejected the command line.
func isUnknownCommandError(err error) bool {
	msg := err.Error()
	return strings.HasPrefix(msg, "unknown command") || strings.HasPrefix(msg, "unknown flag") ||
		strings.HasPrefix(msg, "unknown shorthand flag")
}

// extractUnknownCommand pulls the command name out of cobra's
// `unknown command "foo" for "dockhop"` message.
func extractUnknownCommand(err error) string {
	msg := err.Error()
	start := strings.IndexByte(msg, '"')
	if start < 0 {
		return ""
	}
	end := strings.IndexByte(msg[start+1:], '"')
	if end < 0 {
		return ""
	}
	return msg[start+1 : start+1+end]
}
