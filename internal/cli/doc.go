// Package cli implements the dockhop command-line interface.
//
// Each command is a cobra.Command registered on rootCmd in its file's
// init, with the work done by a plain function that takes its writers and
// a context so tests can call it directly.
//
// # Command Structure
//
//	dockhop status     - Collect once and print a table, JSON or CSV report
//	dockhop watch      - Live dashboard, optionally serving /metrics
//	dockhop check      - Connection test for the bastion and every target
//	dockhop inspect    - docker inspect for one container on one host
//	dockhop hosts      - List the configured bastion and targets
//	dockhop init       - Create hosts.yaml
//	dockhop version    - Print build information
//
// # Flag Handling
//
// Global flags (--config, --log-level, --log-file, --no-color) are defined
// on the root command. Commands that walk the fleet share --tags through
// addTagsFlag.
//
// # Connections
//
// Commands never dial SSH themselves. They build a tunnel.Dialer through
// newDialer and hand it to a monitor.Collector or tunnel.Manager, which
// own the bastion and target connections for the length of the command.
package cli
