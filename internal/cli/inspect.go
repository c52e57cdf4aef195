package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/rileyhilliard/dockhop/internal/docker"
	"github.com/rileyhilliard/dockhop/internal/errors"
	"github.com/rileyhilliard/dockhop/internal/remote"
	"github.com/rileyhilliard/dockhop/internal/tunnel"
	"github.com/rileyhilliard/dockhop/internal/ui"
	"github.com/rileyhilliard/dockhop/internal/util"
	"github.com/spf13/cobra"
)

var (
	inspectJSON bool
	inspectLogs int
)

var inspectCmd = &cobra.Command{
	Use:   "inspect <host> <container>",
	Short: "Show details of one container on one host",
	Long: `Run 'docker inspect' for a container on a single target and show its
image, state, restart count, addresses and mounts.

The container can be given by name or by ID (the short ID from 'dockhop
status --containers' works). --json prints the full inspect document.
--logs N appends the container's last N log lines to the text output.`,
	Example: `  dockhop inspect web-01 nginx
  dockhop inspect web-01 nginx --logs 50
  dockhop inspect db-01 3f2a9c1b7d0e --json`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := inspectOptions{JSON: inspectJSON, Logs: inspectLogs}
		return inspectCommand(cmd.Context(), args[0], args[1], opts, cmd.OutOrStdout(), cmd.ErrOrStderr())
	},
}

func init() {
	inspectCmd.Flags().BoolVar(&inspectJSON, "json", false, "print the inspect result as JSON")
	inspectCmd.Flags().IntVar(&inspectLogs, "logs", 0, "show the last N log lines (text output only)")
	rootCmd.AddCommand(inspectCmd)
}

type inspectOptions struct {
	JSON bool
	Logs int
}

func inspectCommand(ctx context.Context, host, container string, opts inspectOptions, stdout, stderr io.Writer) error {
	if opts.Logs < 0 {
		return errors.New(errors.ErrConfig, "--logs can't be negative", "Pass the number of lines to show, e.g. --logs 50.")
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	t, ok := cfg.TargetByName(host)
	if !ok {
		return unknownTargetError(cfg, host)
	}

	log, closeLog, err := openLogger(cfg, stderr, false)
	if err != nil {
		return err
	}
	defer closeLog()
	log = log.With("host", t.Name)

	mgr := tunnel.NewManager(tunnel.BastionEndpoint(cfg.Bastion), newDialer(cfg, log),
		tunnel.WithLogger(log), tunnel.WithDialTimeout(cfg.Monitoring.ConnectTimeout))
	defer mgr.CloseAll()

	client, err := mgr.ConnectTarget(ctx, tunnel.TargetEndpoint(t))
	if err != nil {
		return err
	}

	exec := remote.NewExecutor(client, remote.OptionsFrom(cfg.Monitoring), remote.WithLogger(log))
	rt := docker.NewRuntime(exec, cfg.Docker.Bin, cfg.Docker.StatsTimeout, log)

	details, err := rt.Inspect(ctx, container)
	if err != nil {
		return err
	}

	if opts.JSON {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(details); err != nil {
			return errors.WrapWithCode(err, errors.ErrParse, "Failed to encode inspect result", "")
		}
		return nil
	}

	fmt.Fprint(stdout, renderDetails(t.Name, details))

	if opts.Logs > 0 {
		logs, err := containerLogs(ctx, rt, details.ID, opts.Logs)
		if err != nil {
			return err
		}
		fmt.Fprintf(stdout, "\nLast %s:\n%s", util.CountNoun(opts.Logs, "log line", "log lines"), logs)
	}
	return nil
}

// containerLogs returns the last n lines the container wrote to stdout and
// stderr, interleaved as docker returns them.
func containerLogs(ctx context.Context, rt *docker.Runtime, id string, n int) (string, error) {
	res, err := rt.Exec(ctx, "logs", "--tail", strconv.Itoa(n), id)
	if err != nil {
		return "", err
	}
	if !res.Success {
		return "", errors.New(errors.ErrExec,
			fmt.Sprintf("docker logs on '%s' exited %d: %s", res.Host, res.ExitCode, strings.TrimSpace(res.Stderr)),
			"Logging drivers other than json-file and local may not support 'docker logs'.")
	}
	out := res.Stdout + res.Stderr
	if out == "" {
		return "(no output)\n", nil
	}
	if !strings.HasSuffix(out, "\n") {
		out += "\n"
	}
	return out, nil
}

func renderDetails(host string, d *docker.Details) string {
	var b strings.Builder
	b.WriteString(ui.RenderHeader("", d.Name+" on "+host))

	pairs := [][2]string{
		{"ID", docker.ShortID(d.ID)},
		{"Image", d.Image},
		{"Status", d.Status},
	}
	if d.StartedAt != "" {
		pairs = append(pairs, [2]string{"Started", d.StartedAt})
	}
	pairs = append(pairs, [2]string{"Restarts", fmt.Sprint(d.RestartCount)})
	pairs = append(pairs, [2]string{"Addresses", util.JoinOrDefault(d.IPAddresses, "-")})
	for i, m := range d.Mounts {
		label := ""
		if i == 0 {
			label = "Mounts"
		}
		pairs = append(pairs, [2]string{label, m})
	}

	b.WriteString(ui.RenderKeyValues(pairs))
	return b.String()
}
