package cli

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/rileyhilliard/dockhop/internal/config"
	"github.com/rileyhilliard/dockhop/internal/errors"
	"github.com/rileyhilliard/dockhop/internal/logger"
	"github.com/rileyhilliard/dockhop/internal/remote"
	"github.com/rileyhilliard/dockhop/internal/tunnel"
	"github.com/rileyhilliard/dockhop/internal/ui"
	"github.com/rileyhilliard/dockhop/internal/util"
	"github.com/samber/lo"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var (
	checkHost string
	checkTags []string
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Test SSH connectivity to the bastion and every host",
	Long: `Connect to the bastion, then open a tunneled session to each target and
run a single round trip, reporting its latency and whether Docker answers.

Nothing is retried, so this is the quickest way to find a host with bad
credentials or a network problem.`,
	Example: `  dockhop check
  dockhop check --host web-01`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return checkCommand(cmd.Context(), checkHost, checkTags, cmd.OutOrStdout(), cmd.ErrOrStderr())
	},
}

func init() {
	checkCmd.Flags().StringVar(&checkHost, "host", "", "check only this target, by name")
	addTagsFlag(checkCmd, &checkTags)
	rootCmd.AddCommand(checkCmd)
}

// checkResult is one target's connection test.
type checkResult struct {
	Target  config.Target
	Latency time.Duration
	Docker  string
	Err     error
}

func checkCommand(ctx context.Context, host string, tags []string, stdout, stderr io.Writer) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	targets := cfg.TargetsFor(tags)
	if host != "" {
		t, ok := cfg.TargetByName(host)
		if !ok {
			return unknownTargetError(cfg, host)
		}
		targets = []config.Target{t}
	}

	log, closeLog, err := openLogger(cfg, stderr, false)
	if err != nil {
		return err
	}
	defer closeLog()

	mgr := tunnel.NewManager(tunnel.BastionEndpoint(cfg.Bastion), newDialer(cfg, log),
		tunnel.WithLogger(log), tunnel.WithDialTimeout(cfg.Monitoring.ConnectTimeout))
	defer mgr.CloseAll()

	start := time.Now()
	if err := mgr.ConnectBastion(ctx); err != nil {
		fmt.Fprintf(stdout, "%s bastion %s\n", ui.SymbolFail, cfg.Bastion.Host)
		return err
	}
	fmt.Fprintf(stdout, "%s bastion %s (%s)\n\n", ui.SymbolSuccess, cfg.Bastion.Host, ui.FormatDuration(time.Since(start)))

	if len(targets) == 0 {
		fmt.Fprintln(stdout, noTargetsMessage(tags))
		return nil
	}

	results := checkTargets(ctx, cfg, mgr, targets, log)
	fmt.Fprint(stdout, renderCheckResults(results))

	failed := lo.CountBy(results, func(r checkResult) bool { return r.Err != nil })
	if failed > 0 {
		return errors.New(errors.ErrTransport,
			fmt.Sprintf("%d of %s failed the connection test", failed, util.CountNoun(len(results), "host", "hosts")),
			"Run with --log-level debug for connection details.")
	}
	return nil
}

// checkTargets tests every target, max_concurrent_connections at a time.
// Results are in target order.
func checkTargets(ctx context.Context, cfg *config.Config, mgr *tunnel.Manager, targets []config.Target, log logger.Logger) []checkResult {
	results := make([]checkResult, len(targets))

	g := new(errgroup.Group)
	g.SetLimit(cfg.Monitoring.MaxConcurrentConnections)
	for i, t := range targets {
		g.Go(func() error {
			results[i] = checkTarget(ctx, cfg, mgr, t, log)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func checkTarget(ctx context.Context, cfg *config.Config, mgr *tunnel.Manager, t config.Target, log logger.Logger) checkResult {
	res := checkResult{Target: t}

	client, err := mgr.ConnectTarget(ctx, tunnel.TargetEndpoint(t))
	if err != nil {
		res.Err = err
		return res
	}

	exec := remote.NewExecutor(client, remote.OptionsFrom(cfg.Monitoring), remote.WithLogger(log.With("host", t.Name)))
	res.Latency, res.Err = exec.TestConnection(ctx)
	if res.Err != nil {
		return res
	}

	if ok, version := exec.CheckBinary(ctx, cfg.Docker.Bin); ok {
		res.Docker = version
	}
	return res
}

func renderCheckResults(results []checkResult) string {
	rows := lo.Map(results, func(r checkResult, _ int) []string {
		if r.Err != nil {
			return []string{ui.SymbolFail + " " + r.Target.Name, r.Target.Host, "-", "-", errors.Summary(r.Err)}
		}
		return []string{
			ui.SymbolSuccess + " " + r.Target.Name,
			r.Target.Host,
			ui.FormatDuration(r.Latency),
			lo.Ternary(r.Docker != "", r.Docker, "not available"),
			"",
		}
	})
	titles := []string{"HOST", "ADDRESS", "LATENCY", "DOCKER", "ERROR"}
	return ui.RenderSimpleTable(ui.AutoColumns(titles, rows, 60), rows)
}

func unknownTargetError(cfg *config.Config, name string) error {
	suggestion := "Configured targets: " + util.JoinOrNone(cfg.TargetNames())
	if similar := util.SuggestSimilar(name, cfg.TargetNames(), 3); len(similar) > 0 {
		suggestion = "Did you mean " + strings.Join(similar, " or ") + "? " + suggestion
	}
	return errors.New(errors.ErrConfig,
		fmt.Sprintf("No target named '%s'", name),
		suggestion)
}
