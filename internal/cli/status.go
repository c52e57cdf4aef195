package cli

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/rileyhilliard/dockhop/internal/config"
	"github.com/rileyhilliard/dockhop/internal/errors"
	"github.com/rileyhilliard/dockhop/internal/monitor"
	"github.com/rileyhilliard/dockhop/internal/report"
	"github.com/rileyhilliard/dockhop/internal/ui"
	"github.com/rileyhilliard/dockhop/internal/util"
	"github.com/spf13/cobra"
)

// statusOptions holds the status command's flags.
type statusOptions struct {
	Tags       []string
	Format     string
	Output     string
	Save       bool
	SaveDir    string
	Containers bool
	Stats      bool
}

var statusOpts statusOptions

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Collect container status from every host once",
	Long: `Connect to the bastion, collect container inventory and usage from
every enabled target in parallel, and print a report.

Hosts that can't be reached or have no Docker are listed as failures;
they never stop the rest of the fleet from being reported.`,
	Example: `  dockhop status
  dockhop status --tags web --containers
  dockhop status --format json --output fleet.json
  dockhop status --format csv --save`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return statusCommand(cmd.Context(), statusOpts, cmd.OutOrStdout(), cmd.ErrOrStderr())
	},
}

func init() {
	addTagsFlag(statusCmd, &statusOpts.Tags)
	statusCmd.Flags().StringVarP(&statusOpts.Format, "format", "f", "", "output format: table, json, csv (default from output.format)")
	statusCmd.Flags().StringVarP(&statusOpts.Output, "output", "o", "", "write the report to this file instead of stdout")
	statusCmd.Flags().BoolVar(&statusOpts.Save, "save", false, "also save a timestamped report under output.dir")
	statusCmd.Flags().StringVar(&statusOpts.SaveDir, "save-dir", "", "directory for --save (overrides output.dir)")
	statusCmd.Flags().BoolVar(&statusOpts.Containers, "containers", false, "include the per-container table in table output")
	statusCmd.Flags().BoolVar(&statusOpts.Stats, "stats", false, "include image and state breakdowns in table output")
	rootCmd.AddCommand(statusCmd)
}

// statusCommand runs one collection cycle and writes the report. A
// bastion failure still produces a report, with every host unreachable,
// before the error is returned.
func statusCommand(ctx context.Context, opts statusOptions, stdout, stderr io.Writer) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	format, err := report.ParseFormat(firstNonEmpty(opts.Format, cfg.Output.Format))
	if err != nil {
		return err
	}

	log, closeLog, err := openLogger(cfg, stderr, false)
	if err != nil {
		return err
	}
	defer closeLog()

	collector := monitor.NewCollector(cfg, newDialer(cfg, log), monitor.WithLogger(log))
	res, cycleErr := collector.Collect(ctx, opts.Tags)
	if res == nil || errors.IsCode(cycleErr, errors.ErrConfig) {
		return cycleErr
	}

	rep := report.Aggregate(res)
	if err := writeStatus(rep, format, opts, stdout); err != nil {
		return err
	}

	if opts.Save {
		dir := firstNonEmpty(opts.SaveDir, cfg.Output.Dir)
		path, err := report.SaveTimestamped(config.ExpandTilde(dir), rep, format, time.Now())
		if err != nil {
			return err
		}
		fmt.Fprintf(stderr, "%s Saved report to %s\n", ui.SymbolSuccess, path)
	}

	if cycleErr != nil {
		return cycleErr
	}
	if len(res.Hosts) == 0 {
		fmt.Fprintln(stderr, noTargetsMessage(opts.Tags))
	}
	return nil
}

// writeStatus writes rep to --output when set, otherwise to stdout.
func writeStatus(rep *report.Report, format report.Format, opts statusOptions, stdout io.Writer) error {
	wopts := report.Options{Containers: opts.Containers}

	if opts.Output != "" {
		if err := report.SaveFile(config.ExpandTilde(opts.Output), rep, format); err != nil {
			return err
		}
		fmt.Fprintf(stdout, "%s Wrote %s report to %s\n", ui.SymbolSuccess, format, opts.Output)
		return nil
	}

	if err := report.Write(stdout, rep, format, wopts); err != nil {
		return errors.WrapWithCode(err, errors.ErrConfig, "Failed to write report", "")
	}
	if opts.Stats && format == report.FormatTable {
		fmt.Fprint(stdout, "\n"+renderStats(report.Stats(rep)))
	}
	return nil
}

// renderStats renders the state counts and top images.
func renderStats(s report.Statistics) string {
	var b strings.Builder

	states := make([][2]string, 0, len(s.States))
	for _, state := range []string{"running", "exited", "paused", "created", "restarting", "dead", "unknown"} {
		if n, ok := s.States[state]; ok {
			states = append(states, [2]string{state, fmt.Sprint(n)})
		}
	}
	if len(states) > 0 {
		b.WriteString("Containers by state\n")
		b.WriteString(ui.RenderKeyValues(states))
		b.WriteString("\n")
	}

	if len(s.TopImages) > 0 {
		rows := make([][]string, 0, len(s.TopImages))
		for _, ic := range s.TopImages {
			rows = append(rows, []string{ic.Image, fmt.Sprint(ic.Count)})
		}
		titles := []string{"IMAGE", "CONTAINERS"}
		b.WriteString("Top images\n")
		b.WriteString(ui.RenderSimpleTable(ui.AutoColumns(titles, rows, 60), rows))
	}
	return b.String()
}

func noTargetsMessage(tags []string) string {
	if len(tags) > 0 {
		return fmt.Sprintf("No enabled hosts match %s %s. Run 'dockhop hosts' to see what's configured.",
			util.Pluralize(len(tags), "tag", "tags"), strings.Join(tags, ", "))
	}
	return "No enabled hosts in the config. Add targets to hosts.yaml."
}
