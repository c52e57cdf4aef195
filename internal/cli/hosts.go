package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/rileyhilliard/dockhop/internal/config"
	"github.com/rileyhilliard/dockhop/internal/errors"
	"github.com/rileyhilliard/dockhop/internal/ui"
	"github.com/samber/lo"
	"github.com/spf13/cobra"
)

var (
	hostsJSON bool
	hostsTags []string
)

var hostsCmd = &cobra.Command{
	Use:   "hosts",
	Short: "List the bastion and configured targets",
	Long: `List the bastion and every target in hosts.yaml, with its address,
login, tags, and whether it is enabled. Nothing is contacted.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return hostsCommand(hostsTags, hostsJSON, cmd.OutOrStdout())
	},
}

func init() {
	hostsCmd.Flags().BoolVar(&hostsJSON, "json", false, "output in JSON format")
	addTagsFlag(hostsCmd, &hostsTags)
	rootCmd.AddCommand(hostsCmd)
}

// hostEntry is one row of 'dockhop hosts --json'. Credentials are reduced
// to the auth method.
type hostEntry struct {
	Name    string   `json:"name"`
	Address string   `json:"address"`
	User    string   `json:"user"`
	Auth    string   `json:"auth"`
	Tags    []string `json:"tags"`
	Enabled bool     `json:"enabled"`
}

type hostsOutput struct {
	Bastion hostEntry   `json:"bastion"`
	Targets []hostEntry `json:"targets"`
}

func hostsCommand(tags []string, asJSON bool, stdout io.Writer) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	targets := cfg.Targets
	if len(tags) > 0 {
		targets = cfg.TargetsFor(tags)
	}

	out := hostsOutput{
		Bastion: hostEntry{
			Name:    "bastion",
			Address: fmt.Sprintf("%s:%d", cfg.Bastion.Host, cfg.Bastion.Port),
			User:    cfg.Bastion.User,
			Auth:    authMethod(cfg.Bastion.KeyFile),
			Tags:    []string{},
			Enabled: true,
		},
		Targets: lo.Map(targets, func(t config.Target, _ int) hostEntry {
			return hostEntry{
				Name:    t.Name,
				Address: fmt.Sprintf("%s:%d", t.Host, t.Port),
				User:    t.User,
				Auth:    authMethod(t.KeyFile),
				Tags:    lo.Ternary(t.Tags != nil, t.Tags, []string{}),
				Enabled: t.IsEnabled(),
			}
		}),
	}

	if asJSON {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(out); err != nil {
			return errors.WrapWithCode(err, errors.ErrConfig, "Failed to encode hosts", "")
		}
		return nil
	}

	fmt.Fprint(stdout, ui.RenderKeyValues([][2]string{
		{"Bastion", out.Bastion.User + "@" + out.Bastion.Address},
		{"Auth", out.Bastion.Auth},
	}))
	fmt.Fprintln(stdout)

	if len(out.Targets) == 0 {
		fmt.Fprintln(stdout, noTargetsMessage(tags))
		return nil
	}

	rows := lo.Map(out.Targets, func(h hostEntry, _ int) []string {
		return []string{
			lo.Ternary(h.Enabled, ui.SymbolComplete, ui.SymbolStopped) + " " + h.Name,
			h.Address,
			h.User,
			h.Auth,
			strings.Join(h.Tags, ","),
		}
	})
	titles := []string{"NAME", "ADDRESS", "USER", "AUTH", "TAGS"}
	fmt.Fprint(stdout, ui.RenderSimpleTable(ui.AutoColumns(titles, rows, 40), rows))
	return nil
}

func authMethod(keyFile string) string {
	if keyFile != "" {
		return "key " + keyFile
	}
	return "password"
}
