package cli

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/rileyhilliard/dockhop/internal/config"
	"github.com/rileyhilliard/dockhop/internal/errors"
	"github.com/rileyhilliard/dockhop/internal/ui"
	"github.com/rileyhilliard/dockhop/pkg/sshutil"
	"github.com/samber/lo"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

// initOptions holds options for the init command.
type initOptions struct {
	Path           string
	Bastion        string // host or ~/.ssh/config alias
	User           string
	KeyFile        string
	Port           int
	Force          bool
	NonInteractive bool
}

var initOpts initOptions

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a hosts.yaml",
	Long: `Create a starter hosts.yaml with the bastion and, optionally, a first
target.

In a terminal you are prompted for the values, with hosts from ~/.ssh/config
offered as bastion candidates. Otherwise pass --bastion (and --user and
--key unless the alias supplies them).`,
	Example: `  dockhop init
  dockhop init --bastion jump --non-interactive
  dockhop init --bastion jump.example.com --user ops --key ~/.ssh/id_ed25519 --path ~/.config/dockhop/hosts.yaml`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := initOpts
		if !term.IsTerminal(int(os.Stdin.Fd())) {
			opts.NonInteractive = true
		}
		return initCommand(opts, cmd.OutOrStdout())
	},
}

func init() {
	initCmd.Flags().StringVar(&initOpts.Path, "path", config.ConfigFileName, "where to write the config")
	initCmd.Flags().StringVar(&initOpts.Bastion, "bastion", "", "bastion host or ~/.ssh/config alias")
	initCmd.Flags().StringVar(&initOpts.User, "user", "", "bastion login user")
	initCmd.Flags().StringVar(&initOpts.KeyFile, "key", "", "bastion private key file")
	initCmd.Flags().IntVar(&initOpts.Port, "port", 0, "bastion SSH port (default 22)")
	initCmd.Flags().BoolVar(&initOpts.Force, "force", false, "overwrite an existing config")
	initCmd.Flags().BoolVar(&initOpts.NonInteractive, "non-interactive", false, "don't prompt; take values from flags")
	rootCmd.AddCommand(initCmd)
}

// initAnswers are the values collected from flags or prompts.
type initAnswers struct {
	BastionHost string
	BastionPort string
	BastionUser string
	BastionKey  string

	TargetName string
	TargetHost string
	TargetUser string
	TargetTags string
}

func initCommand(opts initOptions, stdout io.Writer) error {
	path := config.ExpandTilde(opts.Path)
	if _, err := os.Stat(path); err == nil && !opts.Force {
		if opts.NonInteractive {
			return errors.New(errors.ErrConfig,
				fmt.Sprintf("Config file already exists: %s", path),
				"Use --force to overwrite.")
		}
		overwrite, err := confirmOverwrite(path)
		if err != nil {
			return err
		}
		if !overwrite {
			fmt.Fprintln(stdout, "Cancelled.")
			return nil
		}
	}

	answers := answersFromFlags(opts, lookupSSHHost)
	if !opts.NonInteractive {
		var err error
		if answers, err = promptAnswers(answers); err != nil {
			return err
		}
	}

	cfg, err := buildInitConfig(answers)
	if err != nil {
		return err
	}

	if err := config.Save(path, cfg, true); err != nil {
		return errors.WrapWithCode(err, errors.ErrConfig,
			"Failed to write "+path,
			"Check directory permissions.")
	}

	fmt.Fprintf(stdout, "%s Created %s\n\n", ui.SymbolSuccess, path)
	fmt.Fprintln(stdout, "Next steps:")
	if len(cfg.Targets) == 0 {
		fmt.Fprintln(stdout, "  Add targets to "+filepath.Base(path))
	}
	fmt.Fprintln(stdout, "  dockhop check   - Test connectivity")
	fmt.Fprintln(stdout, "  dockhop status  - Collect container status")
	fmt.Fprintln(stdout, "  dockhop watch   - Live dashboard")
	return nil
}

// answersFromFlags seeds answers from flags. When --bastion names an
// ~/.ssh/config alias, the alias fills whatever the flags left empty.
func answersFromFlags(opts initOptions, lookup func(string) (sshutil.SSHHostEntry, bool)) initAnswers {
	a := initAnswers{
		BastionHost: opts.Bastion,
		BastionUser: opts.User,
		BastionKey:  opts.KeyFile,
	}
	if opts.Port > 0 {
		a.BastionPort = strconv.Itoa(opts.Port)
	}

	if entry, ok := lookup(opts.Bastion); ok {
		ep := entry.Endpoint()
		a.BastionHost = ep.Host
		a.BastionUser = lo.Ternary(a.BastionUser != "", a.BastionUser, ep.User)
		a.BastionKey = lo.Ternary(a.BastionKey != "", a.BastionKey, ep.KeyFile)
		if a.BastionPort == "" && ep.Port > 0 {
			a.BastionPort = strconv.Itoa(ep.Port)
		}
	}
	return a
}

// lookupSSHHost finds alias in ~/.ssh/config.
func lookupSSHHost(alias string) (sshutil.SSHHostEntry, bool) {
	if alias == "" {
		return sshutil.SSHHostEntry{}, false
	}
	entries, err := sshutil.ParseSSHConfig()
	if err != nil {
		return sshutil.SSHHostEntry{}, false
	}
	return lo.Find(entries, func(e sshutil.SSHHostEntry) bool { return e.Alias == alias })
}

// buildInitConfig turns answers into a validated config.
func buildInitConfig(a initAnswers) (*config.Config, error) {
	cfg := config.DefaultConfig()

	cfg.Bastion.Host = strings.TrimSpace(a.BastionHost)
	cfg.Bastion.User = strings.TrimSpace(a.BastionUser)
	cfg.Bastion.KeyFile = strings.TrimSpace(a.BastionKey)
	if a.BastionPort != "" {
		port, err := strconv.Atoi(strings.TrimSpace(a.BastionPort))
		if err != nil {
			return nil, errors.WrapWithCode(err, errors.ErrConfig,
				fmt.Sprintf("'%s' isn't a valid port", a.BastionPort),
				"Use a number between 1 and 65535.")
		}
		cfg.Bastion.Port = port
	}

	if cfg.Bastion.Host == "" {
		return nil, errors.New(errors.ErrConfig,
			"A bastion host is required",
			"Pass --bastion or run 'dockhop init' in a terminal.")
	}
	if cfg.Bastion.KeyFile == "" {
		return nil, errors.New(errors.ErrConfig,
			"A bastion key file is required",
			"Pass --key, or add IdentityFile for the alias in ~/.ssh/config. Passwords can be added to hosts.yaml by hand.")
	}

	if name := strings.TrimSpace(a.TargetName); name != "" {
		tags := lo.Compact(lo.Map(strings.Split(a.TargetTags, ","), func(s string, _ int) string {
			return strings.TrimSpace(s)
		}))
		cfg.Targets = append(cfg.Targets, config.Target{
			Name:    name,
			Host:    lo.Ternary(strings.TrimSpace(a.TargetHost) != "", strings.TrimSpace(a.TargetHost), name),
			Port:    22,
			User:    lo.Ternary(strings.TrimSpace(a.TargetUser) != "", strings.TrimSpace(a.TargetUser), cfg.Bastion.User),
			KeyFile: cfg.Bastion.KeyFile,
			Tags:    tags,
		})
	}

	if err := config.Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func confirmOverwrite(path string) (bool, error) {
	var overwrite bool
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewConfirm().
				Title(fmt.Sprintf("'%s' already exists. Overwrite?", path)).
				Value(&overwrite),
		),
	)
	if err := form.Run(); err != nil {
		return false, errors.WrapWithCode(err, errors.ErrConfig,
			"Failed to get user input",
			"Use --force to overwrite.")
	}
	return overwrite, nil
}

// manualEntry is the bastion picker's "type it in" choice.
const manualEntry = ""

// promptAnswers asks for anything the flags didn't provide.
func promptAnswers(a initAnswers) (initAnswers, error) {
	if a.BastionHost == "" {
		entries, _ := sshutil.ParseSSHConfig()
		if len(entries) > 0 {
			var alias string
			options := []huh.Option[string]{huh.NewOption("Enter a host", manualEntry)}
			for _, e := range entries {
				options = append(options, huh.NewOption(e.Alias+"  "+e.Description(), e.Alias))
			}

			pick := huh.NewForm(huh.NewGroup(
				huh.NewSelect[string]().
					Title("Bastion").
					Description("Hosts from ~/.ssh/config").
					Options(options...).
					Value(&alias),
			))
			if err := pick.Run(); err != nil {
				return a, promptError(err)
			}
			if alias != manualEntry {
				a = answersFromFlags(initOptions{Bastion: alias, User: a.BastionUser, KeyFile: a.BastionKey}, func(string) (sshutil.SSHHostEntry, bool) {
					return lo.Find(entries, func(e sshutil.SSHHostEntry) bool { return e.Alias == alias })
				})
			}
		}
	}

	if a.BastionPort == "" {
		a.BastionPort = "22"
	}

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Bastion host").
				Placeholder("jump.example.com").
				Value(&a.BastionHost).
				Validate(required("bastion host")),
			huh.NewInput().
				Title("Bastion port").
				Value(&a.BastionPort).
				Validate(validPort),
			huh.NewInput().
				Title("Bastion user").
				Value(&a.BastionUser).
				Validate(required("bastion user")),
			huh.NewInput().
				Title("Private key").
				Description("Used for the bastion and, by default, the first target").
				Placeholder("~/.ssh/id_ed25519").
				Value(&a.BastionKey).
				Validate(required("key file")),
		),
		huh.NewGroup(
			huh.NewInput().
				Title("First target name (optional)").
				Description("Leave empty to add targets to the file later").
				Placeholder("web-01").
				Value(&a.TargetName).
				Validate(noWhitespace),
			huh.NewInput().
				Title("Target address").
				Description("As seen from the bastion; defaults to the name").
				Placeholder("10.0.0.11").
				Value(&a.TargetHost),
			huh.NewInput().
				Title("Target user").
				Description("Defaults to the bastion user").
				Value(&a.TargetUser),
			huh.NewInput().
				Title("Tags (optional)").
				Placeholder("web,prod").
				Value(&a.TargetTags),
		),
	)
	if err := form.Run(); err != nil {
		return a, promptError(err)
	}
	return a, nil
}

func promptError(err error) error {
	return errors.WrapWithCode(err, errors.ErrConfig,
		"Failed to get user input",
		"Check terminal compatibility or use --non-interactive with --bastion.")
}

func required(what string) func(string) error {
	return func(s string) error {
		if strings.TrimSpace(s) == "" {
			return fmt.Errorf("%s is required", what)
		}
		return nil
	}
}

func validPort(s string) error {
	p, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || p < 1 || p > 65535 {
		return fmt.Errorf("port must be a number between 1 and 65535")
	}
	return nil
}

func noWhitespace(s string) error {
	if strings.ContainsAny(strings.TrimSpace(s), " \t\n") {
		return fmt.Errorf("name cannot contain whitespace")
	}
	return nil
}
