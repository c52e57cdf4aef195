package docker

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/alessio/shellescape"
	"github.com/hashicorp/go-version"
	"github.com/rileyhilliard/dockhop/internal/errors"
	"github.com/rileyhilliard/dockhop/internal/logger"
	"github.com/rileyhilliard/dockhop/internal/remote"
)

// DefaultBin is where the docker CLI usually lives.
const DefaultBin = "/usr/bin/docker"

// jsonFormat needs docker 1.13 or newer.
const jsonFormat = "{{json .}}"

var (
	minVersion     = version.Must(version.NewVersion("1.13"))
	versionPattern = regexp.MustCompile(`(\d+\.\d+(?:\.\d+)?(?:[-+][0-9A-Za-z.+-]+)?)`)
)

// RuntimeInfo is the result of probing a target for the docker CLI.
type RuntimeInfo struct {
	Available bool
	// Version is the first line of 'docker --version', e.g.
	// "Docker version 24.0.7, build afdd53b".
	Version string
	// Semver is parsed from Version when possible.
	Semver *version.Version
}

// Runtime drives the docker CLI on one target through an Executor.
type Runtime struct {
	exec         *remote.Executor
	bin          string
	statsTimeout time.Duration
	parser       *Parser
	log          logger.Logger
}

// NewRuntime creates a runtime driver. An empty bin means DefaultBin; a
// zero statsTimeout uses the executor's own timeout.
func NewRuntime(exec *remote.Executor, bin string, statsTimeout time.Duration, log logger.Logger) *Runtime {
	if bin == "" {
		bin = DefaultBin
	}
	log = logger.OrNoop(log)
	return &Runtime{
		exec:         exec,
		bin:          bin,
		statsTimeout: statsTimeout,
		parser:       NewParser(log),
		log:          log,
	}
}

func (r *Runtime) command(args ...string) string {
	return shellescape.Quote(r.bin) + " " + strings.Join(args, " ")
}

// CheckRuntime looks for the docker CLI. Absence is a normal negative
// result, never an error.
func (r *Runtime) CheckRuntime(ctx context.Context) RuntimeInfo {
	ok, raw := r.exec.CheckBinary(ctx, shellescape.Quote(r.bin))
	if !ok {
		return RuntimeInfo{}
	}

	info := RuntimeInfo{Available: true, Version: raw}
	if m := versionPattern.FindString(raw); m != "" {
		if v, err := version.NewVersion(m); err == nil {
			info.Semver = v
			if v.LessThan(minVersion) {
				r.log.Warn("%s on %s is %s; JSON output needs %s or newer", r.bin, r.exec.Host(), v, minVersion)
			}
		}
	}
	return info
}

// ListContainers runs 'docker ps' with JSON output. With all set, stopped
// containers are included.
func (r *Runtime) ListContainers(ctx context.Context, all bool) ([]ContainerRecord, error) {
	args := []string{"ps"}
	if all {
		args = append(args, "-a")
	}
	args = append(args, "--format", shellescape.Quote(jsonFormat))
	cmd := r.command(args...)

	res, err := r.exec.Execute(ctx, cmd)
	if err != nil {
		return nil, err
	}
	if !res.Success {
		if nf := remote.CommandNotFoundError(res.Host, cmd, res.Stderr, res.ExitCode); nf != nil {
			return nil, nf
		}
		return nil, errors.New(errors.ErrExec,
			fmt.Sprintf("docker ps on '%s' exited %d: %s", res.Host, res.ExitCode, firstLine(res.Stderr)),
			"Check that the SSH user may talk to the Docker daemon (docker group or rootless socket).")
	}

	return r.parser.ParseInventory(res.Stdout, r.exec.Host()), nil
}

// Stats samples usage once with 'docker stats --no-stream'. A non-zero exit
// yields an empty sample set, since usage is optional.
func (r *Runtime) Stats(ctx context.Context) (map[string]Usage, error) {
	cmd := r.command("stats", "--no-stream", "--format", shellescape.Quote(jsonFormat))

	res, err := r.exec.Execute(ctx, cmd, remote.WithTimeout(r.statsTimeout))
	if err != nil {
		return nil, err
	}
	if !res.Success {
		r.log.Warn("docker stats on %s exited %d: %s", res.Host, res.ExitCode, firstLine(res.Stderr))
		return map[string]Usage{}, nil
	}

	return r.parser.ParseUsage(res.Stdout, r.exec.Host()), nil
}

// Inspect returns the details of one container by ID or name.
func (r *Runtime) Inspect(ctx context.Context, id string) (*Details, error) {
	cmd := r.command("inspect", shellescape.Quote(id))

	res, err := r.exec.Execute(ctx, cmd)
	if err != nil {
		return nil, err
	}
	if !res.Success {
		return nil, errors.New(errors.ErrExec,
			fmt.Sprintf("Can't inspect '%s' on '%s': %s", id, res.Host, firstLine(res.Stderr)),
			"Run 'dockhop status' to list container names and IDs.")
	}

	d, ok := ParseInspect(res.Stdout)
	if !ok {
		return nil, errors.New(errors.ErrParse,
			fmt.Sprintf("docker inspect on '%s' returned nothing usable for '%s'", res.Host, id),
			"")
	}
	return d, nil
}

// Exec runs 'docker <args...>' with every argument quoted.
func (r *Runtime) Exec(ctx context.Context, args ...string) (*remote.CommandResult, error) {
	return r.exec.Execute(ctx, shellescape.Quote(r.bin)+" "+shellescape.QuoteCommand(args))
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
