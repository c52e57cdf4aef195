// Package remote runs commands over an established target connection with
// per-attempt timeouts and bounded retries.
package remote

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rileyhilliard/dockhop/internal/config"
	"github.com/rileyhilliard/dockhop/internal/errors"
	"github.com/rileyhilliard/dockhop/internal/logger"
	"github.com/rileyhilliard/dockhop/internal/metrics"
	"github.com/rileyhilliard/dockhop/pkg/sshutil"
	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"
)

// ConnectionTestCommand is the lightweight round trip used by TestConnection.
const ConnectionTestCommand = "echo 'connection_test'"

const connectionTestTimeout = 10 * time.Second

// VersionCheckTimeout bounds CheckBinary.
const VersionCheckTimeout = 10 * time.Second

// CommandResult is the outcome of one remote command. A non-zero exit code
// is a result, not an error.
type CommandResult struct {
	Command  string        `json:"command"`
	Host     string        `json:"host"`
	ExitCode int           `json:"exit_code"`
	Stdout   string        `json:"stdout"`
	Stderr   string        `json:"stderr"`
	Success  bool          `json:"success"`
	Duration time.Duration `json:"duration"`
	Attempts int           `json:"attempts"`
}

// Options tunes timeouts and retries.
type Options struct {
	// Timeout bounds each attempt.
	Timeout time.Duration
	// MaxRetries is the total number of attempts for a retryable failure.
	MaxRetries int
	// RetryDelay is the pause between attempts.
	RetryDelay time.Duration
}

// DefaultOptions returns the defaults used when nothing is configured.
func DefaultOptions() Options {
	return OptionsFrom(config.DefaultConfig().Monitoring)
}

// OptionsFrom takes the executor's slice of the monitoring config.
func OptionsFrom(m config.MonitoringConfig) Options {
	return Options{
		Timeout:    m.CommandTimeout,
		MaxRetries: m.MaxRetries,
		RetryDelay: m.RetryDelay,
	}
}

// Executor runs commands on one target connection.
type Executor struct {
	client  sshutil.SSHClient
	opts    Options
	log     logger.Logger
	metrics metrics.Recorder
}

// Option configures an Executor.
type Option func(*Executor)

// WithLogger sets the executor's logger.
func WithLogger(l logger.Logger) Option {
	return func(e *Executor) { e.log = l }
}

// WithMetrics sets the executor's metrics recorder.
func WithMetrics(r metrics.Recorder) Option {
	return func(e *Executor) { e.metrics = r }
}

// NewExecutor binds an executor to client.
func NewExecutor(client sshutil.SSHClient, opts Options, options ...Option) *Executor {
	if opts.MaxRetries < 1 {
		opts.MaxRetries = 1
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultOptions().Timeout
	}
	e := &Executor{client: client, opts: opts}
	for _, o := range options {
		o(e)
	}
	e.log = logger.OrNoop(e.log)
	e.metrics = metrics.OrNoop(e.metrics)
	return e
}

// Host returns the name of the host commands run on.
func (e *Executor) Host() string {
	return e.client.GetHost()
}

type execSettings struct {
	timeout time.Duration
	retry   bool
}

// ExecOption adjusts a single Execute call.
type ExecOption func(*execSettings)

// WithTimeout overrides the per-attempt timeout.
func WithTimeout(d time.Duration) ExecOption {
	return func(s *execSettings) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithoutRetry makes the call a single attempt.
func WithoutRetry() ExecOption {
	return func(s *execSettings) { s.retry = false }
}

// Execute runs cmd. Timeouts and transport faults are retried up to
// MaxRetries attempts in total, pausing RetryDelay between them; the last
// failure is returned. Any other failure, and a cancelled ctx, stop at once.
func (e *Executor) Execute(ctx context.Context, cmd string, opts ...ExecOption) (*CommandResult, error) {
	s := execSettings{timeout: e.opts.Timeout, retry: true}
	for _, o := range opts {
		o(&s)
	}

	attempts := e.opts.MaxRetries
	if !s.retry {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		result, err := e.run(ctx, cmd, s.timeout)
		if err == nil {
			result.Attempts = attempt
			return result, nil
		}
		lastErr = err

		if attempt == attempts || !Retryable(err) || ctx.Err() != nil {
			break
		}

		e.log.Warn("attempt %d/%d of %q on %s failed, retrying in %s: %s",
			attempt, attempts, cmd, e.Host(), e.opts.RetryDelay, errors.Summary(err))
		e.metrics.CommandRetried(e.Host())

		if err := sleep(ctx, e.opts.RetryDelay); err != nil {
			lastErr = errors.WrapWithCode(err, sshutil.Classify(err),
				fmt.Sprintf("Gave up on %q on '%s' while waiting to retry", cmd, e.Host()), "")
			break
		}
	}

	return nil, lastErr
}

func (e *Executor) run(ctx context.Context, cmd string, timeout time.Duration) (*CommandResult, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	stdout, stderr, code, err := e.client.Exec(attemptCtx, cmd)
	elapsed := time.Since(start)

	if err != nil {
		kind := sshutil.Classify(err)
		// The attempt's own deadline, not the caller's, is a timeout even
		// when the transport reports it some other way.
		if attemptCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
			kind = errors.ErrTimeout
		}
		return nil, errors.WrapWithCode(err, kind,
			fmt.Sprintf("Command %q on '%s' failed", cmd, e.Host()),
			"")
	}

	e.log.Debug("%q on %s exited %d in %s", cmd, e.Host(), code, elapsed.Round(time.Millisecond))
	return &CommandResult{
		Command:  cmd,
		Host:     e.Host(),
		ExitCode: code,
		Stdout:   string(stdout),
		Stderr:   string(stderr),
		Success:  code == 0,
		Duration: elapsed,
	}, nil
}

// Retryable reports whether err is worth another attempt.
func Retryable(err error) bool {
	switch errors.CodeOf(err) {
	case errors.ErrTimeout, errors.ErrTransport:
		return true
	}
	return false
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// ExecuteMultiple runs cmds and returns their results in the same order.
// By default they are issued concurrently over the one connection; with
// sequential set they run one at a time. The first failure is returned.
func (e *Executor) ExecuteMultiple(ctx context.Context, cmds []string, sequential bool, opts ...ExecOption) ([]*CommandResult, error) {
	results := make([]*CommandResult, len(cmds))

	if sequential {
		for i, cmd := range cmds {
			r, err := e.Execute(ctx, cmd, opts...)
			if err != nil {
				return results, err
			}
			results[i] = r
		}
		return results, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	for i, cmd := range cmds {
		g.Go(func() error {
			r, err := e.Execute(gctx, cmd, opts...)
			if err != nil {
				return err
			}
			results[i] = r
			return nil
		})
	}
	return results, g.Wait()
}

// TestConnection runs a single, non-retried echo round trip and returns
// its latency.
func (e *Executor) TestConnection(ctx context.Context) (time.Duration, error) {
	r, err := e.Execute(ctx, ConnectionTestCommand, WithTimeout(connectionTestTimeout), WithoutRetry())
	if err != nil {
		return 0, err
	}
	if !r.Success || !strings.Contains(r.Stdout, "connection_test") {
		return r.Duration, errors.New(errors.ErrExec,
			fmt.Sprintf("Connection test on '%s' returned unexpected output (exit %d)", e.Host(), r.ExitCode),
			"Check that the account has a working shell.")
	}
	return r.Duration, nil
}

// CheckBinary looks for bin by running '<bin> --version' once. It never
// fails: a missing binary, a non-zero exit or a transport fault all report
// unavailable. The version is the first line of output.
func (e *Executor) CheckBinary(ctx context.Context, bin string) (bool, string) {
	cmd := bin + " --version"
	r, err := e.Execute(ctx, cmd, WithTimeout(VersionCheckTimeout), WithoutRetry())
	if err != nil {
		e.log.Debug("%s --version on %s failed: %s", bin, e.Host(), errors.Summary(err))
		return false, ""
	}
	if !r.Success {
		if name, missing := IsCommandNotFound(r.Stderr, r.ExitCode); missing {
			e.log.Info("%s is not installed on %s", lo.Ternary(name != "", name, bin), e.Host())
		} else {
			e.log.Info("%s on %s exited %d", bin, e.Host(), r.ExitCode)
		}
		return false, ""
	}

	version := strings.TrimSpace(r.Stdout)
	if i := strings.IndexByte(version, '\n'); i >= 0 {
		version = strings.TrimSpace(version[:i])
	}
	return true, version
}
