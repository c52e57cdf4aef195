package monitor

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rileyhilliard/dockhop/internal/config"
	"github.com/rileyhilliard/dockhop/internal/docker"
	"github.com/rileyhilliard/dockhop/internal/errors"
	"github.com/rileyhilliard/dockhop/internal/logger"
	"github.com/rileyhilliard/dockhop/internal/metrics"
	"github.com/rileyhilliard/dockhop/internal/remote"
	"github.com/rileyhilliard/dockhop/internal/tunnel"
	"github.com/rileyhilliard/dockhop/pkg/sshutil"
	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// CycleResult is everything one collection cycle produced. Hosts[i] belongs
// to the i-th selected target.
type CycleResult struct {
	ID       string       `json:"cycle_id"`
	Started  time.Time    `json:"started"`
	Finished time.Time    `json:"finished"`
	Tags     []string     `json:"tags,omitempty"`
	Hosts    []HostStatus `json:"hosts"`
}

// Duration is how long the cycle took.
func (r *CycleResult) Duration() time.Duration {
	return r.Finished.Sub(r.Started)
}

// Collector runs collection cycles across the configured targets. Each
// cycle gets its own tunnel manager, so nothing is kept warm between cycles.
type Collector struct {
	cfg          *config.Config
	dialer       tunnel.Dialer
	log          logger.Logger
	metrics      metrics.Recorder
	cycleTimeout time.Duration
}

// Option configures a Collector.
type Option func(*Collector)

// WithLogger sets the collector's logger.
func WithLogger(l logger.Logger) Option {
	return func(c *Collector) { c.log = l }
}

// WithMetrics sets the collector's metrics recorder.
func WithMetrics(r metrics.Recorder) Option {
	return func(c *Collector) { c.metrics = r }
}

// WithCycleTimeout overrides the bound on a whole cycle, which otherwise
// comes from CycleTimeout.
func WithCycleTimeout(d time.Duration) Option {
	return func(c *Collector) { c.cycleTimeout = d }
}

// NewCollector creates a collector for cfg that reaches hosts via dialer.
func NewCollector(cfg *config.Config, dialer tunnel.Dialer, opts ...Option) *Collector {
	c := &Collector{cfg: cfg, dialer: dialer}
	for _, o := range opts {
		o(c)
	}
	c.log = logger.OrNoop(c.log)
	c.metrics = metrics.OrNoop(c.metrics)
	return c
}

// Targets returns the enabled targets matching any of tags (all enabled
// targets when tags is empty).
func (c *Collector) Targets(tags []string) []config.Target {
	return c.cfg.TargetsFor(tags)
}

// Collect runs one cycle over the targets selected by tags.
//
// The whole cycle is bounded by CycleTimeout. No selected targets is an
// empty result and no error. Contradictory
// credentials fail the cycle before any connection is made. When the
// bastion can't be reached every host is reported unreachable and a
// BASTION error is returned alongside the result. Otherwise each host is
// collected in isolation, at most max_concurrent_connections at a time, and
// its failure only affects its own HostStatus. Connections are closed
// before Collect returns.
func (c *Collector) Collect(ctx context.Context, tags []string) (*CycleResult, error) {
	result := &CycleResult{
		ID:      uuid.NewString(),
		Started: time.Now(),
		Tags:    tags,
		Hosts:   []HostStatus{},
	}
	log := c.log.With("cycle", result.ID[:8])

	targets := c.Targets(tags)
	if len(targets) == 0 {
		log.Info("no enabled targets%s, nothing to collect", tagSuffix(tags))
		result.Finished = time.Now()
		return result, nil
	}

	if err := c.checkCredentials(targets); err != nil {
		result.Finished = time.Now()
		c.metrics.CycleCompleted(result.Duration(), 0, err)
		return result, err
	}

	timeout := c.cycleTimeout
	if timeout <= 0 {
		timeout = CycleTimeout(c.cfg, len(targets))
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	log.Info("collecting from %d targets through %s", len(targets), c.cfg.Bastion.Host)

	mgr := tunnel.NewManager(tunnel.BastionEndpoint(c.cfg.Bastion), c.dialer,
		tunnel.WithLogger(log), tunnel.WithMetrics(c.metrics),
		tunnel.WithDialTimeout(c.cfg.Monitoring.ConnectTimeout))
	defer func() {
		if err := mgr.CloseAll(); err != nil {
			log.Warn("closing connections: %v", err)
		}
	}()

	hosts, err := c.fanOut(ctx, log, mgr, targets)
	result.Hosts = hosts
	result.Finished = time.Now()

	for _, h := range hosts {
		c.metrics.HostOutcome(string(h.Outcome))
	}
	c.metrics.CycleCompleted(result.Duration(), len(hosts), err)

	byOutcome := lo.GroupBy(hosts, func(h HostStatus) Outcome { return h.Outcome })
	log.Info("cycle finished in %s: %d healthy, %d unreachable, %d without docker, %d failed",
		result.Duration().Round(time.Millisecond), len(byOutcome[OutcomeHealthy]), len(byOutcome[OutcomeUnreachable]),
		len(byOutcome[OutcomeRuntimeUnavailable]), len(byOutcome[OutcomeCollectionFailed]))

	return result, err
}

func (c *Collector) checkCredentials(targets []config.Target) error {
	b := c.cfg.Bastion
	if err := config.ValidateEndpoint("bastion", b.KeyFile, b.Password); err != nil {
		return err
	}
	for _, t := range targets {
		if err := config.ValidateEndpoint(fmt.Sprintf("target '%s'", t.Name), t.KeyFile, t.Password); err != nil {
			return err
		}
	}
	return nil
}

func (c *Collector) fanOut(ctx context.Context, log logger.Logger, mgr *tunnel.Manager, targets []config.Target) ([]HostStatus, error) {
	mon := c.cfg.Monitoring

	if err := mgr.ConnectBastion(ctx); err != nil {
		log.Error("bastion %s unreachable: %s", c.cfg.Bastion.Host, errors.Summary(err))
		hosts := lo.Map(targets, func(t config.Target, _ int) HostStatus { return unreachable(t, err) })
		return hosts, errors.WrapWithCode(err, errors.ErrBastion,
			fmt.Sprintf("Can't reach any target: bastion '%s' is unreachable", c.cfg.Bastion.Host),
			"Check the bastion section of hosts.yaml and that the bastion is up.")
	}

	cycleCtx, abort := context.WithCancelCause(ctx)
	defer abort(nil)

	hosts := make([]HostStatus, len(targets))
	gate := semaphore.NewWeighted(int64(mon.MaxConcurrentConnections))

	var g errgroup.Group
	for i, t := range targets {
		g.Go(func() error {
			hostLog := log.With("host", t.Name)

			if err := gate.Acquire(cycleCtx, 1); err != nil {
				hosts[i] = unreachable(t, abortedError(cycleCtx, t))
				return nil
			}
			defer gate.Release(1)

			hosts[i] = c.collectHost(cycleCtx, hostLog, mgr, t)

			if mon.AbortOnTargetAuthFailure && hosts[i].Outcome == OutcomeUnreachable && hosts[i].ErrorCode == errors.ErrAuth {
				abort(errors.New(errors.ErrAuth,
					fmt.Sprintf("Cycle aborted: '%s' rejected its credentials", t.Name),
					"Fix the target's credentials, or set monitoring.abort_on_target_auth_failure to false."))
			}
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		code := sshutil.Classify(err)
		msg := "Collection cycle was cancelled"
		if code == errors.ErrTimeout {
			msg = "Collection cycle didn't finish in time"
		}
		return hosts, errors.WrapWithCode(err, code, msg, "")
	}
	if cause := context.Cause(cycleCtx); cause != nil {
		return hosts, cause
	}
	return hosts, nil
}

func abortedError(ctx context.Context, t config.Target) error {
	msg := fmt.Sprintf("Skipped '%s': the cycle was cancelled", t.Name)
	if cause := context.Cause(ctx); cause != nil && cause != ctx.Err() {
		msg = fmt.Sprintf("Skipped '%s': %s", t.Name, errors.Summary(cause))
	}
	return errors.WrapWithCode(ctx.Err(), errors.ErrAborted, msg, "")
}

// collectHost runs the per-host steps. It never fails: every error ends up
// in the returned status.
func (c *Collector) collectHost(ctx context.Context, log logger.Logger, mgr *tunnel.Manager, t config.Target) (status HostStatus) {
	mon := c.cfg.Monitoring
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			log.Error("collection panicked: %v", r)
			status = collectionFailed(t, "",
				errors.New(errors.ErrExec, fmt.Sprintf("Collection from '%s' crashed: %v", t.Name, r), ""))
		}
		status.CollectedAt = time.Now()
		status.Elapsed = time.Since(start)
		if status.Outcome != OutcomeHealthy {
			log.Warn("%s: %s", status.Outcome, status.Error)
		}
	}()

	if ctx.Err() != nil {
		return unreachable(t, abortedError(ctx, t))
	}

	// The manager arms connect_timeout once it holds the pool lock, so a
	// queue behind another host's handshake is bounded by the cycle only.
	client, err := mgr.ConnectTarget(ctx, tunnel.TargetEndpoint(t))
	if err != nil {
		return unreachable(t, err)
	}

	exec := remote.NewExecutor(client, remote.OptionsFrom(mon),
		remote.WithLogger(log), remote.WithMetrics(c.metrics))
	rt := docker.NewRuntime(exec, c.cfg.Docker.Bin, c.cfg.Docker.StatsTimeout, log)

	info := rt.CheckRuntime(ctx)
	if !info.Available {
		status = runtimeUnavailable(t, c.cfg.Docker.Bin)
		if ctx.Err() != nil {
			status = withError(status, abortedError(ctx, t))
		}
		return status
	}

	containers, err := rt.ListContainers(ctx, true)
	if err != nil {
		return collectionFailed(t, info.Version, err)
	}

	if len(containers) > 0 {
		usage, err := rt.Stats(ctx)
		if err != nil {
			return collectionFailed(t, info.Version, err)
		}
		containers = docker.Merge(containers, usage)
	}

	log.Debug("collected %d containers", len(containers))
	return healthy(t, info.Version, containers)
}

// CycleTimeout bounds one collection cycle over targets hosts. Handshakes
// are serialized through the bastion, so each target may take a full
// connect_timeout; commands then run a batch of max_concurrent_connections
// at a time.
func CycleTimeout(cfg *config.Config, targets int) time.Duration {
	m := cfg.Monitoring
	batches := 1
	if m.MaxConcurrentConnections > 0 {
		batches = max((targets+m.MaxConcurrentConnections-1)/m.MaxConcurrentConnections, 1)
	}
	perBatch := remote.VersionCheckTimeout + time.Duration(m.MaxRetries)*(2*m.CommandTimeout+m.RetryDelay) + cfg.Docker.StatsTimeout
	return time.Duration(targets+1)*m.ConnectTimeout + time.Duration(batches)*perBatch
}

func tagSuffix(tags []string) string {
	if len(tags) == 0 {
		return ""
	}
	return fmt.Sprintf(" for tags %v", tags)
}
