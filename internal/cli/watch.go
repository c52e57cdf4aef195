package cli

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rileyhilliard/dockhop/internal/dashboard"
	"github.com/rileyhilliard/dockhop/internal/errors"
	"github.com/rileyhilliard/dockhop/internal/logger"
	"github.com/rileyhilliard/dockhop/internal/metrics"
	"github.com/rileyhilliard/dockhop/internal/monitor"
	"github.com/spf13/cobra"
)

var (
	watchTags        []string
	watchInterval    time.Duration
	watchMetricsAddr string
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Live dashboard of the fleet",
	Long: `Show a live dashboard of every host behind the bastion, refreshed every
--interval. Each refresh is a full collection cycle with fresh connections.

Keys: r refresh now, j/k select, enter show containers, s sort, ? help, q quit.

Logs go to --log-file (or log.file) while the dashboard is up; without one
they are discarded. With --metrics-addr, Prometheus metrics are served on
/metrics for as long as the dashboard runs.`,
	Example: `  dockhop watch
  dockhop watch --interval 30s --tags db
  dockhop watch --metrics-addr :9120 --log-file /tmp/dockhop.log`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return watchCommand(cmd.Context())
	},
}

func init() {
	addTagsFlag(watchCmd, &watchTags)
	watchCmd.Flags().DurationVarP(&watchInterval, "interval", "i", 0, "time between refreshes (default from monitoring.refresh_interval)")
	watchCmd.Flags().StringVar(&watchMetricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address, e.g. :9120")
	rootCmd.AddCommand(watchCmd)
}

func watchCommand(ctx context.Context) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	interval := cfg.Monitoring.RefreshInterval
	if watchInterval != 0 {
		interval = watchInterval
	}
	if interval <= 0 {
		return errors.New(errors.ErrConfig,
			"--interval must be positive",
			"Try something like 30s or 2m.")
	}

	log, closeLog, err := openLogger(cfg, nil, true)
	if err != nil {
		return err
	}
	defer closeLog()

	opts := []monitor.Option{monitor.WithLogger(log)}
	if watchMetricsAddr != "" {
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		opts = append(opts, monitor.WithMetrics(metrics.NewPrometheus(reg)))

		stop, err := serveMetrics(watchMetricsAddr, reg, log)
		if err != nil {
			return err
		}
		defer stop()
	}

	collector := monitor.NewCollector(cfg, newDialer(cfg, log), opts...)
	targets := collector.Targets(watchTags)
	names := make([]string, len(targets))
	for i, t := range targets {
		names[i] = t.Name
	}

	return dashboard.Run(ctx, monitor.NewSnapshot(collector, watchTags), names, dashboard.Options{
		Interval:     interval,
		CycleTimeout: monitor.CycleTimeout(cfg, len(targets)),
		Bastion:      cfg.Bastion.Host,
		Version:      formatVersion(version),
	})
}

// serveMetrics starts the metrics endpoint on addr. The listener is bound
// before returning so a busy port fails the command up front.
func serveMetrics(addr string, reg *prometheus.Registry, log logger.Logger) (func(), error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, errors.WrapWithCode(err, errors.ErrConfig,
			"Can't listen on "+addr+" for metrics",
			"Pick a free address with --metrics-addr.")
	}

	return startMetrics(ln, reg, log, metricsShutdownTimeout), nil
}

// metricsShutdownTimeout bounds how long stopping the endpoint waits for
// in-flight scrapes.
const metricsShutdownTimeout = 5 * time.Second

// startMetrics serves reg on ln and returns a func that stops the server.
func startMetrics(ln net.Listener, reg *prometheus.Registry, log logger.Logger, grace time.Duration) func() {
	srv := metrics.NewServer(ln.Addr().String(), reg)
	go func() {
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			log.Error("metrics server: %v", err)
		}
	}()
	log.Info("serving metrics on http://%s/metrics", ln.Addr())

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), grace)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			log.Warn("stopping metrics server: %v", err)
		}
	}
}
