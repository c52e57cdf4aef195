// Package metrics records collection activity as Prometheus series.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Handshake kinds.
const (
	KindBastion = "bastion"
	KindTarget  = "target"
)

// Recorder receives collection events. Components hold a Recorder and never
// reach for the default registry directly.
type Recorder interface {
	// Handshake records one connection attempt to a bastion or target.
	Handshake(kind string, ok bool, d time.Duration)
	// CommandRetried records a retry of a remote command on host.
	CommandRetried(host string)
	// HostOutcome records the final outcome of one host in a cycle.
	HostOutcome(outcome string)
	// CycleCompleted records one finished collection cycle.
	CycleCompleted(d time.Duration, hosts int, err error)
}

type noop struct{}

// Noop returns a Recorder that drops everything.
func Noop() Recorder { return noop{} }

func (noop) Handshake(string, bool, time.Duration)    {}
func (noop) CommandRetried(string)                    {}
func (noop) HostOutcome(string)                       {}
func (noop) CycleCompleted(time.Duration, int, error) {}

// OrNoop returns r, or a Noop recorder when r is nil.
func OrNoop(r Recorder) Recorder {
	if r == nil {
		return Noop()
	}
	return r
}

// Prometheus is a Recorder backed by client_golang collectors.
type Prometheus struct {
	handshakeTotal    *prometheus.CounterVec
	handshakeDuration *prometheus.HistogramVec
	retriesTotal      *prometheus.CounterVec
	hostOutcomes      *prometheus.CounterVec
	cycleTotal        *prometheus.CounterVec
	cycleDuration     prometheus.Histogram
	lastCycleHosts    prometheus.Gauge
}

// NewPrometheus registers dockhop's collectors on reg.
func NewPrometheus(reg prometheus.Registerer) *Prometheus {
	f := promauto.With(reg)
	return &Prometheus{
		handshakeTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "dockhop_handshakes_total",
			Help: "SSH handshakes attempted, by kind and result",
		}, []string{"kind", "result"}),
		handshakeDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "dockhop_handshake_duration_seconds",
			Help:    "Duration of SSH handshakes",
			Buckets: prometheus.DefBuckets,
		}, []string{"kind"}),
		retriesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "dockhop_command_retries_total",
			Help: "Remote command retries after a timeout or transport fault",
		}, []string{"host"}),
		hostOutcomes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "dockhop_host_outcomes_total",
			Help: "Per-host collection outcomes",
		}, []string{"outcome"}),
		cycleTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "dockhop_cycles_total",
			Help: "Collection cycles, by result",
		}, []string{"result"}),
		cycleDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "dockhop_cycle_duration_seconds",
			Help:    "Duration of collection cycles",
			Buckets: prometheus.DefBuckets,
		}),
		lastCycleHosts: f.NewGauge(prometheus.GaugeOpts{
			Name: "dockhop_last_cycle_hosts",
			Help: "Number of hosts reported by the most recent cycle",
		}),
	}
}

func result(ok bool) string {
	if ok {
		return "ok"
	}
	return "error"
}

// Handshake implements Recorder.
func (p *Prometheus) Handshake(kind string, ok bool, d time.Duration) {
	p.handshakeTotal.WithLabelValues(kind, result(ok)).Inc()
	p.handshakeDuration.WithLabelValues(kind).Observe(d.Seconds())
}

// CommandRetried implements Recorder.
func (p *Prometheus) CommandRetried(host string) {
	p.retriesTotal.WithLabelValues(host).Inc()
}

// HostOutcome implements Recorder.
func (p *Prometheus) HostOutcome(outcome string) {
	p.hostOutcomes.WithLabelValues(outcome).Inc()
}

// CycleCompleted implements Recorder.
func (p *Prometheus) CycleCompleted(d time.Duration, hosts int, err error) {
	p.cycleTotal.WithLabelValues(result(err == nil)).Inc()
	p.cycleDuration.Observe(d.Seconds())
	p.lastCycleHosts.Set(float64(hosts))
}
