package monitor

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rileyhilliard/dockhop/internal/config"
	"github.com/rileyhilliard/dockhop/internal/docker"
	"github.com/rileyhilliard/dockhop/internal/errors"
	"github.com/rileyhilliard/dockhop/internal/logger"
	"github.com/rileyhilliard/dockhop/internal/metrics"
	"github.com/rileyhilliard/dockhop/internal/tunnel/tunneltest"
	"github.com/rileyhilliard/dockhop/pkg/sshutil"
	sshtesting "github.com/rileyhilliard/dockhop/pkg/sshutil/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	versionCmd = `/usr/bin/docker --version`
	psCmd      = `/usr/bin/docker ps -a --format '{{json .}}'`
	statsCmd   = `/usr/bin/docker stats --no-stream --format '{{json .}}'`
)

func testConfig(n int) *config.Config {
	cfg := config.DefaultConfig()
	cfg.Bastion = config.Bastion{Host: "jump.example.com", Port: 22, User: "ops", KeyFile: "/keys/jump"}
	cfg.Monitoring.CommandTimeout = 2 * time.Second
	cfg.Monitoring.ConnectTimeout = 2 * time.Second
	cfg.Monitoring.RetryDelay = time.Millisecond
	for i := 1; i <= n; i++ {
		cfg.Targets = append(cfg.Targets, config.Target{
			Name:     fmt.Sprintf("web-%02d", i),
			Host:     fmt.Sprintf("10.0.0.%d", i),
			Port:     22,
			User:     "app",
			Password: "pw",
			Tags:     []string{"web"},
		})
	}
	return cfg
}

// healthyDocker answers like a host running two containers, one of them up.
func healthyDocker(ep sshutil.Endpoint, c *sshtesting.MockClient) {
	c.SetCommandResponse(versionCmd, sshtesting.CommandResponse{Stdout: []byte("Docker version 24.0.7, build afdd53b\n")})
	c.SetCommandResponse(psCmd, sshtesting.CommandResponse{Stdout: []byte(fmt.Sprintf(
		`{"ID":"a1","Names":"%[1]s-app","Image":"nginx","State":"running"}`+"\n"+
			`{"ID":"a2","Names":"%[1]s-db","Image":"postgres","State":"exited"}`+"\n", ep.Name))})
	c.SetCommandResponse(statsCmd, sshtesting.CommandResponse{Stdout: []byte(fmt.Sprintf(
		`{"Name":"%s-app","ID":"a1","CPUPerc":"12.50%%","MemPerc":"3.00%%","MemUsage":"64MiB / 2GiB"}`, ep.Name))})
}

func TestCollect_AllHealthy(t *testing.T) {
	cfg := testConfig(3)
	d := tunneltest.NewFakeDialer()
	d.Configure = healthyDocker

	reg := prometheus.NewRegistry()
	c := NewCollector(cfg, d, WithMetrics(metrics.NewPrometheus(reg)))

	res, err := c.Collect(context.Background(), nil)
	require.NoError(t, err)
	require.Len(t, res.Hosts, 3)
	assert.NotEmpty(t, res.ID)
	assert.False(t, res.Finished.Before(res.Started))

	for i, h := range res.Hosts {
		assert.Equal(t, cfg.Targets[i].Name, h.Name, "results keep target order")
		assert.Equal(t, cfg.Targets[i].Host, h.Address)
		assert.Equal(t, OutcomeHealthy, h.Outcome)
		assert.True(t, h.Reachable())
		assert.True(t, h.DockerAvailable())
		assert.Equal(t, "Docker version 24.0.7, build afdd53b", h.DockerVersion)
		assert.Empty(t, h.Error)
		assert.Equal(t, docker.Counts{Total: 2, Running: 1, Stopped: 1}, h.Counts())

		require.Len(t, h.Containers, 2)
		require.NotNil(t, h.Containers[0].CPUPercent)
		assert.InDelta(t, 12.5, *h.Containers[0].CPUPercent, 1e-9)
		assert.Nil(t, h.Containers[1].CPUPercent, "no sample for the stopped container")
	}

	assert.Equal(t, 1, d.BastionDials())
	for _, client := range d.Clients() {
		assert.True(t, client.IsClosed(), "target connections are closed at the end of the cycle")
	}
	assert.True(t, d.Bastions()[0].IsClosed())

	assert.Equal(t, 3.0, counterValue(t, reg, "dockhop_host_outcomes_total", "healthy"))
}

// One failing host among healthy ones only degrades its own status.
func TestCollect_IsolatesHostFailures(t *testing.T) {
	cfg := testConfig(6)
	d := tunneltest.NewFakeDialer()
	d.FailTarget("10.0.0.2", errors.New(errors.ErrTransport, "connection refused", ""))
	d.FailTarget("10.0.0.3", errors.New(errors.ErrAuth, "ssh: unable to authenticate", ""))
	d.Configure = func(ep sshutil.Endpoint, c *sshtesting.MockClient) {
		healthyDocker(ep, c)
		switch ep.Name {
		case "web-04":
			c.SetCommandResponse(versionCmd, sshtesting.CommandResponse{ExitCode: 127, Stderr: []byte("sh: 1: /usr/bin/docker: not found\n")})
		case "web-05":
			c.SetCommandResponse(psCmd, sshtesting.CommandResponse{ExitCode: 1, Stderr: []byte("permission denied while trying to connect to the Docker daemon socket\n")})
		case "web-06":
			c.SetCommandResponse(statsCmd, sshtesting.CommandResponse{Error: errors.New(errors.ErrAuth, "session rejected", "")})
		}
	}

	log := logger.NewBufferLogger()
	res, err := NewCollector(cfg, d, WithLogger(log)).Collect(context.Background(), nil)
	require.NoError(t, err, "host failures are data, not a cycle error")
	require.Len(t, res.Hosts, 6)

	tests := []struct {
		outcome   Outcome
		reachable bool
		available bool
		code      string
		errSubstr string
	}{
		{OutcomeHealthy, true, true, "", ""},
		{OutcomeUnreachable, false, false, errors.ErrTransport, "connection refused"},
		{OutcomeUnreachable, false, false, errors.ErrAuth, "unable to authenticate"},
		{OutcomeRuntimeUnavailable, true, false, "", "Docker not available"},
		{OutcomeCollectionFailed, true, true, errors.ErrExec, "permission denied"},
		{OutcomeCollectionFailed, true, true, errors.ErrAuth, "session rejected"},
	}

	for i, tt := range tests {
		h := res.Hosts[i]
		t.Run(h.Name, func(t *testing.T) {
			assert.Equal(t, tt.outcome, h.Outcome)
			assert.Equal(t, tt.reachable, h.Reachable())
			assert.Equal(t, tt.available, h.DockerAvailable())
			assert.Equal(t, tt.code, h.ErrorCode)
			if tt.errSubstr != "" {
				assert.Contains(t, h.Error, tt.errSubstr)
			}
			if tt.outcome != OutcomeHealthy {
				assert.Empty(t, h.Containers)
				assert.NotNil(t, h.Containers)
			}
		})
	}

	assert.Equal(t, "Docker version 24.0.7, build afdd53b", res.Hosts[4].DockerVersion)
	assert.True(t, log.Contains("warn", "unreachable"), log.String())
}

// A slow handshake holds the pool lock for its whole connect timeout. Hosts
// queued behind it still get their own full timeout, wherever the slow host
// sits in the list.
func TestCollect_SlowHostTimesOut(t *testing.T) {
	for _, slow := range []int{0, 2, 4} {
		t.Run(fmt.Sprintf("slow host at %d", slow), func(t *testing.T) {
			for trial := 0; trial < 5; trial++ {
				cfg := testConfig(5)
				cfg.Monitoring.ConnectTimeout = 100 * time.Millisecond
				d := tunneltest.NewFakeDialer()
				d.Configure = healthyDocker
				d.DelayTarget(cfg.Targets[slow].Host, time.Minute)

				start := time.Now()
				res, err := NewCollector(cfg, d).Collect(context.Background(), nil)
				require.NoError(t, err)
				assert.Less(t, time.Since(start), 10*time.Second)

				require.Len(t, res.Hosts, 5)
				for i, h := range res.Hosts {
					if i == slow {
						assert.Equal(t, OutcomeUnreachable, h.Outcome)
						assert.Equal(t, errors.ErrTimeout, h.ErrorCode)
						continue
					}
					assert.Equal(t, OutcomeHealthy, h.Outcome, "%s: %s", h.Name, h.Error)
				}
			}
		})
	}
}

func TestCollect_CycleTimeout(t *testing.T) {
	cfg := testConfig(2)
	d := tunneltest.NewFakeDialer()
	d.Configure = func(ep sshutil.Endpoint, c *sshtesting.MockClient) {
		healthyDocker(ep, c)
		if ep.Host == "10.0.0.2" {
			c.SetCommandResponse(psCmd, sshtesting.CommandResponse{Delay: time.Minute})
		}
	}

	start := time.Now()
	res, err := NewCollector(cfg, d, WithCycleTimeout(150*time.Millisecond)).Collect(context.Background(), nil)
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrTimeout))
	assert.Contains(t, errors.Summary(err), "didn't finish in time")
	assert.Less(t, time.Since(start), 5*time.Second)

	require.Len(t, res.Hosts, 2)
	assert.Equal(t, OutcomeHealthy, res.Hosts[0].Outcome)
	assert.Equal(t, OutcomeCollectionFailed, res.Hosts[1].Outcome)
	assert.Equal(t, errors.ErrTimeout, res.Hosts[1].ErrorCode)
}

func TestCycleTimeout(t *testing.T) {
	cfg := config.DefaultConfig()

	// connect 60s, command 30s, 3 attempts, 5s delay, stats 60s, version check 10s.
	perBatch := 10*time.Second + 3*65*time.Second + 60*time.Second
	assert.Equal(t, 60*time.Second+perBatch, CycleTimeout(cfg, 0))
	assert.Equal(t, 6*60*time.Second+perBatch, CycleTimeout(cfg, 5))
	assert.Equal(t, 8*60*time.Second+2*perBatch, CycleTimeout(cfg, 7))
}

func TestCollect_BastionFailure(t *testing.T) {
	cfg := testConfig(4)
	d := tunneltest.NewFakeDialer()
	d.FailBastion(errors.New(errors.ErrAuth, "ssh: unable to authenticate", ""))

	reg := prometheus.NewRegistry()
	res, err := NewCollector(cfg, d, WithMetrics(metrics.NewPrometheus(reg))).Collect(context.Background(), nil)
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrBastion))

	require.Len(t, res.Hosts, 4, "every host is still reported")
	for i, h := range res.Hosts {
		assert.Equal(t, cfg.Targets[i].Name, h.Name)
		assert.Equal(t, OutcomeUnreachable, h.Outcome)
		assert.Equal(t, errors.ErrAuth, h.ErrorCode)
		assert.Contains(t, h.Error, "bastion")
	}
	assert.Equal(t, 0, d.TargetDials("10.0.0.1"))
	assert.Equal(t, 1.0, counterValue(t, reg, "dockhop_cycles_total", "error"))
}

func TestCollect_NoTargets(t *testing.T) {
	d := tunneltest.NewFakeDialer()

	res, err := NewCollector(testConfig(0), d).Collect(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, res.Hosts)
	assert.NotNil(t, res.Hosts)

	res, err = NewCollector(testConfig(2), d).Collect(context.Background(), []string{"db"})
	require.NoError(t, err)
	assert.Empty(t, res.Hosts)

	assert.Equal(t, 0, d.BastionDials())
}

func TestCollect_TagFilterAndDisabledTargets(t *testing.T) {
	cfg := testConfig(3)
	cfg.Targets[1].Tags = []string{"db"}
	off := false
	cfg.Targets[2].Enabled = &off

	d := tunneltest.NewFakeDialer()
	d.Configure = healthyDocker

	res, err := NewCollector(cfg, d).Collect(context.Background(), []string{"db"})
	require.NoError(t, err)
	require.Len(t, res.Hosts, 1)
	assert.Equal(t, "web-02", res.Hosts[0].Name)
	assert.Equal(t, []string{"db"}, res.Tags)

	res, err = NewCollector(cfg, d).Collect(context.Background(), nil)
	require.NoError(t, err)
	assert.Len(t, res.Hosts, 2, "disabled targets are skipped")
}

func TestCollect_ContradictoryCredentials(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Config)
	}{
		{"bastion without credentials", func(c *config.Config) { c.Bastion.KeyFile = "" }},
		{"bastion with both", func(c *config.Config) { c.Bastion.Password = "pw" }},
		{"target with both", func(c *config.Config) { c.Targets[1].KeyFile = "/k" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(2)
			tt.mutate(cfg)
			d := tunneltest.NewFakeDialer()

			res, err := NewCollector(cfg, d).Collect(context.Background(), nil)
			require.Error(t, err)
			assert.True(t, errors.IsCode(err, errors.ErrConfig))
			assert.Empty(t, res.Hosts)
			assert.Equal(t, 0, d.BastionDials(), "no network I/O")
		})
	}
}

func TestCollect_AdmissionGate(t *testing.T) {
	cfg := testConfig(6)
	cfg.Monitoring.MaxConcurrentConnections = 2
	d := tunneltest.NewFakeDialer()
	d.Configure = func(ep sshutil.Endpoint, c *sshtesting.MockClient) {
		healthyDocker(ep, c)
		c.SetCommandResponse(versionCmd, sshtesting.CommandResponse{
			Stdout: []byte("Docker version 24.0.7\n"),
			Delay:  60 * time.Millisecond,
		})
	}

	start := time.Now()
	res, err := NewCollector(cfg, d).Collect(context.Background(), nil)
	require.NoError(t, err)
	require.Len(t, res.Hosts, 6)

	// Six 60ms hosts, two at a time, take at least three rounds.
	assert.GreaterOrEqual(t, time.Since(start), 180*time.Millisecond)
	for _, h := range res.Hosts {
		assert.Equal(t, OutcomeHealthy, h.Outcome)
	}
}

func TestCollect_TargetAuthFailure(t *testing.T) {
	setup := func(abort bool) (*config.Config, *tunneltest.FakeDialer) {
		cfg := testConfig(4)
		cfg.Monitoring.AbortOnTargetAuthFailure = abort
		cfg.Monitoring.CommandTimeout = 10 * time.Second
		d := tunneltest.NewFakeDialer()
		d.FailTarget("10.0.0.1", errors.New(errors.ErrAuth, "ssh: unable to authenticate", ""))
		d.Configure = func(ep sshutil.Endpoint, c *sshtesting.MockClient) {
			healthyDocker(ep, c)
			c.SetCommandResponse(versionCmd, sshtesting.CommandResponse{
				Stdout: []byte("Docker version 24.0.7\n"),
				Delay:  300 * time.Millisecond,
			})
		}
		return cfg, d
	}

	t.Run("isolated by default", func(t *testing.T) {
		cfg, d := setup(false)
		res, err := NewCollector(cfg, d).Collect(context.Background(), nil)
		require.NoError(t, err)

		assert.Equal(t, errors.ErrAuth, res.Hosts[0].ErrorCode)
		for _, h := range res.Hosts[1:] {
			assert.Equal(t, OutcomeHealthy, h.Outcome)
		}
	})

	t.Run("aborts the cycle when configured", func(t *testing.T) {
		cfg, d := setup(true)
		res, err := NewCollector(cfg, d).Collect(context.Background(), nil)
		require.Error(t, err)
		assert.True(t, errors.IsCode(err, errors.ErrAuth))
		assert.Contains(t, errors.Summary(err), "web-01")

		require.Len(t, res.Hosts, 4)
		assert.Equal(t, OutcomeUnreachable, res.Hosts[0].Outcome)
		assert.Equal(t, errors.ErrAuth, res.Hosts[0].ErrorCode)
		for _, h := range res.Hosts[1:] {
			assert.NotEqual(t, OutcomeHealthy, h.Outcome, h.Name)
			assert.Equal(t, errors.ErrAborted, h.ErrorCode, h.Name)
		}
	})
}

// Only a rejected login aborts the cycle. A command refused after a
// successful connect stays with its host.
func TestCollect_AuthAbortIgnoresCommandRejections(t *testing.T) {
	cfg := testConfig(3)
	cfg.Monitoring.AbortOnTargetAuthFailure = true
	d := tunneltest.NewFakeDialer()
	d.Configure = func(ep sshutil.Endpoint, c *sshtesting.MockClient) {
		healthyDocker(ep, c)
		if ep.Host == "10.0.0.1" {
			c.SetCommandResponse(psCmd, sshtesting.CommandResponse{
				Error: errors.New(errors.ErrAuth, "ssh: session request rejected", ""),
			})
		}
	}

	res, err := NewCollector(cfg, d).Collect(context.Background(), nil)
	require.NoError(t, err)

	assert.Equal(t, OutcomeCollectionFailed, res.Hosts[0].Outcome)
	assert.Equal(t, errors.ErrAuth, res.Hosts[0].ErrorCode)
	for _, h := range res.Hosts[1:] {
		assert.Equal(t, OutcomeHealthy, h.Outcome, h.Name)
	}
}

func TestCollect_ParentCancelled(t *testing.T) {
	cfg := testConfig(2)
	d := tunneltest.NewFakeDialer()
	d.Configure = healthyDocker

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := NewCollector(cfg, d).Collect(ctx, nil)
	require.Error(t, err)
	assert.Len(t, res.Hosts, 2)
}

func TestSnapshot(t *testing.T) {
	cfg := testConfig(2)
	d := tunneltest.NewFakeDialer()
	d.Configure = func(ep sshutil.Endpoint, c *sshtesting.MockClient) {
		healthyDocker(ep, c)
		c.SetCommandResponse(versionCmd, sshtesting.CommandResponse{Stdout: []byte("Docker version 24.0.7\n"), Delay: 200 * time.Millisecond})
	}
	snap := NewSnapshot(NewCollector(cfg, d), nil)

	assert.Nil(t, snap.Current())
	last, err := snap.LastCycle()
	assert.Nil(t, last)
	assert.NoError(t, err)

	var wg sync.WaitGroup
	ids := make([]string, 4)
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := snap.Refresh(context.Background())
			assert.NoError(t, err)
			if res != nil {
				ids[i] = res.ID
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, d.BastionDials(), "concurrent refreshes share one cycle")
	for _, id := range ids[1:] {
		assert.Equal(t, ids[0], id)
	}
	assert.Len(t, snap.Current(), 2)

	_, err = snap.Refresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, d.BastionDials(), "each cycle reconnects from scratch")
	assert.Equal(t, 4, len(d.Clients()))

	current := snap.Current()
	current[0].Name = "mutated"
	assert.Equal(t, "web-01", snap.Current()[0].Name, "Current returns a copy")
}

func TestHostStatusJSON(t *testing.T) {
	h := healthy(config.Target{Name: "web-01", Host: "10.0.0.1"}, "Docker version 24.0.7", []docker.ContainerRecord{
		{ID: "a1", Name: "app", State: docker.StateRunning},
		{ID: "a2", Name: "db", State: docker.StateExited},
	})

	raw, err := json.Marshal(h)
	require.NoError(t, err)

	var got map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &got))
	assert.Equal(t, "web-01", got["host_name"])
	assert.Equal(t, "10.0.0.1", got["hostname"])
	assert.Equal(t, "healthy", got["outcome"])
	assert.Equal(t, true, got["connected"])
	assert.Equal(t, true, got["docker_available"])
	assert.Equal(t, 2.0, got["container_count"])
	assert.Equal(t, 1.0, got["running_count"])
	assert.Equal(t, 1.0, got["stopped_count"])
	assert.NotContains(t, got, "error")
}

func TestOutcomeFlags(t *testing.T) {
	tests := []struct {
		outcome   Outcome
		reachable bool
		available bool
	}{
		{OutcomeHealthy, true, true},
		{OutcomeUnreachable, false, false},
		{OutcomeRuntimeUnavailable, true, false},
		{OutcomeCollectionFailed, true, true},
	}
	for _, tt := range tests {
		t.Run(string(tt.outcome), func(t *testing.T) {
			h := HostStatus{Outcome: tt.outcome}
			assert.Equal(t, tt.reachable, h.Reachable())
			assert.Equal(t, tt.available, h.DockerAvailable())
		})
	}
}

func TestRootCode(t *testing.T) {
	inner := errors.New(errors.ErrAuth, "denied", "")
	outer := errors.WrapWithCode(inner, errors.ErrBastion, "bastion down", "")
	assert.Equal(t, errors.ErrAuth, rootCode(outer))
	assert.Equal(t, errors.ErrBastion, rootCode(errors.New(errors.ErrBastion, "x", "")))
	assert.Equal(t, "", rootCode(fmt.Errorf("plain")))
	assert.True(t, strings.HasPrefix(errors.Summary(outer), "bastion down"))
}

func counterValue(t *testing.T, reg *prometheus.Registry, name, label string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, f := range families {
		if f.GetName() != name {
			continue
		}
		for _, m := range f.GetMetric() {
			for _, lp := range m.GetLabel() {
				if lp.GetValue() == label {
					return m.GetCounter().GetValue()
				}
			}
		}
	}
	t.Fatalf("no %s{%s} series", name, label)
	return 0
}
