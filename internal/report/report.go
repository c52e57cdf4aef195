// Package report turns a collection cycle into the views the CLI prints
// and saves: a fleet summary, per-host rows, a flattened container list
// and the failures, rendered as a table, JSON or CSV.
package report

import (
	"time"

	"github.com/rileyhilliard/dockhop/internal/docker"
	"github.com/rileyhilliard/dockhop/internal/monitor"
	"github.com/samber/lo"
)

// Summary totals a cycle across the fleet. Container totals only count
// hosts whose docker answered.
type Summary struct {
	TotalHosts        int `json:"total_hosts"`
	ConnectedHosts    int `json:"connected_hosts"`
	FailedHosts       int `json:"failed_hosts"`
	TotalContainers   int `json:"total_containers"`
	RunningContainers int `json:"running_containers"`
	StoppedContainers int `json:"stopped_containers"`
}

// HostRow is one host's line in the report.
type HostRow struct {
	Name            string          `json:"host_name"`
	Address         string          `json:"hostname"`
	Outcome         monitor.Outcome `json:"outcome"`
	Connected       bool            `json:"connected"`
	DockerAvailable bool            `json:"docker_available"`
	DockerVersion   string          `json:"docker_version,omitempty"`
	ContainerCount  int             `json:"container_count"`
	RunningCount    int             `json:"running_count"`
	StoppedCount    int             `json:"stopped_count"`
	Error           string          `json:"error,omitempty"`
	ErrorCode       string          `json:"error_code,omitempty"`
	ElapsedMillis   int64           `json:"elapsed_ms"`
}

// Failure names a host that contributed no containers, and why.
type Failure struct {
	Host      string          `json:"host"`
	Outcome   monitor.Outcome `json:"outcome"`
	Error     string          `json:"error"`
	ErrorCode string          `json:"error_code,omitempty"`
}

// Report is the aggregated view of one cycle.
type Report struct {
	Timestamp      time.Time                `json:"timestamp"`
	CycleID        string                   `json:"cycle_id,omitempty"`
	DurationMillis int64                    `json:"duration_ms"`
	Summary        Summary                  `json:"summary"`
	Hosts          []HostRow                `json:"hosts"`
	Containers     []docker.ContainerRecord `json:"containers"`
	Failures       []Failure                `json:"failures"`
}

// counted reports whether a host's containers go into the totals: it was
// reached and docker answered.
func counted(h monitor.HostStatus) bool {
	return h.Reachable() && h.DockerAvailable()
}

// Aggregate builds the report for a finished cycle.
func Aggregate(res *monitor.CycleResult) *Report {
	rep := &Report{
		Hosts:      []HostRow{},
		Containers: []docker.ContainerRecord{},
		Failures:   []Failure{},
	}
	if res == nil {
		return rep
	}

	rep.Timestamp = res.Finished
	rep.CycleID = res.ID
	rep.DurationMillis = res.Duration().Milliseconds()
	rep.Summary.TotalHosts = len(res.Hosts)

	for _, h := range res.Hosts {
		counts := h.Counts()
		rep.Hosts = append(rep.Hosts, HostRow{
			Name:            h.Name,
			Address:         h.Address,
			Outcome:         h.Outcome,
			Connected:       h.Reachable(),
			DockerAvailable: h.DockerAvailable(),
			DockerVersion:   h.DockerVersion,
			ContainerCount:  counts.Total,
			RunningCount:    counts.Running,
			StoppedCount:    counts.Stopped,
			Error:           h.Error,
			ErrorCode:       h.ErrorCode,
			ElapsedMillis:   h.Elapsed.Milliseconds(),
		})

		if !counted(h) {
			rep.Failures = append(rep.Failures, Failure{
				Host:      h.Name,
				Outcome:   h.Outcome,
				Error:     lo.Ternary(h.Error != "", h.Error, "Unknown error"),
				ErrorCode: h.ErrorCode,
			})
			continue
		}

		rep.Summary.ConnectedHosts++
		rep.Summary.TotalContainers += counts.Total
		rep.Summary.RunningContainers += counts.Running
		rep.Summary.StoppedContainers += counts.Stopped
		rep.Containers = append(rep.Containers, h.Containers...)
	}
	rep.Summary.FailedHosts = len(rep.Failures)

	return rep
}
