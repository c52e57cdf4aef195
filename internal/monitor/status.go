package monitor

import (
	"encoding/json"
	"time"

	"github.com/rileyhilliard/dockhop/internal/config"
	"github.com/rileyhilliard/dockhop/internal/docker"
	"github.com/rileyhilliard/dockhop/internal/errors"
)

// Outcome is what one collection attempt established about a host.
type Outcome string

const (
	// OutcomeHealthy: connected, docker present, inventory collected.
	OutcomeHealthy Outcome = "healthy"
	// OutcomeUnreachable: no connection to the host.
	OutcomeUnreachable Outcome = "unreachable"
	// OutcomeRuntimeUnavailable: connected, but the docker CLI is missing
	// or not usable.
	OutcomeRuntimeUnavailable Outcome = "runtime_unavailable"
	// OutcomeCollectionFailed: docker present, but listing or sampling
	// containers failed.
	OutcomeCollectionFailed Outcome = "collection_failed"
)

// HostStatus is the result for one target in one cycle. Every configured
// target gets exactly one, whatever went wrong; failures are recorded in
// Outcome and Error. Reachability, availability and container counts are
// derived, not stored.
type HostStatus struct {
	Name          string                   `json:"host_name"`
	Address       string                   `json:"hostname"`
	Tags          []string                 `json:"tags,omitempty"`
	Outcome       Outcome                  `json:"outcome"`
	DockerVersion string                   `json:"docker_version,omitempty"`
	Error         string                   `json:"error,omitempty"`
	ErrorCode     string                   `json:"error_code,omitempty"`
	Containers    []docker.ContainerRecord `json:"containers"`
	CollectedAt   time.Time                `json:"collected_at"`
	Elapsed       time.Duration            `json:"-"`
}

// Reachable reports whether a connection to the host was established.
func (h HostStatus) Reachable() bool {
	return h.Outcome != OutcomeUnreachable
}

// DockerAvailable reports whether the docker CLI answered on the host.
func (h HostStatus) DockerAvailable() bool {
	return h.Outcome == OutcomeHealthy || h.Outcome == OutcomeCollectionFailed
}

// Counts tallies the host's containers.
func (h HostStatus) Counts() docker.Counts {
	return docker.Count(h.Containers)
}

// MarshalJSON adds the derived fields for consumers of the JSON report.
func (h HostStatus) MarshalJSON() ([]byte, error) {
	type plain HostStatus
	counts := h.Counts()
	return json.Marshal(struct {
		plain
		Connected       bool  `json:"connected"`
		DockerAvailable bool  `json:"docker_available"`
		ContainerCount  int   `json:"container_count"`
		RunningCount    int   `json:"running_count"`
		StoppedCount    int   `json:"stopped_count"`
		ElapsedMillis   int64 `json:"elapsed_ms"`
	}{
		plain:           plain(h),
		Connected:       h.Reachable(),
		DockerAvailable: h.DockerAvailable(),
		ContainerCount:  counts.Total,
		RunningCount:    counts.Running,
		StoppedCount:    counts.Stopped,
		ElapsedMillis:   h.Elapsed.Milliseconds(),
	})
}

func baseStatus(t config.Target) HostStatus {
	return HostStatus{
		Name:       t.Name,
		Address:    t.Host,
		Tags:       t.Tags,
		Containers: []docker.ContainerRecord{},
	}
}

func withError(h HostStatus, err error) HostStatus {
	if err != nil {
		h.Error = errors.Summary(err)
		h.ErrorCode = rootCode(err)
	}
	return h
}

// rootCode is the innermost structured code, which names the actual cause
// (AUTH, TIMEOUT) beneath any context wrapping.
func rootCode(err error) string {
	code := errors.CodeOf(err)
	for err != nil {
		if c := errors.CodeOf(err); c != "" {
			code = c
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			break
		}
		err = u.Unwrap()
	}
	return code
}

func unreachable(t config.Target, err error) HostStatus {
	h := baseStatus(t)
	h.Outcome = OutcomeUnreachable
	return withError(h, err)
}

func runtimeUnavailable(t config.Target, bin string) HostStatus {
	h := baseStatus(t)
	h.Outcome = OutcomeRuntimeUnavailable
	h.Error = "Docker not available (" + bin + ")"
	return h
}

func collectionFailed(t config.Target, version string, err error) HostStatus {
	h := baseStatus(t)
	h.Outcome = OutcomeCollectionFailed
	h.DockerVersion = version
	return withError(h, err)
}

func healthy(t config.Target, version string, containers []docker.ContainerRecord) HostStatus {
	h := baseStatus(t)
	h.Outcome = OutcomeHealthy
	h.DockerVersion = version
	if containers != nil {
		h.Containers = containers
	}
	return h
}
