// Package docker turns Docker CLI output gathered over SSH into container
// records, and drives the docker binary on a target.
package docker

import (
	"strings"
	"time"

	"github.com/samber/lo"
)

// State is a container's normalized lifecycle state.
type State string

// Known states. Anything else normalizes to StateUnknown.
const (
	StateRunning    State = "running"
	StateExited     State = "exited"
	StatePaused     State = "paused"
	StateCreated    State = "created"
	StateRestarting State = "restarting"
	StateDead       State = "dead"
	StateUnknown    State = "unknown"
)

var knownStates = map[State]bool{
	StateRunning:    true,
	StateExited:     true,
	StatePaused:     true,
	StateCreated:    true,
	StateRestarting: true,
	StateDead:       true,
}

// NormalizeState maps Docker's state text onto a known State.
func NormalizeState(s string) State {
	st := State(strings.ToLower(strings.TrimSpace(s)))
	if knownStates[st] {
		return st
	}
	return StateUnknown
}

// createdLayout is how 'docker ps' renders CreatedAt.
const createdLayout = "2006-01-02 15:04:05 -0700 MST"

// ContainerRecord is one container as seen on one host. The usage fields are
// filled by Merge and stay empty when no usage sample matched; a nil
// percentage means unknown, never zero.
type ContainerRecord struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Image   string `json:"image"`
	Status  string `json:"status"`
	State   State  `json:"state"`
	Created string `json:"created,omitempty"`
	Ports   string `json:"ports,omitempty"`
	Command string `json:"command,omitempty"`
	Host    string `json:"host"`

	CPUPercent    *float64 `json:"cpu_percent"`
	MemoryUsage   string   `json:"memory_usage,omitempty"`
	MemoryPercent *float64 `json:"memory_percent"`
	NetIO         string   `json:"net_io,omitempty"`
	BlockIO       string   `json:"block_io,omitempty"`
	PIDs          string   `json:"pids,omitempty"`
}

// IsRunning reports whether the container's state is running, ignoring case.
func (c ContainerRecord) IsRunning() bool {
	return strings.EqualFold(string(c.State), string(StateRunning))
}

// ShortID returns the 12-character form of the container ID.
func (c ContainerRecord) ShortID() string {
	return ShortID(c.ID)
}

// HasUsage reports whether a usage sample was merged into the record.
func (c ContainerRecord) HasUsage() bool {
	return c.CPUPercent != nil || c.MemoryPercent != nil || c.MemoryUsage != ""
}

// CreatedTime parses Created. The bool is false when it is empty or not in
// the format 'docker ps' uses.
func (c ContainerRecord) CreatedTime() (time.Time, bool) {
	if c.Created == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(createdLayout, c.Created)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// ShortID truncates a container ID to 12 characters.
func ShortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}

// Usage is one point-in-time resource sample from 'docker stats'.
type Usage struct {
	ID            string   `json:"id"`
	Name          string   `json:"name"`
	CPUPercent    *float64 `json:"cpu_percent"`
	MemoryUsage   string   `json:"memory_usage,omitempty"`
	MemoryPercent *float64 `json:"memory_percent"`
	NetIO         string   `json:"net_io,omitempty"`
	BlockIO       string   `json:"block_io,omitempty"`
	PIDs          string   `json:"pids,omitempty"`
}

// Counts summarizes a container list.
type Counts struct {
	Total   int `json:"total"`
	Running int `json:"running"`
	Stopped int `json:"stopped"`
}

// Count tallies running and stopped containers.
func Count(containers []ContainerRecord) Counts {
	running := lo.CountBy(containers, func(r ContainerRecord) bool { return r.IsRunning() })
	return Counts{Total: len(containers), Running: running, Stopped: len(containers) - running}
}
