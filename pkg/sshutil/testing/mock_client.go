// Package testing provides an in-memory SSHClient for unit tests.
package testing

import (
	"context"
	"fmt"
	"regexp"
	"sync"
	"time"

	"github.com/rileyhilliard/dockhop/internal/errors"
	"github.com/rileyhilliard/dockhop/pkg/sshutil"
)

// CommandResponse defines a canned response for a specific command pattern.
type CommandResponse struct {
	Stdout   []byte
	Stderr   []byte
	ExitCode int
	Error    error

	// Delay holds the command for this long. A context that ends first wins.
	Delay time.Duration
}

// ErrClosed is returned by Exec after Close.
var ErrClosed = errors.New(errors.ErrTransport, "connection closed", "")

type commandRule struct {
	pattern   string
	re        *regexp.Regexp
	responses []CommandResponse
	next      int
}

// MockClient simulates an SSH connection for testing.
// Commands are matched exactly first, then as regex patterns in the order
// they were registered. Unmatched commands exit 127.
type MockClient struct {
	mu      sync.Mutex
	host    string
	address string
	closed  bool
	dead    bool
	checks  int
	rules   []*commandRule
	calls   []string
}

var _ sshutil.SSHClient = (*MockClient)(nil)

// NewMockClient creates a new mock SSH client.
func NewMockClient(host string) *MockClient {
	return &MockClient{
		host:    host,
		address: host + ":22",
	}
}

// SetCommandResponse registers a canned response for a command pattern.
// The pattern can be an exact string or a regex pattern.
func (m *MockClient) SetCommandResponse(pattern string, resp CommandResponse) {
	m.SetCommandSequence(pattern, resp)
}

// SetCommandSequence registers responses returned one per call. The last
// response repeats once the sequence is exhausted, so a transient failure
// followed by success is SetCommandSequence(p, failure, success).
func (m *MockClient) SetCommandSequence(pattern string, resps ...CommandResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rule := &commandRule{pattern: pattern, responses: resps}
	if re, err := regexp.Compile(pattern); err == nil {
		rule.re = re
	}

	for i, r := range m.rules {
		if r.pattern == pattern {
			m.rules[i] = rule
			return
		}
	}
	m.rules = append(m.rules, rule)
}

// Exec returns the canned response for cmd.
func (m *MockClient) Exec(ctx context.Context, cmd string) (stdout, stderr []byte, exitCode int, err error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, nil, -1, ErrClosed
	}
	m.calls = append(m.calls, cmd)
	resp, ok := m.match(cmd)
	m.mu.Unlock()

	if !ok {
		return nil, []byte(fmt.Sprintf("sh: %s: command not found\n", cmd)), 127, nil
	}

	if resp.Delay > 0 {
		timer := time.NewTimer(resp.Delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			cause := ctx.Err()
			return nil, nil, -1, errors.WrapWithCode(cause, sshutil.Classify(cause),
				fmt.Sprintf("Command on '%s' didn't finish: %s", m.host, cmd), "")
		case <-timer.C:
		}
	}

	if resp.Error != nil {
		return nil, nil, -1, resp.Error
	}
	return resp.Stdout, resp.Stderr, resp.ExitCode, nil
}

// match must be called with mu held.
func (m *MockClient) match(cmd string) (CommandResponse, bool) {
	var hit *commandRule
	for _, r := range m.rules {
		if r.pattern == cmd {
			hit = r
			break
		}
	}
	if hit == nil {
		for _, r := range m.rules {
			if r.re != nil && r.re.MatchString(cmd) {
				hit = r
				break
			}
		}
	}
	if hit == nil || len(hit.responses) == 0 {
		return CommandResponse{}, false
	}

	resp := hit.responses[hit.next]
	if hit.next < len(hit.responses)-1 {
		hit.next++
	}
	return resp, true
}

// Alive reports false once the client is closed or marked dead.
func (m *MockClient) Alive() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checks++
	return !m.closed && !m.dead
}

// AliveChecks returns how many times Alive was called.
func (m *MockClient) AliveChecks() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.checks
}

// IsDown reports whether the client is closed or marked dead, without
// counting as a liveness check.
func (m *MockClient) IsDown() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed || m.dead
}

// MarkDead makes Alive report false without closing, like a dropped link.
func (m *MockClient) MarkDead() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dead = true
}

// Close marks the connection as closed.
func (m *MockClient) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// IsClosed reports whether Close was called.
func (m *MockClient) IsClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// GetHost returns the host name.
func (m *MockClient) GetHost() string {
	return m.host
}

// GetAddress returns the host:port address.
func (m *MockClient) GetAddress() string {
	return m.address
}

// Calls returns every command passed to Exec, in order.
func (m *MockClient) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.calls))
	copy(out, m.calls)
	return out
}

// CallCount returns how many times cmd (exact match) was executed.
func (m *MockClient) CallCount(cmd string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.calls {
		if c == cmd {
			n++
		}
	}
	return n
}
