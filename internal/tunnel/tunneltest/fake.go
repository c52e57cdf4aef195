// Package tunneltest provides an in-memory tunnel.Dialer for tests.
package tunneltest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rileyhilliard/dockhop/internal/errors"
	"github.com/rileyhilliard/dockhop/internal/tunnel"
	"github.com/rileyhilliard/dockhop/pkg/sshutil"
	sshtesting "github.com/rileyhilliard/dockhop/pkg/sshutil/testing"
)

// FakeDialer hands out mock bastions whose tunneled connections are fresh
// MockClients, configured per target by Configure.
type FakeDialer struct {
	// Configure sets up canned responses on every new target connection.
	Configure func(ep sshutil.Endpoint, c *sshtesting.MockClient)

	mu           sync.Mutex
	bastionErr   error
	targetErrs   map[string]error
	targetDelays map[string]time.Duration
	bastionDials int
	targetDials  map[string]int
	bastions     []*FakeBastion
	clients      []*sshtesting.MockClient
}

var _ tunnel.Dialer = (*FakeDialer)(nil)

// NewFakeDialer creates a dialer where every handshake succeeds.
func NewFakeDialer() *FakeDialer {
	return &FakeDialer{
		targetErrs:   make(map[string]error),
		targetDelays: make(map[string]time.Duration),
		targetDials:  make(map[string]int),
	}
}

// FailBastion makes every bastion dial fail with err.
func (d *FakeDialer) FailBastion(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.bastionErr = err
}

// FailTarget makes handshakes to host fail with err.
func (d *FakeDialer) FailTarget(host string, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.targetErrs[host] = err
}

// DelayTarget holds handshakes to host for delay, or until the dial context ends.
func (d *FakeDialer) DelayTarget(host string, delay time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.targetDelays[host] = delay
}

// BastionDials returns how many bastion handshakes were attempted.
func (d *FakeDialer) BastionDials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.bastionDials
}

// TargetDials returns how many handshakes to host were attempted.
func (d *FakeDialer) TargetDials(host string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.targetDials[host]
}

// Bastions returns every bastion handed out, oldest first.
func (d *FakeDialer) Bastions() []*FakeBastion {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*FakeBastion(nil), d.bastions...)
}

// Clients returns every target connection handed out, oldest first.
func (d *FakeDialer) Clients() []*sshtesting.MockClient {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*sshtesting.MockClient(nil), d.clients...)
}

// Dial implements tunnel.Dialer.
func (d *FakeDialer) Dial(ctx context.Context, ep sshutil.Endpoint) (tunnel.Bastion, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.bastionDials++
	if d.bastionErr != nil {
		return nil, d.bastionErr
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	b := &FakeBastion{MockClient: sshtesting.NewMockClient(ep.Label()), dialer: d}
	d.bastions = append(d.bastions, b)
	return b, nil
}

// FakeBastion is a mock bastion connection.
type FakeBastion struct {
	*sshtesting.MockClient
	dialer *FakeDialer
}

// DialThrough implements tunnel.Bastion. Like a real handshake, it fails
// once ctx is done, whether or not a delay is configured.
func (b *FakeBastion) DialThrough(ctx context.Context, ep sshutil.Endpoint) (sshutil.SSHClient, error) {
	if b.IsDown() {
		return nil, errors.New(errors.ErrTransport, "bastion connection is closed", "")
	}

	d := b.dialer
	d.mu.Lock()
	d.targetDials[ep.Host]++
	delay := d.targetDelays[ep.Host]
	failure := d.targetErrs[ep.Host]
	d.mu.Unlock()

	if delay > 0 {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
		case <-timer.C:
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, errors.WrapWithCode(err, sshutil.Classify(err),
			fmt.Sprintf("SSH handshake with '%s' didn't finish in time", ep.Label()), "")
	}
	if failure != nil {
		return nil, failure
	}

	client := sshtesting.NewMockClient(ep.Label())
	if d.Configure != nil {
		d.Configure(ep, client)
	}

	d.mu.Lock()
	d.clients = append(d.clients, client)
	d.mu.Unlock()
	return client, nil
}
