// Package tunnel owns the single bastion connection and a keyed cache of
// target connections multiplexed over it.
package tunnel

import (
	"context"
	"fmt"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/rileyhilliard/dockhop/internal/config"
	"github.com/rileyhilliard/dockhop/internal/errors"
	"github.com/rileyhilliard/dockhop/internal/logger"
	"github.com/rileyhilliard/dockhop/internal/metrics"
	"github.com/rileyhilliard/dockhop/pkg/sshutil"
	"golang.org/x/sync/semaphore"
)

// Key identifies a cached target connection.
type Key struct {
	User string
	Host string
	Port int
}

// KeyOf returns the cache key for ep.
func KeyOf(ep sshutil.Endpoint) Key {
	port := ep.Port
	if port == 0 {
		port = 22
	}
	return Key{User: ep.User, Host: ep.Host, Port: port}
}

func (k Key) String() string {
	return fmt.Sprintf("%s@%s:%d", k.User, k.Host, k.Port)
}

// Bastion is an established jump-host connection that can open tunneled
// connections to targets.
type Bastion interface {
	sshutil.SSHClient
	DialThrough(ctx context.Context, ep sshutil.Endpoint) (sshutil.SSHClient, error)
}

// Dialer establishes the physical bastion connection.
type Dialer interface {
	Dial(ctx context.Context, ep sshutil.Endpoint) (Bastion, error)
}

// Manager owns the bastion connection and the target connection cache. Both
// are guarded by one lock. A Manager is meant to live for one collection
// cycle; CloseAll tears everything down.
//
// The lock is held across at most one handshake at a time, and waiting for it
// honors the caller's context. Liveness checks are round trips too, so they
// run outside it. With WithDialTimeout, each handshake's deadline starts once
// the lock is held, so time spent queued behind a slow host is not charged to
// the next one.
type Manager struct {
	bastionEP   sshutil.Endpoint
	dialer      Dialer
	dialTimeout time.Duration
	log         logger.Logger
	metrics     metrics.Recorder

	sem     *semaphore.Weighted
	bastion Bastion
	targets map[Key]sshutil.SSHClient
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the manager's logger.
func WithLogger(l logger.Logger) Option {
	return func(m *Manager) { m.log = l }
}

// WithMetrics sets the manager's metrics recorder.
func WithMetrics(r metrics.Recorder) Option {
	return func(m *Manager) { m.metrics = r }
}

// WithDialTimeout bounds every bastion and target handshake. Zero leaves
// handshakes bounded by the caller's context only.
func WithDialTimeout(d time.Duration) Option {
	return func(m *Manager) { m.dialTimeout = d }
}

// NewManager creates a manager for the given bastion. Nothing is dialed
// until the first ConnectBastion or ConnectTarget.
func NewManager(bastion sshutil.Endpoint, dialer Dialer, opts ...Option) *Manager {
	m := &Manager{
		bastionEP: bastion,
		dialer:    dialer,
		sem:       semaphore.NewWeighted(1),
		targets:   make(map[Key]sshutil.SSHClient),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.log = logger.OrNoop(m.log)
	m.metrics = metrics.OrNoop(m.metrics)
	return m
}

// lock takes the manager lock, giving up when ctx ends first.
func (m *Manager) lock(ctx context.Context) error {
	return m.sem.Acquire(ctx, 1)
}

// lockWait takes the manager lock with no deadline. Only for critical
// sections that never dial.
func (m *Manager) lockWait() {
	_ = m.sem.Acquire(context.Background(), 1)
}

func (m *Manager) unlock() {
	m.sem.Release(1)
}

func (m *Manager) dialContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if m.dialTimeout > 0 {
		return context.WithTimeout(ctx, m.dialTimeout)
	}
	return context.WithCancel(ctx)
}

func waitError(label string, err error) error {
	return errors.WrapWithCode(err, sshutil.Classify(err),
		fmt.Sprintf("Gave up waiting to connect to '%s'", label),
		"Another handshake held the connection pool; raise monitoring.connect_timeout or lower max_concurrent_connections.")
}

// ConnectBastion returns once a live bastion connection exists, dialing it
// if needed. Idempotent. A dead cached bastion is replaced, and every target
// cached through it is evicted with it.
func (m *Manager) ConnectBastion(ctx context.Context) error {
	if err := config.ValidateEndpoint("bastion", m.bastionEP.KeyFile, m.bastionEP.Password); err != nil {
		return err
	}

	b, err := m.currentBastion(ctx)
	if err != nil {
		return err
	}
	if b != nil {
		if b.Alive() {
			return nil
		}
		m.discardBastion(b)
	}
	_, err = m.dialBastion(ctx)
	return err
}

func (m *Manager) currentBastion(ctx context.Context) (Bastion, error) {
	if err := m.lock(ctx); err != nil {
		return nil, waitError("bastion "+m.bastionEP.Label(), err)
	}
	defer m.unlock()
	return m.bastion, nil
}

// ensureBastion returns the cached bastion without probing it, dialing one
// when none is cached.
func (m *Manager) ensureBastion(ctx context.Context) (Bastion, error) {
	b, err := m.currentBastion(ctx)
	if err != nil || b != nil {
		return b, err
	}
	if err := config.ValidateEndpoint("bastion", m.bastionEP.KeyFile, m.bastionEP.Password); err != nil {
		return nil, err
	}
	return m.dialBastion(ctx)
}

func (m *Manager) dialBastion(ctx context.Context) (Bastion, error) {
	if err := m.lock(ctx); err != nil {
		return nil, waitError("bastion "+m.bastionEP.Label(), err)
	}
	defer m.unlock()

	// Another caller may have dialed it while this one waited.
	if m.bastion != nil {
		return m.bastion, nil
	}

	dialCtx, cancel := m.dialContext(ctx)
	defer cancel()

	start := time.Now()
	b, err := m.dialer.Dial(dialCtx, m.bastionEP)
	m.metrics.Handshake(metrics.KindBastion, err == nil, time.Since(start))
	if err != nil {
		return nil, errors.WrapWithCode(err, sshutil.Classify(err),
			fmt.Sprintf("Can't connect to bastion '%s'", m.bastionEP.Label()),
			"Check bastion.host, bastion.user and its credentials in hosts.yaml.")
	}

	m.bastion = b
	m.log.Info("connected to bastion %s in %s", m.bastionEP.Address(), time.Since(start).Round(time.Millisecond))
	return b, nil
}

// discardBastion drops b if it is still the cached bastion.
func (m *Manager) discardBastion(b Bastion) {
	m.lockWait()
	defer m.unlock()
	if m.bastion == b {
		m.log.Warn("bastion %s stopped answering, reconnecting", m.bastionEP.Address())
		m.dropBastionLocked()
	}
}

// ConnectTarget returns a live connection to ep, tunneled through the
// bastion. A cached live connection for the same (user, host, port) is
// reused without a new handshake; a dead one is evicted and replaced. When a
// handshake fails because the bastion itself died, the bastion is redialed
// once and the handshake retried.
func (m *Manager) ConnectTarget(ctx context.Context, ep sshutil.Endpoint) (sshutil.SSHClient, error) {
	if err := config.ValidateEndpoint(fmt.Sprintf("target '%s'", ep.Label()), ep.KeyFile, ep.Password); err != nil {
		return nil, err
	}

	key := KeyOf(ep)
	client, err := m.cachedTarget(ctx, key, ep)
	if err != nil || client != nil {
		return client, err
	}

	client, b, err := m.dialTarget(ctx, key, ep)
	if err != nil && b != nil && errors.IsCode(err, errors.ErrTransport) && !b.Alive() {
		m.discardBastion(b)
		client, _, err = m.dialTarget(ctx, key, ep)
	}
	return client, err
}

// cachedTarget returns the live cached connection for key, or nil. A dead
// entry is closed and evicted.
func (m *Manager) cachedTarget(ctx context.Context, key Key, ep sshutil.Endpoint) (sshutil.SSHClient, error) {
	if err := m.lock(ctx); err != nil {
		return nil, waitError(ep.Label(), err)
	}
	client, ok := m.targets[key]
	m.unlock()
	if !ok {
		return nil, nil
	}

	if client.Alive() {
		m.log.Debug("reusing connection to %s", key)
		return client, nil
	}

	m.lockWait()
	if m.targets[key] == client {
		m.log.Debug("evicting dead connection to %s", key)
		_ = client.Close()
		delete(m.targets, key)
	}
	m.unlock()
	return nil, nil
}

// dialTarget handshakes with ep through the bastion under the lock. It also
// returns the bastion it dialed through, so callers can tell a dead bastion
// from a failing target.
func (m *Manager) dialTarget(ctx context.Context, key Key, ep sshutil.Endpoint) (sshutil.SSHClient, Bastion, error) {
	if _, err := m.ensureBastion(ctx); err != nil {
		return nil, nil, err
	}

	if err := m.lock(ctx); err != nil {
		return nil, nil, waitError(ep.Label(), err)
	}
	defer m.unlock()

	// Another caller may have connected the same key while this one waited.
	if client, ok := m.targets[key]; ok {
		return client, m.bastion, nil
	}

	// The bastion may have been dropped by another caller since ensureBastion returned.
	b := m.bastion
	if b == nil {
		return nil, nil, errors.New(errors.ErrBastion,
			fmt.Sprintf("Bastion connection went away before '%s' could be reached", ep.Label()),
			"Retry the collection.")
	}

	dialCtx, cancel := m.dialContext(ctx)
	defer cancel()

	start := time.Now()
	client, err := b.DialThrough(dialCtx, ep)
	m.metrics.Handshake(metrics.KindTarget, err == nil, time.Since(start))
	if err != nil {
		return nil, b, errors.WrapWithCode(err, sshutil.Classify(err),
			fmt.Sprintf("Can't connect to '%s'", ep.Label()),
			"Check the target's host, user and credentials, and that the bastion can reach it.")
	}

	m.targets[key] = client
	m.log.Debug("connected to %s through bastion in %s", key, time.Since(start).Round(time.Millisecond))
	return client, b, nil
}

// IsTargetConnected reports whether a live connection for key is cached.
func (m *Manager) IsTargetConnected(key Key) bool {
	m.lockWait()
	client, ok := m.targets[key]
	m.unlock()
	return ok && client.Alive()
}

// Size returns the number of cached target connections.
func (m *Manager) Size() int {
	m.lockWait()
	defer m.unlock()
	return len(m.targets)
}

// CloseTarget closes and evicts the connection for key. Safe to call when
// nothing is cached.
func (m *Manager) CloseTarget(key Key) error {
	m.lockWait()
	client, ok := m.targets[key]
	delete(m.targets, key)
	m.unlock()

	if !ok {
		return nil
	}
	return client.Close()
}

// CloseAll closes every target connection and then the bastion. Idempotent;
// every close is attempted and failures are reported together.
func (m *Manager) CloseAll() error {
	m.lockWait()
	defer m.unlock()

	var result *multierror.Error
	for key, client := range m.targets {
		if err := client.Close(); err != nil {
			result = multierror.Append(result, fmt.Errorf("close %s: %w", key, err))
		}
		delete(m.targets, key)
	}

	if m.bastion != nil {
		if err := m.bastion.Close(); err != nil {
			result = multierror.Append(result, fmt.Errorf("close bastion: %w", err))
		}
		m.bastion = nil
		m.log.Debug("closed bastion %s", m.bastionEP.Address())
	}

	return result.ErrorOrNil()
}

// dropBastionLocked closes the bastion and every target tunneled through it.
// Callers must hold the lock.
func (m *Manager) dropBastionLocked() {
	for key, client := range m.targets {
		_ = client.Close()
		delete(m.targets, key)
	}
	if m.bastion != nil {
		_ = m.bastion.Close()
		m.bastion = nil
	}
}
