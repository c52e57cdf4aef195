package tunnel_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rileyhilliard/dockhop/internal/config"
	"github.com/rileyhilliard/dockhop/internal/errors"
	"github.com/rileyhilliard/dockhop/internal/logger"
	"github.com/rileyhilliard/dockhop/internal/tunnel"
	"github.com/rileyhilliard/dockhop/internal/tunnel/tunneltest"
	"github.com/rileyhilliard/dockhop/pkg/sshutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var bastionEP = sshutil.Endpoint{Name: "jump", Host: "jump.example.com", Port: 22, User: "ops", KeyFile: "/keys/jump"}

func target(host string) sshutil.Endpoint {
	return sshutil.Endpoint{Name: host, Host: host, Port: 22, User: "ubuntu", Password: "pw"}
}

func TestKey(t *testing.T) {
	k := tunnel.KeyOf(sshutil.Endpoint{Host: "10.0.0.1", User: "app"})
	assert.Equal(t, tunnel.Key{User: "app", Host: "10.0.0.1", Port: 22}, k)
	assert.Equal(t, "app@10.0.0.1:22", k.String())
}

func TestConnectBastion_Idempotent(t *testing.T) {
	d := tunneltest.NewFakeDialer()
	m := tunnel.NewManager(bastionEP, d)
	ctx := context.Background()

	require.NoError(t, m.ConnectBastion(ctx))
	require.NoError(t, m.ConnectBastion(ctx))
	assert.Equal(t, 1, d.BastionDials())

	require.NoError(t, m.CloseAll())
	assert.True(t, d.Bastions()[0].IsClosed())
}

func TestConnectBastion_CredentialsCheckedBeforeDialing(t *testing.T) {
	tests := []struct {
		name string
		ep   sshutil.Endpoint
	}{
		{name: "neither", ep: sshutil.Endpoint{Host: "jump", User: "ops"}},
		{name: "both", ep: sshutil.Endpoint{Host: "jump", User: "ops", KeyFile: "/k", Password: "p"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := tunneltest.NewFakeDialer()
			m := tunnel.NewManager(tt.ep, d)

			err := m.ConnectBastion(context.Background())
			require.Error(t, err)
			assert.True(t, errors.IsCode(err, errors.ErrConfig))
			assert.Equal(t, 0, d.BastionDials(), "no network I/O on config errors")
		})
	}
}

func TestConnectBastion_Failure(t *testing.T) {
	d := tunneltest.NewFakeDialer()
	d.FailBastion(errors.New(errors.ErrAuth, "Bastion rejected credentials", ""))
	m := tunnel.NewManager(bastionEP, d)

	err := m.ConnectBastion(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrAuth))

	_, err = m.ConnectTarget(context.Background(), target("web-01"))
	require.Error(t, err)
	assert.Equal(t, 0, d.TargetDials("web-01"))
}

// Two connects with the same (user, host, port) share one handshake while
// the connection is live; once it dies the next connect handshakes again.
func TestConnectTarget_Caching(t *testing.T) {
	d := tunneltest.NewFakeDialer()
	m := tunnel.NewManager(bastionEP, d)
	ctx := context.Background()

	first, err := m.ConnectTarget(ctx, target("web-01"))
	require.NoError(t, err)
	second, err := m.ConnectTarget(ctx, target("web-01"))
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, 1, d.TargetDials("web-01"))
	assert.True(t, m.IsTargetConnected(tunnel.KeyOf(target("web-01"))))

	d.Clients()[0].MarkDead()
	assert.False(t, m.IsTargetConnected(tunnel.KeyOf(target("web-01"))))

	third, err := m.ConnectTarget(ctx, target("web-01"))
	require.NoError(t, err)
	assert.NotSame(t, first, third)
	assert.Equal(t, 2, d.TargetDials("web-01"))
	assert.True(t, d.Clients()[0].IsClosed(), "dead entry is closed on eviction")
	assert.Equal(t, 1, m.Size())
}

func TestConnectTarget_DistinctKeys(t *testing.T) {
	d := tunneltest.NewFakeDialer()
	m := tunnel.NewManager(bastionEP, d)
	ctx := context.Background()

	a := target("web-01")
	b := target("web-01")
	b.User = "deploy"
	c := target("web-01")
	c.Port = 2222

	for _, ep := range []sshutil.Endpoint{a, b, c} {
		_, err := m.ConnectTarget(ctx, ep)
		require.NoError(t, err)
	}
	assert.Equal(t, 3, m.Size())
	assert.Equal(t, 3, d.TargetDials("web-01"))
	assert.Equal(t, 1, d.BastionDials())
}

func TestConnectTarget_ConcurrentSameKey(t *testing.T) {
	d := tunneltest.NewFakeDialer()
	d.DelayTarget("web-01", 20*time.Millisecond)
	m := tunnel.NewManager(bastionEP, d)

	var wg sync.WaitGroup
	clients := make([]sshutil.SSHClient, 8)
	for i := range clients {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c, err := m.ConnectTarget(context.Background(), target("web-01"))
			assert.NoError(t, err)
			clients[i] = c
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, d.BastionDials())
	assert.Equal(t, 1, d.TargetDials("web-01"))
	for _, c := range clients[1:] {
		assert.Same(t, clients[0], c)
	}
}

func TestConnectTarget_Errors(t *testing.T) {
	t.Run("credentials checked first", func(t *testing.T) {
		d := tunneltest.NewFakeDialer()
		m := tunnel.NewManager(bastionEP, d)

		ep := target("web-01")
		ep.KeyFile = "/k"
		_, err := m.ConnectTarget(context.Background(), ep)
		require.Error(t, err)
		assert.True(t, errors.IsCode(err, errors.ErrConfig))
		assert.Equal(t, 0, d.BastionDials())
	})

	t.Run("auth failure keeps its code", func(t *testing.T) {
		d := tunneltest.NewFakeDialer()
		d.FailTarget("db-01", errors.New(errors.ErrAuth, "Target rejected credentials", ""))
		m := tunnel.NewManager(bastionEP, d)

		_, err := m.ConnectTarget(context.Background(), target("db-01"))
		require.Error(t, err)
		assert.True(t, errors.IsCode(err, errors.ErrAuth))
		assert.Contains(t, errors.Summary(err), "db-01")
		assert.Equal(t, 0, m.Size(), "failures are not cached")
	})

	t.Run("timeout", func(t *testing.T) {
		d := tunneltest.NewFakeDialer()
		d.DelayTarget("slow-01", time.Minute)
		m := tunnel.NewManager(bastionEP, d)

		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()

		_, err := m.ConnectTarget(ctx, target("slow-01"))
		require.Error(t, err)
		assert.True(t, errors.IsCode(err, errors.ErrTimeout))
	})
}

func TestDeadBastionIsReplaced(t *testing.T) {
	t.Run("found by a failed handshake", func(t *testing.T) {
		d := tunneltest.NewFakeDialer()
		log := logger.NewBufferLogger()
		m := tunnel.NewManager(bastionEP, d, tunnel.WithLogger(log))
		ctx := context.Background()

		_, err := m.ConnectTarget(ctx, target("web-01"))
		require.NoError(t, err)

		// A dropped bastion link takes its tunnels with it.
		d.Bastions()[0].MarkDead()
		d.Clients()[0].MarkDead()

		_, err = m.ConnectTarget(ctx, target("web-01"))
		require.NoError(t, err)

		assert.Equal(t, 2, d.BastionDials())
		assert.Equal(t, 2, d.TargetDials("web-01"))
		assert.True(t, d.Clients()[0].IsClosed())
		assert.True(t, d.Bastions()[0].IsClosed())
		assert.True(t, log.Contains("warn", "stopped answering"))
	})

	t.Run("found by ConnectBastion", func(t *testing.T) {
		d := tunneltest.NewFakeDialer()
		m := tunnel.NewManager(bastionEP, d)
		ctx := context.Background()

		_, err := m.ConnectTarget(ctx, target("web-01"))
		require.NoError(t, err)
		d.Bastions()[0].MarkDead()

		require.NoError(t, m.ConnectBastion(ctx))
		assert.Equal(t, 2, d.BastionDials())
		assert.True(t, d.Clients()[0].IsClosed(), "targets behind a dead bastion are evicted")
		assert.Equal(t, 0, m.Size())
	})
}

// Target connects reuse the cached bastion without a keepalive round trip;
// only an explicit ConnectBastion checks it.
func TestConnectTarget_NoBastionCheckPerTarget(t *testing.T) {
	d := tunneltest.NewFakeDialer()
	m := tunnel.NewManager(bastionEP, d)
	ctx := context.Background()

	require.NoError(t, m.ConnectBastion(ctx))
	for _, h := range []string{"web-01", "web-02", "db-01"} {
		_, err := m.ConnectTarget(ctx, target(h))
		require.NoError(t, err)
	}
	assert.Equal(t, 0, d.Bastions()[0].AliveChecks())

	require.NoError(t, m.ConnectBastion(ctx))
	assert.Equal(t, 1, d.Bastions()[0].AliveChecks())
	assert.Equal(t, 1, d.BastionDials())
}

func TestConnectTarget_QueuedBehindSlowHandshake(t *testing.T) {
	// holdPool starts a handshake to slow-01 that keeps the pool locked
	// until the dial timeout expires.
	holdPool := func(t *testing.T, dialTimeout time.Duration) (*tunnel.Manager, *tunneltest.FakeDialer, <-chan error) {
		d := tunneltest.NewFakeDialer()
		d.DelayTarget("slow-01", time.Minute)
		m := tunnel.NewManager(bastionEP, d, tunnel.WithDialTimeout(dialTimeout))
		require.NoError(t, m.ConnectBastion(context.Background()))

		done := make(chan error, 1)
		go func() {
			_, err := m.ConnectTarget(context.Background(), target("slow-01"))
			done <- err
		}()
		require.Eventually(t, func() bool { return d.TargetDials("slow-01") == 1 }, time.Second, time.Millisecond)
		return m, d, done
	}

	t.Run("dial timeout starts once the lock is held", func(t *testing.T) {
		m, _, slow := holdPool(t, 100*time.Millisecond)

		// Waits out most of the slow handshake, then gets its own full timeout.
		_, err := m.ConnectTarget(context.Background(), target("web-01"))
		require.NoError(t, err)

		err = <-slow
		require.Error(t, err)
		assert.True(t, errors.IsCode(err, errors.ErrTimeout))
	})

	t.Run("waiting honors the caller's context", func(t *testing.T) {
		m, d, slow := holdPool(t, time.Second)

		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()
		start := time.Now()
		_, err := m.ConnectTarget(ctx, target("web-02"))
		require.Error(t, err)
		assert.True(t, errors.IsCode(err, errors.ErrTimeout))
		assert.Contains(t, errors.Summary(err), "Gave up waiting")
		assert.Less(t, time.Since(start), 500*time.Millisecond)
		assert.Equal(t, 0, d.TargetDials("web-02"))

		<-slow
	})
}

func TestFakeDialThroughFailsOnDoneContext(t *testing.T) {
	d := tunneltest.NewFakeDialer()
	b, err := d.Dial(context.Background(), bastionEP)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = b.DialThrough(ctx, target("web-01"))
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrAborted))
	assert.Empty(t, d.Clients())
}

func TestCloseTargetAndCloseAll(t *testing.T) {
	d := tunneltest.NewFakeDialer()
	m := tunnel.NewManager(bastionEP, d)
	ctx := context.Background()

	// Safe before anything is open.
	assert.NoError(t, m.CloseAll())
	assert.NoError(t, m.CloseTarget(tunnel.Key{User: "x", Host: "y", Port: 22}))

	for _, h := range []string{"web-01", "web-02", "db-01"} {
		_, err := m.ConnectTarget(ctx, target(h))
		require.NoError(t, err)
	}
	require.Equal(t, 3, m.Size())

	require.NoError(t, m.CloseTarget(tunnel.KeyOf(target("web-02"))))
	assert.Equal(t, 2, m.Size())
	assert.True(t, d.Clients()[1].IsClosed())

	require.NoError(t, m.CloseAll())
	require.NoError(t, m.CloseAll(), "idempotent")
	assert.Equal(t, 0, m.Size())
	for _, c := range d.Clients() {
		assert.True(t, c.IsClosed())
	}
	assert.True(t, d.Bastions()[0].IsClosed())

	// The manager can be used again after CloseAll.
	_, err := m.ConnectTarget(ctx, target("web-01"))
	require.NoError(t, err)
	assert.Equal(t, 2, d.BastionDials())
}

func TestEndpoints(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Bastion = config.Bastion{Host: "jump", Port: 2222, User: "ops", KeyFile: "/k", KnownHosts: "/kh"}
	target := config.Target{Name: "web-01", Host: "10.0.0.5", Port: 22, User: "app", Password: "pw"}

	assert.Equal(t, sshutil.Endpoint{Host: "jump", Port: 2222, User: "ops", KeyFile: "/k"}, tunnel.BastionEndpoint(cfg.Bastion))
	assert.Equal(t, sshutil.Endpoint{Name: "web-01", Host: "10.0.0.5", Port: 22, User: "app", Password: "pw"}, tunnel.TargetEndpoint(target))
	assert.Equal(t, "/kh", tunnel.DialerFor(cfg, nil).Options.KnownHostsFile)
}
