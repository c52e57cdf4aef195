package tunnel

import (
	"context"

	"github.com/rileyhilliard/dockhop/pkg/sshutil"
)

// SSHDialer dials real SSH connections. The bastion host is resolved through
// ~/.ssh/config; targets are dialed by address from the bastion's side.
type SSHDialer struct {
	Options sshutil.Options
}

// Dial implements Dialer.
func (d SSHDialer) Dial(ctx context.Context, ep sshutil.Endpoint) (Bastion, error) {
	opts := d.Options
	opts.ResolveAliases = true

	client, err := sshutil.Dial(ctx, ep, opts)
	if err != nil {
		return nil, err
	}

	// The host key warning, if any, was already emitted for the bastion.
	targetOpts := d.Options
	targetOpts.Warnf = nil
	return &sshBastion{Client: client, opts: targetOpts}, nil
}

type sshBastion struct {
	*sshutil.Client
	opts sshutil.Options
}

func (b *sshBastion) DialThrough(ctx context.Context, ep sshutil.Endpoint) (sshutil.SSHClient, error) {
	client, err := b.Client.DialThrough(ctx, ep, b.opts)
	if err != nil {
		return nil, err
	}
	return client, nil
}
