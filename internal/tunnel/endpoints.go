package tunnel

import (
	"github.com/rileyhilliard/dockhop/internal/config"
	"github.com/rileyhilliard/dockhop/pkg/sshutil"
)

// BastionEndpoint converts the configured bastion.
func BastionEndpoint(b config.Bastion) sshutil.Endpoint {
	return sshutil.Endpoint{
		Host:     b.Host,
		Port:     b.Port,
		User:     b.User,
		KeyFile:  b.KeyFile,
		Password: b.Password,
	}
}

// TargetEndpoint converts a configured target.
func TargetEndpoint(t config.Target) sshutil.Endpoint {
	return sshutil.Endpoint{
		Name:     t.Name,
		Host:     t.Host,
		Port:     t.Port,
		User:     t.User,
		KeyFile:  t.KeyFile,
		Password: t.Password,
	}
}

// DialerFor builds the real SSH dialer for cfg. Warnings, such as running
// without host key checking, go to warnf.
func DialerFor(cfg *config.Config, warnf func(format string, args ...interface{})) SSHDialer {
	return SSHDialer{Options: sshutil.Options{
		KnownHostsFile: cfg.Bastion.KnownHosts,
		Warnf:          warnf,
	}}
}
