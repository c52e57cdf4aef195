package sshutil

import (
	"bytes"
	"context"
	stderrors "errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/kevinburke/ssh_config"
	"github.com/rileyhilliard/dockhop/internal/errors"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// DefaultAliveTimeout bounds a single keepalive round trip.
const DefaultAliveTimeout = 5 * time.Second

// Endpoint describes one SSH server and the credentials to use against it.
// Exactly one of KeyFile or Password must be set.
type Endpoint struct {
	// Name labels the endpoint in errors and logs. Defaults to Host.
	Name     string
	Host     string
	Port     int
	User     string
	KeyFile  string
	Password string
}

// Address returns the host:port string for dialing.
func (e Endpoint) Address() string {
	port := e.Port
	if port == 0 {
		port = 22
	}
	return net.JoinHostPort(e.Host, strconv.Itoa(port))
}

// Label returns the name used in messages.
func (e Endpoint) Label() string {
	if e.Name != "" {
		return e.Name
	}
	return e.Host
}

// Options tunes how connections are established.
type Options struct {
	// KnownHostsFile enables host key verification. When empty, host keys
	// are accepted without checking.
	KnownHostsFile string

	// ResolveAliases looks the host up in ~/.ssh/config before dialing.
	// Only meaningful for directly dialed hosts.
	ResolveAliases bool

	// Warnf receives non-fatal warnings. May be nil.
	Warnf func(format string, args ...interface{})
}

func (o Options) warnf(format string, args ...interface{}) {
	if o.Warnf != nil {
		o.Warnf(format, args...)
	}
}

// Client wraps an SSH connection with additional metadata.
type Client struct {
	*ssh.Client
	Host    string // The endpoint label used to connect
	Address string // The resolved address (host:port)
}

// Dial establishes a direct SSH connection to ep. The context bounds both
// the TCP dial and the handshake.
func Dial(ctx context.Context, ep Endpoint, opts Options) (*Client, error) {
	if opts.ResolveAliases {
		ep = ResolveAlias(ep)
	}

	config, err := buildSSHConfig(ep, opts)
	if err != nil {
		return nil, err
	}

	address := ep.Address()
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, errors.WrapWithCode(err, Classify(err),
			fmt.Sprintf("Can't reach '%s' at %s", ep.Label(), address),
			suggestionForDialError(err))
	}

	return handshake(ctx, conn, ep, address, config)
}

// DialThrough opens a tunneled SSH connection to ep, multiplexed over this
// client's connection. The bastion never sees the target's credentials in
// clear; the handshake runs end to end over the forwarded channel.
func (c *Client) DialThrough(ctx context.Context, ep Endpoint, opts Options) (*Client, error) {
	config, err := buildSSHConfig(ep, opts)
	if err != nil {
		return nil, err
	}

	address := ep.Address()
	conn, err := c.Client.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, errors.WrapWithCode(err, Classify(err),
			fmt.Sprintf("Bastion '%s' couldn't open a channel to '%s' at %s", c.Host, ep.Label(), address),
			"Check the target is reachable from the bastion and TCP forwarding is allowed there.")
	}

	return handshake(ctx, conn, ep, address, config)
}

// handshake runs the SSH handshake over conn, abandoning it when ctx ends.
func handshake(ctx context.Context, conn net.Conn, ep Endpoint, address string, config *ssh.ClientConfig) (*Client, error) {
	if deadline, ok := ctx.Deadline(); ok {
		// Forwarded channels don't support deadlines; the AfterFunc covers them.
		_ = conn.SetDeadline(deadline)
	}
	stop := context.AfterFunc(ctx, func() { conn.Close() })

	sshConn, chans, reqs, err := ssh.NewClientConn(conn, address, config)
	if !stop() {
		// ctx fired mid-handshake and the conn is already closed.
		if err == nil {
			sshConn.Close()
		}
		cause := ctx.Err()
		return nil, errors.WrapWithCode(cause, Classify(cause),
			fmt.Sprintf("SSH handshake with '%s' didn't finish in time", ep.Label()),
			"The host may be overloaded or dropping packets. Try again or raise monitoring.connect_timeout.")
	}
	if err != nil {
		conn.Close()

		var hostKeyErr *HostKeyMismatchError
		if stderrors.As(err, &hostKeyErr) {
			return nil, errors.WrapWithCode(err, errors.ErrAuth,
				hostKeyErr.Error(),
				hostKeyErr.Suggestion())
		}

		return nil, errors.WrapWithCode(err, Classify(err),
			fmt.Sprintf("SSH handshake with '%s' didn't go through", ep.Label()),
			suggestionForHandshakeError(err))
	}
	_ = conn.SetDeadline(time.Time{})

	return &Client{
		Client:  ssh.NewClient(sshConn, chans, reqs),
		Host:    ep.Label(),
		Address: address,
	}, nil
}

// Close closes the SSH connection.
func (c *Client) Close() error {
	if c.Client == nil {
		return nil
	}
	return c.Client.Close()
}

// GetHost returns the endpoint label used to connect.
func (c *Client) GetHost() string {
	return c.Host
}

// GetAddress returns the resolved host:port address.
func (c *Client) GetAddress() string {
	return c.Address
}

// Alive sends a keepalive global request. This is much cheaper than opening
// a session and works on connections whose server refuses exec.
func (c *Client) Alive() bool {
	if c.Client == nil {
		return false
	}

	done := make(chan error, 1)
	go func() {
		_, _, err := c.Client.SendRequest("keepalive@openssh.com", true, nil)
		done <- err
	}()

	select {
	case err := <-done:
		return err == nil
	case <-time.After(DefaultAliveTimeout):
		return false
	}
}

// Classify maps a raw dial, handshake, or exec error to an error code.
// Auth rejections are never worth retrying; timeouts and transport faults are.
func Classify(err error) string {
	if err == nil {
		return ""
	}
	if code := errors.CodeOf(err); code != "" {
		return code
	}
	if stderrors.Is(err, context.DeadlineExceeded) {
		return errors.ErrTimeout
	}
	if stderrors.Is(err, context.Canceled) {
		return errors.ErrAborted
	}
	var netErr net.Error
	if stderrors.As(err, &netErr) && netErr.Timeout() {
		return errors.ErrTimeout
	}
	msg := err.Error()
	if strings.Contains(msg, "i/o timeout") {
		return errors.ErrTimeout
	}
	if strings.Contains(msg, "unable to authenticate") ||
		strings.Contains(msg, "no supported methods remain") {
		return errors.ErrAuth
	}
	var hostKeyErr *HostKeyMismatchError
	if stderrors.As(err, &hostKeyErr) {
		return errors.ErrAuth
	}
	return errors.ErrTransport
}

// ResolveAlias fills in HostName, Port, User, and IdentityFile from
// ~/.ssh/config when ep.Host is an alias there. Explicit endpoint values win.
func ResolveAlias(ep Endpoint) Endpoint {
	return resolveAliasFrom(filepath.Join(homeDir(), ".ssh", "config"), ep)
}

func resolveAliasFrom(configPath string, ep Endpoint) Endpoint {
	// The kevinburke/ssh_config library doesn't support Match, so only the
	// content before the first Match block is parsed.
	content, _, err := preprocessSSHConfig(configPath)
	if err != nil {
		return ep
	}

	cfg, err := ssh_config.Decode(bytes.NewReader(content))
	if err != nil {
		return ep
	}

	alias := ep.Host
	if ep.Name == "" {
		ep.Name = alias
	}
	if hostname, _ := cfg.Get(alias, "HostName"); hostname != "" {
		ep.Host = hostname
	}
	if ep.Port == 0 {
		if port, _ := cfg.Get(alias, "Port"); port != "" {
			if p, err := strconv.Atoi(port); err == nil {
				ep.Port = p
			}
		}
	}
	if ep.User == "" {
		if user, _ := cfg.Get(alias, "User"); user != "" {
			ep.User = user
		}
	}
	if ep.KeyFile == "" && ep.Password == "" {
		if identity, _ := cfg.Get(alias, "IdentityFile"); identity != "" {
			ep.KeyFile = expandPath(identity)
		}
	}
	return ep
}

// buildSSHConfig creates an SSH client config with the endpoint's single
// auth method.
func buildSSHConfig(ep Endpoint, opts Options) (*ssh.ClientConfig, error) {
	var auth []ssh.AuthMethod

	switch {
	case ep.KeyFile != "" && ep.Password != "":
		return nil, errors.New(errors.ErrConfig,
			fmt.Sprintf("'%s' sets both key_file and password", ep.Label()),
			"Set exactly one of key_file or password.")
	case ep.KeyFile != "":
		keyAuth, err := keyFileAuth(ep.KeyFile)
		if err != nil {
			var encErr *EncryptedKeyError
			if stderrors.As(err, &encErr) {
				return nil, errors.New(errors.ErrConfig,
					encErr.Error(),
					"Use an unencrypted deploy key, or switch this host to password auth.")
			}
			return nil, errors.WrapWithCode(err, errors.ErrConfig,
				fmt.Sprintf("Couldn't load key file for '%s'", ep.Label()),
				"Check key_file points at a readable private key.")
		}
		auth = append(auth, keyAuth)
	case ep.Password != "":
		password := ep.Password
		auth = append(auth,
			ssh.Password(password),
			ssh.KeyboardInteractive(func(_, _ string, questions []string, _ []bool) ([]string, error) {
				answers := make([]string, len(questions))
				for i := range answers {
					answers[i] = password
				}
				return answers, nil
			}),
		)
	default:
		return nil, errors.New(errors.ErrConfig,
			fmt.Sprintf("'%s' has no credentials", ep.Label()),
			"Set exactly one of key_file or password.")
	}

	var hostKeyCallback ssh.HostKeyCallback
	if opts.KnownHostsFile != "" {
		var err error
		hostKeyCallback, err = createHostKeyCallback(opts.KnownHostsFile)
		if err != nil {
			return nil, errors.WrapWithCode(err, errors.ErrConfig,
				"Failed to load known_hosts: "+opts.KnownHostsFile,
				"Check bastion.known_hosts points at a readable file, or remove it to skip host key checks.")
		}
	} else {
		opts.warnf("host key checking is off for '%s'; set bastion.known_hosts to enable it", ep.Label())
		hostKeyCallback = ssh.InsecureIgnoreHostKey() //nolint:gosec // no known_hosts configured
	}

	return &ssh.ClientConfig{
		User:            ep.User,
		Auth:            auth,
		HostKeyCallback: hostKeyCallback,
	}, nil
}

// keyFileAuth returns an auth method using a private key file.
// Returns EncryptedKeyError if the key requires a passphrase.
func keyFileAuth(keyPath string) (ssh.AuthMethod, error) {
	key, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, err
	}

	signer, err := ssh.ParsePrivateKey(key)
	if err != nil {
		// Check if key is encrypted (requires passphrase)
		// This can be detected either from the error message or by checking PEM headers
		var missing *ssh.PassphraseMissingError
		if stderrors.As(err, &missing) ||
			strings.Contains(err.Error(), "encrypted") ||
			strings.Contains(err.Error(), "passphrase") ||
			isEncryptedPEM(key) {
			return nil, &EncryptedKeyError{Path: keyPath}
		}
		return nil, err
	}

	return ssh.PublicKeys(signer), nil
}

// Helper functions

func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return os.Getenv("HOME")
	}
	return home
}

func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		return filepath.Join(homeDir(), path[2:])
	}
	return path
}

func suggestionForDialError(err error) string {
	errStr := err.Error()
	if strings.Contains(errStr, "connection refused") {
		return "Is SSH running on that box? Try: ssh <host>"
	}
	if strings.Contains(errStr, "no route to host") || strings.Contains(errStr, "network is unreachable") {
		return "Can't route to the host. Check your network connection."
	}
	if strings.Contains(errStr, "timeout") || strings.Contains(errStr, "deadline exceeded") {
		return "Connection timed out. Host might be offline or blocked by a firewall."
	}
	return "Make sure the host is reachable: ping <host>"
}

func suggestionForHandshakeError(err error) string {
	errStr := err.Error()
	if strings.Contains(errStr, "unable to authenticate") || strings.Contains(errStr, "no supported methods") {
		return "Auth failed. Check the user and the key_file or password in hosts.yaml."
	}
	if strings.Contains(errStr, "host key") {
		return "Host key issue. Try connecting manually first: ssh <host>"
	}
	return "Something went wrong during SSH setup. Try: ssh <host>"
}

// EncryptedKeyError is returned when an SSH key requires a passphrase.
type EncryptedKeyError struct {
	Path string
}

func (e *EncryptedKeyError) Error() string {
	return fmt.Sprintf("SSH key at %s is encrypted (passphrase protected)", e.Path)
}

// HostKeyMismatchError provides helpful context when known_hosts verification fails.
type HostKeyMismatchError struct {
	Hostname     string
	ReceivedType string
	KnownHosts   string
	Want         []knownhosts.KnownKey
}

func (e *HostKeyMismatchError) Error() string {
	return fmt.Sprintf("host key mismatch for %s: server sent %s key", e.Hostname, e.ReceivedType)
}

// Suggestion returns actionable steps to fix the host key mismatch.
func (e *HostKeyMismatchError) Suggestion() string {
	host := e.Hostname
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}

	var wantTypes []string
	for _, k := range e.Want {
		wantTypes = append(wantTypes, k.Key.Type())
	}
	wantStr := "unknown"
	if len(wantTypes) > 0 {
		wantStr = strings.Join(wantTypes, ", ")
	}

	return fmt.Sprintf(
		"The server's host key doesn't match what's in known_hosts.\n"+
			"  Known types: %s\n"+
			"  Server sent: %s\n\n"+
			"  Remove the old entry and reconnect manually:\n"+
			"    ssh-keygen -f %s -R %s",
		wantStr, e.ReceivedType, e.KnownHosts, host)
}

// preprocessSSHConfig reads the SSH config and returns content up to the first Match directive.
// Returns the original content if no Match directive is found.
// Also returns the line number where Match was found (0 if not found).
func preprocessSSHConfig(configPath string) ([]byte, int, error) {
	content, err := os.ReadFile(configPath)
	if err != nil {
		return nil, 0, err
	}

	lines := strings.Split(string(content), "\n")
	var result []string
	matchLine := 0

	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(strings.ToLower(trimmed), "match ") {
			matchLine = i + 1
			break
		}
		result = append(result, line)
	}

	return []byte(strings.Join(result, "\n")), matchLine, nil
}

// isEncryptedPEM checks if PEM data contains encryption markers.
func isEncryptedPEM(data []byte) bool {
	return bytes.Contains(data, []byte("ENCRYPTED"))
}

// createHostKeyCallback wraps the knownhosts callback to provide better error messages.
func createHostKeyCallback(knownHostsPath string) (ssh.HostKeyCallback, error) {
	callback, err := knownhosts.New(knownHostsPath)
	if err != nil {
		return nil, err
	}

	return func(hostname string, remote net.Addr, key ssh.PublicKey) error {
		err := callback(hostname, remote, key)
		if err != nil {
			var keyErr *knownhosts.KeyError
			if stderrors.As(err, &keyErr) && len(keyErr.Want) > 0 {
				return &HostKeyMismatchError{
					Hostname:     hostname,
					ReceivedType: key.Type(),
					KnownHosts:   knownHostsPath,
					Want:         keyErr.Want,
				}
			}
		}
		return err
	}, nil
}
