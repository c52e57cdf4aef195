package sshutil

import (
	"bytes"
	"context"
	stderrors "errors"
	"fmt"

	"github.com/rileyhilliard/dockhop/internal/errors"
	"golang.org/x/crypto/ssh"
)

// Exec runs a command on the remote host and returns the output.
// Returns stdout, stderr, exit code, and any error.
// Exit code is -1 if the command couldn't be executed at all. A non-zero
// exit code with a nil error means the command ran but failed.
//
// When ctx ends first the session is torn down and a TIMEOUT (deadline) or
// ABORTED (cancel) error is returned. The connection itself stays usable.
func (c *Client) Exec(ctx context.Context, cmd string) (stdout, stderr []byte, exitCode int, err error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, -1, errors.WrapWithCode(err, Classify(err),
			fmt.Sprintf("Command not started on '%s'", c.Host), "")
	}

	session, err := c.Client.NewSession()
	if err != nil {
		return nil, nil, -1, errors.WrapWithCode(err, errors.ErrTransport,
			fmt.Sprintf("Failed to open a session on '%s'", c.Host),
			"Connection may have been closed. It will be re-established on the next attempt.")
	}
	defer session.Close()

	var stdoutBuf, stderrBuf bytes.Buffer
	session.Stdout = &stdoutBuf
	session.Stderr = &stderrBuf

	done := make(chan error, 1)
	go func() {
		done <- session.Run(cmd)
	}()

	select {
	case <-ctx.Done():
		_ = session.Signal(ssh.SIGKILL)
		session.Close()
		cause := ctx.Err()
		return nil, nil, -1, errors.WrapWithCode(cause, Classify(cause),
			fmt.Sprintf("Command on '%s' didn't finish: %s", c.Host, cmd),
			"The host may be slow. Raise monitoring.command_timeout if this keeps happening.")
	case err = <-done:
	}

	if err != nil {
		var exitErr *ssh.ExitError
		if stderrors.As(err, &exitErr) {
			return stdoutBuf.Bytes(), stderrBuf.Bytes(), exitErr.ExitStatus(), nil
		}
		return nil, nil, -1, errors.WrapWithCode(err, errors.ErrTransport,
			fmt.Sprintf("Lost the channel while running on '%s': %s", c.Host, cmd),
			"The connection may have dropped. It will be re-established on the next attempt.")
	}

	return stdoutBuf.Bytes(), stderrBuf.Bytes(), 0, nil
}
