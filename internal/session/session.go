// Package session defines the remote session every module operates through.
package session

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"
)

// stderrSnippetLen bounds the stderr excerpt carried into log lines.
const stderrSnippetLen = 200

var (
	// ErrClosed is returned by every operation on a closed session.
	ErrClosed = errors.New("session is closed")

	// ErrTransferBusy is returned when a second transfer is opened on a session.
	ErrTransferBusy = errors.New("a file transfer is already open on this session")
)

// Session is one authenticated connection to one host.
type Session interface {
	// Connect establishes the connection. It is a no-op when already connected.
	Connect(ctx context.Context) error

	// Start runs cmd and returns a handle on the remote process.
	// It connects first if needed. pty must be set for commands that may prompt.
	Start(ctx context.Context, cmd string, pty bool) (Process, error)

	// Exec runs cmd without a pty and collects its output.
	Exec(ctx context.Context, cmd string) (*Result, error)

	// Privileged runs a sudo command, answering the password prompt when the
	// session is configured to do so.
	Privileged(ctx context.Context, cmd string) (*Result, error)

	// OpenTransfer opens a file-transfer sub-session on the same connection.
	// The caller must close it before opening another one.
	OpenTransfer(ctx context.Context) (Transfer, error)

	// Close releases the transfer sub-session and the connection. Idempotent.
	Close() error

	// Address returns the address of the remote host.
	Address() string
}

// Process is a command running on the remote host.
type Process interface {
	// Stdin feeds the remote process input, e.g. a sudo password.
	Stdin() io.Writer

	// Stdout is the remote process standard output.
	Stdout() io.Reader

	// Stderr is the remote process standard error.
	Stderr() io.Reader

	// Wait blocks until the process exits and returns its exit code.
	// A non-zero exit code is not an error.
	Wait() (int, error)

	// Close tears the process down.
	Close() error
}

// Transfer is a file-transfer sub-session.
type Transfer interface {
	// Create creates or truncates the remote file at path.
	Create(path string) (io.WriteCloser, error)

	// Stat returns information about the remote path.
	Stat(path string) (fs.FileInfo, error)

	// Mkdir creates the remote directory at path.
	Mkdir(path string) error

	// Close ends the sub-session.
	Close() error
}

// Result holds the output from command execution.
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

// Success reports whether the command exited with status 0.
func (r *Result) Success() bool {
	return r.ExitCode == 0
}

// StderrSnippet returns the first bytes of stderr for log lines.
// Commands run on a pty have stderr merged into stdout, so stdout is
// used when stderr is empty.
func (r *Result) StderrSnippet() string {
	s := r.Stderr
	if s == "" {
		s = r.Stdout
	}
	s = strings.TrimSpace(s)
	if len(s) <= stderrSnippetLen {
		return s
	}
	cut := stderrSnippetLen
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

// State is the lifecycle state of a session.
type State int

const (
	StateDisconnected State = iota
	StateConnected
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnected:
		return "connected"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// BecomeMode selects how privileged commands obtain superuser rights.
type BecomeMode string

const (
	// BecomePassword answers the sudo prompt with the host password over a pty.
	BecomePassword BecomeMode = "password"

	// BecomeNoPasswd relies on a passwordless sudo policy.
	BecomeNoPasswd BecomeMode = "nopasswd"
)

// ConnectionError reports a transport or authentication failure.
type ConnectionError struct {
	Host string
	Port int
	Err  error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("failed to connect to %s:%d: %v", e.Host, e.Port, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// TimeoutError reports a command that did not finish within the command timeout.
type TimeoutError struct {
	Cmd     string
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("command timed out after %s: %s", e.Timeout, e.Cmd)
}

// Collect drains the output of p, waits for it to exit and returns the result.
// When ctx is done first the process is torn down and ctx.Err() is returned.
func Collect(ctx context.Context, p Process) (*Result, error) {
	var stdout, stderr bytes.Buffer
	var code int
	var waitErr error

	done := make(chan struct{})
	go func() {
		defer close(done)

		var g errgroup.Group
		g.Go(func() error {
			_, err := io.Copy(&stdout, p.Stdout())
			return err
		})
		g.Go(func() error {
			_, err := io.Copy(&stderr, p.Stderr())
			return err
		})
		copyErr := g.Wait()

		code, waitErr = p.Wait()
		if waitErr == nil && copyErr != nil {
			waitErr = fmt.Errorf("failed to read command output: %w", copyErr)
		}
	}()

	select {
	case <-done:
	case <-ctx.Done():
		_ = p.Close()
		<-done
		return nil, ctx.Err()
	}

	if waitErr != nil {
		return nil, waitErr
	}

	return &Result{
		ExitCode: code,
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
	}, nil
}
