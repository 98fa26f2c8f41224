package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/pkg/sftp"
	"go.uber.org/zap"
	"golang.org/x/crypto/ssh"

	"github.com/mlansible/mla/internal/inventory"
)

// DefaultConnectTimeout bounds dialing and the SSH handshake.
const DefaultConnectTimeout = 30 * time.Second

// SSH is a Session over an SSH connection with SFTP file transfer.
type SSH struct {
	host           *inventory.Host
	connectTimeout time.Duration
	commandTimeout time.Duration
	connectRetries int
	become         BecomeMode
	strictHostKeys bool
	knownHosts     string
	log            *zap.Logger

	mu        sync.Mutex
	state     State
	client    *ssh.Client
	transfer  *sftpTransfer
	agentConn net.Conn
}

// Option configures the SSH session.
type Option func(*SSH)

// WithConnectTimeout bounds dialing and the handshake. Zero disables the bound.
func WithConnectTimeout(d time.Duration) Option {
	return func(s *SSH) {
		s.connectTimeout = d
	}
}

// WithCommandTimeout bounds every Exec and Privileged call. Zero means untimed.
func WithCommandTimeout(d time.Duration) Option {
	return func(s *SSH) {
		s.commandTimeout = d
	}
}

// WithConnectRetries retries a failed dial n more times with exponential backoff.
func WithConnectRetries(n int) Option {
	return func(s *SSH) {
		s.connectRetries = n
	}
}

// WithBecome sets how privileged commands are run.
func WithBecome(mode BecomeMode) Option {
	return func(s *SSH) {
		s.become = mode
	}
}

// WithStrictHostKeys rejects hosts missing from the known_hosts file.
func WithStrictHostKeys(strict bool) Option {
	return func(s *SSH) {
		s.strictHostKeys = strict
	}
}

// WithKnownHosts overrides the known_hosts file location.
func WithKnownHosts(path string) Option {
	return func(s *SSH) {
		s.knownHosts = path
	}
}

// WithLogger sets the logger used for connection diagnostics.
func WithLogger(l *zap.Logger) Option {
	return func(s *SSH) {
		s.log = l
	}
}

// New creates a disconnected SSH session for host.
func New(host *inventory.Host, opts ...Option) *SSH {
	s := &SSH{
		host:           host,
		connectTimeout: DefaultConnectTimeout,
		become:         BecomePassword,
		log:            zap.NewNop(),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// State returns the current lifecycle state.
func (s *SSH) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Address returns the address of the remote host.
func (s *SSH) Address() string {
	return s.host.Address
}

// String returns a description of the connection.
func (s *SSH) String() string {
	return s.host.String()
}

// Connect establishes the SSH connection.
func (s *SSH) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connectLocked(ctx)
}

func (s *SSH) connectLocked(ctx context.Context) error {
	switch s.state {
	case StateConnected:
		return nil
	case StateClosed:
		return ErrClosed
	}

	cfg, err := s.clientConfig()
	if err != nil {
		return s.connError(err)
	}

	var client *ssh.Client
	operation := func() error {
		c, err := s.dial(ctx, cfg)
		if err != nil {
			s.log.Debug("dial failed", zap.String("host", s.host.Endpoint()), zap.Error(err))
			return err
		}
		client = c
		return nil
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), uint64(max(s.connectRetries, 0))),
		ctx,
	)
	if err := backoff.Retry(operation, policy); err != nil {
		return s.connError(err)
	}

	s.client = client
	s.state = StateConnected
	s.log.Debug("connected", zap.String("host", s.host.Endpoint()), zap.String("user", cfg.User))
	return nil
}

// dial opens the TCP connection and performs the SSH handshake.
func (s *SSH) dial(ctx context.Context, cfg *ssh.ClientConfig) (*ssh.Client, error) {
	addr := s.host.Endpoint()

	dialer := net.Dialer{Timeout: s.connectTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}

	if s.connectTimeout > 0 {
		_ = conn.SetDeadline(time.Now().Add(s.connectTimeout))
	}

	c, chans, reqs, err := ssh.NewClientConn(conn, addr, cfg)
	if err != nil {
		conn.Close()
		return nil, err
	}
	_ = conn.SetDeadline(time.Time{})

	return ssh.NewClient(c, chans, reqs), nil
}

func (s *SSH) connError(err error) error {
	return &ConnectionError{Host: s.host.Address, Port: s.host.GetPort(), Err: err}
}

// Start runs cmd on the remote host.
func (s *SSH) Start(ctx context.Context, cmd string, pty bool) (Process, error) {
	s.mu.Lock()
	if err := s.connectLocked(ctx); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	client := s.client
	s.mu.Unlock()

	sess, err := client.NewSession()
	if err != nil {
		return nil, fmt.Errorf("failed to open ssh session: %w", err)
	}

	if pty {
		modes := ssh.TerminalModes{
			ssh.ECHO:          0,
			ssh.TTY_OP_ISPEED: 14400,
			ssh.TTY_OP_OSPEED: 14400,
		}
		if err := sess.RequestPty("xterm", 40, 80, modes); err != nil {
			sess.Close()
			return nil, fmt.Errorf("failed to request pty: %w", err)
		}
	}

	p := &sshProcess{sess: sess}
	if p.stdin, err = sess.StdinPipe(); err != nil {
		sess.Close()
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	if p.stdout, err = sess.StdoutPipe(); err != nil {
		sess.Close()
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	if p.stderr, err = sess.StderrPipe(); err != nil {
		sess.Close()
		return nil, fmt.Errorf("stderr pipe: %w", err)
	}

	if err := sess.Start(cmd); err != nil {
		sess.Close()
		return nil, fmt.Errorf("failed to start command: %w", err)
	}

	s.log.Debug("command started", zap.String("host", s.host.Address), zap.String("cmd", cmd), zap.Bool("pty", pty))
	return p, nil
}

// Exec runs cmd without a pty and collects its output.
func (s *SSH) Exec(ctx context.Context, cmd string) (*Result, error) {
	return s.run(ctx, cmd, false, "")
}

// Privileged runs a sudo command according to the session's become mode.
// A host without a password has nothing to answer the prompt with, so the
// command runs without a pty and with stdin closed: sudo either needs no
// password or exits non-zero instead of waiting on a prompt.
func (s *SSH) Privileged(ctx context.Context, cmd string) (*Result, error) {
	if s.become == BecomeNoPasswd || s.host.Password == "" {
		return s.run(ctx, cmd, false, "")
	}
	return s.run(ctx, cmd, true, s.host.Password)
}

// run starts cmd, optionally answers a prompt with answer, and collects the result.
func (s *SSH) run(ctx context.Context, cmd string, pty bool, answer string) (*Result, error) {
	if s.commandTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.commandTimeout)
		defer cancel()
	}

	p, err := s.Start(ctx, cmd, pty)
	if err != nil {
		return nil, err
	}

	if pty {
		if answer != "" {
			if _, err := io.WriteString(p.Stdin(), answer+"\n"); err != nil {
				p.Close()
				return nil, fmt.Errorf("failed to answer prompt: %w", err)
			}
		}
	} else if c, ok := p.Stdin().(io.Closer); ok {
		_ = c.Close()
	}

	res, err := Collect(ctx, p)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && s.commandTimeout > 0 {
			return nil, &TimeoutError{Cmd: cmd, Timeout: s.commandTimeout}
		}
		return nil, err
	}

	return res, nil
}

// OpenTransfer opens an SFTP sub-session.
func (s *SSH) OpenTransfer(ctx context.Context) (Transfer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.connectLocked(ctx); err != nil {
		return nil, err
	}
	if s.transfer != nil {
		return nil, ErrTransferBusy
	}

	client, err := sftp.NewClient(s.client)
	if err != nil {
		return nil, fmt.Errorf("failed to open sftp session: %w", err)
	}

	s.transfer = &sftpTransfer{client: client, owner: s}
	return s.transfer, nil
}

// release forgets t if it is the open transfer.
func (s *SSH) release(t *sftpTransfer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.transfer == t {
		s.transfer = nil
	}
}

// Close releases the transfer and the connection.
func (s *SSH) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateClosed {
		return nil
	}
	s.state = StateClosed

	var errs []error
	if s.transfer != nil {
		errs = append(errs, s.transfer.client.Close())
		s.transfer = nil
	}
	if s.client != nil {
		if err := s.client.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			errs = append(errs, err)
		}
		s.client = nil
	}
	if s.agentConn != nil {
		_ = s.agentConn.Close()
		s.agentConn = nil
	}

	return errors.Join(errs...)
}

// sshProcess is a command running in an SSH channel.
type sshProcess struct {
	sess   *ssh.Session
	stdin  io.WriteCloser
	stdout io.Reader
	stderr io.Reader
}

func (p *sshProcess) Stdin() io.Writer  { return p.stdin }
func (p *sshProcess) Stdout() io.Reader { return p.stdout }
func (p *sshProcess) Stderr() io.Reader { return p.stderr }

func (p *sshProcess) Wait() (int, error) {
	err := p.sess.Wait()
	if err == nil {
		return 0, nil
	}

	var exitErr *ssh.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitStatus(), nil
	}
	return -1, err
}

func (p *sshProcess) Close() error {
	if err := p.sess.Close(); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// sftpTransfer adapts an sftp.Client to Transfer.
type sftpTransfer struct {
	client *sftp.Client
	owner  *SSH
}

func (t *sftpTransfer) Create(path string) (io.WriteCloser, error) {
	return t.client.Create(path)
}

func (t *sftpTransfer) Stat(path string) (fs.FileInfo, error) {
	return t.client.Stat(path)
}

func (t *sftpTransfer) Mkdir(path string) error {
	return t.client.Mkdir(path)
}

func (t *sftpTransfer) Close() error {
	t.owner.release(t)
	return t.client.Close()
}

// Ensure SSH implements the Session interface.
var _ Session = (*SSH)(nil)
