// Package sessiontest provides an in-memory session.Session that records
// every command and file transfer it receives.
package sessiontest

import (
	"bytes"
	"context"
	"errors"
	"io"
	"io/fs"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/mlansible/mla/internal/inventory"
	"github.com/mlansible/mla/internal/session"
)

// Call kinds recorded by Session.
const (
	KindExec       = "exec"
	KindPrivileged = "privileged"
	KindStart      = "start"
	KindPut        = "put"
	KindMkdir      = "mkdir"
)

// Call is one recorded operation.
type Call struct {
	Kind string
	Cmd  string
	Pty  bool
}

func (c Call) String() string {
	return c.Kind + " " + c.Cmd
}

// Handler decides the outcome of a command. A nil result means exit 0 with
// no output.
type Handler func(call Call) (*session.Result, error)

// Session is a recording fake of session.Session.
type Session struct {
	Addr    string
	Handler Handler

	// ConnectErr is returned by Connect when set.
	ConnectErr error

	// TransferErr is returned by Create when set.
	TransferErr error

	mu           sync.Mutex
	state        session.State
	connects     int
	calls        []Call
	files        map[string][]byte
	dirs         map[string]bool
	transferOpen bool
}

// New creates a disconnected fake session for addr.
func New(addr string, h Handler) *Session {
	return &Session{
		Addr:    addr,
		Handler: h,
		files:   make(map[string][]byte),
		dirs:    map[string]bool{"/": true},
	}
}

// AddFile seeds a remote file.
func (s *Session) AddFile(p string, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.files[p] = data
}

// AddDir seeds a remote directory.
func (s *Session) AddDir(p string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dirs[path.Clean(p)] = true
}

// File returns the content of a remote file.
func (s *Session) File(p string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.files[p]
	return data, ok
}

// Files returns the paths of all remote files, sorted.
func (s *Session) Files() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return sortedKeys(s.files)
}

// Dirs returns all remote directories except the root, sorted.
func (s *Session) Dirs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for d := range s.dirs {
		if d != "/" {
			out = append(out, d)
		}
	}
	sort.Strings(out)
	return out
}

// Calls returns a copy of the recorded operations in order.
func (s *Session) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Call(nil), s.calls...)
}

// Commands returns the command strings of exec, privileged and start calls.
func (s *Session) Commands() []string {
	var out []string
	for _, c := range s.Calls() {
		switch c.Kind {
		case KindExec, KindPrivileged, KindStart:
			out = append(out, c.Cmd)
		}
	}
	return out
}

// Puts returns the remote paths written through transfers, in order.
func (s *Session) Puts() []string {
	var out []string
	for _, c := range s.Calls() {
		if c.Kind == KindPut {
			out = append(out, c.Cmd)
		}
	}
	return out
}

// Connects returns how many times the session was connected.
func (s *Session) Connects() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connects
}

// State returns the lifecycle state.
func (s *Session) State() session.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connectLocked()
}

func (s *Session) connectLocked() error {
	switch s.state {
	case session.StateClosed:
		return session.ErrClosed
	case session.StateConnected:
		return nil
	}
	if s.ConnectErr != nil {
		return &session.ConnectionError{Host: s.Addr, Port: inventory.DefaultPort, Err: s.ConnectErr}
	}
	s.state = session.StateConnected
	s.connects++
	return nil
}

// record connects implicitly and stores call.
func (s *Session) record(call Call) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.connectLocked(); err != nil {
		return err
	}
	s.calls = append(s.calls, call)
	return nil
}

func (s *Session) respond(call Call) (*session.Result, error) {
	if s.Handler == nil {
		return &session.Result{}, nil
	}
	res, err := s.Handler(call)
	if err != nil {
		return nil, err
	}
	if res == nil {
		res = &session.Result{}
	}
	return res, nil
}

func (s *Session) Start(ctx context.Context, cmd string, pty bool) (session.Process, error) {
	call := Call{Kind: KindStart, Cmd: cmd, Pty: pty}
	if err := s.record(call); err != nil {
		return nil, err
	}
	res, err := s.respond(call)
	if err != nil {
		return nil, err
	}
	return &process{
		stdout: strings.NewReader(res.Stdout),
		stderr: strings.NewReader(res.Stderr),
		code:   res.ExitCode,
	}, nil
}

func (s *Session) Exec(ctx context.Context, cmd string) (*session.Result, error) {
	return s.run(ctx, Call{Kind: KindExec, Cmd: cmd})
}

func (s *Session) Privileged(ctx context.Context, cmd string) (*session.Result, error) {
	return s.run(ctx, Call{Kind: KindPrivileged, Cmd: cmd, Pty: true})
}

func (s *Session) run(ctx context.Context, call Call) (*session.Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := s.record(call); err != nil {
		return nil, err
	}
	return s.respond(call)
}

func (s *Session) OpenTransfer(ctx context.Context) (session.Transfer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.connectLocked(); err != nil {
		return nil, err
	}
	if s.transferOpen {
		return nil, session.ErrTransferBusy
	}
	s.transferOpen = true
	return &transfer{s: s}, nil
}

func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = session.StateClosed
	s.transferOpen = false
	return nil
}

func (s *Session) Address() string {
	return s.Addr
}

// Farm dials one fake session per (task, host) pair and keeps them all.
type Farm struct {
	// Handler is installed on every session the farm dials.
	Handler Handler

	// Setup, when set, runs on every new session before it is returned.
	Setup func(*Session)

	mu       sync.Mutex
	sessions []*Session
}

// Dial returns a new fake session for host.
func (f *Farm) Dial(host *inventory.Host) session.Session {
	s := New(host.Address, f.Handler)
	if f.Setup != nil {
		f.Setup(s)
	}
	f.mu.Lock()
	f.sessions = append(f.sessions, s)
	f.mu.Unlock()
	return s
}

// Sessions returns every session dialled so far.
func (f *Farm) Sessions() []*Session {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*Session(nil), f.sessions...)
}

// Calls returns the calls of every session, concatenated in dial order.
func (f *Farm) Calls() []Call {
	var out []Call
	for _, s := range f.Sessions() {
		out = append(out, s.Calls()...)
	}
	return out
}

type process struct {
	stdout io.Reader
	stderr io.Reader
	code   int
}

func (p *process) Stdin() io.Writer   { return io.Discard }
func (p *process) Stdout() io.Reader  { return p.stdout }
func (p *process) Stderr() io.Reader  { return p.stderr }
func (p *process) Wait() (int, error) { return p.code, nil }
func (p *process) Close() error       { return nil }

type transfer struct {
	s      *Session
	closed bool
}

func (t *transfer) Create(p string) (io.WriteCloser, error) {
	if t.closed {
		return nil, errors.New("transfer is closed")
	}
	if t.s.TransferErr != nil {
		return nil, t.s.TransferErr
	}

	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	if !t.s.dirs[path.Dir(p)] {
		return nil, &fs.PathError{Op: "create", Path: p, Err: fs.ErrNotExist}
	}
	return &remoteFile{s: t.s, path: p}, nil
}

func (t *transfer) Stat(p string) (fs.FileInfo, error) {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	p = path.Clean(p)
	if t.s.dirs[p] {
		return fileInfo{name: path.Base(p), dir: true}, nil
	}
	if data, ok := t.s.files[p]; ok {
		return fileInfo{name: path.Base(p), size: int64(len(data))}, nil
	}
	return nil, &fs.PathError{Op: "stat", Path: p, Err: fs.ErrNotExist}
}

func (t *transfer) Mkdir(p string) error {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	p = path.Clean(p)
	if t.s.dirs[p] {
		return &fs.PathError{Op: "mkdir", Path: p, Err: fs.ErrExist}
	}
	if !t.s.dirs[path.Dir(p)] {
		return &fs.PathError{Op: "mkdir", Path: p, Err: fs.ErrNotExist}
	}
	t.s.dirs[p] = true
	t.s.calls = append(t.s.calls, Call{Kind: KindMkdir, Cmd: p})
	return nil
}

func (t *transfer) Close() error {
	if t.closed {
		return nil
	}
	t.closed = true
	t.s.mu.Lock()
	t.s.transferOpen = false
	t.s.mu.Unlock()
	return nil
}

type remoteFile struct {
	s    *Session
	path string
	buf  bytes.Buffer
}

func (f *remoteFile) Write(p []byte) (int, error) {
	return f.buf.Write(p)
}

func (f *remoteFile) Close() error {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	f.s.files[f.path] = f.buf.Bytes()
	f.s.calls = append(f.s.calls, Call{Kind: KindPut, Cmd: f.path})
	return nil
}

type fileInfo struct {
	name string
	size int64
	dir  bool
}

func (fi fileInfo) Name() string { return fi.name }
func (fi fileInfo) Size() int64  { return fi.size }
func (fi fileInfo) Mode() fs.FileMode {
	if fi.dir {
		return fs.ModeDir | 0o755
	}
	return 0o644
}
func (fi fileInfo) ModTime() time.Time { return time.Time{} }
func (fi fileInfo) IsDir() bool        { return fi.dir }
func (fi fileInfo) Sys() any           { return nil }

func sortedKeys(m map[string][]byte) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// ExitWith returns a handler result with the given exit code and stderr.
func ExitWith(code int, stderr string) *session.Result {
	return &session.Result{ExitCode: code, Stderr: stderr}
}

// Output returns a successful handler result with stdout.
func Output(stdout string) *session.Result {
	return &session.Result{Stdout: stdout}
}

var (
	_ session.Session  = (*Session)(nil)
	_ session.Transfer = (*transfer)(nil)
)
