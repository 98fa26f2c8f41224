// Package module defines the contract every task module implements and the
// registry that maps module names to their constructors.
package module

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/mlansible/mla/internal/session"
)

// DefaultBackupRoot is the remote directory backups are moved under.
const DefaultBackupRoot = "/tmp"

// Module is one resolved task, ready to be applied to any number of hosts.
// Implementations hold no per-host state and are safe for concurrent use.
type Module interface {
	// Name returns the registry name, e.g. "apt".
	Name() string

	// Label returns the operation label used in log lines, e.g. "Apt".
	Label() string

	// Fields returns the resolved parameters as log fields.
	Fields() []zap.Field

	// Apply performs the module's remote effects through sess.
	// In dry-run mode it returns before touching sess.
	Apply(ctx context.Context, sess session.Session) error
}

// Spec is everything a factory needs to build a module.
type Spec struct {
	// Index is the 1-based position of the task.
	Index int

	// Params are the raw task parameters.
	Params map[string]any

	// DryRun makes Apply return before any remote effect.
	DryRun bool

	// BackupRoot is the remote directory backups are moved under.
	BackupRoot string
}

// Factory builds a module from a spec. Parameter problems are reported as
// *ParamError.
type Factory func(spec Spec) (Module, error)

// registry holds all registered factories.
var (
	registry   = make(map[string]Factory)
	registryMu sync.RWMutex
)

// Register adds a factory to the registry.
// It panics if a factory with the same name is already registered.
func Register(name string, f Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()

	if _, exists := registry[name]; exists {
		panic(fmt.Sprintf("module %q is already registered", name))
	}
	registry[name] = f
}

// Lookup returns the factory registered under name.
func Lookup(name string) (Factory, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	f, ok := registry[name]
	return f, ok
}

// New builds the module registered under name.
func New(name string, spec Spec) (Module, error) {
	f, ok := Lookup(name)
	if !ok {
		return nil, &UnknownModuleError{Name: name}
	}

	if spec.Params == nil {
		spec.Params = make(map[string]any)
	}
	if spec.BackupRoot == "" {
		spec.BackupRoot = DefaultBackupRoot
	}

	m, err := f(spec)
	if err != nil {
		return nil, withModule(err, name)
	}
	return m, nil
}

// List returns the names of all registered modules in lexical order.
func List() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()

	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Run executes cmd unprivileged and turns a non-zero exit into a
// *RemoteCommandError.
func Run(ctx context.Context, sess session.Session, cmd string) (*session.Result, error) {
	res, err := sess.Exec(ctx, cmd)
	return check(cmd, res, err)
}

// RunPrivileged executes a sudo command and turns a non-zero exit into a
// *RemoteCommandError.
func RunPrivileged(ctx context.Context, sess session.Session, cmd string) (*session.Result, error) {
	res, err := sess.Privileged(ctx, cmd)
	return check(cmd, res, err)
}

func check(cmd string, res *session.Result, err error) (*session.Result, error) {
	if err != nil {
		return nil, err
	}
	if !res.Success() {
		return res, &RemoteCommandError{
			Cmd:      cmd,
			ExitCode: res.ExitCode,
			Stderr:   res.StderrSnippet(),
		}
	}
	return res, nil
}
