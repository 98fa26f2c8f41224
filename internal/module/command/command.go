// Package command provides a module for executing shell commands.
package command

import (
	"context"

	"go.uber.org/zap"

	"github.com/mlansible/mla/internal/module"
	"github.com/mlansible/mla/internal/session"
)

func init() {
	module.Register("command", New)
}

// Module executes a shell command on the target system.
type Module struct {
	cmd    string
	dryRun bool
}

// New builds the command module.
//
// Parameters:
//   - command (string, required): The command to execute
func New(spec module.Spec) (module.Module, error) {
	cmd, err := module.RequireString(spec.Params, "command")
	if err != nil {
		return nil, err
	}
	return &Module{cmd: cmd, dryRun: spec.DryRun}, nil
}

// Name returns the module identifier.
func (m *Module) Name() string {
	return "command"
}

// Label returns the operation label.
func (m *Module) Label() string {
	return "Command"
}

// Fields returns the resolved parameters.
func (m *Module) Fields() []zap.Field {
	return []zap.Field{zap.String("name", m.cmd)}
}

// Apply runs the command without a pty. A non-zero exit is returned as a
// *module.RemoteCommandError carrying the start of stderr.
func (m *Module) Apply(ctx context.Context, sess session.Session) error {
	if m.dryRun {
		return nil
	}
	_, err := module.Run(ctx, sess, m.cmd)
	return err
}

// Ensure Module implements the module.Module interface.
var _ module.Module = (*Module)(nil)
