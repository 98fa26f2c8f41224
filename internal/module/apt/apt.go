// Package apt provides a module for managing packages on Debian/Ubuntu systems.
package apt

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/mlansible/mla/internal/module"
	"github.com/mlansible/mla/internal/session"
)

func init() {
	module.Register("apt", New)
}

// StateAbsent removes the package. Any other state installs it.
const StateAbsent = "absent"

// Module installs or removes an apt package.
type Module struct {
	name   string
	state  string
	dryRun bool
}

// New builds the apt module.
//
// Parameters:
//   - name (string, required): Package name
//   - state (string): "absent" removes the package, anything else installs it
func New(spec module.Spec) (module.Module, error) {
	name, err := module.RequireString(spec.Params, "name")
	if err != nil {
		return nil, err
	}
	return &Module{
		name:   name,
		state:  module.GetString(spec.Params, "state", ""),
		dryRun: spec.DryRun,
	}, nil
}

// Name returns the module identifier.
func (m *Module) Name() string {
	return "apt"
}

// Label returns the operation label.
func (m *Module) Label() string {
	return "Apt"
}

// Fields returns the resolved parameters.
func (m *Module) Fields() []zap.Field {
	return []zap.Field{zap.String("name", m.name), zap.String("state", m.state)}
}

// Command returns the remote command the module runs.
func (m *Module) Command() string {
	if m.state == StateAbsent {
		return fmt.Sprintf("sudo apt -y remove %s", m.name)
	}
	return fmt.Sprintf("sudo apt -y install %s", m.name)
}

// Apply installs or removes the package.
func (m *Module) Apply(ctx context.Context, sess session.Session) error {
	if m.dryRun {
		return nil
	}
	_, err := module.RunPrivileged(ctx, sess, m.Command())
	return err
}

// Ensure Module implements the module.Module interface.
var _ module.Module = (*Module)(nil)
