// Package sysctl provides a module for setting kernel parameters.
package sysctl

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/mlansible/mla/internal/module"
	"github.com/mlansible/mla/internal/session"
)

func init() {
	module.Register("sysctl", New)
}

// reloadCmd reloads the persisted kernel parameters.
const reloadCmd = "sudo sysctl -p"

// Module sets a kernel parameter, optionally reloading sysctl.conf afterwards.
type Module struct {
	attribute string
	value     string
	permanent bool
	dryRun    bool
}

// New builds the sysctl module.
//
// Parameters:
//   - attribute (string, required): Kernel parameter, e.g. net.ipv4.ip_forward
//   - value (string, required): Value to set
//   - permanent (bool|string): Reload sysctl.conf after setting (true or "true")
func New(spec module.Spec) (module.Module, error) {
	attribute, err := module.RequireString(spec.Params, "attribute")
	if err != nil {
		return nil, err
	}

	value, err := module.RequireString(spec.Params, "value")
	if err != nil {
		return nil, err
	}

	return &Module{
		attribute: attribute,
		value:     value,
		permanent: module.GetBool(spec.Params, "permanent"),
		dryRun:    spec.DryRun,
	}, nil
}

// Name returns the module identifier.
func (m *Module) Name() string {
	return "sysctl"
}

// Label returns the operation label.
func (m *Module) Label() string {
	return "Sysctl"
}

// Fields returns the resolved parameters.
func (m *Module) Fields() []zap.Field {
	return []zap.Field{
		zap.String("attribute", m.attribute),
		zap.String("value", m.value),
		zap.Bool("permanent", m.permanent),
	}
}

// Commands returns the remote commands the module runs, in order.
func (m *Module) Commands() []string {
	cmds := []string{fmt.Sprintf("sudo sysctl -w %s=%s", m.attribute, m.value)}
	if m.permanent {
		cmds = append(cmds, reloadCmd)
	}
	return cmds
}

// Apply sets the parameter. The reload is skipped when setting it fails.
func (m *Module) Apply(ctx context.Context, sess session.Session) error {
	if m.dryRun {
		return nil
	}
	for _, cmd := range m.Commands() {
		if _, err := module.RunPrivileged(ctx, sess, cmd); err != nil {
			return err
		}
	}
	return nil
}

// Ensure Module implements the module.Module interface.
var _ module.Module = (*Module)(nil)
