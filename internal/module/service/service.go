// Package service provides a module for controlling system services.
package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/mlansible/mla/internal/module"
	"github.com/mlansible/mla/internal/session"
)

func init() {
	module.Register("service", New)
}

// State represents the requested service action.
type State string

const (
	StateStart   State = "start"
	StateStop    State = "stop"
	StateRestart State = "restart"
)

// Module starts, stops or restarts a service.
type Module struct {
	name   string
	state  State
	dryRun bool
}

// New builds the service module.
//
// Parameters:
//   - name (string, required): Service name
//   - state (string, required): start, stop or restart
func New(spec module.Spec) (module.Module, error) {
	name, err := module.RequireString(spec.Params, "name")
	if err != nil {
		return nil, err
	}

	s, err := module.RequireString(spec.Params, "state")
	if err != nil {
		return nil, err
	}

	state := State(s)
	switch state {
	case StateStart, StateStop, StateRestart:
		// Valid
	default:
		return nil, &module.ParamError{
			Param:  "state",
			Reason: fmt.Sprintf("has invalid value '%s': must be start, stop or restart", s),
		}
	}

	return &Module{name: name, state: state, dryRun: spec.DryRun}, nil
}

// Name returns the module identifier.
func (m *Module) Name() string {
	return "service"
}

// Label returns the operation label.
func (m *Module) Label() string {
	return "Service"
}

// Fields returns the resolved parameters.
func (m *Module) Fields() []zap.Field {
	return []zap.Field{zap.String("name", m.name), zap.String("state", string(m.state))}
}

// Command returns the remote command the module runs. The state token is
// repeated as the service script's argument.
func (m *Module) Command() string {
	return fmt.Sprintf("sudo service %s %s %s", m.name, m.state, m.state)
}

// Apply runs the service action.
func (m *Module) Apply(ctx context.Context, sess session.Session) error {
	if m.dryRun {
		return nil
	}
	_, err := module.RunPrivileged(ctx, sess, m.Command())
	return err
}

// Ensure Module implements the module.Module interface.
var _ module.Module = (*Module)(nil)
