// Package template provides a module for rendering templates to target systems.
package template

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"go.uber.org/zap"

	"github.com/mlansible/mla/internal/module"
	"github.com/mlansible/mla/internal/render"
	"github.com/mlansible/mla/internal/session"
	"github.com/mlansible/mla/internal/transfer"
)

func init() {
	module.Register("template", New)
}

// Module renders a Jinja template locally and writes the result to the target.
type Module struct {
	src    string
	dest   string
	vars   map[string]any
	dryRun bool
}

// New builds the template module.
//
// Parameters:
//   - src (string, required): Local template file
//   - dest (string, required): Remote file path
//   - vars (map): Template variables
func New(spec module.Spec) (module.Module, error) {
	src, err := module.RequireString(spec.Params, "src")
	if err != nil {
		return nil, err
	}

	dest, err := module.RequireString(spec.Params, "dest")
	if err != nil {
		return nil, err
	}

	vars, err := module.GetMap(spec.Params, "vars")
	if err != nil {
		return nil, err
	}

	return &Module{src: src, dest: dest, vars: vars, dryRun: spec.DryRun}, nil
}

// Name returns the module identifier.
func (m *Module) Name() string {
	return "template"
}

// Label returns the operation label.
func (m *Module) Label() string {
	return "Template"
}

// Fields returns the resolved parameters.
func (m *Module) Fields() []zap.Field {
	return []zap.Field{zap.String("src", m.src), zap.String("dest", m.dest), zap.Any("vars", m.vars)}
}

// Apply renders the template to a local artifact, transfers it and removes
// the artifact. In dry-run mode the template is still rendered so that
// template errors surface.
func (m *Module) Apply(ctx context.Context, sess session.Session) error {
	artifact, err := m.renderArtifact()
	if err != nil {
		return err
	}
	defer os.Remove(artifact)

	if m.dryRun {
		return nil
	}

	tr, err := sess.OpenTransfer(ctx)
	if err != nil {
		return &module.TransferError{Path: m.dest, Err: err}
	}
	defer tr.Close()

	return transfer.TemplateGuard.Do(ctx, sess, m.dest, func() error {
		return transfer.PutFile(tr, artifact, m.dest)
	})
}

// renderArtifact renders the template into a temporary file and returns its path.
func (m *Module) renderArtifact() (string, error) {
	out, err := render.RenderFile(m.src, m.vars)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) || errors.Is(err, fs.ErrPermission) {
			return "", &module.LocalResourceError{Path: m.src, Err: err}
		}
		return "", err
	}

	f, err := os.CreateTemp("", "mla-template-*")
	if err != nil {
		return "", fmt.Errorf("failed to create render artifact: %w", err)
	}

	if _, err := f.Write(out); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", fmt.Errorf("failed to write render artifact: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", fmt.Errorf("failed to write render artifact: %w", err)
	}

	return f.Name(), nil
}

// Ensure Module implements the module.Module interface.
var _ module.Module = (*Module)(nil)
