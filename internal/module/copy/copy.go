// Package copy provides a module for copying files and directories to target systems.
package copy

import (
	"context"
	"os"
	"path"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/mlansible/mla/internal/module"
	"github.com/mlansible/mla/internal/session"
	"github.com/mlansible/mla/internal/transfer"
)

func init() {
	module.Register("copy", New)
}

// Module copies a local file or directory to the target system.
type Module struct {
	src        string
	dest       string
	backup     bool
	backupRoot string
	dryRun     bool
}

// New builds the copy module.
//
// Parameters:
//   - src (string, required): Local file or directory
//   - dest (string, required): Remote directory; a file lands at dest/basename(src)
//   - backup (bool|string): Move the existing destination under the backup root first
func New(spec module.Spec) (module.Module, error) {
	src, err := module.RequireString(spec.Params, "src")
	if err != nil {
		return nil, err
	}

	dest, err := module.RequireString(spec.Params, "dest")
	if err != nil {
		return nil, err
	}

	return &Module{
		src:        src,
		dest:       dest,
		backup:     module.GetBool(spec.Params, "backup"),
		backupRoot: spec.BackupRoot,
		dryRun:     spec.DryRun,
	}, nil
}

// Name returns the module identifier.
func (m *Module) Name() string {
	return "copy"
}

// Label returns the operation label.
func (m *Module) Label() string {
	return "Copy"
}

// Fields returns the resolved parameters.
func (m *Module) Fields() []zap.Field {
	return []zap.Field{
		zap.String("src", m.src),
		zap.String("dest", m.dest),
		zap.Bool("backup", m.backup),
	}
}

// Apply transfers the source, backing up the destination first when asked.
func (m *Module) Apply(ctx context.Context, sess session.Session) error {
	if m.dryRun {
		return nil
	}

	info, err := os.Stat(m.src)
	if err != nil {
		return &module.LocalResourceError{Path: m.src, Err: err}
	}

	tr, err := sess.OpenTransfer(ctx)
	if err != nil {
		return &module.TransferError{Path: m.dest, Err: err}
	}
	defer tr.Close()

	if info.IsDir() {
		return m.copyDir(ctx, sess, tr)
	}
	return m.copyFile(ctx, sess, tr)
}

func (m *Module) copyFile(ctx context.Context, sess session.Session, tr session.Transfer) error {
	name := filepath.Base(m.src)

	if m.backup {
		if _, err := transfer.BackupFile(ctx, sess, m.backupRoot, m.dest, name); err != nil {
			return err
		}
	}

	return transfer.FileGuard.Do(ctx, sess, m.dest, func() error {
		return transfer.PutFile(tr, m.src, path.Join(m.dest, name))
	})
}

func (m *Module) copyDir(ctx context.Context, sess session.Session, tr session.Transfer) error {
	if m.backup {
		if _, err := transfer.BackupDir(ctx, sess, m.backupRoot, m.dest); err != nil {
			return err
		}
	}

	return transfer.FileGuard.Do(ctx, sess, m.dest, func() error {
		return transfer.MirrorDir(tr, m.src, m.dest)
	})
}

// Ensure Module implements the module.Module interface.
var _ module.Module = (*Module)(nil)
