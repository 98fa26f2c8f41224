package transfer

import (
	"context"
	"fmt"
	"path"

	"github.com/mlansible/mla/internal/module"
	"github.com/mlansible/mla/internal/session"
)

// BackupFile moves dest/name under root when it exists. The move runs
// privileged. It reports whether a backup was made.
func BackupFile(ctx context.Context, sess session.Session, root, dest, name string) (bool, error) {
	target := path.Join(dest, name)

	res, err := sess.Exec(ctx, fmt.Sprintf("test -f %s", shellQuote(target)))
	if err != nil {
		return false, err
	}
	if !res.Success() {
		return false, nil
	}

	backupDir := path.Join(root, dest)
	cmd := fmt.Sprintf("mkdir -p %s && sudo mv %s %s",
		shellQuote(backupDir), shellQuote(target), shellQuote(path.Join(backupDir, name)+".backup"))
	if _, err := module.RunPrivileged(ctx, sess, cmd); err != nil {
		return false, fmt.Errorf("failed to back up %s: %w", target, err)
	}
	return true, nil
}

// BackupDir moves the directory dest under root when it exists. Unlike
// BackupFile the move runs unprivileged.
func BackupDir(ctx context.Context, sess session.Session, root, dest string) (bool, error) {
	res, err := sess.Exec(ctx, fmt.Sprintf("test -d %s", shellQuote(dest)))
	if err != nil {
		return false, err
	}
	if !res.Success() {
		return false, nil
	}

	backupDir := path.Join(root, dest)
	cmd := fmt.Sprintf("mkdir -p %s && mv %s %s",
		shellQuote(backupDir), shellQuote(dest), shellQuote(backupDir+".backup"))
	if _, err := module.Run(ctx, sess, cmd); err != nil {
		return false, fmt.Errorf("failed to back up %s: %w", dest, err)
	}
	return true, nil
}
