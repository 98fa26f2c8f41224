// Package transfer ships local files to a host through a session's file
// transfer, widening destination permissions around the write when needed.
package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"

	"github.com/mlansible/mla/internal/module"
	"github.com/mlansible/mla/internal/session"
)

// Guard brackets a transfer with a chmod when the destination mode is not
// one of Safe.
type Guard struct {
	// Safe lists the octal modes that need no widening, e.g. "755".
	Safe []string

	// Restore is the mode applied after a widened transfer.
	Restore string
}

var (
	// FileGuard is used for copied files and directories.
	FileGuard = Guard{Safe: []string{"755"}, Restore: "755"}

	// TemplateGuard is used for rendered templates.
	TemplateGuard = Guard{Safe: []string{"755", "644"}, Restore: "644"}
)

// Mode reads the octal mode of dest. ok is false when dest does not exist.
func Mode(ctx context.Context, sess session.Session, dest string) (mode string, ok bool, err error) {
	res, err := sess.Exec(ctx, fmt.Sprintf("stat -c '%%a' %s", shellQuote(dest)))
	if err != nil {
		return "", false, err
	}
	if !res.Success() {
		return "", false, nil
	}
	return strings.TrimSpace(res.Stdout), true, nil
}

// Do runs put, widening dest to 777 first and restoring it afterwards when
// its current mode is not safe. A failed widen skips put; a failed restore
// is reported after put has run.
func (g Guard) Do(ctx context.Context, sess session.Session, dest string, put func() error) error {
	mode, exists, err := Mode(ctx, sess, dest)
	if err != nil {
		return err
	}
	if !exists || slices.Contains(g.Safe, mode) {
		return put()
	}

	if _, err := module.RunPrivileged(ctx, sess, fmt.Sprintf("sudo chmod 777 %s", shellQuote(dest))); err != nil {
		return fmt.Errorf("failed to widen permissions on %s: %w", dest, err)
	}

	putErr := put()

	if _, err := module.RunPrivileged(ctx, sess, fmt.Sprintf("sudo chmod %s %s", g.Restore, shellQuote(dest))); err != nil {
		return errors.Join(putErr, fmt.Errorf("failed to restore permissions on %s: %w", dest, err))
	}
	return putErr
}

// PutFile copies the local file to remote.
func PutFile(t session.Transfer, local, remote string) error {
	src, err := os.Open(local)
	if err != nil {
		return &module.LocalResourceError{Path: local, Err: err}
	}
	defer src.Close()

	dst, err := t.Create(remote)
	if err != nil {
		return &module.TransferError{Path: remote, Err: err}
	}

	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		return &module.TransferError{Path: remote, Err: err}
	}
	if err := dst.Close(); err != nil {
		return &module.TransferError{Path: remote, Err: err}
	}
	return nil
}

// EnsureDir creates the remote directory dir when it does not exist.
func EnsureDir(t session.Transfer, dir string) error {
	info, err := t.Stat(dir)
	switch {
	case err == nil && info.IsDir():
		return nil
	case err == nil:
		return &module.TransferError{Path: dir, Err: errors.New("exists and is not a directory")}
	case !errors.Is(err, fs.ErrNotExist):
		return &module.TransferError{Path: dir, Err: err}
	}

	if err := t.Mkdir(dir); err != nil {
		return &module.TransferError{Path: dir, Err: err}
	}
	return nil
}

// MirrorDir recreates the local directory tree under the remote directory,
// creating each directory before the files it contains.
func MirrorDir(t session.Transfer, localDir, remoteDir string) error {
	if err := EnsureDir(t, remoteDir); err != nil {
		return err
	}

	return filepath.WalkDir(localDir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return &module.LocalResourceError{Path: p, Err: err}
		}
		if p == localDir {
			return nil
		}

		rel, err := filepath.Rel(localDir, p)
		if err != nil {
			return &module.LocalResourceError{Path: p, Err: err}
		}
		remote := path.Join(remoteDir, filepath.ToSlash(rel))

		if d.IsDir() {
			return EnsureDir(t, remote)
		}

		info, err := os.Stat(p)
		if err != nil {
			return &module.LocalResourceError{Path: p, Err: err}
		}
		if !info.Mode().IsRegular() {
			return nil
		}
		return PutFile(t, p, remote)
	})
}

// shellQuote single-quotes s for a POSIX shell unless it is made only of
// characters the shell passes through unchanged.
func shellQuote(s string) string {
	if s != "" && strings.IndexFunc(s, unsafeShellRune) < 0 {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", "'\"'\"'") + "'"
}

func unsafeShellRune(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		return false
	}
	return !strings.ContainsRune("_-./:@%+=,", r)
}
