package copy

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mlansible/mla/internal/module"
	"github.com/mlansible/mla/internal/session"
	"github.com/mlansible/mla/internal/session/sessiontest"
)

// remote answers stat with mode and test -f/-d with exists.
func remote(mode string, exists bool) sessiontest.Handler {
	return func(c sessiontest.Call) (*session.Result, error) {
		switch {
		case strings.HasPrefix(c.Cmd, "stat -c"):
			return sessiontest.Output(mode + "\n"), nil
		case strings.HasPrefix(c.Cmd, "test -"):
			if !exists {
				return sessiontest.ExitWith(1, ""), nil
			}
		}
		return nil, nil
	}
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	return p
}

func newSession(h sessiontest.Handler) *sessiontest.Session {
	sess := sessiontest.New("10.0.0.5", h)
	sess.AddDir("/etc")
	sess.AddDir("/etc/app")
	return sess
}

func calls(sess *sessiontest.Session) []string {
	var out []string
	for _, c := range sess.Calls() {
		out = append(out, c.String())
	}
	return out
}

func TestCopyFile(t *testing.T) {
	src := writeFile(t, t.TempDir(), "app.conf", "key=value\n")

	tests := []struct {
		name string
		mode string
		want []string
	}{
		{
			name: "safe mode",
			mode: "755",
			want: []string{
				"exec stat -c '%a' /etc/app",
				"put /etc/app/app.conf",
			},
		},
		{
			name: "restricted mode",
			mode: "700",
			want: []string{
				"exec stat -c '%a' /etc/app",
				"privileged sudo chmod 777 /etc/app",
				"put /etc/app/app.conf",
				"privileged sudo chmod 755 /etc/app",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := module.New("copy", module.Spec{Index: 3, Params: map[string]any{"src": src, "dest": "/etc/app"}})
			require.NoError(t, err)

			sess := newSession(remote(tt.mode, false))
			require.NoError(t, m.Apply(context.Background(), sess))
			assert.Equal(t, tt.want, calls(sess))

			data, ok := sess.File("/etc/app/app.conf")
			require.True(t, ok)
			assert.Equal(t, "key=value\n", string(data))
		})
	}
}

func TestCopyFileBackup(t *testing.T) {
	src := writeFile(t, t.TempDir(), "app.conf", "new")

	t.Run("destination absent", func(t *testing.T) {
		m, err := module.New("copy", module.Spec{Params: map[string]any{"src": src, "dest": "/etc/app", "backup": true}})
		require.NoError(t, err)

		sess := newSession(remote("755", false))
		require.NoError(t, m.Apply(context.Background(), sess))

		for _, c := range sess.Commands() {
			assert.NotContains(t, c, "mv ")
		}
		assert.Equal(t, []string{"/etc/app/app.conf"}, sess.Puts())
	})

	t.Run("destination present", func(t *testing.T) {
		m, err := module.New("copy", module.Spec{Params: map[string]any{"src": src, "dest": "/etc/app", "backup": "true"}})
		require.NoError(t, err)

		sess := newSession(remote("755", true))
		require.NoError(t, m.Apply(context.Background(), sess))

		assert.Equal(t, []string{
			"exec test -f /etc/app/app.conf",
			"privileged mkdir -p /tmp/etc/app && sudo mv /etc/app/app.conf /tmp/etc/app/app.conf.backup",
			"exec stat -c '%a' /etc/app",
			"put /etc/app/app.conf",
		}, calls(sess), "the move precedes the transfer")
	})

	t.Run("custom backup root", func(t *testing.T) {
		m, err := module.New("copy", module.Spec{
			Params:     map[string]any{"src": src, "dest": "/etc/app", "backup": true},
			BackupRoot: "/var/backups",
		})
		require.NoError(t, err)

		sess := newSession(remote("755", true))
		require.NoError(t, m.Apply(context.Background(), sess))
		assert.Contains(t, sess.Commands(), "mkdir -p /var/backups/etc/app && sudo mv /etc/app/app.conf /var/backups/etc/app/app.conf.backup")
	})
}

func TestCopyDirectory(t *testing.T) {
	src := t.TempDir()
	writeFile(t, src, "index.html", "<h1>hi</h1>")
	writeFile(t, src, "css/site.css", "body{}")
	writeFile(t, src, "img/icons/logo.svg", "<svg/>")

	m, err := module.New("copy", module.Spec{Params: map[string]any{"src": src, "dest": "/srv/site", "backup": true}})
	require.NoError(t, err)

	sess := sessiontest.New("10.0.0.5", remote("755", true))
	sess.AddDir("/srv")
	require.NoError(t, m.Apply(context.Background(), sess))

	assert.Equal(t, []string{"/srv", "/srv/site", "/srv/site/css", "/srv/site/img", "/srv/site/img/icons"}, sess.Dirs())
	assert.Equal(t, []string{"/srv/site/css/site.css", "/srv/site/img/icons/logo.svg", "/srv/site/index.html"}, sess.Files())

	all := sess.Calls()
	require.GreaterOrEqual(t, len(all), 2)
	assert.Equal(t, "exec test -d /srv/site", all[0].String())
	assert.Equal(t, "exec mkdir -p /tmp/srv/site && mv /srv/site /tmp/srv/site.backup", all[1].String(), "directory backup is unprivileged")
}

func TestCopyMissingSource(t *testing.T) {
	m, err := module.New("copy", module.Spec{Params: map[string]any{"src": filepath.Join(t.TempDir(), "nope"), "dest": "/etc/app"}})
	require.NoError(t, err)

	sess := newSession(nil)
	err = m.Apply(context.Background(), sess)

	var lre *module.LocalResourceError
	require.ErrorAs(t, err, &lre)
	assert.Empty(t, sess.Calls())
}

func TestCopyDryRun(t *testing.T) {
	src := writeFile(t, t.TempDir(), "app.conf", "x")
	m, err := module.New("copy", module.Spec{Params: map[string]any{"src": src, "dest": "/etc/app", "backup": true}, DryRun: true})
	require.NoError(t, err)

	sess := newSession(nil)
	require.NoError(t, m.Apply(context.Background(), sess))
	assert.Empty(t, sess.Calls())
	assert.Zero(t, sess.Connects())
}

func TestCopyParams(t *testing.T) {
	_, err := module.New("copy", module.Spec{Params: map[string]any{"src": "./files"}})
	var pe *module.ParamError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "dest", pe.Param)
}
