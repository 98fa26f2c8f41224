package command

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mlansible/mla/internal/module"
	"github.com/mlansible/mla/internal/session"
	"github.com/mlansible/mla/internal/session/sessiontest"
)

func TestApply(t *testing.T) {
	m, err := module.New("command", module.Spec{Index: 1, Params: map[string]any{"command": "echo hi"}})
	require.NoError(t, err)
	assert.Equal(t, "Command", m.Label())

	sess := sessiontest.New("10.0.0.5", nil)
	require.NoError(t, m.Apply(context.Background(), sess))

	calls := sess.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, sessiontest.Call{Kind: sessiontest.KindExec, Cmd: "echo hi"}, calls[0], "runs unprivileged without a pty")
}

func TestApplyNonZeroExit(t *testing.T) {
	m, err := module.New("command", module.Spec{Params: map[string]any{"command": "false"}})
	require.NoError(t, err)

	stderr := strings.Repeat("e", 300)
	sess := sessiontest.New("10.0.0.5", func(sessiontest.Call) (*session.Result, error) {
		return sessiontest.ExitWith(1, stderr), nil
	})

	err = m.Apply(context.Background(), sess)
	var rce *module.RemoteCommandError
	require.ErrorAs(t, err, &rce)
	assert.Equal(t, 1, rce.ExitCode)
	assert.Len(t, rce.Stderr, 200)
}

func TestDryRun(t *testing.T) {
	m, err := module.New("command", module.Spec{Params: map[string]any{"command": "reboot"}, DryRun: true})
	require.NoError(t, err)

	sess := sessiontest.New("10.0.0.5", nil)
	require.NoError(t, m.Apply(context.Background(), sess))
	assert.Empty(t, sess.Calls())
	assert.Zero(t, sess.Connects())
}

func TestMissingCommand(t *testing.T) {
	_, err := module.New("command", module.Spec{Params: map[string]any{"cmd": "ls"}})
	var pe *module.ParamError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "command", pe.Module)
	assert.Equal(t, "command", pe.Param)
}
