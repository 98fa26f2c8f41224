package apt

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mlansible/mla/internal/module"
	"github.com/mlansible/mla/internal/session/sessiontest"
)

func TestApply(t *testing.T) {
	tests := []struct {
		name   string
		params map[string]any
		want   string
	}{
		{"install by default", map[string]any{"name": "nginx"}, "sudo apt -y install nginx"},
		{"present installs", map[string]any{"name": "nginx", "state": "present"}, "sudo apt -y install nginx"},
		{"absent removes", map[string]any{"name": "nginx", "state": "absent"}, "sudo apt -y remove nginx"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := module.New("apt", module.Spec{Index: 1, Params: tt.params})
			require.NoError(t, err)

			sess := sessiontest.New("10.0.0.5", nil)
			require.NoError(t, m.Apply(context.Background(), sess))

			calls := sess.Calls()
			require.Len(t, calls, 1)
			assert.Equal(t, sessiontest.KindPrivileged, calls[0].Kind)
			assert.Equal(t, tt.want, calls[0].Cmd)
		})
	}
}

func TestDryRun(t *testing.T) {
	m, err := module.New("apt", module.Spec{Params: map[string]any{"name": "nginx"}, DryRun: true})
	require.NoError(t, err)

	sess := sessiontest.New("10.0.0.5", nil)
	require.NoError(t, m.Apply(context.Background(), sess))
	assert.Empty(t, sess.Calls())
}

func TestMissingName(t *testing.T) {
	_, err := module.New("apt", module.Spec{Params: map[string]any{"state": "absent"}})
	var pe *module.ParamError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "name", pe.Param)
}
