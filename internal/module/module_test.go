package module

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap"

	"github.com/mlansible/mla/internal/session"
	"github.com/mlansible/mla/internal/session/sessiontest"
)

// mockModule is a simple module for testing
type mockModule struct {
	name string
	spec Spec
}

func (m *mockModule) Name() string        { return m.name }
func (m *mockModule) Label() string       { return "Mock" }
func (m *mockModule) Fields() []zap.Field { return nil }

func (m *mockModule) Apply(ctx context.Context, sess session.Session) error {
	return nil
}

func mockFactory(name string) Factory {
	return func(spec Spec) (Module, error) {
		if _, err := RequireString(spec.Params, "required"); err != nil {
			return nil, err
		}
		return &mockModule{name: name, spec: spec}, nil
	}
}

func TestRegisterAndNew(t *testing.T) {
	// Use a unique name to avoid conflicts with other registered modules
	Register("test_mock_module_unique", mockFactory("test_mock_module_unique"))

	m, err := New("test_mock_module_unique", Spec{Index: 2, Params: map[string]any{"required": "x"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m.Name() != "test_mock_module_unique" {
		t.Errorf("expected name 'test_mock_module_unique', got %q", m.Name())
	}

	spec := m.(*mockModule).spec
	if spec.Index != 2 {
		t.Errorf("expected index 2, got %d", spec.Index)
	}
	if spec.BackupRoot != DefaultBackupRoot {
		t.Errorf("expected default backup root, got %q", spec.BackupRoot)
	}
}

func TestNewParamError(t *testing.T) {
	Register("test_param_module", mockFactory("test_param_module"))

	_, err := New("test_param_module", Spec{})
	var pe *ParamError
	if !errors.As(err, &pe) {
		t.Fatalf("expected *ParamError, got %v", err)
	}
	if pe.Module != "test_param_module" || pe.Param != "required" {
		t.Errorf("unexpected param error: %+v", pe)
	}
	if got := err.Error(); got != "test_param_module: parameter 'required' is missing" {
		t.Errorf("unexpected message %q", got)
	}
}

func TestNewUnknown(t *testing.T) {
	_, err := New("nonexistent_module_xyz", Spec{})

	var ue *UnknownModuleError
	if !errors.As(err, &ue) {
		t.Fatalf("expected *UnknownModuleError, got %v", err)
	}
	if ue.Name != "nonexistent_module_xyz" {
		t.Errorf("expected name 'nonexistent_module_xyz', got %q", ue.Name)
	}
}

func TestRegisterDuplicatePanics(t *testing.T) {
	Register("test_duplicate_module", mockFactory("test_duplicate_module"))

	defer func() {
		if recover() == nil {
			t.Error("expected panic on duplicate registration")
		}
	}()
	Register("test_duplicate_module", mockFactory("test_duplicate_module"))
}

func TestList(t *testing.T) {
	Register("test_list_b", mockFactory("test_list_b"))
	Register("test_list_a", mockFactory("test_list_a"))

	names := List()
	ia, ib := -1, -1
	for i, name := range names {
		switch name {
		case "test_list_a":
			ia = i
		case "test_list_b":
			ib = i
		}
	}
	if ia < 0 || ib < 0 {
		t.Fatalf("registered modules missing from List(): %v", names)
	}
	if ia > ib {
		t.Errorf("List() is not sorted: %v", names)
	}
}

func TestRequireString(t *testing.T) {
	params := map[string]any{
		"name":  "nginx",
		"value": 1,
		"empty": "  ",
		"list":  []any{"a"},
		"null":  nil,
	}

	tests := []struct {
		key     string
		want    string
		wantErr string
	}{
		{"name", "nginx", ""},
		{"value", "1", ""},
		{"empty", "", "parameter 'empty' cannot be empty"},
		{"list", "", "parameter 'list' must be a string"},
		{"null", "", "parameter 'null' is missing"},
		{"absent", "", "parameter 'absent' is missing"},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			got, err := RequireString(params, tt.key)
			if tt.wantErr != "" {
				if err == nil || err.Error() != tt.wantErr {
					t.Fatalf("expected error %q, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestGetBool(t *testing.T) {
	params := map[string]any{
		"yes":      true,
		"no":       false,
		"str_true": "true",
		"str_yes":  "yes",
		"number":   1,
	}

	for key, want := range map[string]bool{
		"yes": true, "no": false, "str_true": true, "str_yes": false, "number": false, "absent": false,
	} {
		if got := GetBool(params, key); got != want {
			t.Errorf("GetBool(%q) = %v, want %v", key, got, want)
		}
	}
}

func TestGetMap(t *testing.T) {
	m, err := GetMap(map[string]any{"vars": map[string]any{"p": 1}}, "vars")
	if err != nil || m["p"] != 1 {
		t.Fatalf("unexpected result %v, %v", m, err)
	}

	m, err = GetMap(map[string]any{}, "vars")
	if err != nil || len(m) != 0 {
		t.Fatalf("expected empty map, got %v, %v", m, err)
	}

	if _, err := GetMap(map[string]any{"vars": "x"}, "vars"); err == nil {
		t.Error("expected error for non-mapping value")
	}
}

func TestRun(t *testing.T) {
	sess := sessiontest.New("10.0.0.5", func(c sessiontest.Call) (*session.Result, error) {
		if c.Cmd == "false" {
			return sessiontest.ExitWith(1, "boom"), nil
		}
		return sessiontest.Output("ok"), nil
	})
	ctx := context.Background()

	res, err := Run(ctx, sess, "true")
	if err != nil || res.Stdout != "ok" {
		t.Fatalf("unexpected result %v, %v", res, err)
	}

	_, err = RunPrivileged(ctx, sess, "false")
	var rce *RemoteCommandError
	if !errors.As(err, &rce) {
		t.Fatalf("expected *RemoteCommandError, got %v", err)
	}
	if rce.ExitCode != 1 || rce.Stderr != "boom" {
		t.Errorf("unexpected error fields: %+v", rce)
	}
	if got := rce.Error(); got != "command failed with exit code 1: false: boom" {
		t.Errorf("unexpected message %q", got)
	}

	calls := sess.Calls()
	if len(calls) != 2 || calls[0].Kind != sessiontest.KindExec || calls[1].Kind != sessiontest.KindPrivileged {
		t.Errorf("unexpected calls: %v", calls)
	}
}
