package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "mla.yml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func newFlags() *pflag.FlagSet {
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	fs.Bool("dry-run", false, "")
	fs.Int("forks", 1, "")
	fs.Duration("connect-timeout", 30*time.Second, "")
	fs.Duration("command-timeout", 0, "")
	fs.Int("connect-retries", 0, "")
	fs.String("become-mode", "password", "")
	fs.String("backup-root", "/tmp", "")
	fs.String("log-format", "console", "")
	fs.Bool("debug", false, "")
	return fs
}

func TestDefault(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 1, cfg.Forks)
	assert.Equal(t, 30*time.Second, cfg.ConnectTimeout)
	assert.Zero(t, cfg.CommandTimeout)
	assert.Zero(t, cfg.ConnectRetries)
	assert.Equal(t, "/tmp", cfg.BackupRoot)
	assert.Equal(t, "password", cfg.Become.Mode)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.False(t, cfg.FailOnError)
	assert.False(t, cfg.DryRun)
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
forks: 4
connect_timeout: 5s
command_timeout: 2m
become:
  mode: nopasswd
log:
  format: json
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 4, cfg.Forks)
	assert.Equal(t, 5*time.Second, cfg.ConnectTimeout)
	assert.Equal(t, 2*time.Minute, cfg.CommandTimeout)
	assert.Equal(t, "nopasswd", cfg.Become.Mode)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, "/tmp", cfg.BackupRoot, "unset keys keep their defaults")
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read config")

	_, err = Load(writeConfig(t, "forkz: 2\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "field forkz not found")

	cfg, err := Load(writeConfig(t, ""))
	require.NoError(t, err, "an empty file keeps the defaults")
	assert.Equal(t, Default(), cfg)

	cfg, err = Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestPrecedence(t *testing.T) {
	path := writeConfig(t, "forks: 4\nconnect_retries: 2\nbackup_root: /var/backups\n")

	cfg, err := Load(path)
	require.NoError(t, err)

	fs := newFlags()
	require.NoError(t, fs.Parse([]string{"--forks", "8", "--dry-run"}))
	require.NoError(t, cfg.ApplyFlags(fs))

	assert.Equal(t, 8, cfg.Forks, "explicit flag wins over the file")
	assert.Equal(t, 2, cfg.ConnectRetries, "file wins over the flag default")
	assert.Equal(t, "/var/backups", cfg.BackupRoot)
	assert.True(t, cfg.DryRun)
	assert.Equal(t, 30*time.Second, cfg.ConnectTimeout, "default survives when neither sets it")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"zero forks", func(c *Config) { c.Forks = 0 }, "Forks"},
		{"bad become mode", func(c *Config) { c.Become.Mode = "su" }, "Become.Mode"},
		{"bad log format", func(c *Config) { c.Log.Format = "xml" }, "Log.Format"},
		{"relative backup root", func(c *Config) { c.BackupRoot = "backups" }, "BackupRoot"},
		{"negative retries", func(c *Config) { c.ConnectRetries = -1 }, "ConnectRetries"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
