// Package config holds the run settings. Values come from defaults, then an
// optional YAML file, then explicitly set command-line flags.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

// Config is the complete set of run settings.
type Config struct {
	// DryRun logs what would be done without connecting to any host.
	DryRun bool `yaml:"dry_run"`

	// Forks bounds how many hosts run a task concurrently.
	Forks int `yaml:"forks" validate:"min=1"`

	// ConnectTimeout bounds dialing and the SSH handshake.
	ConnectTimeout time.Duration `yaml:"connect_timeout" validate:"min=0"`

	// CommandTimeout bounds each remote command. Zero means untimed.
	CommandTimeout time.Duration `yaml:"command_timeout" validate:"min=0"`

	// ConnectRetries is the number of extra dial attempts.
	ConnectRetries int `yaml:"connect_retries" validate:"min=0,max=10"`

	// FailOnError makes the run exit non-zero when any task failed on any host.
	FailOnError bool `yaml:"fail_on_error"`

	// StrictHostKeyChecking rejects hosts missing from known_hosts.
	StrictHostKeyChecking bool `yaml:"strict_host_key_checking"`

	// KnownHostsFile overrides ~/.ssh/known_hosts.
	KnownHostsFile string `yaml:"known_hosts_file"`

	// BackupRoot is the remote directory backups are moved under.
	BackupRoot string `yaml:"backup_root" validate:"required,startswith=/"`

	Become Become `yaml:"become"`
	Log    Log    `yaml:"log"`
}

// Become configures privileged commands.
type Become struct {
	// Mode is "password" (answer the sudo prompt) or "nopasswd".
	Mode string `yaml:"mode" validate:"oneof=password nopasswd"`
}

// Log configures logging.
type Log struct {
	Format     string `yaml:"format" validate:"oneof=console json"`
	Debug      bool   `yaml:"debug"`
	NoColor    bool   `yaml:"no_color"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb" validate:"min=0"`
	MaxBackups int    `yaml:"max_backups" validate:"min=0"`
	MaxAgeDays int    `yaml:"max_age_days" validate:"min=0"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Default returns the built-in settings.
func Default() *Config {
	return &Config{
		Forks:          1,
		ConnectTimeout: 30 * time.Second,
		BackupRoot:     "/tmp",
		Become:         Become{Mode: "password"},
		Log: Log{
			Format:     "console",
			MaxSizeMB:  100,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
	}
}

// Load returns the defaults overlaid with the YAML file at path.
// An empty path returns the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	return cfg, nil
}

// ApplyFlags overrides settings with the flags the user set explicitly.
// Flags missing from fs are ignored.
func (c *Config) ApplyFlags(fs *pflag.FlagSet) error {
	var err error
	changed := func(name string) bool {
		f := fs.Lookup(name)
		return f != nil && f.Changed && err == nil
	}

	if changed("dry-run") {
		c.DryRun, err = fs.GetBool("dry-run")
	}
	if changed("forks") {
		c.Forks, err = fs.GetInt("forks")
	}
	if changed("connect-timeout") {
		c.ConnectTimeout, err = fs.GetDuration("connect-timeout")
	}
	if changed("command-timeout") {
		c.CommandTimeout, err = fs.GetDuration("command-timeout")
	}
	if changed("connect-retries") {
		c.ConnectRetries, err = fs.GetInt("connect-retries")
	}
	if changed("fail-on-error") {
		c.FailOnError, err = fs.GetBool("fail-on-error")
	}
	if changed("strict-host-key-checking") {
		c.StrictHostKeyChecking, err = fs.GetBool("strict-host-key-checking")
	}
	if changed("known-hosts") {
		c.KnownHostsFile, err = fs.GetString("known-hosts")
	}
	if changed("backup-root") {
		c.BackupRoot, err = fs.GetString("backup-root")
	}
	if changed("become-mode") {
		c.Become.Mode, err = fs.GetString("become-mode")
	}
	if changed("log-format") {
		c.Log.Format, err = fs.GetString("log-format")
	}
	if changed("debug") {
		c.Log.Debug, err = fs.GetBool("debug")
	}
	if changed("no-color") {
		c.Log.NoColor, err = fs.GetBool("no-color")
	}
	if changed("log-file") {
		c.Log.File, err = fs.GetString("log-file")
	}

	return err
}

// Validate checks the settings.
func (c *Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}

	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		field := strings.TrimPrefix(fe.Namespace(), "Config.")
		if fe.Param() != "" {
			msgs = append(msgs, fmt.Sprintf("%s must satisfy %s=%s (got %v)", field, fe.Tag(), fe.Param(), fe.Value()))
		} else {
			msgs = append(msgs, fmt.Sprintf("%s is %s", field, fe.Tag()))
		}
	}
	return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
}
