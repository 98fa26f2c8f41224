// Package main is the entrypoint for the mla CLI.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	// Import modules to register them
	_ "github.com/mlansible/mla/internal/module/apt"
	_ "github.com/mlansible/mla/internal/module/command"
	_ "github.com/mlansible/mla/internal/module/copy"
	_ "github.com/mlansible/mla/internal/module/service"
	_ "github.com/mlansible/mla/internal/module/sysctl"
	_ "github.com/mlansible/mla/internal/module/template"

	"github.com/mlansible/mla/internal/config"
	"github.com/mlansible/mla/internal/inventory"
	"github.com/mlansible/mla/internal/module"
	"github.com/mlansible/mla/internal/output"
	"github.com/mlansible/mla/internal/runner"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// Global flags
var (
	configPath    string
	inventoryPath string
	todosPath     string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "mla",
	Short: "mla - a minimal agentless configuration tool",
	Long: `mla applies an ordered list of tasks to every host of a static
inventory over SSH. Modules cover shell commands, apt packages, services,
sysctl settings, file copies and rendered templates.`,
	Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
	SilenceUsage: true,
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&configPath, "config", "c", "", "Config file (YAML)")
	pf.BoolP("debug", "d", false, "Enable debug logging")
	pf.String("log-format", "console", "Log format: console or json")
	pf.String("log-file", "", "Also write JSON logs to this file (rotated)")
	pf.Bool("no-color", false, "Disable colored output")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(modulesCmd)
}

// runCmd applies a todos file to an inventory
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Apply tasks to every inventory host",
	Long: `Apply the tasks of a todos file, in order, to every host of an inventory.

Examples:
  mla run -i inventory.yml -t todos.yml
  mla run -i inventory.yml -t todos.yml --dry-run
  mla run -i inventory.yml -t todos.yml --forks 10 --fail-on-error`,
	Args: cobra.NoArgs,
	RunE: runTodos,
}

func init() {
	f := runCmd.Flags()
	f.StringVarP(&inventoryPath, "inventory", "i", "", "Inventory file")
	f.StringVarP(&todosPath, "todos", "t", "", "Todos file")
	f.BoolP("dry-run", "n", false, "Show what would be done without connecting to any host")
	f.IntP("forks", "f", 1, "Number of hosts a task runs on concurrently")
	f.Duration("connect-timeout", 30*time.Second, "Timeout for dialing and the SSH handshake")
	f.Duration("command-timeout", 0, "Timeout for each remote command (0 disables it)")
	f.Int("connect-retries", 0, "Extra connection attempts with exponential backoff")
	f.String("become-mode", "password", "How sudo is answered: password or nopasswd")
	f.Bool("fail-on-error", false, "Exit non-zero when any task failed on any host")
	f.Bool("strict-host-key-checking", false, "Reject hosts missing from known_hosts")
	f.String("known-hosts", "", "known_hosts file (default ~/.ssh/known_hosts)")
	f.String("backup-root", "/tmp", "Remote directory backups are moved under")
	_ = runCmd.MarkFlagRequired("inventory")
	_ = runCmd.MarkFlagRequired("todos")
}

func runTodos(cmd *cobra.Command, args []string) error {
	cfg, out, err := setup(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = out.Logger().Sync() }()

	// Errors from here on are printed by out.
	cmd.SilenceErrors = true

	inv, tasks, err := load()
	if err != nil {
		out.Error("%v", err)
		return err
	}

	// Setup context with signal handling
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case <-sigCh:
			fmt.Fprintln(os.Stderr, "\nInterrupted, cleaning up...")
			cancel()
		case <-ctx.Done():
		}
	}()

	result, err := runner.Execute(ctx, cfg, out, inv, tasks)
	if err != nil {
		out.Error("%v", err)
		return err
	}

	if cfg.FailOnError && !result.Success {
		err := errors.New("one or more tasks failed")
		out.Error("%v", err)
		return err
	}
	return nil
}

// validateCmd checks the inventory and todos without running anything
var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate an inventory and a todos file",
	Long: `Load and validate an inventory and a todos file without contacting any host.

This checks for:
  - Valid YAML syntax and known keys
  - Required host and task fields
  - Registered module names
  - Module parameters

Examples:
  mla validate -i inventory.yml -t todos.yml`,
	Args: cobra.NoArgs,
	RunE: validateTodos,
}

func init() {
	validateCmd.Flags().StringVarP(&inventoryPath, "inventory", "i", "", "Inventory file")
	validateCmd.Flags().StringVarP(&todosPath, "todos", "t", "", "Todos file")
	_ = validateCmd.MarkFlagRequired("inventory")
	_ = validateCmd.MarkFlagRequired("todos")
}

func validateTodos(cmd *cobra.Command, args []string) error {
	inv, tasks, err := load()
	if err != nil {
		fmt.Printf("FAIL: %v\n", err)
		return err
	}

	var failed int
	for _, task := range tasks {
		_, err := module.New(task.Module, module.Spec{Index: task.Index, Params: task.Params})
		if err != nil {
			fmt.Printf("FAIL: %s - %v\n", task, err)
			failed++
		}
	}

	if failed > 0 {
		return fmt.Errorf("%d task(s) failed validation", failed)
	}

	fmt.Printf("OK: %d host(s), %d task(s)\n", len(inv.Hosts), len(tasks))
	return nil
}

// modulesCmd lists available modules
var modulesCmd = &cobra.Command{
	Use:   "modules",
	Short: "List available modules",
	Long:  `Display a list of all available modules that can be used in todos files.`,
	Run: func(cmd *cobra.Command, args []string) {
		modules := module.List()
		if len(modules) == 0 {
			fmt.Println("No modules registered.")
			return
		}

		fmt.Println("Available modules:")
		fmt.Println()
		for _, name := range modules {
			fmt.Printf("  - %s\n", name)
		}
		fmt.Println()
		fmt.Printf("Total: %d modules\n", len(modules))
	},
}

// setup resolves the configuration and builds the output handler.
func setup(cmd *cobra.Command) (*config.Config, *output.Output, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	if err := cfg.ApplyFlags(cmd.Flags()); err != nil {
		return nil, nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}

	log, err := output.NewLogger(os.Stderr, output.LogConfig{
		Format:     cfg.Log.Format,
		Debug:      cfg.Log.Debug,
		NoColor:    cfg.Log.NoColor,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
	})
	if err != nil {
		return nil, nil, err
	}

	out := output.New(cmd.OutOrStdout(), log)
	out.SetColor(!cfg.Log.NoColor)
	out.SetDebug(cfg.Log.Debug)
	out.Debug("config: forks=%d connect_timeout=%s become=%s", cfg.Forks, cfg.ConnectTimeout, cfg.Become.Mode)
	log.Debug("configuration resolved", zap.String("config", configPath), zap.Bool("dry_run", cfg.DryRun))

	return cfg, out, nil
}

func load() (*inventory.Inventory, []*inventory.Task, error) {
	inv, err := inventory.LoadInventory(inventoryPath)
	if err != nil {
		return nil, nil, err
	}
	tasks, err := inventory.LoadTasks(todosPath)
	if err != nil {
		return nil, nil, err
	}
	return inv, tasks, nil
}
