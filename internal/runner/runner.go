// Package runner applies an ordered list of tasks to every inventory host.
package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mlansible/mla/internal/config"
	"github.com/mlansible/mla/internal/inventory"
	"github.com/mlansible/mla/internal/module"
	"github.com/mlansible/mla/internal/output"
	"github.com/mlansible/mla/internal/session"
)

// DialFunc returns a new, not yet connected session for host.
type DialFunc func(host *inventory.Host) session.Session

// Runner applies tasks to hosts.
type Runner struct {
	// Output handles the banner, result lines and recap.
	Output *output.Output

	// Dial creates one session per (task, host) pair.
	Dial DialFunc

	// DryRun logs what would be done without connecting.
	DryRun bool

	// Forks bounds how many hosts run a task concurrently.
	Forks int

	// BackupRoot is passed to modules that move files aside.
	BackupRoot string
}

// New creates a runner that dials SSH sessions configured from cfg.
func New(cfg *config.Config, out *output.Output) *Runner {
	if out == nil {
		out = output.New(io.Discard, nil)
	}

	opts := []session.Option{
		session.WithConnectTimeout(cfg.ConnectTimeout),
		session.WithCommandTimeout(cfg.CommandTimeout),
		session.WithConnectRetries(cfg.ConnectRetries),
		session.WithBecome(session.BecomeMode(cfg.Become.Mode)),
		session.WithStrictHostKeys(cfg.StrictHostKeyChecking),
		session.WithKnownHosts(cfg.KnownHostsFile),
		session.WithLogger(out.Logger()),
	}

	return &Runner{
		Output: out,
		Dial: func(host *inventory.Host) session.Session {
			return session.New(host, opts...)
		},
		DryRun:     cfg.DryRun,
		Forks:      cfg.Forks,
		BackupRoot: cfg.BackupRoot,
	}
}

// Execute applies tasks to every host of inv with the settings in cfg.
func Execute(ctx context.Context, cfg *config.Config, out *output.Output, inv *inventory.Inventory, tasks []*inventory.Task) (*Result, error) {
	return New(cfg, out).Run(ctx, inv, tasks)
}

// Result holds the result of a run.
type Result struct {
	// Success is true if every task succeeded on every host.
	Success bool

	// Stats holds execution statistics.
	Stats *Stats
}

// Stats holds execution statistics. OK, Failed and Skipped count
// (task, host) pairs.
type Stats struct {
	Tasks     int
	Hosts     int
	OK        int
	Failed    int
	Skipped   int
	StartTime time.Time
	EndTime   time.Time

	mu sync.Mutex
}

// Duration returns the total execution time.
func (s *Stats) Duration() time.Duration {
	return s.EndTime.Sub(s.StartTime)
}

// GetOK returns the OK count (implements output.Stats).
func (s *Stats) GetOK() int { return s.OK }

// GetFailed returns the Failed count (implements output.Stats).
func (s *Stats) GetFailed() int { return s.Failed }

// GetSkipped returns the Skipped count (implements output.Stats).
func (s *Stats) GetSkipped() int { return s.Skipped }

// GetDuration returns the duration (implements output.Stats).
func (s *Stats) GetDuration() time.Duration { return s.Duration() }

func (s *Stats) record(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.Failed++
	} else {
		s.OK++
	}
}

func (s *Stats) skip(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Skipped += n
}

// step is a task resolved to its module. err holds a parameter error.
type step struct {
	task *inventory.Task
	mod  module.Module
	err  error
}

func (s *step) label() string {
	if s.mod != nil {
		return s.mod.Label()
	}
	return s.task.Module
}

func (s *step) fields() []zap.Field {
	if s.mod != nil {
		return s.mod.Fields()
	}
	return []zap.Field{zap.Any("params", s.task.Params)}
}

// Run resolves every task, then applies them in order. Hosts of one task run
// through a pool of Forks workers; the next task starts once every host is
// done. Task failures are logged and counted but never stop the run. An
// unknown module aborts before any host is contacted.
func (r *Runner) Run(ctx context.Context, inv *inventory.Inventory, tasks []*inventory.Task) (*Result, error) {
	steps, err := r.resolve(tasks)
	if err != nil {
		return nil, err
	}

	hosts := inv.Sorted()
	stats := &Stats{
		Tasks:     len(tasks),
		Hosts:     len(hosts),
		StartTime: time.Now(),
	}

	r.output().RunStart(inv.Path, len(hosts), len(tasks), r.DryRun)
	r.output().Info("Processing %d task(s) on hosts: %v", len(tasks), inv.Addresses())

	var runErr error
	for i, st := range steps {
		if err := ctx.Err(); err != nil {
			stats.skip((len(steps) - i) * len(hosts))
			runErr = err
			break
		}
		if err := r.runStep(ctx, st, hosts, stats); err != nil {
			runErr = err
			stats.skip((len(steps) - i - 1) * len(hosts))
			break
		}
	}

	stats.EndTime = time.Now()
	if runErr == nil {
		r.output().Info("-> DONE")
	}
	r.output().Recap(stats)

	result := &Result{
		Success: stats.Failed == 0 && stats.Skipped == 0 && runErr == nil,
		Stats:   stats,
	}
	return result, runErr
}

// resolve builds the module of every task up front.
func (r *Runner) resolve(tasks []*inventory.Task) ([]*step, error) {
	steps := make([]*step, 0, len(tasks))
	for _, task := range tasks {
		mod, err := module.New(task.Module, module.Spec{
			Index:      task.Index,
			Params:     task.Params,
			DryRun:     r.DryRun,
			BackupRoot: r.BackupRoot,
		})

		var unknown *module.UnknownModuleError
		if errors.As(err, &unknown) {
			return nil, fmt.Errorf("task %d: %w", task.Index, err)
		}
		steps = append(steps, &step{task: task, mod: mod, err: err})
	}
	return steps, nil
}

// runStep applies one task to every host and returns ctx.Err() when the run
// was cancelled while the task was in flight.
func (r *Runner) runStep(ctx context.Context, st *step, hosts []*inventory.Host, stats *Stats) error {
	r.log().Debug("task", zap.String("task", st.task.String()))

	var g errgroup.Group
	g.SetLimit(max(r.Forks, 1))

	for i, host := range hosts {
		if ctx.Err() != nil {
			stats.skip(len(hosts) - i)
			break
		}
		g.Go(func() error {
			err := r.applyHost(ctx, st, host)
			stats.record(err)
			r.output().HostResult(st.task.Index, host.Address, st.label(), st.fields(), r.DryRun, err)
			return nil
		})
	}

	_ = g.Wait()
	return ctx.Err()
}

// applyHost runs the step on one host through its own session.
func (r *Runner) applyHost(ctx context.Context, st *step, host *inventory.Host) error {
	if st.err != nil {
		return st.err
	}

	sess := r.Dial(host)
	defer sess.Close()

	if !r.DryRun {
		if err := sess.Connect(ctx); err != nil {
			return err
		}
	}

	return st.mod.Apply(ctx, sess)
}

func (r *Runner) output() *output.Output {
	if r.Output == nil {
		r.Output = output.New(io.Discard, nil)
	}
	return r.Output
}

func (r *Runner) log() *zap.Logger {
	return r.output().Logger()
}
