// Package output provides the run banner, per-host result lines and recap.
package output

import (
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"
)

// Colors for terminal output.
const (
	colorReset = "\033[0m"
	colorRed   = "\033[31m"
	colorGreen = "\033[32m"
	colorCyan  = "\033[36m"
	colorGray  = "\033[90m"
	colorBold  = "\033[1m"
)

// Result messages written for each (task, host) pair.
const (
	MsgOK     = "ok"
	MsgFailed = "failed"
	MsgDryRun = "dry run"
)

// Stats holds execution statistics for output.
type Stats interface {
	GetOK() int
	GetFailed() int
	GetSkipped() int
	GetDuration() time.Duration
}

// Output handles the human banner and recap written to w and the structured
// result lines written to the logger.
type Output struct {
	w        io.Writer
	log      *zap.Logger
	useColor bool
	debug    bool
}

// New creates a new output handler.
func New(w io.Writer, log *zap.Logger) *Output {
	if log == nil {
		log = zap.NewNop()
	}
	return &Output{
		w:        w,
		log:      log,
		useColor: true,
	}
}

// SetColor enables or disables color output.
func (o *Output) SetColor(enabled bool) {
	o.useColor = enabled
}

// SetDebug enables or disables debug output.
func (o *Output) SetDebug(enabled bool) {
	o.debug = enabled
}

// Logger returns the structured logger.
func (o *Output) Logger() *zap.Logger {
	return o.log
}

// color returns the string wrapped in color codes if enabled.
func (o *Output) color(c, s string) string {
	if !o.useColor {
		return s
	}
	return c + s + colorReset
}

// RunStart prints the run banner.
func (o *Output) RunStart(inventoryPath string, hosts, tasks int, dryRun bool) {
	title := "RUN"
	if dryRun {
		title = "DRY RUN"
	}
	o.printf("\n%s %s %s\n", o.color(colorBold, title), inventoryPath, o.color(colorGray, fmt.Sprintf("(%d hosts, %d tasks)", hosts, tasks)))
	o.log.Info("run started",
		zap.String("inventory", inventoryPath),
		zap.Int("hosts", hosts),
		zap.Int("tasks", tasks),
		zap.Bool("dry_run", dryRun),
	)
}

// HostResult logs the outcome of one task on one host. fields carries the
// module's resolved parameters.
func (o *Output) HostResult(index int, host, op string, fields []zap.Field, dryRun bool, err error) {
	all := make([]zap.Field, 0, len(fields)+4)
	all = append(all, zap.Int("index", index), zap.String("host", host), zap.String("op", op))
	all = append(all, fields...)

	switch {
	case err != nil:
		o.log.Error(MsgFailed, append(all, zap.Error(err))...)
	case dryRun:
		o.log.Info(MsgDryRun, all...)
	default:
		o.log.Info(MsgOK, all...)
	}
}

// Recap prints the run summary.
func (o *Output) Recap(stats Stats) {
	o.printf("\n%s ", o.color(colorBold, "RECAP"))

	ok := o.color(colorGreen, fmt.Sprintf("ok=%d", stats.GetOK()))
	failed := o.color(colorRed, fmt.Sprintf("failed=%d", stats.GetFailed()))
	skipped := o.color(colorCyan, fmt.Sprintf("skipped=%d", stats.GetSkipped()))

	o.printf("%s %s %s", ok, failed, skipped)
	o.printf(" %s\n", o.color(colorGray, fmt.Sprintf("(%.2fs)", stats.GetDuration().Seconds())))
}

// Info prints an informational message.
func (o *Output) Info(format string, args ...any) {
	o.printf("%s\n", fmt.Sprintf(format, args...))
}

// Error prints an error message.
func (o *Output) Error(format string, args ...any) {
	o.printf("%s %s\n", o.color(colorRed, "ERROR"), fmt.Sprintf(format, args...))
}

// Debug prints a debug message (only in debug mode).
func (o *Output) Debug(format string, args ...any) {
	if o.debug {
		o.printf("%s %s\n", o.color(colorGray, "DEBUG"), fmt.Sprintf(format, args...))
	}
}

func (o *Output) printf(format string, args ...any) {
	fmt.Fprintf(o.w, format, args...)
}
