// Package cron provides the shared framing for the scheduled reconciliation
// binaries: execution guarding, run timing, operator summary output, exit
// code mapping, and the rotating per-month log files.
package cron

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"fittrack/internal/reconcile"
)

// Exit codes per the cron contract.
const (
	ExitSuccess = 0
	ExitFailure = 1
)

// StdinIsInteractive reports whether the process was started from a
// terminal. Cron and other schedulers attach a pipe or /dev/null to stdin,
// so a character device means a human at a shell.
func StdinIsInteractive() bool {
	fi, err := os.Stdin.Stat()
	if err != nil {
		return false
	}
	return fi.Mode()&os.ModeCharDevice != 0
}

// AllowExecution is the execution guard: a driver may run when invoked from
// a non-interactive (scheduler) context, or when the operator passed the
// explicit manual-override flag. The guard is checked before any database
// access.
func AllowExecution(interactive, manualOverride bool) bool {
	return !interactive || manualOverride
}

// Driver frames one reconciliation run for a cron binary.
type Driver struct {
	Name   string
	Logger *slog.Logger
	Out    io.Writer // operator summary destination, normally os.Stdout
}

// Execute runs the job, logs a summary line, writes the one-line operator
// summary, and returns the process exit code. Per-row errors inside the
// outcome do not fail the run; only a run-level error (candidate query or
// wiring failure) maps to ExitFailure.
func (d *Driver) Execute(ctx context.Context, run func(context.Context) (*reconcile.Outcome, error)) int {
	start := time.Now()

	outcome, err := run(ctx)
	elapsed := time.Since(start).Round(time.Millisecond)

	if err != nil {
		d.Logger.ErrorContext(ctx, "run failed",
			"job", d.Name,
			"duration", elapsed.String(),
			"error", err,
		)
		fmt.Fprintf(d.Out, "%s: FAILED after %s: %v\n", d.Name, elapsed, err)
		return ExitFailure
	}

	d.Logger.InfoContext(ctx, "run complete",
		"job", d.Name,
		"duration", elapsed.String(),
		"checked", outcome.Checked,
		"renewed", outcome.Renewed,
		"demoted", outcome.Demoted,
		"unchanged", outcome.Unchanged,
		"skipped", outcome.Skipped,
		"errors", outcome.Errors,
	)

	fmt.Fprintf(d.Out,
		"%s: checked=%d renewed=%d demoted=%d unchanged=%d skipped=%d errors=%d duration=%s\n",
		d.Name,
		outcome.Checked,
		outcome.Renewed,
		outcome.Demoted,
		outcome.Unchanged,
		outcome.Skipped,
		outcome.Errors,
		elapsed,
	)

	return ExitSuccess
}

// Denied reports the access-denied outcome for a guarded invocation and
// returns the failure exit code. No database access happens on this path.
func (d *Driver) Denied() int {
	d.Logger.Warn("interactive invocation without manual override, refusing to run",
		"job", d.Name,
	)
	fmt.Fprintf(d.Out, "%s: access denied (use -manual to run interactively)\n", d.Name)
	return ExitFailure
}
