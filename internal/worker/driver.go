package worker

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/pabot-dev/pabot/internal/progress"
)

// KillGrace is how long a timed-out subprocess gets between the soft stop
// and the hard kill.
const KillGrace = 3 * time.Second

// Outcome classifies a finished worker subprocess.
type Outcome int

const (
	// OutcomePassed means exit code 0.
	OutcomePassed Outcome = iota
	// OutcomeFailedTests means exit 1..249: tests failed but the runner
	// completed. The unit still counts as executed.
	OutcomeFailedTests
	// OutcomeRunnerError means exit >= 250 or death by signal.
	OutcomeRunnerError
	// OutcomeTimeout means the process exceeded the configured timeout
	// and was terminated.
	OutcomeTimeout
	// OutcomeIgnored means the worker asked for its execution to be
	// discarded via the coordination server.
	OutcomeIgnored
)

// Result describes one finished worker subprocess.
type Result struct {
	Outcome  Outcome
	ExitCode int
	// FailedTests is the failing test count reported via exit code.
	FailedTests int
	Elapsed     time.Duration
	StdoutPath  string
	StderrPath  string
}

// Passed reports whether dependents of this unit may start.
func (r Result) Passed() bool {
	return r.Outcome == OutcomePassed || r.Outcome == OutcomeIgnored
}

// Driver runs worker subprocesses. One driver is shared by all slots.
type Driver struct {
	// Writer receives the console stream.
	Writer *progress.Writer
	// Timeout is the per-process limit, 0 = none.
	Timeout time.Duration
	// Verbose echoes commands and streams worker stdout live.
	Verbose bool
}

// Run executes the unit's subprocess as described by spec, waiting
// spec.Unit.Sleep seconds first. The sleep burns this worker's slot only;
// the scheduler keeps dispatching into other slots meanwhile.
func (d *Driver) Run(ctx context.Context, spec *CommandSpec) (Result, error) {
	if err := os.MkdirAll(spec.OutputDir, 0o755); err != nil {
		return Result{}, fmt.Errorf("creating output dir: %w", err)
	}

	if spec.Unit.Sleep > 0 {
		d.Writer.WriteWithID(spec.PoolID, spec.QueueIndex, progress.Info,
			fmt.Sprintf("SLEEPING %d SECONDS BEFORE STARTING %s", spec.Unit.Sleep, spec.Unit.Name))
		select {
		case <-time.After(time.Duration(spec.Unit.Sleep) * time.Second):
		case <-ctx.Done():
			return Result{}, ctx.Err()
		}
	}

	base := filepath.Base(spec.BaseCommand[0])
	stdoutPath := filepath.Join(spec.OutputDir, base+"_stdout.out")
	stderrPath := filepath.Join(spec.OutputDir, base+"_stderr.out")
	stdout, err := os.Create(stdoutPath)
	if err != nil {
		return Result{}, fmt.Errorf("creating stdout capture: %w", err)
	}
	defer stdout.Close()
	stderr, err := os.Create(stderrPath)
	if err != nil {
		return Result{}, fmt.Errorf("creating stderr capture: %w", err)
	}
	defer stderr.Close()

	cmd := exec.Command(spec.BaseCommand[0], spec.Args()...)
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.Env = append(os.Environ(), spec.Env()...)

	if d.Verbose {
		d.Writer.WriteWithID(spec.PoolID, spec.QueueIndex, progress.Info,
			fmt.Sprintf("EXECUTING PARALLEL %s with command:\n%s", spec.Unit.Name, spec))
	} else {
		d.Writer.WriteWithID(spec.PoolID, spec.QueueIndex, progress.Info,
			"EXECUTING "+spec.Unit.Name)
	}

	var tailStop func()
	if d.Verbose {
		tailStop = d.tailStdout(ctx, spec, stdoutPath)
	}

	start := time.Now()
	if err := cmd.Start(); err != nil {
		if tailStop != nil {
			tailStop()
		}
		return Result{}, fmt.Errorf("starting worker for %s: %w", spec.Unit.Name, err)
	}

	result := d.wait(ctx, cmd, spec, start)
	if tailStop != nil {
		tailStop()
	}
	result.StdoutPath = stdoutPath
	result.StderrPath = stderrPath
	return result, nil
}

// wait blocks until the subprocess exits, the timeout fires, or the run is
// cancelled. Keep-alive notices appear at a growing interval so long units
// stay visible without flooding the console.
func (d *Driver) wait(ctx context.Context, cmd *exec.Cmd, spec *CommandSpec, start time.Time) Result {
	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	var deadline <-chan time.Time
	if d.Timeout > 0 {
		timer := time.NewTimer(d.Timeout)
		defer timer.Stop()
		deadline = timer.C
	}

	keepAlive := 15 * time.Second
	notice := time.NewTimer(keepAlive)
	defer notice.Stop()

	for {
		select {
		case err := <-done:
			return d.classify(err, cmd, time.Since(start))
		case <-notice.C:
			d.Writer.WriteWithID(spec.PoolID, spec.QueueIndex, progress.Info,
				fmt.Sprintf("still running %s after %.1f seconds", spec.Unit.Name, time.Since(start).Seconds()))
			keepAlive += 5 * time.Second
			notice.Reset(keepAlive)
		case <-deadline:
			d.Writer.WriteWithID(spec.PoolID, spec.QueueIndex, progress.Failed,
				fmt.Sprintf("Process %s killed due to exceeding the maximum timeout of %s",
					spec.Unit.Name, d.Timeout))
			d.terminate(cmd, done)
			return Result{Outcome: OutcomeTimeout, ExitCode: -1, Elapsed: time.Since(start)}
		case <-ctx.Done():
			d.terminate(cmd, done)
			return Result{Outcome: OutcomeRunnerError, ExitCode: -1, Elapsed: time.Since(start)}
		}
	}
}

// terminate soft-stops the subprocess and hard-kills it after the grace
// period, then reaps it.
func (d *Driver) terminate(cmd *exec.Cmd, done <-chan error) {
	if cmd.Process == nil {
		return
	}
	softStop(cmd.Process)
	select {
	case <-done:
		return
	case <-time.After(KillGrace):
	}
	cmd.Process.Kill()
	<-done
}

func (d *Driver) classify(err error, cmd *exec.Cmd, elapsed time.Duration) Result {
	code := 0
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			code = exitErr.ExitCode()
		} else {
			return Result{Outcome: OutcomeRunnerError, ExitCode: -1, Elapsed: elapsed}
		}
	}
	switch {
	case code == 0:
		return Result{Outcome: OutcomePassed, Elapsed: elapsed}
	case code > 0 && code < 250:
		return Result{Outcome: OutcomeFailedTests, ExitCode: code, FailedTests: code, Elapsed: elapsed}
	default:
		// 250+ or death by signal (negative exit code).
		return Result{Outcome: OutcomeRunnerError, ExitCode: code, Elapsed: elapsed}
	}
}

// tailStdout streams the worker's captured stdout to the console while the
// subprocess runs. Returns a stop function.
func (d *Driver) tailStdout(ctx context.Context, spec *CommandSpec, path string) func() {
	tailer, err := NewLogTailer(path)
	if err != nil {
		return func() {}
	}
	tailCtx, cancel := context.WithCancel(ctx)
	lines, err := tailer.Tail(tailCtx)
	if err != nil {
		cancel()
		tailer.Close()
		return func() {}
	}
	go func() {
		for line := range lines {
			d.Writer.WriteWithID(spec.PoolID, spec.QueueIndex, progress.Info, line)
		}
	}()
	return func() {
		cancel()
		tailer.Close()
	}
}
