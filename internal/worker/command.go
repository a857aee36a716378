// Package worker drives one subprocess per dispatched unit: it assembles the
// runner command line, injects the coordination environment, captures output,
// enforces the per-process timeout, and collects artifacts afterwards.
package worker

import (
	"fmt"
	"strconv"

	"github.com/pabot-dev/pabot/internal/plan"
)

// Environment variable names injected into every worker subprocess.
const (
	EnvQueueIndex      = "PABOTQUEUEINDEX"
	EnvLibURI          = "PABOTLIBURI"
	EnvExecutionPoolID = "PABOTEXECUTIONPOOLID"
	EnvNumberOfProc    = "PABOTNUMBEROFPROCESSES"
	EnvIsLastInPool    = "PABOTISLASTEXECUTIONINPOOL"
	EnvLastLevel       = "PABOTLASTLEVEL"
	EnvCallerID        = "CALLER_ID"
)

// CommandSpec carries everything needed to build one worker invocation.
type CommandSpec struct {
	// BaseCommand is the runner invocation, default or from --command.
	BaseCommand []string
	// Unit selects what this subprocess executes.
	Unit *plan.Unit
	// OutputDir is the unit's scratch directory (pabot_results/<queue_index>).
	OutputDir string
	// Datasources are the user's input paths, appended last.
	Datasources []string
	// ExtraArgs are runner-native flags passed through from the CLI.
	ExtraArgs []string
	// ArgfilePath is the argument file for this variant, or "".
	ArgfilePath string
	// CallerID identifies this worker to the coordination server.
	CallerID string
	// LibURI is the coordination server address, or "" when disabled.
	LibURI string
	// QueueIndex, PoolID and Processes describe the worker's slot.
	QueueIndex int
	PoolID     int
	Processes  int
	// IsLast is set when this is the final dispatch of the run.
	IsLast bool
	// LastLevel is the outermost suite path of this unit under which no
	// later unit runs, used by teardown-only-once coordination.
	LastLevel string
}

// Args builds the full argument vector after the command name.
func (s *CommandSpec) Args() []string {
	args := append([]string(nil), s.BaseCommand[1:]...)
	args = append(args, s.ExtraArgs...)
	if s.ArgfilePath != "" {
		args = append(args, "--argumentfile", s.ArgfilePath)
	}
	args = append(args,
		"--log", "NONE",
		"--report", "NONE",
		"--xunit", "NONE",
		"--outputdir", s.OutputDir,
	)
	for _, v := range s.variables() {
		args = append(args, "--variable", v)
	}
	args = append(args, s.Unit.Selectors()...)
	args = append(args, s.Datasources...)
	return args
}

// variables renders the coordination values injected into the runner's
// variable namespace. The same values go into the process environment.
func (s *CommandSpec) variables() []string {
	vars := []string{
		EnvCallerID + ":" + s.CallerID,
		EnvLibURI + ":" + s.LibURI,
		EnvExecutionPoolID + ":" + strconv.Itoa(s.PoolID),
		EnvIsLastInPool + ":" + boolFlag(s.IsLast),
		EnvNumberOfProc + ":" + strconv.Itoa(s.Processes),
		EnvQueueIndex + ":" + strconv.Itoa(s.QueueIndex),
	}
	if s.LastLevel != "" {
		vars = append(vars, EnvLastLevel+":"+s.LastLevel)
	}
	return vars
}

// Env returns the environment entries added to the subprocess.
func (s *CommandSpec) Env() []string {
	env := []string{
		EnvQueueIndex + "=" + strconv.Itoa(s.QueueIndex),
		EnvLibURI + "=" + s.LibURI,
		EnvExecutionPoolID + "=" + strconv.Itoa(s.PoolID),
		EnvNumberOfProc + "=" + strconv.Itoa(s.Processes),
		EnvIsLastInPool + "=" + boolFlag(s.IsLast),
		EnvCallerID + "=" + s.CallerID,
	}
	if s.LastLevel != "" {
		env = append(env, EnvLastLevel+"="+s.LastLevel)
	}
	return env
}

// String renders the command for verbose logging.
func (s *CommandSpec) String() string {
	return fmt.Sprintf("%s %v", s.BaseCommand[0], s.Args())
}

func boolFlag(b bool) string {
	if b {
		return "1"
	}
	return "0"
}
