package scheduler

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// SummaryFileName is the run summary written into the results directory.
const SummaryFileName = "pabot_run.yml"

// UnitSummary is one unit's line in the run summary file.
type UnitSummary struct {
	Name           string   `yaml:"name"`
	Kind           string   `yaml:"kind"`
	Status         string   `yaml:"status"`
	QueueIndex     int      `yaml:"queue_index"`
	ElapsedSeconds float64  `yaml:"elapsed_seconds"`
	FailedTests    int      `yaml:"failed_tests,omitempty"`
	BlockedBy      []string `yaml:"blocked_by,omitempty"`
}

// Summary aggregates a finished run for reporting and the exit code.
type Summary struct {
	StartedAt  time.Time     `yaml:"started_at"`
	FinishedAt time.Time     `yaml:"finished_at"`
	Processes  int           `yaml:"processes"`
	Total      int           `yaml:"total"`
	Passed     int           `yaml:"passed"`
	Failed     int           `yaml:"failed"`
	TimedOut   int           `yaml:"timed_out"`
	Errors     int           `yaml:"errors"`
	Skipped    int           `yaml:"skipped"`
	Units      []UnitSummary `yaml:"units"`
}

// Summarize folds unit results into a Summary.
func Summarize(results []UnitResult, processes int, started, finished time.Time) *Summary {
	s := &Summary{
		StartedAt:  started,
		FinishedAt: finished,
		Processes:  processes,
		Total:      len(results),
	}
	for _, r := range results {
		unit := UnitSummary{
			Name:           r.Unit.Name,
			Kind:           r.Unit.Kind.String(),
			Status:         r.Status.String(),
			QueueIndex:     r.Unit.QueueIndex,
			ElapsedSeconds: r.Result.Elapsed.Seconds(),
			FailedTests:    r.Result.FailedTests,
			BlockedBy:      r.BlockedBy,
		}
		s.Units = append(s.Units, unit)
		switch r.Status {
		case StatusPassed:
			s.Passed++
		case StatusFailed:
			s.Failed++
		case StatusTimeout:
			s.TimedOut++
		case StatusError:
			s.Errors++
		case StatusSkipped:
			s.Skipped++
		}
	}
	return s
}

// FailedUnits counts units that did not complete with a passing status.
func (s *Summary) FailedUnits() int {
	return s.Failed + s.TimedOut + s.Errors + s.Skipped
}

// ExitCode maps the summary onto the process exit code: zero when every
// unit passed, otherwise the failed-unit count capped at 250. Fatal
// orchestration errors (251) and externally forced termination (252) are
// decided by the caller, not here.
func (s *Summary) ExitCode() int {
	failed := s.FailedUnits()
	if failed > 250 {
		return 250
	}
	return failed
}

// Write stores the summary as YAML, atomically: temp file plus rename.
func (s *Summary) Write(dir string) error {
	data, err := yaml.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshaling run summary: %w", err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating summary dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".pabot_run-*")
	if err != nil {
		return fmt.Errorf("creating temp summary: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("writing summary: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("closing summary: %w", err)
	}
	if err := os.Rename(tmpName, filepath.Join(dir, SummaryFileName)); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replacing summary: %w", err)
	}
	return nil
}
