// Package scheduler consumes the execution plan and drives the worker pool:
// it honors wait barriers, dependency edges, per-unit sleeps and the
// concurrency bound, and folds worker results into a run summary.
package scheduler

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/pabot-dev/pabot/internal/errors"
	"github.com/pabot-dev/pabot/internal/plan"
	"github.com/pabot-dev/pabot/internal/progress"
	"github.com/pabot-dev/pabot/internal/worker"
)

// Status is the scheduler's view of one unit after the run.
type Status int

const (
	// StatusPassed units exited zero (or were ignored on request).
	StatusPassed Status = iota
	// StatusFailed units reported failing tests.
	StatusFailed
	// StatusError units died on a runner error or cancellation.
	StatusError
	// StatusTimeout units exceeded the per-process timeout.
	StatusTimeout
	// StatusSkipped units never started because a dependency did not pass.
	StatusSkipped
)

// String returns the status name used in the console and the summary file.
func (s Status) String() string {
	switch s {
	case StatusPassed:
		return "passed"
	case StatusFailed:
		return "failed"
	case StatusError:
		return "error"
	case StatusTimeout:
		return "timeout"
	case StatusSkipped:
		return "skipped"
	default:
		return "unknown"
	}
}

// UnitResult pairs a unit with its outcome.
type UnitResult struct {
	Unit   *plan.Unit
	Status Status
	Result worker.Result
	// BlockedBy names the failed dependencies of a skipped unit.
	BlockedBy []string
}

// SpecFactory builds the worker command for one dispatch. The scheduler
// fills in the slot bookkeeping before calling the driver.
type SpecFactory func(u *plan.Unit, queueIndex, poolID int, isLast bool, lastLevel string) *worker.CommandSpec

// Scheduler is the single-run dispatch engine.
type Scheduler struct {
	// Processes bounds concurrent workers.
	Processes int
	// Driver executes subprocesses.
	Driver *worker.Driver
	// Writer receives scheduler-level console lines.
	Writer *progress.Writer
	// NewSpec builds the command for each dispatch.
	NewSpec SpecFactory
	// Ignored, when set, asks the coordination server whether a finished
	// caller marked its execution ignored.
	Ignored func(callerID string) (bool, error)
	// FirstQueueIndex offsets queue indexes so consecutive passes (one
	// per argument file) never reuse an index.
	FirstQueueIndex int

	mu         sync.Mutex
	results    map[int]*UnitResult
	queueIndex int
	remaining  int
	lastLevels map[int]string
}

// Run executes the whole plan. Wait barriers partition the plan into
// sections executed strictly in order; inside a section the pool runs units
// as their dependencies allow. The returned results always cover every unit
// in the plan. A non-nil error means a fatal condition (spawn failure or
// cancellation) aborted the run.
func (s *Scheduler) Run(ctx context.Context, p *plan.Plan) ([]UnitResult, error) {
	if s.Processes < 1 {
		s.Processes = 1
	}
	units := p.Units()
	s.results = make(map[int]*UnitResult, len(units))
	s.remaining = len(units)
	s.queueIndex = s.FirstQueueIndex
	s.lastLevels = computeLastLevels(units)

	var fatal error
	for _, section := range partition(p.Items) {
		if err := s.runSection(ctx, p, section); err != nil {
			fatal = err
			break
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	ordered := make([]UnitResult, 0, len(units))
	for _, u := range units {
		if r, ok := s.results[u.ID]; ok {
			ordered = append(ordered, *r)
		} else {
			ordered = append(ordered, UnitResult{Unit: u, Status: StatusSkipped})
		}
	}
	return ordered, fatal
}

// partition splits the plan at wait barriers.
func partition(items []plan.Item) [][]*plan.Unit {
	sections := [][]*plan.Unit{nil}
	for _, item := range items {
		switch item.Type {
		case plan.ItemWait:
			if len(sections[len(sections)-1]) > 0 {
				sections = append(sections, nil)
			}
		case plan.ItemUnit:
			sections[len(sections)-1] = append(sections[len(sections)-1], item.Unit)
		}
	}
	if len(sections[len(sections)-1]) == 0 {
		sections = sections[:len(sections)-1]
	}
	return sections
}

// runSection drains one barrier-delimited slice of the plan. It returns an
// error only for fatal conditions; unit failures are recorded and the
// section keeps going.
func (s *Scheduler) runSection(ctx context.Context, p *plan.Plan, units []*plan.Unit) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.Processes)

	pending := make(map[int]*plan.Unit, len(units))
	order := make([]int, 0, len(units))
	for _, u := range units {
		pending[u.ID] = u
		order = append(order, u.ID)
	}

	slots := make(chan int, s.Processes)
	for i := 0; i < s.Processes; i++ {
		slots <- i
	}
	done := make(chan struct{}, len(units))

	running := 0
loop:
	for len(pending) > 0 || running > 0 {
		ready := s.findReady(p, pending, order)
		if len(ready) == 0 {
			if running == 0 {
				// Everything left is blocked by failed dependencies.
				s.skipBlocked(p, pending, order)
				break
			}
			select {
			case <-done:
				running--
			case <-gctx.Done():
				break loop
			}
			continue
		}
		for _, u := range ready {
			delete(pending, u.ID)
			running++
			unit := u
			queueIndex, isLast := s.claimDispatch()
			g.Go(func() error {
				defer func() { done <- struct{}{} }()
				poolID := <-slots
				defer func() { slots <- poolID }()
				return s.dispatch(gctx, unit, queueIndex, poolID, isLast)
			})
		}
	}

	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

// claimDispatch hands out the next queue index and reports whether this is
// the run's final dispatch.
func (s *Scheduler) claimDispatch() (queueIndex int, isLast bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	queueIndex = s.queueIndex
	s.queueIndex++
	s.remaining--
	return queueIndex, s.remaining == 0
}

// findReady returns pending units whose dependencies all passed, in plan
// order so ties break stably.
func (s *Scheduler) findReady(p *plan.Plan, pending map[int]*plan.Unit, order []int) []*plan.Unit {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ready []*plan.Unit
	for _, id := range order {
		u, ok := pending[id]
		if !ok {
			continue
		}
		if s.depsSatisfiedLocked(u) {
			ready = append(ready, u)
		}
	}
	return ready
}

// depsSatisfiedLocked reports whether every dependency completed with a
// passing status. A failed dependency keeps the unit pending; skipBlocked
// sweeps it up once the section drains.
func (s *Scheduler) depsSatisfiedLocked(u *plan.Unit) bool {
	for _, dep := range u.DependsOn {
		r, ok := s.results[dep]
		if !ok || r.Status != StatusPassed {
			return false
		}
	}
	return true
}

// skipBlocked records a skipped result for every unit still pending,
// naming the dependencies that did not pass.
func (s *Scheduler) skipBlocked(p *plan.Plan, pending map[int]*plan.Unit, order []int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range order {
		u, ok := pending[id]
		if !ok {
			continue
		}
		var blockedBy []string
		for _, dep := range u.DependsOn {
			if r, ok := s.results[dep]; !ok || r.Status != StatusPassed {
				blockedBy = append(blockedBy, p.Unit(dep).Name)
			}
		}
		sort.Strings(blockedBy)
		s.results[id] = &UnitResult{Unit: u, Status: StatusSkipped, BlockedBy: blockedBy}
		s.Writer.Warn(fmt.Sprintf("SKIPPED %s (depends on: %s)",
			u.Name, strings.Join(blockedBy, ", ")))
	}
}

// dispatch runs one unit in the calling errgroup goroutine. Only spawn
// failures propagate as errors; everything else is recorded.
func (s *Scheduler) dispatch(ctx context.Context, u *plan.Unit, queueIndex, poolID int, isLast bool) error {
	u.QueueIndex = queueIndex
	spec := s.NewSpec(u, queueIndex, poolID, isLast, s.lastLevel(u))
	result, err := s.Driver.Run(ctx, spec)
	if err != nil {
		if ctx.Err() != nil {
			s.record(u, UnitResult{Unit: u, Status: StatusError})
			return ctx.Err()
		}
		s.record(u, UnitResult{Unit: u, Status: StatusError})
		return errors.WrapWithMessage(err, errors.Spawn,
			fmt.Sprintf("starting worker for %s", u.Name),
			"check the runner command with --command",
			"verify the executable is on PATH")
	}

	if result.Outcome == worker.OutcomePassed || result.Outcome == worker.OutcomeFailedTests {
		if ignored := s.checkIgnored(spec.CallerID); ignored {
			result.Outcome = worker.OutcomeIgnored
			os.RemoveAll(spec.OutputDir)
		}
	}

	ur := UnitResult{Unit: u, Result: result}
	switch result.Outcome {
	case worker.OutcomePassed:
		ur.Status = StatusPassed
		s.Driver.Writer.WriteWithID(poolID, queueIndex, progress.Passed,
			fmt.Sprintf("PASSED %s in %.1f seconds", u.Name, result.Elapsed.Seconds()))
	case worker.OutcomeIgnored:
		ur.Status = StatusPassed
		s.Driver.Writer.WriteWithID(poolID, queueIndex, progress.Info,
			fmt.Sprintf("IGNORED %s in %.1f seconds", u.Name, result.Elapsed.Seconds()))
	case worker.OutcomeFailedTests:
		ur.Status = StatusFailed
		s.Driver.Writer.WriteWithID(poolID, queueIndex, progress.Failed,
			fmt.Sprintf("FAILED %s with %d failing test(s)", u.Name, result.FailedTests))
	case worker.OutcomeTimeout:
		ur.Status = StatusTimeout
	default:
		ur.Status = StatusError
		s.Driver.Writer.WriteWithID(poolID, queueIndex, progress.Failed,
			fmt.Sprintf("FAILED %s with runner error (exit %d)", u.Name, result.ExitCode))
	}
	s.record(u, ur)
	return nil
}

func (s *Scheduler) checkIgnored(callerID string) bool {
	if s.Ignored == nil || callerID == "" {
		return false
	}
	ignored, err := s.Ignored(callerID)
	return err == nil && ignored
}

func (s *Scheduler) record(u *plan.Unit, r UnitResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results[u.ID] = &r
}

func (s *Scheduler) lastLevel(u *plan.Unit) string {
	return s.lastLevels[u.ID]
}

// computeLastLevels finds, for each unit, the outermost dotted suite prefix
// of its name under which no later unit of the plan falls. Workers use it to decide where
// teardown-only-once coordination applies.
func computeLastLevels(units []*plan.Unit) map[int]string {
	levels := make(map[int]string, len(units))
	for i, u := range units {
		name := u.Name
		best := ""
		for prefix := name; prefix != ""; {
			lastInPrefix := true
			for _, later := range units[i+1:] {
				if later.Name == prefix || strings.HasPrefix(later.Name, prefix+".") {
					lastInPrefix = false
					break
				}
			}
			if !lastInPrefix {
				break
			}
			best = prefix
			dot := strings.LastIndex(prefix, ".")
			if dot < 0 {
				break
			}
			prefix = prefix[:dot]
		}
		if best != "" {
			levels[u.ID] = best
		}
	}
	return levels
}
