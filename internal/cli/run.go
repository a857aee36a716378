package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/pabot-dev/pabot/internal/config"
	"github.com/pabot-dev/pabot/internal/discovery"
	"github.com/pabot-dev/pabot/internal/errors"
	"github.com/pabot-dev/pabot/internal/merger"
	"github.com/pabot-dev/pabot/internal/pabotlib"
	"github.com/pabot-dev/pabot/internal/plan"
	"github.com/pabot-dev/pabot/internal/progress"
	"github.com/pabot-dev/pabot/internal/scheduler"
	"github.com/pabot-dev/pabot/internal/worker"
)

// Run executes one pabot invocation end to end: coordination server up,
// discovery, plan transforms, scheduling, artifact collection, merge.
// It returns the process exit code.
func Run(ctx context.Context, args *Args, cfg *config.Configuration) (int, error) {
	started := time.Now()
	writer := progress.NewWriter(os.Stdout)
	caps := progress.DetectTerminalCapabilities()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	outputDir := cfg.OutputDir
	resultsDir := filepath.Join(outputDir, "pabot_results")
	if err := os.RemoveAll(resultsDir); err != nil {
		return 0, errors.WrapWithMessage(err, errors.Spawn, "cleaning results dir")
	}

	libURI, closeLib, err := startCoordination(args)
	if err != nil {
		return 0, err
	}
	defer closeLib()

	scratchDir := filepath.Join(outputDir, ".pabot_discovery")
	defer os.RemoveAll(scratchDir)
	p, err := resolvePlan(ctx, args, scratchDir, writer, caps)
	if err != nil {
		return 0, err
	}
	units := p.Units()
	if len(units) == 0 {
		writer.Write("No tests to execute")
		return ExitTerminated, nil
	}

	processes := resolveProcesses(args, len(units))
	if args.Chunk {
		if p, err = plan.Chunk(p, processes); err != nil {
			return 0, err
		}
	}

	driver := &worker.Driver{
		Writer:  writer,
		Timeout: time.Duration(args.ProcessTimeout) * time.Second,
		Verbose: args.Verbose,
	}
	sched := &scheduler.Scheduler{
		Processes: processes,
		Driver:    driver,
		Writer:    writer,
		Ignored:   ignoredProbe(libURI),
	}

	variants := args.ArgumentFiles
	if len(variants) == 0 {
		variants = []ArgFile{{}}
	}

	var allResults []scheduler.UnitResult
	var fatal error
	for _, variant := range variants {
		sched.FirstQueueIndex = len(allResults)
		sched.NewSpec = specFactory(args, variant, resultsDir, libURI, processes)
		results, err := sched.Run(ctx, p)
		allResults = append(allResults, results...)
		if err != nil {
			fatal = err
			break
		}
	}

	summary := scheduler.Summarize(allResults, processes, started, time.Now())
	if err := summary.Write(resultsDir); err != nil {
		writer.Warn(fmt.Sprintf("could not write run summary: %v", err))
	}
	writer.Write(fmt.Sprintf("%d units, %d passed, %d failed, %d skipped.",
		summary.Total, summary.Passed, summary.Failed+summary.TimedOut+summary.Errors, summary.Skipped))
	writer.Write("===================================================")

	if fatal != nil {
		if ctx.Err() != nil {
			writer.Warn("Execution terminated, merging partial results")
			mergeResults(args, variants, outputDir, resultsDir, writer)
			return ExitTerminated, nil
		}
		return 0, fatal
	}

	if args.NoRebot {
		writer.Write(fmt.Sprintf(
			"All tests were executed, but --no-rebot was given, so results were not merged. "+
				"Per-unit outputs are under %s.", resultsDir))
		return summary.ExitCode(), nil
	}

	if err := mergeResults(args, variants, outputDir, resultsDir, writer); err != nil {
		writer.Warn(err.Error())
		return ExitTerminated, nil
	}

	writer.Write(fmt.Sprintf("Output:  %s", filepath.Join(outputDir, "output.xml")))
	writer.Write(fmt.Sprintf("Elapsed: %s", time.Since(started).Round(100*time.Millisecond)))
	return summary.ExitCode(), nil
}

// startCoordination brings up the coordination server, or points workers at
// a remote one when --pabotlibhost was given. The returned URI is empty when
// coordination is disabled entirely.
func startCoordination(args *Args) (string, func(), error) {
	if args.CoordinationEnabled {
		var opts []pabotlib.Option
		if args.ResourceFile != "" {
			sets, err := pabotlib.LoadResourceFile(args.ResourceFile)
			if err != nil {
				return "", nil, errors.Wrap(err, errors.Coordination)
			}
			opts = append(opts, pabotlib.WithValueSets(sets))
		}
		addr := fmt.Sprintf("%s:%d", args.CoordinationHost, args.CoordinationPort)
		srv, err := pabotlib.Start(addr, opts...)
		if err != nil {
			return "", nil, errors.Wrap(err, errors.Coordination)
		}
		return srv.URI(), func() { srv.Close() }, nil
	}
	if args.CoordinationHost != "" && args.CoordinationHost != "127.0.0.1" {
		return fmt.Sprintf("http://%s:%d", args.CoordinationHost, args.CoordinationPort),
			func() {}, nil
	}
	return "", func() {}, nil
}

// resolvePlan runs discovery and applies the ordering file and shard slice.
func resolvePlan(ctx context.Context, args *Args, scratchDir string, writer *progress.Writer, caps progress.TerminalCapabilities) (*plan.Plan, error) {
	warn := func(msg string) { writer.Warn(msg) }

	extraArgs := append([]string(nil), args.Remaining...)
	if args.PrerunModifier != "" {
		extraArgs = append(extraArgs, "--prerunmodifier", args.PrerunModifier)
	}

	sp := progress.NewSpinner(caps, "resolving suite names")
	sp.Start()
	p, err := discovery.Discover(ctx, discovery.Options{
		Command:         args.Command,
		Datasources:     args.Datasources,
		ExtraArgs:       extraArgs,
		TestLevelSplit:  args.TestLevelSplit,
		SuitesFrom:      args.SuitesFrom,
		ScratchDir:      scratchDir,
		ForceRegenerate: args.PrerunModifier != "",
		Warn:            warn,
	})
	sp.Stop()
	if err != nil {
		return nil, err
	}

	if args.Ordering != "" {
		ordering, err := parseOrderingFile(args.Ordering, warn)
		if err != nil {
			return nil, err
		}
		if p, err = plan.ApplyOrdering(p, ordering); err != nil {
			return nil, err
		}
	}
	return plan.SolveShard(p, args.ShardIndex, args.ShardCount)
}

func parseOrderingFile(path string, warn plan.WarnFunc) (*plan.Plan, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.WrapWithMessage(err, errors.Plan, "opening ordering file",
			"check the --ordering path")
	}
	defer f.Close()
	return plan.NewParser(warn).Parse(f)
}

func resolveProcesses(args *Args, unitCount int) int {
	switch {
	case args.ProcessesAll:
		return unitCount
	case args.Processes > 0:
		return args.Processes
	default:
		return config.DefaultProcesses()
	}
}

// specFactory builds the per-dispatch worker command for one argument-file
// variant.
func specFactory(args *Args, variant ArgFile, resultsDir, libURI string, processes int) scheduler.SpecFactory {
	return func(u *plan.Unit, queueIndex, poolID int, isLast bool, lastLevel string) *worker.CommandSpec {
		outDir := resultsDir
		if variant.Index != "" {
			outDir = filepath.Join(outDir, variant.Index)
		}
		return &worker.CommandSpec{
			BaseCommand: args.Command,
			Unit:        u,
			OutputDir:   filepath.Join(outDir, strconv.Itoa(queueIndex)),
			Datasources: args.Datasources,
			ExtraArgs:   args.Remaining,
			ArgfilePath: variant.Path,
			CallerID:    strings.ReplaceAll(uuid.NewString(), "-", ""),
			LibURI:      libURI,
			QueueIndex:  queueIndex,
			PoolID:      poolID,
			Processes:   processes,
			IsLast:      isLast,
			LastLevel:   lastLevel,
		}
	}
}

// ignoredProbe returns the scheduler's hook for discarding executions that
// asked to be ignored via the coordination server.
func ignoredProbe(libURI string) func(string) (bool, error) {
	if libURI == "" {
		return nil
	}
	return func(callerID string) (bool, error) {
		client, err := pabotlib.Dial(libURI, "pabot-scheduler-"+callerID)
		if err != nil {
			return false, err
		}
		defer client.Close()
		return client.IsIgnored(callerID)
	}
}

// mergeResults consolidates per-unit outputs, collecting artifacts first so
// reference rewriting can use the final paths.
func mergeResults(args *Args, variants []ArgFile, outputDir, resultsDir string, writer *progress.Writer) error {
	mapping, err := collectAllArtifacts(args, outputDir, resultsDir)
	if err != nil {
		writer.Warn(err.Error())
	}

	if len(args.ArgumentFiles) == 0 {
		return merger.Merge(merger.Options{
			ResultsDir:      resultsDir,
			OutputPath:      filepath.Join(outputDir, "output.xml"),
			ArtifactMapping: mapping,
			Writer:          writer,
		})
	}

	var variantOutputs []string
	var firstErr error
	for _, variant := range variants {
		out := filepath.Join(resultsDir, "output"+variant.Index+".xml")
		err := merger.Merge(merger.Options{
			ResultsDir:      filepath.Join(resultsDir, variant.Index),
			OutputPath:      out,
			ArtifactMapping: mapping,
			Writer:          writer,
		})
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		variantOutputs = append(variantOutputs, out)
	}
	if len(variantOutputs) == 0 {
		return firstErr
	}
	if err := merger.Combine(variantOutputs, filepath.Join(outputDir, "output.xml"), "Suites"); err != nil {
		return err
	}
	return firstErr
}

// collectAllArtifacts sweeps every per-unit directory for artifacts.
func collectAllArtifacts(args *Args, outputDir, resultsDir string) (map[string]string, error) {
	mapping := make(map[string]string)
	entries, err := os.ReadDir(resultsDir)
	if err != nil {
		if os.IsNotExist(err) {
			return mapping, nil
		}
		return mapping, errors.WrapWithMessage(err, errors.Merge, "scanning results dir for artifacts")
	}
	var dirs []string
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		if len(args.ArgumentFiles) == 0 {
			dirs = append(dirs, filepath.Join(resultsDir, entry.Name()))
			continue
		}
		// With argument files the layout is <variant>/<queue index>.
		variantDir := filepath.Join(resultsDir, entry.Name())
		inner, err := os.ReadDir(variantDir)
		if err != nil {
			continue
		}
		for _, unit := range inner {
			if unit.IsDir() {
				dirs = append(dirs, filepath.Join(variantDir, unit.Name()))
			}
		}
	}
	for _, dir := range dirs {
		m, err := worker.CollectArtifacts(dir, outputDir, args.Artifacts, args.ArtifactsInSubfolders)
		if err != nil {
			return mapping, errors.Wrap(err, errors.Merge)
		}
		for k, v := range m {
			mapping[k] = v
		}
	}
	return mapping, nil
}
