package discovery

import (
	"context"
	"strings"

	"github.com/pabot-dev/pabot/internal/plan"
)

// Options configures a discovery pass.
type Options struct {
	// Command is the base runner invocation.
	Command []string
	// Datasources are the user's input paths.
	Datasources []string
	// ExtraArgs are pass-through filters that shape the unit list
	// (--include, --exclude, --prerunmodifier, ...).
	ExtraArgs []string
	// TestLevelSplit expands suites into their tests.
	TestLevelSplit bool
	// SuitesFrom orders units from a previous run's output.xml.
	SuitesFrom string
	// CachePath is where .pabotsuitenames lives.
	CachePath string
	// ScratchDir holds the dry-run output.
	ScratchDir string
	// ForceRegenerate bypasses the cache, used with --pabotprerunmodifier
	// whose effects the fingerprints cannot see.
	ForceRegenerate bool
	// Warn receives non-fatal diagnostics.
	Warn plan.WarnFunc
}

// Discover produces the execution plan, from the cache when its fingerprints
// match and from a runner dry-run pass otherwise. Regeneration writes the
// cache atomically before returning.
func Discover(ctx context.Context, opts Options) (*plan.Plan, error) {
	if opts.CachePath == "" {
		opts.CachePath = CacheFileName
	}
	current, err := currentHashes(opts)
	if err != nil {
		return nil, err
	}

	cache, err := LoadCache(opts.CachePath)
	if err != nil {
		return nil, err
	}
	if !opts.ForceRegenerate && cache.Valid(current) {
		return parseBody(cache.Body, opts.Warn)
	}

	listing, err := Enumerate(ctx, opts.Command, opts.Datasources, opts.ExtraArgs, opts.ScratchDir)
	if err != nil {
		return nil, err
	}

	names := listing.Suites
	if opts.SuitesFrom != "" {
		names, err = OrderBySuitesFrom(names, opts.SuitesFrom)
		if err != nil {
			return nil, err
		}
	}

	body := unitLines(names, listing, opts.TestLevelSplit)
	if cache != nil && len(cache.Body) > 0 {
		body = reconcile(cache.Body, names, listing, opts.TestLevelSplit)
	}

	if err := StoreCache(opts.CachePath, current, body); err != nil {
		return nil, err
	}
	return parseBody(body, opts.Warn)
}

func currentHashes(opts Options) (Hashes, error) {
	dirs, err := HashOfDirs(opts.Datasources)
	if err != nil {
		return Hashes{}, err
	}
	suitesFrom, err := HashOfSuitesFrom(opts.SuitesFrom)
	if err != nil {
		return Hashes{}, err
	}
	cmdArgs := append([]string(nil), opts.ExtraArgs...)
	if opts.TestLevelSplit {
		cmdArgs = append(cmdArgs, "--testlevelsplit")
	}
	return Hashes{
		Dirs:       dirs,
		Cmd:        HashOfCommand(opts.Command, cmdArgs),
		SuitesFrom: suitesFrom,
	}, nil
}

func parseBody(body []string, warn plan.WarnFunc) (*plan.Plan, error) {
	return plan.NewParser(warn).Parse(strings.NewReader(strings.Join(body, "\n")))
}

// unitLines renders the discovered names into cache body lines.
func unitLines(suiteNames []string, listing *Listing, testLevel bool) []string {
	var lines []string
	for _, suite := range suiteNames {
		if !testLevel {
			lines = append(lines, "--suite "+suite)
			continue
		}
		for _, test := range listing.TestsBySuite[suite] {
			lines = append(lines, "--test "+test)
		}
	}
	return lines
}

// reconcile merges a stale cache body with fresh discovery: units that still
// exist keep their old position and annotations (waits, sleeps, groups,
// depends, explicit suite-level listings), vanished units drop out, and new
// units append at the end. Structural leftovers are tidied afterwards.
func reconcile(oldBody []string, suiteNames []string, listing *Listing, testLevel bool) []string {
	liveSuites := make(map[string]bool, len(suiteNames))
	for _, s := range suiteNames {
		liveSuites[s] = true
	}
	liveTests := make(map[string]string) // test name -> owning suite
	for suite, tests := range listing.TestsBySuite {
		for _, test := range tests {
			liveTests[test] = suite
		}
	}

	consumedSuites := make(map[string]bool)
	consumedTests := make(map[string]bool)
	var kept []string
	for _, line := range oldBody {
		trimmed := strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(trimmed, "--suite "):
			name := unitName(trimmed, "--suite ")
			if !liveSuites[name] {
				continue
			}
			// An explicitly listed suite stays at suite level even
			// under --testlevelsplit.
			consumedSuites[name] = true
			kept = append(kept, line)
		case strings.HasPrefix(trimmed, "--test "):
			name := unitName(trimmed, "--test ")
			suite, alive := liveTests[name]
			if !alive {
				continue
			}
			consumedTests[name] = true
			consumedSuites[suite] = consumedSuites[suite] || suiteFullyConsumed(listing, suite, consumedTests)
			kept = append(kept, line)
		default:
			kept = append(kept, line)
		}
	}

	for _, suite := range suiteNames {
		if consumedSuites[suite] {
			continue
		}
		if !testLevel {
			kept = append(kept, "--suite "+suite)
			continue
		}
		for _, test := range listing.TestsBySuite[suite] {
			if !consumedTests[test] {
				kept = append(kept, "--test "+test)
			}
		}
	}

	return tidy(kept)
}

// unitName strips the selector prefix and any #DEPENDS annotations.
func unitName(line, prefix string) string {
	rest := strings.TrimPrefix(line, prefix)
	if i := strings.Index(rest, "#DEPENDS"); i >= 0 {
		rest = rest[:i]
	}
	return strings.TrimSpace(rest)
}

func suiteFullyConsumed(listing *Listing, suite string, consumedTests map[string]bool) bool {
	for _, test := range listing.TestsBySuite[suite] {
		if !consumedTests[test] {
			return false
		}
	}
	return true
}

// tidy collapses doubled waits, strips leading/trailing waits, and drops
// groups emptied by vanished units.
func tidy(lines []string) []string {
	var out []string
	groupStart := -1
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		switch trimmed {
		case "{":
			groupStart = len(out)
			out = append(out, line)
		case "}":
			if groupStart >= 0 && groupStart == len(out)-1 {
				out = out[:groupStart] // empty group
			} else {
				out = append(out, line)
			}
			groupStart = -1
		case "#WAIT":
			if len(out) == 0 || strings.TrimSpace(out[len(out)-1]) == "#WAIT" {
				continue
			}
			out = append(out, line)
		default:
			out = append(out, line)
		}
	}
	for len(out) > 0 && strings.TrimSpace(out[len(out)-1]) == "#WAIT" {
		out = out[:len(out)-1]
	}
	return out
}
