package discovery

import (
	"context"
	"encoding/xml"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/pabot-dev/pabot/internal/errors"
)

// suiteXML mirrors the parts of the runner's output.xml discovery needs.
type suiteXML struct {
	Name   string     `xml:"name,attr"`
	Suites []suiteXML `xml:"suite"`
	Tests  []testXML  `xml:"test"`
	Status statusXML  `xml:"status"`
}

type testXML struct {
	Name   string    `xml:"name,attr"`
	Status statusXML `xml:"status"`
}

type statusXML struct {
	Status    string `xml:"status,attr"`
	StartTime string `xml:"starttime,attr"`
	EndTime   string `xml:"endtime,attr"`
	Elapsed   string `xml:"elapsed,attr"`
}

type outputXML struct {
	XMLName xml.Name `xml:"robot"`
	Suite   suiteXML `xml:"suite"`
}

// parseOutputXML reads a runner output file.
func parseOutputXML(path string) (*outputXML, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading output xml %s: %w", path, err)
	}
	var out outputXML
	if err := xml.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("parsing output xml %s: %w", path, err)
	}
	return &out, nil
}

// Listing is what a dry-run pass learns about the test tree.
type Listing struct {
	// Suites are the fully-qualified dotted names of leaf suites, in
	// document order.
	Suites []string
	// TestsBySuite maps each leaf suite to its test long names.
	TestsBySuite map[string][]string
}

// Enumerate runs the external runner in dry-run mode against the
// datasources and parses the resulting output.xml into a Listing. extraArgs
// carries pass-through filters (--include, --exclude, --prerunmodifier)
// that shape which units exist.
func Enumerate(ctx context.Context, command, datasources, extraArgs []string, scratchDir string) (*Listing, error) {
	outPath := filepath.Join(scratchDir, "dryrun-output.xml")
	if err := os.MkdirAll(scratchDir, 0o755); err != nil {
		return nil, errors.WrapWithMessage(err, errors.Spawn, "creating discovery scratch dir")
	}
	// A dry-run output left by an earlier pass must not stand in for this one.
	if err := os.Remove(outPath); err != nil && !os.IsNotExist(err) {
		return nil, errors.WrapWithMessage(err, errors.Spawn, "removing stale dry-run output")
	}

	args := append([]string(nil), command[1:]...)
	args = append(args, extraArgs...)
	args = append(args,
		"--dryrun",
		"--runemptysuite",
		"--output", outPath,
		"--log", "NONE",
		"--report", "NONE",
	)
	args = append(args, datasources...)

	cmd := exec.CommandContext(ctx, command[0], args...)
	cmd.Stdout = nil
	cmd.Stderr = nil
	if err := cmd.Run(); err != nil {
		// Dry-run exits non-zero when any test would fail; the output
		// file is still complete, so only a missing file is fatal.
		if _, statErr := os.Stat(outPath); statErr != nil {
			return nil, errors.WrapWithMessage(err, errors.Spawn,
				"enumerating suites with dry-run",
				"check that the runner command is installed and on PATH",
				"verify the datasource paths exist")
		}
	}

	out, err := parseOutputXML(outPath)
	if err != nil {
		return nil, errors.Wrap(err, errors.Spawn)
	}

	listing := &Listing{TestsBySuite: make(map[string][]string)}
	collectLeafSuites(out.Suite, "", listing)
	return listing, nil
}

// collectLeafSuites walks the suite tree and records suites that directly
// contain tests, keyed by their dotted long name.
func collectLeafSuites(s suiteXML, prefix string, listing *Listing) {
	name := s.Name
	if prefix != "" {
		name = prefix + "." + s.Name
	}
	if len(s.Tests) > 0 {
		listing.Suites = append(listing.Suites, name)
		for _, test := range s.Tests {
			listing.TestsBySuite[name] = append(listing.TestsBySuite[name], name+"."+test.Name)
		}
	}
	for _, child := range s.Suites {
		collectLeafSuites(child, name, listing)
	}
}
