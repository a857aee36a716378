package merger

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pabot-dev/pabot/internal/errors"
	"github.com/pabot-dev/pabot/internal/progress"
)

// Options configures a merge pass.
type Options struct {
	// ResultsDir is the per-unit output tree (pabot_results).
	ResultsDir string
	// OutputPath is the consolidated output file to write.
	OutputPath string
	// ArtifactMapping maps artifact base names to their final path
	// relative to the output directory; href/src references are
	// rewritten through it.
	ArtifactMapping map[string]string
	// Writer receives console diagnostics.
	Writer *progress.Writer
}

// Merge stitches every output.xml under ResultsDir into one consolidated
// file. Suites reappearing across inputs merge into a single node with the
// later attempt winning per test; argument-file variants land as siblings.
// Corrupt inputs are reported and skipped, and the merge still emits what
// it can before returning a merge error.
func Merge(opts Options) error {
	files, err := findOutputs(opts.ResultsDir)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return errors.NewMergeError(
			fmt.Sprintf("no output files found under %s", opts.ResultsDir),
			"check that the workers produced output, or rerun without --no-rebot")
	}

	var merged *node
	var corrupt []string
	for _, path := range files {
		tree, err := parseFile(path)
		if err != nil {
			corrupt = append(corrupt, path)
			if opts.Writer != nil {
				opts.Writer.Warn(fmt.Sprintf("skipping corrupt output %s: %v", path, err))
			}
			continue
		}
		if merged == nil {
			merged = tree
			continue
		}
		mergeRoot(merged, tree)
	}
	if merged == nil {
		return errors.NewMergeError("every output file was corrupt",
			"inspect the per-unit stderr captures for runner crashes")
	}

	rewriteTree(merged, opts.ArtifactMapping)

	if err := writeOutput(opts.OutputPath, merged); err != nil {
		return err
	}
	if len(corrupt) > 0 {
		return errors.NewMergeError(fmt.Sprintf(
			"merged output is incomplete, %d corrupt input(s): %s",
			len(corrupt), strings.Join(corrupt, ", ")))
	}
	return nil
}

// findOutputs collects *.xml files under dir in natural sort order so the
// merge is deterministic and later queue indexes win conflicts.
func findOutputs(dir string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if !d.IsDir() && strings.HasSuffix(path, ".xml") {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, errors.WrapWithMessage(err, errors.Merge, "scanning results dir")
	}
	natSort(files)
	return files, nil
}

// mergeRoot folds another output tree into the accumulated one.
func mergeRoot(base, other *node) {
	baseSuite, otherSuite := base.child("suite"), other.child("suite")
	if baseSuite == nil || otherSuite == nil {
		return
	}
	if baseSuite.attr("name") == otherSuite.attr("name") {
		mergeSuite(baseSuite, otherSuite)
	} else {
		// Different roots (argument-file variants with distinct names)
		// become siblings under the combined document.
		base.Children = append(base.Children, otherSuite)
		base.Text = append(base.Text, "")
	}
	mergeErrors(base, other)
}

// mergeSuite merges other into base recursively. Child suites match by
// name; tests match by name with the later input replacing the earlier
// attempt, so re-executions appear exactly once.
func mergeSuite(base, other *node) {
	for _, otherChild := range other.Children {
		switch otherChild.XMLName.Local {
		case "suite":
			if existing := findNamed(base, "suite", otherChild.attr("name")); existing != nil {
				mergeSuite(existing, otherChild)
			} else {
				appendChild(base, otherChild)
			}
		case "test":
			if existing := findNamed(base, "test", otherChild.attr("name")); existing != nil {
				*existing = *otherChild
			} else {
				appendChild(base, otherChild)
			}
		case "status":
			// The merged suite keeps the first status element; a later
			// failing attempt overrides a passing one.
			if existing := base.child("status"); existing != nil {
				if otherChild.attr("status") == "FAIL" {
					*existing = *otherChild
				}
			} else {
				appendChild(base, otherChild)
			}
		default:
			if base.child(otherChild.XMLName.Local) == nil {
				appendChild(base, otherChild)
			}
		}
	}
}

// mergeErrors appends the other document's execution errors.
func mergeErrors(base, other *node) {
	otherErrors := other.child("errors")
	if otherErrors == nil || len(otherErrors.Children) == 0 {
		return
	}
	baseErrors := base.child("errors")
	if baseErrors == nil {
		appendChild(base, otherErrors)
		return
	}
	for _, msg := range otherErrors.Children {
		appendChild(baseErrors, msg)
	}
}

func findNamed(parent *node, tag, name string) *node {
	for _, c := range parent.Children {
		if c.XMLName.Local == tag && c.attr("name") == name {
			return c
		}
	}
	return nil
}

func appendChild(parent *node, child *node) {
	parent.Children = append(parent.Children, child)
	parent.Text = append(parent.Text, "")
}

// writeOutput writes the merged tree atomically.
func writeOutput(path string, root *node) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.WrapWithMessage(err, errors.Merge, "creating output dir")
	}
	tmp, err := os.CreateTemp(dir, ".output-*.xml")
	if err != nil {
		return errors.WrapWithMessage(err, errors.Merge, "creating temp output")
	}
	tmpName := tmp.Name()
	cleanup := func() { tmp.Close(); os.Remove(tmpName) }

	if _, err := tmp.WriteString(`<?xml version="1.0" encoding="UTF-8"?>` + "\n"); err != nil {
		cleanup()
		return errors.WrapWithMessage(err, errors.Merge, "writing output")
	}
	if err := root.write(tmp); err != nil {
		cleanup()
		return errors.WrapWithMessage(err, errors.Merge, "writing output")
	}
	if _, err := tmp.WriteString("\n"); err != nil {
		cleanup()
		return errors.WrapWithMessage(err, errors.Merge, "writing output")
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return errors.WrapWithMessage(err, errors.Merge, "closing output")
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return errors.WrapWithMessage(err, errors.Merge, "replacing output")
	}
	return nil
}
