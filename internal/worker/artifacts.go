package worker

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// CollectArtifacts copies files matching the given extensions from a
// worker's output directory into the consolidated output directory and
// returns the mapping from each artifact's original base name to its final
// path relative to destDir. The merger uses the mapping to rewrite
// href/src references in the consolidated log and report.
//
// Without subfolders only the top level of srcDir is scanned; with it the
// whole tree is walked and the relative layout is preserved. Name clashes
// between workers are resolved with a numeric suffix.
func CollectArtifacts(srcDir, destDir string, extensions []string, subfolders bool) (map[string]string, error) {
	wanted := make(map[string]bool, len(extensions))
	for _, ext := range extensions {
		wanted["."+strings.TrimPrefix(strings.ToLower(ext), ".")] = true
	}

	mapping := make(map[string]string)
	collect := func(path string, rel string) error {
		if !wanted[strings.ToLower(filepath.Ext(path))] {
			return nil
		}
		final, err := copyArtifact(path, destDir, rel)
		if err != nil {
			return err
		}
		mapping[filepath.Base(path)] = final
		return nil
	}

	if !subfolders {
		entries, err := os.ReadDir(srcDir)
		if err != nil {
			if os.IsNotExist(err) {
				return mapping, nil
			}
			return nil, fmt.Errorf("reading artifact dir: %w", err)
		}
		for _, entry := range entries {
			if entry.IsDir() {
				continue
			}
			if err := collect(filepath.Join(srcDir, entry.Name()), entry.Name()); err != nil {
				return nil, err
			}
		}
		return mapping, nil
	}

	err := filepath.Walk(srcDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if info.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(srcDir, path)
		if err != nil {
			return err
		}
		return collect(path, rel)
	})
	if err != nil {
		return nil, fmt.Errorf("walking artifact dir: %w", err)
	}
	return mapping, nil
}

// copyArtifact places the file at destDir/rel, appending -1, -2, ... before
// the extension when another worker already produced that name. Returns the
// final destination relative to destDir.
func copyArtifact(src, destDir, rel string) (string, error) {
	final := rel
	ext := filepath.Ext(rel)
	stem := strings.TrimSuffix(rel, ext)
	for n := 1; ; n++ {
		if _, err := os.Stat(filepath.Join(destDir, final)); os.IsNotExist(err) {
			break
		}
		final = fmt.Sprintf("%s-%d%s", stem, n, ext)
	}

	destPath := filepath.Join(destDir, final)
	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return "", fmt.Errorf("creating artifact dir: %w", err)
	}
	in, err := os.Open(src)
	if err != nil {
		return "", fmt.Errorf("opening artifact: %w", err)
	}
	defer in.Close()
	out, err := os.Create(destPath)
	if err != nil {
		return "", fmt.Errorf("creating artifact copy: %w", err)
	}
	defer out.Close()
	if _, err := io.Copy(out, in); err != nil {
		return "", fmt.Errorf("copying artifact: %w", err)
	}
	return filepath.ToSlash(final), nil
}
