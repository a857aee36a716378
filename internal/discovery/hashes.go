// Package discovery resolves the user's datasources into the canonical unit
// list pabot executes. Results are cached in .pabotsuitenames behind four
// fingerprint lines; a valid cache skips the external runner's dry-run pass.
package discovery

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Hashes are the four fingerprints guarding the discovery cache. Any
// mismatch against current inputs invalidates the cache.
type Hashes struct {
	// Dirs fingerprints the datasource file trees.
	Dirs string
	// Cmd fingerprints the command line affecting discovery.
	Cmd string
	// SuitesFrom fingerprints the --suitesfrom output file, if any.
	SuitesFrom string
	// File fingerprints the cache body itself, set when storing.
	File string
}

// HashOfDirs fingerprints the datasource paths: file names and contents,
// walked in deterministic order.
func HashOfDirs(paths []string) (string, error) {
	digest := sha1.New()
	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil {
			return "", fmt.Errorf("hashing datasource %s: %w", path, err)
		}
		if !info.IsDir() {
			if err := hashFile(digest, path); err != nil {
				return "", err
			}
			continue
		}
		var files []string
		err = filepath.Walk(path, func(p string, fi os.FileInfo, err error) error {
			if err != nil {
				return err
			}
			if !fi.IsDir() {
				files = append(files, p)
			}
			return nil
		})
		if err != nil {
			return "", fmt.Errorf("walking datasource %s: %w", path, err)
		}
		sort.Strings(files)
		for _, f := range files {
			if err := hashFile(digest, f); err != nil {
				return "", err
			}
		}
	}
	return hex.EncodeToString(digest.Sum(nil)), nil
}

func hashFile(digest io.Writer, path string) error {
	io.WriteString(digest, filepath.ToSlash(path))
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("hashing file %s: %w", path, err)
	}
	defer f.Close()
	if _, err := io.Copy(digest, f); err != nil {
		return fmt.Errorf("hashing file %s: %w", path, err)
	}
	return nil
}

// HashOfCommand fingerprints the parts of the invocation that influence
// which units exist: the runner command and the discovery-relevant options.
func HashOfCommand(command []string, options []string) string {
	digest := sha1.New()
	io.WriteString(digest, strings.Join(command, "\x00"))
	io.WriteString(digest, "\x00\x00")
	io.WriteString(digest, strings.Join(options, "\x00"))
	return hex.EncodeToString(digest.Sum(nil))
}

// HashOfSuitesFrom fingerprints the --suitesfrom file, or returns the empty
// marker when the option is unused.
func HashOfSuitesFrom(path string) (string, error) {
	if path == "" {
		return "no-suites-from-option", nil
	}
	digest := sha1.New()
	if err := hashFile(digest, path); err != nil {
		return "", err
	}
	return hex.EncodeToString(digest.Sum(nil)), nil
}

// hashOfLines fingerprints the cache header and body so edits to the stored
// plan are detected. Body line order does not matter: each line hashes
// independently and the results are folded together.
func hashOfLines(header []string, body []string) string {
	digest := sha1.New()
	for _, line := range header {
		io.WriteString(digest, line+"\n")
	}
	var folded uint64
	for _, line := range body {
		h := sha1.Sum([]byte(line))
		var chunk uint64
		for i := 0; i < 8; i++ {
			chunk = chunk<<8 | uint64(h[i])
		}
		folded ^= chunk
	}
	fmt.Fprintf(digest, "%d", folded)
	return hex.EncodeToString(digest.Sum(nil))
}
