package discovery

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// CacheFileName is the discovery cache written next to the invocation.
const CacheFileName = ".pabotsuitenames"

const (
	dirsPrefix       = "datasources:"
	cmdPrefix        = "commandlineoptions:"
	suitesFromPrefix = "suitesfrom:"
	filePrefix       = "file:"
)

// Cache is the parsed .pabotsuitenames content: four fingerprint lines and
// the plan body, line for line.
type Cache struct {
	Hashes Hashes
	Body   []string
}

// LoadCache reads the cache at path. A missing file returns (nil, nil).
// A present but corrupt header returns a Cache with empty hashes so the
// caller treats it as invalid while still seeing the body.
func LoadCache(path string) (*Cache, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	cache := &Cache{}
	if len(lines) < 4 ||
		!strings.HasPrefix(lines[0], dirsPrefix) ||
		!strings.HasPrefix(lines[1], cmdPrefix) ||
		!strings.HasPrefix(lines[2], suitesFromPrefix) ||
		!strings.HasPrefix(lines[3], filePrefix) {
		cache.Body = lines
		return cache, nil
	}
	cache.Hashes = Hashes{
		Dirs:       strings.TrimPrefix(lines[0], dirsPrefix),
		Cmd:        strings.TrimPrefix(lines[1], cmdPrefix),
		SuitesFrom: strings.TrimPrefix(lines[2], suitesFromPrefix),
		File:       strings.TrimPrefix(lines[3], filePrefix),
	}
	cache.Body = lines[4:]
	return cache, nil
}

// Valid reports whether the cache matches the current input fingerprints
// and its body has not been edited since it was stored.
func (c *Cache) Valid(current Hashes) bool {
	if c == nil {
		return false
	}
	if c.Hashes.Dirs != current.Dirs ||
		c.Hashes.Cmd != current.Cmd ||
		c.Hashes.SuitesFrom != current.SuitesFrom {
		return false
	}
	return c.Hashes.File == c.bodyHash(current)
}

func (c *Cache) bodyHash(current Hashes) string {
	header := []string{
		dirsPrefix + current.Dirs,
		cmdPrefix + current.Cmd,
		suitesFromPrefix + current.SuitesFrom,
	}
	return hashOfLines(header, c.Body)
}

// StoreCache writes the cache atomically: a temp file in the same directory
// is renamed over the destination, so readers never see a partial cache.
func StoreCache(path string, hashes Hashes, body []string) error {
	header := []string{
		dirsPrefix + hashes.Dirs,
		cmdPrefix + hashes.Cmd,
		suitesFromPrefix + hashes.SuitesFrom,
	}
	fileHash := hashOfLines(header, body)

	var sb strings.Builder
	for _, line := range header {
		sb.WriteString(line + "\n")
	}
	sb.WriteString(filePrefix + fileHash + "\n")
	for _, line := range body {
		sb.WriteString(line + "\n")
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".pabotsuitenames-*")
	if err != nil {
		return fmt.Errorf("creating temp cache file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.WriteString(sb.String()); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("writing cache: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("closing cache: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replacing cache: %w", err)
	}
	return nil
}
