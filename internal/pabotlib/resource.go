package pabotlib

import (
	"bufio"
	"fmt"
	"os"
	"strings"
)

const tagsKey = "tags"

// LoadResourceFile reads an INI-like resource file into value sets. Each
// section becomes one set named after the section header; a "tags" key is
// split on commas into the set's tag list and every other key becomes a
// value. Keys and tags are case-folded. Duplicate section names are allowed
// and produce distinct sets sharing a name.
func LoadResourceFile(path string) ([]*ValueSet, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening resource file: %w", err)
	}
	defer f.Close()
	return parseResource(f)
}

func parseResource(f *os.File) ([]*ValueSet, error) {
	var sets []*ValueSet
	var current *ValueSet
	scanner := bufio.NewScanner(f)
	lineno := 0
	for scanner.Scan() {
		lineno++
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, ";"):
			continue
		case strings.HasPrefix(line, "[") && strings.HasSuffix(line, "]"):
			name := strings.TrimSpace(line[1 : len(line)-1])
			if name == "" {
				return nil, fmt.Errorf("line %d: empty section name", lineno)
			}
			current = &ValueSet{Name: name, Values: make(map[string]string)}
			sets = append(sets, current)
		default:
			if current == nil {
				return nil, fmt.Errorf("line %d: value outside any [section]", lineno)
			}
			key, value, ok := strings.Cut(line, "=")
			if !ok {
				return nil, fmt.Errorf("line %d: expected key=value, got %q", lineno, line)
			}
			key = foldCase(strings.TrimSpace(key))
			value = strings.TrimSpace(value)
			if key == tagsKey {
				for _, tag := range strings.Split(value, ",") {
					if tag = strings.TrimSpace(tag); tag != "" {
						current.Tags = append(current.Tags, foldCase(tag))
					}
				}
				continue
			}
			current.Values[key] = value
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading resource file: %w", err)
	}
	return sets, nil
}
