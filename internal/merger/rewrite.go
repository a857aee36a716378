package merger

import (
	"fmt"
	"regexp"
	"strings"
)

// rewriteTree rewrites artifact href/src references in every text segment
// of the tree. Worker messages embed HTML pointing at files that were
// relative to the worker's own output directory; after artifact collection
// those files live in the consolidated output directory under the mapped
// name.
func rewriteTree(n *node, mapping map[string]string) {
	if len(mapping) == 0 {
		return
	}
	patterns := artifactPatterns(mapping)
	var walk func(*node)
	walk = func(n *node) {
		for i, text := range n.Text {
			if text != "" {
				n.Text[i] = rewriteRefs(text, patterns)
			}
		}
		for _, c := range n.Children {
			walk(c)
		}
	}
	walk(n)
}

type artifactPattern struct {
	re    *regexp.Regexp
	final string
}

// artifactPatterns compiles one matcher per collected artifact, accepting
// any directory prefix in front of the original base name.
func artifactPatterns(mapping map[string]string) []artifactPattern {
	var patterns []artifactPattern
	for base, final := range mapping {
		re := regexp.MustCompile(fmt.Sprintf(`(src|href)="([^"]*[\\/])?(%s)"`, regexp.QuoteMeta(base)))
		patterns = append(patterns, artifactPattern{re: re, final: final})
	}
	return patterns
}

// rewriteRefs applies every artifact pattern to one text blob.
func rewriteRefs(text string, patterns []artifactPattern) string {
	if !strings.Contains(text, "src=") && !strings.Contains(text, "href=") {
		return text
	}
	for _, p := range patterns {
		text = p.re.ReplaceAllString(text, `$1="`+p.final+`"`)
	}
	return text
}
