package analysis

import (
	"os"

	"github.com/bmatcuk/doublestar/v4"
)

// ignoredEntries are the top-level globs that do not count toward a target
// directory having pre-existing project content: orchestrator state, VCS
// metadata, and loose documentation/spec files are exactly what an
// otherwise-empty target is expected to carry.
var ignoredEntries = []string{
	".git", ".sq", "*.md", "spec.md", "SPEC.md", "LICENSE", ".gitignore",
}

// IsEmptyProject reports whether dir contains nothing but the entries a
// freshly initialized target is expected to have. A directory that fails
// to read is conservatively treated as non-empty, so analysis always falls
// back to a real agent call rather than silently skipping it.
func IsEmptyProject(dir string) bool {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return false
	}
	for _, e := range entries {
		name := e.Name()
		matched := false
		for _, pattern := range ignoredEntries {
			if ok, _ := doublestar.Match(pattern, name); ok {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}
	return true
}
