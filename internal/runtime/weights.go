package runtime

import (
	"fmt"
	"io/fs"
	"path"
	"path/filepath"
	"sort"
	"strings"
)

// FindWeights locates the GGUF weights file inside a model snapshot
// directory. pattern optionally narrows the search with a shell glob,
// matched case-insensitively against file names. Exactly one file must
// remain; repos shipping several quantizations need the pattern to pick
// one.
func FindWeights(dir, pattern string) (string, error) {
	var matches []string
	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		name := strings.ToLower(d.Name())
		if !strings.HasSuffix(name, ".gguf") {
			return nil
		}
		if pattern != "" {
			if ok, _ := path.Match(strings.ToLower(pattern), name); !ok {
				return nil
			}
		}
		matches = append(matches, p)
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("scan %s: %w", dir, err)
	}

	sort.Strings(matches)
	switch len(matches) {
	case 0:
		if pattern != "" {
			return "", fmt.Errorf("no GGUF weights matching %q under %s", pattern, dir)
		}
		return "", fmt.Errorf("no GGUF weights under %s", dir)
	case 1:
		return matches[0], nil
	}

	names := make([]string, len(matches))
	for i, m := range matches {
		names[i] = filepath.Base(m)
	}
	return "", fmt.Errorf("multiple GGUF weights under %s (%s), narrow the choice with MODEL_FILE",
		dir, strings.Join(names, ", "))
}
