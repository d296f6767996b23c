package solver

import (
	"fmt"
	"os"
	"strings"

	"github.com/notargets/gosles/backend"
)

// readConfigFile loads an options file carrying the same key=value[, ...]
// text as the inline string. Blank lines and #-comment lines are dropped;
// the remaining lines join with commas, so options may sit one per line.
func readConfigFile(path string) (string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", &backend.ResourceError{
			Component: "solver config",
			Err:       fmt.Errorf("reading %s: %w", path, err),
		}
	}
	var fields []string
	for _, line := range strings.Split(string(raw), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields = append(fields, line)
	}
	return strings.Join(fields, ", "), nil
}
