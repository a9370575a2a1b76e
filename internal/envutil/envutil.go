package envutil

import (
	"os"
	"strings"
)

// IsDev checks if we're running in development mode
// where security requirements can be relaxed for testing
func IsDev() bool {
	env := strings.ToLower(os.Getenv("MCP_WORKERS_ENV"))
	return env == "development" || env == "dev"
}

// FirstSet returns the value of the first variable in names that is set and non-blank.
func FirstSet(lookup func(string) string, names ...string) (string, string) {
	if lookup == nil {
		lookup = os.Getenv
	}
	for _, name := range names {
		if v := strings.TrimSpace(lookup(name)); v != "" {
			return name, v
		}
	}
	return "", ""
}
