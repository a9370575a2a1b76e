package config

import (
	"os"
	"strings"

	"github.com/dgellow/mcp-workers/internal/envutil"
	"github.com/dgellow/mcp-workers/internal/urlutil"
)

// Environment variables consulted for the base URL, in priority order after the config file.
const (
	EnvAppURL                = "APP_URL"
	EnvPlatformProductionURL = "PLATFORM_PRODUCTION_URL"
	EnvPlatformPreviewURL    = "PLATFORM_PREVIEW_URL"

	DefaultBaseURL = "http://localhost:8787"
)

// ResolveBaseURL picks the server's public base URL: the configured baseURL,
// then APP_URL, then the platform production URL, then the preview URL, then
// the local development default. Hosts given without a scheme get https://.
func ResolveBaseURL(cfg *Config, lookup func(string) string) string {
	if lookup == nil {
		lookup = os.Getenv
	}

	raw := ""
	if cfg != nil {
		raw = strings.TrimSpace(cfg.BaseURL)
	}
	if raw == "" {
		_, raw = envutil.FirstSet(lookup, EnvAppURL, EnvPlatformProductionURL, EnvPlatformPreviewURL)
	}
	if raw == "" {
		return DefaultBaseURL
	}
	return normalizeBaseURL(raw)
}

func normalizeBaseURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	return urlutil.TrimTrailingSlash(raw)
}
