package config

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"
)

var bashStyleRegex = regexp.MustCompile(`\$\{?([A-Z_][A-Z0-9_]*)\}?`)

// ValidationResult holds validation errors and warnings
type ValidationResult struct {
	Errors   []ValidationError
	Warnings []ValidationError
}

// ValidationError represents a validation issue
type ValidationError struct {
	Path    string
	Message string
}

// IsValid returns true if there are no errors
func (v *ValidationResult) IsValid() bool {
	return len(v.Errors) == 0
}

func (v *ValidationResult) addError(path, format string, args ...any) {
	v.Errors = append(v.Errors, ValidationError{Path: path, Message: fmt.Sprintf(format, args...)})
}

// ValidateFile validates a config file structure without requiring env vars
func ValidateFile(path string) (*ValidationResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return ValidateBytes(data), nil
}

// ValidateBytes is ValidateFile for in-memory config.
func ValidateBytes(data []byte) *ValidationResult {
	result := &ValidationResult{}

	var rawConfig map[string]any
	if err := json.Unmarshal(data, &rawConfig); err != nil {
		result.addError("", "invalid JSON: %v", err)
		return result
	}

	checkBashStyleSyntax(rawConfig, "", result)

	version, ok := rawConfig["version"].(string)
	if !ok {
		result.addError("version", "version field is required. Hint: Add \"version\": %q", SupportedVersionPrefix)
	} else if !strings.HasPrefix(version, SupportedVersionPrefix) {
		result.addError("version", "unsupported version '%s' - use '%s'", version, SupportedVersionPrefix)
	}

	for _, name := range sensitiveFields {
		if value, exists := rawConfig[name]; exists {
			if err := validateEnvVarReference(value, name, name); err != nil {
				result.Errors = append(result.Errors, *err)
			}
		}
	}

	validateStorageStructure(rawConfig, result)
	validateRateLimitStructure(rawConfig, result)
	validateDeploymentsStructure(rawConfig, result)

	if v, exists := rawConfig["cleanupInterval"]; exists {
		s, ok := v.(string)
		if !ok {
			result.addError("cleanupInterval", "cleanupInterval must be a duration string like \"5m\"")
		} else if _, err := time.ParseDuration(s); err != nil {
			result.addError("cleanupInterval", "invalid duration %q: %v", s, err)
		}
	}

	if _, exists := rawConfig["authorizationPassword"]; !exists {
		result.Warnings = append(result.Warnings, ValidationError{
			Path:    "authorizationPassword",
			Message: "no authorization password configured - consent approval will not ask for one",
		})
	}

	return result
}

func validateStorageStructure(rawConfig map[string]any, result *ValidationResult) {
	storage, _ := rawConfig["storage"].(string)
	if storage == "" {
		storage = string(StorageMemory)
	}

	switch StorageKind(storage) {
	case StorageMemory:
	case StorageFirestore:
		fs, ok := rawConfig["firestore"].(map[string]any)
		if !ok {
			result.addError("firestore", "firestore section is required when storage is firestore")
			break
		}
		if project, _ := fs["project"].(string); project == "" {
			result.addError("firestore.project", "project is required")
		}
	case StoragePostgres:
		pg, ok := rawConfig["postgres"].(map[string]any)
		if !ok {
			result.addError("postgres", "postgres section is required when storage is postgres")
			break
		}
		dsn, exists := pg["dsn"]
		if !exists {
			result.addError("postgres.dsn", "dsn is required")
		} else if err := validateEnvVarReference(dsn, "dsn", "postgres.dsn"); err != nil {
			result.Errors = append(result.Errors, *err)
		}
	default:
		result.addError("storage", "storage must be one of memory, firestore, postgres (got %q)", storage)
		return
	}

	if StorageKind(storage) != StorageMemory {
		if _, exists := rawConfig["encryptionKey"]; !exists {
			result.addError("encryptionKey", "encryptionKey is required when using %s storage", storage)
		}
	}
}

func validateRateLimitStructure(rawConfig map[string]any, result *ValidationResult) {
	rl, ok := rawConfig["rateLimit"].(map[string]any)
	if !ok {
		return
	}
	if rps, ok := rl["rps"].(float64); ok && rps < 0 {
		result.addError("rateLimit.rps", "rps cannot be negative")
	}
	if burst, ok := rl["burst"].(float64); ok && burst < 1 {
		result.addError("rateLimit.burst", "burst must be at least 1")
	}
}

func validateDeploymentsStructure(rawConfig map[string]any, result *ValidationResult) {
	v, exists := rawConfig["deployments"]
	if !exists {
		return
	}
	deployments, ok := v.([]any)
	if !ok {
		result.addError("deployments", "deployments must be a list of {\"slug\", \"url\"} objects")
		return
	}
	for i, d := range deployments {
		path := fmt.Sprintf("deployments[%d]", i)
		entry, ok := d.(map[string]any)
		if !ok {
			result.addError(path, "deployment must be an object")
			continue
		}
		if slug, _ := entry["slug"].(string); slug == "" {
			result.addError(path+".slug", "slug is required")
		}
		if u, _ := entry["url"].(string); u == "" {
			result.addError(path+".url", "url is required")
		}
		if secret, exists := entry["secret"]; exists {
			if err := validateEnvVarReference(secret, "secret", path+".secret"); err != nil {
				result.Errors = append(result.Errors, *err)
			}
		} else {
			result.Warnings = append(result.Warnings, ValidationError{
				Path:    path + ".secret",
				Message: "no secret configured - a signing secret is generated at startup and the deployed worker cannot know it",
			})
		}
	}
}

// validateEnvVarReference validates that a field uses proper env var reference format
func validateEnvVarReference(value any, fieldName, path string) *ValidationError {
	switch v := value.(type) {
	case string:
		if matches := bashStyleRegex.FindStringSubmatch(v); len(matches) > 1 {
			return &ValidationError{
				Path:    path,
				Message: fmt.Sprintf("found bash-style syntax '%s' - use {\"$env\": \"%s\"} instead", v, matches[1]),
			}
		}
		return &ValidationError{
			Path:    path,
			Message: fmt.Sprintf("%s must use environment variable reference {\"$env\": \"YOUR_ENV_VAR\"} instead of plain text. Hint: This prevents secrets from being stored in config files", fieldName),
		}
	case map[string]any:
		if _, hasEnv := v["$env"]; !hasEnv {
			return &ValidationError{
				Path:    path,
				Message: fmt.Sprintf("%s must use {\"$env\": \"YOUR_ENV_VAR\"} format", fieldName),
			}
		}
		return nil
	default:
		return &ValidationError{
			Path:    path,
			Message: fmt.Sprintf("%s must be an environment variable reference {\"$env\": \"YOUR_ENV_VAR\"}, not %T", fieldName, value),
		}
	}
}

// checkBashStyleSyntax recursively checks for bash-style env var syntax
func checkBashStyleSyntax(value any, path string, result *ValidationResult) {
	switch v := value.(type) {
	case string:
		for _, match := range bashStyleRegex.FindAllString(v, -1) {
			varName := strings.Trim(match, "${}")
			result.Warnings = append(result.Warnings, ValidationError{
				Path:    path,
				Message: fmt.Sprintf("found bash-style syntax '%s' - use {\"$env\": \"%s\"} instead", match, varName),
			})
		}
	case map[string]any:
		if _, hasEnv := v["$env"]; hasEnv {
			return
		}
		for key, val := range v {
			newPath := key
			if path != "" {
				newPath = path + "." + key
			}
			checkBashStyleSyntax(val, newPath, result)
		}
	case []any:
		for i, item := range v {
			checkBashStyleSyntax(item, fmt.Sprintf("%s[%d]", path, i), result)
		}
	}
}
