package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Load reads and parses configuration from a file.
// A directory path is accepted and resolved to <dir>/config.yaml.
func Load(configPath string) (*Config, error) {
	absPath, err := resolvePath(configPath)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", absPath, err)
	}
	cfg.SourcePath = absPath
	return cfg, nil
}

// Parse decodes raw YAML, applies defaults and validates the result.
// Rule patterns and filter references are not checked here; they are
// rule-scoped and reported when rules are built.
func Parse(data []byte) (*Config, error) {
	// Apply environment variable interpolation
	interpolated := interpolateEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(interpolated), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	applyConfigDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// resolvePath makes configPath absolute and follows a directory to its config.yaml.
func resolvePath(configPath string) (string, error) {
	absPath, err := filepath.Abs(ExpandHome(configPath))
	if err != nil {
		return "", fmt.Errorf("failed to resolve config path %q: %w", configPath, err)
	}

	info, err := os.Stat(absPath)
	if err != nil {
		return "", fmt.Errorf("config file not found: %s\n"+
			"Hint: Check the path or run with --config flag", absPath)
	}

	if info.IsDir() {
		absPath = filepath.Join(absPath, "config.yaml")
		if _, err := os.Stat(absPath); err != nil {
			return "", fmt.Errorf("directory provided but config.yaml not found: %s", absPath)
		}
	}
	return absPath, nil
}

func applyConfigDefaults(cfg *Config) {
	defaults := Defaults()

	if cfg.Service.Name == "" {
		cfg.Service.Name = defaults.Service.Name
	}
	if cfg.Service.PollInterval == 0 {
		cfg.Service.PollInterval = defaults.Service.PollInterval
	}
	if cfg.Service.LogLevel == "" {
		cfg.Service.LogLevel = defaults.Service.LogLevel
	}
	if cfg.Service.LogFormat == "" {
		cfg.Service.LogFormat = defaults.Service.LogFormat
	}
	if cfg.Service.LockPath == "" {
		cfg.Service.LockPath = defaults.Service.LockPath
	}
	if cfg.Service.AutocloseDelay == 0 {
		cfg.Service.AutocloseDelay = defaults.Service.AutocloseDelay
	}

	if !cfg.API.Enabled && cfg.API.Listen == "" {
		cfg.API = defaults.API
	}
	if cfg.API.Listen == "" {
		cfg.API.Listen = defaults.API.Listen
	}

	if cfg.Filters == nil {
		cfg.Filters = make(map[string]FilterConfig)
	}
}

func interpolateEnv(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		// Extract variable name from ${VAR}
		varName := envVarPattern.FindStringSubmatch(match)[1]

		if value, exists := os.LookupEnv(varName); exists {
			return value
		}

		// If not found, leave the placeholder (will fail validation if required)
		return match
	})
}

func validate(cfg *Config) error {
	if cfg.Service.PollInterval <= 0 {
		return fmt.Errorf("service.poll_interval must be positive")
	}
	if cfg.Service.MaxConcurrentRuns < 0 {
		return fmt.Errorf("service.max_concurrent_runs must not be negative")
	}
	if cfg.Service.AutocloseDelay < 0 {
		return fmt.Errorf("service.autoclose_delay must not be negative")
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[strings.ToLower(cfg.Service.LogLevel)] {
		return fmt.Errorf("service.log_level must be one of: debug, info, warn, error (got %q)", cfg.Service.LogLevel)
	}
	switch strings.ToLower(cfg.Service.LogFormat) {
	case "json", "text":
	default:
		return fmt.Errorf("service.log_format must be json or text (got %q)", cfg.Service.LogFormat)
	}

	if cfg.API.Enabled {
		if err := unresolved("api.auth.api_key", cfg.API.Auth.APIKey); err != nil {
			return err
		}
		if cfg.API.Auth.APIKey == "" && len(cfg.API.Auth.Tokens) == 0 {
			return fmt.Errorf("api.auth: api_key or tokens required when the API is enabled")
		}
		for i, tok := range cfg.API.Auth.Tokens {
			field := fmt.Sprintf("api.auth.tokens[%d].token", i)
			if tok.Token == "" {
				return fmt.Errorf("%s is required", field)
			}
			if err := unresolved(field, tok.Token); err != nil {
				return err
			}
			if len(tok.Scopes) == 0 {
				return fmt.Errorf("api.auth.tokens[%d].scopes must be non-empty", i)
			}
		}
	}

	if cfg.Webhooks != nil {
		if err := validateWebhooks(cfg.Webhooks); err != nil {
			return err
		}
	}

	for name, f := range cfg.Filters {
		if strings.TrimSpace(name) == "" {
			return fmt.Errorf("filters: empty filter name")
		}
		if f.Pattern == "" {
			return fmt.Errorf("filters.%s.pattern is required", name)
		}
	}

	return nil
}

func validateWebhooks(wc *WebhooksConfig) error {
	if len(wc.Endpoints) > 0 && wc.Listen == "" {
		return fmt.Errorf("webhooks.listen is required when endpoints are configured")
	}
	seen := make(map[string]bool, len(wc.Endpoints))
	for i, ep := range wc.Endpoints {
		field := fmt.Sprintf("webhooks.endpoints[%d]", i)
		if !strings.HasPrefix(ep.Path, "/") {
			return fmt.Errorf("%s.path must start with / (got %q)", field, ep.Path)
		}
		if seen[ep.Path] {
			return fmt.Errorf("%s.path %q is duplicated", field, ep.Path)
		}
		seen[ep.Path] = true
		if ep.Secret == "" {
			return fmt.Errorf("%s.secret is required", field)
		}
		if err := unresolved(field+".secret", ep.Secret); err != nil {
			return err
		}
	}
	return nil
}

// unresolved reports a ${VAR} placeholder left behind by interpolateEnv.
func unresolved(field, value string) error {
	if !envVarPattern.MatchString(value) {
		return nil
	}
	matches := envVarPattern.FindStringSubmatch(value)
	if len(matches) > 1 {
		return fmt.Errorf("%s: environment variable ${%s} is not set", field, matches[1])
	}
	return fmt.Errorf("%s: unresolved environment variable", field)
}

// ExpandHome replaces a leading ~ with the user's home directory.
func ExpandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}
