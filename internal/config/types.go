package config

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete cliprun configuration.
type Config struct {
	Service  ServiceConfig           `yaml:"service"`
	API      APIConfig               `yaml:"api,omitempty"`
	Webhooks *WebhooksConfig         `yaml:"webhooks,omitempty"`
	Patterns AliasTable              `yaml:"patterns,omitempty"`
	Programs AliasTable              `yaml:"programs,omitempty"`
	Filters  map[string]FilterConfig `yaml:"filters,omitempty"`
	Rules    []RuleConfig            `yaml:"rules"`

	// SourcePath is the absolute path the config was loaded from.
	SourcePath string `yaml:"-"`
}

// ServiceConfig defines core service settings.
type ServiceConfig struct {
	Name              string        `yaml:"name"`
	PollInterval      time.Duration `yaml:"poll_interval"`
	LogLevel          string        `yaml:"log_level"`
	LogFormat         string        `yaml:"log_format"`
	LockPath          string        `yaml:"lock_path"`
	MaxConcurrentRuns int           `yaml:"max_concurrent_runs"`
	Reload            *bool         `yaml:"reload,omitempty"`
	Autoclose         bool          `yaml:"autoclose"`
	AutocloseDelay    time.Duration `yaml:"autoclose_delay"`
}

// ReloadEnabled reports whether the config file should be watched for changes.
// Unset means enabled.
func (s ServiceConfig) ReloadEnabled() bool {
	return s.Reload == nil || *s.Reload
}

// APIConfig defines HTTP API server settings.
type APIConfig struct {
	Enabled bool          `yaml:"enabled"`
	Listen  string        `yaml:"listen"`
	Auth    APIAuthConfig `yaml:"auth"`
}

// APIAuthConfig defines API authentication settings.
type APIAuthConfig struct {
	// APIKey is a single bearer token with full access.
	// Prefer Tokens for scoped access.
	APIKey string     `yaml:"api_key"`
	Tokens []APIToken `yaml:"tokens,omitempty"`
}

// APIToken defines a bearer token and its scopes.
type APIToken struct {
	Token  string   `yaml:"token"`
	Scopes []string `yaml:"scopes"`
}

// WebhooksConfig defines signed inbound endpoints that submit text from
// other devices, such as a phone share shortcut.
type WebhooksConfig struct {
	Listen    string                  `yaml:"listen"`
	Endpoints []WebhookEndpointConfig `yaml:"endpoints"`
}

// WebhookEndpointConfig defines one signed endpoint.
type WebhookEndpointConfig struct {
	Path string `yaml:"path"`
	// Secret is the HMAC-SHA256 key, usually given as ${VAR}.
	Secret          string `yaml:"secret"`
	SignatureHeader string `yaml:"signature_header,omitempty"`
	// MaxBodySize accepts a byte count or a KB/MB suffix.
	MaxBodySize string `yaml:"max_body_size,omitempty"`
	// Rule names a rule id or label to run directly. Empty means the text is
	// matched against every rule like clipboard text.
	Rule string `yaml:"rule,omitempty"`
}

// FilterConfig is a named regex rewrite applied to matched text.
type FilterConfig struct {
	Pattern string `yaml:"pattern"`
	Replace string `yaml:"replace"`
}

// RuleConfig is one raw rule as written in the config file.
type RuleConfig struct {
	Pattern    string `yaml:"pattern"`
	Command    string `yaml:"command"`
	Label      string `yaml:"label,omitempty"`
	Filter     string `yaml:"filter,omitempty"`
	RunInShell bool   `yaml:"run_in_shell"`
	Autorun    bool   `yaml:"autorun"`
}

// Alias is one entry of an alias table.
type Alias struct {
	Key   string
	Value string
}

// AliasTable is an ordered key/value table. Declaration order matters: alias
// expansion uses the first key that prefixes the raw value.
type AliasTable []Alias

// UnmarshalYAML decodes a YAML mapping while keeping key order.
func (t *AliasTable) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: alias table must be a mapping", node.Line)
	}
	out := make(AliasTable, 0, len(node.Content)/2)
	seen := make(map[string]bool, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		k, v := node.Content[i], node.Content[i+1]
		if v.Kind != yaml.ScalarNode {
			return fmt.Errorf("line %d: alias %q must be a string", v.Line, k.Value)
		}
		if seen[k.Value] {
			return fmt.Errorf("line %d: duplicate alias %q", k.Line, k.Value)
		}
		seen[k.Value] = true
		out = append(out, Alias{Key: k.Value, Value: v.Value})
	}
	*t = out
	return nil
}

// MarshalYAML encodes the table back into an ordered mapping.
func (t AliasTable) MarshalYAML() (any, error) {
	node := &yaml.Node{Kind: yaml.MappingNode}
	for _, a := range t {
		node.Content = append(node.Content,
			&yaml.Node{Kind: yaml.ScalarNode, Value: a.Key},
			&yaml.Node{Kind: yaml.ScalarNode, Value: a.Value},
		)
	}
	return node, nil
}

// Lookup returns the value for key.
func (t AliasTable) Lookup(key string) (string, bool) {
	for _, a := range t {
		if a.Key == key {
			return a.Value, true
		}
	}
	return "", false
}

// Defaults returns a Config with sensible defaults.
func Defaults() *Config {
	return &Config{
		Service: ServiceConfig{
			Name:           "cliprun",
			PollInterval:   500 * time.Millisecond,
			LogLevel:       "info",
			LogFormat:      "json",
			LockPath:       "~/.local/state/cliprun/cliprun.lock",
			AutocloseDelay: 10 * time.Second,
		},
		API: APIConfig{
			Enabled: false,
			Listen:  "127.0.0.1:8765",
		},
		Filters: make(map[string]FilterConfig),
	}
}
