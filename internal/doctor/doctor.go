// Package doctor checks a cliprun configuration before it is run.
package doctor

import (
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/mattjoyce/cliprun/internal/auth"
	"github.com/mattjoyce/cliprun/internal/config"
	"github.com/mattjoyce/cliprun/internal/rules"
	"github.com/mattjoyce/cliprun/internal/runner"
)

// minPollInterval is the shortest poll interval not flagged as wasteful.
const minPollInterval = 100 * time.Millisecond

var envVarRe = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Result holds the outcome of a validation run.
type Result struct {
	Valid    bool    `json:"valid"`
	Rules    int     `json:"rules"`
	Errors   []Issue `json:"errors,omitempty"`
	Warnings []Issue `json:"warnings,omitempty"`
}

// Issue describes a single validation error or warning.
type Issue struct {
	Category string `json:"category"`
	Message  string `json:"message"`
	Field    string `json:"field,omitempty"`
}

// Doctor validates a loaded configuration.
type Doctor struct {
	cfg      *config.Config
	lookPath func(string) (string, error)
}

// New creates a Doctor for cfg. Programs are resolved against $PATH.
func New(cfg *config.Config) *Doctor {
	return &Doctor{cfg: cfg, lookPath: exec.LookPath}
}

// Validate runs all checks and returns a result.
func (d *Doctor) Validate() *Result {
	r := &Result{Valid: true}

	d.validateServiceConfig(r)
	built := d.validateRules(r)
	d.validateCrossReferences(r)
	d.validateCommands(r, built)
	d.validateAPIConfig(r)
	d.validateWebhooks(r, built)
	d.warnMissingEnvVars(r)

	r.Rules = len(built)
	r.Valid = len(r.Errors) == 0
	return r
}

func (d *Doctor) addError(r *Result, category, field, msg string) {
	r.Errors = append(r.Errors, Issue{Category: category, Field: field, Message: msg})
}

func (d *Doctor) addWarning(r *Result, category, field, msg string) {
	r.Warnings = append(r.Warnings, Issue{Category: category, Field: field, Message: msg})
}

func (d *Doctor) validateServiceConfig(r *Result) {
	if d.cfg.Service.PollInterval <= 0 {
		d.addError(r, "service", "service.poll_interval", "poll_interval must be positive")
	} else if d.cfg.Service.PollInterval < minPollInterval {
		d.addWarning(r, "service", "service.poll_interval",
			fmt.Sprintf("poll interval %s is very short (< %s)", d.cfg.Service.PollInterval, minPollInterval))
	}
	if d.cfg.Service.LockPath == "" {
		d.addWarning(r, "service", "service.lock_path", "no lock_path; several instances may run autorun rules twice")
	}
}

// validateRules compiles every rule and reports the ones that would be skipped.
func (d *Doctor) validateRules(r *Result) []rules.Rule {
	built, errs := rules.Build(d.cfg)
	for _, err := range errs {
		var cfgErr *rules.ConfigError
		if errors.As(err, &cfgErr) {
			d.addError(r, "rules", cfgErr.Scope+"."+cfgErr.Field, err.Error())
			continue
		}
		d.addError(r, "rules", "", err.Error())
	}
	if len(d.cfg.Rules) == 0 {
		d.addWarning(r, "rules", "rules", "no rules configured; nothing will ever run")
	}
	return built
}

// validateCrossReferences adds the advisory findings of config.ConfigValidator.
// Its error findings are already covered by validateRules.
func (d *Doctor) validateCrossReferences(r *Result) {
	for _, issue := range config.NewValidator(d.cfg).ValidateCrossReferences() {
		if issue.Severity != config.SeverityWarning {
			continue
		}
		d.addWarning(r, "references", issue.Path, issue.Message)
	}
}

// validateCommands checks that direct-run programs resolve on $PATH. Shell
// rules are left to the shell, which may resolve builtins, functions and
// pipelines that a path lookup cannot.
func (d *Doctor) validateCommands(r *Result, built []rules.Rule) {
	for _, rule := range built {
		field := fmt.Sprintf("rules[%d].command", rule.Index)
		if strings.TrimSpace(rule.Command) == "" {
			continue
		}
		if rule.RunInShell {
			continue
		}
		_, line := rule.Expand("placeholder")
		argv, err := runner.Argv(line, false)
		if err != nil {
			d.addError(r, "commands", field, fmt.Sprintf("command cannot be split into arguments: %v", err))
			continue
		}
		if _, err := d.lookPath(argv[0]); err != nil {
			d.addWarning(r, "commands", field,
				fmt.Sprintf("program %q not found (runs will fail to spawn)", argv[0]))
		}
	}
}

func (d *Doctor) validateAPIConfig(r *Result) {
	if !d.cfg.API.Enabled {
		return
	}
	if d.cfg.API.Listen == "" {
		d.addError(r, "api", "api.listen", "api.listen is required when API is enabled")
	}
	if d.cfg.API.Auth.APIKey != "" && len(d.cfg.API.Auth.Tokens) > 0 {
		d.addWarning(r, "api", "api.auth",
			"both api_key and tokens configured; api_key grants full access")
	}
	for i, token := range d.cfg.API.Auth.Tokens {
		for j, scope := range token.Scopes {
			if !auth.ValidScope(scope) {
				d.addError(r, "token_scopes", fmt.Sprintf("api.auth.tokens[%d].scopes[%d]", i, j),
					fmt.Sprintf("unknown scope %q (expected one of rules:ro, rules:rw, runs:rw, history:ro, events:ro, *)", scope))
			}
		}
	}
}

// validateWebhooks checks that endpoint rule references resolve against the
// rules that built.
func (d *Doctor) validateWebhooks(r *Result, built []rules.Rule) {
	if d.cfg.Webhooks == nil {
		return
	}
	if d.cfg.API.Enabled && d.cfg.Webhooks.Listen == d.cfg.API.Listen {
		d.addError(r, "webhooks", "webhooks.listen", "webhooks.listen must differ from api.listen")
	}
	registry := rules.NewRegistry(built)
	for i, ep := range d.cfg.Webhooks.Endpoints {
		ref := strings.TrimSpace(ep.Rule)
		if ref == "" {
			continue
		}
		var err error
		if id, convErr := strconv.Atoi(ref); convErr == nil {
			_, err = registry.Get(id)
		} else {
			_, err = registry.FindByLabel(ref)
		}
		if err != nil {
			d.addWarning(r, "webhooks", fmt.Sprintf("webhooks.endpoints[%d].rule", i),
				fmt.Sprintf("rule %q not found; requests will get 404", ref))
		}
	}
}

// warnMissingEnvVars warns about ${VAR} references left in rule commands.
func (d *Doctor) warnMissingEnvVars(r *Result) {
	for i, rule := range d.cfg.Rules {
		for _, m := range envVarRe.FindAllStringSubmatch(rule.Command, -1) {
			d.addWarning(r, "env_vars", fmt.Sprintf("rules[%d].command", i),
				fmt.Sprintf("environment variable ${%s} not set", m[1]))
		}
	}
}

// FormatHuman returns a human-readable validation report.
func FormatHuman(r *Result) string {
	var b strings.Builder

	if r.Valid && len(r.Warnings) == 0 {
		fmt.Fprintf(&b, "Configuration valid (%d rule(s)).\n", r.Rules)
		return b.String()
	}

	if r.Valid {
		fmt.Fprintf(&b, "Configuration valid (%d rule(s), %d warning(s))\n", r.Rules, len(r.Warnings))
	} else {
		fmt.Fprintf(&b, "Configuration invalid (%d error(s), %d warning(s))\n", len(r.Errors), len(r.Warnings))
	}

	for _, e := range r.Errors {
		if e.Field != "" {
			fmt.Fprintf(&b, "  ERROR [%s] %s: %s\n", e.Category, e.Field, e.Message)
		} else {
			fmt.Fprintf(&b, "  ERROR [%s] %s\n", e.Category, e.Message)
		}
	}
	for _, w := range r.Warnings {
		if w.Field != "" {
			fmt.Fprintf(&b, "  WARN  [%s] %s: %s\n", w.Category, w.Field, w.Message)
		} else {
			fmt.Fprintf(&b, "  WARN  [%s] %s\n", w.Category, w.Message)
		}
	}

	return b.String()
}

// FormatJSON returns the result as indented JSON.
func FormatJSON(r *Result) (string, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}
