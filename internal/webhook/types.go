package webhook

import (
	"context"

	"github.com/mattjoyce/cliprun/internal/dispatch"
	"github.com/mattjoyce/cliprun/internal/rules"
	"github.com/mattjoyce/cliprun/internal/runner"
)

// Submitter receives authenticated text. *dispatch.Coordinator implements it.
type Submitter interface {
	OnCandidateText(text string)
	Trigger(ctx context.Context, ruleID int, text string, ov runner.Overrides) (*dispatch.Ticket, error)
}

// RuleLookup resolves an endpoint's rule reference at request time, so a
// reload that renumbers rules is picked up.
type RuleLookup interface {
	Get(id int) (rules.Rule, error)
	FindByLabel(label string) (rules.Rule, error)
}

// Config holds webhook server configuration.
type Config struct {
	Listen    string
	Endpoints []EndpointConfig
}

// EndpointConfig defines a single signed endpoint.
type EndpointConfig struct {
	Path   string
	Secret string
	// SignatureHeader carries "sha256=<hex>" or plain hex.
	SignatureHeader string
	MaxBodySize     int64
	// Rule is a rule id or label; empty submits the text as a candidate.
	Rule string
}

// AcceptedResponse is the JSON body of a 202.
type AcceptedResponse struct {
	Status string `json:"status"`
	RuleID *int   `json:"rule_id,omitempty"`
	Label  string `json:"label,omitempty"`
}

// ErrorResponse is the JSON response for webhook errors.
type ErrorResponse struct {
	Error string `json:"error"`
}

// Default values
const (
	DefaultMaxBodySize     = 64 * 1024
	DefaultSignatureHeader = "X-Signature-256"
)
