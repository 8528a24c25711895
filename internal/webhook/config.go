package webhook

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/mattjoyce/cliprun/internal/config"
)

// FromGlobalConfig converts the config file section into a server Config.
func FromGlobalConfig(wc *config.WebhooksConfig) (Config, error) {
	if wc == nil {
		return Config{}, fmt.Errorf("webhooks config is nil")
	}

	cfg := Config{
		Listen:    wc.Listen,
		Endpoints: make([]EndpointConfig, len(wc.Endpoints)),
	}

	for i, ep := range wc.Endpoints {
		if ep.Secret == "" {
			return Config{}, fmt.Errorf("webhook endpoint %q: no secret configured", ep.Path)
		}

		maxBodySize, err := parseMaxBodySize(ep.MaxBodySize)
		if err != nil {
			return Config{}, fmt.Errorf("webhook endpoint %q: invalid max_body_size %q: %w", ep.Path, ep.MaxBodySize, err)
		}

		header := ep.SignatureHeader
		if header == "" {
			header = DefaultSignatureHeader
		}

		cfg.Endpoints[i] = EndpointConfig{
			Path:            ep.Path,
			Secret:          ep.Secret,
			SignatureHeader: header,
			MaxBodySize:     maxBodySize,
			Rule:            strings.TrimSpace(ep.Rule),
		}
	}

	return cfg, nil
}

// parseMaxBodySize parses "64KB", "1MB" or a plain byte count.
// Empty returns DefaultMaxBodySize.
func parseMaxBodySize(size string) (int64, error) {
	if size == "" {
		return DefaultMaxBodySize, nil
	}

	upper := strings.ToUpper(strings.TrimSpace(size))
	multiplier := int64(1)

	switch {
	case strings.HasSuffix(upper, "KB"):
		multiplier = 1024
		upper = strings.TrimSuffix(upper, "KB")
	case strings.HasSuffix(upper, "MB"):
		multiplier = 1024 * 1024
		upper = strings.TrimSuffix(upper, "MB")
	}

	value, err := strconv.ParseInt(strings.TrimSpace(upper), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid size value: %w", err)
	}
	if value <= 0 {
		return 0, fmt.Errorf("size must be positive")
	}
	// A share endpoint carries a link, not a file.
	if value > (16<<20)/multiplier {
		return 0, fmt.Errorf("size larger than 16MB")
	}
	return value * multiplier, nil
}
