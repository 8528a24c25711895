package config

import (
	"fmt"
	"os"
	"path/filepath"
)

// EnvConfigPath names the environment variable that overrides discovery.
const EnvConfigPath = "CLIPRUN_CONFIG"

// CandidatePaths lists the locations Discover checks, in priority order:
// $CLIPRUN_CONFIG, ./config.yaml, ~/.config/cliprun/config.yaml, /etc/cliprun/config.yaml.
func CandidatePaths() []string {
	var paths []string
	if p := os.Getenv(EnvConfigPath); p != "" {
		paths = append(paths, ExpandHome(p))
	}
	if wd, err := os.Getwd(); err == nil {
		paths = append(paths, filepath.Join(wd, "config.yaml"))
	}
	if dir, err := os.UserConfigDir(); err == nil {
		paths = append(paths, filepath.Join(dir, "cliprun", "config.yaml"))
	}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "cliprun", "config.yaml"))
	}
	paths = append(paths, "/etc/cliprun/config.yaml")
	return dedupe(paths)
}

// Discover returns the first existing config file from CandidatePaths.
func Discover() (string, error) {
	candidates := CandidatePaths()
	for _, p := range candidates {
		if fileExists(p) {
			return p, nil
		}
	}
	return "", fmt.Errorf("no config found (checked: %v)", candidates)
}

func dedupe(paths []string) []string {
	seen := make(map[string]bool, len(paths))
	out := paths[:0]
	for _, p := range paths {
		if seen[p] {
			continue
		}
		seen[p] = true
		out = append(out, p)
	}
	return out
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
