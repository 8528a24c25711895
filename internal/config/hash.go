package config

import (
	"encoding/hex"
	"fmt"
	"os"

	"github.com/zeebo/blake3"
)

// ComputeBlake3Hash computes the BLAKE3 hash of a file.
func ComputeBlake3Hash(filePath string) (string, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return "", fmt.Errorf("failed to read file: %w", err)
	}
	return HashBytes(data), nil
}

// HashBytes returns the hex BLAKE3 digest of data.
func HashBytes(data []byte) string {
	hash := blake3.Sum256(data)
	return hex.EncodeToString(hash[:])
}

// Fingerprint identifies the loaded content of a config file. The reloader
// compares fingerprints to skip editor saves that leave the bytes unchanged.
func Fingerprint(cfg *Config) (string, error) {
	if cfg == nil || cfg.SourcePath == "" {
		return "", fmt.Errorf("config has no source path")
	}
	return ComputeBlake3Hash(cfg.SourcePath)
}
