package config

import (
	"os"
	"path/filepath"
)

const (
	defaultConfigDirName = "ax"
	defaultConfigFile    = "config.yaml"
	defaultTokenFile     = "tokens.json"
)

func DefaultConfigPath() string {
	if env := os.Getenv("AX_CONFIG"); env != "" {
		return env
	}
	base, err := os.UserConfigDir()
	if err == nil {
		return filepath.Join(base, defaultConfigDirName, defaultConfigFile)
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".ax", defaultConfigFile)
}

func DefaultTokenPath() string {
	if env := os.Getenv("AX_TOKEN_FILE"); env != "" {
		return env
	}
	base, err := os.UserConfigDir()
	if err == nil {
		return filepath.Join(base, defaultConfigDirName, defaultTokenFile)
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".ax", defaultTokenFile)
}
