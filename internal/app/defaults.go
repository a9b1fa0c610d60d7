package app

import (
	"fmt"
	"os"
	"path/filepath"
)

// Defaults holds the locations kc uses before a config file exists.
type Defaults struct {
	ConfigPath string
	BaseDir    string
	LogDir     string

	// LogLevel overrides the configured log level when non-empty.
	LogLevel string
}

// GetDefaults returns application defaults, checking environment variables first.
// Environment variables:
//   - KC_CONFIG_PATH: config file location (default: ~/.config/kc.toml)
//   - KC_HOME: base directory for kc data (default: ~/.local/share/kc)
//   - KC_LOG_LEVEL: log level override (default: unset)
func GetDefaults() (*Defaults, error) {
	home := ""
	lookupHome := func() (string, error) {
		if home != "" {
			return home, nil
		}
		h, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("cannot determine home directory: %w", err)
		}
		home = h
		return home, nil
	}

	d := &Defaults{
		ConfigPath: os.Getenv("KC_CONFIG_PATH"),
		BaseDir:    os.Getenv("KC_HOME"),
		LogLevel:   os.Getenv("KC_LOG_LEVEL"),
	}
	if d.ConfigPath == "" {
		h, err := lookupHome()
		if err != nil {
			return nil, err
		}
		d.ConfigPath = filepath.Join(h, ".config", "kc.toml")
	}
	if d.BaseDir == "" {
		h, err := lookupHome()
		if err != nil {
			return nil, err
		}
		d.BaseDir = filepath.Join(h, ".local", "share", "kc")
	}
	d.LogDir = filepath.Join(d.BaseDir, "log")
	return d, nil
}
