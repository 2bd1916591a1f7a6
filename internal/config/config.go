// Package config loads the bridge's own configuration: global and
// per-project JSONC files plus environment overrides.
package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/tidwall/jsonc"
)

// Config is the bridge configuration.
type Config struct {
	// ServerURL is the upstream OpenCode server base URL.
	ServerURL string `json:"server,omitempty"`
	// LogLevel overrides the default log level.
	LogLevel string `json:"logLevel,omitempty"`
	// DefaultMode is the permission mode new sessions start in.
	DefaultMode string `json:"defaultMode,omitempty"`
	// TerminalTimeoutSeconds bounds background terminal lifetime; zero
	// disables the timeout.
	TerminalTimeoutSeconds int `json:"terminalTimeoutSeconds,omitempty"`
}

// TerminalTimeout returns the configured timeout as a duration.
func (c *Config) TerminalTimeout() time.Duration {
	return time.Duration(c.TerminalTimeoutSeconds) * time.Second
}

// Load reads configuration from (priority order):
// 1. Global config (~/.config/opencode-acp/acp.json[c])
// 2. Project config (<directory>/.opencode/acp.json[c])
// 3. Environment variables
func Load(directory string) (*Config, error) {
	config := &Config{
		ServerURL:   "http://localhost:4096",
		DefaultMode: "default",
	}

	globalDir := GlobalConfigDir()
	loadConfigFile(filepath.Join(globalDir, "acp.json"), config)
	loadConfigFile(filepath.Join(globalDir, "acp.jsonc"), config)

	if directory != "" {
		projectDir := filepath.Join(directory, ".opencode")
		loadConfigFile(filepath.Join(projectDir, "acp.json"), config)
		loadConfigFile(filepath.Join(projectDir, "acp.jsonc"), config)
	}

	applyEnvOverrides(config)
	return config, nil
}

// loadConfigFile merges a single config file if it exists. JSONC comments
// and {env:VAR} placeholders are supported.
func loadConfigFile(path string, config *Config) {
	data, err := os.ReadFile(path)
	if err != nil {
		return
	}
	data = interpolate(jsonc.ToJSON(data))

	var fileConfig Config
	if err := json.Unmarshal(data, &fileConfig); err != nil {
		return
	}
	merge(config, &fileConfig)
}

var envPattern = regexp.MustCompile(`\{env:([^}]+)\}`)

// interpolate expands {env:VAR_NAME} placeholders.
func interpolate(data []byte) []byte {
	return envPattern.ReplaceAllFunc(data, func(match []byte) []byte {
		name := envPattern.FindSubmatch(match)[1]
		return []byte(os.Getenv(string(name)))
	})
}

func merge(target, source *Config) {
	if source.ServerURL != "" {
		target.ServerURL = source.ServerURL
	}
	if source.LogLevel != "" {
		target.LogLevel = source.LogLevel
	}
	if source.DefaultMode != "" {
		target.DefaultMode = source.DefaultMode
	}
	if source.TerminalTimeoutSeconds != 0 {
		target.TerminalTimeoutSeconds = source.TerminalTimeoutSeconds
	}
}

func applyEnvOverrides(config *Config) {
	if v := os.Getenv("OPENCODE_ACP_SERVER"); v != "" {
		config.ServerURL = v
	}
	if v := os.Getenv("OPENCODE_ACP_LOG_LEVEL"); v != "" {
		config.LogLevel = v
	}
	if v := os.Getenv("OPENCODE_ACP_MODE"); v != "" {
		config.DefaultMode = v
	}
}

// GlobalConfigDir returns the user-level config directory, honoring
// OPENCODE_ACP_CONFIG_DIR and XDG_CONFIG_HOME.
func GlobalConfigDir() string {
	if dir := os.Getenv("OPENCODE_ACP_CONFIG_DIR"); dir != "" {
		return dir
	}
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		base = filepath.Join(os.Getenv("HOME"), ".config")
	}
	return filepath.Join(base, "opencode-acp")
}

// CommandDirs returns the directories scanned for slash command files:
// the project's .opencode/command plus the global equivalent.
func CommandDirs(directory string) []string {
	dirs := []string{filepath.Join(GlobalConfigDir(), "command")}
	if directory != "" {
		dirs = append(dirs, filepath.Join(directory, ".opencode", "command"))
	}
	return dirs
}
