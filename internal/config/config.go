// Package config loads the user-editable YAML configuration and applies
// environment overrides. The file is optional; defaults keep the plugin
// usable with no configuration at all.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ServerConfig configures the preview HTTP/WebSocket server.
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// SyncConfig tunes the scroll synchronization timings. All values are
// milliseconds in the file; zero means "use the default".
type SyncConfig struct {
	CursorDebounceMs   int `yaml:"cursor_debounce_ms"`
	ScrollDebounceMs   int `yaml:"scroll_debounce_ms"`
	PreviewDebounceMs  int `yaml:"preview_debounce_ms"`
	SuppressionMs      int `yaml:"suppression_ms"`
	CompileDebounceMs  int `yaml:"compile_debounce_ms"`
	CompileMaxDelayMs  int `yaml:"compile_max_delay_ms"`
	LoadingThresholdMs int `yaml:"loading_threshold_ms"`
}

// LoggingConfig mirrors log.Options.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Source bool   `yaml:"source"`
	File   string `yaml:"file"`
}

// Config is the full user configuration.
type Config struct {
	ConfigVersion int           `yaml:"config_version"`
	Server        ServerConfig  `yaml:"server"`
	Sync          SyncConfig    `yaml:"sync"`
	Logging       LoggingConfig `yaml:"logging"`
}

// Defaults returns the application defaults.
func Defaults() Config {
	return Config{
		ConfigVersion: 1,
		Server:        ServerConfig{Addr: "127.0.0.1:8090"},
		Sync: SyncConfig{
			CursorDebounceMs:   300,
			ScrollDebounceMs:   10,
			PreviewDebounceMs:  200,
			SuppressionMs:      1000,
			CompileDebounceMs:  150,
			CompileMaxDelayMs:  1000,
			LoadingThresholdMs: 1000,
		},
		Logging: LoggingConfig{Level: "info", Format: "console"},
	}
}

// Env var names used as overrides.
const (
	EnvServerAddr = "TSP_SERVER_ADDR"
	EnvLogLevel   = "TSP_LOG_LEVEL"
	EnvLogFormat  = "TSP_LOG_FORMAT"
	EnvLogSource  = "TSP_LOG_SOURCE"
	EnvLogFile    = "TSP_LOG_FILE"
)

// Path returns the per-user config file path.
func Path() (string, error) {
	var base string
	switch runtime.GOOS {
	case "windows":
		base = os.Getenv("AppData")
		if base == "" {
			base = filepath.Join(os.Getenv("USERPROFILE"), "AppData", "Roaming")
		}
		base = filepath.Join(base, "go-typeset-preview")
	case "darwin":
		base = filepath.Join(os.Getenv("HOME"), "Library", "Application Support", "go-typeset-preview")
	default:
		base = filepath.Join(os.Getenv("HOME"), ".config", "go-typeset-preview")
	}
	if base == "" {
		return "", errors.New("cannot resolve config directory")
	}
	return filepath.Join(base, "config.yaml"), nil
}

// Load reads the config file if present, applies defaults for missing fields
// and merges environment overrides on top.
func Load() (Config, error) {
	cfg := Defaults()
	path, err := Path()
	if err != nil {
		return cfg, err
	}
	if data, err := os.ReadFile(path); err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Defaults(), fmt.Errorf("parse %s: %w", path, err)
		}
	}
	applyEnvOverrides(&cfg)
	cfg.normalize()
	return cfg, nil
}

// Parse decodes a YAML document over the defaults and applies env overrides.
func Parse(data []byte) (Config, error) {
	cfg := Defaults()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Defaults(), fmt.Errorf("parse config: %w", err)
	}
	applyEnvOverrides(&cfg)
	cfg.normalize()
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := strings.TrimSpace(os.Getenv(EnvServerAddr)); v != "" {
		cfg.Server.Addr = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvLogLevel)); v != "" {
		cfg.Logging.Level = strings.ToLower(v)
	}
	if v := strings.TrimSpace(os.Getenv(EnvLogFormat)); v != "" {
		cfg.Logging.Format = strings.ToLower(v)
	}
	if v := strings.TrimSpace(os.Getenv(EnvLogSource)); v != "" {
		cfg.Logging.Source = parseBool(v)
	}
	if v := strings.TrimSpace(os.Getenv(EnvLogFile)); v != "" {
		cfg.Logging.File = v
	}
}

func (c *Config) normalize() {
	def := Defaults()
	if strings.TrimSpace(c.Server.Addr) == "" {
		c.Server.Addr = def.Server.Addr
	}
	fill := func(v *int, d int) {
		if *v <= 0 {
			*v = d
		}
	}
	fill(&c.Sync.CursorDebounceMs, def.Sync.CursorDebounceMs)
	fill(&c.Sync.ScrollDebounceMs, def.Sync.ScrollDebounceMs)
	fill(&c.Sync.PreviewDebounceMs, def.Sync.PreviewDebounceMs)
	fill(&c.Sync.SuppressionMs, def.Sync.SuppressionMs)
	fill(&c.Sync.CompileDebounceMs, def.Sync.CompileDebounceMs)
	fill(&c.Sync.CompileMaxDelayMs, def.Sync.CompileMaxDelayMs)
	fill(&c.Sync.LoadingThresholdMs, def.Sync.LoadingThresholdMs)
	if strings.TrimSpace(c.Logging.Level) == "" {
		c.Logging.Level = def.Logging.Level
	}
	if strings.TrimSpace(c.Logging.Format) == "" {
		c.Logging.Format = def.Logging.Format
	}
}

func parseBool(v string) bool {
	lv := strings.ToLower(v)
	if b, err := strconv.ParseBool(lv); err == nil {
		return b
	}
	return lv == "on" || lv == "yes"
}

// Duration converts a millisecond field to a time.Duration.
func Duration(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}
