// Package config loads voxlane configuration from a TOML file with
// environment-variable overrides, and constructs the shared logger.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

const (
	defaultListenAddr        = ":8080"
	defaultDataRoot          = "/var/lib/voxlane"
	defaultHistoryDBPath     = "voxlane.db"
	defaultPollIntervalMS    = 100
	defaultAwaitTimeoutS     = 600
	defaultMaxTextChars      = 1000
	defaultMaxRefBytes       = 10 << 20 // 10 MB
	defaultRetentionS        = 3600
	defaultTombstoneGraceS   = 3600
	defaultReapAfterS        = 1800
	defaultSynthesisTimeoutS = 600

	envConfigPath = "VOXLANE_CONFIG"
	envListenAddr = "VOXLANE_LISTEN_ADDR"
	envDataRoot   = "VOXLANE_DATA_ROOT"
	envLogLevel   = "VOXLANE_LOG_LEVEL"
)

// Reap policy constants for orphaned in-progress jobs.
const (
	ReapFail    = "fail"
	ReapRequeue = "requeue"
)

// ErrUnknownEngine is returned when an engine name is not configured.
var ErrUnknownEngine = errors.New("engine is not configured")

// errBadReapPolicy is wrapped into validation errors for unrecognized policies.
var errBadReapPolicy = errors.New(`reap_policy must be "fail" or "requeue"`)

// EngineConfig describes one enabled TTS engine and how its worker invokes it.
type EngineConfig struct {
	Name         string   `toml:"name"`
	Command      []string `toml:"command"`
	Languages    []string `toml:"languages"`
	DefaultVoice string   `toml:"default_voice"`
}

// Config holds the full application configuration shared by the gateway and
// worker binaries.
type Config struct {
	ListenAddr    string `toml:"listen_addr"`
	DataRoot      string `toml:"data_root"`
	LogLevel      string `toml:"log_level"`
	HistoryDBPath string `toml:"history_db_path"`

	Engines []EngineConfig `toml:"engines"`

	PollIntervalMS    int    `toml:"poll_interval_ms"`
	AwaitTimeoutS     int    `toml:"await_timeout_seconds"`
	SynthesisTimeoutS int    `toml:"synthesis_timeout_seconds"`
	MaxTextChars      int    `toml:"max_text_chars"`
	MaxRefBytes       int64  `toml:"max_ref_bytes"`
	RetentionS        int    `toml:"retention_seconds"`
	TombstoneGraceS   int    `toml:"tombstone_grace_seconds"`
	ReapAfterS        int    `toml:"reap_after_seconds"`
	ReapPolicy        string `toml:"reap_policy"`
}

// Default returns a Config populated with defaults and no engines.
func Default() Config {
	return Config{
		ListenAddr:        defaultListenAddr,
		DataRoot:          defaultDataRoot,
		LogLevel:          "info",
		HistoryDBPath:     defaultHistoryDBPath,
		PollIntervalMS:    defaultPollIntervalMS,
		AwaitTimeoutS:     defaultAwaitTimeoutS,
		SynthesisTimeoutS: defaultSynthesisTimeoutS,
		MaxTextChars:      defaultMaxTextChars,
		MaxRefBytes:       defaultMaxRefBytes,
		RetentionS:        defaultRetentionS,
		TombstoneGraceS:   defaultTombstoneGraceS,
		ReapAfterS:        defaultReapAfterS,
		ReapPolicy:        ReapFail,
	}
}

// Load reads configuration from the file named by VOXLANE_CONFIG (or the
// given path if non-empty), then applies environment overrides. A missing
// path yields the defaults, so the binaries can run entirely from env vars.
func Load(path string) (Config, error) {
	cfg := Default()

	if path == "" {
		path = os.Getenv(envConfigPath)
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file: %w", err)
		}
	}

	if v := os.Getenv(envListenAddr); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv(envDataRoot); v != "" {
		cfg.DataRoot = v
	}
	if v := os.Getenv(envLogLevel); v != "" {
		cfg.LogLevel = v
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	switch c.ReapPolicy {
	case ReapFail, ReapRequeue:
	default:
		return fmt.Errorf("%w: got %q", errBadReapPolicy, c.ReapPolicy)
	}
	seen := make(map[string]bool, len(c.Engines))
	for _, e := range c.Engines {
		if e.Name == "" {
			return errors.New("engine entry is missing a name")
		}
		if seen[e.Name] {
			return fmt.Errorf("engine %q is configured twice", e.Name)
		}
		seen[e.Name] = true
	}
	return nil
}

// Engine returns the configuration for the named engine.
func (c Config) Engine(name string) (EngineConfig, error) {
	for _, e := range c.Engines {
		if e.Name == name {
			return e, nil
		}
	}
	return EngineConfig{}, fmt.Errorf("%w: %q", ErrUnknownEngine, name)
}

// EngineNames returns the names of all configured engines in config order.
func (c Config) EngineNames() []string {
	names := make([]string, 0, len(c.Engines))
	for _, e := range c.Engines {
		names = append(names, e.Name)
	}
	return names
}

// PollInterval returns the directory/result polling interval.
func (c Config) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMS) * time.Millisecond
}

// AwaitTimeout returns how long the gateway waits for a result before
// reporting a timeout to the caller.
func (c Config) AwaitTimeout() time.Duration {
	return time.Duration(c.AwaitTimeoutS) * time.Second
}

// SynthesisTimeout bounds a single engine invocation.
func (c Config) SynthesisTimeout() time.Duration {
	return time.Duration(c.SynthesisTimeoutS) * time.Second
}

// Retention returns how long terminal results are kept before eviction.
func (c Config) Retention() time.Duration {
	return time.Duration(c.RetentionS) * time.Second
}

// TombstoneGrace returns how long eviction tombstones are retained.
func (c Config) TombstoneGrace() time.Duration {
	return time.Duration(c.TombstoneGraceS) * time.Second
}

// ReapAfter returns the age past which a claimed job is considered orphaned.
func (c Config) ReapAfter() time.Duration {
	return time.Duration(c.ReapAfterS) * time.Second
}

// Level parses the configured log level, defaulting to info.
func (c Config) Level() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewLogger creates a structured JSON logger writing to w at the given level.
func NewLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: level,
	}))
}
