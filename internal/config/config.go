// Package config provides configuration types and defaults for stagectl.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/TechDevGroup/obs-impl/internal/log"
)

// Config holds all configuration options for stagectl.
type Config struct {
	Log     LogConfig       `mapstructure:"log"`
	Tracing TracingConfig   `mapstructure:"tracing"`
	Store   StoreConfig     `mapstructure:"store"`
	Watch   WatchConfig     `mapstructure:"watch"`
	Main    StageConfig     `mapstructure:"main"`
	Stages  []StageConfig   `mapstructure:"stages"`
	Flags   map[string]bool `mapstructure:"flags"`
}

// LogConfig controls the file logger.
type LogConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`  // Default: ~/.config/stagectl/stagectl.log
	Level   string `mapstructure:"level"` // debug, info (default), warn, error
}

// StoreConfig selects where stage records are persisted.
type StoreConfig struct {
	// Backend is "yaml" (default) or "sqlite".
	Backend string `mapstructure:"backend"`

	// Path is the YAML file or SQLite database path.
	// Default: ~/.config/stagectl/stages.yaml or stages.db
	Path string `mapstructure:"path"`

	// CacheTTL enables a read-through cache in front of the backend when > 0.
	CacheTTL time.Duration `mapstructure:"cache_ttl"`
}

// WatchConfig controls config hot reload.
type WatchConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Debounce time.Duration `mapstructure:"debounce"`
}

// VideoConfig is the canvas configuration of a stage. Zero output size
// means "same as base".
type VideoConfig struct {
	BaseWidth    uint32 `mapstructure:"base_width"`
	BaseHeight   uint32 `mapstructure:"base_height"`
	OutputWidth  uint32 `mapstructure:"output_width"`
	OutputHeight uint32 `mapstructure:"output_height"`
	FPSNum       uint32 `mapstructure:"fps_num"`
	FPSDen       uint32 `mapstructure:"fps_den"`
}

// IsZero reports whether no field is set.
func (v VideoConfig) IsZero() bool {
	return v == VideoConfig{}
}

// OutputConfig declares one output attached to a stage.
type OutputConfig struct {
	Name      string `mapstructure:"name"`
	Autostart bool   `mapstructure:"autostart"`
}

// StageConfig declares one stage.
type StageConfig struct {
	Name      string         `mapstructure:"name"`
	Private   bool           `mapstructure:"private"`   // no global signals, never persisted
	MixAudio  bool           `mapstructure:"mix_audio"` // canvas mixes audio
	Ephemeral bool           `mapstructure:"ephemeral"` // never serialized
	Video     VideoConfig    `mapstructure:"video"`     // zero = main video
	Outputs   []OutputConfig `mapstructure:"outputs"`
}

// TracingConfig holds distributed tracing configuration.
type TracingConfig struct {
	// Enabled controls whether distributed tracing is active.
	// Default: false
	Enabled bool `mapstructure:"enabled"`

	// Exporter selects the trace export backend.
	// Options: "none", "file", "stdout", "otlp"
	// Default: "file"
	Exporter string `mapstructure:"exporter"`

	// FilePath is the output file for "file" exporter.
	// Default: ~/.config/stagectl/traces/traces.jsonl
	FilePath string `mapstructure:"file_path"`

	// OTLPEndpoint is the collector endpoint for "otlp" exporter.
	// Default: "localhost:4317"
	OTLPEndpoint string `mapstructure:"otlp_endpoint"`

	// SampleRate controls trace sampling (0.0 to 1.0).
	// Default: 1.0
	SampleRate float64 `mapstructure:"sample_rate"`
}

// DefaultConfigDir returns ~/.config/stagectl, or "" if home dir unavailable.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "stagectl")
}

// DefaultTracesFilePath returns the default path for trace file export.
func DefaultTracesFilePath() string {
	dir := DefaultConfigDir()
	if dir == "" {
		return ""
	}
	return filepath.Join(dir, "traces", "traces.jsonl")
}

// DefaultStorePath returns the default record store path for a backend.
func DefaultStorePath(backend string) string {
	dir := DefaultConfigDir()
	if dir == "" {
		return ""
	}
	if backend == "sqlite" {
		return filepath.Join(dir, "stages.db")
	}
	return filepath.Join(dir, "stages.yaml")
}

// DefaultVideo is 1920x1080 at 30fps.
func DefaultVideo() VideoConfig {
	return VideoConfig{
		BaseWidth:    1920,
		BaseHeight:   1080,
		OutputWidth:  1920,
		OutputHeight: 1080,
		FPSNum:       30,
		FPSDen:       1,
	}
}

// Defaults returns a Config with sensible default values.
func Defaults() Config {
	return Config{
		Log: LogConfig{
			Enabled: false,
			Level:   "info",
		},
		Tracing: TracingConfig{
			Enabled:      false,
			Exporter:     "file",
			FilePath:     "", // Derived from config dir at runtime
			OTLPEndpoint: "localhost:4317",
			SampleRate:   1.0,
		},
		Store: StoreConfig{
			Backend:  "yaml",
			Path:     "", // Derived from backend at runtime
			CacheTTL: 0,
		},
		Watch: WatchConfig{
			Enabled:  true,
			Debounce: 200 * time.Millisecond,
		},
		Main: StageConfig{
			Name:     "Main",
			MixAudio: true,
			Video:    DefaultVideo(),
		},
		Flags: map[string]bool{},
	}
}

// ResolvedStorePath returns the configured store path or the backend default.
func (s StoreConfig) ResolvedStorePath() string {
	if s.Path != "" {
		return s.Path
	}
	return DefaultStorePath(s.Backend)
}

// ValidateVideo checks a video configuration. A zero config is valid and
// inherits the main video.
func ValidateVideo(v VideoConfig) error {
	if v.IsZero() {
		return nil
	}
	if v.BaseWidth == 0 || v.BaseHeight == 0 {
		return fmt.Errorf("base_width and base_height are required")
	}
	if (v.OutputWidth == 0) != (v.OutputHeight == 0) {
		return fmt.Errorf("output_width and output_height must be set together")
	}
	if v.FPSNum == 0 || v.FPSDen == 0 {
		return fmt.Errorf("fps_num and fps_den must be positive")
	}
	return nil
}

// ValidateStages checks stage declarations for errors.
// Names must be present and unique, including against the main stage.
func ValidateStages(main StageConfig, stages []StageConfig) error {
	if main.Name == "" {
		return fmt.Errorf("main: name is required")
	}
	if main.Video.IsZero() {
		return fmt.Errorf("main: video is required")
	}
	if err := ValidateVideo(main.Video); err != nil {
		return fmt.Errorf("main.video: %w", err)
	}
	if err := validateOutputs(main.Outputs); err != nil {
		return fmt.Errorf("main: %w", err)
	}

	seen := map[string]bool{main.Name: true}
	for i, st := range stages {
		if st.Name == "" {
			return fmt.Errorf("stage %d: name is required", i)
		}
		if seen[st.Name] {
			return fmt.Errorf("stage %d (%s): duplicate name", i, st.Name)
		}
		seen[st.Name] = true

		if err := ValidateVideo(st.Video); err != nil {
			return fmt.Errorf("stage %d (%s): video: %w", i, st.Name, err)
		}
		if err := validateOutputs(st.Outputs); err != nil {
			return fmt.Errorf("stage %d (%s): %w", i, st.Name, err)
		}
	}
	return nil
}

func validateOutputs(outputs []OutputConfig) error {
	seen := make(map[string]bool, len(outputs))
	for i, o := range outputs {
		if o.Name == "" {
			return fmt.Errorf("output %d: name is required", i)
		}
		if seen[o.Name] {
			return fmt.Errorf("output %d (%s): duplicate name", i, o.Name)
		}
		seen[o.Name] = true
	}
	return nil
}

// ValidateStore checks store configuration for errors.
func ValidateStore(s StoreConfig) error {
	switch s.Backend {
	case "", "yaml", "sqlite":
	default:
		return fmt.Errorf("store.backend must be \"yaml\" or \"sqlite\", got %q", s.Backend)
	}
	if s.CacheTTL < 0 {
		return fmt.Errorf("store.cache_ttl must not be negative, got %v", s.CacheTTL)
	}
	return nil
}

// ValidateLog checks log configuration for errors.
func ValidateLog(l LogConfig) error {
	if _, ok := log.ParseLevel(l.Level); !ok {
		return fmt.Errorf("log.level must be \"debug\", \"info\", \"warn\", or \"error\", got %q", l.Level)
	}
	return nil
}

// ValidateWatch checks watcher configuration for errors.
func ValidateWatch(w WatchConfig) error {
	if w.Debounce < 0 {
		return fmt.Errorf("watch.debounce must not be negative, got %v", w.Debounce)
	}
	return nil
}

// ValidateTracing checks tracing configuration for errors.
// Returns nil if the configuration is valid (empty values use defaults).
func ValidateTracing(tracing TracingConfig) error {
	if tracing.SampleRate < 0.0 || tracing.SampleRate > 1.0 {
		return fmt.Errorf("tracing.sample_rate must be between 0.0 and 1.0, got %v", tracing.SampleRate)
	}

	if tracing.Exporter != "" {
		switch tracing.Exporter {
		case "none", "file", "stdout", "otlp":
		default:
			return fmt.Errorf("tracing.exporter must be \"none\", \"file\", \"stdout\", or \"otlp\", got %q", tracing.Exporter)
		}
	}

	// Only validate path requirements when tracing is enabled
	if tracing.Enabled {
		if tracing.Exporter == "otlp" && tracing.OTLPEndpoint == "" {
			return fmt.Errorf("tracing.otlp_endpoint is required when exporter is \"otlp\"")
		}
	}

	return nil
}

// Validate runs every section validator.
func (c Config) Validate() error {
	if err := ValidateLog(c.Log); err != nil {
		return err
	}
	if err := ValidateTracing(c.Tracing); err != nil {
		return err
	}
	if err := ValidateStore(c.Store); err != nil {
		return err
	}
	if err := ValidateWatch(c.Watch); err != nil {
		return err
	}
	return ValidateStages(c.Main, c.Stages)
}

// DefaultConfigTemplate returns the default config as a YAML string with comments.
func DefaultConfigTemplate() string {
	return `# stagectl configuration

# File logging
log:
  enabled: false
  # path: ~/.config/stagectl/stagectl.log
  level: info            # debug, info, warn, error

# Stage record persistence
store:
  backend: yaml          # yaml (default) or sqlite
  # path: ~/.config/stagectl/stages.yaml
  # cache_ttl: 30s       # read-through cache in front of the backend

# Reload stages when this file changes
watch:
  enabled: true
  debounce: 200ms

# The main stage: never renamed, never removed
main:
  name: Main
  mix_audio: true
  video:
    base_width: 1920
    base_height: 1080
    output_width: 1920
    output_height: 1080
    fps_num: 30
    fps_den: 1

# Additional stages
# stages:
#   - name: Vertical
#     video:
#       base_width: 1080
#       base_height: 1920
#       fps_num: 30
#       fps_den: 1
#     outputs:
#       - name: record
#         autostart: true
#   - name: Preview
#     private: true       # no global signals, never persisted
#     ephemeral: true     # never serialized
#
# Stage options:
#   name: unique display name (required)
#   private: suppress process-wide signals and persistence
#   mix_audio: canvas mixes audio
#   ephemeral: never serialized
#   video: omitted = same as main
#   outputs: list of {name, autostart}

# Distributed tracing
# tracing:
#   enabled: false                 # default: false
#   exporter: file                 # none, file, stdout, otlp (default: file)
#   file_path: ~/.config/stagectl/traces/traces.jsonl
#   otlp_endpoint: localhost:4317  # for otlp exporter
#   sample_rate: 1.0               # 0.0-1.0 (default: 1.0)

# Feature flags
# flags:
#   signal-mirror: true     # publish every stage signal to the monitor feed
#   restore-on-start: true  # load persisted stages at startup
#   save-on-exit: true      # persist stages on shutdown
`
}

// WriteDefaultConfig creates a config file at the given path with default settings and comments.
// Creates the parent directory if it doesn't exist.
func WriteDefaultConfig(configPath string) error {
	log.Debug(log.CatConfig, "Writing default config", "path", configPath)

	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		log.ErrorErr(log.CatConfig, "Failed to create config directory", err, "dir", dir)
		return fmt.Errorf("creating config directory: %w", err)
	}

	if err := os.WriteFile(configPath, []byte(DefaultConfigTemplate()), 0o600); err != nil {
		log.ErrorErr(log.CatConfig, "Failed to write config file", err, "path", configPath)
		return fmt.Errorf("writing config file: %w", err)
	}

	log.Info(log.CatConfig, "Created default config", "path", configPath)
	return nil
}
