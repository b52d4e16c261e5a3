// Package flags provides feature flag support for stagectl.
// Flags are read-only after initialization and provide safe defaults for unknown flags.
package flags

import (
	"maps"
	"slices"

	"github.com/TechDevGroup/obs-impl/internal/log"
)

// Flag name constants for type-safe flag access.
const (
	// FlagSignalMirror publishes every stage signal onto the async broker
	// that feeds the monitor.
	FlagSignalMirror = "signal-mirror"

	// FlagRestoreOnStart loads persisted stage records when the runtime starts.
	FlagRestoreOnStart = "restore-on-start"

	// FlagSaveOnExit persists every public, non-ephemeral stage on shutdown.
	FlagSaveOnExit = "save-on-exit"
)

// Known lists every flag this build understands.
var Known = []string{FlagSignalMirror, FlagRestoreOnStart, FlagSaveOnExit}

// Registry holds feature flag state loaded from configuration.
// Flags are read-only after initialization.
type Registry struct {
	flags map[string]bool
}

// New creates a Registry from a config map. The map is copied.
// If flags is nil, an empty registry is created (all flags disabled).
func New(flags map[string]bool) *Registry {
	r := &Registry{flags: make(map[string]bool, len(flags))}
	maps.Copy(r.flags, flags)
	log.Debug(log.CatConfig, "Feature flags initialized", "count", len(r.flags), "flags", r.All())
	for _, name := range r.Unknown() {
		log.Warn(log.CatConfig, "Ignoring unknown feature flag", "flag", name)
	}
	return r
}

// Enabled returns true if the named flag is enabled.
// Returns false for unknown flags (safe default).
// Returns false when called on nil registry (nil-safe).
func (r *Registry) Enabled(name string) bool {
	if r == nil || r.flags == nil {
		return false
	}
	value, exists := r.flags[name]
	if !exists {
		log.Debug(log.CatConfig, "Unset flag accessed", "flag", name, "result", false)
		return false
	}
	return value
}

// All returns a copy of all flags (for debugging/logging).
// Returns an empty map if the registry is nil.
func (r *Registry) All() map[string]bool {
	if r == nil || r.flags == nil {
		return make(map[string]bool)
	}
	result := make(map[string]bool, len(r.flags))
	maps.Copy(result, r.flags)
	return result
}

// Unknown returns the configured flag names not in Known, sorted.
func (r *Registry) Unknown() []string {
	if r == nil {
		return nil
	}
	var out []string
	for name := range r.flags {
		if !slices.Contains(Known, name) {
			out = append(out, name)
		}
	}
	slices.Sort(out)
	return out
}
