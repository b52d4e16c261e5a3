package stage

import (
	"strings"

	"github.com/TechDevGroup/obs-impl/internal/canvas"
)

// Flags are the creation-time capabilities of a stage.
type Flags uint32

const (
	// FlagMain marks the primary stage. It is never renamed or removed and is
	// stripped from every creation path except Core.CreateMain.
	FlagMain Flags = 1 << iota
	// FlagMixAudio makes the canvas mix audio.
	FlagMixAudio
	// FlagEphemeral excludes the stage from serialization.
	FlagEphemeral
)

var flagNames = []struct {
	flag Flags
	name string
}{
	{FlagMain, "main"},
	{FlagMixAudio, "mix_audio"},
	{FlagEphemeral, "ephemeral"},
}

// Has reports whether every bit of f2 is set.
func (f Flags) Has(f2 Flags) bool { return f&f2 == f2 }

// Names lists the known flags that are set, in bit order.
func (f Flags) Names() []string {
	names := []string{}
	for _, fn := range flagNames {
		if f.Has(fn.flag) {
			names = append(names, fn.name)
		}
	}
	return names
}

func (f Flags) String() string {
	if f == 0 {
		return "none"
	}
	var parts []string
	for _, fn := range flagNames {
		if f.Has(fn.flag) {
			parts = append(parts, fn.name)
			f &^= fn.flag
		}
	}
	if f != 0 {
		parts = append(parts, "unknown")
	}
	return strings.Join(parts, "|")
}

func (f Flags) canvasFlags() canvas.Flags {
	var cf canvas.Flags
	if f.Has(FlagMixAudio) {
		cf |= canvas.FlagMixAudio
	}
	if f.Has(FlagEphemeral) {
		cf |= canvas.FlagEphemeral
	}
	return cf
}
