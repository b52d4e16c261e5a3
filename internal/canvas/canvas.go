// Package canvas defines the bound resource a stage owns: a named mixing
// surface with a video configuration and source channels.
package canvas

import (
	"errors"
	"fmt"
)

// MaxChannels is the number of source channels on a canvas.
const MaxChannels = 64

// ErrInvalidVideoInfo is returned for a video configuration that cannot back a canvas.
var ErrInvalidVideoInfo = errors.New("invalid video info")

// Flags are creation-time canvas capabilities.
type Flags uint32

const (
	FlagMixAudio Flags = 1 << iota
	FlagEphemeral
)

// VideoInfo is the resolution and frame-rate configuration of a canvas.
type VideoInfo struct {
	BaseWidth    uint32
	BaseHeight   uint32
	OutputWidth  uint32
	OutputHeight uint32
	FPSNum       uint32
	FPSDen       uint32
}

// Normalized fills a zero output size with the base size.
func (v VideoInfo) Normalized() VideoInfo {
	if v.OutputWidth == 0 && v.OutputHeight == 0 {
		v.OutputWidth, v.OutputHeight = v.BaseWidth, v.BaseHeight
	}
	return v
}

// Validate checks the configuration.
func (v VideoInfo) Validate() error {
	if v.BaseWidth == 0 || v.BaseHeight == 0 {
		return fmt.Errorf("%w: base size %dx%d", ErrInvalidVideoInfo, v.BaseWidth, v.BaseHeight)
	}
	if v.OutputWidth == 0 || v.OutputHeight == 0 {
		return fmt.Errorf("%w: output size %dx%d", ErrInvalidVideoInfo, v.OutputWidth, v.OutputHeight)
	}
	if v.FPSNum == 0 || v.FPSDen == 0 {
		return fmt.Errorf("%w: frame rate %d/%d", ErrInvalidVideoInfo, v.FPSNum, v.FPSDen)
	}
	return nil
}

// FPS returns the frame rate as a float, or 0 when undefined.
func (v VideoInfo) FPS() float64 {
	if v.FPSDen == 0 {
		return 0
	}
	return float64(v.FPSNum) / float64(v.FPSDen)
}

func (v VideoInfo) String() string {
	return fmt.Sprintf("%dx%d->%dx%d@%d/%d",
		v.BaseWidth, v.BaseHeight, v.OutputWidth, v.OutputHeight, v.FPSNum, v.FPSDen)
}

// Source is anything that can be bound to a canvas channel.
type Source interface {
	Name() string
}

// Scene is a source graph whose root source can be bound to a channel.
type Scene interface {
	Source() Source
}

// Video is the mixing surface outputs read frames from.
type Video interface {
	Info() VideoInfo
}

// Canvas is the resource contract. Implementations must be safe for
// concurrent use; Release is called exactly once by the owner.
type Canvas interface {
	Name() string
	SetName(name string)
	// VideoInfo returns false when the canvas has no video configured.
	VideoInfo() (VideoInfo, bool)
	// Video returns nil when the canvas has no video configured.
	Video() Video
	SetChannel(channel int, src Source)
	Channel(channel int) Source
	Release()
}

// Factory creates canvases. A nil info creates a canvas without video.
type Factory interface {
	Create(name string, info *VideoInfo, flags Flags) (Canvas, error)
}

// FactoryFunc adapts a function to Factory.
type FactoryFunc func(name string, info *VideoInfo, flags Flags) (Canvas, error)

func (f FactoryFunc) Create(name string, info *VideoInfo, flags Flags) (Canvas, error) {
	return f(name, info, flags)
}

// BasicScene is a scene whose root source is itself.
type BasicScene struct {
	name string
}

// NewScene returns a scene named name.
func NewScene(name string) *BasicScene {
	return &BasicScene{name: name}
}

func (s *BasicScene) Name() string   { return s.name }
func (s *BasicScene) Source() Source { return s }
