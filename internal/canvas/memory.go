package canvas

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/TechDevGroup/obs-impl/internal/log"
)

// MemoryFactory creates in-process canvases and counts them.
type MemoryFactory struct {
	created  atomic.Int64
	released atomic.Int64
}

// NewMemoryFactory returns a factory of in-memory canvases.
func NewMemoryFactory() *MemoryFactory {
	return &MemoryFactory{}
}

// Create validates info and returns a new canvas.
func (f *MemoryFactory) Create(name string, info *VideoInfo, flags Flags) (Canvas, error) {
	c := &Memory{name: name, flags: flags, factory: f}
	if info != nil {
		vi := info.Normalized()
		if err := vi.Validate(); err != nil {
			return nil, err
		}
		c.video = &memoryVideo{info: vi}
	}
	f.created.Add(1)
	log.Debug(log.CatCanvas, "Canvas created", "name", name, "video", c.describeVideo())
	return c, nil
}

// Live returns the number of canvases created and not yet released.
func (f *MemoryFactory) Live() int64 {
	return f.created.Load() - f.released.Load()
}

// Created returns the number of canvases ever created.
func (f *MemoryFactory) Created() int64 {
	return f.created.Load()
}

type memoryVideo struct {
	info VideoInfo
}

func (v *memoryVideo) Info() VideoInfo { return v.info }

// Memory is an in-process canvas.
type Memory struct {
	factory *MemoryFactory
	flags   Flags
	video   *memoryVideo

	mu       sync.RWMutex
	name     string
	channels [MaxChannels]Source

	released atomic.Bool
}

func (c *Memory) Name() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.name
}

func (c *Memory) SetName(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.name = name
}

// Flags returns the creation flags.
func (c *Memory) Flags() Flags { return c.flags }

func (c *Memory) VideoInfo() (VideoInfo, bool) {
	if c.video == nil {
		return VideoInfo{}, false
	}
	return c.video.info, true
}

func (c *Memory) Video() Video {
	if c.video == nil {
		return nil
	}
	return c.video
}

// SetChannel binds src to channel; out-of-range channels are ignored.
func (c *Memory) SetChannel(channel int, src Source) {
	if channel < 0 || channel >= MaxChannels {
		log.Debug(log.CatCanvas, "Channel out of range", "canvas", c.Name(), "channel", channel)
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.channels[channel] = src
}

func (c *Memory) Channel(channel int) Source {
	if channel < 0 || channel >= MaxChannels {
		return nil
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.channels[channel]
}

// Released reports whether Release has been called.
func (c *Memory) Released() bool { return c.released.Load() }

// Release frees the canvas. A second release is an ownership bug and panics.
func (c *Memory) Release() {
	if c.released.Swap(true) {
		panic(fmt.Errorf("canvas %q released twice", c.Name()))
	}
	c.mu.Lock()
	c.channels = [MaxChannels]Source{}
	c.mu.Unlock()
	if c.factory != nil {
		c.factory.released.Add(1)
	}
	log.Debug(log.CatCanvas, "Canvas released", "name", c.Name())
}

func (c *Memory) describeVideo() string {
	if c.video == nil {
		return "none"
	}
	return c.video.info.String()
}
