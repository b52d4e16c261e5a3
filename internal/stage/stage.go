// Package stage implements stages: named, reference-counted aggregates of a
// canvas and an ordered set of outputs, tracked by a Core.
//
// A stage is created by its Core, linked into the Core's registry and
// destroyed when its last strong reference is released. Teardown emits the
// destroy signals first, while the stage is still fully queryable, then
// stops and releases every output, releases the canvas and finally unlinks
// the stage. Weak handles outlive the stage and promote only while it is live.
package stage

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/TechDevGroup/obs-impl/internal/canvas"
	"github.com/TechDevGroup/obs-impl/internal/collection"
	"github.com/TechDevGroup/obs-impl/internal/lifecycle"
	"github.com/TechDevGroup/obs-impl/internal/log"
	"github.com/TechDevGroup/obs-impl/internal/output"
	"github.com/TechDevGroup/obs-impl/internal/refcount"
	"github.com/TechDevGroup/obs-impl/internal/registry"
	"github.com/TechDevGroup/obs-impl/internal/signal"
	"github.com/TechDevGroup/obs-impl/internal/tracing"
)

// Stage is safe for concurrent use by any holder of a strong reference.
type Stage struct {
	core    *Core
	ref     *refcount.Ref
	state   lifecycle.Machine
	link    registry.Link[*Stage]
	signals *signal.Handler
	outputs *collection.Collection[output.Output]

	id      uuid.UUID
	flags   Flags
	private bool
	removed atomic.Bool
	forced  atomic.Bool

	// mu guards name and canvas. Lock order: Core.names, registry, mu.
	mu     sync.RWMutex
	name   string
	canvas canvas.Canvas
}

func newStage(c *Core, name string, id uuid.UUID, flags Flags, private bool) *Stage {
	s := &Stage{
		core:    c,
		id:      id,
		flags:   flags,
		private: private,
		name:    name,
	}
	s.outputs = collection.New(collection.Hooks[output.Output]{
		Added:   func(o output.Output) { s.dosignalOutput(SignalOutputAdd, o) },
		Removed: func(o output.Output) { s.dosignalOutput(SignalOutputRemove, o) },
		Started: func(o output.Output) { s.dosignalOutput(SignalOutputStart, o) },
		Stopped: func(o output.Output) { s.dosignalOutput(SignalOutputStop, o) },
	})
	return s
}

// Name returns the current name, or "" for a nil stage.
func (s *Stage) Name() string {
	if s == nil {
		return ""
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.name
}

// UUID returns the stable identifier assigned at creation.
func (s *Stage) UUID() string {
	if s == nil {
		return ""
	}
	return s.id.String()
}

// Flags returns the creation-time flags.
func (s *Stage) Flags() Flags {
	if s == nil {
		return 0
	}
	return s.flags
}

// IsMain reports whether this is the primary stage.
func (s *Stage) IsMain() bool { return s.Flags().Has(FlagMain) }

// Private reports whether process-wide signals are suppressed for the stage.
func (s *Stage) Private() bool { return s != nil && s.private }

// State returns the lifecycle state.
func (s *Stage) State() lifecycle.State { return s.state.Current() }

// Signals returns the stage's own signal handler.
func (s *Stage) Signals() *signal.Handler {
	if s == nil {
		return nil
	}
	return s.signals
}

// AddRef acquires a strong reference. It fails once teardown has begun.
func (s *Stage) AddRef() bool {
	return s != nil && s.ref.TryAcquire()
}

// Expired reports whether the stage can no longer be referenced.
func (s *Stage) Expired() bool {
	return s == nil || s.ref == nil || s.ref.Expired()
}

// Release drops a strong reference; the last one destroys the stage.
// Releasing after the Core shut down only logs a warning.
func (s *Stage) Release() {
	if s == nil {
		return
	}
	if s.core.down.Load() {
		log.Warn(log.CatStage, "Tried to release a stage after core shutdown", "stage", s.Name())
		return
	}
	s.ref.Release()
}

// Refs returns the strong reference count.
func (s *Stage) Refs() int64 {
	if s == nil {
		return 0
	}
	return s.ref.Strong()
}

// Weak returns a new weak handle. The caller must Release it.
func (s *Stage) Weak() *refcount.Weak[*Stage] {
	if s == nil {
		return nil
	}
	return refcount.NewWeak(s.ref, s)
}

// SetName renames the stage and reports whether it did. It is a no-op for
// an empty name, the current name, the main stage, or a name another live
// stage holds. The canvas is renamed too, then rename and stage_rename fire
// with both names.
func (s *Stage) SetName(name string) bool {
	if s == nil || name == "" || s.IsMain() {
		return false
	}

	c := s.core
	c.names.Lock()
	s.mu.Lock()
	prev := s.name
	if name == prev {
		s.mu.Unlock()
		c.names.Unlock()
		return false
	}
	s.mu.Unlock()

	if other, taken := c.stages.FindByName(name); taken {
		c.names.Unlock()
		other.Release()
		log.Debug(log.CatStage, "Rename rejected, name in use", "stage", prev, "name", name)
		return false
	}

	s.mu.Lock()
	s.name = name
	cv := s.canvas
	s.mu.Unlock()
	c.names.Unlock()

	_, span := tracing.Start(c.ctx, c.tracer, tracing.SpanStageRename,
		attribute.String(tracing.AttrStageName, name),
		attribute.String(tracing.AttrStagePrevName, prev),
		attribute.String(tracing.AttrStageUUID, s.UUID()),
	)
	defer tracing.Finish(span, nil)

	if cv != nil {
		cv.SetName(name)
	}

	cd := signal.NewHeap()
	cd.SetPtr("stage", s)
	cd.SetString("new_name", name)
	cd.SetString("prev_name", prev)
	s.signals.Emit(SignalRename, cd)
	if !s.private {
		c.signals.Emit(SignalStageRename, cd)
	}

	log.Debug(log.CatStage, "Stage renamed", "from", prev, "to", name)
	return true
}

// Remove asks holders to let go of the stage: remove and stage_remove fire
// once. No reference is released here. The main stage cannot be removed.
func (s *Stage) Remove() {
	if s == nil || s.IsMain() || !s.state.Is(lifecycle.Live) {
		return
	}
	if !s.removed.CompareAndSwap(false, true) {
		return
	}
	s.dosignal(SignalStageRemove, SignalRemove)
	log.Debug(log.CatStage, "Stage removed", "stage", s.Name())
}

// Removed reports whether Remove has been called.
func (s *Stage) Removed() bool { return s != nil && s.removed.Load() }

func (s *Stage) String() string {
	return fmt.Sprintf("stage %q (%s)", s.Name(), s.Flags())
}

/*** Outputs ***/

// videoSetter is implemented by outputs that read frames from a video.
type videoSetter interface {
	SetVideo(canvas.Video)
}

// AddOutput stores a strong reference to o and fires output_add. It fails
// for nil, an output already held, or an output being destroyed. Outputs
// that read video are bound to the stage's video.
func (s *Stage) AddOutput(o output.Output) bool {
	if s == nil || o == nil {
		return false
	}
	_, span := tracing.Start(s.core.ctx, s.core.tracer, tracing.SpanStageOutputAdd,
		attribute.String(tracing.AttrStageName, s.Name()),
		attribute.String(tracing.AttrOutputName, o.Name()),
	)
	if !s.outputs.Add(o) {
		span.SetAttributes(attribute.Bool("added", false))
		tracing.Finish(span, nil)
		log.Debug(log.CatStage, "Output not added", "stage", s.Name(), "output", o.Name())
		return false
	}
	if vs, ok := o.(videoSetter); ok {
		vs.SetVideo(s.Video())
	}
	tracing.Finish(span, nil)
	log.Debug(log.CatStage, "Added output", "stage", s.Name(), "output", o.Name())
	return true
}

// RemoveOutput stops o if active, fires output_remove and releases the
// stage's reference. It returns false if o is not held.
func (s *Stage) RemoveOutput(o output.Output) bool {
	if s == nil || o == nil {
		return false
	}
	name := o.Name()
	_, span := tracing.Start(s.core.ctx, s.core.tracer, tracing.SpanStageOutputRemove,
		attribute.String(tracing.AttrStageName, s.Name()),
		attribute.String(tracing.AttrOutputName, name),
	)
	removed := s.outputs.Remove(o)
	span.SetAttributes(attribute.Bool("removed", removed))
	tracing.Finish(span, nil)
	if removed {
		log.Debug(log.CatStage, "Removed output", "stage", s.Name(), "output", name)
	}
	return removed
}

// OutputCount returns the number of outputs at the time of the call.
func (s *Stage) OutputCount() int {
	if s == nil {
		return 0
	}
	return s.outputs.Count()
}

// Output returns the output at idx without a new reference, or nil.
func (s *Stage) Output(idx int) output.Output {
	if s == nil {
		return nil
	}
	o, _ := s.outputs.At(idx)
	return o
}

// Outputs returns the outputs in insertion order. The slice must not be modified.
func (s *Stage) Outputs() []output.Output {
	if s == nil {
		return nil
	}
	return s.outputs.Snapshot()
}

// StartOutput starts the output at idx and fires output_start on success.
func (s *Stage) StartOutput(idx int) bool {
	if s == nil {
		return false
	}
	return s.outputs.StartAt(idx)
}

// StopOutput stops the output at idx and fires output_stop. With force set,
// outputs that support it stop without flushing.
func (s *Stage) StopOutput(idx int, force bool) {
	if s == nil {
		return
	}
	s.outputs.StopAt(idx, force)
}

// StartAllOutputs starts every inactive output. It returns how many started.
func (s *Stage) StartAllOutputs() int {
	if s == nil {
		return 0
	}
	return s.outputs.StartAll()
}

// StopAllOutputs stops every active output. It returns how many stopped.
func (s *Stage) StopAllOutputs(force bool) int {
	if s == nil {
		return 0
	}
	return s.outputs.StopAll(force)
}

// AnyOutputActive reports whether any output is active.
func (s *Stage) AnyOutputActive() bool {
	return s != nil && s.outputs.AnyActive()
}

/*** Canvas ***/

// Canvas returns the bound canvas, or nil once released.
func (s *Stage) Canvas() canvas.Canvas {
	if s == nil {
		return nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.canvas
}

// Video returns the canvas video, or nil.
func (s *Stage) Video() canvas.Video {
	if cv := s.Canvas(); cv != nil {
		return cv.Video()
	}
	return nil
}

// VideoInfo returns the canvas video configuration.
func (s *Stage) VideoInfo() (canvas.VideoInfo, bool) {
	if cv := s.Canvas(); cv != nil {
		return cv.VideoInfo()
	}
	return canvas.VideoInfo{}, false
}

// SetScene binds the scene's source to channel 0 of the canvas. A nil scene
// clears the channel.
func (s *Stage) SetScene(scene canvas.Scene) {
	cv := s.Canvas()
	if cv == nil {
		return
	}
	var src canvas.Source
	if scene != nil {
		src = scene.Source()
	}
	cv.SetChannel(0, src)
}

// SceneSource returns the source on channel 0, or nil.
func (s *Stage) SceneSource() canvas.Source {
	if cv := s.Canvas(); cv != nil {
		return cv.Channel(0)
	}
	return nil
}

/*** Teardown ***/

// destroy runs when the strong count reaches zero.
func (s *Stage) destroy() {
	if err := s.state.Transition(lifecycle.TearingDown); err != nil {
		if s.forced.Load() {
			// Shutdown already tore the stage down.
			return
		}
		panic(fmt.Errorf("stage %q: %w", s.Name(), err))
	}
	s.teardown()
}

// forceTeardown destroys a stage still referenced at shutdown. The control
// block is closed first so neither AddRef nor weak promotion can reach it.
func (s *Stage) forceTeardown() {
	s.forced.Store(true)
	s.ref.Close()
	if s.state.Transition(lifecycle.TearingDown) != nil {
		return
	}
	log.Warn(log.CatCore, "Stage still referenced at shutdown", "stage", s.Name(), "refs", s.ref.Strong())
	s.teardown()
}

func (s *Stage) teardown() {
	c := s.core
	name := s.Name()
	_, span := tracing.Start(c.ctx, c.tracer, tracing.SpanStageDestroy,
		attribute.String(tracing.AttrStageName, name),
		attribute.String(tracing.AttrStageUUID, s.UUID()),
		attribute.Bool(tracing.AttrStagePrivate, s.private),
	)
	defer tracing.Finish(span, nil)

	s.dosignal(SignalStageDestroy, SignalDestroy)

	n := s.outputs.Drain()
	tracing.Event(span, tracing.EventOutputsDrained, attribute.Int(tracing.AttrOutputCount, n))

	s.mu.Lock()
	cv := s.canvas
	s.canvas = nil
	s.mu.Unlock()
	if cv != nil {
		cv.Release()
		tracing.Event(span, tracing.EventCanvasReleased)
	}

	if c.stages.Unlink(&s.link) {
		tracing.Event(span, tracing.EventUnlinked)
	}

	s.signals.Close()
	s.state.MustTransition(lifecycle.Freed)

	if s.private {
		log.Debug(log.CatStage, "Private stage destroyed", "stage", name)
	} else {
		log.Debug(log.CatStage, "Stage destroyed", "stage", name)
	}
}
