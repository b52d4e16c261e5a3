package stage

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/TechDevGroup/obs-impl/internal/canvas"
	"github.com/TechDevGroup/obs-impl/internal/lifecycle"
	"github.com/TechDevGroup/obs-impl/internal/log"
	"github.com/TechDevGroup/obs-impl/internal/pubsub"
	"github.com/TechDevGroup/obs-impl/internal/refcount"
	"github.com/TechDevGroup/obs-impl/internal/registry"
	"github.com/TechDevGroup/obs-impl/internal/signal"
	"github.com/TechDevGroup/obs-impl/internal/tracing"
)

var (
	// ErrInvalidName is returned when a stage is created without a name.
	ErrInvalidName = errors.New("stage name is required")
	// ErrNameTaken is returned when another live stage holds the name.
	ErrNameTaken = errors.New("stage name already in use")
	// ErrCoreClosed is returned by creation after Shutdown.
	ErrCoreClosed = errors.New("core is shut down")
	// ErrMainExists is returned by a second CreateMain.
	ErrMainExists = errors.New("main stage already exists")
)

// Options configures a Core.
type Options struct {
	// Factory creates the canvas bound to each stage. Defaults to an
	// in-memory factory.
	Factory canvas.Factory
	// Tracer records lifecycle spans. Nil disables tracing.
	Tracer trace.Tracer
	// Context parents every lifecycle span.
	Context context.Context
}

// Core is the process-scoped stage service. It owns the stage registry and
// the process-wide signal handler, and tears every stage down at Shutdown.
type Core struct {
	factory canvas.Factory
	tracer  trace.Tracer
	ctx     context.Context

	signals *signal.Handler
	stages  *registry.Registry[*Stage]
	mirror  atomic.Pointer[pubsub.Broker[signal.Emission]]

	// names serializes name claims by Create and SetName and guards the
	// closed transition. Lock order: names, registry, mainMu.
	names sync.Mutex

	// mainMu guards main and mainPending. It is never held across create.
	mainMu      sync.Mutex
	main        *Stage
	mainPending bool

	closed atomic.Bool
	down   atomic.Bool
}

// NewCore returns a Core ready to create stages.
func NewCore(opts Options) *Core {
	if opts.Factory == nil {
		opts.Factory = canvas.NewMemoryFactory()
	}
	if opts.Context == nil {
		opts.Context = context.Background()
	}
	c := &Core{
		factory: opts.Factory,
		tracer:  opts.Tracer,
		ctx:     opts.Context,
		signals: signal.NewHandler("core"),
		stages:  registry.New[*Stage]("stage"),
	}
	if err := c.signals.AddSignals(coreSignals...); err != nil {
		panic(fmt.Errorf("declaring core signals: %w", err))
	}
	return c
}

// Signals returns the process-wide signal handler.
func (c *Core) Signals() *signal.Handler { return c.signals }

// Mirror publishes every emission of the core and of each stage, current
// and future, onto b. A nil broker stops mirroring.
func (c *Core) Mirror(b *pubsub.Broker[signal.Emission]) {
	c.mirror.Store(b)
	c.signals.Mirror(b)
	c.stages.Enumerate(func(s *Stage) bool {
		s.signals.Mirror(b)
		return true
	})
}

// Create creates a public stage. FlagMain is ignored. The caller owns the
// returned strong reference.
func (c *Core) Create(name string, video *canvas.VideoInfo, flags Flags) (*Stage, error) {
	return c.create(tracing.SpanStageCreate, name, video, flags&^FlagMain, false)
}

// CreatePrivate creates a stage that emits no process-wide signals and is
// never persisted by SaveAll.
func (c *Core) CreatePrivate(name string, video *canvas.VideoInfo, flags Flags) (*Stage, error) {
	return c.create(tracing.SpanStageCreate, name, video, flags&^FlagMain, true)
}

// CreateMain creates the primary stage. The Core keeps its own reference
// until Shutdown, so the main stage outlives every ordinary release. The
// main slot is published before stage_create fires, so subscribers see it
// through Main.
func (c *Core) CreateMain(name string, video *canvas.VideoInfo, flags Flags) (*Stage, error) {
	c.mainMu.Lock()
	if c.main != nil || c.mainPending {
		c.mainMu.Unlock()
		return nil, ErrMainExists
	}
	c.mainPending = true
	c.mainMu.Unlock()

	s, err := c.create(tracing.SpanStageCreate, name, video, flags|FlagMain, false)
	if err != nil {
		c.mainMu.Lock()
		c.mainPending = false
		c.mainMu.Unlock()
		return nil, err
	}
	return s, nil
}

// Main returns a strong reference to the main stage, or nil.
func (c *Core) Main() *Stage {
	c.mainMu.Lock()
	s := c.main
	c.mainMu.Unlock()
	if s == nil || !s.AddRef() {
		return nil
	}
	return s
}

func (c *Core) create(spanName, name string, video *canvas.VideoInfo, flags Flags, private bool) (_ *Stage, err error) {
	if c.closed.Load() {
		return nil, ErrCoreClosed
	}
	if name == "" {
		log.Debug(log.CatStage, "Stage creation without a name")
		return nil, ErrInvalidName
	}

	_, span := tracing.Start(c.ctx, c.tracer, spanName,
		attribute.String(tracing.AttrStageName, name),
		attribute.String(tracing.AttrStageFlags, flags.String()),
		attribute.Bool(tracing.AttrStagePrivate, private),
	)
	defer func() { tracing.Finish(span, err) }()
	if video != nil {
		span.SetAttributes(attribute.String(tracing.AttrCanvasVideo, video.String()))
	}

	s := newStage(c, name, uuid.New(), flags, private)
	var rb lifecycle.Rollback
	defer func() {
		if err != nil {
			tracing.Event(span, tracing.EventRollback, attribute.Int("steps", rb.Len()))
			rb.Unwind()
			_ = s.state.Transition(lifecycle.Freed)
			log.Warn(log.CatStage, "Stage creation failed", "stage", name, "error", err)
		}
	}()

	s.signals = signal.NewHandler("stage:" + name)
	if err := s.signals.AddSignals(stageSignals...); err != nil {
		return nil, fmt.Errorf("declaring stage signals: %w", err)
	}
	rb.Push("signals", s.signals.Close)

	cv, err := c.factory.Create(name, video, flags.canvasFlags())
	if err != nil {
		return nil, fmt.Errorf("creating canvas for %q: %w", name, err)
	}
	s.canvas = cv
	rb.Push("canvas", func() {
		s.canvas = nil
		cv.Release()
	})

	s.ref = refcount.New(s.destroy)
	s.ref.OnFree(func() {
		log.Debug(log.CatStage, "Stage control block freed", "stage", s.Name())
	})

	// Shutdown sets closed under names, so a stage linked here is either
	// drained by it or refused.
	c.names.Lock()
	if c.closed.Load() {
		c.names.Unlock()
		return nil, ErrCoreClosed
	}
	if !c.stages.LinkUnique(&s.link, s) {
		c.names.Unlock()
		return nil, fmt.Errorf("%w: %q", ErrNameTaken, name)
	}
	s.state.MustTransition(lifecycle.Live)
	if flags.Has(FlagMain) {
		s.ref.TryAcquire()
		c.mainMu.Lock()
		c.main = s
		c.mainPending = false
		c.mainMu.Unlock()
	}
	c.names.Unlock()
	rb.Commit()
	tracing.Event(span, tracing.EventLinked)
	span.SetAttributes(attribute.String(tracing.AttrStageUUID, s.UUID()))

	// Read after linking: a concurrent Mirror either stored its broker
	// before this load or enumerates the stage.
	if b := c.mirror.Load(); b != nil {
		s.signals.Mirror(b)
	}

	s.dosignal(SignalStageCreate, "")

	if private {
		log.Debug(log.CatStage, "Private stage created", "stage", name, "uuid", s.UUID())
	} else {
		log.Debug(log.CatStage, "Stage created", "stage", name, "uuid", s.UUID(), "flags", flags.String())
	}
	return s, nil
}

// StageByName returns a strong reference to the live stage called name.
func (c *Core) StageByName(name string) *Stage {
	s, ok := c.stages.FindByName(name)
	if !ok {
		return nil
	}
	return s
}

// StageByUUID returns a strong reference to the live stage with the given UUID.
func (c *Core) StageByUUID(id string) *Stage {
	if id == "" {
		return nil
	}
	s, ok := c.stages.Find(func(s *Stage) bool { return s.UUID() == id })
	if !ok {
		return nil
	}
	return s
}

// EnumStages calls fn for every live stage until fn returns false. fn runs
// with no lock held and may release or destroy the stage it was handed.
func (c *Core) EnumStages(fn func(*Stage) bool) {
	c.stages.Enumerate(fn)
}

// Count returns the number of linked stages.
func (c *Core) Count() int { return c.stages.Len() }

// Closed reports whether Shutdown has begun.
func (c *Core) Closed() bool { return c.closed.Load() }

// Shutdown releases the main stage and tears down every remaining stage.
// Stages still referenced by other holders are reported and destroyed
// anyway; their later releases only log. Shutdown is idempotent.
func (c *Core) Shutdown() {
	c.names.Lock()
	first := c.closed.CompareAndSwap(false, true)
	c.names.Unlock()
	if !first {
		return
	}
	_, span := tracing.Start(c.ctx, c.tracer, tracing.SpanCoreShutdown)
	defer tracing.Finish(span, nil)

	c.mainMu.Lock()
	main := c.main
	c.main = nil
	c.mainPending = false
	c.mainMu.Unlock()
	if main != nil {
		main.ref.Release()
	}

	n := c.stages.Drain(func(s *Stage) {
		s.forceTeardown()
	})
	span.SetAttributes(attribute.Int("stage.count", n))

	c.down.Store(true)
	c.signals.Close()
	log.Info(log.CatCore, "Core shut down", "stages", n)
}
