// Package output defines the child contract a stage holds in its output
// collection, and Null, an output that encodes nothing.
package output

import (
	"sync"
	"sync/atomic"

	"github.com/TechDevGroup/obs-impl/internal/canvas"
	"github.com/TechDevGroup/obs-impl/internal/log"
	"github.com/TechDevGroup/obs-impl/internal/refcount"
	"github.com/TechDevGroup/obs-impl/internal/signal"
)

// Output is what a stage needs from each of its outputs.
type Output interface {
	Name() string
	Active() bool
	Start() bool
	Stop()
	// AddRef acquires a strong reference; false means the output is being
	// destroyed.
	AddRef() bool
	Release()
}

// ForceStopper is implemented by outputs that can stop without flushing.
type ForceStopper interface {
	ForceStop()
}

// Stop codes carried by the stop signal.
const (
	StopSuccess int64 = 0
	StopForced  int64 = 1
)

var nullSignals = []string{
	"void start(ptr output)",
	"void stop(ptr output, int code)",
	"void destroy(ptr output)",
}

// Null is an output with no encoder behind it. It tracks its own state and
// emits start/stop/destroy signals.
type Null struct {
	name    string
	ref     *refcount.Ref
	signals *signal.Handler
	active  atomic.Bool

	mu        sync.Mutex
	video     canvas.Video
	failStart bool
}

// NewNull returns a Null output holding one strong reference.
func NewNull(name string) *Null {
	o := &Null{
		name:    name,
		signals: signal.NewHandler("output:" + name),
	}
	if err := o.signals.AddSignals(nullSignals...); err != nil {
		panic(err)
	}
	o.ref = refcount.New(o.destroy)
	return o
}

func (o *Null) Name() string { return o.name }

// Signals returns the output's signal handler.
func (o *Null) Signals() *signal.Handler { return o.signals }

// SetVideo binds the video the output reads frames from.
func (o *Null) SetVideo(v canvas.Video) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.video = v
}

// Video returns the bound video, or nil.
func (o *Null) Video() canvas.Video {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.video
}

// SetFailStart makes subsequent starts fail, standing in for an encoder that
// cannot initialize.
func (o *Null) SetFailStart(fail bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.failStart = fail
}

func (o *Null) Active() bool { return o.active.Load() }

// Start activates the output. It fails if the output is already active,
// being destroyed, or configured to fail.
func (o *Null) Start() bool {
	if o.ref.Expired() {
		return false
	}
	o.mu.Lock()
	fail := o.failStart
	o.mu.Unlock()
	if fail {
		log.Debug(log.CatOutput, "Output start failed", "output", o.name)
		return false
	}
	if !o.active.CompareAndSwap(false, true) {
		return false
	}

	cd := signal.NewFixed()
	cd.SetPtr("output", o)
	o.signals.Emit("start", &cd)
	log.Debug(log.CatOutput, "Output started", "output", o.name)
	return true
}

// Stop deactivates the output.
func (o *Null) Stop() { o.stop(StopSuccess) }

// ForceStop deactivates the output without flushing.
func (o *Null) ForceStop() { o.stop(StopForced) }

func (o *Null) stop(code int64) {
	if !o.active.CompareAndSwap(true, false) {
		return
	}
	cd := signal.NewFixed()
	cd.SetPtr("output", o)
	cd.SetInt("code", code)
	o.signals.Emit("stop", &cd)
	log.Debug(log.CatOutput, "Output stopped", "output", o.name, "code", code)
}

func (o *Null) AddRef() bool { return o.ref.TryAcquire() }

func (o *Null) Release() { o.ref.Release() }

// Refs returns the strong reference count.
func (o *Null) Refs() int64 { return o.ref.Strong() }

// Destroyed reports whether teardown has run.
func (o *Null) Destroyed() bool { return o.ref.Expired() }

// Weak returns a weak handle on the output.
func (o *Null) Weak() *refcount.Weak[*Null] {
	return refcount.NewWeak(o.ref, o)
}

func (o *Null) destroy() {
	o.stop(StopForced)
	cd := signal.NewFixed()
	cd.SetPtr("output", o)
	o.signals.Emit("destroy", &cd)
	o.signals.Close()
	o.SetVideo(nil)
	log.Debug(log.CatOutput, "Output destroyed", "output", o.name)
}
