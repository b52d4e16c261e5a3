// Package app wires configuration, the stage core, persistence, tracing and
// the config watcher into one runtime.
package app

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"go.opentelemetry.io/otel/attribute"

	"github.com/TechDevGroup/obs-impl/internal/canvas"
	"github.com/TechDevGroup/obs-impl/internal/config"
	"github.com/TechDevGroup/obs-impl/internal/flags"
	"github.com/TechDevGroup/obs-impl/internal/infrastructure/sqlite"
	"github.com/TechDevGroup/obs-impl/internal/log"
	"github.com/TechDevGroup/obs-impl/internal/output"
	"github.com/TechDevGroup/obs-impl/internal/pubsub"
	"github.com/TechDevGroup/obs-impl/internal/signal"
	"github.com/TechDevGroup/obs-impl/internal/stage"
	"github.com/TechDevGroup/obs-impl/internal/store"
	"github.com/TechDevGroup/obs-impl/internal/tracing"
	"github.com/TechDevGroup/obs-impl/internal/watcher"
)

// Options overrides collaborators. Zero values build them from the config.
type Options struct {
	// ConfigPath is watched for changes when watching is enabled.
	ConfigPath string
	Factory    canvas.Factory
	Store      store.Store
	Tracing    *tracing.Provider
}

// Runtime owns the stages declared in the config and every collaborator
// they need. It is safe for concurrent use.
type Runtime struct {
	cfg     config.Config
	opts    Options
	flags   *flags.Registry
	tracing *tracing.Provider
	core    *stage.Core
	store   store.Store
	feed    *pubsub.Broker[signal.Emission]

	mu        sync.Mutex
	main      *stage.Stage
	owned     map[string]*stage.Stage // config stages by config name
	restored  []*stage.Stage
	removeSub *signal.Subscription

	watcherHandle *watcher.Watcher
	watcherCtx    context.Context
	watcherCancel context.CancelFunc
	reloads       *pubsub.Broker[config.Config]

	started   bool
	closeOnce sync.Once
	closeErr  error
}

// New builds a runtime from cfg. Nothing is created until Start.
func New(cfg config.Config, opts Options) (*Runtime, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	r := &Runtime{
		cfg:     cfg,
		opts:    opts,
		flags:   flags.New(cfg.Flags),
		owned:   make(map[string]*stage.Stage),
		feed:    pubsub.NewBrokerWithBuffer[signal.Emission](256),
		reloads: pubsub.NewBroker[config.Config](),
	}

	r.tracing = opts.Tracing
	if r.tracing == nil {
		tp, err := tracing.NewProvider(tracingConfig(cfg.Tracing))
		if err != nil {
			return nil, fmt.Errorf("creating tracing provider: %w", err)
		}
		r.tracing = tp
	}

	r.store = opts.Store
	if r.store == nil {
		st, err := OpenStore(cfg.Store)
		if err != nil {
			_ = r.tracing.Shutdown(context.Background())
			return nil, err
		}
		r.store = st
	}

	r.core = stage.NewCore(stage.Options{
		Factory: opts.Factory,
		Tracer:  r.tracing.Tracer(),
	})
	if r.flags.Enabled(flags.FlagSignalMirror) {
		r.core.Mirror(r.feed)
	}
	return r, nil
}

func tracingConfig(tc config.TracingConfig) tracing.Config {
	out := tracing.DefaultConfig()
	out.Enabled = tc.Enabled
	if tc.Exporter != "" {
		out.Exporter = tc.Exporter
	}
	out.FilePath = tc.FilePath
	if out.FilePath == "" {
		out.FilePath = config.DefaultTracesFilePath()
	}
	out.OTLPEndpoint = tc.OTLPEndpoint
	out.SampleRate = tc.SampleRate
	return out
}

// sqliteStore closes the database along with its record store.
type sqliteStore struct {
	store.Store
	db *sqlite.DB
}

func (s sqliteStore) Close() error {
	return errors.Join(s.Store.Close(), s.db.Close())
}

// OpenStore opens the configured record store, wrapped in a read-through
// cache when a cache TTL is set.
func OpenStore(sc config.StoreConfig) (store.Store, error) {
	path := sc.ResolvedStorePath()
	if path == "" {
		return nil, fmt.Errorf("store path is not set and no home directory is available")
	}

	var st store.Store
	switch sc.Backend {
	case "sqlite":
		db, err := sqlite.NewDB(path)
		if err != nil {
			return nil, fmt.Errorf("opening sqlite store: %w", err)
		}
		st = sqliteStore{Store: db.RecordStore(), db: db}
	case "", "yaml":
		st = store.NewYAMLFile(path)
	default:
		return nil, fmt.Errorf("unknown store backend %q", sc.Backend)
	}

	if sc.CacheTTL > 0 {
		st = store.NewCached(st, sc.CacheTTL)
	}
	log.Debug(log.CatStore, "Opened store", "backend", sc.Backend, "path", path, "cache_ttl", sc.CacheTTL)
	return st, nil
}

// Core returns the stage core.
func (r *Runtime) Core() *stage.Core { return r.core }

// Store returns the record store.
func (r *Runtime) Store() store.Store { return r.store }

// Flags returns the feature flags.
func (r *Runtime) Flags() *flags.Registry { return r.flags }

// Config returns the configuration last applied.
func (r *Runtime) Config() config.Config {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cfg
}

// Feed returns the broker every mirrored signal emission is published on.
// It only carries events when the signal-mirror flag is enabled.
func (r *Runtime) Feed() *pubsub.Broker[signal.Emission] { return r.feed }

// Reloads publishes each config applied by the watcher.
func (r *Runtime) Reloads() *pubsub.Broker[config.Config] { return r.reloads }

// Start creates the main stage and every configured stage, restores
// persisted stages when enabled, and starts the config watcher.
func (r *Runtime) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.started {
		r.mu.Unlock()
		return fmt.Errorf("runtime already started")
	}
	r.started = true
	cfg := r.cfg
	r.mu.Unlock()

	sub, err := r.core.Signals().Connect(stage.SignalStageRemove, r.onStageRemove)
	if err != nil {
		return fmt.Errorf("subscribing to stage_remove: %w", err)
	}
	r.mu.Lock()
	r.removeSub = sub
	r.mu.Unlock()

	main, err := r.core.CreateMain(cfg.Main.Name, videoInfo(cfg.Main.Video, cfg.Main.Video), stageFlags(cfg.Main))
	if err != nil {
		return fmt.Errorf("creating main stage: %w", err)
	}
	attachOutputs(main, cfg.Main.Outputs)
	r.mu.Lock()
	r.main = main
	r.mu.Unlock()

	if err := r.Reconcile(ctx, cfg.Stages); err != nil {
		return err
	}

	if r.flags.Enabled(flags.FlagRestoreOnStart) {
		loaded, err := r.core.LoadAll(ctx, r.store)
		r.mu.Lock()
		r.restored = append(r.restored, loaded...)
		r.mu.Unlock()
		if err != nil {
			log.Warn(log.CatStore, "Some stages failed to restore", "error", err)
		}
	}

	if cfg.Watch.Enabled && r.opts.ConfigPath != "" {
		r.startWatcher(cfg.Watch)
	}

	log.Info(log.CatCore, "Runtime started", "stages", r.core.Count())
	return nil
}

// Reconcile makes the runtime-owned stages match stages: stages new to the
// list are created with their outputs, and owned stages missing from it are
// released. Existing stages are left untouched. Stages restored from the
// store are never affected.
func (r *Runtime) Reconcile(ctx context.Context, stages []config.StageConfig) (err error) {
	_, span := tracing.Start(ctx, r.tracing.Tracer(), tracing.SpanRuntimeReconcile)
	defer func() { tracing.Finish(span, err) }()

	r.mu.Lock()
	mainVideo := r.cfg.Main.Video
	want := make(map[string]config.StageConfig, len(stages))
	for _, sc := range stages {
		want[sc.Name] = sc
	}
	var drop []*stage.Stage
	for name, s := range r.owned {
		if _, ok := want[name]; !ok {
			drop = append(drop, s)
			delete(r.owned, name)
		}
	}
	var add []config.StageConfig
	for _, sc := range stages {
		if _, ok := r.owned[sc.Name]; !ok {
			add = append(add, sc)
		}
	}
	r.mu.Unlock()

	for _, s := range drop {
		log.Debug(log.CatCore, "Releasing stage dropped from config", "stage", s.Name())
		s.Release()
	}

	var errs []error
	created := 0
	for _, sc := range add {
		s, err := r.createStage(sc, mainVideo)
		if err != nil {
			errs = append(errs, fmt.Errorf("stage %q: %w", sc.Name, err))
			continue
		}
		r.mu.Lock()
		r.owned[sc.Name] = s
		r.mu.Unlock()
		created++
	}

	span.SetAttributes(
		attribute.Int("stage.created", created),
		attribute.Int("stage.released", len(drop)),
	)
	log.Debug(log.CatCore, "Reconciled stages", "created", created, "released", len(drop), "failed", len(errs))
	return errors.Join(errs...)
}

func (r *Runtime) createStage(sc config.StageConfig, mainVideo config.VideoConfig) (*stage.Stage, error) {
	video := videoInfo(sc.Video, mainVideo)
	var (
		s   *stage.Stage
		err error
	)
	if sc.Private {
		s, err = r.core.CreatePrivate(sc.Name, video, stageFlags(sc))
	} else {
		s, err = r.core.Create(sc.Name, video, stageFlags(sc))
	}
	if err != nil {
		return nil, err
	}
	attachOutputs(s, sc.Outputs)
	return s, nil
}

// attachOutputs adds a Null output per entry and starts autostart ones.
func attachOutputs(s *stage.Stage, outputs []config.OutputConfig) {
	for _, oc := range outputs {
		o := output.NewNull(oc.Name)
		added := s.AddOutput(o)
		o.Release()
		if !added {
			continue
		}
		if oc.Autostart {
			if !s.StartOutput(s.OutputCount() - 1) {
				log.Warn(log.CatOutput, "Output failed to autostart", "stage", s.Name(), "output", oc.Name)
			}
		}
	}
}

func stageFlags(sc config.StageConfig) stage.Flags {
	var f stage.Flags
	if sc.MixAudio {
		f |= stage.FlagMixAudio
	}
	if sc.Ephemeral {
		f |= stage.FlagEphemeral
	}
	return f
}

// videoInfo converts v, falling back to def when v is zero.
func videoInfo(v, def config.VideoConfig) *canvas.VideoInfo {
	if v.IsZero() {
		v = def
	}
	if v.IsZero() {
		return nil
	}
	return &canvas.VideoInfo{
		BaseWidth:    v.BaseWidth,
		BaseHeight:   v.BaseHeight,
		OutputWidth:  v.OutputWidth,
		OutputHeight: v.OutputHeight,
		FPSNum:       v.FPSNum,
		FPSDen:       v.FPSDen,
	}
}

// onStageRemove lets go of a removed stage the runtime holds.
func (r *Runtime) onStageRemove(cd *signal.Calldata) {
	s, ok := stage.StageFrom(cd)
	if !ok {
		return
	}
	r.mu.Lock()
	var held *stage.Stage
	for name, owned := range r.owned {
		if owned == s {
			held = owned
			delete(r.owned, name)
			break
		}
	}
	if held == nil {
		for i, rs := range r.restored {
			if rs == s {
				held = rs
				r.restored = append(r.restored[:i], r.restored[i+1:]...)
				break
			}
		}
	}
	r.mu.Unlock()

	if held != nil {
		log.Debug(log.CatCore, "Releasing removed stage", "stage", held.Name())
		held.Release()
	}
}

// StageNames returns the names of every live stage, sorted.
func (r *Runtime) StageNames() []string {
	var names []string
	r.core.EnumStages(func(s *stage.Stage) bool {
		names = append(names, s.Name())
		return true
	})
	sort.Strings(names)
	return names
}

// Save persists every public, non-ephemeral stage except the main one.
func (r *Runtime) Save(ctx context.Context) error {
	return r.core.SaveAll(ctx, r.store)
}

// ExportStages describes the live public stages, main excluded, as config
// entries in name order.
func (r *Runtime) ExportStages() []config.StageConfig {
	var out []config.StageConfig
	r.core.EnumStages(func(s *stage.Stage) bool {
		if s.IsMain() || s.Private() {
			return true
		}
		sc := config.StageConfig{
			Name:      s.Name(),
			MixAudio:  s.Flags().Has(stage.FlagMixAudio),
			Ephemeral: s.Flags().Has(stage.FlagEphemeral),
		}
		if vi, ok := s.VideoInfo(); ok {
			sc.Video = config.VideoConfig{
				BaseWidth:    vi.BaseWidth,
				BaseHeight:   vi.BaseHeight,
				OutputWidth:  vi.OutputWidth,
				OutputHeight: vi.OutputHeight,
				FPSNum:       vi.FPSNum,
				FPSDen:       vi.FPSDen,
			}
		}
		for _, o := range s.Outputs() {
			sc.Outputs = append(sc.Outputs, config.OutputConfig{Name: o.Name()})
		}
		out = append(out, sc)
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (r *Runtime) startWatcher(wc config.WatchConfig) {
	wcfg := watcher.DefaultConfig(r.opts.ConfigPath)
	if wc.Debounce > 0 {
		wcfg.DebounceDur = wc.Debounce
	}
	w, err := watcher.New(wcfg)
	if err != nil {
		log.Warn(log.CatWatcher, "Config watcher unavailable", "error", err)
		return
	}
	changes, err := w.Start()
	if err != nil {
		_ = w.Stop()
		log.Warn(log.CatWatcher, "Config watcher failed to start", "error", err)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	r.mu.Lock()
	r.watcherHandle = w
	r.watcherCtx = ctx
	r.watcherCancel = cancel
	r.mu.Unlock()

	log.SafeGo("runtime.reload", func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-changes:
				r.reload(ctx)
			}
		}
	})
}

// reload re-reads the config file and reconciles the declared stages.
func (r *Runtime) reload(ctx context.Context) {
	cfg, err := config.Load(r.opts.ConfigPath)
	if err != nil {
		log.ErrorErr(log.CatConfig, "Config reload failed", err, "path", r.opts.ConfigPath)
		return
	}
	r.mu.Lock()
	// The main stage and the ambient sections keep their startup values.
	r.cfg.Stages = cfg.Stages
	applied := r.cfg
	r.mu.Unlock()

	if err := r.Reconcile(ctx, cfg.Stages); err != nil {
		log.Warn(log.CatConfig, "Config reload applied partially", "error", err)
	}
	r.reloads.Publish(pubsub.UpdatedEvent, applied)
	log.Info(log.CatConfig, "Config reloaded", "stages", len(cfg.Stages))
}

// Close stops the watcher, saves stages when save-on-exit is enabled,
// releases every owned reference, shuts the core down and flushes tracing.
// It is safe to call more than once.
func (r *Runtime) Close(ctx context.Context) error {
	r.closeOnce.Do(func() {
		r.closeErr = r.close(ctx)
	})
	return r.closeErr
}

func (r *Runtime) close(ctx context.Context) error {
	var errs []error

	r.mu.Lock()
	cancel, w := r.watcherCancel, r.watcherHandle
	r.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	if w != nil {
		if err := w.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("stopping watcher: %w", err))
		}
	}

	if r.flags.Enabled(flags.FlagSaveOnExit) {
		if err := r.Save(ctx); err != nil {
			errs = append(errs, err)
		}
	}

	r.mu.Lock()
	held := make([]*stage.Stage, 0, len(r.owned)+len(r.restored)+1)
	for _, s := range r.owned {
		held = append(held, s)
	}
	held = append(held, r.restored...)
	if r.main != nil {
		held = append(held, r.main)
	}
	r.owned = make(map[string]*stage.Stage)
	r.restored = nil
	r.main = nil
	sub := r.removeSub
	r.removeSub = nil
	r.mu.Unlock()

	if sub != nil {
		sub.Disconnect()
	}
	for _, s := range held {
		s.Release()
	}

	r.core.Shutdown()

	if err := r.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("closing store: %w", err))
	}
	if err := r.tracing.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("flushing traces: %w", err))
	}
	r.reloads.Close()
	r.feed.Close()

	log.Info(log.CatCore, "Runtime closed")
	return errors.Join(errs...)
}
