package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/TechDevGroup/obs-impl/internal/canvas"
	"github.com/TechDevGroup/obs-impl/internal/config"
	"github.com/TechDevGroup/obs-impl/internal/flags"
	"github.com/TechDevGroup/obs-impl/internal/record"
	"github.com/TechDevGroup/obs-impl/internal/stage"
	"github.com/TechDevGroup/obs-impl/internal/store"
	"github.com/TechDevGroup/obs-impl/internal/tracing"
)

// testConfig returns a config with watching disabled and two stages.
func testConfig() config.Config {
	cfg := config.Defaults()
	cfg.Watch.Enabled = false
	cfg.Stages = []config.StageConfig{
		{
			Name:     "Studio",
			MixAudio: true,
			Outputs: []config.OutputConfig{
				{Name: "record", Autostart: true},
				{Name: "stream"},
			},
		},
		{Name: "Backstage", Private: true},
	}
	return cfg
}

func newTestRuntime(t *testing.T, cfg config.Config, opts Options) (*Runtime, *canvas.MemoryFactory) {
	t.Helper()
	f := canvas.NewMemoryFactory()
	opts.Factory = f
	if opts.Store == nil {
		opts.Store = store.NewYAMLFile(filepath.Join(t.TempDir(), "stages.yaml"))
	}
	if opts.Tracing == nil {
		opts.Tracing = tracing.Noop()
	}
	r, err := New(cfg, opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close(context.Background()) })
	return r, f
}

func TestNew_RejectsInvalidConfig(t *testing.T) {
	cfg := testConfig()
	cfg.Stages = append(cfg.Stages, config.StageConfig{Name: "Studio"})
	_, err := New(cfg, Options{Store: store.NewYAMLFile(filepath.Join(t.TempDir(), "s.yaml"))})
	require.ErrorContains(t, err, "duplicate name")
}

func TestRuntime_StartCreatesConfiguredStages(t *testing.T) {
	r, f := newTestRuntime(t, testConfig(), Options{})
	ctx := context.Background()
	require.NoError(t, r.Start(ctx))

	require.Equal(t, []string{"Backstage", "Main", "Studio"}, r.StageNames())
	require.Equal(t, int64(3), f.Live())

	main := r.Core().Main()
	require.NotNil(t, main)
	require.Equal(t, "Main", main.Name())
	require.True(t, main.Flags().Has(stage.FlagMixAudio))
	main.Release()

	studio := r.Core().StageByName("Studio")
	require.NotNil(t, studio)
	defer studio.Release()
	require.Equal(t, 2, studio.OutputCount())
	require.True(t, studio.Output(0).Active())
	require.False(t, studio.Output(1).Active())
	info, ok := studio.VideoInfo()
	require.True(t, ok)
	require.Equal(t, uint32(1920), info.BaseWidth, "zero video inherits the main video")

	backstage := r.Core().StageByName("Backstage")
	require.NotNil(t, backstage)
	require.True(t, backstage.Private())
	backstage.Release()

	require.Error(t, r.Start(ctx))
}

func TestRuntime_Reconcile(t *testing.T) {
	r, f := newTestRuntime(t, testConfig(), Options{})
	ctx := context.Background()
	require.NoError(t, r.Start(ctx))

	require.NoError(t, r.Reconcile(ctx, []config.StageConfig{
		{Name: "Studio"},
		{Name: "Remote", Video: config.VideoConfig{BaseWidth: 1280, BaseHeight: 720, FPSNum: 60, FPSDen: 1}},
	}))
	require.Equal(t, []string{"Main", "Remote", "Studio"}, r.StageNames())
	require.Equal(t, int64(3), f.Live())

	remote := r.Core().StageByName("Remote")
	require.NotNil(t, remote)
	info, _ := remote.VideoInfo()
	require.Equal(t, uint32(1280), info.OutputWidth)
	remote.Release()

	require.NoError(t, r.Reconcile(ctx, nil))
	require.Equal(t, []string{"Main"}, r.StageNames())
}

func TestRuntime_ReconcileReportsFailures(t *testing.T) {
	r, _ := newTestRuntime(t, testConfig(), Options{})
	ctx := context.Background()
	require.NoError(t, r.Start(ctx))

	err := r.Reconcile(ctx, []config.StageConfig{
		{Name: "Studio"},
		{Name: "Main"},
	})
	require.ErrorIs(t, err, stage.ErrNameTaken)
	require.Equal(t, []string{"Main", "Studio"}, r.StageNames())
}

func TestRuntime_RemoveReleasesOwnedStage(t *testing.T) {
	r, _ := newTestRuntime(t, testConfig(), Options{})
	require.NoError(t, r.Start(context.Background()))

	studio := r.Core().StageByName("Studio")
	require.NotNil(t, studio)
	studio.Remove()
	require.Equal(t, int64(1), studio.Refs())
	studio.Release()

	require.Nil(t, r.Core().StageByName("Studio"))
}

func TestRuntime_SaveAndRestore(t *testing.T) {
	st := store.NewYAMLFile(filepath.Join(t.TempDir(), "stages.yaml"))
	ctx := context.Background()

	cfg := testConfig()
	first, _ := newTestRuntime(t, cfg, Options{Store: st})
	require.NoError(t, first.Start(ctx))
	require.NoError(t, first.Save(ctx))

	recs, err := st.List(ctx)
	require.NoError(t, err)
	require.Len(t, recs, 1, "main and private stages are not saved")
	require.Equal(t, "Studio", recs[0].String(stage.KeyName))
	require.NoError(t, first.Close(ctx))

	restoreCfg := config.Defaults()
	restoreCfg.Watch.Enabled = false
	restoreCfg.Flags = map[string]bool{flags.FlagRestoreOnStart: true}
	second, _ := newTestRuntime(t, restoreCfg, Options{Store: store.NewYAMLFile(st.Path())})
	require.NoError(t, second.Start(ctx))
	require.Equal(t, []string{"Main", "Studio"}, second.StageNames())

	studio := second.Core().StageByName("Studio")
	require.NotNil(t, studio)
	require.True(t, studio.Flags().Has(stage.FlagMixAudio))
	studio.Release()
}

func TestRuntime_SaveOnExit(t *testing.T) {
	st := store.NewYAMLFile(filepath.Join(t.TempDir(), "stages.yaml"))
	ctx := context.Background()

	cfg := testConfig()
	cfg.Flags = map[string]bool{flags.FlagSaveOnExit: true}
	r, f := newTestRuntime(t, cfg, Options{Store: st})
	require.NoError(t, r.Start(ctx))
	require.NoError(t, r.Close(ctx))
	require.NoError(t, r.Close(ctx))

	require.Zero(t, f.Live())
	require.True(t, r.Core().Closed())
	rec, err := store.NewYAMLFile(st.Path()).Get(ctx, "Studio")
	require.NoError(t, err)
	require.Equal(t, "Studio", rec.String(stage.KeyName))
}

func TestRuntime_SignalFeed(t *testing.T) {
	cfg := testConfig()
	cfg.Stages = nil
	cfg.Flags = map[string]bool{flags.FlagSignalMirror: true}
	r, _ := newTestRuntime(t, cfg, Options{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events := r.Feed().Subscribe(ctx)
	require.NoError(t, r.Start(ctx))

	select {
	case ev := <-events:
		require.Equal(t, "core", ev.Payload.Source)
		require.Equal(t, stage.SignalStageCreate, ev.Payload.Signal)
		require.Contains(t, ev.Payload.Params["stage"], "Main")
	case <-time.After(time.Second):
		t.Fatal("no mirrored emission")
	}
}

func TestRuntime_ExportStagesRoundTripsThroughConfig(t *testing.T) {
	r, _ := newTestRuntime(t, testConfig(), Options{})
	require.NoError(t, r.Start(context.Background()))

	exported := r.ExportStages()
	require.Len(t, exported, 1)
	require.Equal(t, "Studio", exported[0].Name)
	require.True(t, exported[0].MixAudio)
	require.Equal(t, []config.OutputConfig{{Name: "record"}, {Name: "stream"}}, exported[0].Outputs)

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, config.WriteDefaultConfig(path))
	require.NoError(t, config.SaveStages(path, exported))

	cfg, err := config.Load(path)
	require.NoError(t, err)
	require.Equal(t, exported, cfg.Stages)
}

func TestRuntime_ReloadsOnConfigChange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, config.WriteDefaultConfig(path))

	cfg, err := config.Load(path)
	require.NoError(t, err)
	cfg.Watch.Debounce = 20 * time.Millisecond
	r, _ := newTestRuntime(t, cfg, Options{ConfigPath: path})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	reloads := r.Reloads().Subscribe(ctx)
	require.NoError(t, r.Start(ctx))
	require.Equal(t, []string{"Main"}, r.StageNames())

	require.NoError(t, config.SaveStages(path, []config.StageConfig{{Name: "Hot"}}))

	select {
	case ev := <-reloads:
		require.Len(t, ev.Payload.Stages, 1)
	case <-time.After(2 * time.Second):
		t.Fatal("config change was not applied")
	}
	require.Equal(t, []string{"Hot", "Main"}, r.StageNames())
	require.Equal(t, "Hot", r.Config().Stages[0].Name)
}

func TestOpenStore_SQLiteWithCache(t *testing.T) {
	ctx := context.Background()
	st, err := OpenStore(config.StoreConfig{
		Backend:  "sqlite",
		Path:     filepath.Join(t.TempDir(), "stages.db"),
		CacheTTL: time.Minute,
	})
	require.NoError(t, err)
	defer func() { require.NoError(t, st.Close()) }()

	rec := record.New()
	rec.SetString(stage.KeyName, "cam")
	rec.SetInt(stage.KeyFlags, 2)
	require.NoError(t, st.Put(ctx, rec))

	got, err := st.Get(ctx, "cam")
	require.NoError(t, err)
	require.Equal(t, int64(2), got.Int(stage.KeyFlags))
}

func TestOpenStore_YAMLDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "stages.yaml")
	st, err := OpenStore(config.StoreConfig{Backend: "yaml", Path: path})
	require.NoError(t, err)
	require.NoError(t, st.ReplaceAll(context.Background(), nil))
	_, err = os.Stat(path)
	require.NoError(t, err)
	require.NoError(t, st.Close())
}
