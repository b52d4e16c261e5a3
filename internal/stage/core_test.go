package stage_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"pgregory.net/rapid"

	"github.com/TechDevGroup/obs-impl/internal/canvas"
	"github.com/TechDevGroup/obs-impl/internal/log"
	"github.com/TechDevGroup/obs-impl/internal/pubsub"
	"github.com/TechDevGroup/obs-impl/internal/record"
	"github.com/TechDevGroup/obs-impl/internal/signal"
	"github.com/TechDevGroup/obs-impl/internal/stage"
	"github.com/TechDevGroup/obs-impl/internal/store"
	"github.com/TechDevGroup/obs-impl/internal/tracing"
)

func TestCore_CreateFailuresRollBack(t *testing.T) {
	c, f := newCore(t)

	_, err := c.Create("", hd(), 0)
	require.ErrorIs(t, err, stage.ErrInvalidName)

	_, err = c.Create("bad", &canvas.VideoInfo{BaseWidth: 1920}, 0)
	require.ErrorIs(t, err, canvas.ErrInvalidVideoInfo)
	require.Zero(t, f.Live())

	a := mustCreate(t, c, "a")
	defer a.Release()
	_, err = c.Create("a", hd(), 0)
	require.ErrorIs(t, err, stage.ErrNameTaken)
	require.Equal(t, 1, c.Count())
	require.Equal(t, int64(1), f.Live(), "canvas of the rejected stage is released")
}

func TestCore_CreateFactoryError(t *testing.T) {
	boom := errors.New("no gpu")
	c := stage.NewCore(stage.Options{Factory: canvas.FactoryFunc(
		func(string, *canvas.VideoInfo, canvas.Flags) (canvas.Canvas, error) { return nil, boom },
	)})
	defer c.Shutdown()
	created := listen(t, c.Signals(), stage.SignalStageCreate)

	s, err := c.Create("a", hd(), 0)
	require.ErrorIs(t, err, boom)
	require.Nil(t, s)
	require.Zero(t, c.Count())
	require.Zero(t, created.count())
}

func TestCore_CreateWithoutVideo(t *testing.T) {
	c, _ := newCore(t)
	s, err := c.Create("audio-only", nil, stage.FlagMixAudio)
	require.NoError(t, err)
	defer s.Release()

	require.Nil(t, s.Video())
	_, ok := s.VideoInfo()
	require.False(t, ok)
}

func TestCore_CreateStripsMainFlag(t *testing.T) {
	c, _ := newCore(t)
	s, err := c.Create("a", hd(), stage.FlagMain|stage.FlagMixAudio)
	require.NoError(t, err)
	defer s.Release()

	require.False(t, s.IsMain())
	require.Equal(t, stage.FlagMixAudio, s.Flags())
	require.Nil(t, c.Main())
}

func TestCore_MainOutlivesReleases(t *testing.T) {
	c, _ := newCore(t)
	main, err := c.CreateMain("Main", hd(), 0)
	require.NoError(t, err)
	require.True(t, main.IsMain())

	_, err = c.CreateMain("Second", hd(), 0)
	require.ErrorIs(t, err, stage.ErrMainExists)

	main.Release()
	got := c.Main()
	require.Same(t, main, got)
	got.Release()

	c.Shutdown()
	require.Nil(t, main.Canvas())
	require.Nil(t, c.Main())
}

func TestCore_LookupByUUID(t *testing.T) {
	c, _ := newCore(t)
	s := mustCreate(t, c, "a")
	defer s.Release()

	got := c.StageByUUID(s.UUID())
	require.Same(t, s, got)
	got.Release()

	require.Nil(t, c.StageByUUID(""))
	require.Nil(t, c.StageByUUID("00000000-0000-0000-0000-000000000000"))
}

func TestCore_EnumerateDestroysCurrent(t *testing.T) {
	c, f := newCore(t)
	held := make(map[string]*stage.Stage)
	for i := 0; i < 6; i++ {
		name := fmt.Sprintf("s%d", i)
		held[name] = mustCreate(t, c, name)
	}

	visits := make(map[string]int)
	c.EnumStages(func(s *stage.Stage) bool {
		visits[s.Name()]++
		held[s.Name()].Release()
		return true
	})

	require.Len(t, visits, 6)
	for name, n := range visits {
		require.Equal(t, 1, n, name)
	}
	require.Zero(t, c.Count())
	require.Zero(t, f.Live())
}

func TestCore_EnumerateDestroysOther(t *testing.T) {
	c, _ := newCore(t)
	a := mustCreate(t, c, "a")
	b := mustCreate(t, c, "b")

	var visited []string
	c.EnumStages(func(s *stage.Stage) bool {
		visited = append(visited, s.Name())
		if s == b {
			a.Release()
		} else {
			b.Release()
		}
		return true
	})
	sort.Strings(visited)
	require.Equal(t, []string{"a", "b"}, visited)
	require.Zero(t, c.Count())
}

func TestCore_EnumerateStopsEarly(t *testing.T) {
	c, _ := newCore(t)
	for i := 0; i < 3; i++ {
		s := mustCreate(t, c, fmt.Sprintf("s%d", i))
		defer s.Release()
	}
	n := 0
	c.EnumStages(func(*stage.Stage) bool {
		n++
		return false
	})
	require.Equal(t, 1, n)
}

func TestCore_FindByNameVersusDestroy(t *testing.T) {
	c, _ := newCore(t)
	for round := 0; round < 100; round++ {
		s := mustCreate(t, c, "contested")
		var (
			wg    sync.WaitGroup
			bad   sync.Map
			start = make(chan struct{})
		)
		for i := 0; i < 4; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				<-start
				for j := 0; j < 50; j++ {
					found := c.StageByName("contested")
					if found == nil {
						continue
					}
					if found.Canvas() == nil || found.Name() != "contested" {
						bad.Store(j, true)
					}
					found.Release()
				}
			}()
		}
		close(start)
		s.Release()
		wg.Wait()

		bad.Range(func(any, any) bool {
			t.Fatalf("round %d: found a stage after teardown", round)
			return false
		})
		require.Nil(t, c.StageByName("contested"))
	}
}

func TestStage_SaveLoadRoundTrip(t *testing.T) {
	c, _ := newCore(t)
	s, err := c.Create("cam", &canvas.VideoInfo{
		BaseWidth: 1920, BaseHeight: 1080, OutputWidth: 1280, OutputHeight: 720, FPSNum: 60000, FPSDen: 1001,
	}, stage.FlagMixAudio)
	require.NoError(t, err)

	rec := s.Save()
	require.NotNil(t, rec)
	require.ElementsMatch(t, []string{
		stage.KeyName, stage.KeyFlags,
		stage.KeyBaseWidth, stage.KeyBaseHeight, stage.KeyOutputWidth, stage.KeyOutputHeight,
		stage.KeyFPSNum, stage.KeyFPSDen,
	}, rec.Keys())
	s.Release()

	loaded, err := c.Load(rec)
	require.NoError(t, err)
	defer loaded.Release()

	require.Equal(t, "cam", loaded.Name())
	require.Equal(t, stage.FlagMixAudio, loaded.Flags())
	info, ok := loaded.VideoInfo()
	require.True(t, ok)
	require.Equal(t, canvas.VideoInfo{
		BaseWidth: 1920, BaseHeight: 1080, OutputWidth: 1280, OutputHeight: 720, FPSNum: 60000, FPSDen: 1001,
	}, info)
	require.True(t, rec.Equal(loaded.Save()))
}

func TestStage_SaveEphemeralIsNil(t *testing.T) {
	c, _ := newCore(t)
	s, err := c.Create("tmp", hd(), stage.FlagEphemeral)
	require.NoError(t, err)
	defer s.Release()
	require.Nil(t, s.Save())
}

func TestCore_LoadStripsMainAndIgnoresUnknownKeys(t *testing.T) {
	c, _ := newCore(t)
	rec := record.New()
	rec.SetString(stage.KeyName, "restored")
	rec.SetInt(stage.KeyFlags, int64(stage.FlagMain|stage.FlagMixAudio))
	rec.SetString("future_key", "ignored")

	s, err := c.Load(rec)
	require.NoError(t, err)
	defer s.Release()

	require.False(t, s.IsMain())
	require.Equal(t, stage.FlagMixAudio, s.Flags())
	require.Nil(t, s.Video(), "missing video keys load without video")

	_, err = c.Load(nil)
	require.Error(t, err)
}

func TestCore_SaveAllLoadAll(t *testing.T) {
	ctx := context.Background()
	st := store.NewYAMLFile(filepath.Join(t.TempDir(), "stages.yaml"))

	c1, _ := newCore(t)
	main, err := c1.CreateMain("Main", hd(), 0)
	require.NoError(t, err)
	defer main.Release()
	public := mustCreate(t, c1, "public")
	defer public.Release()
	private, err := c1.CreatePrivate("private", hd(), 0)
	require.NoError(t, err)
	defer private.Release()
	eph, err := c1.Create("eph", hd(), stage.FlagEphemeral)
	require.NoError(t, err)
	defer eph.Release()

	require.NoError(t, c1.SaveAll(ctx, st))
	recs, err := st.List(ctx)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	require.Equal(t, "public", recs[0].String(stage.KeyName))

	c2, _ := newCore(t)
	taken := mustCreate(t, c2, "public")
	loaded, err := c2.LoadAll(ctx, st)
	require.NoError(t, err)
	require.Empty(t, loaded, "live names are skipped")
	taken.Release()

	loaded, err = c2.LoadAll(ctx, st)
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	require.Equal(t, "public", loaded[0].Name())
	loaded[0].Release()
}

func TestCore_LoadAllJoinsFailures(t *testing.T) {
	ctx := context.Background()
	st := store.NewYAMLFile(filepath.Join(t.TempDir(), "stages.yaml"))

	good := record.New()
	good.SetString(stage.KeyName, "good")
	bad := record.New()
	bad.SetString(stage.KeyName, "bad")
	bad.SetInt(stage.KeyBaseWidth, 640)
	require.NoError(t, st.ReplaceAll(ctx, []record.Record{good, bad}))

	c, _ := newCore(t)
	loaded, err := c.LoadAll(ctx, st)
	require.ErrorIs(t, err, canvas.ErrInvalidVideoInfo)
	require.Len(t, loaded, 1)
	require.Equal(t, "good", loaded[0].Name())
	loaded[0].Release()
}

type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestCore_ShutdownWithOutstandingRefs(t *testing.T) {
	var buf lockedBuffer
	log.InitWriter(&buf, log.LevelWarn)
	t.Cleanup(func() { log.InitWriter(io.Discard, log.LevelError) })

	f := canvas.NewMemoryFactory()
	c := stage.NewCore(stage.Options{Factory: f})
	main, err := c.CreateMain("Main", hd(), 0)
	require.NoError(t, err)
	main.Release()
	leaked := mustCreate(t, c, "leaked")
	destroyed := listen(t, leaked.Signals(), stage.SignalDestroy)

	c.Shutdown()
	c.Shutdown()

	require.True(t, c.Closed())
	require.Zero(t, c.Count())
	require.Zero(t, f.Live())
	require.Equal(t, 1, destroyed.count())
	require.Contains(t, buf.String(), "Stage still referenced at shutdown")

	leaked.Release()
	require.Equal(t, 1, destroyed.count())
	require.Contains(t, buf.String(), "after core shutdown")

	_, err = c.Create("late", hd(), 0)
	require.ErrorIs(t, err, stage.ErrCoreClosed)
}

func TestCore_MainVisibleToCreateSubscribers(t *testing.T) {
	c, _ := newCore(t)
	seen := make(chan *stage.Stage, 1)
	_, err := c.Signals().Connect(stage.SignalStageCreate, func(*signal.Calldata) {
		seen <- c.Main()
	})
	require.NoError(t, err)

	type result struct {
		s   *stage.Stage
		err error
	}
	done := make(chan result, 1)
	go func() {
		s, err := c.CreateMain("Main", hd(), 0)
		done <- result{s, err}
	}()

	var res result
	select {
	case res = <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("CreateMain blocked while a stage_create subscriber called Main")
	}
	require.NoError(t, res.err)
	defer res.s.Release()

	got := <-seen
	require.Same(t, res.s, got)
	got.Release()
}

func TestCore_CreateMainConcurrentOnlyOneWins(t *testing.T) {
	c, _ := newCore(t)
	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		won   []*stage.Stage
		errs  []error
		start = make(chan struct{})
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			s, err := c.CreateMain(fmt.Sprintf("main-%d", i), hd(), 0)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
				return
			}
			won = append(won, s)
		}(i)
	}
	close(start)
	wg.Wait()

	require.Len(t, won, 1)
	require.Len(t, errs, 7)
	for _, err := range errs {
		require.ErrorIs(t, err, stage.ErrMainExists)
	}
	main := c.Main()
	require.Same(t, won[0], main)
	main.Release()
	won[0].Release()
}

func TestCore_CreateRacingShutdownIsRefused(t *testing.T) {
	mem := canvas.NewMemoryFactory()
	entered := make(chan struct{})
	proceed := make(chan struct{})
	c := stage.NewCore(stage.Options{Factory: canvas.FactoryFunc(
		func(name string, info *canvas.VideoInfo, flags canvas.Flags) (canvas.Canvas, error) {
			close(entered)
			<-proceed
			return mem.Create(name, info, flags)
		},
	)})

	type result struct {
		s   *stage.Stage
		err error
	}
	done := make(chan result, 1)
	go func() {
		s, err := c.Create("late", hd(), 0)
		done <- result{s, err}
	}()

	<-entered
	c.Shutdown()
	close(proceed)
	res := <-done

	require.ErrorIs(t, res.err, stage.ErrCoreClosed)
	require.Nil(t, res.s)
	require.Zero(t, c.Count())
	require.Zero(t, mem.Live(), "canvas of the refused stage is released")
}

func TestCore_ShutdownExpiresOutstandingHandles(t *testing.T) {
	c, _ := newCore(t)
	a := mustCreate(t, c, "a")
	w := a.Weak()
	defer w.Release()

	c.Shutdown()

	require.Equal(t, "freed", a.State().String())
	require.True(t, a.Expired())
	require.True(t, w.Expired())
	_, ok := w.Get()
	require.False(t, ok, "no promotion to a torn down stage")
	require.False(t, a.AddRef())
	a.Release()
}

func TestCore_RecreateNameDuringDestroy(t *testing.T) {
	c, _ := newCore(t)
	a := mustCreate(t, c, "a")

	var (
		again *stage.Stage
		err   error
	)
	_, cerr := a.Signals().Connect(stage.SignalDestroy, func(*signal.Calldata) {
		require.Nil(t, c.StageByName("a"))
		again, err = c.Create("a", hd(), 0)
	})
	require.NoError(t, cerr)

	a.Release()
	require.NoError(t, err)
	require.NotNil(t, again)
	defer again.Release()

	got := c.StageByName("a")
	require.Same(t, again, got)
	got.Release()
	require.Equal(t, 1, c.Count())
}

func TestCore_ShutdownUnderConcurrentUse(t *testing.T) {
	for round := 0; round < 20; round++ {
		f := canvas.NewMemoryFactory()
		c := stage.NewCore(stage.Options{Factory: f})
		main, err := c.CreateMain("Main", hd(), 0)
		require.NoError(t, err)
		main.Release()

		held := make([]*stage.Stage, 8)
		for i := range held {
			held[i] = mustCreate(t, c, fmt.Sprintf("held-%d", i))
		}

		var (
			wg    sync.WaitGroup
			bad   sync.Map
			start = make(chan struct{})
		)
		for w := 0; w < 4; w++ {
			wg.Add(4)
			go func(w int) {
				defer wg.Done()
				<-start
				for j := 0; j < 25; j++ {
					s, err := c.Create(fmt.Sprintf("w%d-%d", w, j), hd(), 0)
					if err != nil {
						if !errors.Is(err, stage.ErrCoreClosed) {
							bad.Store(err.Error(), true)
						}
						continue
					}
					s.Release()
				}
			}(w)
			go func(w int) {
				defer wg.Done()
				<-start
				for j := 0; j < 50; j++ {
					if s := c.StageByName(fmt.Sprintf("held-%d", (w+j)%len(held))); s != nil {
						_ = s.Canvas()
						s.Release()
					}
				}
			}(w)
			go func() {
				defer wg.Done()
				<-start
				for j := 0; j < 20; j++ {
					c.EnumStages(func(s *stage.Stage) bool {
						if s.Name() == "" {
							bad.Store("enumerated a stage without a name", true)
						}
						return true
					})
				}
			}()
			go func(w int) {
				defer wg.Done()
				<-start
				held[w].Release()
				held[w+4].Release()
			}(w)
		}
		close(start)
		c.Shutdown()
		wg.Wait()

		bad.Range(func(k, _ any) bool {
			t.Fatalf("round %d: %v", round, k)
			return false
		})
		require.Zero(t, c.Count(), "round %d", round)
		require.Zero(t, f.Live(), "round %d", round)
		_, err = c.Create("after", hd(), 0)
		require.ErrorIs(t, err, stage.ErrCoreClosed)
	}
}

func TestCore_MirrorPublishesEmissions(t *testing.T) {
	c, _ := newCore(t)
	broker := pubsub.NewBroker[signal.Emission]()
	defer broker.Close()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events := broker.Subscribe(ctx)

	before := mustCreate(t, c, "before")
	defer before.Release()
	c.Mirror(broker)

	after := mustCreate(t, c, "after")
	require.True(t, before.SetName("renamed"))
	after.Release()

	var got []string
	timeout := time.After(time.Second)
	for len(got) < 5 {
		select {
		case ev := <-events:
			got = append(got, ev.Payload.Source+"/"+ev.Payload.Signal)
		case <-timeout:
			t.Fatalf("timed out, got %v", got)
		}
	}
	require.Equal(t, []string{
		"core/stage_create",
		"stage:before/rename",
		"core/stage_rename",
		"core/stage_destroy",
		"stage:after/destroy",
	}, got)
}

func TestCore_MirrorRacingCreateCoversEveryStage(t *testing.T) {
	const n = 20
	for round := 0; round < 10; round++ {
		c, _ := newCore(t)
		broker := pubsub.NewBrokerWithBuffer[signal.Emission](1024)
		ctx, cancel := context.WithCancel(context.Background())
		events := broker.Subscribe(ctx)

		created := make([]*stage.Stage, n)
		errs := make([]error, n)
		var wg sync.WaitGroup
		start := make(chan struct{})
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			for i := range created {
				created[i], errs[i] = c.Create(fmt.Sprintf("m-%d", i), hd(), 0)
			}
		}()
		close(start)
		c.Mirror(broker)
		wg.Wait()
		for _, err := range errs {
			require.NoError(t, err)
		}

		for _, s := range created {
			s.Remove()
		}

		removed := map[string]bool{}
		timeout := time.After(time.Second)
		for len(removed) < n {
			select {
			case ev := <-events:
				if ev.Payload.Signal == stage.SignalRemove {
					removed[ev.Payload.Source] = true
				}
			case <-timeout:
				t.Fatalf("round %d: only %d of %d stages mirrored", round, len(removed), n)
			}
		}

		for _, s := range created {
			s.Release()
		}
		cancel()
		broker.Close()
	}
}

func TestCore_TracesLifecycle(t *testing.T) {
	mem := tracetest.NewInMemoryExporter()
	provider, err := tracing.NewProvider(tracing.Config{
		Enabled:   true,
		Exporter:  "none",
		Exporters: []sdktrace.SpanExporter{mem},
	})
	require.NoError(t, err)
	defer func() { _ = provider.Shutdown(context.Background()) }()

	c := stage.NewCore(stage.Options{Tracer: provider.Tracer()})
	s, err := c.Create("traced", hd(), 0)
	require.NoError(t, err)
	require.True(t, s.SetName("traced-2"))
	s.Release()
	_, err = c.Create("", hd(), 0)
	require.Error(t, err)
	c.Shutdown()

	var names []string
	for _, span := range mem.GetSpans() {
		names = append(names, span.Name)
	}
	require.Equal(t, []string{
		tracing.SpanStageCreate,
		tracing.SpanStageRename,
		tracing.SpanStageDestroy,
		tracing.SpanCoreShutdown,
	}, names)

	create := mem.GetSpans()[0]
	var hasUUID bool
	for _, kv := range create.Attributes {
		if string(kv.Key) == tracing.AttrStageUUID {
			hasUUID = kv.Value.AsString() != ""
		}
	}
	require.True(t, hasUUID)
}

// TestCore_Model drives random create/release/rename sequences and checks
// registry, name uniqueness and canvas ownership after every step.
func TestCore_Model(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		f := canvas.NewMemoryFactory()
		c := stage.NewCore(stage.Options{Factory: f})
		defer c.Shutdown()

		names := []string{"a", "b", "c", "d"}
		var held []*stage.Stage
		model := make(map[string]bool)

		steps := rapid.IntRange(1, 40).Draw(rt, "steps")
		for i := 0; i < steps; i++ {
			switch rapid.IntRange(0, 2).Draw(rt, "op") {
			case 0:
				name := rapid.SampledFrom(names).Draw(rt, "name")
				s, err := c.Create(name, hd(), 0)
				if model[name] {
					if !errors.Is(err, stage.ErrNameTaken) {
						rt.Fatalf("Create(%s) on taken name: %v", name, err)
					}
					continue
				}
				if err != nil {
					rt.Fatalf("Create(%s): %v", name, err)
				}
				held = append(held, s)
				model[name] = true
			case 1:
				if len(held) == 0 {
					continue
				}
				idx := rapid.IntRange(0, len(held)-1).Draw(rt, "release")
				s := held[idx]
				delete(model, s.Name())
				s.Release()
				held = append(held[:idx], held[idx+1:]...)
			case 2:
				if len(held) == 0 {
					continue
				}
				s := held[rapid.IntRange(0, len(held)-1).Draw(rt, "rename")]
				name := rapid.SampledFrom(names).Draw(rt, "to")
				prev := s.Name()
				want := !model[name]
				if got := s.SetName(name); got != want {
					rt.Fatalf("SetName(%s -> %s)=%v want %v", prev, name, got, want)
				}
				if want {
					delete(model, prev)
					model[name] = true
				}
			}

			if c.Count() != len(held) {
				rt.Fatalf("count=%d want %d", c.Count(), len(held))
			}
			if f.Live() != int64(len(held)) {
				rt.Fatalf("live canvases=%d want %d", f.Live(), len(held))
			}
			for name := range model {
				s := c.StageByName(name)
				if s == nil {
					rt.Fatalf("stage %s not found", name)
				}
				s.Release()
			}
		}
		for _, s := range held {
			s.Release()
		}
	})
}
