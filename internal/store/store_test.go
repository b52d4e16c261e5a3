package store

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/TechDevGroup/obs-impl/internal/record"
)

func stageRecord(name string, flags int64) record.Record {
	r := record.New()
	r.SetString("name", name)
	r.SetInt("flags", flags)
	r.SetInt("base_width", 1920)
	r.SetInt("base_height", 1080)
	r.SetInt("fps_num", 30)
	r.SetInt("fps_den", 1)
	return r
}

func TestYAMLFile_EmptyWhenMissing(t *testing.T) {
	s := NewYAMLFile(filepath.Join(t.TempDir(), "stages.yaml"))
	recs, err := s.List(context.Background())
	require.NoError(t, err)
	require.Empty(t, recs)

	_, err = s.Get(context.Background(), "A")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestYAMLFile_PutGetDelete(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "stages.yaml")
	s := NewYAMLFile(path)

	require.NoError(t, s.Put(ctx, stageRecord("B", 2)))
	require.NoError(t, s.Put(ctx, stageRecord("A", 0)))
	require.NoError(t, s.Put(ctx, stageRecord("A", 4))) // replaces

	recs, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	require.Equal(t, "A", recs[0].String("name"), "written sorted by name")
	require.Equal(t, int64(4), recs[0].Int("flags"))
	require.Equal(t, uint32(1920), recs[1].Uint32("base_width"))

	got, err := s.Get(ctx, "B")
	require.NoError(t, err)
	require.True(t, stageRecord("B", 2).Equal(got))

	require.NoError(t, s.Delete(ctx, "B"))
	require.NoError(t, s.Delete(ctx, "missing"))
	recs, err = s.List(ctx)
	require.NoError(t, err)
	require.Len(t, recs, 1)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(data), "stages:")
}

func TestYAMLFile_RejectsNamelessRecords(t *testing.T) {
	s := NewYAMLFile(filepath.Join(t.TempDir(), "stages.yaml"))
	require.Error(t, s.Put(context.Background(), record.New()))
	require.Error(t, s.ReplaceAll(context.Background(), []record.Record{record.New()}))
}

func TestYAMLFile_ReplaceAll(t *testing.T) {
	ctx := context.Background()
	s := NewYAMLFile(filepath.Join(t.TempDir(), "stages.yaml"))
	require.NoError(t, s.Put(ctx, stageRecord("old", 0)))

	require.NoError(t, s.ReplaceAll(ctx, []record.Record{stageRecord("x", 0), stageRecord("y", 0)}))
	recs, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	require.Equal(t, "x", recs[0].String("name"))
}

func TestYAMLFile_CorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stages.yaml")
	require.NoError(t, os.WriteFile(path, []byte("stages: [unterminated"), 0o600))
	_, err := NewYAMLFile(path).List(context.Background())
	require.Error(t, err)
}

// countingStore counts Get calls on the inner store.
type countingStore struct {
	Store
	gets atomic.Int32
}

func (c *countingStore) Get(ctx context.Context, name string) (record.Record, error) {
	c.gets.Add(1)
	return c.Store.Get(ctx, name)
}

func TestCached_ReadThroughAndInvalidate(t *testing.T) {
	ctx := context.Background()
	inner := &countingStore{Store: NewYAMLFile(filepath.Join(t.TempDir(), "stages.yaml"))}
	s := NewCached(inner, 0)
	defer s.Close()

	require.NoError(t, s.Put(ctx, stageRecord("A", 2)))

	for i := 0; i < 3; i++ {
		got, err := s.Get(ctx, "A")
		require.NoError(t, err)
		require.Equal(t, int64(2), got.Int("flags"))
		got.SetInt("flags", 99) // callers get copies
	}
	require.Equal(t, int32(1), inner.gets.Load())
	require.Equal(t, uint64(2), s.Stats().Hits)
	require.Equal(t, uint64(1), s.Stats().Misses)

	require.NoError(t, s.Put(ctx, stageRecord("A", 4)))
	got, err := s.Get(ctx, "A")
	require.NoError(t, err)
	require.Equal(t, int64(4), got.Int("flags"))
	require.Equal(t, int32(2), inner.gets.Load())

	require.NoError(t, s.Delete(ctx, "A"))
	_, err = s.Get(ctx, "A")
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.ReplaceAll(ctx, []record.Record{stageRecord("B", 0)}))
	recs, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, recs, 1)
}
