package log

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

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

func TestLog_FormatsFields(t *testing.T) {
	var buf lockedBuffer
	InitWriter(&buf, LevelDebug)

	Info(CatStage, "stage created", "name", "Main", "private", false)

	out := buf.String()
	require.Contains(t, out, "[INFO] [stage] stage created")
	require.Contains(t, out, "name=Main")
	require.Contains(t, out, "private=false")
}

func TestLog_OddFieldCount(t *testing.T) {
	var buf lockedBuffer
	InitWriter(&buf, LevelDebug)

	Debug(CatSignal, "orphan", "key")

	require.Contains(t, buf.String(), "key=<missing>")
}

func TestLog_MinLevelFilters(t *testing.T) {
	var buf lockedBuffer
	InitWriter(&buf, LevelWarn)

	Debug(CatCore, "hidden")
	Info(CatCore, "hidden too")
	Warn(CatCore, "visible")

	out := buf.String()
	require.NotContains(t, out, "hidden")
	require.Contains(t, out, "visible")
}

func TestLog_Disabled(t *testing.T) {
	var buf lockedBuffer
	InitWriter(&buf, LevelDebug)
	SetEnabled(false)
	defer SetEnabled(true)

	Error(CatCore, "nothing")
	require.Empty(t, buf.String())
}

func TestLog_ErrorErr(t *testing.T) {
	var buf lockedBuffer
	InitWriter(&buf, LevelDebug)

	ErrorErr(CatStore, "save failed", errors.New("disk full"), "path", "/tmp/x")
	ErrorErr(CatStore, "save failed", nil)

	out := buf.String()
	require.Contains(t, out, "error=disk full")
	require.Contains(t, out, "error=<nil>")
}

func TestLog_ListenerReceivesEntries(t *testing.T) {
	var buf lockedBuffer
	InitWriter(&buf, LevelDebug)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch := defaultLogger.broker.Subscribe(ctx)
	Info(CatCore, "hello")

	select {
	case ev := <-ch:
		require.Contains(t, ev.Payload, "hello")
	case <-time.After(time.Second):
		require.Fail(t, "timeout waiting for log event")
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in    string
		want  Level
		valid bool
	}{
		{"debug", LevelDebug, true},
		{"INFO", LevelInfo, true},
		{"", LevelInfo, true},
		{"warning", LevelWarn, true},
		{"error", LevelError, true},
		{"loud", LevelInfo, false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := ParseLevel(tt.in)
			require.Equal(t, tt.valid, ok)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestSafeGo_RecoversPanic(t *testing.T) {
	var buf lockedBuffer
	InitWriter(&buf, LevelDebug)

	done := make(chan struct{})
	SafeGo("boom", func() {
		defer close(done)
		panic("kaboom")
	})
	<-done

	require.Eventually(t, func() bool {
		return bytes.Contains([]byte(buf.String()), []byte("goroutine=boom"))
	}, time.Second, 5*time.Millisecond)
}
