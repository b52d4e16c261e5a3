package flags

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRegistry_Enabled(t *testing.T) {
	tests := []struct {
		name     string
		registry *Registry
		flag     string
		expected bool
	}{
		{"set true", New(map[string]bool{FlagSignalMirror: true}), FlagSignalMirror, true},
		{"set false", New(map[string]bool{FlagSaveOnExit: false}), FlagSaveOnExit, false},
		{"unset known flag", New(map[string]bool{FlagSignalMirror: true}), FlagRestoreOnStart, false},
		{"unknown flag is still readable", New(map[string]bool{"beta-ui": true}), "beta-ui", true},
		{"nil registry", nil, FlagSaveOnExit, false},
		{"nil map", New(nil), FlagSaveOnExit, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.expected, tt.registry.Enabled(tt.flag))
		})
	}
}

func TestRegistry_AllIsACopy(t *testing.T) {
	r := New(map[string]bool{FlagRestoreOnStart: true})

	all := r.All()
	all[FlagRestoreOnStart] = false
	all[FlagSaveOnExit] = true

	require.True(t, r.Enabled(FlagRestoreOnStart))
	require.False(t, r.Enabled(FlagSaveOnExit))
	require.Equal(t, map[string]bool{FlagRestoreOnStart: true}, r.All())
	require.Equal(t, map[string]bool{}, (*Registry)(nil).All())
}

func TestNew_CopiesInput(t *testing.T) {
	in := map[string]bool{FlagSaveOnExit: true}
	r := New(in)
	in[FlagSaveOnExit] = false
	in[FlagSignalMirror] = true

	require.True(t, r.Enabled(FlagSaveOnExit))
	require.False(t, r.Enabled(FlagSignalMirror))
}

func TestRegistry_Unknown(t *testing.T) {
	r := New(map[string]bool{
		FlagSignalMirror:   true,
		FlagRestoreOnStart: false,
		"zeta":             true,
		"alpha":            false,
	})
	require.Equal(t, []string{"alpha", "zeta"}, r.Unknown())

	require.Empty(t, New(map[string]bool{FlagSaveOnExit: true}).Unknown())
	require.Nil(t, (*Registry)(nil).Unknown())
}

func TestKnownFlags(t *testing.T) {
	require.ElementsMatch(t,
		[]string{"signal-mirror", "restore-on-start", "save-on-exit"},
		Known)
}
