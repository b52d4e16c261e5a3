package stage

import (
	"github.com/TechDevGroup/obs-impl/internal/output"
	"github.com/TechDevGroup/obs-impl/internal/signal"
)

// Per-stage signal names.
const (
	SignalDestroy      = "destroy"
	SignalRemove       = "remove"
	SignalOutputAdd    = "output_add"
	SignalOutputRemove = "output_remove"
	SignalOutputStart  = "output_start"
	SignalOutputStop   = "output_stop"
	SignalRename       = "rename"
)

// Process-wide signal names, emitted on Core.Signals.
const (
	SignalStageCreate  = "stage_create"
	SignalStageDestroy = "stage_destroy"
	SignalStageRemove  = "stage_remove"
	SignalStageRename  = "stage_rename"
)

var stageSignals = []string{
	"void destroy(ptr stage)",
	"void remove(ptr stage)",
	"void output_add(ptr stage, ptr output)",
	"void output_remove(ptr stage, ptr output)",
	"void output_start(ptr stage, ptr output)",
	"void output_stop(ptr stage, ptr output)",
	"void rename(ptr stage, string new_name, string prev_name)",
}

var coreSignals = []string{
	"void stage_create(ptr stage)",
	"void stage_destroy(ptr stage)",
	"void stage_remove(ptr stage)",
	"void stage_rename(ptr stage, string new_name, string prev_name)",
}

// StageFrom extracts the stage parameter of a stage signal. The stage is
// borrowed for the duration of the callback.
func StageFrom(cd *signal.Calldata) (*Stage, bool) {
	return signal.PtrAs[*Stage](cd, "stage")
}

// OutputFrom extracts the output parameter of an output_* signal.
func OutputFrom(cd *signal.Calldata) (output.Output, bool) {
	return signal.PtrAs[output.Output](cd, "output")
}

// dosignal emits on the core (unless private) and then on the stage, with
// the same fixed-capacity calldata. Either name may be empty.
func (s *Stage) dosignal(global, local string) {
	cd := signal.NewFixed()
	cd.SetPtr("stage", s)
	if global != "" && !s.private {
		s.core.signals.Emit(global, &cd)
	}
	if local != "" {
		s.signals.Emit(local, &cd)
	}
}

func (s *Stage) dosignalOutput(name string, o output.Output) {
	cd := signal.NewFixed()
	cd.SetPtr("stage", s)
	cd.SetPtr("output", o)
	s.signals.Emit(name, &cd)
}
