package cmd

import (
	"context"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/TechDevGroup/obs-impl/internal/app"
	"github.com/TechDevGroup/obs-impl/internal/flags"
	"github.com/TechDevGroup/obs-impl/internal/log"
	"github.com/TechDevGroup/obs-impl/internal/monitor"
	"github.com/TechDevGroup/obs-impl/internal/pubsub"
	"github.com/TechDevGroup/obs-impl/internal/signal"
)

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Run the stage runtime with a live terminal view",
	Long: `Run the same runtime as "stagectl run" and show live stages, their
outputs and every emitted signal. Press tab to switch to the log pane
(requires logging to be enabled) and q to quit.`,
	RunE: runMonitor,
}

func init() {
	rootCmd.AddCommand(monitorCmd)
}

func runMonitor(cmd *cobra.Command, _ []string) error {
	cleanup, err := initLogging(true)
	if err != nil {
		return err
	}
	defer cleanup()

	// The signal pane needs every emission mirrored.
	if cfg.Flags == nil {
		cfg.Flags = map[string]bool{}
	}
	cfg.Flags[flags.FlagSignalMirror] = true

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	// Subscribe before Start so the main stage's stage_create is shown.
	var signals *pubsub.ContinuousListener[signal.Emission]
	rt, err := newRuntime(ctx, func(rt *app.Runtime) {
		signals = pubsub.NewContinuousListener(ctx, rt.Feed())
	})
	if err != nil {
		return err
	}
	defer closeRuntime(rt)

	model := monitor.New(rt.Core(), signals, log.NewListener(ctx))
	p := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx))
	if _, err := p.Run(); err != nil {
		return fmt.Errorf("running monitor: %w", err)
	}
	return nil
}
