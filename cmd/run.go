package cmd

import (
	"context"
	"fmt"
	"os"
	ossignal "os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/TechDevGroup/obs-impl/internal/app"
	"github.com/TechDevGroup/obs-impl/internal/log"
)

const shutdownTimeout = 30 * time.Second

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the stage runtime until interrupted",
	Long: `Create the main stage and every stage in the config, attach their outputs
and keep them alive until SIGINT or SIGTERM.

With watch.enabled the stages section is reconciled whenever the config file
changes. With the save-on-exit flag stages are persisted on shutdown.

Example:
  stagectl run
  stagectl run -c ./studio.yaml --debug`,
	RunE: runRuntime,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

// newRuntime builds and starts a runtime from the loaded config. before
// runs between construction and Start.
func newRuntime(ctx context.Context, before func(*app.Runtime)) (*app.Runtime, error) {
	rt, err := app.New(cfg, app.Options{ConfigPath: configPath()})
	if err != nil {
		return nil, err
	}
	if before != nil {
		before(rt)
	}
	if err := rt.Start(ctx); err != nil {
		_ = rt.Close(ctx)
		return nil, fmt.Errorf("starting runtime: %w", err)
	}
	return rt, nil
}

func closeRuntime(rt *app.Runtime) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := rt.Close(ctx); err != nil {
		log.ErrorErr(log.CatCore, "Error shutting down runtime", err)
		fmt.Fprintf(os.Stderr, "shutdown: %v\n", err)
	}
}

func runRuntime(cmd *cobra.Command, _ []string) error {
	cleanup, err := initLogging(false)
	if err != nil {
		return err
	}
	defer cleanup()

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	rt, err := newRuntime(ctx, nil)
	if err != nil {
		return err
	}

	sigCh := make(chan os.Signal, 1)
	ossignal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer ossignal.Stop(sigCh)

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "stagectl running %d stages: %v\n", len(rt.StageNames()), rt.StageNames())
	fmt.Fprintln(out, "Press Ctrl+C to stop")

	select {
	case sig := <-sigCh:
		fmt.Fprintf(out, "\nReceived %s, shutting down...\n", sig)
	case <-ctx.Done():
	}

	closeRuntime(rt)
	fmt.Fprintln(out, "stagectl stopped")
	return nil
}
