package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/TechDevGroup/obs-impl/internal/app"
	"github.com/TechDevGroup/obs-impl/internal/config"
	"github.com/TechDevGroup/obs-impl/internal/presentation"
)

var stagesToConfig bool

var stagesListCmd = &cobra.Command{
	Use:   "stages:list",
	Short: "List persisted stage records",
	Long: `List the stage records in the configured store as JSON.

Examples:
  stagectl stages:list
  stagectl stages:list | jq '.[].name'`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		st, err := app.OpenStore(cfg.Store)
		if err != nil {
			return err
		}
		defer func() { _ = st.Close() }()

		recs, err := st.List(cmd.Context())
		if err != nil {
			return fmt.Errorf("listing stages: %w", err)
		}
		return presentation.NewFormatter(cmd.OutOrStdout()).FormatStages(presentation.FromRecords(recs))
	},
}

var stagesSaveCmd = &cobra.Command{
	Use:   "stages:save",
	Short: "Create the configured stages and persist them",
	Long: `Start the runtime once, persist every public stage to the store and exit.

With --to-config the live stages are also written back into the stages
section of the config file, preserving comments elsewhere in the file.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cleanup, err := initLogging(false)
		if err != nil {
			return err
		}
		defer cleanup()
		return saveStages(cmd.Context(), stagesToConfig)
	},
}

var stagesDeleteCmd = &cobra.Command{
	Use:   "stages:delete NAME...",
	Short: "Delete persisted stage records by name",
	Long:  `Delete stage records from the configured store. Unknown names are ignored.`,
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := app.OpenStore(cfg.Store)
		if err != nil {
			return err
		}
		defer func() { _ = st.Close() }()

		var errs []error
		for _, name := range args {
			if err := st.Delete(cmd.Context(), name); err != nil {
				errs = append(errs, err)
				continue
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", name)
		}
		return errors.Join(errs...)
	},
}

func init() {
	stagesSaveCmd.Flags().BoolVar(&stagesToConfig, "to-config", false,
		"also write the live stages into the config file")
	rootCmd.AddCommand(stagesListCmd, stagesSaveCmd, stagesDeleteCmd)
}

func saveStages(ctx context.Context, toConfig bool) error {
	path := configPath()
	if toConfig && path == "" {
		return fmt.Errorf("--to-config needs a config file")
	}

	// A one-shot run must not react to its own config write.
	cfg.Watch.Enabled = false
	rt, err := newRuntime(ctx, nil)
	if err != nil {
		return err
	}

	saveErr := rt.Save(ctx)
	exported := rt.ExportStages()
	closeRuntime(rt)
	if saveErr != nil {
		return fmt.Errorf("saving stages: %w", saveErr)
	}

	if toConfig {
		if err := config.SaveStages(path, exported); err != nil {
			return err
		}
	}
	return nil
}
