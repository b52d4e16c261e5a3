package cmd

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/TechDevGroup/obs-impl/internal/config"
	"github.com/TechDevGroup/obs-impl/internal/log"
)

func init() {
	// Query the terminal background before any Bubble Tea program starts so
	// the OSC 11 reply cannot race the input loop.
	//
	// See: https://github.com/charmbracelet/bubbletea/issues/1036
	_ = lipgloss.HasDarkBackground()
}

const localConfigPath = ".stagectl/config.yaml"

var (
	version   = "dev"
	cfgFile   string
	debugFlag bool
	cfg       config.Config
)

var rootCmd = &cobra.Command{
	Use:   "stagectl",
	Short: "Run and inspect stage lifecycles",
	Long: `stagectl runs a set of reference-counted stages declared in a config file,
each with its own canvas and outputs, and persists them between runs.

Run "stagectl run" to start the runtime headless or "stagectl monitor" to
watch live stages and their signals.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: false,
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "",
		"config file (default: .stagectl/config.yaml, then ~/.config/stagectl/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&debugFlag, "debug", "d", false,
		"enable debug logging (also STAGECTL_DEBUG)")
}

func initConfig() {
	config.SetDefaults(viper.GetViper())

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		// Config lookup order:
		// 1. .stagectl/config.yaml (current directory)
		// 2. ~/.config/stagectl/config.yaml (user config)
		if _, err := os.Stat(localConfigPath); err == nil {
			viper.SetConfigFile(localConfigPath)
		} else if dir := config.DefaultConfigDir(); dir != "" {
			viper.AddConfigPath(dir)
			viper.SetConfigName("config")
			viper.SetConfigType("yaml")
		}
	}

	if err := viper.ReadInConfig(); err != nil {
		// No config file found anywhere - create the default locally
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			if writeErr := config.WriteDefaultConfig(localConfigPath); writeErr == nil {
				viper.SetConfigFile(localConfigPath)
				_ = viper.ReadInConfig()
			}
			// If write fails, just continue with defaults (no config file)
		}
	}

	_ = viper.Unmarshal(&cfg)
}

// configPath returns the file the config was read from, or "" when running
// on defaults.
func configPath() string {
	return viper.ConfigFileUsed()
}

// initLogging opens the file logger when enabled by config, --debug or
// STAGECTL_DEBUG. tea selects the Bubble Tea log writer for commands that
// own the terminal. The returned cleanup is never nil.
func initLogging(tea bool) (func(), error) {
	debug := debugFlag || os.Getenv("STAGECTL_DEBUG") != ""
	if !cfg.Log.Enabled && !debug {
		return func() {}, nil
	}

	path := cfg.Log.Path
	if env := os.Getenv("STAGECTL_LOG"); env != "" {
		path = env
	}
	if path == "" {
		if dir := config.DefaultConfigDir(); dir != "" {
			path = filepath.Join(dir, "stagectl.log")
		} else {
			path = "stagectl.log"
		}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("creating log directory: %w", err)
	}

	var (
		cleanup func()
		err     error
	)
	if tea {
		cleanup, err = log.InitWithTeaLog(path, "stagectl")
	} else {
		cleanup, err = log.Init(path)
	}
	if err != nil {
		return nil, fmt.Errorf("initializing logging: %w", err)
	}

	level, _ := log.ParseLevel(cfg.Log.Level)
	if debug {
		level = log.LevelDebug
	}
	log.SetMinLevel(level)
	log.Info(log.CatConfig, "stagectl starting", "version", version, "config", configPath(), "logPath", path)
	return cleanup, nil
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

// SetVersion sets the version string (called from main with ldflags)
func SetVersion(v string) {
	version = v
	rootCmd.Version = v
}
