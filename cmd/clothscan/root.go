package main

import (
	"fmt"
	"os"
	"runtime"

	"clothscan/pkg/config"
	"clothscan/pkg/logger"
	"clothscan/pkg/storage"
	"clothscan/pkg/ui"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

var (
	version   = "0.1.0"
	gitCommit = "unknown"
	buildDate = "unknown"

	// Global flags
	configFile string
	logLevel   string
	dataDir    string
	backend    string
	quiet      bool

	// cfg is loaded once per invocation before any subcommand runs
	cfg *config.Config
)

// skipConfigAnnotation marks commands that handle configuration loading themselves
const skipConfigAnnotation = "clothscan/skip-config"

var rootCmd = &cobra.Command{
	Use:   "clothscan",
	Short: "Collect social media posts and cache clothing scores for their images",
	Long: `clothscan gathers posts from Instagram profiles and message exports into
per-channel record stores, then scores every image with one or more
zero-shot classifiers and caches the results next to the records.

Records are merged by id, album (group) id or a three second time window,
so partial observations of the same post end up in one record.`,
	Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, gitCommit, buildDate),
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		ui.SetQuiet(quiet)
		if cmd.Annotations[skipConfigAnnotation] == "true" {
			return nil
		}
		return loadConfig(cmd)
	},
}

// Execute runs the root command and exits non-zero on failure
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		ui.PrintError("Error", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file (default is ./clothscan.yaml or ~/.config/clothscan/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", "", "record store root")
	rootCmd.PersistentFlags().StringVar(&backend, "backend", "", "record store backend (file, badger)")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "suppress all output except errors")

	rootCmd.SetVersionTemplate(`clothscan {{.Version}}
Go Version: ` + runtime.Version() + `
OS/Arch: ` + runtime.GOOS + `/` + runtime.GOARCH + `
`)
	rootCmd.CompletionOptions.DisableDefaultCmd = true
}

// loadConfig merges file, environment and the flags the user actually set
func loadConfig(cmd *cobra.Command) error {
	path := configFile
	if path == "" {
		path = config.FindConfigFile()
	}

	flags := map[string]interface{}{
		"log-level": logLevel,
		"data-dir":  dataDir,
		"backend":   backend,
	}
	// only flags set on the command line override file and environment values
	cmd.Flags().Visit(func(f *pflag.Flag) {
		switch f.Value.Type() {
		case "int":
			if n, err := cmd.Flags().GetInt(f.Name); err == nil {
				flags[f.Name] = n
			}
		case "bool":
			if b, err := cmd.Flags().GetBool(f.Name); err == nil {
				flags[f.Name] = b
			}
		default:
			flags[f.Name] = f.Value.String()
		}
	})

	var err error
	cfg, err = config.Load(path, flags)
	if err != nil {
		return err
	}
	if err := logger.Initialize(&cfg.Logging); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	logger.WithFields(map[string]interface{}{
		"version": version,
		"config":  path,
		"root":    cfg.Storage.Root,
		"backend": cfg.Storage.Backend,
	}).Debug("clothscan starting")
	return nil
}

// openStore opens the configured record store; the caller closes it
func openStore() (storage.Store, error) {
	store, err := storage.Open(cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("failed to open record store: %w", err)
	}
	return store, nil
}
