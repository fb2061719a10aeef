package main

import (
	"fmt"
	"os"

	"clothscan/pkg/config"
	"clothscan/pkg/ui"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration files",
	Long: `Manage clothscan configuration files.

Configuration can be loaded from:
  - Command line flags (highest priority)
  - Environment variables (CLOTHSCAN_*, also read from .env)
  - Configuration file
  - Default values (lowest priority)`,
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create an example configuration file",
	Long: `Create an example configuration file with all available options.

The file is written to ./clothscan.yaml unless --config names another path.`,
	Annotations: map[string]string{skipConfigAnnotation: "true"},
	Args:        cobra.NoArgs,
	RunE:        runConfigInit,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the effective configuration with secrets masked",
	Args:  cobra.NoArgs,
	RunE:  runConfigShow,
}

var validateCmd = &cobra.Command{
	Use:         "validate",
	Short:       "Validate a configuration file",
	Annotations: map[string]string{skipConfigAnnotation: "true"},
	Args:        cobra.NoArgs,
	RunE:        runConfigValidate,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(initCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(validateCmd)
}

const exampleConfig = `# clothscan configuration file
#
# Every value can be overridden with CLOTHSCAN_* environment variables,
# for example CLOTHSCAN_SESSION_ID, CLOTHSCAN_CSRF_TOKEN or CLOTHSCAN_DATA_DIR.

# Instagram session cookies; prefer 'clothscan auth login'
instagram:
  session_id: ""
  csrf_token: ""
  user_agent: ""

rate_limit:
  # Instagram API requests per minute
  requests_per_minute: 60

retry:
  max_attempts: 3
  initial_backoff: 1s
  max_backoff: 1m
  multiplier: 2.0

download:
  # Range: 1-10
  concurrent_downloads: 3
  download_timeout: 30s

ingest:
  # Posts per profile; 0 ingests the whole profile
  post_limit: 5
  # Keep only posts whose caption mentions one of these keywords
  content_filters: []
  skip_videos: true

storage:
  # One directory (file) or key prefix (badger) per namespace under root
  root: "./data"
  # file or badger
  backend: "file"

scoring:
  force_recompute: false
  workers: 2
  timeout: 60s
  models:
    - name: clip_base
      endpoint: "http://localhost:8000/score/clip_base"
      labels: ["Is clothes", "Is not clothes"]
    - name: clip_large
      endpoint: "http://localhost:8000/score/clip_large"
      labels: ["Is clothes", "Is not clothes"]

logging:
  # debug, info, warn, error
  level: "info"
  # Log file path; empty logs to stderr only
  file: ""
`

func runConfigInit(cmd *cobra.Command, args []string) error {
	path := configFile
	if path == "" {
		path = "clothscan.yaml"
	}
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("configuration file already exists: %s", path)
	}
	if err := os.WriteFile(path, []byte(exampleConfig), 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	ui.PrintSuccess("Configuration written to " + path)
	return nil
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	shown := *cfg
	shown.Instagram.SessionID = mask(shown.Instagram.SessionID)
	shown.Instagram.CSRFToken = mask(shown.Instagram.CSRFToken)

	data, err := yaml.Marshal(&shown)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	_, err = cmd.OutOrStdout().Write(data)
	return err
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	path := configFile
	if path == "" {
		path = config.FindConfigFile()
	}
	if path == "" {
		return fmt.Errorf("no configuration file found")
	}

	c := config.DefaultConfig()
	if err := c.LoadFromFile(path); err != nil {
		return err
	}
	if err := c.Validate(); err != nil {
		return fmt.Errorf("%s is invalid:\n%w", path, err)
	}
	ui.PrintSuccess(path + " is valid")
	return nil
}

func mask(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 8 {
		return "****"
	}
	return s[:4] + "****" + s[len(s)-4:]
}
