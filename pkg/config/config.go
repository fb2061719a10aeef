package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration options for clothscan
type Config struct {
	// Instagram credentials
	Instagram InstagramConfig `yaml:"instagram" json:"instagram"`

	// Rate limiting for Instagram API and media requests
	RateLimit RateLimitConfig `yaml:"rate_limit" json:"rate_limit"`

	// Retry policy shared by the Instagram client and the HTTP scorers
	Retry RetryConfig `yaml:"retry" json:"retry"`

	// Media download settings
	Download DownloadConfig `yaml:"download" json:"download"`

	// Post selection during ingestion
	Ingest IngestConfig `yaml:"ingest" json:"ingest"`

	// Record store location and backend
	Storage StorageConfig `yaml:"storage" json:"storage"`

	// Scoring models and recompute policy
	Scoring ScoringConfig `yaml:"scoring" json:"scoring"`

	// Logging configuration
	Logging LoggingConfig `yaml:"logging" json:"logging"`
}

// InstagramConfig holds Instagram-specific configuration
type InstagramConfig struct {
	SessionID string `yaml:"session_id" json:"session_id"`
	CSRFToken string `yaml:"csrf_token" json:"csrf_token"`
	UserAgent string `yaml:"user_agent" json:"user_agent"`
}

// RateLimitConfig holds rate limiting configuration
type RateLimitConfig struct {
	RequestsPerMinute int `yaml:"requests_per_minute" json:"requests_per_minute"`
}

// RetryConfig holds retry configuration
type RetryConfig struct {
	MaxAttempts    int           `yaml:"max_attempts" json:"max_attempts"`
	InitialBackoff time.Duration `yaml:"initial_backoff" json:"initial_backoff"`
	MaxBackoff     time.Duration `yaml:"max_backoff" json:"max_backoff"`
	Multiplier     float64       `yaml:"multiplier" json:"multiplier"`
}

// DownloadConfig holds download-specific configuration
type DownloadConfig struct {
	ConcurrentDownloads int           `yaml:"concurrent_downloads" json:"concurrent_downloads"`
	DownloadTimeout     time.Duration `yaml:"download_timeout" json:"download_timeout"`
}

// IngestConfig controls which posts become record fragments
type IngestConfig struct {
	// PostLimit caps posts per profile; 0 means no limit
	PostLimit int `yaml:"post_limit" json:"post_limit"`
	// ContentFilters keeps only posts whose text contains one of the keywords
	ContentFilters []string `yaml:"content_filters" json:"content_filters"`
	SkipVideos     bool     `yaml:"skip_videos" json:"skip_videos"`
}

// StorageConfig points at the record store
type StorageConfig struct {
	Root    string `yaml:"root" json:"root"`
	Backend string `yaml:"backend" json:"backend"`
}

// ModelConfig registers one scoring model
type ModelConfig struct {
	Name     string   `yaml:"name" json:"name"`
	Endpoint string   `yaml:"endpoint" json:"endpoint"`
	Labels   []string `yaml:"labels" json:"labels"`
}

// ScoringConfig holds the score cache settings
type ScoringConfig struct {
	ForceRecompute bool          `yaml:"force_recompute" json:"force_recompute"`
	Workers        int           `yaml:"workers" json:"workers"`
	Timeout        time.Duration `yaml:"timeout" json:"timeout"`
	Models         []ModelConfig `yaml:"models" json:"models"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level string `yaml:"level" json:"level"`
	File  string `yaml:"file" json:"file"`
}

// Storage backends
const (
	BackendFile   = "file"
	BackendBadger = "badger"
)

// DefaultLabels are the prompts sent to a zero-shot image model; the score is the first label's probability.
var DefaultLabels = []string{"Is clothes", "Is not clothes"}

// DefaultConfig returns a Config instance with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Instagram: InstagramConfig{
			UserAgent: "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/121.0.0.0 Safari/537.36",
		},
		RateLimit: RateLimitConfig{
			RequestsPerMinute: 60,
		},
		Retry: RetryConfig{
			MaxAttempts:    3,
			InitialBackoff: time.Second,
			MaxBackoff:     time.Minute,
			Multiplier:     2.0,
		},
		Download: DownloadConfig{
			ConcurrentDownloads: 3,
			DownloadTimeout:     30 * time.Second,
		},
		Ingest: IngestConfig{
			PostLimit:  5,
			SkipVideos: true,
		},
		Storage: StorageConfig{
			Root:    "./data",
			Backend: BackendFile,
		},
		Scoring: ScoringConfig{
			Workers: 2,
			Timeout: 60 * time.Second,
			Models: []ModelConfig{
				{Name: "clip_base", Endpoint: "http://localhost:8000/score/clip_base"},
				{Name: "clip_large", Endpoint: "http://localhost:8000/score/clip_large"},
			},
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// LoadFromEnv loads configuration from CLOTHSCAN_* environment variables
func (c *Config) LoadFromEnv() error {
	var errs []error

	if v := os.Getenv("CLOTHSCAN_SESSION_ID"); v != "" {
		c.Instagram.SessionID = v
	}
	if v := os.Getenv("CLOTHSCAN_CSRF_TOKEN"); v != "" {
		c.Instagram.CSRFToken = v
	}
	if v := os.Getenv("CLOTHSCAN_USER_AGENT"); v != "" {
		c.Instagram.UserAgent = v
	}
	if v := os.Getenv("CLOTHSCAN_REQUESTS_PER_MINUTE"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("CLOTHSCAN_REQUESTS_PER_MINUTE: %w", err))
		} else if n > 0 {
			c.RateLimit.RequestsPerMinute = n
		}
	}
	if v := os.Getenv("CLOTHSCAN_CONCURRENT_DOWNLOADS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("CLOTHSCAN_CONCURRENT_DOWNLOADS: %w", err))
		} else if n > 0 {
			c.Download.ConcurrentDownloads = n
		}
	}
	if v := os.Getenv("CLOTHSCAN_DATA_DIR"); v != "" {
		c.Storage.Root = v
	}
	if v := os.Getenv("CLOTHSCAN_STORE_BACKEND"); v != "" {
		c.Storage.Backend = strings.ToLower(v)
	}
	if v := os.Getenv("CLOTHSCAN_FORCE_RECOMPUTE"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("CLOTHSCAN_FORCE_RECOMPUTE: %w", err))
		} else {
			c.Scoring.ForceRecompute = b
		}
	}
	if v := os.Getenv("CLOTHSCAN_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}

	return errors.Join(errs...)
}

// LoadFromFile loads configuration from a YAML file
func (c *Config) LoadFromFile(path string) error {
	if path == "" {
		path = FindConfigFile()
		if path == "" {
			return nil // No config file found, not an error
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// FindConfigFile searches for a config file in standard locations
func FindConfigFile() string {
	home := os.Getenv("HOME")
	locations := []string{
		"clothscan.yaml",
		".clothscan.yaml",
		".clothscan.yml",
		filepath.Join(home, ".config", "clothscan", "config.yaml"),
		filepath.Join(home, ".clothscan.yaml"),
	}

	for _, loc := range locations {
		if _, err := os.Stat(loc); err == nil {
			return loc
		}
	}

	return ""
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	var errs []error

	if c.RateLimit.RequestsPerMinute <= 0 {
		errs = append(errs, errors.New("requests per minute must be positive"))
	}
	if c.Retry.MaxAttempts < 0 {
		errs = append(errs, errors.New("max retry attempts cannot be negative"))
	}
	if c.Download.ConcurrentDownloads <= 0 || c.Download.ConcurrentDownloads > 10 {
		errs = append(errs, errors.New("concurrent downloads must be between 1 and 10"))
	}
	if c.Download.DownloadTimeout <= 0 {
		errs = append(errs, errors.New("download timeout must be positive"))
	}
	if c.Ingest.PostLimit < 0 {
		errs = append(errs, errors.New("post limit cannot be negative"))
	}

	if c.Storage.Root == "" {
		errs = append(errs, errors.New("storage root is required"))
	}
	switch c.Storage.Backend {
	case BackendFile, BackendBadger:
	default:
		errs = append(errs, fmt.Errorf("unknown storage backend %q", c.Storage.Backend))
	}

	if c.Scoring.Workers <= 0 {
		errs = append(errs, errors.New("scoring workers must be positive"))
	}
	seen := make(map[string]bool)
	for i, m := range c.Scoring.Models {
		if m.Name == "" {
			errs = append(errs, fmt.Errorf("scoring model %d has no name", i))
			continue
		}
		if seen[m.Name] {
			errs = append(errs, fmt.Errorf("scoring model %q registered twice", m.Name))
		}
		seen[m.Name] = true
		if m.Endpoint == "" {
			errs = append(errs, fmt.Errorf("scoring model %q has no endpoint", m.Name))
		}
	}

	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLogLevels[strings.ToLower(c.Logging.Level)] {
		errs = append(errs, errors.New("invalid log level"))
	}

	return errors.Join(errs...)
}

// Save saves the configuration to a file
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// MergeCommandLineFlags merges command line flags into the configuration
func (c *Config) MergeCommandLineFlags(flags map[string]interface{}) {
	if v, ok := flags["session-id"].(string); ok && v != "" {
		c.Instagram.SessionID = v
	}
	if v, ok := flags["csrf-token"].(string); ok && v != "" {
		c.Instagram.CSRFToken = v
	}
	if v, ok := flags["data-dir"].(string); ok && v != "" {
		c.Storage.Root = v
	}
	if v, ok := flags["backend"].(string); ok && v != "" {
		c.Storage.Backend = v
	}
	if v, ok := flags["concurrent-downloads"].(int); ok && v > 0 {
		c.Download.ConcurrentDownloads = v
	}
	if v, ok := flags["requests-per-minute"].(int); ok && v > 0 {
		c.RateLimit.RequestsPerMinute = v
	}
	if v, ok := flags["post-limit"].(int); ok && v >= 0 {
		c.Ingest.PostLimit = v
	}
	if v, ok := flags["force"].(bool); ok {
		c.Scoring.ForceRecompute = v
	}
	if v, ok := flags["workers"].(int); ok && v > 0 {
		c.Scoring.Workers = v
	}
	if v, ok := flags["log-level"].(string); ok && v != "" {
		c.Logging.Level = v
	}
}

// Load loads configuration from all sources with proper precedence
// Precedence order: Command line flags > Environment variables > .env file > Config file > Defaults
func Load(configPath string, flags map[string]interface{}) (*Config, error) {
	_ = godotenv.Load(".env")
	_ = godotenv.Load(filepath.Join(os.Getenv("HOME"), ".clothscan.env"))

	cfg := DefaultConfig()

	if err := cfg.LoadFromFile(configPath); err != nil {
		return nil, fmt.Errorf("failed to load config file: %w", err)
	}

	if err := cfg.LoadFromEnv(); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	cfg.MergeCommandLineFlags(flags)

	for i := range cfg.Scoring.Models {
		if len(cfg.Scoring.Models[i].Labels) == 0 {
			cfg.Scoring.Models[i].Labels = DefaultLabels
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}
