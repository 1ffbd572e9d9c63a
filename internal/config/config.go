package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"leadscout-engine/internal/domain"
)

type Source struct {
	Name             string            `yaml:"name" json:"name"`
	Type             domain.SourceType `yaml:"type" json:"type"`
	URL              string            `yaml:"url" json:"url"`
	Enabled          *bool             `yaml:"enabled,omitempty" json:"enabled,omitempty"`
	FrequencyMinutes int               `yaml:"frequency_minutes" json:"frequency_minutes"`
	Config           map[string]any    `yaml:"config,omitempty" json:"config,omitempty"`
}

// IsEnabled treats a missing flag as enabled.
func (s Source) IsEnabled() bool { return s.Enabled == nil || *s.Enabled }

type Keywords struct {
	Intent     []string `yaml:"intent" json:"intent"`
	Sector     []string `yaml:"sector" json:"sector"`
	Government []string `yaml:"government" json:"government"`
}

type Config struct {
	App struct {
		Port     int    `yaml:"port" json:"port"`
		DataDir  string `yaml:"data_dir" json:"data_dir"`
		LogLevel string `yaml:"log_level" json:"log_level"`
	} `yaml:"app" json:"app"`

	Scrape struct {
		IntervalMinutes     int     `yaml:"interval_minutes" json:"interval_minutes"`
		RunTimeoutMinutes   int     `yaml:"run_timeout_minutes" json:"run_timeout_minutes"`
		FetchWorkers        int     `yaml:"fetch_workers" json:"fetch_workers"`
		MaxResultsPerSource int     `yaml:"max_results_per_source" json:"max_results_per_source"`
		RunOnStart          bool    `yaml:"run_on_start" json:"run_on_start"`
		LockFile            string  `yaml:"lock_file" json:"lock_file"`
		UserAgent           string  `yaml:"user_agent" json:"user_agent"`
		RequestsPerSecond   float64 `yaml:"requests_per_second" json:"requests_per_second"`
		Burst               int     `yaml:"burst" json:"burst"`
		Enrich              bool    `yaml:"enrich" json:"enrich"`
	} `yaml:"scrape" json:"scrape"`

	Qualification struct {
		Enabled             *bool   `yaml:"enabled,omitempty" json:"enabled,omitempty"`
		Model               string  `yaml:"model" json:"model"`
		BaseURL             string  `yaml:"base_url" json:"base_url"`
		MaxTokens           int     `yaml:"max_tokens" json:"max_tokens"`
		TimeoutSeconds      int     `yaml:"timeout_seconds" json:"timeout_seconds"`
		MaxRetries          int     `yaml:"max_retries" json:"max_retries"`
		RetryBackoffMS      int     `yaml:"retry_backoff_ms" json:"retry_backoff_ms"`
		Concurrency         int     `yaml:"concurrency" json:"concurrency"`
		RequestsPerSecond   float64 `yaml:"requests_per_second" json:"requests_per_second"`
		ConfidenceThreshold float64 `yaml:"confidence_threshold" json:"confidence_threshold"`
		Prefilter           bool    `yaml:"prefilter" json:"prefilter"`
	} `yaml:"qualification" json:"qualification"`

	Taxonomy []domain.Service `yaml:"taxonomy" json:"taxonomy"`
	Keywords Keywords         `yaml:"keywords" json:"keywords"`
	Sources  []Source         `yaml:"sources" json:"sources"`

	Email struct {
		Enabled   bool   `yaml:"enabled" json:"enabled"`
		IMAPHost  string `yaml:"imap_host" json:"imap_host"`
		IMAPPort  int    `yaml:"imap_port" json:"imap_port"`
		Username  string `yaml:"username" json:"username"`
		Mailbox   string `yaml:"mailbox" json:"mailbox"`
		SinceDays int    `yaml:"since_days" json:"since_days"`
		MarkSeen  bool   `yaml:"mark_seen" json:"mark_seen"`
	} `yaml:"email" json:"email"`
}

func (c Config) QualificationEnabled() bool {
	return c.Qualification.Enabled == nil || *c.Qualification.Enabled
}

func (c Config) Interval() time.Duration {
	return time.Duration(c.Scrape.IntervalMinutes) * time.Minute
}

func (c Config) RunTimeout() time.Duration {
	return time.Duration(c.Scrape.RunTimeoutMinutes) * time.Minute
}

func (c Config) QualifyTimeout() time.Duration {
	return time.Duration(c.Qualification.TimeoutSeconds) * time.Second
}

// Load reads path over Default() and applies environment overrides.
func Load(path string) (Config, error) {
	cfg := Default()
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return cfg, err
	}
	applyEnv(&cfg)
	return cfg, nil
}

// Parse decodes YAML bytes over Default() without touching the environment.
func Parse(b []byte) (Config, error) {
	cfg := Default()
	err := yaml.Unmarshal(b, &cfg)
	return cfg, err
}

func applyEnv(cfg *Config) {
	if v := strings.TrimSpace(os.Getenv("LEADSCOUT_PORT")); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			cfg.App.Port = p
		}
	}
	if v := strings.TrimSpace(os.Getenv("LEADSCOUT_DATA_DIR")); v != "" {
		cfg.App.DataDir = v
	}
	if v := strings.TrimSpace(os.Getenv("LEADSCOUT_LOG_LEVEL")); v != "" {
		cfg.App.LogLevel = v
	}
}
