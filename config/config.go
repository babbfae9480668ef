package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Supported output formats.
const (
	FormatJSON   = "json"
	FormatJSONL  = "jsonl"
	FormatCSV    = "csv"
	FormatDual   = "dual"
	FormatSQLite = "sqlite"
)

// Config holds scraper configuration.
type Config struct {
	BaseURL          string        `yaml:"base_url"`
	CataloguePath    string        `yaml:"catalogue_path"`
	BatchSize        int           `yaml:"batch_size"`
	Parallelism      int           `yaml:"parallelism"`
	ParseWorkers     int           `yaml:"parse_workers"`
	Delay            time.Duration `yaml:"delay"`
	RandomDelay      time.Duration `yaml:"random_delay"`
	Timeout          time.Duration `yaml:"timeout"`
	MaxAttempts      int           `yaml:"max_attempts"`
	RetryBackoff     time.Duration `yaml:"retry_backoff"`
	RetryBackoffMax  time.Duration `yaml:"retry_backoff_max"`
	PageCacheSize    int           `yaml:"page_cache_size"`
	IsolateFailures  bool          `yaml:"isolate_failures"`
	SkipInvalid      bool          `yaml:"skip_invalid"`
	OutputFile       string        `yaml:"output_file"`
	OutputFormat     string        `yaml:"output_format"` // json, jsonl, csv, dual, or sqlite
	UserAgent        string        `yaml:"user_agent"`
	Verbose          bool          `yaml:"verbose"`
	RespectRobotsTxt bool          `yaml:"respect_robots_txt"`
	MetricsAddr      string        `yaml:"metrics_addr"`
}

// DefaultConfig returns conservative defaults for the demo target.
func DefaultConfig() *Config {
	return &Config{
		BaseURL:          "https://books.toscrape.com",
		CataloguePath:    "catalogue/page-%d.html",
		BatchSize:        50,
		Parallelism:      64,
		ParseWorkers:     0,
		Delay:            0,
		RandomDelay:      0,
		Timeout:          30 * time.Second,
		MaxAttempts:      5,
		RetryBackoff:     2 * time.Second,
		RetryBackoffMax:  time.Minute,
		PageCacheSize:    0,
		IsolateFailures:  false,
		SkipInvalid:      false,
		OutputFile:       "data/db.json",
		OutputFormat:     FormatJSON,
		UserAgent:        "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/117.0.0.0 Safari/537.36",
		Verbose:          false,
		RespectRobotsTxt: false,
	}
}

// Load reads a YAML file on top of the defaults. Keys absent from the file
// keep their default values.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %q: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("decode config %q: %w", path, err)
	}
	cfg.OutputFormat = strings.ToLower(cfg.OutputFormat)
	return cfg, nil
}

// Validate ensures all configuration values are coherent.
func (c *Config) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("base URL cannot be empty")
	}

	parsedURL, err := url.Parse(c.BaseURL)
	if err != nil {
		return fmt.Errorf("invalid base URL: %w", err)
	}
	if parsedURL.Host == "" {
		return fmt.Errorf("base URL must include a host")
	}

	if strings.Count(c.CataloguePath, "%d") != 1 {
		return fmt.Errorf("catalogue path must contain exactly one %%d")
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("batch size must be positive")
	}
	if c.Parallelism <= 0 {
		return fmt.Errorf("parallelism must be positive")
	}
	if c.ParseWorkers < 0 {
		return fmt.Errorf("parse workers cannot be negative")
	}
	if c.Delay < 0 {
		return fmt.Errorf("delay cannot be negative")
	}
	if c.RandomDelay < 0 {
		return fmt.Errorf("random delay cannot be negative")
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	if c.MaxAttempts <= 0 {
		return fmt.Errorf("max attempts must be positive")
	}
	if c.RetryBackoff < 0 {
		return fmt.Errorf("retry backoff cannot be negative")
	}
	if c.RetryBackoffMax < 0 {
		return fmt.Errorf("retry backoff max cannot be negative")
	}
	if c.RetryBackoffMax > 0 && c.RetryBackoff > c.RetryBackoffMax {
		return fmt.Errorf("retry backoff (%s) cannot exceed retry backoff max (%s)", c.RetryBackoff, c.RetryBackoffMax)
	}
	if c.PageCacheSize < 0 {
		return fmt.Errorf("page cache size cannot be negative")
	}
	if c.OutputFile == "" {
		return fmt.Errorf("output file cannot be empty")
	}
	switch c.OutputFormat {
	case FormatJSON, FormatJSONL, FormatCSV, FormatDual, FormatSQLite:
	default:
		return fmt.Errorf("output format must be json, jsonl, csv, dual, or sqlite")
	}
	if c.UserAgent == "" {
		return fmt.Errorf("user agent cannot be empty")
	}

	return nil
}

// EnvString returns the trimmed value of key when it is set and non-empty.
func EnvString(key string) (string, bool) {
	value, ok := os.LookupEnv(key)
	if !ok {
		return "", false
	}
	value = strings.TrimSpace(value)
	if value == "" {
		return "", false
	}
	return value, true
}

// EnvInt parses key as an integer when it is set.
func EnvInt(key string) (int, bool, error) {
	value, ok := EnvString(key)
	if !ok {
		return 0, false, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, false, fmt.Errorf("%s: %w", key, err)
	}
	return n, true, nil
}

// EnvBool parses key as a boolean when it is set.
func EnvBool(key string) (bool, bool, error) {
	value, ok := EnvString(key)
	if !ok {
		return false, false, nil
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		return false, false, fmt.Errorf("%s: %w", key, err)
	}
	return b, true, nil
}

// EnvDuration parses key as a time.Duration when it is set.
func EnvDuration(key string) (time.Duration, bool, error) {
	value, ok := EnvString(key)
	if !ok {
		return 0, false, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, false, fmt.Errorf("%s: %w", key, err)
	}
	return d, true, nil
}
