package main

import (
	"flag"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/aluiziolira/go-scrape-catalogue/config"
)

// buildConfig layers defaults, the optional YAML file, SCRAPER_* variables
// and command-line flags, in that order.
func buildConfig(args []string, output io.Writer) (*config.Config, error) {
	// First pass only locates -config; errors surface on the second pass.
	prescan := flag.NewFlagSet("scraper", flag.ContinueOnError)
	prescan.SetOutput(io.Discard)
	configPath := defaultConfigPath()
	bindFlags(prescan, config.DefaultConfig(), &configPath)
	_ = prescan.Parse(args)

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if err := applyEnv(cfg); err != nil {
		return nil, err
	}

	fs := flag.NewFlagSet("scraper", flag.ContinueOnError)
	fs.SetOutput(output)
	bindFlags(fs, cfg, &configPath)
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	cfg.OutputFormat = strings.ToLower(cfg.OutputFormat)
	return cfg, nil
}

func defaultConfigPath() string {
	path, _ := config.EnvString("SCRAPER_CONFIG")
	return path
}

// bindFlags registers every flag against cfg, using its current values as
// defaults so unset flags leave earlier layers untouched.
func bindFlags(fs *flag.FlagSet, cfg *config.Config, configPath *string) {
	fs.StringVar(configPath, "config", *configPath, "Path to a YAML configuration file")
	fs.StringVar(&cfg.BaseURL, "base-url", cfg.BaseURL, "Catalogue site base URL")
	fs.StringVar(&cfg.CataloguePath, "catalogue-path", cfg.CataloguePath, "Catalogue page path template with one %d")
	fs.IntVar(&cfg.BatchSize, "batch-size", cfg.BatchSize, "Detail pages fetched per batch")
	fs.IntVar(&cfg.Parallelism, "parallel", cfg.Parallelism, "Maximum concurrent requests")
	fs.IntVar(&cfg.ParseWorkers, "parse-workers", cfg.ParseWorkers, "Parse workers (0 uses GOMAXPROCS)")
	fs.DurationVar(&cfg.Delay, "delay", cfg.Delay, "Delay between requests")
	fs.DurationVar(&cfg.RandomDelay, "random-delay", cfg.RandomDelay, "Random jitter added to delay")
	fs.DurationVar(&cfg.Timeout, "timeout", cfg.Timeout, "Per-request timeout")
	fs.IntVar(&cfg.MaxAttempts, "max-attempts", cfg.MaxAttempts, "Attempts per URL including the first")
	fs.DurationVar(&cfg.RetryBackoff, "retry-backoff", cfg.RetryBackoff, "Backoff before the first retry")
	fs.DurationVar(&cfg.RetryBackoffMax, "retry-backoff-max", cfg.RetryBackoffMax, "Backoff cap (0 disables)")
	fs.IntVar(&cfg.PageCacheSize, "page-cache", cfg.PageCacheSize, "LRU page cache entries (0 disables)")
	fs.BoolVar(&cfg.IsolateFailures, "isolate-failures", cfg.IsolateFailures, "Skip detail pages that exhaust retries")
	fs.BoolVar(&cfg.SkipInvalid, "skip-invalid", cfg.SkipInvalid, "Drop detail pages that fail to parse")
	fs.BoolVar(&cfg.RespectRobotsTxt, "respect-robots", cfg.RespectRobotsTxt, "Respect robots.txt directives")
	fs.StringVar(&cfg.OutputFile, "output", cfg.OutputFile, "Output file path")
	fs.StringVar(&cfg.OutputFormat, "format", cfg.OutputFormat, "Output format: json, jsonl, csv, dual, or sqlite")
	fs.StringVar(&cfg.UserAgent, "user-agent", cfg.UserAgent, "User-Agent header")
	fs.BoolVar(&cfg.Verbose, "v", cfg.Verbose, "Enable verbose logging")
	fs.StringVar(&cfg.MetricsAddr, "metrics-addr", cfg.MetricsAddr, "Prometheus metrics listen address (e.g. :9090)")
}

func applyEnv(cfg *config.Config) error {
	texts := map[string]*string{
		"SCRAPER_BASE_URL":       &cfg.BaseURL,
		"SCRAPER_CATALOGUE_PATH": &cfg.CataloguePath,
		"SCRAPER_OUTPUT":         &cfg.OutputFile,
		"SCRAPER_FORMAT":         &cfg.OutputFormat,
		"SCRAPER_USER_AGENT":     &cfg.UserAgent,
		"SCRAPER_METRICS_ADDR":   &cfg.MetricsAddr,
	}
	for key, target := range texts {
		if value, ok := config.EnvString(key); ok {
			*target = value
		}
	}

	ints := map[string]*int{
		"SCRAPER_BATCH_SIZE":    &cfg.BatchSize,
		"SCRAPER_PARALLEL":      &cfg.Parallelism,
		"SCRAPER_PARSE_WORKERS": &cfg.ParseWorkers,
		"SCRAPER_MAX_ATTEMPTS":  &cfg.MaxAttempts,
		"SCRAPER_PAGE_CACHE":    &cfg.PageCacheSize,
	}
	for key, target := range ints {
		value, ok, err := config.EnvInt(key)
		if err != nil {
			return fmt.Errorf("invalid %w", err)
		}
		if ok {
			*target = value
		}
	}

	durations := map[string]*time.Duration{
		"SCRAPER_DELAY":             &cfg.Delay,
		"SCRAPER_RANDOM_DELAY":      &cfg.RandomDelay,
		"SCRAPER_TIMEOUT":           &cfg.Timeout,
		"SCRAPER_RETRY_BACKOFF":     &cfg.RetryBackoff,
		"SCRAPER_RETRY_BACKOFF_MAX": &cfg.RetryBackoffMax,
	}
	for key, target := range durations {
		value, ok, err := config.EnvDuration(key)
		if err != nil {
			return fmt.Errorf("invalid %w", err)
		}
		if ok {
			*target = value
		}
	}

	bools := map[string]*bool{
		"SCRAPER_ISOLATE_FAILURES": &cfg.IsolateFailures,
		"SCRAPER_SKIP_INVALID":     &cfg.SkipInvalid,
		"SCRAPER_RESPECT_ROBOTS":   &cfg.RespectRobotsTxt,
		"SCRAPER_VERBOSE":          &cfg.Verbose,
	}
	for key, target := range bools {
		value, ok, err := config.EnvBool(key)
		if err != nil {
			return fmt.Errorf("invalid %w", err)
		}
		if ok {
			*target = value
		}
	}
	return nil
}
