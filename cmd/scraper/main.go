package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/schollz/progressbar/v3"

	"github.com/aluiziolira/go-scrape-catalogue/config"
	"github.com/aluiziolira/go-scrape-catalogue/models"
	"github.com/aluiziolira/go-scrape-catalogue/pipeline"
	"github.com/aluiziolira/go-scrape-catalogue/scraper"
)

func main() {
	cfg, err := buildConfig(os.Args[1:], os.Stderr)
	if errors.Is(err, flag.ErrHelp) {
		os.Exit(0)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration: %v\n", err)
		os.Exit(2)
	}

	runID := uuid.NewString()
	logger, level := newLogger(cfg.Verbose)
	logger = logger.With(slog.String("run_id", runID))
	slog.SetDefault(logger)
	slog.SetLogLoggerLevel(level.Level())

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", slog.Any("error", err))
		os.Exit(1)
	}

	if err := run(cfg, runID); err != nil {
		slog.Error("scraping failed", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(cfg *config.Config, runID string) error {
	slog.Info("starting scrape",
		slog.String("base_url", cfg.BaseURL),
		slog.Int("batch_size", cfg.BatchSize),
		slog.Int("parallel", cfg.Parallelism),
		slog.String("format", cfg.OutputFormat),
	)

	s, err := scraper.NewScraper(cfg)
	if err != nil {
		return fmt.Errorf("initialising scraper: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		slog.Info("shutdown signal received, cancelling in-flight requests")
	}()

	metricsServer := startMetricsServer(cfg.MetricsAddr, s.Metrics)
	defer shutdownMetricsServer(metricsServer)

	var bar *progressbar.ProgressBar
	if isTerminal(os.Stderr) && !cfg.Verbose {
		s.OnBatch = func(done, total int) {
			if bar == nil {
				bar = newProgressBar(total, "fetching products")
			}
			_ = bar.Set(done)
		}
	}

	startTime := time.Now()
	result, err := s.Run(ctx)
	if bar != nil {
		_ = bar.Finish()
		fmt.Fprintln(os.Stderr)
	}
	if err != nil {
		return err
	}

	p := pipeline.NewPipeline(cfg, func() (pipeline.OutputWriter, error) {
		return pipeline.NewWriter(cfg.OutputFormat, cfg.OutputFile, runID)
	})
	stored, err := p.Run(ctx, result.Pages)
	if err != nil {
		return err
	}

	printSummary(result, stored, time.Since(startTime), cfg.OutputFile, p.GetMetrics())
	return nil
}

func startMetricsServer(addr string, metrics *scraper.Metrics) *http.Server {
	if addr == "" || metrics == nil {
		return nil
	}
	server := &http.Server{
		Addr:              addr,
		Handler:           promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("metrics server failed", slog.Any("error", err))
		}
	}()
	slog.Info("metrics server enabled", slog.String("addr", addr))
	return server
}

func shutdownMetricsServer(server *http.Server) {
	if server == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		slog.Error("metrics server shutdown failed", slog.Any("error", err))
	}
}

func newProgressBar(total int, description string) *progressbar.ProgressBar {
	return progressbar.NewOptions(total,
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionSetDescription(description),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetWidth(40),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "=",
			SaucerHead:    ">",
			SaucerPadding: " ",
			BarStart:      "[",
			BarEnd:        "]",
		}),
	)
}

func printSummary(result *models.ScraperResult, stored int, duration time.Duration, outputFile string, metrics map[string]interface{}) {
	separator := "--------------------------------------------------"
	fmt.Println("\n" + separator)
	fmt.Println("Scrape complete")

	fmt.Printf("  Catalogue pages: %d\n", result.PageCount)
	fmt.Printf("  Product links:   %d\n", result.LinkCount)
	fmt.Printf("  Batches:         %d\n", result.BatchCount)
	fmt.Printf("  Requests:        %d\n", result.RequestCount)
	fmt.Printf("  Retries:         %d\n", result.RetryCount)
	fmt.Printf("  Errors:          %d\n", result.ErrorCount)
	if len(result.ErrorsByType) > 0 {
		fmt.Printf("  Error types:     %v\n", result.ErrorsByType)
	}
	fmt.Printf("  Failed URLs:     %d\n", len(result.FailedURLs))
	for _, failed := range result.FailedURLs {
		fmt.Printf("    - %s\n", failed)
	}
	if duplicates, ok := metrics["duplicate_upc"].(int64); ok {
		fmt.Printf("  Duplicates:      %d\n", duplicates)
	}
	if valErrors, ok := metrics["validation_errors"].(map[string]int); ok && len(valErrors) > 0 {
		fmt.Printf("  Validation:      %v\n", valErrors)
	}
	fmt.Printf("  Records stored:  %d\n", stored)

	itemsPerSec := 0.0
	if duration.Seconds() > 0 {
		itemsPerSec = float64(len(result.Pages)) / duration.Seconds()
	}
	fmt.Printf("  Duration:        %v\n", duration.Round(time.Millisecond))
	fmt.Printf("  Pages/sec:       %.2f\n", itemsPerSec)
	fmt.Printf("  Output file:     %s\n", outputFile)
	fmt.Println(separator)
}

func newLogger(verbose bool) (*slog.Logger, *slog.LevelVar) {
	level := &slog.LevelVar{}
	if verbose {
		level.Set(slog.LevelDebug)
	} else {
		level.Set(slog.LevelInfo)
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if isTerminal(os.Stdout) {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(handler), level
}

func isTerminal(f *os.File) bool {
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return (info.Mode() & os.ModeCharDevice) != 0
}
