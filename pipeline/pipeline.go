package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/aluiziolira/go-scrape-catalogue/config"
	"github.com/aluiziolira/go-scrape-catalogue/models"
	"github.com/aluiziolira/go-scrape-catalogue/parser"
	"github.com/aluiziolira/go-scrape-catalogue/workers"
)

// ErrNoWriter is returned by Store when the pipeline has no writer factory.
var ErrNoWriter = errors.New("pipeline: no output writer")

// OutputWriter defines the interface for data output. Close publishes
// what was written; Abort discards it and keeps any previous output.
type OutputWriter interface {
	Write(records []*models.ProductRecord) error
	Close() error
	Abort() error
	Validate() error
}

// WriterFactory opens the output sink. It is only called once every page
// has been parsed, so a failed run never leaves a partial file behind.
type WriterFactory func() (OutputWriter, error)

// Pipeline parses raw detail pages on the CPU pool, collapses records by
// UPC and persists the catalogue.
type Pipeline struct {
	cpu         workers.Executor
	open        WriterFactory
	skipInvalid bool

	metrics metrics
}

// NewPipeline builds a pipeline whose parse stage uses cfg.ParseWorkers.
func NewPipeline(cfg *config.Config, open WriterFactory) *Pipeline {
	return &Pipeline{
		cpu:         workers.NewCPUPool(cfg.ParseWorkers),
		open:        open,
		skipInvalid: cfg.SkipInvalid,
		metrics:     newMetrics(),
	}
}

// Run parses, deduplicates and stores pages, returning the number of
// unique records persisted.
func (p *Pipeline) Run(ctx context.Context, pages []models.RawPage) (int, error) {
	records, err := p.Parse(ctx, pages)
	if err != nil {
		return 0, err
	}
	return p.Store(p.Dedupe(records))
}

// Parse converts every page into a record. The result keeps the order of
// pages regardless of which worker finishes first. With skipInvalid set,
// pages that fail to parse are logged and dropped.
func (p *Pipeline) Parse(ctx context.Context, pages []models.RawPage) ([]*models.ProductRecord, error) {
	parsed := make([]*models.ProductRecord, len(pages))
	slog.Info("parsing product pages",
		slog.Int("pages", len(pages)),
		slog.String("pool", p.cpu.Name()),
		slog.Int("workers", p.cpu.Limit()),
	)

	err := p.cpu.Run(ctx, len(pages), func(ctx context.Context, i int) error {
		record, err := parser.ParseProduct(pages[i])
		if err != nil {
			var parseErr *parser.ParseError
			if errors.As(err, &parseErr) {
				p.metrics.addValidation("parse_error:" + parseErr.Field)
			}
			if p.skipInvalid {
				slog.Warn("skipping unparseable product page",
					slog.String("url", pages[i].URL),
					slog.Any("error", err),
				)
				return nil
			}
			return err
		}
		parsed[i] = record
		p.metrics.incrementProcessed()
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("parse product pages: %w", err)
	}

	records := make([]*models.ProductRecord, 0, len(parsed))
	for _, record := range parsed {
		if record != nil {
			records = append(records, record)
		}
	}
	return records, nil
}

// Dedupe collapses records by UPC and tracks how many were dropped.
func (p *Pipeline) Dedupe(records []*models.ProductRecord) models.Catalogue {
	catalogue := Dedupe(records)
	if duplicates := len(records) - len(catalogue); duplicates > 0 {
		p.metrics.addDuplicates(int64(duplicates))
		slog.Info("collapsed duplicate products", slog.Int("duplicates", duplicates))
	}
	return catalogue
}

// Dedupe keys records by UPC. When several records share a UPC the one
// appearing last in records wins.
func Dedupe(records []*models.ProductRecord) models.Catalogue {
	catalogue := make(models.Catalogue, len(records))
	for _, record := range records {
		if record == nil || record.UPC == "" {
			continue
		}
		catalogue[record.UPC] = record
	}
	return catalogue
}

// Store opens the writer, persists the catalogue and validates the output.
func (p *Pipeline) Store(catalogue models.Catalogue) (int, error) {
	if p.open == nil {
		return 0, ErrNoWriter
	}

	writer, err := p.open()
	if err != nil {
		return 0, fmt.Errorf("open writer: %w", err)
	}

	records := catalogue.Records()
	if err := writer.Write(records); err != nil {
		p.abort(writer)
		return 0, fmt.Errorf("write catalogue: %w", err)
	}
	if err := writer.Validate(); err != nil {
		p.abort(writer)
		return 0, fmt.Errorf("validate output: %w", err)
	}
	if err := writer.Close(); err != nil {
		return 0, fmt.Errorf("close writer: %w", err)
	}

	p.metrics.setStored(int64(len(records)))
	slog.Info("finished scraping", slog.Int("products", len(records)))
	return len(records), nil
}

func (p *Pipeline) abort(writer OutputWriter) {
	if err := writer.Abort(); err != nil {
		slog.Warn("discarding output failed", slog.Any("error", err))
	}
}

// GetMetrics returns a snapshot of the internal counters.
func (p *Pipeline) GetMetrics() map[string]interface{} {
	return p.metrics.snapshot()
}

type metrics struct {
	mu         *sync.Mutex
	processed  int64
	duplicates int64
	stored     int64
	validation map[string]int
}

func newMetrics() metrics {
	return metrics{
		mu:         &sync.Mutex{},
		validation: make(map[string]int),
	}
}

func (m *metrics) incrementProcessed() {
	m.mu.Lock()
	m.processed++
	m.mu.Unlock()
}

func (m *metrics) addDuplicates(n int64) {
	m.mu.Lock()
	m.duplicates += n
	m.mu.Unlock()
}

func (m *metrics) setStored(n int64) {
	m.mu.Lock()
	m.stored = n
	m.mu.Unlock()
}

func (m *metrics) addValidation(kind string) {
	m.mu.Lock()
	m.validation[kind]++
	m.mu.Unlock()
}

func (m *metrics) snapshot() map[string]interface{} {
	m.mu.Lock()
	defer m.mu.Unlock()

	copyValidation := make(map[string]int, len(m.validation))
	for k, v := range m.validation {
		copyValidation[k] = v
	}

	return map[string]interface{}{
		"processed_products": m.processed,
		"duplicate_upc":      m.duplicates,
		"stored_products":    m.stored,
		"validation_errors":  copyValidation,
	}
}
