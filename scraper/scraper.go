package scraper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aluiziolira/go-scrape-catalogue/config"
	"github.com/aluiziolira/go-scrape-catalogue/models"
	"github.com/aluiziolira/go-scrape-catalogue/workers"
)

// Scraper discovers every product detail page of the catalogue and fetches
// them in fixed-size batches.
type Scraper struct {
	cfg      *config.Config
	endpoint models.CatalogueEndpoint
	fetcher  PageFetcher
	io       workers.Executor
	Metrics  *Metrics

	// OnBatch, when set, is called after each detail batch completes with
	// the number of links processed so far and the total.
	OnBatch func(done, total int)

	pageCount  int64
	linkCount  int64
	batchCount int64

	mu      sync.Mutex
	skipped []string
}

// NewScraper builds a scraper backed by a colly Fetcher configured from cfg.
func NewScraper(cfg *config.Config) (*Scraper, error) {
	metrics := NewMetrics()
	fetcher, err := NewFetcher(cfg, metrics)
	if err != nil {
		return nil, err
	}
	return New(cfg, fetcher, metrics)
}

// New builds a scraper around an existing fetcher.
func New(cfg *config.Config, fetcher PageFetcher, metrics *Metrics) (*Scraper, error) {
	endpoint, err := models.NewCatalogueEndpoint(cfg.BaseURL, cfg.CataloguePath)
	if err != nil {
		return nil, fmt.Errorf("catalogue endpoint: %w", err)
	}
	if cfg.BatchSize <= 0 {
		return nil, fmt.Errorf("batch size must be positive")
	}

	return &Scraper{
		cfg:      cfg,
		endpoint: endpoint,
		fetcher:  fetcher,
		io:       workers.NewIOPool(0),
		Metrics:  metrics,
	}, nil
}

// Run collects the raw content of every product detail page.
func (s *Scraper) Run(ctx context.Context) (*models.ScraperResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	start := time.Now()
	pages, err := s.CollectAllProducts(ctx)
	if err != nil {
		return nil, err
	}

	result := &models.ScraperResult{
		Pages:      pages,
		StartTime:  start,
		EndTime:    time.Now(),
		PageCount:  int(atomic.LoadInt64(&s.pageCount)),
		LinkCount:  int(atomic.LoadInt64(&s.linkCount)),
		BatchCount: int(atomic.LoadInt64(&s.batchCount)),
		FailedURLs: s.snapshotSkipped(),
	}
	if stats, ok := s.fetcher.(interface{ Stats() FetchStats }); ok {
		snapshot := stats.Stats()
		result.RequestCount = snapshot.Requests
		result.RetryCount = snapshot.Retries
		result.ErrorCount = snapshot.Errors
		result.ErrorsByType = snapshot.ErrorsByType
	}
	return result, nil
}

// CollectAllProducts runs link discovery followed by the batched detail
// fetch. Pages are returned in link order.
func (s *Scraper) CollectAllProducts(ctx context.Context) ([]models.RawPage, error) {
	links, err := s.CollectLinks(ctx)
	if err != nil {
		return nil, err
	}
	return s.FetchDetails(ctx, links)
}

// CollectLinks resolves the page count and extracts product links from
// every catalogue page concurrently. Links are flattened in page order.
func (s *Scraper) CollectLinks(ctx context.Context) ([]string, error) {
	count, err := ResolvePageCount(ctx, s.fetcher, s.endpoint.HomeURL)
	if err != nil {
		return nil, err
	}
	atomic.StoreInt64(&s.pageCount, int64(count))
	slog.Info("catalogue page count resolved", slog.Int("pages", count))

	perPage := make([][]string, count)
	slog.Info("extracting links from catalogue pages",
		slog.Int("pages", count),
		slog.String("pool", s.io.Name()),
		slog.Int("limit", s.io.Limit()),
	)
	err = s.io.Run(ctx, count, func(ctx context.Context, i int) error {
		pageURL := s.endpoint.PageURL(i + 1)
		slog.Info("extracting product links", slog.String("url", pageURL))

		content, err := s.fetcher.Fetch(ctx, pageURL)
		if err != nil {
			return fmt.Errorf("catalogue page %d: %w", i+1, err)
		}
		links, err := ExtractLinks(content, pageURL)
		if err != nil {
			return fmt.Errorf("catalogue page %d: %w", i+1, err)
		}
		perPage[i] = links
		s.Metrics.IncPages(PageKindListing)
		return nil
	})
	if err != nil {
		return nil, err
	}

	links := flatten(perPage)
	atomic.StoreInt64(&s.linkCount, int64(len(links)))
	return links, nil
}

// FetchDetails fetches every link in batches of cfg.BatchSize. A batch
// starts only after the previous one has fully completed. Unless
// IsolateFailures is set, the first exhausted fetch aborts the run.
func (s *Scraper) FetchDetails(ctx context.Context, links []string) ([]models.RawPage, error) {
	pages := make([]models.RawPage, len(links))
	fetched := make([]bool, len(links))
	batchSize := s.cfg.BatchSize
	slog.Info("fetching product details",
		slog.Int("links", len(links)),
		slog.Int("batch_size", batchSize),
		slog.String("pool", s.io.Name()),
		slog.Int("limit", s.io.Limit()),
	)

	for start, n := 0, 1; start < len(links); start, n = start+batchSize, n+1 {
		end := min(start+batchSize, len(links))
		batch := links[start:end]
		slog.Debug("fetching detail batch",
			slog.Int("batch", n),
			slog.Int("size", len(batch)),
			slog.Int("offset", start),
		)

		batchStart := time.Now()
		err := s.io.Run(ctx, len(batch), func(ctx context.Context, i int) error {
			link := batch[i]
			slog.Info("collecting product data", slog.String("url", link))

			content, err := s.fetcher.Fetch(ctx, link)
			if err != nil {
				var fetchErr *FetchError
				if s.cfg.IsolateFailures && errors.As(err, &fetchErr) {
					s.skip(link)
					return nil
				}
				return err
			}

			pages[start+i] = models.RawPage{URL: link, Content: content}
			fetched[start+i] = true
			s.Metrics.IncPages(PageKindDetail)
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("detail batch %d: %w", n, err)
		}

		atomic.AddInt64(&s.batchCount, 1)
		s.Metrics.ObserveBatch(time.Since(batchStart))
		if s.OnBatch != nil {
			s.OnBatch(end, len(links))
		}
	}

	out := make([]models.RawPage, 0, len(pages))
	for i, page := range pages {
		if fetched[i] {
			out = append(out, page)
		}
	}
	return out, nil
}

func (s *Scraper) skip(link string) {
	slog.Warn("skipping product page after exhausted retries", slog.String("url", link))
	s.Metrics.IncSkipped()
	s.mu.Lock()
	s.skipped = append(s.skipped, link)
	s.mu.Unlock()
}

func (s *Scraper) snapshotSkipped() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.skipped))
	copy(out, s.skipped)
	return out
}

func flatten(lists [][]string) []string {
	total := 0
	for _, l := range lists {
		total += len(l)
	}
	out := make([]string, 0, total)
	for _, l := range lists {
		out = append(out, l...)
	}
	return out
}
