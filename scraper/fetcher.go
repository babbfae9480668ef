package scraper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aluiziolira/go-scrape-catalogue/config"
	"github.com/gocolly/colly/v2"
	lru "github.com/hashicorp/golang-lru/v2"
)

const (
	ctxStartKey  = "start"
	ctxBodyKey   = "body"
	ctxStatusKey = "status"
)

// PageFetcher retrieves the raw content of a page.
type PageFetcher interface {
	Fetch(ctx context.Context, url string) (string, error)
}

// FetchStats is a snapshot of the fetcher counters.
type FetchStats struct {
	Requests     int
	Retries      int
	Errors       int
	ErrorsByType map[string]int
}

// Fetcher issues GET requests through a shared colly collector and retries
// failures according to its RetryPolicy. It is safe for concurrent use.
type Fetcher struct {
	collector *colly.Collector
	retry     RetryPolicy
	metrics   *Metrics
	cache     *lru.Cache[string, string]

	requestCount int64
	retryCount   int64
	errorCount   int64

	mu           sync.Mutex
	errorsByType map[string]int
}

// NewFetcher builds a fetcher configured from cfg.
func NewFetcher(cfg *config.Config, metrics *Metrics) (*Fetcher, error) {
	parsed, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if parsed.Host == "" {
		return nil, fmt.Errorf("base url must include a host")
	}

	collector := colly.NewCollector(
		colly.AllowedDomains(parsed.Hostname()),
		colly.UserAgent(cfg.UserAgent),
		colly.AllowURLRevisit(),
	)

	collector.SetRequestTimeout(cfg.Timeout)
	collector.IgnoreRobotsTxt = !cfg.RespectRobotsTxt
	collector.WithTransport(&http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   cfg.Timeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: cfg.BatchSize,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	})

	if err := collector.Limit(&colly.LimitRule{
		DomainGlob:  "*",
		Parallelism: cfg.Parallelism,
		Delay:       cfg.Delay,
		RandomDelay: cfg.RandomDelay,
	}); err != nil {
		return nil, fmt.Errorf("configure rate limits: %w", err)
	}

	f := &Fetcher{
		collector:    collector,
		retry:        NewRetryPolicy(cfg),
		metrics:      metrics,
		errorsByType: make(map[string]int),
	}
	if cfg.PageCacheSize > 0 {
		cache, err := lru.New[string, string](cfg.PageCacheSize)
		if err != nil {
			return nil, fmt.Errorf("create page cache: %w", err)
		}
		f.cache = cache
	}
	f.configureHandlers()
	return f, nil
}

// SetRetryPolicy replaces the retry policy. It must be called before the
// first Fetch.
func (f *Fetcher) SetRetryPolicy(policy RetryPolicy) {
	f.retry = policy
}

func (f *Fetcher) configureHandlers() {
	f.collector.OnRequest(func(r *colly.Request) {
		r.Ctx.Put(ctxStartKey, time.Now())
		atomic.AddInt64(&f.requestCount, 1)
		f.metrics.IncRequest("started")
	})

	f.collector.OnResponse(func(r *colly.Response) {
		f.observe(r)
		r.Ctx.Put(ctxStatusKey, r.StatusCode)
		r.Ctx.Put(ctxBodyKey, string(r.Body))
	})

	f.collector.OnError(func(r *colly.Response, err error) {
		if r == nil || r.Ctx == nil {
			return
		}
		f.observe(r)
		r.Ctx.Put(ctxStatusKey, r.StatusCode)
	})
}

func (f *Fetcher) observe(r *colly.Response) {
	if f.metrics == nil || r.Request == nil || r.Request.Ctx == nil {
		return
	}
	if start, ok := r.Request.Ctx.GetAny(ctxStartKey).(time.Time); ok {
		f.metrics.ObserveDuration(time.Since(start))
	}
}

// Fetch returns the body of rawURL, retrying failed attempts with backoff.
// Every failed attempt is logged. Once the attempts are exhausted the
// returned error is a *FetchError.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (string, error) {
	if f.cache != nil {
		if body, ok := f.cache.Get(rawURL); ok {
			return body, nil
		}
	}

	maxAttempts := f.retry.attempts()
	var lastErr error
	made := 0
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		made = attempt
		if err := ctx.Err(); err != nil {
			return "", err
		}

		body, status, err := f.get(rawURL)
		if err == nil {
			f.metrics.IncRequest("succeeded")
			if f.cache != nil {
				f.cache.Add(rawURL, body)
			}
			return body, nil
		}

		failure := &TransportError{Category: classify(err, status), Status: status, Err: err}
		lastErr = failure
		f.recordError(failure.Category)
		slog.Error("fetch attempt failed",
			slog.String("url", rawURL),
			slog.Int("attempt", attempt),
			slog.Int("max_attempts", maxAttempts),
			slog.Int("status", status),
			slog.String("category", failure.Category),
			slog.Any("error", err),
		)

		// The collector refused to send the request; another attempt would too.
		if failure.Category == CategoryRefused || attempt == maxAttempts {
			break
		}

		atomic.AddInt64(&f.retryCount, 1)
		f.metrics.IncRetries()
		if err := f.retry.wait(ctx, attempt); err != nil {
			return "", err
		}
	}

	f.metrics.IncRequest("exhausted")

	return "", &FetchError{URL: rawURL, Attempts: made, Err: lastErr}
}

// get performs a single attempt.
func (f *Fetcher) get(rawURL string) (string, int, error) {
	reqCtx := colly.NewContext()
	err := f.collector.Request(http.MethodGet, rawURL, nil, reqCtx, nil)

	status, _ := reqCtx.GetAny(ctxStatusKey).(int)
	if err != nil {
		return "", status, err
	}
	body, ok := reqCtx.GetAny(ctxBodyKey).(string)
	if !ok {
		return "", status, fmt.Errorf("empty response for %s", rawURL)
	}
	return body, status, nil
}

func (f *Fetcher) recordError(category string) {
	atomic.AddInt64(&f.errorCount, 1)

	f.mu.Lock()
	f.errorsByType[category]++
	f.mu.Unlock()

	f.metrics.IncError(category)
}

// Stats returns a snapshot of the counters collected so far.
func (f *Fetcher) Stats() FetchStats {
	f.mu.Lock()
	defer f.mu.Unlock()

	byType := make(map[string]int, len(f.errorsByType))
	for k, v := range f.errorsByType {
		byType[k] = v
	}

	return FetchStats{
		Requests:     int(atomic.LoadInt64(&f.requestCount)),
		Retries:      int(atomic.LoadInt64(&f.retryCount)),
		Errors:       int(atomic.LoadInt64(&f.errorCount)),
		ErrorsByType: byType,
	}
}

// classify maps a failed attempt to its transport category.
func classify(err error, status int) string {
	switch {
	case errors.Is(err, colly.ErrForbiddenDomain),
		errors.Is(err, colly.ErrForbiddenURL),
		errors.Is(err, colly.ErrRobotsTxtBlocked),
		errors.Is(err, colly.ErrMissingURL):
		return CategoryRefused
	case errors.Is(err, context.DeadlineExceeded):
		return CategoryTimeout
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return CategoryTimeout
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return CategoryConnection
	}

	switch {
	case status == http.StatusForbidden:
		return CategoryForbidden
	case status == http.StatusNotFound:
		return CategoryNotFound
	case status == http.StatusTooManyRequests:
		return CategoryRateLimited
	case status >= http.StatusInternalServerError:
		return CategoryServerError
	}
	return CategoryOther
}
