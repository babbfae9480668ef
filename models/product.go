// Package models defines data structures for the scraper.
package models

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"
)

const pagePlaceholder = "__page__"

// CatalogueEndpoint locates the catalogue home page and its numbered pages.
type CatalogueEndpoint struct {
	HomeURL      string
	PageTemplate string // absolute URL containing a single %d verb
}

// NewCatalogueEndpoint resolves pathTemplate against baseURL.
func NewCatalogueEndpoint(baseURL, pathTemplate string) (CatalogueEndpoint, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return CatalogueEndpoint{}, fmt.Errorf("parse base url: %w", err)
	}
	if base.Host == "" {
		return CatalogueEndpoint{}, fmt.Errorf("base url must include a host")
	}
	if strings.Count(pathTemplate, "%d") != 1 {
		return CatalogueEndpoint{}, fmt.Errorf("catalogue path %q must contain exactly one %%d", pathTemplate)
	}
	if !strings.HasSuffix(base.Path, "/") {
		base.Path += "/"
	}

	// %d is not a valid URL escape, so it is swapped out while resolving.
	ref, err := url.Parse(strings.Replace(pathTemplate, "%d", pagePlaceholder, 1))
	if err != nil {
		return CatalogueEndpoint{}, fmt.Errorf("parse catalogue path: %w", err)
	}
	template := base.ResolveReference(ref).String()

	return CatalogueEndpoint{
		HomeURL:      base.String(),
		PageTemplate: strings.Replace(template, pagePlaceholder, "%d", 1),
	}, nil
}

// PageURL returns the URL of catalogue page n (1-based).
func (e CatalogueEndpoint) PageURL(n int) string {
	return fmt.Sprintf(e.PageTemplate, n)
}

// RawPage is fetched page content tagged with its source URL.
type RawPage struct {
	URL     string
	Content string
}

// ProductRecord is one parsed product detail page.
type ProductRecord struct {
	Name              *string  `json:"product_name"`
	UPC               string   `json:"upc"`
	PriceExcludingTax *float64 `json:"price_excluding_tax"`
	Tax               *float64 `json:"tax"`
	Availability      int      `json:"availability"`
}

// Catalogue maps a UPC to its product record.
type Catalogue map[string]*ProductRecord

// Records returns the catalogue values ordered by UPC.
func (c Catalogue) Records() []*ProductRecord {
	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]*ProductRecord, 0, len(keys))
	for _, k := range keys {
		out = append(out, c[k])
	}
	return out
}

// ScraperResult holds the overall result of a scraping operation
type ScraperResult struct {
	Pages        []RawPage
	StartTime    time.Time
	EndTime      time.Time
	PageCount    int
	LinkCount    int
	BatchCount   int
	ErrorCount   int
	FailedURLs   []string
	ErrorsByType map[string]int
	RetryCount   int
	RequestCount int
}
