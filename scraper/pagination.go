package scraper

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// ResolvePageCount fetches the catalogue home page and reads the total
// page count from its "Page X of N" pager. It never falls back to a
// default: a missing or malformed pager is a *ConfigError.
func ResolvePageCount(ctx context.Context, fetcher PageFetcher, homeURL string) (int, error) {
	content, err := fetcher.Fetch(ctx, homeURL)
	if err != nil {
		return 0, fmt.Errorf("fetch catalogue home: %w", err)
	}

	count, err := parsePageCount(content)
	if err != nil {
		return 0, &ConfigError{URL: homeURL, Err: err}
	}
	return count, nil
}

func parsePageCount(content string) (int, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(content))
	if err != nil {
		return 0, fmt.Errorf("parse home page: %w", err)
	}

	current := doc.Find("ul.pager li.current").First()
	if current.Length() == 0 {
		return 0, ErrPagerNotFound
	}

	text := strings.Join(strings.Fields(current.Text()), " ")
	if !strings.Contains(text, "Page ") || !strings.Contains(text, " of ") {
		return 0, fmt.Errorf("%w: %q", ErrUnexpectedPagerFormat, text)
	}

	total := text[strings.LastIndex(text, " of ")+len(" of "):]
	if !isDigits(total) {
		return 0, fmt.Errorf("%w: %q", ErrPageCountNotNumeric, total)
	}
	n, err := strconv.Atoi(total)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrPageCountNotNumeric, err)
	}
	return n, nil
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
