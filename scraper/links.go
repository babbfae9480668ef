package scraper

import (
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// ExtractLinks returns the absolute product detail URLs found on a
// catalogue page, in document order. Entries without an image container,
// anchor or href are skipped. Duplicates are kept.
func ExtractLinks(content, pageURL string) ([]string, error) {
	base, err := url.Parse(pageURL)
	if err != nil {
		return nil, fmt.Errorf("parse page url: %w", err)
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(content))
	if err != nil {
		return nil, fmt.Errorf("parse catalogue page: %w", err)
	}

	links := make([]string, 0, 20)
	doc.Find("article.product_pod").Each(func(_ int, product *goquery.Selection) {
		container := product.Find("div.image_container").First()
		if container.Length() == 0 {
			return
		}
		anchor := container.Find("a").First()
		if anchor.Length() == 0 {
			return
		}
		href, ok := anchor.Attr("href")
		href = strings.TrimSpace(href)
		if !ok || href == "" {
			return
		}

		ref, err := url.Parse(href)
		if err != nil {
			slog.Debug("skipping malformed product link",
				slog.String("page", pageURL),
				slog.String("href", href),
				slog.Any("error", err),
			)
			return
		}
		links = append(links, base.ResolveReference(ref).String())
	})

	return links, nil
}
