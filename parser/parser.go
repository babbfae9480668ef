// Package parser turns product detail pages into ProductRecords.
package parser

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/aluiziolira/go-scrape-catalogue/models"
)

// Information table labels.
const (
	FieldUPC          = "UPC"
	FieldPriceExclTax = "Price (excl. tax)"
	FieldTax          = "Tax"
	FieldAvailability = "Availability"
)

var requiredFields = []string{FieldUPC, FieldPriceExclTax, FieldTax, FieldAvailability}

// ErrMissingField is wrapped by ParseError when a required table row is absent.
var ErrMissingField = errors.New("missing field")

// ParseError reports a detail page that could not produce a record.
type ParseError struct {
	URL   string
	Field string
	Err   error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %s: %s: %v", e.URL, e.Field, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// ParseProduct extracts a ProductRecord from a detail page.
func ParseProduct(page models.RawPage) (*models.ProductRecord, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(page.Content))
	if err != nil {
		return nil, &ParseError{URL: page.URL, Field: "document", Err: err}
	}

	article := doc.Find("article.product_page").First()
	info := informationTable(article.Find("table.table").First())
	for _, field := range requiredFields {
		if _, ok := info[field]; !ok {
			return nil, &ParseError{URL: page.URL, Field: field, Err: ErrMissingField}
		}
	}

	availability, err := ParseAvailability(info[FieldAvailability])
	if err != nil {
		return nil, &ParseError{URL: page.URL, Field: FieldAvailability, Err: err}
	}

	record := &models.ProductRecord{
		Name:              productName(article),
		UPC:               info[FieldUPC],
		PriceExcludingTax: ParsePrice(info[FieldPriceExclTax]),
		Tax:               ParsePrice(info[FieldTax]),
		Availability:      availability,
	}
	if err := ValidateProduct(record); err != nil {
		return nil, &ParseError{URL: page.URL, Field: FieldUPC, Err: err}
	}
	return record, nil
}

// informationTable maps each row's th label to its td value. Rows missing
// either cell are skipped.
func informationTable(table *goquery.Selection) map[string]string {
	info := make(map[string]string)
	table.Find("tr").Each(func(_ int, row *goquery.Selection) {
		key := strings.TrimSpace(row.Find("th").First().Text())
		value := strings.TrimSpace(row.Find("td").First().Text())
		if key == "" || value == "" {
			return
		}
		info[key] = value
	})
	return info
}

func productName(article *goquery.Selection) *string {
	heading := article.Find("div.product_main").First().Find("h1").First()
	if heading.Length() == 0 {
		return nil
	}
	name := strings.TrimSpace(heading.Text())
	return &name
}

// ValidateProduct ensures the record can be keyed in a catalogue.
func ValidateProduct(r *models.ProductRecord) error {
	if r == nil {
		return fmt.Errorf("product is nil")
	}
	if strings.TrimSpace(r.UPC) == "" {
		return fmt.Errorf("product missing upc")
	}
	if r.Availability < 0 {
		return fmt.Errorf("product %s has negative availability", r.UPC)
	}
	return nil
}

// NormalizePrice removes the currency symbol and surrounding whitespace.
func NormalizePrice(price string) string {
	price = strings.TrimSpace(price)
	price = strings.ReplaceAll(price, "Â£", "")
	price = strings.ReplaceAll(price, "£", "")
	return strings.TrimSpace(price)
}

// ParsePrice returns the numeric value of a price string, or nil with a
// warning when the text is not a finite number.
func ParsePrice(text string) *float64 {
	normalized := NormalizePrice(text)
	value, err := strconv.ParseFloat(normalized, 64)
	if err == nil && (math.IsNaN(value) || math.IsInf(value, 0)) {
		err = fmt.Errorf("non-finite value %q", normalized)
	}
	if err != nil {
		slog.Warn("failed to convert price to number",
			slog.String("value", text),
			slog.Any("error", err),
		)
		return nil
	}
	return &value
}

// ParseAvailability converts "In stock (N available)" to N. Text without
// "In stock" means zero units. A malformed count is an error.
func ParseAvailability(text string) (int, error) {
	text = strings.TrimSpace(text)
	if !strings.Contains(text, "In stock") {
		return 0, nil
	}

	count := strings.ReplaceAll(text, "In stock (", "")
	count = strings.ReplaceAll(count, " available)", "")
	n, err := strconv.Atoi(strings.TrimSpace(count))
	if err != nil {
		return 0, fmt.Errorf("availability %q: %w", text, err)
	}
	if n < 0 {
		return 0, fmt.Errorf("availability %q: negative count", text)
	}
	return n, nil
}
