package scraper

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/jarcoal/httpmock"
)

type fakeFetcher struct {
	mu      sync.Mutex
	pages   map[string]string
	errs    map[string]error
	calls   map[string]int
	order   []string
	onFetch func(url string)
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{
		pages: make(map[string]string),
		errs:  make(map[string]error),
		calls: make(map[string]int),
	}
}

func (f *fakeFetcher) Fetch(ctx context.Context, url string) (string, error) {
	if f.onFetch != nil {
		f.onFetch(url)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[url]++
	f.order = append(f.order, url)

	if err, ok := f.errs[url]; ok {
		return "", err
	}
	body, ok := f.pages[url]
	if !ok {
		return "", &FetchError{URL: url, Attempts: 1, Err: fmt.Errorf("no page registered")}
	}
	return body, nil
}

func (f *fakeFetcher) totalCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.order)
}

func (f *fakeFetcher) callsFor(url string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[url]
}

func htmlResponder(body string) httpmock.Responder {
	resp := httpmock.NewStringResponse(200, body)
	resp.Header.Set("Content-Type", "text/html")
	return httpmock.ResponderFromResponse(resp)
}

func buildHomePage(pagerText string) string {
	var builder strings.Builder
	builder.WriteString("<html><body><section>")
	if pagerText != "" {
		builder.WriteString("<ul class=\"pager\">")
		fmt.Fprintf(&builder, "<li class=\"current\">\n    %s\n</li>", pagerText)
		builder.WriteString("<li class=\"next\"><a href=\"catalogue/page-2.html\">next</a></li>")
		builder.WriteString("</ul>")
	}
	builder.WriteString("</section></body></html>")
	return builder.String()
}

// buildCataloguePage renders perPage product entries numbered from first.
func buildCataloguePage(first, perPage int) string {
	var builder strings.Builder
	builder.WriteString("<html><body><ol class=\"row\">")
	for id := first; id < first+perPage; id++ {
		builder.WriteString("<li><article class=\"product_pod\">")
		fmt.Fprintf(&builder, "<div class=\"image_container\"><a href=\"book-%d/index.html\"><img src=\"../media/%d.jpg\"/></a></div>", id, id)
		fmt.Fprintf(&builder, "<h3><a href=\"book-%d/index.html\" title=\"Book %d\">Book %d</a></h3>", id, id, id)
		builder.WriteString("</article></li>")
	}
	builder.WriteString("</ol></body></html>")
	return builder.String()
}

func buildDetailPage(name, upc string) string {
	var builder strings.Builder
	builder.WriteString("<html><body><article class=\"product_page\">")
	fmt.Fprintf(&builder, "<div class=\"product_main\"><h1>%s</h1></div>", name)
	builder.WriteString("<table class=\"table table-striped\">")
	fmt.Fprintf(&builder, "<tr><th>UPC</th><td>%s</td></tr>", upc)
	builder.WriteString("<tr><th>Price (excl. tax)</th><td>£51.77</td></tr>")
	builder.WriteString("<tr><th>Tax</th><td>£0.00</td></tr>")
	builder.WriteString("<tr><th>Availability</th><td>In stock (22 available)</td></tr>")
	builder.WriteString("</table></article></body></html>")
	return builder.String()
}
