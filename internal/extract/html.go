// Copyright (c) 2025 Northbound System
// Author: Nicholas Skitch
package extract

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
)

// HTTPFetcher implements Fetcher over net/http, grounded on the
// teacher's internal/parser/html.go goquery usage but reworked to
// fetch a live URL (spec.md §4.6 step 1) rather than read a local
// file. Redirects are followed by the default client, and the final
// URL after redirects is reported back per the HtmlFetcher contract.
type HTTPFetcher struct {
	client *http.Client
}

func NewHTTPFetcher() *HTTPFetcher {
	return &HTTPFetcher{client: &http.Client{Timeout: 30 * time.Second}}
}

func (f *HTTPFetcher) Fetch(ctx context.Context, url string) (FetchResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return FetchResult{}, fmt.Errorf("build fetch request: %w", err)
	}
	req.Header.Set("User-Agent", "knowledge-core/1.0 (+ingestion engine)")

	resp, err := f.client.Do(req)
	if err != nil {
		return FetchResult{}, fmt.Errorf("fetch %s: %w", url, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return FetchResult{}, fmt.Errorf("read response body for %s: %w", url, err)
	}

	finalURL := url
	if resp.Request != nil && resp.Request.URL != nil {
		finalURL = resp.Request.URL.String()
	}

	return FetchResult{
		HTML:       string(body),
		FinalURL:   finalURL,
		HTTPStatus: resp.StatusCode,
	}, nil
}

// GoqueryParser implements Parser with a readability-shaped extraction
// over goquery, grounded on the teacher's internal/parser/html.go
// script/style stripping and text extraction, extended to populate the
// title/byline/excerpt fields the URL Worker's TSTP fallback needs
// (spec.md §4.6 step 3).
type GoqueryParser struct{}

func NewGoqueryParser() *GoqueryParser { return &GoqueryParser{} }

func (p *GoqueryParser) Parse(html, url string) (Readability, bool) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return Readability{}, false
	}

	doc.Find("script, style, noscript").Each(func(i int, s *goquery.Selection) {
		s.Remove()
	})

	title := strings.TrimSpace(doc.Find("title").First().Text())
	if title == "" {
		title = strings.TrimSpace(doc.Find("h1").First().Text())
	}

	bodyHTML, _ := doc.Find("body").Html()

	var blocks []string
	doc.Find("body h1, body h2, body h3, body p, body li, body blockquote").Each(func(i int, s *goquery.Selection) {
		block := collapseWhitespace(strings.TrimSpace(s.Text()))
		if block != "" {
			blocks = append(blocks, block)
		}
	})
	text := strings.Join(blocks, "\n\n")
	if text == "" {
		text = collapseWhitespace(strings.TrimSpace(doc.Find("body").Text()))
	}
	if text == "" {
		text = collapseWhitespace(strings.TrimSpace(doc.Text()))
	}
	if text == "" {
		return Readability{}, false
	}

	byline := strings.TrimSpace(doc.Find(`[rel="author"], .author, .byline`).First().Text())

	excerpt := text
	if len(excerpt) > 280 {
		excerpt = strings.TrimSpace(excerpt[:280]) + "…"
	}

	return Readability{
		Title:       title,
		TextContent: collapseWhitespace(text),
		Content:     bodyHTML,
		Byline:      byline,
		Excerpt:     excerpt,
	}, true
}

func collapseWhitespace(s string) string {
	fields := strings.Fields(s)
	return strings.Join(fields, " ")
}
