// Package webfetch fetches a URL and extracts its readable text content.
// The LLM Adapter (C2) uses it when a request's web search resolves to exa
// and the search prompt is itself an absolute URL (LooksLikeURL): the
// page's readable text is fetched and inlined ahead of the messages; free-
// text search prompts never reach this package — grounded directly on
// the teacher's tools/http.Tool.Fetch, swapping its oasis.Tool wrapper for
// a plain function the adapter can call inline.
package webfetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-shiori/go-readability"
)

const maxFetchBodyBytes = 1 << 20 // 1MB, matches the teacher's http.Tool

// Fetcher downloads a URL and extracts its readable text.
type Fetcher struct {
	client *http.Client
}

// New creates a Fetcher with a 15-second timeout, matching the teacher's
// tools/http.Tool.
func New() *Fetcher {
	return &Fetcher{client: &http.Client{Timeout: 15 * time.Second}}
}

// Fetch downloads rawURL and returns its readability-extracted text, or a
// simple HTML-tag-stripped fallback if extraction finds no article body.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", fmt.Errorf("invalid URL: %w", err)
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; taskgate/1.0)")

	resp, err := f.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch error: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("HTTP %d from %s", resp.StatusCode, rawURL)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFetchBodyBytes))
	if err != nil {
		return "", fmt.Errorf("read error: %w", err)
	}
	html := string(body)

	parsedURL, _ := url.Parse(rawURL)
	article, err := readability.FromReader(strings.NewReader(html), parsedURL)
	if err == nil && article.TextContent != "" {
		return strings.TrimSpace(article.TextContent), nil
	}
	return stripHTML(html), nil
}

// stripHTML is a minimal fallback for pages readability can't parse as an
// article (e.g. JSON or plain-text responses masquerading as HTML).
func stripHTML(html string) string {
	var sb strings.Builder
	inTag := false
	for _, r := range html {
		switch {
		case r == '<':
			inTag = true
		case r == '>':
			inTag = false
		case !inTag:
			sb.WriteRune(r)
		}
	}
	return strings.TrimSpace(sb.String())
}

// LooksLikeURL reports whether s parses as an absolute http(s) URL, the
// gate the adapter uses to decide whether a WebSearchConfig.SearchPrompt is
// fetchable directly rather than being a free-text query.
func LooksLikeURL(s string) bool {
	u, err := url.Parse(s)
	return err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
