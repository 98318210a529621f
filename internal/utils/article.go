package utils

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-shiori/go-readability"
)

const browserUserAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10.15; rv:146.0) Gecko/20100101 Firefox/146.0"

type Article struct {
	Title   string
	Byline  string
	Excerpt string
	Text    string
}

// ParseArticle runs readability over an HTML document. pageURL resolves
// relative links and may be empty.
func ParseArticle(r io.Reader, pageURL string) (Article, error) {
	base := &url.URL{}
	if pageURL != "" {
		u, err := url.Parse(pageURL)
		if err != nil {
			return Article{}, fmt.Errorf("invalid URL format: %w", err)
		}
		base = u
	}

	article, err := readability.FromReader(r, base)
	if err != nil {
		return Article{}, fmt.Errorf("failed to extract content: %w", err)
	}

	return Article{
		Title:   strings.TrimSpace(article.Title),
		Byline:  strings.TrimSpace(article.Byline),
		Excerpt: strings.TrimSpace(article.Excerpt),
		Text:    strings.TrimSpace(article.TextContent),
	}, nil
}

// FetchArticle downloads u and extracts its readable text.
func FetchArticle(ctx context.Context, client *http.Client, u string) (Article, error) {
	if u == "" {
		return Article{}, fmt.Errorf("URL is empty")
	}
	parsed, err := url.Parse(u)
	if err != nil {
		return Article{}, fmt.Errorf("invalid URL format: %w", err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return Article{}, fmt.Errorf("URL missing scheme or host")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return Article{}, err
	}
	req.Header.Set("User-Agent", browserUserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.5")

	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return Article{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Article{}, fmt.Errorf("failed to fetch page: %s", resp.Status)
	}

	return ParseArticle(resp.Body, u)
}
