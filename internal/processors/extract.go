package processors

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"resourcewatch/internal/types"
	"resourcewatch/internal/utils"
)

type ExtractFieldsConfig struct {
	TitleSelector string
	TextSelector  string
	LinkSelector  string
	// Fetch reads the page behind the "link" attribute instead of the data.
	Fetch     bool
	MaxLength int
	Client    *http.Client
}

// ExtractFields pulls title, text and link out of an HTML document with CSS
// selectors and stores them as attributes.
type ExtractFields struct {
	name string
	cfg  ExtractFieldsConfig
}

func NewExtractFields(name string, cfg ExtractFieldsConfig) (*ExtractFields, error) {
	if cfg.TitleSelector == "" && cfg.TextSelector == "" && cfg.LinkSelector == "" {
		return nil, fmt.Errorf("extract_fields %s: at least one selector is required", name)
	}
	if cfg.Client == nil {
		cfg.Client = http.DefaultClient
	}
	return &ExtractFields{name: name, cfg: cfg}, nil
}

func (e *ExtractFields) Name() string {
	return e.name
}

func (e *ExtractFields) Process(ctx context.Context, res *types.Resource) error {
	var body io.Reader
	if e.cfg.Fetch {
		link := res.Attribute("link")
		if link == "" {
			return nil
		}
		page, err := e.download(ctx, link)
		if err != nil {
			return err
		}
		body = bytes.NewReader(page)
	} else {
		if len(res.Data()) == 0 {
			return nil
		}
		body = bytes.NewReader(res.Data())
	}

	doc, err := goquery.NewDocumentFromReader(body)
	if err != nil {
		return types.NonRetryable(fmt.Errorf("failed to parse HTML: %w", err))
	}

	if sel := e.cfg.TitleSelector; sel != "" {
		if title := strings.TrimSpace(doc.Find(sel).First().Text()); title != "" {
			res.SetAttribute("title", title)
		}
	}
	if sel := e.cfg.TextSelector; sel != "" {
		var parts []string
		doc.Find(sel).Each(func(_ int, s *goquery.Selection) {
			if t := strings.TrimSpace(s.Text()); t != "" {
				parts = append(parts, t)
			}
		})
		if len(parts) > 0 {
			res.SetAttribute("text", utils.Truncate(strings.Join(parts, "\n"), e.cfg.MaxLength))
		}
	}
	if sel := e.cfg.LinkSelector; sel != "" {
		if href, ok := doc.Find(sel).First().Attr("href"); ok && href != "" {
			res.SetAttribute("link", href)
		}
	}
	return nil
}

func (e *ExtractFields) download(ctx context.Context, link string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, link, nil)
	if err != nil {
		return nil, types.NonRetryable(fmt.Errorf("invalid link %q: %w", link, err))
	}
	resp, err := e.cfg.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s: %w", link, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		return nil, types.NonRetryablef("failed to fetch %s: %s", link, resp.Status)
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("failed to fetch %s: %s", link, resp.Status)
	}
	return io.ReadAll(resp.Body)
}

// ExtractText runs readability over the resource and keeps the article text.
// With a link attribute the page is downloaded first; otherwise the data is
// parsed as HTML.
type ExtractText struct {
	name   string
	limit  int
	client *http.Client
}

func NewExtractText(name string, limit int, client *http.Client) *ExtractText {
	if client == nil {
		client = http.DefaultClient
	}
	return &ExtractText{name: name, limit: limit, client: client}
}

func (e *ExtractText) Name() string {
	return e.name
}

func (e *ExtractText) Process(ctx context.Context, res *types.Resource) error {
	var (
		article utils.Article
		err     error
	)
	if link := res.Attribute("link"); link != "" {
		article, err = utils.FetchArticle(ctx, e.client, link)
		if err != nil {
			return fmt.Errorf("failed to extract article text: %w", err)
		}
	} else {
		if len(res.Data()) == 0 {
			return nil
		}
		article, err = utils.ParseArticle(bytes.NewReader(res.Data()), "")
		if err != nil {
			return types.NonRetryable(fmt.Errorf("failed to extract article text: %w", err))
		}
	}

	if article.Text == "" {
		return nil
	}
	res.SetAttribute("text", utils.Truncate(article.Text, e.limit))
	if article.Title != "" && res.Attribute("title") == "" {
		res.SetAttribute("title", article.Title)
	}
	if article.Byline != "" {
		res.SetAttribute("byline", article.Byline)
	}
	if article.Excerpt != "" {
		res.SetAttribute("excerpt", article.Excerpt)
	}
	return nil
}
