// Package embed validates URLs for embedded-page replies and looks up a
// display title for them.
package embed

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
)

var (
	// ErrMissingURL is returned for an empty URL.
	ErrMissingURL = errors.New("URL is required for /embed command")
	// ErrInvalidURL is returned when the URL does not parse as http(s) with a host.
	ErrInvalidURL = errors.New("invalid URL format")
	// ErrYouTube is returned for YouTube links, which are never embedded.
	ErrYouTube = errors.New("embedding YouTube is not supported for security reasons. Please open the video directly on YouTube")
)

// DefaultTitle is used when no page title can be found.
const DefaultTitle = "Embedded Content"

// Normalize trims raw, adds https:// when it has no http scheme, and
// validates the result.
func Normalize(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", ErrMissingURL
	}
	if !strings.HasPrefix(raw, "http") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", ErrInvalidURL
	}
	host := strings.ToLower(u.Hostname())
	if host == "youtu.be" || host == "youtube.com" || strings.HasSuffix(host, ".youtube.com") {
		return "", ErrYouTube
	}
	return u.String(), nil
}

// Page is the metadata shown with an embedded URL.
type Page struct {
	URL         string `json:"url"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
}

// Fetcher retrieves a page body.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// maxBodySize caps how much of a page is read for metadata.
const maxBodySize = 2 << 20

// HTTPFetcher is a Fetcher over net/http.
type HTTPFetcher struct {
	Client *http.Client
}

// NewHTTPFetcher returns an HTTPFetcher with a short timeout.
func NewHTTPFetcher() *HTTPFetcher {
	return &HTTPFetcher{Client: &http.Client{Timeout: 10 * time.Second}}
}

// Fetch implements Fetcher.
func (f *HTTPFetcher) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("embed: build request: %w", err)
	}
	req.Header.Set("User-Agent", "toolchat/1.0")
	resp, err := f.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embed: fetch: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("embed: fetch: status %d", resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
}

// Option is a functional option for configuring Describer.
type Option func(*Describer)

// WithLogger sets a structured logger. If l is nil it is ignored.
func WithLogger(l *slog.Logger) Option {
	return func(d *Describer) {
		if l != nil {
			d.logger = l
		}
	}
}

// Describer looks up page metadata. A nil fetcher disables lookups.
type Describer struct {
	fetcher Fetcher
	logger  *slog.Logger
}

// NewDescriber returns a Describer using fetcher.
func NewDescriber(fetcher Fetcher, opts ...Option) *Describer {
	d := &Describer{fetcher: fetcher}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *Describer) log() *slog.Logger {
	if d.logger != nil {
		return d.logger
	}
	return slog.Default()
}

// Describe returns the title and description of the page at u. Lookup
// failures are logged and yield DefaultTitle; they never fail the reply.
func (d *Describer) Describe(ctx context.Context, u string) Page {
	page := Page{URL: u, Title: DefaultTitle}
	if d == nil || d.fetcher == nil {
		return page
	}
	body, err := d.fetcher.Fetch(ctx, u)
	if err != nil {
		d.log().Warn("embed: title lookup failed", "url", u, "error", err)
		return page
	}
	title, desc, err := ParseMeta(body)
	if err != nil {
		d.log().Warn("embed: parse page failed", "url", u, "error", err)
		return page
	}
	if title != "" {
		page.Title = title
	}
	page.Description = desc
	return page
}

// ParseMeta extracts the title and description of an HTML document,
// preferring the document title over og:title.
func ParseMeta(html []byte) (title, description string, err error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(html))
	if err != nil {
		return "", "", fmt.Errorf("embed: parse HTML: %w", err)
	}
	title = collapse(doc.Find("head title").First().Text())
	if title == "" {
		title = meta(doc, `meta[property="og:title"]`)
	}
	description = meta(doc, `meta[name="description"]`)
	if description == "" {
		description = meta(doc, `meta[property="og:description"]`)
	}
	return title, description, nil
}

func meta(doc *goquery.Document, selector string) string {
	v, _ := doc.Find(selector).First().Attr("content")
	return collapse(v)
}

// collapse trims s and folds internal whitespace runs into single spaces.
func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
