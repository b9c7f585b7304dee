// Package discover implements the Discoverer's feed-discovery sub-mode
// (spec.md §4.2): probing a web:// source's homepage for a working RSS/Atom
// feed, either via a fixed list of candidate paths or by reading the
// homepage's <link rel="alternate"> tag.
package discover

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/sony/gobreaker"

	"github.com/dwahbe/climate-river/internal/infra/scraper"
	"github.com/dwahbe/climate-river/internal/resilience/circuitbreaker"
	"github.com/dwahbe/climate-river/internal/resilience/retry"
)

const maxHomepageBodySize = 10 * 1024 * 1024 // 10MB

// candidatePaths are probed in order against a host's scheme+host prefix;
// the first one that parses as a non-empty feed wins (spec.md §4.2).
var candidatePaths = []string{
	"/feed",
	"/rss",
	"/feed.xml",
	"/atom.xml",
	"/rss.xml",
	"/feeds/posts/default",
	"/index.xml",
}

// FeedProbe implements the feed-discovery sub-mode.
type FeedProbe struct {
	client         *http.Client
	rss            *scraper.RSSFetcher
	circuitBreaker *circuitbreaker.CircuitBreaker
	retryConfig    retry.Config
}

// NewFeedProbe creates a FeedProbe using the given HTTP client.
func NewFeedProbe(client *http.Client) *FeedProbe {
	return &FeedProbe{
		client:         client,
		rss:            scraper.NewRSSFetcher(client),
		circuitBreaker: circuitbreaker.New(circuitbreaker.WebScraperConfig()),
		retryConfig:    retry.WebScraperConfig(),
	}
}

// Probe finds a working feed URL for a homepage, trying candidate paths
// first and falling back to the homepage's declared alternate link. It
// returns ok=false (no error) when nothing is found — that's a normal
// outcome, not a failure.
func (p *FeedProbe) Probe(ctx context.Context, homepageURL string) (feedURL string, ok bool, err error) {
	if err := validateURL(homepageURL); err != nil {
		return "", false, fmt.Errorf("Probe: %w", err)
	}

	base := strings.TrimRight(homepageURL, "/")
	for _, path := range candidatePaths {
		candidate := base + path
		items, err := p.rss.Fetch(ctx, candidate)
		if err == nil && len(items) > 0 {
			slog.Info("feed probe candidate succeeded",
				slog.String("homepage", homepageURL), slog.String("feed_url", candidate))
			return candidate, true, nil
		}
	}

	link, err := p.discoverAlternateLink(ctx, homepageURL)
	if err != nil {
		return "", false, fmt.Errorf("Probe: %w", err)
	}
	if link == "" {
		return "", false, nil
	}
	return link, true, nil
}

func (p *FeedProbe) discoverAlternateLink(ctx context.Context, homepageURL string) (string, error) {
	var link string
	retryErr := retry.WithBackoff(ctx, p.retryConfig, func() error {
		cbResult, err := p.circuitBreaker.Execute(func() (interface{}, error) {
			return p.fetchAlternateLink(ctx, homepageURL)
		})
		if err != nil {
			if errors.Is(err, gobreaker.ErrOpenState) {
				slog.Warn("feed probe circuit breaker open, request rejected",
					slog.String("homepage", homepageURL))
				return err
			}
			return err
		}
		link = cbResult.(string)
		return nil
	})
	if retryErr != nil {
		return "", retryErr
	}
	return link, nil
}

func (p *FeedProbe) fetchAlternateLink(ctx context.Context, homepageURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, homepageURL, nil)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", "climate-river-bot/1.0 (+https://climate-river.example)")

	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch homepage: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return "", &retry.HTTPError{StatusCode: resp.StatusCode, Message: fmt.Sprintf("unexpected status: %s", resp.Status)}
	}

	doc, err := goquery.NewDocumentFromReader(io.LimitReader(resp.Body, maxHomepageBodySize))
	if err != nil {
		return "", fmt.Errorf("parse homepage HTML: %w", err)
	}

	var feedHref string
	doc.Find(`link[rel="alternate"]`).EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		typ, _ := sel.Attr("type")
		if typ != "application/rss+xml" && typ != "application/atom+xml" {
			return true
		}
		href, exists := sel.Attr("href")
		if !exists || href == "" {
			return true
		}
		feedHref = makeAbsoluteURL(href, homepageURL)
		return false
	})

	return feedHref, nil
}

// makeAbsoluteURL resolves href against the base page URL, handling both
// relative and protocol-relative links.
func makeAbsoluteURL(href, baseURL string) string {
	if strings.HasPrefix(href, "http://") || strings.HasPrefix(href, "https://") {
		return href
	}
	base, err := url.Parse(baseURL)
	if err != nil {
		return href
	}
	ref, err := url.Parse(href)
	if err != nil {
		return href
	}
	return base.ResolveReference(ref).String()
}

// validateURL rejects non-http(s) schemes and private/loopback/link-local
// targets (SSRF prevention), matching the teacher's webflow scraper check.
func validateURL(urlStr string) error {
	u, err := url.Parse(urlStr)
	if err != nil {
		return fmt.Errorf("invalid URL format: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("unsupported scheme: %s (only http/https allowed)", u.Scheme)
	}

	ips, err := net.LookupIP(u.Hostname())
	if err != nil {
		return fmt.Errorf("DNS lookup failed: %w", err)
	}
	for _, ip := range ips {
		if ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() {
			return fmt.Errorf("private IP address detected: %s (SSRF prevention)", ip)
		}
	}
	return nil
}
